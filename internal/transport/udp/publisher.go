// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	applog "asiohost/internal/log"
	"asiohost/internal/transport"
)

// MaxChannels bounds each channel list in a packet.
const MaxChannels = 1<<16 - 1

var nowFunc = time.Now

// UDPPublisher periodically fetches the meter levels, packs them into a
// binary packet and sends it with a UDPSender. It runs in a separate
// goroutine managed by Start and Stop.
type UDPPublisher struct {
	sender   *UDPSender
	source   transport.MeterSource
	interval time.Duration
	log      *applog.Logger

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // protects ticker and doneChan during Start/Stop

	sequenceNum uint32

	// Reused on every tick.
	frame        transport.MeterFrame
	packetBuffer *bytes.Buffer
}

// NewUDPPublisher creates a publisher. An interval <= 0 defaults to 16ms.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, source transport.MeterSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("UDPPublisher: meter source cannot be nil")
	}
	log := applog.For("udp")
	if interval <= 0 {
		interval = 16 * time.Millisecond
		log.Warnf("invalid publish interval, defaulting to %s", interval)
	}
	return &UDPPublisher{
		sender:       sender,
		source:       source,
		interval:     interval,
		log:          log,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start begins publishing. Calling Start on a running publisher is a no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		p.log.Warnf("Start called but already running")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop terminates the publishing goroutine and waits for it. It is safe to
// call Stop more than once.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Debugf("publisher stopped after %d packets", p.sequenceNum)
	return nil
}

/*
UDP Packet Structure (BigEndian)

| Field          | Data Type | Size (Bytes) | Description                  |
|----------------|-----------|--------------|------------------------------|
| Sequence       | uint32    | 4            | Monotonically increasing     |
| Timestamp      | int64     | 8            | Nanoseconds since epoch      |
| Position       | int64     | 8            | Sample position              |
| Input Count    | uint16    | 2            | Number of input levels (I)   |
| Output Count   | uint16    | 2            | Number of output levels (O)  |
| Input Levels   | []float32 | I * 4        | Peak per input channel       |
| Output Levels  | []float32 | O * 4        | Peak per output channel      |
*/

// AppendPacket encodes f into buf.
func AppendPacket(buf *bytes.Buffer, f *transport.MeterFrame) error {
	if len(f.Inputs) > MaxChannels || len(f.Outputs) > MaxChannels {
		return fmt.Errorf("too many channels: %d/%d", len(f.Inputs), len(f.Outputs))
	}
	err := binary.Write(buf, binary.BigEndian, f.Seq)
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, f.Time)
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, f.Position)
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, [2]uint16{uint16(len(f.Inputs)), uint16(len(f.Outputs))})
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, f.Inputs)
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, f.Outputs)
	}
	return err
}

// DecodePacket is the inverse of AppendPacket.
func DecodePacket(data []byte) (transport.MeterFrame, error) {
	var f transport.MeterFrame
	r := bytes.NewReader(data)
	var counts [2]uint16
	err := binary.Read(r, binary.BigEndian, &f.Seq)
	if err == nil {
		err = binary.Read(r, binary.BigEndian, &f.Time)
	}
	if err == nil {
		err = binary.Read(r, binary.BigEndian, &f.Position)
	}
	if err == nil {
		err = binary.Read(r, binary.BigEndian, &counts)
	}
	if err == nil {
		f.Inputs = make([]float32, counts[0])
		err = binary.Read(r, binary.BigEndian, f.Inputs)
	}
	if err == nil {
		f.Outputs = make([]float32, counts[1])
		err = binary.Read(r, binary.BigEndian, f.Outputs)
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return transport.MeterFrame{}, fmt.Errorf("short meter packet: %w", err)
	}
	return f, nil
}

func (p *UDPPublisher) buildAndSendPacket() {
	if err := p.source.MetersInto(&p.frame); err != nil {
		p.log.Debugf("no meters: %v", err)
		return
	}
	p.sequenceNum++
	p.frame.Seq = p.sequenceNum
	p.frame.Time = nowFunc().UnixNano()

	p.packetBuffer.Reset()
	if err := AppendPacket(p.packetBuffer, &p.frame); err != nil {
		p.log.Errorf("error packing meters: %v", err)
		return
	}
	if err := p.sender.Send(p.packetBuffer.Bytes()); err == nil {
		p.log.Debugf("sent packet %d (%d bytes)", p.sequenceNum, p.packetBuffer.Len())
	}
}

// Close stops the publisher.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ io.Closer = (*UDPPublisher)(nil)
