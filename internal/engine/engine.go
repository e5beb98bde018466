// SPDX-License-Identifier: MIT
/*
Package engine is the host side of a driver session. It opens a driver
through the registry, negotiates rate, buffer size and channels, and
services the buffer switches:
- Input peak meters, optionally gated
- Output signal generation (silence, sine or noise)
- WAV capture of the inputs, handed off to a writer goroutine
- A driver message loop that reopens the driver on reset requests
- A sample position watchdog

Thread Safety:
- The buffer switch path touches only atomics and pre-allocated state
- Driver messages are queued without blocking and handled on the loop
- Control calls are serialized by the engine mutex
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"asiohost/internal/asio"
	"asiohost/internal/config"
	applog "asiohost/internal/log"
	"asiohost/internal/registry"
	"asiohost/internal/transport"
	"asiohost/pkg/bitint"
	"asiohost/pkg/utils"
)

var (
	ErrNotOpen     = errors.New("engine: no driver open")
	ErrNotRunning  = errors.New("engine: stream not running")
	ErrClosed      = errors.New("engine: closed")
	ErrInitRefused = errors.New("engine: driver refused initialization")
	ErrNoChannels  = errors.New("engine: driver has no usable channels")
)

// eventQueue bounds the driver messages waiting for the loop.
const eventQueue = 64

var nowFunc = time.Now

// Session describes the negotiated stream of the open driver.
type Session struct {
	Entry         registry.Entry
	Driver        string // name reported by the driver
	Version       int32
	SampleRate    asio.SampleRate
	BufferSize    int32
	BufferRange   asio.BufferSizeRange
	Inputs        []asio.ChannelInfo
	Outputs       []asio.ChannelInfo
	InputLatency  int32
	OutputLatency int32
	TimeInfo      bool
	Clock         string
	Capabilities  asio.Capabilities
}

// Stats counts what the engine has seen since it was created.
type Stats struct {
	Switches   uint64
	Overloads  uint64
	Resets     uint64
	Resyncs    uint64
	Stalls     uint64
	LostEvents uint64
	Dropped    uint64 // recording blocks dropped because the writer fell behind
	Driver     asio.SwitchStats
}

// slot is the engine's view of one buffer set entry.
type slot struct {
	input   bool
	channel int32
	float   bool // Float32LSB
	bits    int  // significant bits of the Int32LSB family, 0 otherwise
	column  int  // recording column, inputs only
	sine    *utils.Sine
	noise   *utils.Noise
	peak    atomic.Uint32 // float32 bits
}

type Engine struct {
	cfg *config.Config
	reg *registry.Registry
	pub transport.Transport
	log *applog.Logger

	mu       sync.Mutex
	h        *asio.Handle
	session  Session
	wantSize int32 // size asked for by the driver, 0 to follow the config
	closed   bool

	// Hot path state. Rebuilt by open while no stream is running.
	slots       []slot
	numIn       int
	frames      int64
	counted     int64
	position    atomic.Int64
	pendingRate atomic.Uint64 // float64 bits of a rate the oscillators must follow
	outputReady atomic.Bool
	rec         atomic.Pointer[Recorder]

	// Noise gate for the input meters.
	gateEnabled   atomic.Bool
	gateThreshold atomic.Int32 // Absolute amplitude threshold (0-2147483647)

	switches   atomic.Uint64
	overloads  atomic.Uint64
	resets     atomic.Uint64
	resyncs    atomic.Uint64
	stalls     atomic.Uint64
	lostEvents atomic.Uint64

	events chan event
	stop   chan struct{}
	wg     sync.WaitGroup
	frame  transport.MeterFrame // owned by the loop
}

// New returns an engine that opens cfg.Driver.Name from reg. Events and
// meter frames go to pub; a nil pub logs them.
func New(cfg *config.Config, reg *registry.Registry, pub transport.Transport) *Engine {
	if pub == nil {
		pub = transport.NewLoggingTransport()
	}
	e := &Engine{
		cfg:    cfg,
		reg:    reg,
		pub:    pub,
		log:    applog.For("engine"),
		events: make(chan event, eventQueue),
	}
	e.gateThreshold.Store(math.MaxInt32 / 1000) // Default to ~0.1% of max value
	return e
}

// Open activates, initializes and negotiates the configured driver. The
// buffers exist afterwards but the stream is not started. Opening an open
// engine is a no-op.
func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.h != nil {
		return nil
	}
	return e.openLocked()
}

func (e *Engine) openLocked() (err error) {
	h, entry, err := e.reg.Open(e.cfg.Driver.Name)
	if err != nil {
		return fmt.Errorf("failed to open driver %q: %w", e.cfg.Driver.Name, err)
	}
	defer func() {
		if err != nil {
			if terr := h.Teardown(); terr != nil {
				e.log.Warnf("teardown after failed open: %v", terr)
			}
		}
	}()

	if !h.Initialize(nil) {
		msg, _ := h.ErrorMessage()
		return fmt.Errorf("%w: %s: %s", ErrInitRefused, entry.Name, msg)
	}

	s, err := e.negotiate(h)
	if err != nil {
		return fmt.Errorf("%s: %w", entry.Name, err)
	}
	s.Entry = entry
	e.h, e.session = h, s

	e.log.Infof("opened %s (%s): %.0f Hz, %d frames, %d in / %d out, latency %d/%d",
		entry.Name, s.Driver, float64(s.SampleRate), s.BufferSize,
		len(s.Inputs), len(s.Outputs), s.InputLatency, s.OutputLatency)
	return nil
}

// negotiate settles rate, channels and buffer size, then creates the
// buffers. Rate and size requests the driver refuses fall back to what it
// prefers.
func (e *Engine) negotiate(h *asio.Handle) (Session, error) {
	var s Session
	var err error

	if s.Driver, err = h.DriverName(); err != nil {
		return s, fmt.Errorf("driver name: %w", err)
	}
	if s.Version, err = h.DriverVersion(); err != nil {
		return s, fmt.Errorf("driver version: %w", err)
	}
	numIn, numOut, err := h.Channels()
	if err != nil {
		return s, fmt.Errorf("channels: %w", err)
	}
	if s.SampleRate, err = e.negotiateRate(h); err != nil {
		return s, err
	}
	if s.BufferRange, err = h.BufferSize(); err != nil {
		return s, fmt.Errorf("buffer size: %w", err)
	}
	if e.cfg.Audio.TimeInfo {
		s.TimeInfo = h.CanTimeInfo()
	}

	reqs := make([]asio.ChannelRequest, 0, numIn+numOut)
	for _, dir := range []struct {
		input bool
		count int32
		limit int
		infos *[]asio.ChannelInfo
	}{
		{true, numIn, e.cfg.Audio.MaxInputs, &s.Inputs},
		{false, numOut, e.cfg.Audio.MaxOutputs, &s.Outputs},
	} {
		n := dir.count
		if dir.limit >= 0 {
			n = min(n, int32(dir.limit))
		}
		for i := range n {
			info, err := h.ChannelInfo(i, dir.input)
			if err != nil {
				return s, fmt.Errorf("channel info %d (input=%t): %w", i, dir.input, err)
			}
			*dir.infos = append(*dir.infos, info)
			reqs = append(reqs, asio.ChannelRequest{Input: dir.input, Index: i})
		}
	}
	if len(reqs) == 0 {
		return s, ErrNoChannels
	}

	r := s.BufferRange
	want := e.wantSize
	if want <= 0 {
		want = int32(e.cfg.Audio.BufferSize)
	}
	size := bitint.AlignBufferSize(want, r.Min, r.Max, r.Preferred, r.Granularity)

	cb := e.callbacks(s.TimeInfo)
	set, err := h.CreateBuffers(reqs, size, cb)
	if errors.Is(err, asio.ErrInvalidParameter) && size != r.Preferred {
		e.log.Warnf("buffer size %d rejected, retrying with preferred %d", size, r.Preferred)
		set, err = h.CreateBuffers(reqs, r.Preferred, cb)
	}
	if err != nil {
		return s, fmt.Errorf("create buffers: %w", err)
	}
	s.BufferSize = set.Frames()
	e.buildSlots(set, s.SampleRate)

	if s.InputLatency, s.OutputLatency, err = h.Latencies(); err != nil {
		e.log.Warnf("latencies unavailable: %v", err)
	}
	if clocks, err := h.ClockSources(); err == nil {
		for _, c := range clocks.Slice() {
			if c.IsCurrentSource.Bool() {
				s.Clock = c.Name.String()
			}
		}
	}
	s.Capabilities = h.Capabilities()
	return s, nil
}

// negotiateRate applies the configured rate when the driver accepts it and
// otherwise keeps the current one.
func (e *Engine) negotiateRate(h *asio.Handle) (asio.SampleRate, error) {
	current, err := h.SampleRate()
	if err != nil {
		return 0, fmt.Errorf("sample rate: %w", err)
	}
	want := asio.SampleRate(e.cfg.Audio.SampleRate)
	if want == 0 || want == current {
		return current, nil
	}
	if err := h.CanSampleRate(want); err != nil {
		e.log.Warnf("%.0f Hz not supported (%v), keeping %.0f Hz", float64(want), err, float64(current))
		return current, nil
	}
	if err := h.SetSampleRate(want); err != nil {
		e.log.Warnf("setting %.0f Hz failed (%v), keeping %.0f Hz", float64(want), err, float64(current))
		return current, nil
	}
	return want, nil
}

func (e *Engine) buildSlots(set *asio.BufferSet, rate asio.SampleRate) {
	e.slots = make([]slot, set.Len())
	e.numIn = 0
	a := e.cfg.Audio
	for i := range e.slots {
		bs := set.Slot(i)
		s := &e.slots[i]
		s.input, s.channel = bs.Input, bs.Channel
		s.float = bs.SampleType == asio.SampleTypeFloat32LSB
		s.bits = bs.SampleType.Int32Bits()
		if s.input {
			s.column = e.numIn
			e.numIn++
			continue
		}
		switch a.OutputSignal {
		case config.SignalSine:
			s.sine = utils.NewSine(a.ToneHz, float64(rate), float32(a.ToneGain))
		case config.SignalNoise:
			s.noise = utils.NewNoise(uint64(bs.Channel)+1, float32(a.ToneGain))
		}
	}
	e.frames = int64(set.Frames())
	e.counted = 0
	e.position.Store(0)
	e.pendingRate.Store(0)
}

// Start opens the driver if needed, starts the stream and the message
// loop, and begins recording when the config asks for it.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.h == nil {
		if err := e.openLocked(); err != nil {
			return err
		}
	}
	if err := e.startLocked(); err != nil {
		return err
	}
	if e.stop == nil {
		e.stop = make(chan struct{})
		e.wg.Add(1)
		go e.loop(e.stop)
	}
	return nil
}

func (e *Engine) startLocked() error {
	if e.h.State() == asio.Running {
		return nil
	}
	e.outputReady.Store(true)
	if err := e.h.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", e.session.Entry.Name, err)
	}
	if e.cfg.Recording.Enabled {
		if err := e.startRecordingLocked(""); err != nil {
			e.log.Errorf("recording not started: %v", err)
		}
	}
	e.notify("started", e.session.BufferSize, e.session.Entry.Name)
	return nil
}

// Stop halts the stream and any recording. The driver stays open.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.h == nil {
		return ErrNotOpen
	}
	rerr := e.stopRecordingLocked()
	if err := e.h.Stop(); err != nil {
		return errors.Join(rerr, fmt.Errorf("failed to stop %s: %w", e.session.Entry.Name, err))
	}
	e.notify("stopped", 0, e.session.Entry.Name)
	return rerr
}

// Close stops the loop, finishes any recording and tears the driver down.
// The engine cannot be reused.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stop := e.stop
	e.stop = nil
	e.mu.Unlock()

	if stop != nil {
		close(stop)
		e.wg.Wait()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	errs := []error{e.stopRecordingLocked()}
	if e.h != nil {
		if err := e.h.Teardown(); err != nil {
			errs = append(errs, fmt.Errorf("teardown: %w", err))
		}
		e.h = nil
	}
	e.log.Debugf("closed after %d switches", e.switches.Load())
	return errors.Join(errs...)
}

// Run starts the engine and keeps it running until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return e.Close()
}

// Session returns the negotiated stream of the open driver.
func (e *Engine) Session() (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.h == nil {
		return Session{}, ErrNotOpen
	}
	s := e.session
	s.Inputs = slices.Clone(s.Inputs)
	s.Outputs = slices.Clone(s.Outputs)
	return s, nil
}

// Stats returns the engine counters and, with a driver open, its switch
// bookkeeping.
func (e *Engine) Stats() Stats {
	s := Stats{
		Switches:   e.switches.Load(),
		Overloads:  e.overloads.Load(),
		Resets:     e.resets.Load(),
		Resyncs:    e.resyncs.Load(),
		Stalls:     e.stalls.Load(),
		LostEvents: e.lostEvents.Load(),
	}
	if r := e.rec.Load(); r != nil {
		s.Dropped = r.Dropped()
	}
	e.mu.Lock()
	if e.h != nil {
		s.Driver = e.h.Stats()
	}
	e.mu.Unlock()
	return s
}

// MetersInto copies the latest peak levels into f. It implements
// transport.MeterSource.
func (e *Engine) MetersInto(f *transport.MeterFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.h == nil || e.h.State() != asio.Running {
		return ErrNotRunning
	}
	numOut := len(e.slots) - e.numIn
	if len(f.Inputs) != e.numIn {
		f.Inputs = make([]float32, e.numIn)
	}
	if len(f.Outputs) != numOut {
		f.Outputs = make([]float32, numOut)
	}
	in, out := 0, 0
	for i := range e.slots {
		v := math.Float32frombits(e.slots[i].peak.Load())
		if e.slots[i].input {
			f.Inputs[in] = v
			in++
		} else {
			f.Outputs[out] = v
			out++
		}
	}
	f.Position = e.position.Load()
	return nil
}

var _ transport.MeterSource = (*Engine)(nil)

func (e *Engine) notify(kind string, value int32, detail string) {
	if err := e.pub.Send(transport.Event{Kind: kind, Value: value, Detail: detail}); err != nil {
		e.log.Debugf("event %s not sent: %v", kind, err)
	}
}
