// SPDX-License-Identifier: MIT
package engine

import (
	"math"

	"asiohost/internal/asio"
	"asiohost/pkg/utils"
)

type eventKind int

const (
	evReset eventKind = iota
	evBufferSize
	evResync
	evLatencies
	evOverload
	evRate
	evClock
)

// event is a driver notification waiting for the loop.
type event struct {
	kind  eventKind
	value int32
}

func (e *Engine) callbacks(timeInfo bool) asio.CallbackSet {
	cb := asio.CallbackSet{
		BufferSwitch:        e.bufferSwitch,
		SampleRateDidChange: e.sampleRateDidChange,
		Message:             e.message,
	}
	if timeInfo {
		cb.BufferSwitchTimeInfo = e.bufferSwitchTimeInfo
	}
	return cb
}

// post queues ev for the loop. It never blocks; a full queue drops the
// event and counts it.
func (e *Engine) post(kind eventKind, value int32) {
	select {
	case e.events <- event{kind: kind, value: value}:
	default:
		e.lostEvents.Add(1)
	}
}

func (e *Engine) bufferSwitch(lease asio.Lease, _ bool) {
	e.position.Store(e.counted)
	e.counted += e.frames
	e.process(lease)
}

func (e *Engine) bufferSwitchTimeInfo(t *asio.Time, lease asio.Lease, _ bool) *asio.Time {
	if t == nil {
		e.bufferSwitch(lease, true)
		return t
	}
	flags := t.TimeInfo.Flags
	if flags.Has(asio.SamplePositionValid) {
		e.position.Store(int64(t.TimeInfo.SamplePosition))
	} else {
		e.position.Store(e.counted)
	}
	e.counted += e.frames
	if flags.Has(asio.SampleRateChanged) {
		e.post(evRate, 0)
	}
	if flags.Has(asio.ClockSourceChanged) {
		e.post(evClock, 0)
	}
	e.process(lease)
	return t
}

func (e *Engine) sampleRateDidChange(rate asio.SampleRate) {
	e.pendingRate.Store(math.Float64bits(float64(rate)))
	e.post(evRate, int32(rate))
}

// message answers the driver's queries and queues the notifications the
// loop services.
func (e *Engine) message(sel asio.MessageSelector, value int32, _ any) int32 {
	switch sel {
	case asio.SelectorSupported:
		switch asio.MessageSelector(value) {
		case asio.ResetRequest, asio.BufferSizeChange, asio.ResyncRequest,
			asio.LatenciesChanged, asio.Overload:
			return 1
		}
		return 0
	case asio.ResetRequest:
		e.post(evReset, value)
	case asio.BufferSizeChange:
		e.post(evBufferSize, value)
	case asio.ResyncRequest:
		e.post(evResync, value)
	case asio.LatenciesChanged:
		e.post(evLatencies, value)
	case asio.Overload:
		e.post(evOverload, value)
	default:
		return 0
	}
	return 1
}

// process is the buffer switch body.
// Performance Critical (Hot Path):
// - No allocations, no locks, no logging
// - Recording only hands a block to the writer goroutine
func (e *Engine) process(lease asio.Lease) {
	if bits := e.pendingRate.Swap(0); bits != 0 {
		e.retune(math.Float64frombits(bits))
	}

	rec := e.rec.Load()
	var blk *block
	if rec != nil {
		blk = rec.acquire()
	}
	gate := e.gateEnabled.Load()
	threshold := float32(e.gateThreshold.Load()) / math.MaxInt32

	for i := range e.slots {
		s := &e.slots[i]
		var peak float32
		if s.input {
			switch {
			case s.float:
				buf := lease.Float32s(i)
				peak = utils.PeakFloat32(buf)
				if blk != nil {
					rec.putFloat32(blk, s.column, buf)
				}
			case s.bits > 0:
				buf := lease.Int32s(i)
				peak = utils.PeakInt32Bits(buf, s.bits)
				if blk != nil {
					rec.putInt32(blk, s.column, buf, s.bits)
				}
			}
			if gate && peak < threshold {
				peak = 0
			}
		} else {
			peak = render(s, lease, i)
		}
		s.peak.Store(math.Float32bits(peak))
	}

	if blk != nil {
		rec.submit(blk)
	}
	e.switches.Add(1)
	if e.outputReady.Load() && e.h.OutputReady() != nil {
		e.outputReady.Store(false)
	}
}

// render fills output slot i and returns its peak. Encodings the engine
// cannot synthesize are silenced.
func render(s *slot, lease asio.Lease, i int) float32 {
	switch {
	case s.float:
		buf := lease.Float32s(i)
		switch {
		case s.sine != nil:
			s.sine.Fill32(buf)
		case s.noise != nil:
			s.noise.Fill32(buf)
		default:
			clear(buf)
			return 0
		}
		return utils.PeakFloat32(buf)
	case s.bits > 0:
		buf := lease.Int32s(i)
		switch {
		case s.sine != nil:
			s.sine.FillInt32(buf)
		case s.noise != nil:
			s.noise.FillInt32(buf)
		default:
			clear(buf)
			return 0
		}
		utils.Justify(buf, s.bits)
		return utils.PeakInt32Bits(buf, s.bits)
	}
	clear(lease.Bytes(i))
	return 0
}

func (e *Engine) retune(rate float64) {
	tone := e.cfg.Audio.ToneHz
	for i := range e.slots {
		if s := e.slots[i].sine; s != nil {
			s.SetFrequency(tone, rate)
		}
	}
}
