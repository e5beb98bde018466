// SPDX-License-Identifier: MIT
package engine

import (
	"fmt"
	"math"
	"time"

	"asiohost/internal/asio"
)

// loop services driver messages, publishes meters and runs the watchdog
// until stop is closed.
func (e *Engine) loop(stop <-chan struct{}) {
	defer e.wg.Done()

	var meters, watch <-chan time.Time
	if iv := e.cfg.Transport.UDPSendInterval; iv > 0 {
		t := time.NewTicker(iv)
		defer t.Stop()
		meters = t.C
	}
	if iv := e.cfg.Watchdog.Interval; iv > 0 {
		t := time.NewTicker(iv)
		defer t.Stop()
		watch = t.C
	}
	wd := watchdog{stallAfter: e.cfg.Watchdog.StallAfter}

	for {
		select {
		case <-stop:
			return
		case ev := <-e.events:
			e.handle(ev, &wd)
		case <-meters:
			e.publishMeters()
		case now := <-watch:
			e.checkStall(&wd, now)
		}
	}
}

func (e *Engine) handle(ev event, wd *watchdog) {
	switch ev.kind {
	case evReset:
		e.resets.Add(1)
		e.log.Infof("driver requested a reset")
		e.notify("reset", 0, "")
		e.reopenAndReport(0)
		wd.reset()

	case evBufferSize:
		e.resets.Add(1)
		e.log.Infof("driver requested buffer size %d", ev.value)
		e.notify("buffer_size", ev.value, "")
		e.reopenAndReport(ev.value)
		wd.reset()

	case evResync:
		e.resyncs.Add(1)
		e.log.Infof("driver requested a resync")
		e.notify("resync", 0, "")
		wd.reset()

	case evLatencies:
		in, out, err := e.refreshLatencies()
		if err != nil {
			e.log.Warnf("latencies changed but could not be read: %v", err)
			return
		}
		e.log.Infof("latencies changed: %d in, %d out", in, out)
		e.notify("latencies", in+out, fmt.Sprintf("input=%d output=%d", in, out))

	case evOverload:
		n := e.overloads.Add(1)
		e.log.Warnf("driver reported overload (%d so far)", n)
		e.notify("overload", int32(n), "")

	case evRate:
		rate, err := e.refreshRate()
		if err != nil {
			e.log.Warnf("sample rate changed but could not be read: %v", err)
			return
		}
		e.log.Infof("sample rate changed to %.0f Hz", float64(rate))
		e.notify("rate", int32(rate), "")

	case evClock:
		e.log.Infof("clock source changed")
		e.notify("clock", 0, "")
	}
}

func (e *Engine) reopenAndReport(size int32) {
	if err := e.reopen(size); err != nil {
		e.log.Errorf("reopen failed: %v", err)
		e.notify("error", 0, err.Error())
	}
}

// reopen tears the driver down and runs the whole open cycle again,
// restarting the stream if it was running. size > 0 replaces the buffer
// size request.
func (e *Engine) reopen(size int32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.h == nil {
		return ErrNotOpen
	}
	wasRunning := e.h.State() == asio.Running
	if err := e.stopRecordingLocked(); err != nil {
		e.log.Warnf("recording: %v", err)
	}
	if err := e.h.Teardown(); err != nil {
		e.log.Warnf("teardown before reopen: %v", err)
	}
	e.h = nil
	if size > 0 {
		e.wantSize = size
	}
	if err := e.openLocked(); err != nil {
		return err
	}
	if wasRunning {
		return e.startLocked()
	}
	return nil
}

func (e *Engine) refreshLatencies() (int32, int32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.h == nil {
		return 0, 0, ErrNotOpen
	}
	in, out, err := e.h.Latencies()
	if err != nil {
		return 0, 0, err
	}
	e.session.InputLatency, e.session.OutputLatency = in, out
	return in, out, nil
}

func (e *Engine) refreshRate() (asio.SampleRate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.h == nil {
		return 0, ErrNotOpen
	}
	rate, err := e.h.SampleRate()
	if err != nil {
		return 0, err
	}
	if rate != e.session.SampleRate && e.rec.Load() != nil {
		e.log.Warnf("recording continues at the old rate of %.0f Hz", float64(e.session.SampleRate))
	}
	e.session.SampleRate = rate
	e.pendingRate.Store(math.Float64bits(float64(rate)))
	return rate, nil
}

func (e *Engine) publishMeters() {
	if err := e.MetersInto(&e.frame); err != nil {
		return
	}
	e.frame.Seq++
	e.frame.Time = nowFunc().UnixNano()
	if err := e.pub.Send(&e.frame); err != nil {
		e.log.Debugf("meters not sent: %v", err)
	}
}

// watchdog tracks the driver's sample position between checks.
type watchdog struct {
	stallAfter time.Duration
	last       asio.Samples
	seen       bool
	since      time.Time // last time the position moved
	stalled    bool
}

func (w *watchdog) reset() {
	w.seen, w.stalled = false, false
	w.since = time.Time{}
}

// checkStall reports a stall once the position has not moved for
// stallAfter, and a recovery when it moves again.
func (e *Engine) checkStall(w *watchdog, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.h == nil || e.h.State() != asio.Running {
		w.reset()
		return
	}
	pos, _, err := e.h.SamplePosition()
	moved := err == nil && (!w.seen || pos != w.last)
	if err == nil {
		w.last, w.seen = pos, true
	}
	if moved {
		w.since = now
		if w.stalled {
			w.stalled = false
			e.log.Infof("sample position advancing again at %d", pos)
			e.notify("recovered", 0, "")
		}
		return
	}
	if w.since.IsZero() {
		w.since = now
	}
	if stuck := now.Sub(w.since); !w.stalled && stuck >= w.stallAfter {
		w.stalled = true
		e.stalls.Add(1)
		e.log.Warnf("sample position stuck at %d for %s", w.last, stuck)
		e.notify("stall", int32(stuck/time.Millisecond), "")
	}
}
