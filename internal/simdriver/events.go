// SPDX-License-Identifier: MIT
package simdriver

import "asiohost/internal/asio"

// The methods below simulate out-of-band hardware events. They deliver
// their notifications on the same sequential context as Step, never
// concurrently with a buffer switch.

// notify sends sel to the host if the host claims to handle it. It reports
// whether the message was delivered.
func (d *Driver) notify(sel asio.MessageSelector, value int32) (int32, bool) {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()

	if d.cb == nil || d.cb.Message == nil {
		return 0, false
	}
	if d.cb.Message(asio.SelectorSupported, int32(sel), nil, nil) != 1 {
		return 0, false
	}
	return d.cb.Message(sel, value, nil, nil), true
}

// ChangeSampleRate switches the rate as if an external clock had moved.
// The host learns about it through SampleRateDidChange and through the
// SampleRateChanged flag of the next time info record.
func (d *Driver) ChangeSampleRate(rate asio.SampleRate) {
	d.mu.Lock()
	d.retune(rate)
	d.mu.Unlock()

	d.stepMu.Lock()
	defer d.stepMu.Unlock()
	d.pending.Or(uint32(asio.SampleRateChanged))
	if d.cb != nil && d.cb.SampleRateDidChange != nil {
		d.cb.SampleRateDidChange(rate)
	}
}

// RequestReset asks the host to tear the driver down and open it again.
func (d *Driver) RequestReset() bool {
	_, ok := d.notify(asio.ResetRequest, 0)
	return ok
}

// RequestResync restarts the sample position at zero and tells the host
// that timestamps taken so far are no longer valid.
func (d *Driver) RequestResync() bool {
	_, ok := d.notify(asio.ResyncRequest, 0)
	d.position.Store(0)
	return ok
}

// RequestBufferSize asks the host to move to a new buffer size.
func (d *Driver) RequestBufferSize(frames int32) bool {
	_, ok := d.notify(asio.BufferSizeChange, frames)
	return ok
}

// ChangeLatencies updates the reported latencies and notifies the host.
func (d *Driver) ChangeLatencies(input, output int32) bool {
	d.mu.Lock()
	d.inLatency, d.outLatency = input, output
	d.mu.Unlock()
	_, ok := d.notify(asio.LatenciesChanged, 0)
	return ok
}

// InjectOverload reports a processing overload, as a driver does when the
// host misses a deadline.
func (d *Driver) InjectOverload() bool {
	if !d.cfg.Capabilities.ReportOverload {
		return false
	}
	_, ok := d.notify(asio.Overload, 0)
	return ok
}

// Stall freezes the stream: Step stops switching and the sample position
// stops advancing, while the driver still claims to be running.
func (d *Driver) Stall(stalled bool) {
	d.stalled.Store(stalled)
}
