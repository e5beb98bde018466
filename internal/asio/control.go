// SPDX-License-Identifier: MIT
package asio

// The query and configuration operations below are legal from Initialized
// onward and return ErrInvalidMode before that.

// DriverName returns the driver's display name.
func (h *Handle) DriverName() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return "", err
	}
	var name Name
	h.drv.DriverName(&name)
	h.log.Debugf("%s", SlotGetDriverName)
	return name.String(), nil
}

// DriverVersion returns the driver's own version number.
func (h *Handle) DriverVersion() (int32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return 0, err
	}
	v := h.drv.DriverVersion()
	h.log.Debugf("%s: %d", SlotGetDriverVersion, v)
	return v, nil
}

// ErrorMessage returns the driver's description of its last failure. It is
// also available in the Activated state so a refused Initialize can be
// explained.
func (h *Handle) ErrorMessage() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates | maskOf(Activated)); err != nil {
		return "", err
	}
	var msg ErrorMessage
	h.drv.ErrorMessage(&msg)
	h.log.Debugf("%s", SlotGetErrorMessage)
	return msg.String(), nil
}

// Channels returns the number of available input and output channels.
func (h *Handle) Channels() (inputs, outputs int32, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return 0, 0, err
	}
	err = h.result(SlotGetChannels, h.drv.Channels(&inputs, &outputs))
	return inputs, outputs, err
}

// Latencies returns the input and output latencies in samples. The values
// are only meaningful once buffers exist.
func (h *Handle) Latencies() (input, output int32, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return 0, 0, err
	}
	err = h.result(SlotGetLatencies, h.drv.Latencies(&input, &output))
	return input, output, err
}

// BufferSize returns the driver's buffer size constraints.
func (h *Handle) BufferSize() (BufferSizeRange, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var r BufferSizeRange
	if err := h.require(controlStates); err != nil {
		return r, err
	}
	err := h.result(SlotGetBufferSize, h.drv.BufferSize(&r.Min, &r.Max, &r.Preferred, &r.Granularity))
	return r, err
}

// CanSampleRate asks whether rate is supported. ErrNoClock means the driver
// cannot determine its clock at all, ErrInvalidParameter means the rate is
// not one of its rates.
func (h *Handle) CanSampleRate(rate SampleRate) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return err
	}
	if !validRate(rate) {
		return ErrInvalidParameter
	}
	return h.result(SlotCanSampleRate, h.drv.CanSampleRate(rate))
}

// SampleRate returns the current sample rate.
func (h *Handle) SampleRate() (SampleRate, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return 0, err
	}
	var rate SampleRate
	err := h.result(SlotGetSampleRate, h.drv.SampleRate(&rate))
	return rate, err
}

// SetSampleRate selects a new rate. Zero switches the driver to an external
// clock. Negative or non-finite rates never reach the driver.
func (h *Handle) SetSampleRate(rate SampleRate) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return err
	}
	if !validRate(rate) {
		return ErrInvalidParameter
	}
	return h.result(SlotSetSampleRate, h.drv.SetSampleRate(rate))
}

// ClockSources returns the selectable clocks. The count is clamped to the
// capacity of the array, whatever the driver claims.
func (h *Handle) ClockSources() (ClockSources, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var cs ClockSources
	if err := h.require(controlStates); err != nil {
		return cs, err
	}
	cs.Length = MaxClockSources
	if err := h.result(SlotGetClockSources, h.drv.ClockSources(&cs.Array, &cs.Length)); err != nil {
		return ClockSources{}, err
	}
	switch {
	case cs.Length < 0:
		cs.Length = 0
	case cs.Length > MaxClockSources:
		h.log.Warnf("driver reported %d clock sources, keeping %d", cs.Length, MaxClockSources)
		cs.Length = MaxClockSources
	}
	return cs, nil
}

// SetClockSource selects the clock with the given reference index.
func (h *Handle) SetClockSource(index int32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return err
	}
	return h.result(SlotSetClockSource, h.drv.SetClockSource(index))
}

// SamplePosition returns the sample position and system time of the start
// of the current half. ErrSPNotAdvancing is returned while the stream is
// not running.
func (h *Handle) SamplePosition() (Samples, Timestamp, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return 0, 0, err
	}
	var (
		pos   Samples
		stamp Timestamp
	)
	err := h.result(SlotGetSamplePosition, h.drv.SamplePosition(&pos, &stamp))
	return pos, stamp, err
}

// ChannelInfo describes one channel. The index is checked against the
// channel counts before the driver is asked, and the identifying fields of
// the result always echo the request.
func (h *Handle) ChannelInfo(index int32, input bool) (ChannelInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return ChannelInfo{}, err
	}
	var numIn, numOut int32
	if err := h.result(SlotGetChannels, h.drv.Channels(&numIn, &numOut)); err != nil {
		return ChannelInfo{}, err
	}
	limit := numOut
	if input {
		limit = numIn
	}
	if index < 0 || index >= limit {
		return ChannelInfo{}, ErrInvalidParameter
	}

	info := ChannelInfo{Channel: index, IsInput: BoolOf(input)}
	if err := h.result(SlotGetChannelInfo, h.drv.ChannelInfo(&info)); err != nil {
		return ChannelInfo{}, err
	}
	if info.Channel != index || info.IsInput.Bool() != input {
		h.log.Warnf("%s: driver answered channel %d input=%t for channel %d input=%t",
			SlotGetChannelInfo, info.Channel, info.IsInput.Bool(), index, input)
		info.Channel = index
		info.IsInput = BoolOf(input)
	}
	return info, nil
}

// ControlPanel asks the driver to show its configuration UI. Drivers
// without one return ErrNotPresent.
func (h *Handle) ControlPanel() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return err
	}
	return h.result(SlotControlPanel, h.drv.ControlPanel())
}
