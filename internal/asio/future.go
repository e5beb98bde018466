// SPDX-License-Identifier: MIT
package asio

import "fmt"

// FutureRequest is one call through the extension entry point. The set of
// variants is closed; everything this package does not model travels as a
// Probe.
type FutureRequest interface {
	Selector() FutureSelector
	params() (any, bool) // parameter block, false when a required pointer is nil
}

// TimeCodeReadRequest enables or disables time code reading.
type TimeCodeReadRequest struct {
	Enable bool
}

func (r TimeCodeReadRequest) Selector() FutureSelector {
	if r.Enable {
		return EnableTimeCodeRead
	}
	return DisableTimeCodeRead
}

func (TimeCodeReadRequest) params() (any, bool) { return nil, true }

// InputMonitorRequest routes an input directly to an output.
type InputMonitorRequest struct {
	Monitor *InputMonitor
}

func (InputMonitorRequest) Selector() FutureSelector { return SetInputMonitor }

func (r InputMonitorRequest) params() (any, bool) { return r.Monitor, r.Monitor != nil }

// TransportRequest controls an external transport.
type TransportRequest struct {
	Params *TransportParameters
}

func (TransportRequest) Selector() FutureSelector { return Transport }

func (r TransportRequest) params() (any, bool) { return r.Params, r.Params != nil }

// GainRequest sets the gain of one channel.
type GainRequest struct {
	Output   bool
	Controls *ChannelControls
}

func (r GainRequest) Selector() FutureSelector {
	if r.Output {
		return SetOutputGain
	}
	return SetInputGain
}

func (r GainRequest) params() (any, bool) { return r.Controls, r.Controls != nil }

// MeterRequest reads the meter of one channel into Controls.Meter.
type MeterRequest struct {
	Output   bool
	Controls *ChannelControls
}

func (r MeterRequest) Selector() FutureSelector {
	if r.Output {
		return GetOutputMeter
	}
	return GetInputMeter
}

func (r MeterRequest) params() (any, bool) { return r.Controls, r.Controls != nil }

// IoFormatOp picks one of the three I/O format selectors.
type IoFormatOp int

const (
	IoFormatSet IoFormatOp = iota
	IoFormatGet
	IoFormatCan
)

// IoFormatRequest switches, reads or probes the PCM/DSD mode.
type IoFormatRequest struct {
	Op     IoFormatOp
	Format *IoFormat
}

func (r IoFormatRequest) Selector() FutureSelector {
	switch r.Op {
	case IoFormatGet:
		return GetIoFormat
	case IoFormatCan:
		return CanDoIoFormat
	default:
		return SetIoFormat
	}
}

func (r IoFormatRequest) params() (any, bool) { return r.Format, r.Format != nil }

// InternalBufferRequest reads the driver's extra buffering.
type InternalBufferRequest struct {
	Info *InternalBufferInfo
}

func (InternalBufferRequest) Selector() FutureSelector { return GetInternalBufferSamples }

func (r InternalBufferRequest) params() (any, bool) { return r.Info, r.Info != nil }

// Probe is a parameterless capability query. It also carries selectors
// this package does not know.
type Probe struct {
	Sel FutureSelector
}

func (p Probe) Selector() FutureSelector { return p.Sel }

func (p Probe) params() (any, bool) {
	// A known selector that expects a parameter block cannot be probed.
	return nil, p.Sel.IsProbe() || p.Sel == EnableTimeCodeRead || p.Sel == DisableTimeCodeRead
}

// Future dispatches req. A failed capability probe, a code outside the
// taxonomy or a panic inside the driver is reported as ErrNotPresent.
// Structured operations otherwise propagate the driver's code, and
// malformed requests yield ErrInvalidParameter without reaching the driver.
func (h *Handle) Future(req FutureRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.require(controlStates); err != nil {
		return err
	}
	if req == nil {
		return ErrInvalidParameter
	}
	sel := req.Selector()
	params, ok := req.params()
	if !ok {
		return ErrInvalidParameter
	}

	code := h.future(sel, params)
	h.last.Store(int32(code))
	h.log.Debugf("%s %s: %s", SlotFuture, sel, code)
	switch {
	case code.IsSuccess():
		if sel == CanTimeInfo {
			h.timeInfo.Store(true)
		}
		return nil
	case sel.IsProbe(), code.Class() == ClassUnknown:
		return ErrNotPresent
	default:
		return code
	}
}

func (h *Handle) future(sel FutureSelector, params any) (code Error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warnf("%s %s: driver panicked: %v", SlotFuture, sel, r)
			code = NotPresent
		}
	}()
	return h.drv.Future(sel, params)
}

// Supports probes a capability selector and reports whether the driver
// claims it. Selectors that need a parameter block report false.
func (h *Handle) Supports(sel FutureSelector) bool {
	return h.Future(Probe{Sel: sel}) == nil
}

// CanTimeInfo negotiates time info delivery with the driver. Once it
// succeeds the handle asks for BufferSwitchTimeInfo callbacks, provided the
// host installs one.
func (h *Handle) CanTimeInfo() bool { return h.Supports(CanTimeInfo) }

func (h *Handle) CanTimeCode() bool     { return h.Supports(CanTimeCode) }
func (h *Handle) CanInputMonitor() bool { return h.Supports(CanInputMonitor) }
func (h *Handle) CanTransport() bool    { return h.Supports(CanTransport) }

// SetInputMonitor is shorthand for Future(InputMonitorRequest{m}).
func (h *Handle) SetInputMonitor(m InputMonitor) error {
	return h.Future(InputMonitorRequest{Monitor: &m})
}

// InputMeter reads the input meter of channel.
func (h *Handle) InputMeter(channel int32) (int32, error) {
	cc := ChannelControls{Channel: channel, IsInput: True}
	err := h.Future(MeterRequest{Controls: &cc})
	return cc.Meter, err
}

// OutputMeter reads the output meter of channel.
func (h *Handle) OutputMeter(channel int32) (int32, error) {
	cc := ChannelControls{Channel: channel}
	err := h.Future(MeterRequest{Output: true, Controls: &cc})
	return cc.Meter, err
}

// IoFormat returns the current I/O format.
func (h *Handle) IoFormat() (IoFormatType, error) {
	f := IoFormat{FormatType: FormatInvalid}
	err := h.Future(IoFormatRequest{Op: IoFormatGet, Format: &f})
	return f.FormatType, err
}

// InternalBufferSamples returns the driver's extra buffering per direction.
func (h *Handle) InternalBufferSamples() (InternalBufferInfo, error) {
	var info InternalBufferInfo
	err := h.Future(InternalBufferRequest{Info: &info})
	return info, err
}

// Capabilities is the result of probing every capability selector.
type Capabilities struct {
	InputMonitor   bool
	TimeInfo       bool
	TimeCode       bool
	Transport      bool
	InputGain      bool
	InputMeter     bool
	OutputGain     bool
	OutputMeter    bool
	ReportOverload bool
	DSD            bool
}

// Capabilities probes all capability selectors. Probing CanTimeInfo here
// counts as negotiating it.
func (h *Handle) Capabilities() Capabilities {
	dsd := IoFormat{FormatType: FormatDSD}
	return Capabilities{
		InputMonitor:   h.Supports(CanInputMonitor),
		TimeInfo:       h.Supports(CanTimeInfo),
		TimeCode:       h.Supports(CanTimeCode),
		Transport:      h.Supports(CanTransport),
		InputGain:      h.Supports(CanInputGain),
		InputMeter:     h.Supports(CanInputMeter),
		OutputGain:     h.Supports(CanOutputGain),
		OutputMeter:    h.Supports(CanOutputMeter),
		ReportOverload: h.Supports(CanReportOverload),
		DSD:            h.Future(IoFormatRequest{Op: IoFormatCan, Format: &dsd}) == nil,
	}
}

func (c Capabilities) String() string {
	return fmt.Sprintf("monitor=%t timeinfo=%t timecode=%t transport=%t gain=%t/%t meter=%t/%t overload=%t dsd=%t",
		c.InputMonitor, c.TimeInfo, c.TimeCode, c.Transport,
		c.InputGain, c.OutputGain, c.InputMeter, c.OutputMeter,
		c.ReportOverload, c.DSD)
}
