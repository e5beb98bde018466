// SPDX-License-Identifier: MIT
package simdriver

import (
	"math"

	"asiohost/internal/asio"
)

// unityGain is the 0 dB point of the gain scale.
const unityGain = 0x20000000

// Future answers the extension selectors the configured capabilities allow.
// Everything else, including selectors the driver has never heard of,
// yields NotPresent.
func (d *Driver) Future(selector asio.FutureSelector, params any) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps := d.cfg.Capabilities
	switch selector {
	case asio.CanTimeInfo:
		return supported(caps.TimeInfo)
	case asio.CanTimeCode:
		return supported(caps.TimeCode)
	case asio.CanInputMonitor:
		return supported(caps.InputMonitor)
	case asio.CanTransport:
		return supported(caps.Transport)
	case asio.CanInputGain:
		return supported(caps.InputGain)
	case asio.CanInputMeter:
		return supported(caps.InputMeter)
	case asio.CanOutputGain:
		return supported(caps.OutputGain)
	case asio.CanOutputMeter:
		return supported(caps.OutputMeter)
	case asio.CanReportOverload:
		return supported(caps.ReportOverload)

	case asio.EnableTimeCodeRead, asio.DisableTimeCodeRead:
		if !caps.TimeCode {
			return asio.NotPresent
		}
		d.timeCode.Store(selector == asio.EnableTimeCodeRead)
		return asio.Success

	case asio.SetInputMonitor:
		m, ok := params.(*asio.InputMonitor)
		if !caps.InputMonitor {
			return asio.NotPresent
		}
		if !ok || m == nil || m.Input < -1 || m.Input >= d.cfg.Inputs || m.Output < 0 || m.Output >= d.cfg.Outputs {
			return asio.InvalidParameter
		}
		d.monitor = *m
		return asio.Success

	case asio.Transport:
		p, ok := params.(*asio.TransportParameters)
		if !caps.Transport {
			return asio.NotPresent
		}
		if !ok || p == nil {
			return asio.InvalidParameter
		}
		if p.Command == asio.TransportLocate {
			d.position.Store(int64(p.SamplePosition))
		}
		return asio.Success

	case asio.SetInputGain, asio.SetOutputGain:
		return d.setGain(selector == asio.SetInputGain, params)

	case asio.GetInputMeter, asio.GetOutputMeter:
		return d.meter(selector == asio.GetInputMeter, params)

	case asio.CanDoIoFormat, asio.SetIoFormat, asio.GetIoFormat:
		return d.ioFormatRequest(selector, params)

	case asio.GetInternalBufferSamples:
		info, ok := params.(*asio.InternalBufferInfo)
		if d.cfg.InternalBuffer == nil {
			return asio.NotPresent
		}
		if !ok || info == nil {
			return asio.InvalidParameter
		}
		*info = *d.cfg.InternalBuffer
		return asio.Success

	default:
		return asio.NotPresent
	}
}

func supported(ok bool) asio.Error {
	if ok {
		return asio.Success
	}
	return asio.NotPresent
}

func (d *Driver) setGain(input bool, params any) asio.Error {
	caps := d.cfg.Capabilities
	gains := d.outGain
	if input {
		gains = d.inGain
	}
	if (input && !caps.InputGain) || (!input && !caps.OutputGain) {
		return asio.NotPresent
	}
	cc, ok := params.(*asio.ChannelControls)
	if !ok || cc == nil || cc.Channel < 0 || int(cc.Channel) >= len(gains) || cc.Gain < 0 {
		return asio.InvalidParameter
	}
	gains[cc.Channel] = cc.Gain
	if input {
		d.applyInputGain(cc.Channel, cc.Gain)
	}
	return asio.Success
}

func (d *Driver) applyInputGain(channel, gain int32) {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()
	for i, b := range d.buffers {
		if b.input && b.index == channel && d.osc[i] != nil {
			d.osc[i].Gain = d.cfg.ToneGain * float32(gain) / unityGain
		}
	}
}

func (d *Driver) meter(input bool, params any) asio.Error {
	caps := d.cfg.Capabilities
	if (input && !caps.InputMeter) || (!input && !caps.OutputMeter) {
		return asio.NotPresent
	}
	cc, ok := params.(*asio.ChannelControls)
	limit := d.cfg.Outputs
	if input {
		limit = d.cfg.Inputs
	}
	if !ok || cc == nil || cc.Channel < 0 || cc.Channel >= limit {
		return asio.InvalidParameter
	}
	cc.Meter = 0
	peaks := d.outPeak
	if input {
		peaks = d.inPeak
	}
	if i := d.findBuffer(input, cc.Channel); i >= 0 && i < len(peaks) {
		peak := min(math.Float32frombits(peaks[i].Load()), 1)
		cc.Meter = int32(float64(peak) * math.MaxInt32)
	}
	return asio.Success
}

func (d *Driver) ioFormatRequest(selector asio.FutureSelector, params any) asio.Error {
	f, ok := params.(*asio.IoFormat)
	if !ok || f == nil {
		return asio.InvalidParameter
	}
	switch selector {
	case asio.GetIoFormat:
		f.FormatType = d.ioFormat
		return asio.Success
	case asio.CanDoIoFormat:
		if f.FormatType == asio.FormatPCM || (f.FormatType == asio.FormatDSD && d.cfg.Capabilities.DSD) {
			return asio.Success
		}
		return asio.NotPresent
	default:
		if f.FormatType == d.ioFormat {
			return asio.Success
		}
		if d.buffers != nil {
			return d.fail(asio.InvalidMode, "format switch with buffers allocated")
		}
		if f.FormatType != asio.FormatPCM && !(f.FormatType == asio.FormatDSD && d.cfg.Capabilities.DSD) {
			return asio.NotPresent
		}
		d.ioFormat = f.FormatType
		return asio.Success
	}
}

// InputMonitor returns the last accepted monitor routing.
func (d *Driver) InputMonitor() asio.InputMonitor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.monitor
}

// Gain returns the last gain set for a channel.
func (d *Driver) Gain(input bool, channel int32) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	gains := d.outGain
	if input {
		gains = d.inGain
	}
	if channel < 0 || int(channel) >= len(gains) {
		return 0
	}
	return gains[channel]
}
