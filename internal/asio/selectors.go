// SPDX-License-Identifier: MIT
package asio

import "fmt"

// FutureSelector addresses the extension entry point. The space is open:
// drivers may know selectors this package does not.
type FutureSelector int32

const (
	EnableTimeCodeRead  FutureSelector = iota + 1 // no arguments
	DisableTimeCodeRead                           // no arguments
	SetInputMonitor                               // *InputMonitor
	Transport                                     // *TransportParameters
	SetInputGain                                  // *ChannelControls, apply gain
	GetInputMeter                                 // *ChannelControls, fill meter
	SetOutputGain                                 // *ChannelControls, apply gain
	GetOutputMeter                                // *ChannelControls, fill meter
	CanInputMonitor                               // no arguments for Can* selectors
	CanTimeInfo
	CanTimeCode
	CanTransport
	CanInputGain
	CanInputMeter
	CanOutputGain
	CanOutputMeter
	OptionalOne // undocumented; treated as an opaque probe

	// DSD subsystem switching.
	SetIoFormat   FutureSelector = 0x23111961 // *IoFormat
	GetIoFormat   FutureSelector = 0x23111983 // *IoFormat
	CanDoIoFormat FutureSelector = 0x23112004 // *IoFormat

	// Drop out detection.
	CanReportOverload        FutureSelector = 0x24042012
	GetInternalBufferSamples FutureSelector = 0x25042012 // *InternalBufferInfo
)

var futureSelectorNames = map[FutureSelector]string{
	EnableTimeCodeRead:       "EnableTimeCodeRead",
	DisableTimeCodeRead:      "DisableTimeCodeRead",
	SetInputMonitor:          "SetInputMonitor",
	Transport:                "Transport",
	SetInputGain:             "SetInputGain",
	GetInputMeter:            "GetInputMeter",
	SetOutputGain:            "SetOutputGain",
	GetOutputMeter:           "GetOutputMeter",
	CanInputMonitor:          "CanInputMonitor",
	CanTimeInfo:              "CanTimeInfo",
	CanTimeCode:              "CanTimeCode",
	CanTransport:             "CanTransport",
	CanInputGain:             "CanInputGain",
	CanInputMeter:            "CanInputMeter",
	CanOutputGain:            "CanOutputGain",
	CanOutputMeter:           "CanOutputMeter",
	OptionalOne:              "OptionalOne",
	SetIoFormat:              "SetIoFormat",
	GetIoFormat:              "GetIoFormat",
	CanDoIoFormat:            "CanDoIoFormat",
	CanReportOverload:        "CanReportOverload",
	GetInternalBufferSamples: "GetInternalBufferSamples",
}

func (s FutureSelector) String() string {
	if name, ok := futureSelectorNames[s]; ok {
		return name
	}
	return fmt.Sprintf("FutureSelector(0x%x)", int32(s))
}

// IsKnown reports whether s belongs to the selectors this package models.
func (s FutureSelector) IsKnown() bool {
	_, ok := futureSelectorNames[s]
	return ok
}

// IsProbe reports whether s is a parameterless capability query. Unknown
// selectors are probes too: they are sent without parameters.
func (s FutureSelector) IsProbe() bool {
	switch {
	case s >= CanInputMonitor && s <= OptionalOne:
		return true
	case s == CanReportOverload:
		return true
	default:
		return !s.IsKnown()
	}
}

// MessageSelector addresses the driver-to-host message callback.
type MessageSelector int32

const (
	SelectorSupported    MessageSelector = iota + 1 // selector in value, returns 1 if supported
	EngineVersion                                   // returns host implementation version, 2 or higher
	ResetRequest                                    // driver asks the host to close and reopen it
	BufferSizeChange                                // new buffer size in value
	ResyncRequest                                   // timestamp no longer valid, restart the engine
	LatenciesChanged                                // host refetches latencies
	SupportsTimeInfo                                // host answers 1 to receive time-info switches
	SupportsTimeCode
	MMCCommand // value: number of commands
	SupportsInputMonitor
	SupportsInputGain
	SupportsInputMeter
	SupportsOutputGain
	SupportsOutputMeter
	Overload // driver detected an overload
)

var messageSelectorNames = [...]string{
	"", "SelectorSupported", "EngineVersion", "ResetRequest", "BufferSizeChange",
	"ResyncRequest", "LatenciesChanged", "SupportsTimeInfo", "SupportsTimeCode",
	"MMCCommand", "SupportsInputMonitor", "SupportsInputGain", "SupportsInputMeter",
	"SupportsOutputGain", "SupportsOutputMeter", "Overload",
}

func (s MessageSelector) String() string {
	if s >= SelectorSupported && s <= Overload {
		return messageSelectorNames[s]
	}
	return fmt.Sprintf("MessageSelector(%d)", int32(s))
}

// HostEngineVersion is reported to drivers asking EngineVersion.
const HostEngineVersion = 2
