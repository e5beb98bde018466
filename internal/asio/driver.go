// SPDX-License-Identifier: MIT
package asio

import "fmt"

// Driver is the dispatch table every conforming driver supplies. The method
// set is closed and versioned: a driver that lacks an optional capability
// returns NotPresent instead of omitting the entry. Methods are listed in
// binary slot order, see DispatchTable.
//
// Output parameters are pointers, exactly as in the binary contract, so a
// driver fills caller-owned storage and never returns memory the host has
// to manage, except for the buffer regions handed out by CreateBuffers.
type Driver interface {
	// Release drops the host's reference to the driver object. It is the only
	// base object-lifetime slot the host uses.
	Release() error

	Init(sysHandle any) Bool
	DriverName(name *Name)
	DriverVersion() int32
	ErrorMessage(msg *ErrorMessage)
	Start() Error
	Stop() Error
	Channels(numInputs, numOutputs *int32) Error
	Latencies(input, output *int32) Error
	BufferSize(minSize, maxSize, preferred, granularity *int32) Error
	CanSampleRate(rate SampleRate) Error
	SampleRate(rate *SampleRate) Error
	SetSampleRate(rate SampleRate) Error
	ClockSources(clocks *[MaxClockSources]ClockSource, numSources *int32) Error
	SetClockSource(reference int32) Error
	SamplePosition(pos *Samples, stamp *Timestamp) Error
	ChannelInfo(info *ChannelInfo) Error
	CreateBuffers(infos []BufferInfo, bufferSize int32, callbacks *Callbacks) Error
	DisposeBuffers() Error
	ControlPanel() Error
	Future(selector FutureSelector, params any) Error
	OutputReady() Error
}

// Callbacks is the driver-facing half of the callback contract. The driver
// invokes these on its own execution context, strictly sequentially.
type Callbacks struct {
	BufferSwitch         func(doubleBufferIndex int32, directProcess Bool)
	SampleRateDidChange  func(rate SampleRate)
	Message              func(selector MessageSelector, value int32, message any, opt *float64) int32
	BufferSwitchTimeInfo func(params *Time, doubleBufferIndex int32, directProcess Bool) *Time
}

// Slot names one entry of the binary dispatch table.
type Slot int

const (
	SlotQueryInterface Slot = iota
	SlotAddRef
	SlotRelease
	SlotInit
	SlotGetDriverName
	SlotGetDriverVersion
	SlotGetErrorMessage
	SlotStart
	SlotStop
	SlotGetChannels
	SlotGetLatencies
	SlotGetBufferSize
	SlotCanSampleRate
	SlotGetSampleRate
	SlotSetSampleRate
	SlotGetClockSources
	SlotSetClockSource
	SlotGetSamplePosition
	SlotGetChannelInfo
	SlotCreateBuffers
	SlotDisposeBuffers
	SlotControlPanel
	SlotFuture
	SlotOutputReady

	numSlots
)

// DispatchTable is the slot order of the binary contract. Reordering it
// breaks compatibility with every existing driver.
var DispatchTable = [numSlots]Slot{
	SlotQueryInterface, SlotAddRef, SlotRelease,
	SlotInit, SlotGetDriverName, SlotGetDriverVersion, SlotGetErrorMessage,
	SlotStart, SlotStop,
	SlotGetChannels, SlotGetLatencies, SlotGetBufferSize,
	SlotCanSampleRate, SlotGetSampleRate, SlotSetSampleRate,
	SlotGetClockSources, SlotSetClockSource,
	SlotGetSamplePosition, SlotGetChannelInfo,
	SlotCreateBuffers, SlotDisposeBuffers,
	SlotControlPanel, SlotFuture, SlotOutputReady,
}

var slotNames = [numSlots]string{
	"QueryInterface", "AddRef", "Release",
	"init", "getDriverName", "getDriverVersion", "getErrorMessage",
	"start", "stop",
	"getChannels", "getLatencies", "getBufferSize",
	"canSampleRate", "getSampleRate", "setSampleRate",
	"getClockSources", "setClockSource",
	"getSamplePosition", "getChannelInfo",
	"createBuffers", "disposeBuffers",
	"controlPanel", "future", "outputReady",
}

func (s Slot) String() string {
	if s >= 0 && s < numSlots {
		return slotNames[s]
	}
	return fmt.Sprintf("Slot(%d)", int(s))
}

// Offset returns the byte offset of s in a pointer-sized vtable.
func (s Slot) Offset(pointerSize int) int {
	return int(s) * pointerSize
}
