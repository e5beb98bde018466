// SPDX-License-Identifier: MIT
package asio

import (
	"errors"
	"math"
)

// fakeDriver records every dispatch and answers from its fields.
type fakeDriver struct {
	calls map[Slot]int

	refuseInit  bool
	inputs      int32
	outputs     int32
	sampleType  SampleType
	bufferRange BufferSizeRange
	rate        SampleRate
	rates       []SampleRate
	clockCount  int32
	position    Samples

	nilRegions  bool
	releaseErr  error
	disposeCode Error
	futureCode  map[FutureSelector]Error
	futurePanic bool
	lastParams  any
	startCode   Error
	onStart     func()

	cb *Callbacks
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		calls:       make(map[Slot]int),
		inputs:      2,
		outputs:     2,
		sampleType:  SampleTypeFloat32LSB,
		bufferRange: BufferSizeRange{Min: 64, Max: 2048, Preferred: 512, Granularity: -1},
		rate:        44100,
		rates:       []SampleRate{44100, 48000},
		clockCount:  1,
		futureCode:  make(map[FutureSelector]Error),
	}
}

func (f *fakeDriver) Release() error {
	f.calls[SlotRelease]++
	return f.releaseErr
}

func (f *fakeDriver) Init(any) Bool {
	f.calls[SlotInit]++
	return BoolOf(!f.refuseInit)
}

func (f *fakeDriver) DriverName(name *Name) {
	f.calls[SlotGetDriverName]++
	name.SetString("Fake Driver")
}

func (f *fakeDriver) DriverVersion() int32 {
	f.calls[SlotGetDriverVersion]++
	return 7
}

func (f *fakeDriver) ErrorMessage(msg *ErrorMessage) {
	f.calls[SlotGetErrorMessage]++
	msg.SetString("nothing to report")
}

func (f *fakeDriver) Start() Error {
	f.calls[SlotStart]++
	if f.onStart != nil {
		f.onStart()
	}
	return f.startCode
}

func (f *fakeDriver) Stop() Error {
	f.calls[SlotStop]++
	return OK
}

func (f *fakeDriver) Channels(in, out *int32) Error {
	f.calls[SlotGetChannels]++
	*in, *out = f.inputs, f.outputs
	return OK
}

func (f *fakeDriver) Latencies(in, out *int32) Error {
	f.calls[SlotGetLatencies]++
	*in, *out = 256, 288
	return OK
}

func (f *fakeDriver) BufferSize(minSize, maxSize, preferred, granularity *int32) Error {
	f.calls[SlotGetBufferSize]++
	r := f.bufferRange
	*minSize, *maxSize, *preferred, *granularity = r.Min, r.Max, r.Preferred, r.Granularity
	return OK
}

func (f *fakeDriver) CanSampleRate(rate SampleRate) Error {
	f.calls[SlotCanSampleRate]++
	for _, r := range f.rates {
		if r == rate {
			return OK
		}
	}
	return InvalidParameter
}

func (f *fakeDriver) SampleRate(rate *SampleRate) Error {
	f.calls[SlotGetSampleRate]++
	*rate = f.rate
	return OK
}

func (f *fakeDriver) SetSampleRate(rate SampleRate) Error {
	f.calls[SlotSetSampleRate]++
	if rate == 0 {
		return NoClock
	}
	f.rate = rate
	return OK
}

func (f *fakeDriver) ClockSources(clocks *[MaxClockSources]ClockSource, n *int32) Error {
	f.calls[SlotGetClockSources]++
	for i := range min(f.clockCount, MaxClockSources) {
		clocks[i] = ClockSource{Index: i, IsCurrentSource: BoolOf(i == 0)}
	}
	// Misbehaving drivers may claim more than fits.
	*n = f.clockCount
	return OK
}

func (f *fakeDriver) SetClockSource(int32) Error {
	f.calls[SlotSetClockSource]++
	return OK
}

func (f *fakeDriver) SamplePosition(pos *Samples, stamp *Timestamp) Error {
	f.calls[SlotGetSamplePosition]++
	*pos, *stamp = f.position, 1000
	return OK
}

func (f *fakeDriver) ChannelInfo(info *ChannelInfo) Error {
	f.calls[SlotGetChannelInfo]++
	info.SampleType = f.sampleType
	info.IsActive = True
	// Some drivers scribble over the identifying fields.
	info.Channel = 99
	info.IsInput = False
	info.Name.SetString("Fake Channel")
	return OK
}

func (f *fakeDriver) CreateBuffers(infos []BufferInfo, size int32, cb *Callbacks) Error {
	f.calls[SlotCreateBuffers]++
	f.cb = cb
	if f.nilRegions {
		return OK
	}
	for i := range infos {
		n := int(size) * f.sampleType.Size()
		infos[i].Buffers = [2][]byte{AllocRegion(n), AllocRegion(n)}
	}
	return OK
}

func (f *fakeDriver) DisposeBuffers() Error {
	f.calls[SlotDisposeBuffers]++
	return f.disposeCode
}

func (f *fakeDriver) ControlPanel() Error {
	f.calls[SlotControlPanel]++
	return NotPresent
}

func (f *fakeDriver) Future(sel FutureSelector, params any) Error {
	f.calls[SlotFuture]++
	f.lastParams = params
	if f.futurePanic {
		panic("driver bug")
	}
	if code, ok := f.futureCode[sel]; ok {
		return code
	}
	return NotPresent
}

func (f *fakeDriver) OutputReady() Error {
	f.calls[SlotOutputReady]++
	return OK
}

var _ Driver = (*fakeDriver)(nil)

var errFakeNotFound = errors.New("no such CLSID")

func nan() float64 { return math.NaN() }
func inf() float64 { return math.Inf(1) }
