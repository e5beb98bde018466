// SPDX-License-Identifier: MIT
//
// Package simdriver is an in-process driver that satisfies asio.Driver
// without hardware. It is used by tests, by the engine when no device is
// present, and as the reference for how a conforming driver behaves.
//
// The data plane runs in one of two modes. In manual mode the caller drives
// every buffer switch with Step. In free-running mode Start launches a
// goroutine that switches at the real period implied by the buffer size and
// sample rate.
package simdriver

import (
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"asiohost/internal/asio"
	applog "asiohost/internal/log"
	"asiohost/pkg/utils"

	"gonum.org/v1/gonum/floats"
)

// Version is reported through DriverVersion.
const Version = 2

// Config describes the simulated device.
type Config struct {
	Name       string
	Inputs     int32
	Outputs    int32
	SampleType asio.SampleType // Float32LSB or one of the Int32LSB types
	Rates      []asio.SampleRate
	Rate       asio.SampleRate

	MinBuffer, MaxBuffer, PreferredBuffer, Granularity int32
	InputLatency, OutputLatency                        int32

	ClockSources []string
	Capabilities asio.Capabilities

	// InternalBuffer, when set, answers GetInternalBufferSamples.
	InternalBuffer *asio.InternalBufferInfo
	OutputReady    bool

	ToneHz   float64 // input test tone, 0 for silence
	ToneGain float32

	FreeRun    bool
	RefuseInit bool
}

// DefaultConfig is a 2 in / 2 out float device at 44.1 kHz.
func DefaultConfig() Config {
	return Config{
		Name:            "Simulated Device",
		Inputs:          2,
		Outputs:         2,
		SampleType:      asio.SampleTypeFloat32LSB,
		Rates:           []asio.SampleRate{44100, 48000, 88200, 96000},
		Rate:            44100,
		MinBuffer:       64,
		MaxBuffer:       2048,
		PreferredBuffer: 512,
		Granularity:     -1,
		InputLatency:    512,
		OutputLatency:   512 + 32,
		ClockSources:    []string{"Internal"},
		Capabilities: asio.Capabilities{
			TimeInfo:       true,
			InputMonitor:   true,
			InputGain:      true,
			InputMeter:     true,
			OutputGain:     true,
			OutputMeter:    true,
			ReportOverload: true,
		},
		OutputReady: true,
		ToneHz:      440,
		ToneGain:    0.5,
	}
}

var nowFunc = time.Now

type channelBuffer struct {
	input   bool
	index   int32
	regions [2][]byte
}

// Driver is the simulated device. Control methods are serialized by the
// host; Step and the external event methods may run on any goroutine.
type Driver struct {
	cfg Config
	log *applog.Logger

	mu          sync.Mutex
	initialized bool
	released    bool
	clock       int32
	inLatency   int32
	outLatency  int32
	ioFormat    asio.IoFormatType
	monitor     asio.InputMonitor
	inGain      []int32
	outGain     []int32
	errMsg      string

	// Data plane. Written under mu while stopped, read under stepMu.
	stepMu    sync.Mutex
	buffers   []channelBuffer
	frames    int32
	cb        *asio.Callbacks
	timeInfo  bool
	osc       []*utils.Sine
	scratch   []float64
	half      int32
	ti        asio.Time
	rate      atomic.Uint64 // float64 bits
	timeCode  atomic.Bool
	running   atomic.Bool
	stalled   atomic.Bool
	position  atomic.Int64
	lastPos   atomic.Int64
	lastStamp atomic.Int64
	pending   atomic.Uint32
	switches  atomic.Uint64
	ready     atomic.Uint64
	inPeak    []atomic.Uint32 // float32 bits per input channel
	outPeak   []atomic.Uint32

	stop chan struct{}
	done chan struct{}
}

// New returns a driver for cfg. The name, sample type, rates, buffer range
// and clock sources fall back to DefaultConfig when unset. A zero
// SampleType selects Float32LSB since Int16MSB is not simulated.
func New(cfg Config) *Driver {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.SampleType == asio.SampleTypeInt16MSB {
		cfg.SampleType = def.SampleType
	}
	if len(cfg.Rates) == 0 {
		cfg.Rates = def.Rates
	}
	if cfg.Rate == 0 {
		cfg.Rate = cfg.Rates[0]
	}
	if cfg.MaxBuffer == 0 {
		cfg.MinBuffer, cfg.MaxBuffer = def.MinBuffer, def.MaxBuffer
		cfg.PreferredBuffer, cfg.Granularity = def.PreferredBuffer, def.Granularity
	}
	if len(cfg.ClockSources) == 0 {
		cfg.ClockSources = def.ClockSources
	}
	d := &Driver{
		cfg:        cfg,
		log:        applog.For("simdriver"),
		inLatency:  cfg.InputLatency,
		outLatency: cfg.OutputLatency,
		ioFormat:   asio.FormatPCM,
		inGain:     make([]int32, cfg.Inputs),
		outGain:    make([]int32, cfg.Outputs),
	}
	d.setRate(cfg.Rate)
	return d
}

func (d *Driver) sampleRate() asio.SampleRate {
	return asio.SampleRate(math.Float64frombits(d.rate.Load()))
}

func (d *Driver) setRate(rate asio.SampleRate) {
	d.rate.Store(math.Float64bits(float64(rate)))
}

var _ asio.Driver = (*Driver)(nil)

// Release drops the driver object. A free-running stream is stopped.
func (d *Driver) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return fmt.Errorf("simdriver: already released")
	}
	d.stopLocked()
	d.released = true
	d.log.Debugf("released")
	return nil
}

// Released reports whether Release has been called.
func (d *Driver) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

func (d *Driver) Init(sysHandle any) asio.Bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.RefuseInit {
		d.errMsg = "device refused initialization"
		return asio.False
	}
	d.initialized = true
	d.errMsg = ""
	return asio.True
}

func (d *Driver) DriverName(name *asio.Name) {
	name.SetString(d.cfg.Name)
}

func (d *Driver) DriverVersion() int32 { return Version }

func (d *Driver) ErrorMessage(msg *asio.ErrorMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg.SetString(d.errMsg)
}

func (d *Driver) fail(code asio.Error, format string, args ...any) asio.Error {
	d.errMsg = fmt.Sprintf(format, args...)
	return code
}

func (d *Driver) Start() asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buffers == nil {
		return d.fail(asio.InvalidMode, "start without buffers")
	}
	if d.running.Load() {
		return asio.OK
	}
	d.lastStamp.Store(nowFunc().UnixNano())
	d.running.Store(true)
	if d.cfg.FreeRun {
		d.stop = make(chan struct{})
		d.done = make(chan struct{})
		go d.run(d.period(), d.stop, d.done)
	}
	d.log.Debugf("started (%d frames at %.0f Hz)", d.frames, d.sampleRate())
	return asio.OK
}

func (d *Driver) Stop() asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	return asio.OK
}

func (d *Driver) stopLocked() {
	if !d.running.Swap(false) {
		return
	}
	if d.stop != nil {
		close(d.stop)
		<-d.done
		d.stop, d.done = nil, nil
	}
	d.log.Debugf("stopped after %d switches", d.switches.Load())
}

func (d *Driver) period() time.Duration {
	rate := d.sampleRate()
	if rate <= 0 {
		return 10 * time.Millisecond
	}
	return time.Duration(float64(d.frames) / float64(rate) * float64(time.Second))
}

func (d *Driver) run(period time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.Step()
		}
	}
}

func (d *Driver) Channels(numInputs, numOutputs *int32) asio.Error {
	*numInputs, *numOutputs = d.cfg.Inputs, d.cfg.Outputs
	return asio.OK
}

func (d *Driver) Latencies(input, output *int32) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	*input, *output = d.inLatency, d.outLatency
	return asio.OK
}

func (d *Driver) BufferSize(minSize, maxSize, preferred, granularity *int32) asio.Error {
	*minSize, *maxSize = d.cfg.MinBuffer, d.cfg.MaxBuffer
	*preferred, *granularity = d.cfg.PreferredBuffer, d.cfg.Granularity
	return asio.OK
}

func (d *Driver) CanSampleRate(rate asio.SampleRate) asio.Error {
	if slices.Contains(d.cfg.Rates, rate) {
		return asio.OK
	}
	return asio.InvalidParameter
}

func (d *Driver) SampleRate(rate *asio.SampleRate) asio.Error {
	*rate = d.sampleRate()
	return asio.OK
}

// SetSampleRate accepts any configured rate. Zero asks for an external
// clock, which the simulation does not have.
func (d *Driver) SetSampleRate(rate asio.SampleRate) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rate == 0 {
		return d.fail(asio.NoClock, "no external clock")
	}
	if !slices.Contains(d.cfg.Rates, rate) {
		return d.fail(asio.InvalidParameter, "unsupported rate %.0f", float64(rate))
	}
	d.retune(rate)
	return asio.OK
}

// retune moves the input tones to a new rate. The caller holds mu.
func (d *Driver) retune(rate asio.SampleRate) {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()
	d.setRate(rate)
	for i, b := range d.buffers {
		if d.osc[i] != nil {
			d.osc[i].SetFrequency(d.toneHz(b.index), float64(rate))
		}
	}
}

// toneHz detunes each input so channels are distinguishable.
func (d *Driver) toneHz(channel int32) float64 {
	return d.cfg.ToneHz * float64(channel+1)
}

func (d *Driver) ClockSources(clocks *[asio.MaxClockSources]asio.ClockSource, numSources *int32) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := min(int32(len(d.cfg.ClockSources)), *numSources, asio.MaxClockSources)
	for i := range n {
		c := &clocks[i]
		*c = asio.ClockSource{
			Index:             i,
			AssociatedChannel: -1,
			AssociatedGroup:   -1,
			IsCurrentSource:   asio.BoolOf(i == d.clock),
		}
		c.Name.SetString(d.cfg.ClockSources[i])
	}
	*numSources = n
	return asio.OK
}

func (d *Driver) SetClockSource(reference int32) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if reference < 0 || int(reference) >= len(d.cfg.ClockSources) {
		return d.fail(asio.InvalidParameter, "no clock source %d", reference)
	}
	if reference != d.clock {
		d.clock = reference
		d.pending.Or(uint32(asio.ClockSourceChanged))
	}
	return asio.OK
}

func (d *Driver) SamplePosition(pos *asio.Samples, stamp *asio.Timestamp) asio.Error {
	if !d.running.Load() {
		return asio.SPNotAdvancing
	}
	*pos = asio.Samples(d.lastPos.Load())
	*stamp = asio.Timestamp(d.lastStamp.Load())
	return asio.OK
}

func (d *Driver) ChannelInfo(info *asio.ChannelInfo) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()

	input := info.IsInput.Bool()
	limit, prefix := d.cfg.Outputs, "Out"
	if input {
		limit, prefix = d.cfg.Inputs, "In"
	}
	if info.Channel < 0 || info.Channel >= limit {
		return d.fail(asio.InvalidParameter, "no channel %d", info.Channel)
	}
	info.IsActive = asio.BoolOf(d.findBuffer(input, info.Channel) >= 0)
	info.ChannelGroup = 0
	info.SampleType = d.cfg.SampleType
	info.Name.SetString(fmt.Sprintf("%s %d", prefix, info.Channel+1))
	return asio.OK
}

func (d *Driver) findBuffer(input bool, index int32) int {
	for i, b := range d.buffers {
		if b.input == input && b.index == index {
			return i
		}
	}
	return -1
}

// CreateBuffers allocates both halves of every requested channel and asks
// the host which callback variant it wants.
func (d *Driver) CreateBuffers(infos []asio.BufferInfo, bufferSize int32, callbacks *asio.Callbacks) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return d.fail(asio.InvalidMode, "not initialized")
	}
	if d.buffers != nil {
		return d.fail(asio.InvalidMode, "buffers already created")
	}
	if len(infos) == 0 || callbacks == nil || callbacks.BufferSwitch == nil {
		return d.fail(asio.InvalidParameter, "no channels or callbacks")
	}
	r := asio.BufferSizeRange{Min: d.cfg.MinBuffer, Max: d.cfg.MaxBuffer, Preferred: d.cfg.PreferredBuffer, Granularity: d.cfg.Granularity}
	if !r.Permits(bufferSize) {
		return d.fail(asio.InvalidParameter, "buffer size %d not in %s", bufferSize, r)
	}

	width := d.cfg.SampleType.Size()
	if width == 0 {
		return d.fail(asio.InvalidMode, "unsupported sample type %s", d.cfg.SampleType)
	}
	buffers := make([]channelBuffer, len(infos))
	for i := range infos {
		info := &infos[i]
		input := info.IsInput.Bool()
		limit := d.cfg.Outputs
		if input {
			limit = d.cfg.Inputs
		}
		if info.ChannelNum < 0 || info.ChannelNum >= limit {
			return d.fail(asio.InvalidParameter, "no channel %d", info.ChannelNum)
		}
		size := int(bufferSize) * width
		buffers[i] = channelBuffer{
			input:   input,
			index:   info.ChannelNum,
			regions: [2][]byte{asio.AllocRegion(size), asio.AllocRegion(size)},
		}
		info.Buffers = buffers[i].regions
	}

	d.stepMu.Lock()
	defer d.stepMu.Unlock()

	d.buffers = buffers
	d.frames = bufferSize
	d.cb = callbacks
	d.half = 0
	d.position.Store(0)
	d.lastPos.Store(0)
	d.pending.Store(0)
	d.switches.Store(0)
	d.scratch = make([]float64, bufferSize)
	d.inPeak = make([]atomic.Uint32, len(buffers))
	d.outPeak = make([]atomic.Uint32, len(buffers))
	d.osc = make([]*utils.Sine, len(buffers))
	for i, b := range buffers {
		if b.input {
			d.osc[i] = utils.NewSine(d.toneHz(b.index), float64(d.sampleRate()), d.cfg.ToneGain)
		}
	}

	d.timeInfo = false
	if callbacks.Message != nil {
		version := callbacks.Message(asio.EngineVersion, 0, nil, nil)
		if callbacks.Message(asio.SelectorSupported, int32(asio.SupportsTimeInfo), nil, nil) == 1 {
			d.timeInfo = d.cfg.Capabilities.TimeInfo &&
				callbacks.Message(asio.SupportsTimeInfo, 0, nil, nil) == 1
		}
		d.log.Debugf("host engine version %d, time info %t", version, d.timeInfo)
	}
	return asio.OK
}

func (d *Driver) DisposeBuffers() asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buffers == nil {
		return d.fail(asio.InvalidMode, "no buffers")
	}
	d.stopLocked()

	d.stepMu.Lock()
	defer d.stepMu.Unlock()
	d.buffers = nil
	d.cb = nil
	d.osc = nil
	return asio.OK
}

func (d *Driver) ControlPanel() asio.Error {
	return asio.NotPresent
}

func (d *Driver) OutputReady() asio.Error {
	if !d.cfg.OutputReady {
		return asio.NotPresent
	}
	d.ready.Add(1)
	return asio.OK
}

// Step performs one buffer switch on the calling goroutine. It reports
// false when the stream is stopped or stalled.
func (d *Driver) Step() bool {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()

	if !d.running.Load() || d.stalled.Load() || d.cb == nil {
		return false
	}
	half := d.half
	d.fillInputs(half)

	pos := d.position.Load()
	stamp := nowFunc().UnixNano()
	d.lastPos.Store(pos)
	d.lastStamp.Store(stamp)

	if d.timeInfo && d.cb.BufferSwitchTimeInfo != nil {
		d.ti = asio.Time{
			TimeInfo: asio.TimeInfo{
				Speed:          1,
				SystemTime:     asio.Timestamp(stamp),
				SamplePosition: asio.Samples(pos),
				SampleRate:     d.sampleRate(),
				Flags: asio.SystemTimeValid | asio.SamplePositionValid | asio.SampleRateValid |
					asio.SpeedValid | asio.TimeInfoFlags(d.pending.Swap(0)),
			},
		}
		if d.timeCode.Load() {
			d.ti.TimeCode = asio.TimeCode{
				Speed:           1,
				TimeCodeSamples: asio.Samples(pos),
				Flags:           asio.TimeCodeValid | asio.TimeCodeRunning | asio.TimeCodeOnSpeed,
			}
		}
		d.cb.BufferSwitchTimeInfo(&d.ti, half, asio.True)
	} else {
		d.cb.BufferSwitch(half, asio.True)
	}

	d.meterOutputs(half)
	d.position.Add(int64(d.frames))
	d.half ^= 1
	d.switches.Add(1)
	return true
}

func (d *Driver) fillInputs(half int32) {
	for i, b := range d.buffers {
		if !b.input {
			continue
		}
		region := b.regions[half]
		bits := d.cfg.SampleType.Int32Bits()
		switch {
		case d.cfg.SampleType == asio.SampleTypeFloat32LSB:
			out := float32s(region)
			d.osc[i].Fill32(out)
			d.inPeak[i].Store(math.Float32bits(d.peak32(out)))
		case bits > 0:
			out := int32s(region)
			d.osc[i].FillInt32(out)
			utils.Justify(out, bits)
			d.inPeak[i].Store(math.Float32bits(utils.PeakInt32Bits(out, bits)))
		default:
			clear(region)
		}
	}
}

func (d *Driver) meterOutputs(half int32) {
	for i, b := range d.buffers {
		if b.input {
			continue
		}
		var peak float32
		if d.cfg.SampleType == asio.SampleTypeFloat32LSB {
			peak = d.peak32(float32s(b.regions[half]))
		} else if bits := d.cfg.SampleType.Int32Bits(); bits > 0 {
			peak = utils.PeakInt32Bits(int32s(b.regions[half]), bits)
		}
		d.outPeak[i].Store(math.Float32bits(peak))
	}
}

// peak32 is the L-infinity norm of buf.
func (d *Driver) peak32(buf []float32) float32 {
	s := d.scratch[:len(buf)]
	for i, v := range buf {
		s[i] = float64(v)
	}
	return float32(floats.Norm(s, math.Inf(1)))
}

func float32s(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func int32s(b []byte) []int32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Switches returns the number of completed buffer switches.
func (d *Driver) Switches() uint64 { return d.switches.Load() }

// OutputReadyCalls returns how often the host signalled OutputReady.
func (d *Driver) OutputReadyCalls() uint64 { return d.ready.Load() }

// Running reports whether the stream is started.
func (d *Driver) Running() bool { return d.running.Load() }
