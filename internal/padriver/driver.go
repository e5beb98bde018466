// SPDX-License-Identifier: MIT
//
// Package padriver is a conforming driver on top of the platform's default
// PortAudio input and output devices. Samples are exchanged as Float32LSB;
// the PortAudio stream callback is the driver's execution context and
// performs the buffer switch.
package padriver

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"asiohost/internal/asio"
	applog "asiohost/internal/log"

	"github.com/gordonklaus/portaudio"
)

// Version is reported through DriverVersion.
const Version = 1

const (
	minBuffer = 32
	maxBuffer = 4096
)

// stream is the subset of *portaudio.Stream the driver uses.
type stream interface {
	Start() error
	Stop() error
	Close() error
	Info() *portaudio.StreamInfo
}

// Package-level seams so tests can run without audio hardware.
var (
	paInitialize        = portaudio.Initialize
	paTerminate         = portaudio.Terminate
	paDefaultInputFunc  = portaudio.DefaultInputDevice
	paDefaultOutputFunc = portaudio.DefaultOutputDevice
	paFormatSupported   = func(p portaudio.StreamParameters, callback any) error {
		return portaudio.IsFormatSupported(p, callback)
	}
	paOpenStreamFunc = openStream
	nowFunc          = time.Now
)

func openStream(p portaudio.StreamParameters, callback any) (stream, error) {
	s, err := portaudio.OpenStream(p, callback)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var platform = asio.NewRefCountedPlatform(
	func() error {
		if err := paInitialize(); err != nil {
			return fmt.Errorf("failed to initialize PortAudio: %w", err)
		}
		return nil
	},
	func() error {
		if err := paTerminate(); err != nil {
			return fmt.Errorf("failed to terminate PortAudio: %w", err)
		}
		return nil
	},
)

// Platform returns the process-wide PortAudio facility. It must be held
// while any Driver from this package is alive.
func Platform() asio.Platform { return platform }

// Config selects how the default devices are opened.
type Config struct {
	Name            string
	PreferredBuffer int32
	MaxChannels     int32 // per direction, 0 for no limit
	LowLatency      bool
}

type channelBuffer struct {
	input   bool
	index   int32
	regions [2][]byte
}

// Driver is a Float32LSB driver over the default PortAudio devices.
type Driver struct {
	cfg Config
	log *applog.Logger

	mu          sync.Mutex
	initialized bool
	released    bool
	in, out     *portaudio.DeviceInfo
	numIn       int32
	numOut      int32
	rate        asio.SampleRate
	errMsg      string
	stream      stream

	// Data plane, owned by the stream callback while the stream is open.
	buffers   []channelBuffer
	frames    int32
	inStride  int
	outStride int
	cb        *asio.Callbacks
	timeInfo  bool
	overload  bool
	half      int32
	ti        asio.Time
	running   atomic.Bool
	position  atomic.Int64
	lastPos   atomic.Int64
	lastStamp atomic.Int64
	switches  atomic.Uint64
}

// New returns an unbound driver. Devices are looked up by Init.
func New(cfg Config) *Driver {
	if cfg.Name == "" {
		cfg.Name = "PortAudio Default"
	}
	if cfg.PreferredBuffer == 0 {
		cfg.PreferredBuffer = 512
	}
	return &Driver{cfg: cfg, log: applog.For("padriver")}
}

var _ asio.Driver = (*Driver)(nil)

func (d *Driver) fail(code asio.Error, format string, args ...any) asio.Error {
	d.errMsg = fmt.Sprintf(format, args...)
	return code
}

func (d *Driver) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return fmt.Errorf("padriver: already released")
	}
	d.released = true
	return d.closeLocked()
}

// Init looks up the default devices. It succeeds when at least one
// direction is available.
func (d *Driver) Init(sysHandle any) asio.Bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	in, inErr := paDefaultInputFunc()
	out, outErr := paDefaultOutputFunc()
	if inErr != nil {
		in = nil
	}
	if outErr != nil {
		out = nil
	}
	if in == nil && out == nil {
		d.errMsg = fmt.Sprintf("no default devices: %v; %v", inErr, outErr)
		return asio.False
	}
	d.in, d.out = in, out
	d.numIn, d.numOut = 0, 0
	if in != nil {
		d.numIn = d.limit(in.MaxInputChannels)
		d.rate = asio.SampleRate(in.DefaultSampleRate)
	}
	if out != nil {
		d.numOut = d.limit(out.MaxOutputChannels)
		d.rate = asio.SampleRate(out.DefaultSampleRate)
	}
	d.initialized = true
	d.errMsg = ""
	d.log.Debugf("default devices: %d in, %d out at %.0f Hz", d.numIn, d.numOut, float64(d.rate))
	return asio.True
}

func (d *Driver) limit(n int) int32 {
	if d.cfg.MaxChannels > 0 && int32(n) > d.cfg.MaxChannels {
		return d.cfg.MaxChannels
	}
	return int32(n)
}

func (d *Driver) DriverName(name *asio.Name) { name.SetString(d.cfg.Name) }

func (d *Driver) DriverVersion() int32 { return Version }

func (d *Driver) ErrorMessage(msg *asio.ErrorMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg.SetString(d.errMsg)
}

func (d *Driver) Start() asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return d.fail(asio.InvalidMode, "start without buffers")
	}
	if d.running.Load() {
		return asio.OK
	}
	d.lastStamp.Store(nowFunc().UnixNano())
	d.running.Store(true)
	if err := d.stream.Start(); err != nil {
		d.running.Store(false)
		return d.fail(asio.HWMalfunction, "start stream: %v", err)
	}
	return asio.OK
}

func (d *Driver) Stop() asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Swap(false) {
		return asio.OK
	}
	if err := d.stream.Stop(); err != nil {
		return d.fail(asio.HWMalfunction, "stop stream: %v", err)
	}
	return asio.OK
}

func (d *Driver) Channels(numInputs, numOutputs *int32) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return asio.NotPresent
	}
	*numInputs, *numOutputs = d.numIn, d.numOut
	return asio.OK
}

// Latencies reports the stream's latencies plus one buffer, or the device
// defaults before a stream exists.
func (d *Driver) Latencies(input, output *int32) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var inLat, outLat time.Duration
	if d.stream != nil {
		if info := d.stream.Info(); info != nil {
			inLat, outLat = info.InputLatency, info.OutputLatency
		}
	} else {
		inLat, outLat = d.deviceLatency()
	}
	*input = d.frames + d.samples(inLat)
	*output = d.frames + d.samples(outLat)
	return asio.OK
}

func (d *Driver) deviceLatency() (in, out time.Duration) {
	if d.in != nil {
		in = d.in.DefaultHighInputLatency
		if d.cfg.LowLatency {
			in = d.in.DefaultLowInputLatency
		}
	}
	if d.out != nil {
		out = d.out.DefaultHighOutputLatency
		if d.cfg.LowLatency {
			out = d.out.DefaultLowOutputLatency
		}
	}
	return in, out
}

func (d *Driver) samples(t time.Duration) int32 {
	return int32(t.Seconds() * float64(d.rate))
}

func (d *Driver) BufferSize(minSize, maxSize, preferred, granularity *int32) asio.Error {
	*minSize, *maxSize = minBuffer, maxBuffer
	*preferred, *granularity = d.cfg.PreferredBuffer, -1
	return asio.OK
}

func (d *Driver) params(rate asio.SampleRate, inCh, outCh int, frames int32) portaudio.StreamParameters {
	inLat, outLat := d.deviceLatency()
	p := portaudio.StreamParameters{
		SampleRate:      float64(rate),
		FramesPerBuffer: int(frames),
	}
	if inCh > 0 && d.in != nil {
		p.Input = portaudio.StreamDeviceParameters{Device: d.in, Channels: inCh, Latency: inLat}
	}
	if outCh > 0 && d.out != nil {
		p.Output = portaudio.StreamDeviceParameters{Device: d.out, Channels: outCh, Latency: outLat}
	}
	return p
}

func (d *Driver) CanSampleRate(rate asio.SampleRate) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return asio.NotPresent
	}
	if rate <= 0 {
		return asio.NoClock
	}
	if err := paFormatSupported(d.params(rate, int(d.numIn), int(d.numOut), 0), d.callback(int(d.numIn), int(d.numOut))); err != nil {
		return asio.InvalidParameter
	}
	return asio.OK
}

func (d *Driver) SampleRate(rate *asio.SampleRate) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	*rate = d.rate
	return asio.OK
}

// SetSampleRate takes effect immediately when no stream is open. With an
// open stream the driver asks the host for a reset, after which the new
// buffers are created at the new rate.
func (d *Driver) SetSampleRate(rate asio.SampleRate) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rate == 0 {
		return d.fail(asio.NoClock, "no external clock")
	}
	if err := paFormatSupported(d.params(rate, int(d.numIn), int(d.numOut), 0), d.callback(int(d.numIn), int(d.numOut))); err != nil {
		return d.fail(asio.InvalidParameter, "rate %.0f: %v", float64(rate), err)
	}
	if rate == d.rate {
		return asio.OK
	}
	d.rate = rate
	if d.stream != nil && d.cb != nil && d.cb.Message != nil &&
		d.cb.Message(asio.SelectorSupported, int32(asio.ResetRequest), nil, nil) == 1 {
		d.cb.Message(asio.ResetRequest, 0, nil, nil)
	}
	return asio.OK
}

func (d *Driver) ClockSources(clocks *[asio.MaxClockSources]asio.ClockSource, numSources *int32) asio.Error {
	if *numSources < 1 {
		*numSources = 0
		return asio.OK
	}
	clocks[0] = asio.ClockSource{AssociatedChannel: -1, AssociatedGroup: -1, IsCurrentSource: asio.True}
	clocks[0].Name.SetString("Internal")
	*numSources = 1
	return asio.OK
}

func (d *Driver) SetClockSource(reference int32) asio.Error {
	if reference != 0 {
		return asio.InvalidParameter
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
	limit, dev := d.numOut, d.out
	if input {
		limit, dev = d.numIn, d.in
	}
	if info.Channel < 0 || info.Channel >= limit || dev == nil {
		return d.fail(asio.InvalidParameter, "no channel %d", info.Channel)
	}
	info.IsActive = asio.False
	for _, b := range d.buffers {
		if b.input == input && b.index == info.Channel {
			info.IsActive = asio.True
		}
	}
	info.ChannelGroup = 0
	info.SampleType = asio.SampleTypeFloat32LSB
	info.Name.SetString(fmt.Sprintf("%s %d", dev.Name, info.Channel+1))
	return asio.OK
}

// CreateBuffers allocates the regions and opens an interleaved stream wide
// enough for the highest requested channel in each direction.
func (d *Driver) CreateBuffers(infos []asio.BufferInfo, bufferSize int32, callbacks *asio.Callbacks) asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return d.fail(asio.InvalidMode, "not initialized")
	}
	if d.stream != nil {
		return d.fail(asio.InvalidMode, "buffers already created")
	}
	if len(infos) == 0 || callbacks == nil || callbacks.BufferSwitch == nil {
		return d.fail(asio.InvalidParameter, "no channels or callbacks")
	}
	r := asio.BufferSizeRange{Min: minBuffer, Max: maxBuffer, Preferred: d.cfg.PreferredBuffer, Granularity: -1}
	if !r.Permits(bufferSize) {
		return d.fail(asio.InvalidParameter, "buffer size %d not in %s", bufferSize, r)
	}

	buffers := make([]channelBuffer, len(infos))
	var inStride, outStride int
	for i := range infos {
		info := &infos[i]
		input := info.IsInput.Bool()
		limit := d.numOut
		if input {
			limit = d.numIn
		}
		if info.ChannelNum < 0 || info.ChannelNum >= limit {
			return d.fail(asio.InvalidParameter, "no channel %d", info.ChannelNum)
		}
		if input {
			inStride = max(inStride, int(info.ChannelNum)+1)
		} else {
			outStride = max(outStride, int(info.ChannelNum)+1)
		}
		size := int(bufferSize) * 4
		buffers[i] = channelBuffer{
			input:   input,
			index:   info.ChannelNum,
			regions: [2][]byte{asio.AllocRegion(size), asio.AllocRegion(size)},
		}
		info.Buffers = buffers[i].regions
	}

	d.buffers = buffers
	d.frames = bufferSize
	d.inStride, d.outStride = inStride, outStride
	d.cb = callbacks
	d.half = 0
	d.position.Store(0)
	d.lastPos.Store(0)
	d.switches.Store(0)

	d.timeInfo, d.overload = false, false
	if callbacks.Message != nil {
		if callbacks.Message(asio.SelectorSupported, int32(asio.SupportsTimeInfo), nil, nil) == 1 {
			d.timeInfo = callbacks.Message(asio.SupportsTimeInfo, 0, nil, nil) == 1
		}
		d.overload = callbacks.Message(asio.SelectorSupported, int32(asio.Overload), nil, nil) == 1
	}

	s, err := paOpenStreamFunc(d.params(d.rate, inStride, outStride, bufferSize), d.callback(inStride, outStride))
	if err != nil {
		d.buffers, d.cb = nil, nil
		return d.fail(asio.HWMalfunction, "open stream: %v", err)
	}
	d.stream = s
	d.log.Debugf("stream open: %d in, %d out, %d frames", inStride, outStride, bufferSize)
	return asio.OK
}

func (d *Driver) DisposeBuffers() asio.Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return d.fail(asio.InvalidMode, "no buffers")
	}
	if err := d.closeLocked(); err != nil {
		return d.fail(asio.HWMalfunction, "%v", err)
	}
	return asio.OK
}

func (d *Driver) closeLocked() error {
	if d.stream == nil {
		return nil
	}
	var err error
	if d.running.Swap(false) {
		err = d.stream.Stop()
	}
	if cerr := d.stream.Close(); err == nil {
		err = cerr
	}
	d.stream = nil
	d.buffers = nil
	d.cb = nil
	return err
}

func (d *Driver) ControlPanel() asio.Error { return asio.NotPresent }

func (d *Driver) Future(selector asio.FutureSelector, params any) asio.Error {
	switch selector {
	case asio.CanTimeInfo, asio.CanReportOverload:
		return asio.OK
	}
	return asio.NotPresent
}

// OutputReady is not supported; PortAudio pulls the output when the
// callback returns.
func (d *Driver) OutputReady() asio.Error { return asio.NotPresent }

// callback returns a stream callback whose buffer arguments match the
// directions that are open.
func (d *Driver) callback(inCh, outCh int) any {
	switch {
	case inCh > 0 && outCh > 0:
		return d.process
	case inCh > 0:
		return func(in []float32, ti portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			d.process(in, nil, ti, flags)
		}
	default:
		return func(out []float32, ti portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			d.process(nil, out, ti, flags)
		}
	}
}

// process is the PortAudio stream callback. It runs on PortAudio's audio
// thread and performs one buffer switch per call.
func (d *Driver) process(in, out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	if !d.running.Load() || d.cb == nil {
		clear(out)
		return
	}
	half := d.half
	frames := int(d.frames)

	for _, b := range d.buffers {
		if b.input {
			deinterleave(float32s(b.regions[half]), in, int(b.index), d.inStride, frames)
		}
	}

	pos := d.position.Load()
	stamp := nowFunc().UnixNano()
	d.lastPos.Store(pos)
	d.lastStamp.Store(stamp)

	if d.overload && flags&(portaudio.InputOverflow|portaudio.OutputUnderflow) != 0 {
		d.cb.Message(asio.Overload, 0, nil, nil)
	}

	if d.timeInfo && d.cb.BufferSwitchTimeInfo != nil {
		d.ti = asio.Time{
			TimeInfo: asio.TimeInfo{
				Speed:          1,
				SystemTime:     asio.Timestamp(stamp),
				SamplePosition: asio.Samples(pos),
				SampleRate:     d.rate,
				Flags:          asio.SystemTimeValid | asio.SamplePositionValid | asio.SampleRateValid | asio.SpeedValid,
			},
		}
		d.cb.BufferSwitchTimeInfo(&d.ti, half, asio.True)
	} else {
		d.cb.BufferSwitch(half, asio.True)
	}

	clear(out)
	for _, b := range d.buffers {
		if !b.input {
			interleave(out, float32s(b.regions[half]), int(b.index), d.outStride, frames)
		}
	}

	d.position.Add(int64(frames))
	d.half ^= 1
	d.switches.Add(1)
}

func deinterleave(dst, src []float32, channel, stride, frames int) {
	if stride == 0 {
		return
	}
	n := min(frames, len(dst), len(src)/stride)
	for f := range n {
		dst[f] = src[f*stride+channel]
	}
}

func interleave(dst, src []float32, channel, stride, frames int) {
	if stride == 0 {
		return
	}
	n := min(frames, len(src), len(dst)/stride)
	for f := range n {
		dst[f*stride+channel] = src[f]
	}
}

func float32s(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Switches returns the number of completed buffer switches.
func (d *Driver) Switches() uint64 { return d.switches.Load() }
