// SPDX-License-Identifier: MIT
package asio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	applog "asiohost/internal/log"

	"github.com/google/uuid"
)

var testID = uuid.MustParse("a1b2c3d4-0000-4000-8000-00000000abcd")

type countingPlatform struct {
	*RefCountedPlatform
	inits, terms int
}

func newCountingPlatform(initErr error) *countingPlatform {
	p := &countingPlatform{}
	p.RefCountedPlatform = NewRefCountedPlatform(
		func() error {
			if initErr != nil {
				return initErr
			}
			p.inits++
			return nil
		},
		func() error {
			p.terms++
			return nil
		},
	)
	return p
}

func activateFake(t *testing.T, fd *fakeDriver, p Platform) *Handle {
	t.Helper()
	h, err := Activate(testID, ActivatorFunc(func(uuid.UUID) (Driver, error) { return fd, nil }), p)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	return h
}

func initFake(t *testing.T, fd *fakeDriver) *Handle {
	t.Helper()
	h := activateFake(t, fd, nil)
	if !h.Initialize(nil) {
		t.Fatal("Initialize() = false")
	}
	return h
}

func allChannels(in, out int32) []ChannelRequest {
	var reqs []ChannelRequest
	for i := range in {
		reqs = append(reqs, ChannelRequest{Input: true, Index: i})
	}
	for i := range out {
		reqs = append(reqs, ChannelRequest{Index: i})
	}
	return reqs
}

func TestActivateReleasesPlatformOnFailure(t *testing.T) {
	tests := []struct {
		name      string
		activator Activator
		initErr   error
		wantErr   error
	}{
		{
			"Unknown identifier",
			ActivatorFunc(func(uuid.UUID) (Driver, error) {
				return nil, fmt.Errorf("%w: %w", ErrDriverNotFound, errFakeNotFound)
			}),
			nil,
			ErrDriverNotFound,
		},
		{
			"Driver refuses instantiation",
			ActivatorFunc(func(uuid.UUID) (Driver, error) { return nil, errors.New("dll entry point missing") }),
			nil,
			ErrActivationRejected,
		},
		{
			"Nil driver",
			ActivatorFunc(func(uuid.UUID) (Driver, error) { return nil, nil }),
			nil,
			ErrActivationRejected,
		},
		{
			"Platform unavailable",
			ActivatorFunc(func(uuid.UUID) (Driver, error) { return newFakeDriver(), nil }),
			errors.New("COM not available"),
			ErrPlatform,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newCountingPlatform(tt.initErr)
			h, err := Activate(testID, tt.activator, p)
			if h != nil {
				t.Error("Activate() returned a handle on failure")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Activate() error = %v, want %v", err, tt.wantErr)
			}
			if p.Refs() != 0 || p.inits != p.terms {
				t.Errorf("platform leaked: refs=%d inits=%d terms=%d", p.Refs(), p.inits, p.terms)
			}
		})
	}
}

func TestTeardownSequence(t *testing.T) {
	fd := newFakeDriver()
	p := newCountingPlatform(nil)
	h := activateFake(t, fd, p)
	if p.Refs() != 1 {
		t.Fatalf("platform refs after Activate = %d, want 1", p.Refs())
	}
	if !h.Initialize(nil) {
		t.Fatal("Initialize() = false")
	}
	if _, err := h.CreateBuffers(allChannels(2, 2), 512, CallbackSet{BufferSwitch: func(Lease, bool) {}}); err != nil {
		t.Fatalf("CreateBuffers() error = %v", err)
	}
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := h.Teardown(); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	if fd.calls[SlotStop] != 1 || fd.calls[SlotDisposeBuffers] != 1 || fd.calls[SlotRelease] != 1 {
		t.Errorf("teardown calls = stop:%d dispose:%d release:%d, want 1 each",
			fd.calls[SlotStop], fd.calls[SlotDisposeBuffers], fd.calls[SlotRelease])
	}
	if h.State() != Unbound {
		t.Errorf("State() = %v, want unbound", h.State())
	}
	if p.Refs() != 0 || p.terms != 1 {
		t.Errorf("platform refs=%d terms=%d, want 0 and 1", p.Refs(), p.terms)
	}

	if err := h.Teardown(); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("second Teardown() error = %v, want InvalidMode", err)
	}
	if p.terms != 1 || fd.calls[SlotRelease] != 1 {
		t.Error("second Teardown() released again")
	}
}

func TestTeardownReleasesPlatformWhenDriverFails(t *testing.T) {
	fd := newFakeDriver()
	fd.releaseErr = errors.New("object still referenced")
	fd.disposeCode = HWMalfunction
	p := newCountingPlatform(nil)
	h := activateFake(t, fd, p)
	h.Initialize(nil)
	if _, err := h.CreateBuffers(allChannels(1, 1), 256, CallbackSet{BufferSwitch: func(Lease, bool) {}}); err != nil {
		t.Fatalf("CreateBuffers() error = %v", err)
	}

	err := h.Teardown()
	if !errors.Is(err, ErrHWMalfunction) || !errors.Is(err, fd.releaseErr) {
		t.Errorf("Teardown() error = %v, want both failures", err)
	}
	if p.Refs() != 0 {
		t.Errorf("platform refs = %d after failed teardown", p.Refs())
	}
}

func TestIllegalTransitionsNeverReachDriver(t *testing.T) {
	cb := CallbackSet{BufferSwitch: func(Lease, bool) {}}
	ops := []struct {
		name string
		slot Slot
		call func(h *Handle) error
	}{
		{"Start", SlotStart, func(h *Handle) error { return h.Start() }},
		{"Stop", SlotStop, func(h *Handle) error { return h.Stop() }},
		{"DisposeBuffers", SlotDisposeBuffers, func(h *Handle) error { return h.DisposeBuffers() }},
		{"Channels", SlotGetChannels, func(h *Handle) error { _, _, err := h.Channels(); return err }},
		{"SampleRate", SlotGetSampleRate, func(h *Handle) error { _, err := h.SampleRate(); return err }},
		{"SetSampleRate", SlotSetSampleRate, func(h *Handle) error { return h.SetSampleRate(48000) }},
		{"ClockSources", SlotGetClockSources, func(h *Handle) error { _, err := h.ClockSources(); return err }},
		{"Future", SlotFuture, func(h *Handle) error { return h.Future(Probe{Sel: CanTimeInfo}) }},
		{"OutputReady", SlotOutputReady, func(h *Handle) error { return h.OutputReady() }},
		{"CreateBuffers", SlotCreateBuffers, func(h *Handle) error {
			_, err := h.CreateBuffers(allChannels(1, 1), 512, cb)
			return err
		}},
	}

	for _, op := range ops {
		t.Run(op.name+" before init", func(t *testing.T) {
			fd := newFakeDriver()
			h := activateFake(t, fd, nil)
			if err := op.call(h); !errors.Is(err, ErrInvalidMode) {
				t.Errorf("%s() error = %v, want InvalidMode", op.name, err)
			}
			if fd.calls[op.slot] != 0 {
				t.Errorf("%s reached the driver", op.slot)
			}
		})
	}

	t.Run("Start before CreateBuffers", func(t *testing.T) {
		fd := newFakeDriver()
		h := initFake(t, fd)
		if err := h.Start(); !errors.Is(err, ErrInvalidMode) {
			t.Errorf("Start() error = %v, want InvalidMode", err)
		}
		if fd.calls[SlotStart] != 0 {
			t.Error("start reached the driver")
		}
	})
}

func TestInitializeIsBooleanOnly(t *testing.T) {
	fd := newFakeDriver()
	fd.refuseInit = true
	h := activateFake(t, fd, nil)
	if h.Initialize(nil) {
		t.Fatal("Initialize() = true for refusing driver")
	}
	if h.State() != Activated {
		t.Errorf("State() = %v after refusal, want activated", h.State())
	}
	if msg, err := h.ErrorMessage(); err != nil || msg != "nothing to report" {
		t.Errorf("ErrorMessage() = %q, %v", msg, err)
	}

	fd.refuseInit = false
	if !h.Initialize(nil) {
		t.Fatal("Initialize() = false after driver changed its mind")
	}
	if h.Initialize(nil) {
		t.Error("second Initialize() = true")
	}
}

func TestControlSurface(t *testing.T) {
	fd := newFakeDriver()
	h := initFake(t, fd)

	if name, err := h.DriverName(); err != nil || name != "Fake Driver" {
		t.Errorf("DriverName() = %q, %v", name, err)
	}
	if v, err := h.DriverVersion(); err != nil || v != 7 {
		t.Errorf("DriverVersion() = %d, %v", v, err)
	}
	if in, out, err := h.Latencies(); err != nil || in != 256 || out != 288 {
		t.Errorf("Latencies() = %d, %d, %v", in, out, err)
	}
	if err := h.CanSampleRate(96000); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("CanSampleRate(96000) error = %v, want InvalidParameter", err)
	}
	if err := h.SetSampleRate(0); !errors.Is(err, ErrNoClock) {
		t.Errorf("SetSampleRate(0) error = %v, want NoClock", err)
	}
	if got := h.LastResult(); got != NoClock {
		t.Errorf("LastResult() = %v, want NoClock", got)
	}
	if err := h.ControlPanel(); !errors.Is(err, ErrNotPresent) {
		t.Errorf("ControlPanel() error = %v", err)
	}
	if pos, stamp, err := h.SamplePosition(); err != nil || pos != 0 || stamp != 1000 {
		t.Errorf("SamplePosition() = %d, %d, %v", pos, stamp, err)
	}
}

func TestInvalidRatesNeverReachDriver(t *testing.T) {
	for _, rate := range []float64{-1, nan(), inf()} {
		fd := newFakeDriver()
		h := initFake(t, fd)
		if err := h.SetSampleRate(SampleRate(rate)); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("SetSampleRate(%v) error = %v", rate, err)
		}
		if err := h.CanSampleRate(SampleRate(rate)); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("CanSampleRate(%v) error = %v", rate, err)
		}
		if fd.calls[SlotSetSampleRate]+fd.calls[SlotCanSampleRate] != 0 {
			t.Errorf("rate %v reached the driver", rate)
		}
	}
}

func TestChannelInfoEchoesRequest(t *testing.T) {
	fd := newFakeDriver()
	fd.inputs, fd.outputs = 4, 3
	h := initFake(t, fd)

	for _, input := range []bool{true, false} {
		limit := fd.outputs
		if input {
			limit = fd.inputs
		}
		for i := range limit {
			info, err := h.ChannelInfo(i, input)
			if err != nil {
				t.Fatalf("ChannelInfo(%d, %t) error = %v", i, input, err)
			}
			if info.Channel != i || info.IsInput.Bool() != input {
				t.Errorf("ChannelInfo(%d, %t) = channel %d input %v", i, input, info.Channel, info.IsInput)
			}
		}
		before := fd.calls[SlotGetChannelInfo]
		for _, bad := range []int32{-1, limit} {
			if _, err := h.ChannelInfo(bad, input); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("ChannelInfo(%d, %t) error = %v, want InvalidParameter", bad, input, err)
			}
		}
		if fd.calls[SlotGetChannelInfo] != before {
			t.Error("out of range index reached the driver")
		}
	}
}

func TestChannelInfoMismatchIsLogged(t *testing.T) {
	var buf bytes.Buffer
	applog.SetOutput(&buf)
	t.Cleanup(func() { applog.SetOutput(os.Stderr) })

	h := initFake(t, newFakeDriver())
	info, err := h.ChannelInfo(1, true)
	if err != nil {
		t.Fatal(err)
	}
	if info.Channel != 1 || !info.IsInput.Bool() {
		t.Errorf("ChannelInfo = channel %d input %v", info.Channel, info.IsInput)
	}
	if !strings.Contains(buf.String(), "driver answered channel 99 input=false for channel 1 input=true") {
		t.Errorf("mismatch not logged:\n%s", buf.String())
	}
}

func TestClockSourcesClamped(t *testing.T) {
	fd := newFakeDriver()
	fd.clockCount = 40
	h := initFake(t, fd)

	cs, err := h.ClockSources()
	if err != nil {
		t.Fatalf("ClockSources() error = %v", err)
	}
	if cs.Length != MaxClockSources || len(cs.Slice()) != MaxClockSources {
		t.Errorf("Length = %d, len(Slice()) = %d, want %d", cs.Length, len(cs.Slice()), MaxClockSources)
	}
	if cur, ok := cs.Current(); !ok || cur.Index != 0 {
		t.Errorf("Current() = %+v, %t", cur, ok)
	}
}

func TestCreateBuffersValidation(t *testing.T) {
	cb := CallbackSet{BufferSwitch: func(Lease, bool) {}}
	tests := []struct {
		name     string
		channels []ChannelRequest
		size     int32
		cb       CallbackSet
	}{
		{"Empty list", nil, 512, cb},
		{"Missing switch callback", allChannels(1, 1), 512, CallbackSet{}},
		{"Duplicate channel", []ChannelRequest{{Input: true}, {Input: true}}, 512, cb},
		{"Input out of range", []ChannelRequest{{Input: true, Index: 2}}, 512, cb},
		{"Negative output", []ChannelRequest{{Index: -1}}, 512, cb},
		{"Size not power of two", allChannels(1, 1), 500, cb},
		{"Size above max", allChannels(1, 1), 4096, cb},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := newFakeDriver()
			h := initFake(t, fd)
			set, err := h.CreateBuffers(tt.channels, tt.size, tt.cb)
			if set != nil || !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("CreateBuffers() = %v, %v; want InvalidParameter", set, err)
			}
			if fd.calls[SlotCreateBuffers] != 0 {
				t.Error("invalid request reached the driver")
			}
			if h.State() != Initialized {
				t.Errorf("State() = %v, want initialized", h.State())
			}
		})
	}
}

func TestCreateBuffersWithoutRegions(t *testing.T) {
	fd := newFakeDriver()
	fd.nilRegions = true
	h := initFake(t, fd)

	_, err := h.CreateBuffers(allChannels(2, 2), 512, CallbackSet{BufferSwitch: func(Lease, bool) {}})
	if !errors.Is(err, ErrNoMemory) {
		t.Fatalf("CreateBuffers() error = %v, want NoMemory", err)
	}
	if fd.calls[SlotDisposeBuffers] != 1 {
		t.Error("partially created buffers were not disposed")
	}
	if h.State() != Initialized {
		t.Errorf("State() = %v, want initialized", h.State())
	}
}

func TestDisposeBuffersTwice(t *testing.T) {
	fd := newFakeDriver()
	h := initFake(t, fd)
	set, err := h.CreateBuffers(allChannels(1, 1), 512, CallbackSet{BufferSwitch: func(Lease, bool) {}})
	if err != nil {
		t.Fatalf("CreateBuffers() error = %v", err)
	}
	lease := set.Lease()
	if lease.Bytes(0) == nil {
		t.Fatal("fresh lease has no bytes")
	}

	if err := h.DisposeBuffers(); err != nil {
		t.Fatalf("DisposeBuffers() error = %v", err)
	}
	if err := h.DisposeBuffers(); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("second DisposeBuffers() error = %v, want InvalidMode", err)
	}
	if fd.calls[SlotDisposeBuffers] != 1 {
		t.Errorf("driver disposed %d times", fd.calls[SlotDisposeBuffers])
	}
	if lease.Valid() || lease.Bytes(0) != nil || set.Lease().Bytes(0) != nil || !set.Disposed() {
		t.Error("lease survived disposal")
	}
	if h.Buffers() != nil {
		t.Error("Buffers() still returns the disposed set")
	}
}

func TestDisposeStopsRunningStream(t *testing.T) {
	fd := newFakeDriver()
	h := initFake(t, fd)
	if _, err := h.CreateBuffers(allChannels(1, 1), 512, CallbackSet{BufferSwitch: func(Lease, bool) {}}); err != nil {
		t.Fatal(err)
	}
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	if err := h.DisposeBuffers(); err != nil {
		t.Fatalf("DisposeBuffers() error = %v", err)
	}
	if fd.calls[SlotStop] != 1 || h.State() != Initialized {
		t.Errorf("stop calls = %d, state = %v", fd.calls[SlotStop], h.State())
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	fd := newFakeDriver()
	h := initFake(t, fd)
	if _, err := h.CreateBuffers(allChannels(1, 1), 512, CallbackSet{BufferSwitch: func(Lease, bool) {}}); err != nil {
		t.Fatal(err)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("Stop() with buffers but not running = %v, want nil", err)
	}
	if fd.calls[SlotStop] != 0 {
		t.Error("no-op stop reached the driver")
	}
}

func TestFutureDispatch(t *testing.T) {
	fd := newFakeDriver()
	h := initFake(t, fd)
	fd.futureCode[CanInputMonitor] = Success
	fd.futureCode[SetInputGain] = InvalidParameter
	fd.futureCode[GetInputMeter] = Error(12345)
	fd.futureCode[FutureSelector(0x31337)] = OK

	if !h.Supports(CanInputMonitor) {
		t.Error("Supports(CanInputMonitor) = false")
	}
	if h.Supports(CanTransport) {
		t.Error("Supports(CanTransport) = true")
	}

	// Unknown selectors travel without parameters and default to unsupported.
	fd.lastParams = "sentinel"
	if err := h.Future(Probe{Sel: 0x7fff0001}); !errors.Is(err, ErrNotPresent) {
		t.Errorf("unknown selector error = %v, want NotPresent", err)
	}
	if fd.lastParams != nil {
		t.Errorf("unknown selector sent params %v", fd.lastParams)
	}
	if err := h.Future(Probe{Sel: 0x31337}); err != nil {
		t.Errorf("unknown selector the driver accepts = %v", err)
	}
	if err := h.Future(Probe{Sel: OptionalOne}); !errors.Is(err, ErrNotPresent) {
		t.Errorf("OptionalOne error = %v, want NotPresent", err)
	}

	calls := fd.calls[SlotFuture]
	if err := h.Future(Probe{Sel: SetInputMonitor}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("probing a parameterised selector = %v, want InvalidParameter", err)
	}
	if err := h.Future(InputMonitorRequest{}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("nil parameter block = %v, want InvalidParameter", err)
	}
	if err := h.Future(nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("nil request = %v, want InvalidParameter", err)
	}
	if fd.calls[SlotFuture] != calls {
		t.Error("malformed request reached the driver")
	}

	cc := ChannelControls{Channel: 5, Gain: unityGainForTest}
	if err := h.Future(GainRequest{Controls: &cc}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("driver rejection = %v, want InvalidParameter propagated", err)
	}
	if fd.lastParams != &cc {
		t.Error("parameter block was not passed through")
	}
	if _, err := h.InputMeter(0); !errors.Is(err, ErrNotPresent) {
		t.Errorf("out-of-taxonomy code = %v, want NotPresent", err)
	}
	if h.LastResult() != Error(12345) {
		t.Errorf("LastResult() = %v, want the raw code", h.LastResult())
	}

	fd.futurePanic = true
	if err := h.Future(Probe{Sel: CanTimeCode}); !errors.Is(err, ErrNotPresent) {
		t.Errorf("panicking driver = %v, want NotPresent", err)
	}
}

const unityGainForTest = 0x20000000

func TestCapabilities(t *testing.T) {
	fd := newFakeDriver()
	h := initFake(t, fd)
	fd.futureCode[CanTimeInfo] = Success
	fd.futureCode[CanOutputMeter] = OK
	fd.futureCode[CanDoIoFormat] = Success

	caps := h.Capabilities()
	want := Capabilities{TimeInfo: true, OutputMeter: true, DSD: true}
	if caps != want {
		t.Errorf("Capabilities() = %v, want %v", caps, want)
	}
	if f, ok := fd.lastParams.(*IoFormat); !ok || f.FormatType != FormatDSD {
		t.Errorf("DSD probe sent %v", fd.lastParams)
	}
}
