// SPDX-License-Identifier: MIT
package asio_test

import (
	"errors"
	"math"
	"testing"

	"asiohost/internal/asio"
	"asiohost/internal/simdriver"

	"github.com/google/uuid"
)

var simID = uuid.MustParse("5a4c1e00-0000-4000-8000-000000000001")

func openSim(t *testing.T, cfg simdriver.Config, platform asio.Platform) (*asio.Handle, *simdriver.Driver) {
	t.Helper()
	drv := simdriver.New(cfg)
	activator := asio.ActivatorFunc(func(id uuid.UUID) (asio.Driver, error) {
		if id != simID {
			return nil, asio.ErrDriverNotFound
		}
		return drv, nil
	})
	h, err := asio.Activate(simID, activator, platform)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if !h.Initialize(nil) {
		t.Fatal("Initialize() = false")
	}
	return h, drv
}

func TestEndToEndSession(t *testing.T) {
	platform := asio.NewRefCountedPlatform(nil, nil)
	h, drv := openSim(t, simdriver.DefaultConfig(), platform)

	in, out, err := h.Channels()
	if err != nil || in != 2 || out != 2 {
		t.Fatalf("Channels() = %d, %d, %v", in, out, err)
	}
	if err := h.CanSampleRate(44100); err != nil {
		t.Fatalf("CanSampleRate(44100) error = %v", err)
	}
	if err := h.SetSampleRate(44100); err != nil {
		t.Fatalf("SetSampleRate(44100) error = %v", err)
	}
	r, err := h.BufferSize()
	if err != nil || r.Preferred != 512 {
		t.Fatalf("BufferSize() = %s, %v", r, err)
	}
	h.CanTimeInfo()

	var (
		indices   []int32
		positions []asio.Samples
		plain     int
	)
	cb := asio.CallbackSet{
		BufferSwitch: func(l asio.Lease, direct bool) { plain++ },
		BufferSwitchTimeInfo: func(ti *asio.Time, l asio.Lease, direct bool) *asio.Time {
			indices = append(indices, l.Index())
			positions = append(positions, ti.TimeInfo.SamplePosition)
			return ti
		},
	}
	var reqs []asio.ChannelRequest
	for i := range in {
		reqs = append(reqs, asio.ChannelRequest{Input: true, Index: i})
	}
	for i := range out {
		reqs = append(reqs, asio.ChannelRequest{Index: i})
	}
	set, err := h.CreateBuffers(reqs, r.Preferred, cb)
	if err != nil {
		t.Fatalf("CreateBuffers() error = %v", err)
	}
	if set.Len() != 4 || set.Frames() != 512 {
		t.Fatalf("buffer set has %d slots of %d frames", set.Len(), set.Frames())
	}
	for i, req := range reqs {
		slot := set.Slot(i)
		if slot.Input != req.Input || slot.Channel != req.Index || slot.SampleType != asio.SampleTypeFloat32LSB {
			t.Errorf("slot %d = %+v, want %+v", i, slot, req)
		}
	}

	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for range 6 {
		if !drv.Step() {
			t.Fatal("Step() = false while running")
		}
	}
	if plain != 0 {
		t.Errorf("%d plain switches after time info negotiation", plain)
	}
	for i, idx := range indices {
		if idx != int32(i%2) {
			t.Errorf("switch %d delivered half %d", i, idx)
		}
		if i > 0 && positions[i] < positions[i-1] {
			t.Errorf("sample position went from %d to %d", positions[i-1], positions[i])
		}
	}
	if pos, _, err := h.SamplePosition(); err != nil || pos != 5*512 {
		t.Errorf("SamplePosition() = %d, %v", pos, err)
	}
	if st := h.Stats(); st.AlternationFaults != 0 || st.PositionRegressions != 0 {
		t.Errorf("Stats() = %+v", st)
	}

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if drv.Step() {
		t.Error("Step() switched after Stop")
	}
	if err := h.DisposeBuffers(); err != nil {
		t.Fatalf("DisposeBuffers() error = %v", err)
	}
	if err := h.Teardown(); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	if !drv.Released() || platform.Refs() != 0 {
		t.Error("driver or platform not released")
	}
}

func TestSampleRateRoundTrip(t *testing.T) {
	h, _ := openSim(t, simdriver.DefaultConfig(), nil)
	defer h.Teardown()

	for _, rate := range []asio.SampleRate{22050, 44100, 48000, 88200, 96000, 192000} {
		if h.CanSampleRate(rate) != nil {
			continue
		}
		if err := h.SetSampleRate(rate); err != nil {
			t.Fatalf("SetSampleRate(%v) error = %v", rate, err)
		}
		got, err := h.SampleRate()
		if err != nil || got != rate {
			t.Errorf("SampleRate() = %v, %v; want %v", got, err, rate)
		}
	}
	if err := h.SetSampleRate(12345); !errors.Is(err, asio.ErrInvalidParameter) {
		t.Errorf("SetSampleRate(12345) error = %v, want InvalidParameter", err)
	}
	if err := h.SetSampleRate(0); !errors.Is(err, asio.ErrNoClock) {
		t.Errorf("SetSampleRate(0) error = %v, want NoClock", err)
	}
}

func TestPlainSwitchWithoutTimeInfo(t *testing.T) {
	cfg := simdriver.DefaultConfig()
	cfg.Capabilities.TimeInfo = false
	h, drv := openSim(t, cfg, nil)
	defer h.Teardown()

	if h.CanTimeInfo() {
		t.Fatal("CanTimeInfo() = true for a driver without time info")
	}
	var halves []int32
	cb := asio.CallbackSet{
		BufferSwitch: func(l asio.Lease, direct bool) {
			halves = append(halves, l.Index())
			if s := l.Float32s(0); s == nil || !direct {
				t.Error("input slot not accessible")
			}
		},
		BufferSwitchTimeInfo: func(ti *asio.Time, l asio.Lease, direct bool) *asio.Time {
			t.Error("time info switch without negotiation")
			return ti
		},
	}
	if _, err := h.CreateBuffers([]asio.ChannelRequest{{Input: true}, {Index: 1}}, 256, cb); err != nil {
		t.Fatal(err)
	}
	h.Start()
	for range 4 {
		drv.Step()
	}
	if len(halves) != 4 || halves[0] != 0 || halves[1] != 1 || halves[2] != 0 || halves[3] != 1 {
		t.Errorf("halves = %v, want 0,1,0,1", halves)
	}
}

func TestOutputReachesDriver(t *testing.T) {
	h, drv := openSim(t, simdriver.DefaultConfig(), nil)
	defer h.Teardown()

	out := -1
	cb := asio.CallbackSet{
		BufferSwitch: func(l asio.Lease, direct bool) {
			s := l.Float32s(out)
			for i := range s {
				s[i] = 0.75
			}
			h.OutputReady()
		},
	}
	set, err := h.CreateBuffers([]asio.ChannelRequest{{Input: true}, {Index: 0}}, 512, cb)
	if err != nil {
		t.Fatal(err)
	}
	out = set.Find(false, 0)
	h.Start()
	drv.Step()

	meter, err := h.OutputMeter(0)
	if err != nil {
		t.Fatalf("OutputMeter() error = %v", err)
	}
	level := 0.75
	if want := int32(level * math.MaxInt32); meter < want-1024 || meter > want+1024 {
		t.Errorf("OutputMeter() = %d, want about %d", meter, want)
	}
	if in, err := h.InputMeter(0); err != nil || in == 0 {
		t.Errorf("InputMeter() = %d, %v; want a tone", in, err)
	}
	if drv.OutputReadyCalls() != 1 {
		t.Errorf("OutputReady reached the driver %d times", drv.OutputReadyCalls())
	}
}

func TestDriverEvents(t *testing.T) {
	h, drv := openSim(t, simdriver.DefaultConfig(), nil)
	defer h.Teardown()
	h.CanTimeInfo()

	var (
		resets   int
		rate     asio.SampleRate
		flags    asio.TimeInfoFlags
		overload int
	)
	cb := asio.CallbackSet{
		BufferSwitch:        func(asio.Lease, bool) {},
		SampleRateDidChange: func(r asio.SampleRate) { rate = r },
		Message: func(sel asio.MessageSelector, value int32, msg any) int32 {
			switch sel {
			case asio.SelectorSupported:
				switch asio.MessageSelector(value) {
				case asio.ResetRequest, asio.ResyncRequest, asio.Overload:
					return 1
				}
			case asio.ResetRequest:
				resets++
				return 1
			case asio.Overload:
				overload++
				return 1
			case asio.ResyncRequest:
				return 1
			}
			return 0
		},
		BufferSwitchTimeInfo: func(ti *asio.Time, l asio.Lease, direct bool) *asio.Time {
			flags = ti.TimeInfo.Flags
			return ti
		},
	}
	if _, err := h.CreateBuffers([]asio.ChannelRequest{{Input: true}}, 512, cb); err != nil {
		t.Fatal(err)
	}
	h.Start()
	drv.Step()
	drv.Step()

	if !drv.RequestReset() || resets != 1 {
		t.Errorf("reset request not delivered (resets=%d)", resets)
	}
	if drv.ChangeLatencies(1024, 1024) {
		t.Error("LatenciesChanged delivered although the host does not support it")
	}
	if !drv.InjectOverload() || overload != 1 {
		t.Error("overload not delivered")
	}

	drv.ChangeSampleRate(48000)
	drv.Step()
	if rate != 48000 || !flags.Has(asio.SampleRateChanged) {
		t.Errorf("rate = %v, flags = %v", rate, flags)
	}
	drv.Step()
	if flags.Has(asio.SampleRateChanged) {
		t.Error("SampleRateChanged flag stuck")
	}

	if !drv.RequestResync() {
		t.Error("resync not delivered")
	}
	drv.Step()
	if got := h.Stats().PositionRegressions; got != 0 {
		t.Errorf("announced resync counted as %d regressions", got)
	}

	drv.Stall(true)
	before, _, _ := h.SamplePosition()
	if drv.Step() {
		t.Error("stalled driver switched")
	}
	after, _, _ := h.SamplePosition()
	if before != after {
		t.Error("stalled driver advanced")
	}
}

func TestInitRefused(t *testing.T) {
	cfg := simdriver.DefaultConfig()
	cfg.RefuseInit = true
	drv := simdriver.New(cfg)
	h, err := asio.Activate(simID, asio.ActivatorFunc(func(uuid.UUID) (asio.Driver, error) { return drv, nil }), nil)
	if err != nil {
		t.Fatal(err)
	}
	if h.Initialize(nil) {
		t.Fatal("Initialize() = true")
	}
	msg, _ := h.ErrorMessage()
	if msg == "" {
		t.Error("refusal left no error message")
	}
	if err := h.Teardown(); err != nil {
		t.Errorf("Teardown() after refused init = %v", err)
	}
}

func TestUnknownIdentifier(t *testing.T) {
	platform := asio.NewRefCountedPlatform(nil, nil)
	activator := asio.ActivatorFunc(func(uuid.UUID) (asio.Driver, error) {
		return nil, asio.ErrDriverNotFound
	})
	if _, err := asio.Activate(uuid.New(), activator, platform); !errors.Is(err, asio.ErrDriverNotFound) {
		t.Errorf("Activate() error = %v, want ErrDriverNotFound", err)
	}
	if platform.Refs() != 0 {
		t.Error("platform held after failed activation")
	}
}
