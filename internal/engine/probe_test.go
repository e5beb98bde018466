// SPDX-License-Identifier: MIT
package engine

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"asiohost/internal/asio"
	"asiohost/internal/registry"
	"asiohost/internal/simdriver"

	"github.com/google/uuid"
)

func probeRegistry(t *testing.T, f *simFactory) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Entry{
		{Name: testDriver, ID: uuid.New(), Backend: registry.BackendSim},
	}, map[string]registry.Backend{
		registry.BackendSim: {New: f.new},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestProbe(t *testing.T) {
	cfg := simdriver.DefaultConfig()
	cfg.ClockSources = []string{"Internal", "ADAT"}
	f := &simFactory{cfg: cfg}

	r, err := Probe(probeRegistry(t, f), testDriver)
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if r.Entry.Name != testDriver || r.Driver != "Simulated Device" || r.Version != simdriver.Version {
		t.Errorf("driver = %q v%d", r.Driver, r.Version)
	}
	want := []asio.SampleRate{44100, 48000, 88200, 96000}
	if len(r.Rates) != len(want) {
		t.Fatalf("rates = %v, want %v", r.Rates, want)
	}
	for i := range want {
		if r.Rates[i] != want[i] {
			t.Errorf("rate %d = %v, want %v", i, r.Rates[i], want[i])
		}
	}
	if len(r.Inputs) != 2 || len(r.Outputs) != 2 || len(r.Clocks) != 2 {
		t.Errorf("%d inputs, %d outputs, %d clocks", len(r.Inputs), len(r.Outputs), len(r.Clocks))
	}
	if r.BufferRange.Preferred != 512 || r.InputLatency != 512 {
		t.Errorf("buffer range %s, input latency %d", r.BufferRange, r.InputLatency)
	}
	if !f.last().Released() {
		t.Error("probe left the driver alive")
	}

	var buf bytes.Buffer
	if err := r.Write(&buf); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"Simulated Device (version 2)", "44100, 48000, 88200, 96000", "* 0 Internal", "In 2", "Out 1"} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("report lacks %q:\n%s", s, buf.String())
		}
	}
}

func TestProbeErrors(t *testing.T) {
	refused := simdriver.DefaultConfig()
	refused.RefuseInit = true
	f := &simFactory{cfg: refused}
	reg := probeRegistry(t, f)

	if _, err := Probe(reg, "nothing"); !errors.Is(err, registry.ErrUnknownDriver) {
		t.Errorf("unknown driver error = %v", err)
	}
	_, err := Probe(reg, testDriver)
	if !errors.Is(err, ErrInitRefused) || !strings.Contains(err.Error(), "refused") {
		t.Errorf("refused init error = %v", err)
	}
	if !f.last().Released() {
		t.Error("refused driver not released")
	}
}
