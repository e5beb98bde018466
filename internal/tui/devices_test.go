// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"strings"
	"testing"

	"asiohost/internal/asio"
	"asiohost/internal/engine"
	"asiohost/internal/registry"

	tea "github.com/charmbracelet/bubbletea"
)

func testModel(t *testing.T, probe ProbeFunc) DriverListModel {
	t.Helper()
	reg, err := registry.New(registry.DefaultEntries(), nil)
	if err != nil {
		t.Fatal(err)
	}
	m := NewDriverListModel(reg, probe)
	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 40})
	return update(t, m, m.Init()())
}

func update(t *testing.T, m DriverListModel, msg tea.Msg) DriverListModel {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(DriverListModel)
}

func TestListNavigation(t *testing.T) {
	m := testModel(t, nil)
	if len(m.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(m.entries))
	}
	if !strings.Contains(m.View(), "Simulated Device") {
		t.Errorf("view lacks the first driver:\n%s", m.View())
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if m.selectedIndex != 1 {
		t.Errorf("selected = %d, want 1", m.selectedIndex)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	if m.selectedIndex != 0 {
		t.Errorf("selected = %d, want 0", m.selectedIndex)
	}
}

func TestProbeScreen(t *testing.T) {
	var probed string
	probe := func(ref string) (engine.Report, error) {
		probed = ref
		return engine.Report{
			Driver:     "Fake",
			SampleRate: 48000,
			Rates:      []asio.SampleRate{44100, 48000, 96000},
		}, nil
	}
	m := testModel(t, probe)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(DriverListModel)
	if !m.probing || cmd == nil {
		t.Fatal("Enter did not start a probe")
	}
	m = update(t, m, m.probeSelected()())
	if probed != registry.SimDriverID.String() {
		t.Errorf("probed %q", probed)
	}
	if m.activeScreen != ReportScreen || m.rateIndex != 1 {
		t.Errorf("screen %d, rate cursor %d", m.activeScreen, m.rateIndex)
	}
	if !strings.Contains(m.View(), "Fake (version 0)") {
		t.Errorf("report not shown:\n%s", m.View())
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if m.rateIndex != 2 {
		t.Errorf("rate cursor = %d, want 2", m.rateIndex)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.activeScreen != ListScreen {
		t.Error("Esc did not return to the list")
	}
}

func TestProbeFailure(t *testing.T) {
	m := testModel(t, func(string) (engine.Report, error) {
		return engine.Report{}, errors.New("device unplugged")
	})
	m = update(t, m, m.probeSelected()())
	if !strings.Contains(m.View(), "device unplugged") {
		t.Errorf("error not shown:\n%s", m.View())
	}
}

func TestQuit(t *testing.T) {
	m := testModel(t, nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
