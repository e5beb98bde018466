// SPDX-License-Identifier: MIT
//
// Package tui is an interactive browser for the installed drivers. The list
// screen shows the registry; Enter probes the selected driver and shows what
// it reports.
package tui

import (
	"fmt"
	"strings"

	"asiohost/internal/engine"
	"asiohost/internal/registry"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E0475B"))
)

// ScreenType defines which screen is currently active
type ScreenType int

const (
	ListScreen ScreenType = iota
	ReportScreen
)

type keyMap struct {
	Quit, Up, Down, Probe, Back key.Binding
}

var keys = keyMap{
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c")),
	Up:    key.NewBinding(key.WithKeys("up", "k")),
	Down:  key.NewBinding(key.WithKeys("down", "j")),
	Probe: key.NewBinding(key.WithKeys("enter")),
	Back:  key.NewBinding(key.WithKeys("esc")),
}

// ProbeFunc opens a driver by registry reference and describes it.
type ProbeFunc func(ref string) (engine.Report, error)

// DriverListModel is the Bubble Tea model of the driver browser.
type DriverListModel struct {
	reg           *registry.Registry
	probe         ProbeFunc
	entries       []registry.Entry
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	activeScreen  ScreenType

	probing  bool
	report   *engine.Report
	probeErr error

	// Rate cursor on the report screen.
	rateIndex int
}

type entriesMsg struct {
	entries []registry.Entry
}

type reportMsg struct {
	report engine.Report
	err    error
}

// NewDriverListModel creates a browser over reg. A nil probe uses
// engine.Probe.
func NewDriverListModel(reg *registry.Registry, probe ProbeFunc) DriverListModel {
	if probe == nil {
		probe = func(ref string) (engine.Report, error) { return engine.Probe(reg, ref) }
	}
	return DriverListModel{
		reg:          reg,
		probe:        probe,
		activeScreen: ListScreen,
	}
}

func (m DriverListModel) Init() tea.Cmd {
	reg := m.reg
	return func() tea.Msg {
		return entriesMsg{reg.Entries()}
	}
}

func (m DriverListModel) probeSelected() tea.Cmd {
	probe, ref := m.probe, m.entries[m.selectedIndex].ID.String()
	return func() tea.Msg {
		r, err := probe(ref)
		return reportMsg{r, err}
	}
}

func (m DriverListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case entriesMsg:
		m.entries = msg.entries
		m.refresh()

	case reportMsg:
		m.probing = false
		m.report, m.probeErr = nil, msg.err
		if msg.err == nil {
			r := msg.report
			m.report = &r
			m.rateIndex = 0
			for i, rate := range r.Rates {
				if rate == r.SampleRate {
					m.rateIndex = i
				}
			}
		}
		m.activeScreen = ReportScreen
		m.refresh()

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
		switch m.activeScreen {
		case ListScreen:
			switch {
			case key.Matches(msg, keys.Up):
				if m.selectedIndex > 0 {
					m.selectedIndex--
				}
			case key.Matches(msg, keys.Down):
				if m.selectedIndex < len(m.entries)-1 {
					m.selectedIndex++
				}
			case key.Matches(msg, keys.Probe):
				if len(m.entries) > 0 && !m.probing {
					m.probing = true
					cmds = append(cmds, m.probeSelected())
				}
			}
		case ReportScreen:
			switch {
			case key.Matches(msg, keys.Back):
				m.activeScreen = ListScreen
			case key.Matches(msg, keys.Up):
				if m.rateIndex > 0 {
					m.rateIndex--
				}
			case key.Matches(msg, keys.Down):
				if m.report != nil && m.rateIndex < len(m.report.Rates)-1 {
					m.rateIndex++
				}
			}
		}
		m.refresh()
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *DriverListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ReportScreen {
		m.viewport.SetContent(m.renderReport())
	} else {
		m.viewport.SetContent(m.renderEntries())
	}
}

func (m DriverListModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Installed Drivers")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Probe • q: Quit")
	} else {
		title = titleStyle.Render("Driver Report")
		help = infoStyle.Render("↑/↓: Sample Rate • Esc: Back • q: Quit")
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DriverListModel) renderEntries() string {
	if len(m.entries) == 0 {
		return "No drivers registered."
	}

	var sb strings.Builder
	for i, e := range m.entries {
		line := fmt.Sprintf("[%d] %s\n    %s, backend %s\n", i, e.Name, e.ID, e.Backend)
		if i == m.selectedIndex {
			if m.probing {
				line += "    probing...\n"
			}
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m DriverListModel) renderReport() string {
	if m.probeErr != nil {
		return errorStyle.Render(fmt.Sprintf("Probe failed: %v", m.probeErr))
	}
	if m.report == nil {
		return ""
	}

	var sb strings.Builder
	if err := m.report.Write(&sb); err != nil {
		return errorStyle.Render(err.Error())
	}
	sb.WriteString("\nSample Rate:\n")
	for i, rate := range m.report.Rates {
		marker := " "
		if i == m.rateIndex {
			marker = "▶"
		}
		line := fmt.Sprintf("  %s %.0f Hz\n", marker, float64(rate))
		if i == m.rateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// StartDriverListUI launches the driver browser.
func StartDriverListUI(reg *registry.Registry) error {
	p := tea.NewProgram(
		NewDriverListModel(reg, nil),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	return err
}
