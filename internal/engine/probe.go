// SPDX-License-Identifier: MIT
package engine

import (
	"fmt"
	"io"
	"strings"

	"asiohost/internal/asio"
	"asiohost/internal/registry"
)

// probeRates are the rates a probe asks the driver about.
var probeRates = []asio.SampleRate{
	8000, 11025, 16000, 22050, 32000, 44100, 48000,
	88200, 96000, 176400, 192000, 352800, 384000,
}

// Report describes a driver as seen from an initialized handle, before any
// buffers exist.
type Report struct {
	Entry         registry.Entry
	Driver        string
	Version       int32
	SampleRate    asio.SampleRate
	Rates         []asio.SampleRate // the probeRates the driver accepts
	BufferRange   asio.BufferSizeRange
	Inputs        []asio.ChannelInfo
	Outputs       []asio.ChannelInfo
	InputLatency  int32
	OutputLatency int32
	Clocks        []asio.ClockSource
	Capabilities  asio.Capabilities
}

// Probe opens the driver named by ref, reads everything it reports without
// creating buffers and tears it down again.
func Probe(reg *registry.Registry, ref string) (r Report, err error) {
	h, entry, err := reg.Open(ref)
	if err != nil {
		return r, fmt.Errorf("failed to open driver %q: %w", ref, err)
	}
	defer func() {
		if terr := h.Teardown(); terr != nil && err == nil {
			err = terr
		}
	}()
	r.Entry = entry

	if !h.Initialize(nil) {
		msg, _ := h.ErrorMessage()
		return r, fmt.Errorf("%w: %s: %s", ErrInitRefused, entry.Name, msg)
	}
	if r.Driver, err = h.DriverName(); err != nil {
		return r, err
	}
	if r.Version, err = h.DriverVersion(); err != nil {
		return r, err
	}
	if r.SampleRate, err = h.SampleRate(); err != nil {
		return r, err
	}
	for _, rate := range probeRates {
		if h.CanSampleRate(rate) == nil {
			r.Rates = append(r.Rates, rate)
		}
	}
	if r.BufferRange, err = h.BufferSize(); err != nil {
		return r, err
	}

	numIn, numOut, err := h.Channels()
	if err != nil {
		return r, err
	}
	for i := range numIn {
		info, err := h.ChannelInfo(i, true)
		if err != nil {
			return r, fmt.Errorf("input %d: %w", i, err)
		}
		r.Inputs = append(r.Inputs, info)
	}
	for i := range numOut {
		info, err := h.ChannelInfo(i, false)
		if err != nil {
			return r, fmt.Errorf("output %d: %w", i, err)
		}
		r.Outputs = append(r.Outputs, info)
	}

	// Some drivers only know their latencies once buffers exist.
	r.InputLatency, r.OutputLatency, _ = h.Latencies()

	clocks, err := h.ClockSources()
	if err != nil {
		return r, err
	}
	r.Clocks = append(r.Clocks, clocks.Slice()...)
	r.Capabilities = h.Capabilities()
	return r, nil
}

// Write prints the report as indented text.
func (r Report) Write(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (version %d)\n", r.Driver, r.Version)
	fmt.Fprintf(&sb, "  clsid:        %s\n", r.Entry.ID)
	fmt.Fprintf(&sb, "  backend:      %s\n", r.Entry.Backend)
	fmt.Fprintf(&sb, "  sample rate:  %.0f Hz\n", float64(r.SampleRate))

	rates := make([]string, len(r.Rates))
	for i, rate := range r.Rates {
		rates[i] = fmt.Sprintf("%.0f", float64(rate))
	}
	fmt.Fprintf(&sb, "  rates:        %s\n", strings.Join(rates, ", "))
	fmt.Fprintf(&sb, "  buffer sizes: %s\n", r.BufferRange)
	fmt.Fprintf(&sb, "  latency:      %d in / %d out samples\n", r.InputLatency, r.OutputLatency)
	fmt.Fprintf(&sb, "  capabilities: %s\n", r.Capabilities)

	fmt.Fprintf(&sb, "  clocks:\n")
	for _, c := range r.Clocks {
		mark := " "
		if c.IsCurrentSource.Bool() {
			mark = "*"
		}
		fmt.Fprintf(&sb, "    %s %d %s\n", mark, c.Index, c.Name.String())
	}

	writeChannels := func(title string, chans []asio.ChannelInfo) {
		fmt.Fprintf(&sb, "  %s (%d):\n", title, len(chans))
		for _, c := range chans {
			fmt.Fprintf(&sb, "    %2d %-24s %s group %d\n", c.Channel, c.Name.String(), c.SampleType, c.ChannelGroup)
		}
	}
	writeChannels("inputs", r.Inputs)
	writeChannels("outputs", r.Outputs)

	_, err := io.WriteString(w, sb.String())
	return err
}
