// SPDX-License-Identifier: MIT
package registry

import (
	"fmt"
	"strings"

	"asiohost/internal/asio"
	"asiohost/internal/padriver"
	"asiohost/internal/simdriver"

	"github.com/spf13/viper"
)

// Built-in backend names.
const (
	BackendSim       = "sim"
	BackendPortAudio = "portaudio"
)

// DefaultBackends returns the backends compiled into the host.
func DefaultBackends() map[string]Backend {
	return map[string]Backend{
		BackendSim:       {New: newSim},
		BackendPortAudio: {New: newPortAudio, Platform: padriver.Platform()},
	}
}

var sampleTypes = map[string]asio.SampleType{
	"float32": asio.SampleTypeFloat32LSB,
	"int32":   asio.SampleTypeInt32LSB,
	"int24":   asio.SampleTypeInt32LSB24,
}

func newSim(e Entry, o *viper.Viper) (asio.Driver, error) {
	cfg := simdriver.DefaultConfig()
	cfg.Name = e.Name
	if o.IsSet("inputs") {
		cfg.Inputs = o.GetInt32("inputs")
	}
	if o.IsSet("outputs") {
		cfg.Outputs = o.GetInt32("outputs")
	}
	if o.IsSet("sample_type") {
		st, ok := sampleTypes[strings.ToLower(o.GetString("sample_type"))]
		if !ok {
			return nil, fmt.Errorf("unknown sample_type %q", o.GetString("sample_type"))
		}
		cfg.SampleType = st
	}
	if o.IsSet("rates") {
		cfg.Rates = cfg.Rates[:0:0]
		for _, r := range o.GetIntSlice("rates") {
			cfg.Rates = append(cfg.Rates, asio.SampleRate(r))
		}
		cfg.Rate = 0
	}
	if o.IsSet("rate") {
		cfg.Rate = asio.SampleRate(o.GetFloat64("rate"))
	}
	if o.IsSet("buffer") {
		cfg.MinBuffer = o.GetInt32("buffer.min")
		cfg.MaxBuffer = o.GetInt32("buffer.max")
		cfg.PreferredBuffer = o.GetInt32("buffer.preferred")
		cfg.Granularity = o.GetInt32("buffer.granularity")
	}
	if o.IsSet("clock_sources") {
		cfg.ClockSources = o.GetStringSlice("clock_sources")
	}
	if o.IsSet("tone_hz") {
		cfg.ToneHz = o.GetFloat64("tone_hz")
	}
	if o.IsSet("time_code") {
		cfg.Capabilities.TimeCode = o.GetBool("time_code")
	}
	if o.IsSet("time_info") {
		cfg.Capabilities.TimeInfo = o.GetBool("time_info")
	}
	cfg.FreeRun = !o.IsSet("free_run") || o.GetBool("free_run")
	if cfg.Inputs < 0 || cfg.Outputs < 0 {
		return nil, fmt.Errorf("negative channel count %d/%d", cfg.Inputs, cfg.Outputs)
	}
	return simdriver.New(cfg), nil
}

func newPortAudio(e Entry, o *viper.Viper) (asio.Driver, error) {
	return padriver.New(padriver.Config{
		Name:            e.Name,
		PreferredBuffer: o.GetInt32("preferred_buffer"),
		MaxChannels:     o.GetInt32("max_channels"),
		LowLatency:      o.GetBool("low_latency"),
	}), nil
}
