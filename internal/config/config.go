// SPDX-License-Identifier: MIT
package config

import "time"

// Boundaries and defaults for the host.
const (
	DefaultLogLevel     = "info"
	DefaultDriver       = "Simulated Device" // registry name or clsid
	DefaultSampleRate   = 0                  // keep the driver's current rate
	DefaultBufferSize   = 0                  // use the driver's preferred size
	DefaultOutputSignal = SignalSilence
	DefaultToneHz       = 440
	DefaultToneGain     = 0.25
	DefaultBitDepth     = 24
	DefaultWSAddr       = "127.0.0.1:8080"

	MinSampleRate   = 8000   // Hz
	MaxSampleRate   = 384000 // Hz
	MaxBufferFrames = 8192
)

// Output signals the engine can write to its output channels.
const (
	SignalSilence = "silence"
	SignalSine    = "sine"
	SignalNoise   = "noise"
)

// Config represents the main application configuration, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug logging.
	LogLevel  string          `yaml:"log_level"` // "debug", "info", "warn" or "error".
	Driver    DriverConfig    `yaml:"driver"`
	Audio     AudioConfig     `yaml:"audio"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
}

// DriverConfig selects the driver to open.
type DriverConfig struct {
	Name     string `yaml:"name"`     // Registry name or clsid.
	Registry string `yaml:"registry"` // Path of the driver registry document, empty for the built-in one.
}

// AudioConfig holds the stream parameters the engine negotiates.
type AudioConfig struct {
	SampleRate   float64 `yaml:"sample_rate"`   // 0 keeps the driver's current rate.
	BufferSize   int     `yaml:"buffer_size"`   // 0 uses the driver's preferred size.
	MaxInputs    int     `yaml:"max_inputs"`    // -1 for all inputs.
	MaxOutputs   int     `yaml:"max_outputs"`   // -1 for all outputs.
	TimeInfo     bool    `yaml:"time_info"`     // Negotiate time info callbacks.
	OutputSignal string  `yaml:"output_signal"` // silence, sine or noise.
	ToneHz       float64 `yaml:"tone_hz"`
	ToneGain     float64 `yaml:"tone_gain"`
}

// RecordingConfig holds settings for capturing the inputs to WAV.
type RecordingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	OutputDir   string `yaml:"output_dir"`
	BitDepth    int    `yaml:"bit_depth"`            // 16, 24 or 32.
	MaxDuration int    `yaml:"max_duration_seconds"` // 0 for unlimited.
}

// TransportConfig holds settings for publishing meters and events.
type TransportConfig struct {
	WebSocketAddr    string        `yaml:"websocket_addr"` // Empty disables the WebSocket server.
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// WatchdogConfig controls the sample position watchdog.
type WatchdogConfig struct {
	Interval   time.Duration `yaml:"interval"`    // 0 disables the watchdog.
	StallAfter time.Duration `yaml:"stall_after"` // Position unchanged for this long counts as a stall.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		Driver: DriverConfig{
			Name: DefaultDriver,
		},
		Audio: AudioConfig{
			SampleRate:   DefaultSampleRate,
			BufferSize:   DefaultBufferSize,
			MaxInputs:    -1,
			MaxOutputs:   -1,
			TimeInfo:     true,
			OutputSignal: DefaultOutputSignal,
			ToneHz:       DefaultToneHz,
			ToneGain:     DefaultToneGain,
		},
		Recording: RecordingConfig{
			OutputDir: "./recordings",
			BitDepth:  DefaultBitDepth,
		},
		Transport: TransportConfig{
			WebSocketAddr:    DefaultWSAddr,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  33 * time.Millisecond,
		},
		Watchdog: WatchdogConfig{
			Interval:   250 * time.Millisecond,
			StallAfter: time.Second,
		},
	}
}
