// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	applog "asiohost/internal/log"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file specified by path. If path
// is empty, it looks for "config.yaml" in the working directory and falls
// back to built-in defaults. Environment overrides are applied last, then
// the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the engine cannot honour.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q is not a level", c.LogLevel))
	}
	if c.Driver.Name == "" {
		errs = append(errs, errors.New("driver.name must be set"))
	}

	a := c.Audio
	if a.SampleRate != 0 && (a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %.0f outside %d..%d", a.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if a.BufferSize < 0 || a.BufferSize > MaxBufferFrames {
		errs = append(errs, fmt.Errorf("audio.buffer_size %d outside 0..%d", a.BufferSize, MaxBufferFrames))
	}
	if a.MaxInputs < -1 || a.MaxOutputs < -1 {
		errs = append(errs, errors.New("audio.max_inputs and audio.max_outputs must be -1 or more"))
	}
	switch a.OutputSignal {
	case SignalSilence, SignalSine, SignalNoise:
	default:
		errs = append(errs, fmt.Errorf("audio.output_signal %q is not one of silence, sine, noise", a.OutputSignal))
	}
	if a.OutputSignal == SignalSine && a.ToneHz <= 0 {
		errs = append(errs, errors.New("audio.tone_hz must be positive"))
	}
	if a.ToneGain < 0 || a.ToneGain > 1 {
		errs = append(errs, fmt.Errorf("audio.tone_gain %.2f outside 0..1", a.ToneGain))
	}

	if r := c.Recording; r.Enabled {
		if r.OutputDir == "" {
			errs = append(errs, errors.New("recording.output_dir must be set when recording is enabled"))
		}
		switch r.BitDepth {
		case 16, 24, 32:
		default:
			errs = append(errs, fmt.Errorf("recording.bit_depth %d is not 16, 24 or 32", r.BitDepth))
		}
		if r.MaxDuration < 0 {
			errs = append(errs, errors.New("recording.max_duration_seconds must not be negative"))
		}
	}

	if t := c.Transport; t.UDPEnabled {
		if _, _, err := net.SplitHostPort(t.UDPTargetAddress); err != nil {
			errs = append(errs, fmt.Errorf("transport.udp_target_address %q: %w", t.UDPTargetAddress, err))
		}
		if t.UDPSendInterval <= 0 {
			errs = append(errs, errors.New("transport.udp_send_interval must be positive when UDP is enabled"))
		}
	}

	if w := c.Watchdog; w.Interval < 0 || w.StallAfter < 0 || (w.Interval > 0 && w.StallAfter < w.Interval) {
		errs = append(errs, errors.New("watchdog.stall_after must be at least watchdog.interval"))
	}

	return errors.Join(errs...)
}

// applyEnvOverrides applies ENV_* variables on top of the loaded values.
// Unparseable values are ignored.
func (cfg *Config) applyEnvOverrides() {
	log := applog.For("config")

	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			log.Debugf("overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		log.Debugf("overriding log_level from env: %s", val)
	}

	// ENV_DRIVER, ENV_SAMPLE_RATE, ENV_BUFFER_SIZE
	// These select and shape the stream.

	if val, ok := os.LookupEnv("ENV_DRIVER"); ok && val != "" {
		cfg.Driver.Name = val
		log.Debugf("overriding driver.name from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_SAMPLE_RATE"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Audio.SampleRate = fVal
			log.Debugf("overriding audio.sample_rate from env: %.0f", fVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_BUFFER_SIZE"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			cfg.Audio.BufferSize = iVal
			log.Debugf("overriding audio.buffer_size from env: %d", iVal)
		}
	}

	// ENV_WS_ADDR, ENV_UDP_{...}
	// These are specific to the transport layer.

	if val, ok := os.LookupEnv("ENV_WS_ADDR"); ok {
		cfg.Transport.WebSocketAddr = val
		log.Debugf("overriding transport.websocket_addr from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			log.Debugf("overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		log.Debugf("overriding transport.udp_target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			log.Debugf("overriding transport.udp_send_interval from env: %s", dur)
		}
	}
}
