/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config holds SystemConfig (component I): the servo, filter,
// network, NTP, and logging tunables loaded from a YAML file, with
// platform-specific defaults for the filter section.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// ServoConfig holds the PI servo's tunables.
type ServoConfig struct {
	KP             float64 `yaml:"kp"`
	KI             float64 `yaml:"ki"`
	MaxFreqAdjPPM  float64 `yaml:"max_freq_adj_ppm"`
	MaxIntegralPPM float64 `yaml:"max_integral_ppm"`
}

// FiltersConfig holds the controller's pair-validation and pre-filter
// tunables. Defaults differ by whether the platform gives kernel or
// user-space receive timestamps; see DefaultConfig.
type FiltersConfig struct {
	SampleWindowSize   int           `yaml:"sample_window_size"`
	MinDeltaNS         int64         `yaml:"min_delta_ns"`
	CalibrationSamples int           `yaml:"calibration_samples"`
	WarmupSecs         time.Duration `yaml:"warmup_secs"`
}

// NetworkConfig selects the receive transport backend and interface.
type NetworkConfig struct {
	Interface string `yaml:"interface"`
	Backend   string `yaml:"backend"` // "bsd" or "pcap"
}

// NTPConfig configures the secondary absolute-time source.
type NTPConfig struct {
	Server        string        `yaml:"server"`
	QueryPeriod   time.Duration `yaml:"query_period"`
	StepThreshold time.Duration `yaml:"step_threshold"`
	Timeout       time.Duration `yaml:"timeout"`
}

// LoggingConfig is the ambient logging section every teacher daemon's
// config carries.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	ReportCaller bool   `yaml:"report_caller"`
}

// ControllerConfig holds the state-machine tunables that aren't part of
// the servo or filters.
type ControllerConfig struct {
	SettlingThreshold int           `yaml:"settling_threshold"`
	StepThresholdNS   int64         `yaml:"step_threshold_ns"`
	RTCUpdatePeriod   time.Duration `yaml:"rtc_update_period"`
}

// StatusIPCConfig configures the Unix-domain-socket status publisher.
type StatusIPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// DiagConfig configures the diagnostic UDP server.
type DiagConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MetricsConfig configures the Prometheus HTTP exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// NTPServerConfig configures the optional NTP responder.
type NTPServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Workers int    `yaml:"workers"`
	Stratum uint8  `yaml:"stratum"`
}

// SystemConfig is the serializable record of every tunable this daemon
// needs (component I), plus the ambient sections every teacher daemon's
// config carries (network, logging).
type SystemConfig struct {
	Servo      ServoConfig       `yaml:"servo"`
	Filters    FiltersConfig     `yaml:"filters"`
	Controller ControllerConfig  `yaml:"controller"`
	Network    NetworkConfig     `yaml:"network"`
	NTP        NTPConfig         `yaml:"ntp"`
	StatusIPC  StatusIPCConfig   `yaml:"status_ipc"`
	Diag       DiagConfig        `yaml:"diag"`
	NTPServer  NTPServerConfig   `yaml:"ntp_server"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// kernelTimestampingPlatforms lists GOOS values where the bsd transport
// backend's SO_TIMESTAMPING control message is reliably available, per
// spec.md §4.I.
var kernelTimestampingPlatforms = map[string]bool{
	"linux": true,
}

// DefaultConfig returns a SystemConfig with the LAN-default servo gains
// and the filter defaults appropriate for runtime.GOOS, per spec.md
// §4.I: kernel-timestamping platforms get a tight 4-sample window and a
// 1ms plausibility floor; user-space-timestamping platforms get a wider
// 16-sample window, a zero plausibility floor, and calibration samples,
// since their receive timestamps are noisier.
func DefaultConfig() *SystemConfig {
	cfg := &SystemConfig{
		Servo: ServoConfig{
			KP:             0.0005,
			KI:             0.00005,
			MaxFreqAdjPPM:  500,
			MaxIntegralPPM: 100,
		},
		Controller: ControllerConfig{
			SettlingThreshold: 1,
			StepThresholdNS:   1_000_000,
			RTCUpdatePeriod:   10 * time.Minute,
		},
		Network: NetworkConfig{
			Interface: "eth0",
			Backend:   "bsd",
		},
		NTP: NTPConfig{
			Server:        "pool.ntp.org",
			QueryPeriod:   time.Minute,
			StepThreshold: 50 * time.Millisecond,
			Timeout:       2 * time.Second,
		},
		StatusIPC: StatusIPCConfig{
			SocketPath: "/var/run/dantesyncd/status.sock",
		},
		Diag: DiagConfig{
			Enabled: true,
			Address: "0.0.0.0:31900",
		},
		NTPServer: NTPServerConfig{
			Enabled: false,
			Address: "0.0.0.0:123",
			Workers: 4,
			Stratum: 3,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "127.0.0.1:9290",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if kernelTimestampingPlatforms[runtime.GOOS] {
		cfg.Filters = FiltersConfig{
			SampleWindowSize:   4,
			MinDeltaNS:         1_000_000,
			CalibrationSamples: 0,
			WarmupSecs:         3 * time.Second,
		}
	} else {
		cfg.Filters = FiltersConfig{
			SampleWindowSize:   16,
			MinDeltaNS:         0,
			CalibrationSamples: 3,
			WarmupSecs:         3 * time.Second,
		}
	}
	return cfg
}

// ReadConfig loads a SystemConfig from path, starting from DefaultConfig
// so fields absent from the file keep their default, matching the
// teacher's ReadConfig convention.
func ReadConfig(path string) (*SystemConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the loaded config is internally consistent.
func (c *SystemConfig) Validate() error {
	if c.Servo.MaxFreqAdjPPM <= 0 {
		return fmt.Errorf("servo.max_freq_adj_ppm must be positive")
	}
	if c.Servo.MaxIntegralPPM <= 0 {
		return fmt.Errorf("servo.max_integral_ppm must be positive")
	}
	if c.Filters.SampleWindowSize <= 0 {
		return fmt.Errorf("filters.sample_window_size must be positive")
	}
	if c.Filters.MinDeltaNS < 0 {
		return fmt.Errorf("filters.min_delta_ns must be 0 or positive")
	}
	if c.Controller.SettlingThreshold <= 0 {
		return fmt.Errorf("controller.settling_threshold must be positive")
	}
	if c.Controller.StepThresholdNS <= 0 {
		return fmt.Errorf("controller.step_threshold_ns must be positive")
	}
	if c.Network.Backend != "bsd" && c.Network.Backend != "pcap" {
		return fmt.Errorf("network.backend must be %q or %q", "bsd", "pcap")
	}
	if c.Network.Interface == "" {
		return fmt.Errorf("network.interface must be set")
	}
	if c.NTP.Server == "" {
		return fmt.Errorf("ntp.server must be set")
	}
	if c.NTP.StepThreshold <= 0 {
		return fmt.Errorf("ntp.step_threshold must be positive")
	}
	if c.NTPServer.Enabled && c.NTPServer.Workers <= 0 {
		return fmt.Errorf("ntp_server.workers must be positive when enabled")
	}
	return nil
}
