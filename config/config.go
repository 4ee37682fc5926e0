// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads and validates the configuration a receiver needs to
// reach the relay and identify itself: the transport endpoints, the
// account's number and device id, signaling key material, and the ambient
// logging/metrics knobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure loaded from file.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Receiver    *ReceiverConfig `yaml:"receiver" json:"receiver"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// ReceiverConfig carries everything the receive pipeline needs to connect
// to a relay, authenticate, and derive the keys that open incoming
// envelopes.
type ReceiverConfig struct {
	// RelayWSURL is the websocket endpoint the frame transport dials,
	// e.g. "wss://relay.example.org/v1/websocket".
	RelayWSURL string `yaml:"relay_ws_url" json:"relay_ws_url"`
	// RelayHTTPURL is the base URL for the relay's HTTP side channel
	// (reachability probes, attachment fetches).
	RelayHTTPURL string `yaml:"relay_http_url" json:"relay_http_url"`

	// Number is the account's phone-number-shaped identifier.
	Number string `yaml:"number" json:"number"`
	// DeviceID identifies this device among the account's linked devices.
	DeviceID uint32 `yaml:"device_id" json:"device_id"`
	// Password is the HTTP Basic credential paired with Number+DeviceID.
	Password string `yaml:"password" json:"password"`

	// SignalingKeyPath points at a file holding the 52-byte signaling
	// key (32 bytes AES key || 20 bytes HMAC key), base64 or raw.
	SignalingKeyPath string `yaml:"signaling_key_path" json:"signaling_key_path"`

	KeepAlive KeepAliveConfig `yaml:"keepalive" json:"keepalive"`
}

// KeepAliveConfig overrides the keep-alive timing defaults.
type KeepAliveConfig struct {
	Path            string        `yaml:"path" json:"path"`
	Interval        time.Duration `yaml:"interval" json:"interval"`
	AckTimeout      time.Duration `yaml:"ack_timeout" json:"ack_timeout"`
	DisablePeriodic bool          `yaml:"disable_periodic" json:"disable_periodic"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML (or, failing that, JSON)
// file, then fills in defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile writes configuration to path, choosing the format by its
// extension (".json" for JSON, anything else for YAML).
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills the zero-valued fields a receiver needs to come up
// cleanly without a fully-specified config file.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Receiver == nil {
		cfg.Receiver = &ReceiverConfig{}
	}
	if cfg.Receiver.KeepAlive.Path == "" {
		cfg.Receiver.KeepAlive.Path = "/v1/keepalive"
	}
	if cfg.Receiver.KeepAlive.Interval == 0 {
		cfg.Receiver.KeepAlive.Interval = 55 * time.Second
	}
	if cfg.Receiver.KeepAlive.AckTimeout == 0 {
		cfg.Receiver.KeepAlive.AckTimeout = 10 * time.Second
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
