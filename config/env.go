// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig recursively substitutes environment variables
// in the string fields of cfg.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Receiver != nil {
		cfg.Receiver.RelayWSURL = SubstituteEnvVars(cfg.Receiver.RelayWSURL)
		cfg.Receiver.RelayHTTPURL = SubstituteEnvVars(cfg.Receiver.RelayHTTPURL)
		cfg.Receiver.Number = SubstituteEnvVars(cfg.Receiver.Number)
		cfg.Receiver.Password = SubstituteEnvVars(cfg.Receiver.Password)
		cfg.Receiver.SignalingKeyPath = SubstituteEnvVars(cfg.Receiver.SignalingKeyPath)
		cfg.Receiver.KeepAlive.Path = SubstituteEnvVars(cfg.Receiver.KeepAlive.Path)
	}

	if cfg.Logging != nil {
		cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
		cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
		cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
	}

	if cfg.Metrics != nil {
		cfg.Metrics.Addr = SubstituteEnvVars(cfg.Metrics.Addr)
		cfg.Metrics.Path = SubstituteEnvVars(cfg.Metrics.Path)
	}
}

// GetEnvironment returns the current environment from RELAY_ENV or
// ENVIRONMENT, defaulting to "development".
func GetEnvironment() string {
	env := os.Getenv("RELAY_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment returns true if running in development or local environment
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}

// applyEnvironmentOverrides overrides config fields with environment
// variables, which take priority over file contents.
func applyEnvironmentOverrides(cfg *Config) {
	if cfg.Receiver != nil {
		if v := os.Getenv("RELAY_WS_URL"); v != "" {
			cfg.Receiver.RelayWSURL = v
		}
		if v := os.Getenv("RELAY_HTTP_URL"); v != "" {
			cfg.Receiver.RelayHTTPURL = v
		}
		if v := os.Getenv("RELAY_NUMBER"); v != "" {
			cfg.Receiver.Number = v
		}
		if v := os.Getenv("RELAY_DEVICE_ID"); v != "" {
			if id, err := strconv.ParseUint(v, 10, 32); err == nil {
				cfg.Receiver.DeviceID = uint32(id)
			}
		}
		if v := os.Getenv("RELAY_PASSWORD"); v != "" {
			cfg.Receiver.Password = v
		}
		if v := os.Getenv("RELAY_SIGNALING_KEY_PATH"); v != "" {
			cfg.Receiver.SignalingKeyPath = v
		}
	}

	if cfg.Logging != nil {
		if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
			cfg.Logging.Level = v
		}
		if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
			cfg.Logging.Format = v
		}
	}

	if cfg.Metrics != nil {
		switch os.Getenv("RELAY_METRICS_ENABLED") {
		case "true":
			cfg.Metrics.Enabled = true
		case "false":
			cfg.Metrics.Enabled = false
		}
	}
}
