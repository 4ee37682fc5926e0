package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("RELAY_TEST_VAR", "hello")
	defer os.Unsetenv("RELAY_TEST_VAR")

	assert.Equal(t, "hello world", SubstituteEnvVars("${RELAY_TEST_VAR} world"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${RELAY_TEST_MISSING:fallback}"))
	assert.Equal(t, "", SubstituteEnvVars("${RELAY_TEST_MISSING}"))
}

func TestSubstituteEnvVarsInConfig(t *testing.T) {
	os.Setenv("RELAY_TEST_NUMBER", "+15559999")
	defer os.Unsetenv("RELAY_TEST_NUMBER")

	cfg := &Config{
		Receiver: &ReceiverConfig{Number: "${RELAY_TEST_NUMBER}"},
	}
	SubstituteEnvVarsInConfig(cfg)
	assert.Equal(t, "+15559999", cfg.Receiver.Number)
}

func TestSubstituteEnvVarsInConfig_Nil(t *testing.T) {
	assert.NotPanics(t, func() {
		SubstituteEnvVarsInConfig(nil)
	})
}

func TestGetEnvironment(t *testing.T) {
	os.Unsetenv("RELAY_ENV")
	os.Unsetenv("ENVIRONMENT")
	assert.Equal(t, "development", GetEnvironment())

	os.Setenv("RELAY_ENV", "Production")
	defer os.Unsetenv("RELAY_ENV")
	assert.Equal(t, "production", GetEnvironment())
	assert.True(t, IsProduction())
	assert.False(t, IsDevelopment())
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	os.Setenv("RELAY_NUMBER", "+15550000")
	os.Setenv("RELAY_DEVICE_ID", "7")
	defer os.Unsetenv("RELAY_NUMBER")
	defer os.Unsetenv("RELAY_DEVICE_ID")

	cfg := &Config{Receiver: &ReceiverConfig{}}
	applyEnvironmentOverrides(cfg)

	assert.Equal(t, "+15550000", cfg.Receiver.Number)
	assert.Equal(t, uint32(7), cfg.Receiver.DeviceID)
}
