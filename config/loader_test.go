package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FallsBackWhenNoFiles(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("RELAY_NUMBER", "+15551111")
	os.Setenv("RELAY_WS_URL", "wss://relay")
	os.Setenv("RELAY_SIGNALING_KEY_PATH", "/tmp/k")
	defer os.Unsetenv("RELAY_NUMBER")
	defer os.Unsetenv("RELAY_WS_URL")
	defer os.Unsetenv("RELAY_SIGNALING_KEY_PATH")

	cfg, err := Load(LoaderOptions{ConfigDir: dir, EnvFile: ""})
	require.NoError(t, err)
	assert.Equal(t, "+15551111", cfg.Receiver.Number)
	assert.Equal(t, "wss://relay", cfg.Receiver.RelayWSURL)
}

func TestLoad_PrefersEnvironmentSpecificFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staging.yaml"), []byte(`
receiver:
  relay_ws_url: wss://staging
  number: "+1555"
  signaling_key_path: /tmp/k
`), 0644))

	cfg, err := Load(LoaderOptions{ConfigDir: dir, Environment: "staging", EnvFile: ""})
	require.NoError(t, err)
	assert.Equal(t, "wss://staging", cfg.Receiver.RelayWSURL)
}

func TestLoad_ValidationFailsWithoutRequiredFields(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(LoaderOptions{ConfigDir: dir, EnvFile: ""})
	assert.Error(t, err)
}

func TestLoad_SkipValidation(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(LoaderOptions{ConfigDir: dir, EnvFile: "", SkipValidation: true})
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
}

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(&Config{}))
	assert.Error(t, Validate(&Config{Receiver: &ReceiverConfig{RelayWSURL: "wss://x"}}))

	valid := &Config{Receiver: &ReceiverConfig{
		RelayWSURL:       "wss://x",
		Number:           "+1555",
		SignalingKeyPath: "/tmp/k",
	}}
	assert.NoError(t, Validate(valid))
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	dir := t.TempDir()
	assert.Panics(t, func() {
		MustLoad(LoaderOptions{ConfigDir: dir, EnvFile: ""})
	})
}
