package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Version, cfg.Version)
	assert.False(t, cfg.ChangeLog.Instant)
	assert.True(t, cfg.WAL.Enabled)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
version = 1

[device]
vendor_id = "0x3297"
product_id = "0x4976"
exchange_timeout_ms = 250

[changelog]
instant = true

[logging]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0x3297", cfg.Device.VendorID)
	assert.Equal(t, 250, cfg.Device.ExchangeTimeoutMs)
	assert.True(t, cfg.ChangeLog.Instant)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset sections keep defaults.
	assert.Equal(t, 5000, cfg.Storage.BusyTimeoutMs)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
device:
  vendor_id: "0x1234"
ipc:
  request_timeout_sec: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0x1234", cfg.Device.VendorID)
	assert.Equal(t, 10, cfg.IPC.RequestTimeoutSec)
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"device": {"mock": true}, "metrics": {"enabled": true, "listen_addr": "127.0.0.1:9999"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Device.Mock)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestValidationAccumulates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.VendorID = "not-hex"
	cfg.Device.ExchangeTimeoutMs = 0
	cfg.Logging.Level = "chatty"
	cfg.IPC.SocketPath = ""

	err := cfg.Validate()
	require.Error(t, err)

	verrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	assert.Len(t, verrs, 4)

	fields := make([]string, len(verrs))
	for i, e := range verrs {
		fields[i] = e.Field
	}
	assert.Contains(t, fields, "device.vendor_id")
	assert.Contains(t, fields, "logging.level")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KEYMAPD_LOG_LEVEL", "debug")
	t.Setenv("KEYMAPD_MOCK", "true")
	t.Setenv("KEYMAPD_INSTANT", "1")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Device.Mock)
	assert.True(t, cfg.ChangeLog.Instant)
}

func TestParseUSBID(t *testing.T) {
	v, ok, err := ParseUSBID("0x3297")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint16(0x3297), v)

	v, ok, err = ParseUSBID("4976")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint16(0x4976), v)

	_, ok, err = ParseUSBID("")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseUSBID("zz")
	assert.Error(t, err)

	_, _, err = ParseUSBID("0x12345")
	assert.Error(t, err)
}

func TestLoadMissingDefaultPath(t *testing.T) {
	t.Setenv("KEYMAPD_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Version, cfg.Version)
}
