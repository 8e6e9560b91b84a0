package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileLogger(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "keymapd.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Format = FormatJSON
	cfg.Level = LevelDebug

	l, err := New(cfg)
	require.NoError(t, err)
	defer l.Close()

	l.Info("device attached", "vendor", "0x3297", "product", "0x4976")
	l.Debug("cell written", "addr", "key:0.1.2", "value", "KC_A")
	require.NoError(t, l.Sync())

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "device attached", lines[0]["msg"])
	assert.Equal(t, "keymapd", lines[0]["component"])
	assert.Equal(t, "0x3297", lines[0]["vendor"])
	assert.Equal(t, "cell written", lines[1]["msg"])
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "keymapd.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Level = LevelWarn

	l, err := New(cfg)
	require.NoError(t, err)
	defer l.Close()

	l.Debug("dropped")
	l.Info("dropped too")
	l.Warn("kept")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestWithComponent(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "keymapd.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Format = FormatJSON

	l, err := New(cfg)
	require.NoError(t, err)
	defer l.Close()

	l.WithComponent("changelog").Info("queued", "addr", "key:1.0.0")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"changelog"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"WARN", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"chatty", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "keymapd.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.MaxSize = 0 // every write exceeds the size budget
	cfg.MaxBackups = 2
	cfg.Compress = false

	rotator, err := NewFileRotator(cfg)
	require.NoError(t, err)
	defer rotator.Close()

	_, err = rotator.Write([]byte(strings.Repeat("x", 128) + "\n"))
	require.NoError(t, err)
	_, err = rotator.Write([]byte(strings.Repeat("y", 128) + "\n"))
	require.NoError(t, err)

	files, err := rotator.GetLogFiles()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(files), 2, "expected rotated files alongside the live log")
}

func TestRotationPrunesOldBackups(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "keymapd.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.MaxSize = 0 // every write exceeds the size budget
	cfg.MaxBackups = 1
	cfg.Compress = false

	rotator, err := NewFileRotator(cfg)
	require.NoError(t, err)
	defer rotator.Close()

	for i := 0; i < 4; i++ {
		_, err = rotator.Write([]byte(strings.Repeat("x", 64) + "\n"))
		require.NoError(t, err)
	}

	files, err := rotator.GetLogFiles()
	require.NoError(t, err)
	assert.Len(t, files, 2, "live log plus one retained backup")
}
