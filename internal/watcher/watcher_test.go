package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDeviceEvent(t *testing.T, ch <-chan DeviceEvent, timeout time.Duration) DeviceEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for device event")
		return DeviceEvent{}
	}
}

func TestDeviceArrivalIsSettled(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDeviceWatcher(dir)
	require.NoError(t, err)
	w.settle = 100 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	node := filepath.Join(dir, "hidraw3")
	require.NoError(t, os.WriteFile(node, nil, 0o600))

	ev := waitDeviceEvent(t, w.Events(), 3*time.Second)
	assert.Equal(t, node, ev.Path)
	assert.True(t, ev.Arrived)
}

func TestDeviceRemoval(t *testing.T) {
	dir := t.TempDir()
	node := filepath.Join(dir, "hidraw0")
	require.NoError(t, os.WriteFile(node, nil, 0o600))

	w, err := NewDeviceWatcher(dir)
	require.NoError(t, err)
	w.settle = 50 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.Remove(node))

	ev := waitDeviceEvent(t, w.Events(), 3*time.Second)
	assert.Equal(t, node, ev.Path)
	assert.False(t, ev.Arrived)
}

func TestNonHidrawNodesIgnored(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDeviceWatcher(dir)
	require.NoError(t, err)
	w.settle = 50 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ttyUSB0"), nil, 0o600))

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestConfigReloadDebounced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n"), 0o600))

	w, err := NewConfigWatcher(path)
	require.NoError(t, err)
	w.debounce = 100 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	// A burst of writes collapses into one reload tick.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("version = 1\n"), 0o600))
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-w.Reloads():
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload tick")
	}

	select {
	case <-w.Reloads():
		t.Fatal("burst produced a second reload tick")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestConfigOtherFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n"), 0o600))

	w, err := NewConfigWatcher(path)
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))

	select {
	case <-w.Reloads():
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(400 * time.Millisecond):
	}
}
