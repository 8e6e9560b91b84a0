package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymapd/internal/device"
)

func tempWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intent.wal")
	w, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestAppendAndMarkDone(t *testing.T) {
	w, _ := tempWAL(t)

	seq, err := w.Append(device.KeyAddr(0, 1, 2), 0x0004)
	require.NoError(t, err)
	assert.Equal(t, 1, w.OpenCount())

	require.NoError(t, w.MarkDone(seq))
	assert.Equal(t, 0, w.OpenCount())
	assert.Empty(t, w.Recover())
}

func TestMarkDoneUnknownSeq(t *testing.T) {
	w, _ := tempWAL(t)
	assert.ErrorIs(t, w.MarkDone(42), ErrUnknownSeq)
}

func TestRecoverAfterReopen(t *testing.T) {
	w, path := tempWAL(t)

	// Two writes confirmed, one left hanging: the crash window.
	s1, err := w.Append(device.KeyAddr(0, 0, 0), 0x0004)
	require.NoError(t, err)
	require.NoError(t, w.MarkDone(s1))

	s2, err := w.Append(device.ComboAddr(1, device.ComboSlotOutput), 0x0029)
	require.NoError(t, err)
	require.NoError(t, w.MarkDone(s2))

	hanging := device.KeyAddr(2, 3, 4)
	_, err = w.Append(hanging, 0x0116)
	require.NoError(t, err)

	require.NoError(t, w.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	intents := reopened.Recover()
	require.Len(t, intents, 1)
	assert.Equal(t, hanging, intents[0].Addr)
	assert.Equal(t, uint16(0x0116), intents[0].Value)
}

func TestRecoverIsOrdered(t *testing.T) {
	w, path := tempWAL(t)

	addrs := []device.Address{
		device.KeyAddr(0, 0, 0),
		device.KeyAddr(0, 0, 1),
		device.KeyAddr(0, 0, 2),
	}
	for i, a := range addrs {
		_, err := w.Append(a, uint16(i))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	intents := reopened.Recover()
	require.Len(t, intents, 3)
	for i, intent := range intents {
		assert.Equal(t, addrs[i], intent.Addr)
		assert.Equal(t, uint16(i), intent.Value)
	}
}

func TestSequenceSurvivesReopen(t *testing.T) {
	w, path := tempWAL(t)

	s1, err := w.Append(device.KeyAddr(0, 0, 0), 1)
	require.NoError(t, err)
	require.NoError(t, w.MarkDone(s1))
	require.NoError(t, w.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	s2, err := reopened.Append(device.KeyAddr(0, 0, 1), 2)
	require.NoError(t, err)
	assert.Greater(t, s2, s1)
}

func TestTruncate(t *testing.T) {
	w, path := tempWAL(t)

	_, err := w.Append(device.KeyAddr(0, 0, 0), 1)
	require.NoError(t, err)
	_, err = w.Append(device.KeyAddr(0, 0, 1), 2)
	require.NoError(t, err)

	require.NoError(t, w.Truncate())
	assert.Equal(t, 0, w.OpenCount())

	// Journal still usable after the rewrite.
	seq, err := w.Append(device.KeyAddr(1, 0, 0), 3)
	require.NoError(t, err)
	require.NoError(t, w.MarkDone(seq))

	require.NoError(t, w.Close())
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Empty(t, reopened.Recover())
}

func TestTornTailIsIgnored(t *testing.T) {
	w, path := tempWAL(t)

	s1, err := w.Append(device.KeyAddr(0, 0, 0), 1)
	require.NoError(t, err)
	require.NoError(t, w.MarkDone(s1))
	_, err = w.Append(device.KeyAddr(0, 0, 1), 2)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Chop the last record in half, as a crash mid-write would.
	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, stat.Size()-10))

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	// The torn intent is gone; the confirmed one stays confirmed.
	assert.Empty(t, reopened.Recover())
}

func TestRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-wal")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a journal"), 0o600))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}
