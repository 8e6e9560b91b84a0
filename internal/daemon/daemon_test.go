package daemon

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymapd/internal/config"
	"keymapd/internal/ipc"
	"keymapd/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Device.Mock = true
	cfg.Storage.Path = filepath.Join(dir, "keymapd.db")
	cfg.WAL.Path = filepath.Join(dir, "keymapd.wal")
	cfg.IPC.SocketPath = filepath.Join(dir, "d.sock")
	cfg.Logging.Output = "stderr"
	cfg.Metrics.Enabled = false
	return cfg
}

func startTestDaemon(t *testing.T) (*Daemon, *ipc.Client) {
	t.Helper()

	cfg := testConfig(t)
	d, err := New(cfg, "", "test", logging.Default())
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() { d.Stop() })

	ccfg := ipc.DefaultClientConfig("")
	ccfg.SocketPath = cfg.IPC.SocketPath
	ccfg.ClientName = "daemon-test"
	cli := ipc.NewClient(ccfg)
	require.NoError(t, cli.Connect())
	t.Cleanup(func() { cli.Close() })

	return d, cli
}

func TestStatusReportsMockDevice(t *testing.T) {
	_, cli := startTestDaemon(t)

	st, err := cli.Status()
	require.NoError(t, err)

	assert.Equal(t, "test", st.Version)
	assert.True(t, st.Device.Connected)
	assert.Equal(t, "mock", st.Device.Path)
	assert.Equal(t, uint8(4), st.Device.Layers)
	assert.Equal(t, uint8(12), st.Device.Cols)
	assert.Zero(t, st.PendingChanges)
	assert.False(t, st.InstantMode)
	assert.NotEmpty(t, st.Fingerprint)
}

func TestSetCommitGetRoundTrip(t *testing.T) {
	_, cli := startTestDaemon(t)

	set, err := cli.SetKey("key:0.0.0", "KC_A")
	require.NoError(t, err)
	assert.Equal(t, "KC_NO", set.Old)
	assert.Equal(t, "KC_A", set.New)
	assert.False(t, set.Applied)
	assert.Equal(t, 1, set.Pending)

	// Still the old value until commit.
	got, err := cli.GetKey("key:0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "KC_NO", got.Keycode)
	assert.True(t, got.Pending)

	_, err = cli.SetKey("key:1.2.3", "C(KC_B)")
	require.NoError(t, err)

	commit, err := cli.Commit()
	require.NoError(t, err)
	assert.Equal(t, 2, commit.Applied)
	assert.Zero(t, commit.Remaining)
	assert.Empty(t, commit.Error)
	assert.NotEmpty(t, commit.BatchID)
	assert.NotEmpty(t, commit.Fingerprint)

	got, err = cli.GetKey("key:0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "KC_A", got.Keycode)
	assert.False(t, got.Pending)

	got, err = cli.GetKey("key:1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "C(KC_B)", got.Keycode)
}

func TestCommitRecordsHistory(t *testing.T) {
	_, cli := startTestDaemon(t)

	_, err := cli.SetKey("key:0.0.1", "KC_Q")
	require.NoError(t, err)
	commit, err := cli.Commit()
	require.NoError(t, err)

	hist, err := cli.History(10, 0)
	require.NoError(t, err)
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, commit.BatchID, hist.Entries[0].BatchID)
	assert.Equal(t, "key:0.0.1", hist.Entries[0].Address)
	assert.Equal(t, "KC_NO", hist.Entries[0].Old)
	assert.Equal(t, "KC_Q", hist.Entries[0].New)

	byBatch, err := cli.HistoryForBatch(commit.BatchID)
	require.NoError(t, err)
	assert.Len(t, byBatch.Entries, 1)
}

func TestRevertRestoresBaselines(t *testing.T) {
	_, cli := startTestDaemon(t)

	_, err := cli.SetKey("key:0.0.0", "KC_A")
	require.NoError(t, err)
	_, err = cli.Commit()
	require.NoError(t, err)

	_, err = cli.SetKey("key:0.0.0", "KC_B")
	require.NoError(t, err)

	rev, err := cli.Revert()
	require.NoError(t, err)
	assert.Equal(t, 1, rev.Restored)
	assert.Zero(t, rev.Remaining)

	got, err := cli.GetKey("key:0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "KC_A", got.Keycode)
	assert.False(t, got.Pending)
}

func TestClearDropsWithoutWriting(t *testing.T) {
	_, cli := startTestDaemon(t)

	_, err := cli.SetKey("key:0.0.0", "KC_A")
	require.NoError(t, err)
	_, err = cli.SetKey("key:0.0.1", "KC_B")
	require.NoError(t, err)

	cleared, err := cli.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, cleared.Dropped)

	got, err := cli.GetKey("key:0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "KC_NO", got.Keycode)
	assert.False(t, got.Pending)

	// Nothing reached the device, so no history either.
	hist, err := cli.History(10, 0)
	require.NoError(t, err)
	assert.Empty(t, hist.Entries)
}

func TestInstantModeWritesThrough(t *testing.T) {
	_, cli := startTestDaemon(t)

	mode, err := cli.SetInstant(true)
	require.NoError(t, err)
	assert.True(t, mode.Instant)

	set, err := cli.SetKey("key:2.1.0", "KC_TAB")
	require.NoError(t, err)
	assert.True(t, set.Applied)
	assert.Zero(t, set.Pending)

	got, err := cli.GetKey("key:2.1.0")
	require.NoError(t, err)
	assert.Equal(t, "KC_TAB", got.Keycode)

	// Instant writes get history rows too.
	hist, err := cli.History(10, 0)
	require.NoError(t, err)
	require.Len(t, hist.Entries, 1)
	assert.Equal(t, "KC_TAB", hist.Entries[0].New)
}

func TestRecomposeTogglesModifiers(t *testing.T) {
	_, cli := startTestDaemon(t)

	_, err := cli.SetInstant(true)
	require.NoError(t, err)
	_, err = cli.SetKey("key:0.0.0", "KC_A")
	require.NoError(t, err)

	rec, err := cli.Recompose("key:0.0.0", "ctrl+shift", false)
	require.NoError(t, err)
	assert.Equal(t, "KC_A", rec.Old)
	assert.Equal(t, "C_S(KC_A)", rec.New)

	got, err := cli.GetKey("key:0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "C_S(KC_A)", got.Keycode)

	// Toggling a lit modifier turns it back off.
	rec, err = cli.Recompose("key:0.0.0", "shift", false)
	require.NoError(t, err)
	assert.Equal(t, "C(KC_A)", rec.New)
}

func TestRecomposeTapHold(t *testing.T) {
	_, cli := startTestDaemon(t)

	_, err := cli.SetInstant(true)
	require.NoError(t, err)
	_, err = cli.SetKey("key:0.0.0", "KC_ESC")
	require.NoError(t, err)

	rec, err := cli.Recompose("key:0.0.0", "ctrl", true)
	require.NoError(t, err)
	assert.Equal(t, "CTL_T(KC_ESC)", rec.New)
}

func TestExportImportRestoresLayout(t *testing.T) {
	_, cli := startTestDaemon(t)

	_, err := cli.SetKey("key:0.0.0", "KC_A")
	require.NoError(t, err)
	_, err = cli.Commit()
	require.NoError(t, err)

	exported, err := cli.ExportLayout()
	require.NoError(t, err)
	require.NotEmpty(t, exported.Layout)

	_, err = cli.SetKey("key:0.0.0", "KC_B")
	require.NoError(t, err)
	_, err = cli.Commit()
	require.NoError(t, err)

	imp, err := cli.ImportLayout(exported.Layout)
	require.NoError(t, err)
	assert.Equal(t, 1, imp.Queued)
	assert.False(t, imp.Applied)

	_, err = cli.Commit()
	require.NoError(t, err)

	got, err := cli.GetKey("key:0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "KC_A", got.Keycode)
}

func TestImportIdenticalLayoutQueuesNothing(t *testing.T) {
	_, cli := startTestDaemon(t)

	exported, err := cli.ExportLayout()
	require.NoError(t, err)

	imp, err := cli.ImportLayout(exported.Layout)
	require.NoError(t, err)
	assert.Zero(t, imp.Queued)
}

func TestSnapshotSaveAndRestore(t *testing.T) {
	_, cli := startTestDaemon(t)

	_, err := cli.SetKey("key:0.0.0", "KC_A")
	require.NoError(t, err)
	_, err = cli.Commit()
	require.NoError(t, err)

	saved, err := cli.SnapshotSave("base")
	require.NoError(t, err)
	assert.Equal(t, "base", saved.Name)
	assert.NotEmpty(t, saved.Fingerprint)

	list, err := cli.SnapshotList()
	require.NoError(t, err)
	require.Len(t, list.Snapshots, 1)
	assert.Equal(t, "base", list.Snapshots[0].Name)

	_, err = cli.SetKey("key:0.0.0", "KC_Z")
	require.NoError(t, err)
	_, err = cli.Commit()
	require.NoError(t, err)

	restore, err := cli.SnapshotRestore("base")
	require.NoError(t, err)
	assert.Equal(t, 1, restore.Queued)

	_, err = cli.Commit()
	require.NoError(t, err)

	got, err := cli.GetKey("key:0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "KC_A", got.Keycode)
}

func TestSnapshotRestoreUnknownName(t *testing.T) {
	_, cli := startTestDaemon(t)

	_, err := cli.SnapshotRestore("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestBadInputsAreRejected(t *testing.T) {
	_, cli := startTestDaemon(t)

	_, err := cli.SetKey("nonsense", "KC_A")
	require.Error(t, err)

	_, err = cli.SetKey("key:0.0.0", "KC_NOPE")
	require.Error(t, err)

	_, err = cli.GetKey("key:99.0.0")
	require.Error(t, err)

	_, err = cli.Recompose("key:0.0.0", "hyper", false)
	require.Error(t, err)
}

func TestPendingChangedEventReachesSubscriber(t *testing.T) {
	_, cli := startTestDaemon(t)

	require.NoError(t, cli.Subscribe([]ipc.EventType{ipc.EventPendingChanged}))

	_, err := cli.SetKey("key:0.0.0", "KC_A")
	require.NoError(t, err)

	select {
	case ev := <-cli.Events():
		assert.Equal(t, ipc.EventPendingChanged, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no pending-changed event")
	}
}

func TestDeviceGoneRevertsStagedChanges(t *testing.T) {
	d, cli := startTestDaemon(t)

	_, err := cli.SetKey("key:0.0.0", "KC_A")
	require.NoError(t, err)

	d.onDeviceGone()

	assert.False(t, d.Connected())
	assert.Zero(t, d.journal.Len())

	// The mirror is still queryable; status reports disconnected.
	st, err := cli.Status()
	require.NoError(t, err)
	assert.False(t, st.Device.Connected)
	assert.Zero(t, st.PendingChanges)

	got, err := cli.GetKey("key:0.0.0")
	require.NoError(t, err)
	assert.Equal(t, "KC_NO", got.Keycode)
	assert.False(t, got.Pending)
}

func TestCommitWithNoPendingIsNoop(t *testing.T) {
	_, cli := startTestDaemon(t)

	commit, err := cli.Commit()
	require.NoError(t, err)
	assert.Zero(t, commit.Applied)
	assert.Empty(t, commit.BatchID)
}
