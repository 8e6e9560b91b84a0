package store

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "keymapd.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func u16ptr(v uint16) *uint16 { return &v }

func TestMigrationsApplyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keymapd.db")

	s, err := Open(path, 0)
	require.NoError(t, err)
	v, err := SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, s.Close())

	// Reopening an already-migrated database is a no-op.
	s, err = Open(path, 0)
	require.NoError(t, err)
	defer s.Close()
	v, err = SchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestRecordBatchAndHistory(t *testing.T) {
	s := tempStore(t)

	batch := &Batch{BatchID: uuid.NewString(), Fingerprint: "abc123"}
	entries := []HistoryEntry{
		{Address: "key:0.0.0", OldValue: u16ptr(0x0014), NewValue: 0x0004},
		{Address: "key:0.0.1", NewValue: 0x0116},
	}
	require.NoError(t, s.RecordBatch(batch, entries))
	assert.Equal(t, 2, batch.EntryCount)

	got, err := s.HistoryForBatch(batch.BatchID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "key:0.0.0", got[0].Address)
	require.NotNil(t, got[0].OldValue)
	assert.Equal(t, uint16(0x0014), *got[0].OldValue)
	assert.Equal(t, uint16(0x0004), got[0].NewValue)

	// Missing baseline survives as NULL.
	assert.Nil(t, got[1].OldValue)
	assert.Equal(t, uint16(0x0116), got[1].NewValue)
}

func TestHistoryNewestFirst(t *testing.T) {
	s := tempStore(t)

	b1 := &Batch{BatchID: uuid.NewString(), AppliedAt: 100, Fingerprint: "f1"}
	require.NoError(t, s.RecordBatch(b1, []HistoryEntry{{Address: "key:0.0.0", NewValue: 1}}))
	b2 := &Batch{BatchID: uuid.NewString(), AppliedAt: 200, Fingerprint: "f2"}
	require.NoError(t, s.RecordBatch(b2, []HistoryEntry{{Address: "key:0.0.1", NewValue: 2}}))

	entries, err := s.History(10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "key:0.0.1", entries[0].Address)
	assert.Equal(t, "key:0.0.0", entries[1].Address)

	// Limit and offset page through.
	entries, err = s.History(1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "key:0.0.0", entries[0].Address)
}

func TestBatchListing(t *testing.T) {
	s := tempStore(t)

	b1 := &Batch{BatchID: uuid.NewString(), AppliedAt: 100, Fingerprint: "f1"}
	require.NoError(t, s.RecordBatch(b1, []HistoryEntry{{Address: "key:0.0.0", NewValue: 1}}))
	b2 := &Batch{BatchID: uuid.NewString(), AppliedAt: 200, Fingerprint: "f2"}
	require.NoError(t, s.RecordBatch(b2, []HistoryEntry{
		{Address: "key:0.0.1", NewValue: 2},
		{Address: "combo:0.out", NewValue: 3},
	}))

	batches, err := s.Batches(10)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, b2.BatchID, batches[0].BatchID)
	assert.Equal(t, 2, batches[0].EntryCount)
	assert.Equal(t, "f2", batches[0].Fingerprint)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := tempStore(t)

	layout := []byte(`{"format":"keymapd-layout","version":1}`)
	require.NoError(t, s.SaveSnapshot("work", "fp1", layout))

	snap, err := s.GetSnapshot("work")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "work", snap.Name)
	assert.Equal(t, "fp1", snap.Fingerprint)
	assert.Equal(t, layout, snap.Layout)

	// Same name replaces.
	require.NoError(t, s.SaveSnapshot("work", "fp2", []byte(`{}`)))
	snap, err = s.GetSnapshot("work")
	require.NoError(t, err)
	assert.Equal(t, "fp2", snap.Fingerprint)

	missing, err := s.GetSnapshot("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSnapshotListAndDelete(t *testing.T) {
	s := tempStore(t)

	require.NoError(t, s.SaveSnapshot("a", "f1", []byte(`{}`)))
	require.NoError(t, s.SaveSnapshot("b", "f2", []byte(`{}`)))

	snaps, err := s.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	// Listings carry no layout body.
	assert.Nil(t, snaps[0].Layout)

	require.NoError(t, s.DeleteSnapshot("a"))
	snaps, err = s.ListSnapshots()
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	assert.Error(t, s.DeleteSnapshot("a"))
}
