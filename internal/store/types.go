// Package store provides SQLite-based persistence for keymapd: the
// applied-change history, commit batches, and named layout snapshots.
package store

// HistoryEntry is one applied change. OldValue is nil when no baseline
// was captured for the write.
type HistoryEntry struct {
	ID        int64
	BatchID   string
	AppliedAt int64 // UnixNano
	Address   string
	OldValue  *uint16
	NewValue  uint16
}

// Batch groups the entries applied by one commit. Fingerprint is the
// keymap fingerprint after the batch landed.
type Batch struct {
	BatchID     string
	AppliedAt   int64 // UnixNano
	EntryCount  int
	Fingerprint string
}

// LayoutSnapshot is a named, fully serialized keymap. Layout holds the
// layout-file JSON; listings omit it.
type LayoutSnapshot struct {
	ID          int64
	Name        string
	CreatedAt   int64 // UnixNano
	Fingerprint string
	Layout      []byte
}
