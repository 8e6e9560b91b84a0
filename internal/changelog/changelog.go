// Package changelog implements the ordered journal of not-yet-applied
// keymap edits. Edits queue per address; committing drains the journal
// in queue order through an apply callback, and a failed apply stops
// the drain so the device never silently diverges from what the user
// believes was written.
package changelog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keymapd/internal/device"
	"keymapd/internal/keycode"
	"keymapd/internal/logging"
)

// ApplyFunc writes one value to the device.
type ApplyFunc func(ctx context.Context, addr device.Address, value keycode.Wire) error

// RestoreFunc writes one baseline value back to the device.
type RestoreFunc func(ctx context.Context, addr device.Address, baseline keycode.Wire) error

// Change is one pending edit. Baseline is the device value captured
// when the address was first queued; it survives re-queues of the same
// address so revert always lands on the pre-edit value. A nil baseline
// means the original value could not be read.
type Change struct {
	Addr     device.Address
	Value    keycode.Wire
	Baseline *keycode.Wire
	QueuedAt time.Time

	apply ApplyFunc
}

// CommitError reports a commit that stopped partway. Applied entries
// are gone from the journal; the failing entry and everything queued
// after it remain.
type CommitError struct {
	Addr    device.Address
	Applied int
	Cause   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("changelog: commit stopped at %s after %d applied: %v", e.Addr, e.Applied, e.Cause)
}

func (e *CommitError) Unwrap() error { return e.Cause }

// Log is the pending-change journal. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	log     *logging.Logger
	instant bool
	order   []device.Address
	changes map[device.Address]*Change
	notify  func()
}

// New builds an empty journal in queued mode.
func New(log *logging.Logger) *Log {
	if log == nil {
		log = logging.Default()
	}
	return &Log{
		log:     log.WithComponent("changelog"),
		changes: make(map[device.Address]*Change),
	}
}

// SetNotify registers a callback invoked after any mutation of the
// journal. The callback must not call back into the journal.
func (l *Log) SetNotify(fn func()) {
	l.mu.Lock()
	l.notify = fn
	l.mu.Unlock()
}

// SetInstant switches between instant and queued mode. Entries already
// queued stay queued; switching mode never applies or drops them.
func (l *Log) SetInstant(on bool) {
	l.mu.Lock()
	l.instant = on
	n := len(l.order)
	l.mu.Unlock()
	if on && n > 0 {
		l.log.Info("instant mode enabled with entries still queued", "pending", n)
	}
}

// Instant reports the current mode.
func (l *Log) Instant() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.instant
}

// Queue records an edit, or applies it immediately in instant mode.
//
// Re-queuing an address replaces the pending value but keeps the
// baseline captured on the first queue, so one revert undoes the whole
// edit chain for that address. In instant mode nothing is journaled; a
// failed instant apply is reported to the caller and leaves no trace.
func (l *Log) Queue(ctx context.Context, addr device.Address, value keycode.Wire, baseline *keycode.Wire, apply ApplyFunc) error {
	l.mu.Lock()
	if l.instant {
		fn := l.notify
		l.mu.Unlock()
		if err := apply(ctx, addr, value); err != nil {
			return fmt.Errorf("changelog: instant apply %s: %w", addr, err)
		}
		if fn != nil {
			fn()
		}
		return nil
	}

	if existing, ok := l.changes[addr]; ok {
		existing.Value = value
		existing.QueuedAt = time.Now()
		existing.apply = apply
		l.log.Debug("re-queued pending change", "addr", addr.String(), "value", value.String())
	} else {
		l.changes[addr] = &Change{
			Addr:     addr,
			Value:    value,
			Baseline: baseline,
			QueuedAt: time.Now(),
			apply:    apply,
		}
		l.order = append(l.order, addr)
		l.log.Debug("queued change", "addr", addr.String(), "value", value.String())
	}
	l.runNotify()
	l.mu.Unlock()
	return nil
}

// Commit drains the journal in queue order. It stops at the first
// apply failure: applied entries are removed, the failing entry and
// all later ones stay queued, and the returned *CommitError names the
// failing address. On success it returns the number applied.
func (l *Log) Commit(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	applied := 0
	for len(l.order) > 0 {
		addr := l.order[0]
		ch := l.changes[addr]

		if err := ch.apply(ctx, addr, ch.Value); err != nil {
			l.log.Warn("commit stopped", "addr", addr.String(), "applied", applied, "error", err)
			l.runNotify()
			return applied, &CommitError{Addr: addr, Applied: applied, Cause: err}
		}

		l.order = l.order[1:]
		delete(l.changes, addr)
		applied++
	}

	if applied > 0 {
		l.log.Info("committed changes", "count", applied)
	}
	l.runNotify()
	return applied, nil
}

// Revert walks the journal in queue order writing baselines back
// through restore, then clears it. Entries with no captured baseline
// are skipped with a warning; they cannot be undone. A restore failure
// stops the walk, keeps the failing entry and everything after it, and
// is returned wrapped with the address.
func (l *Log) Revert(ctx context.Context, restore RestoreFunc) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	restored := 0
	for len(l.order) > 0 {
		addr := l.order[0]
		ch := l.changes[addr]

		if ch.Baseline == nil {
			l.log.Warn("no baseline captured, cannot restore", "addr", addr.String())
		} else {
			if err := restore(ctx, addr, *ch.Baseline); err != nil {
				l.log.Warn("revert stopped", "addr", addr.String(), "restored", restored, "error", err)
				l.runNotify()
				return restored, fmt.Errorf("changelog: revert %s: %w", addr, err)
			}
			restored++
		}

		l.order = l.order[1:]
		delete(l.changes, addr)
	}

	if restored > 0 {
		l.log.Info("reverted changes", "count", restored)
	}
	l.runNotify()
	return restored, nil
}

// Clear drops every pending entry without touching the device.
func (l *Log) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.order)
	l.order = nil
	l.changes = make(map[device.Address]*Change)
	if n > 0 {
		l.log.Info("cleared pending changes", "count", n)
	}
	l.runNotify()
	return n
}

// Len returns the number of pending entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Get returns the pending entry for addr, if any.
func (l *Log) Get(addr device.Address) (Change, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.changes[addr]
	if !ok {
		return Change{}, false
	}
	return *ch, true
}

// Pending returns copies of all entries in queue order.
func (l *Log) Pending() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Change, 0, len(l.order))
	for _, addr := range l.order {
		out = append(out, *l.changes[addr])
	}
	return out
}

// runNotify fires the notify hook. Callers hold the lock.
func (l *Log) runNotify() {
	if l.notify != nil {
		l.notify()
	}
}
