// Package session tracks per-client editing state. A client selects a
// key position, toggles modifiers and the wrap kind against it, and
// asks for the recomposed chord; the daemon turns that into a queued
// change. Sessions are addressed by opaque IDs and expire when idle.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"keymapd/internal/device"
	"keymapd/internal/keycode"
	"keymapd/internal/logging"
)

// ErrNoSelection is returned by editor operations before Select.
var ErrNoSelection = errors.New("session: no key selected")

// ErrNotFound is returned by the registry for unknown session IDs.
var ErrNotFound = errors.New("session: not found")

// Editor is the modifier-editing state for one client. Not safe for
// concurrent use; the registry hands it out under its own lock and IPC
// requests for one session are serialized by the connection.
type Editor struct {
	id    string
	codec *keycode.Codec

	selected bool
	addr     device.Address
	current  keycode.Wire
	mods     keycode.Modifier
	kind     keycode.WrapKind

	lastUsed time.Time
}

// ID returns the session identifier.
func (e *Editor) ID() string { return e.id }

// Select binds the editor to a position and seeds the modifier state
// from the position's current value: editing a C(KC_S) cell starts
// with Ctrl lit, not from scratch.
func (e *Editor) Select(addr device.Address, current keycode.Wire) {
	e.selected = true
	e.addr = addr
	e.current = current
	e.mods = 0
	e.kind = keycode.WrapNone

	d := e.codec.Decode(current)
	switch d.Kind {
	case keycode.KindModded:
		e.mods = d.Mods
		e.kind = keycode.WrapMod
	case keycode.KindModTap:
		e.mods = d.Mods
		e.kind = keycode.WrapTap
	}
}

// Selected returns the bound position.
func (e *Editor) Selected() (device.Address, bool) {
	return e.addr, e.selected
}

// Current returns the wire value captured at Select.
func (e *Editor) Current() keycode.Wire { return e.current }

// Mods returns the lit modifier set.
func (e *Editor) Mods() keycode.Modifier { return e.mods }

// Kind returns the wrap kind that Chord will produce.
func (e *Editor) Kind() keycode.WrapKind { return e.kind }

// ToggleMod flips one modifier bit.
func (e *Editor) ToggleMod(m keycode.Modifier) error {
	if !e.selected {
		return ErrNoSelection
	}
	e.mods = e.mods.Toggle(m)
	return nil
}

// SetKind switches between hold and tap-hold wrapping.
func (e *Editor) SetKind(k keycode.WrapKind) error {
	if !e.selected {
		return ErrNoSelection
	}
	e.kind = k
	return nil
}

// Chord recomposes the selected value under the lit modifiers. The
// previous wrap is replaced, never unioned.
func (e *Editor) Chord() (keycode.Wire, error) {
	if !e.selected {
		return keycode.Wire{}, ErrNoSelection
	}
	return e.codec.Recompose(e.current, e.mods, e.kind)
}

// Reset drops the selection and modifier state.
func (e *Editor) Reset() {
	*e = Editor{id: e.id, codec: e.codec, lastUsed: e.lastUsed}
}

// Registry owns the live sessions. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	log     *logging.Logger
	codec   *keycode.Codec
	ttl     time.Duration
	editors map[string]*Editor
}

// NewRegistry builds a registry whose sessions expire after ttl of
// inactivity. A non-positive ttl disables expiry.
func NewRegistry(codec *keycode.Codec, ttl time.Duration, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Default()
	}
	return &Registry{
		log:     log.WithComponent("session"),
		codec:   codec,
		ttl:     ttl,
		editors: make(map[string]*Editor),
	}
}

// Create opens a fresh session and returns it.
func (r *Registry) Create() *Editor {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &Editor{
		id:       uuid.NewString(),
		codec:    r.codec,
		lastUsed: time.Now(),
	}
	r.editors[e.id] = e
	r.log.Debug("session opened", "session", e.id)
	return e
}

// Get looks up a session and refreshes its idle clock.
func (r *Registry) Get(id string) (*Editor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.editors[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastUsed = time.Now()
	return e, nil
}

// Remove closes a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.editors[id]; ok {
		delete(r.editors, id)
		r.log.Debug("session closed", "session", id)
	}
}

// Len returns the live session count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.editors)
}

// ResetAll drops selection state in every session. Used when the
// device goes away and stale selections would point at nothing.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.editors {
		e.Reset()
	}
}

// Sweep removes sessions idle past the TTL and returns how many went.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-r.ttl)
	removed := 0
	for id, e := range r.editors {
		if e.lastUsed.Before(cutoff) {
			delete(r.editors, id)
			removed++
		}
	}
	if removed > 0 {
		r.log.Debug("expired idle sessions", "count", removed)
	}
	return removed
}
