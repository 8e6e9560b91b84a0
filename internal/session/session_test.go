package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymapd/internal/device"
	"keymapd/internal/keycode"
)

func newEditor() *Editor {
	r := NewRegistry(keycode.New(keycode.DefaultLimits()), 0, nil)
	return r.Create()
}

func TestSelectSeedsFromCurrentValue(t *testing.T) {
	e := newEditor()

	// Plain key: nothing lit, no wrap selected.
	e.Select(device.KeyAddr(0, 0, 0), keycode.Numeric(0x0004))
	assert.True(t, e.Mods().IsEmpty())
	assert.Equal(t, keycode.WrapNone, e.Kind())

	// C(KC_S): Ctrl starts lit.
	e.Select(device.KeyAddr(0, 0, 1), keycode.Numeric(0x0116))
	assert.True(t, e.Mods().Has(keycode.ModCtrl))
	assert.Equal(t, keycode.WrapMod, e.Kind())

	// Mod-tap seeds the tap kind.
	e.Select(device.KeyAddr(0, 0, 2), keycode.Numeric(0x2116))
	assert.True(t, e.Mods().Has(keycode.ModCtrl))
	assert.Equal(t, keycode.WrapTap, e.Kind())

	// Re-selecting a plain key drops the seeded state again.
	e.Select(device.KeyAddr(0, 0, 0), keycode.Numeric(0x0004))
	assert.True(t, e.Mods().IsEmpty())
	assert.Equal(t, keycode.WrapNone, e.Kind())
}

func TestChordReplacesWrap(t *testing.T) {
	e := newEditor()
	e.Select(device.KeyAddr(0, 0, 0), keycode.Numeric(0x0116)) // C(KC_S)

	// Turn Ctrl off, Shift on: the old wrap is replaced, not unioned.
	require.NoError(t, e.ToggleMod(keycode.ModCtrl))
	require.NoError(t, e.ToggleMod(keycode.ModShift))

	w, err := e.Chord()
	require.NoError(t, err)
	assert.Equal(t, "S(KC_S)", w.Str)
	assert.Equal(t, uint16(0x0216), w.Num)
}

func TestChordTapKind(t *testing.T) {
	e := newEditor()
	e.Select(device.KeyAddr(0, 0, 0), keycode.Numeric(0x0004)) // KC_A

	require.NoError(t, e.ToggleMod(keycode.ModCtrl))
	require.NoError(t, e.SetKind(keycode.WrapTap))

	w, err := e.Chord()
	require.NoError(t, err)
	assert.Equal(t, "CTL_T(KC_A)", w.Str)
}

func TestChordEmptyModsStripsWrap(t *testing.T) {
	e := newEditor()
	e.Select(device.KeyAddr(0, 0, 0), keycode.Numeric(0x0116)) // C(KC_S)

	require.NoError(t, e.ToggleMod(keycode.ModCtrl))

	w, err := e.Chord()
	require.NoError(t, err)
	assert.Equal(t, "KC_S", w.Str)
}

func TestOperationsBeforeSelect(t *testing.T) {
	e := newEditor()

	assert.ErrorIs(t, e.ToggleMod(keycode.ModCtrl), ErrNoSelection)
	assert.ErrorIs(t, e.SetKind(keycode.WrapTap), ErrNoSelection)
	_, err := e.Chord()
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestResetDropsSelection(t *testing.T) {
	e := newEditor()
	e.Select(device.KeyAddr(0, 0, 0), keycode.Numeric(0x0004))
	require.NoError(t, e.ToggleMod(keycode.ModCtrl))

	e.Reset()
	_, selected := e.Selected()
	assert.False(t, selected)
	assert.True(t, e.Mods().IsEmpty())
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(keycode.New(keycode.DefaultLimits()), time.Hour, nil)

	e := r.Create()
	require.NotEmpty(t, e.ID())
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(e.ID())
	require.NoError(t, err)
	assert.Same(t, e, got)

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	r.Remove(e.ID())
	assert.Equal(t, 0, r.Len())
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry(keycode.New(keycode.DefaultLimits()), 10*time.Millisecond, nil)

	stale := r.Create()
	stale.lastUsed = time.Now().Add(-time.Minute)
	fresh := r.Create()

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
	_, err := r.Get(fresh.ID())
	assert.NoError(t, err)
	_, err = r.Get(stale.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResetAll(t *testing.T) {
	r := NewRegistry(keycode.New(keycode.DefaultLimits()), 0, nil)

	e1 := r.Create()
	e2 := r.Create()
	e1.Select(device.KeyAddr(0, 0, 0), keycode.Numeric(0x0004))
	e2.Select(device.KeyAddr(0, 0, 1), keycode.Numeric(0x0005))

	r.ResetAll()
	_, sel1 := e1.Selected()
	_, sel2 := e2.Selected()
	assert.False(t, sel1)
	assert.False(t, sel2)
}
