package keymap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymapd/internal/keycode"
)

func testSnapshot() *Snapshot {
	s := NewSnapshot(2, 2, 3)
	s.Matrix[0][0][0] = 0x0004 // KC_A
	s.Matrix[0][0][1] = 0x0116 // C(KC_S)
	s.Matrix[0][1][2] = 0x5201 // TO(1)
	s.Matrix[1][0][0] = 0x0001 // KC_TRNS
	s.Combos = []Combo{{Inputs: [4]uint16{0x0004, 0x0016, 0, 0}, Output: 0x0029}}
	s.Macros = []Macro{{Steps: []uint16{0x2004, 0x2016}}}
	s.TapDances = []TapDance{{Tap: 0x0004, Hold: 0x00E0}}
	s.AltRepeats = []AltRepeatPair{{When: 0x0004, Then: 0x0005, Enabled: true}}
	s.Leaders = []LeaderSequence{{Sequence: [5]uint16{0x0004, 0x0005}, Output: 0x0006, Enabled: true}}
	return s
}

func TestCellBounds(t *testing.T) {
	s := NewSnapshot(2, 2, 3)

	require.NoError(t, s.SetCell(1, 1, 2, 0x0004))
	v, err := s.Cell(1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0004), v)

	_, err = s.Cell(2, 0, 0)
	assert.Error(t, err)
	assert.Error(t, s.SetCell(0, 2, 0, 1))
	assert.Error(t, s.SetCell(0, 0, 3, 1))
}

func TestCloneIsDeep(t *testing.T) {
	s := testSnapshot()
	c := s.Clone()

	require.Equal(t, s.Fingerprint(), c.Fingerprint())

	c.Matrix[0][0][0] = 0x0099
	c.Macros[0].Steps[0] = 0x0000
	assert.Equal(t, uint16(0x0004), s.Matrix[0][0][0])
	assert.Equal(t, uint16(0x2004), s.Macros[0].Steps[0])
	assert.NotEqual(t, s.Fingerprint(), c.Fingerprint())
}

func TestFingerprintSensitivity(t *testing.T) {
	s := testSnapshot()
	base := s.Fingerprint()
	assert.Len(t, base, 64)

	// A cell change moves the fingerprint.
	c := s.Clone()
	c.Matrix[1][1][1] = 0x0007
	assert.NotEqual(t, base, c.Fingerprint())

	// So does a feature-table change.
	c = s.Clone()
	c.AltRepeats[0].Enabled = false
	assert.NotEqual(t, base, c.Fingerprint())

	// Identical content fingerprints identically.
	assert.Equal(t, base, testSnapshot().Fingerprint())
}

func TestExportImportRoundTrip(t *testing.T) {
	c := keycode.New(keycode.DefaultLimits())
	s := testSnapshot()

	data, err := Export(s, c)
	require.NoError(t, err)

	// Readable wire forms, not raw numbers.
	assert.Contains(t, string(data), "\"KC_A\"")
	assert.Contains(t, string(data), "\"C(KC_S)\"")
	assert.Contains(t, string(data), "\"TO(1)\"")

	got, err := Import(data, c)
	require.NoError(t, err)
	assert.Equal(t, s.Fingerprint(), got.Fingerprint())
}

func TestImportRejectsBadShape(t *testing.T) {
	c := keycode.New(keycode.DefaultLimits())

	// Missing the required device block.
	bad := `{"format":"keymapd-layout","version":1,"layers":[[["KC_A"]]]}`
	_, err := Import([]byte(bad), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid layout")

	// Wrong format marker.
	bad = `{"format":"other","version":1,"device":{"layers":1,"rows":1,"cols":1},"layers":[[["KC_A"]]]}`
	_, err = Import([]byte(bad), c)
	require.Error(t, err)

	// Numeric cell value where a string is required; the error names
	// the offending location.
	bad = `{"format":"keymapd-layout","version":1,"device":{"layers":1,"rows":1,"cols":1},"layers":[[[4]]]}`
	_, err = Import([]byte(bad), c)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "layers") || strings.Contains(err.Error(), "invalid layout"))
}

func TestImportRejectsGeometryMismatch(t *testing.T) {
	c := keycode.New(keycode.DefaultLimits())
	bad := `{"format":"keymapd-layout","version":1,"device":{"layers":2,"rows":1,"cols":1},"layers":[[["KC_A"]]]}`
	_, err := Import([]byte(bad), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "layers")
}

func TestImportRejectsUnknownKey(t *testing.T) {
	c := keycode.New(keycode.DefaultLimits())
	bad := `{"format":"keymapd-layout","version":1,"device":{"layers":1,"rows":1,"cols":1},"layers":[[["LT20(KC_A)"]]]}`
	_, err := Import([]byte(bad), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cell 0.0.0")
}

func TestExportOpaqueSurvivesRoundTrip(t *testing.T) {
	c := keycode.New(keycode.DefaultLimits())
	s := NewSnapshot(1, 1, 1)
	s.Matrix[0][0][0] = 0x7C59 // unassigned, stays opaque

	data, err := Export(s, c)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0x7C59")

	got, err := Import(data, c)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x7C59), got.Matrix[0][0][0])
}
