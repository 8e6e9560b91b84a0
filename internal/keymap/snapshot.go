// Package keymap holds the in-memory model of a device's full
// configuration: the layered key matrix plus the feature tables. A
// Snapshot is what the daemon mirrors from the device, fingerprints,
// and round-trips through the layout file format.
package keymap

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Combo is four chord inputs and an output, all raw 16-bit values.
type Combo struct {
	Inputs [4]uint16
	Output uint16
}

// Macro is an ordered list of packed action words. A word encodes the
// action type in the top three bits and its argument below.
type Macro struct {
	Steps []uint16
}

// Trim drops trailing zero words; the device pads entries to the slot
// count.
func (m *Macro) Trim() {
	for len(m.Steps) > 0 && m.Steps[len(m.Steps)-1] == 0 {
		m.Steps = m.Steps[:len(m.Steps)-1]
	}
}

// TapDance is one tap-dance entry: the four resolutions.
type TapDance struct {
	Tap       uint16
	Hold      uint16
	DoubleTap uint16
	TapHold   uint16
}

// AltRepeatPair rewrites the alternate-repeat result for one key.
type AltRepeatPair struct {
	When    uint16
	Then    uint16
	Enabled bool
}

// LeaderSequence maps a leader prefix (up to five keys, zero
// terminated) to an output.
type LeaderSequence struct {
	Sequence [5]uint16
	Output   uint16
	Enabled  bool
}

// Snapshot is one complete keymap.
type Snapshot struct {
	Layers int
	Rows   int
	Cols   int

	// Matrix is indexed [layer][row][col].
	Matrix [][][]uint16

	Combos     []Combo
	Macros     []Macro
	TapDances  []TapDance
	AltRepeats []AltRepeatPair
	Leaders    []LeaderSequence
}

// NewSnapshot allocates a zeroed snapshot with the given geometry.
func NewSnapshot(layers, rows, cols int) *Snapshot {
	s := &Snapshot{Layers: layers, Rows: rows, Cols: cols}
	s.Matrix = make([][][]uint16, layers)
	for l := range s.Matrix {
		s.Matrix[l] = make([][]uint16, rows)
		for r := range s.Matrix[l] {
			s.Matrix[l][r] = make([]uint16, cols)
		}
	}
	return s
}

// Cell reads one matrix cell with bounds checking.
func (s *Snapshot) Cell(layer, row, col int) (uint16, error) {
	if err := s.check(layer, row, col); err != nil {
		return 0, err
	}
	return s.Matrix[layer][row][col], nil
}

// SetCell writes one matrix cell with bounds checking.
func (s *Snapshot) SetCell(layer, row, col int, v uint16) error {
	if err := s.check(layer, row, col); err != nil {
		return err
	}
	s.Matrix[layer][row][col] = v
	return nil
}

func (s *Snapshot) check(layer, row, col int) error {
	if layer < 0 || layer >= s.Layers || row < 0 || row >= s.Rows || col < 0 || col >= s.Cols {
		return fmt.Errorf("keymap: cell %d.%d.%d outside %dx%dx%d matrix",
			layer, row, col, s.Layers, s.Rows, s.Cols)
	}
	return nil
}

// Clone deep-copies the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := NewSnapshot(s.Layers, s.Rows, s.Cols)
	for l := range s.Matrix {
		for r := range s.Matrix[l] {
			copy(c.Matrix[l][r], s.Matrix[l][r])
		}
	}
	c.Combos = append([]Combo(nil), s.Combos...)
	c.TapDances = append([]TapDance(nil), s.TapDances...)
	c.AltRepeats = append([]AltRepeatPair(nil), s.AltRepeats...)
	c.Leaders = append([]LeaderSequence(nil), s.Leaders...)
	c.Macros = make([]Macro, len(s.Macros))
	for i, m := range s.Macros {
		c.Macros[i] = Macro{Steps: append([]uint16(nil), m.Steps...)}
	}
	return c
}

// Fingerprint returns the BLAKE2b-256 digest of the snapshot contents
// as lowercase hex. Two snapshots with identical geometry, cells, and
// feature tables fingerprint identically.
func (s *Snapshot) Fingerprint() string {
	h, _ := blake2b.New256(nil)

	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(s.Layers))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(s.Rows))
	binary.BigEndian.PutUint16(hdr[4:6], uint16(s.Cols))
	h.Write(hdr[:])

	u16 := func(v uint16) {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], v)
		h.Write(b[:])
	}
	flag := func(b bool) {
		if b {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}

	for _, layer := range s.Matrix {
		for _, row := range layer {
			for _, v := range row {
				u16(v)
			}
		}
	}

	h.Write([]byte{'C'})
	for _, c := range s.Combos {
		for _, in := range c.Inputs {
			u16(in)
		}
		u16(c.Output)
	}
	h.Write([]byte{'M'})
	for _, m := range s.Macros {
		u16(uint16(len(m.Steps)))
		for _, w := range m.Steps {
			u16(w)
		}
	}
	h.Write([]byte{'T'})
	for _, t := range s.TapDances {
		u16(t.Tap)
		u16(t.Hold)
		u16(t.DoubleTap)
		u16(t.TapHold)
	}
	h.Write([]byte{'A'})
	for _, a := range s.AltRepeats {
		u16(a.When)
		u16(a.Then)
		flag(a.Enabled)
	}
	h.Write([]byte{'L'})
	for _, l := range s.Leaders {
		for _, v := range l.Sequence {
			u16(v)
		}
		u16(l.Output)
		flag(l.Enabled)
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}
