package daemon

import (
	"fmt"

	"keymapd/internal/device"
	"keymapd/internal/keymap"
)

func boolWord(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

// mirrorValue reads the value a device address holds in a snapshot.
func mirrorValue(s *keymap.Snapshot, addr device.Address) (uint16, error) {
	switch addr.Region {
	case device.RegionKey:
		return s.Cell(int(addr.Layer), int(addr.Row), int(addr.Col))

	case device.RegionCombo:
		if int(addr.Index) >= len(s.Combos) {
			return 0, fmt.Errorf("combo %d out of range", addr.Index)
		}
		c := s.Combos[addr.Index]
		if addr.Slot == device.ComboSlotOutput {
			return c.Output, nil
		}
		if addr.Slot > device.ComboSlotInput3 {
			return 0, fmt.Errorf("combo slot %d out of range", addr.Slot)
		}
		return c.Inputs[addr.Slot], nil

	case device.RegionMacro:
		if int(addr.Index) >= len(s.Macros) {
			return 0, fmt.Errorf("macro %d out of range", addr.Index)
		}
		if addr.Slot >= device.MacroSlots {
			return 0, fmt.Errorf("macro slot %d out of range", addr.Slot)
		}
		steps := s.Macros[addr.Index].Steps
		if int(addr.Slot) >= len(steps) {
			return 0, nil
		}
		return steps[addr.Slot], nil

	case device.RegionTapDance:
		if int(addr.Index) >= len(s.TapDances) {
			return 0, fmt.Errorf("tap-dance %d out of range", addr.Index)
		}
		td := s.TapDances[addr.Index]
		switch addr.Slot {
		case device.TapDanceSlotTap:
			return td.Tap, nil
		case device.TapDanceSlotHold:
			return td.Hold, nil
		case device.TapDanceSlotDoubleTap:
			return td.DoubleTap, nil
		case device.TapDanceSlotTapHold:
			return td.TapHold, nil
		}
		return 0, fmt.Errorf("tap-dance slot %d out of range", addr.Slot)

	case device.RegionAltRepeat:
		if int(addr.Index) >= len(s.AltRepeats) {
			return 0, fmt.Errorf("alt-repeat %d out of range", addr.Index)
		}
		ar := s.AltRepeats[addr.Index]
		switch addr.Slot {
		case device.AltRepeatSlotWhen:
			return ar.When, nil
		case device.AltRepeatSlotThen:
			return ar.Then, nil
		case device.AltRepeatSlotEnabled:
			return boolWord(ar.Enabled), nil
		}
		return 0, fmt.Errorf("alt-repeat slot %d out of range", addr.Slot)

	case device.RegionLeader:
		if int(addr.Index) >= len(s.Leaders) {
			return 0, fmt.Errorf("leader %d out of range", addr.Index)
		}
		ls := s.Leaders[addr.Index]
		switch {
		case addr.Slot <= device.LeaderSlotSeq4:
			return ls.Sequence[addr.Slot], nil
		case addr.Slot == device.LeaderSlotOutput:
			return ls.Output, nil
		case addr.Slot == device.LeaderSlotEnabled:
			return boolWord(ls.Enabled), nil
		}
		return 0, fmt.Errorf("leader slot %d out of range", addr.Slot)
	}
	return 0, fmt.Errorf("unknown region %d", addr.Region)
}

// mirrorSet writes the value a device address holds in a snapshot.
func mirrorSet(s *keymap.Snapshot, addr device.Address, v uint16) error {
	switch addr.Region {
	case device.RegionKey:
		return s.SetCell(int(addr.Layer), int(addr.Row), int(addr.Col), v)

	case device.RegionCombo:
		if int(addr.Index) >= len(s.Combos) {
			return fmt.Errorf("combo %d out of range", addr.Index)
		}
		if addr.Slot == device.ComboSlotOutput {
			s.Combos[addr.Index].Output = v
			return nil
		}
		if addr.Slot > device.ComboSlotInput3 {
			return fmt.Errorf("combo slot %d out of range", addr.Slot)
		}
		s.Combos[addr.Index].Inputs[addr.Slot] = v
		return nil

	case device.RegionMacro:
		if int(addr.Index) >= len(s.Macros) {
			return fmt.Errorf("macro %d out of range", addr.Index)
		}
		if addr.Slot >= device.MacroSlots {
			return fmt.Errorf("macro slot %d out of range", addr.Slot)
		}
		m := &s.Macros[addr.Index]
		for int(addr.Slot) >= len(m.Steps) {
			m.Steps = append(m.Steps, 0)
		}
		m.Steps[addr.Slot] = v
		m.Trim()
		return nil

	case device.RegionTapDance:
		if int(addr.Index) >= len(s.TapDances) {
			return fmt.Errorf("tap-dance %d out of range", addr.Index)
		}
		td := &s.TapDances[addr.Index]
		switch addr.Slot {
		case device.TapDanceSlotTap:
			td.Tap = v
		case device.TapDanceSlotHold:
			td.Hold = v
		case device.TapDanceSlotDoubleTap:
			td.DoubleTap = v
		case device.TapDanceSlotTapHold:
			td.TapHold = v
		default:
			return fmt.Errorf("tap-dance slot %d out of range", addr.Slot)
		}
		return nil

	case device.RegionAltRepeat:
		if int(addr.Index) >= len(s.AltRepeats) {
			return fmt.Errorf("alt-repeat %d out of range", addr.Index)
		}
		ar := &s.AltRepeats[addr.Index]
		switch addr.Slot {
		case device.AltRepeatSlotWhen:
			ar.When = v
		case device.AltRepeatSlotThen:
			ar.Then = v
		case device.AltRepeatSlotEnabled:
			ar.Enabled = v != 0
		default:
			return fmt.Errorf("alt-repeat slot %d out of range", addr.Slot)
		}
		return nil

	case device.RegionLeader:
		if int(addr.Index) >= len(s.Leaders) {
			return fmt.Errorf("leader %d out of range", addr.Index)
		}
		ls := &s.Leaders[addr.Index]
		switch {
		case addr.Slot <= device.LeaderSlotSeq4:
			ls.Sequence[addr.Slot] = v
		case addr.Slot == device.LeaderSlotOutput:
			ls.Output = v
		case addr.Slot == device.LeaderSlotEnabled:
			ls.Enabled = v != 0
		default:
			return fmt.Errorf("leader slot %d out of range", addr.Slot)
		}
		return nil
	}
	return fmt.Errorf("unknown region %d", addr.Region)
}

// stagedWrite is one address whose desired value differs from the
// mirror.
type stagedWrite struct {
	addr device.Address
	old  uint16
	new  uint16
}

// diffSnapshots lists every address where want differs from have, in
// deterministic device order: matrix cells, then each feature table.
// The two snapshots must share geometry.
func diffSnapshots(have, want *keymap.Snapshot) ([]stagedWrite, error) {
	if have.Layers != want.Layers || have.Rows != want.Rows || have.Cols != want.Cols {
		return nil, fmt.Errorf("geometry mismatch: device %dx%dx%d, layout %dx%dx%d",
			have.Layers, have.Rows, have.Cols, want.Layers, want.Rows, want.Cols)
	}
	if len(have.Combos) != len(want.Combos) ||
		len(have.Macros) != len(want.Macros) ||
		len(have.TapDances) != len(want.TapDances) ||
		len(have.AltRepeats) != len(want.AltRepeats) ||
		len(have.Leaders) != len(want.Leaders) {
		return nil, fmt.Errorf("feature table size mismatch")
	}

	var diffs []stagedWrite
	push := func(addr device.Address) error {
		h, err := mirrorValue(have, addr)
		if err != nil {
			return err
		}
		w, err := mirrorValue(want, addr)
		if err != nil {
			return err
		}
		if h != w {
			diffs = append(diffs, stagedWrite{addr: addr, old: h, new: w})
		}
		return nil
	}

	for l := 0; l < have.Layers; l++ {
		for r := 0; r < have.Rows; r++ {
			for c := 0; c < have.Cols; c++ {
				if err := push(device.KeyAddr(uint8(l), uint8(r), uint8(c))); err != nil {
					return nil, err
				}
			}
		}
	}
	for i := range have.Combos {
		for s := uint8(device.ComboSlotInput0); s <= device.ComboSlotOutput; s++ {
			if err := push(device.ComboAddr(uint8(i), s)); err != nil {
				return nil, err
			}
		}
	}
	for i := range have.Macros {
		for s := uint8(0); s < device.MacroSlots; s++ {
			if err := push(device.MacroAddr(uint8(i), s)); err != nil {
				return nil, err
			}
		}
	}
	for i := range have.TapDances {
		for s := uint8(device.TapDanceSlotTap); s <= device.TapDanceSlotTapHold; s++ {
			if err := push(device.TapDanceAddr(uint8(i), s)); err != nil {
				return nil, err
			}
		}
	}
	for i := range have.AltRepeats {
		for s := uint8(device.AltRepeatSlotWhen); s <= device.AltRepeatSlotEnabled; s++ {
			if err := push(device.AltRepeatAddr(uint8(i), s)); err != nil {
				return nil, err
			}
		}
	}
	for i := range have.Leaders {
		for s := uint8(device.LeaderSlotSeq0); s <= device.LeaderSlotEnabled; s++ {
			if err := push(device.LeaderAddr(uint8(i), s)); err != nil {
				return nil, err
			}
		}
	}
	return diffs, nil
}
