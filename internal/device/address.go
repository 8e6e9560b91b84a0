// Package device models the programmable keyboard: storage addresses,
// the 32-byte report protocol, and the exclusive channel the daemon
// owns. The hidraw transport talks to real hardware; the mock serves
// tests and --mock runs.
package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Region identifies a storage region on the device. Key cells live in
// the layered matrix; every feature table is addressed per entry and
// slot, each slot holding one 16-bit value.
type Region uint8

const (
	RegionKey Region = iota
	RegionCombo
	RegionMacro
	RegionTapDance
	RegionAltRepeat
	RegionLeader
)

var regionNames = map[Region]string{
	RegionKey:       "key",
	RegionCombo:     "combo",
	RegionMacro:     "macro",
	RegionTapDance:  "tapdance",
	RegionAltRepeat: "altrepeat",
	RegionLeader:    "leader",
}

var regionsByName = map[string]Region{
	"key":       RegionKey,
	"combo":     RegionCombo,
	"macro":     RegionMacro,
	"tapdance":  RegionTapDance,
	"altrepeat": RegionAltRepeat,
	"leader":    RegionLeader,
}

func (r Region) String() string {
	if n, ok := regionNames[r]; ok {
		return n
	}
	return fmt.Sprintf("region(%d)", uint8(r))
}

// Combo slots: four inputs then the output.
const (
	ComboSlotInput0 = 0
	ComboSlotInput1 = 1
	ComboSlotInput2 = 2
	ComboSlotInput3 = 3
	ComboSlotOutput = 4
)

// Tap-dance slots.
const (
	TapDanceSlotTap       = 0
	TapDanceSlotHold      = 1
	TapDanceSlotDoubleTap = 2
	TapDanceSlotTapHold   = 3
)

// Alt-repeat slots.
const (
	AltRepeatSlotWhen    = 0
	AltRepeatSlotThen    = 1
	AltRepeatSlotEnabled = 2
)

// Leader slots: five sequence positions, the output, the enabled flag.
const (
	LeaderSlotSeq0    = 0
	LeaderSlotSeq4    = 4
	LeaderSlotOutput  = 5
	LeaderSlotEnabled = 6
)

// slotNames gives the canonical spelling of the named slots per
// region. Unnamed slots render as their number.
var slotNames = map[Region]map[uint8]string{
	RegionCombo: {
		ComboSlotOutput: "out",
	},
	RegionTapDance: {
		TapDanceSlotTap:       "tap",
		TapDanceSlotHold:      "hold",
		TapDanceSlotDoubleTap: "double",
		TapDanceSlotTapHold:   "taphold",
	},
	RegionAltRepeat: {
		AltRepeatSlotWhen:    "when",
		AltRepeatSlotThen:    "then",
		AltRepeatSlotEnabled: "enabled",
	},
	RegionLeader: {
		LeaderSlotOutput:  "out",
		LeaderSlotEnabled: "enabled",
	},
}

// Address names one 16-bit storage location on the device. It is a
// comparable value and the key of the change log.
type Address struct {
	Region Region
	Layer  uint8 // RegionKey
	Row    uint8 // RegionKey
	Col    uint8 // RegionKey
	Index  uint8 // feature regions: table entry
	Slot   uint8 // feature regions: slot within the entry
}

// KeyAddr addresses one matrix cell.
func KeyAddr(layer, row, col uint8) Address {
	return Address{Region: RegionKey, Layer: layer, Row: row, Col: col}
}

// ComboAddr addresses one slot of a combo entry.
func ComboAddr(index, slot uint8) Address {
	return Address{Region: RegionCombo, Index: index, Slot: slot}
}

// MacroAddr addresses one packed action step of a macro entry.
func MacroAddr(index, slot uint8) Address {
	return Address{Region: RegionMacro, Index: index, Slot: slot}
}

// TapDanceAddr addresses one slot of a tap-dance entry.
func TapDanceAddr(index, slot uint8) Address {
	return Address{Region: RegionTapDance, Index: index, Slot: slot}
}

// AltRepeatAddr addresses one slot of an alt-repeat pair.
func AltRepeatAddr(index, slot uint8) Address {
	return Address{Region: RegionAltRepeat, Index: index, Slot: slot}
}

// LeaderAddr addresses one slot of a leader sequence.
func LeaderAddr(index, slot uint8) Address {
	return Address{Region: RegionLeader, Index: index, Slot: slot}
}

// String renders the canonical form: "key:2.3.4", "combo:1.out",
// "tapdance:0.hold", "macro:3.0".
func (a Address) String() string {
	if a.Region == RegionKey {
		return fmt.Sprintf("key:%d.%d.%d", a.Layer, a.Row, a.Col)
	}
	slot := strconv.Itoa(int(a.Slot))
	if names, ok := slotNames[a.Region]; ok {
		if n, ok := names[a.Slot]; ok {
			slot = n
		}
	}
	return fmt.Sprintf("%s:%d.%s", a.Region, a.Index, slot)
}

// ErrBadAddress reports an unparseable address spelling.
var ErrBadAddress = errors.New("device: bad address")

// ParseAddress parses the canonical String form. Named slots are
// accepted alongside their numbers.
func ParseAddress(s string) (Address, error) {
	region, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	r, ok := regionsByName[region]
	if !ok {
		return Address{}, fmt.Errorf("%w: unknown region %q", ErrBadAddress, region)
	}

	parts := strings.Split(rest, ".")

	if r == RegionKey {
		if len(parts) != 3 {
			return Address{}, fmt.Errorf("%w: key address needs layer.row.col", ErrBadAddress)
		}
		var n [3]uint8
		for i, p := range parts {
			v, err := strconv.ParseUint(p, 10, 8)
			if err != nil {
				return Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
			}
			n[i] = uint8(v)
		}
		return KeyAddr(n[0], n[1], n[2]), nil
	}

	if len(parts) != 2 {
		return Address{}, fmt.Errorf("%w: %s address needs index.slot", ErrBadAddress, region)
	}
	idx, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}

	slot64, err := strconv.ParseUint(parts[1], 10, 8)
	slot := uint8(slot64)
	if err != nil {
		found := false
		for num, name := range slotNames[r] {
			if name == parts[1] {
				slot = num
				found = true
				break
			}
		}
		if !found {
			return Address{}, fmt.Errorf("%w: unknown slot %q", ErrBadAddress, parts[1])
		}
	}

	return Address{Region: r, Index: uint8(idx), Slot: slot}, nil
}
