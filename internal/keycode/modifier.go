package keycode

import (
	"fmt"
	"math/bits"
	"strings"
)

// Modifier is a bitmask over the four modifier positions the device
// reports. The bit layout matches bits 8-11 of the numeric wire form,
// so masks convert to and from wire values without translation.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModShift
	ModAlt
	ModGui
)

// ModNone is the empty modifier set.
const ModNone Modifier = 0

// modMask covers the four defined bits.
const modMask Modifier = ModCtrl | ModShift | ModAlt | ModGui

// Has reports whether every modifier in m2 is present in m.
func (m Modifier) Has(m2 Modifier) bool {
	return m&m2 == m2 && m2 != ModNone
}

// With returns m with the modifiers in m2 added.
func (m Modifier) With(m2 Modifier) Modifier {
	return (m | m2) & modMask
}

// Without returns m with the modifiers in m2 removed.
func (m Modifier) Without(m2 Modifier) Modifier {
	return m &^ m2
}

// Toggle flips the modifiers in m2.
func (m Modifier) Toggle(m2 Modifier) Modifier {
	return (m ^ m2) & modMask
}

// IsEmpty reports whether no modifier is set.
func (m Modifier) IsEmpty() bool {
	return m&modMask == 0
}

// Count returns the number of modifiers set.
func (m Modifier) Count() int {
	return bits.OnesCount8(uint8(m & modMask))
}

// Split returns the individual modifiers in ascending bit order.
func (m Modifier) Split() []Modifier {
	if m.IsEmpty() {
		return nil
	}
	out := make([]Modifier, 0, m.Count())
	for _, bit := range []Modifier{ModCtrl, ModShift, ModAlt, ModGui} {
		if m&bit != 0 {
			out = append(out, bit)
		}
	}
	return out
}

// highest returns the highest-order modifier bit set, or ModNone.
func (m Modifier) highest() Modifier {
	for _, bit := range []Modifier{ModGui, ModAlt, ModShift, ModCtrl} {
		if m&bit != 0 {
			return bit
		}
	}
	return ModNone
}

var modNames = map[Modifier]string{
	ModCtrl:  "Ctrl",
	ModShift: "Shift",
	ModAlt:   "Alt",
	ModGui:   "Gui",
}

// String renders the set in canonical Ctrl+Shift+Alt+Gui order.
// The empty set renders as "none".
func (m Modifier) String() string {
	if m.IsEmpty() {
		return "none"
	}
	parts := make([]string, 0, m.Count())
	for _, bit := range m.Split() {
		parts = append(parts, modNames[bit])
	}
	return strings.Join(parts, "+")
}

// modTokens maps accepted spellings to modifier bits for ParseModifiers.
var modTokens = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"c":       ModCtrl,
	"shift":   ModShift,
	"s":       ModShift,
	"alt":     ModAlt,
	"opt":     ModAlt,
	"option":  ModAlt,
	"a":       ModAlt,
	"gui":     ModGui,
	"cmd":     ModGui,
	"win":     ModGui,
	"super":   ModGui,
	"g":       ModGui,
}

// ParseModifiers parses a user-supplied modifier list such as
// "ctrl+shift" or "Ctrl, Gui". Tokens are case-insensitive and may be
// separated by '+', ',' or whitespace. An unknown token is an error;
// an empty input yields ModNone.
func ParseModifiers(s string) (Modifier, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '+' || r == ',' || r == ' ' || r == '\t'
	})
	var m Modifier
	for _, f := range fields {
		bit, ok := modTokens[strings.ToLower(f)]
		if !ok {
			return ModNone, fmt.Errorf("keycode: unknown modifier %q", f)
		}
		m = m.With(bit)
	}
	return m, nil
}

// Hand identifies which physical modifier column a wrapped value
// activates. HandRight corresponds to bit 12 of the numeric wire form.
type Hand uint8

const (
	HandLeft Hand = iota
	HandRight
)

func (h Hand) String() string {
	if h == HandRight {
		return "right"
	}
	return "left"
}

// modKeys maps a single modifier bit to the key that activates it.
var modKeys = map[Modifier]Key{
	ModCtrl:  KeyLeftCtrl,
	ModShift: KeyLeftShift,
	ModAlt:   KeyLeftAlt,
	ModGui:   KeyLeftGui,
}

// ModKey returns the basic key for a single modifier on the given
// hand. It reports false when m is not exactly one modifier.
func ModKey(m Modifier, h Hand) (Key, bool) {
	k, ok := modKeys[m]
	if !ok {
		return 0, false
	}
	if h == HandRight {
		k += 4 // right-hand modifiers sit 4 codes above their left twin
	}
	return k, true
}
