package keycode

import (
	"errors"
	"fmt"
)

// Errors reported by descriptor validation and encoding.
var (
	ErrEmptyMods  = errors.New("keycode: modifier set is empty")
	ErrNoWrapper  = errors.New("keycode: no named wrapper for modifier combination")
	ErrLayerRange = errors.New("keycode: layer index out of range")
	ErrIndexRange = errors.New("keycode: reference index out of range")
	ErrUnknownKey = errors.New("keycode: key has no name")
)

// Wire is a keycode in wire form: the canonical string spelling plus
// the 16-bit numeric form when the value has one. String-only values
// (combo references, layer-taps above layer 15) leave HasNum false.
type Wire struct {
	Str    string
	Num    uint16
	HasNum bool
}

// Numeric builds a Wire for a raw 16-bit value. The string form is the
// hex spelling; decoding recovers the typed form when one exists.
func Numeric(v uint16) Wire {
	return Wire{Str: fmt.Sprintf("0x%04X", v), Num: v, HasNum: true}
}

// FromString builds a string-only Wire.
func FromString(s string) Wire {
	return Wire{Str: s}
}

func (w Wire) String() string { return w.Str }

// IsZero reports whether w carries no value at all.
func (w Wire) IsZero() bool { return w.Str == "" && !w.HasNum }

// Kind discriminates the descriptor variants. The zero value is
// KindBlank, so a zero Descriptor is the blank binding.
type Kind uint8

const (
	KindBlank Kind = iota
	KindTransparent
	KindPlain
	KindModded
	KindModTap
	KindOneShotMod
	KindLayerAction
	KindLayerTap
	KindComboRef
	KindMacroRef
	KindTapDanceRef
	KindAltRepeat
	KindLeader
	KindOpaque
)

var kindNames = map[Kind]string{
	KindBlank:       "blank",
	KindTransparent: "transparent",
	KindPlain:       "plain",
	KindModded:      "modded",
	KindModTap:      "mod-tap",
	KindOneShotMod:  "one-shot-mod",
	KindLayerAction: "layer-action",
	KindLayerTap:    "layer-tap",
	KindComboRef:    "combo-ref",
	KindMacroRef:    "macro-ref",
	KindTapDanceRef: "tap-dance-ref",
	KindAltRepeat:   "alt-repeat",
	KindLeader:      "leader",
	KindOpaque:      "opaque",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// LayerOp is the layer-action flavor.
type LayerOp uint8

const (
	LayerMomentary LayerOp = iota
	LayerSetDefault
	LayerToggle
	LayerTapToggle
	LayerOneShot
	LayerTurnOn
)

var layerOpNames = map[LayerOp]string{
	LayerMomentary:  "MO",
	LayerSetDefault: "DF",
	LayerToggle:     "TG",
	LayerTapToggle:  "TT",
	LayerOneShot:    "OSL",
	LayerTurnOn:     "TO",
}

func (op LayerOp) String() string {
	if n, ok := layerOpNames[op]; ok {
		return n
	}
	return fmt.Sprintf("layer-op(%d)", uint8(op))
}

// Descriptor is one keybinding in typed form. It is a plain value:
// every operation that "changes" a descriptor constructs a new one.
// Which fields are meaningful depends on Kind; Validate enforces the
// combinations.
type Descriptor struct {
	Kind  Kind
	Base  Key      // Plain, Modded, ModTap, LayerTap
	Mods  Modifier // Modded, ModTap, OneShotMod
	Hand  Hand     // Modded, ModTap
	Op    LayerOp  // LayerAction
	Layer uint8    // LayerAction, LayerTap
	Index uint8    // ComboRef, MacroRef, TapDanceRef
	Raw   Wire     // Opaque
}

// Sentinel descriptors. Modifiers never wrap these; encoding a wrap
// around one yields the sentinel itself.
var (
	Blank       = Descriptor{Kind: KindBlank}
	Transparent = Descriptor{Kind: KindTransparent}
)

// Fixed feature keys.
var (
	AltRepeatKey = Descriptor{Kind: KindAltRepeat}
	LeaderKey    = Descriptor{Kind: KindLeader}
)

// Plain builds a single-key descriptor.
func Plain(base Key) Descriptor {
	return Descriptor{Kind: KindPlain, Base: base}
}

// Modded builds a modifier-wrapped key. An empty mods set makes the
// descriptor invalid; Validate and Encode reject it.
func Modded(mods Modifier, base Key) Descriptor {
	return Descriptor{Kind: KindModded, Mods: mods & modMask, Base: base}
}

// ModTap builds a hold-for-mods, tap-for-key descriptor.
func ModTap(mods Modifier, base Key) Descriptor {
	return Descriptor{Kind: KindModTap, Mods: mods & modMask, Base: base}
}

// OneShotMod builds a one-shot modifier descriptor.
func OneShotMod(mods Modifier) Descriptor {
	return Descriptor{Kind: KindOneShotMod, Mods: mods & modMask}
}

// Layer builds a layer-action descriptor.
func Layer(op LayerOp, layer uint8) Descriptor {
	return Descriptor{Kind: KindLayerAction, Op: op, Layer: layer}
}

// LayerTap builds a hold-for-layer, tap-for-key descriptor.
func LayerTap(layer uint8, base Key) Descriptor {
	return Descriptor{Kind: KindLayerTap, Layer: layer, Base: base}
}

// ComboRef references an entry in the combo table.
func ComboRef(index uint8) Descriptor {
	return Descriptor{Kind: KindComboRef, Index: index}
}

// MacroRef references an entry in the macro table.
func MacroRef(index uint8) Descriptor {
	return Descriptor{Kind: KindMacroRef, Index: index}
}

// TapDanceRef references an entry in the tap-dance table.
func TapDanceRef(index uint8) Descriptor {
	return Descriptor{Kind: KindTapDanceRef, Index: index}
}

// Opaque preserves a wire value the codec could not interpret. It
// re-encodes to exactly the raw form it carries.
func Opaque(raw Wire) Descriptor {
	return Descriptor{Kind: KindOpaque, Raw: raw}
}

// WithHand returns a copy of d bound to the given modifier hand.
func (d Descriptor) WithHand(h Hand) Descriptor {
	d.Hand = h
	return d
}

// IsSentinel reports whether d is Blank or Transparent.
func (d Descriptor) IsSentinel() bool {
	return d.Kind == KindBlank || d.Kind == KindTransparent
}

// BaseKey extracts the innermost base key of a base-bearing variant.
// It reports false for variants with no base (sentinels, layer
// actions, references, one-shot mods, opaque values) and for base
// bytes in sentinel positions.
func (d Descriptor) BaseKey() (Key, bool) {
	switch d.Kind {
	case KindPlain, KindModded, KindModTap, KindLayerTap:
		if d.Base <= keyTransparent {
			return 0, false
		}
		return d.Base, true
	default:
		return 0, false
	}
}

// Validate checks the field combination for d's kind. Descriptors
// produced by Decode are always valid; hand-built ones may not be.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindModded, KindModTap:
		if d.Mods.IsEmpty() {
			return ErrEmptyMods
		}
	case KindOneShotMod:
		if d.Mods.IsEmpty() {
			return ErrEmptyMods
		}
	case KindOpaque:
		if d.Raw.IsZero() {
			return fmt.Errorf("keycode: opaque descriptor with no raw value")
		}
	}
	return nil
}

// String renders d for logs and error messages. It is best-effort and
// infallible; use Encode for wire output.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindBlank:
		return "KC_NO"
	case KindTransparent:
		return "KC_TRNS"
	case KindPlain:
		if n := d.Base.Name(); n != "" {
			return n
		}
		return fmt.Sprintf("key(0x%02X)", uint8(d.Base))
	case KindModded:
		return fmt.Sprintf("%s+%s", d.Mods, d.Base.Name())
	case KindModTap:
		return fmt.Sprintf("%s+%s(tap)", d.Mods, d.Base.Name())
	case KindOneShotMod:
		return fmt.Sprintf("OSM(%s)", d.Mods)
	case KindLayerAction:
		return fmt.Sprintf("%s(%d)", d.Op, d.Layer)
	case KindLayerTap:
		return fmt.Sprintf("LT%d(%s)", d.Layer, d.Base.Name())
	case KindComboRef:
		return fmt.Sprintf("CMB(%d)", d.Index)
	case KindMacroRef:
		return fmt.Sprintf("M%d", d.Index)
	case KindTapDanceRef:
		return fmt.Sprintf("TD(%d)", d.Index)
	case KindAltRepeat:
		return "QK_AREP"
	case KindLeader:
		return "QK_LEAD"
	case KindOpaque:
		return d.Raw.Str
	}
	return d.Kind.String()
}
