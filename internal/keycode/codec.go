package keycode

// Limits bound the layer and feature-table indexes the codec accepts.
// They come from the connected device's reported geometry; indexes at
// or past a limit decode to Opaque and refuse to encode.
type Limits struct {
	Layers    int
	Combos    int
	Macros    int
	TapDances int
}

// DefaultLimits matches the smallest firmware build.
func DefaultLimits() Limits {
	return Limits{Layers: 16, Combos: 32, Macros: 32, TapDances: 16}
}

// Codec translates between wire keycodes and descriptors for one
// device geometry. It is stateless beyond its limits and safe for
// concurrent use.
type Codec struct {
	lim Limits
}

// New builds a codec, filling absent limits from the defaults and
// clamping each to the width its numeric range can address.
func New(lim Limits) *Codec {
	def := DefaultLimits()
	if lim.Layers <= 0 {
		lim.Layers = def.Layers
	}
	if lim.Layers > 32 {
		lim.Layers = 32
	}
	if lim.Combos <= 0 {
		lim.Combos = def.Combos
	}
	if lim.Combos > 256 {
		lim.Combos = 256
	}
	if lim.Macros <= 0 {
		lim.Macros = def.Macros
	}
	if lim.Macros > 128 {
		lim.Macros = 128
	}
	if lim.TapDances <= 0 {
		lim.TapDances = def.TapDances
	}
	if lim.TapDances > 256 {
		lim.TapDances = 256
	}
	return &Codec{lim: lim}
}

// Limits returns the geometry the codec was built with.
func (c *Codec) Limits() Limits {
	return c.lim
}

// WrapKind selects how Recompose wraps modifiers around a base key.
type WrapKind uint8

const (
	WrapNone WrapKind = iota // no wrap selected; mods apply as plain wrap
	WrapMod                  // hold chord: Modded
	WrapTap                  // hold for mods, tap for key: ModTap
)

// Numeric range layout. Bits 0-7 carry the base key in the wrapped
// ranges; bits 8-11 the modifier mask or layer; bit 12 the hand.
const (
	rangeBasicMax    uint16 = 0x00FF
	rangeModMax      uint16 = 0x1FFF
	rangeModTapMin   uint16 = 0x2000
	rangeModTapMax   uint16 = 0x3FFF
	rangeLayerTapMin uint16 = 0x4000
	rangeLayerTapMax uint16 = 0x4FFF

	rangeTurnOn       uint16 = 0x5200
	rangeMomentary    uint16 = 0x5220
	rangeSetDefault   uint16 = 0x5240
	rangeToggle       uint16 = 0x5260
	rangeOneShotLayer uint16 = 0x5280
	rangeOneShotMod   uint16 = 0x52A0
	rangeTapToggle    uint16 = 0x52C0
	rangeLayerEnd     uint16 = 0x52DF

	rangeTapDanceMin uint16 = 0x5700
	rangeTapDanceMax uint16 = 0x57FF
	rangeMacroMin    uint16 = 0x7700
	rangeMacroMax    uint16 = 0x777F

	codeLeader    uint16 = 0x7C58
	codeAltRepeat uint16 = 0x7C7A

	handBit    uint16 = 0x1000
	osmHandBit uint16 = 0x0010
)

// layerOpRanges maps each layer-action flavor to the base of its
// 32-wide numeric window.
var layerOpRanges = map[LayerOp]uint16{
	LayerTurnOn:     rangeTurnOn,
	LayerMomentary:  rangeMomentary,
	LayerSetDefault: rangeSetDefault,
	LayerToggle:     rangeToggle,
	LayerOneShot:    rangeOneShotLayer,
	LayerTapToggle:  rangeTapToggle,
}
