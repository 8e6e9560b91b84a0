package keycode

import (
	"strconv"
	"strings"
)

// Decode interprets a wire value. Decoding is total: anything the
// codec cannot interpret comes back as Opaque carrying w verbatim, so
// the value survives a read-edit-write cycle untouched.
func (c *Codec) Decode(w Wire) Descriptor {
	var d Descriptor
	if w.HasNum {
		d = c.DecodeNumeric(w.Num)
	} else {
		d = c.DecodeString(w.Str)
	}
	if d.Kind == KindOpaque {
		return Opaque(w)
	}
	return d
}

// DecodeNumeric interprets a 16-bit wire value.
func (c *Codec) DecodeNumeric(v uint16) Descriptor {
	opaque := func() Descriptor { return Opaque(Numeric(v)) }

	switch {
	case v == 0x0000:
		return Blank
	case v == 0x0001:
		return Transparent

	case v <= rangeBasicMax:
		k := Key(v)
		if !k.Named() {
			return opaque()
		}
		return Plain(k)

	case v <= rangeModMax:
		d, ok := decodeWrapped(v, KindModded)
		if !ok {
			return opaque()
		}
		return d

	case v >= rangeModTapMin && v <= rangeModTapMax:
		d, ok := decodeWrapped(v, KindModTap)
		if !ok {
			return opaque()
		}
		return d

	case v >= rangeLayerTapMin && v <= rangeLayerTapMax:
		layer := uint8(v >> 8 & 0x0F)
		base := Key(v)
		if int(layer) >= c.lim.Layers || !base.Named() || base <= keyTransparent {
			return opaque()
		}
		return LayerTap(layer, base)

	case v >= rangeTurnOn && v <= rangeLayerEnd:
		if v >= rangeOneShotMod && v < rangeTapToggle {
			return c.decodeOSM(v, opaque)
		}
		op, ok := layerOpForCode(v)
		if !ok {
			return opaque()
		}
		layer := uint8(v & 0x1F)
		if int(layer) >= c.lim.Layers {
			return opaque()
		}
		return Layer(op, layer)

	case v >= rangeTapDanceMin && v <= rangeTapDanceMax:
		idx := uint8(v)
		if int(idx) >= c.lim.TapDances {
			return opaque()
		}
		return TapDanceRef(idx)

	case v >= rangeMacroMin && v <= rangeMacroMax:
		idx := uint8(v & 0x7F)
		if int(idx) >= c.lim.Macros {
			return opaque()
		}
		return MacroRef(idx)

	case v == codeLeader:
		return LeaderKey
	case v == codeAltRepeat:
		return AltRepeatKey
	}

	return opaque()
}

// decodeWrapped pulls apart a modifier-wrapped or mod-tap value. A
// zero mask, a sentinel or unnamed base byte, or a right-hand
// multi-modifier mask (no named wrapper exists for those) reject the
// value so it stays Opaque.
func decodeWrapped(v uint16, kind Kind) (Descriptor, bool) {
	mods := Modifier(v >> 8 & 0x0F)
	hand := HandLeft
	if v&handBit != 0 {
		hand = HandRight
	}
	base := Key(v)
	if mods.IsEmpty() {
		return Descriptor{}, false
	}
	if hand == HandRight && mods.Count() > 1 {
		return Descriptor{}, false
	}
	if base <= keyTransparent || !base.Named() {
		return Descriptor{}, false
	}
	return Descriptor{Kind: kind, Mods: mods, Hand: hand, Base: base}, true
}

// decodeOSM interprets a one-shot-modifier value. The payload's hand
// bit and a zero mask both fall out of the model: the value stays
// Opaque rather than becoming an invalid descriptor.
func (c *Codec) decodeOSM(v uint16, opaque func() Descriptor) Descriptor {
	payload := v - rangeOneShotMod
	if payload&osmHandBit != 0 {
		return opaque()
	}
	mods := Modifier(payload & 0x0F)
	if mods.IsEmpty() {
		return opaque()
	}
	return OneShotMod(mods)
}

func layerOpForCode(v uint16) (LayerOp, bool) {
	for op, base := range layerOpRanges {
		if v >= base && v < base+0x20 {
			return op, true
		}
	}
	return 0, false
}

var layerOpsByName = map[string]LayerOp{
	"MO":  LayerMomentary,
	"DF":  LayerSetDefault,
	"TG":  LayerToggle,
	"TT":  LayerTapToggle,
	"OSL": LayerOneShot,
	"TO":  LayerTurnOn,
}

var osmFlags = map[string]Modifier{
	"MOD_LCTL": ModCtrl,
	"MOD_LSFT": ModShift,
	"MOD_LALT": ModAlt,
	"MOD_LGUI": ModGui,
}

var osmFlagNames = map[Modifier]string{
	ModCtrl:  "MOD_LCTL",
	ModShift: "MOD_LSFT",
	ModAlt:   "MOD_LALT",
	ModGui:   "MOD_LGUI",
}

// DecodeString interprets a string wire value. Dispatch is an
// exhaustive match over the closed descriptor set: fixed tokens, the
// basic name table, call forms against the wrapper and layer tables,
// and the macro shorthand. Unrecognized input comes back Opaque.
func (c *Codec) DecodeString(s string) Descriptor {
	s = strings.TrimSpace(s)
	opaque := func() Descriptor { return Opaque(FromString(s)) }

	if s == "" {
		return Blank
	}
	switch s {
	case "KC_NO", "XXXXXXX":
		return Blank
	case "KC_TRNS", "KC_TRANSPARENT", "_______":
		return Transparent
	case "QK_AREP":
		return AltRepeatKey
	case "QK_LEAD":
		return LeaderKey
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 16)
		if err != nil {
			return opaque()
		}
		return c.DecodeNumeric(uint16(v))
	}

	if k, ok := KeyByName(s); ok {
		return Plain(k)
	}

	// Macro shorthand M{n} has no parentheses.
	if idx, ok := trailingIndex(s, "M"); ok {
		if idx >= c.lim.Macros {
			return opaque()
		}
		return MacroRef(uint8(idx))
	}

	fn, arg, ok := splitCall(s)
	if !ok {
		return opaque()
	}

	if op, ok := layerOpsByName[fn]; ok {
		layer, ok := parseIndex(arg)
		if !ok || layer >= c.lim.Layers {
			return opaque()
		}
		return Layer(op, uint8(layer))
	}

	switch fn {
	case "OSM":
		return c.decodeOSMString(arg, opaque)
	case "TD":
		idx, ok := parseIndex(arg)
		if !ok || idx >= c.lim.TapDances {
			return opaque()
		}
		return TapDanceRef(uint8(idx))
	case "CMB":
		idx, ok := parseIndex(arg)
		if !ok || idx >= c.lim.Combos {
			return opaque()
		}
		return ComboRef(uint8(idx))
	}

	if layer, ok := trailingIndex(fn, "LT"); ok {
		base, named := KeyByName(arg)
		if !named || base <= keyTransparent || layer >= c.lim.Layers {
			return opaque()
		}
		return LayerTap(uint8(layer), base)
	}

	if ref, ok := lookupWrapper(fn); ok {
		base, named := KeyByName(arg)
		if !named || base <= keyTransparent {
			return opaque()
		}
		kind := KindModded
		if ref.tap {
			kind = KindModTap
		}
		return Descriptor{Kind: kind, Mods: ref.mods, Hand: ref.hand, Base: base}
	}

	return opaque()
}

// decodeOSMString parses the flag list of an OSM(...) form. An empty
// flag set means "no one-shot" and decodes to Blank.
func (c *Codec) decodeOSMString(arg string, opaque func() Descriptor) Descriptor {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return Blank
	}
	var mods Modifier
	for _, part := range strings.Split(arg, "|") {
		flag, ok := osmFlags[strings.TrimSpace(part)]
		if !ok {
			return opaque()
		}
		mods = mods.With(flag)
	}
	if mods.IsEmpty() {
		return Blank
	}
	return OneShotMod(mods)
}

// splitCall breaks "FN(arg)" into its parts. The argument may itself
// contain parentheses; only the outermost pair is stripped.
func splitCall(s string) (fn, arg string, ok bool) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", "", false
	}
	return s[:open], s[open+1 : len(s)-1], true
}

// trailingIndex matches prefix followed by bare digits ("LT3", "M12").
func trailingIndex(s, prefix string) (int, bool) {
	rest, found := strings.CutPrefix(s, prefix)
	if !found || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseIndex(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
