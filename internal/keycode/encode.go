package keycode

import (
	"fmt"
	"strings"
)

// Encode produces the wire form of a descriptor. Unlike Decode it can
// fail: an invalid descriptor, a modifier combination with no named
// wrapper, or an out-of-range layer or reference index is reported so
// the caller keeps the previous value instead of writing garbage.
//
// Both forms are returned when the numeric form exists; combo
// references and layer-taps above layer 15 are string-only.
func (c *Codec) Encode(d Descriptor) (Wire, error) {
	if err := d.Validate(); err != nil {
		return Wire{}, err
	}

	switch d.Kind {
	case KindBlank:
		return Wire{Str: "KC_NO", Num: 0x0000, HasNum: true}, nil
	case KindTransparent:
		return Wire{Str: "KC_TRNS", Num: 0x0001, HasNum: true}, nil

	case KindPlain:
		if d.Base <= keyTransparent {
			return c.sentinelWire(d.Base)
		}
		name := d.Base.Name()
		if name == "" {
			return Wire{}, fmt.Errorf("%w: 0x%02X", ErrUnknownKey, uint8(d.Base))
		}
		return Wire{Str: name, Num: uint16(d.Base), HasNum: true}, nil

	case KindModded, KindModTap:
		// Modifiers never wrap the sentinels: the wrap dissolves and
		// the sentinel passes through unchanged.
		if d.Base <= keyTransparent {
			return c.sentinelWire(d.Base)
		}
		name := d.Base.Name()
		if name == "" {
			return Wire{}, fmt.Errorf("%w: 0x%02X", ErrUnknownKey, uint8(d.Base))
		}
		tap := d.Kind == KindModTap
		wname, ok := wrapperName(d.Mods, d.Hand, tap)
		if !ok {
			return Wire{}, fmt.Errorf("%w: %s (%s hand)", ErrNoWrapper, d.Mods, d.Hand)
		}
		num := uint16(d.Mods)<<8 | uint16(d.Base)
		if d.Hand == HandRight {
			num |= handBit
		}
		if tap {
			num |= rangeModTapMin
		}
		return Wire{Str: fmt.Sprintf("%s(%s)", wname, name), Num: num, HasNum: true}, nil

	case KindOneShotMod:
		flags := make([]string, 0, d.Mods.Count())
		for _, bit := range d.Mods.Split() {
			flags = append(flags, osmFlagNames[bit])
		}
		num := rangeOneShotMod | uint16(d.Mods)
		return Wire{Str: fmt.Sprintf("OSM(%s)", strings.Join(flags, "|")), Num: num, HasNum: true}, nil

	case KindLayerAction:
		if int(d.Layer) >= c.lim.Layers {
			return Wire{}, fmt.Errorf("%w: %d (device has %d layers)", ErrLayerRange, d.Layer, c.lim.Layers)
		}
		base, ok := layerOpRanges[d.Op]
		if !ok {
			return Wire{}, fmt.Errorf("keycode: unknown layer op %d", d.Op)
		}
		return Wire{
			Str:    fmt.Sprintf("%s(%d)", d.Op, d.Layer),
			Num:    base + uint16(d.Layer),
			HasNum: true,
		}, nil

	case KindLayerTap:
		if int(d.Layer) >= c.lim.Layers {
			return Wire{}, fmt.Errorf("%w: %d (device has %d layers)", ErrLayerRange, d.Layer, c.lim.Layers)
		}
		if d.Base <= keyTransparent {
			return Wire{}, fmt.Errorf("%w: layer-tap needs a base key", ErrUnknownKey)
		}
		name := d.Base.Name()
		if name == "" {
			return Wire{}, fmt.Errorf("%w: 0x%02X", ErrUnknownKey, uint8(d.Base))
		}
		w := Wire{Str: fmt.Sprintf("LT%d(%s)", d.Layer, name)}
		if d.Layer <= 0x0F {
			w.Num = rangeLayerTapMin | uint16(d.Layer)<<8 | uint16(d.Base)
			w.HasNum = true
		}
		return w, nil

	case KindComboRef:
		if int(d.Index) >= c.lim.Combos {
			return Wire{}, fmt.Errorf("%w: combo %d", ErrIndexRange, d.Index)
		}
		return Wire{Str: fmt.Sprintf("CMB(%d)", d.Index)}, nil

	case KindMacroRef:
		if int(d.Index) >= c.lim.Macros {
			return Wire{}, fmt.Errorf("%w: macro %d", ErrIndexRange, d.Index)
		}
		return Wire{Str: fmt.Sprintf("M%d", d.Index), Num: rangeMacroMin + uint16(d.Index), HasNum: true}, nil

	case KindTapDanceRef:
		if int(d.Index) >= c.lim.TapDances {
			return Wire{}, fmt.Errorf("%w: tap dance %d", ErrIndexRange, d.Index)
		}
		return Wire{Str: fmt.Sprintf("TD(%d)", d.Index), Num: rangeTapDanceMin + uint16(d.Index), HasNum: true}, nil

	case KindAltRepeat:
		return Wire{Str: "QK_AREP", Num: codeAltRepeat, HasNum: true}, nil
	case KindLeader:
		return Wire{Str: "QK_LEAD", Num: codeLeader, HasNum: true}, nil

	case KindOpaque:
		return d.Raw, nil
	}

	return Wire{}, fmt.Errorf("keycode: cannot encode kind %s", d.Kind)
}

func (c *Codec) sentinelWire(k Key) (Wire, error) {
	if k == keyTransparent {
		return Wire{Str: "KC_TRNS", Num: 0x0001, HasNum: true}, nil
	}
	return Wire{Str: "KC_NO", Num: 0x0000, HasNum: true}, nil
}

// Recompose reassigns the modifier wrap of an already-bound position.
// The current value's innermost base key is extracted and the new
// modifier set wraps it; the prior modifiers are replaced outright,
// never unioned. With no extractable base (blank position, layer
// action, reference) the chord stands alone: a single modifier becomes
// its own key, several wrap the highest-order modifier's key. An empty
// modifier set strips the wrap down to the bare base key.
func (c *Codec) Recompose(current Wire, mods Modifier, kind WrapKind) (Wire, error) {
	d := c.Decode(current)
	base, ok := d.BaseKey()
	if !ok {
		if mods.IsEmpty() {
			return current, nil
		}
		top := mods.highest()
		key, _ := ModKey(top, HandLeft)
		rest := mods.Without(top)
		if rest.IsEmpty() {
			return c.Encode(Plain(key))
		}
		if kind == WrapTap {
			return c.Encode(ModTap(rest, key))
		}
		return c.Encode(Modded(rest, key))
	}
	if mods.IsEmpty() {
		return c.Encode(Plain(base))
	}
	if kind == WrapTap {
		return c.Encode(ModTap(mods, base))
	}
	return c.Encode(Modded(mods, base))
}
