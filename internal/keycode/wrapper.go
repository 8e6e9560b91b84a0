package keycode

// wrapper is one row of the modifier wrapper table: the plain-wrap and
// tap-wrap spellings for a (mask, hand) pair.
type wrapper struct {
	mods  Modifier
	hand  Hand
	plain string
	tap   string
}

// wrapperTable names every left-hand mask (the 4-bit space is total)
// plus the four right-hand singles. Right-hand multi-modifier masks
// have no spelling: encoding one fails with ErrNoWrapper and decoding
// the numeric form yields Opaque.
var wrapperTable = []wrapper{
	{ModCtrl, HandLeft, "C", "CTL_T"},
	{ModShift, HandLeft, "S", "SFT_T"},
	{ModAlt, HandLeft, "A", "ALT_T"},
	{ModGui, HandLeft, "G", "GUI_T"},
	{ModCtrl | ModShift, HandLeft, "C_S", "C_S_T"},
	{ModCtrl | ModAlt, HandLeft, "LCA", "LCA_T"},
	{ModShift | ModAlt, HandLeft, "LSA", "LSA_T"},
	{ModCtrl | ModGui, HandLeft, "LCG", "LCG_T"},
	{ModShift | ModGui, HandLeft, "LSG", "LSG_T"},
	{ModAlt | ModGui, HandLeft, "LAG", "LAG_T"},
	{ModCtrl | ModShift | ModAlt, HandLeft, "MEH", "MEH_T"},
	{ModCtrl | ModShift | ModGui, HandLeft, "LCSG", "LCSG_T"},
	{ModCtrl | ModAlt | ModGui, HandLeft, "LCAG", "LCAG_T"},
	{ModShift | ModAlt | ModGui, HandLeft, "LSAG", "LSAG_T"},
	{ModCtrl | ModShift | ModAlt | ModGui, HandLeft, "HYPR", "HYPR_T"},

	{ModCtrl, HandRight, "RCTL", "RCTL_T"},
	{ModShift, HandRight, "RSFT", "RSFT_T"},
	{ModAlt, HandRight, "RALT", "RALT_T"},
	{ModGui, HandRight, "RGUI", "RGUI_T"},
}

type wrapperKey struct {
	mods Modifier
	hand Hand
}

// wrapperRef resolves a wrapper name back to its mask, hand and kind.
type wrapperRef struct {
	mods Modifier
	hand Hand
	tap  bool
}

var (
	wrappersByMask map[wrapperKey]wrapper
	wrappersByName map[string]wrapperRef
)

func init() {
	wrappersByMask = make(map[wrapperKey]wrapper, len(wrapperTable))
	wrappersByName = make(map[string]wrapperRef, len(wrapperTable)*2)
	for _, w := range wrapperTable {
		wrappersByMask[wrapperKey{w.mods, w.hand}] = w
		wrappersByName[w.plain] = wrapperRef{mods: w.mods, hand: w.hand}
		wrappersByName[w.tap] = wrapperRef{mods: w.mods, hand: w.hand, tap: true}
	}
}

// wrapperName returns the spelling for a (mask, hand, tap) triple.
func wrapperName(mods Modifier, hand Hand, tap bool) (string, bool) {
	w, ok := wrappersByMask[wrapperKey{mods & modMask, hand}]
	if !ok {
		return "", false
	}
	if tap {
		return w.tap, true
	}
	return w.plain, true
}

// lookupWrapper resolves a call-form function name such as "MEH" or
// "CTL_T" to its wrapper definition.
func lookupWrapper(name string) (wrapperRef, bool) {
	ref, ok := wrappersByName[name]
	return ref, ok
}
