package keycode

// Key is a basic keycode: the low byte of the numeric wire form and
// the payload byte of every wrapped form. Values follow the HID usage
// table the firmware consumes.
type Key uint8

// Sentinel positions within the basic space. These are surfaced as the
// Blank and Transparent descriptors, never as Plain keys.
const (
	keyNone        Key = 0x00
	keyTransparent Key = 0x01
)

// Modifier keys. Right-hand codes sit 4 above their left twin.
const (
	KeyLeftCtrl   Key = 0xE0
	KeyLeftShift  Key = 0xE1
	KeyLeftAlt    Key = 0xE2
	KeyLeftGui    Key = 0xE3
	KeyRightCtrl  Key = 0xE4
	KeyRightShift Key = 0xE5
	KeyRightAlt   Key = 0xE6
	KeyRightGui   Key = 0xE7
)

// keyNames is the canonical name table. It is bijective: each named
// code has exactly one canonical spelling, used for every encode.
// Codes absent from this table are not representable as Plain keys
// and decode to Opaque.
var keyNames = map[Key]string{
	0x04: "KC_A", 0x05: "KC_B", 0x06: "KC_C", 0x07: "KC_D",
	0x08: "KC_E", 0x09: "KC_F", 0x0A: "KC_G", 0x0B: "KC_H",
	0x0C: "KC_I", 0x0D: "KC_J", 0x0E: "KC_K", 0x0F: "KC_L",
	0x10: "KC_M", 0x11: "KC_N", 0x12: "KC_O", 0x13: "KC_P",
	0x14: "KC_Q", 0x15: "KC_R", 0x16: "KC_S", 0x17: "KC_T",
	0x18: "KC_U", 0x19: "KC_V", 0x1A: "KC_W", 0x1B: "KC_X",
	0x1C: "KC_Y", 0x1D: "KC_Z",

	0x1E: "KC_1", 0x1F: "KC_2", 0x20: "KC_3", 0x21: "KC_4",
	0x22: "KC_5", 0x23: "KC_6", 0x24: "KC_7", 0x25: "KC_8",
	0x26: "KC_9", 0x27: "KC_0",

	0x28: "KC_ENT", 0x29: "KC_ESC", 0x2A: "KC_BSPC", 0x2B: "KC_TAB",
	0x2C: "KC_SPC", 0x2D: "KC_MINS", 0x2E: "KC_EQL", 0x2F: "KC_LBRC",
	0x30: "KC_RBRC", 0x31: "KC_BSLS", 0x32: "KC_NUHS", 0x33: "KC_SCLN",
	0x34: "KC_QUOT", 0x35: "KC_GRV", 0x36: "KC_COMM", 0x37: "KC_DOT",
	0x38: "KC_SLSH", 0x39: "KC_CAPS",

	0x3A: "KC_F1", 0x3B: "KC_F2", 0x3C: "KC_F3", 0x3D: "KC_F4",
	0x3E: "KC_F5", 0x3F: "KC_F6", 0x40: "KC_F7", 0x41: "KC_F8",
	0x42: "KC_F9", 0x43: "KC_F10", 0x44: "KC_F11", 0x45: "KC_F12",

	0x46: "KC_PSCR", 0x47: "KC_SCRL", 0x48: "KC_PAUS", 0x49: "KC_INS",
	0x4A: "KC_HOME", 0x4B: "KC_PGUP", 0x4C: "KC_DEL", 0x4D: "KC_END",
	0x4E: "KC_PGDN", 0x4F: "KC_RGHT", 0x50: "KC_LEFT", 0x51: "KC_DOWN",
	0x52: "KC_UP",

	0x53: "KC_NUM", 0x54: "KC_PSLS", 0x55: "KC_PAST", 0x56: "KC_PMNS",
	0x57: "KC_PPLS", 0x58: "KC_PENT",
	0x59: "KC_P1", 0x5A: "KC_P2", 0x5B: "KC_P3", 0x5C: "KC_P4",
	0x5D: "KC_P5", 0x5E: "KC_P6", 0x5F: "KC_P7", 0x60: "KC_P8",
	0x61: "KC_P9", 0x62: "KC_P0", 0x63: "KC_PDOT",

	0x64: "KC_NUBS", 0x65: "KC_APP", 0x67: "KC_PEQL",

	0x68: "KC_F13", 0x69: "KC_F14", 0x6A: "KC_F15", 0x6B: "KC_F16",
	0x6C: "KC_F17", 0x6D: "KC_F18", 0x6E: "KC_F19", 0x6F: "KC_F20",
	0x70: "KC_F21", 0x71: "KC_F22", 0x72: "KC_F23", 0x73: "KC_F24",

	0x74: "KC_EXEC", 0x75: "KC_HELP", 0x76: "KC_MENU", 0x77: "KC_SLCT",
	0x78: "KC_STOP", 0x79: "KC_AGIN", 0x7A: "KC_UNDO", 0x7B: "KC_CUT",
	0x7C: "KC_COPY", 0x7D: "KC_PSTE", 0x7E: "KC_FIND",
	0x7F: "KC_MUTE", 0x80: "KC_VOLU", 0x81: "KC_VOLD",

	0x85: "KC_PCMM",
	0x87: "KC_INT1", 0x88: "KC_INT2", 0x89: "KC_INT3", 0x8A: "KC_INT4",
	0x8B: "KC_INT5", 0x8C: "KC_INT6",
	0x90: "KC_LNG1", 0x91: "KC_LNG2", 0x92: "KC_LNG3", 0x93: "KC_LNG4",
	0x94: "KC_LNG5",

	KeyLeftCtrl: "KC_LCTL", KeyLeftShift: "KC_LSFT",
	KeyLeftAlt: "KC_LALT", KeyLeftGui: "KC_LGUI",
	KeyRightCtrl: "KC_RCTL", KeyRightShift: "KC_RSFT",
	KeyRightAlt: "KC_RALT", KeyRightGui: "KC_RGUI",
}

// keyAliases maps long-form spellings accepted on input to their
// canonical names. Output always uses the canonical short form.
var keyAliases = map[string]string{
	"KC_ENTER":        "KC_ENT",
	"KC_ESCAPE":       "KC_ESC",
	"KC_BACKSPACE":    "KC_BSPC",
	"KC_SPACE":        "KC_SPC",
	"KC_MINUS":        "KC_MINS",
	"KC_EQUAL":        "KC_EQL",
	"KC_SEMICOLON":    "KC_SCLN",
	"KC_QUOTE":        "KC_QUOT",
	"KC_GRAVE":        "KC_GRV",
	"KC_COMMA":        "KC_COMM",
	"KC_SLASH":        "KC_SLSH",
	"KC_CAPS_LOCK":    "KC_CAPS",
	"KC_DELETE":       "KC_DEL",
	"KC_INSERT":       "KC_INS",
	"KC_PAGE_UP":      "KC_PGUP",
	"KC_PAGE_DOWN":    "KC_PGDN",
	"KC_RIGHT":        "KC_RGHT",
	"KC_PRINT_SCREEN": "KC_PSCR",
	"KC_LEFT_CTRL":    "KC_LCTL",
	"KC_LEFT_SHIFT":   "KC_LSFT",
	"KC_LEFT_ALT":     "KC_LALT",
	"KC_LEFT_GUI":     "KC_LGUI",
	"KC_RIGHT_CTRL":   "KC_RCTL",
	"KC_RIGHT_SHIFT":  "KC_RSFT",
	"KC_RIGHT_ALT":    "KC_RALT",
	"KC_RIGHT_GUI":    "KC_RGUI",
}

var keysByName map[string]Key

func init() {
	keysByName = make(map[string]Key, len(keyNames)+len(keyAliases))
	for k, name := range keyNames {
		keysByName[name] = k
	}
	for alias, canonical := range keyAliases {
		keysByName[alias] = keysByName[canonical]
	}
}

// Name returns the canonical name of k, or "" when k is unnamed or a
// sentinel position.
func (k Key) Name() string {
	return keyNames[k]
}

// Named reports whether k has a canonical name.
func (k Key) Named() bool {
	_, ok := keyNames[k]
	return ok
}

// IsModifier reports whether k is one of the eight modifier keys.
func (k Key) IsModifier() bool {
	return k >= KeyLeftCtrl && k <= KeyRightGui
}

// KeyByName resolves a canonical name or accepted alias to its key.
func KeyByName(name string) (Key, bool) {
	k, ok := keysByName[name]
	return k, ok
}
