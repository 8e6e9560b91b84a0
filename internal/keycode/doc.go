// Package keycode models keybindings as typed descriptors and
// translates them to and from the device's wire vocabulary.
//
// A binding travels in two wire forms: a 16-bit numeric keycode (what
// the keymap matrix stores) and a string spelling (what exports and
// the feature tables use). The codec converts either form into a
// Descriptor, a closed set of variants covering plain keys, modifier
// wraps, mod-taps, one-shot modifiers, layer actions, layer-taps,
// feature references and the two sentinels.
//
// Decoding is total: a value the codec cannot interpret becomes an
// Opaque descriptor carrying the raw form, and re-encodes to exactly
// that form. Encoding is fallible: an unrepresentable descriptor is
// an error, never a silently altered value.
package keycode
