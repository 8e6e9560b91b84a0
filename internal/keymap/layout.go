package keymap

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"keymapd/internal/keycode"
)

// The layout file is a versioned JSON envelope. Key values travel as
// their string wire forms so files stay readable and diffable; macro
// steps stay numeric because action words have no string spelling.

//go:embed layout.schema.json
var layoutSchema []byte

const (
	layoutFormat  = "keymapd-layout"
	layoutVersion = 1
)

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("layout.schema.json", bytes.NewReader(layoutSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("layout.schema.json")
	})
	return schema, schemaErr
}

type layoutFile struct {
	Format      string         `json:"format"`
	Version     int            `json:"version"`
	ExportedAt  string         `json:"exported_at,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Device      layoutGeometry `json:"device"`
	Layers      [][][]string   `json:"layers"`
	Combos      []comboFile    `json:"combos,omitempty"`
	Macros      [][]uint16     `json:"macros,omitempty"`
	TapDances   []tapDanceFile `json:"tap_dances,omitempty"`
	AltRepeat   []altRepFile   `json:"alt_repeat,omitempty"`
	Leader      []leaderFile   `json:"leader,omitempty"`
}

type layoutGeometry struct {
	Layers int `json:"layers"`
	Rows   int `json:"rows"`
	Cols   int `json:"cols"`
}

type comboFile struct {
	Inputs []string `json:"inputs"`
	Output string   `json:"output"`
}

type tapDanceFile struct {
	Tap       string `json:"tap"`
	Hold      string `json:"hold"`
	DoubleTap string `json:"double_tap"`
	TapHold   string `json:"tap_hold"`
}

type altRepFile struct {
	When    string `json:"when"`
	Then    string `json:"then"`
	Enabled bool   `json:"enabled"`
}

type leaderFile struct {
	Sequence []string `json:"sequence"`
	Output   string   `json:"output"`
	Enabled  bool     `json:"enabled"`
}

// Export renders the snapshot as an indented layout file. Every cell
// decodes totally, so export cannot fail on key values.
func Export(s *Snapshot, c *keycode.Codec) ([]byte, error) {
	// Values are spelled in the canonical form DecodeString accepts,
	// so an exported file imports back bit-identically. Values with no
	// spelling fall back to hex, which parses numerically.
	str := func(v uint16) string {
		d := c.DecodeNumeric(v)
		if d.Kind != keycode.KindOpaque {
			if w, err := c.Encode(d); err == nil && w.Str != "" {
				return w.Str
			}
		}
		return fmt.Sprintf("0x%04X", v)
	}

	f := layoutFile{
		Format:      layoutFormat,
		Version:     layoutVersion,
		ExportedAt:  time.Now().UTC().Format(time.RFC3339),
		Fingerprint: s.Fingerprint(),
		Device:      layoutGeometry{Layers: s.Layers, Rows: s.Rows, Cols: s.Cols},
	}

	f.Layers = make([][][]string, s.Layers)
	for l := range s.Matrix {
		f.Layers[l] = make([][]string, s.Rows)
		for r := range s.Matrix[l] {
			row := make([]string, s.Cols)
			for col, v := range s.Matrix[l][r] {
				row[col] = str(v)
			}
			f.Layers[l][r] = row
		}
	}

	for _, cb := range s.Combos {
		cf := comboFile{Output: str(cb.Output)}
		for _, in := range cb.Inputs {
			cf.Inputs = append(cf.Inputs, str(in))
		}
		f.Combos = append(f.Combos, cf)
	}
	for _, m := range s.Macros {
		steps := append([]uint16(nil), m.Steps...)
		if steps == nil {
			steps = []uint16{}
		}
		f.Macros = append(f.Macros, steps)
	}
	for _, td := range s.TapDances {
		f.TapDances = append(f.TapDances, tapDanceFile{
			Tap:       str(td.Tap),
			Hold:      str(td.Hold),
			DoubleTap: str(td.DoubleTap),
			TapHold:   str(td.TapHold),
		})
	}
	for _, ar := range s.AltRepeats {
		f.AltRepeat = append(f.AltRepeat, altRepFile{
			When:    str(ar.When),
			Then:    str(ar.Then),
			Enabled: ar.Enabled,
		})
	}
	for _, ls := range s.Leaders {
		lf := leaderFile{Output: str(ls.Output), Enabled: ls.Enabled}
		for _, v := range ls.Sequence {
			if v == 0 {
				break
			}
			lf.Sequence = append(lf.Sequence, str(v))
		}
		if lf.Sequence == nil {
			lf.Sequence = []string{}
		}
		f.Leader = append(f.Leader, lf)
	}

	return json.MarshalIndent(f, "", "  ")
}

// Import parses and validates a layout file and rebuilds the snapshot.
// The file is checked against the embedded schema first, so a
// malformed file is rejected with the offending path before any key
// string is interpreted.
func Import(data []byte, c *keycode.Codec) (*Snapshot, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("keymap: layout schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("keymap: parse layout: %w", err)
	}
	if err := sch.Validate(instance); err != nil {
		return nil, fmt.Errorf("keymap: invalid layout: %w", err)
	}

	var f layoutFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("keymap: parse layout: %w", err)
	}

	num := func(where, s string) (uint16, error) {
		w, err := c.Encode(c.DecodeString(s))
		if err != nil {
			return 0, fmt.Errorf("keymap: %s: %q: %w", where, s, err)
		}
		if !w.HasNum {
			return 0, fmt.Errorf("keymap: %s: %q has no storable form", where, s)
		}
		return w.Num, nil
	}

	snap := NewSnapshot(f.Device.Layers, f.Device.Rows, f.Device.Cols)

	if len(f.Layers) != f.Device.Layers {
		return nil, fmt.Errorf("keymap: layout has %d layers, device block says %d", len(f.Layers), f.Device.Layers)
	}
	for l, layer := range f.Layers {
		if len(layer) != f.Device.Rows {
			return nil, fmt.Errorf("keymap: layer %d has %d rows, want %d", l, len(layer), f.Device.Rows)
		}
		for r, row := range layer {
			if len(row) != f.Device.Cols {
				return nil, fmt.Errorf("keymap: layer %d row %d has %d cols, want %d", l, r, len(row), f.Device.Cols)
			}
			for col, s := range row {
				v, err := num(fmt.Sprintf("cell %d.%d.%d", l, r, col), s)
				if err != nil {
					return nil, err
				}
				snap.Matrix[l][r][col] = v
			}
		}
	}

	for i, cf := range f.Combos {
		var cb Combo
		for j, s := range cf.Inputs {
			v, err := num(fmt.Sprintf("combo %d input %d", i, j), s)
			if err != nil {
				return nil, err
			}
			cb.Inputs[j] = v
		}
		if cb.Output, err = num(fmt.Sprintf("combo %d output", i), cf.Output); err != nil {
			return nil, err
		}
		snap.Combos = append(snap.Combos, cb)
	}

	for _, steps := range f.Macros {
		snap.Macros = append(snap.Macros, Macro{Steps: append([]uint16(nil), steps...)})
	}

	for i, tf := range f.TapDances {
		var td TapDance
		fields := []struct {
			dst  *uint16
			name string
			s    string
		}{
			{&td.Tap, "tap", tf.Tap},
			{&td.Hold, "hold", tf.Hold},
			{&td.DoubleTap, "double_tap", tf.DoubleTap},
			{&td.TapHold, "tap_hold", tf.TapHold},
		}
		for _, fd := range fields {
			v, err := num(fmt.Sprintf("tap dance %d %s", i, fd.name), fd.s)
			if err != nil {
				return nil, err
			}
			*fd.dst = v
		}
		snap.TapDances = append(snap.TapDances, td)
	}

	for i, af := range f.AltRepeat {
		var ar AltRepeatPair
		if ar.When, err = num(fmt.Sprintf("alt_repeat %d when", i), af.When); err != nil {
			return nil, err
		}
		if ar.Then, err = num(fmt.Sprintf("alt_repeat %d then", i), af.Then); err != nil {
			return nil, err
		}
		ar.Enabled = af.Enabled
		snap.AltRepeats = append(snap.AltRepeats, ar)
	}

	for i, lf := range f.Leader {
		var ls LeaderSequence
		if len(lf.Sequence) > len(ls.Sequence) {
			return nil, fmt.Errorf("keymap: leader %d sequence too long", i)
		}
		for j, s := range lf.Sequence {
			v, err := num(fmt.Sprintf("leader %d sequence %d", i, j), s)
			if err != nil {
				return nil, err
			}
			ls.Sequence[j] = v
		}
		if ls.Output, err = num(fmt.Sprintf("leader %d output", i), lf.Output); err != nil {
			return nil, err
		}
		ls.Enabled = lf.Enabled
		snap.Leaders = append(snap.Leaders, ls)
	}

	return snap, nil
}
