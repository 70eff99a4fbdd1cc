package spec

import (
	"encoding/json"
	"fmt"
)

// Tracker output formats.
const (
	FormatXM = "xm"
	FormatIT = "it"
)

// Per-format structural limits.
const (
	XMMaxChannels     = 32
	ITMaxChannels     = 64
	XMMaxBreakRow     = 63
	MaxPatternRows    = 256
	XMMaxGlobalVolume = 64
	ITMaxGlobalVolume = 128
)

// TrackerParams is the canonical (fully expanded) form of a tracker song.
type TrackerParams struct {
	Format       string             `json:"format"`
	BPM          int                `json:"bpm"`
	Speed        int                `json:"speed"`
	GlobalVolume *int               `json:"global_volume,omitempty"`
	Channels     int                `json:"channels"`
	Instruments  []Instrument       `json:"instruments"`
	Patterns     map[string]Pattern `json:"patterns"`
	Arrangement  []string           `json:"arrangement"`
}

// Instrument describes one sample source: an external audio_v1 spec by path,
// or inline synthesis rendered by the audio engine.
type Instrument struct {
	Name            string     `json:"name"`
	Ref             string     `json:"ref,omitempty"`
	Synthesis       *Synthesis `json:"synthesis,omitempty"`
	Envelope        *Envelope  `json:"envelope,omitempty"`
	BaseNote        string     `json:"base_note,omitempty"`
	Volume          int        `json:"volume,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	Loop            *LoopSpec  `json:"loop,omitempty"`
}

// LoopSpec controls sample loop point location.
type LoopSpec struct {
	Mode        string  `json:"mode"` // "none", "forward", "pingpong"
	CrossfadeMS float64 `json:"crossfade_ms,omitempty"`
}

// Pattern is a grid of rows with sparse events.
type Pattern struct {
	Rows int     `json:"rows"`
	Data []Event `json:"data"`
}

// Event places a cell at (row, channel).
type Event struct {
	Row     int            `json:"row"`
	Channel int            `json:"channel"`
	Note    string         `json:"note,omitempty"`
	Inst    *int           `json:"inst,omitempty"`
	Vol     *int           `json:"vol,omitempty"`
	Effect  *TrackerEffect `json:"effect,omitempty"`
}

// TrackerEffect is a typed effect command; each variant encodes to the
// format-specific effect column (XM letter codes, IT letter codes).
type TrackerEffect struct {
	Type string `json:"type"`

	X     int `json:"x,omitempty"`
	Y     int `json:"y,omitempty"`
	Speed int `json:"speed,omitempty"`
	Depth int `json:"depth,omitempty"`
	Value int `json:"value,omitempty"`
	Row   int `json:"row,omitempty"`
}

// trackerEffectFields enumerates the closed effect-command set.
var trackerEffectFields = map[string][]string{
	"arpeggio":          {"x", "y"},
	"porta_up":          {"speed"},
	"porta_down":        {"speed"},
	"tone_porta":        {"speed"},
	"vibrato":           {"speed", "depth"},
	"tremolo":           {"speed", "depth"},
	"volume_slide":      {"x", "y"},
	"set_speed":         {"value"},
	"set_tempo":         {"value"},
	"pattern_break":     {"row"},
	"position_jump":     {"value"},
	"set_global_volume": {"value"},
	"sample_offset":     {"value"},
	"retrig":            {"value"},
	"note_cut":          {"value"},
	"note_delay":        {"value"},
	"set_panning":       {"value"},
}

// UnmarshalJSON enforces the closed tracker-effect union.
func (t *TrackerEffect) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tagRaw, ok := raw["type"]
	if !ok {
		return fmt.Errorf("tracker effect: missing type tag")
	}
	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return fmt.Errorf("tracker effect: bad type tag: %w", err)
	}
	allowed, ok := trackerEffectFields[tag]
	if !ok {
		return fmt.Errorf("tracker effect: unknown type %q", tag)
	}
	if err := checkTagFields("tracker effect", tag, raw, allowed); err != nil {
		return err
	}

	type alias TrackerEffect
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = TrackerEffect(a)
	return nil
}

// ComposeParams is the pattern-expression form of a tracker song. It shares
// the song header with TrackerParams but replaces concrete patterns with
// programs, plus optional named sub-programs, a timebase, and harmony.
type ComposeParams struct {
	Format       string                    `json:"format"`
	BPM          int                       `json:"bpm"`
	Speed        int                       `json:"speed"`
	GlobalVolume *int                      `json:"global_volume,omitempty"`
	Channels     int                       `json:"channels"`
	Instruments  []Instrument              `json:"instruments"`
	Defs         map[string]*PatternExpr   `json:"defs,omitempty"`
	Patterns     map[string]ComposePattern `json:"patterns"`
	Arrangement  []string                  `json:"arrangement"`
	Timebase     *Timebase                 `json:"timebase,omitempty"`
	Harmony      *Harmony                  `json:"harmony,omitempty"`
	ChannelIDs   map[string]int            `json:"channel_ids,omitempty"`
	InstrumentIDs map[string]int           `json:"instrument_ids,omitempty"`
}

// ComposePattern is one pattern program plus its row count.
type ComposePattern struct {
	Rows    int          `json:"rows"`
	Program *PatternExpr `json:"program"`
}

// Timebase converts beats to rows for beat_* time expressions.
type Timebase struct {
	RowsPerBeat int `json:"rows_per_beat"`
}

// Harmony carries the chord progression used to resolve scale_degree and
// chord_tone pitch entries at expansion time.
type Harmony struct {
	Key    string      `json:"key,omitempty"`
	Scale  string      `json:"scale,omitempty"`
	Chords []ChordSpan `json:"chords"`
}

// ChordSpan sets the active chord from Row until the next span.
type ChordSpan struct {
	Row       int    `json:"row"`
	Symbol    string `json:"symbol,omitempty"`
	Intervals []int  `json:"intervals,omitempty"`
	Root      string `json:"root,omitempty"`
}

// Cell is the payload written at one (row, channel) coordinate.
type Cell struct {
	Note    string         `json:"note,omitempty"`
	Inst    *int           `json:"inst,omitempty"`
	Vol     *int           `json:"vol,omitempty"`
	Effect  *TrackerEffect `json:"effect,omitempty"`
	Channel *int           `json:"channel,omitempty"`
	ChannelID string       `json:"channel_id,omitempty"`
	InstID    string       `json:"inst_id,omitempty"`
}

// NoteSeq cycles or walks a list of note names across time points.
type NoteSeq struct {
	Mode   string   `json:"mode"` // "cycle" or "once"
	Values []string `json:"values"`
}

// PitchSeq is like NoteSeq but entries resolve against harmony.
type PitchSeq struct {
	Mode   string       `json:"mode"`
	Values []PitchEntry `json:"values"`
}

// PitchEntry is one pitch source: an absolute note, a scale degree, or a
// chord tone, with an optional octave shift.
type PitchEntry struct {
	Type   string `json:"type"` // "absolute", "scale_degree", "chord_tone"
	Note   string `json:"note,omitempty"`
	Degree int    `json:"degree,omitempty"`
	Octave int    `json:"octave,omitempty"`
}

// PatternExpr is the tagged union of compose operators.
type PatternExpr struct {
	Op string `json:"op"`

	// emit / emit_seq
	At       *TimeExpr `json:"at,omitempty"`
	Cell     *Cell     `json:"cell,omitempty"`
	NoteSeq  *NoteSeq  `json:"note_seq,omitempty"`
	PitchSeq *PitchSeq `json:"pitch_seq,omitempty"`

	// stack / concat
	Children []*PatternExpr `json:"children,omitempty"`
	Merge    string         `json:"merge,omitempty"`

	// repeat / shift / slice / prob / transform
	Body  *PatternExpr `json:"body,omitempty"`
	Times int          `json:"times,omitempty"`
	Rows  int          `json:"rows,omitempty"`
	Start int          `json:"start,omitempty"`
	End   int          `json:"end,omitempty"`

	// ref
	Name string `json:"name,omitempty"`

	// prob / choose
	PPermille *int           `json:"p_permille,omitempty"`
	SeedSalt  string         `json:"seed_salt,omitempty"`
	Options   []*PatternExpr `json:"options,omitempty"`

	// transform
	TransposeSemitones int      `json:"transpose_semitones,omitempty"`
	VolMul             *float64 `json:"vol_mul,omitempty"`
	Set                *Cell    `json:"set,omitempty"`
}

// patternExprFields enumerates the closed operator set.
var patternExprFields = map[string][]string{
	"emit":      {"at", "cell"},
	"emit_seq":  {"at", "cell", "note_seq", "pitch_seq"},
	"stack":     {"children", "merge"},
	"concat":    {"children"},
	"repeat":    {"body", "times"},
	"shift":     {"body", "rows"},
	"slice":     {"body", "start", "end"},
	"ref":       {"name"},
	"prob":      {"p_permille", "seed_salt", "body"},
	"choose":    {"seed_salt", "options"},
	"transform": {"transpose_semitones", "vol_mul", "set", "body"},
}

// UnmarshalJSON enforces the closed operator union.
func (p *PatternExpr) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	opRaw, ok := raw["op"]
	if !ok {
		return fmt.Errorf("pattern expr: missing op tag")
	}
	var op string
	if err := json.Unmarshal(opRaw, &op); err != nil {
		return fmt.Errorf("pattern expr: bad op tag: %w", err)
	}
	allowed, ok := patternExprFields[op]
	if !ok {
		return fmt.Errorf("pattern expr: unknown op %q", op)
	}
	okFields := make(map[string]bool, len(allowed)+1)
	okFields["op"] = true
	for _, f := range allowed {
		okFields[f] = true
	}
	for k := range raw {
		if !okFields[k] {
			return fmt.Errorf("pattern expr op %q: unknown field %q", op, k)
		}
	}

	type alias PatternExpr
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = PatternExpr(a)
	return nil
}

// TimeExpr is the tagged union of time-point generators.
type TimeExpr struct {
	Kind string `json:"kind"`

	// range
	Start int `json:"start,omitempty"`
	Step  int `json:"step,omitempty"`
	Count int `json:"count,omitempty"`

	// list
	Values []int `json:"values,omitempty"`

	// euclid
	Pulses int `json:"pulses,omitempty"`
	Steps  int `json:"steps,omitempty"`
	Offset int `json:"offset,omitempty"`

	// pattern ("x...x..." style step string)
	Pattern string `json:"pattern,omitempty"`

	// beat_range / beat_list
	BeatStart  float64   `json:"beat_start,omitempty"`
	BeatStep   float64   `json:"beat_step,omitempty"`
	BeatCount  int       `json:"beat_count,omitempty"`
	BeatValues []float64 `json:"beat_values,omitempty"`
}

// timeExprFields enumerates the closed time-expression set.
var timeExprFields = map[string][]string{
	"range":      {"start", "step", "count"},
	"list":       {"values"},
	"euclid":     {"pulses", "steps", "offset"},
	"pattern":    {"pattern", "start"},
	"beat_range": {"beat_start", "beat_step", "beat_count"},
	"beat_list":  {"beat_values"},
}

// UnmarshalJSON enforces the closed time-expression union.
func (t *TimeExpr) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kindRaw, ok := raw["kind"]
	if !ok {
		return fmt.Errorf("time expr: missing kind tag")
	}
	var kind string
	if err := json.Unmarshal(kindRaw, &kind); err != nil {
		return fmt.Errorf("time expr: bad kind tag: %w", err)
	}
	allowed, ok := timeExprFields[kind]
	if !ok {
		return fmt.Errorf("time expr: unknown kind %q", kind)
	}
	okFields := make(map[string]bool, len(allowed)+1)
	okFields["kind"] = true
	for _, f := range allowed {
		okFields[f] = true
	}
	for k := range raw {
		if !okFields[k] {
			return fmt.Errorf("time expr kind %q: unknown field %q", kind, k)
		}
	}

	type alias TimeExpr
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = TimeExpr(a)
	return nil
}
