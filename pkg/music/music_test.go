package music

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/opd-ai/speccade/pkg/budget"
	"github.com/opd-ai/speccade/pkg/spec"
)

func TestParseNote(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
		err  bool
	}{
		{"C-0 is zero", "C-0", 0, false},
		{"plain octave form", "F1", 17, false},
		{"sharp", "F#3", 42, false},
		{"flat equals sharp neighbor", "Gb3", 42, false},
		{"A-4 is 57", "A-4", 57, false},
		{"dash form", "C-4", 48, false},
		{"bad letter", "H-4", 0, true},
		{"missing octave", "C#", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNote(tt.in)
			if tt.err {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseNote(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseNote(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatNoteSharpSpelling(t *testing.T) {
	idx, _ := ParseNote("Gb3")
	if got := FormatNote(idx); got != "F#3" {
		t.Errorf("FormatNote = %q, want sharp spelling F#3", got)
	}
}

func TestNoteFreq(t *testing.T) {
	idx, _ := ParseNote("A-4")
	if f := NoteFreq(idx); math.Abs(f-440.0) > 1e-9 {
		t.Errorf("A-4 = %v Hz, want 440", f)
	}
}

func TestParseChord(t *testing.T) {
	tests := []struct {
		symbol string
		root   int
		tones  []int
	}{
		{"C", 0, []int{0, 4, 7}},
		{"Am", 9, []int{9, 0, 4}},
		{"G7", 7, []int{7, 11, 2, 5}},
		{"Dm7", 2, []int{2, 5, 9, 0}},
		{"F#maj7", 6, []int{6, 10, 1, 5}},
		{"Bdim", 11, []int{11, 2, 5}},
		{"Csus4", 0, []int{0, 5, 7}},
		{"C7b5", 0, []int{0, 4, 6, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			c, err := ParseChord(tt.symbol)
			if err != nil {
				t.Fatalf("ParseChord(%q): %v", tt.symbol, err)
			}
			if c.Root != tt.root {
				t.Errorf("root = %d, want %d", c.Root, tt.root)
			}
			tones := c.Tones()
			if len(tones) != len(tt.tones) {
				t.Fatalf("tones = %v, want %v", tones, tt.tones)
			}
			for i := range tones {
				if tones[i] != tt.tones[i] {
					t.Errorf("tones = %v, want %v", tones, tt.tones)
					break
				}
			}
		})
	}
}

func TestParseChordSlashBass(t *testing.T) {
	c, err := ParseChord("C/G")
	if err != nil {
		t.Fatalf("ParseChord: %v", err)
	}
	if c.Bass != 7 {
		t.Errorf("bass = %d, want 7", c.Bass)
	}
	if c.Tones()[0] != 7 {
		t.Errorf("first tone = %d, want slash bass 7", c.Tones()[0])
	}
}

func TestParseChordRejectsGarbage(t *testing.T) {
	for _, sym := range []string{"", "X", "Cxyz"} {
		if _, err := ParseChord(sym); err == nil {
			t.Errorf("ParseChord(%q) should fail", sym)
		}
	}
}

func composeParams(t *testing.T, raw string) *spec.ComposeParams {
	t.Helper()
	var p spec.ComposeParams
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("compose params: %v", err)
	}
	return &p
}

const bassSeqCompose = `{
	"format": "xm",
	"bpm": 125,
	"speed": 6,
	"channels": 4,
	"instruments": [
		{"name": "i1", "synthesis": {"type": "oscillator", "waveform": "sine", "freq": 440}, "duration_seconds": 0.2},
		{"name": "i2", "synthesis": {"type": "oscillator", "waveform": "sine", "freq": 440}, "duration_seconds": 0.2},
		{"name": "bass", "synthesis": {"type": "oscillator", "waveform": "saw", "freq": 110}, "duration_seconds": 0.2}
	],
	"patterns": {"main": {"rows": 64, "program": {
		"op": "emit_seq",
		"at": {"kind": "range", "start": 0, "step": 4, "count": 16},
		"cell": {"channel": 2, "inst": 3, "vol": 56},
		"note_seq": {"mode": "cycle", "values": ["F1", "F1", "C2", "C2", "G1", "G1", "D2", "D2"]}
	}}},
	"arrangement": ["main"]
}`

func TestExpandEmitSeq(t *testing.T) {
	params := composeParams(t, bassSeqCompose)
	out, err := Expand(params, 9, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	pat, ok := out.Patterns["main"]
	if !ok {
		t.Fatal("pattern main missing")
	}
	if len(pat.Data) != 16 {
		t.Fatalf("events = %d, want 16", len(pat.Data))
	}

	wantNotes := []string{"F1", "F1", "C2", "C2", "G1", "G1", "D2", "D2"}
	for i, ev := range pat.Data {
		if ev.Row != i*4 {
			t.Errorf("event %d row = %d, want %d", i, ev.Row, i*4)
		}
		if ev.Channel != 2 {
			t.Errorf("event %d channel = %d, want 2", i, ev.Channel)
		}
		if ev.Inst == nil || *ev.Inst != 3 {
			t.Errorf("event %d inst = %v, want 3", i, ev.Inst)
		}
		if ev.Vol == nil || *ev.Vol != 56 {
			t.Errorf("event %d vol = %v, want 56", i, ev.Vol)
		}
		if ev.Note != wantNotes[i%8] {
			t.Errorf("event %d note = %q, want %q", i, ev.Note, wantNotes[i%8])
		}
	}
}

func TestExpandIdempotent(t *testing.T) {
	params := composeParams(t, bassSeqCompose)
	a, err := Expand(params, 9, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	b, err := Expand(params, 9, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Error("expansion not deterministic")
	}
}

func TestExpandMergeConflict(t *testing.T) {
	raw := `{
		"format": "xm", "bpm": 125, "speed": 6, "channels": 4,
		"instruments": [{"name": "i", "synthesis": {"type": "oscillator", "waveform": "sine", "freq": 440}, "duration_seconds": 0.2}],
		"patterns": {"main": {"rows": 16, "program": {
			"op": "stack", "merge": "error",
			"children": [
				{"op": "emit", "at": {"kind": "list", "values": [0]}, "cell": {"note": "C-4", "channel": 0}},
				{"op": "emit", "at": {"kind": "list", "values": [0]}, "cell": {"note": "D-4", "channel": 0}}
			]
		}}},
		"arrangement": ["main"]
	}`
	_, err := Expand(composeParams(t, raw), 1, budget.Default())
	if err == nil {
		t.Fatal("expected merge conflict error")
	}
	d, ok := err.(*spec.Diagnostic)
	if !ok {
		t.Fatalf("error is %T, want *spec.Diagnostic", err)
	}
	if d.Code != spec.CodeBackendParam {
		t.Errorf("code = %s", d.Code)
	}
}

func TestExpandLastWins(t *testing.T) {
	raw := `{
		"format": "xm", "bpm": 125, "speed": 6, "channels": 4,
		"instruments": [{"name": "i", "synthesis": {"type": "oscillator", "waveform": "sine", "freq": 440}, "duration_seconds": 0.2}],
		"patterns": {"main": {"rows": 16, "program": {
			"op": "stack", "merge": "last_wins",
			"children": [
				{"op": "emit", "at": {"kind": "list", "values": [0]}, "cell": {"note": "C-4", "channel": 0}},
				{"op": "emit", "at": {"kind": "list", "values": [0]}, "cell": {"note": "D-4", "channel": 0}}
			]
		}}},
		"arrangement": ["main"]
	}`
	out, err := Expand(composeParams(t, raw), 1, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got := out.Patterns["main"].Data[0].Note; got != "D-4" {
		t.Errorf("note = %q, want later child D-4", got)
	}
}

func TestExpandMergeFields(t *testing.T) {
	raw := `{
		"format": "xm", "bpm": 125, "speed": 6, "channels": 4,
		"instruments": [{"name": "i", "synthesis": {"type": "oscillator", "waveform": "sine", "freq": 440}, "duration_seconds": 0.2}],
		"patterns": {"main": {"rows": 16, "program": {
			"op": "stack", "merge": "merge_fields",
			"children": [
				{"op": "emit", "at": {"kind": "list", "values": [0]}, "cell": {"note": "C-4", "channel": 0}},
				{"op": "emit", "at": {"kind": "list", "values": [0]}, "cell": {"vol": 40, "channel": 0}}
			]
		}}},
		"arrangement": ["main"]
	}`
	out, err := Expand(composeParams(t, raw), 1, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	ev := out.Patterns["main"].Data[0]
	if ev.Note != "C-4" || ev.Vol == nil || *ev.Vol != 40 {
		t.Errorf("merge_fields produced %+v", ev)
	}
}

func TestExpandProbDeterministic(t *testing.T) {
	raw := `{
		"format": "xm", "bpm": 125, "speed": 6, "channels": 4,
		"instruments": [{"name": "i", "synthesis": {"type": "oscillator", "waveform": "sine", "freq": 440}, "duration_seconds": 0.2}],
		"patterns": {"main": {"rows": 64, "program": {
			"op": "prob", "p_permille": 500, "seed_salt": "hats",
			"body": {"op": "emit", "at": {"kind": "range", "start": 0, "step": 2, "count": 32}, "cell": {"note": "C-6", "channel": 1}}
		}}},
		"arrangement": ["main"]
	}`
	params := composeParams(t, raw)

	a, err := Expand(params, 77, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	b, err := Expand(params, 77, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(a.Patterns["main"].Data) != len(b.Patterns["main"].Data) {
		t.Error("prob not deterministic for the same seed")
	}
}

func TestExpandEuclid(t *testing.T) {
	raw := `{
		"format": "xm", "bpm": 125, "speed": 6, "channels": 4,
		"instruments": [{"name": "i", "synthesis": {"type": "oscillator", "waveform": "sine", "freq": 440}, "duration_seconds": 0.2}],
		"patterns": {"main": {"rows": 16, "program": {
			"op": "emit", "at": {"kind": "euclid", "pulses": 4, "steps": 16, "offset": 0}, "cell": {"note": "C-4", "channel": 0}
		}}},
		"arrangement": ["main"]
	}`
	out, err := Expand(composeParams(t, raw), 1, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got := len(out.Patterns["main"].Data); got != 4 {
		t.Errorf("euclid(4,16) produced %d pulses, want 4", got)
	}
}

func TestExpandOnceSeqExhausted(t *testing.T) {
	raw := `{
		"format": "xm", "bpm": 125, "speed": 6, "channels": 4,
		"instruments": [{"name": "i", "synthesis": {"type": "oscillator", "waveform": "sine", "freq": 440}, "duration_seconds": 0.2}],
		"patterns": {"main": {"rows": 16, "program": {
			"op": "emit_seq",
			"at": {"kind": "range", "start": 0, "step": 1, "count": 4},
			"cell": {"channel": 0},
			"note_seq": {"mode": "once", "values": ["C-4", "D-4"]}
		}}},
		"arrangement": ["main"]
	}`
	if _, err := Expand(composeParams(t, raw), 1, budget.Default()); err == nil {
		t.Fatal("once-mode sequence shorter than time points should fail")
	}
}

func TestExpandHarmonyChordTones(t *testing.T) {
	raw := `{
		"format": "xm", "bpm": 125, "speed": 6, "channels": 4,
		"instruments": [{"name": "i", "synthesis": {"type": "oscillator", "waveform": "sine", "freq": 440}, "duration_seconds": 0.2}],
		"harmony": {"key": "C", "scale": "major", "chords": [
			{"row": 0, "symbol": "C"},
			{"row": 8, "symbol": "Am"}
		]},
		"patterns": {"main": {"rows": 16, "program": {
			"op": "emit_seq",
			"at": {"kind": "list", "values": [0, 8]},
			"cell": {"channel": 0},
			"pitch_seq": {"mode": "cycle", "values": [{"type": "chord_tone", "degree": 1}]}
		}}},
		"arrangement": ["main"]
	}`
	out, err := Expand(composeParams(t, raw), 1, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	data := out.Patterns["main"].Data
	if data[0].Note != "C4" {
		t.Errorf("row 0 tone = %q, want C4", data[0].Note)
	}
	if data[1].Note != "A4" {
		t.Errorf("row 8 tone = %q, want A4 (chord change)", data[1].Note)
	}
}

func testSample() *Sample {
	data := make([]int16, 256)
	for i := range data {
		data[i] = int16(10000 * math.Sin(float64(i)*0.1))
	}
	s := &Sample{Name: "test", Data: data, Rate: 22050, BaseNote: 60, Volume: 64}
	derivePitchFields(s)
	return s
}

func trackerForEmit(format string) *spec.TrackerParams {
	inst := 1
	return &spec.TrackerParams{
		Format:   format,
		BPM:      125,
		Speed:    6,
		Channels: 4,
		Instruments: []spec.Instrument{
			{Name: "lead"},
		},
		Patterns: map[string]spec.Pattern{
			"a": {Rows: 16, Data: []spec.Event{
				{Row: 0, Channel: 0, Note: "C-4", Inst: &inst},
				{Row: 4, Channel: 1, Note: "E-4", Inst: &inst},
				{Row: 15, Channel: 0, Note: "OFF"},
			}},
			"b": {Rows: 32, Data: []spec.Event{
				{Row: 0, Channel: 2, Note: "G-4", Inst: &inst},
			}},
		},
		Arrangement: []string{"a", "b", "a"},
	}
}

func TestEmitXMDeterministic(t *testing.T) {
	params := trackerForEmit("xm")
	samples := []*Sample{testSample()}

	a, err := EmitXM(params, samples, "song-01")
	if err != nil {
		t.Fatalf("EmitXM: %v", err)
	}
	b, err := EmitXM(params, samples, "song-01")
	if err != nil {
		t.Fatalf("EmitXM: %v", err)
	}
	if string(a) != string(b) {
		t.Error("XM emission not byte-stable")
	}
	if string(a[:17]) != "Extended Module: " {
		t.Error("missing XM signature")
	}
}

func TestEmitITDeterministic(t *testing.T) {
	params := trackerForEmit("it")
	samples := []*Sample{testSample()}

	a, err := EmitIT(params, samples, "song-01")
	if err != nil {
		t.Fatalf("EmitIT: %v", err)
	}
	b, err := EmitIT(params, samples, "song-01")
	if err != nil {
		t.Fatalf("EmitIT: %v", err)
	}
	if string(a) != string(b) {
		t.Error("IT emission not byte-stable")
	}
	if string(a[:4]) != "IMPM" {
		t.Error("missing IT signature")
	}
}

func TestStructuralParityXMIT(t *testing.T) {
	xm := trackerForEmit("xm")
	it := trackerForEmit("it")

	mx, mi := Metrics(xm), Metrics(it)
	if mx.Instruments != mi.Instruments || mx.Patterns != mi.Patterns ||
		mx.OrderLength != mi.OrderLength || mx.BPM != mi.BPM || mx.Speed != mi.Speed {
		t.Errorf("structural metrics diverge: %+v vs %+v", mx, mi)
	}
	for name, rows := range mx.PatternRows {
		if mi.PatternRows[name] != rows {
			t.Errorf("pattern %q rows diverge", name)
		}
	}
}

func TestDerivePitchFieldsRounding(t *testing.T) {
	s := &Sample{Rate: 22050, BaseNote: 60}
	derivePitchFields(s)
	if s.C5Speed != 22050 {
		t.Errorf("C5Speed = %d, want 22050 for a C-5 base note", s.C5Speed)
	}
	if math.Abs(s.ITDeviationCents) > 0.001 {
		t.Errorf("IT deviation = %v cents, want 0", s.ITDeviationCents)
	}
	// XM fields must land within a cent on a mid-range note.
	if math.Abs(s.DeviationCents) > 1.0 {
		t.Errorf("XM deviation = %v cents, want under 1", s.DeviationCents)
	}
}

func TestLocateLoopZeroCrossings(t *testing.T) {
	data := make([]int16, 1000)
	for i := range data {
		data[i] = int16(5000 * math.Sin(float64(i)*0.05))
	}
	start, end := locateLoop(data)
	if start <= 0 || end <= start || end > len(data) {
		t.Fatalf("loop points %d..%d invalid", start, end)
	}
	// The start point sits just after a rising zero crossing.
	if !(data[start-1] <= 0 && data[start] >= 0) {
		t.Errorf("loop start %d not at a rising zero crossing", start)
	}
}

func TestCompileInstrumentInline(t *testing.T) {
	inst := &spec.Instrument{
		Name:            "pluck",
		Synthesis:       &spec.Synthesis{Type: "karplus_strong", Freq: 220, Excitation: "noise", Feedback: 0.995},
		DurationSeconds: 0.2,
		BaseNote:        "A-3",
		Loop:            &spec.LoopSpec{Mode: "forward", CrossfadeMS: 5},
	}
	s, err := CompileInstrument(inst, 42, 0, 22050, nil)
	if err != nil {
		t.Fatalf("CompileInstrument: %v", err)
	}
	if len(s.Data) != 4410 {
		t.Errorf("sample frames = %d, want 4410", len(s.Data))
	}
	if s.LoopMode != LoopForward {
		t.Error("loop mode not set")
	}
	if s.LoopEnd <= s.LoopStart {
		t.Errorf("loop %d..%d invalid", s.LoopStart, s.LoopEnd)
	}

	// Same inputs, same sample bytes.
	s2, err := CompileInstrument(inst, 42, 0, 22050, nil)
	if err != nil {
		t.Fatalf("CompileInstrument: %v", err)
	}
	for i := range s.Data {
		if s.Data[i] != s2.Data[i] {
			t.Fatal("instrument compilation not deterministic")
		}
	}
}
