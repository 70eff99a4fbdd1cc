package music

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opd-ai/speccade/pkg/spec"
)

// Chord is a resolved chord: a root pitch class, tone intervals from the
// root, and an optional slash bass pitch class.
type Chord struct {
	Root      int
	Intervals []int
	Bass      int // pitch class; -1 when no slash bass
}

// Tones returns the chord tones as pitch classes in interval order, with
// the slash bass replacing the first tone when present.
func (c *Chord) Tones() []int {
	tones := make([]int, len(c.Intervals))
	for i, iv := range c.Intervals {
		tones[i] = (c.Root + iv) % 12
	}
	if c.Bass >= 0 && len(tones) > 0 {
		tones[0] = c.Bass
	}
	return tones
}

var qualityIntervals = map[string][]int{
	"":      {0, 4, 7},
	"m":     {0, 3, 7},
	"min":   {0, 3, 7},
	"dim":   {0, 3, 6},
	"dim7":  {0, 3, 6, 9},
	"aug":   {0, 4, 8},
	"sus2":  {0, 2, 7},
	"sus4":  {0, 5, 7},
	"6":     {0, 4, 7, 9},
	"m6":    {0, 3, 7, 9},
	"7":     {0, 4, 7, 10},
	"maj7":  {0, 4, 7, 11},
	"m7":    {0, 3, 7, 10},
	"m7b5":  {0, 3, 6, 10},
	"9":     {0, 4, 7, 10, 14},
	"maj9":  {0, 4, 7, 11, 14},
	"m9":    {0, 3, 7, 10, 14},
	"add9":  {0, 4, 7, 14},
	"11":    {0, 4, 7, 10, 14, 17},
	"13":    {0, 4, 7, 10, 14, 21},
}

// ParseChord parses a chord symbol: root + quality + alterations +
// omissions + optional slash bass. The grammar is deterministic; the same
// symbol always yields the same tone set.
func ParseChord(symbol string) (*Chord, error) {
	s := symbol
	if s == "" {
		return nil, fmt.Errorf("empty chord symbol")
	}

	// Slash bass comes last.
	bass := -1
	if i := strings.LastIndexByte(s, '/'); i > 0 {
		bassName := s[i+1:]
		pc, err := parsePitchClass(bassName)
		if err != nil {
			return nil, fmt.Errorf("chord %q: bad bass: %w", symbol, err)
		}
		bass = pc
		s = s[:i]
	}

	root, rest, err := splitRoot(s)
	if err != nil {
		return nil, fmt.Errorf("chord %q: %w", symbol, err)
	}

	// Pull trailing alteration/omission groups off until the remainder is a
	// known quality.
	var alterations []string
	for {
		if _, ok := qualityIntervals[rest]; ok {
			break
		}
		found := false
		for _, suffix := range []string{"#11", "b13", "#5", "b5", "#9", "b9", "no3", "no5"} {
			if strings.HasSuffix(rest, suffix) {
				rest = strings.TrimSuffix(rest, suffix)
				alterations = append(alterations, suffix)
				found = true
				break
			}
		}
		if !found {
			break
		}
	}

	intervals, ok := qualityIntervals[rest]
	if !ok {
		return nil, fmt.Errorf("chord %q: unknown quality %q", symbol, rest)
	}

	ivs := append([]int(nil), intervals...)
	for _, alt := range alterations {
		ivs = applyAlteration(ivs, alt)
	}
	sort.Ints(ivs)

	return &Chord{Root: root, Intervals: ivs, Bass: bass}, nil
}

func applyAlteration(ivs []int, alt string) []int {
	replace := func(from, to int) {
		for i, v := range ivs {
			if v == from {
				ivs[i] = to
			}
		}
	}
	remove := func(target int) {
		out := ivs[:0]
		for _, v := range ivs {
			if v != target {
				out = append(out, v)
			}
		}
		ivs = out
	}
	switch alt {
	case "#5":
		replace(7, 8)
	case "b5":
		replace(7, 6)
	case "#9":
		replace(14, 15)
	case "b9":
		replace(14, 13)
	case "#11":
		replace(17, 18)
	case "b13":
		replace(21, 20)
	case "no3":
		remove(3)
		remove(4)
	case "no5":
		remove(7)
	}
	return ivs
}

func splitRoot(s string) (int, string, error) {
	if len(s) == 0 {
		return 0, "", fmt.Errorf("missing root")
	}
	n := 1
	if len(s) > 1 && (s[1] == '#' || s[1] == 'b') {
		n = 2
	}
	pc, err := parsePitchClass(s[:n])
	if err != nil {
		return 0, "", err
	}
	return pc, s[n:], nil
}

func parsePitchClass(name string) (int, error) {
	if len(name) == 0 {
		return 0, fmt.Errorf("empty pitch class")
	}
	base, ok := semitoneOf[name[0]]
	if !ok {
		return 0, fmt.Errorf("bad pitch class %q", name)
	}
	switch {
	case len(name) == 1:
	case len(name) == 2 && name[1] == '#':
		base++
	case len(name) == 2 && name[1] == 'b':
		base--
	default:
		return 0, fmt.Errorf("bad pitch class %q", name)
	}
	return ((base % 12) + 12) % 12, nil
}

// scaleIntervals for scale_degree resolution.
var scaleIntervals = map[string][]int{
	"major":          {0, 2, 4, 5, 7, 9, 11},
	"minor":          {0, 2, 3, 5, 7, 8, 10},
	"harmonic_minor": {0, 2, 3, 5, 7, 8, 11},
	"dorian":         {0, 2, 3, 5, 7, 9, 10},
	"phrygian":       {0, 1, 3, 5, 7, 8, 10},
	"lydian":         {0, 2, 4, 6, 7, 9, 11},
	"mixolydian":     {0, 2, 4, 5, 7, 9, 10},
	"pentatonic":     {0, 2, 4, 7, 9},
}

// harmonyContext resolves pitch entries against the progression.
type harmonyContext struct {
	keyRoot int
	scale   []int
	chords  []resolvedChord
}

type resolvedChord struct {
	row   int
	chord *Chord
}

func newHarmonyContext(h *spec.Harmony) (*harmonyContext, error) {
	ctx := &harmonyContext{keyRoot: 0, scale: scaleIntervals["major"]}
	if h == nil {
		return nil, nil
	}
	if h.Key != "" {
		pc, err := parsePitchClass(h.Key)
		if err != nil {
			return nil, fmt.Errorf("harmony key: %w", err)
		}
		ctx.keyRoot = pc
	}
	if h.Scale != "" {
		sc, ok := scaleIntervals[h.Scale]
		if !ok {
			return nil, fmt.Errorf("harmony: unknown scale %q", h.Scale)
		}
		ctx.scale = sc
	}
	for _, span := range h.Chords {
		var c *Chord
		if len(span.Intervals) > 0 {
			// Interval-form escape hatch.
			root := ctx.keyRoot
			if span.Root != "" {
				pc, err := parsePitchClass(span.Root)
				if err != nil {
					return nil, fmt.Errorf("harmony chord root: %w", err)
				}
				root = pc
			}
			c = &Chord{Root: root, Intervals: append([]int(nil), span.Intervals...), Bass: -1}
		} else {
			parsed, err := ParseChord(span.Symbol)
			if err != nil {
				return nil, err
			}
			c = parsed
		}
		ctx.chords = append(ctx.chords, resolvedChord{row: span.Row, chord: c})
	}
	sort.SliceStable(ctx.chords, func(i, j int) bool { return ctx.chords[i].row < ctx.chords[j].row })
	return ctx, nil
}

// chordAt returns the chord active at a row: the last span at or before it.
func (h *harmonyContext) chordAt(row int) *Chord {
	var cur *Chord
	for _, rc := range h.chords {
		if rc.row > row {
			break
		}
		cur = rc.chord
	}
	return cur
}

// resolvePitch turns a pitch entry into a note index at the given row.
func (h *harmonyContext) resolvePitch(pe *spec.PitchEntry, row int) (int, error) {
	switch pe.Type {
	case "absolute":
		return ParseNote(pe.Note)
	case "scale_degree":
		if pe.Degree < 1 {
			return 0, fmt.Errorf("scale degree %d must be >= 1", pe.Degree)
		}
		d := pe.Degree - 1
		octShift := d / len(h.scale)
		pc := (h.keyRoot + h.scale[d%len(h.scale)]) % 12
		oct := 4 + pe.Octave + octShift
		return clampNote(oct*notesPerOctave + pc), nil
	case "chord_tone":
		c := h.chordAt(row)
		if c == nil {
			return 0, fmt.Errorf("no chord active at row %d", row)
		}
		if pe.Degree < 1 {
			return 0, fmt.Errorf("chord tone %d must be >= 1", pe.Degree)
		}
		tones := c.Tones()
		d := pe.Degree - 1
		octShift := d / len(tones)
		pc := tones[d%len(tones)]
		oct := 4 + pe.Octave + octShift
		return clampNote(oct*notesPerOctave + pc), nil
	}
	return 0, fmt.Errorf("unknown pitch entry type %q", pe.Type)
}

func clampNote(idx int) int {
	if idx < 0 {
		return 0
	}
	if idx > maxNoteIndex {
		return maxNoteIndex
	}
	return idx
}
