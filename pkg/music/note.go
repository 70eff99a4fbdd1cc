// Package music expands compose-IR tracker songs and emits XM/IT modules.
package music

import (
	"fmt"
	"math"
)

// Note index space: 0 = C-0, 12 per octave. XM cells store index+1
// (1..96), IT cells store the index directly (0..119).
const (
	notesPerOctave = 12
	maxNoteIndex   = 119
	// NoteOff marks a key-off cell in the canonical event stream.
	NoteOff = "OFF"
)

var semitoneOf = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

// Sharp spelling for canonical emission.
var sharpNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// ParseNote converts a note name ("C-4", "F#3", "F1", "Bb2") to its index.
func ParseNote(name string) (int, error) {
	if len(name) < 2 {
		return 0, fmt.Errorf("malformed note %q", name)
	}
	base, ok := semitoneOf[name[0]]
	if !ok {
		return 0, fmt.Errorf("malformed note %q", name)
	}
	rest := name[1:]
	switch rest[0] {
	case '#':
		base++
		rest = rest[1:]
	case 'b':
		base--
		rest = rest[1:]
	}
	if len(rest) > 0 && rest[0] == '-' {
		rest = rest[1:]
	}
	if len(rest) != 1 || rest[0] < '0' || rest[0] > '9' {
		return 0, fmt.Errorf("malformed note %q", name)
	}
	octave := int(rest[0] - '0')
	idx := octave*notesPerOctave + ((base%12)+12)%12
	if base < 0 {
		idx = octave*notesPerOctave + base // Cb3 is B2
	}
	if idx < 0 || idx > maxNoteIndex {
		return 0, fmt.Errorf("note %q out of range", name)
	}
	return idx, nil
}

// FormatNote renders an index with sharp spelling, e.g. 49 -> "C#4".
func FormatNote(idx int) string {
	return fmt.Sprintf("%s%d", sharpNames[idx%12], idx/notesPerOctave)
}

// NoteFreq returns the equal-tempered frequency of a note index
// (A-4, index 57, is 440 Hz).
func NoteFreq(idx int) float64 {
	return 440.0 * math.Pow(2.0, float64(idx-57)/12.0)
}

// Transpose shifts an index by semitones, clamped to the valid range.
func Transpose(idx, semitones int) int {
	idx += semitones
	if idx < 0 {
		idx = 0
	}
	if idx > maxNoteIndex {
		idx = maxNoteIndex
	}
	return idx
}
