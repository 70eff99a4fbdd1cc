package music

import (
	"fmt"
	"sort"

	"github.com/opd-ai/speccade/pkg/spec"
)

// packedCell is one format-neutral cell ready for byte encoding.
type packedCell struct {
	note   int // -1 none, -2 key off, else note index
	inst   int // 0 none, else 1-based
	vol    int // -1 none, else 0..64
	effect byte
	param  byte
	hasFx  bool
}

// encodeXMEffect maps a typed effect to the XM effect column.
func encodeXMEffect(e *spec.TrackerEffect) (byte, byte, error) {
	switch e.Type {
	case "arpeggio":
		return 0x0, byte(e.X<<4 | e.Y), nil
	case "porta_up":
		return 0x1, byte(e.Speed), nil
	case "porta_down":
		return 0x2, byte(e.Speed), nil
	case "tone_porta":
		return 0x3, byte(e.Speed), nil
	case "vibrato":
		return 0x4, byte(e.Speed<<4 | e.Depth), nil
	case "tremolo":
		return 0x7, byte(e.Speed<<4 | e.Depth), nil
	case "set_panning":
		return 0x8, byte(e.Value), nil
	case "sample_offset":
		return 0x9, byte(e.Value), nil
	case "volume_slide":
		return 0xA, byte(e.X<<4 | e.Y), nil
	case "position_jump":
		return 0xB, byte(e.Value), nil
	case "pattern_break":
		// Dxy stores the target row in decimal digits.
		return 0xD, byte((e.Row/10)<<4 | e.Row%10), nil
	case "note_cut":
		return 0xE, byte(0xC0 | e.Value&0x0F), nil
	case "note_delay":
		return 0xE, byte(0xD0 | e.Value&0x0F), nil
	case "set_speed":
		return 0xF, byte(e.Value), nil
	case "set_tempo":
		return 0xF, byte(e.Value), nil
	case "set_global_volume":
		return 0x10, byte(e.Value), nil
	case "retrig":
		return 0x1B, byte(e.Value), nil
	}
	return 0, 0, fmt.Errorf("effect %q not encodable in XM", e.Type)
}

// IT command numbers: A=1 .. Z=26.
func itCmd(letter byte) byte {
	return letter - 'A' + 1
}

// encodeITEffect maps a typed effect to the IT effect column.
func encodeITEffect(e *spec.TrackerEffect) (byte, byte, error) {
	switch e.Type {
	case "set_speed":
		return itCmd('A'), byte(e.Value), nil
	case "position_jump":
		return itCmd('B'), byte(e.Value), nil
	case "pattern_break":
		return itCmd('C'), byte(e.Row), nil
	case "volume_slide":
		return itCmd('D'), byte(e.X<<4 | e.Y), nil
	case "porta_down":
		return itCmd('E'), byte(e.Speed), nil
	case "porta_up":
		return itCmd('F'), byte(e.Speed), nil
	case "tone_porta":
		return itCmd('G'), byte(e.Speed), nil
	case "vibrato":
		return itCmd('H'), byte(e.Speed<<4 | e.Depth), nil
	case "arpeggio":
		return itCmd('J'), byte(e.X<<4 | e.Y), nil
	case "sample_offset":
		return itCmd('O'), byte(e.Value), nil
	case "retrig":
		return itCmd('Q'), byte(e.Value), nil
	case "tremolo":
		return itCmd('R'), byte(e.Speed<<4 | e.Depth), nil
	case "note_cut":
		return itCmd('S'), byte(0xC0 | e.Value&0x0F), nil
	case "note_delay":
		return itCmd('S'), byte(0xD0 | e.Value&0x0F), nil
	case "set_tempo":
		return itCmd('T'), byte(e.Value), nil
	case "set_global_volume":
		return itCmd('V'), byte(e.Value), nil
	case "set_panning":
		return itCmd('X'), byte(e.Value), nil
	}
	return 0, 0, fmt.Errorf("effect %q not encodable in IT", e.Type)
}

// rowCursor streams a pattern's sparse events into dense per-row cell
// rows. It advances one row at a time: fresh_row -> emitting_event ->
// applying_effect -> advancing, terminal after the last row.
type rowCursor struct {
	pattern  *spec.Pattern
	channels int
	format   string

	events []spec.Event
	next   int
	row    int
}

func newRowCursor(p *spec.Pattern, channels int, format string) *rowCursor {
	events := append([]spec.Event(nil), p.Data...)
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Row != events[j].Row {
			return events[i].Row < events[j].Row
		}
		return events[i].Channel < events[j].Channel
	})
	return &rowCursor{pattern: p, channels: channels, format: format, events: events}
}

// Next produces the cells of the current row, nil when exhausted.
func (rc *rowCursor) Next() ([]packedCell, error) {
	if rc.row >= rc.pattern.Rows {
		return nil, nil
	}

	cells := make([]packedCell, rc.channels)
	for i := range cells {
		cells[i] = packedCell{note: -1, vol: -1}
	}

	for rc.next < len(rc.events) && rc.events[rc.next].Row == rc.row {
		ev := rc.events[rc.next]
		rc.next++

		cell := &cells[ev.Channel]
		if ev.Note == NoteOff {
			cell.note = -2
		} else if ev.Note != "" {
			idx, err := ParseNote(ev.Note)
			if err != nil {
				return nil, fmt.Errorf("row %d channel %d: %w", ev.Row, ev.Channel, err)
			}
			cell.note = idx
		}
		if ev.Inst != nil {
			cell.inst = *ev.Inst
		}
		if ev.Vol != nil {
			cell.vol = *ev.Vol
		}
		if ev.Effect != nil {
			var code, param byte
			var err error
			if rc.format == spec.FormatXM {
				code, param, err = encodeXMEffect(ev.Effect)
			} else {
				code, param, err = encodeITEffect(ev.Effect)
			}
			if err != nil {
				return nil, fmt.Errorf("row %d channel %d: %w", ev.Row, ev.Channel, err)
			}
			cell.effect, cell.param, cell.hasFx = code, param, true
		}
	}

	rc.row++
	return cells, nil
}

// orderedPatternNames returns pattern names in first-use arrangement order,
// then any unused patterns sorted by name. Both emitters share this so the
// pattern indices agree between formats.
func orderedPatternNames(params *spec.TrackerParams) []string {
	var names []string
	seen := map[string]bool{}
	for _, name := range params.Arrangement {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var rest []string
	for name := range params.Patterns {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// patternIndexMap maps pattern name to emitted index.
func patternIndexMap(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, name := range names {
		m[name] = i
	}
	return m
}
