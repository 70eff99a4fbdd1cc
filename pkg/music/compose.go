package music

import (
	"fmt"
	"sort"

	"github.com/opd-ai/speccade/pkg/budget"
	"github.com/opd-ai/speccade/pkg/canon"
	"github.com/opd-ai/speccade/pkg/rng"
	"github.com/opd-ai/speccade/pkg/spec"
)

// coord addresses one pattern cell.
type coord struct {
	row, channel int
}

// cellMap is the result of expanding one expression subtree.
type cellMap map[coord]spec.Cell

// span returns the row extent of a map (max row + 1), the length unit used
// by concat.
func (m cellMap) span() int {
	max := 0
	for c := range m {
		if c.row+1 > max {
			max = c.row + 1
		}
	}
	return max
}

// expandContext carries the fixed inputs of one pattern expansion.
type expandContext struct {
	patternName string
	rows        int
	channels    int
	seed        uint32
	defs        map[string]*spec.PatternExpr
	channelIDs  map[string]int
	instIDs     map[string]int
	rowsPerBeat int
	harmony     *harmonyContext
	prof        *budget.Profile

	depth int
	cells int
}

// Expand turns compose params into canonical tracker params. Expansion is a
// pure function of (params, seed): prob/choose draw from PCG32 streams
// derived from the pattern name and the operator's seed_salt.
func Expand(params *spec.ComposeParams, seed uint32, prof *budget.Profile) (*spec.TrackerParams, error) {
	harmonyCtx, err := newHarmonyContext(params.Harmony)
	if err != nil {
		return nil, &spec.Diagnostic{
			Code: spec.CodeBackendParam, Severity: spec.SeverityError,
			Path: "/recipe/params/harmony", Message: err.Error(),
		}
	}

	rowsPerBeat := 0
	if params.Timebase != nil {
		rowsPerBeat = params.Timebase.RowsPerBeat
	}

	out := &spec.TrackerParams{
		Format:       params.Format,
		BPM:          params.BPM,
		Speed:        params.Speed,
		GlobalVolume: params.GlobalVolume,
		Channels:     params.Channels,
		Instruments:  params.Instruments,
		Patterns:     make(map[string]spec.Pattern, len(params.Patterns)),
		Arrangement:  params.Arrangement,
	}

	names := make([]string, 0, len(params.Patterns))
	for name := range params.Patterns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pat := params.Patterns[name]
		ctx := &expandContext{
			patternName: name,
			rows:        pat.Rows,
			channels:    params.Channels,
			seed:        seed,
			defs:        params.Defs,
			channelIDs:  params.ChannelIDs,
			instIDs:     params.InstrumentIDs,
			rowsPerBeat: rowsPerBeat,
			harmony:     harmonyCtx,
			prof:        prof,
		}
		cells, err := ctx.eval(pat.Program, "/recipe/params/patterns/"+name+"/program")
		if err != nil {
			return nil, err
		}

		events := make([]spec.Event, 0, len(cells))
		for c, cell := range cells {
			if c.row < 0 || c.row >= pat.Rows {
				continue // out-of-window emissions from shift/concat are dropped
			}
			if c.channel < 0 || c.channel >= params.Channels {
				return nil, expandError("/recipe/params/patterns/"+name,
					"cell channel %d outside [0,%d)", c.channel, params.Channels)
			}
			events = append(events, spec.Event{
				Row: c.row, Channel: c.channel,
				Note: cell.Note, Inst: cell.Inst, Vol: cell.Vol, Effect: cell.Effect,
			})
		}
		sort.Slice(events, func(i, j int) bool {
			if events[i].Row != events[j].Row {
				return events[i].Row < events[j].Row
			}
			return events[i].Channel < events[j].Channel
		})

		out.Patterns[name] = spec.Pattern{Rows: pat.Rows, Data: events}
	}

	return out, nil
}

func expandError(path, format string, args ...interface{}) *spec.Diagnostic {
	return &spec.Diagnostic{
		Code:     spec.CodeBackendParam,
		Severity: spec.SeverityError,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
	}
}

func budgetExpandError(path, limit, format string, args ...interface{}) *spec.Diagnostic {
	return &spec.Diagnostic{
		Code:     spec.CodeBudget,
		Severity: spec.SeverityError,
		Path:     path,
		Message:  fmt.Sprintf("budget[music/%s]: %s", limit, fmt.Sprintf(format, args...)),
	}
}

func (ctx *expandContext) eval(e *spec.PatternExpr, path string) (cellMap, error) {
	if e == nil {
		return nil, expandError(path, "missing expression")
	}
	ctx.depth++
	defer func() { ctx.depth-- }()
	if ctx.depth > ctx.prof.MaxComposeDepth {
		return nil, budgetExpandError(path, "max_compose_depth", "recursion depth exceeds %d", ctx.prof.MaxComposeDepth)
	}

	switch e.Op {
	case "emit":
		times, err := ctx.timePoints(e.At, path+"/at")
		if err != nil {
			return nil, err
		}
		out := cellMap{}
		for _, row := range times {
			cell, ch, err := ctx.resolveCell(e.Cell, path+"/cell")
			if err != nil {
				return nil, err
			}
			if err := ctx.put(out, coord{row, ch}, cell, "error", path); err != nil {
				return nil, err
			}
		}
		return out, nil

	case "emit_seq":
		return ctx.evalEmitSeq(e, path)

	case "stack":
		merge := e.Merge
		if merge == "" {
			merge = "error"
		}
		out := cellMap{}
		for i, child := range e.Children {
			sub, err := ctx.eval(child, fmt.Sprintf("%s/children/%d", path, i))
			if err != nil {
				return nil, err
			}
			if err := ctx.mergeInto(out, sub, merge, path); err != nil {
				return nil, err
			}
		}
		return out, nil

	case "concat":
		out := cellMap{}
		offset := 0
		for i, child := range e.Children {
			sub, err := ctx.eval(child, fmt.Sprintf("%s/children/%d", path, i))
			if err != nil {
				return nil, err
			}
			for c, cell := range sub {
				if err := ctx.put(out, coord{c.row + offset, c.channel}, cell, "error", path); err != nil {
					return nil, err
				}
			}
			offset += sub.span()
		}
		return out, nil

	case "repeat":
		body, err := ctx.eval(e.Body, path+"/body")
		if err != nil {
			return nil, err
		}
		span := body.span()
		out := cellMap{}
		for rep := 0; rep < e.Times; rep++ {
			for c, cell := range body {
				if err := ctx.put(out, coord{c.row + rep*span, c.channel}, cell, "error", path); err != nil {
					return nil, err
				}
			}
		}
		return out, nil

	case "shift":
		body, err := ctx.eval(e.Body, path+"/body")
		if err != nil {
			return nil, err
		}
		out := cellMap{}
		for c, cell := range body {
			out[coord{c.row + e.Rows, c.channel}] = cell
		}
		return out, nil

	case "slice":
		body, err := ctx.eval(e.Body, path+"/body")
		if err != nil {
			return nil, err
		}
		out := cellMap{}
		for c, cell := range body {
			if c.row >= e.Start && c.row < e.End {
				out[coord{c.row - e.Start, c.channel}] = cell
			}
		}
		return out, nil

	case "ref":
		def, ok := ctx.defs[e.Name]
		if !ok {
			return nil, expandError(path, "ref to undefined %q", e.Name)
		}
		return ctx.eval(def, path+"/ref:"+e.Name)

	case "prob":
		if e.SeedSalt == "" || e.PPermille == nil {
			return nil, expandError(path, "prob requires seed_salt and p_permille")
		}
		r := ctx.saltRNG(e.SeedSalt)
		if r.Intn(1000) < *e.PPermille {
			return ctx.eval(e.Body, path+"/body")
		}
		return cellMap{}, nil

	case "choose":
		if e.SeedSalt == "" || len(e.Options) == 0 {
			return nil, expandError(path, "choose requires seed_salt and options")
		}
		r := ctx.saltRNG(e.SeedSalt)
		pick := r.Intn(len(e.Options))
		return ctx.eval(e.Options[pick], fmt.Sprintf("%s/options/%d", path, pick))

	case "transform":
		body, err := ctx.eval(e.Body, path+"/body")
		if err != nil {
			return nil, err
		}
		out := make(cellMap, len(body))
		for c, cell := range body {
			out[c] = ctx.transformCell(cell, e)
		}
		return out, nil
	}

	return nil, expandError(path, "unknown operator %q", e.Op)
}

func (ctx *expandContext) evalEmitSeq(e *spec.PatternExpr, path string) (cellMap, error) {
	times, err := ctx.timePoints(e.At, path+"/at")
	if err != nil {
		return nil, err
	}

	out := cellMap{}
	for i, row := range times {
		var cell spec.Cell
		var ch int
		if e.Cell != nil {
			cell, ch, err = ctx.resolveCell(e.Cell, path+"/cell")
			if err != nil {
				return nil, err
			}
		}

		if e.NoteSeq != nil {
			seq := e.NoteSeq
			if seq.Mode == "once" && i >= len(seq.Values) {
				return nil, expandError(path+"/note_seq",
					"sequence of %d notes exhausted at time point %d", len(seq.Values), i)
			}
			cell.Note = seq.Values[i%len(seq.Values)]
		} else if e.PitchSeq != nil {
			seq := e.PitchSeq
			if seq.Mode == "once" && i >= len(seq.Values) {
				return nil, expandError(path+"/pitch_seq",
					"sequence of %d pitches exhausted at time point %d", len(seq.Values), i)
			}
			pe := seq.Values[i%len(seq.Values)]
			if pe.Type == "absolute" {
				cell.Note = pe.Note
			} else {
				if ctx.harmony == nil {
					return nil, expandError(path+"/pitch_seq", "%s entries require harmony", pe.Type)
				}
				idx, err := ctx.harmony.resolvePitch(&pe, row)
				if err != nil {
					return nil, expandError(path+"/pitch_seq", "%s", err.Error())
				}
				cell.Note = FormatNote(idx)
			}
		}

		if err := ctx.put(out, coord{row, ch}, cell, "error", path); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// put writes one cell with the error merge policy and the cell-count cap.
func (ctx *expandContext) put(m cellMap, c coord, cell spec.Cell, merge, path string) error {
	if _, exists := m[c]; exists && merge == "error" {
		return expandError(path, "duplicate emission at row %d channel %d", c.row, c.channel)
	}
	m[c] = cell
	ctx.cells++
	if ctx.cells > ctx.prof.MaxCellsPerPattern {
		return budgetExpandError(path, "max_cells_per_pattern", "cell count exceeds %d", ctx.prof.MaxCellsPerPattern)
	}
	return nil
}

// mergeInto folds a child map into the stack accumulator per the policy.
// Children arrive in declared order, which is what makes last_wins
// deterministic.
func (ctx *expandContext) mergeInto(dst, src cellMap, merge, path string) error {
	// Deterministic iteration keeps error messages stable.
	coords := make([]coord, 0, len(src))
	for c := range src {
		coords = append(coords, c)
	}
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].row != coords[j].row {
			return coords[i].row < coords[j].row
		}
		return coords[i].channel < coords[j].channel
	})

	for _, c := range coords {
		cell := src[c]
		prev, exists := dst[c]
		if !exists {
			dst[c] = cell
			ctx.cells++
			if ctx.cells > ctx.prof.MaxCellsPerPattern {
				return budgetExpandError(path, "max_cells_per_pattern", "cell count exceeds %d", ctx.prof.MaxCellsPerPattern)
			}
			continue
		}
		switch merge {
		case "error":
			return expandError(path, "conflicting emissions at row %d channel %d", c.row, c.channel)
		case "last_wins":
			dst[c] = cell
		case "merge_fields":
			merged, err := mergeCells(prev, cell)
			if err != nil {
				return expandError(path, "row %d channel %d: %s", c.row, c.channel, err.Error())
			}
			dst[c] = merged
		}
	}
	return nil
}

// mergeCells combines fieldwise; the same field set on both sides is a
// conflict.
func mergeCells(a, b spec.Cell) (spec.Cell, error) {
	out := a
	if b.Note != "" {
		if a.Note != "" {
			return out, fmt.Errorf("note set by both children")
		}
		out.Note = b.Note
	}
	if b.Inst != nil {
		if a.Inst != nil {
			return out, fmt.Errorf("inst set by both children")
		}
		out.Inst = b.Inst
	}
	if b.Vol != nil {
		if a.Vol != nil {
			return out, fmt.Errorf("vol set by both children")
		}
		out.Vol = b.Vol
	}
	if b.Effect != nil {
		if a.Effect != nil {
			return out, fmt.Errorf("effect set by both children")
		}
		out.Effect = b.Effect
	}
	return out, nil
}

// resolveCell applies channel/instrument aliases and strips the channel
// coordinate out of the cell payload.
func (ctx *expandContext) resolveCell(c *spec.Cell, path string) (spec.Cell, int, error) {
	cell := *c
	ch := 0
	if cell.Channel != nil {
		ch = *cell.Channel
	}
	if cell.ChannelID != "" {
		id, ok := ctx.channelIDs[cell.ChannelID]
		if !ok {
			return cell, 0, expandError(path, "unknown channel id %q", cell.ChannelID)
		}
		ch = id
	}
	if cell.InstID != "" {
		id, ok := ctx.instIDs[cell.InstID]
		if !ok {
			return cell, 0, expandError(path, "unknown instrument id %q", cell.InstID)
		}
		cell.Inst = &id
	}
	cell.Channel = nil
	cell.ChannelID = ""
	cell.InstID = ""
	return cell, ch, nil
}

func (ctx *expandContext) transformCell(cell spec.Cell, e *spec.PatternExpr) spec.Cell {
	if e.TransposeSemitones != 0 && cell.Note != "" && cell.Note != NoteOff {
		if idx, err := ParseNote(cell.Note); err == nil {
			cell.Note = FormatNote(Transpose(idx, e.TransposeSemitones))
		}
	}
	if e.VolMul != nil && cell.Vol != nil {
		v := int(float64(*cell.Vol) * *e.VolMul)
		if v < 0 {
			v = 0
		}
		if v > 64 {
			v = 64
		}
		cell.Vol = &v
	}
	if e.Set != nil {
		if e.Set.Note != "" {
			cell.Note = e.Set.Note
		}
		if e.Set.Inst != nil {
			cell.Inst = e.Set.Inst
		}
		if e.Set.Vol != nil {
			cell.Vol = e.Set.Vol
		}
		if e.Set.Effect != nil {
			cell.Effect = e.Set.Effect
		}
	}
	return cell
}

// saltRNG builds the PCG32 stream for a prob/choose occurrence.
func (ctx *expandContext) saltRNG(salt string) *rng.RNG {
	return rng.New(canon.DeriveVariantSeed(ctx.seed, ctx.patternName+salt))
}

// timePoints resolves a time expression to concrete rows.
func (ctx *expandContext) timePoints(t *spec.TimeExpr, path string) ([]int, error) {
	if t == nil {
		return nil, expandError(path, "missing time expression")
	}

	var rows []int
	switch t.Kind {
	case "range":
		for k := 0; k < t.Count; k++ {
			rows = append(rows, t.Start+k*t.Step)
		}
	case "list":
		rows = append(rows, t.Values...)
	case "euclid":
		prev := -1
		for i := 0; i < t.Steps; i++ {
			// Bresenham distribution of pulses over steps.
			cur := ((i + t.Offset) * t.Pulses) / t.Steps
			if cur != prev && t.Pulses > 0 {
				rows = append(rows, i)
				prev = cur
			}
		}
	case "pattern":
		for i := 0; i < len(t.Pattern); i++ {
			if t.Pattern[i] == 'x' || t.Pattern[i] == 'X' {
				rows = append(rows, t.Start+i)
			}
		}
	case "beat_range":
		if ctx.rowsPerBeat == 0 {
			return nil, expandError(path, "beat_range requires timebase")
		}
		for k := 0; k < t.BeatCount; k++ {
			beat := t.BeatStart + float64(k)*t.BeatStep
			rows = append(rows, int(beat*float64(ctx.rowsPerBeat)))
		}
	case "beat_list":
		if ctx.rowsPerBeat == 0 {
			return nil, expandError(path, "beat_list requires timebase")
		}
		for _, beat := range t.BeatValues {
			rows = append(rows, int(beat*float64(ctx.rowsPerBeat)))
		}
	default:
		return nil, expandError(path, "unknown time expression %q", t.Kind)
	}

	if len(rows) > ctx.prof.MaxTimeListSize {
		return nil, budgetExpandError(path, "max_time_list_size", "%d time points exceeds %d", len(rows), ctx.prof.MaxTimeListSize)
	}
	return rows, nil
}
