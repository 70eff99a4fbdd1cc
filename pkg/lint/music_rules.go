package lint

import (
	"fmt"
	"sort"

	"github.com/opd-ai/speccade/pkg/music"
	"github.com/opd-ai/speccade/pkg/spec"
)

// CheckTracker runs the music rule set over canonical tracker params.
func CheckTracker(params *spec.TrackerParams, opts *Options) []Issue {
	var issues []Issue

	names := make([]string, 0, len(params.Patterns))
	for name := range params.Patterns {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(params.Arrangement) == 0 {
		issues = append(issues, Issue{
			RuleID: "music/empty-arrangement", Severity: SeverityError,
			Message: "arrangement lists no patterns",
		})
	}

	if params.BPM < 60 || params.BPM > 220 {
		issues = append(issues, Issue{
			RuleID: "music/extreme-tempo", Severity: SeverityWarning,
			Message:    fmt.Sprintf("bpm %d is outside the comfortable 60-220 range", params.BPM),
			Suggestion: "verify the tempo is intentional",
		})
	}

	channelUsed := make([]bool, params.Channels)
	patternHashes := map[string][]string{}

	for _, name := range names {
		pat := params.Patterns[name]

		if len(pat.Data) == 0 {
			issues = append(issues, Issue{
				RuleID: "music/empty-pattern", Severity: SeverityWarning,
				Message:    fmt.Sprintf("pattern %q has no events", name),
				Suggestion: "remove it from the arrangement or fill it",
			})
			continue
		}

		cellCount := 0
		for _, ev := range pat.Data {
			if ev.Channel >= 0 && ev.Channel < params.Channels {
				channelUsed[ev.Channel] = true
			}
			if ev.Note != "" && ev.Note != music.NoteOff {
				if _, err := music.ParseNote(ev.Note); err != nil {
					issues = append(issues, Issue{
						RuleID: "music/invalid-note", Severity: SeverityError,
						Message: fmt.Sprintf("pattern %q row %d: %v", name, ev.Row, err),
					})
				}
			}
			cellCount++
		}

		density := float64(cellCount) / float64(pat.Rows*params.Channels)
		if density > 0.8 {
			issues = append(issues, Issue{
				RuleID: "music/dense-pattern", Severity: SeverityInfo,
				Message:    fmt.Sprintf("pattern %q fills %.0f%% of its cells", name, density*100),
				Suggestion: "sparser patterns usually mix better",
			})
		}
		if density < 0.02 {
			issues = append(issues, Issue{
				RuleID: "music/sparse-pattern", Severity: SeverityInfo,
				Message:    fmt.Sprintf("pattern %q fills only %.1f%% of its cells", name, density*100),
				Suggestion: "consider merging with a neighbor pattern",
			})
		}

		issues = append(issues, voiceLeadingRules(name, &pat)...)

		sig := patternSignature(&pat)
		patternHashes[sig] = append(patternHashes[sig], name)
	}

	for c, used := range channelUsed {
		if !used {
			issues = append(issues, Issue{
				RuleID: "music/unused-channel", Severity: SeverityInfo,
				Message:    fmt.Sprintf("channel %d never carries an event", c),
				Suggestion: "lower the channel count",
			})
		}
	}

	// music/no-variation: the arrangement repeats one pattern signature.
	if len(params.Arrangement) >= 4 {
		sigs := map[string]bool{}
		for _, name := range params.Arrangement {
			if pat, ok := params.Patterns[name]; ok {
				sigs[patternSignature(&pat)] = true
			}
		}
		if len(sigs) == 1 {
			issues = append(issues, Issue{
				RuleID: "music/no-variation", Severity: SeverityWarning,
				Message:    "the whole arrangement is one repeated pattern",
				Suggestion: "add a variation pattern or a fill",
			})
		}
	}

	issues = append(issues, tensionRule(params, names)...)

	return filter(issues, opts)
}

// voiceLeadingRules flags parallel perfect intervals and crossed voices
// between simultaneously sounding channels.
func voiceLeadingRules(name string, pat *spec.Pattern) []Issue {
	var issues []Issue

	// Track the sounding note per channel row by row.
	byRow := map[int][]spec.Event{}
	for _, ev := range pat.Data {
		if ev.Note != "" && ev.Note != music.NoteOff {
			byRow[ev.Row] = append(byRow[ev.Row], ev)
		}
	}
	rows := make([]int, 0, len(byRow))
	for r := range byRow {
		rows = append(rows, r)
	}
	sort.Ints(rows)

	sounding := map[int]int{} // channel -> note index
	var prevPairs map[[2]int][2]int

	reportedOctaves, reportedFifths, reportedCrossing := false, false, false
	for _, r := range rows {
		evs := byRow[r]
		sort.Slice(evs, func(i, j int) bool { return evs[i].Channel < evs[j].Channel })
		for _, ev := range evs {
			if idx, err := music.ParseNote(ev.Note); err == nil {
				sounding[ev.Channel] = idx
			}
		}

		// Current simultaneous pairs.
		chans := make([]int, 0, len(sounding))
		for c := range sounding {
			chans = append(chans, c)
		}
		sort.Ints(chans)

		pairs := map[[2]int][2]int{}
		for i := 0; i < len(chans); i++ {
			for j := i + 1; j < len(chans); j++ {
				a, b := chans[i], chans[j]
				pairs[[2]int{a, b}] = [2]int{sounding[a], sounding[b]}

				// Voice crossing: a lower-numbered channel now sounding below
				// a higher-numbered one that it previously sat above.
				if !reportedCrossing && sounding[a] < sounding[b] {
					if prev, ok := prevPairs[[2]int{a, b}]; ok && prev[0] > prev[1] {
						issues = append(issues, Issue{
							RuleID: "music/voice-crossing", Severity: SeverityInfo,
							Message: fmt.Sprintf("pattern %q row %d: channels %d and %d cross", name, r, a, b),
						})
						reportedCrossing = true
					}
				}
			}
		}

		// Parallel octaves/fifths: both voices move and keep a perfect
		// interval.
		for key, cur := range pairs {
			prev, ok := prevPairs[key]
			if !ok || (prev[0] == cur[0] && prev[1] == cur[1]) {
				continue
			}
			prevIv := mod12(prev[1] - prev[0])
			curIv := mod12(cur[1] - cur[0])
			moved := prev[0] != cur[0] && prev[1] != cur[1]
			if moved && prevIv == 0 && curIv == 0 && !reportedOctaves {
				issues = append(issues, Issue{
					RuleID: "music/parallel-octaves", Severity: SeverityInfo,
					Message: fmt.Sprintf("pattern %q row %d: parallel octaves between channels %d and %d", name, r, key[0], key[1]),
				})
				reportedOctaves = true
			}
			if moved && prevIv == 7 && curIv == 7 && !reportedFifths {
				issues = append(issues, Issue{
					RuleID: "music/parallel-fifths", Severity: SeverityInfo,
					Message: fmt.Sprintf("pattern %q row %d: parallel fifths between channels %d and %d", name, r, key[0], key[1]),
				})
				reportedFifths = true
			}
		}
		prevPairs = pairs
	}
	return issues
}

// tensionRule flags a song whose final sounding chord is strongly
// dissonant against its opening tonality.
func tensionRule(params *spec.TrackerParams, names []string) []Issue {
	if len(params.Arrangement) == 0 {
		return nil
	}
	first, okF := params.Patterns[params.Arrangement[0]]
	last, okL := params.Patterns[params.Arrangement[len(params.Arrangement)-1]]
	if !okF || !okL || len(first.Data) == 0 || len(last.Data) == 0 {
		return nil
	}

	tonic, ok := firstNotePC(&first)
	if !ok {
		return nil
	}
	finalPCs := lastRowPCs(&last)
	if len(finalPCs) == 0 {
		return nil
	}

	// Resolution check: the final cells should contain the tonic pitch
	// class or its fifth.
	for _, pc := range finalPCs {
		if pc == tonic || pc == mod12(tonic+7) {
			return nil
		}
	}
	return []Issue{{
		RuleID: "music/unresolved-tension", Severity: SeverityInfo,
		Message:    "the final row never lands on the opening tonic or its fifth",
		Suggestion: "end the arrangement on the tonic chord",
	}}
}

func firstNotePC(pat *spec.Pattern) (int, bool) {
	best := -1
	bestRow := 1 << 30
	for _, ev := range pat.Data {
		if ev.Note == "" || ev.Note == music.NoteOff {
			continue
		}
		if idx, err := music.ParseNote(ev.Note); err == nil && ev.Row < bestRow {
			best, bestRow = idx%12, ev.Row
		}
	}
	return best, best >= 0
}

func lastRowPCs(pat *spec.Pattern) []int {
	lastRow := -1
	for _, ev := range pat.Data {
		if ev.Note != "" && ev.Note != music.NoteOff && ev.Row > lastRow {
			lastRow = ev.Row
		}
	}
	var pcs []int
	for _, ev := range pat.Data {
		if ev.Row == lastRow && ev.Note != "" && ev.Note != music.NoteOff {
			if idx, err := music.ParseNote(ev.Note); err == nil {
				pcs = append(pcs, idx%12)
			}
		}
	}
	return pcs
}

func patternSignature(pat *spec.Pattern) string {
	sig := fmt.Sprintf("r%d", pat.Rows)
	for _, ev := range pat.Data {
		sig += fmt.Sprintf("|%d.%d.%s", ev.Row, ev.Channel, ev.Note)
	}
	return sig
}

func mod12(v int) int {
	return ((v % 12) + 12) % 12
}
