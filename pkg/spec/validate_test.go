package spec

import (
	"fmt"
	"strings"
	"testing"

	"github.com/opd-ai/speccade/pkg/budget"
)

func mustParse(t *testing.T, raw string) *Spec {
	t.Helper()
	s, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func audioSpec(assetID string, seed int64, rate int) string {
	return fmt.Sprintf(`{
		"spec_version": 1,
		"asset_id": %q,
		"asset_type": "audio",
		"seed": %d,
		"outputs": [{"kind": "audio", "format": "wav", "path": "out.wav"}],
		"recipe": {"kind": "audio_v1", "params": {
			"duration_seconds": 0.25,
			"sample_rate": %d,
			"layers": [{
				"synthesis": {"type": "fm_synth", "carrier_freq": 1200, "mod_ratio": 2.5, "mod_index": 8.0, "index_decay": 10.0},
				"amplitude": 0.9,
				"envelope": {"attack": 0.001, "decay": 0.1, "sustain": 0.3, "release": 0.1}
			}]
		}}
	}`, assetID, seed, rate)
}

func hasCode(ds Diagnostics, code string) bool {
	for _, d := range ds {
		if d.Code == code {
			return true
		}
	}
	return false
}

func TestValidateAudioHappyPath(t *testing.T) {
	s := mustParse(t, audioSpec("laser-01", 42, 44100))
	ds := ValidateContract(s, budget.Default())
	if ds.HasErrors() {
		t.Fatalf("unexpected errors: %+v", ds)
	}
}

func TestAssetIDBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		assetID string
		wantErr bool
	}{
		{"three chars accepted", "abc", false},
		{"two chars rejected", "ab", true},
		{"sixty-four chars accepted", "a" + strings.Repeat("b", 63), false},
		{"sixty-five chars rejected", "a" + strings.Repeat("b", 64), true},
		{"leading digit rejected", "1abc", true},
		{"uppercase rejected", "Abc", true},
		{"hyphen and underscore ok", "my_asset-01", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustParse(t, audioSpec(tt.assetID, 1, 44100))
			ds := ValidateContract(s, budget.Default())
			got := hasCode(ds, CodeBadAssetID)
			if got != tt.wantErr {
				t.Errorf("E002 = %v, want %v (diags %+v)", got, tt.wantErr, ds)
			}
		})
	}
}

func TestSeedBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		seed    int64
		wantErr bool
	}{
		{"zero accepted", 0, false},
		{"max u32 accepted", 0xFFFFFFFF, false},
		{"negative rejected", -1, true},
		{"one past max rejected", 1 << 32, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustParse(t, audioSpec("abc", tt.seed, 44100))
			ds := ValidateContract(s, budget.Default())
			if got := hasCode(ds, CodeBadSeed); got != tt.wantErr {
				t.Errorf("E003 = %v, want %v", got, tt.wantErr)
			}
		})
	}
}

func TestBudgetSampleRateSuggestion(t *testing.T) {
	s := mustParse(t, audioSpec("laser-01", 42, 44100))
	ds := ValidateContract(s, budget.Nethercore())

	var found *Diagnostic
	for i := range ds {
		if ds[i].Code == CodeBudget && strings.Contains(ds[i].Message, "allowed_sample_rates") {
			found = &ds[i]
		}
	}
	if found == nil {
		t.Fatalf("expected budget error citing allowed_sample_rates, got %+v", ds)
	}
	if len(found.Suggestions) == 0 {
		t.Fatal("expected a replacement suggestion")
	}
	sg := found.Suggestions[0]
	if sg.Op != "replace" || sg.Value != 22050 {
		t.Errorf("suggestion = %+v, want replace 22050", sg)
	}
}

func TestRecipeKindMismatch(t *testing.T) {
	raw := strings.Replace(audioSpec("abc", 1, 44100), `"asset_type": "audio"`, `"asset_type": "texture"`, 1)
	s := mustParse(t, raw)
	ds := ValidateContract(s, budget.Default())
	if !hasCode(ds, CodeKindMismatch) {
		t.Errorf("expected E005, got %+v", ds)
	}
}

func TestOutputPathRules(t *testing.T) {
	tests := []struct {
		name string
		path string
		code string
	}{
		{"absolute rejected", "/abs.wav", CodeBadOutputPath},
		{"dotdot rejected", "../esc.wav", CodeBadOutputPath},
		{"backslash rejected", `a\b.wav`, CodeBadOutputPath},
		{"wrong extension", "out.png", CodeOutputConflict},
		{"nested relative ok", "sfx/out.wav", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := strings.Replace(audioSpec("abc", 1, 44100), `"path": "out.wav"`, fmt.Sprintf("%q: %q", "path", tt.path), 1)
			s := mustParse(t, raw)
			ds := ValidateContract(s, budget.Default())
			if tt.code == "" {
				if hasCode(ds, CodeBadOutputPath) || hasCode(ds, CodeOutputConflict) {
					t.Errorf("unexpected path error: %+v", ds)
				}
				return
			}
			if !hasCode(ds, tt.code) {
				t.Errorf("expected %s, got %+v", tt.code, ds)
			}
		})
	}
}

func TestDuplicateOutputPath(t *testing.T) {
	raw := strings.Replace(audioSpec("abc", 1, 44100),
		`"outputs": [{"kind": "audio", "format": "wav", "path": "out.wav"}]`,
		`"outputs": [{"kind": "audio", "format": "wav", "path": "out.wav"}, {"kind": "audio", "format": "wav", "path": "out.wav"}]`, 1)
	s := mustParse(t, raw)
	ds := ValidateContract(s, budget.Default())
	if !hasCode(ds, CodeOutputConflict) {
		t.Errorf("expected E007, got %+v", ds)
	}
}

func TestUnknownSynthesisType(t *testing.T) {
	raw := strings.Replace(audioSpec("abc", 1, 44100), `"type": "fm_synth"`, `"type": "theremin"`, 1)
	s := mustParse(t, raw)
	ds := ValidateContract(s, budget.Default())
	if !hasCode(ds, CodeUnknownTag) {
		t.Errorf("expected E010 for unknown synthesis type, got %+v", ds)
	}
}

func TestForeignSynthesisFieldRejected(t *testing.T) {
	// duty belongs to oscillator, not fm_synth.
	raw := strings.Replace(audioSpec("abc", 1, 44100), `"carrier_freq": 1200,`, `"carrier_freq": 1200, "duty": 0.5,`, 1)
	s := mustParse(t, raw)
	ds := ValidateContract(s, budget.Default())
	if !hasCode(ds, CodeBadField) {
		t.Errorf("expected E011 for foreign variant field, got %+v", ds)
	}
}

func textureSpec(nodes string, w, h int) string {
	return fmt.Sprintf(`{
		"spec_version": 1,
		"asset_id": "tex-01",
		"asset_type": "texture",
		"seed": 7,
		"outputs": [{"kind": "map", "format": "png", "path": "tex.png"}],
		"recipe": {"kind": "texture.procedural_v1", "params": {
			"resolution": [%d, %d],
			"nodes": %s
		}}
	}`, w, h, nodes)
}

func TestTextureGraphValidation(t *testing.T) {
	tests := []struct {
		name  string
		nodes string
		code  string
	}{
		{
			"valid two-node graph",
			`[{"id":"n","op":"noise","noise_type":"perlin","scale":0.1},{"id":"m","op":"threshold","inputs":["n"],"threshold":0.5}]`,
			"",
		},
		{
			"duplicate id",
			`[{"id":"n","op":"constant","value":1},{"id":"n","op":"constant","value":0}]`,
			CodeBackendParam,
		},
		{
			"forward reference",
			`[{"id":"m","op":"invert","inputs":["n"]},{"id":"n","op":"constant","value":1}]`,
			CodeBackendParam,
		},
		{
			"missing input",
			`[{"id":"m","op":"invert","inputs":["ghost"]}]`,
			CodeBackendParam,
		},
		{
			"bad noise type",
			`[{"id":"n","op":"noise","noise_type":"fractal","scale":0.1}]`,
			CodeUnknownTag,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustParse(t, textureSpec(tt.nodes, 64, 64))
			ds := ValidateContract(s, budget.Default())
			if tt.code == "" {
				if ds.HasErrors() {
					t.Errorf("unexpected errors: %+v", ds)
				}
				return
			}
			if !hasCode(ds, tt.code) {
				t.Errorf("expected %s, got %+v", tt.code, ds)
			}
		})
	}
}

func TestTextureDepthBudgetBoundary(t *testing.T) {
	prof := budget.Default()
	prof.MaxGraphDepth = 4

	chain := func(n int) string {
		var sb strings.Builder
		sb.WriteString(`[{"id":"n0","op":"constant","value":0.5}`)
		for i := 1; i < n; i++ {
			fmt.Fprintf(&sb, `,{"id":"n%d","op":"invert","inputs":["n%d"]}`, i, i-1)
		}
		sb.WriteString("]")
		return sb.String()
	}

	at := mustParse(t, textureSpec(chain(4), 64, 64))
	if ds := ValidateContract(at, prof); ds.HasErrors() {
		t.Errorf("depth at budget should pass: %+v", ds)
	}

	over := mustParse(t, textureSpec(chain(5), 64, 64))
	if ds := ValidateContract(over, prof); !hasCode(ds, CodeBudget) {
		t.Errorf("depth over budget should fail: %+v", ds)
	}
}

func TestTextureUnknownOpRejectedAtParse(t *testing.T) {
	s := mustParse(t, textureSpec(`[{"id":"n","op":"hologram"}]`, 64, 64))
	ds := ValidateContract(s, budget.Default())
	if !hasCode(ds, CodeUnknownTag) {
		t.Errorf("expected E010, got %+v", ds)
	}
}

func trackerSpec(format string, breakRow int) string {
	return fmt.Sprintf(`{
		"spec_version": 1,
		"asset_id": "song-01",
		"asset_type": "music",
		"seed": 9,
		"outputs": [{"kind": "audio", "format": %q, "path": "song.%s"}],
		"recipe": {"kind": "music.tracker_song_v1", "params": {
			"format": %q,
			"bpm": 125,
			"speed": 6,
			"channels": 4,
			"instruments": [{"name": "bass", "synthesis": {"type": "oscillator", "waveform": "saw", "freq": 440}, "duration_seconds": 0.5, "base_note": "A-4"}],
			"patterns": {"main": {"rows": 64, "data": [
				{"row": 0, "channel": 0, "note": "C-4", "inst": 1, "effect": {"type": "pattern_break", "row": %d}}
			]}},
			"arrangement": ["main"]
		}}
	}`, format, format, format, breakRow)
}

func TestXMBreakRowBoundary(t *testing.T) {
	at := mustParse(t, trackerSpec("xm", 63))
	if ds := ValidateContract(at, budget.Default()); ds.HasErrors() {
		t.Errorf("break row 63 should pass for XM: %+v", ds)
	}

	over := mustParse(t, trackerSpec("xm", 64))
	if ds := ValidateContract(over, budget.Default()); !hasCode(ds, CodeBackendParam) {
		t.Errorf("break row 64 should fail for XM: %+v", ds)
	}

	it := mustParse(t, trackerSpec("it", 64))
	if ds := ValidateContract(it, budget.Default()); ds.HasErrors() {
		t.Errorf("break row 64 should pass for IT: %+v", ds)
	}
}

func TestTrackerUndefinedInstrument(t *testing.T) {
	raw := strings.Replace(trackerSpec("xm", 0), `"inst": 1`, `"inst": 3`, 1)
	s := mustParse(t, raw)
	ds := ValidateContract(s, budget.Default())
	if !hasCode(ds, CodeBackendParam) {
		t.Errorf("expected error for undefined instrument, got %+v", ds)
	}
}

func TestComposeProbRequiresSeedSalt(t *testing.T) {
	raw := `{
		"spec_version": 1,
		"asset_id": "song-02",
		"asset_type": "music",
		"seed": 9,
		"outputs": [{"kind": "audio", "format": "xm", "path": "song.xm"}],
		"recipe": {"kind": "music.tracker_song_compose_v1", "params": {
			"format": "xm", "bpm": 125, "speed": 6, "channels": 4,
			"instruments": [{"name": "b", "synthesis": {"type": "oscillator", "waveform": "saw", "freq": 440}, "duration_seconds": 0.5}],
			"patterns": {"main": {"rows": 64, "program": {
				"op": "prob", "p_permille": 500,
				"body": {"op": "emit", "at": {"kind": "list", "values": [0]}, "cell": {"note": "C-4", "inst": 1}}
			}}},
			"arrangement": ["main"]
		}}
	}`
	s := mustParse(t, raw)
	ds := ValidateContract(s, budget.Default())
	if !hasCode(ds, CodeBackendParam) {
		t.Errorf("prob without seed_salt should fail: %+v", ds)
	}
}

func TestParseRejectsUnknownTopLevelField(t *testing.T) {
	_, err := Parse([]byte(`{"spec_version": 1, "asset_id": "abc", "mystery": true}`))
	if err == nil {
		t.Error("expected parse error for unknown field")
	}
}
