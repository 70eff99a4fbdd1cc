package spec

import (
	"fmt"
	"math"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/opd-ai/speccade/pkg/budget"
)

var assetIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{2,63}$`)

// formatExtensions maps declared output formats to their required extension.
var formatExtensions = map[string]string{
	"wav":  ".wav",
	"xm":   ".xm",
	"it":   ".it",
	"png":  ".png",
	"glb":  ".glb",
	"json": ".json",
}

// outputKindsByAssetType lists which output kinds each asset type may declare.
var outputKindsByAssetType = map[string][]string{
	"audio":   {OutputAudio, OutputMetadata},
	"music":   {OutputAudio, OutputMetadata},
	"texture": {OutputMap, OutputMetadata},
	"mesh":    {OutputMesh, OutputAnimation, OutputMetadata},
}

// recipeKindsByAssetType pairs asset types with compatible recipe kinds.
var recipeKindsByAssetType = map[string][]string{
	"audio":   {KindAudio},
	"music":   {KindTrackerSong, KindTrackerCompose},
	"texture": {KindTexture},
}

// ValidateContract checks every schema and budget invariant of the spec.
// It never generates; all violations surface as coded diagnostics.
func ValidateContract(s *Spec, prof *budget.Profile) Diagnostics {
	var ds Diagnostics

	if s.SpecVersion != 1 {
		ds = append(ds, errorf(CodeBadVersion, "/spec_version", "unsupported spec_version %d (want 1)", s.SpecVersion))
	}
	if !assetIDPattern.MatchString(s.AssetID) {
		ds = append(ds, errorf(CodeBadAssetID, "/asset_id", "asset_id %q must match [a-z][a-z0-9_-]{2,63}", s.AssetID))
	}
	if s.Seed < 0 || s.Seed > math.MaxUint32 {
		ds = append(ds, errorf(CodeBadSeed, "/seed", "seed %d outside [0, 2^32)", s.Seed))
	}
	if prof.MaxSpecSizeBytes > 0 && len(s.Raw) > prof.MaxSpecSizeBytes {
		ds = append(ds, budgetError("/", "general", "max_spec_size_bytes",
			fmt.Sprintf("spec is %d bytes, limit %d", len(s.Raw), prof.MaxSpecSizeBytes), nil))
	}

	ds = append(ds, validateOutputs(s)...)

	kinds, ok := recipeKindsByAssetType[s.AssetType]
	if !ok {
		ds = append(ds, errorf(CodeBadField, "/asset_type", "unknown asset_type %q", s.AssetType))
	} else if !contains(kinds, s.Recipe.Kind) {
		ds = append(ds, errorf(CodeKindMismatch, "/recipe/kind",
			"recipe kind %q incompatible with asset_type %q", s.Recipe.Kind, s.AssetType))
	}

	if ds.HasErrors() {
		return ds
	}

	switch s.Recipe.Kind {
	case KindAudio:
		ds = append(ds, validateAudio(s, prof)...)
	case KindTexture:
		ds = append(ds, validateTexture(s, prof)...)
	case KindTrackerSong:
		ds = append(ds, validateTracker(s, prof)...)
	case KindTrackerCompose:
		ds = append(ds, validateCompose(s, prof)...)
	default:
		ds = append(ds, errorf(CodeUnknownTag, "/recipe/kind", "unknown recipe kind %q", s.Recipe.Kind))
	}

	return ds
}

// ValidateForGenerate runs the contract checks plus the conditions generate
// relies on: every declared output must be producible by the recipe.
func ValidateForGenerate(s *Spec, prof *budget.Profile) Diagnostics {
	ds := ValidateContract(s, prof)
	if ds.HasErrors() {
		return ds
	}

	for i, out := range s.Outputs {
		p := fmt.Sprintf("/outputs/%d/format", i)
		switch s.Recipe.Kind {
		case KindAudio:
			if out.Format != "wav" && out.Format != "json" {
				ds = append(ds, errorf(CodeBadOutputKind, p, "audio_v1 cannot produce %q", out.Format))
			}
		case KindTexture:
			if out.Format != "png" && out.Format != "json" {
				ds = append(ds, errorf(CodeBadOutputKind, p, "texture.procedural_v1 cannot produce %q", out.Format))
			}
		case KindTrackerSong, KindTrackerCompose:
			if out.Format != "xm" && out.Format != "it" && out.Format != "json" {
				ds = append(ds, errorf(CodeBadOutputKind, p, "tracker recipes cannot produce %q", out.Format))
			}
		}
	}
	return ds
}

func validateOutputs(s *Spec) Diagnostics {
	var ds Diagnostics
	if len(s.Outputs) == 0 {
		ds = append(ds, errorf(CodeNoOutputs, "/outputs", "outputs must not be empty"))
		return ds
	}

	seen := map[string]int{}
	allowedKinds := outputKindsByAssetType[s.AssetType]
	for i, out := range s.Outputs {
		p := fmt.Sprintf("/outputs/%d", i)

		if out.Path == "" || strings.HasPrefix(out.Path, "/") || strings.Contains(out.Path, "\\") {
			ds = append(ds, errorf(CodeBadOutputPath, p+"/path", "output path %q must be relative with forward slashes", out.Path))
			continue
		}
		clean := path.Clean(out.Path)
		if clean != out.Path || strings.HasPrefix(clean, "..") {
			ds = append(ds, errorf(CodeBadOutputPath, p+"/path", "output path %q must be normalized and inside the output root", out.Path))
			continue
		}

		if prev, dup := seen[out.Path]; dup {
			ds = append(ds, errorf(CodeOutputConflict, p+"/path", "output path %q duplicates outputs[%d]", out.Path, prev))
		}
		seen[out.Path] = i

		ext, known := formatExtensions[out.Format]
		if !known {
			ds = append(ds, errorf(CodeBadField, p+"/format", "unknown output format %q", out.Format))
		} else if path.Ext(out.Path) != ext {
			ds = append(ds, errorf(CodeOutputConflict, p+"/path",
				"extension of %q does not match format %q (want %s)", out.Path, out.Format, ext))
		}

		if allowedKinds != nil && !contains(allowedKinds, out.Kind) {
			ds = append(ds, errorf(CodeBadOutputKind, p+"/kind",
				"output kind %q incompatible with asset_type %q", out.Kind, s.AssetType))
		}
	}
	return ds
}

// budgetError builds an E009 diagnostic carrying the budget category and the
// named limit, with optional fix suggestions.
func budgetError(p, category, limit, msg string, sugg []Suggestion) Diagnostic {
	d := errorf(CodeBudget, p, "budget[%s/%s]: %s", category, limit, msg)
	d.Suggestions = sugg
	return d
}

func validateAudio(s *Spec, prof *budget.Profile) Diagnostics {
	var ds Diagnostics
	params, err := s.AudioParams()
	if err != nil {
		return Diagnostics{classifyDecodeError("/recipe/params", err)}
	}

	if params.DurationSeconds <= 0 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/duration_seconds", "duration_seconds must be positive"))
	} else if params.DurationSeconds > prof.MaxAudioDurationSeconds {
		ds = append(ds, budgetError("/recipe/params/duration_seconds", "audio", "max_audio_duration_seconds",
			fmt.Sprintf("%.3fs exceeds %.1fs", params.DurationSeconds, prof.MaxAudioDurationSeconds), nil))
	} else if params.DurationSeconds > prof.MaxAudioDurationSeconds*0.9 {
		ds = append(ds, warnf(CodeNearBudget, "/recipe/params/duration_seconds",
			"duration %.3fs is within 10%% of the %.1fs limit", params.DurationSeconds, prof.MaxAudioDurationSeconds))
	}

	if !prof.SampleRateAllowed(params.SampleRate) {
		d := budgetError("/recipe/params/sample_rate", "audio", "allowed_sample_rates",
			fmt.Sprintf("sample_rate %d not in %v", params.SampleRate, prof.AllowedSampleRates),
			[]Suggestion{{Op: "replace", Path: "/recipe/params/sample_rate", Value: prof.AllowedSampleRates[0]}})
		ds = append(ds, d)
	}

	if prof.MaxSamples > 0 && params.SampleRate > 0 {
		total := int(params.DurationSeconds * float64(params.SampleRate))
		if total > prof.MaxSamples {
			ds = append(ds, budgetError("/recipe/params", "audio", "max_samples",
				fmt.Sprintf("%d samples exceeds %d", total, prof.MaxSamples), nil))
		}
	}

	if len(params.Layers) == 0 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/layers", "at least one layer required"))
	} else if len(params.Layers) > prof.MaxAudioLayers {
		ds = append(ds, budgetError("/recipe/params/layers", "audio", "max_audio_layers",
			fmt.Sprintf("%d layers exceeds %d", len(params.Layers), prof.MaxAudioLayers), nil))
	}

	if params.PeakDB > 0 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/peak_db", "peak_db must be <= 0 dBFS"))
	}

	for i := range params.Layers {
		ds = append(ds, validateLayer(&params.Layers[i], params.SampleRate, fmt.Sprintf("/recipe/params/layers/%d", i))...)
	}
	for i := range params.MasterEffects {
		ds = append(ds, validateEffect(&params.MasterEffects[i], fmt.Sprintf("/recipe/params/master_effects/%d", i))...)
	}
	return ds
}

func validateLayer(l *Layer, sampleRate int, p string) Diagnostics {
	var ds Diagnostics

	if l.Amplitude < 0 || l.Amplitude > 1 {
		ds = append(ds, errorf(CodeBackendParam, p+"/amplitude", "amplitude %v outside [0,1]", l.Amplitude))
	} else if l.Amplitude == 0 {
		ds = append(ds, warnf(CodeSilentOutput, p+"/amplitude", "amplitude 0 renders this layer silent"))
	}
	if l.Pan < -1 || l.Pan > 1 {
		ds = append(ds, errorf(CodeBackendParam, p+"/pan", "pan %v outside [-1,1]", l.Pan))
	}

	ds = append(ds, validateEnvelope(&l.Envelope, p+"/envelope")...)
	ds = append(ds, validateSynthesis(&l.Synthesis, p+"/synthesis")...)

	if l.Filter != nil {
		f := l.Filter
		fp := p + "/filter"
		if !contains(FilterTypes, f.Type) {
			ds = append(ds, errorf(CodeUnknownTag, fp+"/type", "unknown filter type %q", f.Type))
		}
		nyquist := float64(sampleRate) / 2
		if f.Cutoff <= 0 || (sampleRate > 0 && f.Cutoff >= nyquist) {
			ds = append(ds, errorf(CodeBackendParam, fp+"/cutoff", "cutoff %v outside (0, nyquist)", f.Cutoff))
		}
		if f.Resonance < 0 || f.Resonance > 1 {
			ds = append(ds, errorf(CodeBackendParam, fp+"/resonance", "resonance %v outside [0,1]", f.Resonance))
		} else if f.Resonance >= 0.999 {
			ds = append(ds, warnf(CodeDenormalRisk, fp+"/resonance", "resonance %v invites self-oscillation drift", f.Resonance))
		}
	}

	if l.LFO != nil {
		lp := p + "/lfo"
		if !contains(LFOShapes, l.LFO.Shape) {
			ds = append(ds, errorf(CodeUnknownTag, lp+"/shape", "unknown LFO shape %q", l.LFO.Shape))
		}
		if !contains(LFOTargets, l.LFO.Target) {
			ds = append(ds, errorf(CodeUnknownTag, lp+"/target", "unknown LFO target %q", l.LFO.Target))
		}
		if l.LFO.RateHz <= 0 {
			ds = append(ds, errorf(CodeBackendParam, lp+"/rate_hz", "rate_hz must be positive"))
		}
	}

	for i := range l.Effects {
		ds = append(ds, validateEffect(&l.Effects[i], fmt.Sprintf("%s/effects/%d", p, i))...)
	}
	return ds
}

func validateEnvelope(e *Envelope, p string) Diagnostics {
	var ds Diagnostics
	if e.Attack < 0 || e.Decay < 0 || e.Release < 0 {
		ds = append(ds, errorf(CodeBackendParam, p, "envelope times must be non-negative"))
	}
	if e.Sustain < 0 || e.Sustain > 1 {
		ds = append(ds, errorf(CodeBackendParam, p+"/sustain", "sustain %v outside [0,1]", e.Sustain))
	}
	for _, c := range []struct{ name, val string }{
		{"attack_curve", e.AttackCurve}, {"decay_curve", e.DecayCurve}, {"release_curve", e.ReleaseCurve},
	} {
		if c.val != "" && c.val != "linear" && c.val != "exponential" && c.val != "logarithmic" {
			ds = append(ds, errorf(CodeUnknownTag, p+"/"+c.name, "unknown curve %q", c.val))
		}
	}
	return ds
}

// synthesisFreq extracts the primary frequency parameter of a variant for
// the positivity check. The second return is false for variants without a
// single base frequency.
func synthesisFreq(s *Synthesis) (float64, bool) {
	switch s.Type {
	case "oscillator", "supersaw_unison", "karplus_strong", "bowed_string",
		"wavetable", "granular", "pd_synth", "modal", "formant", "vector",
		"waveguide", "membrane_drum", "comb_filter_synth", "pulsar", "vosim",
		"spectral_freeze":
		return s.Freq, true
	case "fm_synth", "feedback_fm", "am_synth", "vocoder":
		return s.CarrierFreq, true
	case "additive", "metallic":
		return s.BaseFreq, true
	case "pitched_body":
		return s.StartFreq, true
	case "ring_mod_synth":
		return s.FreqA, true
	}
	return 0, false
}

func validateSynthesis(s *Synthesis, p string) Diagnostics {
	var ds Diagnostics

	if _, ok := synthesisFields[s.Type]; !ok {
		return Diagnostics{errorf(CodeUnknownTag, p+"/type", "unknown synthesis type %q", s.Type)}
	}

	if f, has := synthesisFreq(s); has && f <= 0 {
		ds = append(ds, errorf(CodeBackendParam, p, "%s requires a positive base frequency", s.Type))
	}

	switch s.Type {
	case "oscillator":
		if !contains([]string{"sine", "square", "saw", "triangle", "pulse"}, s.Waveform) {
			ds = append(ds, errorf(CodeUnknownTag, p+"/waveform", "unknown waveform %q", s.Waveform))
		}
		if s.Waveform == "pulse" && (s.Duty <= 0 || s.Duty >= 1) {
			ds = append(ds, errorf(CodeBackendParam, p+"/duty", "pulse duty %v outside (0,1)", s.Duty))
		}
	case "multi_oscillator":
		if len(s.Oscillators) == 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/oscillators", "at least one oscillator required"))
		}
		for i, o := range s.Oscillators {
			if o.Freq <= 0 {
				ds = append(ds, errorf(CodeBackendParam, fmt.Sprintf("%s/oscillators/%d/freq", p, i), "freq must be positive"))
			}
		}
	case "supersaw_unison":
		if s.Voices < 1 {
			ds = append(ds, errorf(CodeBackendParam, p+"/voices", "voices must be >= 1"))
		}
	case "fm_synth", "feedback_fm":
		if s.ModRatio <= 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/mod_ratio", "mod_ratio must be positive"))
		}
	case "ring_mod_synth":
		if s.FreqB <= 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/freq_b", "freq_b must be positive"))
		}
	case "additive":
		if len(s.Harmonics) == 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/harmonics", "harmonics must not be empty"))
		}
	case "pitched_body":
		if s.EndFreq <= 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/end_freq", "end_freq must be positive"))
		}
	case "wavetable":
		if len(s.Table) < 2 {
			ds = append(ds, errorf(CodeBackendParam, p+"/table", "wavetable needs at least 2 samples"))
		}
	case "granular":
		if s.GrainSizeMS <= 0 || s.GrainRateHz <= 0 {
			ds = append(ds, errorf(CodeBackendParam, p, "granular needs positive grain_size_ms and grain_rate_hz"))
		}
	case "modal":
		if len(s.ModeRatios) == 0 || len(s.ModeRatios) != len(s.ModeAmps) || len(s.ModeRatios) != len(s.ModeDecays) {
			ds = append(ds, errorf(CodeBackendParam, p, "modal mode_ratios/mode_amps/mode_decays must be equal non-zero length"))
		}
	case "formant":
		if !contains([]string{"a", "e", "i", "o", "u"}, s.Vowel) {
			ds = append(ds, errorf(CodeUnknownTag, p+"/vowel", "unknown vowel %q", s.Vowel))
		}
	case "noise_burst":
		if s.Color != "" && !contains([]string{"white", "pink", "brown"}, s.Color) {
			ds = append(ds, errorf(CodeUnknownTag, p+"/color", "unknown noise color %q", s.Color))
		}
	case "vosim":
		if s.Pulses < 1 {
			ds = append(ds, errorf(CodeBackendParam, p+"/pulses", "pulses must be >= 1"))
		}
	}
	return ds
}

func validateEffect(e *Effect, p string) Diagnostics {
	var ds Diagnostics
	if _, ok := effectFields[e.Type]; !ok {
		return Diagnostics{errorf(CodeUnknownTag, p+"/type", "unknown effect type %q", e.Type)}
	}
	if e.Mix < 0 || e.Mix > 1 {
		ds = append(ds, errorf(CodeBackendParam, p+"/mix", "mix %v outside [0,1]", e.Mix))
	}
	switch e.Type {
	case "bitcrush":
		if e.Bits < 1 || e.Bits > 16 {
			ds = append(ds, errorf(CodeBackendParam, p+"/bits", "bits %d outside [1,16]", e.Bits))
		}
	case "compressor":
		if e.Ratio < 1 {
			ds = append(ds, errorf(CodeBackendParam, p+"/ratio", "ratio must be >= 1"))
		}
	case "delay", "granular_delay":
		if e.TimeMS <= 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/time_ms", "time_ms must be positive"))
		}
		if e.Feedback < 0 || e.Feedback >= 1 {
			ds = append(ds, errorf(CodeBackendParam, p+"/feedback", "feedback %v outside [0,1)", e.Feedback))
		}
	case "parametric_eq":
		if len(e.Bands) == 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/bands", "at least one band required"))
		}
		for i, b := range e.Bands {
			if !contains([]string{"peak", "low_shelf", "high_shelf", "notch"}, b.Type) {
				ds = append(ds, errorf(CodeUnknownTag, fmt.Sprintf("%s/bands/%d/type", p, i), "unknown band type %q", b.Type))
			}
		}
	}
	return ds
}

func validateTexture(s *Spec, prof *budget.Profile) Diagnostics {
	var ds Diagnostics
	params, err := s.TextureParams()
	if err != nil {
		return Diagnostics{classifyDecodeError("/recipe/params", err)}
	}

	w, h := params.Resolution[0], params.Resolution[1]
	if w <= 0 || h <= 0 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/resolution", "resolution must be positive"))
		return ds
	}
	if w > prof.MaxTextureSize || h > prof.MaxTextureSize {
		ds = append(ds, budgetError("/recipe/params/resolution", "texture", "max_texture_size",
			fmt.Sprintf("%dx%d exceeds %d per axis", w, h, prof.MaxTextureSize), nil))
	}
	if w*h > prof.MaxPixels {
		ds = append(ds, budgetError("/recipe/params/resolution", "texture", "max_pixels",
			fmt.Sprintf("%d pixels exceeds %d", w*h, prof.MaxPixels), nil))
	}
	if !isPowerOfTwo(w) || !isPowerOfTwo(h) {
		ds = append(ds, warnf(CodeNonPOT, "/recipe/params/resolution", "resolution %dx%d is not power-of-two", w, h))
	}

	if len(params.Nodes) == 0 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/nodes", "at least one node required"))
		return ds
	}
	if len(params.Nodes) > prof.MaxGraphNodes {
		ds = append(ds, budgetError("/recipe/params/nodes", "texture", "max_graph_nodes",
			fmt.Sprintf("%d nodes exceeds %d", len(params.Nodes), prof.MaxGraphNodes), nil))
	}

	// Single forward pass: ids unique, inputs already defined (which also
	// guarantees acyclicity), arity correct, depth within budget.
	depth := map[string]int{}
	maxDepth := 0
	for i, n := range params.Nodes {
		p := fmt.Sprintf("/recipe/params/nodes/%d", i)
		if n.ID == "" {
			ds = append(ds, errorf(CodeBackendParam, p+"/id", "node id must not be empty"))
			continue
		}
		if _, dup := depth[n.ID]; dup {
			ds = append(ds, errorf(CodeBackendParam, p+"/id", "duplicate node id %q", n.ID))
			continue
		}

		arity, _ := TextureOpInputs(n.Op)
		if arity >= 0 && len(n.Inputs) != arity {
			ds = append(ds, errorf(CodeBackendParam, p+"/inputs",
				"op %q takes %d inputs, got %d", n.Op, arity, len(n.Inputs)))
		}
		switch n.Op {
		case "lerp":
			if len(n.Inputs) != 2 && len(n.Inputs) != 3 {
				ds = append(ds, errorf(CodeBackendParam, p+"/inputs", "lerp takes 2 inputs plus optional t input"))
			}
		case "compose_rgba":
			if len(n.Inputs) != 3 && len(n.Inputs) != 4 {
				ds = append(ds, errorf(CodeBackendParam, p+"/inputs", "compose_rgba takes 3 or 4 inputs"))
			}
		}

		d := 0
		for _, in := range n.Inputs {
			id, ok := depth[in]
			if !ok {
				ds = append(ds, errorf(CodeBackendParam, p+"/inputs",
					"input %q is not defined before node %q", in, n.ID))
				continue
			}
			if id+1 > d {
				d = id + 1
			}
		}
		depth[n.ID] = d
		if d > maxDepth {
			maxDepth = d
		}

		ds = append(ds, validateTextureNode(&n, p)...)
	}

	if maxDepth+1 > prof.MaxGraphDepth {
		ds = append(ds, budgetError("/recipe/params/nodes", "texture", "max_graph_depth",
			fmt.Sprintf("graph depth %d exceeds %d", maxDepth+1, prof.MaxGraphDepth), nil))
	}
	return ds
}

func validateTextureNode(n *TextureNode, p string) Diagnostics {
	var ds Diagnostics
	switch n.Op {
	case "noise":
		if !contains([]string{"perlin", "simplex", "worley", "value", "fbm"}, n.NoiseType) {
			ds = append(ds, errorf(CodeUnknownTag, p+"/noise_type", "unknown noise type %q", n.NoiseType))
		}
		if n.Scale <= 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/scale", "noise scale must be positive"))
		}
	case "gradient":
		if !contains([]string{"horizontal", "vertical", "radial"}, n.Direction) {
			ds = append(ds, errorf(CodeUnknownTag, p+"/direction", "unknown gradient direction %q", n.Direction))
		}
	case "stripes", "checkerboard":
		if n.Count < 1 {
			ds = append(ds, errorf(CodeBackendParam, p+"/count", "count must be >= 1"))
		}
	case "color_ramp":
		if len(n.Stops) == 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/stops", "at least one stop required"))
		}
		if !sort.SliceIsSorted(n.Stops, func(a, b int) bool { return n.Stops[a].Pos < n.Stops[b].Pos }) {
			ds = append(ds, errorf(CodeBackendParam, p+"/stops", "stops must be ordered by pos"))
		}
	case "palette":
		if len(n.Colors) == 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/colors", "palette colors must not be empty"))
		}
	case "texture_bomb":
		if n.Density <= 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/density", "density must be positive"))
		}
		if n.BlendMode != "" && !contains([]string{"add", "max", "over"}, n.BlendMode) {
			ds = append(ds, errorf(CodeUnknownTag, p+"/blend_mode", "unknown blend mode %q", n.BlendMode))
		}
	case "wang_tiles":
		if n.TileDivisions < 2 {
			ds = append(ds, errorf(CodeBackendParam, p+"/tile_divisions", "tile_divisions must be >= 2"))
		}
	case "morphology":
		if n.Mode != "dilate" && n.Mode != "erode" {
			ds = append(ds, errorf(CodeUnknownTag, p+"/mode", "morphology mode must be dilate or erode"))
		}
	case "blur", "warp":
		// radius/amount zero is a no-op, negative is invalid
		if n.Radius < 0 || n.Amount < 0 {
			ds = append(ds, errorf(CodeBackendParam, p, "radius/amount must be non-negative"))
		}
	}
	return ds
}

func validateTracker(s *Spec, prof *budget.Profile) Diagnostics {
	params, err := s.TrackerParams()
	if err != nil {
		return Diagnostics{classifyDecodeError("/recipe/params", err)}
	}
	ds := validateSongHeader(params.Format, params.BPM, params.Speed, params.GlobalVolume, params.Channels, prof)
	ds = append(ds, validateInstruments(params.Instruments, prof)...)

	if len(params.Patterns) == 0 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/patterns", "at least one pattern required"))
	}
	if len(params.Patterns) > prof.MaxPatterns {
		ds = append(ds, budgetError("/recipe/params/patterns", "music", "max_patterns",
			fmt.Sprintf("%d patterns exceeds %d", len(params.Patterns), prof.MaxPatterns), nil))
	}

	names := make([]string, 0, len(params.Patterns))
	for name := range params.Patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pat := params.Patterns[name]
		p := "/recipe/params/patterns/" + name
		if pat.Rows < 1 || pat.Rows > MaxPatternRows {
			ds = append(ds, errorf(CodeBackendParam, p+"/rows", "rows %d outside [1,%d]", pat.Rows, MaxPatternRows))
			continue
		}
		for i, ev := range pat.Data {
			ep := fmt.Sprintf("%s/data/%d", p, i)
			if ev.Row < 0 || ev.Row >= pat.Rows {
				ds = append(ds, errorf(CodeBackendParam, ep+"/row", "row %d outside [0,%d)", ev.Row, pat.Rows))
			}
			if ev.Channel < 0 || ev.Channel >= params.Channels {
				ds = append(ds, errorf(CodeBackendParam, ep+"/channel", "channel %d outside [0,%d)", ev.Channel, params.Channels))
			}
			if ev.Inst != nil && (*ev.Inst < 1 || *ev.Inst > len(params.Instruments)) {
				ds = append(ds, errorf(CodeBackendParam, ep+"/inst", "instrument %d not defined", *ev.Inst))
			}
			if ev.Vol != nil && (*ev.Vol < 0 || *ev.Vol > 64) {
				ds = append(ds, errorf(CodeBackendParam, ep+"/vol", "vol %d outside [0,64]", *ev.Vol))
			}
			if ev.Note != "" && ev.Note != "OFF" && !noteNamePattern.MatchString(ev.Note) {
				ds = append(ds, errorf(CodeBackendParam, ep+"/note", "malformed note %q", ev.Note))
			}
			if ev.Effect != nil {
				ds = append(ds, validateTrackerEffect(ev.Effect, params.Format, ep+"/effect")...)
			}
		}
	}

	for i, name := range params.Arrangement {
		if _, ok := params.Patterns[name]; !ok {
			ds = append(ds, errorf(CodeBackendParam, fmt.Sprintf("/recipe/params/arrangement/%d", i),
				"arrangement references undefined pattern %q", name))
		}
	}
	if len(params.Arrangement) == 0 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/arrangement", "arrangement must not be empty"))
	}
	return ds
}

var noteNamePattern = regexp.MustCompile(`^[A-G][#b]?-?[0-9]$`)

func validateSongHeader(format string, bpm, speed int, globalVolume *int, channels int, prof *budget.Profile) Diagnostics {
	var ds Diagnostics
	if format != FormatXM && format != FormatIT {
		ds = append(ds, errorf(CodeUnknownTag, "/recipe/params/format", "format must be xm or it, got %q", format))
		return ds
	}
	if bpm < 32 || bpm > 255 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/bpm", "bpm %d outside [32,255]", bpm))
	}
	if speed < 1 || speed > 31 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/speed", "speed %d outside [1,31]", speed))
	}

	formatMax := XMMaxChannels
	if format == FormatIT {
		formatMax = ITMaxChannels
	}
	if channels < 1 || channels > formatMax {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/channels",
			"channels %d outside [1,%d] for %s", channels, formatMax, format))
	} else if channels > prof.MaxChannels {
		ds = append(ds, budgetError("/recipe/params/channels", "music", "max_channels",
			fmt.Sprintf("%d channels exceeds %d", channels, prof.MaxChannels), nil))
	}

	if globalVolume != nil {
		maxVol := XMMaxGlobalVolume
		if format == FormatIT {
			maxVol = ITMaxGlobalVolume
		}
		if *globalVolume < 0 || *globalVolume > maxVol {
			ds = append(ds, errorf(CodeBackendParam, "/recipe/params/global_volume",
				"global_volume %d outside [0,%d] for %s", *globalVolume, maxVol, format))
		}
	}
	return ds
}

func validateInstruments(instruments []Instrument, prof *budget.Profile) Diagnostics {
	var ds Diagnostics
	if len(instruments) == 0 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/instruments", "at least one instrument required"))
	}
	if len(instruments) > prof.MaxInstruments {
		ds = append(ds, budgetError("/recipe/params/instruments", "music", "max_instruments",
			fmt.Sprintf("%d instruments exceeds %d", len(instruments), prof.MaxInstruments), nil))
	}
	for i, inst := range instruments {
		p := fmt.Sprintf("/recipe/params/instruments/%d", i)
		hasRef := inst.Ref != ""
		hasSynth := inst.Synthesis != nil
		if hasRef == hasSynth {
			ds = append(ds, errorf(CodeBackendParam, p, "instrument needs exactly one of ref or synthesis"))
		}
		if hasSynth {
			ds = append(ds, validateSynthesis(inst.Synthesis, p+"/synthesis")...)
			if inst.DurationSeconds <= 0 {
				ds = append(ds, errorf(CodeBackendParam, p+"/duration_seconds", "inline instruments need positive duration_seconds"))
			}
		}
		if inst.BaseNote != "" && !noteNamePattern.MatchString(inst.BaseNote) {
			ds = append(ds, errorf(CodeBackendParam, p+"/base_note", "malformed note %q", inst.BaseNote))
		}
		if inst.Loop != nil && !contains([]string{"none", "forward", "pingpong"}, inst.Loop.Mode) {
			ds = append(ds, errorf(CodeUnknownTag, p+"/loop/mode", "unknown loop mode %q", inst.Loop.Mode))
		}
	}
	return ds
}

func validateTrackerEffect(e *TrackerEffect, format string, p string) Diagnostics {
	var ds Diagnostics
	if _, ok := trackerEffectFields[e.Type]; !ok {
		return Diagnostics{errorf(CodeUnknownTag, p+"/type", "unknown tracker effect %q", e.Type)}
	}
	switch e.Type {
	case "pattern_break":
		if format == FormatXM && e.Row > XMMaxBreakRow {
			ds = append(ds, errorf(CodeBackendParam, p+"/row", "XM pattern break row %d exceeds %d", e.Row, XMMaxBreakRow))
		}
		if e.Row < 0 || e.Row >= MaxPatternRows {
			ds = append(ds, errorf(CodeBackendParam, p+"/row", "break row %d outside [0,%d)", e.Row, MaxPatternRows))
		}
	case "set_global_volume":
		maxVol := XMMaxGlobalVolume
		if format == FormatIT {
			maxVol = ITMaxGlobalVolume
		}
		if e.Value < 0 || e.Value > maxVol {
			ds = append(ds, errorf(CodeBackendParam, p+"/value", "global volume %d outside [0,%d] for %s", e.Value, maxVol, format))
		}
	case "arpeggio":
		if e.X < 0 || e.X > 15 || e.Y < 0 || e.Y > 15 {
			ds = append(ds, errorf(CodeBackendParam, p, "arpeggio offsets outside [0,15]"))
		}
	case "set_speed":
		if e.Value < 1 || e.Value > 31 {
			ds = append(ds, errorf(CodeBackendParam, p+"/value", "speed %d outside [1,31]", e.Value))
		}
	case "set_tempo":
		if e.Value < 32 || e.Value > 255 {
			ds = append(ds, errorf(CodeBackendParam, p+"/value", "tempo %d outside [32,255]", e.Value))
		}
	}
	return ds
}

func validateCompose(s *Spec, prof *budget.Profile) Diagnostics {
	params, err := s.ComposeParams()
	if err != nil {
		return Diagnostics{classifyDecodeError("/recipe/params", err)}
	}
	ds := validateSongHeader(params.Format, params.BPM, params.Speed, params.GlobalVolume, params.Channels, prof)
	ds = append(ds, validateInstruments(params.Instruments, prof)...)

	if len(params.Patterns) == 0 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/patterns", "at least one pattern required"))
	}
	if params.Timebase != nil && params.Timebase.RowsPerBeat < 1 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/timebase/rows_per_beat", "rows_per_beat must be >= 1"))
	}
	if params.Harmony != nil {
		for i, c := range params.Harmony.Chords {
			p := fmt.Sprintf("/recipe/params/harmony/chords/%d", i)
			if c.Symbol == "" && len(c.Intervals) == 0 {
				ds = append(ds, errorf(CodeBackendParam, p, "chord needs a symbol or intervals"))
			}
			if c.Row < 0 {
				ds = append(ds, errorf(CodeBackendParam, p+"/row", "chord row must be non-negative"))
			}
		}
	}

	names := make([]string, 0, len(params.Patterns))
	for name := range params.Patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pat := params.Patterns[name]
		p := "/recipe/params/patterns/" + name
		if pat.Rows < 1 || pat.Rows > MaxPatternRows {
			ds = append(ds, errorf(CodeBackendParam, p+"/rows", "rows %d outside [1,%d]", pat.Rows, MaxPatternRows))
		}
		if pat.Program == nil {
			ds = append(ds, errorf(CodeBackendParam, p+"/program", "pattern program missing"))
			continue
		}
		ds = append(ds, validateExpr(pat.Program, params, p+"/program")...)
	}

	for name, def := range params.Defs {
		if def == nil {
			ds = append(ds, errorf(CodeBackendParam, "/recipe/params/defs/"+name, "def body missing"))
			continue
		}
		ds = append(ds, validateExpr(def, params, "/recipe/params/defs/"+name)...)
	}

	for i, name := range params.Arrangement {
		if _, ok := params.Patterns[name]; !ok {
			ds = append(ds, errorf(CodeBackendParam, fmt.Sprintf("/recipe/params/arrangement/%d", i),
				"arrangement references undefined pattern %q", name))
		}
	}
	if len(params.Arrangement) == 0 {
		ds = append(ds, errorf(CodeBackendParam, "/recipe/params/arrangement", "arrangement must not be empty"))
	}
	return ds
}

// validateExpr walks a pattern expression statically: operator invariants
// that need no expansion (required fields, known refs, seed salts).
func validateExpr(e *PatternExpr, params *ComposeParams, p string) Diagnostics {
	var ds Diagnostics
	switch e.Op {
	case "emit":
		if e.At == nil || e.Cell == nil {
			ds = append(ds, errorf(CodeBackendParam, p, "emit requires at and cell"))
		}
	case "emit_seq":
		if e.At == nil {
			ds = append(ds, errorf(CodeBackendParam, p, "emit_seq requires at"))
		}
		if (e.NoteSeq == nil) == (e.PitchSeq == nil) {
			ds = append(ds, errorf(CodeBackendParam, p, "emit_seq requires exactly one of note_seq or pitch_seq"))
		}
		if e.NoteSeq != nil && e.NoteSeq.Mode != "cycle" && e.NoteSeq.Mode != "once" {
			ds = append(ds, errorf(CodeUnknownTag, p+"/note_seq/mode", "mode must be cycle or once"))
		}
		if e.PitchSeq != nil {
			if e.PitchSeq.Mode != "cycle" && e.PitchSeq.Mode != "once" {
				ds = append(ds, errorf(CodeUnknownTag, p+"/pitch_seq/mode", "mode must be cycle or once"))
			}
			for i, pe := range e.PitchSeq.Values {
				if !contains([]string{"absolute", "scale_degree", "chord_tone"}, pe.Type) {
					ds = append(ds, errorf(CodeUnknownTag, fmt.Sprintf("%s/pitch_seq/values/%d/type", p, i), "unknown pitch entry type %q", pe.Type))
				}
				if pe.Type != "absolute" && params.Harmony == nil {
					ds = append(ds, errorf(CodeBackendParam, fmt.Sprintf("%s/pitch_seq/values/%d", p, i),
						"%s pitch entries require harmony", pe.Type))
				}
			}
		}
	case "stack":
		if e.Merge != "" && !contains([]string{"error", "merge_fields", "last_wins"}, e.Merge) {
			ds = append(ds, errorf(CodeUnknownTag, p+"/merge", "unknown merge policy %q", e.Merge))
		}
		for i, c := range e.Children {
			ds = append(ds, validateExpr(c, params, fmt.Sprintf("%s/children/%d", p, i))...)
		}
	case "concat":
		for i, c := range e.Children {
			ds = append(ds, validateExpr(c, params, fmt.Sprintf("%s/children/%d", p, i))...)
		}
	case "repeat":
		if e.Times < 1 {
			ds = append(ds, errorf(CodeBackendParam, p+"/times", "times must be >= 1"))
		}
		if e.Body == nil {
			ds = append(ds, errorf(CodeBackendParam, p+"/body", "repeat requires body"))
		} else {
			ds = append(ds, validateExpr(e.Body, params, p+"/body")...)
		}
	case "shift", "slice":
		if e.Body == nil {
			ds = append(ds, errorf(CodeBackendParam, p+"/body", "%s requires body", e.Op))
		} else {
			ds = append(ds, validateExpr(e.Body, params, p+"/body")...)
		}
	case "ref":
		if _, ok := params.Defs[e.Name]; !ok {
			ds = append(ds, errorf(CodeBackendParam, p+"/name", "ref to undefined %q", e.Name))
		}
	case "prob":
		if e.SeedSalt == "" {
			ds = append(ds, errorf(CodeBackendParam, p+"/seed_salt", "prob requires seed_salt"))
		}
		if e.PPermille == nil || *e.PPermille < 0 || *e.PPermille > 1000 {
			ds = append(ds, errorf(CodeBackendParam, p+"/p_permille", "p_permille must be in [0,1000]"))
		}
		if e.Body == nil {
			ds = append(ds, errorf(CodeBackendParam, p+"/body", "prob requires body"))
		} else {
			ds = append(ds, validateExpr(e.Body, params, p+"/body")...)
		}
	case "choose":
		if e.SeedSalt == "" {
			ds = append(ds, errorf(CodeBackendParam, p+"/seed_salt", "choose requires seed_salt"))
		}
		if len(e.Options) == 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/options", "choose requires options"))
		}
		for i, c := range e.Options {
			ds = append(ds, validateExpr(c, params, fmt.Sprintf("%s/options/%d", p, i))...)
		}
	case "transform":
		if e.Body == nil {
			ds = append(ds, errorf(CodeBackendParam, p+"/body", "transform requires body"))
		} else {
			ds = append(ds, validateExpr(e.Body, params, p+"/body")...)
		}
	}

	if e.At != nil {
		ds = append(ds, validateTimeExpr(e.At, params, p+"/at")...)
	}
	return ds
}

func validateTimeExpr(t *TimeExpr, params *ComposeParams, p string) Diagnostics {
	var ds Diagnostics
	switch t.Kind {
	case "range":
		if t.Step < 1 {
			ds = append(ds, errorf(CodeBackendParam, p+"/step", "range step must be >= 1"))
		}
		if t.Count < 1 {
			ds = append(ds, errorf(CodeBackendParam, p+"/count", "range count must be >= 1"))
		}
	case "list":
		if len(t.Values) == 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/values", "list must not be empty"))
		}
	case "euclid":
		if t.Steps < 1 || t.Pulses < 0 || t.Pulses > t.Steps {
			ds = append(ds, errorf(CodeBackendParam, p, "euclid requires 0 <= pulses <= steps, steps >= 1"))
		}
	case "pattern":
		if t.Pattern == "" {
			ds = append(ds, errorf(CodeBackendParam, p+"/pattern", "pattern string must not be empty"))
		}
		for _, c := range t.Pattern {
			if c != 'x' && c != 'X' && c != '.' && c != '-' {
				ds = append(ds, errorf(CodeBackendParam, p+"/pattern", "pattern may only contain x . -"))
				break
			}
		}
	case "beat_range", "beat_list":
		if params.Timebase == nil {
			ds = append(ds, errorf(CodeBackendParam, p, "%s requires timebase", t.Kind))
		}
		if t.Kind == "beat_range" && t.BeatCount < 1 {
			ds = append(ds, errorf(CodeBackendParam, p+"/beat_count", "beat_count must be >= 1"))
		}
		if t.Kind == "beat_list" && len(t.BeatValues) == 0 {
			ds = append(ds, errorf(CodeBackendParam, p+"/beat_values", "beat_values must not be empty"))
		}
	}
	return ds
}

// classifyDecodeError maps a params decode failure onto the stable codes:
// unknown union tags are E010, everything else malformed input E011.
func classifyDecodeError(p string, err error) Diagnostic {
	msg := err.Error()
	if strings.Contains(msg, "unknown type") || strings.Contains(msg, "unknown op") || strings.Contains(msg, "unknown kind") {
		return errorf(CodeUnknownTag, p, "%s", msg)
	}
	return errorf(CodeBadField, p, "%s", msg)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
