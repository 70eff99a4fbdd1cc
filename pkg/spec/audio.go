package spec

import (
	"encoding/json"
	"fmt"
)

// AudioParams drives the layered synthesis backend.
type AudioParams struct {
	DurationSeconds float64  `json:"duration_seconds"`
	SampleRate      int      `json:"sample_rate"`
	Normalize       bool     `json:"normalize,omitempty"`
	PeakDB          float64  `json:"peak_db,omitempty"`
	Layers          []Layer  `json:"layers"`
	MasterEffects   []Effect `json:"master_effects,omitempty"`
	Limiter         *Limiter `json:"limiter,omitempty"`
}

// Limiter configures the optional true-peak / loudness stage after the
// master chain.
type Limiter struct {
	TruePeakDB float64  `json:"true_peak_db,omitempty"`
	LUFSTarget *float64 `json:"lufs_target,omitempty"`
}

// Layer is one voice in the mix.
type Layer struct {
	Synthesis Synthesis `json:"synthesis"`
	Envelope  Envelope  `json:"envelope"`
	Amplitude float64   `json:"amplitude"`
	Pan       float64   `json:"pan,omitempty"`
	Filter    *Filter   `json:"filter,omitempty"`
	LFO       *LFO      `json:"lfo,omitempty"`
	Effects   []Effect  `json:"effects,omitempty"`
}

// Envelope is an ADSR with optional per-stage curve shapes.
type Envelope struct {
	Attack       float64 `json:"attack"`
	Decay        float64 `json:"decay"`
	Sustain      float64 `json:"sustain"`
	Release      float64 `json:"release"`
	AttackCurve  string  `json:"attack_curve,omitempty"`
	DecayCurve   string  `json:"decay_curve,omitempty"`
	ReleaseCurve string  `json:"release_curve,omitempty"`
}

// Filter is the per-layer filter stage.
type Filter struct {
	Type      string  `json:"type"`
	Cutoff    float64 `json:"cutoff"`
	Resonance float64 `json:"resonance,omitempty"`
	Drive     float64 `json:"drive,omitempty"`
	GainDB    float64 `json:"gain_db,omitempty"`
	Vowel     string  `json:"vowel,omitempty"`
	Feedback  float64 `json:"feedback,omitempty"`
}

// FilterTypes is the closed set of filter variants.
var FilterTypes = []string{
	"lowpass", "highpass", "bandpass", "notch", "allpass",
	"comb", "formant", "ladder", "low_shelf", "high_shelf",
}

// LFO modulates one declared target.
type LFO struct {
	Shape  string  `json:"shape"`
	RateHz float64 `json:"rate_hz"`
	Depth  float64 `json:"depth"`
	Target string  `json:"target"`
}

// LFOShapes is the closed set of LFO waveforms.
var LFOShapes = []string{"sine", "triangle", "square", "sawtooth", "random"}

// LFOTargets is the closed set of modulation destinations.
var LFOTargets = []string{
	"pitch", "amplitude", "filter_cutoff", "pan", "pulse_width",
	"fm_index", "grain_size", "grain_density", "delay_time",
	"reverb_size", "distortion_drive",
}

// OscSpec is one voice of a multi_oscillator synthesis.
type OscSpec struct {
	Waveform  string  `json:"waveform"`
	Freq      float64 `json:"freq"`
	Detune    float64 `json:"detune,omitempty"`
	Amplitude float64 `json:"amplitude,omitempty"`
}

// Synthesis is the tagged union over sound sources. All variant parameters
// are flattened; UnmarshalJSON rejects fields foreign to the declared type.
type Synthesis struct {
	Type string `json:"type"`

	// oscillator / shared
	Waveform string  `json:"waveform,omitempty"`
	Freq     float64 `json:"freq,omitempty"`
	Duty     float64 `json:"duty,omitempty"`

	// multi_oscillator
	Oscillators []OscSpec `json:"oscillators,omitempty"`

	// supersaw_unison
	Voices      int     `json:"voices,omitempty"`
	DetuneCents float64 `json:"detune_cents,omitempty"`
	Spread      float64 `json:"spread,omitempty"`
	DetuneCurve string  `json:"detune_curve,omitempty"`

	// fm_synth / feedback_fm / am_synth / ring_mod_synth
	CarrierFreq float64 `json:"carrier_freq,omitempty"`
	ModRatio    float64 `json:"mod_ratio,omitempty"`
	ModIndex    float64 `json:"mod_index,omitempty"`
	IndexDecay  float64 `json:"index_decay,omitempty"`
	Feedback    float64 `json:"feedback,omitempty"`
	ModFreq     float64 `json:"mod_freq,omitempty"`
	Depth       float64 `json:"depth,omitempty"`
	FreqA       float64 `json:"freq_a,omitempty"`
	FreqB       float64 `json:"freq_b,omitempty"`

	// karplus_strong / bowed_string / waveguide / comb_filter_synth
	Excitation  string  `json:"excitation,omitempty"`
	Damping     float64 `json:"damping,omitempty"`
	BowPressure float64 `json:"bow_pressure,omitempty"`
	BowPosition float64 `json:"bow_position,omitempty"`
	Reflection  float64 `json:"reflection,omitempty"`
	Brightness  float64 `json:"brightness,omitempty"`

	// noise_burst
	Color         string  `json:"color,omitempty"`
	Decay         float64 `json:"decay,omitempty"`
	FilterCutoff  float64 `json:"filter_cutoff,omitempty"`

	// additive / metallic / modal
	BaseFreq      float64   `json:"base_freq,omitempty"`
	Harmonics     []float64 `json:"harmonics,omitempty"`
	Partials      int       `json:"partials,omitempty"`
	Inharmonicity float64   `json:"inharmonicity,omitempty"`
	ModeRatios    []float64 `json:"mode_ratios,omitempty"`
	ModeAmps      []float64 `json:"mode_amps,omitempty"`
	ModeDecays    []float64 `json:"mode_decays,omitempty"`

	// pitched_body
	StartFreq  float64 `json:"start_freq,omitempty"`
	EndFreq    float64 `json:"end_freq,omitempty"`
	SweepCurve string  `json:"sweep_curve,omitempty"`

	// wavetable
	Table         []float64 `json:"table,omitempty"`
	Interpolation string    `json:"interpolation,omitempty"`

	// granular / pulsar / vosim
	GrainSizeMS float64 `json:"grain_size_ms,omitempty"`
	GrainRateHz float64 `json:"grain_rate_hz,omitempty"`
	Jitter      float64 `json:"jitter,omitempty"`
	Window      string  `json:"window,omitempty"`
	FormantFreq float64 `json:"formant_freq,omitempty"`
	Pulses      int     `json:"pulses,omitempty"`

	// pd_synth
	Distortion float64 `json:"distortion,omitempty"`
	Shape      string  `json:"shape,omitempty"`

	// vocoder / formant / spectral_freeze
	Bands int     `json:"bands,omitempty"`
	Vowel string  `json:"vowel,omitempty"`
	Smear float64 `json:"smear,omitempty"`

	// vector
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// membrane_drum
	Tension float64 `json:"tension,omitempty"`
}

// synthesisFields enumerates the closed set of synthesis variants and the
// fields each accepts. A tag absent here is E010; a foreign field is E011.
var synthesisFields = map[string][]string{
	"oscillator":        {"waveform", "freq", "duty"},
	"multi_oscillator":  {"oscillators"},
	"supersaw_unison":   {"freq", "voices", "detune_cents", "spread", "detune_curve"},
	"fm_synth":          {"carrier_freq", "mod_ratio", "mod_index", "index_decay"},
	"feedback_fm":       {"carrier_freq", "mod_ratio", "mod_index", "feedback"},
	"am_synth":          {"carrier_freq", "mod_freq", "depth"},
	"ring_mod_synth":    {"freq_a", "freq_b"},
	"karplus_strong":    {"freq", "excitation", "feedback", "damping"},
	"bowed_string":      {"freq", "bow_pressure", "bow_position"},
	"noise_burst":       {"color", "decay", "filter_cutoff"},
	"additive":          {"base_freq", "harmonics"},
	"pitched_body":      {"start_freq", "end_freq", "sweep_curve"},
	"metallic":          {"base_freq", "partials", "inharmonicity", "decay"},
	"wavetable":         {"table", "freq", "interpolation"},
	"granular":          {"freq", "grain_size_ms", "grain_rate_hz", "jitter", "window"},
	"pd_synth":          {"freq", "distortion", "shape"},
	"modal":             {"freq", "mode_ratios", "mode_amps", "mode_decays"},
	"vocoder":           {"carrier_freq", "mod_freq", "bands"},
	"formant":           {"freq", "vowel"},
	"vector":            {"freq", "x", "y"},
	"waveguide":         {"freq", "reflection", "brightness"},
	"membrane_drum":     {"freq", "tension", "decay"},
	"comb_filter_synth": {"freq", "feedback", "excitation"},
	"pulsar":            {"freq", "formant_freq", "duty"},
	"vosim":             {"freq", "formant_freq", "pulses", "decay"},
	"spectral_freeze":   {"freq", "bands", "smear"},
}

// UnmarshalJSON enforces the closed synthesis union.
func (s *Synthesis) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tagRaw, ok := raw["type"]
	if !ok {
		return fmt.Errorf("synthesis: missing type tag")
	}
	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return fmt.Errorf("synthesis: bad type tag: %w", err)
	}
	allowed, ok := synthesisFields[tag]
	if !ok {
		return fmt.Errorf("synthesis: unknown type %q", tag)
	}
	if err := checkTagFields("synthesis", tag, raw, allowed); err != nil {
		return err
	}

	type alias Synthesis
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Synthesis(a)
	return nil
}

// Effect is the tagged union over audio effects, shared by layer chains and
// the master chain.
type Effect struct {
	Type string `json:"type"`

	Mix      float64 `json:"mix,omitempty"`
	RoomSize float64 `json:"room_size,omitempty"`
	Damping  float64 `json:"damping,omitempty"`
	IR       string  `json:"ir,omitempty"`

	TimeMS   float64   `json:"time_ms,omitempty"`
	Feedback float64   `json:"feedback,omitempty"`
	Taps     []float64 `json:"taps,omitempty"`

	RateHz float64 `json:"rate_hz,omitempty"`
	Depth  float64 `json:"depth,omitempty"`
	Stages int     `json:"stages,omitempty"`

	Amount float64 `json:"amount,omitempty"`
	Curve  string  `json:"curve,omitempty"`

	Bits          int `json:"bits,omitempty"`
	RateDivide    int `json:"rate_divide,omitempty"`

	ThresholdDB float64 `json:"threshold_db,omitempty"`
	Ratio       float64 `json:"ratio,omitempty"`
	AttackMS    float64 `json:"attack_ms,omitempty"`
	ReleaseMS   float64 `json:"release_ms,omitempty"`
	MakeupDB    float64 `json:"makeup_db,omitempty"`
	CeilingDB   float64 `json:"ceiling_db,omitempty"`
	RangeDB     float64 `json:"range_db,omitempty"`

	Bands []EQBand `json:"bands,omitempty"`

	Width float64 `json:"width,omitempty"`

	Drive float64 `json:"drive,omitempty"`

	AttackGain  float64 `json:"attack_gain,omitempty"`
	SustainGain float64 `json:"sustain_gain,omitempty"`

	Cutoff    float64 `json:"cutoff,omitempty"`
	Resonance float64 `json:"resonance,omitempty"`
	EnvAmount float64 `json:"env_amount,omitempty"`

	Model string `json:"model,omitempty"`

	Freq float64 `json:"freq,omitempty"`

	GrainSizeMS float64 `json:"grain_size_ms,omitempty"`
	Scatter     float64 `json:"scatter,omitempty"`
}

// EQBand is one parametric EQ band.
type EQBand struct {
	Type   string  `json:"type"`
	Freq   float64 `json:"freq"`
	GainDB float64 `json:"gain_db,omitempty"`
	Q      float64 `json:"q,omitempty"`
}

// effectFields enumerates the closed set of effect variants.
var effectFields = map[string][]string{
	"reverb":          {"mix", "room_size", "damping", "ir"},
	"delay":           {"time_ms", "feedback", "mix", "taps"},
	"chorus":          {"rate_hz", "depth", "mix"},
	"phaser":          {"rate_hz", "depth", "stages", "mix"},
	"flanger":         {"rate_hz", "depth", "feedback", "mix"},
	"waveshaper":      {"amount", "curve"},
	"bitcrush":        {"bits", "rate_divide"},
	"compressor":      {"threshold_db", "ratio", "attack_ms", "release_ms", "makeup_db"},
	"limiter":         {"ceiling_db", "release_ms"},
	"parametric_eq":   {"bands"},
	"gate":            {"threshold_db", "attack_ms", "release_ms", "range_db"},
	"stereo_widener":  {"width"},
	"tape_saturation": {"drive", "mix"},
	"transient_shaper": {"attack_gain", "sustain_gain"},
	"auto_filter":     {"cutoff", "resonance", "env_amount", "rate_hz"},
	"cabinet_sim":     {"model", "mix"},
	"rotary_speaker":  {"rate_hz", "depth", "mix"},
	"ring_modulator":  {"freq", "mix"},
	"granular_delay":  {"time_ms", "grain_size_ms", "scatter", "feedback", "mix"},
}

// UnmarshalJSON enforces the closed effect union.
func (e *Effect) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tagRaw, ok := raw["type"]
	if !ok {
		return fmt.Errorf("effect: missing type tag")
	}
	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return fmt.Errorf("effect: bad type tag: %w", err)
	}
	allowed, ok := effectFields[tag]
	if !ok {
		return fmt.Errorf("effect: unknown type %q", tag)
	}
	if err := checkTagFields("effect", tag, raw, allowed); err != nil {
		return err
	}

	type alias Effect
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Effect(a)
	return nil
}
