package audio

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"

	"github.com/opd-ai/speccade/pkg/spec"
)

func fmParams(t *testing.T) *spec.AudioParams {
	t.Helper()
	raw := `{
		"duration_seconds": 0.25,
		"sample_rate": 44100,
		"layers": [{
			"synthesis": {"type": "fm_synth", "carrier_freq": 1200, "mod_ratio": 2.5, "mod_index": 8.0, "index_decay": 10.0},
			"amplitude": 0.9,
			"envelope": {"attack": 0.001, "decay": 0.1, "sustain": 0.3, "release": 0.1}
		}]
	}`
	var p spec.AudioParams
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("params: %v", err)
	}
	return &p
}

func TestRenderHappyPath(t *testing.T) {
	buf, err := Render(fmParams(t), 42)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if buf.Channels != 1 {
		t.Errorf("channels = %d, want mono", buf.Channels)
	}
	if buf.SampleRate != 44100 {
		t.Errorf("sample rate = %d", buf.SampleRate)
	}
	if buf.Frames() != 11025 {
		t.Errorf("frames = %d, want 11025", buf.Frames())
	}

	peak := 0.0
	for _, v := range buf.Samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak < 0.01 {
		t.Error("render is near-silent")
	}
	if peak > 1.0 {
		t.Errorf("render clips: peak %v", peak)
	}
}

func TestRenderDeterministic(t *testing.T) {
	a, err := Render(fmParams(t), 42)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	b, err := Render(fmParams(t), 42)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	wa, wb := EncodeWAV(a), EncodeWAV(b)
	if !bytes.Equal(wa, wb) {
		t.Error("two renders of the same spec differ")
	}
}

func TestRenderSeedChangesNoise(t *testing.T) {
	raw := `{
		"duration_seconds": 0.1,
		"sample_rate": 22050,
		"layers": [{
			"synthesis": {"type": "noise_burst", "color": "white", "decay": 5},
			"amplitude": 0.8,
			"envelope": {"attack": 0.0, "decay": 0.0, "sustain": 1.0, "release": 0.01}
		}]
	}`
	var p spec.AudioParams
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatal(err)
	}

	a, _ := Render(&p, 1)
	b, _ := Render(&p, 2)
	if bytes.Equal(EncodeWAV(a), EncodeWAV(b)) {
		t.Error("different seeds produced identical noise")
	}
}

func TestStereoWhenPanned(t *testing.T) {
	p := fmParams(t)
	p.Layers[0].Pan = -0.5
	buf, err := Render(p, 42)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if buf.Channels != 2 {
		t.Fatalf("channels = %d, want stereo", buf.Channels)
	}

	// Panned left: left channel should carry more energy.
	var el, er float64
	for i := 0; i < buf.Frames(); i++ {
		el += buf.Samples[i*2] * buf.Samples[i*2]
		er += buf.Samples[i*2+1] * buf.Samples[i*2+1]
	}
	if el <= er {
		t.Errorf("left-panned layer has left energy %v <= right %v", el, er)
	}
}

func TestNormalizeToPeak(t *testing.T) {
	p := fmParams(t)
	p.Normalize = true
	p.PeakDB = -6.0
	buf, err := Render(p, 42)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	peak := 0.0
	for _, v := range buf.Samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	want := math.Pow(10, -6.0/20)
	if math.Abs(peak-want) > 1e-9 {
		t.Errorf("peak = %v, want %v", peak, want)
	}
}

func TestAllSynthesisVariantsProduceSignal(t *testing.T) {
	variants := []string{
		`{"type": "oscillator", "waveform": "sine", "freq": 440}`,
		`{"type": "oscillator", "waveform": "pulse", "freq": 440, "duty": 0.25}`,
		`{"type": "multi_oscillator", "oscillators": [{"waveform": "saw", "freq": 220}, {"waveform": "sine", "freq": 440, "detune": 5}]}`,
		`{"type": "supersaw_unison", "freq": 220, "voices": 5, "detune_cents": 15, "spread": 0.5}`,
		`{"type": "fm_synth", "carrier_freq": 800, "mod_ratio": 2, "mod_index": 4, "index_decay": 3}`,
		`{"type": "feedback_fm", "carrier_freq": 600, "mod_ratio": 1.5, "mod_index": 3, "feedback": 0.4}`,
		`{"type": "am_synth", "carrier_freq": 700, "mod_freq": 30, "depth": 0.8}`,
		`{"type": "ring_mod_synth", "freq_a": 440, "freq_b": 317}`,
		`{"type": "karplus_strong", "freq": 220, "excitation": "noise", "feedback": 0.995, "damping": 0.3}`,
		`{"type": "bowed_string", "freq": 330, "bow_pressure": 0.6, "bow_position": 0.2}`,
		`{"type": "noise_burst", "color": "pink", "decay": 6}`,
		`{"type": "additive", "base_freq": 200, "harmonics": [1, 0.5, 0.3, 0.2]}`,
		`{"type": "pitched_body", "start_freq": 400, "end_freq": 60, "sweep_curve": "exponential"}`,
		`{"type": "metallic", "base_freq": 500, "partials": 6, "inharmonicity": 0.2, "decay": 4}`,
		`{"type": "wavetable", "freq": 330, "table": [0, 0.7, 1, 0.7, 0, -0.7, -1, -0.7], "interpolation": "linear"}`,
		`{"type": "granular", "freq": 440, "grain_size_ms": 40, "grain_rate_hz": 30, "jitter": 0.3, "window": "hann"}`,
		`{"type": "pd_synth", "freq": 440, "distortion": 0.6, "shape": "bend"}`,
		`{"type": "modal", "freq": 300, "mode_ratios": [1, 2.76, 5.4], "mode_amps": [1, 0.5, 0.25], "mode_decays": [3, 5, 8]}`,
		`{"type": "vocoder", "carrier_freq": 200, "mod_freq": 4, "bands": 8}`,
		`{"type": "formant", "freq": 150, "vowel": "a"}`,
		`{"type": "vector", "freq": 440, "x": 0.3, "y": 0.7}`,
		`{"type": "waveguide", "freq": 440, "reflection": 0.96, "brightness": 0.4}`,
		`{"type": "membrane_drum", "freq": 120, "tension": 1.2, "decay": 7}`,
		`{"type": "comb_filter_synth", "freq": 330, "feedback": 0.9, "excitation": "noise"}`,
		`{"type": "pulsar", "freq": 110, "formant_freq": 880, "duty": 0.4}`,
		`{"type": "vosim", "freq": 140, "formant_freq": 900, "pulses": 3, "decay": 0.7}`,
		`{"type": "spectral_freeze", "freq": 220, "bands": 12, "smear": 0.4}`,
	}

	for _, variant := range variants {
		var s spec.Synthesis
		if err := json.Unmarshal([]byte(variant), &s); err != nil {
			t.Fatalf("%s: %v", variant, err)
		}
		t.Run(s.Type, func(t *testing.T) {
			raw := `{
				"duration_seconds": 0.1,
				"sample_rate": 22050,
				"layers": [{"synthesis": ` + variant + `, "amplitude": 0.8, "envelope": {"attack": 0.005, "decay": 0.02, "sustain": 0.8, "release": 0.02}}]
			}`
			var p spec.AudioParams
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				t.Fatalf("params: %v", err)
			}
			buf, err := Render(&p, 7)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			var energy float64
			for _, v := range buf.Samples {
				energy += v * v
			}
			if energy < 1e-6 {
				t.Errorf("%s renders silence", s.Type)
			}
			for _, v := range buf.Samples {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("%s produced a non-finite sample", s.Type)
				}
			}
		})
	}
}

func TestFilterAndEffectsStayFinite(t *testing.T) {
	raw := `{
		"duration_seconds": 0.15,
		"sample_rate": 22050,
		"layers": [{
			"synthesis": {"type": "oscillator", "waveform": "saw", "freq": 220},
			"amplitude": 0.7,
			"envelope": {"attack": 0.01, "decay": 0.02, "sustain": 0.8, "release": 0.02},
			"filter": {"type": "ladder", "cutoff": 900, "resonance": 0.7, "drive": 0.3},
			"lfo": {"shape": "sine", "rate_hz": 6, "depth": 0.5, "target": "filter_cutoff"},
			"effects": [
				{"type": "waveshaper", "amount": 0.4, "curve": "tanh"},
				{"type": "delay", "time_ms": 40, "feedback": 0.4, "mix": 0.3},
				{"type": "reverb", "room_size": 0.6, "damping": 0.4, "mix": 0.25}
			]
		}],
		"master_effects": [{"type": "compressor", "threshold_db": -12, "ratio": 4, "attack_ms": 5, "release_ms": 80}]
	}`
	var p spec.AudioParams
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatal(err)
	}
	buf, err := Render(&p, 11)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for i, v := range buf.Samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite sample at %d", i)
		}
	}
}

func TestEncodeDecodeWAVRoundTrip(t *testing.T) {
	buf, err := Render(fmParams(t), 42)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	data := EncodeWAV(buf)

	rate, channels, bits, pcm, err := DecodeWAVData(data)
	if err != nil {
		t.Fatalf("DecodeWAVData: %v", err)
	}
	if rate != 44100 || channels != 1 || bits != 16 {
		t.Errorf("format = %d Hz %d ch %d bit", rate, channels, bits)
	}
	if len(pcm) != buf.Frames()*2 {
		t.Errorf("pcm bytes = %d, want %d", len(pcm), buf.Frames()*2)
	}
}

func TestEnvelopeReleaseEndsNearZero(t *testing.T) {
	buf := make([]float64, 1000)
	for i := range buf {
		buf[i] = 1
	}
	env := &spec.Envelope{Attack: 0.01, Decay: 0.01, Sustain: 0.5, Release: 0.05}
	applyEnvelope(buf, env, 10000) // 0.1s total

	if buf[0] != 0 {
		t.Errorf("attack start = %v, want 0", buf[0])
	}
	if buf[len(buf)-1] > 0.02 {
		t.Errorf("release end = %v, want near 0", buf[len(buf)-1])
	}
	mid := buf[500]
	if math.Abs(mid-0.5) > 0.01 {
		t.Errorf("sustain level = %v, want 0.5", mid)
	}
}

func TestQuantize16ClipGuard(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{0, 0},
		{1.0, 32767},
		{-1.0, -32767},
		{1.35, 32767},
		{-2.0, -32768},
	}
	for _, tt := range tests {
		if got := quantize16(tt.in); got != tt.want {
			t.Errorf("quantize16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
