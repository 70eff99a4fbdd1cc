package audio

import (
	"math"

	"github.com/opd-ai/speccade/pkg/rng"
	"github.com/opd-ai/speccade/pkg/spec"
)

// modSource is the per-layer LFO stream, already scaled by depth. Stages
// consume it only when their target matches.
type modSource struct {
	target string
	data   []float64
}

// at returns the modulation value for a target at sample i, or 0.
func (m *modSource) at(target string, i int) float64 {
	if m == nil || m.target != target || i >= len(m.data) {
		return 0
	}
	return m.data[i]
}

// pitchMul converts the pitch modulation (in semitones) to a frequency
// multiplier.
func (m *modSource) pitchMul(i int) float64 {
	v := m.at("pitch", i)
	if v == 0 {
		return 1
	}
	return math.Pow(2, v/12)
}

// synthesize renders a monophonic buffer for one synthesis variant. The
// caller owns the RNG stream; every draw happens in a fixed order so output
// bytes are stable.
func synthesize(s *spec.Synthesis, r *rng.RNG, rate, n int, mod *modSource) []float64 {
	buf := make([]float64, n)
	sr := float64(rate)

	switch s.Type {
	case "oscillator":
		phase := 0.0
		for i := 0; i < n; i++ {
			duty := s.Duty
			if pw := mod.at("pulse_width", i); pw != 0 {
				duty = clampF(duty+pw, 0.01, 0.99)
			}
			buf[i] = oscSample(s.Waveform, phase, duty)
			phase += s.Freq * mod.pitchMul(i) / sr
			phase -= math.Floor(phase)
		}

	case "multi_oscillator":
		phases := make([]float64, len(s.Oscillators))
		for i := 0; i < n; i++ {
			var v float64
			for j, o := range s.Oscillators {
				amp := o.Amplitude
				if amp == 0 {
					amp = 1
				}
				v += oscSample(o.Waveform, phases[j], 0.5) * amp
				f := o.Freq * math.Pow(2, o.Detune/1200)
				phases[j] += f * mod.pitchMul(i) / sr
				phases[j] -= math.Floor(phases[j])
			}
			buf[i] = v / float64(len(s.Oscillators))
		}

	case "supersaw_unison":
		voices := s.Voices
		phases := make([]float64, voices)
		detunes := make([]float64, voices)
		for j := 0; j < voices; j++ {
			// Deterministic start phases decorrelate the voices.
			phases[j] = r.Float64()
			detunes[j] = voiceDetune(j, voices, s.DetuneCents, s.DetuneCurve)
		}
		for i := 0; i < n; i++ {
			var v float64
			for j := 0; j < voices; j++ {
				v += 2*phases[j] - 1
				f := s.Freq * math.Pow(2, detunes[j]/1200)
				phases[j] += f * mod.pitchMul(i) / sr
				phases[j] -= math.Floor(phases[j])
			}
			buf[i] = v / float64(voices)
		}

	case "fm_synth":
		carPhase, modPhase := 0.0, 0.0
		for i := 0; i < n; i++ {
			t := float64(i) / sr
			idx := s.ModIndex * math.Exp(-t*s.IndexDecay)
			idx += mod.at("fm_index", i)
			buf[i] = math.Sin(2*math.Pi*carPhase + idx*math.Sin(2*math.Pi*modPhase))
			pm := mod.pitchMul(i)
			carPhase += s.CarrierFreq * pm / sr
			modPhase += s.CarrierFreq * s.ModRatio * pm / sr
			carPhase -= math.Floor(carPhase)
			modPhase -= math.Floor(modPhase)
		}

	case "feedback_fm":
		carPhase, modPhase, prev := 0.0, 0.0, 0.0
		for i := 0; i < n; i++ {
			m := math.Sin(2*math.Pi*modPhase + s.Feedback*prev)
			prev = m
			buf[i] = math.Sin(2*math.Pi*carPhase + s.ModIndex*m)
			pm := mod.pitchMul(i)
			carPhase += s.CarrierFreq * pm / sr
			modPhase += s.CarrierFreq * s.ModRatio * pm / sr
			carPhase -= math.Floor(carPhase)
			modPhase -= math.Floor(modPhase)
		}

	case "am_synth":
		for i := 0; i < n; i++ {
			t := float64(i) / sr
			carrier := math.Sin(2 * math.Pi * s.CarrierFreq * mod.pitchMul(i) * t)
			modw := math.Sin(2 * math.Pi * s.ModFreq * t)
			buf[i] = carrier * (1 - s.Depth + s.Depth*(modw*0.5+0.5))
		}

	case "ring_mod_synth":
		for i := 0; i < n; i++ {
			t := float64(i) / sr
			buf[i] = math.Sin(2*math.Pi*s.FreqA*mod.pitchMul(i)*t) * math.Sin(2*math.Pi*s.FreqB*t)
		}

	case "karplus_strong":
		synthKarplusStrong(buf, s, r, sr)

	case "bowed_string":
		synthBowedString(buf, s, r, sr)

	case "noise_burst":
		synthNoiseBurst(buf, s, r, sr)

	case "additive":
		for i := 0; i < n; i++ {
			t := float64(i) / sr
			var v float64
			for h, amp := range s.Harmonics {
				v += math.Sin(2*math.Pi*s.BaseFreq*float64(h+1)*mod.pitchMul(i)*t) * amp
			}
			buf[i] = v / float64(len(s.Harmonics))
		}

	case "pitched_body":
		phase := 0.0
		for i := 0; i < n; i++ {
			t := float64(i) / float64(n)
			f := sweepFreq(s.StartFreq, s.EndFreq, t, s.SweepCurve)
			buf[i] = math.Sin(2 * math.Pi * phase)
			phase += f * mod.pitchMul(i) / sr
		}

	case "metallic":
		partials := s.Partials
		if partials < 1 {
			partials = 6
		}
		decay := s.Decay
		if decay <= 0 {
			decay = 4
		}
		for i := 0; i < n; i++ {
			t := float64(i) / sr
			var v float64
			for p := 1; p <= partials; p++ {
				// Inharmonic partial ratios give the metallic character.
				ratio := float64(p) * math.Sqrt(1+s.Inharmonicity*float64(p*p))
				v += math.Sin(2*math.Pi*s.BaseFreq*ratio*t) * math.Exp(-t*decay*float64(p)*0.5)
			}
			buf[i] = v / float64(partials)
		}

	case "wavetable":
		phase := 0.0
		for i := 0; i < n; i++ {
			buf[i] = tableSample(s.Table, phase, s.Interpolation)
			phase += s.Freq * mod.pitchMul(i) / sr
			phase -= math.Floor(phase)
		}

	case "granular":
		synthGranular(buf, s, r, sr, mod)

	case "pd_synth":
		phase := 0.0
		for i := 0; i < n; i++ {
			buf[i] = math.Sin(2 * math.Pi * distortPhase(phase, s.Distortion, s.Shape))
			phase += s.Freq * mod.pitchMul(i) / sr
			phase -= math.Floor(phase)
		}

	case "modal":
		for i := 0; i < n; i++ {
			t := float64(i) / sr
			var v float64
			for m := range s.ModeRatios {
				v += math.Sin(2*math.Pi*s.Freq*s.ModeRatios[m]*t) * s.ModeAmps[m] * math.Exp(-t*s.ModeDecays[m])
			}
			buf[i] = v
		}

	case "vocoder":
		synthVocoder(buf, s, r, sr)

	case "formant":
		synthFormant(buf, s, sr)

	case "vector":
		// 2D crossfade between four corner waveforms.
		phase := 0.0
		x, y := clampF(s.X, 0, 1), clampF(s.Y, 0, 1)
		for i := 0; i < n; i++ {
			a := oscSample("sine", phase, 0.5)
			b := oscSample("saw", phase, 0.5)
			c := oscSample("square", phase, 0.5)
			d := oscSample("triangle", phase, 0.5)
			buf[i] = (a*(1-x)+b*x)*(1-y) + (c*(1-x)+d*x)*y
			phase += s.Freq * mod.pitchMul(i) / sr
			phase -= math.Floor(phase)
		}

	case "waveguide":
		synthWaveguide(buf, s, r, sr)

	case "membrane_drum":
		synthMembrane(buf, s, sr)

	case "comb_filter_synth":
		synthCombSynth(buf, s, r, sr)

	case "pulsar":
		synthPulsar(buf, s, sr, mod)

	case "vosim":
		synthVosim(buf, s, sr)

	case "spectral_freeze":
		synthSpectralFreeze(buf, s, r, sr)
	}

	return buf
}

// oscSample evaluates one basic waveform at a phase in [0,1).
func oscSample(waveform string, phase, duty float64) float64 {
	switch waveform {
	case "square":
		if phase < 0.5 {
			return 1
		}
		return -1
	case "saw":
		return 2*phase - 1
	case "triangle":
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	case "pulse":
		if phase < duty {
			return 1
		}
		return -1
	default: // sine
		return math.Sin(2 * math.Pi * phase)
	}
}

// voiceDetune spreads unison voices across the detune range.
func voiceDetune(voice, voices int, cents float64, curve string) float64 {
	if voices == 1 {
		return 0
	}
	t := float64(voice)/float64(voices-1)*2 - 1 // [-1,1]
	if curve == "exponential" {
		sign := 1.0
		if t < 0 {
			sign = -1
		}
		t = sign * t * t
	}
	return t * cents
}

func sweepFreq(start, end, t float64, curve string) float64 {
	switch curve {
	case "exponential":
		return start * math.Pow(end/start, t)
	default:
		return start + (end-start)*t
	}
}

// tableSample reads a wavetable at a [0,1) phase.
func tableSample(table []float64, phase float64, interp string) float64 {
	pos := phase * float64(len(table))
	i := int(pos) % len(table)
	frac := pos - math.Floor(pos)
	next := (i + 1) % len(table)
	switch interp {
	case "none":
		return table[i]
	case "cubic":
		p0 := table[(i-1+len(table))%len(table)]
		p1 := table[i]
		p2 := table[next]
		p3 := table[(i+2)%len(table)]
		a := -0.5*p0 + 1.5*p1 - 1.5*p2 + 0.5*p3
		b := p0 - 2.5*p1 + 2*p2 - 0.5*p3
		c := -0.5*p0 + 0.5*p2
		return ((a*frac+b)*frac+c)*frac + p1
	default: // linear
		return table[i] + (table[next]-table[i])*frac
	}
}

// distortPhase bends the oscillator phase for phase-distortion synthesis.
func distortPhase(phase, amount float64, shape string) float64 {
	if amount <= 0 {
		return phase
	}
	knee := clampF(0.5-amount*0.45, 0.05, 0.5)
	switch shape {
	case "resonant":
		return phase * (1 + amount*phase)
	default: // "bend"
		if phase < knee {
			return phase / knee * 0.5
		}
		return 0.5 + (phase-knee)/(1-knee)*0.5
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
