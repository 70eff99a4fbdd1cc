package audio

import (
	"math"

	"github.com/opd-ai/speccade/pkg/rng"
	"github.com/opd-ai/speccade/pkg/spec"
)

// synthKarplusStrong renders a plucked string: an excitation burst fed into
// a damped delay line at the string period.
func synthKarplusStrong(buf []float64, s *spec.Synthesis, r *rng.RNG, sr float64) {
	period := int(sr / s.Freq)
	if period < 2 {
		period = 2
	}
	feedback := s.Feedback
	if feedback == 0 {
		feedback = 0.996
	}
	damping := clampF(s.Damping, 0, 1)

	line := make([]float64, period)
	for i := range line {
		if s.Excitation == "pluck" {
			// Sawtooth ramp excitation reads as a bright pick attack.
			line[i] = 2*float64(i)/float64(period) - 1
		} else {
			line[i] = r.Bipolar()
		}
	}

	pos := 0
	prev := 0.0
	for i := range buf {
		cur := line[pos]
		next := line[(pos+1)%period]
		// Averaging lowpass plus damping blend toward the previous output.
		avg := (cur + next) * 0.5
		out := avg*(1-damping) + prev*damping
		line[pos] = out * feedback
		prev = out
		buf[i] = cur
		pos = (pos + 1) % period
	}
}

// synthBowedString approximates sustained bowing: a delay line driven by a
// friction-shaped noise source instead of a one-shot burst.
func synthBowedString(buf []float64, s *spec.Synthesis, r *rng.RNG, sr float64) {
	period := int(sr / s.Freq)
	if period < 2 {
		period = 2
	}
	pressure := s.BowPressure
	if pressure == 0 {
		pressure = 0.5
	}
	position := clampF(s.BowPosition, 0.05, 0.95)

	line := make([]float64, period)
	pos := 0
	for i := range buf {
		cur := line[pos]
		next := line[(pos+1)%period]
		avg := (cur + next) * 0.5

		// Friction drive: bow noise injected at the bowing point each pass.
		drive := r.Bipolar() * pressure * 0.2
		inject := int(float64(period) * position)
		line[(pos+inject)%period] += drive

		line[pos] = avg * 0.995
		buf[i] = cur
		pos = (pos + 1) % period
	}
	// The drive keeps adding energy; normalize to unit peak for a stable
	// level independent of duration.
	normalizeUnit(buf)
}

// synthNoiseBurst renders colored noise with exponential decay and an
// optional one-pole lowpass.
func synthNoiseBurst(buf []float64, s *spec.Synthesis, r *rng.RNG, sr float64) {
	decay := s.Decay
	if decay <= 0 {
		decay = 5
	}

	// Pink and brown noise via cheap filtered white sources.
	var b0, b1, b2, brown float64
	lpState := 0.0
	lpCoeff := 0.0
	if s.FilterCutoff > 0 {
		lpCoeff = math.Exp(-2 * math.Pi * s.FilterCutoff / sr)
	}

	for i := range buf {
		t := float64(i) / sr
		white := r.Bipolar()
		var v float64
		switch s.Color {
		case "pink":
			b0 = 0.99765*b0 + white*0.0990460
			b1 = 0.96300*b1 + white*0.2965164
			b2 = 0.57000*b2 + white*1.0526913
			v = (b0 + b1 + b2 + white*0.1848) * 0.25
		case "brown":
			brown = (brown + white*0.02) * 0.997
			v = brown * 10
		default:
			v = white
		}
		if lpCoeff > 0 {
			lpState = v*(1-lpCoeff) + lpState*lpCoeff
			v = lpState
		}
		buf[i] = v * math.Exp(-t*decay)
	}
}

// synthWaveguide models a wind/brass bore: a bidirectional delay line pair
// with a reflecting bell end and breath noise drive.
func synthWaveguide(buf []float64, s *spec.Synthesis, r *rng.RNG, sr float64) {
	period := int(sr / s.Freq / 2)
	if period < 2 {
		period = 2
	}
	reflection := s.Reflection
	if reflection == 0 {
		reflection = 0.97
	}
	brightness := clampF(s.Brightness, 0, 1)

	fwd := make([]float64, period)
	rev := make([]float64, period)
	pos := 0
	lp := 0.0
	for i := range buf {
		breath := r.Bipolar() * 0.3

		bell := fwd[pos]
		// The bell reflects inverted and low-passed; brightness opens it up.
		lp = bell*(brightness) + lp*(1-brightness)
		reflected := -lp * reflection

		mouth := rev[pos] + breath
		fwd[pos] = mouth
		rev[pos] = reflected

		buf[i] = bell
		pos = (pos + 1) % period
	}
	normalizeUnit(buf)
}

// synthMembrane sums the first circular-membrane modes with tension-scaled
// frequencies.
func synthMembrane(buf []float64, s *spec.Synthesis, sr float64) {
	// Ratios of the first modes of an ideal circular membrane.
	ratios := []float64{1.0, 1.593, 2.135, 2.295, 2.653, 2.917}
	tension := s.Tension
	if tension == 0 {
		tension = 1
	}
	decay := s.Decay
	if decay <= 0 {
		decay = 8
	}
	for i := range buf {
		t := float64(i) / sr
		var v float64
		for m, ratio := range ratios {
			f := s.Freq * ratio * math.Sqrt(tension)
			v += math.Sin(2*math.Pi*f*t) * math.Exp(-t*decay*(1+float64(m)*0.7)) / float64(m+1)
		}
		buf[i] = v
	}
}

// synthCombSynth excites a comb filter into steady resonance.
func synthCombSynth(buf []float64, s *spec.Synthesis, r *rng.RNG, sr float64) {
	period := int(sr / s.Freq)
	if period < 2 {
		period = 2
	}
	feedback := s.Feedback
	if feedback == 0 {
		feedback = 0.9
	}
	line := make([]float64, period)
	pos := 0
	for i := range buf {
		var in float64
		if s.Excitation == "impulse" {
			if i == 0 {
				in = 1
			}
		} else {
			in = r.Bipolar() * 0.5
		}
		out := in + line[pos]*feedback
		line[pos] = out
		buf[i] = out
		pos = (pos + 1) % period
	}
	normalizeUnit(buf)
}

// synthPulsar emits windowed formant grains at the fundamental rate.
func synthPulsar(buf []float64, s *spec.Synthesis, sr float64, mod *modSource) {
	duty := s.Duty
	if duty <= 0 || duty > 1 {
		duty = 0.5
	}
	formant := s.FormantFreq
	if formant <= 0 {
		formant = s.Freq * 4
	}
	phase := 0.0
	for i := range buf {
		if phase < duty {
			inner := phase / duty
			window := 0.5 - 0.5*math.Cos(2*math.Pi*inner)
			buf[i] = math.Sin(2*math.Pi*formant/s.Freq*inner) * window
		}
		phase += s.Freq * mod.pitchMul(i) / sr
		phase -= math.Floor(phase)
	}
}

// synthVosim emits trains of decaying sine-squared pulses, the classic
// VOSIM vocal approximation.
func synthVosim(buf []float64, s *spec.Synthesis, sr float64) {
	formant := s.FormantFreq
	if formant <= 0 {
		formant = s.Freq * 6
	}
	decay := s.Decay
	if decay <= 0 {
		decay = 0.8
	}
	period := int(sr / s.Freq)
	if period < 2 {
		period = 2
	}
	pulseLen := int(sr / formant)
	if pulseLen < 1 {
		pulseLen = 1
	}

	for i := range buf {
		inPeriod := i % period
		pulse := inPeriod / pulseLen
		if pulse >= s.Pulses {
			continue
		}
		t := float64(inPeriod%pulseLen) / float64(pulseLen)
		sn := math.Sin(math.Pi * t)
		buf[i] = sn * sn * math.Pow(decay, float64(pulse))
	}
}

// synthSpectralFreeze holds a static spectrum: band sinusoids with
// deterministic random phases, slightly smeared in frequency.
func synthSpectralFreeze(buf []float64, s *spec.Synthesis, r *rng.RNG, sr float64) {
	bands := s.Bands
	if bands < 1 {
		bands = 16
	}
	type band struct{ freq, amp, phase float64 }
	bs := make([]band, bands)
	for i := range bs {
		// Bands spread harmonically above the base with random detune
		// proportional to the smear amount.
		detune := 1 + r.Bipolar()*s.Smear*0.05
		bs[i] = band{
			freq:  s.Freq * float64(i+1) * detune,
			amp:   1 / float64(i+1),
			phase: r.Float64(),
		}
	}
	var norm float64
	for _, b := range bs {
		norm += b.amp
	}
	for i := range buf {
		t := float64(i) / sr
		var v float64
		for _, b := range bs {
			v += math.Sin(2*math.Pi*(b.freq*t+b.phase)) * b.amp
		}
		buf[i] = v / norm
	}
}

// synthGranular scatters windowed grains of a sine source.
func synthGranular(buf []float64, s *spec.Synthesis, r *rng.RNG, sr float64, mod *modSource) {
	n := len(buf)
	grainLen := int(s.GrainSizeMS / 1000 * sr)
	if grainLen < 8 {
		grainLen = 8
	}
	interval := sr / s.GrainRateHz

	window := s.Window
	next := 0.0
	for next < float64(n) {
		start := int(next)
		jitterOff := 0.0
		if s.Jitter > 0 {
			jitterOff = r.Bipolar() * s.Jitter * interval
		}
		gStart := start + int(jitterOff)

		gLen := grainLen
		if gs := mod.at("grain_size", start); gs != 0 {
			gLen = int(float64(grainLen) * math.Pow(2, gs))
			if gLen < 8 {
				gLen = 8
			}
		}

		freqJitter := 1 + r.Bipolar()*0.01*s.Jitter
		phase := r.Float64()
		for k := 0; k < gLen; k++ {
			i := gStart + k
			if i < 0 || i >= n {
				continue
			}
			t := float64(k) / float64(gLen)
			var w float64
			switch window {
			case "triangle":
				w = 1 - math.Abs(2*t-1)
			default: // hann
				w = 0.5 - 0.5*math.Cos(2*math.Pi*t)
			}
			buf[i] += math.Sin(2*math.Pi*(s.Freq*freqJitter*float64(k)/sr+phase)) * w
		}

		step := interval
		if gd := mod.at("grain_density", start); gd != 0 {
			step = interval / math.Pow(2, gd)
		}
		next += step
	}
	normalizeUnit(buf)
}

// synthVocoder drives a bank of carrier bandpass filters with a noise
// modulator envelope per band.
func synthVocoder(buf []float64, s *spec.Synthesis, r *rng.RNG, sr float64) {
	bands := s.Bands
	if bands < 2 {
		bands = 8
	}
	n := len(buf)

	carrier := make([]float64, n)
	modulator := make([]float64, n)
	carPhase := 0.0
	for i := 0; i < n; i++ {
		carrier[i] = oscSample("saw", carPhase, 0.5)
		carPhase += s.CarrierFreq / sr
		carPhase -= math.Floor(carPhase)
		t := float64(i) / sr
		// Modulator: noise amplitude-shaped by a slow sine at mod_freq.
		modulator[i] = r.Bipolar() * (0.5 + 0.5*math.Sin(2*math.Pi*s.ModFreq*t))
	}

	for b := 0; b < bands; b++ {
		center := 200 * math.Pow(2, float64(b)*8.0/float64(bands)/2)
		if center >= sr/2 {
			break
		}
		carBand := bandpassRun(carrier, center, 2.0, sr)
		modBand := bandpassRun(modulator, center, 2.0, sr)

		// Envelope-follow the modulator band and apply to the carrier band.
		env := 0.0
		coeff := math.Exp(-1 / (0.01 * sr))
		for i := 0; i < n; i++ {
			a := math.Abs(modBand[i])
			if a > env {
				env = a
			} else {
				env = a + (env-a)*coeff
			}
			buf[i] += carBand[i] * env
		}
	}
	normalizeUnit(buf)
}

// Formant frequencies for the five vowels, first three formants.
var vowelFormants = map[string][3]float64{
	"a": {800, 1150, 2900},
	"e": {400, 1600, 2700},
	"i": {350, 1700, 2700},
	"o": {450, 800, 2830},
	"u": {325, 700, 2700},
}

// synthFormant filters a pulse source through the vowel formant bank.
func synthFormant(buf []float64, s *spec.Synthesis, sr float64) {
	n := len(buf)
	formants := vowelFormants[s.Vowel]

	source := make([]float64, n)
	phase := 0.0
	for i := 0; i < n; i++ {
		source[i] = oscSample("pulse", phase, 0.1)
		phase += s.Freq / sr
		phase -= math.Floor(phase)
	}

	amps := [3]float64{1.0, 0.5, 0.25}
	for f := 0; f < 3; f++ {
		band := bandpassRun(source, formants[f], 8.0, sr)
		for i := 0; i < n; i++ {
			buf[i] += band[i] * amps[f]
		}
	}
	normalizeUnit(buf)
}

// normalizeUnit scales a buffer to unit peak; silence stays silent.
func normalizeUnit(buf []float64) {
	peak := 0.0
	for _, v := range buf {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak > 0 {
		inv := 1 / peak
		for i := range buf {
			buf[i] *= inv
		}
	}
}
