package audio

import (
	"math"

	"github.com/opd-ai/speccade/pkg/spec"
)

// biquad is a direct-form-I second-order section. State starts at zero per
// the rendering contract.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// designBiquad fills RBJ cookbook coefficients. q maps resonance [0,1] onto
// a usable Q range; gainDB only matters for shelves and peaks.
func designBiquad(kind string, cutoff, resonance, gainDB, sr float64) biquad {
	w0 := 2 * math.Pi * cutoff / sr
	sin, cos := math.Sincos(w0)
	q := 0.707 + resonance*9.3 // resonance 0 -> Butterworth, 1 -> Q 10
	alpha := sin / (2 * q)
	a := math.Pow(10, gainDB/40)

	var b0, b1, b2, a0, a1, a2 float64
	switch kind {
	case "highpass":
		b0 = (1 + cos) / 2
		b1 = -(1 + cos)
		b2 = (1 + cos) / 2
		a0 = 1 + alpha
		a1 = -2 * cos
		a2 = 1 - alpha
	case "bandpass":
		b0 = alpha
		b1 = 0
		b2 = -alpha
		a0 = 1 + alpha
		a1 = -2 * cos
		a2 = 1 - alpha
	case "notch":
		b0 = 1
		b1 = -2 * cos
		b2 = 1
		a0 = 1 + alpha
		a1 = -2 * cos
		a2 = 1 - alpha
	case "allpass":
		b0 = 1 - alpha
		b1 = -2 * cos
		b2 = 1 + alpha
		a0 = 1 + alpha
		a1 = -2 * cos
		a2 = 1 - alpha
	case "low_shelf":
		sq := 2 * math.Sqrt(a) * alpha
		b0 = a * ((a + 1) - (a-1)*cos + sq)
		b1 = 2 * a * ((a - 1) - (a+1)*cos)
		b2 = a * ((a + 1) - (a-1)*cos - sq)
		a0 = (a + 1) + (a-1)*cos + sq
		a1 = -2 * ((a - 1) + (a+1)*cos)
		a2 = (a + 1) + (a-1)*cos - sq
	case "high_shelf":
		sq := 2 * math.Sqrt(a) * alpha
		b0 = a * ((a + 1) + (a-1)*cos + sq)
		b1 = -2 * a * ((a - 1) + (a+1)*cos)
		b2 = a * ((a + 1) + (a-1)*cos - sq)
		a0 = (a + 1) - (a-1)*cos + sq
		a1 = 2 * ((a - 1) - (a+1)*cos)
		a2 = (a + 1) - (a-1)*cos - sq
	case "peak":
		b0 = 1 + alpha*a
		b1 = -2 * cos
		b2 = 1 - alpha*a
		a0 = 1 + alpha/a
		a1 = -2 * cos
		a2 = 1 - alpha/a
	default: // lowpass
		b0 = (1 - cos) / 2
		b1 = 1 - cos
		b2 = (1 - cos) / 2
		a0 = 1 + alpha
		a1 = -2 * cos
		a2 = 1 - alpha
	}

	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// bandpassRun filters a whole buffer through one bandpass section.
func bandpassRun(in []float64, center, q, sr float64) []float64 {
	w0 := 2 * math.Pi * center / sr
	sin, cos := math.Sincos(w0)
	alpha := sin / (2 * q)
	a0 := 1 + alpha
	f := biquad{b0: alpha / a0, b2: -alpha / a0, a1: -2 * cos / a0, a2: (1 - alpha) / a0}

	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = f.process(v)
	}
	return out
}

// applyFilter runs the per-layer filter stage. LFO modulation of the cutoff
// redesigns the section per sample; the redesign cadence is part of the
// deterministic contract.
func applyFilter(buf []float64, f *spec.Filter, sr float64, mod *modSource) {
	switch f.Type {
	case "ladder":
		applyLadder(buf, f, sr, mod)
		return
	case "comb":
		applyCombFilter(buf, f, sr)
		return
	case "formant":
		applyFormantFilter(buf, f, sr)
		return
	}

	modulated := mod != nil && mod.target == "filter_cutoff"
	bq := designBiquad(f.Type, f.Cutoff, f.Resonance, f.GainDB, sr)
	for i := range buf {
		if modulated {
			cutoff := f.Cutoff * math.Pow(2, mod.at("filter_cutoff", i))
			cutoff = clampF(cutoff, 10, sr/2-1)
			next := designBiquad(f.Type, cutoff, f.Resonance, f.GainDB, sr)
			next.x1, next.x2, next.y1, next.y2 = bq.x1, bq.x2, bq.y1, bq.y2
			bq = next
		}
		v := buf[i]
		if f.Drive > 0 {
			v = math.Tanh(v * (1 + f.Drive))
		}
		buf[i] = bq.process(v)
	}
}

// applyLadder is a four-stage Moog-style ladder with resonance feedback.
func applyLadder(buf []float64, f *spec.Filter, sr float64, mod *modSource) {
	var s1, s2, s3, s4 float64
	res := f.Resonance * 4

	for i := range buf {
		cutoff := f.Cutoff
		if mod != nil && mod.target == "filter_cutoff" {
			cutoff = clampF(cutoff*math.Pow(2, mod.at("filter_cutoff", i)), 10, sr/2-1)
		}
		g := 1 - math.Exp(-2*math.Pi*cutoff/sr)

		in := buf[i] - res*s4
		if f.Drive > 0 {
			in = math.Tanh(in * (1 + f.Drive))
		}
		s1 += g * (in - s1)
		s2 += g * (s1 - s2)
		s3 += g * (s2 - s3)
		s4 += g * (s3 - s4)
		buf[i] = s4
	}
}

// applyCombFilter is a feedback comb tuned to the cutoff frequency.
func applyCombFilter(buf []float64, f *spec.Filter, sr float64) {
	period := int(sr / f.Cutoff)
	if period < 1 {
		period = 1
	}
	feedback := f.Feedback
	if feedback == 0 {
		feedback = 0.7
	}
	line := make([]float64, period)
	pos := 0
	for i := range buf {
		out := buf[i] + line[pos]*feedback
		line[pos] = out
		buf[i] = out
		pos = (pos + 1) % period
	}
}

// applyFormantFilter runs the vowel formant bank as a filter stage.
func applyFormantFilter(buf []float64, f *spec.Filter, sr float64) {
	formants, ok := vowelFormants[f.Vowel]
	if !ok {
		formants = vowelFormants["a"]
	}
	amps := [3]float64{1.0, 0.5, 0.25}

	out := make([]float64, len(buf))
	for k := 0; k < 3; k++ {
		band := bandpassRun(buf, formants[k], 8.0, sr)
		for i := range out {
			out[i] += band[i] * amps[k]
		}
	}
	copy(buf, out)
}
