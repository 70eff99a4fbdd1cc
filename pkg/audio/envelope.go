package audio

import (
	"math"

	"github.com/opd-ai/speccade/pkg/spec"
)

// applyEnvelope shapes a buffer with an ADSR. Note-off is inferred at the
// buffer end: release begins release-seconds before the last sample.
func applyEnvelope(buf []float64, env *spec.Envelope, rate int) {
	n := len(buf)
	total := float64(n) / float64(rate)

	attack := env.Attack
	decay := env.Decay
	release := env.Release
	sustain := env.Sustain

	releaseStart := total - release
	if releaseStart < 0 {
		releaseStart = 0
	}

	for i := 0; i < n; i++ {
		t := float64(i) / float64(rate)
		var g float64
		switch {
		case t < attack && attack > 0:
			g = curveShape(t/attack, env.AttackCurve)
		case t < attack+decay && decay > 0:
			d := curveShape((t-attack)/decay, env.DecayCurve)
			g = 1 - (1-sustain)*d
		case t < releaseStart:
			g = sustain
		default:
			if release <= 0 {
				g = 0
				break
			}
			r := (t - releaseStart) / release
			if r > 1 {
				r = 1
			}
			g = sustain * (1 - curveShape(r, env.ReleaseCurve))
		}
		buf[i] *= g
	}
}

// curveShape maps a [0,1] ramp position through the configured curve.
func curveShape(t float64, curve string) float64 {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	switch curve {
	case "exponential":
		return t * t
	case "logarithmic":
		return math.Sqrt(t)
	default: // linear
		return t
	}
}
