package audio

import (
	"math"

	"github.com/opd-ai/speccade/pkg/rng"
	"github.com/opd-ai/speccade/pkg/spec"
)

// renderLFO produces the modulation stream for a layer: the LFO wave in
// [-1,1] scaled by depth. Phase starts at 0. The random shape is
// sample-and-hold clocked at the LFO rate, drawn from the layer stream.
func renderLFO(l *spec.LFO, r *rng.RNG, sr float64, n int) *modSource {
	data := make([]float64, n)
	period := sr / l.RateHz

	held := 0.0
	nextClock := 0.0
	for i := 0; i < n; i++ {
		phase := float64(i) / period
		phase -= math.Floor(phase)

		var v float64
		switch l.Shape {
		case "triangle":
			if phase < 0.5 {
				v = 4*phase - 1
			} else {
				v = 3 - 4*phase
			}
		case "square":
			if phase < 0.5 {
				v = 1
			} else {
				v = -1
			}
		case "sawtooth":
			v = 2*phase - 1
		case "random":
			if float64(i) >= nextClock {
				held = r.Bipolar()
				nextClock += period
			}
			v = held
		default: // sine
			v = math.Sin(2 * math.Pi * phase)
		}
		data[i] = v * l.Depth
	}
	return &modSource{target: l.Target, data: data}
}
