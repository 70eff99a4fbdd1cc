package audio

import (
	"math"

	"github.com/opd-ai/speccade/pkg/rng"
	"github.com/opd-ai/speccade/pkg/spec"
)

// applyEffects runs a chain over one or two channels in declared order.
// Filter/delay state is independent per channel; random material (reverb
// impulses, grain placement) is drawn once per effect so both channels of a
// stereo pair hear the same material.
func applyEffects(channels [][]float64, effects []spec.Effect, sr float64, r *rng.RNG, mod *modSource) {
	for i := range effects {
		applyEffect(channels, &effects[i], sr, r, mod)
	}
}

func applyEffect(channels [][]float64, e *spec.Effect, sr float64, r *rng.RNG, mod *modSource) {
	switch e.Type {
	case "reverb":
		if e.IR != "" {
			ir := buildImpulse(e, sr, r)
			for _, ch := range channels {
				convolveWet(ch, ir, e.Mix)
			}
			return
		}
		for _, ch := range channels {
			schroederReverb(ch, e, sr, mod)
		}

	case "delay":
		for _, ch := range channels {
			feedbackDelay(ch, e, sr, mod)
		}

	case "chorus":
		for _, ch := range channels {
			modulatedDelay(ch, sr, e.RateHz, e.Depth, 0.020, 0.012, 0, orDefault(e.Mix, 0.5))
		}

	case "flanger":
		for _, ch := range channels {
			modulatedDelay(ch, sr, e.RateHz, e.Depth, 0.004, 0.003, e.Feedback, orDefault(e.Mix, 0.5))
		}

	case "phaser":
		for _, ch := range channels {
			phaser(ch, e, sr)
		}

	case "waveshaper":
		for _, ch := range channels {
			for i, v := range ch {
				amount := clampF(e.Amount+mod.at("distortion_drive", i), 0, 1)
				ch[i] = waveshape(v, amount, e.Curve)
			}
		}

	case "bitcrush":
		levels := math.Pow(2, float64(e.Bits)) - 1
		div := e.RateDivide
		if div < 1 {
			div = 1
		}
		for _, ch := range channels {
			held := 0.0
			for i, v := range ch {
				if i%div == 0 {
					held = math.Floor(v*levels+0.5) / levels
				}
				ch[i] = held
			}
		}

	case "compressor":
		for _, ch := range channels {
			compress(ch, e, sr, false)
		}

	case "limiter":
		for _, ch := range channels {
			limitBuf(ch, e, sr)
		}

	case "parametric_eq":
		for _, ch := range channels {
			for _, band := range e.Bands {
				kind := band.Type
				q := band.Q
				if q == 0 {
					q = 1
				}
				res := clampF((q-0.707)/9.3, 0, 1)
				bq := designBiquad(kind, band.Freq, res, band.GainDB, sr)
				for i, v := range ch {
					ch[i] = bq.process(v)
				}
			}
		}

	case "gate":
		for _, ch := range channels {
			gate(ch, e, sr)
		}

	case "stereo_widener":
		if len(channels) == 2 {
			l, rr := channels[0], channels[1]
			for i := range l {
				mid := (l[i] + rr[i]) * 0.5
				side := (l[i] - rr[i]) * 0.5 * e.Width
				l[i] = mid + side
				rr[i] = mid - side
			}
		}

	case "tape_saturation":
		mix := orDefault(e.Mix, 1)
		for _, ch := range channels {
			lp := 0.0
			coeff := math.Exp(-2 * math.Pi * 12000 / sr)
			for i, v := range ch {
				sat := math.Tanh(v * (1 + e.Drive))
				lp = sat*(1-coeff) + lp*coeff
				ch[i] = v*(1-mix) + lp*mix
			}
		}

	case "transient_shaper":
		for _, ch := range channels {
			transientShape(ch, e, sr)
		}

	case "auto_filter":
		for _, ch := range channels {
			autoFilter(ch, e, sr)
		}

	case "cabinet_sim":
		ir := cabinetKernels[e.Model]
		if ir == nil {
			ir = cabinetKernels["combo"]
		}
		for _, ch := range channels {
			convolveWet(ch, ir, orDefault(e.Mix, 1))
		}

	case "rotary_speaker":
		for _, ch := range channels {
			rotary(ch, e, sr)
		}

	case "ring_modulator":
		mix := orDefault(e.Mix, 1)
		for _, ch := range channels {
			for i, v := range ch {
				t := float64(i) / sr
				wet := v * math.Sin(2*math.Pi*e.Freq*t)
				ch[i] = v*(1-mix) + wet*mix
			}
		}

	case "granular_delay":
		// Grain schedule drawn once so stereo channels stay coherent.
		schedule := grainSchedule(len(channels[0]), e, sr, r)
		for _, ch := range channels {
			granularDelay(ch, e, sr, schedule)
		}
	}
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// Schroeder reverb: four parallel damped combs into two series allpasses.
var combTunings = [4]float64{0.0253, 0.0269, 0.0290, 0.0307}
var allpassTunings = [2]float64{0.0126, 0.0100}

func schroederReverb(buf []float64, e *spec.Effect, sr float64, mod *modSource) {
	roomSize := orDefault(e.RoomSize, 0.5)
	damping := clampF(e.Damping, 0, 1)
	mix := orDefault(e.Mix, 0.3)

	n := len(buf)
	wet := make([]float64, n)

	for c := 0; c < 4; c++ {
		size := int(combTunings[c] * (0.5 + roomSize) * sr)
		if rs := mod.at("reverb_size", 0); rs != 0 {
			size = int(float64(size) * math.Pow(2, rs))
		}
		if size < 1 {
			size = 1
		}
		line := make([]float64, size)
		pos := 0
		lp := 0.0
		feedback := 0.7 + roomSize*0.28
		for i := 0; i < n; i++ {
			out := line[pos]
			lp = out*(1-damping) + lp*damping
			line[pos] = buf[i] + lp*feedback
			wet[i] += out * 0.25
			pos = (pos + 1) % size
		}
	}

	for a := 0; a < 2; a++ {
		size := int(allpassTunings[a] * sr)
		line := make([]float64, size)
		pos := 0
		for i := 0; i < n; i++ {
			in := wet[i]
			delayed := line[pos]
			line[pos] = in + delayed*0.5
			wet[i] = delayed - in*0.5
			pos = (pos + 1) % size
		}
	}

	for i := range buf {
		buf[i] = buf[i]*(1-mix) + wet[i]*mix
	}
}

// buildImpulse generates a deterministic exponentially decaying noise
// impulse for convolution reverb. The named IR selects the decay profile.
func buildImpulse(e *spec.Effect, sr float64, r *rng.RNG) []float64 {
	secs := 0.2 + orDefault(e.RoomSize, 0.5)*1.0
	decay := 6.0
	switch e.IR {
	case "plate":
		decay = 4.0
	case "hall":
		secs, decay = 1.5, 3.0
	case "spring":
		secs, decay = 0.6, 8.0
	}
	n := int(secs * sr)
	ir := make([]float64, n)
	for i := range ir {
		t := float64(i) / sr
		ir[i] = r.Bipolar() * math.Exp(-t*decay)
	}
	// Unit-energy normalization keeps the wet level independent of length.
	var energy float64
	for _, v := range ir {
		energy += v * v
	}
	if energy > 0 {
		scale := 1 / math.Sqrt(energy)
		for i := range ir {
			ir[i] *= scale
		}
	}
	return ir
}

// convolveWet mixes a direct convolution of buf with ir at the given mix.
func convolveWet(buf, ir []float64, mix float64) {
	n := len(buf)
	wet := make([]float64, n)
	for i := 0; i < n; i++ {
		var acc float64
		kmax := len(ir)
		if kmax > i+1 {
			kmax = i + 1
		}
		for k := 0; k < kmax; k++ {
			acc += buf[i-k] * ir[k]
		}
		wet[i] = acc
	}
	for i := range buf {
		buf[i] = buf[i]*(1-mix) + wet[i]*mix
	}
}

func feedbackDelay(buf []float64, e *spec.Effect, sr float64, mod *modSource) {
	base := e.TimeMS / 1000 * sr
	size := int(base) + 2
	if size < 2 {
		size = 2
	}
	maxSize := size * 3
	line := make([]float64, maxSize)
	mix := orDefault(e.Mix, 0.4)

	pos := 0
	for i, v := range buf {
		readLen := base
		if dt := mod.at("delay_time", i); dt != 0 {
			readLen = base * math.Pow(2, dt)
		}
		if readLen >= float64(maxSize-1) {
			readLen = float64(maxSize - 2)
		}
		wet := readFrac(line, pos, readLen)
		for t, tapMS := range e.Taps {
			tapLen := tapMS / 1000 * sr
			if tapLen < float64(maxSize-1) {
				wet += readFrac(line, pos, tapLen) * math.Pow(0.7, float64(t+1))
			}
		}
		line[pos] = v + wet*e.Feedback
		buf[i] = v*(1-mix) + wet*mix
		pos = (pos + 1) % maxSize
	}
}

// readFrac reads a delay line at a fractional distance behind pos.
func readFrac(line []float64, pos int, dist float64) float64 {
	n := len(line)
	d0 := int(dist)
	frac := dist - float64(d0)
	i0 := ((pos-d0)%n + n) % n
	i1 := ((pos-d0-1)%n + n) % n
	return line[i0]*(1-frac) + line[i1]*frac
}

// modulatedDelay underlies chorus and flanger.
func modulatedDelay(buf []float64, sr, rate, depth, center, swing, feedback, mix float64) {
	size := int((center + swing) * sr * 2)
	if size < 4 {
		size = 4
	}
	line := make([]float64, size)
	pos := 0
	for i, v := range buf {
		t := float64(i) / sr
		lfo := math.Sin(2 * math.Pi * rate * t)
		dist := (center + swing*lfo*depth) * sr
		if dist < 1 {
			dist = 1
		}
		wet := readFrac(line, pos, dist)
		line[pos] = v + wet*feedback
		buf[i] = v*(1-mix) + wet*mix
		pos = (pos + 1) % size
	}
}

func phaser(buf []float64, e *spec.Effect, sr float64) {
	stages := e.Stages
	if stages < 2 {
		stages = 4
	}
	mix := orDefault(e.Mix, 0.5)
	states := make([]float64, stages)

	for i, v := range buf {
		t := float64(i) / sr
		lfo := math.Sin(2*math.Pi*e.RateHz*t)*0.5 + 0.5
		freq := 300 + lfo*e.Depth*2000
		coeff := (math.Tan(math.Pi*freq/sr) - 1) / (math.Tan(math.Pi*freq/sr) + 1)

		x := v
		for s := 0; s < stages; s++ {
			y := coeff*x + states[s]
			states[s] = x - coeff*y
			x = y
		}
		buf[i] = v*(1-mix) + x*mix
	}
}

func waveshape(v, amount float64, curve string) float64 {
	drive := 1 + amount*9
	switch curve {
	case "fold":
		x := v * drive
		for x > 1 || x < -1 {
			if x > 1 {
				x = 2 - x
			}
			if x < -1 {
				x = -2 - x
			}
		}
		return x
	case "hard":
		return clampF(v*drive, -1, 1)
	default: // tanh
		return math.Tanh(v * drive)
	}
}

func compress(buf []float64, e *spec.Effect, sr float64, _ bool) {
	threshold := math.Pow(10, e.ThresholdDB/20)
	attack := math.Exp(-1 / (math.Max(e.AttackMS, 0.1) / 1000 * sr))
	release := math.Exp(-1 / (math.Max(e.ReleaseMS, 1) / 1000 * sr))
	makeup := math.Pow(10, e.MakeupDB/20)

	env := 0.0
	for i, v := range buf {
		a := math.Abs(v)
		if a > env {
			env = a + (env-a)*attack
		} else {
			env = a + (env-a)*release
		}
		gain := 1.0
		if env > threshold {
			over := env / threshold
			gain = math.Pow(over, 1/e.Ratio-1)
		}
		buf[i] = v * gain * makeup
	}
}

func limitBuf(buf []float64, e *spec.Effect, sr float64) {
	ceiling := math.Pow(10, e.CeilingDB/20)
	release := math.Exp(-1 / (math.Max(e.ReleaseMS, 1) / 1000 * sr))

	gain := 1.0
	for i, v := range buf {
		a := math.Abs(v)
		want := 1.0
		if a*gain > ceiling && a > 0 {
			want = ceiling / a
		}
		if want < gain {
			gain = want // instant attack
		} else {
			gain = want + (gain-want)*release
		}
		buf[i] = v * gain
	}
}

func gate(buf []float64, e *spec.Effect, sr float64) {
	threshold := math.Pow(10, e.ThresholdDB/20)
	attack := math.Exp(-1 / (math.Max(e.AttackMS, 0.1) / 1000 * sr))
	release := math.Exp(-1 / (math.Max(e.ReleaseMS, 1) / 1000 * sr))
	floor := math.Pow(10, -math.Abs(e.RangeDB)/20)

	env, gain := 0.0, floor
	for i, v := range buf {
		a := math.Abs(v)
		if a > env {
			env = a + (env-a)*attack
		} else {
			env = a + (env-a)*release
		}
		target := floor
		if env > threshold {
			target = 1
		}
		if target > gain {
			gain = target + (gain-target)*attack
		} else {
			gain = target + (gain-target)*release
		}
		buf[i] = v * gain
	}
}

func transientShape(buf []float64, e *spec.Effect, sr float64) {
	fast := math.Exp(-1 / (0.001 * sr))
	slow := math.Exp(-1 / (0.050 * sr))
	attackGain := orDefault(e.AttackGain, 1)
	sustainGain := orDefault(e.SustainGain, 1)

	envFast, envSlow := 0.0, 0.0
	for i, v := range buf {
		a := math.Abs(v)
		if a > envFast {
			envFast = a
		} else {
			envFast = a + (envFast-a)*fast
		}
		if a > envSlow {
			envSlow = a
		} else {
			envSlow = a + (envSlow-a)*slow
		}
		transient := 0.0
		if envSlow > 1e-9 {
			transient = clampF((envFast-envSlow)/envSlow, 0, 1)
		}
		gain := sustainGain + (attackGain-sustainGain)*transient
		buf[i] = v * gain
	}
}

func autoFilter(buf []float64, e *spec.Effect, sr float64) {
	follow := math.Exp(-1 / (0.01 * sr))
	env := 0.0
	var s1, s2 float64
	for i, v := range buf {
		a := math.Abs(v)
		if a > env {
			env = a
		} else {
			env = a + (env-a)*follow
		}
		cutoff := e.Cutoff * math.Pow(2, env*e.EnvAmount*4)
		if e.RateHz > 0 {
			t := float64(i) / sr
			cutoff *= math.Pow(2, math.Sin(2*math.Pi*e.RateHz*t))
		}
		cutoff = clampF(cutoff, 20, sr/2-1)
		g := 1 - math.Exp(-2*math.Pi*cutoff/sr)
		res := e.Resonance * 0.9

		in := v - res*s2
		s1 += g * (in - s1)
		s2 += g * (s1 - s2)
		buf[i] = s2
	}
}

// Fixed small FIR kernels for cabinet simulation.
var cabinetKernels = map[string][]float64{
	"combo": {0.62, 0.24, -0.11, 0.08, -0.05, 0.03, -0.02, 0.01},
	"stack": {0.48, 0.33, 0.12, -0.14, 0.09, -0.06, 0.04, -0.02, 0.01},
}

func rotary(buf []float64, e *spec.Effect, sr float64) {
	mix := orDefault(e.Mix, 1)
	depth := orDefault(e.Depth, 0.5)
	size := int(0.01 * sr)
	if size < 4 {
		size = 4
	}
	line := make([]float64, size)
	pos := 0
	for i, v := range buf {
		t := float64(i) / sr
		lfo := math.Sin(2 * math.Pi * e.RateHz * t)
		dist := (0.003 + 0.002*lfo*depth) * sr
		wet := readFrac(line, pos, dist)
		trem := 1 - depth*0.3*(lfo*0.5+0.5)
		line[pos] = v
		buf[i] = (v*(1-mix) + wet*mix) * trem
		pos = (pos + 1) % size
	}
}

// grain is one scheduled read of the granular delay line.
type grain struct {
	start int
	len   int
	dist  float64
}

func grainSchedule(n int, e *spec.Effect, sr float64, r *rng.RNG) []grain {
	grainLen := int(orDefault(e.GrainSizeMS, 60) / 1000 * sr)
	if grainLen < 8 {
		grainLen = 8
	}
	base := e.TimeMS / 1000 * sr
	interval := grainLen / 2

	var gs []grain
	for start := 0; start < n; start += interval {
		dist := base * (1 + r.Bipolar()*clampF(e.Scatter, 0, 1))
		if dist < 1 {
			dist = 1
		}
		gs = append(gs, grain{start: start, len: grainLen, dist: dist})
	}
	return gs
}

func granularDelay(buf []float64, e *spec.Effect, sr float64, schedule []grain) {
	mix := orDefault(e.Mix, 0.5)
	maxDist := e.TimeMS / 1000 * sr * 2
	size := int(maxDist) + len(buf)/4 + 4
	line := make([]float64, size)
	wet := make([]float64, len(buf))

	pos := 0
	gi := 0
	active := []grain{}
	for i, v := range buf {
		for gi < len(schedule) && schedule[gi].start == i {
			active = append(active, schedule[gi])
			gi++
		}
		var w float64
		keep := active[:0]
		for _, g := range active {
			k := i - g.start
			if k < g.len {
				t := float64(k) / float64(g.len)
				win := 0.5 - 0.5*math.Cos(2*math.Pi*t)
				d := g.dist
				if d >= float64(size-1) {
					d = float64(size - 2)
				}
				w += readFrac(line, pos, d) * win
				keep = append(keep, g)
			}
		}
		active = keep
		wet[i] = w
		line[pos] = v + w*e.Feedback
		pos = (pos + 1) % size
	}
	for i := range buf {
		buf[i] = buf[i]*(1-mix) + wet[i]*mix
	}
}
