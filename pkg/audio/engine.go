package audio

import (
	"fmt"
	"math"

	"github.com/opd-ai/speccade/pkg/canon"
	"github.com/opd-ai/speccade/pkg/rng"
	"github.com/opd-ai/speccade/pkg/spec"
)

// Render produces the final mix for an audio_v1 recipe. Layers are rendered
// and summed strictly in declared order; every random draw comes from a
// per-layer PCG32 stream or from the master-effects stream derived from the
// seed, so the output bytes are a pure function of (params, seed).
func Render(params *spec.AudioParams, seed uint32) (*Buffer, error) {
	n := int(params.DurationSeconds * float64(params.SampleRate))
	if n <= 0 {
		return nil, fmt.Errorf("non-positive sample count")
	}
	sr := float64(params.SampleRate)

	stereo := isStereo(params)
	mixL := make([]float64, n)
	mixR := make([]float64, n)

	for li := range params.Layers {
		layer := &params.Layers[li]
		r := rng.New(canon.DeriveLayerSeed(seed, uint32(li)))

		var mod *modSource
		if layer.LFO != nil {
			mod = renderLFO(layer.LFO, r, sr, n)
		}

		mono := synthesize(&layer.Synthesis, r, params.SampleRate, n, mod)
		applyEnvelope(mono, &layer.Envelope, params.SampleRate)

		if layer.Filter != nil {
			applyFilter(mono, layer.Filter, sr, mod)
		}

		if mod != nil && mod.target == "amplitude" {
			for i := range mono {
				g := 1 + mod.data[i]
				if g < 0 {
					g = 0
				}
				mono[i] *= g
			}
		}

		if len(layer.Effects) > 0 {
			applyEffects([][]float64{mono}, layer.Effects, sr, r, mod)
		}

		// Equal-power pan into the mix bus.
		for i, v := range mono {
			pan := layer.Pan
			if mod != nil && mod.target == "pan" {
				pan = clampF(pan+mod.data[i], -1, 1)
			}
			angle := (pan + 1) * math.Pi / 4
			s := v * layer.Amplitude
			mixL[i] += s * math.Cos(angle)
			mixR[i] += s * math.Sin(angle)
		}
	}

	if len(params.MasterEffects) > 0 {
		r := rng.New(canon.DeriveVariantSeed(seed, "master_effects"))
		applyEffects([][]float64{mixL, mixR}, params.MasterEffects, sr, r, nil)
	}

	var chans [][]float64
	if stereo {
		chans = [][]float64{mixL, mixR}
	} else {
		// Center-panned layers carry cos(pi/4) on each side; undo the pan
		// law so a single full-scale layer reaches full scale in mono.
		mono := make([]float64, n)
		scale := 1 / math.Cos(math.Pi/4)
		for i := range mono {
			mono[i] = mixL[i] * scale
		}
		chans = [][]float64{mono}
	}

	if params.Normalize {
		normalizeToPeak(chans, params.PeakDB)
	} else {
		clipGuard(chans)
	}

	if params.Limiter != nil {
		applyMasterLimiter(chans, params.Limiter, sr)
	}

	if !stereo {
		return &Buffer{SampleRate: params.SampleRate, Channels: 1, Samples: chans[0]}, nil
	}

	out := make([]float64, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = chans[0][i]
		out[i*2+1] = chans[1][i]
	}
	return &Buffer{SampleRate: params.SampleRate, Channels: 2, Samples: out}, nil
}

// isStereo decides the channel count: any non-center pan, pan modulation,
// or stereo master effect makes the output stereo.
func isStereo(params *spec.AudioParams) bool {
	for i := range params.Layers {
		l := &params.Layers[i]
		if l.Pan != 0 {
			return true
		}
		if l.LFO != nil && l.LFO.Target == "pan" {
			return true
		}
	}
	for i := range params.MasterEffects {
		if params.MasterEffects[i].Type == "stereo_widener" {
			return true
		}
	}
	return false
}

// normalizeToPeak scales the mix so the absolute peak across all channels
// hits the target. A 0 dBFS target lands exactly on full scale; the int16
// clip guard in EncodeWAV catches the rounding edge.
func normalizeToPeak(chans [][]float64, peakDB float64) {
	target := math.Pow(10, peakDB/20)
	peak := busPeak(chans)
	if peak == 0 {
		return
	}
	scale := target / peak
	for _, ch := range chans {
		for i := range ch {
			ch[i] *= scale
		}
	}
}

// clipGuard scales down only when the mix exceeds full scale.
func clipGuard(chans [][]float64) {
	peak := busPeak(chans)
	if peak > 1 {
		scale := 1 / peak
		for _, ch := range chans {
			for i := range ch {
				ch[i] *= scale
			}
		}
	}
}

func busPeak(chans [][]float64) float64 {
	peak := 0.0
	for _, ch := range chans {
		for _, v := range ch {
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
	}
	return peak
}

// applyMasterLimiter enforces the true-peak ceiling and the optional
// loudness target on the final bus.
func applyMasterLimiter(chans [][]float64, lim *spec.Limiter, sr float64) {
	if lim.LUFSTarget != nil {
		// RMS-based loudness correction toward the target.
		var sum float64
		var count int
		for _, ch := range chans {
			for _, v := range ch {
				sum += v * v
			}
			count += len(ch)
		}
		rms := math.Sqrt(sum / float64(count))
		if rms > 0 {
			current := 20 * math.Log10(rms)
			gain := math.Pow(10, (*lim.LUFSTarget-current)/20)
			for _, ch := range chans {
				for i := range ch {
					ch[i] *= gain
				}
			}
		}
	}

	for _, ch := range chans {
		ceiling := spec.Effect{Type: "limiter", CeilingDB: lim.TruePeakDB, ReleaseMS: 50}
		limitBuf(ch, &ceiling, sr)
	}
}
