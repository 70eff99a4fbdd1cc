package lint

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/opd-ai/speccade/pkg/audio"
	"github.com/opd-ai/speccade/pkg/spec"
)

// CheckWAV runs the audio rule set over encoded WAV bytes. The originating
// spec params are optional; rules that need them are skipped without one.
func CheckWAV(data []byte, params *spec.AudioParams, opts *Options) ([]Issue, error) {
	rate, channels, bits, pcm, err := audio.DecodeWAVData(data)
	if err != nil {
		return nil, err
	}
	if bits != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", bits)
	}

	// Decode to mono floats for analysis; stereo folds to mid.
	frames := len(pcm) / 2 / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var acc float64
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			v := int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8)
			acc += float64(v) / 32767.0
		}
		samples[i] = acc / float64(channels)
	}

	issues := checkAudioSamples(samples, rate, channels, params)
	return filter(issues, opts), nil
}

// CheckSamples runs the audio rules over a float-domain buffer, before any
// clip guard or quantization. The pipeline lints its own renders this way
// so true over-full-scale peaks are observable.
func CheckSamples(samples []float64, rate, channels int, params *spec.AudioParams, opts *Options) []Issue {
	return filter(checkAudioSamples(samples, rate, channels, params), opts)
}

func checkAudioSamples(samples []float64, rate, channels int, params *spec.AudioParams) []Issue {
	var issues []Issue
	n := len(samples)
	if n == 0 {
		return []Issue{{RuleID: "audio/silence", Severity: SeverityError, Message: "artifact contains no samples"}}
	}

	peak := 0.0
	for _, v := range samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	mean := stat.Mean(samples, nil)

	var sumSq float64
	for _, v := range samples {
		sumSq += v * v
	}
	rms := math.Sqrt(sumSq / float64(n))
	rmsDB := -120.0
	if rms > 0 {
		rmsDB = 20 * math.Log10(rms)
	}

	// audio/clipping: any sample beyond full scale. Decoded int16 can only
	// reach full scale, so flat-topped runs pinned there count as clipping
	// too.
	clipped := peak > 1.0
	if !clipped && peak >= 0.999 {
		pinned := 0
		for _, v := range samples {
			if math.Abs(v) >= 0.999 {
				pinned++
			}
		}
		clipped = pinned > n/1000+2
	}
	if clipped {
		issues = append(issues, Issue{
			RuleID: "audio/clipping", Severity: SeverityError,
			Message:    fmt.Sprintf("peak sample %.3f exceeds full scale", peak),
			Suggestion: "reduce layer amplitude or enable normalize",
			FixDelta:   round3(1.0 / peak),
			FixParam:   "amplitude",
		})
	}

	// audio/dc-offset.
	if math.Abs(mean) > 0.01 {
		issues = append(issues, Issue{
			RuleID: "audio/dc-offset", Severity: SeverityError,
			Message:    fmt.Sprintf("mean sample offset %.4f exceeds 0.01", mean),
			Suggestion: "add a highpass filter around 20 Hz",
		})
	}

	// audio/silence.
	if peak < 0.001 {
		issues = append(issues, Issue{
			RuleID: "audio/silence", Severity: SeverityError,
			Message:    fmt.Sprintf("peak %.5f is effectively silent", peak),
			Suggestion: "check layer amplitudes and envelope",
		})
		return issues // level and spectral rules are meaningless on silence
	}

	// audio/too-quiet and audio/too-loud on RMS.
	if rmsDB < -30 {
		issues = append(issues, Issue{
			RuleID: "audio/too-quiet", Severity: SeverityWarning,
			Message:    fmt.Sprintf("RMS %.1f dBFS below -30 dBFS", rmsDB),
			Suggestion: "raise amplitude or enable normalize",
			FixParam:   "amplitude",
		})
	} else if rmsDB >= -6 {
		issues = append(issues, Issue{
			RuleID: "audio/too-loud", Severity: SeverityWarning,
			Message:    fmt.Sprintf("RMS %.1f dBFS at or above -6 dBFS", rmsDB),
			Suggestion: "lower amplitude to leave headroom",
			FixParam:   "amplitude",
		})
	}

	issues = append(issues, spectralRules(samples, rate)...)

	// audio/abrupt-end: peak level in the final 10 ms tail.
	tail := rate / 100
	if tail > n {
		tail = n
	}
	tailPeak := 0.0
	for _, v := range samples[n-tail:] {
		if a := math.Abs(v); a > tailPeak {
			tailPeak = a
		}
	}
	if tailPeak > 0.1 {
		issues = append(issues, Issue{
			RuleID: "audio/abrupt-end", Severity: SeverityWarning,
			Message:    fmt.Sprintf("tail peak %.3f suggests a truncated decay", tailPeak),
			Suggestion: "lengthen the release or add a fade-out",
			FixParam:   "release",
		})
	}

	// Spec-dependent rules.
	if params != nil {
		hasEffects := len(params.MasterEffects) > 0
		for i := range params.Layers {
			if len(params.Layers[i].Effects) > 0 {
				hasEffects = true
			}
		}
		if !hasEffects {
			issues = append(issues, Issue{
				RuleID: "audio/no-effects", Severity: SeverityInfo,
				Message:    "no effects configured on any layer or the master bus",
				Suggestion: "a touch of reverb or delay often helps game feel",
			})
		}
		if channels == 2 && params.DurationSeconds < 2.0 {
			issues = append(issues, Issue{
				RuleID: "audio/mono-recommended", Severity: SeverityInfo,
				Message:    "short stereo SFX rarely benefit from stereo",
				Suggestion: "drop pan to 0 for a mono artifact",
			})
		}
	}

	return issues
}

// spectralRules measures band energy via FFT: harsh highs above 8 kHz and
// muddy lows in 200-500 Hz.
func spectralRules(samples []float64, rate int) []Issue {
	var issues []Issue
	n := len(samples)
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, samples)

	var total, high, low float64
	for k := 1; k < len(coeffs); k++ {
		freq := fft.Freq(k) * float64(rate)
		e := cmplx.Abs(coeffs[k])
		e *= e
		total += e
		if freq > 8000 {
			high += e
		}
		if freq >= 200 && freq <= 500 {
			low += e
		}
	}
	if total <= 0 {
		return nil
	}

	if high/total > 0.5 {
		issues = append(issues, Issue{
			RuleID: "audio/harsh-highs", Severity: SeverityWarning,
			Message:    fmt.Sprintf("%.0f%% of energy above 8 kHz", high/total*100),
			Suggestion: "add a lowpass filter or reduce bright partials",
			FixParam:   "filter.cutoff",
		})
	}
	if low/total > 0.6 {
		issues = append(issues, Issue{
			RuleID: "audio/muddy-lows", Severity: SeverityWarning,
			Message:    fmt.Sprintf("%.0f%% of energy in 200-500 Hz", low/total*100),
			Suggestion: "carve the low mids with a parametric EQ cut",
			FixTemplate: `{"type":"parametric_eq","bands":[{"type":"peak","freq":350,"gain_db":-6,"q":1.2}]}`,
		})
	}
	return issues
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
