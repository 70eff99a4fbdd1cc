package music

import (
	"fmt"
	"math"

	"github.com/opd-ai/speccade/pkg/audio"
	"github.com/opd-ai/speccade/pkg/canon"
	"github.com/opd-ai/speccade/pkg/spec"
)

// Loop mode constants shared by both emitters.
const (
	LoopNone     = 0
	LoopForward  = 1
	LoopPingPong = 2
)

// Sample is one compiled instrument sample ready for emission.
type Sample struct {
	Name      string
	Data      []int16
	Rate      int
	BaseNote  int // note index the sample plays at its own rate
	Volume    int // 0..64
	LoopMode  int
	LoopStart int
	LoopEnd   int

	// C5Speed is the IT playback rate for C-5, rounded to the nearest
	// integer to minimize pitch deviation.
	C5Speed int

	// RelativeNote and Finetune are the XM pitch fields for the same
	// mapping.
	RelativeNote int
	Finetune     int

	// DeviationCents is the residual pitch error of the rounded fields,
	// reported per instrument.
	DeviationCents   float64
	ITDeviationCents float64
}

// SpecLoader resolves an instrument ref (a path to an external audio_v1
// spec) to its decoded params and seed. The pipeline supplies a filesystem
// loader; tests supply fakes.
type SpecLoader func(ref string) (*spec.AudioParams, uint32, error)

// CompileInstrument renders an instrument to PCM and derives its loop and
// pitch fields. The sample seed derives from the song seed and the
// instrument's index so re-ordering instruments changes nothing else.
func CompileInstrument(inst *spec.Instrument, songSeed uint32, index int, sampleRate int, load SpecLoader) (*Sample, error) {
	var params *spec.AudioParams
	seed := canon.DeriveVariantSpecSeed(songSeed, uint32(index), "instrument")

	if inst.Ref != "" {
		if load == nil {
			return nil, fmt.Errorf("instrument %q: ref %q needs a spec loader", inst.Name, inst.Ref)
		}
		p, refSeed, err := load(inst.Ref)
		if err != nil {
			return nil, fmt.Errorf("instrument %q: %w", inst.Name, err)
		}
		params = p
		seed = refSeed
	} else {
		env := spec.Envelope{Attack: 0.005, Decay: 0.05, Sustain: 0.8, Release: 0.05}
		if inst.Envelope != nil {
			env = *inst.Envelope
		}
		params = &spec.AudioParams{
			DurationSeconds: inst.DurationSeconds,
			SampleRate:      sampleRate,
			Layers: []spec.Layer{{
				Synthesis: *inst.Synthesis,
				Envelope:  env,
				Amplitude: 1.0,
			}},
		}
	}

	buf, err := audio.Render(params, seed)
	if err != nil {
		return nil, fmt.Errorf("instrument %q: %w", inst.Name, err)
	}

	// Fold to mono for the tracker sample.
	frames := buf.Frames()
	data := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var v float64
		if buf.Channels == 2 {
			v = (buf.Samples[i*2] + buf.Samples[i*2+1]) * 0.5
		} else {
			v = buf.Samples[i]
		}
		data[i] = quantizeSample(v)
	}

	s := &Sample{
		Name:   inst.Name,
		Data:   data,
		Rate:   buf.SampleRate,
		Volume: 64,
	}
	if inst.Volume > 0 {
		s.Volume = inst.Volume
	}

	baseNote := 60 // C-5 when unset
	if inst.BaseNote != "" {
		idx, err := ParseNote(inst.BaseNote)
		if err != nil {
			return nil, fmt.Errorf("instrument %q: %w", inst.Name, err)
		}
		baseNote = idx
	}
	s.BaseNote = baseNote

	if inst.Loop != nil && inst.Loop.Mode != "none" && inst.Loop.Mode != "" {
		s.LoopStart, s.LoopEnd = locateLoop(data)
		if inst.Loop.Mode == "pingpong" {
			s.LoopMode = LoopPingPong
		} else {
			s.LoopMode = LoopForward
		}
		if inst.Loop.CrossfadeMS > 0 {
			crossfadeLoop(data, s.LoopStart, s.LoopEnd, inst.Loop.CrossfadeMS, buf.SampleRate)
		}
	}

	derivePitchFields(s)
	return s, nil
}

func quantizeSample(v float64) int16 {
	q := math.Floor(v*32767.0 + 0.5)
	if q > 32767 {
		return 32767
	}
	if q < -32768 {
		return -32768
	}
	return int16(q)
}

// locateLoop picks loop points at rising zero crossings: the first after
// the midpoint and the last in the sample. Zero-crossing alignment keeps
// the loop click-free.
func locateLoop(data []int16) (start, end int) {
	n := len(data)
	if n < 4 {
		return 0, n
	}
	start = n / 2
	for i := n / 2; i < n-1; i++ {
		if data[i] <= 0 && data[i+1] > 0 {
			start = i + 1
			break
		}
	}
	end = n
	for i := n - 2; i > start; i-- {
		if data[i] <= 0 && data[i+1] > 0 {
			end = i + 1
			break
		}
	}
	if end <= start {
		return 0, n
	}
	return start, end
}

// crossfadeLoop blends the tail before the loop end with the region before
// the loop start so the seam is continuous.
func crossfadeLoop(data []int16, start, end int, fadeMS float64, rate int) {
	fade := int(fadeMS / 1000 * float64(rate))
	if fade > end-start {
		fade = end - start
	}
	if fade > start {
		fade = start
	}
	for i := 0; i < fade; i++ {
		t := float64(i) / float64(fade)
		a := float64(data[end-fade+i])
		b := float64(data[start-fade+i])
		data[end-fade+i] = int16(a*(1-t) + b*t)
	}
}

// derivePitchFields computes the XM relative-note/finetune pair and the IT
// c5_speed, rounding (not truncating) both, and records the residual error
// in cents.
func derivePitchFields(s *Sample) {
	// IT: the rate at which C-5 must play so the base note sounds right at
	// the sample's own rate.
	exactC5 := float64(s.Rate) * math.Pow(2, float64(60-s.BaseNote)/12)
	s.C5Speed = int(math.Round(exactC5))
	if s.C5Speed < 1 {
		s.C5Speed = 1
	}
	s.ITDeviationCents = 1200 * math.Log2(float64(s.C5Speed)/exactC5)

	// XM linear frequency table: note n with relative note R and finetune F
	// plays at 8363 * 2^((n + R - 49 + F/128) / 12) with C-4 = note 49
	// (1-based XM numbering). Solve for the base note landing on the sample
	// rate.
	x := 12*math.Log2(float64(s.Rate)/8363.0) + 48 - float64(s.BaseNote)
	rel := math.Round(x)
	ft := math.Round((x - rel) * 128)
	if ft > 127 {
		ft = 127
	}
	if ft < -128 {
		ft = -128
	}
	s.RelativeNote = int(rel)
	s.Finetune = int(ft)
	s.DeviationCents = (x - rel - ft/128) * 100
}

// StructuralMetrics are the counts guaranteed identical between XM and IT
// renders of the same song.
type StructuralMetrics struct {
	Instruments int            `json:"instruments"`
	Samples     int            `json:"samples"`
	Patterns    int            `json:"patterns"`
	OrderLength int            `json:"order_length"`
	Channels    int            `json:"channels"`
	BPM         int            `json:"bpm"`
	Speed       int            `json:"speed"`
	PatternRows map[string]int `json:"pattern_rows"`
}

// Metrics summarizes a song's structural invariants.
func Metrics(params *spec.TrackerParams) StructuralMetrics {
	rows := make(map[string]int, len(params.Patterns))
	for name, p := range params.Patterns {
		rows[name] = p.Rows
	}
	return StructuralMetrics{
		Instruments: len(params.Instruments),
		Samples:     len(params.Instruments),
		Patterns:    len(params.Patterns),
		OrderLength: len(params.Arrangement),
		Channels:    params.Channels,
		BPM:         params.BPM,
		Speed:       params.Speed,
		PatternRows: rows,
	}
}
