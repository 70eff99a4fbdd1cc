package music

import (
	"bytes"
	"fmt"

	"github.com/opd-ai/speccade/pkg/spec"
)

// EmitIT writes an Impulse Tracker module (format 0x0214, sample mode with
// instruments). Offsets are computed in a layout pass before writing, so
// the emitted bytes are stable.
func EmitIT(params *spec.TrackerParams, samples []*Sample, title string) ([]byte, error) {
	if params.Format != spec.FormatIT {
		return nil, fmt.Errorf("format is %q, not it", params.Format)
	}
	if params.Channels > spec.ITMaxChannels {
		return nil, fmt.Errorf("%d channels exceeds IT limit %d", params.Channels, spec.ITMaxChannels)
	}

	names := orderedPatternNames(params)
	indices := patternIndexMap(names)

	ordNum := len(params.Arrangement) + 1 // terminated with 0xFF
	insNum := len(params.Instruments)
	smpNum := len(samples)
	patNum := len(names)

	// Pre-render pattern bodies for the layout pass.
	patterns := make([][]byte, patNum)
	for i, name := range names {
		pat := params.Patterns[name]
		body, err := packITPattern(&pat, params.Channels)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", name, err)
		}
		patterns[i] = body
	}

	const headerSize = 192
	offset := headerSize + ordNum + 4*(insNum+smpNum+patNum)

	insOffsets := make([]uint32, insNum)
	for i := range insOffsets {
		insOffsets[i] = uint32(offset)
		offset += itInstrumentSize
	}
	smpOffsets := make([]uint32, smpNum)
	smpDataOffsets := make([]uint32, smpNum)
	for i := range smpOffsets {
		smpOffsets[i] = uint32(offset)
		offset += itSampleHeaderSize
	}
	patOffsets := make([]uint32, patNum)
	for i := range patOffsets {
		patOffsets[i] = uint32(offset)
		offset += 8 + len(patterns[i])
	}
	for i, s := range samples {
		smpDataOffsets[i] = uint32(offset)
		offset += len(s.Data) * 2
	}

	buf := &bytes.Buffer{}
	buf.WriteString("IMPM")
	writePadded(buf, title, 26)
	writeU16(buf, 0x1004) // pattern row highlight
	writeU16(buf, uint16(ordNum))
	writeU16(buf, uint16(insNum))
	writeU16(buf, uint16(smpNum))
	writeU16(buf, uint16(patNum))
	writeU16(buf, 0x0214) // created with
	writeU16(buf, 0x0200) // compatible with
	writeU16(buf, 0x0004|0x0001) // stereo, use instruments
	writeU16(buf, 0)             // special
	gv := spec.ITMaxGlobalVolume
	if params.GlobalVolume != nil {
		gv = *params.GlobalVolume
	}
	buf.WriteByte(byte(gv))
	buf.WriteByte(48)  // mixing volume
	buf.WriteByte(byte(params.Speed))
	buf.WriteByte(byte(params.BPM))
	buf.WriteByte(128) // stereo separation
	buf.WriteByte(0)   // pitch wheel depth
	writeU16(buf, 0)   // message length
	writeU32(buf, 0)   // message offset
	writeU32(buf, 0)   // reserved

	// Channel pan (32 = center, 128+ disabled past the channel count) and
	// channel volume.
	for c := 0; c < 64; c++ {
		if c < params.Channels {
			buf.WriteByte(32)
		} else {
			buf.WriteByte(128 + 32)
		}
	}
	for c := 0; c < 64; c++ {
		buf.WriteByte(64)
	}

	for _, name := range params.Arrangement {
		buf.WriteByte(byte(indices[name]))
	}
	buf.WriteByte(0xFF)

	for _, off := range insOffsets {
		writeU32(buf, off)
	}
	for _, off := range smpOffsets {
		writeU32(buf, off)
	}
	for _, off := range patOffsets {
		writeU32(buf, off)
	}

	for i := range params.Instruments {
		writeITInstrument(buf, &params.Instruments[i], i)
	}
	for i, s := range samples {
		writeITSampleHeader(buf, s, smpDataOffsets[i])
	}
	for i := range patterns {
		pat := params.Patterns[names[i]]
		writeU16(buf, uint16(len(patterns[i])))
		writeU16(buf, uint16(pat.Rows))
		writeU32(buf, 0) // reserved
		buf.Write(patterns[i])
	}
	for _, s := range samples {
		for _, v := range s.Data {
			writeU16(buf, uint16(v))
		}
	}

	return buf.Bytes(), nil
}

const (
	itInstrumentSize   = 554
	itSampleHeaderSize = 80
)

// writeITInstrument emits one 0x0214-format instrument pointing every note
// at its sample, envelopes disabled, NNA cut.
func writeITInstrument(buf *bytes.Buffer, inst *spec.Instrument, index int) {
	start := buf.Len()
	buf.WriteString("IMPI")
	writePadded(buf, "", 12) // DOS filename
	buf.WriteByte(0)
	buf.WriteByte(0)   // NNA: note cut
	buf.WriteByte(0)   // duplicate check type
	buf.WriteByte(0)   // duplicate check action
	writeU16(buf, 0)   // fadeout
	buf.WriteByte(0)   // pitch-pan separation
	buf.WriteByte(60)  // pitch-pan center (C-5)
	buf.WriteByte(128) // global volume
	buf.WriteByte(32)  // default pan (off bit clear, center)
	buf.WriteByte(0)   // random volume
	buf.WriteByte(0)   // random panning
	writeU16(buf, 0x0214)
	buf.WriteByte(1) // number of samples
	buf.WriteByte(0)
	writePadded(buf, inst.Name, 26)
	buf.WriteByte(0) // initial filter cutoff
	buf.WriteByte(0) // initial filter resonance
	buf.WriteByte(0) // midi channel
	buf.WriteByte(0) // midi program
	writeU16(buf, 0) // midi bank

	// Note-sample table: each note maps to itself and sample index+1.
	for n := 0; n < 120; n++ {
		buf.WriteByte(byte(n))
		buf.WriteByte(byte(index + 1))
	}

	// Three envelopes (volume, panning, pitch), disabled: flags, node
	// count, loop/sustain bounds, then 25 3-byte nodes plus a pad byte.
	for e := 0; e < 3; e++ {
		buf.WriteByte(0) // flags: disabled
		buf.WriteByte(0) // node count
		buf.WriteByte(0) // loop begin
		buf.WriteByte(0) // loop end
		buf.WriteByte(0) // sustain begin
		buf.WriteByte(0) // sustain end
		buf.Write(make([]byte, 75))
		buf.WriteByte(0)
	}

	// Pad to the fixed instrument size.
	for buf.Len()-start < itInstrumentSize {
		buf.WriteByte(0)
	}
}

func writeITSampleHeader(buf *bytes.Buffer, s *Sample, dataOffset uint32) {
	buf.WriteString("IMPS")
	writePadded(buf, "", 12) // DOS filename
	buf.WriteByte(0)
	buf.WriteByte(64) // global volume
	flags := byte(0x01 | 0x02) // sample associated, 16-bit
	if s.LoopMode == LoopForward {
		flags |= 0x10
	}
	if s.LoopMode == LoopPingPong {
		flags |= 0x10 | 0x40
	}
	buf.WriteByte(flags)
	buf.WriteByte(byte(s.Volume))
	writePadded(buf, s.Name, 26)
	buf.WriteByte(0x01) // signed samples
	buf.WriteByte(32)   // default pan (disabled)
	writeU32(buf, uint32(len(s.Data)))
	writeU32(buf, uint32(s.LoopStart))
	writeU32(buf, uint32(s.LoopEnd))
	writeU32(buf, uint32(s.C5Speed))
	writeU32(buf, 0) // sustain loop begin
	writeU32(buf, 0) // sustain loop end
	writeU32(buf, dataOffset)
	buf.WriteByte(0) // vibrato speed
	buf.WriteByte(0) // vibrato depth
	buf.WriteByte(0) // vibrato rate
	buf.WriteByte(0) // vibrato type
}

// packITPattern encodes rows with the IT channel-mask scheme.
func packITPattern(pat *spec.Pattern, channels int) ([]byte, error) {
	var out bytes.Buffer
	cursor := newRowCursor(pat, channels, spec.FormatIT)
	for {
		cells, err := cursor.Next()
		if err != nil {
			return nil, err
		}
		if cells == nil {
			break
		}
		for ch, c := range cells {
			var mask byte
			if c.note >= 0 || c.note == -2 {
				mask |= 1
			}
			if c.inst > 0 {
				mask |= 2
			}
			if c.vol >= 0 {
				mask |= 4
			}
			if c.hasFx {
				mask |= 8
			}
			if mask == 0 {
				continue
			}
			out.WriteByte(byte(ch+1) | 0x80)
			out.WriteByte(mask)
			if mask&1 != 0 {
				if c.note == -2 {
					out.WriteByte(255) // note off
				} else {
					n := c.note
					if n > 119 {
						n = 119
					}
					out.WriteByte(byte(n))
				}
			}
			if mask&2 != 0 {
				out.WriteByte(byte(c.inst))
			}
			if mask&4 != 0 {
				out.WriteByte(byte(c.vol))
			}
			if mask&8 != 0 {
				out.WriteByte(c.effect)
				out.WriteByte(c.param)
			}
		}
		out.WriteByte(0) // end of row
	}
	return out.Bytes(), nil
}
