package music

import (
	"bytes"
	"fmt"

	"github.com/opd-ai/speccade/pkg/spec"
)

// EmitXM writes a FastTracker II module. Output bytes are a pure function
// of (params, samples): no timestamps, fixed tracker identification.
func EmitXM(params *spec.TrackerParams, samples []*Sample, title string) ([]byte, error) {
	if params.Format != spec.FormatXM {
		return nil, fmt.Errorf("format is %q, not xm", params.Format)
	}
	if params.Channels > spec.XMMaxChannels {
		return nil, fmt.Errorf("%d channels exceeds XM limit %d", params.Channels, spec.XMMaxChannels)
	}

	names := orderedPatternNames(params)
	indices := patternIndexMap(names)

	buf := &bytes.Buffer{}
	buf.WriteString("Extended Module: ")
	writePadded(buf, title, 20)
	buf.WriteByte(0x1A)
	writePadded(buf, "FastTracker v2.00", 20)
	writeU16(buf, 0x0104)

	writeU32(buf, 276) // header size from this field
	writeU16(buf, uint16(len(params.Arrangement)))
	writeU16(buf, 0) // restart position
	writeU16(buf, uint16(params.Channels))
	writeU16(buf, uint16(len(names)))
	writeU16(buf, uint16(len(params.Instruments)))
	writeU16(buf, 1) // linear frequency table
	writeU16(buf, uint16(params.Speed))
	writeU16(buf, uint16(params.BPM))

	var order [256]byte
	for i, name := range params.Arrangement {
		if i >= 256 {
			break
		}
		order[i] = byte(indices[name])
	}
	buf.Write(order[:])

	for _, name := range names {
		pat := params.Patterns[name]
		if err := writeXMPattern(buf, &pat, params.Channels); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", name, err)
		}
	}

	for i := range params.Instruments {
		writeXMInstrument(buf, &params.Instruments[i], samples[i])
	}

	return buf.Bytes(), nil
}

func writeXMPattern(buf *bytes.Buffer, pat *spec.Pattern, channels int) error {
	var packed bytes.Buffer
	cursor := newRowCursor(pat, channels, spec.FormatXM)
	for {
		cells, err := cursor.Next()
		if err != nil {
			return err
		}
		if cells == nil {
			break
		}
		for _, c := range cells {
			writeXMCell(&packed, &c)
		}
	}

	writeU32(buf, 9) // pattern header length
	buf.WriteByte(0) // packing type
	writeU16(buf, uint16(pat.Rows))
	writeU16(buf, uint16(packed.Len()))
	buf.Write(packed.Bytes())
	return nil
}

// writeXMCell emits the 0x80-flagged packed cell encoding.
func writeXMCell(buf *bytes.Buffer, c *packedCell) {
	var note, inst, vol byte
	var flags byte

	switch {
	case c.note == -2:
		note, flags = 97, flags|0x01 // key off
	case c.note >= 0:
		n := c.note + 1
		if n > 96 {
			n = 96
		}
		note, flags = byte(n), flags|0x01
	}
	if c.inst > 0 {
		inst, flags = byte(c.inst), flags|0x02
	}
	if c.vol >= 0 {
		// Volume column 0x10..0x50 maps volumes 0..64.
		vol, flags = byte(0x10+c.vol), flags|0x04
	}
	if c.hasFx {
		flags |= 0x08 | 0x10
	}

	if flags == 0x01|0x02|0x04|0x08|0x10 {
		// All fields present: write them raw without the flag byte.
		buf.WriteByte(note)
		buf.WriteByte(inst)
		buf.WriteByte(vol)
		buf.WriteByte(c.effect)
		buf.WriteByte(c.param)
		return
	}

	buf.WriteByte(0x80 | flags)
	if flags&0x01 != 0 {
		buf.WriteByte(note)
	}
	if flags&0x02 != 0 {
		buf.WriteByte(inst)
	}
	if flags&0x04 != 0 {
		buf.WriteByte(vol)
	}
	if flags&0x08 != 0 {
		buf.WriteByte(c.effect)
	}
	if flags&0x10 != 0 {
		buf.WriteByte(c.param)
	}
}

func writeXMInstrument(buf *bytes.Buffer, inst *spec.Instrument, s *Sample) {
	// Instrument header with one sample.
	writeU32(buf, 263)
	writePadded(buf, inst.Name, 22)
	buf.WriteByte(0) // type
	writeU16(buf, 1) // sample count

	writeU32(buf, 40)         // sample header size
	buf.Write(make([]byte, 96)) // keymap: every note uses sample 0

	// Volume and panning envelopes: disabled, zeroed points.
	buf.Write(make([]byte, 48))
	buf.Write(make([]byte, 48))
	buf.WriteByte(0) // volume point count
	buf.WriteByte(0) // panning point count
	buf.WriteByte(0) // vol sustain
	buf.WriteByte(0) // vol loop start
	buf.WriteByte(0) // vol loop end
	buf.WriteByte(0) // pan sustain
	buf.WriteByte(0) // pan loop start
	buf.WriteByte(0) // pan loop end
	buf.WriteByte(0) // vol type
	buf.WriteByte(0) // pan type
	buf.WriteByte(0) // vibrato type
	buf.WriteByte(0) // vibrato sweep
	buf.WriteByte(0) // vibrato depth
	buf.WriteByte(0) // vibrato rate
	writeU16(buf, 0) // volume fadeout
	buf.Write(make([]byte, 22)) // reserved

	// Sample header (40 bytes). Lengths in bytes, 16-bit data.
	byteLen := len(s.Data) * 2
	loopStart := s.LoopStart * 2
	loopLen := 0
	var loopFlag byte
	if s.LoopMode != LoopNone {
		loopLen = (s.LoopEnd - s.LoopStart) * 2
		loopFlag = byte(s.LoopMode) // 1 forward, 2 ping-pong
	}
	writeU32(buf, uint32(byteLen))
	writeU32(buf, uint32(loopStart))
	writeU32(buf, uint32(loopLen))
	buf.WriteByte(byte(s.Volume))
	buf.WriteByte(byte(int8(s.Finetune)))
	buf.WriteByte(loopFlag | 0x10) // 16-bit flag
	buf.WriteByte(128)             // center panning
	buf.WriteByte(byte(int8(s.RelativeNote)))
	buf.WriteByte(0) // reserved
	writePadded(buf, s.Name, 22)

	// Delta-encoded 16-bit sample data.
	var prev int16
	for _, v := range s.Data {
		delta := v - prev
		writeU16(buf, uint16(delta))
		prev = v
	}
}

func writePadded(buf *bytes.Buffer, s string, width int) {
	b := []byte(s)
	if len(b) > width {
		b = b[:width]
	}
	buf.Write(b)
	for i := len(b); i < width; i++ {
		buf.WriteByte(0)
	}
}

func writeU16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}

func writeU32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 24))
}
