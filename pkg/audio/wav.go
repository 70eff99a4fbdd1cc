// Package audio renders layered synthesis specs to deterministic PCM.
package audio

import (
	"bytes"
	"fmt"
	"io"
	"math"
)

// Buffer is rendered audio: float64 samples, interleaved when stereo.
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float64
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	return len(b.Samples) / b.Channels
}

// EncodeWAV writes 16-bit integer PCM with a fixed 44-byte header: no
// timestamps, no INFO/LIST chunks. Comparison tools hash the data chunk
// bytes only, but the header is deterministic too.
func EncodeWAV(b *Buffer) []byte {
	frames := b.Frames()
	dataBytes := frames * b.Channels * 2

	buf := &bytes.Buffer{}
	buf.Write([]byte("RIFF"))
	writeUint32(buf, uint32(36+dataBytes))
	buf.Write([]byte("WAVE"))
	buf.Write([]byte("fmt "))
	writeUint32(buf, 16)
	writeUint16(buf, 1) // integer PCM
	writeUint16(buf, uint16(b.Channels))
	writeUint32(buf, uint32(b.SampleRate))
	writeUint32(buf, uint32(b.SampleRate*b.Channels*2))
	writeUint16(buf, uint16(b.Channels*2))
	writeUint16(buf, 16)
	buf.Write([]byte("data"))
	writeUint32(buf, uint32(dataBytes))

	for _, v := range b.Samples {
		writeInt16(buf, quantize16(v))
	}
	return buf.Bytes()
}

// quantize16 converts a float sample to int16 with the clip guard: values
// beyond full scale clamp instead of wrapping.
func quantize16(v float64) int16 {
	s := math.Floor(v*32767.0 + 0.5)
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}

func writeUint32(w io.Writer, v uint32) {
	w.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func writeUint16(w io.Writer, v uint16) {
	w.Write([]byte{byte(v), byte(v >> 8)})
}

func writeInt16(w io.Writer, v int16) {
	w.Write([]byte{byte(v), byte(v >> 8)})
}

// DecodeWAVData parses a WAV file and returns its format fields and the raw
// bytes of the data chunk, skipping any other chunk.
func DecodeWAVData(data []byte) (sampleRate, channels, bitsPerSample int, pcm []byte, err error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return 0, 0, 0, nil, fmt.Errorf("not a RIFF/WAVE file")
	}
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(uint32(data[pos+4]) | uint32(data[pos+5])<<8 | uint32(data[pos+6])<<16 | uint32(data[pos+7])<<24)
		body := pos + 8
		if body+size > len(data) {
			return 0, 0, 0, nil, fmt.Errorf("truncated chunk %q", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return 0, 0, 0, nil, fmt.Errorf("short fmt chunk")
			}
			channels = int(uint16(data[body+2]) | uint16(data[body+3])<<8)
			sampleRate = int(uint32(data[body+4]) | uint32(data[body+5])<<8 | uint32(data[body+6])<<16 | uint32(data[body+7])<<24)
			bitsPerSample = int(uint16(data[body+14]) | uint16(data[body+15])<<8)
		case "data":
			pcm = data[body : body+size]
		}
		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}
	if pcm == nil {
		return 0, 0, 0, nil, fmt.Errorf("no data chunk")
	}
	return sampleRate, channels, bitsPerSample, pcm, nil
}
