package artifact

import (
	"testing"

	"github.com/opd-ai/speccade/pkg/audio"
)

func wavBytes(fill float64) []byte {
	buf := &audio.Buffer{SampleRate: 22050, Channels: 1, Samples: make([]float64, 100)}
	for i := range buf.Samples {
		buf.Samples[i] = fill
	}
	return audio.EncodeWAV(buf)
}

func TestHashBytesWAVDataOnly(t *testing.T) {
	a := wavBytes(0.5)
	b := wavBytes(0.5)

	ha, err := HashBytes("wav", a)
	if err != nil {
		t.Fatalf("HashBytes: %v", err)
	}
	hb, _ := HashBytes("wav", b)
	if ha != hb {
		t.Error("identical PCM hashes differ")
	}

	c := wavBytes(0.25)
	hc, _ := HashBytes("wav", c)
	if ha == hc {
		t.Error("different PCM produced the same hash")
	}
}

func TestHashBytesIgnoresListChunk(t *testing.T) {
	base := wavBytes(0.5)

	// Append a LIST/INFO chunk; the data-chunk hash must not change.
	withList := append(append([]byte(nil), base...),
		'L', 'I', 'S', 'T', 8, 0, 0, 0, 'I', 'N', 'F', 'O', 0, 0, 0, 0)
	// Patch the RIFF size field.
	total := len(withList) - 8
	withList[4] = byte(total)
	withList[5] = byte(total >> 8)
	withList[6] = byte(total >> 16)
	withList[7] = byte(total >> 24)

	ha, err := HashBytes("wav", base)
	if err != nil {
		t.Fatalf("HashBytes: %v", err)
	}
	hb, err := HashBytes("wav", withList)
	if err != nil {
		t.Fatalf("HashBytes with LIST: %v", err)
	}
	if ha != hb {
		t.Error("LIST chunk changed the WAV hash")
	}
}

func TestHashBytesWholeFileFormats(t *testing.T) {
	data := []byte("arbitrary module bytes")
	for _, format := range []string{"xm", "it", "png"} {
		h, err := HashBytes(format, data)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if len(h) != 64 {
			t.Errorf("%s hash length = %d", format, len(h))
		}
	}
}

func TestHashBytesUnknownFormat(t *testing.T) {
	if _, err := HashBytes("tga", []byte{1}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestMetricsEqual(t *testing.T) {
	base := GLBMetrics{
		TriangleCount: 100, UVIslandCount: 4, BoneCount: 12,
		MaterialSlotCount: 2, AnimationFrameCount: 30,
		BBoxMin: [3]float64{-1, -1, -1}, BBoxMax: [3]float64{1, 1, 1},
		AnimationDuration: 1.0,
	}

	within := base
	within.BBoxMax[0] += 0.0005
	if !MetricsEqual(&base, &within) {
		t.Error("bbox drift within tolerance should compare equal")
	}

	outside := base
	outside.BBoxMax[0] += 0.01
	if MetricsEqual(&base, &outside) {
		t.Error("bbox drift outside tolerance should compare unequal")
	}

	countDiff := base
	countDiff.TriangleCount++
	if MetricsEqual(&base, &countDiff) {
		t.Error("count metrics must compare exactly")
	}
}

func TestFormatFor(t *testing.T) {
	if FormatFor("sfx/laser.WAV") != "wav" {
		t.Error("extension should lowercase")
	}
	if FormatFor("song.xm") != "xm" {
		t.Error("xm extension")
	}
}
