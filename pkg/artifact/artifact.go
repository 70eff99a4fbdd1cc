// Package artifact hashes and compares generated artifacts format-aware:
// WAV comparison covers PCM data only, tracker modules and PNG hash whole
// files, and GLB compares structural metrics within tolerance.
package artifact

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/opd-ai/speccade/pkg/audio"
	"github.com/opd-ai/speccade/pkg/canon"
)

// GLBMetrics are the structural measurements compared for mesh artifacts.
type GLBMetrics struct {
	TriangleCount       int        `json:"triangle_count"`
	UVIslandCount       int        `json:"uv_island_count"`
	BoneCount           int        `json:"bone_count"`
	MaterialSlotCount   int        `json:"material_slot_count"`
	AnimationFrameCount int        `json:"animation_frame_count"`
	BBoxMin             [3]float64 `json:"bbox_min"`
	BBoxMax             [3]float64 `json:"bbox_max"`
	AnimationDuration   float64    `json:"animation_duration"`
}

// MetricTolerance is the allowed drift on continuous GLB metrics.
const MetricTolerance = 0.001

// FormatFor infers the artifact format from a path extension.
func FormatFor(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// HashFile hashes an artifact on disk format-aware.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return HashBytes(FormatFor(path), data)
}

// HashBytes hashes artifact bytes according to their format. WAV hashes
// the data-chunk contents only, so header-only differences (sizes of
// skipped LIST/INFO chunks) never change the hash.
func HashBytes(format string, data []byte) (string, error) {
	switch format {
	case "wav":
		_, _, _, pcm, err := audio.DecodeWAVData(data)
		if err != nil {
			return "", fmt.Errorf("wav: %w", err)
		}
		return canon.HashBytes(pcm), nil
	case "xm", "it", "png", "json":
		return canon.HashBytes(data), nil
	case "glb":
		return "", fmt.Errorf("glb artifacts compare by metrics, not hash")
	}
	return "", fmt.Errorf("unknown artifact format %q", format)
}

// Equal compares two artifacts of the same format.
func Equal(format string, a, b []byte) (bool, error) {
	if format == "glb" {
		return false, fmt.Errorf("glb comparison requires metrics records")
	}
	ha, err := HashBytes(format, a)
	if err != nil {
		return false, err
	}
	hb, err := HashBytes(format, b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

// MetricsEqual compares GLB metrics: exact on counts, tolerance on the
// bounding box and animation duration.
func MetricsEqual(a, b *GLBMetrics) bool {
	if a.TriangleCount != b.TriangleCount ||
		a.UVIslandCount != b.UVIslandCount ||
		a.BoneCount != b.BoneCount ||
		a.MaterialSlotCount != b.MaterialSlotCount ||
		a.AnimationFrameCount != b.AnimationFrameCount {
		return false
	}
	for i := 0; i < 3; i++ {
		if math.Abs(a.BBoxMin[i]-b.BBoxMin[i]) > MetricTolerance {
			return false
		}
		if math.Abs(a.BBoxMax[i]-b.BBoxMax[i]) > MetricTolerance {
			return false
		}
	}
	return math.Abs(a.AnimationDuration-b.AnimationDuration) <= MetricTolerance
}

// IsWAV reports whether bytes look like a RIFF/WAVE container.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}
