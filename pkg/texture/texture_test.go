package texture

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/opd-ai/speccade/pkg/spec"
)

func parseParams(t *testing.T, raw string) *spec.TextureParams {
	t.Helper()
	var p spec.TextureParams
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("params: %v", err)
	}
	return &p
}

const twoNodeGraph = `{
	"resolution": [64, 64],
	"tileable": false,
	"nodes": [
		{"id": "n", "op": "noise", "noise_type": "perlin", "scale": 0.1},
		{"id": "m", "op": "threshold", "inputs": ["n"], "threshold": 0.5}
	]
}`

func TestRenderDeterministic(t *testing.T) {
	params := parseParams(t, twoNodeGraph)

	a, err := Render(params, 7)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	b, err := Render(params, 7)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	pa, err := EncodePNG(a)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	pb, err := EncodePNG(b)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	if !bytes.Equal(pa, pb) {
		t.Error("two renders of the same graph differ")
	}
}

func TestRenderSeedChangesOutput(t *testing.T) {
	params := parseParams(t, twoNodeGraph)

	a, _ := Render(params, 1)
	b, _ := Render(params, 2)

	if bytes.Equal(floatBytes(a), floatBytes(b)) {
		t.Error("different seeds produced identical noise")
	}
}

func floatBytes(f *Field) []byte {
	out := make([]byte, 0, len(f.Data))
	for _, v := range f.Data {
		out = append(out, quantize(v))
	}
	return out
}

func TestThresholdNotAllBlackOrWhite(t *testing.T) {
	params := parseParams(t, twoNodeGraph)
	f, err := Render(params, 42)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	ones, zeros := 0, 0
	for _, v := range f.Data {
		if v == 1 {
			ones++
		} else if v == 0 {
			zeros++
		}
	}
	if ones == 0 || zeros == 0 {
		t.Errorf("threshold over perlin should mix values: %d ones, %d zeros", ones, zeros)
	}
}

func TestNodeSeedIndependentOfSiblings(t *testing.T) {
	// The same noise node must render identically whether or not an
	// unrelated sibling precedes it.
	alone := parseParams(t, `{
		"resolution": [32, 32],
		"nodes": [{"id": "n", "op": "noise", "noise_type": "value", "scale": 0.2}]
	}`)
	withSibling := parseParams(t, `{
		"resolution": [32, 32],
		"nodes": [
			{"id": "other", "op": "noise", "noise_type": "worley", "scale": 0.3},
			{"id": "n", "op": "noise", "noise_type": "value", "scale": 0.2},
			{"id": "out", "op": "add", "inputs": ["n", "n"]}
		]
	}`)

	a, err := Render(alone, 5)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	// Render the sibling graph and extract what "n" contributed: out = n+n,
	// clamped, so compare against clamp(2a).
	b, err := Render(withSibling, 5)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for i := range a.Data {
		want := clamp01f(a.Data[i] + a.Data[i])
		if b.Data[i] != want {
			t.Fatalf("node output depends on sibling evaluation at %d", i)
		}
	}
}

func TestTileableNoiseWraps(t *testing.T) {
	params := parseParams(t, `{
		"resolution": [64, 64],
		"tileable": true,
		"nodes": [{"id": "n", "op": "noise", "noise_type": "perlin", "scale": 0.125}]
	}`)
	f, err := Render(params, 9)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	// With a wrapped lattice the left and right edges must be continuous:
	// the difference across the seam should look like any neighbor
	// difference, not a jump.
	var seam, interior float64
	for y := 0; y < f.H; y++ {
		seam += absf(float64(f.At(0, y, 0)) - float64(f.At(f.W-1, y, 0)))
		interior += absf(float64(f.At(32, y, 0)) - float64(f.At(31, y, 0)))
	}
	if seam > interior*4+0.5 {
		t.Errorf("tileable seam discontinuity: seam=%f interior=%f", seam, interior)
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestComposeRGBAProducesFourChannels(t *testing.T) {
	params := parseParams(t, `{
		"resolution": [16, 16],
		"nodes": [
			{"id": "r", "op": "constant", "value": 1.0},
			{"id": "g", "op": "constant", "value": 0.5},
			{"id": "b", "op": "constant", "value": 0.0},
			{"id": "out", "op": "compose_rgba", "inputs": ["r", "g", "b"]}
		]
	}`)
	f, err := Render(params, 1)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if f.Channels != 4 {
		t.Fatalf("channels = %d, want 4", f.Channels)
	}
	if f.At(3, 3, 0) != 1.0 || f.At(3, 3, 2) != 0.0 || f.At(3, 3, 3) != 1.0 {
		t.Errorf("unexpected pixel: %v %v %v %v", f.At(3, 3, 0), f.At(3, 3, 1), f.At(3, 3, 2), f.At(3, 3, 3))
	}
}

func TestColorRampEndpoints(t *testing.T) {
	params := parseParams(t, `{
		"resolution": [8, 8],
		"nodes": [
			{"id": "g", "op": "gradient", "direction": "horizontal"},
			{"id": "out", "op": "color_ramp", "inputs": ["g"], "stops": [
				{"pos": 0.0, "color": [0, 0, 0, 1]},
				{"pos": 1.0, "color": [1, 0, 0, 1]}
			]}
		]
	}`)
	f, err := Render(params, 1)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if f.At(0, 0, 0) != 0 {
		t.Errorf("left edge red = %v, want 0", f.At(0, 0, 0))
	}
	if f.At(7, 0, 0) != 1 {
		t.Errorf("right edge red = %v, want 1", f.At(7, 0, 0))
	}
}

func TestNormalFromHeightFlatIsUp(t *testing.T) {
	params := parseParams(t, `{
		"resolution": [8, 8],
		"nodes": [
			{"id": "h", "op": "constant", "value": 0.5},
			{"id": "n", "op": "normal_from_height", "inputs": ["h"], "strength": 1.0}
		]
	}`)
	f, err := Render(params, 1)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	// Flat height: normal is (0.5, 0.5, 1.0) encoded.
	if q := quantize(f.At(4, 4, 2)); q != 255 {
		t.Errorf("flat normal z = %d, want 255", q)
	}
	if q := quantize(f.At(4, 4, 0)); q != 128 {
		t.Errorf("flat normal x = %d, want 128", q)
	}
}

func TestEncodePNGDeterministic(t *testing.T) {
	params := parseParams(t, twoNodeGraph)
	f, err := Render(params, 3)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	a, _ := EncodePNG(f)
	b, _ := EncodePNG(f)
	if !bytes.Equal(a, b) {
		t.Error("PNG encoding not deterministic")
	}
	if !bytes.Equal(a[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}) {
		t.Error("missing PNG signature")
	}
}

func TestRenderResolutionMismatch(t *testing.T) {
	// The rendered field carries the declared resolution, not some other
	// size.
	params := parseParams(t, `{
		"resolution": [8, 8],
		"nodes": [{"id": "a", "op": "constant", "value": 1}]
	}`)
	f, err := Render(params, 1)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if f.W != 8 || f.H != 8 {
		t.Errorf("unexpected size %dx%d", f.W, f.H)
	}
}
