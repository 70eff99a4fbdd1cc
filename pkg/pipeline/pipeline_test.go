package pipeline

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/speccade/pkg/budget"
)

const laserSpec = `{
	"spec_version": 1,
	"asset_id": "laser-01",
	"asset_type": "audio",
	"seed": 42,
	"outputs": [{"kind": "audio", "format": "wav", "path": "laser.wav"}],
	"recipe": {"kind": "audio_v1", "params": {
		"duration_seconds": 0.25,
		"sample_rate": 44100,
		"normalize": true,
		"peak_db": -1.0,
		"layers": [{
			"synthesis": {"type": "fm_synth", "carrier_freq": 1200, "mod_ratio": 2.5, "mod_index": 8.0, "index_decay": 10.0},
			"amplitude": 0.9,
			"envelope": {"attack": 0.001, "decay": 0.1, "sustain": 0.3, "release": 0.1}
		}]
	}}
}`

func writeSpec(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGenerateAudioEndToEnd(t *testing.T) {
	dir := t.TempDir()
	specPath := writeSpec(t, dir, "laser.json", laserSpec)
	outRoot := filepath.Join(dir, "out")

	report, err := Generate(specPath, outRoot, budget.Default(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(report.Outputs) != 1 {
		t.Fatalf("outputs = %d, want 1", len(report.Outputs))
	}
	if len(report.Outputs[0].Hash) != 64 {
		t.Errorf("hash = %q", report.Outputs[0].Hash)
	}

	wav, err := os.ReadFile(filepath.Join(outRoot, "laser.wav"))
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) {
		t.Error("artifact is not a WAV")
	}

	// Report sits next to the spec.
	reportData, err := os.ReadFile(filepath.Join(dir, "laser-01.report.json"))
	if err != nil {
		t.Fatalf("report missing: %v", err)
	}
	var r Report
	if err := json.Unmarshal(reportData, &r); err != nil {
		t.Fatalf("report parse: %v", err)
	}
	if r.SpecHash == "" || len(r.SpecHash) != 64 {
		t.Errorf("report spec_hash = %q", r.SpecHash)
	}
}

func TestGenerateDeterministicAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	specPath := writeSpec(t, dir, "laser.json", laserSpec)

	outA := filepath.Join(dir, "a")
	outB := filepath.Join(dir, "b")

	ra, err := Generate(specPath, outA, budget.Default(), nil)
	if err != nil {
		t.Fatalf("Generate a: %v", err)
	}
	rb, err := Generate(specPath, outB, budget.Default(), nil)
	if err != nil {
		t.Fatalf("Generate b: %v", err)
	}

	if ra.Outputs[0].Hash != rb.Outputs[0].Hash {
		t.Error("two runs hashed differently")
	}

	wavA, _ := os.ReadFile(filepath.Join(outA, "laser.wav"))
	wavB, _ := os.ReadFile(filepath.Join(outB, "laser.wav"))
	if !bytes.Equal(wavA, wavB) {
		t.Error("two runs produced different bytes")
	}
}

func TestGenerateBudgetRejectionWritesNoArtifact(t *testing.T) {
	dir := t.TempDir()
	specPath := writeSpec(t, dir, "laser.json", laserSpec)
	outRoot := filepath.Join(dir, "out")

	_, err := Generate(specPath, outRoot, budget.Nethercore(), nil)
	if err == nil {
		t.Fatal("expected budget failure under nethercore")
	}
	if _, statErr := os.Stat(filepath.Join(outRoot, "laser.wav")); !os.IsNotExist(statErr) {
		t.Error("budget-rejected run left an artifact behind")
	}
}

func TestValidateWritesReport(t *testing.T) {
	dir := t.TempDir()
	specPath := writeSpec(t, dir, "laser.json", laserSpec)

	report, s, err := Validate(specPath, budget.Default())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Diagnostics.HasErrors() {
		t.Errorf("unexpected errors: %+v", report.Diagnostics)
	}
	if s.AssetID != "laser-01" {
		t.Errorf("asset id = %q", s.AssetID)
	}
	if _, err := os.Stat(filepath.Join(dir, "laser-01.report.json")); err != nil {
		t.Error("report not written")
	}
}

const composeSpec = `{
	"spec_version": 1,
	"asset_id": "song-01",
	"asset_type": "music",
	"seed": 9,
	"outputs": [{"kind": "audio", "format": "xm", "path": "song.xm"}],
	"recipe": {"kind": "music.tracker_song_compose_v1", "params": {
		"format": "xm", "bpm": 125, "speed": 6, "channels": 4,
		"instruments": [{"name": "bass", "synthesis": {"type": "oscillator", "waveform": "saw", "freq": 110}, "duration_seconds": 0.2, "base_note": "A-2"}],
		"patterns": {"main": {"rows": 64, "program": {
			"op": "emit_seq",
			"at": {"kind": "range", "start": 0, "step": 4, "count": 16},
			"cell": {"channel": 2, "inst": 1, "vol": 56},
			"note_seq": {"mode": "cycle", "values": ["F1", "F1", "C2", "C2", "G1", "G1", "D2", "D2"]}
		}}},
		"arrangement": ["main"]
	}}
}`

func TestExpandSnapshotStable(t *testing.T) {
	dir := t.TempDir()
	specPath := writeSpec(t, dir, "song.json", composeSpec)

	a, err := Expand(specPath, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	b, err := Expand(specPath, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("expand output is not byte-identical across runs")
	}

	var tracker map[string]interface{}
	if err := json.Unmarshal(a, &tracker); err != nil {
		t.Fatalf("expand output not JSON: %v", err)
	}
	if tracker["format"] != "xm" {
		t.Errorf("format = %v", tracker["format"])
	}
}

func TestGenerateComposeEquivalentToExpanded(t *testing.T) {
	dir := t.TempDir()
	composePath := writeSpec(t, dir, "song.json", composeSpec)

	expanded, err := Expand(composePath, budget.Default())
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	// Rewrap the expanded params as a tracker_song_v1 spec with the same
	// seed and render both.
	var trackerParams json.RawMessage = expanded
	wrapper := map[string]interface{}{
		"spec_version": 1,
		"asset_id":     "song-01",
		"asset_type":   "music",
		"seed":         9,
		"outputs":      []map[string]string{{"kind": "audio", "format": "xm", "path": "song.xm"}},
		"recipe":       map[string]interface{}{"kind": "music.tracker_song_v1", "params": trackerParams},
	}
	wrapped, _ := json.Marshal(wrapper)
	expandedPath := writeSpec(t, dir, "song-expanded.json", string(wrapped))

	outA := filepath.Join(dir, "a")
	outB := filepath.Join(dir, "b")
	if _, err := Generate(composePath, outA, budget.Default(), nil); err != nil {
		t.Fatalf("Generate compose: %v", err)
	}
	if _, err := Generate(expandedPath, outB, budget.Default(), nil); err != nil {
		t.Fatalf("Generate expanded: %v", err)
	}

	xa, _ := os.ReadFile(filepath.Join(outA, "song.xm"))
	xb, _ := os.ReadFile(filepath.Join(outB, "song.xm"))
	if !bytes.Equal(xa, xb) {
		t.Error("compose render differs from expanded render")
	}
}

func TestGenerateConsultsCache(t *testing.T) {
	dir := t.TempDir()
	specPath := writeSpec(t, dir, "laser.json", laserSpec)
	outRoot := filepath.Join(dir, "out")

	cache, err := OpenCache(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()
	opts := &Options{Cache: cache}

	first, err := Generate(specPath, outRoot, budget.Default(), opts)
	if err != nil {
		t.Fatalf("Generate first: %v", err)
	}

	// Second run must hit the cache: same hashes, artifact untouched.
	before, _ := os.Stat(filepath.Join(outRoot, "laser.wav"))
	second, err := Generate(specPath, outRoot, budget.Default(), opts)
	if err != nil {
		t.Fatalf("Generate second: %v", err)
	}
	after, _ := os.Stat(filepath.Join(outRoot, "laser.wav"))

	if first.Outputs[0].Hash != second.Outputs[0].Hash {
		t.Error("cached run reported a different hash")
	}
	if !before.ModTime().Equal(after.ModTime()) {
		t.Error("cache hit re-wrote the artifact")
	}

	// Drifted artifact bytes must force a re-render.
	if err := os.WriteFile(filepath.Join(outRoot, "laser.wav"), []byte("corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}
	third, err := Generate(specPath, outRoot, budget.Default(), opts)
	if err != nil {
		t.Fatalf("Generate third: %v", err)
	}
	if third.Outputs[0].Hash != first.Outputs[0].Hash {
		t.Error("re-render after drift hashed differently")
	}
	restored, _ := os.ReadFile(filepath.Join(outRoot, "laser.wav"))
	if !bytes.Equal(restored[0:4], []byte("RIFF")) {
		t.Error("drifted artifact was not regenerated")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	report := newReport("abc123")
	report.Outputs = []OutputReport{{Path: "laser.wav", Hash: "deadbeef"}}
	if err := cache.Store("abc123", report); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hash, ok, err := cache.Lookup("abc123", "laser.wav")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || hash != "deadbeef" {
		t.Errorf("lookup = %q %v", hash, ok)
	}

	_, ok, _ = cache.Lookup("other", "laser.wav")
	if ok {
		t.Error("lookup hit on a different spec hash")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.bin")
	if err := writeFileAtomic(path, []byte("payload")); err != nil {
		t.Fatalf("writeFileAtomic: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "payload" {
		t.Errorf("read back %q, %v", data, err)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if e.Name() != "file.bin" {
			t.Errorf("stray file %q", e.Name())
		}
	}
}
