package budget

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name       string
		profile    string
		wantErr    bool
		wantRate   int
		rejectRate int
	}{
		{"default allows 44100", "default", false, 44100, 96000},
		{"empty name is default", "", false, 48000, 11025},
		{"strict allows 44100", "strict", false, 44100, 96000},
		{"nethercore is 22050 only", "nethercore", false, 22050, 44100},
		{"zx-8bit is 22050 only", "zx-8bit", false, 22050, 48000},
		{"unknown rejected", "bogus", true, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Lookup(tt.profile)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if !p.SampleRateAllowed(tt.wantRate) {
				t.Errorf("rate %d should be allowed", tt.wantRate)
			}
			if p.SampleRateAllowed(tt.rejectRate) {
				t.Errorf("rate %d should be rejected", tt.rejectRate)
			}
		})
	}
}

func TestStrictTightensDefault(t *testing.T) {
	d, s := Default(), Strict()

	if s.MaxAudioDurationSeconds >= d.MaxAudioDurationSeconds {
		t.Error("strict audio duration not tightened")
	}
	if s.MaxTextureSize >= d.MaxTextureSize {
		t.Error("strict texture size not tightened")
	}
	if s.MaxVertices != 50000 {
		t.Errorf("strict MaxVertices = %d, want 50000", s.MaxVertices)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	content := "name: handheld\nmax_texture_size: 512\nallowed_sample_rates: [22050, 44100]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if p.Name != "handheld" {
		t.Errorf("Name = %q", p.Name)
	}
	if p.MaxTextureSize != 512 {
		t.Errorf("MaxTextureSize = %d, want 512", p.MaxTextureSize)
	}
	// Unset fields inherit defaults.
	if p.MaxGraphNodes != Default().MaxGraphNodes {
		t.Errorf("MaxGraphNodes = %d, want default", p.MaxGraphNodes)
	}
}

func TestLoadFileRejectsUnnamed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anon.yaml")
	if err := os.WriteFile(path, []byte("max_texture_size: 128\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for unnamed profile")
	}
}
