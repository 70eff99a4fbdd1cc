// Package budget defines the enumerated resource-limit profiles applied at
// validation time. A profile is a record of hard caps; exceeding any cap is a
// budget error and generation never starts.
package budget

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is one named set of hard limits.
type Profile struct {
	Name string `yaml:"name"`

	// Audio limits.
	MaxAudioDurationSeconds float64 `yaml:"max_audio_duration_seconds"`
	MaxAudioLayers          int     `yaml:"max_audio_layers"`
	AllowedSampleRates      []int   `yaml:"allowed_sample_rates"`
	MaxSamples              int     `yaml:"max_samples"`

	// Texture limits.
	MaxTextureSize int `yaml:"max_texture_size"`
	MaxGraphNodes  int `yaml:"max_graph_nodes"`
	MaxGraphDepth  int `yaml:"max_graph_depth"`
	MaxPixels      int `yaml:"max_pixels"`

	// Music limits. Channel caps are per-format; the stricter of the
	// profile cap and the format cap applies.
	MaxChannels       int `yaml:"max_channels"`
	MaxPatterns       int `yaml:"max_patterns"`
	MaxInstruments    int `yaml:"max_instruments"`
	MaxPatternRows    int `yaml:"max_pattern_rows"`
	MaxComposeDepth   int `yaml:"max_compose_depth"`
	MaxCellsPerPattern int `yaml:"max_cells_per_pattern"`
	MaxTimeListSize   int `yaml:"max_time_list_size"`

	// Mesh limits (enforced on declared metrics; mesh generation itself is
	// a Tier-2 concern outside this pipeline).
	MaxVertices int `yaml:"max_vertices"`
	MaxFaces    int `yaml:"max_faces"`

	// General limits.
	StarlarkTimeoutSeconds float64 `yaml:"starlark_timeout_seconds"`
	MaxSpecSizeBytes       int     `yaml:"max_spec_size_bytes"`
}

// SampleRateAllowed reports whether rate is in the profile's allowed set.
func (p *Profile) SampleRateAllowed(rate int) bool {
	for _, r := range p.AllowedSampleRates {
		if r == rate {
			return true
		}
	}
	return false
}

// Default is the baseline profile.
func Default() *Profile {
	return &Profile{
		Name:                    "default",
		MaxAudioDurationSeconds: 30.0,
		MaxAudioLayers:          32,
		AllowedSampleRates:      []int{22050, 44100, 48000},
		MaxSamples:              48000 * 30,
		MaxTextureSize:          4096,
		MaxGraphNodes:           256,
		MaxGraphDepth:           64,
		MaxPixels:               4096 * 4096,
		MaxChannels:             64,
		MaxPatterns:             128,
		MaxInstruments:          64,
		MaxPatternRows:          256,
		MaxComposeDepth:         32,
		MaxCellsPerPattern:      16384,
		MaxTimeListSize:         4096,
		MaxVertices:             500000,
		MaxFaces:                1000000,
		StarlarkTimeoutSeconds:  10.0,
		MaxSpecSizeBytes:        4 << 20,
	}
}

// Strict tightens the default profile for CI gates.
func Strict() *Profile {
	p := Default()
	p.Name = "strict"
	p.MaxAudioDurationSeconds = 10.0
	p.MaxSamples = 48000 * 10
	p.MaxTextureSize = 2048
	p.MaxPixels = 2048 * 2048
	p.MaxVertices = 50000
	p.MaxFaces = 100000
	return p
}

// Nethercore targets the nethercore fantasy console.
func Nethercore() *Profile {
	p := Default()
	p.Name = "nethercore"
	p.AllowedSampleRates = []int{22050}
	p.MaxSamples = 22050 * 30
	p.MaxTextureSize = 1024
	p.MaxPixels = 1024 * 1024
	p.MaxChannels = 16
	p.MaxVertices = 25000
	p.MaxFaces = 50000
	return p
}

// ZX8Bit targets 8-bit retro constraints.
func ZX8Bit() *Profile {
	p := Default()
	p.Name = "zx-8bit"
	p.MaxAudioDurationSeconds = 5.0
	p.AllowedSampleRates = []int{22050}
	p.MaxSamples = 22050 * 5
	p.MaxAudioLayers = 4
	p.MaxTextureSize = 256
	p.MaxPixels = 256 * 256
	p.MaxGraphNodes = 64
	p.MaxGraphDepth = 16
	p.MaxChannels = 4
	p.MaxPatterns = 32
	p.MaxInstruments = 16
	p.MaxVertices = 4096
	p.MaxFaces = 8192
	return p
}

// Lookup resolves a profile by name.
func Lookup(name string) (*Profile, error) {
	switch name {
	case "", "default":
		return Default(), nil
	case "strict":
		return Strict(), nil
	case "nethercore":
		return Nethercore(), nil
	case "zx-8bit":
		return ZX8Bit(), nil
	}
	return nil, fmt.Errorf("unknown budget profile %q", name)
}

// LoadFile reads a custom profile from a YAML file. Unset numeric fields
// inherit the default profile's values so a file only states overrides.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read budget profile: %w", err)
	}

	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse budget profile %s: %w", path, err)
	}
	if p.Name == "" || p.Name == "default" {
		return nil, fmt.Errorf("budget profile %s must declare a non-default name", path)
	}
	return p, nil
}
