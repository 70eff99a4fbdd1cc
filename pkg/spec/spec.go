package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Recipe kinds understood by the core pipeline.
const (
	KindAudio          = "audio_v1"
	KindTrackerSong    = "music.tracker_song_v1"
	KindTrackerCompose = "music.tracker_song_compose_v1"
	KindTexture        = "texture.procedural_v1"
)

// Output kinds.
const (
	OutputAudio     = "audio"
	OutputMap       = "map"
	OutputMesh      = "mesh"
	OutputAnimation = "animation"
	OutputMetadata  = "metadata"
)

// Spec is the root record of an asset description. Specs are immutable
// values: parse produces one and nothing mutates it afterwards.
type Spec struct {
	SpecVersion int      `json:"spec_version"`
	AssetID     string   `json:"asset_id"`
	AssetType   string   `json:"asset_type"`
	Seed        int64    `json:"seed"`
	Description string   `json:"description,omitempty"`
	License     string   `json:"license,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Outputs     []Output `json:"outputs"`
	Recipe      Recipe   `json:"recipe"`

	// Raw holds the original bytes for canonical hashing.
	Raw []byte `json:"-"`
}

// Output declares one expected artifact.
type Output struct {
	Kind   string `json:"kind"`
	Format string `json:"format"`
	Path   string `json:"path"`
}

// Recipe selects a backend and carries its parameters. Params stays raw
// until the kind-specific accessor decodes it, so parse errors in one
// recipe family never mask contract errors elsewhere.
type Recipe struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// Parse decodes raw spec JSON. Unknown top-level fields are rejected;
// recipe params are validated later by kind.
func Parse(data []byte) (*Spec, error) {
	var s Spec
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse spec: %w", err)
	}
	// Trailing garbage after the document is malformed input, not padding.
	if dec.More() {
		return nil, fmt.Errorf("parse spec: trailing data after JSON document")
	}
	s.Raw = append([]byte(nil), data...)
	return &s, nil
}

// Seed32 returns the seed as the u32 every derivation consumes. Callers must
// have validated the contract first; out-of-range seeds are E003.
func (s *Spec) Seed32() uint32 {
	return uint32(s.Seed)
}

// AudioParams decodes the recipe as audio_v1.
func (s *Spec) AudioParams() (*AudioParams, error) {
	if s.Recipe.Kind != KindAudio {
		return nil, fmt.Errorf("recipe kind is %q, not %q", s.Recipe.Kind, KindAudio)
	}
	var p AudioParams
	if err := strictDecode(s.Recipe.Params, &p); err != nil {
		return nil, fmt.Errorf("audio params: %w", err)
	}
	return &p, nil
}

// TextureParams decodes the recipe as texture.procedural_v1.
func (s *Spec) TextureParams() (*TextureParams, error) {
	if s.Recipe.Kind != KindTexture {
		return nil, fmt.Errorf("recipe kind is %q, not %q", s.Recipe.Kind, KindTexture)
	}
	var p TextureParams
	if err := strictDecode(s.Recipe.Params, &p); err != nil {
		return nil, fmt.Errorf("texture params: %w", err)
	}
	return &p, nil
}

// TrackerParams decodes the recipe as music.tracker_song_v1.
func (s *Spec) TrackerParams() (*TrackerParams, error) {
	if s.Recipe.Kind != KindTrackerSong {
		return nil, fmt.Errorf("recipe kind is %q, not %q", s.Recipe.Kind, KindTrackerSong)
	}
	var p TrackerParams
	if err := strictDecode(s.Recipe.Params, &p); err != nil {
		return nil, fmt.Errorf("tracker params: %w", err)
	}
	return &p, nil
}

// ComposeParams decodes the recipe as music.tracker_song_compose_v1.
func (s *Spec) ComposeParams() (*ComposeParams, error) {
	if s.Recipe.Kind != KindTrackerCompose {
		return nil, fmt.Errorf("recipe kind is %q, not %q", s.Recipe.Kind, KindTrackerCompose)
	}
	var p ComposeParams
	if err := strictDecode(s.Recipe.Params, &p); err != nil {
		return nil, fmt.Errorf("compose params: %w", err)
	}
	return &p, nil
}

// strictDecode unmarshals with unknown fields rejected.
func strictDecode(data []byte, out interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("params missing")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// checkTagFields verifies that every key in raw is allowed for the given
// union variant. Used by custom unmarshalers of tagged unions so that a
// field belonging to a different variant is rejected, not silently dropped.
func checkTagFields(unionName, tag string, raw map[string]json.RawMessage, allowed []string) error {
	ok := make(map[string]bool, len(allowed)+1)
	ok["type"] = true
	for _, f := range allowed {
		ok[f] = true
	}
	for k := range raw {
		if !ok[k] {
			return fmt.Errorf("%s %q: unknown field %q", unionName, tag, k)
		}
	}
	return nil
}
