package spec

import (
	"encoding/json"
	"fmt"
)

// TextureParams drives the procedural node-graph backend.
type TextureParams struct {
	Resolution [2]int        `json:"resolution"`
	Tileable   bool          `json:"tileable,omitempty"`
	Nodes      []TextureNode `json:"nodes"`
}

// ColorStop is one stop of a color_ramp node.
type ColorStop struct {
	Pos   float64    `json:"pos"`
	Color [4]float64 `json:"color"`
}

// TextureNode is one operation in the DAG. Inputs name earlier nodes.
type TextureNode struct {
	ID     string   `json:"id"`
	Op     string   `json:"op"`
	Inputs []string `json:"inputs,omitempty"`

	// constant
	Value float64 `json:"value,omitempty"`

	// noise
	NoiseType   string  `json:"noise_type,omitempty"`
	Scale       float64 `json:"scale,omitempty"`
	Octaves     int     `json:"octaves,omitempty"`
	Persistence float64 `json:"persistence,omitempty"`
	Lacunarity  float64 `json:"lacunarity,omitempty"`

	// gradient
	Direction string `json:"direction,omitempty"`

	// stripes / checkerboard
	Count int     `json:"count,omitempty"`
	Angle float64 `json:"angle,omitempty"`

	// threshold / clamp
	Threshold float64 `json:"threshold,omitempty"`
	Min       float64 `json:"min,omitempty"`
	Max       float64 `json:"max,omitempty"`

	// lerp
	T float64 `json:"t,omitempty"`

	// color_ramp / palette
	Stops  []ColorStop  `json:"stops,omitempty"`
	Colors [][4]float64 `json:"colors,omitempty"`

	// normal_from_height
	Strength float64 `json:"strength,omitempty"`

	// wang_tiles
	TileDivisions int `json:"tile_divisions,omitempty"`

	// texture_bomb
	Density    float64    `json:"density,omitempty"`
	ScaleRange [2]float64 `json:"scale_range,omitempty"`
	Rotation   float64    `json:"rotation,omitempty"`
	BlendMode  string     `json:"blend_mode,omitempty"`

	// blur / morphology
	Radius float64 `json:"radius,omitempty"`
	Mode   string  `json:"mode,omitempty"`

	// warp
	Amount float64 `json:"amount,omitempty"`
}

// textureOpFields enumerates the closed op set with allowed fields and the
// number of inputs each op consumes (-1 = variable, checked separately).
var textureOpFields = map[string]struct {
	Fields []string
	Inputs int
}{
	"constant":           {[]string{"value"}, 0},
	"noise":              {[]string{"noise_type", "scale", "octaves", "persistence", "lacunarity"}, 0},
	"gradient":           {[]string{"direction"}, 0},
	"stripes":            {[]string{"count", "angle"}, 0},
	"checkerboard":       {[]string{"count"}, 0},
	"threshold":          {[]string{"inputs", "threshold"}, 1},
	"invert":             {[]string{"inputs"}, 1},
	"color_ramp":         {[]string{"inputs", "stops"}, 1},
	"add":                {[]string{"inputs"}, 2},
	"multiply":           {[]string{"inputs"}, 2},
	"lerp":               {[]string{"inputs", "t"}, -1},
	"clamp":              {[]string{"inputs", "min", "max"}, 1},
	"to_grayscale":       {[]string{"inputs"}, 1},
	"palette":            {[]string{"inputs", "colors"}, 1},
	"compose_rgba":       {[]string{"inputs"}, -1},
	"normal_from_height": {[]string{"inputs", "strength"}, 1},
	"wang_tiles":         {[]string{"inputs", "tile_divisions"}, 1},
	"texture_bomb":       {[]string{"inputs", "density", "scale_range", "rotation", "blend_mode"}, 1},
	"blur":               {[]string{"inputs", "radius"}, 1},
	"warp":               {[]string{"inputs", "amount", "scale"}, 2},
	"morphology":         {[]string{"inputs", "radius", "mode"}, 1},
}

// TextureOpInputs returns the input arity of op, or -1 for variable arity,
// and whether the op exists.
func TextureOpInputs(op string) (int, bool) {
	info, ok := textureOpFields[op]
	if !ok {
		return 0, false
	}
	return info.Inputs, true
}

// UnmarshalJSON enforces the closed texture op union.
func (n *TextureNode) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	opRaw, ok := raw["op"]
	if !ok {
		return fmt.Errorf("texture node: missing op tag")
	}
	var op string
	if err := json.Unmarshal(opRaw, &op); err != nil {
		return fmt.Errorf("texture node: bad op tag: %w", err)
	}
	info, ok := textureOpFields[op]
	if !ok {
		return fmt.Errorf("texture node: unknown op %q", op)
	}

	allowed := make(map[string]bool, len(info.Fields)+2)
	allowed["id"] = true
	allowed["op"] = true
	for _, f := range info.Fields {
		allowed[f] = true
	}
	for k := range raw {
		if !allowed[k] {
			return fmt.Errorf("texture node op %q: unknown field %q", op, k)
		}
	}

	type alias TextureNode
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*n = TextureNode(a)
	return nil
}
