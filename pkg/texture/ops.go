package texture

import (
	"fmt"
	"math"

	"github.com/opd-ai/speccade/pkg/rng"
	"github.com/opd-ai/speccade/pkg/spec"
)

func (ev *evaluator) eval(n *spec.TextureNode, inputs []*Field) (*Field, error) {
	switch n.Op {
	case "constant":
		return ev.constant(n), nil
	case "noise":
		return ev.noise(n), nil
	case "gradient":
		return ev.gradient(n), nil
	case "stripes":
		return ev.stripes(n), nil
	case "checkerboard":
		return ev.checkerboard(n), nil
	case "threshold":
		return mapField(inputs[0], func(v float32) float32 {
			if float64(v) >= n.Threshold {
				return 1
			}
			return 0
		}), nil
	case "invert":
		return invert(inputs[0]), nil
	case "color_ramp":
		return colorRamp(inputs[0], n.Stops), nil
	case "add":
		return combine(inputs[0], inputs[1], func(a, b float32) float32 { return clamp01f(a + b) })
	case "multiply":
		return combine(inputs[0], inputs[1], func(a, b float32) float32 { return a * b })
	case "lerp":
		return ev.lerp(n, inputs)
	case "clamp":
		lo, hi := float32(n.Min), float32(n.Max)
		return mapField(inputs[0], func(v float32) float32 {
			if v < lo {
				return lo
			}
			if v > hi {
				return hi
			}
			return v
		}), nil
	case "to_grayscale":
		return toGrayscale(inputs[0]), nil
	case "palette":
		return palette(inputs[0], n.Colors), nil
	case "compose_rgba":
		return composeRGBA(inputs)
	case "normal_from_height":
		return ev.normalFromHeight(inputs[0], n.Strength), nil
	case "wang_tiles":
		return ev.wangTiles(n, inputs[0]), nil
	case "texture_bomb":
		return ev.textureBomb(n, inputs[0]), nil
	case "blur":
		return ev.blur(inputs[0], n.Radius), nil
	case "warp":
		return ev.warp(inputs[0], inputs[1], n.Amount), nil
	case "morphology":
		return ev.morphology(inputs[0], n.Radius, n.Mode), nil
	}
	return nil, fmt.Errorf("unknown op %q", n.Op)
}

func (ev *evaluator) constant(n *spec.TextureNode) *Field {
	out := NewField(ev.w, ev.h, 1)
	v := float32(clamp01(n.Value))
	for i := range out.Data {
		out.Data[i] = v
	}
	return out
}

func (ev *evaluator) noise(n *spec.TextureNode) *Field {
	out := NewField(ev.w, ev.h, 1)

	px, py := 0, 0
	if ev.tileable {
		// Wrap the lattice at the domain period so opposite edges meet.
		px = int(math.Max(1, math.Round(float64(ev.w)*n.Scale)))
		py = int(math.Max(1, math.Round(float64(ev.h)*n.Scale)))
	}
	gen := newNoiseGen(ev.nodeSeed(n.ID), px, py)

	persistence := n.Persistence
	if persistence == 0 {
		persistence = 0.5
	}
	lacunarity := n.Lacunarity
	if lacunarity == 0 {
		lacunarity = 2.0
	}

	for y := 0; y < ev.h; y++ {
		for x := 0; x < ev.w; x++ {
			u := float64(x) * n.Scale
			v := float64(y) * n.Scale
			var val float64
			switch n.NoiseType {
			case "perlin":
				val = gen.Perlin(u, v)
			case "simplex":
				val = gen.Simplex(u, v)
			case "worley":
				val = gen.Worley(u, v)
			case "value":
				val = gen.Value(u, v)
			case "fbm":
				val = gen.FBM(u, v, n.Octaves, persistence, lacunarity)
			}
			out.Set(x, y, 0, float32(val))
		}
	}
	return out
}

func (ev *evaluator) gradient(n *spec.TextureNode) *Field {
	out := NewField(ev.w, ev.h, 1)
	cx, cy := float64(ev.w-1)/2, float64(ev.h-1)/2
	maxR := math.Sqrt(cx*cx + cy*cy)
	for y := 0; y < ev.h; y++ {
		for x := 0; x < ev.w; x++ {
			var v float64
			switch n.Direction {
			case "horizontal":
				v = float64(x) / float64(ev.w-1)
			case "vertical":
				v = float64(y) / float64(ev.h-1)
			case "radial":
				dx, dy := float64(x)-cx, float64(y)-cy
				v = math.Sqrt(dx*dx+dy*dy) / maxR
			}
			out.Set(x, y, 0, float32(clamp01(v)))
		}
	}
	return out
}

func (ev *evaluator) stripes(n *spec.TextureNode) *Field {
	out := NewField(ev.w, ev.h, 1)
	sin, cos := math.Sincos(n.Angle * math.Pi / 180)
	for y := 0; y < ev.h; y++ {
		for x := 0; x < ev.w; x++ {
			t := (float64(x)*cos + float64(y)*sin) / float64(ev.w) * float64(n.Count)
			frac := t - math.Floor(t)
			var v float32
			if frac < 0.5 {
				v = 1
			}
			out.Set(x, y, 0, v)
		}
	}
	return out
}

func (ev *evaluator) checkerboard(n *spec.TextureNode) *Field {
	out := NewField(ev.w, ev.h, 1)
	for y := 0; y < ev.h; y++ {
		for x := 0; x < ev.w; x++ {
			cx := x * n.Count / ev.w
			cy := y * n.Count / ev.h
			var v float32
			if (cx+cy)%2 == 0 {
				v = 1
			}
			out.Set(x, y, 0, v)
		}
	}
	return out
}

// mapField applies fn to every channel value.
func mapField(in *Field, fn func(float32) float32) *Field {
	out := NewField(in.W, in.H, in.Channels)
	for i, v := range in.Data {
		out.Data[i] = fn(v)
	}
	return out
}

func invert(in *Field) *Field {
	out := NewField(in.W, in.H, in.Channels)
	for i, v := range in.Data {
		// Alpha passes through on RGBA fields.
		if in.Channels == 4 && i%4 == 3 {
			out.Data[i] = v
		} else {
			out.Data[i] = 1 - v
		}
	}
	return out
}

// combine merges two fields channelwise; a 1-channel field broadcasts
// against a 4-channel one.
func combine(a, b *Field, fn func(x, y float32) float32) (*Field, error) {
	if a.Channels == b.Channels {
		out := NewField(a.W, a.H, a.Channels)
		for i := range a.Data {
			out.Data[i] = fn(a.Data[i], b.Data[i])
		}
		return out, nil
	}
	scalar, rgba := a, b
	flip := false
	if a.Channels == 4 {
		scalar, rgba = b, a
		flip = true
	}
	if scalar.Channels != 1 || rgba.Channels != 4 {
		return nil, fmt.Errorf("incompatible channel counts %d and %d", a.Channels, b.Channels)
	}
	out := NewField(a.W, a.H, 4)
	for p := 0; p < a.W*a.H; p++ {
		s := scalar.Data[p]
		for c := 0; c < 4; c++ {
			x, y := s, rgba.Data[p*4+c]
			if flip {
				x, y = y, x
			}
			out.Data[p*4+c] = fn(x, y)
		}
	}
	return out, nil
}

func (ev *evaluator) lerp(n *spec.TextureNode, inputs []*Field) (*Field, error) {
	a, b := inputs[0], inputs[1]
	if a.Channels != b.Channels {
		return nil, fmt.Errorf("lerp inputs must share channel count")
	}
	out := NewField(a.W, a.H, a.Channels)
	if len(inputs) == 3 {
		t := inputs[2]
		if t.Channels != 1 {
			return nil, fmt.Errorf("lerp t input must be scalar")
		}
		for p := 0; p < a.W*a.H; p++ {
			tv := t.Data[p]
			for c := 0; c < a.Channels; c++ {
				i := p*a.Channels + c
				out.Data[i] = a.Data[i] + (b.Data[i]-a.Data[i])*tv
			}
		}
		return out, nil
	}
	tv := float32(n.T)
	for i := range a.Data {
		out.Data[i] = a.Data[i] + (b.Data[i]-a.Data[i])*tv
	}
	return out, nil
}

func toGrayscale(in *Field) *Field {
	if in.Channels == 1 {
		return mapField(in, func(v float32) float32 { return v })
	}
	out := NewField(in.W, in.H, 1)
	for p := 0; p < in.W*in.H; p++ {
		r, g, b := in.Data[p*4], in.Data[p*4+1], in.Data[p*4+2]
		out.Data[p] = 0.299*r + 0.587*g + 0.114*b
	}
	return out
}

// colorRamp maps a scalar field through ordered color stops, interpolating
// linearly in RGB.
func colorRamp(in *Field, stops []spec.ColorStop) *Field {
	out := NewField(in.W, in.H, 4)
	for p := 0; p < in.W*in.H; p++ {
		v := float64(in.Data[p*in.Channels])
		c := rampColor(stops, v)
		for k := 0; k < 4; k++ {
			out.Data[p*4+k] = float32(clamp01(c[k]))
		}
	}
	return out
}

func rampColor(stops []spec.ColorStop, v float64) [4]float64 {
	if v <= stops[0].Pos {
		return stops[0].Color
	}
	last := stops[len(stops)-1]
	if v >= last.Pos {
		return last.Color
	}
	for i := 1; i < len(stops); i++ {
		if v <= stops[i].Pos {
			a, b := stops[i-1], stops[i]
			span := b.Pos - a.Pos
			t := 0.0
			if span > 0 {
				t = (v - a.Pos) / span
			}
			var c [4]float64
			for k := 0; k < 4; k++ {
				c[k] = a.Color[k] + (b.Color[k]-a.Color[k])*t
			}
			return c
		}
	}
	return last.Color
}

// palette quantizes to the nearest color by Euclidean RGB distance.
func palette(in *Field, colors [][4]float64) *Field {
	out := NewField(in.W, in.H, 4)
	for p := 0; p < in.W*in.H; p++ {
		var r, g, b, a float64
		if in.Channels == 1 {
			v := float64(in.Data[p])
			r, g, b, a = v, v, v, 1
		} else {
			r = float64(in.Data[p*4])
			g = float64(in.Data[p*4+1])
			b = float64(in.Data[p*4+2])
			a = float64(in.Data[p*4+3])
		}
		best, bestDist := 0, math.MaxFloat64
		for i, c := range colors {
			d := (r-c[0])*(r-c[0]) + (g-c[1])*(g-c[1]) + (b-c[2])*(b-c[2])
			if d < bestDist {
				best, bestDist = i, d
			}
		}
		c := colors[best]
		out.Data[p*4] = float32(clamp01(c[0]))
		out.Data[p*4+1] = float32(clamp01(c[1]))
		out.Data[p*4+2] = float32(clamp01(c[2]))
		out.Data[p*4+3] = float32(clamp01(a))
	}
	return out
}

func composeRGBA(inputs []*Field) (*Field, error) {
	for _, in := range inputs {
		if in.Channels != 1 {
			return nil, fmt.Errorf("compose_rgba inputs must be scalar")
		}
	}
	w, h := inputs[0].W, inputs[0].H
	out := NewField(w, h, 4)
	for p := 0; p < w*h; p++ {
		out.Data[p*4] = clamp01f(inputs[0].Data[p])
		out.Data[p*4+1] = clamp01f(inputs[1].Data[p])
		out.Data[p*4+2] = clamp01f(inputs[2].Data[p])
		if len(inputs) == 4 {
			out.Data[p*4+3] = clamp01f(inputs[3].Data[p])
		} else {
			out.Data[p*4+3] = 1
		}
	}
	return out, nil
}

// normalFromHeight derives a tangent-space normal map from a height field
// using a Sobel 3x3 kernel.
func (ev *evaluator) normalFromHeight(in *Field, strength float64) *Field {
	if strength == 0 {
		strength = 1
	}
	out := NewField(in.W, in.H, 4)
	wrap := ev.tileable
	for y := 0; y < in.H; y++ {
		for x := 0; x < in.W; x++ {
			tl := float64(in.AtWrapped(x-1, y-1, 0, wrap))
			t := float64(in.AtWrapped(x, y-1, 0, wrap))
			tr := float64(in.AtWrapped(x+1, y-1, 0, wrap))
			l := float64(in.AtWrapped(x-1, y, 0, wrap))
			r := float64(in.AtWrapped(x+1, y, 0, wrap))
			bl := float64(in.AtWrapped(x-1, y+1, 0, wrap))
			b := float64(in.AtWrapped(x, y+1, 0, wrap))
			br := float64(in.AtWrapped(x+1, y+1, 0, wrap))

			dx := (tr + 2*r + br - tl - 2*l - bl) * strength
			dy := (bl + 2*b + br - tl - 2*t - tr) * strength

			nx, ny, nz := -dx, -dy, 1.0
			inv := 1 / math.Sqrt(nx*nx+ny*ny+nz*nz)
			out.Set(x, y, 0, float32(nx*inv*0.5+0.5))
			out.Set(x, y, 1, float32(ny*inv*0.5+0.5))
			out.Set(x, y, 2, float32(nz*inv*0.5+0.5))
			out.Set(x, y, 3, 1)
		}
	}
	return out
}

// wangTiles retiles the source stochastically with matched edges: edge
// colors are assigned so neighbors share their common edge, and each tile's
// source offset is derived from its edge signature.
func (ev *evaluator) wangTiles(n *spec.TextureNode, in *Field) *Field {
	div := n.TileDivisions
	out := NewField(in.W, in.H, in.Channels)
	r := rng.New(ev.nodeSeed(n.ID))

	// Horizontal edge colors: (div+1) x div; vertical: div x (div+1).
	hEdge := make([]int, (div+1)*div)
	vEdge := make([]int, div*(div+1))
	for i := range hEdge {
		hEdge[i] = r.Intn(2)
	}
	for i := range vEdge {
		vEdge[i] = r.Intn(2)
	}

	tw, th := in.W/div, in.H/div
	for ty := 0; ty < div; ty++ {
		for tx := 0; tx < div; tx++ {
			north := hEdge[ty*div+tx]
			south := hEdge[(ty+1)*div+tx]
			west := vEdge[ty*(div+1)+tx]
			east := vEdge[ty*(div+1)+tx+1]
			sig := north<<3 | east<<2 | south<<1 | west

			// Source offset depends only on the edge signature, so equal
			// signatures reuse identical patches and edges match.
			ox := (sig * 7919) % maxInt(1, in.W-tw+1)
			oy := (sig * 104729) % maxInt(1, in.H-th+1)

			for y := 0; y < th; y++ {
				for x := 0; x < tw; x++ {
					for c := 0; c < in.Channels; c++ {
						out.Set(tx*tw+x, ty*th+y, c, in.At(ox+x, oy+y, c))
					}
				}
			}
		}
	}
	return out
}

// textureBomb stamps scaled, rotated copies of the source across the canvas.
func (ev *evaluator) textureBomb(n *spec.TextureNode, in *Field) *Field {
	out := NewField(in.W, in.H, in.Channels)
	r := rng.New(ev.nodeSeed(n.ID))

	count := int(n.Density * float64(in.W*in.H) / 1024.0)
	if count < 1 {
		count = 1
	}
	loScale, hiScale := n.ScaleRange[0], n.ScaleRange[1]
	if loScale <= 0 {
		loScale = 1
	}
	if hiScale < loScale {
		hiScale = loScale
	}
	maxRot := n.Rotation * math.Pi / 180

	for s := 0; s < count; s++ {
		cx := r.Float64() * float64(in.W)
		cy := r.Float64() * float64(in.H)
		scale := r.Range(loScale, hiScale)
		rot := r.Range(-maxRot, maxRot)
		sin, cos := math.Sincos(rot)

		half := float64(in.W) * scale / 2
		x0, x1 := int(cx-half), int(cx+half)
		y0, y1 := int(cy-half), int(cy+half)

		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				// Inverse transform back into stamp space.
				dx, dy := float64(x)-cx, float64(y)-cy
				sx := (dx*cos + dy*sin) / scale
				sy := (-dx*sin + dy*cos) / scale
				u := sx + float64(in.W)/2
				v := sy + float64(in.H)/2
				if u < 0 || v < 0 || u >= float64(in.W) || v >= float64(in.H) {
					continue
				}

				px, py := x, y
				if ev.tileable {
					px = ((px % in.W) + in.W) % in.W
					py = ((py % in.H) + in.H) % in.H
				} else if px < 0 || py < 0 || px >= in.W || py >= in.H {
					continue
				}

				for c := 0; c < in.Channels; c++ {
					sv := bilinear(in, u, v, c, ev.tileable)
					cur := out.At(px, py, c)
					var nv float32
					switch n.BlendMode {
					case "max":
						nv = cur
						if sv > nv {
							nv = sv
						}
					case "over":
						nv = sv
					default: // add
						nv = clamp01f(cur + sv)
					}
					out.Set(px, py, c, nv)
				}
			}
		}
	}
	return out
}

// bilinear samples a field at a fractional coordinate.
func bilinear(f *Field, u, v float64, c int, wrap bool) float32 {
	x0, y0 := int(math.Floor(u)), int(math.Floor(v))
	fx, fy := float32(u-float64(x0)), float32(v-float64(y0))

	s00 := f.AtWrapped(x0, y0, c, wrap)
	s10 := f.AtWrapped(x0+1, y0, c, wrap)
	s01 := f.AtWrapped(x0, y0+1, c, wrap)
	s11 := f.AtWrapped(x0+1, y0+1, c, wrap)

	top := s00 + (s10-s00)*fx
	bot := s01 + (s11-s01)*fx
	return top + (bot-top)*fy
}

// blur applies a separable box blur.
func (ev *evaluator) blur(in *Field, radius float64) *Field {
	r := int(radius)
	if r < 1 {
		return mapField(in, func(v float32) float32 { return v })
	}
	wrap := ev.tileable
	tmp := NewField(in.W, in.H, in.Channels)
	out := NewField(in.W, in.H, in.Channels)
	norm := float32(2*r + 1)

	for y := 0; y < in.H; y++ {
		for x := 0; x < in.W; x++ {
			for c := 0; c < in.Channels; c++ {
				var sum float32
				for k := -r; k <= r; k++ {
					sum += in.AtWrapped(x+k, y, c, wrap)
				}
				tmp.Set(x, y, c, sum/norm)
			}
		}
	}
	for y := 0; y < in.H; y++ {
		for x := 0; x < in.W; x++ {
			for c := 0; c < in.Channels; c++ {
				var sum float32
				for k := -r; k <= r; k++ {
					sum += tmp.AtWrapped(x, y+k, c, wrap)
				}
				out.Set(x, y, c, sum/norm)
			}
		}
	}
	return out
}

// warp displaces the source by the scalar displacement field, amount pixels
// at full deflection.
func (ev *evaluator) warp(src, disp *Field, amount float64) *Field {
	out := NewField(src.W, src.H, src.Channels)
	for y := 0; y < src.H; y++ {
		for x := 0; x < src.W; x++ {
			d := float64(disp.At(x, y, 0)) - 0.5
			u := float64(x) + d*amount
			v := float64(y) + d*amount
			for c := 0; c < src.Channels; c++ {
				out.Set(x, y, c, bilinear(src, u, v, c, ev.tileable))
			}
		}
	}
	return out
}

// morphology dilates or erodes with a square structuring element.
func (ev *evaluator) morphology(in *Field, radius float64, mode string) *Field {
	r := int(radius)
	if r < 1 {
		r = 1
	}
	wrap := ev.tileable
	out := NewField(in.W, in.H, in.Channels)
	for y := 0; y < in.H; y++ {
		for x := 0; x < in.W; x++ {
			for c := 0; c < in.Channels; c++ {
				var best float32
				if mode == "erode" {
					best = 1
				}
				for dy := -r; dy <= r; dy++ {
					for dx := -r; dx <= r; dx++ {
						v := in.AtWrapped(x+dx, y+dy, c, wrap)
						if mode == "erode" {
							if v < best {
								best = v
							}
						} else if v > best {
							best = v
						}
					}
				}
				out.Set(x, y, c, best)
			}
		}
	}
	return out
}

func clamp01f(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
