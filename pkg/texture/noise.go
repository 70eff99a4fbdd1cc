// Package texture evaluates procedural node graphs into deterministic rasters.
package texture

import (
	"math"

	"github.com/opd-ai/speccade/pkg/rng"
)

// noiseGen holds the seeded lattice state for one noise node. The
// permutation table is shuffled once from the node's derived seed, so the
// node's output is independent of sibling evaluation order.
type noiseGen struct {
	perm    [512]int
	periodX int
	periodY int
}

// newNoiseGen builds a generator. periodX/periodY are the lattice periods
// for tileable sampling; zero disables wrapping.
func newNoiseGen(seed uint32, periodX, periodY int) *noiseGen {
	g := &noiseGen{periodX: periodX, periodY: periodY}
	r := rng.New(seed)
	var base [256]int
	for i := range base {
		base[i] = i
	}
	// Fisher-Yates from the node stream.
	for i := 255; i > 0; i-- {
		j := r.Intn(i + 1)
		base[i], base[j] = base[j], base[i]
	}
	for i := 0; i < 512; i++ {
		g.perm[i] = base[i&255]
	}
	return g
}

func (g *noiseGen) wrapX(xi int) int {
	if g.periodX > 0 {
		xi = ((xi % g.periodX) + g.periodX) % g.periodX
	}
	return xi
}

func (g *noiseGen) wrapY(yi int) int {
	if g.periodY > 0 {
		yi = ((yi % g.periodY) + g.periodY) % g.periodY
	}
	return yi
}

func (g *noiseGen) hash(xi, yi int) int {
	return g.perm[g.perm[g.wrapX(xi)&255]+g.wrapY(yi)&255]
}

// latticeValue returns a deterministic value in [0,1) at a lattice point.
func (g *noiseGen) latticeValue(xi, yi int) float64 {
	return float64(g.hash(xi, yi)) / 256.0
}

func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp64(a, b, t float64) float64 {
	return a + (b-a)*t
}

// gradients for perlin, 8 directions.
var grad2 = [8][2]float64{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{math.Sqrt2 / 2, math.Sqrt2 / 2}, {-math.Sqrt2 / 2, math.Sqrt2 / 2},
	{math.Sqrt2 / 2, -math.Sqrt2 / 2}, {-math.Sqrt2 / 2, -math.Sqrt2 / 2},
}

func (g *noiseGen) grad(xi, yi int, dx, dy float64) float64 {
	gr := grad2[g.hash(xi, yi)&7]
	return gr[0]*dx + gr[1]*dy
}

// Perlin returns gradient noise in [0,1].
func (g *noiseGen) Perlin(x, y float64) float64 {
	xi, yi := int(math.Floor(x)), int(math.Floor(y))
	xf, yf := x-float64(xi), y-float64(yi)

	u, v := fade(xf), fade(yf)

	n00 := g.grad(xi, yi, xf, yf)
	n10 := g.grad(xi+1, yi, xf-1, yf)
	n01 := g.grad(xi, yi+1, xf, yf-1)
	n11 := g.grad(xi+1, yi+1, xf-1, yf-1)

	n := lerp64(lerp64(n00, n10, u), lerp64(n01, n11, u), v)
	// Perlin 2D output lies in [-sqrt(2)/2, sqrt(2)/2]; rescale to [0,1].
	return clamp01(n*math.Sqrt2*0.5 + 0.5)
}

// Value returns interpolated lattice-value noise in [0,1].
func (g *noiseGen) Value(x, y float64) float64 {
	xi, yi := int(math.Floor(x)), int(math.Floor(y))
	xf, yf := x-float64(xi), y-float64(yi)

	u, v := fade(xf), fade(yf)

	n00 := g.latticeValue(xi, yi)
	n10 := g.latticeValue(xi+1, yi)
	n01 := g.latticeValue(xi, yi+1)
	n11 := g.latticeValue(xi+1, yi+1)

	return lerp64(lerp64(n00, n10, u), lerp64(n01, n11, u), v)
}

// simplex constants.
const (
	skewF   = 0.3660254037844386  // (sqrt(3)-1)/2
	unskewG = 0.21132486540518713 // (3-sqrt(3))/6
)

// Simplex returns 2D simplex noise in [0,1].
func (g *noiseGen) Simplex(x, y float64) float64 {
	s := (x + y) * skewF
	i, j := int(math.Floor(x+s)), int(math.Floor(y+s))

	t := float64(i+j) * unskewG
	x0 := x - (float64(i) - t)
	y0 := y - (float64(j) - t)

	var i1, j1 int
	if x0 > y0 {
		i1, j1 = 1, 0
	} else {
		i1, j1 = 0, 1
	}

	x1 := x0 - float64(i1) + unskewG
	y1 := y0 - float64(j1) + unskewG
	x2 := x0 - 1 + 2*unskewG
	y2 := y0 - 1 + 2*unskewG

	var n float64
	corner := func(cx, cy float64, xi, yi int) {
		tt := 0.5 - cx*cx - cy*cy
		if tt > 0 {
			tt *= tt
			n += tt * tt * g.grad(xi, yi, cx, cy)
		}
	}
	corner(x0, y0, i, j)
	corner(x1, y1, i+i1, j+j1)
	corner(x2, y2, i+1, j+1)

	return clamp01(n*35.0 + 0.5)
}

// Worley returns F1 cellular noise in [0,1]: the distance to the nearest
// feature point, normalized to the cell diagonal.
func (g *noiseGen) Worley(x, y float64) float64 {
	xi, yi := int(math.Floor(x)), int(math.Floor(y))

	minDist := math.MaxFloat64
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			cx, cy := xi+dx, yi+dy
			// Feature point inside the neighbor cell, derived from two
			// decorrelated lattice hashes.
			fx := float64(cx) + g.latticeValue(cx, cy)
			fy := float64(cy) + g.latticeValue(cx+97, cy+61)
			d := (x-fx)*(x-fx) + (y-fy)*(y-fy)
			if d < minDist {
				minDist = d
			}
		}
	}
	return clamp01(math.Sqrt(minDist) / math.Sqrt2)
}

// FBM sums octaves of Perlin noise.
func (g *noiseGen) FBM(x, y float64, octaves int, persistence, lacunarity float64) float64 {
	if octaves < 1 {
		octaves = 1
	}
	sum, amp, freq := 0.0, 1.0, 1.0
	norm := 0.0
	for o := 0; o < octaves; o++ {
		sum += (g.Perlin(x*freq, y*freq)*2 - 1) * amp
		norm += amp
		amp *= persistence
		freq *= lacunarity
	}
	return clamp01(sum/norm*0.5 + 0.5)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
