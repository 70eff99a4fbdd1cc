package lint

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"
)

// CheckPNG runs the texture rule set over encoded PNG bytes.
func CheckPNG(data []byte, tileable bool, opts *Options) ([]Issue, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	issues := checkImage(img, tileable)
	return filter(issues, opts), nil
}

func checkImage(img image.Image, tileable bool) []Issue {
	var issues []Issue
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	total := w * h

	// Single pass statistics.
	var sumLum float64
	minLum, maxLum := 1.0, 0.0
	black, white, zeroAlpha := 0, 0, 0
	hist := [64]int{}
	var sumR, sumG, sumB float64

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			rf, gf, bf := float64(r)/65535, float64(g)/65535, float64(b)/65535
			lum := 0.299*rf + 0.587*gf + 0.114*bf

			sumLum += lum
			sumR += rf
			sumG += gf
			sumB += bf
			if lum < minLum {
				minLum = lum
			}
			if lum > maxLum {
				maxLum = lum
			}
			if lum < 0.02 {
				black++
			}
			if lum > 0.98 {
				white++
			}
			if a == 0 {
				zeroAlpha++
			}
			bin := int(lum * 63.999)
			hist[bin]++
		}
	}

	if black == total {
		issues = append(issues, Issue{
			RuleID: "texture/all-black", Severity: SeverityError,
			Message:    "every pixel is black",
			Suggestion: "check node graph output range",
		})
	}
	if white == total {
		issues = append(issues, Issue{
			RuleID: "texture/all-white", Severity: SeverityError,
			Message:    "every pixel is white",
			Suggestion: "check node graph output range",
		})
	}
	if zeroAlpha > 0 && zeroAlpha < total/100 {
		issues = append(issues, Issue{
			RuleID: "texture/corrupt-alpha", Severity: SeverityWarning,
			Message:    fmt.Sprintf("%d scattered fully-transparent pixels", zeroAlpha),
			Suggestion: "clamp the alpha input of compose_rgba",
		})
	}
	if maxLum-minLum < 0.1 && black != total && white != total {
		issues = append(issues, Issue{
			RuleID: "texture/low-contrast", Severity: SeverityWarning,
			Message:    fmt.Sprintf("luminance range %.3f is very narrow", maxLum-minLum),
			Suggestion: "stretch with a color_ramp or threshold",
		})
	}

	// texture/banding: most pixels concentrated in very few histogram bins
	// while spanning a wide range.
	occupied := 0
	for _, c := range hist {
		if c > 0 {
			occupied++
		}
	}
	if occupied > 2 && occupied < 8 && maxLum-minLum > 0.3 {
		issues = append(issues, Issue{
			RuleID: "texture/banding", Severity: SeverityWarning,
			Message:    fmt.Sprintf("luminance quantized into %d bands", occupied),
			Suggestion: "add low-amplitude noise to dither gradients",
		})
	}

	// texture/tile-seam: edge discontinuity on declared-tileable textures.
	if tileable && w > 2 && h > 2 {
		seam := seamScore(img)
		if seam > 0.1 {
			issues = append(issues, Issue{
				RuleID: "texture/tile-seam", Severity: SeverityWarning,
				Message:    fmt.Sprintf("edge mismatch %.3f on a tileable texture", seam),
				Suggestion: "ensure every node respects the tileable flag",
			})
		}
	}

	// texture/noisy: mean absolute neighbor difference.
	if w > 1 && h > 1 {
		rough := roughness(img)
		if rough > 0.25 {
			issues = append(issues, Issue{
				RuleID: "texture/noisy", Severity: SeverityWarning,
				Message:    fmt.Sprintf("mean neighbor delta %.3f is very rough", rough),
				Suggestion: "blur the output or lower noise octaves",
			})
		}
	}

	// texture/color-cast: one channel dominating the average.
	meanR, meanG, meanB := sumR/float64(total), sumG/float64(total), sumB/float64(total)
	meanAll := (meanR + meanG + meanB) / 3
	if meanAll > 0.05 {
		maxDev := math.Max(math.Abs(meanR-meanAll), math.Max(math.Abs(meanG-meanAll), math.Abs(meanB-meanAll)))
		if maxDev/meanAll > 0.5 {
			issues = append(issues, Issue{
				RuleID: "texture/color-cast", Severity: SeverityInfo,
				Message:    fmt.Sprintf("channel means R=%.2f G=%.2f B=%.2f are strongly unbalanced", meanR, meanG, meanB),
				Suggestion: "verify the color ramp or palette choices",
			})
		}
	}

	// texture/power-of-two.
	if !isPow2(w) || !isPow2(h) {
		issues = append(issues, Issue{
			RuleID: "texture/power-of-two", Severity: SeverityWarning,
			Message:    fmt.Sprintf("%dx%d is not power-of-two", w, h),
			Suggestion: "GPU mipmapping prefers power-of-two sizes",
		})
	}

	// texture/large-solid-regions: downscale, then count identical blocks.
	if w >= 32 && h >= 32 {
		frac := solidRegionFraction(img)
		if frac > 0.5 && black != total && white != total {
			issues = append(issues, Issue{
				RuleID: "texture/large-solid-regions", Severity: SeverityInfo,
				Message:    fmt.Sprintf("%.0f%% of the texture is flat", frac*100),
				Suggestion: "add detail nodes or reduce resolution",
			})
		}
	}

	return issues
}

func seamScore(img image.Image) float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var seam, interior float64
	for y := 0; y < h; y++ {
		seam += lumDiff(img, 0, y, w-1, y)
		interior += lumDiff(img, w/2, y, w/2-1, y)
	}
	for x := 0; x < w; x++ {
		seam += lumDiff(img, x, 0, x, h-1)
		interior += lumDiff(img, x, h/2, x, h/2-1)
	}
	count := float64(w + h)
	return seam/count - interior/count
}

func lumDiff(img image.Image, x0, y0, x1, y1 int) float64 {
	b := img.Bounds()
	r0, g0, b0, _ := img.At(b.Min.X+x0, b.Min.Y+y0).RGBA()
	r1, g1, b1, _ := img.At(b.Min.X+x1, b.Min.Y+y1).RGBA()
	l0 := (0.299*float64(r0) + 0.587*float64(g0) + 0.114*float64(b0)) / 65535
	l1 := (0.299*float64(r1) + 0.587*float64(g1) + 0.114*float64(b1)) / 65535
	return math.Abs(l0 - l1)
}

func roughness(img image.Image) float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	var sum float64
	var count int
	for y := 0; y < h; y++ {
		for x := 1; x < w; x++ {
			sum += lumDiff(img, x, y, x-1, y)
			count++
		}
	}
	return sum / float64(count)
}

// solidRegionFraction downscales to a 16x16 grid and reports the fraction
// of grid cells whose source blocks are a single flat value.
func solidRegionFraction(img image.Image) float64 {
	small := image.NewRGBA(image.Rect(0, 0, 16, 16))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	bounds := img.Bounds()
	bw, bh := bounds.Dx()/16, bounds.Dy()/16
	flat := 0
	for cy := 0; cy < 16; cy++ {
		for cx := 0; cx < 16; cx++ {
			// Sample the source block corners against its downscaled value.
			sr, sg, sb, _ := small.At(cx, cy).RGBA()
			same := true
			for _, pt := range [4][2]int{{0, 0}, {bw - 1, 0}, {0, bh - 1}, {bw - 1, bh - 1}} {
				r, g, b, _ := img.At(bounds.Min.X+cx*bw+pt[0], bounds.Min.Y+cy*bh+pt[1]).RGBA()
				if absDiff(r, sr) > 600 || absDiff(g, sg) > 600 || absDiff(b, sb) > 600 {
					same = false
					break
				}
			}
			if same {
				flat++
			}
		}
	}
	return float64(flat) / 256.0
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}
