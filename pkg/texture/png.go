package texture

import (
	"bytes"
	"image"
	"image/png"
	"math"
)

// EncodePNG renders a field to deterministic PNG bytes: non-interlaced,
// default (level 6) compression, no ancillary chunks. The compression level
// is part of the backend version contract; changing it changes every
// texture hash.
func EncodePNG(f *Field) ([]byte, error) {
	var img image.Image
	if f.Channels == 1 {
		gray := image.NewGray(image.Rect(0, 0, f.W, f.H))
		for y := 0; y < f.H; y++ {
			for x := 0; x < f.W; x++ {
				gray.Pix[y*gray.Stride+x] = quantize(f.At(x, y, 0))
			}
		}
		img = gray
	} else {
		rgba := image.NewNRGBA(image.Rect(0, 0, f.W, f.H))
		for y := 0; y < f.H; y++ {
			for x := 0; x < f.W; x++ {
				i := y*rgba.Stride + x*4
				rgba.Pix[i] = quantize(f.At(x, y, 0))
				rgba.Pix[i+1] = quantize(f.At(x, y, 1))
				rgba.Pix[i+2] = quantize(f.At(x, y, 2))
				rgba.Pix[i+3] = quantize(f.At(x, y, 3))
			}
		}
		img = rgba
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// quantize maps [0,1] float to 8-bit with round-half-up, no gamma.
func quantize(v float32) uint8 {
	q := math.Floor(float64(v)*255.0 + 0.5)
	if q < 0 {
		return 0
	}
	if q > 255 {
		return 255
	}
	return uint8(q)
}
