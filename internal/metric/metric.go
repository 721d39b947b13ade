// Package metric computes per-channel distortion scores between pictures.
package metric

import (
	"errors"
	"image"
	"math"
)

// Indices into the result of Distortion.
const (
	R = iota
	G
	B
	A
	All
)

var ErrDimensionMismatch = errors.New("metric: picture dimensions differ")

// PSNRFromSSE converts a sum of squared errors over count samples to a
// PSNR score in dB. A zero error yields 99.0 rather than infinity.
func PSNRFromSSE(sse uint64, count int) float64 {
	if sse == 0 || count == 0 {
		return 99.0
	}
	mse := float64(sse) / float64(count)
	return 10.0 * math.Log10(255.0*255.0/mse)
}

// Distortion returns the PSNR of pic relative to ref for the R, G, B and A
// channels plus the combined score over all four, in that order. Both
// pictures must have the same dimensions.
func Distortion(ref, pic *image.NRGBA) ([5]float64, error) {
	var out [5]float64
	w, h := ref.Rect.Dx(), ref.Rect.Dy()
	if w != pic.Rect.Dx() || h != pic.Rect.Dy() {
		return out, ErrDimensionMismatch
	}
	var sse [4]uint64
	for y := 0; y < h; y++ {
		ro := ref.PixOffset(ref.Rect.Min.X, ref.Rect.Min.Y+y)
		po := pic.PixOffset(pic.Rect.Min.X, pic.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			for k := 0; k < 4; k++ {
				d := int(ref.Pix[ro+4*x+k]) - int(pic.Pix[po+4*x+k])
				sse[k] += uint64(d * d)
			}
		}
	}
	count := w * h
	var total uint64
	for k := 0; k < 4; k++ {
		out[k] = PSNRFromSSE(sse[k], count)
		total += sse[k]
	}
	out[All] = PSNRFromSSE(total, 4*count)
	return out, nil
}

// PSNR returns the combined all-channel PSNR of pic relative to ref.
func PSNR(ref, pic *image.NRGBA) (float64, error) {
	d, err := Distortion(ref, pic)
	if err != nil {
		return 0, err
	}
	return d[All], nil
}
