// Package nearlossless quantizes a picture ahead of lossless encoding.
//
// Pixel channels are nudged to multiples of a power of two, within a
// guaranteed maximum deviation, so that the lossless encoder finds longer
// runs and cheaper residuals. Smooth areas and picture borders are left
// untouched to avoid visible banding.
package nearlossless

import (
	"image"
	"image/draw"
)

const (
	// minDim is the smallest dimension worth filtering. Icon-sized
	// pictures compress well enough losslessly as-is.
	minDim = 64
	// maxLimitBits is the coarsest quantization level.
	maxLimitBits = 5
)

// Bits maps a filter strength to a quantization level:
//
//	100     -> 0 (no filtering)
//	80..99  -> 1
//	60..79  -> 2
//	40..59  -> 3
//	20..39  -> 4
//	 0..19  -> 5
func Bits(strength int) int {
	return maxLimitBits - strength/20
}

// closestDiscretized moves v up or down to a multiple of 1<<bits (or to
// 255), whichever is closer, resolving ties with banker's rounding.
func closestDiscretized(v uint32, bits uint) uint32 {
	mask := (uint32(1) << bits) - 1
	biased := v + (mask >> 1) + ((v >> bits) & 1)
	if biased > 0xff {
		return 0xff
	}
	return biased & ^mask
}

func discretizedARGB(p uint32, bits uint) uint32 {
	return (closestDiscretized(p>>24, bits) << 24) |
		(closestDiscretized((p>>16)&0xff, bits) << 16) |
		(closestDiscretized((p>>8)&0xff, bits) << 8) |
		closestDiscretized(p&0xff, bits)
}

// isNear reports whether every channel of a and b differs by strictly
// less than limit.
func isNear(a, b uint32, limit int) bool {
	for k := uint(0); k < 4; k++ {
		delta := int((a>>(k*8))&0xff) - int((b>>(k*8))&0xff)
		if delta >= limit || delta <= -limit {
			return false
		}
	}
	return true
}

func isSmooth(prevRow, currRow, nextRow []uint32, x, limit int) bool {
	return isNear(currRow[x], currRow[x-1], limit) &&
		isNear(currRow[x], currRow[x+1], limit) &&
		isNear(currRow[x], prevRow[x], limit) &&
		isNear(currRow[x], nextRow[x], limit)
}

// pass applies one quantization pass at the given level, reading and
// writing pix in place. Border rows and columns are copied verbatim.
func pass(width, height int, pix []uint32, limitBits uint) {
	limit := 1 << limitBits

	prevRow := make([]uint32, width)
	currRow := make([]uint32, width)
	nextRow := make([]uint32, width)

	copy(currRow, pix[:width])
	if height > 1 {
		copy(nextRow, pix[width:2*width])
	}

	off := 0
	for y := 0; y < height; y++ {
		if y > 0 && y < height-1 {
			copy(nextRow, pix[off+width:off+2*width])
			for x := 1; x < width-1; x++ {
				if !isSmooth(prevRow, currRow, nextRow, x, limit) {
					pix[off+x] = discretizedARGB(currRow[x], limitBits)
				}
			}
		}
		prevRow, currRow, nextRow = currRow, nextRow, prevRow
		off += width
	}
}

// Apply filters pic at the given strength (0 coarsest, 100 none) and
// returns the result. The input picture is never modified: when the
// filter applies, a new picture is returned; otherwise pic itself is.
func Apply(pic image.Image, strength int) image.Image {
	limitBits := Bits(strength)
	if limitBits <= 0 {
		return pic
	}
	if limitBits > maxLimitBits {
		limitBits = maxLimitBits
	}
	b := pic.Bounds()
	width, height := b.Dx(), b.Dy()
	if (width < minDim && height < minDim) || height < 3 {
		return pic
	}

	src, ok := pic.(*image.NRGBA)
	if !ok {
		src = image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(src, src.Bounds(), pic, b.Min, draw.Src)
	}

	pix := make([]uint32, width*height)
	for y := 0; y < height; y++ {
		o := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		for x := 0; x < width; x++ {
			p := src.Pix[o+4*x:]
			pix[y*width+x] = uint32(p[3])<<24 | uint32(p[0])<<16 |
				uint32(p[1])<<8 | uint32(p[2])
		}
	}

	pass(width, height, pix, uint(limitBits))
	for i := limitBits - 1; i >= 1; i-- {
		pass(width, height, pix, uint(i))
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		o := dst.PixOffset(0, y)
		for x := 0; x < width; x++ {
			p := pix[y*width+x]
			dst.Pix[o+4*x+0] = uint8(p >> 16)
			dst.Pix[o+4*x+1] = uint8(p >> 8)
			dst.Pix[o+4*x+2] = uint8(p)
			dst.Pix[o+4*x+3] = uint8(p >> 24)
		}
	}
	return dst
}
