package thumbnailer

import (
	"fmt"
	"sort"
)

// generateSlopeOptim runs the slope-aware lossy pass, upgrades frames to
// near-lossless where that does not grow the animation, then keeps
// re-spending whatever budget is left on extra lossy quality until the
// animation stops changing size.
func (t *Thumbnailer) generateSlopeOptim() ([]byte, error) {
	data, err := t.lossyEncodeSlopeOptim()
	if err != nil {
		return nil, err
	}
	data, err = t.tryNearLossless()
	if err != nil {
		return nil, err
	}

	currSize := len(data)
	for {
		data, err = t.extraLossyEncode(data)
		if err != nil {
			return nil, err
		}
		if len(data) == currSize {
			break
		}
		currSize = len(data)
	}
	return data, nil
}

// frameSlope measures the rate-distortion slope of frame ind between two
// qualities: dB gained per extra byte spent.
func (t *Thumbnailer) frameSlope(ind, lowQ, highQ int) (float64, error) {
	f := t.frames[ind]
	f.config.Quality = lowQ
	lowSize, lowPSNR, err := t.pictureStats(ind)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSlopeOptim, err)
	}
	f.config.Quality = highQ
	highSize, highPSNR, err := t.pictureStats(ind)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSlopeOptim, err)
	}
	if highSize == lowSize {
		return 0, nil
	}
	return (highPSNR - lowPSNR) / float64(highSize-lowSize), nil
}

// findMedianSlope measures each frame's slope between quality 100 and the
// leftmost quality whose PSNR sits within SlopeDPSNR of quality 100, and
// returns the median across frames. Frames whose slope exceeds the median
// still gain meaningful quality per byte.
func (t *Thumbnailer) findMedianSlope() (float64, error) {
	slopes := make([]float64, 0, len(t.frames))
	for i, f := range t.frames {
		f.config.Quality = maxQuality
		size100, psnr100, err := t.pictureStats(i)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrSlopeOptim, err)
		}

		lo, hi := 0, maxQuality
		slope := 0.0
		for lo <= hi {
			mid := (lo + hi) / 2
			f.config.Quality = mid
			size, psnr, err := t.pictureStats(i)
			if err != nil {
				return 0, fmt.Errorf("%w: %v", ErrSlopeOptim, err)
			}
			if psnr100-psnr <= t.opts.SlopeDPSNR {
				if size100 != size {
					slope = (psnr100 - psnr) / float64(size100-size)
				} else {
					slope = 0
				}
				hi = mid - 1
			} else {
				lo = mid + 1
			}
		}
		slopes = append(slopes, slope)
	}
	sort.Float64s(slopes)
	return slopes[len(slopes)/2], nil
}

// lossyEncodeSlopeOptim binary-searches a shared quality like the
// equal-quality pass, but once a frame's slope over the remaining search
// window falls to the median or below, the frame stops moving and keeps
// its last committed quality. Flat-curve frames thus release budget to
// frames that still benefit from it.
func (t *Thumbnailer) lossyEncodeSlopeOptim() ([]byte, error) {
	limitSlope, err := t.findMedianSlope()
	if err != nil {
		return nil, err
	}

	optimList := make([]int, len(t.frames))
	for i := range optimList {
		optimList[i] = i
	}

	minQ, maxQ := t.opts.MinLossyQuality, maxQuality
	var best []byte

	for minQ <= maxQ && len(optimList) > 0 {
		midQ := (minQ + maxQ) / 2
		var moving []int
		for _, ind := range optimList {
			slope, err := t.frameSlope(ind, minQ, maxQ)
			if err != nil {
				return nil, err
			}
			if t.frames[ind].finalQuality == -1 || slope > limitSlope {
				t.frames[ind].config.Quality = midQ
				moving = append(moving, ind)
			} else {
				t.frames[ind].config.Quality = t.frames[ind].finalQuality
			}
		}
		if len(moving) == 0 {
			break
		}
		data, err := t.assembleAnimation()
		if err != nil {
			return nil, err
		}
		if len(data) <= t.opts.ByteBudget {
			for _, ind := range moving {
				t.frames[ind].finalQuality = midQ
			}
			best = data
			minQ = midQ + 1
		} else {
			maxQ = midQ - 1
		}
		optimList = moving
	}

	if best == nil {
		return nil, ErrByteBudget
	}

	for i, f := range t.frames {
		f.config.Quality = f.finalQuality
		size, psnr, err := t.pictureStats(i)
		if err != nil {
			return nil, err
		}
		f.encodedSize = size
		f.finalPSNR = psnr
		t.verbosef("frame %d: quality %d\n", i, f.finalQuality)
	}
	return best, nil
}

// tryNearLossless upgrades frames to near-lossless where the upgrade
// improves the frame's PSNR without growing it past its committed lossy
// size. Unlike nearLosslessDiff this never spends budget headroom, so the
// animation can only shrink or keep its size; the headroom stays intact
// for extraLossyEncode.
func (t *Thumbnailer) tryNearLossless() ([]byte, error) {
	for i, f := range t.frames {
		lossySize := f.encodedSize
		currPSNR := f.finalPSNR
		final := -1

		f.config.Lossless = true
		f.config.Quality = nearLosslessQuality
		f.config.NearLossless = 0
		size, _, err := t.pictureStats(i)
		if err != nil {
			return nil, err
		}

		// The coarsest strength yields the smallest near-lossless
		// encoding; if even that overshoots the lossy size, no
		// strength can help.
		if size <= lossySize {
			minNL, maxNL := 0, 100
			for minNL <= maxNL {
				mid := (minNL + maxNL) / 2
				f.config.NearLossless = mid
				size, psnr, err := t.pictureStats(i)
				if err != nil {
					return nil, err
				}
				if size > lossySize {
					maxNL = mid - 1
					continue
				}
				if psnr > currPSNR {
					final = mid
					f.encodedSize = size
					f.finalPSNR = psnr
					f.finalQuality = nearLosslessQuality
					f.nearLossless = true
					currPSNR = psnr
				}
				minNL = mid + 1
			}
		}

		if final == -1 {
			f.config.Lossless = false
			f.config.NearLossless = 100
			f.config.Quality = f.finalQuality
		} else {
			f.config.NearLossless = final
			t.verbosef("frame %d: near-lossless strength %d\n", i, final)
		}
	}

	return t.assembleAnimation()
}

// extraLossyEncode re-encodes each frame at a higher lossy quality when
// doing so improves its score and the extra bytes fit inside the frame's
// even share of the remaining budget. Frames upgraded to near-lossless
// search the top of the quality scale instead; they revert to lossless
// encoding if nothing better is found.
func (t *Thumbnailer) extraLossyEncode(data []byte) ([]byte, error) {
	animSize := t.animationSize(data)
	if animSize > t.opts.ByteBudget {
		return data, nil
	}

	remaining := len(t.frames)
	for i, f := range t.frames {
		minQ := 70
		if !f.config.Lossless {
			minQ = f.finalQuality
		}
		maxQ := minQ + 30
		if maxQ > maxQuality {
			maxQ = maxQuality
		}
		f.config.Lossless = false

		for minQ <= maxQ {
			mid := (minQ + maxQ) / 2
			f.config.Quality = mid
			size, psnr, err := t.pictureStats(i)
			if err != nil {
				return nil, err
			}
			if psnr < f.finalPSNR || (psnr == f.finalPSNR && size > f.encodedSize) {
				minQ = mid + 1
				continue
			}
			extra := float64(t.opts.ByteBudget-animSize) / float64(remaining)
			if float64(size-f.encodedSize) > extra {
				maxQ = mid - 1
				continue
			}
			animSize += size - f.encodedSize
			f.encodedSize = size
			f.finalPSNR = psnr
			f.finalQuality = mid
			f.nearLossless = false
			minQ = mid + 1
		}
		remaining--
	}

	for _, f := range t.frames {
		f.config.Quality = f.finalQuality
		f.config.Lossless = f.nearLossless
	}
	return t.assembleAnimation()
}
