package thumbnailer

import "math"

// generateEqualPSNR starts from the equal-quality animation and sweeps
// integer PSNR targets downward from the best frame's score, keeping the
// first target every frame can reach within the byte budget. If no target
// works, the equal-quality animation is returned as-is.
func (t *Thumbnailer) generateEqualPSNR() ([]byte, error) {
	base, err := t.generateEqualQuality()
	if err != nil {
		return nil, err
	}

	highPSNR, lowPSNR := math.MinInt, math.MaxInt
	for _, f := range t.frames {
		p := int(math.Floor(f.finalPSNR))
		if p > highPSNR {
			highPSNR = p
		}
		if p < lowPSNR {
			lowPSNR = p
		}
	}

	for target := highPSNR; target >= lowPSNR; target-- {
		ok, data, err := t.tryTargetPSNR(target)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for i, f := range t.frames {
			size, psnr, err := t.pictureStats(i)
			if err != nil {
				return nil, err
			}
			f.finalQuality = f.config.Quality
			f.encodedSize = size
			f.finalPSNR = psnr
		}
		t.verbosef("final PSNR: %d\n", target)
		return data, nil
	}

	// No shared target fits; keep the equal-quality result and restore
	// the configurations the failed attempts disturbed.
	for _, f := range t.frames {
		f.config.Quality = f.finalQuality
	}
	return base, nil
}

// tryTargetPSNR assigns each frame the highest quality whose PSNR stays at
// or below the integer target, then checks the assembled animation against
// the byte budget. A frame whose curve cannot reach the target at all
// fails the attempt immediately.
func (t *Thumbnailer) tryTargetPSNR(target int) (bool, []byte, error) {
	for i, f := range t.frames {
		f.config.Quality = 0
		_, lowest, err := t.pictureStats(i)
		if err != nil {
			return false, nil, err
		}
		f.config.Quality = maxQuality
		_, highest, err := t.pictureStats(i)
		if err != nil {
			return false, nil, err
		}
		if target > int(math.Floor(highest)) || target < int(math.Floor(lowest)) {
			return false, nil, nil
		}

		lo, hi, quality := 0, maxQuality, -1
		for lo <= hi {
			mid := (lo + hi) / 2
			f.config.Quality = mid
			_, psnr, err := t.pictureStats(i)
			if err != nil {
				return false, nil, err
			}
			if int(math.Floor(psnr)) <= target {
				quality = mid
				lo = mid + 1
			} else {
				hi = mid - 1
			}
		}
		f.config.Quality = quality
	}

	data, err := t.assembleAnimation()
	if err != nil {
		return false, nil, err
	}
	if len(data) > t.opts.ByteBudget {
		return false, nil, nil
	}
	return true, data, nil
}
