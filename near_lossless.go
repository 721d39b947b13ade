package thumbnailer

import "sort"

// nearLosslessQuality is the lossless effort used for frames upgraded to
// near-lossless encoding.
const nearLosslessQuality = 90

// nearLosslessDiff walks the frames in timestamp order and, for each one,
// tries to replace its lossy encoding with a near-lossless one. The
// coarsest strength is probed first; if it fits the remaining budget, a
// binary search finds the finest strength that still fits and improves
// the frame's PSNR. Each strength is chosen per frame. Frames that gain
// nothing keep their lossy encoding.
func (t *Thumbnailer) nearLosslessDiff(data []byte) ([]byte, error) {
	animSize := t.animationSize(data)

	for i, f := range t.frames {
		currSize, currPSNR := f.encodedSize, f.finalPSNR
		final := -1

		f.config.Lossless = true
		f.config.Quality = nearLosslessQuality
		f.config.NearLossless = 0
		size, _, err := t.pictureStats(i)
		if err != nil {
			return nil, err
		}

		if animSize-currSize+size <= t.opts.ByteBudget {
			minNL, maxNL := 0, 100
			for minNL <= maxNL {
				mid := (minNL + maxNL) / 2
				f.config.NearLossless = mid
				size, psnr, err := t.pictureStats(i)
				if err != nil {
					return nil, err
				}
				if animSize-currSize+size <= t.opts.ByteBudget {
					if psnr > currPSNR {
						final = mid
						f.encodedSize = size
						f.finalPSNR = psnr
						f.finalQuality = nearLosslessQuality
						f.nearLossless = true
						animSize += size - currSize
						currSize, currPSNR = size, psnr
					}
					minNL = mid + 1
				} else {
					maxNL = mid - 1
				}
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

// nearLosslessEqual upgrades frames to near-lossless at a strength shared
// by every upgraded frame. Frames are admitted smallest-first at the
// coarsest strength while the budget holds and the score does not drop;
// a binary search then raises the shared strength as far as every
// admitted frame allows.
func (t *Thumbnailer) nearLosslessEqual(data []byte) ([]byte, error) {
	order := make([]int, len(t.frames))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return t.frames[order[a]].encodedSize < t.frames[order[b]].encodedSize
	})

	// Admission pass at the coarsest strength.
	var admitted []int
	animSize := t.animationSize(data)
	for _, ind := range order {
		f := t.frames[ind]
		f.config.Lossless = true
		f.config.Quality = nearLosslessQuality
		f.config.NearLossless = 0
		size, psnr, err := t.pictureStats(ind)
		if err != nil {
			return nil, err
		}
		if psnr >= f.finalPSNR && animSize-f.encodedSize+size <= t.opts.ByteBudget {
			admitted = append(admitted, ind)
			animSize += size - f.encodedSize
			f.encodedSize = size
			f.finalPSNR = psnr
			f.finalQuality = nearLosslessQuality
			f.nearLossless = true
		} else {
			f.config.Lossless = false
			f.config.NearLossless = 100
			f.config.Quality = f.finalQuality
		}
	}
	if len(admitted) == 0 {
		return data, nil
	}

	data, err := t.assembleAnimation()
	if err != nil {
		return nil, err
	}

	// Shared-strength search. An attempt succeeds only if every admitted
	// frame fits and keeps its score at the candidate strength.
	final := 0
	minNL, maxNL := 1, 100
	for minNL <= maxNL {
		mid := (minNL + maxNL) / 2
		animSize := t.animationSize(data)
		type probe struct {
			size int
			psnr float64
		}
		probes := make([]probe, 0, len(admitted))
		ok := true
		for _, ind := range admitted {
			f := t.frames[ind]
			f.config.NearLossless = mid
			size, psnr, err := t.pictureStats(ind)
			if err != nil {
				return nil, err
			}
			if psnr < f.finalPSNR || animSize-f.encodedSize+size > t.opts.ByteBudget {
				ok = false
				break
			}
			probes = append(probes, probe{size, psnr})
			animSize += size - f.encodedSize
		}
		if ok {
			data, err = t.assembleAnimation()
			if err != nil {
				return nil, err
			}
			for j, ind := range admitted {
				t.frames[ind].encodedSize = probes[j].size
				t.frames[ind].finalPSNR = probes[j].psnr
			}
			final = mid
			minNL = mid + 1
		} else {
			maxNL = mid - 1
		}
	}

	for _, ind := range admitted {
		t.frames[ind].config.NearLossless = final
	}
	t.verbosef("near-lossless strength: %d\n", final)
	return data, nil
}
