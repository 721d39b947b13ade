package thumbnailer

// generateEqualQuality binary-searches the single highest lossy quality at
// which the whole animation still fits the byte budget, then commits it to
// every frame.
func (t *Thumbnailer) generateEqualQuality() ([]byte, error) {
	minQuality := t.opts.MinLossyQuality
	maxQ := maxQuality
	finalQuality := -1
	var best []byte

	for minQuality <= maxQ {
		midQuality := (minQuality + maxQ) / 2
		for _, f := range t.frames {
			f.config.Quality = midQuality
			f.config.Lossless = false
		}
		data, err := t.assembleAnimation()
		if err != nil {
			return nil, err
		}
		if len(data) <= t.opts.ByteBudget {
			finalQuality = midQuality
			best = data
			minQuality = midQuality + 1
		} else {
			maxQ = midQuality - 1
		}
	}

	if finalQuality == -1 {
		return nil, ErrByteBudget
	}

	for i, f := range t.frames {
		f.finalQuality = finalQuality
		f.config.Quality = finalQuality
		size, psnr, err := t.pictureStats(i)
		if err != nil {
			return nil, err
		}
		f.encodedSize = size
		f.finalPSNR = psnr
	}
	t.verbosef("final quality: %d\n", finalQuality)
	return best, nil
}
