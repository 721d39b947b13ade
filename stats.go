package thumbnailer

import (
	"fmt"
	"runtime"
	"sync"
)

// encodeCurrent returns the mux-ready payload for frame ind at its
// current configuration, reusing the previous encode when the
// configuration has not changed since.
func (t *Thumbnailer) encodeCurrent(ind int) ([]byte, error) {
	f := t.frames[ind]
	if f.payload != nil && f.payloadCfg == f.config {
		return f.payload, nil
	}
	payload, err := t.codec.EncodeFrame(f.pic, f.config)
	if err != nil {
		return nil, err
	}
	f.payload, f.payloadCfg = payload, f.config
	return payload, nil
}

// pictureStats returns the encoded size and combined PSNR of frame ind at
// its current configuration. Lossy results are cached per quality, so
// re-probing a quality the search already visited costs nothing.
func (t *Thumbnailer) pictureStats(ind int) (int, float64, error) {
	f := t.frames[ind]
	if !f.config.Lossless {
		if p := f.lossyData[f.config.Quality]; p.size >= 0 {
			return p.size, p.psnr, nil
		}
	}

	payload, err := t.encodeCurrent(ind)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: frame %d: %v", ErrStats, ind, err)
	}
	size := len(payload)

	var psnr float64
	if f.config.Lossless && f.config.NearLossless >= 100 {
		// Plain lossless reconstructs exactly; skip the decode probe.
		psnr = 99.0
	} else {
		decoded, err := t.codec.DecodeFrame(payload)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: frame %d: %v", ErrStats, ind, err)
		}
		d, err := t.codec.Distortion(f.reference(), decoded)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: frame %d: %v", ErrStats, ind, err)
		}
		psnr = d[4]
	}

	if !f.config.Lossless {
		f.lossyData[f.config.Quality] = rdPoint{size: size, psnr: psnr}
	}
	return size, psnr, nil
}

// primeStats samples every frame's rate-distortion cache at its current
// configuration, encoding frames concurrently. Each worker touches only
// its own frame, so the per-frame caches need no locking. The Codec must
// tolerate concurrent calls.
func (t *Thumbnailer) primeStats() error {
	var todo []int
	for i, f := range t.frames {
		stale := f.payload == nil || f.payloadCfg != f.config
		unsampled := !f.config.Lossless && f.lossyData[f.config.Quality].size < 0
		if stale || unsampled {
			todo = append(todo, i)
		}
	}
	if len(todo) == 0 {
		return nil
	}
	if len(todo) <= 2 {
		for _, i := range todo {
			if _, err := t.encodeCurrent(i); err != nil {
				return fmt.Errorf("%w: frame %d: %v", ErrStats, i, err)
			}
			if _, _, err := t.pictureStats(i); err != nil {
				return err
			}
		}
		return nil
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(todo) {
		numWorkers = len(todo)
	}

	work := make(chan int, len(todo))
	for _, i := range todo {
		work <- i
	}
	close(work)

	errs := make(chan error, len(todo))
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if _, err := t.encodeCurrent(i); err != nil {
					errs <- fmt.Errorf("%w: frame %d: %v", ErrStats, i, err)
					continue
				}
				_, _, err := t.pictureStats(i)
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
