package thumbnailer

import (
	"image"
	"image/draw"
)

// maxQuality is the top of the lossy quality scale.
const maxQuality = 100

// FrameConfig holds the encode parameters for one frame. It is passed to
// the Codec on every compression attempt.
type FrameConfig struct {
	// Quality is the lossy quality (0-100), or the lossless effort when
	// Lossless is set.
	Quality int
	// Lossless selects lossless encoding.
	Lossless bool
	// Method is the encoder effort (0-6).
	Method int
	// NearLossless is the pre-filter strength for lossless frames
	// (0 coarsest, 100 disabled).
	NearLossless int
}

// rdPoint is one sampled point of a frame's rate-distortion curve.
type rdPoint struct {
	size int
	psnr float64
}

// frameData records one input picture, its ending timestamp, the working
// encode configuration and everything learned about the frame so far.
type frameData struct {
	pic         image.Image
	timestampMS int

	config FrameConfig

	// Committed results. finalQuality is -1 until a strategy commits a
	// decision for the frame.
	encodedSize  int
	finalQuality int
	finalPSNR    float64
	nearLossless bool

	// lossyData caches (size, PSNR) per lossy quality so repeated probes
	// at the same quality cost nothing. Unsampled entries hold {-1, -1}.
	lossyData [maxQuality + 1]rdPoint

	// orig is the reference picture in NRGBA form, converted lazily for
	// distortion scoring.
	orig *image.NRGBA

	// payload holds the most recent encode result and the configuration
	// that produced it, so assembly after a probe reuses the probe's
	// encode instead of running the encoder again.
	payload    []byte
	payloadCfg FrameConfig
}

func newFrameData(pic image.Image, timestampMS, method int) *frameData {
	f := &frameData{
		pic:          pic,
		timestampMS:  timestampMS,
		finalQuality: -1,
		config: FrameConfig{
			Method:       method,
			NearLossless: 100,
		},
	}
	for i := range f.lossyData {
		f.lossyData[i] = rdPoint{size: -1, psnr: -1}
	}
	return f
}

// reference returns the frame's picture as NRGBA, converting once.
func (f *frameData) reference() *image.NRGBA {
	if f.orig == nil {
		f.orig = toNRGBA(f.pic)
	}
	return f.orig
}

func toNRGBA(pic image.Image) *image.NRGBA {
	if n, ok := pic.(*image.NRGBA); ok {
		return n
	}
	b := pic.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Bounds(), pic, b.Min, draw.Src)
	return n
}
