// Package thumbnailer generates animated WebP thumbnails that fit a byte
// budget, searching per-frame compression quality over each frame's
// rate-distortion curve.
package thumbnailer

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sort"
)

var (
	// ErrNoFrames is returned when an animation is requested before any
	// frame was added.
	ErrNoFrames = errors.New("thumbnailer: no frames")
	// ErrImageFormat is returned when a frame's dimensions differ from
	// the frames already added.
	ErrImageFormat = errors.New("thumbnailer: frame dimensions differ")
	// ErrByteBudget is returned when no quality assignment fits the
	// byte budget.
	ErrByteBudget = errors.New("thumbnailer: byte budget too small")
	// ErrStats is returned when encoding or scoring a frame fails.
	ErrStats = errors.New("thumbnailer: frame stats failed")
	// ErrMux is returned when assembling the animation container fails.
	ErrMux = errors.New("thumbnailer: animation assembly failed")
	// ErrSlopeOptim is returned when the slope discovery pass fails.
	ErrSlopeOptim = errors.New("thumbnailer: slope optimization failed")
)

// Method selects the quality-assignment strategy used by
// GenerateAnimation.
type Method int

const (
	// MethodEqualQuality gives every frame the same lossy quality, the
	// highest one that fits the budget.
	MethodEqualQuality Method = iota
	// MethodEqualPSNR aims for the same integer PSNR on every frame.
	MethodEqualPSNR
	// MethodNearLosslessEqual upgrades frames to near-lossless at a
	// strength shared by all upgraded frames.
	MethodNearLosslessEqual
	// MethodNearLosslessDiff upgrades frames to near-lossless with a
	// per-frame strength.
	MethodNearLosslessDiff
	// MethodSlopeOptim spends extra quality on frames whose
	// rate-distortion curve still climbs steeply.
	MethodSlopeOptim
)

// MethodList enumerates all strategies, in the order they are defined.
var MethodList = [...]Method{
	MethodEqualQuality,
	MethodEqualPSNR,
	MethodNearLosslessEqual,
	MethodNearLosslessDiff,
	MethodSlopeOptim,
}

func (m Method) String() string {
	switch m {
	case MethodEqualQuality:
		return "equal-quality"
	case MethodEqualPSNR:
		return "equal-psnr"
	case MethodNearLosslessEqual:
		return "near-lossless-equal"
	case MethodNearLosslessDiff:
		return "near-lossless-diff"
	case MethodSlopeOptim:
		return "slope-optim"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Options configures a Thumbnailer.
type Options struct {
	// LoopCount is the animation loop count (0 = infinite).
	LoopCount int
	// ByteBudget is the soft maximum size of the output animation in
	// bytes (default 153600).
	ByteBudget int
	// MinLossyQuality is the lower bound of the lossy quality search
	// (0-100).
	MinLossyQuality int
	// Method is the encoder effort (0-6, default 4).
	Method int
	// SlopeDPSNR is the PSNR drop tolerated during slope discovery, in
	// dB (default 1.0).
	SlopeDPSNR float64
	// Verbose enables progress logging to stderr.
	Verbose bool
}

// DefaultOptions returns the default thumbnailing options.
func DefaultOptions() *Options {
	return &Options{
		ByteBudget: 153600,
		Method:     4,
		SlopeDPSNR: 1.0,
	}
}

// FrameInfo reports the committed encoding decision for one frame.
type FrameInfo struct {
	TimestampMS  int
	Quality      int
	PSNR         float64
	Size         int
	NearLossless bool
}

// Thumbnailer accumulates frames and generates a budget-constrained
// animated WebP from them. It is not safe for concurrent use.
type Thumbnailer struct {
	opts   Options
	codec  Codec
	frames []*frameData
	width  int
	height int
}

// New returns a Thumbnailer using the given options, or the defaults when
// opts is nil.
func New(opts *Options) *Thumbnailer {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.ByteBudget <= 0 {
		o.ByteBudget = 153600
	}
	if o.Method < 0 || o.Method > 6 {
		o.Method = 4
	}
	if o.MinLossyQuality < 0 {
		o.MinLossyQuality = 0
	}
	if o.MinLossyQuality > maxQuality {
		o.MinLossyQuality = maxQuality
	}
	if o.SlopeDPSNR < 0 {
		o.SlopeDPSNR = 1.0
	}
	return &Thumbnailer{opts: o, codec: webpCodec{}}
}

// AddFrame records pic with its ending timestamp in milliseconds. Frames
// are kept ordered by timestamp regardless of insertion order. All frames
// must share the dimensions of the first one; a mismatch returns
// ErrImageFormat.
func (t *Thumbnailer) AddFrame(pic image.Image, timestampMS int) error {
	b := pic.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return ErrImageFormat
	}
	if len(t.frames) == 0 {
		t.width, t.height = b.Dx(), b.Dy()
	} else if b.Dx() != t.width || b.Dy() != t.height {
		return ErrImageFormat
	}
	f := newFrameData(pic, timestampMS, t.opts.Method)
	i := sort.Search(len(t.frames), func(i int) bool {
		return t.frames[i].timestampMS > timestampMS
	})
	t.frames = append(t.frames, nil)
	copy(t.frames[i+1:], t.frames[i:])
	t.frames[i] = f
	return nil
}

// GenerateAnimation runs the selected strategy over the accumulated
// frames and returns the serialized animation. The result is at most
// ByteBudget bytes unless even the lowest quality overshoots, in which
// case ErrByteBudget is returned.
func (t *Thumbnailer) GenerateAnimation(method Method) ([]byte, error) {
	if len(t.frames) == 0 {
		return nil, ErrNoFrames
	}
	switch method {
	case MethodEqualQuality:
		return t.generateEqualQuality()
	case MethodEqualPSNR:
		return t.generateEqualPSNR()
	case MethodNearLosslessDiff:
		data, err := t.generateEqualQuality()
		if err != nil {
			return nil, err
		}
		return t.nearLosslessDiff(data)
	case MethodNearLosslessEqual:
		data, err := t.generateEqualQuality()
		if err != nil {
			return nil, err
		}
		return t.nearLosslessEqual(data)
	case MethodSlopeOptim:
		return t.generateSlopeOptim()
	default:
		return nil, fmt.Errorf("thumbnailer: unknown method %d", int(method))
	}
}

// Frames reports the committed per-frame decisions of the last
// GenerateAnimation call, in timestamp order.
func (t *Thumbnailer) Frames() []FrameInfo {
	out := make([]FrameInfo, len(t.frames))
	for i, f := range t.frames {
		out[i] = FrameInfo{
			TimestampMS:  f.timestampMS,
			Quality:      f.finalQuality,
			PSNR:         f.finalPSNR,
			Size:         f.encodedSize,
			NearLossless: f.nearLossless,
		}
	}
	return out
}

func (t *Thumbnailer) verbosef(format string, args ...any) {
	if t.opts.Verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
