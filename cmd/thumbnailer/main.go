// Command thumbnailer generates an animated WebP thumbnail that fits a
// byte budget.
//
// Usage:
//
//	thumbnailer [options] <frames.txt>   frame list → animated WebP
//	thumbnailer [options] <input.gif>    GIF → animated WebP
//
// A frame list is a text file with one "<image-path> <end-timestamp-ms>"
// pair per line. PNG, JPEG, GIF and WebP frames are accepted.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	_ "github.com/deepteams/webp"
	xdraw "golang.org/x/image/draw"

	"github.com/deepteams/thumbnailer"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "thumbnailer: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("thumbnailer", flag.ContinueOnError)
	output := fs.String("o", "output.webp", "output path")
	budget := fs.Int("soft_max_size", 153600, "desired animation size limit in bytes")
	loopCount := fs.Int("loop_count", 0, "animation loop count (0=infinite)")
	minLossyQuality := fs.Int("min_lossy_quality", 0, "minimum lossy quality 0-100")
	method := fs.Int("m", 4, "compression effort 0-6")
	slopeDPSNR := fs.Float64("slope_dpsnr", 1.0, "PSNR drop tolerated during slope discovery, in dB")
	verbose := fs.Bool("verbose", false, "print per-frame encoding decisions")
	resize := fs.String("resize", "", "scale frames to WxH before encoding")

	equalQuality := fs.Bool("equal_quality", false, "equal quality across frames (default)")
	equalPSNR := fs.Bool("equal_psnr", false, "target equal PSNR across frames")
	nearLLDiff := fs.Bool("near_ll_diff", false, "near-lossless upgrades with per-frame strength")
	nearLLEqual := fs.Bool("near_ll_equal", false, "near-lossless upgrades with a shared strength")
	slopeOptim := fs.Bool("slope_optim", false, "slope-aware quality assignment")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("missing input file\nUsage: thumbnailer [options] <frames.txt | input.gif>")
	}
	inputPath := fs.Arg(0)

	strategy, err := pickMethod(*equalQuality, *equalPSNR, *nearLLDiff, *nearLLEqual, *slopeOptim)
	if err != nil {
		return err
	}

	var scale func(image.Image) (image.Image, error)
	if *resize != "" {
		w, h, err := parseSize(*resize)
		if err != nil {
			return err
		}
		scale = func(img image.Image) (image.Image, error) {
			dst := image.NewNRGBA(image.Rect(0, 0, w, h))
			xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
			return dst, nil
		}
	}

	thumb := thumbnailer.New(&thumbnailer.Options{
		LoopCount:       *loopCount,
		ByteBudget:      *budget,
		MinLossyQuality: *minLossyQuality,
		Method:          *method,
		SlopeDPSNR:      *slopeDPSNR,
		Verbose:         *verbose,
	})

	var numFrames int
	if strings.HasSuffix(strings.ToLower(inputPath), ".gif") {
		numFrames, err = addGIFFrames(thumb, inputPath, scale)
	} else {
		numFrames, err = addListedFrames(thumb, inputPath, scale)
	}
	if err != nil {
		return err
	}

	data, err := thumb.GenerateAnimation(strategy)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		return err
	}

	if *verbose {
		for i, f := range thumb.Frames() {
			kind := "lossy"
			if f.NearLossless {
				kind = "near-lossless"
			}
			fmt.Fprintf(os.Stderr, "frame %d: t=%dms quality=%d psnr=%.2f size=%d (%s)\n",
				i, f.TimestampMS, f.Quality, f.PSNR, f.Size, kind)
		}
	}
	fmt.Fprintf(os.Stderr, "Encoded %s → %s (%d frames, %d bytes, %s)\n",
		inputPath, *output, numFrames, len(data), strategy)
	return nil
}

func pickMethod(equalQuality, equalPSNR, nearLLDiff, nearLLEqual, slopeOptim bool) (thumbnailer.Method, error) {
	var picked []thumbnailer.Method
	if equalQuality {
		picked = append(picked, thumbnailer.MethodEqualQuality)
	}
	if equalPSNR {
		picked = append(picked, thumbnailer.MethodEqualPSNR)
	}
	if nearLLDiff {
		picked = append(picked, thumbnailer.MethodNearLosslessDiff)
	}
	if nearLLEqual {
		picked = append(picked, thumbnailer.MethodNearLosslessEqual)
	}
	if slopeOptim {
		picked = append(picked, thumbnailer.MethodSlopeOptim)
	}
	switch len(picked) {
	case 0:
		return thumbnailer.MethodEqualQuality, nil
	case 1:
		return picked[0], nil
	default:
		return 0, fmt.Errorf("at most one strategy flag may be set")
	}
}

func parseSize(s string) (int, int, error) {
	var w, h int
	if n, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil || n != 2 || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid -resize %q (want WxH)", s)
	}
	return w, h, nil
}

// addListedFrames reads "<path> <end-timestamp-ms>" pairs from a frame
// list and adds each named image to the thumbnailer.
func addListedFrames(thumb *thumbnailer.Thumbnailer, listPath string, scale func(image.Image) (image.Image, error)) (int, error) {
	var in io.ReadCloser
	if listPath == "-" {
		in = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(listPath)
		if err != nil {
			return 0, err
		}
		in = f
	}
	defer in.Close()

	numFrames := 0
	scanner := bufio.NewScanner(in)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var path string
		var timestampMS int
		if n, err := fmt.Sscanf(line, "%s %d", &path, &timestampMS); err != nil || n != 2 {
			return 0, fmt.Errorf("%s:%d: want \"<path> <end-timestamp-ms>\"", listPath, lineNo)
		}
		img, err := loadImage(path)
		if err != nil {
			return 0, fmt.Errorf("%s:%d: %w", listPath, lineNo, err)
		}
		if scale != nil {
			if img, err = scale(img); err != nil {
				return 0, err
			}
		}
		if err := thumb.AddFrame(img, timestampMS); err != nil {
			return 0, fmt.Errorf("%s:%d: %w", listPath, lineNo, err)
		}
		numFrames++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if numFrames == 0 {
		return 0, fmt.Errorf("%s: no frames listed", listPath)
	}
	return numFrames, nil
}

// addGIFFrames composites a GIF onto a persistent canvas and adds each
// frame with its cumulative delay as the ending timestamp.
func addGIFFrames(thumb *thumbnailer.Thumbnailer, inputPath string, scale func(image.Image) (image.Image, error)) (int, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	g, err := gif.DecodeAll(f)
	if err != nil {
		return 0, fmt.Errorf("decoding GIF: %w", err)
	}
	if len(g.Image) == 0 {
		return 0, fmt.Errorf("GIF has no frames")
	}

	canvasW, canvasH := g.Config.Width, g.Config.Height
	if canvasW == 0 || canvasH == 0 {
		canvasW = g.Image[0].Bounds().Dx()
		canvasH = g.Image[0].Bounds().Dy()
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, canvasW, canvasH))

	timestampMS := 0
	for i, frame := range g.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		snap := image.NewNRGBA(canvas.Bounds())
		copy(snap.Pix, canvas.Pix)
		var img image.Image = snap
		if scale != nil {
			if img, err = scale(img); err != nil {
				return 0, err
			}
		}

		delayMS := 100
		if i < len(g.Delay) && g.Delay[i] > 0 {
			delayMS = g.Delay[i] * 10
		}
		timestampMS += delayMS

		if err := thumb.AddFrame(img, timestampMS); err != nil {
			return 0, fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return len(g.Image), nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}
