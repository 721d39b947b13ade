package thumbnailer

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"github.com/deepteams/webp/mux"
)

func TestSplitAlphaPayload(t *testing.T) {
	alpha := []byte{1, 2, 3, 4, 5}
	bitstream := []byte{9, 8, 7, 6}

	payload := make([]byte, 0, 8+len(alpha)+1+len(bitstream))
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], mux.FourCCALPH)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(alpha)))
	payload = append(payload, hdr[:]...)
	payload = append(payload, alpha...)
	payload = append(payload, 0) // odd-size padding
	payload = append(payload, bitstream...)

	gotAlpha, gotBS := splitAlphaPayload(payload)
	if !bytes.Equal(gotAlpha, alpha) {
		t.Errorf("alpha %v, want %v", gotAlpha, alpha)
	}
	if !bytes.Equal(gotBS, bitstream) {
		t.Errorf("bitstream %v, want %v", gotBS, bitstream)
	}
}

func TestSplitAlphaPayloadNoPrefix(t *testing.T) {
	payload := []byte{0x2f, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	alpha, bs := splitAlphaPayload(payload)
	if alpha != nil {
		t.Errorf("unexpected alpha data %v", alpha)
	}
	if !bytes.Equal(bs, payload) {
		t.Errorf("bitstream %v, want original payload", bs)
	}
}

// gradientNRGBA returns a picture with enough structure that lossy
// quality actually matters.
func gradientNRGBA(w, h int, seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*4) + seed,
				G: uint8(y * 4),
				B: uint8((x + y) * 2),
				A: 255,
			})
		}
	}
	return img
}

func TestWebPCodecRoundTrip(t *testing.T) {
	pic := gradientNRGBA(64, 64, 0)
	codec := webpCodec{}

	for _, cfg := range []FrameConfig{
		{Quality: 75, Method: 4, NearLossless: 100},
		{Quality: 70, Method: 4, Lossless: true, NearLossless: 100},
		{Quality: 90, Method: 4, Lossless: true, NearLossless: 40},
	} {
		payload, err := codec.EncodeFrame(pic, cfg)
		if err != nil {
			t.Fatalf("EncodeFrame(%+v): %v", cfg, err)
		}
		if len(payload) == 0 {
			t.Fatalf("EncodeFrame(%+v): empty payload", cfg)
		}
		decoded, err := codec.DecodeFrame(payload)
		if err != nil {
			t.Fatalf("DecodeFrame(%+v): %v", cfg, err)
		}
		if decoded.Bounds().Dx() != 64 || decoded.Bounds().Dy() != 64 {
			t.Fatalf("decoded bounds %v, want 64x64", decoded.Bounds())
		}
		d, err := codec.Distortion(pic, decoded)
		if err != nil {
			t.Fatalf("Distortion(%+v): %v", cfg, err)
		}
		if d[4] < 25 {
			t.Errorf("config %+v: PSNR %.2f unreasonably low", cfg, d[4])
		}
	}
}

func TestWebPCodecLosslessIsExact(t *testing.T) {
	pic := gradientNRGBA(64, 64, 3)
	codec := webpCodec{}
	payload, err := codec.EncodeFrame(pic, FrameConfig{Quality: 70, Method: 4, Lossless: true, NearLossless: 100})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	decoded, err := codec.DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	d, err := codec.Distortion(pic, decoded)
	if err != nil {
		t.Fatalf("Distortion: %v", err)
	}
	if d[4] != 99.0 {
		t.Errorf("lossless PSNR %.2f, want 99.0", d[4])
	}
}
