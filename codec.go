package thumbnailer

import (
	"bytes"
	"encoding/binary"
	"image"

	"github.com/deepteams/webp"
	"github.com/deepteams/webp/animation"
	"github.com/deepteams/webp/mux"

	"github.com/deepteams/thumbnailer/internal/metric"
	"github.com/deepteams/thumbnailer/internal/nearlossless"
)

// Codec compresses and reconstructs single frames. Payloads are mux-ready:
// an optional ALPH chunk followed by the VP8/VP8L bitstream, exactly what
// mux.Muxer.AddFrame consumes.
type Codec interface {
	// EncodeFrame compresses pic according to cfg.
	EncodeFrame(pic image.Image, cfg FrameConfig) ([]byte, error)
	// DecodeFrame reconstructs the picture from an EncodeFrame payload.
	DecodeFrame(payload []byte) (*image.NRGBA, error)
	// Distortion scores pic against the reference ref: PSNR for the R,
	// G, B and A channels plus the combined score, in that order.
	Distortion(ref image.Image, pic *image.NRGBA) ([5]float64, error)
}

// webpCodec is the production Codec backed by github.com/deepteams/webp.
type webpCodec struct{}

func (webpCodec) EncodeFrame(pic image.Image, cfg FrameConfig) ([]byte, error) {
	src := pic
	if cfg.Lossless && cfg.NearLossless < 100 {
		src = nearlossless.Apply(pic, cfg.NearLossless)
	}
	opts := &webp.EncoderOptions{
		Lossless: cfg.Lossless,
		Quality:  float32(cfg.Quality),
		Method:   cfg.Method,
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, src, opts); err != nil {
		return nil, err
	}
	return framePayload(buf.Bytes())
}

func (webpCodec) DecodeFrame(payload []byte) (*image.NRGBA, error) {
	alpha, bitstream := splitAlphaPayload(payload)
	return animation.FrameDecoderFunc(bitstream, alpha)
}

func (webpCodec) Distortion(ref image.Image, pic *image.NRGBA) ([5]float64, error) {
	return metric.Distortion(toNRGBA(ref), pic)
}

// framePayload extracts the frame payload from a complete WebP file,
// re-prefixing any standalone ALPH chunk so the muxer can split it again.
func framePayload(file []byte) ([]byte, error) {
	dmx, err := mux.NewDemuxer(file)
	if err != nil {
		return nil, err
	}
	fi, err := dmx.Frame(0)
	if err != nil {
		return nil, err
	}
	if len(fi.AlphaData) == 0 {
		return fi.Data, nil
	}
	payload := make([]byte, 0, 8+len(fi.AlphaData)+1+len(fi.Data))
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], mux.FourCCALPH)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(fi.AlphaData)))
	payload = append(payload, hdr[:]...)
	payload = append(payload, fi.AlphaData...)
	if len(fi.AlphaData)%2 != 0 {
		payload = append(payload, 0)
	}
	payload = append(payload, fi.Data...)
	return payload, nil
}

// splitAlphaPayload separates an EncodeFrame payload into its ALPH chunk
// data and the bare bitstream. Payloads without an ALPH prefix come back
// unchanged.
func splitAlphaPayload(payload []byte) (alpha, bitstream []byte) {
	if len(payload) >= 8 && binary.LittleEndian.Uint32(payload[0:4]) == mux.FourCCALPH {
		size := binary.LittleEndian.Uint32(payload[4:8])
		end := 8 + int(size)
		if end <= len(payload) {
			alpha = payload[8:end]
			if size%2 != 0 && end < len(payload) {
				end++
			}
			return alpha, payload[end:]
		}
	}
	return nil, payload
}
