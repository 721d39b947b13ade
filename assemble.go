package thumbnailer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/deepteams/webp/mux"
)

// assembleAnimation encodes every frame at its current configuration and
// assembles the animated container. Frames encoded by an earlier probe at
// the same configuration are reused. The loop count is patched into the
// serialized ANIM chunk afterwards.
func (t *Thumbnailer) assembleAnimation() ([]byte, error) {
	if err := t.primeStats(); err != nil {
		return nil, err
	}

	m := mux.NewMuxer()
	m.SetCanvasSize(t.width, t.height)
	prev := 0
	for i, f := range t.frames {
		payload, err := t.encodeCurrent(i)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", ErrMux, i, err)
		}
		opts := &mux.FrameOptions{
			Duration:    f.timestampMS - prev,
			BlendMode:   mux.BlendNone,
			DisposeMode: mux.DisposeNone,
		}
		if err := m.AddFrame(payload, opts); err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", ErrMux, i, err)
		}
		prev = f.timestampMS
	}

	var buf bytes.Buffer
	if err := m.Assemble(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMux, err)
	}
	data := buf.Bytes()
	if t.opts.LoopCount != 0 {
		if err := setLoopCount(data, t.opts.LoopCount); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMux, err)
		}
	}
	return data, nil
}

// animationSize returns the working size of the animation. The committed
// frame sizes and the serialized container can disagree while a strategy
// is mid-refinement, so the larger of the two is used for budget math.
func (t *Thumbnailer) animationSize(data []byte) int {
	sum := 0
	for _, f := range t.frames {
		sum += f.encodedSize
	}
	if len(data) > sum {
		return len(data)
	}
	return sum
}

// setLoopCount patches the 16-bit loop count of the ANIM chunk in a
// serialized WebP container, in place. The ANIM payload is a 4-byte
// background color followed by the loop count.
func setLoopCount(data []byte, loopCount int) error {
	if loopCount < 0 {
		loopCount = 0
	}
	if loopCount > 0xffff {
		loopCount = 0xffff
	}
	if len(data) < 12 ||
		binary.LittleEndian.Uint32(data[0:4]) != mux.FourCCRIFF ||
		binary.LittleEndian.Uint32(data[8:12]) != mux.FourCCWEBP {
		return fmt.Errorf("thumbnailer: not a WebP container")
	}
	off := 12
	for off+8 <= len(data) {
		id := binary.LittleEndian.Uint32(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		if id == mux.FourCCANIM {
			if size < 6 || off+8+6 > len(data) {
				return fmt.Errorf("thumbnailer: malformed ANIM chunk")
			}
			binary.LittleEndian.PutUint16(data[off+12:off+14], uint16(loopCount))
			return nil
		}
		off += 8 + size + size&1
	}
	return fmt.Errorf("thumbnailer: no ANIM chunk")
}
