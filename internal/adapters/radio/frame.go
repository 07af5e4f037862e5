package radio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Framed stream protocol spoken over serial: two magic bytes, a big-endian
// 16-bit payload length, then a protobuf body. Radios interleave plain-text
// debug output on the same line, so the reader hunts for the magic and
// silently discards everything between frames.
const (
	frameStart1   = 0x94
	frameStart2   = 0xc3
	maxFrameBytes = 512
)

// wakePreamble nudges a sleeping radio into stream mode before the first
// frame is sent.
var wakePreamble = func() []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = frameStart2
	}
	return b
}()

type frameReader struct {
	r   io.Reader
	one [1]byte
	len [2]byte
}

func newFrameReader(r io.Reader) *frameReader { return &frameReader{r: r} }

// ReadFrame blocks until a complete, sane frame arrives. Frames with a
// zero or oversized length are treated as framing noise and skipped by
// resuming the magic hunt.
func (f *frameReader) ReadFrame() ([]byte, error) {
	for {
		b, err := f.readByte()
		if err != nil {
			return nil, err
		}
		if b != frameStart1 {
			continue
		}

		// A run of start bytes can hide a real frame start at its tail.
		for b == frameStart1 {
			b, err = f.readByte()
			if err != nil {
				return nil, err
			}
		}
		if b != frameStart2 {
			continue
		}

		if _, err := io.ReadFull(f.r, f.len[:]); err != nil {
			return nil, fmt.Errorf("radio: frame length: %w", err)
		}
		n := binary.BigEndian.Uint16(f.len[:])
		if n == 0 || n > maxFrameBytes {
			continue
		}

		buf := make([]byte, n)
		if _, err := io.ReadFull(f.r, buf); err != nil {
			return nil, fmt.Errorf("radio: frame body: %w", err)
		}
		return buf, nil
	}
}

func (f *frameReader) readByte() (byte, error) {
	if _, err := io.ReadFull(f.r, f.one[:]); err != nil {
		return 0, err
	}
	return f.one[0], nil
}

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("radio: frame payload %d bytes exceeds %d", len(payload), maxFrameBytes)
	}
	hdr := [4]byte{frameStart1, frameStart2}
	binary.BigEndian.PutUint16(hdr[2:], uint16(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("radio: frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("radio: frame payload: %w", err)
	}
	return nil
}
