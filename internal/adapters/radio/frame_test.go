package radio

import (
	"bytes"
	"encoding/binary"
	"testing"
	"testing/iotest"
)

func framed(payload []byte) []byte {
	var buf bytes.Buffer
	if err := writeFrame(&buf, payload); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func TestFrameReaderSkipsDebugNoise(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("INFO | 12:00:00 radio booting\r\n")
	stream.Write(framed([]byte("payload-a")))
	stream.WriteString("more noise")
	stream.Write(framed([]byte("payload-b")))

	fr := newFrameReader(&stream)

	for _, want := range []string{"payload-a", "payload-b"} {
		got, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestFrameReaderHandlesSplitReads(t *testing.T) {
	stream := append([]byte("garbage"), framed([]byte("split-safe"))...)
	fr := newFrameReader(iotest.OneByteReader(bytes.NewReader(stream)))

	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(got) != "split-safe" {
		t.Fatalf("got %q", got)
	}
}

func TestFrameReaderStartByteRun(t *testing.T) {
	// A stray start byte directly before a real frame must not eat it.
	stream := append([]byte{frameStart1}, framed([]byte("tail"))...)
	fr := newFrameReader(bytes.NewReader(stream))

	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(got) != "tail" {
		t.Fatalf("got %q", got)
	}
}

func TestFrameReaderResyncsAfterBadLength(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{frameStart1, frameStart2})
	var big [2]byte
	binary.BigEndian.PutUint16(big[:], maxFrameBytes+1)
	stream.Write(big[:])
	stream.Write(framed([]byte("recovered")))

	fr := newFrameReader(&stream)
	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(got) != "recovered" {
		t.Fatalf("got %q", got)
	}
}

func TestFrameReaderZeroLengthSkipped(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{frameStart1, frameStart2, 0x00, 0x00})
	stream.Write(framed([]byte("after-empty")))

	fr := newFrameReader(&stream)
	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(got) != "after-empty" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, make([]byte, maxFrameBytes+1)); err == nil {
		t.Fatal("expected oversize payload to be rejected")
	}
}

func TestFrameReaderEOFMidFrame(t *testing.T) {
	full := framed([]byte("truncated-body"))
	fr := newFrameReader(bytes.NewReader(full[:len(full)-3]))

	if _, err := fr.ReadFrame(); err == nil {
		t.Fatal("expected error on truncated frame")
	}
}
