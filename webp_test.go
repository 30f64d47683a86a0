package vexel

import (
	"bytes"
	"errors"
	"testing"
)

// riffContainer assembles a WEBP RIFF stream from raw chunk bytes.
func riffContainer(chunks ...[]byte) []byte {
	var body []byte
	body = append(body, "WEBP"...)
	for _, c := range chunks {
		body = append(body, c...)
	}

	out := []byte("RIFF")
	out = append(out, byte(len(body)), byte(len(body)>>8), byte(len(body)>>16), byte(len(body)>>24))

	return append(out, body...)
}

func riffChunk(fourcc string, payload []byte) []byte {
	out := []byte(fourcc)
	out = append(out, byte(len(payload)), byte(len(payload)>>8), byte(len(payload)>>16), byte(len(payload)>>24))
	out = append(out, payload...)
	if len(payload)%2 == 1 {
		out = append(out, 0)
	}

	return out
}

func TestWebPLossy(t *testing.T) {
	// Frame tag, then start code, then 14-bit width and height: 320x240.
	vp8 := []byte{
		0x00, 0x00, 0x00,
		0x9D, 0x01, 0x2A,
		0x40, 0x01, // width 320
		0xF0, 0x00, // height 240
	}

	d, err := NewWebPDecoder(bytes.NewReader(riffContainer(riffChunk("VP8 ", vp8))))
	if err != nil {
		t.Fatalf("NewWebPDecoder failed: %v", err)
	}

	info := d.Info().(WebPInfo)
	if info.Width != 320 || info.Height != 240 || info.Lossless {
		t.Errorf("info = %+v, want 320x240 lossy", info)
	}

	if _, err := d.Decode(); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("Decode error = %v, want ErrNotImplemented", err)
	}
}

func TestWebPLossless(t *testing.T) {
	// Signature 0x2F, then width-1 = 16 and height-1 = 7 in the packed
	// little-endian bitfield, alpha hint set.
	bits := uint32(16) | uint32(7)<<14 | 1<<28
	vp8l := []byte{0x2F, byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}

	d, err := NewWebPDecoder(bytes.NewReader(riffContainer(riffChunk("VP8L", vp8l))))
	if err != nil {
		t.Fatalf("NewWebPDecoder failed: %v", err)
	}

	info := d.Info().(WebPInfo)
	if info.Width != 17 || info.Height != 8 || !info.Lossless || !info.HasAlpha {
		t.Errorf("info = %+v, want 17x8 lossless with alpha", info)
	}
}

func TestWebPExtended(t *testing.T) {
	// Alpha and animation flags, 100x50 canvas.
	vp8x := []byte{0x12, 0, 0, 0, 99, 0, 0, 49, 0, 0}

	d, err := NewWebPDecoder(bytes.NewReader(riffContainer(riffChunk("VP8X", vp8x))))
	if err != nil {
		t.Fatalf("NewWebPDecoder failed: %v", err)
	}

	info := d.Info().(WebPInfo)
	if !info.Extended || !info.HasAlpha || !info.HasAnimation || info.HasICC {
		t.Errorf("flags = %+v", info)
	}

	if info.Width != 100 || info.Height != 50 {
		t.Errorf("canvas = %dx%d, want 100x50", info.Width, info.Height)
	}

	if len(info.Chunks) != 1 || info.Chunks[0] != "VP8X" {
		t.Errorf("chunks = %v", info.Chunks)
	}
}

func TestWebPBadStartCode(t *testing.T) {
	vp8 := []byte{0, 0, 0, 0x9D, 0x01, 0x2B, 1, 0, 1, 0}
	_, err := NewWebPDecoder(bytes.NewReader(riffContainer(riffChunk("VP8 ", vp8))))
	if !errors.Is(err, ErrSyntax) {
		t.Errorf("error = %v, want ErrSyntax", err)
	}
}

func TestWebPWrongForm(t *testing.T) {
	data := riffContainer()
	copy(data[8:12], "WAVE")

	if _, err := NewWebPDecoder(bytes.NewReader(data)); !errors.Is(err, ErrSyntax) {
		t.Errorf("error = %v, want ErrSyntax", err)
	}
}
