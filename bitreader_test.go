package vexel

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// TestReadBitsMSBFirst verifies bit order and accumulation across byte
// boundaries.
func TestReadBitsMSBFirst(t *testing.T) {
	br := NewBitReader(bytes.NewReader([]byte{0b10110100, 0b01100001}))

	b, err := br.ReadBit()
	if err != nil || b != 1 {
		t.Fatalf("first bit: got %d, %v", b, err)
	}

	v, err := br.ReadBits(10)
	if err != nil {
		t.Fatalf("ReadBits failed: %v", err)
	}

	// Next 10 bits of 10110100 01100001 after the leading 1: 0110100011.
	if v != 0b0110100011 {
		t.Errorf("ReadBits(10) = %010b, want 0110100011", v)
	}

	rest, err := br.ReadBits(5)
	if err != nil || rest != 0b00001 {
		t.Errorf("trailing bits = %05b, %v, want 00001", rest, err)
	}

	if _, err := br.ReadBit(); !errors.Is(err, io.EOF) {
		t.Errorf("read past end: got %v, want EOF", err)
	}
}

func TestReadU16BigEndian(t *testing.T) {
	br := NewBitReader(bytes.NewReader([]byte{0xFF, 0xD8, 0x12}))

	v, err := br.ReadU16()
	if err != nil || v != 0xFFD8 {
		t.Fatalf("ReadU16 = %04X, %v, want FFD8", v, err)
	}

	b, err := br.ReadU8()
	if err != nil || b != 0x12 {
		t.Fatalf("ReadU8 = %02X, %v, want 12", b, err)
	}
}

// TestClearBufferAligns verifies that byte-level reads after bit reads
// restart at the next whole byte.
func TestClearBufferAligns(t *testing.T) {
	br := NewBitReader(bytes.NewReader([]byte{0xA5, 0x3C}))

	if _, err := br.ReadBits(3); err != nil {
		t.Fatalf("ReadBits failed: %v", err)
	}

	br.ClearBuffer()

	b, err := br.ReadU8()
	if err != nil || b != 0x3C {
		t.Errorf("ReadU8 after ClearBuffer = %02X, %v, want 3C", b, err)
	}
}

func TestFindMarker(t *testing.T) {
	data := []byte{0x00, 0x11, 0xFF, 0xD8, 0x42}
	br := NewBitReader(bytes.NewReader(data))

	found, err := br.FindMarker(jpegMarker(0xFFD8))
	if err != nil || !found {
		t.Fatalf("FindMarker = %v, %v, want found", found, err)
	}

	// Cursor sits just past the marker.
	b, err := br.ReadU8()
	if err != nil || b != 0x42 {
		t.Errorf("byte after marker = %02X, %v, want 42", b, err)
	}
}

// TestFindMarkerMisaligned verifies the byte-granular scan finds markers
// at odd offsets.
func TestFindMarkerMisaligned(t *testing.T) {
	br := NewBitReader(bytes.NewReader([]byte{0x00, 0xFF, 0xD9}))

	found, err := br.FindMarker(jpegMarker(0xFFD9))
	if err != nil || !found {
		t.Fatalf("FindMarker = %v, %v, want found at odd offset", found, err)
	}
}

// TestFindMarkerFailureRewinds verifies the documented contract: a
// failed search rewinds to the absolute start of the stream.
func TestFindMarkerFailureRewinds(t *testing.T) {
	br := NewBitReader(bytes.NewReader([]byte{0x01, 0x02, 0x03}))

	if _, err := br.Seek(2, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}

	found, err := br.FindMarker(jpegMarker(0xFFD8))
	if err != nil {
		t.Fatalf("FindMarker errored: %v", err)
	}

	if found {
		t.Fatal("FindMarker found a marker that is not there")
	}

	pos, err := br.Position()
	if err != nil || pos != 0 {
		t.Errorf("position after failed search = %d, %v, want 0", pos, err)
	}
}

func TestNextMarker(t *testing.T) {
	data := []byte{0x12, 0xFF, 0x00, 0xFF, 0xFF, 0xDB, 0x99}
	br := NewBitReader(bytes.NewReader(data))

	m, ok, err := br.NextMarker(jpegMarkerSet)
	if err != nil || !ok {
		t.Fatalf("NextMarker = %v, %v", ok, err)
	}

	if m.Uint16() != 0xFFDB {
		t.Errorf("marker = %04X, want FFDB (skipping 0xFF00 and fill bytes)", m.Uint16())
	}

	// No further marker: end of stream is ok == false, not an error.
	m, ok, err = br.NextMarker(jpegMarkerSet)
	if err != nil {
		t.Fatalf("NextMarker at EOS errored: %v", err)
	}

	if ok {
		t.Errorf("NextMarker at EOS = %04X, want none", m.Uint16())
	}
}

func TestReadToEnd(t *testing.T) {
	br := NewBitReader(bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04}))

	if _, err := br.ReadBits(5); err != nil {
		t.Fatalf("ReadBits failed: %v", err)
	}

	rest, err := br.ReadToEnd()
	if err != nil {
		t.Fatalf("ReadToEnd failed: %v", err)
	}

	// Pending bits of the partially consumed byte are discarded.
	if !bytes.Equal(rest, []byte{0x02, 0x03, 0x04}) {
		t.Errorf("ReadToEnd = %x, want 020304", rest)
	}
}
