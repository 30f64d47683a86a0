package vexel

import (
	"errors"
	"fmt"
	"io"
)

// Marker is a 16-bit structural tag recognized by a format's marker
// enumeration. Each format supplies its own concrete marker type; the
// BitReader's scanning algorithms only see this contract.
type Marker interface {
	// Uint16 returns the marker's numeric wire value. Total.
	Uint16() uint16
}

// MarkerSet maps a numeric wire value back to a format's marker variant.
// Unknown codes return ok == false.
type MarkerSet func(code uint16) (Marker, bool)

// BitReader reads individual bits, multi-bit fields and byte-level values
// from a seekable byte source, MSB-first within each byte. It carries at
// most 7 pending bits between bit-level reads; byte-level operations that
// must be byte-aligned call ClearBuffer first.
type BitReader struct {
	r       io.ReadSeeker
	pending byte // partially consumed byte
	nbits   int  // unread bits left in pending, always < 8 after a read
	scratch [2]byte
}

// NewBitReader wraps a seekable byte source.
func NewBitReader(r io.ReadSeeker) *BitReader {
	return &BitReader{r: r}
}

// readByte pulls exactly one byte from the underlying source.
func (b *BitReader) readByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.scratch[:1]); err != nil {
		return 0, err
	}

	return b.scratch[0], nil
}

// ReadBit returns the most significant unread bit. If no partially
// consumed byte is pending, exactly one byte is pulled from the source.
func (b *BitReader) ReadBit() (byte, error) {
	if b.nbits == 0 {
		c, err := b.readByte()
		if err != nil {
			return 0, err
		}

		b.pending = c
		b.nbits = 8
	}

	b.nbits--

	return (b.pending >> b.nbits) & 1, nil
}

// ReadBits accumulates n bits MSB-first into an unsigned integer.
// n must be at most 32; that is the caller's responsibility.
func (b *BitReader) ReadBits(n int) (uint32, error) {
	var v uint32
	for i := 0; i < n; i++ {
		bit, err := b.ReadBit()
		if err != nil {
			return 0, err
		}

		v = (v << 1) | uint32(bit)
	}

	return v, nil
}

// ReadU8 reads the next 8 bits as an unsigned byte.
func (b *BitReader) ReadU8() (uint8, error) {
	if b.nbits == 0 {
		return b.readByte()
	}

	v, err := b.ReadBits(8)

	return uint8(v), err
}

// ReadU16 reads the next 16 bits as a big-endian unsigned value.
func (b *BitReader) ReadU16() (uint16, error) {
	if b.nbits == 0 {
		if _, err := io.ReadFull(b.r, b.scratch[:2]); err != nil {
			return 0, err
		}

		return uint16(b.scratch[0])<<8 | uint16(b.scratch[1]), nil
	}

	v, err := b.ReadBits(16)

	return uint16(v), err
}

// ReadBytes reads exactly n bytes, byte-aligned, discarding pending bits.
func (b *BitReader) ReadBytes(n int) ([]byte, error) {
	b.ClearBuffer()

	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, err
	}

	return buf, nil
}

// ClearBuffer discards any partially consumed byte, so the next read is
// byte-aligned. The cursor is not moved.
func (b *BitReader) ClearBuffer() {
	b.pending = 0
	b.nbits = 0
}

// Seek repositions the cursor and discards pending bits.
func (b *BitReader) Seek(offset int64, whence int) (int64, error) {
	b.ClearBuffer()

	return b.r.Seek(offset, whence)
}

// Position reports the current byte offset of the cursor.
func (b *BitReader) Position() (int64, error) {
	return b.r.Seek(0, io.SeekCurrent)
}

// Reset rewinds to the absolute start of the stream and discards
// pending bits.
func (b *BitReader) Reset() error {
	_, err := b.Seek(0, io.SeekStart)

	return err
}

// ReadToEnd drains the remainder of the stream into a buffer. Pending
// bits are discarded as a side effect.
func (b *BitReader) ReadToEnd() ([]byte, error) {
	b.ClearBuffer()

	return io.ReadAll(b.r)
}

// FindMarker scans forward for an exact big-endian match of the marker's
// numeric value, advancing one byte per probe. On a match the cursor sits
// just past the two marker bytes and true is returned. On exhaustion the
// cursor is rewound to the absolute start of the stream and false is
// returned, so a failed search never leaves the cursor mid-stream.
func (b *BitReader) FindMarker(m Marker) (bool, error) {
	b.ClearBuffer()
	want := m.Uint16()

	for {
		v, err := b.ReadU16()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if err := b.Reset(); err != nil {
					return false, err
				}

				return false, nil
			}

			return false, err
		}

		if v == want {
			return true, nil
		}

		if _, err := b.Seek(-1, io.SeekCurrent); err != nil {
			return false, err
		}
	}
}

// NextMarker scans byte-by-byte for the escape byte 0xFF followed by a
// byte that the set recognizes, and leaves the cursor just past the
// marker. End of stream returns ok == false without an error.
//
// A literal 0xFF in unframed data that happens to precede a marker-like
// byte is indistinguishable from a deliberate marker here; callers that
// scan entropy-coded JPEG data handle 0xFF00 stuffing themselves.
func (b *BitReader) NextMarker(set MarkerSet) (Marker, bool, error) {
	b.ClearBuffer()

	for {
		c, err := b.readByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, false, nil
			}

			return nil, false, err
		}

		if c != 0xFF {
			continue
		}

		c2, err := b.readByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, false, nil
			}

			return nil, false, err
		}

		if m, ok := set(0xFF00 | uint16(c2)); ok {
			return m, true, nil
		}

		// 0xFF followed by an unknown byte: the second byte may itself
		// start a marker (0xFF fill bytes), so re-examine it.
		if c2 == 0xFF {
			if _, err := b.Seek(-1, io.SeekCurrent); err != nil {
				return nil, false, err
			}
		}
	}
}

// expectLength validates a length field taken from file content against
// the number of bytes the structure actually needs.
func expectLength(what string, got, want int) error {
	if got < want {
		return fmt.Errorf("%s: declared length %d, need %d: %w", what, got, want, ErrSyntax)
	}

	return nil
}
