package vexel

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/image/riff"
)

// WebPInfo is container-level metadata from the RIFF chunk walk. Pixel
// decoding is not implemented; dimensions and feature flags come from
// the VP8/VP8L/VP8X headers.
type WebPInfo struct {
	Width  int
	Height int

	Lossless bool
	Extended bool

	HasAlpha     bool
	HasAnimation bool
	HasICC       bool
	HasEXIF      bool
	HasXMP       bool

	Chunks []string
}

func (WebPInfo) ImageFormat() Format { return FormatWebP }

// WebPDecoder reports WebP container metadata. Decode is not
// implemented.
type WebPDecoder struct {
	info WebPInfo
}

var (
	fccWEBP = riff.FourCC{'W', 'E', 'B', 'P'}
	fccVP8  = riff.FourCC{'V', 'P', '8', ' '}
	fccVP8L = riff.FourCC{'V', 'P', '8', 'L'}
	fccVP8X = riff.FourCC{'V', 'P', '8', 'X'}
	fccALPH = riff.FourCC{'A', 'L', 'P', 'H'}
	fccICCP = riff.FourCC{'I', 'C', 'C', 'P'}
	fccEXIF = riff.FourCC{'E', 'X', 'I', 'F'}
	fccXMP  = riff.FourCC{'X', 'M', 'P', ' '}
	fccANIM = riff.FourCC{'A', 'N', 'I', 'M'}
)

// NewWebPDecoder walks the RIFF structure and collects dimensions and
// feature flags.
func NewWebPDecoder(r io.ReadSeeker) (*WebPDecoder, error) {
	formType, rr, err := riff.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("webp: opening RIFF container: %w", err)
	}

	if formType != fccWEBP {
		return nil, fmt.Errorf("webp: RIFF form %q: %w", formType[:], ErrSyntax)
	}

	d := &WebPDecoder{}
	for {
		chunkID, chunkLen, chunkData, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("webp: walking chunks: %w", err)
		}

		d.info.Chunks = append(d.info.Chunks, string(chunkID[:]))

		switch chunkID {
		case fccVP8:
			if err := d.parseVP8(chunkData, chunkLen); err != nil {
				return nil, err
			}
		case fccVP8L:
			if err := d.parseVP8L(chunkData, chunkLen); err != nil {
				return nil, err
			}
		case fccVP8X:
			if err := d.parseVP8X(chunkData, chunkLen); err != nil {
				return nil, err
			}
		case fccALPH:
			d.info.HasAlpha = true
		case fccICCP:
			d.info.HasICC = true
		case fccEXIF:
			d.info.HasEXIF = true
		case fccXMP:
			d.info.HasXMP = true
		case fccANIM:
			d.info.HasAnimation = true
		}
	}

	return d, nil
}

// Info returns the container metadata.
func (d *WebPDecoder) Info() ImageInfo { return d.info }

// Decode reports that WebP pixel decoding is not available.
func (d *WebPDecoder) Decode() (Image, error) {
	return Image{}, fmt.Errorf("webp: %w", ErrNotImplemented)
}

// parseVP8 reads the lossy key frame header: start code then 14-bit
// dimensions.
func (d *WebPDecoder) parseVP8(r io.Reader, n uint32) error {
	if n < 10 {
		return fmt.Errorf("webp: VP8 chunk of %d bytes: %w", n, ErrSyntax)
	}

	var h [10]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return fmt.Errorf("webp: reading VP8 header: %w", err)
	}

	if h[3] != 0x9D || h[4] != 0x01 || h[5] != 0x2A {
		return fmt.Errorf("webp: VP8 start code: %w", ErrSyntax)
	}

	d.info.Width = int(h[6]) | (int(h[7])&0x3F)<<8
	d.info.Height = int(h[8]) | (int(h[9])&0x3F)<<8

	return nil
}

// parseVP8L reads the lossless header: signature byte, then 14-bit
// width-1 and height-1 and the alpha hint.
func (d *WebPDecoder) parseVP8L(r io.Reader, n uint32) error {
	if n < 5 {
		return fmt.Errorf("webp: VP8L chunk of %d bytes: %w", n, ErrSyntax)
	}

	var h [5]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return fmt.Errorf("webp: reading VP8L header: %w", err)
	}

	if h[0] != 0x2F {
		return fmt.Errorf("webp: VP8L signature 0x%02X: %w", h[0], ErrSyntax)
	}

	bits := uint32(h[1]) | uint32(h[2])<<8 | uint32(h[3])<<16 | uint32(h[4])<<24
	d.info.Lossless = true
	d.info.Width = int(bits&0x3FFF) + 1
	d.info.Height = int(bits>>14&0x3FFF) + 1
	d.info.HasAlpha = d.info.HasAlpha || bits>>28&1 == 1

	return nil
}

// parseVP8X reads the extended-format flags and 24-bit canvas size.
func (d *WebPDecoder) parseVP8X(r io.Reader, n uint32) error {
	if n < 10 {
		return fmt.Errorf("webp: VP8X chunk of %d bytes: %w", n, ErrSyntax)
	}

	var h [10]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return fmt.Errorf("webp: reading VP8X header: %w", err)
	}

	d.info.Extended = true
	d.info.HasICC = d.info.HasICC || h[0]&0x20 != 0
	d.info.HasAlpha = d.info.HasAlpha || h[0]&0x10 != 0
	d.info.HasEXIF = d.info.HasEXIF || h[0]&0x08 != 0
	d.info.HasXMP = d.info.HasXMP || h[0]&0x04 != 0
	d.info.HasAnimation = d.info.HasAnimation || h[0]&0x02 != 0

	d.info.Width = (int(h[4]) | int(h[5])<<8 | int(h[6])<<16) + 1
	d.info.Height = (int(h[7]) | int(h[8])<<8 | int(h[9])<<16) + 1

	return nil
}
