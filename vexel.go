// Package vexel decodes still images in several formats (JPEG, PNG, GIF,
// BMP, Netpbm) through a single entry point. Each format has its own
// decoder that exposes both the reconstructed pixels and a structured
// metadata report; Open selects the decoder by sniffing the stream content.
//
// WebP and AVIF are recognized but not decoded: their decoders report
// container-level metadata and return ErrNotImplemented from Decode.
package vexel

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Standard error types for image decoding.
var (
	ErrUnknownFormat     = errors.New("unknown image format")
	ErrNotImplemented    = errors.New("format not implemented")
	ErrSyntax            = errors.New("syntax error")
	ErrUnsupported       = errors.New("unsupported format")
	ErrInvalidDimensions = errors.New("invalid image dimensions")
	ErrBounds            = errors.New("out of bounds")
	ErrMissingKey        = errors.New("missing key")
)

// Format identifies an image encoding recognized by the dispatcher.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatGIF
	FormatBMP
	FormatNetpbm
	FormatWebP
	FormatAVIF
)

// String returns the conventional name of the format.
func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	case FormatBMP:
		return "bmp"
	case FormatNetpbm:
		return "netpbm"
	case FormatWebP:
		return "webp"
	case FormatAVIF:
		return "avif"
	}

	return "unknown"
}

// ImageInfo is the structural metadata report produced by a decoder.
// The concrete type is one of JPEGInfo, PNGInfo, GIFInfo, BMPInfo,
// NetpbmInfo, WebPInfo or AVIFInfo. Fields of the concrete types stay
// zero until the segment that defines them has been parsed; a field
// that was never seen simply remains zero, which is a valid state.
type ImageInfo interface {
	ImageFormat() Format
}

// Decoder is the per-format decode contract. A decoder owns its reader
// for the duration of the decode; instances must not be shared between
// goroutines, but independent decoders may run concurrently.
type Decoder interface {
	// Decode parses the remaining structure and reconstructs the pixels.
	Decode() (Image, error)
	// Info returns the metadata accumulated so far. It is valid before
	// Decode for formats whose header parse alone yields dimensions.
	Info() ImageInfo
}

// pngSignature is the fixed 8-byte PNG file signature.
var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// DetectFormat sniffs the image format from the first bytes of a stream.
// Twelve bytes are enough to discriminate every recognized format.
func DetectFormat(peek []byte) Format {
	switch {
	case len(peek) >= 2 && peek[0] == 0xFF && peek[1] == 0xD8:
		return FormatJPEG
	case len(peek) >= 8 && bytes.Equal(peek[:8], pngSignature):
		return FormatPNG
	case len(peek) >= 6 && (bytes.Equal(peek[:6], []byte("GIF87a")) || bytes.Equal(peek[:6], []byte("GIF89a"))):
		return FormatGIF
	case len(peek) >= 2 && peek[0] == 'B' && peek[1] == 'M':
		return FormatBMP
	case len(peek) >= 2 && peek[0] == 'P' && peek[1] >= '1' && peek[1] <= '7':
		return FormatNetpbm
	case len(peek) >= 12 && bytes.Equal(peek[:4], []byte("RIFF")) && bytes.Equal(peek[8:12], []byte("WEBP")):
		return FormatWebP
	case len(peek) >= 12 && bytes.Equal(peek[4:8], []byte("ftyp")):
		return FormatAVIF
	}

	return FormatUnknown
}

// Open sniffs the format of r and binds the matching decoder to it
// without decoding any pixels. The decoder owns r until Decode returns.
func Open(r io.ReadSeeker) (Decoder, error) {
	peek := make([]byte, 12)
	n, err := io.ReadFull(r, peek)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch DetectFormat(peek[:n]) {
	case FormatJPEG:
		return NewJPEGDecoder(r)
	case FormatPNG:
		return NewPNGDecoder(r)
	case FormatGIF:
		return NewGIFDecoder(r)
	case FormatBMP:
		return NewBMPDecoder(r)
	case FormatNetpbm:
		return NewNetpbmDecoder(r)
	case FormatWebP:
		return NewWebPDecoder(r)
	case FormatAVIF:
		return NewAVIFDecoder(r)
	}

	return nil, ErrUnknownFormat
}

// Decode detects the format of r and fully decodes it.
func Decode(r io.ReadSeeker) (Image, error) {
	d, err := Open(r)
	if err != nil {
		return Image{}, err
	}

	return d.Decode()
}

// DecodeFile decodes the image stored at path.
func DecodeFile(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return Decode(f)
}
