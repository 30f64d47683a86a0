package vexel

import (
	"fmt"
	"io"
)

// AVIFInfo is the ftyp box content of an AVIF (ISOBMFF) stream. Pixel
// decoding is not implemented.
type AVIFInfo struct {
	MajorBrand       string
	MinorVersion     int
	CompatibleBrands []string
}

func (AVIFInfo) ImageFormat() Format { return FormatAVIF }

// AVIFDecoder reports AVIF container metadata. Decode is not
// implemented.
type AVIFDecoder struct {
	info AVIFInfo
}

// NewAVIFDecoder reads the leading ftyp box and records its brands.
func NewAVIFDecoder(r io.ReadSeeker) (*AVIFDecoder, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("avif: reading box header: %w", err)
	}

	size := int(beU32(header[:]))
	if string(header[4:8]) != "ftyp" {
		return nil, fmt.Errorf("avif: first box %q, not ftyp: %w", header[4:8], ErrSyntax)
	}

	if size < 16 || size > 4096 {
		return nil, fmt.Errorf("avif: ftyp box of %d bytes: %w", size, ErrSyntax)
	}

	payload := make([]byte, size-8)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("avif: reading ftyp payload: %w", err)
	}

	d := &AVIFDecoder{}
	d.info.MajorBrand = string(payload[:4])
	d.info.MinorVersion = int(beU32(payload[4:]))

	for off := 8; off+4 <= len(payload); off += 4 {
		d.info.CompatibleBrands = append(d.info.CompatibleBrands, string(payload[off:off+4]))
	}

	isAVIF := d.info.MajorBrand == "avif" || d.info.MajorBrand == "avis"
	for _, b := range d.info.CompatibleBrands {
		if b == "avif" || b == "avis" {
			isAVIF = true
		}
	}

	if !isAVIF {
		return nil, fmt.Errorf("avif: brand %q: %w", d.info.MajorBrand, ErrUnsupported)
	}

	return d, nil
}

// Info returns the container metadata.
func (d *AVIFDecoder) Info() ImageInfo { return d.info }

// Decode reports that AVIF pixel decoding is not available.
func (d *AVIFDecoder) Decode() (Image, error) {
	return Image{}, fmt.Errorf("avif: %w", ErrNotImplemented)
}
