package vexel

import "fmt"

// PixelFormat identifies the in-memory sample layout of an Image.
// 16-bit formats store big-endian samples, matching PNG's wire order.
type PixelFormat int

const (
	Gray8 PixelFormat = iota
	Gray16
	GrayAlpha8
	GrayAlpha16
	RGB8
	RGBA8
	RGB16
	RGBA16
)

// BytesPerPixel returns the storage size of one pixel in the format.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case Gray8:
		return 1
	case Gray16, GrayAlpha8:
		return 2
	case RGB8:
		return 3
	case GrayAlpha16, RGBA8:
		return 4
	case RGB16:
		return 6
	case RGBA16:
		return 8
	}

	return 0
}

// String returns a short name for the pixel format.
func (p PixelFormat) String() string {
	switch p {
	case Gray8:
		return "gray8"
	case Gray16:
		return "gray16"
	case GrayAlpha8:
		return "graya8"
	case GrayAlpha16:
		return "graya16"
	case RGB8:
		return "rgb8"
	case RGBA8:
		return "rgba8"
	case RGB16:
		return "rgb16"
	case RGBA16:
		return "rgba16"
	}

	return "invalid"
}

// Image is the unified decode output: a rectangular pixel grid in one of
// the internal sample layouts. It is a value type; decoders hand it off
// and never mutate it afterwards. Invariant for any decoded image:
// Width and Height are nonzero and len(Data) == Width*Height*bpp.
type Image struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

// newImage allocates an image buffer for the given geometry.
func newImage(width, height int, format PixelFormat) (Image, error) {
	if width <= 0 || height <= 0 {
		return Image{}, fmt.Errorf("%dx%d: %w", width, height, ErrInvalidDimensions)
	}

	return Image{
		Width:  width,
		Height: height,
		Format: format,
		Data:   make([]byte, width*height*format.BytesPerPixel()),
	}, nil
}

// AsRGB8 converts the image to packed row-major 8-bit RGB triples.
// Images already in RGB8 return their backing buffer without copying;
// 16-bit samples keep their high byte, alpha is dropped.
func (m *Image) AsRGB8() []byte {
	if m.Format == RGB8 {
		return m.Data
	}

	n := m.Width * m.Height
	out := make([]byte, n*3)
	bpp := m.Format.BytesPerPixel()

	for i := 0; i < n; i++ {
		src := i * bpp
		dst := i * 3

		switch m.Format {
		case Gray8:
			out[dst], out[dst+1], out[dst+2] = m.Data[src], m.Data[src], m.Data[src]
		case Gray16:
			out[dst], out[dst+1], out[dst+2] = m.Data[src], m.Data[src], m.Data[src]
		case GrayAlpha8:
			out[dst], out[dst+1], out[dst+2] = m.Data[src], m.Data[src], m.Data[src]
		case GrayAlpha16:
			out[dst], out[dst+1], out[dst+2] = m.Data[src], m.Data[src], m.Data[src]
		case RGBA8:
			out[dst], out[dst+1], out[dst+2] = m.Data[src], m.Data[src+1], m.Data[src+2]
		case RGB16:
			out[dst], out[dst+1], out[dst+2] = m.Data[src], m.Data[src+2], m.Data[src+4]
		case RGBA16:
			out[dst], out[dst+1], out[dst+2] = m.Data[src], m.Data[src+2], m.Data[src+4]
		}
	}

	return out
}

// clamp clamps an int32 value to the valid 8-bit sample range [0, 255].
func clamp(x int32) byte {
	if x < 0 {
		return 0
	}

	if x > 255 {
		return 255
	}

	return byte(x)
}
