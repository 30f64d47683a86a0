package vexel

import (
	"fmt"
	"io"
)

// BMP compression modes.
const (
	bmpRGB       = 0
	bmpRLE8      = 1
	bmpRLE4      = 2
	bmpBitfields = 3
)

// BMPInfo is the parsed file and DIB header state.
type BMPInfo struct {
	FileSize   int
	DataOffset int
	HeaderSize int

	Width        int
	Height       int
	TopDown      bool
	Planes       int
	BitsPerPixel int
	Compression  int
	ImageSize    int
	XPelsPerM    int
	YPelsPerM    int
	ColorsUsed   int

	Palette [][3]byte

	RedMask   uint32
	GreenMask uint32
	BlueMask  uint32
	AlphaMask uint32
}

func (BMPInfo) ImageFormat() Format { return FormatBMP }

// BMPDecoder decodes Windows and OS/2 bitmaps: 12/40/108/124-byte DIB
// headers, 1/4/8/16/24/32 bits per pixel, BI_RGB, BI_BITFIELDS and RLE.
type BMPDecoder struct {
	r       *BitReader
	info    BMPInfo
	decoded bool
}

// NewBMPDecoder binds a decoder to a BMP stream and parses the file
// header, DIB header, channel masks and palette.
func NewBMPDecoder(r io.ReadSeeker) (*BMPDecoder, error) {
	d := &BMPDecoder{r: NewBitReader(r)}
	if err := d.parseHeader(); err != nil {
		return nil, err
	}

	return d, nil
}

// Info returns the parsed header state.
func (d *BMPDecoder) Info() ImageInfo { return d.info }

func leU16(p []byte) int { return int(p[0]) | int(p[1])<<8 }

func leU32(p []byte) uint32 {
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

func leI32(p []byte) int { return int(int32(leU32(p))) }

func (d *BMPDecoder) parseHeader() error {
	fh, err := d.r.ReadBytes(14)
	if err != nil {
		return fmt.Errorf("bmp: reading file header: %w", err)
	}

	if fh[0] != 'B' || fh[1] != 'M' {
		return fmt.Errorf("bmp: bad magic %q: %w", fh[:2], ErrSyntax)
	}

	d.info.FileSize = int(leU32(fh[2:]))
	d.info.DataOffset = int(leU32(fh[10:]))

	sizeBytes, err := d.r.ReadBytes(4)
	if err != nil {
		return fmt.Errorf("bmp: reading DIB header size: %w", err)
	}

	d.info.HeaderSize = int(leU32(sizeBytes))

	switch d.info.HeaderSize {
	case 12: // BITMAPCOREHEADER
		p, err := d.r.ReadBytes(8)
		if err != nil {
			return fmt.Errorf("bmp: reading core header: %w", err)
		}

		d.info.Width = leU16(p)
		d.info.Height = leU16(p[2:])
		d.info.Planes = leU16(p[4:])
		d.info.BitsPerPixel = leU16(p[6:])
	case 40, 52, 56, 108, 124:
		p, err := d.r.ReadBytes(d.info.HeaderSize - 4)
		if err != nil {
			return fmt.Errorf("bmp: reading DIB header: %w", err)
		}

		d.info.Width = leI32(p)
		h := leI32(p[4:])
		if h < 0 {
			d.info.TopDown = true
			h = -h
		}

		d.info.Height = h
		d.info.Planes = leU16(p[8:])
		d.info.BitsPerPixel = leU16(p[10:])
		d.info.Compression = int(leU32(p[12:]))
		d.info.ImageSize = int(leU32(p[16:]))
		d.info.XPelsPerM = leI32(p[20:])
		d.info.YPelsPerM = leI32(p[24:])
		d.info.ColorsUsed = int(leU32(p[28:]))

		if d.info.HeaderSize >= 52 {
			d.info.RedMask = leU32(p[36:])
			d.info.GreenMask = leU32(p[40:])
			d.info.BlueMask = leU32(p[44:])
		}

		if d.info.HeaderSize >= 56 {
			d.info.AlphaMask = leU32(p[48:])
		}

		// A 40-byte header with BI_BITFIELDS carries the three masks
		// right after the header.
		if d.info.HeaderSize == 40 && d.info.Compression == bmpBitfields {
			m, err := d.r.ReadBytes(12)
			if err != nil {
				return fmt.Errorf("bmp: reading channel masks: %w", err)
			}

			d.info.RedMask = leU32(m)
			d.info.GreenMask = leU32(m[4:])
			d.info.BlueMask = leU32(m[8:])
		}
	default:
		return fmt.Errorf("bmp: DIB header size %d: %w", d.info.HeaderSize, ErrUnsupported)
	}

	if d.info.Width <= 0 || d.info.Height <= 0 {
		return fmt.Errorf("bmp: %dx%d: %w", d.info.Width, d.info.Height, ErrInvalidDimensions)
	}

	switch d.info.BitsPerPixel {
	case 1, 4, 8, 16, 24, 32:
	default:
		return fmt.Errorf("bmp: %d bits per pixel: %w", d.info.BitsPerPixel, ErrUnsupported)
	}

	switch d.info.Compression {
	case bmpRGB, bmpBitfields:
	case bmpRLE8:
		if d.info.BitsPerPixel != 8 {
			return fmt.Errorf("bmp: RLE8 with %d bpp: %w", d.info.BitsPerPixel, ErrSyntax)
		}
	case bmpRLE4:
		if d.info.BitsPerPixel != 4 {
			return fmt.Errorf("bmp: RLE4 with %d bpp: %w", d.info.BitsPerPixel, ErrSyntax)
		}
	default:
		return fmt.Errorf("bmp: compression %d: %w", d.info.Compression, ErrUnsupported)
	}

	if d.info.BitsPerPixel <= 8 {
		n := d.info.ColorsUsed
		if n == 0 || n > 1<<d.info.BitsPerPixel {
			n = 1 << d.info.BitsPerPixel
		}

		entry := 4
		if d.info.HeaderSize == 12 {
			entry = 3
		}

		raw, err := d.r.ReadBytes(n * entry)
		if err != nil {
			return fmt.Errorf("bmp: reading palette: %w", err)
		}

		d.info.Palette = make([][3]byte, n)
		for i := range d.info.Palette {
			// stored as BGR(A)
			d.info.Palette[i] = [3]byte{raw[i*entry+2], raw[i*entry+1], raw[i*entry]}
		}
	}

	// Default masks when BI_RGB leaves them unset.
	if d.info.Compression == bmpRGB {
		switch d.info.BitsPerPixel {
		case 16:
			d.info.RedMask, d.info.GreenMask, d.info.BlueMask = 0x7C00, 0x03E0, 0x001F
		case 32:
			d.info.RedMask, d.info.GreenMask, d.info.BlueMask = 0x00FF0000, 0x0000FF00, 0x000000FF
		}
	}

	return nil
}

// maskChannel extracts and scales one channel of a masked pixel value
// to 8 bits.
func maskChannel(v, mask uint32) byte {
	if mask == 0 {
		return 0
	}

	shift := 0
	for mask&1 == 0 {
		mask >>= 1
		shift++
	}

	bits := 0
	for m := mask; m&1 == 1; m >>= 1 {
		bits++
	}

	x := (v >> shift) & mask
	if bits >= 8 {
		return byte(x >> (bits - 8))
	}

	return byte(x * 255 / (1<<bits - 1))
}

// Decode reads the pixel array and converts it to RGB8 (RGBA8 when a
// 32-bit image carries an alpha mask).
func (d *BMPDecoder) Decode() (Image, error) {
	if d.decoded {
		return Image{}, fmt.Errorf("bmp: decoder already consumed: %w", ErrSyntax)
	}

	d.decoded = true

	if _, err := d.r.Seek(int64(d.info.DataOffset), io.SeekStart); err != nil {
		return Image{}, fmt.Errorf("bmp: seeking to pixel data: %w", err)
	}

	format := RGB8
	if d.info.BitsPerPixel == 32 && d.info.AlphaMask != 0 {
		format = RGBA8
	}

	img, err := newImage(d.info.Width, d.info.Height, format)
	if err != nil {
		return Image{}, err
	}

	if d.info.Compression == bmpRLE8 || d.info.Compression == bmpRLE4 {
		if err := d.decodeRLE(&img); err != nil {
			return Image{}, err
		}

		return img, nil
	}

	rowBits := d.info.Width * d.info.BitsPerPixel
	rowBytes := (rowBits + 31) / 32 * 4

	for row := 0; row < d.info.Height; row++ {
		line, err := d.r.ReadBytes(rowBytes)
		if err != nil {
			return Image{}, fmt.Errorf("bmp: reading row %d: %w", row, err)
		}

		y := d.info.Height - 1 - row
		if d.info.TopDown {
			y = row
		}

		if err := d.emitRow(line, &img, y); err != nil {
			return Image{}, err
		}
	}

	return img, nil
}

func (d *BMPDecoder) emitRow(line []byte, img *Image, y int) error {
	bpp := img.Format.BytesPerPixel()

	for x := 0; x < d.info.Width; x++ {
		dst := (y*img.Width + x) * bpp

		switch d.info.BitsPerPixel {
		case 1, 4:
			depth := d.info.BitsPerPixel
			bit := x * depth
			idx := int(line[bit>>3]>>(8-depth-(bit&7))) & (1<<depth - 1)
			if err := d.putPaletteEntry(img, dst, idx); err != nil {
				return err
			}
		case 8:
			if err := d.putPaletteEntry(img, dst, int(line[x])); err != nil {
				return err
			}
		case 16:
			v := uint32(leU16(line[2*x:]))
			img.Data[dst] = maskChannel(v, d.info.RedMask)
			img.Data[dst+1] = maskChannel(v, d.info.GreenMask)
			img.Data[dst+2] = maskChannel(v, d.info.BlueMask)
		case 24:
			img.Data[dst] = line[3*x+2]
			img.Data[dst+1] = line[3*x+1]
			img.Data[dst+2] = line[3*x]
		case 32:
			v := leU32(line[4*x:])
			img.Data[dst] = maskChannel(v, d.info.RedMask)
			img.Data[dst+1] = maskChannel(v, d.info.GreenMask)
			img.Data[dst+2] = maskChannel(v, d.info.BlueMask)
			if img.Format == RGBA8 {
				img.Data[dst+3] = maskChannel(v, d.info.AlphaMask)
			}
		}
	}

	return nil
}

func (d *BMPDecoder) putPaletteEntry(img *Image, dst, idx int) error {
	entry, err := getAt(d.info.Palette, idx)
	if err != nil {
		return fmt.Errorf("bmp: palette: %w", err)
	}

	img.Data[dst] = entry[0]
	img.Data[dst+1] = entry[1]
	img.Data[dst+2] = entry[2]

	return nil
}

// decodeRLE expands RLE8/RLE4 runs. Escape sequences: 0 end of line, 1
// end of bitmap, 2 position delta, otherwise absolute mode.
func (d *BMPDecoder) decodeRLE(img *Image) error {
	data, err := d.r.ReadToEnd()
	if err != nil {
		return fmt.Errorf("bmp: reading RLE data: %w", err)
	}

	x, row := 0, 0
	rle4 := d.info.Compression == bmpRLE4

	put := func(idx int) error {
		if x >= d.info.Width || row >= d.info.Height {
			return nil // runs past the row edge are clipped
		}

		y := d.info.Height - 1 - row
		if d.info.TopDown {
			y = row
		}

		err := d.putPaletteEntry(img, (y*img.Width+x)*img.Format.BytesPerPixel(), idx)
		x++

		return err
	}

	for pos := 0; pos+1 < len(data); {
		count := int(data[pos])
		val := int(data[pos+1])
		pos += 2

		if count > 0 {
			for i := 0; i < count; i++ {
				idx := val
				if rle4 {
					if i&1 == 0 {
						idx = val >> 4
					} else {
						idx = val & 0x0F
					}
				}

				if err := put(idx); err != nil {
					return err
				}
			}

			continue
		}

		switch val {
		case 0: // end of line
			x = 0
			row++
		case 1: // end of bitmap
			return nil
		case 2: // delta
			delta, err := getRange(data, pos, pos+2)
			if err != nil {
				return fmt.Errorf("bmp: RLE delta: %w", err)
			}

			x += int(delta[0])
			row += int(delta[1])
			pos += 2
		default: // absolute mode, val pixels follow
			n := val
			byteLen := n
			if rle4 {
				byteLen = (n + 1) / 2
			}

			// absolute runs pad to 16-bit boundaries
			padded := (byteLen + 1) &^ 1
			chunk, err := getRange(data, pos, pos+padded)
			if err != nil {
				return fmt.Errorf("bmp: RLE absolute run: %w", err)
			}

			for i := 0; i < n; i++ {
				var idx int
				if rle4 {
					b := chunk[i/2]
					if i&1 == 0 {
						idx = int(b >> 4)
					} else {
						idx = int(b & 0x0F)
					}
				} else {
					idx = int(chunk[i])
				}

				if err := put(idx); err != nil {
					return err
				}
			}

			pos += padded
		}
	}

	return nil
}
