package vexel

import (
	"fmt"
	"io"
)

// GIFFrame is one decoded image within the stream, converted to RGBA
// with its placement and timing metadata.
type GIFFrame struct {
	X, Y          int
	Width, Height int

	Delay            int // hundredths of a second
	DisposalMethod   byte
	TransparentIndex int // palette index, -1 if none
	Interlaced       bool
	LocalPalette     bool

	Pixels []byte // RGBA, Width*Height*4
}

// GIFInfo is the structural metadata of a GIF stream. Frames fills in
// during Decode.
type GIFInfo struct {
	Version         string
	Width           int
	Height          int
	GlobalPalette   [][3]byte
	BackgroundIndex int
	AspectRatio     byte

	LoopCount *int // NETSCAPE extension; 0 means forever
	Comments  []string

	Frames []GIFFrame
}

func (GIFInfo) ImageFormat() Format { return FormatGIF }

// GIFDecoder decodes GIF87a/89a streams: every frame to RGBA, with
// extension metadata collected along the way.
type GIFDecoder struct {
	r       *BitReader
	info    GIFInfo
	decoded bool

	// pending graphic control state for the next image descriptor
	delay            int
	disposal         byte
	transparentIndex int
}

// NewGIFDecoder binds a decoder to a GIF stream and parses the header,
// logical screen descriptor and global color table.
func NewGIFDecoder(r io.ReadSeeker) (*GIFDecoder, error) {
	d := &GIFDecoder{r: NewBitReader(r), transparentIndex: -1}

	header, err := d.r.ReadBytes(6)
	if err != nil {
		return nil, fmt.Errorf("gif: reading header: %w", err)
	}

	if string(header[:3]) != "GIF" || (string(header[3:]) != "87a" && string(header[3:]) != "89a") {
		return nil, fmt.Errorf("gif: bad header %q: %w", header, ErrSyntax)
	}

	d.info.Version = string(header[3:])

	lsd, err := d.r.ReadBytes(7)
	if err != nil {
		return nil, fmt.Errorf("gif: reading logical screen descriptor: %w", err)
	}

	d.info.Width = int(lsd[0]) | int(lsd[1])<<8
	d.info.Height = int(lsd[2]) | int(lsd[3])<<8
	d.info.BackgroundIndex = int(lsd[5])
	d.info.AspectRatio = lsd[6]

	if d.info.Width == 0 || d.info.Height == 0 {
		return nil, fmt.Errorf("gif: %dx%d screen: %w", d.info.Width, d.info.Height, ErrInvalidDimensions)
	}

	if lsd[4]&0x80 != 0 {
		size := 2 << (lsd[4] & 0x07)
		d.info.GlobalPalette, err = d.readPalette(size)
		if err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Info returns the metadata collected so far; Frames is populated by
// Decode.
func (d *GIFDecoder) Info() ImageInfo { return d.info }

func (d *GIFDecoder) readPalette(size int) ([][3]byte, error) {
	raw, err := d.r.ReadBytes(size * 3)
	if err != nil {
		return nil, fmt.Errorf("gif: reading color table: %w", err)
	}

	pal := make([][3]byte, size)
	for i := range pal {
		pal[i] = [3]byte{raw[3*i], raw[3*i+1], raw[3*i+2]}
	}

	return pal, nil
}

// Decode walks the block stream, decodes every frame, and returns the
// first frame composited onto the logical-screen canvas. Multi-frame
// compositing across disposal methods is left to the caller, who gets
// every frame through Info.
func (d *GIFDecoder) Decode() (Image, error) {
	if d.decoded {
		return Image{}, fmt.Errorf("gif: decoder already consumed: %w", ErrSyntax)
	}

	d.decoded = true

	if err := d.decodeBlocks(); err != nil {
		return Image{}, err
	}

	if len(d.info.Frames) == 0 {
		return Image{}, fmt.Errorf("gif: no image data: %w", ErrSyntax)
	}

	img, err := newImage(d.info.Width, d.info.Height, RGBA8)
	if err != nil {
		return Image{}, err
	}

	// Canvas starts as the background color when the global table
	// supplies one, fully transparent otherwise.
	if bg, err := getAt(d.info.GlobalPalette, d.info.BackgroundIndex); err == nil {
		for i := 0; i < len(img.Data); i += 4 {
			img.Data[i] = bg[0]
			img.Data[i+1] = bg[1]
			img.Data[i+2] = bg[2]
			img.Data[i+3] = 255
		}
	}

	f := &d.info.Frames[0]
	for y := 0; y < f.Height; y++ {
		cy := f.Y + y
		if cy >= d.info.Height {
			break
		}

		for x := 0; x < f.Width; x++ {
			cx := f.X + x
			if cx >= d.info.Width {
				break
			}

			src := (y*f.Width + x) * 4
			if f.Pixels[src+3] == 0 {
				continue
			}

			dst := (cy*d.info.Width + cx) * 4
			copy(img.Data[dst:dst+4], f.Pixels[src:src+4])
		}
	}

	return img, nil
}

func (d *GIFDecoder) decodeBlocks() error {
	for {
		b, err := d.r.ReadU8()
		if err != nil {
			return fmt.Errorf("gif: reading block type: %w", err)
		}

		switch b {
		case 0x21: // extension
			if err := d.decodeExtension(); err != nil {
				return err
			}
		case 0x2C: // image descriptor
			if err := d.decodeFrame(); err != nil {
				return err
			}
		case 0x3B: // trailer
			return nil
		default:
			return fmt.Errorf("gif: block type 0x%02X: %w", b, ErrSyntax)
		}
	}
}

// readSubBlocks concatenates a sub-block sequence up to its terminator.
func (d *GIFDecoder) readSubBlocks() ([]byte, error) {
	var out []byte
	for {
		n, err := d.r.ReadU8()
		if err != nil {
			return nil, fmt.Errorf("gif: reading sub-block size: %w", err)
		}

		if n == 0 {
			return out, nil
		}

		block, err := d.r.ReadBytes(int(n))
		if err != nil {
			return nil, fmt.Errorf("gif: reading sub-block: %w", err)
		}

		out = append(out, block...)
	}
}

func (d *GIFDecoder) decodeExtension() error {
	label, err := d.r.ReadU8()
	if err != nil {
		return fmt.Errorf("gif: reading extension label: %w", err)
	}

	data, err := d.readSubBlocks()
	if err != nil {
		return err
	}

	switch label {
	case 0xF9: // graphic control
		if len(data) >= 4 {
			d.disposal = (data[0] >> 2) & 0x07
			d.delay = int(data[1]) | int(data[2])<<8
			if data[0]&0x01 != 0 {
				d.transparentIndex = int(data[3])
			} else {
				d.transparentIndex = -1
			}
		}
	case 0xFE: // comment
		d.info.Comments = append(d.info.Comments, string(data))
	case 0xFF: // application
		if len(data) >= 14 && string(data[:11]) == "NETSCAPE2.0" && data[11] == 1 {
			loops := int(data[12]) | int(data[13])<<8
			d.info.LoopCount = &loops
		}
	case 0x01: // plain text, not rendered
	}

	return nil
}

func (d *GIFDecoder) decodeFrame() error {
	desc, err := d.r.ReadBytes(9)
	if err != nil {
		return fmt.Errorf("gif: reading image descriptor: %w", err)
	}

	f := GIFFrame{
		X:                int(desc[0]) | int(desc[1])<<8,
		Y:                int(desc[2]) | int(desc[3])<<8,
		Width:            int(desc[4]) | int(desc[5])<<8,
		Height:           int(desc[6]) | int(desc[7])<<8,
		Delay:            d.delay,
		DisposalMethod:   d.disposal,
		TransparentIndex: d.transparentIndex,
		Interlaced:       desc[8]&0x40 != 0,
	}

	// Graphic control applies to exactly one image.
	d.delay, d.disposal, d.transparentIndex = 0, 0, -1

	if f.Width == 0 || f.Height == 0 {
		return fmt.Errorf("gif: %dx%d frame: %w", f.Width, f.Height, ErrInvalidDimensions)
	}

	palette := d.info.GlobalPalette
	if desc[8]&0x80 != 0 {
		size := 2 << (desc[8] & 0x07)
		palette, err = d.readPalette(size)
		if err != nil {
			return err
		}

		f.LocalPalette = true
	}

	if len(palette) == 0 {
		return fmt.Errorf("gif: frame without color table: %w", ErrSyntax)
	}

	minCodeSize, err := d.r.ReadU8()
	if err != nil {
		return fmt.Errorf("gif: reading LZW code size: %w", err)
	}

	if minCodeSize < 2 || minCodeSize > 8 {
		return fmt.Errorf("gif: LZW minimum code size %d: %w", minCodeSize, ErrSyntax)
	}

	data, err := d.readSubBlocks()
	if err != nil {
		return err
	}

	indices, err := lzwDecode(int(minCodeSize), data, f.Width*f.Height)
	if err != nil {
		return err
	}

	if f.Interlaced {
		indices = deinterlace(indices, f.Width, f.Height)
	}

	f.Pixels = make([]byte, f.Width*f.Height*4)
	for i, idx := range indices {
		if int(idx) == f.TransparentIndex {
			continue // alpha stays zero
		}

		entry, err := getAt(palette, int(idx))
		if err != nil {
			return fmt.Errorf("gif: color index: %w", err)
		}

		f.Pixels[4*i] = entry[0]
		f.Pixels[4*i+1] = entry[1]
		f.Pixels[4*i+2] = entry[2]
		f.Pixels[4*i+3] = 255
	}

	d.info.Frames = append(d.info.Frames, f)

	return nil
}

// interlacePasses lists row start and step for the four GIF interlace
// passes.
var interlacePasses = [4]struct{ start, step int }{
	{0, 8}, {4, 8}, {2, 4}, {1, 2},
}

// deinterlace reorders rows from interlaced transmission order into
// display order.
func deinterlace(indices []byte, width, height int) []byte {
	out := make([]byte, len(indices))
	src := 0

	for _, p := range interlacePasses {
		for y := p.start; y < height; y += p.step {
			copy(out[y*width:(y+1)*width], indices[src:src+width])
			src += width
		}
	}

	return out
}

// lzwDecode runs the GIF variant of LZW over concatenated sub-block
// data: LSB-first codes of growing width, clear and end-of-information
// codes, 12-bit dictionary cap. Decoding stops once expected indices
// have been produced; a code that references a dictionary entry that
// does not exist yet is a corrupt stream.
func lzwDecode(minCodeSize int, data []byte, expected int) ([]byte, error) {
	const maxCodes = 4096

	clear := 1 << minCodeSize
	eoi := clear + 1

	var prefix [maxCodes]int16
	var suffix, first [maxCodes]byte

	codeSize := minCodeSize + 1
	next := eoi + 1
	prev := -1

	out := make([]byte, 0, expected)
	var stack [maxCodes]byte

	bitPos := 0
	readCode := func() (int, bool) {
		if (bitPos+codeSize+7)/8 > len(data) {
			return 0, false
		}

		v := 0
		for i := 0; i < codeSize; i++ {
			if data[(bitPos>>3)]&(1<<(bitPos&7)) != 0 {
				v |= 1 << i
			}

			bitPos++
		}

		return v, true
	}

	for len(out) < expected {
		code, ok := readCode()
		if !ok {
			// Truncated streams keep what was decoded; the caller's
			// frame geometry bounds the output either way.
			break
		}

		switch {
		case code == clear:
			codeSize = minCodeSize + 1
			next = eoi + 1
			prev = -1

			continue
		case code == eoi:
			return padIndices(out, expected), nil
		case code > next || (prev < 0 && code >= clear):
			return nil, fmt.Errorf("gif: LZW code %d with %d entries: %w", code, next, ErrSyntax)
		}

		// Expand the code (or the KwKwK case) through the prefix chain.
		sp := 0
		cur := code
		if code == next {
			// Code not in the table yet: it must be prev + first(prev).
			stack[sp] = first[prev]
			sp++
			cur = prev
		}

		for cur >= clear+2 {
			stack[sp] = suffix[cur]
			sp++
			cur = int(prefix[cur])
		}

		stack[sp] = byte(cur)
		sp++

		if prev >= 0 && next < maxCodes {
			prefix[next] = int16(prev)
			suffix[next] = byte(cur)
			first[next] = first[prev]
			next++

			if next == 1<<codeSize && codeSize < 12 {
				codeSize++
			}
		}

		if code < clear {
			first[code] = byte(code)
		} else {
			first[code] = byte(cur)
		}

		for sp > 0 {
			sp--
			out = append(out, stack[sp])
			if len(out) == expected {
				break
			}
		}

		prev = code
	}

	return padIndices(out, expected), nil
}

// padIndices extends a short index stream with zeros so frame geometry
// always holds.
func padIndices(out []byte, expected int) []byte {
	for len(out) < expected {
		out = append(out, 0)
	}

	return out
}
