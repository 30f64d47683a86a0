package vexel

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"
)

// PNG color types.
const (
	pngGray      = 0
	pngTruecolor = 2
	pngPalette   = 3
	pngGrayAlpha = 4
	pngRGBA      = 6
)

// PNGText is one textual metadata entry (tEXt, zTXt or iTXt).
type PNGText struct {
	Keyword string
	Text    string
}

// PNGTime is the tIME last-modification record.
type PNGTime struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// PNGChromaticity is the cHRM record, scaled to unit coordinates.
type PNGChromaticity struct {
	WhiteX, WhiteY float64
	RedX, RedY     float64
	GreenX, GreenY float64
	BlueX, BlueY   float64
}

// PNGSuggestedPalette summarizes one sPLT chunk.
type PNGSuggestedPalette struct {
	Name        string
	SampleDepth int
	Entries     int
}

// PNGAnimationControl is the APNG acTL record.
type PNGAnimationControl struct {
	NumFrames int
	NumPlays  int
}

// PNGFrameControl is one APNG fcTL record. The frame's pixel data
// (IDAT for the first frame when it participates, fdAT otherwise) is
// not decoded; only the control metadata is reported.
type PNGFrameControl struct {
	Sequence  int
	Width     int
	Height    int
	XOffset   int
	YOffset   int
	DelayNum  int
	DelayDen  int
	DisposeOp byte
	BlendOp   byte
}

// PNGInfo is the structural metadata of a PNG stream.
type PNGInfo struct {
	Width       int
	Height      int
	BitDepth    int
	ColorType   int
	Compression int
	Filter      int
	Interlace   int

	Palette      [][3]byte
	Transparency []byte // raw tRNS payload

	Gamma           float64
	SRGBIntent      *byte
	Chromaticity    *PNGChromaticity
	Background      []byte // raw bKGD payload
	PhysX, PhysY    int
	PhysUnit        byte
	SignificantBits []byte
	Histogram       []uint16
	SuggestedPals   []PNGSuggestedPalette
	ModTime         *PNGTime
	Texts           []PNGText

	Animation     *PNGAnimationControl
	FrameControls []PNGFrameControl

	UnknownChunks []string
}

func (PNGInfo) ImageFormat() Format { return FormatPNG }

// PNGDecoder decodes PNG streams, including interlaced images and every
// bit depth / color type combination of the core spec.
type PNGDecoder struct {
	r       *BitReader
	info    PNGInfo
	idat    []byte
	decoded bool
}

// NewPNGDecoder binds a decoder to a PNG stream and walks the entire
// chunk structure: after construction Info is complete and Decode only
// has to decompress and reconstruct pixels.
func NewPNGDecoder(r io.ReadSeeker) (*PNGDecoder, error) {
	d := &PNGDecoder{r: NewBitReader(r)}
	if err := d.parseChunks(); err != nil {
		return nil, err
	}

	return d, nil
}

// Info returns the metadata collected from the chunk walk.
func (d *PNGDecoder) Info() ImageInfo { return d.info }

// parseChunks verifies the signature and walks chunks until IEND,
// verifying each CRC and dispatching known chunk types.
func (d *PNGDecoder) parseChunks() error {
	sig, err := d.r.ReadBytes(8)
	if err != nil {
		return fmt.Errorf("png: reading signature: %w", err)
	}

	if !bytes.Equal(sig, pngSignature) {
		return fmt.Errorf("png: bad signature: %w", ErrSyntax)
	}

	first := true
	for {
		header, err := d.r.ReadBytes(8)
		if err != nil {
			return fmt.Errorf("png: reading chunk header: %w", err)
		}

		length := int(uint32(header[0])<<24 | uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3]))
		ctype := string(header[4:8])

		if length < 0 || length > 1<<31-1 {
			return fmt.Errorf("png: chunk %s length %d: %w", ctype, length, ErrSyntax)
		}

		payload, err := d.r.ReadBytes(length)
		if err != nil {
			return fmt.Errorf("png: reading %s payload: %w", ctype, err)
		}

		crcBytes, err := d.r.ReadBytes(4)
		if err != nil {
			return fmt.Errorf("png: reading %s crc: %w", ctype, err)
		}

		want := uint32(crcBytes[0])<<24 | uint32(crcBytes[1])<<16 | uint32(crcBytes[2])<<8 | uint32(crcBytes[3])
		got := crc32.Update(crc32.ChecksumIEEE(header[4:8]), crc32.IEEETable, payload)
		if got != want {
			return fmt.Errorf("png: chunk %s crc mismatch %08X != %08X: %w", ctype, got, want, ErrSyntax)
		}

		if first && ctype != "IHDR" {
			return fmt.Errorf("png: first chunk is %s, not IHDR: %w", ctype, ErrSyntax)
		}

		first = false

		switch ctype {
		case "IHDR":
			if err := d.parseIHDR(payload); err != nil {
				return err
			}
		case "PLTE":
			if len(payload)%3 != 0 || len(payload) > 256*3 {
				return fmt.Errorf("png: PLTE length %d: %w", len(payload), ErrSyntax)
			}

			d.info.Palette = make([][3]byte, len(payload)/3)
			for i := range d.info.Palette {
				d.info.Palette[i] = [3]byte{payload[3*i], payload[3*i+1], payload[3*i+2]}
			}
		case "IDAT":
			d.idat = append(d.idat, payload...)
		case "IEND":
			return nil
		case "tRNS":
			d.info.Transparency = payload
		case "gAMA":
			if len(payload) >= 4 {
				d.info.Gamma = float64(beU32(payload)) / 100000
			}
		case "sRGB":
			if len(payload) >= 1 {
				intent := payload[0]
				d.info.SRGBIntent = &intent
			}
		case "cHRM":
			d.parseCHRM(payload)
		case "bKGD":
			d.info.Background = payload
		case "pHYs":
			if len(payload) >= 9 {
				d.info.PhysX = int(beU32(payload))
				d.info.PhysY = int(beU32(payload[4:]))
				d.info.PhysUnit = payload[8]
			}
		case "sBIT":
			d.info.SignificantBits = payload
		case "hIST":
			d.info.Histogram = make([]uint16, len(payload)/2)
			for i := range d.info.Histogram {
				d.info.Histogram[i] = uint16(payload[2*i])<<8 | uint16(payload[2*i+1])
			}
		case "sPLT":
			d.parseSPLT(payload)
		case "tIME":
			if len(payload) >= 7 {
				d.info.ModTime = &PNGTime{
					Year:   int(payload[0])<<8 | int(payload[1]),
					Month:  int(payload[2]),
					Day:    int(payload[3]),
					Hour:   int(payload[4]),
					Minute: int(payload[5]),
					Second: int(payload[6]),
				}
			}
		case "tEXt":
			d.parseTEXT(payload)
		case "zTXt":
			d.parseZTXT(payload)
		case "iTXt":
			d.parseITXT(payload)
		case "acTL":
			if len(payload) >= 8 {
				d.info.Animation = &PNGAnimationControl{
					NumFrames: int(beU32(payload)),
					NumPlays:  int(beU32(payload[4:])),
				}
			}
		case "fcTL":
			d.parseFCTL(payload)
		case "fdAT":
			// Frame data for frames past the first; reported via the
			// frame controls, not decoded.
		default:
			d.info.UnknownChunks = append(d.info.UnknownChunks, ctype)
		}
	}
}

func beU32(p []byte) uint32 {
	return uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
}

func (d *PNGDecoder) parseIHDR(p []byte) error {
	if err := expectLength("png: IHDR", len(p), 13); err != nil {
		return err
	}

	d.info.Width = int(beU32(p))
	d.info.Height = int(beU32(p[4:]))
	d.info.BitDepth = int(p[8])
	d.info.ColorType = int(p[9])
	d.info.Compression = int(p[10])
	d.info.Filter = int(p[11])
	d.info.Interlace = int(p[12])

	if d.info.Width <= 0 || d.info.Height <= 0 {
		return fmt.Errorf("png: %dx%d: %w", d.info.Width, d.info.Height, ErrInvalidDimensions)
	}

	if d.info.Compression != 0 || d.info.Filter != 0 {
		return fmt.Errorf("png: compression %d filter %d: %w", d.info.Compression, d.info.Filter, ErrSyntax)
	}

	if d.info.Interlace > 1 {
		return fmt.Errorf("png: interlace method %d: %w", d.info.Interlace, ErrSyntax)
	}

	if pngChannels(d.info.ColorType) == 0 {
		return fmt.Errorf("png: color type %d: %w", d.info.ColorType, ErrSyntax)
	}

	if !pngDepthValid(d.info.ColorType, d.info.BitDepth) {
		return fmt.Errorf("png: bit depth %d for color type %d: %w", d.info.BitDepth, d.info.ColorType, ErrSyntax)
	}

	return nil
}

func (d *PNGDecoder) parseCHRM(p []byte) {
	if len(p) < 32 {
		return
	}

	f := func(i int) float64 { return float64(beU32(p[i:])) / 100000 }
	d.info.Chromaticity = &PNGChromaticity{
		WhiteX: f(0), WhiteY: f(4),
		RedX: f(8), RedY: f(12),
		GreenX: f(16), GreenY: f(20),
		BlueX: f(24), BlueY: f(28),
	}
}

func (d *PNGDecoder) parseSPLT(p []byte) {
	i := bytes.IndexByte(p, 0)
	if i < 0 || i+1 >= len(p) {
		return
	}

	depth := int(p[i+1])
	entrySize := 6
	if depth == 16 {
		entrySize = 10
	}

	d.info.SuggestedPals = append(d.info.SuggestedPals, PNGSuggestedPalette{
		Name:        string(p[:i]),
		SampleDepth: depth,
		Entries:     (len(p) - i - 2) / entrySize,
	})
}

func (d *PNGDecoder) parseTEXT(p []byte) {
	i := bytes.IndexByte(p, 0)
	if i < 0 {
		return
	}

	d.info.Texts = append(d.info.Texts, PNGText{Keyword: string(p[:i]), Text: string(p[i+1:])})
}

func (d *PNGDecoder) parseZTXT(p []byte) {
	i := bytes.IndexByte(p, 0)
	if i < 0 || i+2 > len(p) || p[i+1] != 0 {
		return
	}

	zr, err := zlib.NewReader(bytes.NewReader(p[i+2:]))
	if err != nil {
		return
	}
	defer zr.Close()

	text, err := io.ReadAll(zr)
	if err != nil {
		return
	}

	d.info.Texts = append(d.info.Texts, PNGText{Keyword: string(p[:i]), Text: string(text)})
}

func (d *PNGDecoder) parseITXT(p []byte) {
	i := bytes.IndexByte(p, 0)
	if i < 0 || i+3 > len(p) {
		return
	}

	keyword := string(p[:i])
	compressed := p[i+1] == 1
	rest := p[i+3:]

	// Skip language tag and translated keyword.
	for n := 0; n < 2; n++ {
		j := bytes.IndexByte(rest, 0)
		if j < 0 {
			return
		}

		rest = rest[j+1:]
	}

	text := string(rest)
	if compressed {
		zr, err := zlib.NewReader(bytes.NewReader(rest))
		if err != nil {
			return
		}
		defer zr.Close()

		raw, err := io.ReadAll(zr)
		if err != nil {
			return
		}

		text = string(raw)
	}

	d.info.Texts = append(d.info.Texts, PNGText{Keyword: keyword, Text: text})
}

func (d *PNGDecoder) parseFCTL(p []byte) {
	if len(p) < 26 {
		return
	}

	d.info.FrameControls = append(d.info.FrameControls, PNGFrameControl{
		Sequence:  int(beU32(p)),
		Width:     int(beU32(p[4:])),
		Height:    int(beU32(p[8:])),
		XOffset:   int(beU32(p[12:])),
		YOffset:   int(beU32(p[16:])),
		DelayNum:  int(p[20])<<8 | int(p[21]),
		DelayDen:  int(p[22])<<8 | int(p[23]),
		DisposeOp: p[24],
		BlendOp:   p[25],
	})
}

// pngChannels returns samples per pixel for a color type, 0 if invalid.
func pngChannels(colorType int) int {
	switch colorType {
	case pngGray, pngPalette:
		return 1
	case pngGrayAlpha:
		return 2
	case pngTruecolor:
		return 3
	case pngRGBA:
		return 4
	}

	return 0
}

func pngDepthValid(colorType, depth int) bool {
	switch colorType {
	case pngGray:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8 || depth == 16
	case pngPalette:
		return depth == 1 || depth == 2 || depth == 4 || depth == 8
	default:
		return depth == 8 || depth == 16
	}
}

// pixelFormat maps IHDR color type and bit depth to the output layout.
// Palette images expand to RGB8, or RGBA8 when tRNS supplies alpha.
func (d *PNGDecoder) pixelFormat() PixelFormat {
	switch d.info.ColorType {
	case pngGray:
		if d.info.BitDepth == 16 {
			return Gray16
		}

		return Gray8
	case pngTruecolor:
		if d.info.BitDepth == 16 {
			return RGB16
		}

		return RGB8
	case pngPalette:
		if len(d.info.Transparency) > 0 {
			return RGBA8
		}

		return RGB8
	case pngGrayAlpha:
		if d.info.BitDepth == 16 {
			return GrayAlpha16
		}

		return GrayAlpha8
	default:
		if d.info.BitDepth == 16 {
			return RGBA16
		}

		return RGBA8
	}
}

// Decode inflates the image data and reconstructs the pixel grid:
// de-filter each scanline, unpack samples, de-interlace if needed.
func (d *PNGDecoder) Decode() (Image, error) {
	if d.decoded {
		return Image{}, fmt.Errorf("png: decoder already consumed: %w", ErrSyntax)
	}

	d.decoded = true

	if d.info.ColorType == pngPalette && len(d.info.Palette) == 0 {
		return Image{}, fmt.Errorf("png: palette image without PLTE: %w", ErrSyntax)
	}

	if len(d.idat) == 0 {
		return Image{}, fmt.Errorf("png: no image data: %w", ErrSyntax)
	}

	zr, err := zlib.NewReader(bytes.NewReader(d.idat))
	if err != nil {
		return Image{}, fmt.Errorf("png: opening image data: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return Image{}, fmt.Errorf("png: inflating image data: %w", err)
	}

	img, err := newImage(d.info.Width, d.info.Height, d.pixelFormat())
	if err != nil {
		return Image{}, err
	}

	if d.info.Interlace == 1 {
		err = d.decodeAdam7(raw, &img)
	} else {
		err = d.decodePass(raw, &img, 0, 0, 1, 1, d.info.Width, d.info.Height)
	}

	if err != nil {
		return Image{}, err
	}

	return img, nil
}

// Adam7 pass geometry: starting offsets and steps per pass.
var adam7 = [7]struct{ xStart, yStart, xStep, yStep int }{
	{0, 0, 8, 8},
	{4, 0, 8, 8},
	{0, 4, 4, 8},
	{2, 0, 4, 4},
	{0, 2, 2, 4},
	{1, 0, 2, 2},
	{0, 1, 1, 2},
}

func (d *PNGDecoder) decodeAdam7(raw []byte, img *Image) error {
	offset := 0
	for pass, g := range adam7 {
		passW := (d.info.Width - g.xStart + g.xStep - 1) / g.xStep
		passH := (d.info.Height - g.yStart + g.yStep - 1) / g.yStep
		if passW <= 0 || passH <= 0 {
			continue
		}

		rowBytes := (passW*d.bitsPerPixel() + 7) / 8
		size := (1 + rowBytes) * passH
		sub, err := getRange(raw, offset, offset+size)
		if err != nil {
			return fmt.Errorf("png: interlace pass %d: %w", pass+1, err)
		}

		if err := d.decodePass(sub, img, g.xStart, g.yStart, g.xStep, g.yStep, passW, passH); err != nil {
			return err
		}

		offset += size
	}

	return nil
}

func (d *PNGDecoder) bitsPerPixel() int {
	return d.info.BitDepth * pngChannels(d.info.ColorType)
}

// decodePass de-filters one (sub-)image and writes its pixels into the
// output grid at the pass's coordinates.
func (d *PNGDecoder) decodePass(raw []byte, img *Image, xStart, yStart, xStep, yStep, passW, passH int) error {
	rowBytes := (passW*d.bitsPerPixel() + 7) / 8
	need := (1 + rowBytes) * passH
	if len(raw) < need {
		return fmt.Errorf("png: image data %d bytes, need %d: %w", len(raw), need, ErrSyntax)
	}

	fbpp := (d.bitsPerPixel() + 7) / 8
	prev := make([]byte, rowBytes)

	for y := 0; y < passH; y++ {
		line := raw[y*(1+rowBytes) : (y+1)*(1+rowBytes)]
		if err := unfilterRow(line[0], line[1:], prev, fbpp); err != nil {
			return err
		}

		if err := d.emitRow(line[1:], img, xStart+0, yStart+y*yStep, xStep, passW); err != nil {
			return err
		}

		prev = line[1:]
	}

	return nil
}

// emitRow unpacks one de-filtered scanline into output pixels.
func (d *PNGDecoder) emitRow(row []byte, img *Image, x0, y, xStep, passW int) error {
	depth := d.info.BitDepth
	channels := pngChannels(d.info.ColorType)

	// sample k of the scanline, in stream order
	sample := func(k int) uint16 {
		switch depth {
		case 16:
			return uint16(row[2*k])<<8 | uint16(row[2*k+1])
		case 8:
			return uint16(row[k])
		default:
			bit := k * depth
			b := row[bit>>3]
			shift := 8 - depth - (bit & 7)

			return uint16(b>>shift) & (1<<depth - 1)
		}
	}

	// scale sub-byte samples to full 8-bit range
	maxval := uint16(1<<depth - 1)
	scale := func(v uint16) byte {
		if depth >= 8 {
			return byte(v)
		}

		return byte(v * 255 / maxval)
	}

	bpp := img.Format.BytesPerPixel()
	for px := 0; px < passW; px++ {
		x := x0 + px*xStep
		dst := (y*img.Width + x) * bpp

		switch d.info.ColorType {
		case pngGray:
			if depth == 16 {
				v := sample(px)
				img.Data[dst] = byte(v >> 8)
				img.Data[dst+1] = byte(v)
			} else {
				img.Data[dst] = scale(sample(px))
			}
		case pngTruecolor:
			for ch := 0; ch < 3; ch++ {
				v := sample(px*3 + ch)
				if depth == 16 {
					img.Data[dst+2*ch] = byte(v >> 8)
					img.Data[dst+2*ch+1] = byte(v)
				} else {
					img.Data[dst+ch] = byte(v)
				}
			}
		case pngPalette:
			idx := int(sample(px))
			entry, err := getAt(d.info.Palette, idx)
			if err != nil {
				return fmt.Errorf("png: palette: %w", err)
			}

			img.Data[dst] = entry[0]
			img.Data[dst+1] = entry[1]
			img.Data[dst+2] = entry[2]
			if img.Format == RGBA8 {
				alpha := byte(255)
				if idx < len(d.info.Transparency) {
					alpha = d.info.Transparency[idx]
				}

				img.Data[dst+3] = alpha
			}
		default: // gray+alpha, RGBA
			for ch := 0; ch < channels; ch++ {
				v := sample(px*channels + ch)
				if depth == 16 {
					img.Data[dst+2*ch] = byte(v >> 8)
					img.Data[dst+2*ch+1] = byte(v)
				} else {
					img.Data[dst+ch] = byte(v)
				}
			}
		}
	}

	return nil
}
