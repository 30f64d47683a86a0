package vexel

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NetpbmInfo is the parsed Netpbm header.
type NetpbmInfo struct {
	Variant   string // "P1" through "P7"
	Width     int
	Height    int
	MaxVal    int
	Depth     int    // PAM channel count
	TupleType string // PAM
}

func (NetpbmInfo) ImageFormat() Format { return FormatNetpbm }

// NetpbmDecoder decodes the Netpbm family: ASCII and raw bitmaps,
// graymaps and pixmaps (P1-P6) and the PAM container (P7).
type NetpbmDecoder struct {
	info    NetpbmInfo
	data    []byte
	pos     int
	decoded bool
}

// NewNetpbmDecoder slurps the stream and parses the header; after
// construction Info carries the full geometry.
func NewNetpbmDecoder(r io.ReadSeeker) (*NetpbmDecoder, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("netpbm: reading stream: %w", err)
	}

	d := &NetpbmDecoder{data: data}
	if err := d.parseHeader(); err != nil {
		return nil, err
	}

	return d, nil
}

// Info returns the parsed header.
func (d *NetpbmDecoder) Info() ImageInfo { return d.info }

func isPBMSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// skipSpace advances over whitespace and '#' comments.
func (d *NetpbmDecoder) skipSpace() {
	for d.pos < len(d.data) {
		c := d.data[d.pos]
		if isPBMSpace(c) {
			d.pos++

			continue
		}

		if c == '#' {
			for d.pos < len(d.data) && d.data[d.pos] != '\n' {
				d.pos++
			}

			continue
		}

		return
	}
}

// nextToken returns the next whitespace-delimited token.
func (d *NetpbmDecoder) nextToken() (string, error) {
	d.skipSpace()
	start := d.pos
	for d.pos < len(d.data) && !isPBMSpace(d.data[d.pos]) && d.data[d.pos] != '#' {
		d.pos++
	}

	if d.pos == start {
		return "", fmt.Errorf("netpbm: unexpected end of header: %w", io.ErrUnexpectedEOF)
	}

	return string(d.data[start:d.pos]), nil
}

func (d *NetpbmDecoder) nextInt() (int, error) {
	tok, err := d.nextToken()
	if err != nil {
		return 0, err
	}

	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("netpbm: numeric field %q: %w", tok, ErrSyntax)
	}

	return v, nil
}

func (d *NetpbmDecoder) parseHeader() error {
	magic, err := d.nextToken()
	if err != nil {
		return err
	}

	if len(magic) != 2 || magic[0] != 'P' || magic[1] < '1' || magic[1] > '7' {
		return fmt.Errorf("netpbm: magic %q: %w", magic, ErrSyntax)
	}

	d.info.Variant = magic

	if magic == "P7" {
		return d.parsePAMHeader()
	}

	if d.info.Width, err = d.nextInt(); err != nil {
		return err
	}

	if d.info.Height, err = d.nextInt(); err != nil {
		return err
	}

	switch magic {
	case "P1", "P4":
		d.info.MaxVal = 1
	default:
		if d.info.MaxVal, err = d.nextInt(); err != nil {
			return err
		}
	}

	if d.info.Width <= 0 || d.info.Height <= 0 {
		return fmt.Errorf("netpbm: %dx%d: %w", d.info.Width, d.info.Height, ErrInvalidDimensions)
	}

	if d.info.MaxVal < 1 || d.info.MaxVal > 65535 {
		return fmt.Errorf("netpbm: maxval %d: %w", d.info.MaxVal, ErrSyntax)
	}

	// Raw variants: exactly one whitespace byte separates the header
	// from the raster.
	if magic >= "P4" && d.pos < len(d.data) && isPBMSpace(d.data[d.pos]) {
		d.pos++
	}

	return nil
}

// parsePAMHeader parses the line-oriented P7 header up to ENDHDR.
func (d *NetpbmDecoder) parsePAMHeader() error {
	for {
		eol := d.pos
		for eol < len(d.data) && d.data[eol] != '\n' {
			eol++
		}

		if eol >= len(d.data) {
			return fmt.Errorf("netpbm: PAM header without ENDHDR: %w", ErrSyntax)
		}

		line := strings.TrimSpace(string(d.data[d.pos:eol]))
		d.pos = eol + 1

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		key := fields[0]

		intField := func() (int, error) {
			if len(fields) < 2 {
				return 0, fmt.Errorf("netpbm: PAM %s without value: %w", key, ErrSyntax)
			}

			v, err := strconv.Atoi(fields[1])
			if err != nil {
				return 0, fmt.Errorf("netpbm: PAM %s %q: %w", key, fields[1], ErrSyntax)
			}

			return v, nil
		}

		var err error
		switch key {
		case "WIDTH":
			d.info.Width, err = intField()
		case "HEIGHT":
			d.info.Height, err = intField()
		case "DEPTH":
			d.info.Depth, err = intField()
		case "MAXVAL":
			d.info.MaxVal, err = intField()
		case "TUPLTYPE":
			d.info.TupleType = strings.Join(fields[1:], " ")
		case "ENDHDR":
			if d.info.Width <= 0 || d.info.Height <= 0 {
				return fmt.Errorf("netpbm: %dx%d: %w", d.info.Width, d.info.Height, ErrInvalidDimensions)
			}

			if d.info.Depth < 1 || d.info.Depth > 4 {
				return fmt.Errorf("netpbm: PAM depth %d: %w", d.info.Depth, ErrUnsupported)
			}

			if d.info.MaxVal < 1 || d.info.MaxVal > 65535 {
				return fmt.Errorf("netpbm: maxval %d: %w", d.info.MaxVal, ErrSyntax)
			}

			return nil
		default:
			return fmt.Errorf("netpbm: PAM field %q: %w", key, ErrSyntax)
		}

		if err != nil {
			return err
		}
	}
}

// channels returns samples per pixel for the variant.
func (d *NetpbmDecoder) channels() int {
	switch d.info.Variant {
	case "P3", "P6":
		return 3
	case "P7":
		return d.info.Depth
	default:
		return 1
	}
}

func (d *NetpbmDecoder) pixelFormat() PixelFormat {
	wide := d.info.MaxVal > 255

	switch d.channels() {
	case 1:
		if wide {
			return Gray16
		}

		return Gray8
	case 2:
		if wide {
			return GrayAlpha16
		}

		return GrayAlpha8
	case 3:
		if wide {
			return RGB16
		}

		return RGB8
	default:
		if wide {
			return RGBA16
		}

		return RGBA8
	}
}

// Decode converts the raster to the output format, scaling samples by
// maxval.
func (d *NetpbmDecoder) Decode() (Image, error) {
	if d.decoded {
		return Image{}, fmt.Errorf("netpbm: decoder already consumed: %w", ErrSyntax)
	}

	d.decoded = true

	img, err := newImage(d.info.Width, d.info.Height, d.pixelFormat())
	if err != nil {
		return Image{}, err
	}

	switch d.info.Variant {
	case "P1":
		err = d.decodeASCIIBitmap(&img)
	case "P4":
		err = d.decodeRawBitmap(&img)
	case "P2", "P3":
		err = d.decodeASCII(&img)
	default: // P5, P6, P7
		err = d.decodeRaw(&img)
	}

	if err != nil {
		return Image{}, err
	}

	return img, nil
}

// decodeASCIIBitmap reads P1 digits, which need no separating
// whitespace. 1 is black.
func (d *NetpbmDecoder) decodeASCIIBitmap(img *Image) error {
	n := d.info.Width * d.info.Height
	for i := 0; i < n; i++ {
		d.skipSpace()
		if d.pos >= len(d.data) {
			return fmt.Errorf("netpbm: raster ends at pixel %d of %d: %w", i, n, io.ErrUnexpectedEOF)
		}

		c := d.data[d.pos]
		d.pos++

		switch c {
		case '0':
			img.Data[i] = 255
		case '1':
			img.Data[i] = 0
		default:
			return fmt.Errorf("netpbm: bitmap digit %q: %w", c, ErrSyntax)
		}
	}

	return nil
}

// decodeRawBitmap reads P4 rows, packed eight pixels per byte MSB
// first, each row padded to a whole byte.
func (d *NetpbmDecoder) decodeRawBitmap(img *Image) error {
	rowBytes := (d.info.Width + 7) / 8
	need := rowBytes * d.info.Height
	raster, err := getRange(d.data, d.pos, d.pos+need)
	if err != nil {
		return fmt.Errorf("netpbm: raster: %w", err)
	}

	for y := 0; y < d.info.Height; y++ {
		for x := 0; x < d.info.Width; x++ {
			b := raster[y*rowBytes+x/8]
			if b&(0x80>>(x&7)) != 0 {
				img.Data[y*d.info.Width+x] = 0
			} else {
				img.Data[y*d.info.Width+x] = 255
			}
		}
	}

	return nil
}

// scaleSample maps a raster sample to the output range.
func (d *NetpbmDecoder) scaleSample(v int) (int, error) {
	if v < 0 || v > d.info.MaxVal {
		return 0, fmt.Errorf("netpbm: sample %d exceeds maxval %d: %w", v, d.info.MaxVal, ErrSyntax)
	}

	if d.info.MaxVal > 255 {
		return v * 65535 / d.info.MaxVal, nil
	}

	return v * 255 / d.info.MaxVal, nil
}

func (d *NetpbmDecoder) decodeASCII(img *Image) error {
	samples := d.info.Width * d.info.Height * d.channels()
	wide := d.info.MaxVal > 255

	for i := 0; i < samples; i++ {
		v, err := d.nextInt()
		if err != nil {
			return err
		}

		s, err := d.scaleSample(v)
		if err != nil {
			return err
		}

		if wide {
			img.Data[2*i] = byte(s >> 8)
			img.Data[2*i+1] = byte(s)
		} else {
			img.Data[i] = byte(s)
		}
	}

	return nil
}

func (d *NetpbmDecoder) decodeRaw(img *Image) error {
	samples := d.info.Width * d.info.Height * d.channels()
	wide := d.info.MaxVal > 255

	width := 1
	if wide {
		width = 2
	}

	raster, err := getRange(d.data, d.pos, d.pos+samples*width)
	if err != nil {
		return fmt.Errorf("netpbm: raster: %w", err)
	}

	for i := 0; i < samples; i++ {
		var v int
		if wide {
			v = int(raster[2*i])<<8 | int(raster[2*i+1])
		} else {
			v = int(raster[i])
		}

		s, err := d.scaleSample(v)
		if err != nil {
			return err
		}

		if wide {
			img.Data[2*i] = byte(s >> 8)
			img.Data[2*i+1] = byte(s)
		} else {
			img.Data[i] = byte(s)
		}
	}

	return nil
}
