package vexel

import (
	"fmt"
	"io"
)

// JPEG segment markers (ITU-T T.81).
type jpegMarker uint16

const (
	mTEM  jpegMarker = 0xFF01
	mSOF0 jpegMarker = 0xFFC0 // baseline DCT
	mSOF1 jpegMarker = 0xFFC1 // extended sequential
	mSOF2 jpegMarker = 0xFFC2 // progressive
	mSOF3 jpegMarker = 0xFFC3 // lossless
	mDHT  jpegMarker = 0xFFC4
	mSOF5 jpegMarker = 0xFFC5
	mSOF6 jpegMarker = 0xFFC6
	mSOF7 jpegMarker = 0xFFC7
	mJPG  jpegMarker = 0xFFC8
	mSOF9 jpegMarker = 0xFFC9 // sequential, arithmetic coding
	mSOFa jpegMarker = 0xFFCA // progressive, arithmetic coding
	mSOFb jpegMarker = 0xFFCB
	mDAC  jpegMarker = 0xFFCC
	mSOFd jpegMarker = 0xFFCD
	mSOFe jpegMarker = 0xFFCE
	mSOFf jpegMarker = 0xFFCF
	mRST0 jpegMarker = 0xFFD0
	mRST7 jpegMarker = 0xFFD7
	mSOI  jpegMarker = 0xFFD8
	mEOI  jpegMarker = 0xFFD9
	mSOS  jpegMarker = 0xFFDA
	mDQT  jpegMarker = 0xFFDB
	mDNL  jpegMarker = 0xFFDC
	mDRI  jpegMarker = 0xFFDD
	mAPP0 jpegMarker = 0xFFE0
	mAPP1 jpegMarker = 0xFFE1
	mAPPf jpegMarker = 0xFFEF
	mCOM  jpegMarker = 0xFFFE
)

func (m jpegMarker) Uint16() uint16 { return uint16(m) }

// jpegMarkerSet recognizes every marker the segment scanner dispatches on.
// RSTn markers are excluded: inside entropy-coded data they are handled by
// the scan decoder, and a segment scan must never stop on them.
func jpegMarkerSet(code uint16) (Marker, bool) {
	m := jpegMarker(code)
	switch {
	case m >= mSOF0 && m <= mSOFf: // includes DHT, JPG, DAC
		return m, true
	case m >= mSOI && m <= mDRI:
		return m, true
	case m >= mAPP0 && m <= mAPPf:
		return m, true
	case m == mCOM || m == mTEM:
		return m, true
	}

	return nil, false
}

// JPEGMode is the coding process declared by the frame header.
type JPEGMode int

const (
	JPEGBaseline JPEGMode = iota
	JPEGExtendedSequential
	JPEGProgressive
	JPEGArithmeticSequential
	JPEGArithmeticProgressive
	JPEGLossless
)

// JFIFHeader is the parsed APP0 JFIF segment.
type JFIFHeader struct {
	VersionMajor int
	VersionMinor int
	DensityUnits byte // 0 none, 1 dpi, 2 dpcm
	XDensity     int
	YDensity     int
	ThumbWidth   int
	ThumbHeight  int
}

// JPEGComponentInfo describes one frame component from the SOF segment.
type JPEGComponentInfo struct {
	ID           int
	HSampling    int
	VSampling    int
	QuantTableID int
}

// JPEGHuffmanTable is one DHT table specification as found in the stream.
type JPEGHuffmanTable struct {
	Class  int // 0 DC, 1 AC
	ID     int
	Counts [16]uint8
	Values []uint8
}

// JPEGArithConditioning is one DAC conditioning record.
type JPEGArithConditioning struct {
	Class int // 0 DC, 1 AC
	ID    int
	Value uint8 // DC: L | U<<4, AC: Kx
}

// JPEGScanInfo records the header of one SOS segment.
type JPEGScanInfo struct {
	ComponentIDs  []int
	DCTables      []int
	ACTables      []int
	SpectralStart int
	SpectralEnd   int
	ApproxHigh    int
	ApproxLow     int
}

// JPEGInfo is the structural metadata accumulated while parsing segments.
type JPEGInfo struct {
	Width           int
	Height          int
	Precision       int
	Components      int
	Mode            JPEGMode
	ComponentInfo   []JPEGComponentInfo
	QuantTables     map[int][64]uint16 // natural order
	HuffmanTables   []JPEGHuffmanTable
	ArithTables     []JPEGArithConditioning
	RestartInterval int
	JFIF            *JFIFHeader
	AdobeTransform  *byte
	Exif            *Exif
	Comments        []string
	Scans           []JPEGScanInfo
}

func (JPEGInfo) ImageFormat() Format { return FormatJPEG }

// jpegComponent is the per-component decode state.
type jpegComponent struct {
	id             int
	ssX, ssY       int
	width, height  int
	stride         int
	qtSel          int
	dcTab, acTab   int
	dcPred         int
	pixels         []byte
	coeffs         []int32 // progressive accumulation, natural block order
	nBlocksX       int
	nBlocksY       int
	lastDCDiff     int // arithmetic DC conditioning state
	arithDCContext int
}

// zigzag maps the stream order of the 64 coefficients of an 8x8 block to
// their natural row-major position.
var zigzag = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18,
	11, 4, 5, 12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28, 35,
	42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51, 58, 59, 52, 45,
	38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
}

// vlcCode is one entry of the pre-calculated Huffman lookup table: the
// code length in bits and the decoded symbol.
type vlcCode struct {
	bits, code uint8
}

// JPEGDecoder decodes baseline, extended sequential, progressive and
// sequential arithmetic JPEG streams.
type JPEGDecoder struct {
	r    *BitReader
	info JPEGInfo

	mode          JPEGMode
	progressive   bool
	arithmetic    bool
	width, height int
	ncomp         int
	comp          [4]jpegComponent
	mbWidth       int
	mbHeight      int
	mbSizeX       int
	mbSizeY       int
	isRGB         bool

	qtab        [4][64]uint16 // natural order
	qtDefined   [4]bool
	vlcTab      [8]*[65536]vlcCode // 0-3 DC, 4-7 AC
	arithCond   [8]uint8           // 0-3 DC (L|U<<4), 4-7 AC (Kx)
	rstInterval int

	// entropy bitstream state
	bits      uint64
	nbits     int
	markerHit bool
	exhausted bool

	// progressive state
	eobRun int

	// arithmetic coder state
	arith arithDecoder

	headerDone bool
	headerErr  error
	pendingSOS bool
	sofDone    bool
	decoded    bool
}

// jpegPanic signals a decode error out of the entropy hot path.
type jpegPanic struct{ error }

func (d *JPEGDecoder) fail(err error) {
	panic(jpegPanic{err})
}

// NewJPEGDecoder binds a decoder to a seekable JPEG stream and verifies
// the SOI marker without decoding pixels.
func NewJPEGDecoder(r io.ReadSeeker) (*JPEGDecoder, error) {
	d := &JPEGDecoder{r: NewBitReader(r)}
	d.info.QuantTables = make(map[int][64]uint16)

	// Arithmetic conditioning defaults apply when no DAC segment occurs:
	// DC L=0 U=1, AC Kx=5.
	for i := 0; i < 4; i++ {
		d.arithCond[i] = 0x10
		d.arithCond[4+i] = 5
	}

	soi, err := d.r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("jpeg: reading SOI: %w", err)
	}

	if soi != uint16(mSOI) {
		return nil, fmt.Errorf("jpeg: missing SOI marker: %w", ErrSyntax)
	}

	return d, nil
}

// Info returns the metadata accumulated so far. Segments up to the first
// scan are parsed on first use, so dimensions and tables are available
// without decoding pixel data.
func (d *JPEGDecoder) Info() ImageInfo {
	if !d.headerDone {
		// A malformed header leaves whatever was accumulated before the
		// error; Decode reports the error itself.
		_ = d.parseHeader()
	}

	return d.info
}

// parseHeader walks marker segments until the first SOS, EOI or end of
// stream, populating tables and frame state.
func (d *JPEGDecoder) parseHeader() error {
	if d.headerDone {
		return d.headerErr
	}

	d.headerDone = true
	d.headerErr = d.scanSegments(true)

	return d.headerErr
}

// scanSegments drives the marker state machine. With stopAtSOS it leaves
// the cursor just past the first SOS marker and returns; otherwise it
// decodes scans until EOI or stream exhaustion.
func (d *JPEGDecoder) scanSegments(stopAtSOS bool) error {
	for {
		m, ok, err := d.r.NextMarker(jpegMarkerSet)
		if err != nil {
			return fmt.Errorf("jpeg: scanning markers: %w", err)
		}

		if !ok {
			// Stream exhausted without EOI: decode as far as possible.
			return nil
		}

		marker := m.(jpegMarker)
		switch {
		case marker == mEOI:
			return nil
		case marker == mSOS:
			d.info.Scans = append(d.info.Scans, JPEGScanInfo{})
			if stopAtSOS {
				d.pendingSOS = true

				return nil
			}

			if err := d.decodeScan(); err != nil {
				return err
			}
		case marker == mDQT:
			if err := d.decodeDQT(); err != nil {
				return err
			}
		case marker == mDHT:
			if err := d.decodeDHT(); err != nil {
				return err
			}
		case marker == mDAC:
			if err := d.decodeDAC(); err != nil {
				return err
			}
		case marker == mDRI:
			if err := d.decodeDRI(); err != nil {
				return err
			}
		case marker >= mSOF0 && marker <= mSOFf:
			if err := d.decodeSOF(marker); err != nil {
				return err
			}
		case marker == mAPP0:
			if err := d.decodeAPP0(); err != nil {
				return err
			}
		case marker == mAPP1:
			if err := d.decodeAPP1(); err != nil {
				return err
			}
		case marker == mAPP0+14:
			if err := d.decodeAPP14(); err != nil {
				return err
			}
		case marker >= mAPP0 && marker <= mAPPf:
			if err := d.skipSegment(); err != nil {
				return err
			}
		case marker == mCOM:
			if err := d.decodeCOM(); err != nil {
				return err
			}
		case marker == mSOI || marker == mTEM || (marker >= mRST0 && marker <= mRST7):
			// No payload; RSTn outside a scan is ignored.
		case marker == mDNL:
			if err := d.skipSegment(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("jpeg: marker 0x%04X: %w", uint16(marker), ErrUnsupported)
		}
	}
}

// segmentPayload reads a length-prefixed marker payload.
func (d *JPEGDecoder) segmentPayload() ([]byte, error) {
	length, err := d.r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("jpeg: segment length: %w", err)
	}

	if length < 2 {
		return nil, fmt.Errorf("jpeg: segment length %d: %w", length, ErrSyntax)
	}

	p, err := d.r.ReadBytes(int(length) - 2)
	if err != nil {
		return nil, fmt.Errorf("jpeg: segment payload: %w", err)
	}

	return p, nil
}

func (d *JPEGDecoder) skipSegment() error {
	_, err := d.segmentPayload()

	return err
}

// decodeDQT parses quantization tables: 8 or 16-bit precision, 64
// coefficients each, de-zigzagged into natural order on load.
func (d *JPEGDecoder) decodeDQT() error {
	p, err := d.segmentPayload()
	if err != nil {
		return err
	}

	for pos := 0; pos < len(p); {
		pq, err := getAt(p, pos)
		if err != nil {
			return fmt.Errorf("jpeg: DQT: %w", err)
		}

		precision := int(pq >> 4)
		id := int(pq & 0x0F)
		if id > 3 || precision > 1 {
			return fmt.Errorf("jpeg: DQT id %d precision %d: %w", id, precision, ErrSyntax)
		}

		width := 1 + precision
		entries, err := getRange(p, pos+1, pos+1+64*width)
		if err != nil {
			return fmt.Errorf("jpeg: DQT: %w", err)
		}

		var t [64]uint16
		for k := 0; k < 64; k++ {
			if precision == 0 {
				t[zigzag[k]] = uint16(entries[k])
			} else {
				t[zigzag[k]] = uint16(entries[2*k])<<8 | uint16(entries[2*k+1])
			}
		}

		d.qtab[id] = t
		d.qtDefined[id] = true
		d.info.QuantTables[id] = t
		pos += 1 + 64*width
	}

	return nil
}

// decodeDHT parses Huffman table specifications and builds the 16-bit
// canonical-code lookup tables used by the entropy decoder.
func (d *JPEGDecoder) decodeDHT() error {
	p, err := d.segmentPayload()
	if err != nil {
		return err
	}

	for pos := 0; pos < len(p); {
		tc, err := getAt(p, pos)
		if err != nil {
			return fmt.Errorf("jpeg: DHT: %w", err)
		}

		class := int(tc >> 4)
		id := int(tc & 0x0F)
		if class > 1 || id > 3 {
			return fmt.Errorf("jpeg: DHT class %d id %d: %w", class, id, ErrSyntax)
		}

		counts, err := getRange(p, pos+1, pos+17)
		if err != nil {
			return fmt.Errorf("jpeg: DHT: %w", err)
		}

		total := 0
		for _, c := range counts {
			total += int(c)
		}

		if total > 256 {
			return fmt.Errorf("jpeg: DHT with %d codes: %w", total, ErrSyntax)
		}

		values, err := getRange(p, pos+17, pos+17+total)
		if err != nil {
			return fmt.Errorf("jpeg: DHT: %w", err)
		}

		rec := JPEGHuffmanTable{Class: class, ID: id, Values: append([]uint8(nil), values...)}
		copy(rec.Counts[:], counts)
		d.info.HuffmanTables = append(d.info.HuffmanTables, rec)

		slot := class*4 + id
		if d.vlcTab[slot] == nil {
			d.vlcTab[slot] = new([65536]vlcCode)
		} else {
			*d.vlcTab[slot] = [65536]vlcCode{}
		}

		buildVLCTable(d.vlcTab[slot], counts, values)
		pos += 17 + total
	}

	return nil
}

// buildVLCTable expands canonical Huffman codes into a direct 16-bit
// lookup table: every 16-bit pattern whose prefix matches a code maps to
// that code's length and symbol.
func buildVLCTable(vlc *[65536]vlcCode, counts, values []uint8) {
	var huffCode uint32
	valueIdx := 0

	for codeLen := 1; codeLen <= 16; codeLen++ {
		for k := 0; k < int(counts[codeLen-1]); k++ {
			if valueIdx >= len(values) {
				return
			}

			huffVal := values[valueIdx]
			valueIdx++

			shift := 16 - codeLen
			base := huffCode << shift
			for j := uint32(0); j < 1<<shift; j++ {
				if base+j < 65536 {
					vlc[base+j] = vlcCode{bits: uint8(codeLen), code: huffVal}
				}
			}

			huffCode++
		}

		huffCode <<= 1
	}
}

// decodeDAC parses arithmetic conditioning records (class, id, value).
func (d *JPEGDecoder) decodeDAC() error {
	p, err := d.segmentPayload()
	if err != nil {
		return err
	}

	for pos := 0; pos+1 < len(p); pos += 2 {
		class := int(p[pos] >> 4)
		id := int(p[pos] & 0x0F)
		if class > 1 || id > 3 {
			return fmt.Errorf("jpeg: DAC class %d id %d: %w", class, id, ErrSyntax)
		}

		d.arithCond[class*4+id] = p[pos+1]
		d.info.ArithTables = append(d.info.ArithTables, JPEGArithConditioning{
			Class: class, ID: id, Value: p[pos+1],
		})
	}

	return nil
}

func (d *JPEGDecoder) decodeDRI() error {
	p, err := d.segmentPayload()
	if err != nil {
		return err
	}

	if err := expectLength("jpeg: DRI", len(p), 2); err != nil {
		return err
	}

	d.rstInterval = int(p[0])<<8 | int(p[1])
	d.info.RestartInterval = d.rstInterval

	return nil
}

// decodeSOF parses the frame header: precision, dimensions and the
// per-component sampling factors and quantization selectors. The SOF
// variant determines the coding mode used by later scans.
func (d *JPEGDecoder) decodeSOF(marker jpegMarker) error {
	if d.sofDone {
		return fmt.Errorf("jpeg: multiple frame headers: %w", ErrSyntax)
	}

	switch marker {
	case mSOF0:
		d.mode = JPEGBaseline
	case mSOF1:
		d.mode = JPEGExtendedSequential
	case mSOF2:
		d.mode, d.progressive = JPEGProgressive, true
	case mSOF9:
		d.mode, d.arithmetic = JPEGArithmeticSequential, true
	case mSOFa:
		// Progressive arithmetic scans are recognized but not decoded.
		d.mode, d.progressive, d.arithmetic = JPEGArithmeticProgressive, true, true
	case mSOF3:
		d.mode = JPEGLossless

		return fmt.Errorf("jpeg: lossless coding: %w", ErrUnsupported)
	default:
		return fmt.Errorf("jpeg: SOF marker 0x%04X: %w", uint16(marker), ErrUnsupported)
	}

	p, err := d.segmentPayload()
	if err != nil {
		return err
	}

	if err := expectLength("jpeg: SOF", len(p), 6); err != nil {
		return err
	}

	precision := int(p[0])
	d.height = int(p[1])<<8 | int(p[2])
	d.width = int(p[3])<<8 | int(p[4])
	d.ncomp = int(p[5])

	d.info.Precision = precision
	d.info.Width = d.width
	d.info.Height = d.height
	d.info.Components = d.ncomp
	d.info.Mode = d.mode

	if d.width == 0 || d.height == 0 {
		return fmt.Errorf("jpeg: %dx%d frame: %w", d.width, d.height, ErrInvalidDimensions)
	}

	if precision != 8 {
		return fmt.Errorf("jpeg: %d-bit precision: %w", precision, ErrUnsupported)
	}

	if d.ncomp != 1 && d.ncomp != 3 {
		return fmt.Errorf("jpeg: %d components: %w", d.ncomp, ErrUnsupported)
	}

	if err := expectLength("jpeg: SOF", len(p), 6+3*d.ncomp); err != nil {
		return err
	}

	ssxMax, ssyMax := 0, 0
	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		c.id = int(p[6+3*i])
		c.ssX = int(p[7+3*i]) >> 4
		c.ssY = int(p[7+3*i]) & 0x0F
		c.qtSel = int(p[8+3*i])

		if c.ssX == 0 || c.ssX > 4 || c.ssY == 0 || c.ssY > 4 {
			return fmt.Errorf("jpeg: sampling %dx%d: %w", c.ssX, c.ssY, ErrSyntax)
		}

		if c.qtSel > 3 {
			return fmt.Errorf("jpeg: quant selector %d: %w", c.qtSel, ErrSyntax)
		}

		if c.ssX > ssxMax {
			ssxMax = c.ssX
		}

		if c.ssY > ssyMax {
			ssyMax = c.ssY
		}

		d.info.ComponentInfo = append(d.info.ComponentInfo, JPEGComponentInfo{
			ID: c.id, HSampling: c.ssX, VSampling: c.ssY, QuantTableID: c.qtSel,
		})
	}

	if d.ncomp == 1 {
		d.comp[0].ssX, d.comp[0].ssY = 1, 1
		ssxMax, ssyMax = 1, 1
	}

	if d.ncomp == 3 && d.comp[0].id == 'R' && d.comp[1].id == 'G' && d.comp[2].id == 'B' {
		d.isRGB = true
	}

	d.mbSizeX = ssxMax * 8
	d.mbSizeY = ssyMax * 8
	d.mbWidth = (d.width + d.mbSizeX - 1) / d.mbSizeX
	d.mbHeight = (d.height + d.mbSizeY - 1) / d.mbSizeY

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		c.width = (d.width*c.ssX + ssxMax - 1) / ssxMax
		c.height = (d.height*c.ssY + ssyMax - 1) / ssyMax
		c.stride = d.mbWidth * c.ssX * 8
		c.nBlocksX = d.mbWidth * c.ssX
		c.nBlocksY = d.mbHeight * c.ssY
		c.pixels = make([]byte, c.stride*c.nBlocksY*8)

		if d.progressive {
			c.coeffs = make([]int32, c.nBlocksX*c.nBlocksY*64)
		}
	}

	d.sofDone = true

	return nil
}

// decodeAPP0 parses the JFIF header.
func (d *JPEGDecoder) decodeAPP0() error {
	p, err := d.segmentPayload()
	if err != nil {
		return err
	}

	if len(p) < 14 || string(p[:5]) != "JFIF\x00" {
		return nil // not JFIF (e.g. JFXX), keep going
	}

	d.info.JFIF = &JFIFHeader{
		VersionMajor: int(p[5]),
		VersionMinor: int(p[6]),
		DensityUnits: p[7],
		XDensity:     int(p[8])<<8 | int(p[9]),
		YDensity:     int(p[10])<<8 | int(p[11]),
		ThumbWidth:   int(p[12]),
		ThumbHeight:  int(p[13]),
	}

	return nil
}

// decodeAPP1 parses EXIF metadata when present.
func (d *JPEGDecoder) decodeAPP1() error {
	p, err := d.segmentPayload()
	if err != nil {
		return err
	}

	if len(p) < 6 || string(p[:6]) != "Exif\x00\x00" {
		return nil
	}

	exif := &Exif{Orientation: 1}
	if err := parseExifData(p[6:], exif); err == nil {
		d.info.Exif = exif
	}

	return nil
}

// decodeAPP14 parses the Adobe color transform flag.
func (d *JPEGDecoder) decodeAPP14() error {
	p, err := d.segmentPayload()
	if err != nil {
		return err
	}

	if len(p) >= 12 && string(p[:5]) == "Adobe" {
		transform := p[11]
		d.info.AdobeTransform = &transform
		if transform == 0 && d.ncomp == 3 {
			d.isRGB = true
		}
	}

	return nil
}

func (d *JPEGDecoder) decodeCOM() error {
	p, err := d.segmentPayload()
	if err != nil {
		return err
	}

	d.info.Comments = append(d.info.Comments, string(p))

	return nil
}

// Decode parses the remaining segments, decodes every scan and runs the
// reconstruction pass (dequantize, inverse DCT, upsample, color convert).
func (d *JPEGDecoder) Decode() (Image, error) {
	if d.decoded {
		return Image{}, fmt.Errorf("jpeg: decoder already consumed: %w", ErrSyntax)
	}

	d.decoded = true

	if err := d.parseHeader(); err != nil {
		return Image{}, err
	}

	if d.pendingSOS {
		d.pendingSOS = false
		if err := d.decodeScan(); err != nil {
			return Image{}, err
		}

		if err := d.scanSegments(false); err != nil {
			return Image{}, err
		}
	}

	if !d.sofDone {
		return Image{}, fmt.Errorf("jpeg: no frame header: %w", ErrSyntax)
	}

	if d.progressive {
		if err := d.reconstructProgressive(); err != nil {
			return Image{}, err
		}
	}

	return d.assemble()
}

// assemble upsamples subsampled components and converts to the output
// pixel format.
func (d *JPEGDecoder) assemble() (Image, error) {
	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		for c.width < d.width || c.height < d.height {
			if c.width < d.width {
				upsampleH(c)
			}

			if c.height < d.height {
				upsampleV(c)
			}
		}
	}

	if d.ncomp == 1 {
		img, err := newImage(d.width, d.height, Gray8)
		if err != nil {
			return Image{}, err
		}

		c := &d.comp[0]
		for y := 0; y < d.height; y++ {
			copy(img.Data[y*d.width:(y+1)*d.width], c.pixels[y*c.stride:y*c.stride+d.width])
		}

		return img, nil
	}

	img, err := newImage(d.width, d.height, RGB8)
	if err != nil {
		return Image{}, err
	}

	if d.isRGB {
		rgbToRGB8(&d.comp[0], &d.comp[1], &d.comp[2], img.Data, d.width, d.height)
	} else {
		ycbcrToRGB8(&d.comp[0], &d.comp[1], &d.comp[2], img.Data, d.width, d.height)
	}

	return img, nil
}

// decodeScan parses one SOS header and decodes the entropy-coded segment
// that follows it. The NextMarker call that found SOS left the cursor on
// the scan header's length field.
func (d *JPEGDecoder) decodeScan() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if jp, ok := r.(jpegPanic); ok {
				err = jp.error
			} else {
				panic(r)
			}
		}
	}()

	if !d.sofDone {
		return fmt.Errorf("jpeg: scan before frame header: %w", ErrSyntax)
	}

	if d.mode == JPEGArithmeticProgressive {
		return fmt.Errorf("jpeg: progressive arithmetic coding: %w", ErrUnsupported)
	}

	p, err := d.segmentPayload()
	if err != nil {
		return err
	}

	if err := expectLength("jpeg: SOS", len(p), 1); err != nil {
		return err
	}

	nScan := int(p[0])
	if nScan < 1 || nScan > 4 {
		return fmt.Errorf("jpeg: %d scan components: %w", nScan, ErrSyntax)
	}

	if err := expectLength("jpeg: SOS", len(p), 1+2*nScan+3); err != nil {
		return err
	}

	scanComp := make([]int, nScan)
	scan := &d.info.Scans[len(d.info.Scans)-1]

	for i := 0; i < nScan; i++ {
		cs := int(p[1+2*i])
		sel := int(p[2+2*i])

		found := -1
		for j := 0; j < d.ncomp; j++ {
			if d.comp[j].id == cs {
				found = j

				break
			}
		}

		if found < 0 {
			return fmt.Errorf("jpeg: scan component %d not in frame: %w", cs, ErrSyntax)
		}

		c := &d.comp[found]
		c.dcTab = sel >> 4
		c.acTab = sel & 0x0F
		if c.dcTab > 3 || c.acTab > 3 {
			return fmt.Errorf("jpeg: table selector %d/%d: %w", c.dcTab, c.acTab, ErrSyntax)
		}

		scanComp[i] = found
		scan.ComponentIDs = append(scan.ComponentIDs, cs)
		scan.DCTables = append(scan.DCTables, c.dcTab)
		scan.ACTables = append(scan.ACTables, c.acTab)
	}

	ss := int(p[1+2*nScan])
	se := int(p[2+2*nScan])
	ah := int(p[3+2*nScan]) >> 4
	al := int(p[3+2*nScan]) & 0x0F
	scan.SpectralStart, scan.SpectralEnd = ss, se
	scan.ApproxHigh, scan.ApproxLow = ah, al

	if d.progressive {
		if ss > se || se > 63 {
			return fmt.Errorf("jpeg: spectral range %d..%d: %w", ss, se, ErrSyntax)
		}
	} else if ss != 0 || se != 63 || ah != 0 || al != 0 {
		return fmt.Errorf("jpeg: sequential scan with spectral parameters: %w", ErrSyntax)
	}

	// Sequential scans dequantize as they go; progressive streams may
	// still deliver the table before reconstruction.
	if !d.progressive {
		for _, ci := range scanComp {
			c := &d.comp[ci]
			if !d.qtDefined[c.qtSel] {
				return fmt.Errorf("jpeg: component %d references undefined quant table %d: %w", c.id, c.qtSel, ErrSyntax)
			}
		}
	}

	// Each scan starts with a fresh bitstream and predictors.
	d.bits, d.nbits = 0, 0
	d.markerHit, d.exhausted = false, false
	d.eobRun = 0
	for i := range scanComp {
		d.comp[scanComp[i]].dcPred = 0
		d.comp[scanComp[i]].lastDCDiff = 0
	}

	if d.arithmetic {
		return d.decodeScanArith(scanComp)
	}

	if d.progressive {
		return d.decodeScanProgressive(scanComp, ss, se, ah, al)
	}

	return d.decodeScanSequential(scanComp)
}
