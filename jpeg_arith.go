package vexel

import (
	"fmt"
	"io"
)

// QM arithmetic decoding for SOF9 streams (ITU-T T.81 Annex D and F).
// The probability estimation state machine, the decision decoder and the
// DC/AC statistical models follow the normative flowcharts; statistics
// bins are one byte each, state index in the low 7 bits and the current
// MPS in the top bit.

// arithState is one row of the probability estimation table (T.81 Table
// D.3): the LPS probability estimate and the state transitions.
type arithState struct {
	qe               uint16
	nextLPS, nextMPS uint8
	switchMPS        bool
}

var arithStates = [114]arithState{
	{0x5A1D, 1, 1, true},
	{0x2586, 14, 2, false},
	{0x1114, 16, 3, false},
	{0x080B, 18, 4, false},
	{0x03D8, 20, 5, false},
	{0x01DA, 23, 6, false},
	{0x00E5, 25, 7, false},
	{0x006F, 28, 8, false},
	{0x0036, 30, 9, false},
	{0x001A, 33, 10, false},
	{0x000D, 35, 11, false},
	{0x0006, 9, 12, false},
	{0x0003, 10, 13, false},
	{0x0001, 12, 13, false},
	{0x5A7F, 15, 15, true},
	{0x3F25, 36, 16, false},
	{0x2CF2, 38, 17, false},
	{0x207C, 39, 18, false},
	{0x17B9, 40, 19, false},
	{0x1182, 42, 20, false},
	{0x0CEF, 43, 21, false},
	{0x09A1, 45, 22, false},
	{0x072F, 46, 23, false},
	{0x055C, 48, 24, false},
	{0x0406, 49, 25, false},
	{0x0303, 51, 26, false},
	{0x0240, 52, 27, false},
	{0x01B1, 54, 28, false},
	{0x0144, 56, 29, false},
	{0x00F5, 57, 30, false},
	{0x00B7, 59, 31, false},
	{0x008A, 60, 32, false},
	{0x0068, 62, 33, false},
	{0x004E, 63, 34, false},
	{0x003B, 32, 35, false},
	{0x002C, 33, 9, false},
	{0x5AE1, 37, 37, true},
	{0x484C, 64, 38, false},
	{0x3A0D, 65, 39, false},
	{0x2EF1, 67, 40, false},
	{0x261F, 68, 41, false},
	{0x1F33, 69, 42, false},
	{0x19A8, 70, 43, false},
	{0x1518, 72, 44, false},
	{0x1177, 73, 45, false},
	{0x0E74, 74, 46, false},
	{0x0BFB, 75, 47, false},
	{0x09F8, 77, 48, false},
	{0x0861, 78, 49, false},
	{0x0706, 79, 50, false},
	{0x05CD, 48, 51, false},
	{0x04DE, 50, 52, false},
	{0x040F, 50, 53, false},
	{0x0363, 51, 54, false},
	{0x02D4, 52, 55, false},
	{0x025C, 53, 56, false},
	{0x01F8, 54, 57, false},
	{0x01A4, 55, 58, false},
	{0x0160, 56, 59, false},
	{0x0125, 57, 60, false},
	{0x00F6, 58, 61, false},
	{0x00CB, 59, 62, false},
	{0x00AB, 61, 63, false},
	{0x008F, 61, 32, false},
	{0x5B12, 65, 65, true},
	{0x4D04, 80, 66, false},
	{0x412C, 81, 67, false},
	{0x37D8, 82, 68, false},
	{0x2FE8, 83, 69, false},
	{0x293C, 84, 70, false},
	{0x2379, 86, 71, false},
	{0x1EDF, 87, 72, false},
	{0x1AA9, 87, 73, false},
	{0x174E, 72, 74, false},
	{0x1424, 72, 75, false},
	{0x119C, 74, 76, false},
	{0x0F6B, 74, 77, false},
	{0x0D51, 75, 78, false},
	{0x0BB6, 77, 79, false},
	{0x0A40, 77, 48, false},
	{0x5832, 80, 81, true},
	{0x4D1C, 88, 82, false},
	{0x438E, 89, 83, false},
	{0x3BDD, 90, 84, false},
	{0x34EE, 91, 85, false},
	{0x2EAE, 92, 86, false},
	{0x299A, 93, 87, false},
	{0x2516, 86, 71, false},
	{0x5570, 88, 89, true},
	{0x4CA9, 95, 90, false},
	{0x44D9, 96, 91, false},
	{0x3E22, 97, 92, false},
	{0x3824, 99, 93, false},
	{0x32B4, 99, 94, false},
	{0x2E17, 93, 86, false},
	{0x56A8, 95, 96, true},
	{0x4F46, 101, 97, false},
	{0x47E5, 102, 98, false},
	{0x41CF, 103, 99, false},
	{0x3C3D, 104, 100, false},
	{0x375E, 99, 93, false},
	{0x5231, 105, 102, false},
	{0x4C0F, 106, 103, false},
	{0x4639, 107, 104, false},
	{0x415E, 103, 99, false},
	{0x5627, 105, 106, true},
	{0x50E7, 108, 107, false},
	{0x4B85, 109, 103, false},
	{0x5597, 110, 109, false},
	{0x504F, 111, 107, false},
	{0x5A10, 110, 111, true},
	{0x5522, 112, 109, false},
	{0x59EB, 112, 111, true},
	// Non-adaptive bin used for sign decisions: transitions to itself.
	{0x5A1D, 113, 113, false},
}

// arithDecoder holds the QM decoder registers and the per-table
// statistics areas. Chigh occupies bits 16..31 of c.
type arithDecoder struct {
	c  uint32
	a  uint32
	ct int

	b          byte // last code byte loaded, drives stuffed-bit handling
	markerSeen bool

	dcStats  [4][64]uint8
	acStats  [4][256]uint8
	fixedBin uint8
}

// arithByteIn loads the next code byte into C. A byte following 0xFF
// carries only 7 bits because of the stuffed zero bit; a value above
// 0x8F there is a marker, which ends the code stream and feeds one bits
// from then on.
func (d *JPEGDecoder) arithByteIn() {
	e := &d.arith

	if e.markerSeen {
		e.c += 0xFF00
		e.ct = 8

		return
	}

	if e.b == 0xFF {
		nb, err := d.r.ReadU8()
		if err != nil || nb > 0x8F {
			if err == nil {
				// Rewind onto the 0xFF so the segment scanner
				// finds the marker.
				if _, serr := d.r.Seek(-2, io.SeekCurrent); serr != nil {
					d.fail(fmt.Errorf("jpeg: rewinding to marker: %w", serr))
				}
			}

			e.markerSeen = true
			e.c += 0xFF00
			e.ct = 8

			return
		}

		e.b = nb
		e.c += uint32(nb) << 9
		e.ct = 7

		return
	}

	nb, err := d.r.ReadU8()
	if err != nil {
		e.markerSeen = true
		e.c += 0xFF00
		e.ct = 8

		return
	}

	e.b = nb
	e.c += uint32(nb) << 8
	e.ct = 8
}

// arithInitDecode primes the code register from the first bytes of an
// entropy-coded segment (INITDEC).
func (d *JPEGDecoder) arithInitDecode() {
	e := &d.arith
	e.markerSeen = false
	e.ct = 0

	b0, err := d.r.ReadU8()
	if err != nil {
		e.markerSeen = true
		b0 = 0
	}

	e.b = b0
	e.c = uint32(b0) << 16
	d.arithByteIn()
	e.c <<= 7
	e.ct -= 7
	e.a = 0x8000
}

// arithDecodeBit decodes one binary decision against the statistics bin
// st (DECODE with MPS/LPS conditional exchange, then RENORMD).
func (d *JPEGDecoder) arithDecodeBit(st *uint8) int {
	e := &d.arith
	s := &arithStates[*st&0x7F]
	qe := uint32(s.qe)
	mps := int(*st >> 7)

	e.a -= qe

	var bit int
	if e.c>>16 < e.a {
		if e.a&0x8000 != 0 {
			return mps
		}

		if e.a < qe {
			bit = 1 - mps
			if s.switchMPS {
				mps = 1 - mps
			}

			*st = uint8(mps)<<7 | s.nextLPS
		} else {
			bit = mps
			*st = uint8(mps)<<7 | s.nextMPS
		}
	} else {
		e.c -= e.a << 16
		if e.a < qe {
			bit = mps
			*st = uint8(mps)<<7 | s.nextMPS
		} else {
			bit = 1 - mps
			if s.switchMPS {
				mps = 1 - mps
			}

			*st = uint8(mps)<<7 | s.nextLPS
		}

		e.a = qe
	}

	for {
		if e.ct == 0 {
			d.arithByteIn()
		}

		e.a <<= 1
		e.c <<= 1
		e.ct--

		if e.a&0x8000 != 0 {
			return bit
		}
	}
}

// arithStartScan clears the statistics areas and conditioning contexts
// and re-primes the code register. Run at scan start and after every
// restart marker.
func (d *JPEGDecoder) arithStartScan(scanComp []int) {
	e := &d.arith
	for i := range e.dcStats {
		e.dcStats[i] = [64]uint8{}
		e.acStats[i] = [256]uint8{}
	}

	e.fixedBin = 113
	for _, ci := range scanComp {
		d.comp[ci].arithDCContext = 0
	}

	d.arithInitDecode()
}

// jpegScanMarkerSet extends the segment marker set with RSTn, which only
// occur inside entropy-coded data.
func jpegScanMarkerSet(code uint16) (Marker, bool) {
	m := jpegMarker(code)
	if m >= mRST0 && m <= mRST7 {
		return m, true
	}

	return jpegMarkerSet(code)
}

// arithRestart consumes the RSTn marker at a restart boundary, checks
// its sequence number and reinitializes statistics, predictors and the
// code register.
func (d *JPEGDecoder) arithRestart(nextRst *int, scanComp []int) {
	m, ok, err := d.r.NextMarker(jpegScanMarkerSet)
	if err != nil {
		d.fail(fmt.Errorf("jpeg: scanning for restart marker: %w", err))
	}

	if !ok {
		d.fail(fmt.Errorf("jpeg: missing RST%d marker: %w", *nextRst, ErrSyntax))
	}

	marker := m.(jpegMarker)
	if marker < mRST0 || marker > mRST7 || int(marker-mRST0) != *nextRst {
		d.fail(fmt.Errorf("jpeg: expected RST%d, found 0x%04X: %w", *nextRst, uint16(marker), ErrSyntax))
	}

	*nextRst = (*nextRst + 1) & 7
	for _, ci := range scanComp {
		d.comp[ci].dcPred = 0
		d.comp[ci].lastDCDiff = 0
	}

	d.arithStartScan(scanComp)
}

// decodeScanArith decodes a sequential arithmetic-coded scan: same MCU
// walk as the Huffman path, with QM-coded DC differences and AC
// coefficients.
func (d *JPEGDecoder) decodeScanArith(scanComp []int) error {
	for _, ci := range scanComp {
		c := &d.comp[ci]
		dc := d.arithCond[c.dcTab]
		if dc&0x0F > dc>>4 {
			return fmt.Errorf("jpeg: DC conditioning L=%d U=%d: %w", dc&0x0F, dc>>4, ErrSyntax)
		}

		kx := d.arithCond[4+c.acTab]
		if kx < 1 || kx > 63 {
			return fmt.Errorf("jpeg: AC conditioning Kx=%d: %w", kx, ErrSyntax)
		}
	}

	d.arithStartScan(scanComp)

	rstCount := d.rstInterval
	nextRst := 0

	for mby := 0; mby < d.mbHeight; mby++ {
		for mbx := 0; mbx < d.mbWidth; mbx++ {
			for _, ci := range scanComp {
				c := &d.comp[ci]
				for sby := 0; sby < c.ssY; sby++ {
					for sbx := 0; sbx < c.ssX; sbx++ {
						offset := (mby*c.ssY+sby)*c.stride*8 + (mbx*c.ssX+sbx)*8
						d.decodeBlockArith(c, offset)
					}
				}
			}

			if d.rstInterval != 0 {
				rstCount--
				if rstCount == 0 && !(mby == d.mbHeight-1 && mbx == d.mbWidth-1) {
					d.arithRestart(&nextRst, scanComp)
					rstCount = d.rstInterval
				}
			}
		}
	}

	return nil
}

// decodeBlockArith decodes one 8x8 block, dequantizes it and applies the
// inverse transform into the pixel plane.
func (d *JPEGDecoder) decodeBlockArith(c *jpegComponent, outOffset int) {
	qt := &d.qtab[c.qtSel]

	var block [64]int32
	block[0] = int32(d.arithDecodeDC(c)) * int32(qt[0])
	d.arithDecodeAC(c, &block, qt)

	idctBlock(&block, c.pixels, outOffset, c.stride)
}

// arithDecodeDC decodes one DC difference (Decode_DC_DIFF), updates the
// component predictor and its conditioning context, and returns the new
// DC value.
func (d *JPEGDecoder) arithDecodeDC(c *jpegComponent) int {
	cond := d.arithCond[c.dcTab]
	lower := int(cond & 0x0F)
	upper := int(cond >> 4)

	st := d.arith.dcStats[c.dcTab][:]
	ctx := c.arithDCContext

	if d.arithDecodeBit(&st[ctx]) == 0 {
		c.arithDCContext = 0

		return c.dcPred
	}

	sign := d.arithDecodeBit(&st[ctx+1])
	m := d.arithDecodeBit(&st[ctx+2+sign])
	xbin := ctx + 2 + sign

	if m != 0 {
		// Magnitude category walk starts at bin X1.
		xbin = 20
		for d.arithDecodeBit(&st[xbin]) != 0 {
			m <<= 1
			if m == 0x8000 {
				d.fail(fmt.Errorf("jpeg: DC magnitude overflow: %w", ErrSyntax))
			}

			xbin++
		}
	}

	// Conditioning category for the next block in this component.
	switch {
	case m < 1<<lower>>1:
		c.arithDCContext = 0
	case m > 1<<upper>>1:
		c.arithDCContext = 12 + sign*4
	default:
		c.arithDCContext = 4 + sign*4
	}

	v := m
	mbin := xbin + 14
	for m >>= 1; m != 0; m >>= 1 {
		if d.arithDecodeBit(&st[mbin]) != 0 {
			v |= m
		}
	}

	v++
	if sign != 0 {
		v = -v
	}

	c.lastDCDiff = v
	c.dcPred += v

	return c.dcPred
}

// arithDecodeAC decodes the AC coefficients of one block
// (Decode_AC_coefficients) and stores them dequantized in natural order.
func (d *JPEGDecoder) arithDecodeAC(c *jpegComponent, block *[64]int32, qt *[64]uint16) {
	kx := int(d.arithCond[4+c.acTab])
	st := d.arith.acStats[c.acTab][:]

	for k := 1; k <= 63; k++ {
		base := 3 * (k - 1)
		if d.arithDecodeBit(&st[base]) != 0 {
			return // EOB
		}

		for d.arithDecodeBit(&st[base+1]) == 0 {
			k++
			if k > 63 {
				d.fail(fmt.Errorf("jpeg: AC run past block end: %w", ErrSyntax))
			}

			base = 3 * (k - 1)
		}

		sign := d.arithDecodeBit(&d.arith.fixedBin)

		m := d.arithDecodeBit(&st[base+2])
		xbin := base + 2

		if m != 0 && d.arithDecodeBit(&st[base+2]) != 0 {
			m = 2
			if k <= kx {
				xbin = 189
			} else {
				xbin = 217
			}

			for d.arithDecodeBit(&st[xbin]) != 0 {
				m <<= 1
				if m == 0x8000 {
					d.fail(fmt.Errorf("jpeg: AC magnitude overflow: %w", ErrSyntax))
				}

				xbin++
			}
		}

		v := m
		mbin := xbin + 14
		for m >>= 1; m != 0; m >>= 1 {
			if d.arithDecodeBit(&st[mbin]) != 0 {
				v |= m
			}
		}

		v++
		if sign != 0 {
			v = -v
		}

		z := zigzag[k]
		block[z] = int32(v) * int32(qt[z])
	}
}
