package vexel

import (
	"fmt"
	"io"
)

// Entropy-coded segment handling. The scan decoder keeps its own 64-bit
// buffer over the BitReader's byte stream because JPEG entropy data has
// byte-level framing of its own: stuffed 0xFF00 pairs are literal 0xFF
// data bytes, while 0xFF followed by anything else ends the segment.

// fillBits refills the bit buffer up to 56 bits, unstuffing 0xFF00 and
// stopping just before any non-RST marker. RSTn bytes pass through as
// data so restart processing can read them from the buffer.
func (d *JPEGDecoder) fillBits() {
	for d.nbits <= 48 && !d.markerHit && !d.exhausted {
		b, err := d.r.ReadU8()
		if err != nil {
			d.exhausted = true

			break
		}

		if b == 0xFF {
			b2, err := d.r.ReadU8()
			switch {
			case err != nil:
				// Lone 0xFF at end of stream: treat as data.
				d.exhausted = true
			case b2 == 0x00:
				// Stuffed byte: 0xFF is data, 0x00 is discarded.
			case b2 >= 0xD0 && b2 <= 0xD7:
				// RSTn passes through; the restart handler consumes it.
				d.bits = d.bits<<16 | 0xFF00 | uint64(b2)
				d.nbits += 16

				continue
			default:
				// A real marker ends the entropy-coded segment. Rewind
				// so the segment scanner sees it.
				if _, serr := d.r.Seek(-2, io.SeekCurrent); serr != nil {
					d.exhausted = true
				}

				d.markerHit = true

				return
			}
		}

		d.bits = d.bits<<8 | uint64(b)
		d.nbits += 8
	}
}

// showBits peeks n bits without consuming them. When the stream is
// exhausted the missing low bits are padded with ones, which decode as
// invalid codes and stop the scan instead of hanging.
func (d *JPEGDecoder) showBits(n int) int {
	if n == 0 {
		return 0
	}

	if d.nbits < n {
		d.fillBits()
	}

	if d.nbits >= n {
		return int(d.bits>>uint(d.nbits-n)) & (1<<n - 1)
	}

	if d.nbits == 0 {
		return 1<<n - 1
	}

	pad := n - d.nbits
	v := int(d.bits) & (1<<d.nbits - 1)

	return v<<pad | (1<<pad - 1)
}

// skipBits consumes n bits (or whatever is left).
func (d *JPEGDecoder) skipBits(n int) {
	if d.nbits < n {
		d.fillBits()
	}

	if d.nbits < n {
		d.nbits = 0
	} else {
		d.nbits -= n
	}
}

// getBits reads and consumes n bits.
func (d *JPEGDecoder) getBits(n int) int {
	v := d.showBits(n)
	d.skipBits(n)

	return v
}

// getBit reads a single bit; missing data reads as zero, which is the
// defined behavior for truncated refinement scans.
func (d *JPEGDecoder) getBit() int {
	if d.nbits == 0 {
		d.fillBits()
	}

	if d.nbits == 0 {
		return 0
	}

	d.nbits--

	return int(d.bits>>uint(d.nbits)) & 1
}

// byteAlign drops any partial byte from the bit buffer.
func (d *JPEGDecoder) byteAlign() {
	d.nbits &= ^7
}

// huffTable returns a defined VLC table or fails the scan; a scan that
// selects an undefined table is a structural error, not a crash.
func (d *JPEGDecoder) huffTable(slot int) *[65536]vlcCode {
	t := d.vlcTab[slot]
	if t == nil {
		class, id := slot/4, slot%4
		d.fail(fmt.Errorf("jpeg: scan references undefined huffman table class %d id %d: %w", class, id, ErrSyntax))
	}

	return t
}

// getHuffSymbol decodes one Huffman symbol through the 16-bit lookup
// table. An invalid code on a healthy stream is a syntax error; on an
// exhausted stream it reads as EOB so decoding terminates cleanly.
func (d *JPEGDecoder) getHuffSymbol(vlc *[65536]vlcCode) int {
	v := d.showBits(16)
	entry := vlc[v]
	if entry.bits == 0 {
		if d.markerHit || d.exhausted {
			d.nbits = 0

			return 0
		}

		d.fail(fmt.Errorf("jpeg: invalid huffman code 0x%04X: %w", v, ErrSyntax))
	}

	d.skipBits(int(entry.bits))

	return int(entry.code)
}

// receiveExtend reads an s-bit magnitude and sign-extends it per the
// JPEG EXTEND procedure.
func (d *JPEGDecoder) receiveExtend(s int) int {
	v := d.getBits(s)
	if v < 1<<(s-1) {
		v -= 1<<s - 1
	}

	return v
}

// processRestart consumes an RSTn marker at a restart boundary, checks
// its sequence number, and resets predictor and bitstream state.
func (d *JPEGDecoder) processRestart(nextRst *int, scanComp []int) {
	d.byteAlign()

	m := d.getBits(16)
	if m&0xFFF8 != 0xFFD0 || m&7 != *nextRst {
		d.fail(fmt.Errorf("jpeg: expected RST%d, found 0x%04X: %w", *nextRst, m, ErrSyntax))
	}

	*nextRst = (*nextRst + 1) & 7
	for _, ci := range scanComp {
		d.comp[ci].dcPred = 0
		d.comp[ci].lastDCDiff = 0
		d.comp[ci].arithDCContext = 0
	}

	d.eobRun = 0
}

// decodeScanSequential decodes a baseline or extended sequential scan:
// every MCU in order, one entropy-coded block per component sub-block,
// dequantized and transformed straight into the component pixel planes.
func (d *JPEGDecoder) decodeScanSequential(scanComp []int) error {
	rstCount := d.rstInterval
	nextRst := 0

	for mby := 0; mby < d.mbHeight; mby++ {
		for mbx := 0; mbx < d.mbWidth; mbx++ {
			for _, ci := range scanComp {
				c := &d.comp[ci]
				for sby := 0; sby < c.ssY; sby++ {
					for sbx := 0; sbx < c.ssX; sbx++ {
						offset := (mby*c.ssY+sby)*c.stride*8 + (mbx*c.ssX+sbx)*8
						d.decodeBlockSequential(c, offset)
					}
				}
			}

			if d.exhausted && d.nbits == 0 {
				// Truncated stream: keep what was decoded.
				return nil
			}

			if d.rstInterval != 0 {
				rstCount--
				if rstCount == 0 && !(mby == d.mbHeight-1 && mbx == d.mbWidth-1) {
					d.processRestart(&nextRst, scanComp)
					rstCount = d.rstInterval
				}
			}
		}
	}

	return nil
}

// decodeBlockSequential entropy-decodes one 8x8 block, dequantizes it in
// natural order and applies the inverse transform into the pixel plane.
func (d *JPEGDecoder) decodeBlockSequential(c *jpegComponent, outOffset int) {
	dcVLC := d.huffTable(c.dcTab)
	acVLC := d.huffTable(4 + c.acTab)
	qt := &d.qtab[c.qtSel]

	var block [64]int32

	s := d.getHuffSymbol(dcVLC)
	if s > 15 {
		d.fail(fmt.Errorf("jpeg: DC category %d: %w", s, ErrSyntax))
	}

	if s > 0 {
		c.dcPred += d.receiveExtend(s)
	}

	block[0] = int32(c.dcPred) * int32(qt[0])

	for k := 1; k <= 63; {
		rs := d.getHuffSymbol(acVLC)
		r, s := rs>>4, rs&0x0F

		if s == 0 {
			if r != 15 {
				break // EOB
			}

			k += 16 // ZRL

			continue
		}

		k += r
		if k > 63 {
			d.fail(fmt.Errorf("jpeg: AC run past block end: %w", ErrSyntax))
		}

		z := zigzag[k]
		block[z] = int32(d.receiveExtend(s)) * int32(qt[z])
		k++
	}

	idctBlock(&block, c.pixels, outOffset, c.stride)
}

// decodeScanProgressive decodes one progressive scan: DC or AC band,
// first pass or refinement, interleaved or single-component.
func (d *JPEGDecoder) decodeScanProgressive(scanComp []int, ss, se, ah, al int) error {
	if ss == 0 && se != 0 {
		return fmt.Errorf("jpeg: progressive DC scan with Se=%d: %w", se, ErrSyntax)
	}

	if ss != 0 && len(scanComp) != 1 {
		return fmt.Errorf("jpeg: interleaved progressive AC scan: %w", ErrSyntax)
	}

	rstCount := d.rstInterval
	nextRst := 0

	if len(scanComp) == 1 {
		// Non-interleaved: the MCU is a single block; blocks beyond the
		// component's true extent are not coded.
		ci := scanComp[0]
		c := &d.comp[ci]
		usedX := (c.width + 7) / 8
		usedY := (c.height + 7) / 8

		for by := 0; by < c.nBlocksY; by++ {
			for bx := 0; bx < c.nBlocksX; bx++ {
				if bx >= usedX || by >= usedY {
					continue
				}

				d.decodeBlockProgressive(c, by*c.nBlocksX+bx, ss, se, ah, al)

				if d.rstInterval != 0 {
					rstCount--
					if rstCount == 0 && !(by == c.nBlocksY-1 && bx == c.nBlocksX-1) {
						d.processRestart(&nextRst, scanComp)
						rstCount = d.rstInterval
					}
				}
			}
		}

		return nil
	}

	for mby := 0; mby < d.mbHeight; mby++ {
		for mbx := 0; mbx < d.mbWidth; mbx++ {
			for _, ci := range scanComp {
				c := &d.comp[ci]
				for sby := 0; sby < c.ssY; sby++ {
					for sbx := 0; sbx < c.ssX; sbx++ {
						by := mby*c.ssY + sby
						bx := mbx*c.ssX + sbx
						d.decodeBlockProgressive(c, by*c.nBlocksX+bx, ss, se, ah, al)
					}
				}
			}

			if d.rstInterval != 0 {
				rstCount--
				if rstCount == 0 && !(mby == d.mbHeight-1 && mbx == d.mbWidth-1) {
					d.processRestart(&nextRst, scanComp)
					rstCount = d.rstInterval
				}
			}
		}
	}

	return nil
}

// decodeBlockProgressive routes one block of a progressive scan to the
// right band/pass decoder. Coefficients accumulate unquantized; the
// final reconstruction pass dequantizes once all scans are in.
func (d *JPEGDecoder) decodeBlockProgressive(c *jpegComponent, blockIndex, ss, se, ah, al int) {
	coefs := c.coeffs[blockIndex*64 : blockIndex*64+64]

	switch {
	case ss == 0 && ah == 0: // DC first
		dcVLC := d.huffTable(c.dcTab)
		s := d.getHuffSymbol(dcVLC)
		if s > 15 {
			d.fail(fmt.Errorf("jpeg: DC category %d: %w", s, ErrSyntax))
		}

		if s > 0 {
			c.dcPred += d.receiveExtend(s)
		}

		coefs[0] = int32(c.dcPred) << al
	case ss == 0: // DC refinement
		if d.getBit() != 0 {
			coefs[0] |= 1 << al
		}
	case ah == 0: // AC first
		d.decodeACFirst(coefs, c, ss, se, al)
	default: // AC refinement
		d.refineAC(coefs, c, ss, se, al)
	}
}

// decodeACFirst decodes the first pass of an AC spectral band, handling
// zero-run escapes and end-of-band runs.
func (d *JPEGDecoder) decodeACFirst(coefs []int32, c *jpegComponent, ss, se, al int) {
	if d.eobRun > 0 {
		d.eobRun--

		return
	}

	acVLC := d.huffTable(4 + c.acTab)

	for k := ss; k <= se; {
		rs := d.getHuffSymbol(acVLC)
		r, s := rs>>4, rs&0x0F

		if s == 0 {
			if r < 15 {
				d.eobRun = 1<<r - 1
				if r > 0 {
					d.eobRun += d.getBits(r)
				}

				break
			}

			k += 16

			continue
		}

		k += r
		if k > 63 {
			d.fail(fmt.Errorf("jpeg: AC run past band end: %w", ErrSyntax))
		}

		coefs[zigzag[k]] = int32(d.receiveExtend(s)) << al
		k++
	}
}

// refineAC decodes a successive-approximation refinement pass of an AC
// band: one correction bit per already-nonzero coefficient, new
// coefficients appearing at +/- 1<<al.
func (d *JPEGDecoder) refineAC(coefs []int32, c *jpegComponent, ss, se, al int) {
	delta := int32(1) << al
	k := ss

	if d.eobRun == 0 {
		acVLC := d.huffTable(4 + c.acTab)

		for k <= se {
			rs := d.getHuffSymbol(acVLC)
			r, s := rs>>4, rs&0x0F

			var newVal int32
			switch s {
			case 0:
				if r < 15 {
					d.eobRun = 1 << r
					if r > 0 {
						d.eobRun += d.getBits(r)
					}

					goto eob
				}
				// ZRL: skip 16 zero coefficients, refining as we pass.
			case 1:
				if d.getBit() != 0 {
					newVal = delta
				} else {
					newVal = -delta
				}
			default:
				d.fail(fmt.Errorf("jpeg: refinement magnitude %d: %w", s, ErrSyntax))
			}

			k = d.refineNonZeroes(coefs, k, se, r, delta)
			if k > se {
				if newVal != 0 {
					d.fail(fmt.Errorf("jpeg: refinement past band end: %w", ErrSyntax))
				}

				break
			}

			if newVal != 0 {
				coefs[zigzag[k]] = newVal
			}

			k++
		}
	}

eob:
	if d.eobRun > 0 {
		d.eobRun--
		d.refineNonZeroes(coefs, k, se, -1, delta)
	}
}

// refineNonZeroes applies correction bits to already-nonzero
// coefficients while skipping nz zero coefficients (nz < 0 means refine
// to the end of the band). Returns the index it stopped at.
func (d *JPEGDecoder) refineNonZeroes(coefs []int32, k, se, nz int, delta int32) int {
	for ; k <= se; k++ {
		z := zigzag[k]
		if coefs[z] == 0 {
			if nz == 0 {
				break
			}

			if nz > 0 {
				nz--
			}

			continue
		}

		if d.getBit() != 0 && coefs[z]&delta == 0 {
			if coefs[z] >= 0 {
				coefs[z] += delta
			} else {
				coefs[z] -= delta
			}
		}
	}

	return k
}

// reconstructProgressive runs the single reconstruction pass after all
// scans have accumulated: dequantize each block and inverse transform it
// into the component pixel planes.
func (d *JPEGDecoder) reconstructProgressive() error {
	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		if !d.qtDefined[c.qtSel] {
			return fmt.Errorf("jpeg: component %d references undefined quant table %d: %w", c.id, c.qtSel, ErrSyntax)
		}

		qt := &d.qtab[c.qtSel]

		for by := 0; by < c.nBlocksY; by++ {
			for bx := 0; bx < c.nBlocksX; bx++ {
				coefs := c.coeffs[(by*c.nBlocksX+bx)*64:][:64]

				var block [64]int32
				for z := 0; z < 64; z++ {
					block[z] = coefs[z] * int32(qt[z])
				}

				idctBlock(&block, c.pixels, by*8*c.stride+bx*8, c.stride)
			}
		}
	}

	return nil
}
