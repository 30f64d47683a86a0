package vexel

// Inverse discrete cosine transform, fixed-point AAN variant. Constants
// are 2048*sqrt(2)*cos(k*pi/16).
const (
	idctW1 = 2841
	idctW2 = 2676
	idctW3 = 2408
	idctW5 = 1609
	idctW6 = 1108
	idctW7 = 565
)

// idctBlock performs a full 8x8 2D inverse DCT on dequantized
// coefficients and writes level-shifted, clamped samples into out at
// outOffset with the given row stride.
func idctBlock(blk *[64]int32, out []byte, outOffset, stride int) {
	for i := 0; i < 64; i += 8 {
		idctRow(blk, i)
	}

	for i := 0; i < 8; i++ {
		idctCol(blk, i, out, outOffset+i, stride)
	}
}

// idctRow performs the 1D transform on one row of the block.
func idctRow(blk *[64]int32, offset int) {
	b := blk[offset : offset+8 : offset+8]

	x1 := b[4] << 11
	x2 := b[6]
	x3 := b[2]
	x4 := b[1]
	x5 := b[7]
	x6 := b[5]
	x7 := b[3]

	if x1|x2|x3|x4|x5|x6|x7 == 0 {
		val := b[0] << 3
		for i := range b {
			b[i] = val
		}

		return
	}

	x0 := (b[0] << 11) + 128

	x8 := idctW7 * (x4 + x5)
	x4 = x8 + (idctW1-idctW7)*x4
	x5 = x8 - (idctW1+idctW7)*x5
	x8 = idctW3 * (x6 + x7)
	x6 = x8 - (idctW3-idctW5)*x6
	x7 = x8 - (idctW3+idctW5)*x7

	x8 = x0 + x1
	x0 -= x1
	x1 = idctW6 * (x3 + x2)
	x2 = x1 - (idctW2+idctW6)*x2
	x3 = x1 + (idctW2-idctW6)*x3

	x1 = x4 + x6
	x4 -= x6
	x6 = x5 + x7
	x5 -= x7

	x7 = x8 + x3
	x8 -= x3
	x3 = x0 + x2
	x0 -= x2

	x2 = (181*(x4+x5) + 128) >> 8
	x4 = (181*(x4-x5) + 128) >> 8

	b[0] = (x7 + x1) >> 8
	b[1] = (x3 + x2) >> 8
	b[2] = (x0 + x4) >> 8
	b[3] = (x8 + x6) >> 8
	b[4] = (x8 - x6) >> 8
	b[5] = (x0 - x4) >> 8
	b[6] = (x3 - x2) >> 8
	b[7] = (x7 - x1) >> 8
}

// idctCol performs the 1D transform on one column and stores the
// level-shifted output samples.
func idctCol(blk *[64]int32, offset int, out []byte, outOffset, stride int) {
	x1 := blk[offset+8*4] << 8
	x2 := blk[offset+8*6]
	x3 := blk[offset+8*2]
	x4 := blk[offset+8*1]
	x5 := blk[offset+8*7]
	x6 := blk[offset+8*5]
	x7 := blk[offset+8*3]

	if x1|x2|x3|x4|x5|x6|x7 == 0 {
		v := clamp((blk[offset]+32)>>6 + 128)
		for i := 0; i < 8; i++ {
			out[outOffset+i*stride] = v
		}

		return
	}

	x0 := (blk[offset] << 8) + 8192

	x8 := idctW7*(x4+x5) + 4
	x4 = (x8 + (idctW1-idctW7)*x4) >> 3
	x5 = (x8 - (idctW1+idctW7)*x5) >> 3
	x8 = idctW3*(x6+x7) + 4
	x6 = (x8 - (idctW3-idctW5)*x6) >> 3
	x7 = (x8 - (idctW3+idctW5)*x7) >> 3

	x8 = x0 + x1
	x0 -= x1
	x1 = idctW6*(x3+x2) + 4
	x2 = (x1 - (idctW2+idctW6)*x2) >> 3
	x3 = (x1 + (idctW2-idctW6)*x3) >> 3

	x1 = x4 + x6
	x4 -= x6
	x6 = x5 + x7
	x5 -= x7

	x7 = x8 + x3
	x8 -= x3
	x3 = x0 + x2
	x0 -= x2

	x2 = (181*(x4+x5) + 128) >> 8
	x4 = (181*(x4-x5) + 128) >> 8

	out[outOffset+0*stride] = clamp((x7+x1)>>14 + 128)
	out[outOffset+1*stride] = clamp((x3+x2)>>14 + 128)
	out[outOffset+2*stride] = clamp((x0+x4)>>14 + 128)
	out[outOffset+3*stride] = clamp((x8+x6)>>14 + 128)
	out[outOffset+4*stride] = clamp((x8-x6)>>14 + 128)
	out[outOffset+5*stride] = clamp((x0-x4)>>14 + 128)
	out[outOffset+6*stride] = clamp((x3-x2)>>14 + 128)
	out[outOffset+7*stride] = clamp((x7-x1)>>14 + 128)
}
