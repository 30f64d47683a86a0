package vexel

// Chroma upsampling and color conversion. Subsampled components are
// doubled per axis with pixel replication until they cover the luma
// grid, then converted with the standard integer YCbCr transform.

// upsampleH doubles a component horizontally by pixel replication.
func upsampleH(c *jpegComponent) {
	newWidth := c.width << 1
	out := make([]byte, newWidth*c.height)

	for y := 0; y < c.height; y++ {
		in := y * c.stride
		dst := y * newWidth

		for x := 0; x < c.width; x++ {
			v := c.pixels[in+x]
			out[dst+2*x] = v
			out[dst+2*x+1] = v
		}
	}

	c.width = newWidth
	c.stride = newWidth
	c.pixels = out
}

// upsampleV doubles a component vertically by row replication.
func upsampleV(c *jpegComponent) {
	newHeight := c.height << 1
	out := make([]byte, c.width*newHeight)

	for y := 0; y < c.height; y++ {
		src := c.pixels[y*c.stride : y*c.stride+c.width]
		copy(out[(2*y)*c.width:], src)
		copy(out[(2*y+1)*c.width:], src)
	}

	c.height = newHeight
	c.stride = c.width
	c.pixels = out
}

// ycbcrToRGB8 converts component planes to packed RGB triples using the
// fixed-point BT.601 transform.
func ycbcrToRGB8(yc, cbc, crc *jpegComponent, dst []byte, width, height int) {
	off := 0
	py, pcb, pcr := 0, 0, 0

	for row := 0; row < height; row++ {
		for x := 0; x < width; x++ {
			y := int32(yc.pixels[py+x]) << 8
			cb := int32(cbc.pixels[pcb+x]) - 128
			cr := int32(crc.pixels[pcr+x]) - 128

			dst[off] = clamp((y + 359*cr + 128) >> 8)
			dst[off+1] = clamp((y - 88*cb - 183*cr + 128) >> 8)
			dst[off+2] = clamp((y + 454*cb + 128) >> 8)
			off += 3
		}

		py += yc.stride
		pcb += cbc.stride
		pcr += crc.stride
	}
}

// rgbToRGB8 packs separately coded R, G and B planes into triples.
func rgbToRGB8(rc, gc, bc *jpegComponent, dst []byte, width, height int) {
	off := 0
	pr, pg, pb := 0, 0, 0

	for row := 0; row < height; row++ {
		for x := 0; x < width; x++ {
			dst[off] = rc.pixels[pr+x]
			dst[off+1] = gc.pixels[pg+x]
			dst[off+2] = bc.pixels[pb+x]
			off += 3
		}

		pr += rc.stride
		pg += gc.stride
		pb += bc.stride
	}
}
