package vexel

import (
	"bytes"
	"compress/zlib"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// encodePNG runs the standard library encoder as a reference bitstream
// source.
func encodePNG(t *testing.T, src image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}

	return buf.Bytes()
}

func TestPNGDecodeGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 19, 7))
	for y := 0; y < 7; y++ {
		for x := 0; x < 19; x++ {
			src.SetGray(x, y, color.Gray{Y: uint8(x*13 + y*29)})
		}
	}

	img, err := Decode(bytes.NewReader(encodePNG(t, src)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if img.Width != 19 || img.Height != 7 || img.Format != Gray8 {
		t.Fatalf("got %dx%d %s, want 19x7 gray8", img.Width, img.Height, img.Format)
	}

	if !bytes.Equal(img.Data, src.Pix) {
		t.Error("gray pixels differ from source")
	}
}

func TestPNGDecodeNRGBA(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 11, 5))
	for y := 0; y < 5; y++ {
		for x := 0; x < 11; x++ {
			src.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 23),
				G: uint8(y * 47),
				B: uint8(x*5 + y*7),
				A: uint8(50 + x*10),
			})
		}
	}

	img, err := Decode(bytes.NewReader(encodePNG(t, src)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if img.Format != RGBA8 {
		t.Fatalf("format = %s, want rgba8", img.Format)
	}

	// PNG stores non-premultiplied samples, so the bytes match exactly.
	if !bytes.Equal(img.Data, src.Pix) {
		t.Error("rgba pixels differ from source")
	}
}

func TestPNGDecodeRGB16(t *testing.T) {
	src := image.NewRGBA64(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			src.SetRGBA64(x, y, color.RGBA64{
				R: uint16(x * 9000),
				G: uint16(y * 17000),
				B: 0x8001,
				A: 0xFFFF,
			})
		}
	}

	img, err := Decode(bytes.NewReader(encodePNG(t, src)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	// The encoder drops the constant alpha channel.
	if img.Format != RGB16 {
		t.Fatalf("format = %s, want rgb16", img.Format)
	}

	r := uint16(img.Data[0])<<8 | uint16(img.Data[1])
	if r != 0 {
		t.Errorf("first red sample = %d, want 0", r)
	}

	b := uint16(img.Data[4])<<8 | uint16(img.Data[5])
	if b != 0x8001 {
		t.Errorf("first blue sample = %04X, want 8001", b)
	}
}

func TestPNGDecodePaletted(t *testing.T) {
	pal := color.Palette{
		color.RGBA{255, 0, 0, 255},
		color.RGBA{0, 255, 0, 255},
		color.RGBA{0, 0, 255, 255},
		color.RGBA{10, 20, 30, 255},
	}

	src := image.NewPaletted(image.Rect(0, 0, 8, 4), pal)
	for i := range src.Pix {
		src.Pix[i] = uint8(i % 4)
	}

	img, err := Decode(bytes.NewReader(encodePNG(t, src)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if img.Format != RGB8 {
		t.Fatalf("format = %s, want rgb8 (opaque palette)", img.Format)
	}

	for i := 0; i < 8*4; i++ {
		r, g, b, _ := pal[src.Pix[i]].RGBA()
		if img.Data[i*3] != uint8(r>>8) || img.Data[i*3+1] != uint8(g>>8) || img.Data[i*3+2] != uint8(b>>8) {
			t.Fatalf("pixel %d = %v, want palette entry %d", i, img.Data[i*3:i*3+3], src.Pix[i])
		}
	}
}

// pngChunk assembles one chunk with a correct CRC.
func pngChunk(ctype string, payload []byte) []byte {
	out := []byte{
		byte(len(payload) >> 24), byte(len(payload) >> 16),
		byte(len(payload) >> 8), byte(len(payload)),
	}

	out = append(out, ctype...)
	out = append(out, payload...)

	crc := crc32.Update(crc32.ChecksumIEEE([]byte(ctype)), crc32.IEEETable, payload)
	out = append(out, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))

	return out
}

// buildPNG assembles a stream from the signature and the given chunks.
func buildPNG(chunks ...[]byte) []byte {
	out := append([]byte(nil), pngSignature...)
	for _, c := range chunks {
		out = append(out, c...)
	}

	return out
}

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zlib write failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("zlib close failed: %v", err)
	}

	return buf.Bytes()
}

// grayIHDR is a 2x2, 8-bit grayscale, non-interlaced IHDR payload.
func grayIHDR() []byte {
	return []byte{0, 0, 0, 2, 0, 0, 0, 2, 8, 0, 0, 0, 0}
}

func TestPNGHandBuilt(t *testing.T) {
	// Two rows, filter None, pixels 10 20 / 30 40.
	raster := deflate(t, []byte{0, 10, 20, 0, 30, 40})
	data := buildPNG(
		pngChunk("IHDR", grayIHDR()),
		pngChunk("IDAT", raster),
		pngChunk("IEND", nil),
	)

	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !bytes.Equal(img.Data, []byte{10, 20, 30, 40}) {
		t.Errorf("pixels = %v, want [10 20 30 40]", img.Data)
	}
}

func TestPNGIDATBeforeIHDR(t *testing.T) {
	data := buildPNG(
		pngChunk("IDAT", []byte{1, 2, 3}),
		pngChunk("IEND", nil),
	)

	_, err := NewPNGDecoder(bytes.NewReader(data))
	if !errors.Is(err, ErrSyntax) {
		t.Errorf("error = %v, want ErrSyntax", err)
	}
}

func TestPNGCRCMismatch(t *testing.T) {
	chunk := pngChunk("IHDR", grayIHDR())
	chunk[len(chunk)-1] ^= 0xFF

	_, err := NewPNGDecoder(bytes.NewReader(buildPNG(chunk)))
	if !errors.Is(err, ErrSyntax) {
		t.Errorf("error = %v, want ErrSyntax", err)
	}
}

func TestPNGBadSignature(t *testing.T) {
	data := buildPNG(pngChunk("IHDR", grayIHDR()))
	data[0] = 0x88

	if _, err := NewPNGDecoder(bytes.NewReader(data)); !errors.Is(err, ErrSyntax) {
		t.Errorf("error = %v, want ErrSyntax", err)
	}
}

func TestPNGTextChunks(t *testing.T) {
	ztxt := append([]byte("Comment\x00\x00"), deflate(t, []byte("compressed body"))...)
	data := buildPNG(
		pngChunk("IHDR", grayIHDR()),
		pngChunk("tEXt", []byte("Title\x00hello")),
		pngChunk("zTXt", ztxt),
		pngChunk("IDAT", deflate(t, []byte{0, 1, 2, 0, 3, 4})),
		pngChunk("IEND", nil),
	)

	d, err := NewPNGDecoder(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewPNGDecoder failed: %v", err)
	}

	info := d.Info().(PNGInfo)
	if len(info.Texts) != 2 {
		t.Fatalf("got %d text records, want 2", len(info.Texts))
	}

	if info.Texts[0].Keyword != "Title" || info.Texts[0].Text != "hello" {
		t.Errorf("tEXt = %+v", info.Texts[0])
	}

	if info.Texts[1].Keyword != "Comment" || info.Texts[1].Text != "compressed body" {
		t.Errorf("zTXt = %+v", info.Texts[1])
	}
}

func TestPNGInterlaced(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 9, 9))
	for y := 0; y < 9; y++ {
		for x := 0; x < 9; x++ {
			src.SetGray(x, y, color.Gray{Y: uint8(y*9 + x)})
		}
	}

	plain := encodePNG(t, src)

	// Re-encode the raster by hand as an Adam7 stream: same IHDR with the
	// interlace flag set, pass rasters in pass order, each row preceded by
	// a None filter byte.
	type pass struct{ x0, y0, dx, dy int }
	passes := []pass{
		{0, 0, 8, 8}, {4, 0, 8, 8}, {0, 4, 4, 8}, {2, 0, 4, 4},
		{0, 2, 2, 4}, {1, 0, 2, 2}, {0, 1, 1, 2},
	}

	var raster []byte
	for _, p := range passes {
		for y := p.y0; y < 9; y += p.dy {
			row := []byte{0}
			for x := p.x0; x < 9; x += p.dx {
				row = append(row, src.GrayAt(x, y).Y)
			}

			if len(row) > 1 {
				raster = append(raster, row...)
			}
		}
	}

	ihdr := []byte{0, 0, 0, 9, 0, 0, 0, 9, 8, 0, 0, 0, 1}
	data := buildPNG(
		pngChunk("IHDR", ihdr),
		pngChunk("IDAT", deflate(t, raster)),
		pngChunk("IEND", nil),
	)

	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	ref, err := Decode(bytes.NewReader(plain))
	if err != nil {
		t.Fatalf("reference Decode failed: %v", err)
	}

	if !bytes.Equal(img.Data, ref.Data) {
		t.Error("interlaced decode differs from sequential decode of the same raster")
	}
}

func TestPNGSubByteDepth(t *testing.T) {
	// 4x1 raster at 1 bit per pixel: 1 0 1 1 -> byte 0b1011_0000.
	ihdr := []byte{0, 0, 0, 4, 0, 0, 0, 1, 1, 0, 0, 0, 0}
	data := buildPNG(
		pngChunk("IHDR", ihdr),
		pngChunk("IDAT", deflate(t, []byte{0, 0b10110000})),
		pngChunk("IEND", nil),
	)

	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !bytes.Equal(img.Data, []byte{255, 0, 255, 255}) {
		t.Errorf("pixels = %v, want [255 0 255 255]", img.Data)
	}
}

func TestUnfilterRow(t *testing.T) {
	prev := []byte{10, 20, 30, 40}

	cases := []struct {
		filter byte
		in     []byte
		want   []byte
	}{
		{pngFilterNone, []byte{1, 2, 3, 4}, []byte{1, 2, 3, 4}},
		{pngFilterSub, []byte{5, 5, 5, 5}, []byte{5, 10, 15, 20}},
		{pngFilterUp, []byte{1, 1, 1, 1}, []byte{11, 21, 31, 41}},
		// Average: left of first byte is 0, so (0+10)/2 = 5.
		{pngFilterAverage, []byte{0, 0, 0, 0}, []byte{5, 12, 21, 30}},
	}

	for _, c := range cases {
		row := append([]byte(nil), c.in...)
		if err := unfilterRow(c.filter, row, prev, 1); err != nil {
			t.Fatalf("filter %d: %v", c.filter, err)
		}

		if !bytes.Equal(row, c.want) {
			t.Errorf("filter %d: got %v, want %v", c.filter, row, c.want)
		}
	}

	if err := unfilterRow(9, []byte{0}, prev[:1], 1); !errors.Is(err, ErrSyntax) {
		t.Errorf("unknown filter error = %v, want ErrSyntax", err)
	}
}

func TestPaethPredictor(t *testing.T) {
	cases := []struct{ a, b, c, want byte }{
		{0, 0, 0, 0},
		{100, 0, 0, 100},  // only left in range
		{0, 100, 0, 100},  // only up in range
		{10, 20, 10, 20},  // p = 20, closest to b
		{20, 10, 10, 20},  // p = 20, closest to a; a wins ties
		{50, 60, 70, 50},  // p = 40, a closest
		{255, 255, 0, 255},
	}

	for _, c := range cases {
		if got := paeth(c.a, c.b, c.c); got != c.want {
			t.Errorf("paeth(%d, %d, %d) = %d, want %d", c.a, c.b, c.c, got, c.want)
		}
	}
}

func TestPNGNoIDAT(t *testing.T) {
	data := buildPNG(
		pngChunk("IHDR", grayIHDR()),
		pngChunk("IEND", nil),
	)

	d, err := NewPNGDecoder(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewPNGDecoder failed: %v", err)
	}

	if _, err := d.Decode(); !errors.Is(err, ErrSyntax) {
		t.Errorf("error = %v, want ErrSyntax", err)
	}
}
