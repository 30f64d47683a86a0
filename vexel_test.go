package vexel

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		peek []byte
		want Format
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{"png", append(append([]byte(nil), pngSignature...), 0, 0, 0, 13), FormatPNG},
		{"gif87", []byte("GIF87a\x02\x00"), FormatGIF},
		{"gif89", []byte("GIF89a\x02\x00"), FormatGIF},
		{"bmp", []byte("BM\x36\x00\x00\x00"), FormatBMP},
		{"pbm", []byte("P1\n2 2\n"), FormatNetpbm},
		{"pam", []byte("P7\nWIDTH 2\n"), FormatNetpbm},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), FormatWebP},
		{"avif", []byte("\x00\x00\x00\x1cftypavif"), FormatAVIF},
		{"empty", nil, FormatUnknown},
		{"garbage", []byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 0, 0, 0, 0, 0}, FormatUnknown},
	}

	for _, c := range cases {
		if got := DetectFormat(c.peek); got != c.want {
			t.Errorf("%s: DetectFormat = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestFormatString(t *testing.T) {
	if FormatJPEG.String() != "jpeg" || FormatUnknown.String() != "unknown" || Format(99).String() != "unknown" {
		t.Error("Format.String names are off")
	}
}

func TestOpenDispatch(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 2))
	data := encodePNG(t, src)

	d, err := Open(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, ok := d.(*PNGDecoder); !ok {
		t.Fatalf("Open returned %T, want *PNGDecoder", d)
	}

	if d.Info().ImageFormat() != FormatPNG {
		t.Errorf("ImageFormat = %v", d.Info().ImageFormat())
	}
}

func TestOpenUnknownFormat(t *testing.T) {
	_, err := Open(bytes.NewReader([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 0, 0, 0, 0, 0}))
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("error = %v, want ErrUnknownFormat", err)
	}
}

func TestOpenShortStream(t *testing.T) {
	// Fewer than twelve bytes still sniffs correctly.
	img, err := Decode(bytes.NewReader([]byte("P1\n1 1\n0\n")))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if img.Width != 1 || img.Data[0] != 255 {
		t.Errorf("got %dx%d %v", img.Width, img.Height, img.Data)
	}
}

// TestDecodeDirectory runs the batch scenario: a mixed directory where
// one corrupt file must not take down the others.
func TestDecodeDirectory(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}

		return path
	}

	src := image.NewGray(image.Rect(0, 0, 3, 3))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 20)
	}

	files := []string{
		write("a.png", encodePNG(t, src)),
		write("b.jpg", baselineGray2x2),
		write("c.ppm", []byte("P6\n1 1\n255\nabc")),
		write("broken.png", []byte("\x89PNG\r\n\x1a\nnot a real chunk stream")),
	}

	decoded, failed := 0, 0
	for _, path := range files {
		if _, err := DecodeFile(path); err != nil {
			failed++

			continue
		}

		decoded++
	}

	if decoded != 3 || failed != 1 {
		t.Errorf("decoded %d, failed %d, want 3 and 1", decoded, failed)
	}
}

func TestDecodeFileMissing(t *testing.T) {
	if _, err := DecodeFile(filepath.Join(t.TempDir(), "absent.png")); err == nil {
		t.Error("DecodeFile on a missing path succeeded")
	}
}

// TestColorRGBPNGvsJPEG decodes the same gradient through two formats
// and verifies they agree within the JPEG tolerance.
func TestColorRGBPNGvsJPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, src); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}

	fromPNG, err := Decode(bytes.NewReader(pngBuf.Bytes()))
	if err != nil {
		t.Fatalf("png Decode failed: %v", err)
	}

	fromJPEG, err := Decode(bytes.NewReader(encodeJPEG(t, src, 100)))
	if err != nil {
		t.Fatalf("jpeg Decode failed: %v", err)
	}

	a, b := fromPNG.AsRGB8(), fromJPEG.AsRGB8()
	for i := range a {
		// Quality 100 still quantizes, so allow a wider band.
		if !isClose(a[i], b[i], 8) {
			t.Fatalf("byte %d: png %d vs jpeg %d", i, a[i], b[i])
		}
	}
}
