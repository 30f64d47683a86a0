package vexel

import (
	"fmt"
	"io"
)

// Reference writers, enough to get decoded pixels into common viewers.
// Both write from the RGB8 projection of the image.

// WritePPM writes the image as a binary P6 pixmap.
func WritePPM(w io.Writer, img Image) error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("ppm: %dx%d: %w", img.Width, img.Height, ErrInvalidDimensions)
	}

	if _, err := fmt.Fprintf(w, "P6\n%d %d\n255\n", img.Width, img.Height); err != nil {
		return fmt.Errorf("ppm: writing header: %w", err)
	}

	if _, err := w.Write(img.AsRGB8()); err != nil {
		return fmt.Errorf("ppm: writing raster: %w", err)
	}

	return nil
}

// WriteBMP writes the image as an uncompressed 24-bit bottom-up BMP
// with a 40-byte DIB header.
func WriteBMP(w io.Writer, img Image) error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("bmp: %dx%d: %w", img.Width, img.Height, ErrInvalidDimensions)
	}

	rgb := img.AsRGB8()
	rowBytes := (img.Width*3 + 3) &^ 3
	imageSize := rowBytes * img.Height
	fileSize := 14 + 40 + imageSize

	header := make([]byte, 14+40)
	header[0], header[1] = 'B', 'M'
	putLEU32(header[2:], uint32(fileSize))
	putLEU32(header[10:], 14+40)
	putLEU32(header[14:], 40)
	putLEU32(header[18:], uint32(img.Width))
	putLEU32(header[22:], uint32(img.Height))
	header[26] = 1                           // planes
	header[28] = 24                          // bits per pixel
	putLEU32(header[34:], uint32(imageSize)) // compression stays BI_RGB

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("bmp: writing header: %w", err)
	}

	row := make([]byte, rowBytes)
	for y := img.Height - 1; y >= 0; y-- {
		src := y * img.Width * 3
		for x := 0; x < img.Width; x++ {
			row[3*x] = rgb[src+3*x+2]
			row[3*x+1] = rgb[src+3*x+1]
			row[3*x+2] = rgb[src+3*x]
		}

		for i := img.Width * 3; i < rowBytes; i++ {
			row[i] = 0
		}

		if _, err := w.Write(row); err != nil {
			return fmt.Errorf("bmp: writing row %d: %w", y, err)
		}
	}

	return nil
}

func putLEU32(p []byte, v uint32) {
	p[0] = byte(v)
	p[1] = byte(v >> 8)
	p[2] = byte(v >> 16)
	p[3] = byte(v >> 24)
}
