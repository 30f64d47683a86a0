package vexel

import "fmt"

// Scanline filters (PNG filter method 0). Each row is filtered against
// the byte to its left (offset by the pixel width) and the reconstructed
// row above; rows are reconstructed in place.
const (
	pngFilterNone = iota
	pngFilterSub
	pngFilterUp
	pngFilterAverage
	pngFilterPaeth
)

// unfilterRow reconstructs one scanline in place. prev is the already
// reconstructed previous row of the same pass (all zeros for the first
// row), fbpp the filter unit in whole bytes.
func unfilterRow(filter byte, row, prev []byte, fbpp int) error {
	switch filter {
	case pngFilterNone:
	case pngFilterSub:
		for i := fbpp; i < len(row); i++ {
			row[i] += row[i-fbpp]
		}
	case pngFilterUp:
		for i := range row {
			row[i] += prev[i]
		}
	case pngFilterAverage:
		for i := 0; i < fbpp && i < len(row); i++ {
			row[i] += prev[i] / 2
		}

		for i := fbpp; i < len(row); i++ {
			row[i] += byte((int(row[i-fbpp]) + int(prev[i])) / 2)
		}
	case pngFilterPaeth:
		for i := 0; i < fbpp && i < len(row); i++ {
			row[i] += prev[i] // predictor degenerates to Up at row start
		}

		for i := fbpp; i < len(row); i++ {
			row[i] += paeth(row[i-fbpp], prev[i], prev[i-fbpp])
		}
	default:
		return fmt.Errorf("png: filter type %d: %w", filter, ErrSyntax)
	}

	return nil
}

// paeth picks whichever of left, above or upper-left is closest to the
// linear predictor left + above - upperleft, with ties resolved in that
// order.
func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))

	if pa <= pb && pa <= pc {
		return a
	}

	if pb <= pc {
		return b
	}

	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}

	return x
}
