package vexel

import "fmt"

// EXIF tag constants.
const (
	tagImageWidth       = 0x0100
	tagImageLength      = 0x0101
	tagMake             = 0x010F
	tagModel            = 0x0110
	tagOrientation      = 0x0112
	tagSoftware         = 0x0131
	tagDateTime         = 0x0132
	tagArtist           = 0x013B
	tagCopyright        = 0x8298
	tagExifIFDPointer   = 0x8769
	tagGPSIFDPointer    = 0x8825
	tagExposureTime     = 0x829A
	tagFNumber          = 0x829D
	tagISOSpeedRatings  = 0x8827
	tagDateTimeOriginal = 0x9003
	tagFlash            = 0x9209
	tagFocalLength      = 0x920A
	tagGPSLatitudeRef   = 0x0001
	tagGPSLatitude      = 0x0002
	tagGPSLongitudeRef  = 0x0003
	tagGPSLongitude     = 0x0004
	tagGPSAltitude      = 0x0006
)

// EXIF data type constants.
const (
	typeASCIIString      = 2
	typeUnsignedShort    = 3
	typeUnsignedLong     = 4
	typeUnsignedRational = 5
)

// Exif holds the metadata extracted from an APP1 EXIF payload.
type Exif struct {
	Orientation      int // 1-8 per the TIFF orientation tag
	Width            int
	Height           int
	Make             string
	Model            string
	Software         string
	DateTime         string
	Artist           string
	Copyright        string
	ExposureTime     float64
	FNumber          float64
	ISO              int
	DateTimeOriginal string
	Flash            int
	FocalLength      float64
	Latitude         float64
	Longitude        float64
	Altitude         float64
}

// exifReader wraps the TIFF payload with endian-aware accessors. Reads
// past the payload return zero values; the IFD walk is bounds-checked.
type exifReader struct {
	data         []byte
	littleEndian bool
}

func (r *exifReader) uint16At(offset int) uint16 {
	if offset < 0 || offset+1 >= len(r.data) {
		return 0
	}

	if r.littleEndian {
		return uint16(r.data[offset]) | uint16(r.data[offset+1])<<8
	}

	return uint16(r.data[offset])<<8 | uint16(r.data[offset+1])
}

func (r *exifReader) uint32At(offset int) uint32 {
	if offset < 0 || offset+3 >= len(r.data) {
		return 0
	}

	if r.littleEndian {
		return uint32(r.data[offset]) | uint32(r.data[offset+1])<<8 |
			uint32(r.data[offset+2])<<16 | uint32(r.data[offset+3])<<24
	}

	return uint32(r.data[offset])<<24 | uint32(r.data[offset+1])<<16 |
		uint32(r.data[offset+2])<<8 | uint32(r.data[offset+3])
}

func (r *exifReader) stringAt(offset, maxLen int) string {
	if offset < 0 || offset >= len(r.data) {
		return ""
	}

	end := offset
	for end < len(r.data) && end < offset+maxLen && r.data[end] != 0 {
		end++
	}

	return string(r.data[offset:end])
}

func (r *exifReader) rationalAt(offset int) float64 {
	den := r.uint32At(offset + 4)
	if den == 0 {
		return 0
	}

	return float64(r.uint32At(offset)) / float64(den)
}

// typeSize returns the byte size of one value of the given TIFF type.
func typeSize(dataType uint16) int {
	switch dataType {
	case typeUnsignedShort:
		return 2
	case typeUnsignedLong:
		return 4
	case typeUnsignedRational:
		return 8
	default:
		return 1
	}
}

// parseExifData parses the TIFF structure of an EXIF payload: byte
// order, IFD0, then the EXIF and GPS sub-IFDs when present.
func parseExifData(data []byte, exif *Exif) error {
	if len(data) < 8 {
		return fmt.Errorf("exif payload too short: %w", ErrSyntax)
	}

	r := &exifReader{data: data}

	switch {
	case data[0] == 0x49 && data[1] == 0x49:
		r.littleEndian = true
	case data[0] == 0x4D && data[1] == 0x4D:
		r.littleEndian = false
	default:
		return fmt.Errorf("exif byte order %02X%02X: %w", data[0], data[1], ErrSyntax)
	}

	if r.uint16At(2) != 42 {
		return fmt.Errorf("exif magic: %w", ErrSyntax)
	}

	ifdOffset := int(r.uint32At(4))
	if ifdOffset < 8 || ifdOffset >= len(data) {
		return fmt.Errorf("exif IFD offset %d: %w", ifdOffset, ErrSyntax)
	}

	subIFD, gpsIFD := parseIFD0(r, ifdOffset, exif)
	if subIFD > 0 {
		parseExifSubIFD(r, subIFD, exif)
	}

	if gpsIFD > 0 {
		parseGPSSubIFD(r, gpsIFD, exif)
	}

	return nil
}

// ifdEntry resolves one 12-byte IFD entry, following the value offset
// indirection for values wider than 4 bytes.
func ifdEntry(r *exifReader, entryOffset int) (tag, dataType uint16, count uint32, valueOffset int) {
	tag = r.uint16At(entryOffset)
	dataType = r.uint16At(entryOffset + 2)
	count = r.uint32At(entryOffset + 4)
	valueOffset = entryOffset + 8

	if typeSize(dataType)*int(count) > 4 {
		valueOffset = int(r.uint32At(valueOffset))
	}

	return tag, dataType, count, valueOffset
}

func parseIFD0(r *exifReader, offset int, exif *Exif) (subIFD, gpsIFD int) {
	numEntries := int(r.uint16At(offset))
	offset += 2

	for i := 0; i < numEntries; i++ {
		entryOffset := offset + i*12
		if entryOffset+11 >= len(r.data) {
			break
		}

		tag, dataType, count, valueOffset := ifdEntry(r, entryOffset)

		switch tag {
		case tagOrientation:
			if v := int(r.uint16At(valueOffset)); v >= 1 && v <= 8 {
				exif.Orientation = v
			}
		case tagImageWidth:
			if dataType == typeUnsignedShort {
				exif.Width = int(r.uint16At(valueOffset))
			} else if dataType == typeUnsignedLong {
				exif.Width = int(r.uint32At(valueOffset))
			}
		case tagImageLength:
			if dataType == typeUnsignedShort {
				exif.Height = int(r.uint16At(valueOffset))
			} else if dataType == typeUnsignedLong {
				exif.Height = int(r.uint32At(valueOffset))
			}
		case tagMake:
			exif.Make = r.stringAt(valueOffset, int(count))
		case tagModel:
			exif.Model = r.stringAt(valueOffset, int(count))
		case tagSoftware:
			exif.Software = r.stringAt(valueOffset, int(count))
		case tagDateTime:
			exif.DateTime = r.stringAt(valueOffset, int(count))
		case tagArtist:
			exif.Artist = r.stringAt(valueOffset, int(count))
		case tagCopyright:
			exif.Copyright = r.stringAt(valueOffset, int(count))
		case tagExifIFDPointer:
			subIFD = int(r.uint32At(valueOffset))
		case tagGPSIFDPointer:
			gpsIFD = int(r.uint32At(valueOffset))
		}
	}

	return subIFD, gpsIFD
}

func parseExifSubIFD(r *exifReader, offset int, exif *Exif) {
	numEntries := int(r.uint16At(offset))
	offset += 2

	for i := 0; i < numEntries; i++ {
		entryOffset := offset + i*12
		if entryOffset+11 >= len(r.data) {
			break
		}

		tag, _, count, valueOffset := ifdEntry(r, entryOffset)

		switch tag {
		case tagExposureTime:
			exif.ExposureTime = r.rationalAt(valueOffset)
		case tagFNumber:
			exif.FNumber = r.rationalAt(valueOffset)
		case tagISOSpeedRatings:
			exif.ISO = int(r.uint16At(valueOffset))
		case tagDateTimeOriginal:
			exif.DateTimeOriginal = r.stringAt(valueOffset, int(count))
		case tagFlash:
			exif.Flash = int(r.uint16At(valueOffset))
		case tagFocalLength:
			exif.FocalLength = r.rationalAt(valueOffset)
		}
	}
}

// parseGPSSubIFD converts the three-rational degree/minute/second form
// into signed decimal degrees.
func parseGPSSubIFD(r *exifReader, offset int, exif *Exif) {
	numEntries := int(r.uint16At(offset))
	offset += 2

	var latRef, lonRef string

	for i := 0; i < numEntries; i++ {
		entryOffset := offset + i*12
		if entryOffset+11 >= len(r.data) {
			break
		}

		tag, _, count, valueOffset := ifdEntry(r, entryOffset)

		switch tag {
		case tagGPSLatitudeRef:
			latRef = r.stringAt(valueOffset, int(count))
		case tagGPSLatitude:
			exif.Latitude = r.rationalAt(valueOffset) +
				r.rationalAt(valueOffset+8)/60 +
				r.rationalAt(valueOffset+16)/3600
		case tagGPSLongitudeRef:
			lonRef = r.stringAt(valueOffset, int(count))
		case tagGPSLongitude:
			exif.Longitude = r.rationalAt(valueOffset) +
				r.rationalAt(valueOffset+8)/60 +
				r.rationalAt(valueOffset+16)/3600
		case tagGPSAltitude:
			exif.Altitude = r.rationalAt(valueOffset)
		}
	}

	if latRef == "S" {
		exif.Latitude = -exif.Latitude
	}

	if lonRef == "W" {
		exif.Longitude = -exif.Longitude
	}
}
