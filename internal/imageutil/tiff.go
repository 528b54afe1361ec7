package imageutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"sort"
)

// TIFF tag constants, trimmed to what EncodeTIFF needs. Adapted from
// pkg/geotiff/encode.go's tag set (the teacher's own uncompressed-RGBA
// TIFF writer), dropping the GeoTIFF-specific tags since a WMS GetMap
// TIFF response carries no georeferencing per spec.md §4.6.
const (
	tiffDataTypeShort    = 3
	tiffDataTypeLong     = 4
	tiffDataTypeRational = 5

	tagImageWidth                = 256
	tagImageLength                = 257
	tagBitsPerSample              = 258
	tagCompression                = 259
	tagPhotometricInterpretation  = 262
	tagStripOffsets               = 273
	tagSamplesPerPixel            = 277
	tagRowsPerStrip               = 278
	tagStripByteCounts            = 279
	tagXResolution                = 282
	tagYResolution                = 283
	tagResolutionUnit             = 296
	tagExtraSamples              = 338
)

var tiffEnc = binary.LittleEndian

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

type byTag []ifdEntry

func (d byTag) Len() int           { return len(d) }
func (d byTag) Less(i, j int) bool { return d[i].tag < d[j].tag }
func (d byTag) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

// EncodeTIFF writes img to w as a single-strip, uncompressed RGBA TIFF
// (BitsPerSample=8,8,8,8, PhotometricInterpretation=RGB, ExtraSamples=1),
// per spec.md §4.6's GetMap image/tiff output. extraTags, if non-nil, adds
// further IFD entries (ignored by EncodeTIFF's current callers, kept as a
// hook for a future georeferenced writer).
func EncodeTIFF(w io.Writer, img image.Image, extraTags map[uint16]interface{}) error {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	header := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	if _, err := w.Write(header); err != nil {
		return err
	}

	pixelData := make([]byte, 0, width*height*4)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			pixelData = append(pixelData, uint8(r>>8), uint8(g>>8), uint8(b>>8), uint8(a>>8))
		}
	}
	imageLen := uint32(len(pixelData))

	var entries []ifdEntry
	addEntry := func(tag uint16, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, datatype, count, data})
	}

	addEntry(tagImageWidth, tiffDataTypeShort, 1, enc16(uint16(width)))
	addEntry(tagImageLength, tiffDataTypeShort, 1, enc16(uint16(height)))
	addEntry(tagBitsPerSample, tiffDataTypeShort, 4, enc16s([]uint16{8, 8, 8, 8}))
	addEntry(tagCompression, tiffDataTypeShort, 1, enc16(1))
	addEntry(tagPhotometricInterpretation, tiffDataTypeShort, 1, enc16(2))
	addEntry(tagSamplesPerPixel, tiffDataTypeShort, 1, enc16(4))
	addEntry(tagRowsPerStrip, tiffDataTypeShort, 1, enc16(uint16(height)))
	addEntry(tagXResolution, tiffDataTypeRational, 1, encRational(72, 1))
	addEntry(tagYResolution, tiffDataTypeRational, 1, encRational(72, 1))
	addEntry(tagResolutionUnit, tiffDataTypeShort, 1, enc16(2))
	addEntry(tagExtraSamples, tiffDataTypeShort, 1, enc16(1)) // 1 = associated (premultiplied) alpha, as RGBA() returns
	addEntry(tagStripOffsets, tiffDataTypeLong, 1, make([]byte, 4))
	addEntry(tagStripByteCounts, tiffDataTypeLong, 1, make([]byte, 4))

	for tag, val := range extraTags {
		switch v := val.(type) {
		case []uint16:
			addEntry(tag, tiffDataTypeShort, uint32(len(v)), enc16s(v))
		case []float64:
			addEntry(tag, 12, uint32(len(v)), encDoubles(v))
		case string:
			b := append([]byte(v), 0)
			addEntry(tag, 2, uint32(len(b)), b)
		default:
			return fmt.Errorf("imageutil: unsupported extra tag value type for tag %d", tag)
		}
	}

	sort.Sort(byTag(entries))

	ifdSize := 2 + 12*len(entries) + 4
	valueDataOffset := 8 + ifdSize

	var largeData bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if len(e.data) > 4 {
			offset := uint32(valueDataOffset + largeData.Len())
			largeData.Write(e.data)
			e.data = enc32(offset)
		}
	}

	pixelsOffset := uint32(valueDataOffset + largeData.Len())
	for i := range entries {
		switch entries[i].tag {
		case tagStripOffsets:
			entries[i].data = enc32(pixelsOffset)
		case tagStripByteCounts:
			entries[i].data = enc32(imageLen)
		}
	}

	if err := binary.Write(w, tiffEnc, uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(w, tiffEnc, e.tag); err != nil {
			return err
		}
		if err := binary.Write(w, tiffEnc, e.datatype); err != nil {
			return err
		}
		if err := binary.Write(w, tiffEnc, e.count); err != nil {
			return err
		}
		var val [4]byte
		copy(val[:], e.data)
		if _, err := w.Write(val[:]); err != nil {
			return err
		}
	}
	if err := binary.Write(w, tiffEnc, uint32(0)); err != nil {
		return err
	}
	if _, err := largeData.WriteTo(w); err != nil {
		return err
	}
	_, err := w.Write(pixelData)
	return err
}

func enc16(v uint16) []byte {
	b := make([]byte, 2)
	tiffEnc.PutUint16(b, v)
	return b
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	tiffEnc.PutUint32(b, v)
	return b
}

func enc16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		tiffEnc.PutUint16(b[i*2:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		tiffEnc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func encRational(num, den uint32) []byte {
	b := make([]byte, 8)
	tiffEnc.PutUint32(b[:4], num)
	tiffEnc.PutUint32(b[4:], den)
	return b
}
