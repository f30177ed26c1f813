// Package pmeta implements selective metadata stripping (§4.C): strip
// privacy- and size-relevant metadata (GPS, camera info, XMP/IPTC,
// embedded thumbnails, comments) while preserving the EXIF Orientation
// tag and an embedded ICC color profile.
//
// Grounded on original_source/utils/metadata.py's strip_metadata_selective,
// reimplemented as a direct marker/chunk walk rather than a
// decode-then-reencode round trip, since neither JPEG nor PNG needs
// full pixel decoding to drop a handful of segments/chunks.
package pmeta

import (
	"bytes"
	"encoding/binary"

	"emperror.dev/errors"

	"github.com/memobase/pare/pkg/pare/pformat"
)

const (
	markerSOI  = 0xD8
	markerSOS  = 0xDA
	markerAPP1 = 0xE1
	markerAPP2 = 0xE2
	markerCOM  = 0xFE

	orientationTag = 0x0112
)

var (
	exifHeader   = []byte("Exif\x00\x00")
	iccSignature = []byte("ICC_PROFILE\x00")
	pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
)

// Strip removes non-essential metadata from data per format. Formats
// whose metadata is instead dropped as a side effect of their own
// optimizer pipeline (WebP, GIF, SVG, BMP, TIFF, AVIF, HEIC, JXL) pass
// through unchanged here.
func Strip(data []byte, format pformat.Tag, preserveOrientation, preserveICC bool) ([]byte, error) {
	switch format {
	case pformat.JPEG:
		return stripJPEG(data, preserveOrientation, preserveICC)
	case pformat.PNG, pformat.APNG:
		return stripPNG(data, preserveICC)
	default:
		return data, nil
	}
}

// stripJPEG walks the marker segments preceding the entropy-coded scan
// data, dropping APP1 (EXIF/XMP) and COM segments while re-injecting a
// minimal single-tag EXIF segment carrying only Orientation, and
// keeping ICC APP2 segments intact when preserveICC is set. Everything
// from the first SOS marker onward — the compressed scan data and EOI —
// is copied through verbatim.
func stripJPEG(data []byte, preserveOrientation, preserveICC bool) ([]byte, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, errors.New("not a JPEG: missing SOI marker")
	}

	var orientation uint16
	haveOrientation := false
	if preserveOrientation {
		orientation, haveOrientation = findOrientation(data)
	}

	out := bytes.NewBuffer(make([]byte, 0, len(data)))
	out.Write(data[0:2])
	if haveOrientation {
		out.Write(buildMinimalExifSegment(orientation))
	}

	offset := 2
	for offset+2 <= len(data) {
		if data[offset] != 0xFF {
			out.Write(data[offset:])
			return out.Bytes(), nil
		}
		marker := data[offset+1]
		if marker == markerSOS {
			out.Write(data[offset:])
			return out.Bytes(), nil
		}
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			out.Write(data[offset : offset+2])
			offset += 2
			continue
		}
		if offset+4 > len(data) {
			out.Write(data[offset:])
			return out.Bytes(), nil
		}
		segLen := int(data[offset+2])<<8 | int(data[offset+3])
		segEnd := offset + 2 + segLen
		if segEnd > len(data) || segLen < 2 {
			out.Write(data[offset:])
			return out.Bytes(), nil
		}

		switch {
		case marker == markerAPP1:
			// EXIF/XMP stripped; orientation already re-injected above.
		case marker == markerAPP2 && hasICCSignature(data[offset+4:segEnd]):
			if preserveICC {
				out.Write(data[offset:segEnd])
			}
		case marker == markerCOM:
			// comment stripped.
		default:
			out.Write(data[offset:segEnd])
		}
		offset = segEnd
	}
	return out.Bytes(), nil
}

func hasICCSignature(payload []byte) bool {
	return bytes.HasPrefix(payload, iccSignature)
}

// PreserveJPEGMetadata splices the Orientation tag and ICC profile
// found in original into reencoded, a freshly library-encoded JPEG
// that carries neither (the stdlib encoder writes no APPn segments at
// all). Used by the JPEG optimizer's lossy re-encode candidate so a
// decode-then-reencode round trip doesn't silently drop orientation or
// color management the way a bare stdlib round trip would.
func PreserveJPEGMetadata(reencoded, original []byte) []byte {
	if len(reencoded) < 2 || reencoded[0] != 0xFF || reencoded[1] != markerSOI {
		return reencoded
	}

	var inject []byte
	if orientation, ok := findOrientation(original); ok {
		inject = append(inject, buildMinimalExifSegment(orientation)...)
	}
	if seg, ok := findICCSegment(original); ok {
		inject = append(inject, seg...)
	}
	if len(inject) == 0 {
		return reencoded
	}

	out := make([]byte, 0, len(reencoded)+len(inject))
	out = append(out, reencoded[0:2]...)
	out = append(out, inject...)
	out = append(out, reencoded[2:]...)
	return out
}

func findICCSegment(data []byte) ([]byte, bool) {
	offset := 2
	for offset+2 <= len(data) {
		if data[offset] != 0xFF {
			return nil, false
		}
		marker := data[offset+1]
		if marker == markerSOS {
			return nil, false
		}
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			offset += 2
			continue
		}
		if offset+4 > len(data) {
			return nil, false
		}
		segLen := int(data[offset+2])<<8 | int(data[offset+3])
		segEnd := offset + 2 + segLen
		if segEnd > len(data) || segLen < 2 {
			return nil, false
		}
		if marker == markerAPP2 && hasICCSignature(data[offset+4:segEnd]) {
			return data[offset:segEnd], true
		}
		offset = segEnd
	}
	return nil, false
}

// findOrientation scans the APP1 EXIF segment, if any, for the
// Orientation tag in IFD0.
func findOrientation(data []byte) (uint16, bool) {
	offset := 2
	for offset+2 <= len(data) {
		if data[offset] != 0xFF {
			return 0, false
		}
		marker := data[offset+1]
		if marker == markerSOS {
			return 0, false
		}
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			offset += 2
			continue
		}
		if offset+4 > len(data) {
			return 0, false
		}
		segLen := int(data[offset+2])<<8 | int(data[offset+3])
		segEnd := offset + 2 + segLen
		if segEnd > len(data) || segLen < 2 {
			return 0, false
		}
		if marker == markerAPP1 {
			payload := data[offset+4 : segEnd]
			if bytes.HasPrefix(payload, exifHeader) {
				if v, ok := parseOrientationFromTIFF(payload[len(exifHeader):]); ok {
					return v, true
				}
			}
		}
		offset = segEnd
	}
	return 0, false
}

func parseOrientationFromTIFF(tiff []byte) (uint16, bool) {
	if len(tiff) < 8 {
		return 0, false
	}
	var bo binary.ByteOrder
	switch {
	case tiff[0] == 'I' && tiff[1] == 'I':
		bo = binary.LittleEndian
	case tiff[0] == 'M' && tiff[1] == 'M':
		bo = binary.BigEndian
	default:
		return 0, false
	}
	ifdOffset := bo.Uint32(tiff[4:8])
	if int(ifdOffset)+2 > len(tiff) {
		return 0, false
	}
	entryCount := bo.Uint16(tiff[ifdOffset : ifdOffset+2])
	base := int(ifdOffset) + 2
	for i := 0; i < int(entryCount); i++ {
		entryOffset := base + i*12
		if entryOffset+12 > len(tiff) {
			break
		}
		tag := bo.Uint16(tiff[entryOffset : entryOffset+2])
		if tag != orientationTag {
			continue
		}
		typ := bo.Uint16(tiff[entryOffset+2 : entryOffset+4])
		if typ == 3 {
			return bo.Uint16(tiff[entryOffset+8 : entryOffset+10]), true
		}
	}
	return 0, false
}

// buildMinimalExifSegment builds an APP1 segment containing only a
// TIFF IFD0 with a single Orientation SHORT entry, little-endian.
func buildMinimalExifSegment(orientation uint16) []byte {
	tiff := make([]byte, 26)
	tiff[0], tiff[1] = 'I', 'I'
	binary.LittleEndian.PutUint16(tiff[2:4], 42)
	binary.LittleEndian.PutUint32(tiff[4:8], 8)
	binary.LittleEndian.PutUint16(tiff[8:10], 1)
	binary.LittleEndian.PutUint16(tiff[10:12], orientationTag)
	binary.LittleEndian.PutUint16(tiff[12:14], 3)
	binary.LittleEndian.PutUint32(tiff[14:18], 1)
	binary.LittleEndian.PutUint16(tiff[18:20], orientation)
	binary.LittleEndian.PutUint32(tiff[22:26], 0)

	payload := make([]byte, 0, len(exifHeader)+len(tiff))
	payload = append(payload, exifHeader...)
	payload = append(payload, tiff...)

	segLen := len(payload) + 2
	out := make([]byte, 0, 4+len(payload))
	out = append(out, 0xFF, markerAPP1)
	out = append(out, byte(segLen>>8), byte(segLen))
	out = append(out, payload...)
	return out
}

// stripPNG drops tEXt/iTXt/zTXt ancillary chunks (and iCCP when
// preserveICC is false), keeping IHDR/PLTE/tRNS/IDAT/IEND/pHYs and the
// APNG acTL/fcTL/fdAT chunks untouched.
func stripPNG(data []byte, preserveICC bool) ([]byte, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], pngSignature) {
		return nil, errors.New("not a PNG: missing signature")
	}

	stripTypes := map[string]struct{}{"tEXt": {}, "iTXt": {}, "zTXt": {}}
	if !preserveICC {
		stripTypes["iCCP"] = struct{}{}
	}

	out := bytes.NewBuffer(make([]byte, 0, len(data)))
	out.Write(data[:8])

	offset := 8
	for offset+8 <= len(data) {
		length := binary.BigEndian.Uint32(data[offset : offset+4])
		typ := string(data[offset+4 : offset+8])
		chunkEnd := offset + 8 + int(length) + 4
		if chunkEnd > len(data) || chunkEnd < offset {
			out.Write(data[offset:])
			break
		}
		if _, strip := stripTypes[typ]; !strip {
			out.Write(data[offset:chunkEnd])
		}
		offset = chunkEnd
	}
	return out.Bytes(), nil
}
