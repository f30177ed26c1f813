// Package pformat detects which of the twelve supported image formats
// a byte slice holds, by magic bytes alone — never by filename or
// declared content type, since either can lie.
package pformat

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"

	"github.com/memobase/pare/pkg/pare/pareerr"
)

// Tag is one of the twelve supported image formats.
type Tag string

const (
	PNG  Tag = "png"
	APNG Tag = "apng"
	JPEG Tag = "jpeg"
	WebP Tag = "webp"
	GIF  Tag = "gif"
	SVG  Tag = "svg"
	SVGZ Tag = "svgz"
	AVIF Tag = "avif"
	HEIC Tag = "heic"
	TIFF Tag = "tiff"
	BMP  Tag = "bmp"
	JXL  Tag = "jxl"
)

// MIMEType returns the canonical MIME type for a tag, used only for
// observability (logging, the cross-check in the dispatcher) — never
// for detection itself.
func (t Tag) MIMEType() string {
	switch t {
	case PNG:
		return "image/png"
	case APNG:
		return "image/apng"
	case JPEG:
		return "image/jpeg"
	case WebP:
		return "image/webp"
	case GIF:
		return "image/gif"
	case SVG, SVGZ:
		return "image/svg+xml"
	case AVIF:
		return "image/avif"
	case HEIC:
		return "image/heic"
	case TIFF:
		return "image/tiff"
	case BMP:
		return "image/bmp"
	case JXL:
		return "image/jxl"
	default:
		return "application/octet-stream"
	}
}

var (
	pngSig  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	jxlBare = []byte{0xff, 0x0a}
	jxlBox  = []byte{0x00, 0x00, 0x00, 0x0c, 'J', 'X', 'L', ' ', 0x0d, 0x0a, 0x87, 0x0a}
	jpegSig = []byte{0xff, 0xd8, 0xff}
	gif87   = []byte("GIF87a")
	gif89   = []byte("GIF89a")
	bmpSig  = []byte("BM")
	tiffLE  = []byte{'I', 'I', 0x2a, 0x00}
	tiffBE  = []byte{'M', 'M', 0x00, 0x2a}
	gzipSig = []byte{0x1f, 0x8b}
	bomUTF8 = []byte{0xef, 0xbb, 0xbf}
)

// Detect identifies the format of data from its magic bytes. Callers
// should supply at least the first ~32 bytes; more is needed for the
// APNG chunk walk and the ISO-BMFF brand list on larger files, so the
// full buffer (or at least its first few KB) is preferred when available.
func Detect(data []byte) (Tag, error) {
	if len(data) < 4 {
		return "", pareerr.UnsupportedFormat("input too small to identify format")
	}

	// JXL bare codestream must be checked before the JPEG prefix: both
	// are short, two-byte-distinct signatures.
	if bytes.HasPrefix(data, jxlBare) {
		return JXL, nil
	}
	if bytes.HasPrefix(data, jxlBox) {
		return JXL, nil
	}

	if bytes.HasPrefix(data, pngSig) {
		if isAPNG(data) {
			return APNG, nil
		}
		return PNG, nil
	}

	if bytes.HasPrefix(data, jpegSig) {
		return JPEG, nil
	}

	if len(data) >= 6 && (bytes.Equal(data[:6], gif87) || bytes.Equal(data[:6], gif89)) {
		return GIF, nil
	}

	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return WebP, nil
	}

	if bytes.HasPrefix(data, bmpSig) {
		return BMP, nil
	}

	if len(data) >= 4 && (bytes.Equal(data[:4], tiffLE) || bytes.Equal(data[:4], tiffBE)) {
		return TIFF, nil
	}

	if len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) {
		return detectISOBMFF(data)
	}

	if bytes.HasPrefix(data, gzipSig) {
		if decompressed, err := gunzipHead(data); err == nil && isSVGContent(decompressed) {
			return SVGZ, nil
		}
	}

	if isSVGContent(data) {
		return SVG, nil
	}

	return "", pareerr.UnsupportedFormat(hexPrefix(data))
}

// isAPNG walks PNG chunks looking for acTL before the first IDAT,
// exactly mirroring the reference implementation's chunk walk.
// IsAPNG reports whether a PNG-signature byte slice carries an acTL
// chunk before its first IDAT, i.e. is animated. Exported for
// optimizers that need to special-case APNG without re-running Detect.
func IsAPNG(data []byte) bool {
	return isAPNG(data)
}

func isAPNG(data []byte) bool {
	if !bytes.HasPrefix(data, pngSig) {
		return false
	}
	offset := 8
	for offset+8 <= len(data) {
		length := binary.BigEndian.Uint32(data[offset : offset+4])
		chunkType := data[offset+4 : offset+8]
		switch string(chunkType) {
		case "acTL":
			return true
		case "IDAT":
			return false
		}
		next := offset + 4 + 4 + int(length) + 4
		if next <= offset {
			break
		}
		offset = next
	}
	return false
}

// detectISOBMFF disambiguates AVIF/HEIC/JXL from an ISO BMFF ftyp box,
// checking the major brand first and then the compatible-brands list.
func detectISOBMFF(data []byte) (Tag, error) {
	majorBrand := data[8:12]
	if tag, ok := brandTag(majorBrand); ok {
		return tag, nil
	}

	boxSize := binary.BigEndian.Uint32(data[:4])
	boxEnd := int(boxSize)
	if boxEnd > len(data) || boxEnd == 0 {
		boxEnd = len(data)
	}
	for offset := 16; offset+4 <= boxEnd; offset += 4 {
		compat := data[offset : offset+4]
		if tag, ok := brandTag(compat); ok {
			return tag, nil
		}
	}
	return "", pareerr.UnsupportedFormat("ISO BMFF file with unrecognized brand " + string(majorBrand))
}

func brandTag(brand []byte) (Tag, bool) {
	switch string(brand) {
	case "jxl ":
		return JXL, true
	case "avif", "avis":
		return AVIF, true
	case "heic", "heix", "mif1":
		return HEIC, true
	}
	return "", false
}

// gunzipHead decompresses a (possibly truncated) gzip buffer enough to
// inspect its first bytes; partial-read errors from a truncated input
// are tolerated since only the SVG prelude is inspected.
func gunzipHead(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	buf := make([]byte, 512)
	n, err := io.ReadFull(zr, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

func isSVGContent(data []byte) bool {
	text := data
	if bytes.HasPrefix(text, bomUTF8) {
		text = text[3:]
	}
	text = bytes.TrimLeft(text, " \t\r\n")
	head := text
	if len(head) > 256 {
		head = head[:256]
	}
	lower := bytes.ToLower(head)
	return bytes.HasPrefix(lower, []byte("<?xml")) || bytes.HasPrefix(lower, []byte("<svg"))
}

func hexPrefix(data []byte) string {
	n := len(data)
	if n > 16 {
		n = 16
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, n*2)
	for _, b := range data[:n] {
		out = append(out, hexdigits[b>>4], hexdigits[b&0xf])
	}
	return string(out)
}
