package pformat

import (
	"bytes"
	"compress/gzip"
	"testing"
)

func TestDetectSignatures(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Tag
	}{
		{"png", append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, make([]byte, 24)...), PNG},
		{"jpeg", append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 28)...), JPEG},
		{"gif87", append([]byte("GIF87a"), make([]byte, 26)...), GIF},
		{"gif89", append([]byte("GIF89a"), make([]byte, 26)...), GIF},
		{"bmp", append([]byte("BM"), make([]byte, 30)...), BMP},
		{"tiff-le", append([]byte{'I', 'I', 0x2a, 0x00}, make([]byte, 28)...), TIFF},
		{"tiff-be", append([]byte{'M', 'M', 0x00, 0x2a}, make([]byte, 28)...), TIFF},
		{"jxl-bare", append([]byte{0xff, 0x0a}, make([]byte, 30)...), JXL},
		{"webp", riffWebP(), WebP},
		{"svg", []byte("<svg xmlns=\"http://www.w3.org/2000/svg\"></svg>"), SVG},
		{"svg-xml-decl", []byte("<?xml version=\"1.0\"?><svg></svg>"), SVG},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.data)
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func riffWebP() []byte {
	buf := make([]byte, 32)
	copy(buf[0:4], "RIFF")
	copy(buf[8:12], "WEBP")
	return buf
}

func TestDetectRandomBytesUnsupported(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
		0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
		0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20}
	if _, err := Detect(data); err == nil {
		t.Fatal("expected UnsupportedFormat error for random bytes")
	}
}

func TestDetectTinyInputUnsupported(t *testing.T) {
	if _, err := Detect([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for too-small input")
	}
}

func TestIsAPNG(t *testing.T) {
	acTL := pngChunk("acTL", make([]byte, 8))
	idat := pngChunk("IDAT", []byte{0x01})
	data := append(append([]byte{}, pngSig...), acTL...)
	data = append(data, idat...)
	tag, err := Detect(data)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if tag != APNG {
		t.Errorf("Detect() = %v, want apng", tag)
	}

	// PNG without acTL before IDAT stays PNG.
	plain := append(append([]byte{}, pngSig...), idat...)
	tag, err = Detect(plain)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if tag != PNG {
		t.Errorf("Detect() = %v, want png", tag)
	}
}

func pngChunk(typ string, data []byte) []byte {
	buf := make([]byte, 0, 12+len(data))
	length := uint32(len(data))
	buf = append(buf, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	buf = append(buf, typ...)
	buf = append(buf, data...)
	buf = append(buf, 0, 0, 0, 0) // fake CRC, unchecked by the detector
	return buf
}

func TestDetectISOBMFF(t *testing.T) {
	tests := []struct {
		brand string
		want  Tag
	}{
		{"avif", AVIF},
		{"avis", AVIF},
		{"heic", HEIC},
		{"heix", HEIC},
		{"mif1", HEIC},
		{"jxl ", JXL},
	}
	for _, tt := range tests {
		t.Run(tt.brand, func(t *testing.T) {
			data := isobmffBox(tt.brand)
			got, err := Detect(data)
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func isobmffBox(brand string) []byte {
	buf := make([]byte, 20)
	buf[3] = 20
	copy(buf[4:8], "ftyp")
	copy(buf[8:12], brand)
	return buf
}

func TestDetectSVGZ(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("<svg xmlns=\"http://www.w3.org/2000/svg\"></svg>"))
	_ = zw.Close()

	tag, err := Detect(buf.Bytes())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if tag != SVGZ {
		t.Errorf("Detect() = %v, want svgz", tag)
	}
}
