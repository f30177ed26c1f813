package optimize

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/memobase/pare/pkg/pare/preset"
)

func buildTestBMP(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		t.Fatalf("failed to build test BMP fixture: %v", err)
	}
	return buf.Bytes()
}

func TestBMPOptimizeHighQualityReencodesOnly(t *testing.T) {
	o := &bmpOptimizer{}
	data := buildTestBMP(t)

	res, err := o.Optimize(context.Background(), data, preset.Config{Quality: 80})
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if res.Method == "bmp-palette" || res.Method == "bmp-rle8" {
		t.Errorf("Method = %q, want reencode-or-none at quality 80", res.Method)
	}
}

func TestBMPOptimizeLowQualityTriesRLE8(t *testing.T) {
	o := &bmpOptimizer{}
	data := buildTestBMP(t)

	res, err := o.Optimize(context.Background(), data, preset.Config{Quality: 30})
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if len(res.OptimizedBytes) == 0 {
		t.Error("expected non-empty optimized output")
	}
}

func TestEncodeRLE8RowRoundTripsViaDecode(t *testing.T) {
	row := []byte{1, 1, 1, 1, 2, 3, 4, 5, 5, 5, 7, 8}
	var out bytes.Buffer
	encodeRLE8Row(row, &out)

	decoded := decodeRLE8Row(t, out.Bytes())
	if !bytes.Equal(decoded, row) {
		t.Errorf("decoded RLE8 row = %v, want %v", decoded, row)
	}
}

// decodeRLE8Row is a minimal RLE8 decoder used only to verify
// encodeRLE8Row's output round-trips, mirroring the BI_RLE8 spec:
// [count>0, value] is an encoded run, [0x00, count>=3, data...] is an
// absolute-mode literal run (padded to even length), [0x00, 0x00] and
// [0x00, 0x01] are end-of-line/end-of-bitmap escapes not expected mid-row.
func decodeRLE8Row(t *testing.T, data []byte) []byte {
	t.Helper()
	var out []byte
	i := 0
	for i < len(data) {
		count := data[i]
		if count > 0 {
			val := data[i+1]
			for j := 0; j < int(count); j++ {
				out = append(out, val)
			}
			i += 2
			continue
		}
		// count == 0: absolute mode or escape
		lit := data[i+1]
		if lit < 3 {
			t.Fatalf("unexpected escape/short-literal marker in row data at %d", i)
		}
		out = append(out, data[i+2:i+2+int(lit)]...)
		i += 2 + int(lit)
		if lit%2 != 0 {
			i++ // skip pad byte
		}
	}
	return out
}
