package optimize

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"testing"

	xtiff "golang.org/x/image/tiff"

	"github.com/memobase/pare/pkg/pare/config"
	"github.com/memobase/pare/pkg/pare/preset"
)

func buildTestTIFF(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) * 8)})
		}
	}
	var buf bytes.Buffer
	if err := xtiff.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to build test TIFF fixture: %v", err)
	}
	return buf.Bytes()
}

func TestTIFFOptimizeDeflateAlwaysAvailable(t *testing.T) {
	data := buildTestTIFF(t)
	o := &tiffOptimizer{tools: Tools{Magick: config.ToolConfig{Path: "/nonexistent/magick"}}}

	res, err := o.Optimize(context.Background(), data, preset.Config{Quality: 80})
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if res.Method != "tiff-deflate" {
		t.Errorf("Method = %q, want tiff-deflate since magick is unavailable", res.Method)
	}
}

func TestIsJPEGEligibleForGrayAndOpaqueRGBA(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 1, 1))
	if !isJPEGEligible(gray) {
		t.Error("expected grayscale image to be JPEG-eligible")
	}

	opaque := image.NewRGBA(image.Rect(0, 0, 1, 1))
	opaque.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	if !isJPEGEligible(opaque) {
		t.Error("expected fully-opaque RGBA image to be JPEG-eligible")
	}

	transparent := image.NewRGBA(image.Rect(0, 0, 1, 1))
	transparent.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 128})
	if isJPEGEligible(transparent) {
		t.Error("expected partially-transparent RGBA image to not be JPEG-eligible")
	}
}
