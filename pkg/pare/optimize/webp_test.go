package optimize

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/chai2010/webp"

	"github.com/memobase/pare/pkg/pare/config"
	"github.com/memobase/pare/pkg/pare/preset"
)

func gradientWebP(t *testing.T, w, h int, quality float32) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x + y) % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: quality}); err != nil {
		t.Fatalf("encode source webp: %v", err)
	}
	return buf.Bytes()
}

func TestWebPOptimizeFallsBackToNoneWhenBothCandidatesFail(t *testing.T) {
	o := &webpOptimizer{tools: Tools{Cwebp: config.ToolConfig{Path: "/nonexistent/cwebp"}}}

	data := []byte("not a real webp file, just bytes")
	res, err := o.Optimize(context.Background(), data, preset.Config{Quality: 60})
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if res.Method != "none" {
		t.Errorf("Method = %q, want %q when both candidates fail", res.Method, "none")
	}
	if string(res.OptimizedBytes) != string(data) {
		t.Error("expected fallback to return the original bytes unchanged")
	}
}

func TestWebPOptimizeUsesInProcessCandidateWhenCwebpUnavailable(t *testing.T) {
	o := &webpOptimizer{tools: Tools{Cwebp: config.ToolConfig{Path: "/nonexistent/cwebp"}}}

	data := gradientWebP(t, 200, 200, 95)
	res, err := o.Optimize(context.Background(), data, preset.Config{Quality: 40})
	if err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if res.OptimizedSize > res.OriginalSize {
		t.Fatalf("optimized size must never exceed original size: %d > %d", res.OptimizedSize, res.OriginalSize)
	}
	if res.Method != "none" && res.Method != "webp-inprocess" {
		t.Errorf("Method = %q, want %q or %q since cwebp is unavailable", res.Method, "none", "webp-inprocess")
	}
}
