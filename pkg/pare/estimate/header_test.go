package estimate

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestHasMetadataChunksDetectsTextChunks(t *testing.T) {
	img := gradientImage(10, 10)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode PNG: %v", err)
	}
	if hasMetadataChunks(buf.Bytes()) {
		t.Fatal("a bare PNG encode should carry no tEXt/iTXt/Exif markers")
	}
	withMarker := append(append([]byte{}, buf.Bytes()...), []byte("tEXt")...)
	if !hasMetadataChunks(withMarker) {
		t.Fatal("expected tEXt marker to be detected")
	}
}

func TestHasICCProfile(t *testing.T) {
	if hasICCProfile([]byte("plain bytes")) {
		t.Fatal("unexpected ICC profile match")
	}
	if !hasICCProfile([]byte("....iCCP....")) {
		t.Fatal("expected iCCP marker to be detected")
	}
}

func TestUniqueColorRatioSolidVsGradient(t *testing.T) {
	solid := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			solid.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	if ratio := uniqueColorRatio(solid); ratio > 0.01 {
		t.Fatalf("solid-color image should have a near-zero unique color ratio, got %v", ratio)
	}

	gradient := gradientImage(200, 200)
	gradRatio := uniqueColorRatio(gradient)
	if gradRatio <= 0.01 {
		t.Fatalf("gradient image should have a much higher unique color ratio, got %v", gradRatio)
	}
}

func TestEstimateJPEGQualityRoundTrips(t *testing.T) {
	img := gradientImage(64, 64)

	var highQ bytes.Buffer
	if err := jpeg.Encode(&highQ, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode high quality JPEG: %v", err)
	}
	var lowQ bytes.Buffer
	if err := jpeg.Encode(&lowQ, img, &jpeg.Options{Quality: 20}); err != nil {
		t.Fatalf("encode low quality JPEG: %v", err)
	}

	highEst, ok := estimateJPEGQuality(highQ.Bytes())
	if !ok {
		t.Fatal("expected a quality estimate for a valid JPEG")
	}
	lowEst, ok := estimateJPEGQuality(lowQ.Bytes())
	if !ok {
		t.Fatal("expected a quality estimate for a valid JPEG")
	}
	if lowEst >= highEst {
		t.Fatalf("expected the low-quality encode's estimate (%d) below the high-quality one's (%d)", lowEst, highEst)
	}
}

func TestEstimateJPEGQualityRejectsNonJPEG(t *testing.T) {
	if _, ok := estimateJPEGQuality([]byte("not a jpeg at all")); ok {
		t.Fatal("expected non-JPEG input to be rejected")
	}
}

func TestBuildHeaderInfoDegradesGracefullyWithNilImage(t *testing.T) {
	info := buildHeaderInfo([]byte("arbitrary bytes"), nil)
	if info.UniqueColorRatio != 0 {
		t.Fatalf("expected zero-value UniqueColorRatio with a nil image, got %v", info.UniqueColorRatio)
	}
}
