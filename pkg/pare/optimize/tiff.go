package optimize

import (
	"bytes"
	"context"
	"image"
	"strconv"

	xtiff "golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"

	"github.com/memobase/pare/pkg/pare/pformat"
	"github.com/memobase/pare/pkg/pare/preset"
	"github.com/memobase/pare/pkg/pare/result"
	"github.com/memobase/pare/pkg/pare/subproc"
)

// tiffOptimizer implements §4.E.7: try several compression methods
// concurrently, pick the smallest. Adobe Deflate and LZW are always
// tried; JPEG-in-TIFF is added for RGB/grayscale images at quality<70.
//
// Grounded on original_source/optimizers/tiff.py, which saves via
// Pillow's tiff_adobe_deflate/tiff_lzw/tiff_jpeg compressions.
// golang.org/x/image/tiff.Encode only supports None/Deflate/CCITT
// compression in-process — it has no LZW or JPEG-in-TIFF encoder — so
// Deflate runs in-process and LZW/JPEG-in-TIFF shell out to
// ImageMagick (already wired for AVIF/HEIC metadata stripping), which
// supports both.
type tiffOptimizer struct {
	tools Tools
}

func (o *tiffOptimizer) Optimize(ctx context.Context, data []byte, cfg preset.Config) (result.OptimizeResult, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return result.Build(pformat.TIFF, data, data, "none"), nil
	}

	type candidate struct {
		method string
		bytes  []byte
	}

	methods := []string{"tiff-deflate", "tiff-lzw"}
	if cfg.Quality < 70 && isJPEGEligible(img) {
		methods = append(methods, "tiff-jpeg")
	}

	results := make([]candidate, len(methods))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range methods {
		i, m := i, m
		g.Go(func() error {
			var out []byte
			var err error
			switch m {
			case "tiff-deflate":
				out, err = encodeDeflateTIFF(img)
			case "tiff-lzw":
				out, err = o.runMagickTIFF(gctx, data, "LZW", 0)
			case "tiff-jpeg":
				out, err = o.runMagickTIFF(gctx, data, "JPEG", cfg.Quality)
			}
			if err == nil {
				results[i] = candidate{method: m, bytes: out}
			}
			return nil
		})
	}
	_ = g.Wait()

	cands := make([]result.Candidate, 0, len(results))
	for _, r := range results {
		cands = append(cands, result.Candidate{Bytes: r.bytes, Method: r.method})
	}
	return result.BestOf(pformat.TIFF, data, cands), nil
}

func isJPEGEligible(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16, *image.YCbCr:
		return true
	case *image.RGBA:
		return !hasAlpha(img)
	case *image.NRGBA:
		return !hasAlpha(img)
	default:
		return false
	}
}

// hasAlpha reports whether any pixel's alpha channel is not fully
// opaque, a cheap necessary check before claiming an image is safe to
// re-encode as JPEG-in-TIFF (which has no alpha channel).
func hasAlpha(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a != 0xffff {
				return true
			}
		}
	}
	return false
}

func encodeDeflateTIFF(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	opt := &xtiff.Options{Compression: xtiff.Deflate, Predictor: true}
	if err := xtiff.Encode(&buf, img, opt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (o *tiffOptimizer) runMagickTIFF(ctx context.Context, data []byte, compression string, quality int) ([]byte, error) {
	args := []string{"tiff:-", "-compress", compression}
	if quality > 0 {
		args = append(args, "-quality", strconv.Itoa(quality))
	}
	args = append(args, "tiff:-")

	res, err := subproc.RunOptional(ctx, o.tools.Magick.Timeout.Duration, o.tools.Magick.Path, args, data, nil)
	if err != nil || res == nil {
		return nil, err
	}
	return res.Stdout, nil
}
