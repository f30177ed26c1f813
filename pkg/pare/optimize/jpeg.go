package optimize

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"strconv"

	"golang.org/x/image/bmp"
	"golang.org/x/sync/errgroup"

	"github.com/memobase/pare/pkg/pare/pformat"
	"github.com/memobase/pare/pkg/pare/pmeta"
	"github.com/memobase/pare/pkg/pare/preset"
	"github.com/memobase/pare/pkg/pare/result"
	"github.com/memobase/pare/pkg/pare/subproc"
)

// jpegOptimizer implements §4.E.2: an in-process lossy re-encode
// candidate run concurrently with the jpegtran lossless candidate,
// capped by max_reduction via capLossyQuality, falling back to the
// legacy cjpeg subprocess pipeline when ServiceConfig.JPEGEncoder is
// "cjpeg" (§4.E.2.1).
//
// Grounded on original_source/optimizers/jpeg.py. The Python original
// relies on jpegli/libjpeg-turbo via Pillow for the lossy path; the Go
// edition uses the standard library's image/jpeg encoder, the same way
// it uses stdlib image/png for lossless PNG decode support — no
// pack-available library improves on it for baseline JPEG re-encode.
// Because stdlib's encoder has no progressive mode and writes no APPn
// segments, PreserveJPEGMetadata splices back the orientation/ICC
// pmeta would otherwise have captured. The library candidate is always
// baseline: a progressive request reaches the output only through the
// jpegtran candidate, or through cjpeg in cjpeg mode.
type jpegOptimizer struct {
	tools Tools
}

func (o *jpegOptimizer) Optimize(ctx context.Context, data []byte, cfg preset.Config) (result.OptimizeResult, error) {
	if o.tools.JPEGEncoder == "cjpeg" {
		return o.optimizeCjpeg(ctx, data, cfg)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return result.Build(pformat.JPEG, data, data, "none"), nil
	}

	var libraryOut, jpegtranOut []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := o.libraryEncode(img, cfg.Quality)
		if err != nil {
			return nil
		}
		out = pmeta.PreserveJPEGMetadata(out, data)
		libraryOut = out
		return nil
	})
	g.Go(func() error {
		out, err := o.runJpegtran(gctx, data, cfg.ProgressiveJPEG)
		if err == nil {
			jpegtranOut = out
		}
		return nil
	})
	_ = g.Wait()

	if cfg.MaxReduction != nil && libraryOut != nil {
		if reductionPercent(len(data), len(libraryOut)) > *cfg.MaxReduction {
			capped, ok, err := capLossyQuality(cfg.Quality, len(data), *cfg.MaxReduction, func(q int) ([]byte, error) {
				out, err := o.libraryEncode(img, q)
				if err != nil {
					return nil, err
				}
				return pmeta.PreserveJPEGMetadata(out, data), nil
			})
			if err == nil {
				if ok {
					libraryOut = capped
				} else {
					libraryOut = data
				}
			}
		}
	}

	return result.BestOf(pformat.JPEG, data, []result.Candidate{
		{Bytes: libraryOut, Method: "jpegli"},
		{Bytes: jpegtranOut, Method: "jpegtran"},
	}), nil
}

func (o *jpegOptimizer) libraryEncode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// runJpegtran optimizes Huffman tables losslessly and strips metadata
// via -copy none. Unavailability of the binary is not an error: the
// caller's BestOf simply never picks this candidate.
func (o *jpegOptimizer) runJpegtran(ctx context.Context, data []byte, progressive bool) ([]byte, error) {
	args := []string{"-optimize", "-copy", "none"}
	if progressive {
		args = append(args, "-progressive")
	}
	res, err := subproc.RunOptional(ctx, o.tools.Jpegtran.Timeout.Duration, o.tools.Jpegtran.Path, args, data, nil)
	if err != nil || res == nil {
		return nil, err
	}
	return res.Stdout, nil
}

// optimizeCjpeg is the legacy pipeline (§4.E.2.1): decode to BMP,
// shell out to cjpeg (mozjpeg) for the lossy candidate, run jpegtran
// concurrently for the lossless candidate.
func (o *jpegOptimizer) optimizeCjpeg(ctx context.Context, data []byte, cfg preset.Config) (result.OptimizeResult, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return result.Build(pformat.JPEG, data, data, "none"), nil
	}
	var bmpBuf bytes.Buffer
	if err := bmp.Encode(&bmpBuf, img); err != nil {
		return result.Build(pformat.JPEG, data, data, "none"), nil
	}
	bmpData := bmpBuf.Bytes()

	var mozjpegOut, jpegtranOut []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := o.runCjpeg(gctx, bmpData, cfg.Quality, cfg.ProgressiveJPEG)
		if err == nil {
			mozjpegOut = out
		}
		return nil
	})
	g.Go(func() error {
		out, err := o.runJpegtran(gctx, data, cfg.ProgressiveJPEG)
		if err == nil {
			jpegtranOut = out
		}
		return nil
	})
	_ = g.Wait()

	if cfg.MaxReduction != nil && mozjpegOut != nil {
		if reductionPercent(len(data), len(mozjpegOut)) > *cfg.MaxReduction {
			capped, ok, err := capLossyQuality(cfg.Quality, len(data), *cfg.MaxReduction, func(q int) ([]byte, error) {
				return o.runCjpeg(ctx, bmpData, q, cfg.ProgressiveJPEG)
			})
			if err == nil {
				if ok {
					mozjpegOut = capped
				} else {
					mozjpegOut = data
				}
			}
		}
	}

	return result.BestOf(pformat.JPEG, data, []result.Candidate{
		{Bytes: mozjpegOut, Method: "mozjpeg"},
		{Bytes: jpegtranOut, Method: "jpegtran"},
	}), nil
}

func (o *jpegOptimizer) runCjpeg(ctx context.Context, bmpData []byte, quality int, progressive bool) ([]byte, error) {
	args := []string{"-quality", strconv.Itoa(quality)}
	if progressive {
		args = append(args, "-progressive")
	}
	res, err := subproc.RunOptional(ctx, o.tools.Cjpeg.Timeout.Duration, o.tools.Cjpeg.Path, args, bmpData, nil)
	if err != nil || res == nil {
		return nil, err
	}
	return res.Stdout, nil
}
