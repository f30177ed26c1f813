package optimize

import (
	"context"
	"strconv"

	"github.com/memobase/pare/pkg/pare/pformat"
	"github.com/memobase/pare/pkg/pare/preset"
	"github.com/memobase/pare/pkg/pare/qmap"
	"github.com/memobase/pare/pkg/pare/result"
	"github.com/memobase/pare/pkg/pare/subproc"
)

// avifOptimizer implements §4.E.6 for AVIF: a metadata-strip-only
// candidate and a lossy re-encode candidate run concurrently, smallest
// wins; method="none" if both fail.
//
// Grounded on original_source/optimizers/avif.py. No pure-Go AVIF codec
// exists in the retrieved pack, so both candidates shell out: the strip
// candidate uses ImageMagick's -strip (magick, already wired for
// §4.E.7's TIFF path), the re-encode candidate uses avifenc (SVT-AV1).
type avifOptimizer struct {
	tools Tools
}

func (o *avifOptimizer) Optimize(ctx context.Context, data []byte, cfg preset.Config) (result.OptimizeResult, error) {
	target := qmap.AVIFHEICQuality(cfg.Quality)
	res := runTwoCandidates(ctx, pformat.AVIF, data,
		"metadata-strip", func(c context.Context) ([]byte, error) {
			return o.stripMetadata(c, data)
		},
		"avif-reencode", func(c context.Context) ([]byte, error) {
			return o.reencode(c, data, target)
		},
	)
	return res, nil
}

func (o *avifOptimizer) stripMetadata(ctx context.Context, data []byte) ([]byte, error) {
	args := []string{"avif:-", "-strip", "avif:-"}
	res, err := subproc.RunOptional(ctx, o.tools.Magick.Timeout.Duration, o.tools.Magick.Path, args, data, nil)
	if err != nil || res == nil {
		return nil, err
	}
	return res.Stdout, nil
}

func (o *avifOptimizer) reencode(ctx context.Context, data []byte, quality int) ([]byte, error) {
	args := []string{"-q", strconv.Itoa(quality), "--speed", "6", "-", "-"}
	res, err := subproc.RunOptional(ctx, o.tools.Avifenc.Timeout.Duration, o.tools.Avifenc.Path, args, data, nil)
	if err != nil || res == nil {
		return nil, err
	}
	return res.Stdout, nil
}
