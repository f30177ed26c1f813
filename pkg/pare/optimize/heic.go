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

// heicOptimizer implements §4.E.6 for HEIC: a metadata-strip-only
// candidate and a lossy re-encode candidate run concurrently, smallest
// wins; method="none" if both fail.
//
// Grounded on original_source/optimizers/heic.py, which only stripped
// metadata; spec.md extends it with a heif-enc re-encode candidate to
// match the AVIF/JXL shape, so this adds that second candidate rather
// than translating the Python 1:1.
type heicOptimizer struct {
	tools Tools
}

func (o *heicOptimizer) Optimize(ctx context.Context, data []byte, cfg preset.Config) (result.OptimizeResult, error) {
	target := qmap.AVIFHEICQuality(cfg.Quality)
	res := runTwoCandidates(ctx, pformat.HEIC, data,
		"metadata-strip", func(c context.Context) ([]byte, error) {
			return o.stripMetadata(c, data)
		},
		"heic-reencode", func(c context.Context) ([]byte, error) {
			return o.reencode(c, data, target)
		},
	)
	return res, nil
}

func (o *heicOptimizer) stripMetadata(ctx context.Context, data []byte) ([]byte, error) {
	args := []string{"heic:-", "-strip", "heic:-"}
	res, err := subproc.RunOptional(ctx, o.tools.Magick.Timeout.Duration, o.tools.Magick.Path, args, data, nil)
	if err != nil || res == nil {
		return nil, err
	}
	return res.Stdout, nil
}

func (o *heicOptimizer) reencode(ctx context.Context, data []byte, quality int) ([]byte, error) {
	args := []string{"-q", strconv.Itoa(quality), "-o", "-", "-"}
	res, err := subproc.RunOptional(ctx, o.tools.HeifEnc.Timeout.Duration, o.tools.HeifEnc.Path, args, data, nil)
	if err != nil || res == nil {
		return nil, err
	}
	return res.Stdout, nil
}
