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

// jxlOptimizer implements §4.E.6 for JPEG XL: a lossless transcode
// candidate and a lossy re-encode candidate run concurrently, smallest
// wins; method="none" if both fail.
//
// Grounded on original_source/optimizers/jxl.py. Neither candidate can
// touch a JXL bitstream directly in Go, so both go through djxl to
// decode to pixels, then cjxl to re-encode — once with --lossless
// (metadata is dropped by the round trip but pixels are untouched),
// once at the mapped lossy quality.
type jxlOptimizer struct {
	tools Tools
}

func (o *jxlOptimizer) Optimize(ctx context.Context, data []byte, cfg preset.Config) (result.OptimizeResult, error) {
	target := qmap.JXLQuality(cfg.Quality)
	res := runTwoCandidates(ctx, pformat.JXL, data,
		"jxl-lossless-transcode", func(c context.Context) ([]byte, error) {
			return o.transcode(c, data, "--lossless")
		},
		"jxl-reencode", func(c context.Context) ([]byte, error) {
			return o.transcode(c, data, "-q", strconv.Itoa(target))
		},
	)
	return res, nil
}

func (o *jxlOptimizer) transcode(ctx context.Context, data []byte, encodeArgs ...string) ([]byte, error) {
	decoded, err := subproc.RunOptional(ctx, o.tools.Djxl.Timeout.Duration, o.tools.Djxl.Path, []string{"-", "-"}, data, nil)
	if err != nil || decoded == nil {
		return nil, err
	}

	args := append([]string{"-", "-"}, encodeArgs...)
	res, err := subproc.RunOptional(ctx, o.tools.Cjxl.Timeout.Duration, o.tools.Cjxl.Path, args, decoded.Stdout, nil)
	if err != nil || res == nil {
		return nil, err
	}
	return res.Stdout, nil
}
