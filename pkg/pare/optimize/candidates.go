package optimize

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/memobase/pare/pkg/pare/pformat"
	"github.com/memobase/pare/pkg/pare/result"
)

// runTwoCandidates runs two independent, potentially-failing candidate
// producers concurrently and reports the smaller via result.BestOf —
// the "both may fail; method=none if both do" contract §4.E.6 shares
// across AVIF/HEIC/JXL.
func runTwoCandidates(
	ctx context.Context, format pformat.Tag, data []byte,
	method1 string, produce1 func(context.Context) ([]byte, error),
	method2 string, produce2 func(context.Context) ([]byte, error),
) result.OptimizeResult {
	var out1, out2 []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if b, err := produce1(gctx); err == nil {
			out1 = b
		}
		return nil
	})
	g.Go(func() error {
		if b, err := produce2(gctx); err == nil {
			out2 = b
		}
		return nil
	})
	_ = g.Wait()

	return result.BestOf(format, data, []result.Candidate{
		{Bytes: out1, Method: method1},
		{Bytes: out2, Method: method2},
	})
}
