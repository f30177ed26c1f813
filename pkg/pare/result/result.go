// Package result implements the output-never-larger guarantee (§4.I)
// shared by every per-format optimizer and the estimator's exact path.
package result

import (
	"math"

	"github.com/memobase/pare/pkg/pare/pformat"
)

// OptimizeResult is the value record returned by every optimizer.
type OptimizeResult struct {
	Success         bool        `json:"success"`
	OriginalSize    int         `json:"original_size"`
	OptimizedSize   int         `json:"optimized_size"`
	ReductionPercent float64    `json:"reduction_percent"`
	Format          pformat.Tag `json:"format"`
	Method          string      `json:"method"`
	OptimizedBytes  []byte      `json:"-"`
	Message         string      `json:"message,omitempty"`
}

// Build enforces invariant I1 (output-never-larger): if candidate is
// not strictly smaller than input, the original bytes are returned
// with method "none" and zero reduction. Otherwise the reduction
// percent is rounded to one decimal place.
func Build(format pformat.Tag, input, candidate []byte, method string) OptimizeResult {
	if len(candidate) >= len(input) {
		return OptimizeResult{
			Success:          true,
			OriginalSize:     len(input),
			OptimizedSize:    len(input),
			ReductionPercent: 0,
			Format:           format,
			Method:           "none",
			OptimizedBytes:   input,
		}
	}
	reduction := (1 - float64(len(candidate))/float64(len(input))) * 100
	return OptimizeResult{
		Success:          true,
		OriginalSize:     len(input),
		OptimizedSize:    len(candidate),
		ReductionPercent: round1(reduction),
		Format:           format,
		Method:           method,
		OptimizedBytes:   candidate,
	}
}

// BestOf picks the smallest of the candidates and builds the result
// from it, the "try all, pick best" fan-in step every optimizer ends
// with (§4.E, §9).
func BestOf(format pformat.Tag, input []byte, candidates []Candidate) OptimizeResult {
	var best *Candidate
	for i := range candidates {
		c := &candidates[i]
		if len(c.Bytes) == 0 {
			continue
		}
		if best == nil || len(c.Bytes) < len(best.Bytes) {
			best = c
		}
	}
	if best == nil {
		return Build(format, input, input, "none")
	}
	return Build(format, input, best.Bytes, best.Method)
}

// Candidate is one competing compression method's output.
type Candidate struct {
	Bytes  []byte
	Method string
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
