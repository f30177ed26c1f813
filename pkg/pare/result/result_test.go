package result

import (
	"testing"

	"github.com/memobase/pare/pkg/pare/pformat"
)

func TestBuildSmallerCandidateWins(t *testing.T) {
	input := make([]byte, 1000)
	candidate := make([]byte, 400)
	r := Build(pformat.JPEG, input, candidate, "jpegli")
	if r.OptimizedSize != 400 {
		t.Errorf("OptimizedSize = %d, want 400", r.OptimizedSize)
	}
	if r.Method != "jpegli" {
		t.Errorf("Method = %q, want jpegli", r.Method)
	}
	if r.ReductionPercent != 60.0 {
		t.Errorf("ReductionPercent = %v, want 60.0", r.ReductionPercent)
	}
}

func TestBuildLargerCandidateFallsBackToNone(t *testing.T) {
	input := make([]byte, 400)
	candidate := make([]byte, 1000)
	r := Build(pformat.PNG, input, candidate, "pngquant + oxipng")
	if r.Method != "none" {
		t.Errorf("Method = %q, want none", r.Method)
	}
	if r.OptimizedSize != r.OriginalSize {
		t.Errorf("OptimizedSize = %d, want %d (equal to original)", r.OptimizedSize, r.OriginalSize)
	}
	if r.ReductionPercent != 0 {
		t.Errorf("ReductionPercent = %v, want 0", r.ReductionPercent)
	}
	if len(r.OptimizedBytes) != len(input) {
		t.Errorf("OptimizedBytes len = %d, want %d", len(r.OptimizedBytes), len(input))
	}
}

func TestBuildEqualSizeFallsBackToNone(t *testing.T) {
	input := make([]byte, 500)
	candidate := make([]byte, 500)
	r := Build(pformat.GIF, input, candidate, "gifsicle")
	if r.Method != "none" {
		t.Errorf("Method = %q, want none", r.Method)
	}
}

func TestBestOfPicksSmallest(t *testing.T) {
	input := make([]byte, 1000)
	candidates := []Candidate{
		{Bytes: make([]byte, 600), Method: "a"},
		{Bytes: make([]byte, 300), Method: "b"},
		{Bytes: nil, Method: "failed"},
	}
	r := BestOf(pformat.WebP, input, candidates)
	if r.Method != "b" {
		t.Errorf("Method = %q, want b", r.Method)
	}
	if r.OptimizedSize != 300 {
		t.Errorf("OptimizedSize = %d, want 300", r.OptimizedSize)
	}
}

func TestBestOfAllCandidatesFailedYieldsNone(t *testing.T) {
	input := make([]byte, 1000)
	r := BestOf(pformat.BMP, input, []Candidate{{Bytes: nil}, {Bytes: nil}})
	if r.Method != "none" {
		t.Errorf("Method = %q, want none", r.Method)
	}
	if r.OptimizedSize != len(input) {
		t.Errorf("OptimizedSize = %d, want %d", r.OptimizedSize, len(input))
	}
}
