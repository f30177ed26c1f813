// Package estimate implements the sample-based estimator (§4.G,
// §4.G.1): mode selection (exact/direct-encode-sample/generic-sample),
// Lanczos-equivalent downsampling, BPP extrapolation, and the timeout
// fallback, wrapped around the real optimize.Dispatcher so estimates
// track whatever the optimizers actually do.
//
// Grounded on original_source/estimation/estimator.py and
// header_analysis.py.
package estimate

import "github.com/memobase/pare/pkg/pare/pformat"

// Dimensions is the decoded pixel size of the input image.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// HeaderInfo carries the §4.G.1 supplemental fields: observability-only
// signals that never alter spec.md §4.G's unconditional mode-selection
// table.
type HeaderInfo struct {
	EstimatedJPEGQuality int     `json:"estimated_jpeg_quality,omitempty"`
	UniqueColorRatio     float64 `json:"unique_color_ratio,omitempty"`
	HasMetadataChunks    bool    `json:"has_metadata_chunks"`
	HasICCProfile        bool    `json:"has_icc_profile"`
}

// Response is the estimator's contract value (§4.G): never larger than
// the input, never failing when optimization itself would succeed.
type Response struct {
	OriginalSize              int         `json:"original_size"`
	OriginalFormat            pformat.Tag `json:"original_format"`
	Dimensions                Dimensions  `json:"dimensions"`
	Header                    HeaderInfo  `json:"header_info"`
	EstimatedOptimizedSize    int         `json:"estimated_optimized_size"`
	EstimatedReductionPercent float64     `json:"estimated_reduction_percent"`
	OptimizationPotential     string      `json:"optimization_potential"`
	Method                    string      `json:"method"`
	AlreadyOptimized          bool        `json:"already_optimized"`
	Confidence                string      `json:"confidence"`
}

func classifyPotential(reduction float64) string {
	switch {
	case reduction >= 30:
		return "high"
	case reduction >= 10:
		return "medium"
	default:
		return "low"
	}
}
