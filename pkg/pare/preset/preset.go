// Package preset implements the pure preset → OptimizationConfig
// mapping (§4.H), grounded on original_source/estimation/presets.py.
package preset

import (
	"strings"

	"github.com/memobase/pare/pkg/pare/pareerr"
)

// Config is the optimization config value record (§3). Quality and
// MaxReduction bounds are enforced by New, the only constructor.
type Config struct {
	Quality         int
	StripMetadata   bool
	ProgressiveJPEG bool
	PNGLossy        bool
	MaxReduction    *float64
}

// New validates and constructs a Config, the "config field out of
// range" rejection point named in the error handling design.
func New(quality int, stripMetadata, progressiveJPEG, pngLossy bool, maxReduction *float64) (Config, error) {
	if quality < 1 || quality > 100 {
		return Config{}, pareerr.InvalidConfig("quality must be in [1,100]")
	}
	if maxReduction != nil && (*maxReduction < 0 || *maxReduction > 100) {
		return Config{}, pareerr.InvalidConfig("max_reduction must be in [0,100]")
	}
	return Config{
		Quality:         quality,
		StripMetadata:   stripMetadata,
		ProgressiveJPEG: progressiveJPEG,
		PNGLossy:        pngLossy,
		MaxReduction:    maxReduction,
	}, nil
}

// Default matches the reference implementation's default settings:
// quality 80, strip metadata, not progressive, lossy PNG allowed, no cap.
func Default() Config {
	cfg, _ := New(80, true, false, true, nil)
	return cfg
}

// Resolve maps a preset name (case-insensitive) to its fixed config.
// Any other name fails with InvalidPreset.
func Resolve(name string) (Config, error) {
	switch strings.ToLower(name) {
	case "high":
		return New(40, true, false, true, nil)
	case "medium":
		return New(60, true, false, true, nil)
	case "low":
		return New(80, true, false, false, nil)
	default:
		return Config{}, pareerr.InvalidPreset(name)
	}
}
