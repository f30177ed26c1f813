// Package optimize implements the per-format optimizer decision trees
// (§4.E) and their dispatch (§4.F): a process-wide registry mapping
// each format tag to its optimizer, invoked behind the compression
// gate.
//
// Grounded on je4-indexer's action.go (single-method Action interface)
// and actionDispatcher.go (registry + fan-out), generalized from a
// file-identification pipeline to an image-optimization one; the
// per-format decision trees themselves are ported from
// original_source/optimizers/*.py.
package optimize

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/je4/utils/v2/pkg/zLogger"

	"github.com/memobase/pare/pkg/pare/config"
	"github.com/memobase/pare/pkg/pare/gate"
	"github.com/memobase/pare/pkg/pare/pareerr"
	"github.com/memobase/pare/pkg/pare/pformat"
	"github.com/memobase/pare/pkg/pare/preset"
	"github.com/memobase/pare/pkg/pare/result"
)

// Optimizer is the contract every format-specific optimizer satisfies.
// Implementations may run candidate methods concurrently; the final
// step always picks the smallest byte output and delegates to
// result.Build/result.BestOf to enforce the output-never-larger rule.
type Optimizer interface {
	Optimize(ctx context.Context, data []byte, cfg preset.Config) (result.OptimizeResult, error)
}

// Dispatcher holds the process-wide format→optimizer registry plus the
// compression gate every call is routed through.
type Dispatcher struct {
	registry map[pformat.Tag]Optimizer
	gate     *gate.Gate
	logger   zLogger.ZLogger
}

// NewDispatcher builds the registry described in §4.F: APNG and PNG
// share one optimizer instance, as do SVG and SVGZ.
func NewDispatcher(g *gate.Gate, logger zLogger.ZLogger, tools Tools) *Dispatcher {
	png := &pngOptimizer{tools: tools}
	svg := &svgOptimizer{}

	return &Dispatcher{
		gate:   g,
		logger: logger,
		registry: map[pformat.Tag]Optimizer{
			pformat.PNG:  png,
			pformat.APNG: png,
			pformat.JPEG: &jpegOptimizer{tools: tools},
			pformat.WebP: &webpOptimizer{tools: tools},
			pformat.GIF:  &gifOptimizer{tools: tools},
			pformat.SVG:  svg,
			pformat.SVGZ: svg,
			pformat.AVIF: &avifOptimizer{tools: tools},
			pformat.HEIC: &heicOptimizer{tools: tools},
			pformat.JXL:  &jxlOptimizer{tools: tools},
			pformat.TIFF: &tiffOptimizer{tools: tools},
			pformat.BMP:  &bmpOptimizer{},
		},
	}
}

// Dispatch implements §4.F's four numbered steps: detect, acquire a
// gate slot, invoke the mapped optimizer, release the slot on every
// exit path.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte, cfg preset.Config) (result.OptimizeResult, error) {
	tag, err := pformat.Detect(data)
	if err != nil {
		return result.OptimizeResult{}, err
	}
	d.logMimetypeMismatch(tag, data)

	opt, ok := d.registry[tag]
	if !ok {
		return result.OptimizeResult{}, pareerr.UnsupportedFormat(string(tag))
	}

	permit, err := d.gate.Acquire(ctx)
	if err != nil {
		return result.OptimizeResult{}, err
	}
	defer permit.Release()

	res, err := opt.Optimize(ctx, data, cfg)
	if err == nil {
		d.logResult(tag, res)
	}
	return res, err
}

// logResult reports the outcome of a successful optimization at debug
// level with human-readable byte sizes, mirroring the teacher's own
// size-in-log-lines convention (actionChecksum.go logs digest/size
// pairs the same way).
func (d *Dispatcher) logResult(tag pformat.Tag, res result.OptimizeResult) {
	if d.logger == nil {
		return
	}
	d.logger.Debug().Msgf("%s optimized: %s -> %s (method=%s, reduction=%.1f%%)",
		tag, humanize.Bytes(uint64(res.OriginalSize)), humanize.Bytes(uint64(res.OptimizedSize)),
		res.Method, res.ReductionPercent)
}

// logMimetypeMismatch runs mimetype's generic sniffer as a
// non-authoritative second opinion (§4.F.1) purely for observability;
// it never changes which optimizer is invoked.
func (d *Dispatcher) logMimetypeMismatch(tag pformat.Tag, data []byte) {
	if d.logger == nil {
		return
	}
	detected := mimetype.Detect(data)
	if detected == nil {
		return
	}
	if !detected.Is(tag.MIMEType()) {
		d.logger.Debug().Msgf("format detector disagreement: magic-byte tag %s vs mimetype sniffer %s", tag.MIMEType(), detected.String())
	}
}

// Tools bundles the subprocess binary configuration every
// subprocess-backed optimizer needs, taken directly from
// config.ServiceConfig.Tools plus the JPEG encoder switch.
type Tools struct {
	Pngquant config.ToolConfig
	Oxipng   config.ToolConfig
	Jpegtran config.ToolConfig
	Cjpeg    config.ToolConfig
	Gifsicle config.ToolConfig
	Cwebp    config.ToolConfig
	Cjxl     config.ToolConfig
	Djxl     config.ToolConfig
	Avifenc  config.ToolConfig
	HeifEnc  config.ToolConfig
	Magick   config.ToolConfig

	// JPEGEncoder selects between the in-process library encoder
	// (default) and the legacy cjpeg subprocess pipeline (§4.E.2.1).
	JPEGEncoder string
}

// ToolsFromConfig adapts a decoded ServiceConfig into the Tools bundle
// the optimizer registry needs.
func ToolsFromConfig(cfg config.ServiceConfig) Tools {
	return Tools{
		Pngquant:    cfg.Tools.Pngquant,
		Oxipng:      cfg.Tools.Oxipng,
		Jpegtran:    cfg.Tools.Jpegtran,
		Cjpeg:       cfg.Tools.Cjpeg,
		Gifsicle:    cfg.Tools.Gifsicle,
		Cwebp:       cfg.Tools.Cwebp,
		Cjxl:        cfg.Tools.Cjxl,
		Djxl:        cfg.Tools.Djxl,
		Avifenc:     cfg.Tools.Avifenc,
		HeifEnc:     cfg.Tools.HeifEnc,
		Magick:      cfg.Tools.Magick,
		JPEGEncoder: cfg.JPEGEncoder,
	}
}
