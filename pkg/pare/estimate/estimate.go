package estimate

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strconv"
	"time"

	"emperror.dev/errors"
	"golang.org/x/image/draw"
	xtiff "golang.org/x/image/tiff"

	"github.com/memobase/pare/pkg/pare/optimize"
	"github.com/memobase/pare/pkg/pare/pformat"
	"github.com/memobase/pare/pkg/pare/preset"
	"github.com/memobase/pare/pkg/pare/qmap"
	"github.com/memobase/pare/pkg/pare/subproc"
)

const (
	exactPixelThreshold  = 150_000
	genericSampleWidth   = 300
	jpegSampleMaxWidth   = 1600
	directSampleMaxWidth = 800
	sampleTimeout        = 3 * time.Second
)

var errProbeUnavailable = errors.New("probing tool unavailable")

// Estimator wraps the real optimize.Dispatcher so every exact and
// generic-sample estimate runs the actual per-format decision tree
// rather than a separate, divergent approximation.
type Estimator struct {
	dispatcher *optimize.Dispatcher
	tools      optimize.Tools
}

// New builds an Estimator sharing the dispatcher and tool
// configuration the optimize package already uses.
func New(dispatcher *optimize.Dispatcher, tools optimize.Tools) *Estimator {
	return &Estimator{dispatcher: dispatcher, tools: tools}
}

// Estimate implements §4.G's mode-selection table and never returns an
// estimate larger than the input.
func (e *Estimator) Estimate(ctx context.Context, data []byte, cfg preset.Config) (Response, error) {
	tag, err := pformat.Detect(data)
	if err != nil {
		return Response{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, sampleTimeout)
	defer cancel()

	img, _, _ := image.Decode(bytes.NewReader(data))
	header := buildHeaderInfo(data, img)

	resp, err := e.route(ctx, data, tag, cfg)
	if err != nil {
		return Response{}, err
	}

	resp.Header = header
	return resp, nil
}

// route implements §4.G's mode-selection table, falling back to the
// conservative timeout estimate whenever probing or sampling fails
// (a missing tool, a 3s sample timeout, a malformed file) rather than
// propagating an error — the estimator never fails when optimization
// itself would succeed.
func (e *Estimator) route(ctx context.Context, data []byte, tag pformat.Tag, cfg preset.Config) (Response, error) {
	if tag == pformat.SVG || tag == pformat.SVGZ {
		return e.exact(ctx, data, tag, cfg, Dimensions{})
	}

	animated, dims, err := e.probe(ctx, tag, data)
	if err != nil {
		return e.timeoutFallback(data, tag, cfg), nil
	}

	if animated || dims.Width*dims.Height <= exactPixelThreshold {
		return e.exact(ctx, data, tag, cfg, dims)
	}

	resp, err := e.sample(ctx, data, tag, cfg, dims)
	if err != nil {
		return e.timeoutFallback(data, tag, cfg), nil
	}
	return resp, nil
}

func (e *Estimator) exact(ctx context.Context, data []byte, tag pformat.Tag, cfg preset.Config, dims Dimensions) (Response, error) {
	res, err := e.dispatcher.Dispatch(ctx, data, cfg)
	if err != nil {
		return Response{}, err
	}
	reduction := res.ReductionPercent
	already := res.Method == "none"
	return Response{
		OriginalSize:              len(data),
		OriginalFormat:            tag,
		Dimensions:                dims,
		EstimatedOptimizedSize:    res.OptimizedSize,
		EstimatedReductionPercent: reduction,
		OptimizationPotential:     classifyPotential(reduction),
		Method:                    res.Method,
		AlreadyOptimized:          already,
		Confidence:                "high",
	}, nil
}

// sample implements the direct-encode-sample and generic-sample paths:
// downsample proportionally, encode at the mapped quality (or, for
// generic-sample formats, run the real optimizer on a re-encoded
// sample), extrapolate BPP to the original pixel count.
func (e *Estimator) sample(ctx context.Context, data []byte, tag pformat.Tag, cfg preset.Config, dims Dimensions) (Response, error) {
	originalPixels := dims.Width * dims.Height

	var sampleBytes []byte
	var sampleW, sampleH int
	var err error
	direct := true

	switch tag {
	case pformat.JPEG:
		sampleBytes, sampleW, sampleH, err = e.directEncodeRaster(data, tag, cfg, jpegSampleMaxWidth)
	case pformat.PNG, pformat.APNG:
		sampleBytes, sampleW, sampleH, err = e.directEncodeRaster(data, tag, cfg, directSampleMaxWidth)
	case pformat.WebP:
		sampleBytes, sampleW, sampleH, err = e.directEncodeWebP(ctx, data, cfg, dims)
	case pformat.AVIF, pformat.HEIC:
		sampleBytes, sampleW, sampleH, err = e.directEncodeMagick(ctx, data, tag, cfg, dims)
	case pformat.JXL:
		sampleBytes, sampleW, sampleH, err = e.directEncodeJXL(ctx, data, cfg, dims)
	default: // GIF, TIFF, BMP
		direct = false
		sampleBytes, sampleW, sampleH, err = genericSample(data, tag, dims)
	}
	if err != nil || len(sampleBytes) == 0 {
		return Response{}, errors.Wrap(errProbeUnavailable, "sample encode failed")
	}

	var optimizedSize int
	var method string
	if direct {
		optimizedSize = len(sampleBytes)
		method = directMethodLabel(tag, cfg)
	} else {
		res, derr := e.dispatcher.Dispatch(ctx, sampleBytes, cfg)
		if derr != nil {
			return Response{}, derr
		}
		if res.Method == "none" {
			return Response{
				OriginalSize:              len(data),
				OriginalFormat:            tag,
				Dimensions:                dims,
				EstimatedOptimizedSize:    len(data),
				EstimatedReductionPercent: 0,
				OptimizationPotential:     "low",
				Method:                    "none",
				AlreadyOptimized:          true,
				Confidence:                "high",
			}, nil
		}
		optimizedSize = res.OptimizedSize
		method = res.Method
	}

	samplePixels := sampleW * sampleH
	if samplePixels == 0 {
		return Response{}, errors.New("sample has zero pixels")
	}
	sampleBPP := float64(optimizedSize) * 8 / float64(samplePixels)
	estimatedSize := int(sampleBPP * float64(originalPixels) / 8)
	if estimatedSize > len(data) {
		estimatedSize = len(data)
	}
	if estimatedSize < 0 {
		estimatedSize = 0
	}

	reduction := round1(pctReduction(len(data), estimatedSize))

	return Response{
		OriginalSize:              len(data),
		OriginalFormat:            tag,
		Dimensions:                dims,
		EstimatedOptimizedSize:    estimatedSize,
		EstimatedReductionPercent: reduction,
		OptimizationPotential:     classifyPotential(reduction),
		Method:                    method,
		AlreadyOptimized:          reduction == 0,
		Confidence:                "high",
	}, nil
}

// timeoutFallback implements §4.G's conservative fallback: 30%
// estimated reduction for lossy presets, 5% for lossless, confidence
// downgraded to low.
func (e *Estimator) timeoutFallback(data []byte, tag pformat.Tag, cfg preset.Config) Response {
	reduction := 5.0
	if isLossyPreset(tag, cfg) {
		reduction = 30.0
	}
	estimatedSize := int(float64(len(data)) * (1 - reduction/100))
	return Response{
		OriginalSize:              len(data),
		OriginalFormat:            tag,
		EstimatedOptimizedSize:    estimatedSize,
		EstimatedReductionPercent: reduction,
		OptimizationPotential:     classifyPotential(reduction),
		Method:                    "timeout-fallback",
		AlreadyOptimized:          false,
		Confidence:                "low",
	}
}

func isLossyPreset(tag pformat.Tag, cfg preset.Config) bool {
	switch tag {
	case pformat.JPEG, pformat.WebP, pformat.AVIF, pformat.HEIC, pformat.JXL:
		return true
	case pformat.PNG, pformat.APNG:
		return cfg.PNGLossy && cfg.Quality < 70
	default:
		return cfg.Quality < 70
	}
}

// probe reports (animated, dimensions) for the routing decision. AVIF,
// HEIC, and JXL have no Go decoder anywhere in the retrieved pack, so
// their dimensions are probed via the same external tools the
// optimizers already shell out to (ImageMagick identify for AVIF/HEIC,
// djxl's PNG output for JXL) rather than a Go image.Decode call.
func (e *Estimator) probe(ctx context.Context, tag pformat.Tag, data []byte) (bool, Dimensions, error) {
	switch tag {
	case pformat.GIF:
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return false, Dimensions{}, err
		}
		return len(g.Image) > 1, Dimensions{Width: g.Config.Width, Height: g.Config.Height}, nil
	case pformat.AVIF, pformat.HEIC:
		dims, err := e.probeMagick(ctx, tag, data)
		return false, dims, err
	case pformat.JXL:
		dims, err := e.probeJXL(ctx, data)
		return false, dims, err
	default:
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return false, Dimensions{}, err
		}
		return tag == pformat.APNG, Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
	}
}

func (e *Estimator) probeMagick(ctx context.Context, tag pformat.Tag, data []byte) (Dimensions, error) {
	fmtName := "avif"
	if tag == pformat.HEIC {
		fmtName = "heic"
	}
	res, err := subproc.RunOptional(ctx, e.tools.Magick.Timeout.Duration, e.tools.Magick.Path,
		[]string{"identify", "-format", "%w %h", fmtName + ":-"}, data, nil)
	if err != nil {
		return Dimensions{}, err
	}
	if res == nil {
		return Dimensions{}, errProbeUnavailable
	}
	var w, h int
	if _, err := fmt.Sscanf(string(res.Stdout), "%d %d", &w, &h); err != nil {
		return Dimensions{}, err
	}
	return Dimensions{Width: w, Height: h}, nil
}

func (e *Estimator) probeJXL(ctx context.Context, data []byte) (Dimensions, error) {
	res, err := subproc.RunOptional(ctx, e.tools.Djxl.Timeout.Duration, e.tools.Djxl.Path, []string{"-", "-"}, data, nil)
	if err != nil {
		return Dimensions{}, err
	}
	if res == nil {
		return Dimensions{}, errProbeUnavailable
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(res.Stdout))
	if err != nil {
		return Dimensions{}, err
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

// directEncodeRaster handles JPEG and PNG/APNG: decode, downsample,
// encode directly at the mapped quality via the stdlib codec.
func (e *Estimator) directEncodeRaster(data []byte, tag pformat.Tag, cfg preset.Config, maxWidth int) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, err
	}
	sampled, sw, sh := resizeSample(img, maxWidth)

	if tag == pformat.JPEG {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, sampled, &jpeg.Options{Quality: cfg.Quality}); err != nil {
			return nil, 0, 0, err
		}
		return buf.Bytes(), sw, sh, nil
	}

	target := image.Image(sampled)
	if cfg.Quality < 70 && cfg.PNGLossy {
		target = quantizeSample(sampled, cfg.Quality)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, target); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), sw, sh, nil
}

func (e *Estimator) directEncodeWebP(ctx context.Context, data []byte, cfg preset.Config, dims Dimensions) ([]byte, int, int, error) {
	sw, sh := proportional(dims.Width, dims.Height, directSampleMaxWidth)
	args := []string{"-q", strconv.Itoa(cfg.Quality), "-m", "4", "-resize", strconv.Itoa(sw), strconv.Itoa(sh), "-o", "-", "--", "-"}
	res, err := subproc.RunOptional(ctx, e.tools.Cwebp.Timeout.Duration, e.tools.Cwebp.Path, args, data, nil)
	if err != nil || res == nil {
		return nil, 0, 0, err
	}
	return res.Stdout, sw, sh, nil
}

// directEncodeMagick handles AVIF/HEIC sampling in one subprocess call:
// ImageMagick resizes and re-encodes at the mapped quality without
// ever decoding pixels in Go, since no Go codec exists for either
// container.
func (e *Estimator) directEncodeMagick(ctx context.Context, data []byte, tag pformat.Tag, cfg preset.Config, dims Dimensions) ([]byte, int, int, error) {
	sw, sh := proportional(dims.Width, dims.Height, directSampleMaxWidth)
	fmtName := "avif"
	if tag == pformat.HEIC {
		fmtName = "heic"
	}
	target := qmap.AVIFHEICQuality(cfg.Quality)
	args := []string{fmtName + ":-", "-resize", fmt.Sprintf("%dx%d!", sw, sh), "-quality", strconv.Itoa(target), fmtName + ":-"}
	res, err := subproc.RunOptional(ctx, e.tools.Magick.Timeout.Duration, e.tools.Magick.Path, args, data, nil)
	if err != nil || res == nil {
		return nil, 0, 0, err
	}
	return res.Stdout, sw, sh, nil
}

// directEncodeJXL decodes via djxl (the only way to get pixels out of
// a JXL stream in this pack), resizes in Go, and re-encodes via cjxl
// at the mapped quality.
func (e *Estimator) directEncodeJXL(ctx context.Context, data []byte, cfg preset.Config, dims Dimensions) ([]byte, int, int, error) {
	decoded, err := subproc.RunOptional(ctx, e.tools.Djxl.Timeout.Duration, e.tools.Djxl.Path, []string{"-", "-"}, data, nil)
	if err != nil || decoded == nil {
		return nil, 0, 0, err
	}
	img, _, err := image.Decode(bytes.NewReader(decoded.Stdout))
	if err != nil {
		return nil, 0, 0, err
	}
	sampled, sw, sh := resizeSample(img, directSampleMaxWidth)

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, sampled); err != nil {
		return nil, 0, 0, err
	}

	target := qmap.JXLQuality(cfg.Quality)
	res, err := subproc.RunOptional(ctx, e.tools.Cjxl.Timeout.Duration, e.tools.Cjxl.Path,
		[]string{"-", "-", "-q", strconv.Itoa(target)}, pngBuf.Bytes(), nil)
	if err != nil || res == nil {
		return nil, 0, 0, err
	}
	return res.Stdout, sw, sh, nil
}

// genericSample handles GIF/TIFF/BMP: decode, downsample to 300px
// wide, re-encode in the original container at minimal compression.
// The real optimizer then runs on this sample (called by sample()).
func genericSample(data []byte, tag pformat.Tag, dims Dimensions) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, err
	}
	sampled, sw, sh := resizeSample(img, genericSampleWidth)

	var buf bytes.Buffer
	switch tag {
	case pformat.GIF:
		if err := gif.Encode(&buf, sampled, &gif.Options{NumColors: 256}); err != nil {
			return nil, 0, 0, err
		}
	case pformat.TIFF:
		if err := xtiff.Encode(&buf, sampled, &xtiff.Options{Compression: xtiff.Uncompressed}); err != nil {
			return nil, 0, 0, err
		}
	case pformat.BMP:
		if err := bmpEncode(&buf, sampled); err != nil {
			return nil, 0, 0, err
		}
	default:
		return nil, 0, 0, errors.Errorf("generic-sample not supported for %s", tag)
	}
	return buf.Bytes(), sw, sh, nil
}

func directMethodLabel(tag pformat.Tag, cfg preset.Config) string {
	switch tag {
	case pformat.PNG, pformat.APNG:
		if cfg.Quality < 70 && cfg.PNGLossy {
			return "pngquant + oxipng"
		}
		return "oxipng"
	case pformat.JPEG:
		return "jpegli"
	case pformat.WebP:
		return "cwebp"
	case pformat.AVIF:
		return "avif-reencode"
	case pformat.HEIC:
		return "heic-reencode"
	case pformat.JXL:
		return "jxl-reencode"
	default:
		return "sample"
	}
}

func proportional(width, height, maxWidth int) (int, int) {
	if width <= maxWidth || width == 0 {
		return width, height
	}
	sw := maxWidth
	sh := int(float64(height) * float64(sw) / float64(width))
	if sh < 1 {
		sh = 1
	}
	return sw, sh
}

// resizeSample downsamples proportionally with Lanczos-3 resampling.
// golang.org/x/image/draw ships no predefined Lanczos kernel, so one is
// built from draw.Kernel here.
func resizeSample(img image.Image, maxWidth int) (image.Image, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxWidth {
		return img, w, h
	}
	sw, sh := proportional(w, h, maxWidth)
	dst := image.NewRGBA(image.Rect(0, 0, sw, sh))
	lanczos3 := &draw.Kernel{Support: 3, At: func(t float64) float64 {
		if t == 0 {
			return 1
		}
		x := math.Pi * t
		return 3 * math.Sin(x) * math.Sin(x/3) / (x * x)
	}}
	lanczos3.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst, sw, sh
}

func pctReduction(originalSize, candidateSize int) float64 {
	if originalSize == 0 {
		return 0
	}
	r := (1 - float64(candidateSize)/float64(originalSize)) * 100
	if r < 0 {
		return 0
	}
	return r
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
