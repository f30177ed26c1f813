package optimize

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"io"
	"regexp"
	"strconv"

	"emperror.dev/errors"

	"github.com/memobase/pare/pkg/pare/pareerr"
	"github.com/memobase/pare/pkg/pare/pformat"
	"github.com/memobase/pare/pkg/pare/preset"
	"github.com/memobase/pare/pkg/pare/result"
)

// svgOptimizer implements §4.E.5: sanitize first, then apply a scour
// equivalent (strip metadata/comments/prolog, shrink numeric
// precision). SVGZ additionally gunzips on the way in and regzips on
// the way out.
//
// Grounded on original_source/optimizers/svg.py and
// original_source/security/svg_sanitizer.py. The Python original
// walks an ElementTree; the Go edition validates well-formedness with
// encoding/xml.Decoder (which, like defusedxml, never expands external
// entities — XXE is structurally impossible here) and then transforms
// via anchored regexes over the validated bytes. This sidesteps a real
// rough edge of encoding/xml.Encoder: re-serializing a decoded tree
// renormalizes namespace prefixes and is not guaranteed to round-trip
// xlink:-namespaced attributes byte-stably, which would risk silently
// corrupting a class of real-world SVGs. Scour's ID-shortening pass is
// dropped rather than approximated: safely rewriting every reference
// form (url(#id), href, xlink:href) without a full tree model is not
// attempted, so exported document structure and any id-based
// references stay intact. This is called out here as a deliberate
// scope reduction, not a silent omission.
type svgOptimizer struct{}

var (
	scriptOrForeignObjectRe = regexp.MustCompile(`(?is)<(script|foreignObject)\b.*?</\s*(script|foreignObject)\s*>`)
	selfClosingDangerousRe  = regexp.MustCompile(`(?is)<(script|foreignObject)\b[^>]*/>`)
	eventHandlerAttrRe      = regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*("[^"]*"|'[^']*')`)
	dataHrefHTMLRe          = regexp.MustCompile(`(?i)\s+(xlink:href|href)\s*=\s*("data:text/html[^"]*"|'data:text/html[^']*')`)
	useExternalHrefRe       = regexp.MustCompile(`(?is)<use\b[^>]*\b(xlink:href|href)\s*=\s*("https?://[^"]*"|'https?://[^']*')[^>]*>`)
	useHrefAttrRe           = regexp.MustCompile(`(?i)\s+(xlink:href|href)\s*=\s*("https?://[^"]*"|'https?://[^']*')`)
	cssImportRe             = regexp.MustCompile(`@import\s+url\s*\([^)]*\)\s*;?`)
	xmlCommentRe            = regexp.MustCompile(`(?s)<!--.*?-->`)
	xmlProlog               = regexp.MustCompile(`(?s)^\s*<\?xml[^>]*\?>`)
	descriptiveElementRe    = regexp.MustCompile(`(?is)<(title|desc|metadata)\b.*?</\s*(title|desc|metadata)\s*>`)
	whitespaceBetweenTagsRe = regexp.MustCompile(`>\s+<`)
	decimalNumberRe         = regexp.MustCompile(`-?\d+\.\d+`)
)

func (o *svgOptimizer) Optimize(ctx context.Context, data []byte, cfg preset.Config) (result.OptimizeResult, error) {
	format := pformat.SVG
	isGz := len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b

	svgBytes := data
	if isGz {
		format = pformat.SVGZ
		decompressed, err := gunzipAll(data)
		if err != nil {
			return result.Build(format, data, data, "none"), nil
		}
		svgBytes = decompressed
	}

	sanitized, err := sanitizeSVG(svgBytes)
	if err != nil {
		return result.OptimizeResult{}, pareerr.OptimizationFailed("svg sanitization", err)
	}

	optimized := minifySVG(sanitized, cfg)

	out := optimized
	if isGz {
		var buf bytes.Buffer
		gw, _ := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if _, err := gw.Write(optimized); err == nil {
			gw.Close()
			out = buf.Bytes()
		}
	}

	return result.Build(format, data, out, "scour"), nil
}

func gunzipAll(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

// sanitizeSVG validates well-formedness (stdlib never expands external
// entities, so this step alone is XXE-safe) then strips dangerous
// content: <script>/<foreignObject> elements, on* event handlers,
// data:text/html hrefs, and external hrefs on <use>.
func sanitizeSVG(data []byte) ([]byte, error) {
	if err := validateWellFormed(data); err != nil {
		return nil, errors.Wrap(err, "malformed SVG XML")
	}

	out := data
	out = scriptOrForeignObjectRe.ReplaceAll(out, nil)
	out = selfClosingDangerousRe.ReplaceAll(out, nil)
	out = eventHandlerAttrRe.ReplaceAll(out, nil)
	out = dataHrefHTMLRe.ReplaceAll(out, nil)
	out = useExternalHrefRe.ReplaceAllFunc(out, func(tag []byte) []byte {
		return useHrefAttrRe.ReplaceAll(tag, nil)
	})

	return out, nil
}

func validateWellFormed(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// minifySVG applies the scour-equivalent pass described in §4.E.5:
// strip comments always; strip the XML prolog and descriptive elements
// when requested; reduce numeric precision based on quality.
func minifySVG(data []byte, cfg preset.Config) []byte {
	out := data
	out = xmlCommentRe.ReplaceAll(out, nil)

	if cfg.StripMetadata {
		out = xmlProlog.ReplaceAll(out, nil)
		out = descriptiveElementRe.ReplaceAll(out, nil)
	}

	out = stripCSSImports(out)

	switch {
	case cfg.Quality < 50:
		out = roundNumericPrecision(out, 3)
	case cfg.Quality < 70:
		out = roundNumericPrecision(out, 5)
	}

	out = whitespaceBetweenTagsRe.ReplaceAll(out, []byte("><"))
	return bytes.TrimSpace(out)
}

func stripCSSImports(data []byte) []byte {
	return cssImportRe.ReplaceAll(data, nil)
}

// roundNumericPrecision rounds every decimal literal in the document
// to precision fractional digits, the textual analogue of scour's
// --set-precision.
func roundNumericPrecision(data []byte, precision int) []byte {
	return decimalNumberRe.ReplaceAllFunc(data, func(tok []byte) []byte {
		v, err := strconv.ParseFloat(string(tok), 64)
		if err != nil {
			return tok
		}
		return []byte(strconv.FormatFloat(v, 'f', precision, 64))
	})
}
