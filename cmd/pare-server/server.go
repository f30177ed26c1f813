package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/je4/utils/v2/pkg/zLogger"

	"github.com/memobase/pare/pkg/pare/estimate"
	"github.com/memobase/pare/pkg/pare/estimatecache"
	"github.com/memobase/pare/pkg/pare/optimize"
	"github.com/memobase/pare/pkg/pare/pareerr"
	"github.com/memobase/pare/pkg/pare/pformat"
	"github.com/memobase/pare/pkg/pare/preset"
)

// server wires the optimize/estimate core behind three routes, with no
// auth, SSRF protection, or rate limiting — all explicitly out of
// scope for the core per spec.md §6 and SPEC_FULL.md's non-goals.
//
// Grounded on je4-indexer's pkg/indexer/server.go: a struct holding the
// core collaborators, one method per route, JSON error bodies shaped
// like its DoPanic helper.
type server struct {
	dispatcher *optimize.Dispatcher
	estimator  *estimate.Estimator
	cache      *estimatecache.Cache
	logger     zLogger.ZLogger

	maxInputSize int64
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if perr, ok := pareerr.As(err); ok {
		status = perr.Kind.Status()
	}
	s.logger.Error().Err(err).Msg("request failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error()})
}

// parseConfig builds an OptimizationConfig from query parameters: a
// named preset short-circuits everything else; otherwise individual
// fields fall back to preset.Default()'s values.
func parseConfig(r *http.Request) (preset.Config, error) {
	q := r.URL.Query()
	if name := q.Get("preset"); name != "" {
		return preset.Resolve(name)
	}

	cfg := preset.Default()
	quality := cfg.Quality
	if v := q.Get("quality"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return preset.Config{}, pareerr.InvalidConfig("quality must be an integer")
		}
		quality = n
	}
	strip := cfg.StripMetadata
	if v := q.Get("strip_metadata"); v != "" {
		strip = v == "true" || v == "1"
	}
	progressive := cfg.ProgressiveJPEG
	if v := q.Get("progressive_jpeg"); v != "" {
		progressive = v == "true" || v == "1"
	}
	pngLossy := cfg.PNGLossy
	if v := q.Get("png_lossy"); v != "" {
		pngLossy = v == "true" || v == "1"
	}
	var maxReduction *float64
	if v := q.Get("max_reduction"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return preset.Config{}, pareerr.InvalidConfig("max_reduction must be a number")
		}
		maxReduction = &f
	}
	return preset.New(quality, strip, progressive, pngLossy, maxReduction)
}

// handleOptimize reads the raw image body, runs it through the
// dispatcher, and reports the result via response headers (the result
// metadata) with the optimized bytes as the body — the same
// "metadata in headers, payload in body" shape a thin image-proxy
// collaborator would use, since OptimizeResult's OptimizedBytes field
// is explicitly excluded from its own JSON encoding (result.go).
func (s *server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseConfig(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, s.maxInputSize+1))
	if err != nil {
		s.writeError(w, pareerr.Wrap(pareerr.KindInvalidConfig, err, "cannot read request body"))
		return
	}
	if int64(len(data)) > s.maxInputSize {
		s.writeError(w, pareerr.InvalidConfig("input exceeds max_input_size_bytes"))
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), data, cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", res.Format.MIMEType())
	w.Header().Set("X-Pare-Format", string(res.Format))
	w.Header().Set("X-Pare-Method", res.Method)
	w.Header().Set("X-Pare-Original-Size", strconv.Itoa(res.OriginalSize))
	w.Header().Set("X-Pare-Optimized-Size", strconv.Itoa(res.OptimizedSize))
	w.Header().Set("X-Pare-Reduction-Percent", strconv.FormatFloat(res.ReductionPercent, 'f', 1, 64))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.OptimizedBytes)
}

// handleEstimate reads the raw image body and returns the estimate as
// a JSON body, consulting the cache first when one is configured.
func (s *server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseConfig(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, s.maxInputSize+1))
	if err != nil {
		s.writeError(w, pareerr.Wrap(pareerr.KindInvalidConfig, err, "cannot read request body"))
		return
	}
	if int64(len(data)) > s.maxInputSize {
		s.writeError(w, pareerr.InvalidConfig("input exceeds max_input_size_bytes"))
		return
	}

	tag, err := pformat.Detect(data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var cacheKey string
	if s.cache != nil {
		if key, err := estimatecache.Key(tag, cfg, data); err == nil {
			cacheKey = key
			if resp, ok := s.cache.Get(r.Context(), key); ok {
				s.writeJSON(w, resp)
				return
			}
		}
	}

	resp, err := s.estimator.Estimate(r.Context(), data, cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.cache != nil && cacheKey != "" {
		s.cache.Set(cacheKey, resp)
	}
	s.writeJSON(w, resp)
}

func (s *server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealthz reports liveness only — no dependency checks, since
// every external encoder is optional and their absence must not flip
// the service unhealthy (§6's "absence of any encoder must not crash
// the service").
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}
