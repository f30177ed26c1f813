// Command pare is a local demo entrypoint: load a config, build the
// dispatcher/estimator/cache, and run optimize or estimate against a
// single file on disk, printing the result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/je4/utils/v2/pkg/zLogger"

	"github.com/memobase/pare/pkg/pare/config"
	"github.com/memobase/pare/pkg/pare/estimate"
	"github.com/memobase/pare/pkg/pare/estimatecache"
	"github.com/memobase/pare/pkg/pare/gate"
	"github.com/memobase/pare/pkg/pare/optimize"
	"github.com/memobase/pare/pkg/pare/pformat"
	"github.com/memobase/pare/pkg/pare/preset"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional, defaults applied otherwise)")
	mode := flag.String("mode", "optimize", "optimize | estimate")
	presetName := flag.String("preset", "", "named preset (overrides -quality/-strip/etc if set)")
	quality := flag.Int("quality", 80, "target quality 1-100")
	strip := flag.Bool("strip", true, "strip metadata")
	out := flag.String("out", "", "output file path (optimize mode only; default: stdout)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pare -mode=optimize|estimate [flags] <file>")
		os.Exit(2)
	}
	inputPath := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.ErrorLevel
	}
	zl := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	var logger zLogger.ZLogger = &zl

	data, err := os.ReadFile(inputPath)
	if err != nil {
		logger.Fatal().Err(err).Msgf("cannot read %s", inputPath)
	}

	presetCfg, err := resolvePreset(*presetName, *quality, *strip)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid preset configuration")
	}

	g := gate.New(cfg.Gate.Permits, cfg.Gate.QueueCap)
	tools := optimize.ToolsFromConfig(cfg)
	dispatcher := optimize.NewDispatcher(g, logger, tools)

	ctx := context.Background()

	switch *mode {
	case "optimize":
		res, err := dispatcher.Dispatch(ctx, data, presetCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("optimize failed")
		}
		logger.Info().Msgf("format=%s method=%s original=%d optimized=%d reduction=%.1f%%",
			res.Format, res.Method, res.OriginalSize, res.OptimizedSize, res.ReductionPercent)
		if *out != "" {
			if err := os.WriteFile(*out, res.OptimizedBytes, 0o644); err != nil {
				logger.Fatal().Err(err).Msgf("cannot write %s", *out)
			}
			return
		}
		if _, err := os.Stdout.Write(res.OptimizedBytes); err != nil {
			logger.Fatal().Err(err).Msg("cannot write optimized bytes to stdout")
		}

	case "estimate":
		var cache *estimatecache.Cache
		if cfg.Cache.Enabled {
			cache = estimatecache.Open(cfg.Cache)
			defer cache.Close()
		}
		estimator := estimate.New(dispatcher, tools)

		var resp estimate.Response
		var cacheKey string
		var cacheHit bool
		tag, derr := pformat.Detect(data)
		if derr != nil {
			logger.Fatal().Err(derr).Msg("cannot detect image format")
		}
		if cache != nil {
			if key, kerr := estimatecache.Key(tag, presetCfg, data); kerr == nil {
				cacheKey = key
				if cached, ok := cache.Get(ctx, key); ok {
					resp, cacheHit = cached, true
				}
			}
		}
		if !cacheHit {
			resp, err = estimator.Estimate(ctx, data, presetCfg)
			if err != nil {
				logger.Fatal().Err(err).Msg("estimate failed")
			}
			if cache != nil && cacheKey != "" {
				cache.Set(cacheKey, resp)
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			logger.Fatal().Err(err).Msg("cannot encode estimate response")
		}

	default:
		logger.Fatal().Msgf("unknown mode %q, expected optimize or estimate", *mode)
	}
}

func resolvePreset(name string, quality int, strip bool) (preset.Config, error) {
	if name != "" {
		return preset.Resolve(name)
	}
	return preset.New(quality, strip, false, false, nil)
}
