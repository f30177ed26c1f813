// Command pare-server exposes the optimize/estimate core over a thin
// HTTP surface: POST /optimize, POST /estimate, GET /healthz. It
// carries no authentication, SSRF protection, or rate limiting — all
// explicitly out of scope for this core per spec.md §6 — and assumes
// a trusted caller sits in front of it.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/rs/zerolog"

	"github.com/memobase/pare/pkg/pare/config"
	"github.com/memobase/pare/pkg/pare/estimate"
	"github.com/memobase/pare/pkg/pare/estimatecache"
	"github.com/memobase/pare/pkg/pare/gate"
	"github.com/memobase/pare/pkg/pare/optimize"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional, defaults applied otherwise)")
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.ErrorLevel
	}
	zl := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	var logger zLogger.ZLogger = &zl

	g := gate.New(cfg.Gate.Permits, cfg.Gate.QueueCap)
	tools := optimize.ToolsFromConfig(cfg)
	dispatcher := optimize.NewDispatcher(g, logger, tools)
	estimator := estimate.New(dispatcher, tools)

	var cache *estimatecache.Cache
	if cfg.Cache.Enabled {
		cache = estimatecache.Open(cfg.Cache)
		defer cache.Close()
	}

	srv := &server{
		dispatcher:   dispatcher,
		estimator:    estimator,
		cache:        cache,
		logger:       logger,
		maxInputSize: cfg.MaxInputSize,
	}

	router := mux.NewRouter()
	router.HandleFunc("/optimize", srv.handleOptimize).Methods(http.MethodPost)
	router.HandleFunc("/estimate", srv.handleEstimate).Methods(http.MethodPost)
	router.HandleFunc("/healthz", srv.handleHealthz).Methods(http.MethodGet)

	loggedRouter := handlers.LoggingHandler(os.Stdout, router)
	httpServer := &http.Server{
		Addr:    *addr,
		Handler: loggedRouter,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	logger.Info().Msgf("pare-server listening on %s", *addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server exited with error")
	}
}
