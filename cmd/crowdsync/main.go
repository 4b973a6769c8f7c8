// Command crowdsync serves crowding time series to dashboard clients.
//
// It exposes up to three data endpoints, each declared in the YAML
// endpoints file (-config-file):
//
//   - live: incremental sync. Each client gets a client_id on its first
//     request and afterwards only the timestamps it has not seen yet.
//   - history: one-shot range queries with an optional entity filter.
//   - forecast: a fused window of recent real values followed by quantile
//     forecast rows, refreshed by a background polling loop that refits
//     only the entities whose data changed.
//
// Derived metrics declared per endpoint (e.g. "density: total / area") are
// added to every response.
//
// Usage:
//
//	crowdsync -config-file=config.yml -listen=:8080 -storage=redis -redis-addr=redis:6379
//
// Environment variables:
//
//	LISTEN         - HTTP listen address (default: :8080)
//	GRPC_LISTEN    - gRPC health listen address (default: disabled)
//	CONFIG         - Endpoints file (default: config.yml)
//	STORAGE        - Published window storage: memory, redis, badger (default: memory)
//	REDIS_ADDR     - Redis address (default: localhost:6379)
//	REDIS_PASSWORD - Redis password
//	REDIS_DB       - Redis database number (default: 0)
//	REDIS_TTL      - Redis snapshot TTL (default: 2h)
//	BADGER_PATH    - Badger directory (default: ./data/snapshots)
//	STALE_AFTER    - Forecast staleness threshold (default: 2x refresh)
//	TLS_CERT_FILE  - TLS certificate; serves HTTPS with TLS_KEY_FILE
//	TLS_KEY_FILE   - TLS private key
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/cmd/crowdsync/config"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/cmd/crowdsync/logger"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/cmd/crowdsync/metrics"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/cmd/crowdsync/router"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/adapters"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/cursor"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/derived"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/httpx"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/models"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/storage"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error("crowdsync failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	eps, err := config.LoadEndpoints(cfg.ConfigFile)
	if err != nil {
		return err
	}
	log.Info("starting crowdsync",
		"version", version,
		"live", eps.Live != nil,
		"history", eps.History != nil,
		"forecast", eps.Forecast != nil,
	)

	m := metrics.New(nil)

	store, closeStore, err := newStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Error("failed to close source", "error", err)
			}
		}
	}()
	openSource := func(ep *config.Endpoint) (adapters.Source, error) {
		src, err := adapters.New(ep.Source.Kind, ep.Source.Params, ep.StepSeconds())
		if err != nil {
			return nil, err
		}
		if c, ok := src.(io.Closer); ok {
			closers = append(closers, c)
		}
		return src, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	routes := router.Config{Metrics: m, Logger: log}

	if ep := eps.Live; ep != nil {
		src, err := openSource(ep)
		if err != nil {
			return fmt.Errorf("live source: %w", err)
		}
		defs, err := derived.Compile(ep.Derived)
		if err != nil {
			return fmt.Errorf("live derived metrics: %w", err)
		}
		cursors := cursor.NewStore(ep.Cursor(), src, timeline.NewIndexer(ep.Metric, log), log.With("endpoint", "live"))
		defer cursors.Stop()
		routes.Live = &router.Live{Cursors: cursors, Derived: defs}
		log.Info("live endpoint ready", "source", src.Name(), "interval", ep.Interval.D(), "consistency", ep.Cursor().Policy)
	}

	if ep := eps.History; ep != nil {
		src, err := openSource(ep)
		if err != nil {
			return fmt.Errorf("history source: %w", err)
		}
		defs, err := derived.Compile(ep.Derived)
		if err != nil {
			return fmt.Errorf("history derived metrics: %w", err)
		}
		routes.History = &router.History{
			Source:   src,
			Indexer:  timeline.NewIndexer(ep.Metric, log),
			Interval: ep.Interval.D(),
			MaxRange: ep.MaxRange.D(),
			Derived:  defs,
		}
		log.Info("history endpoint ready", "source", src.Name(), "max_range", ep.MaxRange.D())
	}

	if ep := eps.Forecast; ep != nil {
		src, err := openSource(ep)
		if err != nil {
			return fmt.Errorf("forecast source: %w", err)
		}
		defs, err := derived.Compile(ep.Derived)
		if err != nil {
			return fmt.Errorf("forecast derived metrics: %w", err)
		}
		model, err := models.New(ep.Model, models.Options{
			Endpoint:   ep.ModelEndpoint,
			HTTPClient: httpx.NewClient(2 * time.Minute),
		})
		if err != nil {
			return fmt.Errorf("forecast model: %w", err)
		}

		f := NewForecaster(src, model, store, ForecastSettings{
			Fusion:       ep.Fusion(),
			Lookback:     ep.Lookback.D(),
			NSimulations: ep.NSimulations,
			ModelParams:  ep.ModelParams,
			Parallelism:  ep.Parallelism,
			Derived:      defs,
		}, log, m)
		if err := f.Restore(ctx); err != nil {
			log.Warn("starting without a restored window", "error", err)
		}

		versions := cursor.NewVersions(ep.ClientTTL.D())
		defer versions.Stop()
		routes.Forecast = &router.Forecast{Published: f.Published, Versions: versions}

		routes.StaleAfter = cfg.StaleAfter
		if routes.StaleAfter == 0 {
			routes.StaleAfter = 2 * ep.Refresh.D()
		}

		go func() {
			if err := f.Run(ctx, ep.Refresh.D()); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("forecast loop failed", "error", err)
			}
		}()
	}

	mux := router.SetupRoutes(routes)
	handler := httpx.Chain(mux, httpx.RecoveryMiddleware(log), httpx.LoggingMiddleware(log))
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	serverErr := make(chan error, 2)
	go func() {
		if cfg.TLSCertFile != "" {
			serverErr <- httpServer.StartTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		serverErr <- httpServer.Start()
	}()

	var gh *grpcHealth
	if cfg.GRPCListen != "" {
		var published func() *storage.Snapshot
		if routes.Forecast != nil {
			published = routes.Forecast.Published
		}
		gh = newGRPCHealth(router.FreshnessCheck(published, routes.StaleAfter, time.Now), log)
		go gh.watch(ctx, 15*time.Second)
		go func() {
			serverErr <- gh.serve(cfg.GRPCListen)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			runErr = err
		}
	}

	log.Info("shutting down")
	cancel()

	if gh != nil {
		gh.stop()
	}
	if err := httpServer.Stop(10 * time.Second); err != nil {
		return errors.Join(runErr, fmt.Errorf("server shutdown: %w", err))
	}

	log.Info("shutdown complete")
	return runErr
}
