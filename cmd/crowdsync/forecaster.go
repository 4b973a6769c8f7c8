package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/cmd/crowdsync/metrics"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/adapters"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/derived"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/dirty"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/fusion"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/models"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/storage"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

const forecastEndpoint = "forecast"

// ForecastSettings are the per-cycle parameters of the forecast endpoint.
type ForecastSettings struct {
	Fusion fusion.Config
	// Lookback is how much history each cycle fetches.
	Lookback     time.Duration
	NSimulations int
	ModelParams  map[string]float64
	// Parallelism bounds concurrent entity fits.
	Parallelism int
	Derived     []derived.Definition
}

// Forecaster owns the polling state of the forecast endpoint. Each cycle runs
//
//	fetch → detect → qualify → fit (parallel) → accept → fuse → derive → publish
//
// and replaces the published window with a single atomic pointer swap, so
// readers always see one complete window. A failed cycle leaves the previous
// window in place.
//
// Tick must not run concurrently with itself; Published may be called from
// any goroutine.
type Forecaster struct {
	source   adapters.Source
	indexer  *timeline.Indexer
	model    models.Forecaster
	detector *dirty.Detector
	store    storage.Store
	settings ForecastSettings
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// forecasts holds the last rows per entity. Only Tick touches it.
	forecasts map[string][]models.Quantiles
	version   uint64
	published atomic.Pointer[storage.Snapshot]

	now func() time.Time
}

// NewForecaster wires a forecast loop. store and m may be nil.
func NewForecaster(
	source adapters.Source,
	model models.Forecaster,
	store storage.Store,
	settings ForecastSettings,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Forecaster {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Parallelism <= 0 {
		settings.Parallelism = 1
	}
	return &Forecaster{
		source:    source,
		indexer:   timeline.NewIndexer(settings.Fusion.Metric, logger),
		model:     model,
		detector:  dirty.NewDetector(logger),
		store:     store,
		settings:  settings,
		logger:    logger.With("endpoint", forecastEndpoint),
		metrics:   m,
		forecasts: make(map[string][]models.Quantiles),
		now:       time.Now,
	}
}

// Published returns the current window, or nil before the first publish.
func (f *Forecaster) Published() *storage.Snapshot {
	return f.published.Load()
}

// Restore seeds the published window from the store so a restarted
// process serves its last window before the first cycle completes. The
// model state is not restored; the first cycle refits every entity.
func (f *Forecaster) Restore(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	snap, found, err := f.store.GetLatest(ctx, forecastEndpoint)
	if err != nil {
		return fmt.Errorf("restore published window: %w", err)
	}
	if !found {
		return nil
	}
	f.version = snap.Version
	f.published.Store(&snap)
	f.logger.Info("restored published window", "version", snap.Version, "generated_at", snap.GeneratedAt)
	return nil
}

// Run ticks immediately and then every interval until ctx is done.
func (f *Forecaster) Run(ctx context.Context, interval time.Duration) error {
	f.logger.Info("starting forecast loop", "interval", interval, "model", f.model.Name())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := f.Tick(ctx); err != nil {
		f.logger.Error("initial forecast tick failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("forecast loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := f.Tick(ctx); err != nil {
				f.logger.Error("forecast tick failed", "error", err)
			}
		}
	}
}

// Tick runs one cycle.
func (f *Forecaster) Tick(ctx context.Context) error {
	start := f.now()
	if snap := f.published.Load(); snap != nil {
		f.metrics.SetPublished(snap.Version, start.Sub(snap.GeneratedAt).Seconds())
	}

	frame, err := f.fetch(ctx, start)
	if err != nil {
		f.metrics.RecordError("source", "fetch_failed")
		f.metrics.RecordCycle("failed")
		return fmt.Errorf("fetch: %w", err)
	}

	current := dirty.Snapshot(frame.Snapshot(f.settings.Fusion.Metric))
	decision := f.detector.Detect(current)
	if decision.Skip {
		f.metrics.RecordCycle("skipped")
		return nil
	}

	fitStart := f.now()
	fitted, err := f.retrain(ctx, current, decision)
	if err != nil {
		f.metrics.RecordCycle("failed")
		return fmt.Errorf("retrain: %w", err)
	}
	fitDuration := f.now().Sub(fitStart)

	f.detector.Accept(current)

	fuseStart := f.now()
	// The axis is built from the forecast metric's values alone so it ends
	// at decision.Latest, the timestamp the rows were stepped from.
	window, err := fusion.Fuse(current, f.forecasts, current.Timestamps(), f.settings.Fusion)
	if err != nil {
		f.metrics.RecordError("fusion", "fuse_failed")
		f.metrics.RecordCycle("failed")
		return fmt.Errorf("fuse: %w", err)
	}
	f.derive(window)
	f.metrics.RecordFuse(f.now().Sub(fuseStart).Seconds())

	snap := f.publish(ctx, window)
	f.metrics.RecordCycle("published")

	f.logger.Info("forecast tick complete",
		"version", snap.Version,
		"entities", len(current),
		"retrained", fitted,
		"published_entities", len(window.Values[f.settings.Fusion.Metric]),
		"global_advance", decision.GlobalAdvance,
		"fit_ms", fitDuration.Milliseconds(),
		"total_ms", f.now().Sub(start).Milliseconds(),
	)
	return nil
}

func (f *Forecaster) fetch(ctx context.Context, now time.Time) (timeline.Frame, error) {
	start := f.now()
	records, err := f.source.FetchRange(ctx, adapters.Query{
		Start: now.Add(-f.settings.Lookback),
		End:   now,
		Every: f.settings.Fusion.Interval,
	})
	if err != nil {
		return timeline.Frame{}, err
	}
	f.metrics.RecordFetch(forecastEndpoint, f.now().Sub(start).Seconds())

	frame := f.indexer.Index(records)
	f.logger.Debug("fetched forecast history",
		"records", len(records),
		"timestamps", frame.Len(),
		"source", f.source.Name(),
	)
	return frame, nil
}

// retrain refits the entities named by the decision and updates the stored
// rows. Disqualified or failing entities lose their rows so they drop out
// of the window. It returns the number of entities refit.
func (f *Forecaster) retrain(ctx context.Context, current dirty.Snapshot, decision dirty.Decision) (int, error) {
	for _, entity := range decision.Dirty {
		if _, ok := current[entity]; !ok {
			delete(f.forecasts, entity)
		}
	}

	cfg := f.settings.Fusion
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.settings.Parallelism)

	var mu sync.Mutex
	results := make(map[string][]models.Quantiles, len(decision.Retrain))

	for _, entity := range decision.Retrain {
		timestamps, values := fusion.Sorted(current[entity])
		if err := fusion.Qualify(timestamps, decision.Latest, cfg); err != nil {
			f.disqualify(entity, err)
			continue
		}
		steps, err := fusion.StepsToForecast(timestamps[len(timestamps)-1], decision.Latest, cfg)
		if err != nil {
			f.disqualify(entity, err)
			continue
		}

		g.Go(func() error {
			start := time.Now()
			rows, err := f.model.Forecast(gctx, values, steps, f.settings.NSimulations, f.settings.ModelParams)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.logger.Warn("model fit failed", "entity", entity, "error", err)
				f.metrics.RecordError("model", "fit_failed")
				rows = nil
			} else {
				f.metrics.RecordFit(time.Since(start).Seconds())
			}
			mu.Lock()
			results[entity] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	fitted := 0
	for entity, rows := range results {
		if rows == nil {
			delete(f.forecasts, entity)
			continue
		}
		f.forecasts[entity] = rows
		fitted++
	}
	return fitted, nil
}

func (f *Forecaster) disqualify(entity string, err error) {
	delete(f.forecasts, entity)

	reason := "invalid_timestamp"
	switch {
	case errors.Is(err, fusion.ErrInsufficientHistory):
		reason = "insufficient_history"
	case errors.Is(err, fusion.ErrGapTooLarge):
		reason = "gap_too_large"
	case errors.Is(err, fusion.ErrMissingTimestamp):
		reason = "missing_timestamp"
	}
	f.metrics.RecordDisqualified(reason)
	f.logger.Debug("entity skipped", "entity", entity, "reason", reason, "error", err)
}

// derive adds the configured derived metrics to window. A failing
// definition is logged and left out; the rest of the window is kept.
func (f *Forecaster) derive(window fusion.Window) {
	for _, d := range f.settings.Derived {
		if err := window.Derive(d.Name, d.Eval); err != nil {
			f.metrics.RecordDerivedFailure(forecastEndpoint)
			f.logger.Warn("derived metric failed", "metric", d.Name, "error", err)
		}
	}
}

func (f *Forecaster) publish(ctx context.Context, window fusion.Window) *storage.Snapshot {
	f.version++
	snap := &storage.Snapshot{
		Endpoint:    forecastEndpoint,
		Metric:      f.settings.Fusion.Metric,
		GeneratedAt: f.now().UTC(),
		StepSeconds: int(f.settings.Fusion.Interval / time.Second),
		Version:     f.version,
		Window:      window,
	}
	f.published.Store(snap)
	f.metrics.SetPublished(snap.Version, 0)

	if f.store != nil {
		if err := f.store.Put(ctx, *snap); err != nil {
			f.metrics.RecordError("store", "put_failed")
			f.logger.Error("failed to store published window", "error", err)
		}
	}
	return snap
}
