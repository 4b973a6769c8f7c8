// Package router configures the HTTP routes of the crowdsync service.
//
// Routes configured:
//   - GET /live?client_id=<id>           - incremental sync of recent data
//   - GET /history?start=&end=&every=&entities=a,b - one-shot range query
//   - GET /forecast?client_id=<id>&level=p50       - fused real + forecast window
//   - GET /healthz                       - 503 when the forecast window is stale
//   - GET /metrics                       - Prometheus metrics
//
// Endpoints that are not configured are not registered. A first request
// without client_id receives a fresh id in the response body; later
// requests carrying it receive only what the client has not seen.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/cmd/crowdsync/config"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/cmd/crowdsync/metrics"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/adapters"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/cursor"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/derived"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/fusion"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/httpx"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/storage"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// StaleHeader is set on forecast responses older than the stale threshold.
const StaleHeader = "X-Crowdsync-Stale"

// Live serves the incremental sync endpoint.
type Live struct {
	Cursors *cursor.Store
	Derived []derived.Definition
}

// History serves one-shot range queries.
type History struct {
	Source  adapters.Source
	Indexer *timeline.Indexer
	// Interval is the default aggregation step.
	Interval time.Duration
	// MaxRange caps end - start. Zero means no cap.
	MaxRange time.Duration
	Derived  []derived.Definition
}

// Forecast serves the published fused window.
type Forecast struct {
	// Published returns the current window, nil before the first publish.
	Published func() *storage.Snapshot
	Versions  *cursor.Versions
}

// Config wires the routes. Nil endpoints are not registered.
type Config struct {
	Live     *Live
	History  *History
	Forecast *Forecast

	// StaleAfter marks the forecast window stale. Zero disables the check.
	StaleAfter time.Duration
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// SetupRoutes configures the HTTP endpoints.
func SetupRoutes(cfg Config) *http.ServeMux {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mux := http.NewServeMux()

	var published func() *storage.Snapshot
	if cfg.Forecast != nil {
		published = cfg.Forecast.Published
	}
	mux.Handle("/healthz", httpx.HealthHandlerWithCheck(FreshnessCheck(published, cfg.StaleAfter, time.Now)))

	if cfg.Live != nil {
		mux.HandleFunc("GET /live", handleLive(cfg.Live, cfg.Metrics, cfg.Logger))
	}
	if cfg.History != nil {
		mux.HandleFunc("GET /history", handleHistory(cfg.History, cfg.Metrics, cfg.Logger))
	}
	if cfg.Forecast != nil {
		mux.HandleFunc("GET /forecast", handleForecast(cfg.Forecast, cfg.StaleAfter, cfg.Metrics, cfg.Logger))
	}

	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// FreshnessCheck fails when the published window is older than staleAfter.
// Nothing published yet is not an error: the first cycle may still be
// running. A nil published or zero staleAfter always passes.
func FreshnessCheck(published func() *storage.Snapshot, staleAfter time.Duration, now func() time.Time) func() error {
	return func() error {
		if published == nil || staleAfter <= 0 {
			return nil
		}
		snap := published()
		if snap == nil {
			return nil
		}
		if age := now().Sub(snap.GeneratedAt); age > staleAfter {
			return fmt.Errorf("forecast window is stale: generated %s ago", age.Truncate(time.Second))
		}
		return nil
	}
}

func handleLive(ep *Live, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		delta, err := ep.Cursors.Sync(r.Context(), r.URL.Query().Get("client_id"))
		if err != nil {
			logger.Error("live sync failed", "error", err)
			m.RecordError("live", "fetch_failed")
			httpx.WriteErrorMessage(w, http.StatusBadGateway, "upstream fetch failed")
			return
		}
		m.RecordFetch("live", time.Since(start).Seconds())
		m.SetActiveClients("live", ep.Cursors.Len())

		if !delta.Frame.Empty() {
			applyDerived(&delta.Frame, ep.Derived, "live", m, logger)
		}
		if err := httpx.WriteJSON(w, http.StatusOK, delta); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleHistory(ep *History, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseHistoryQuery(r, ep, time.Now())
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		start := time.Now()
		records, err := ep.Source.FetchRange(ctx, q)
		if err != nil {
			logger.Error("history fetch failed", "error", err, "start", q.Start, "end", q.End)
			m.RecordError("history", "fetch_failed")
			httpx.WriteErrorMessage(w, http.StatusBadGateway, "upstream fetch failed")
			return
		}
		m.RecordFetch("history", time.Since(start).Seconds())

		frame := ep.Indexer.Index(records)
		if !frame.Empty() {
			applyDerived(&frame, ep.Derived, "history", m, logger)
		}
		if err := httpx.WriteJSON(w, http.StatusOK, frame); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func parseHistoryQuery(r *http.Request, ep *History, now time.Time) (adapters.Query, error) {
	params := r.URL.Query()

	raw := params.Get("start")
	if raw == "" {
		return adapters.Query{}, errors.New("start parameter required")
	}
	start, err := timeline.ParseTime(raw)
	if err != nil {
		return adapters.Query{}, fmt.Errorf("invalid start: %w", err)
	}

	end := now.UTC()
	if raw := params.Get("end"); raw != "" {
		if end, err = timeline.ParseTime(raw); err != nil {
			return adapters.Query{}, fmt.Errorf("invalid end: %w", err)
		}
	}
	if !end.After(start) {
		return adapters.Query{}, errors.New("end must be after start")
	}
	if ep.MaxRange > 0 && end.Sub(start) > ep.MaxRange {
		return adapters.Query{}, fmt.Errorf("range %s exceeds the maximum of %s", end.Sub(start), ep.MaxRange)
	}

	every := ep.Interval
	if raw := params.Get("every"); raw != "" {
		if every, err = config.ParseDuration(raw); err != nil {
			return adapters.Query{}, fmt.Errorf("invalid every: %w", err)
		}
		if every <= 0 {
			return adapters.Query{}, errors.New("every must be > 0")
		}
	}

	var entities []string
	for _, e := range strings.Split(params.Get("entities"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			entities = append(entities, e)
		}
	}
	return adapters.Query{Start: start, End: end, Every: every, Entities: entities}, nil
}

func handleForecast(ep *Forecast, staleAfter time.Duration, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		level := -1
		if raw := params.Get("level"); raw != "" {
			l, err := fusion.ParseLevel(raw)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err)
				return
			}
			level = l
		}

		snap := ep.Published()
		var version uint64
		if snap != nil {
			version = snap.Version
		}
		id, isNew, fresh := ep.Versions.Check(params.Get("client_id"), version)
		m.SetActiveClients("forecast", ep.Versions.Len())

		resp := map[string]any{}
		if isNew {
			resp["client_id"] = id
		}
		if snap != nil {
			w.Header().Set("X-Crowdsync-Version", strconv.FormatUint(snap.Version, 10))
			if staleAfter > 0 && time.Since(snap.GeneratedAt) > staleAfter {
				w.Header().Set(StaleHeader, "true")
			}
			if fresh {
				writeWindow(resp, snap.Window, level)
			}
		}

		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// writeWindow adds timestamps and values to resp. A level >= 0 reduces
// forecast rows to that quantile.
func writeWindow(resp map[string]any, window fusion.Window, level int) {
	if level >= 0 {
		frame := window.Frame(level)
		resp["timestamps"] = frame.Timestamps
		resp["values"] = frame.Values
		return
	}
	timestamps, values := window.Timestamps, window.Values
	if timestamps == nil {
		timestamps = []string{}
	}
	if values == nil {
		values = map[string]map[string][]fusion.Point{}
	}
	resp["timestamps"] = timestamps
	resp["values"] = values
}

func applyDerived(f *timeline.Frame, defs []derived.Definition, endpoint string, m *metrics.Metrics, logger *slog.Logger) {
	if len(defs) == 0 {
		return
	}
	if err := derived.ApplyAll(f, defs); err != nil {
		m.RecordDerivedFailure(endpoint)
		logger.Warn("derived metrics failed", "endpoint", endpoint, "error", err)
	}
}
