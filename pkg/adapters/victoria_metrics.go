package adapters

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// VictoriaMetricsSource fetches time-series data from VictoriaMetrics via its
// Prometheus-compatible HTTP API. Series are grouped exactly like
// PrometheusSource does.
type VictoriaMetricsSource struct {
	// ServerURL is the base URL to VictoriaMetrics, e.g. http://victoria-metrics:8428
	ServerURL string
	// Query is the MetricsQL/PromQL expression to evaluate.
	Query       string
	EntityLabel string
	MetricLabel string
	// StepSeconds is the default resolution (60s if <= 0).
	StepSeconds int
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (v *VictoriaMetricsSource) Name() string { return "victoria-metrics" }

// FetchRange implements Source.
func (v *VictoriaMetricsSource) FetchRange(ctx context.Context, q Query) ([]timeline.Record, error) {
	if v.ServerURL == "" || v.Query == "" {
		return nil, errors.New("victoria metrics source: ServerURL and Query are required")
	}
	series, err := queryRange(ctx, v.HTTPClient, v.ServerURL, v.Query, q, v.StepSeconds, "victoria metrics")
	if err != nil {
		return nil, err
	}
	records, err := AggregateRangeResult(series, v.EntityLabel, v.MetricLabel)
	if err != nil {
		return nil, err
	}
	return filterEntities(records, q.Entities), nil
}

// FetchSince implements Source.
func (v *VictoriaMetricsSource) FetchSince(ctx context.Context, since time.Time) ([]timeline.Record, error) {
	return v.FetchRange(ctx, Query{Start: since})
}
