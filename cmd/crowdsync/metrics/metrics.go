// Package metrics provides Prometheus instrumentation for the service.
//
// Metrics exposed:
//   - crowdsync_source_fetch_seconds: upstream fetch duration by endpoint
//   - crowdsync_model_fit_seconds: duration of one entity's model fit
//   - crowdsync_fuse_seconds: duration of window fusion and derived metrics
//   - crowdsync_forecast_age_seconds: age of the published forecast window
//   - crowdsync_forecast_version: version of the published forecast window
//   - crowdsync_forecast_cycles_total: polling cycles by outcome
//   - crowdsync_entities_retrained_total: entities refit
//   - crowdsync_entities_disqualified_total: entities skipped by reason
//   - crowdsync_active_clients: tracked live and forecast clients
//   - crowdsync_derived_failures_total: failed derived metric evaluations
//   - crowdsync_errors_total: errors by component and reason
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service collectors.
type Metrics struct {
	FetchSeconds         *prometheus.HistogramVec
	FitSeconds           prometheus.Histogram
	FuseSeconds          prometheus.Histogram
	ForecastAgeSeconds   prometheus.Gauge
	ForecastVersion      prometheus.Gauge
	CyclesTotal          *prometheus.CounterVec
	EntitiesRetrained    prometheus.Counter
	EntitiesDisqualified *prometheus.CounterVec
	ActiveClients        *prometheus.GaugeVec
	DerivedFailuresTotal *prometheus.CounterVec
	ErrorsTotal          *prometheus.CounterVec
}

// New registers the collectors with reg, or with the default registry when
// reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		FetchSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crowdsync_source_fetch_seconds",
			Help:    "Time spent fetching records from the upstream source",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		FitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crowdsync_model_fit_seconds",
			Help:    "Time spent fitting and simulating one entity",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		FuseSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "crowdsync_fuse_seconds",
			Help:    "Time spent fusing the forecast window and evaluating derived metrics",
			Buckets: prometheus.DefBuckets,
		}),

		ForecastAgeSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "crowdsync_forecast_age_seconds",
			Help: "Age of the published forecast window in seconds",
		}),

		ForecastVersion: f.NewGauge(prometheus.GaugeOpts{
			Name: "crowdsync_forecast_version",
			Help: "Version of the published forecast window",
		}),

		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdsync_forecast_cycles_total",
			Help: "Forecast polling cycles by outcome (published, skipped, failed)",
		}, []string{"outcome"}),

		EntitiesRetrained: f.NewCounter(prometheus.CounterOpts{
			Name: "crowdsync_entities_retrained_total",
			Help: "Entities refit by the forecast loop",
		}),

		EntitiesDisqualified: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdsync_entities_disqualified_total",
			Help: "Entities skipped by the forecast loop, by reason",
		}, []string{"reason"}),

		ActiveClients: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crowdsync_active_clients",
			Help: "Clients currently tracked, by endpoint",
		}, []string{"endpoint"}),

		DerivedFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdsync_derived_failures_total",
			Help: "Derived metric evaluations that failed, by endpoint",
		}, []string{"endpoint"}),

		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crowdsync_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// The recording helpers below accept a nil receiver so callers can run
// without instrumentation.

// RecordFetch records an upstream fetch for endpoint.
func (m *Metrics) RecordFetch(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchSeconds.WithLabelValues(endpoint).Observe(seconds)
}

// RecordFit records one entity fit.
func (m *Metrics) RecordFit(seconds float64) {
	if m == nil {
		return
	}
	m.FitSeconds.Observe(seconds)
	m.EntitiesRetrained.Inc()
}

// RecordFuse records window fusion time.
func (m *Metrics) RecordFuse(seconds float64) {
	if m == nil {
		return
	}
	m.FuseSeconds.Observe(seconds)
}

// RecordCycle counts a polling cycle outcome.
func (m *Metrics) RecordCycle(outcome string) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
}

// RecordDisqualified counts a skipped entity.
func (m *Metrics) RecordDisqualified(reason string) {
	if m == nil {
		return
	}
	m.EntitiesDisqualified.WithLabelValues(reason).Inc()
}

// SetPublished updates the published window gauges.
func (m *Metrics) SetPublished(version uint64, ageSeconds float64) {
	if m == nil {
		return
	}
	m.ForecastVersion.Set(float64(version))
	m.ForecastAgeSeconds.Set(ageSeconds)
}

// SetActiveClients sets the tracked client count of endpoint.
func (m *Metrics) SetActiveClients(endpoint string, n int) {
	if m == nil {
		return
	}
	m.ActiveClients.WithLabelValues(endpoint).Set(float64(n))
}

// RecordDerivedFailure counts a failed derived metric evaluation.
func (m *Metrics) RecordDerivedFailure(endpoint string) {
	if m == nil {
		return
	}
	m.DerivedFailuresTotal.WithLabelValues(endpoint).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
