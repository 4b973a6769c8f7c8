package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordFetch("live", 0.2)
	m.RecordFit(1.5)
	m.RecordCycle("published")
	m.RecordDisqualified("gap_too_large")
	m.SetPublished(3, 0)
	m.SetActiveClients("live", 2)
	m.RecordDerivedFailure("history")
	m.RecordError("source", "fetch_failed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string]*dto.MetricFamily{}
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	for _, name := range []string{
		"crowdsync_source_fetch_seconds",
		"crowdsync_model_fit_seconds",
		"crowdsync_forecast_cycles_total",
		"crowdsync_entities_retrained_total",
		"crowdsync_entities_disqualified_total",
		"crowdsync_forecast_version",
		"crowdsync_active_clients",
		"crowdsync_derived_failures_total",
		"crowdsync_errors_total",
	} {
		if _, ok := byName[name]; !ok {
			t.Errorf("metric %s not gathered", name)
		}
	}

	if v := byName["crowdsync_forecast_version"].GetMetric()[0].GetGauge().GetValue(); v != 3 {
		t.Errorf("forecast version = %v, want 3", v)
	}
	if v := byName["crowdsync_entities_retrained_total"].GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("entities retrained = %v, want 1", v)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.RecordFetch("live", 1)
	m.RecordFit(1)
	m.RecordFuse(1)
	m.RecordCycle("failed")
	m.RecordDisqualified("x")
	m.SetPublished(1, 1)
	m.SetActiveClients("live", 1)
	m.RecordDerivedFailure("live")
	m.RecordError("a", "b")
}
