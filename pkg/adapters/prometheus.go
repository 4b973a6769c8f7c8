package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// PrometheusSource fetches time-series data from the Prometheus HTTP API.
// It issues /api/v1/query_range calls and turns every returned series into
// records keyed by the value of EntityLabel.
//
// Series that share an entity (and metric) are SUMMED per timestamp. With no
// EntityLabel every series collapses into the single entity "total".
type PrometheusSource struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate.
	Query string
	// EntityLabel names the label that identifies the entity, e.g. "location".
	EntityLabel string
	// MetricLabel optionally names the label that identifies the metric.
	MetricLabel string
	// StepSeconds is the default resolution (60s if <= 0).
	StepSeconds int
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusSource) Name() string { return "prometheus" }

// FetchRange implements Source.
func (p *PrometheusSource) FetchRange(ctx context.Context, q Query) ([]timeline.Record, error) {
	if p.ServerURL == "" || p.Query == "" {
		return nil, errors.New("prometheus source: ServerURL and Query are required")
	}
	series, err := queryRange(ctx, p.HTTPClient, p.ServerURL, p.Query, q, p.StepSeconds, "prometheus")
	if err != nil {
		return nil, err
	}
	records, err := AggregateRangeResult(series, p.EntityLabel, p.MetricLabel)
	if err != nil {
		return nil, err
	}
	return filterEntities(records, q.Entities), nil
}

// FetchSince implements Source.
func (p *PrometheusSource) FetchSince(ctx context.Context, since time.Time) ([]timeline.Record, error) {
	return p.FetchRange(ctx, Query{Start: since})
}

// queryRange runs a query_range call against a Prometheus-compatible API.
func queryRange(ctx context.Context, cli *http.Client, serverURL, query string, q Query, stepSeconds int, backend string) ([]PrometheusRangeSerie, error) {
	end := endOrNow(q.End)
	start := q.Start.UTC()
	if !start.Before(end) {
		return nil, nil
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query_range"

	params := u.Query()
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("step", strconv.Itoa(stepOr(q.Every, stepSeconds)))
	u.RawQuery = params.Encode()

	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", backend, resp.StatusCode)
	}

	var pr PrometheusRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", backend, err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("%s status: %s", backend, pr.Status)
	}
	return pr.Data.Result, nil
}

// PrometheusRangeResponse represents the response from Prometheus (and compatible systems).
type PrometheusRangeResponse struct {
	Status string              `json:"status"`
	Data   PrometheusRangeData `json:"data"`
}

// PrometheusRangeData contains the result data from a range query.
type PrometheusRangeData struct {
	ResultType string                 `json:"resultType"`
	Result     []PrometheusRangeSerie `json:"result"`
}

// PrometheusRangeSerie represents a single time series in the result.
type PrometheusRangeSerie struct {
	Metric map[string]string `json:"metric"`
	// Values is an array of [ <unix_time_float>, "<value_string>" ]
	Values [][]any `json:"values"`
}

// AggregateRangeResult converts range series into records, summing values
// that share timestamp, entity and metric.
func AggregateRangeResult(series []PrometheusRangeSerie, entityLabel, metricLabel string) ([]timeline.Record, error) {
	type key struct {
		ts             int64
		entity, metric string
	}
	acc := make(map[key]float64)
	order := make([]key, 0)

	for _, s := range series {
		entity := "total"
		if entityLabel != "" {
			entity = s.Metric[entityLabel]
		}
		metric := ""
		if metricLabel != "" {
			metric = s.Metric[metricLabel]
		}

		for _, pair := range s.Values {
			if len(pair) != 2 {
				return nil, fmt.Errorf("invalid value pair length: %d", len(pair))
			}

			var tsSec int64
			switch v := pair[0].(type) {
			case float64:
				tsSec = int64(v)
			case json.Number:
				f, _ := v.Float64()
				tsSec = int64(f)
			default:
				return nil, fmt.Errorf("unexpected timestamp type %T", v)
			}

			var val float64
			switch vv := pair[1].(type) {
			case string:
				f, err := strconv.ParseFloat(vv, 64)
				if err != nil {
					return nil, fmt.Errorf("parse value: %w", err)
				}
				val = f
			case float64:
				val = vv
			case json.Number:
				f, _ := vv.Float64()
				val = f
			default:
				return nil, fmt.Errorf("unexpected value type %T", vv)
			}

			k := key{ts: tsSec, entity: entity, metric: metric}
			if _, ok := acc[k]; !ok {
				order = append(order, k)
			}
			acc[k] += val
		}
	}

	records := make([]timeline.Record, 0, len(order))
	for _, k := range order {
		records = append(records, timeline.Record{
			Timestamp: timeline.FormatTime(time.Unix(k.ts, 0)),
			Entity:    k.entity,
			Metric:    k.metric,
			Value:     timeline.Float(acc[k]),
		})
	}
	return records, nil
}
