package adapters

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// InfluxSource reads records from an InfluxDB v2 bucket with Flux queries.
//
// Each Flux row becomes one record: _time is the timestamp, _value the
// value, and the EntityColumn (and optional MetricColumn) name the entity and
// metric. Filters are extra Flux predicates appended as filter(fn: ...)
// stages, e.g. `(r) => r._measurement == "pedestrians"`.
type InfluxSource struct {
	QueryAPI     api.QueryAPI
	Bucket       string
	EntityColumn string
	MetricColumn string
	Filters      []string
	// Every is the aggregation window used when a query does not set one.
	Every time.Duration
	// LatestLookback bounds the range scanned by LatestTimestamp (default 30d).
	LatestLookback time.Duration

	client influxdb2.Client
}

// NewInfluxSource connects a source to the server at url.
func NewInfluxSource(url, token, org, bucket string) *InfluxSource {
	client := influxdb2.NewClient(url, token)
	return &InfluxSource{
		QueryAPI: client.QueryAPI(org),
		Bucket:   bucket,
		client:   client,
	}
}

func (s *InfluxSource) Name() string { return "influxdb" }

// Close releases the underlying client, if the source owns one.
func (s *InfluxSource) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// FetchRange implements Source.
func (s *InfluxSource) FetchRange(ctx context.Context, q Query) ([]timeline.Record, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if q.Every == 0 {
		q.Every = s.Every
	}
	return s.run(ctx, s.rangeQuery(q))
}

// FetchSince implements Source.
func (s *InfluxSource) FetchSince(ctx context.Context, since time.Time) ([]timeline.Record, error) {
	return s.FetchRange(ctx, Query{Start: since})
}

// LatestTimestamp implements LatestTimestamper. It returns the zero time
// when the bucket holds no data in the lookback range.
func (s *InfluxSource) LatestTimestamp(ctx context.Context) (time.Time, error) {
	if err := s.validate(); err != nil {
		return time.Time{}, err
	}

	result, err := s.QueryAPI.Query(ctx, s.lastQuery())
	if err != nil {
		return time.Time{}, fmt.Errorf("influxdb last timestamp: %w", err)
	}
	if result == nil {
		return time.Time{}, nil
	}
	defer result.Close()

	var latest time.Time
	for result.Next() {
		if t := result.Record().Time(); t.After(latest) {
			latest = t
		}
	}
	if result.Err() != nil {
		return time.Time{}, fmt.Errorf("influxdb last timestamp: %w", result.Err())
	}
	return latest.UTC(), nil
}

func (s *InfluxSource) validate() error {
	if s.QueryAPI == nil {
		return errors.New("influxdb source: QueryAPI is required")
	}
	if s.Bucket == "" || s.EntityColumn == "" {
		return errors.New("influxdb source: Bucket and EntityColumn are required")
	}
	return nil
}

func (s *InfluxSource) run(ctx context.Context, flux string) ([]timeline.Record, error) {
	result, err := s.QueryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influxdb query: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	defer result.Close()

	var records []timeline.Record
	for result.Next() {
		records = append(records, s.toRecord(result.Record()))
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("influxdb query: %w", result.Err())
	}
	return records, nil
}

// toRecord converts a Flux row. Rows lacking the entity column produce a
// record with an empty entity, which the indexer rejects and logs.
func (s *InfluxSource) toRecord(rec *query.FluxRecord) timeline.Record {
	r := timeline.Record{
		Timestamp: timeline.FormatTime(rec.Time()),
		Entity:    columnString(rec.ValueByKey(s.EntityColumn)),
	}
	if s.MetricColumn != "" {
		r.Metric = columnString(rec.ValueByKey(s.MetricColumn))
	}
	if v, ok := toFloat(rec.Value()); ok {
		r.Value = timeline.Float(v)
	}
	return r
}

func (s *InfluxSource) rangeQuery(q Query) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", strconv.Quote(s.Bucket))
	fmt.Fprintf(&b, "  |> range(start: %s", q.Start.UTC().Format(time.RFC3339))
	if !q.End.IsZero() {
		// Flux stop is exclusive; include records at End.
		fmt.Fprintf(&b, ", stop: %s", q.End.UTC().Add(time.Second).Format(time.RFC3339))
	}
	b.WriteString(")\n")
	s.writeFilters(&b, q.Entities)
	if q.Every > 0 {
		fmt.Fprintf(&b, "  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)\n", fluxDuration(q.Every))
	}
	return b.String()
}

func (s *InfluxSource) lastQuery() string {
	lookback := s.LatestLookback
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", strconv.Quote(s.Bucket))
	fmt.Fprintf(&b, "  |> range(start: -%s)\n", fluxDuration(lookback))
	s.writeFilters(&b, nil)
	b.WriteString(`  |> keep(columns: ["_time"])` + "\n")
	b.WriteString("  |> group()\n")
	b.WriteString(`  |> sort(columns: ["_time"])` + "\n")
	b.WriteString(`  |> last(column: "_time")` + "\n")
	return b.String()
}

func (s *InfluxSource) writeFilters(b *strings.Builder, entities []string) {
	for _, f := range s.Filters {
		fmt.Fprintf(b, "  |> filter(fn: %s)\n", f)
	}
	if len(entities) > 0 {
		alts := make([]string, len(entities))
		for i, e := range entities {
			alts[i] = "^" + strings.ReplaceAll(regexp.QuoteMeta(e), "/", `\/`) + "$"
		}
		fmt.Fprintf(b, "  |> filter(fn: (r) => r[%s] =~ /%s/)\n", strconv.Quote(s.EntityColumn), strings.Join(alts, "|"))
	}
}

// fluxDuration renders d as a Flux duration literal in whole seconds.
func fluxDuration(d time.Duration) string {
	sec := int64(d / time.Second)
	if sec < 1 {
		sec = 1
	}
	return strconv.FormatInt(sec, 10) + "s"
}

func columnString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
