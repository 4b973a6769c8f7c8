// Package adapters provides the upstream data sources that feed the sync
// and forecast engine. Every source returns flat timeline records; dense
// indexing is left to the timeline package.
//
// Available sources:
//   - InfluxSource: Flux queries through the InfluxDB v2 client
//   - PrometheusSource: /api/v1/query_range on Prometheus
//   - VictoriaMetricsSource: the same API on VictoriaMetrics
//   - HTTPSource: any JSON REST API, extracted with gjson paths
//   - OpenDataSoftSource: paged OpenDataSoft dataset records
//   - StaticSource: a JSON file on disk
//
// Sources are selected once at startup by kind (see New) and are not
// re-resolved per request.
package adapters

import (
	"context"
	"time"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// Query describes a range fetch.
type Query struct {
	Start time.Time
	// End is inclusive. A zero End means "now".
	End time.Time
	// Every is the aggregation window. Zero returns raw points where the
	// backend allows it.
	Every time.Duration
	// Entities restricts the result to these entity ids. Empty means all.
	Entities []string
}

// Source is implemented by every upstream connector.
//
// Calls are synchronous and must respect context cancellation. A source
// never panics on bad upstream data; records it cannot interpret are either
// dropped with an error or passed on for the indexer to reject.
type Source interface {
	// FetchRange returns the records in [q.Start, q.End].
	FetchRange(ctx context.Context, q Query) ([]timeline.Record, error)

	// FetchSince returns every record at or after since.
	FetchSince(ctx context.Context, since time.Time) ([]timeline.Record, error)

	// Name returns a short identifier such as "influxdb" or "http".
	Name() string
}

// LatestTimestamper is implemented by sources that can cheaply report the
// newest timestamp they hold. Live polling uses it to skip clients that are
// not yet due.
type LatestTimestamper interface {
	LatestTimestamp(ctx context.Context) (time.Time, error)
}

// filterEntities keeps only records whose entity is listed. An empty list
// keeps everything.
func filterEntities(records []timeline.Record, entities []string) []timeline.Record {
	if len(entities) == 0 {
		return records
	}
	keep := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		keep[e] = struct{}{}
	}
	out := records[:0]
	for _, r := range records {
		if _, ok := keep[r.Entity]; ok {
			out = append(out, r)
		}
	}
	return out
}

func endOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC().Truncate(time.Second)
	}
	return t.UTC()
}

func stepOr(every time.Duration, stepSeconds int) int {
	if every > 0 {
		return int(every.Seconds())
	}
	if stepSeconds > 0 {
		return stepSeconds
	}
	return 60
}
