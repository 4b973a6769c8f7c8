package timeline

import (
	"log/slog"
	"sort"
)

// DefaultMetric is the metric name used for records that carry none.
const DefaultMetric = "value"

// Indexer builds frames from upstream records and logs the records it has
// to skip.
type Indexer struct {
	// Metric names records without a metric. Defaults to DefaultMetric.
	Metric string
	Logger *slog.Logger
}

// NewIndexer returns an Indexer that files metric-less records under metric.
func NewIndexer(metric string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	if metric == "" {
		metric = DefaultMetric
	}
	return &Indexer{Metric: metric, Logger: logger}
}

// Index builds a frame from records. Malformed records are skipped and
// logged; they never abort the rest of the batch.
func (ix *Indexer) Index(records []Record) Frame {
	frame, errs := index(records, ix.Metric)
	logger := ix.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, err := range errs {
		logger.Warn("skipping malformed record", "error", err)
	}
	if len(errs) > 0 {
		logger.Debug("indexed records",
			"records", len(records),
			"skipped", len(errs),
			"timestamps", frame.Len(),
		)
	}
	return frame
}

// Index is the pure form of Indexer.Index: it returns the frame together
// with one error per skipped record.
func Index(records []Record) (Frame, []error) {
	return index(records, DefaultMetric)
}

func index(records []Record, defaultMetric string) (Frame, []error) {
	var errs []error
	valid := make([]Record, 0, len(records))
	seen := make(map[string]struct{})
	named := false

	for _, r := range records {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if r.Metric == "" {
			r.Metric = defaultMetric
		} else {
			named = true
		}
		seen[r.Timestamp] = struct{}{}
		valid = append(valid, r)
	}

	// The axis is sorted once, after every timestamp is known. Positions
	// come from the final axis, never from first-seen order.
	axis := make([]string, 0, len(seen))
	for ts := range seen {
		axis = append(axis, ts)
	}
	sort.Strings(axis)

	pos := make(map[string]int, len(axis))
	for i, ts := range axis {
		pos[ts] = i
	}

	values := MetricSeries{}
	for _, r := range valid {
		es, ok := values[r.Metric]
		if !ok {
			es = EntitySeries{}
			values[r.Metric] = es
		}
		s, ok := es[r.Entity]
		if !ok {
			s = make(Series, len(axis))
			es[r.Entity] = s
		}
		s[pos[r.Timestamp]] = r.Value
	}

	return Frame{Timestamps: axis, Values: values, Flat: !named}, errs
}
