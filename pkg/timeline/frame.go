package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Series is a dense sequence of optional values, one per axis slot.
type Series []*float64

// MarshalJSON writes nil and non-finite values as null.
func (s Series) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(*v, 'f', -1, 64))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// EntitySeries maps an entity id to its dense series.
type EntitySeries map[string]Series

// MetricSeries maps a metric name to its entity series.
type MetricSeries map[string]EntitySeries

// Frame is the indexed form of one fetch: a sorted axis plus, per metric and
// entity, a series of exactly len(Timestamps) slots.
type Frame struct {
	Timestamps []string
	Values     MetricSeries
	// Flat marks frames built from a single-metric source. A flat frame with
	// one metric serializes its values as {entity: [...]}.
	Flat bool
}

// NewFrame returns an empty frame.
func NewFrame() Frame {
	return Frame{Timestamps: []string{}, Values: MetricSeries{}}
}

type frameJSON struct {
	Timestamps []string `json:"timestamps"`
	Values     any      `json:"values"`
}

// MarshalJSON implements json.Marshaler.
func (f Frame) MarshalJSON() ([]byte, error) {
	out := frameJSON{Timestamps: f.Timestamps, Values: f.Values}
	if out.Timestamps == nil {
		out.Timestamps = []string{}
	}
	if f.Values == nil {
		out.Values = MetricSeries{}
	}
	if f.Flat && len(f.Values) == 1 {
		for _, es := range f.Values {
			out.Values = es
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts both the nested {metric: {entity: [...]}} and the
// flat {entity: [...]} value layouts. Flat values are stored under metric.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamps []string        `json:"timestamps"`
		Values     json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Timestamps = raw.Timestamps
	f.Values = MetricSeries{}
	f.Flat = false
	if len(raw.Values) == 0 || string(raw.Values) == "null" {
		return nil
	}

	var nested MetricSeries
	if err := json.Unmarshal(raw.Values, &nested); err == nil {
		f.Values = nested
		return nil
	}
	var flat EntitySeries
	if err := json.Unmarshal(raw.Values, &flat); err != nil {
		return fmt.Errorf("decode frame values: %w", err)
	}
	f.Values[DefaultMetric] = flat
	f.Flat = true
	return nil
}

// Len returns the axis length.
func (f Frame) Len() int { return len(f.Timestamps) }

// Empty reports whether the frame has no timestamps.
func (f Frame) Empty() bool { return len(f.Timestamps) == 0 }

// Last returns the newest axis timestamp, or "" for an empty frame.
func (f Frame) Last() string {
	if len(f.Timestamps) == 0 {
		return ""
	}
	return f.Timestamps[len(f.Timestamps)-1]
}

// DropLast returns the frame without its newest timestamp.
func (f Frame) DropLast() Frame {
	if len(f.Timestamps) == 0 {
		return f
	}
	return f.window(0, len(f.Timestamps)-1)
}

// From returns the suffix of the frame whose timestamps are at or after ts.
func (f Frame) From(ts string) Frame {
	i := sort.SearchStrings(f.Timestamps, ts)
	return f.window(i, len(f.Timestamps))
}

// After returns the suffix of the frame whose timestamps are strictly after ts.
func (f Frame) After(ts string) Frame {
	i := sort.Search(len(f.Timestamps), func(i int) bool { return f.Timestamps[i] > ts })
	return f.window(i, len(f.Timestamps))
}

func (f Frame) window(lo, hi int) Frame {
	out := Frame{
		Timestamps: f.Timestamps[lo:hi:hi],
		Values:     make(MetricSeries, len(f.Values)),
		Flat:       f.Flat,
	}
	for metric, es := range f.Values {
		cut := make(EntitySeries, len(es))
		for entity, s := range es {
			cut[entity] = s[lo:hi:hi]
		}
		out.Values[metric] = cut
	}
	return out
}

// Metrics returns the sorted metric names present in the frame.
func (f Frame) Metrics() []string {
	out := make([]string, 0, len(f.Values))
	for m := range f.Values {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Entities returns the sorted entity ids present under metric.
func (f Frame) Entities(metric string) []string {
	es := f.Values[metric]
	out := make([]string, 0, len(es))
	for e := range es {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns entity -> timestamp -> value for one metric, skipping
// empty slots.
func (f Frame) Snapshot(metric string) map[string]map[string]float64 {
	es := f.Values[metric]
	out := make(map[string]map[string]float64, len(es))
	for entity, s := range es {
		points := make(map[string]float64)
		for i, v := range s {
			if v != nil && i < len(f.Timestamps) {
				points[f.Timestamps[i]] = *v
			}
		}
		if len(points) > 0 {
			out[entity] = points
		}
	}
	return out
}

// Records flattens the frame back into records, skipping empty slots.
func (f Frame) Records() []Record {
	var out []Record
	for _, metric := range f.Metrics() {
		name := metric
		if f.Flat {
			name = ""
		}
		for _, entity := range f.Entities(metric) {
			for i, v := range f.Values[metric][entity] {
				if v == nil || i >= len(f.Timestamps) {
					continue
				}
				out = append(out, Record{
					Timestamp: f.Timestamps[i],
					Entity:    entity,
					Metric:    name,
					Value:     Float(*v),
				})
			}
		}
	}
	return out
}
