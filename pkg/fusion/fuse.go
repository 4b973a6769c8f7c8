package fusion

import (
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/models"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// Window is a fused output: a timestamp axis and, per metric and entity,
// one Point per timestamp. Series are right-aligned with the axis; an
// entity with less history is padded with empty points at the front.
type Window struct {
	Timestamps []string                       `json:"timestamps"`
	Values     map[string]map[string][]Point `json:"values"`
}

// Len returns the number of timestamps.
func (w Window) Len() int { return len(w.Timestamps) }

// Entities returns the sorted entities of metric.
func (w Window) Entities(metric string) []string {
	out := make([]string, 0, len(w.Values[metric]))
	for e := range w.Values[metric] {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON writes empty collections instead of null.
func (w Window) MarshalJSON() ([]byte, error) {
	type plain Window
	out := plain(w)
	if out.Timestamps == nil {
		out.Timestamps = []string{}
	}
	if out.Values == nil {
		out.Values = map[string]map[string][]Point{}
	}
	return json.Marshal(out)
}

// Fuse builds the window for one cycle.
//
// For every entity present in real that also has forecast rows, the
// entity's real values (sorted by timestamp) are followed by its rows. The
// axis is realTimestamps followed by MinSteps synthesized timestamps spaced
// by Interval. Axis and series are then cut to the last OutputLength
// entries, dropping the oldest real values first. Entities without rows
// are omitted.
func Fuse(real map[string]map[string]float64, forecasts map[string][]models.Quantiles, realTimestamps []string, cfg Config) (Window, error) {
	w := Window{
		Timestamps: []string{},
		Values:     map[string]map[string][]Point{cfg.Metric: {}},
	}
	if len(realTimestamps) == 0 {
		return w, nil
	}

	last, err := timeline.ParseTime(realTimestamps[len(realTimestamps)-1])
	if err != nil {
		return Window{}, err
	}

	axis := make([]string, 0, len(realTimestamps)+cfg.MinSteps)
	axis = append(axis, realTimestamps...)
	for i := 1; i <= cfg.MinSteps; i++ {
		axis = append(axis, timeline.FormatTime(last.Add(cfg.Interval*time.Duration(i))))
	}
	w.Timestamps = lastN(axis, cfg.OutputLength)
	n := len(w.Timestamps)

	for entity, byTS := range real {
		rows := forecasts[entity]
		if len(rows) == 0 {
			continue
		}
		_, values := Sorted(byTS)

		seq := make([]Point, 0, len(values)+len(rows))
		for _, v := range values {
			seq = append(seq, RealPoint(v))
		}
		for _, row := range rows {
			seq = append(seq, ForecastPoint(row))
		}

		seq = lastN(seq, n)
		if pad := n - len(seq); pad > 0 {
			seq = append(make([]Point, pad), seq...)
		}
		w.Values[cfg.Metric][entity] = seq
	}
	return w, nil
}

// Frame reduces the window to single values, taking the given quantile
// position from every forecast row.
func (w Window) Frame(level int) timeline.Frame {
	f := timeline.NewFrame()
	f.Timestamps = slices.Clone(w.Timestamps)
	for metric, byEntity := range w.Values {
		es := make(timeline.EntitySeries, len(byEntity))
		for entity, points := range byEntity {
			s := make(timeline.Series, len(points))
			for i, p := range points {
				s[i] = p.At(level)
			}
			es[entity] = s
		}
		f.Values[metric] = es
	}
	return f
}

// Derive adds metric name computed by eval. eval runs once per quantile
// position over Frame(level); slots where any input metric holds a
// forecast row become rows built from the five results, other slots take
// the median result. A derived row is sorted so min <= ... <= max still
// holds.
func (w Window) Derive(name string, eval func(timeline.Frame) (timeline.EntitySeries, error)) error {
	if w.Values == nil {
		return errors.New("window has no values")
	}
	var levels [len(levelQuantiles)]timeline.EntitySeries
	for level := range levels {
		res, err := eval(w.Frame(level))
		if err != nil {
			return err
		}
		levels[level] = res
	}

	out := make(map[string][]Point, len(levels[models.Median]))
	for entity, median := range levels[models.Median] {
		points := make([]Point, len(median))
		for i := range median {
			if !w.forecastAt(entity, i) {
				if median[i] != nil {
					points[i] = RealPoint(*median[i])
				}
				continue
			}
			var row models.Quantiles
			complete := true
			for level := range levels {
				s := levels[level][entity]
				if i >= len(s) || s[i] == nil {
					complete = false
					break
				}
				row[level] = *s[i]
			}
			if complete {
				slices.Sort(row[:])
				points[i] = ForecastPoint(row)
			}
		}
		out[entity] = points
	}
	w.Values[name] = out
	return nil
}

func (w Window) forecastAt(entity string, i int) bool {
	for _, byEntity := range w.Values {
		if points := byEntity[entity]; i < len(points) && points[i].IsForecast() {
			return true
		}
	}
	return false
}

func lastN[T any](xs []T, n int) []T {
	if n >= 0 && len(xs) > n {
		return xs[len(xs)-n:]
	}
	return xs
}
