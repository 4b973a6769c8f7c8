// Package fusion merges accepted real values with stored forecast quantile
// rows into one fixed-length window that slides with wall-clock time.
package fusion

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// Disqualification reasons. They are normal skips, not failures.
var (
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrGapTooLarge         = errors.New("gap to latest timestamp too large")
	ErrMissingTimestamp    = errors.New("missing timestamp in series")
)

// Config holds the window parameters for one forecasting endpoint.
type Config struct {
	// Metric names the fused series in the output.
	Metric string
	// Interval is the spacing between consecutive timestamps.
	Interval time.Duration
	// MinSteps is how far past the latest real timestamp every entity is
	// forecast.
	MinSteps int
	// OutputLength is the number of timestamps in the window.
	OutputLength int
	// MinHistory is the fewest real points an entity needs to be forecast.
	MinHistory int
	// MaxGap is how far an entity's last point may trail the global latest
	// timestamp. Zero disables the check.
	MaxGap time.Duration
}

// DefaultConfig returns hourly data forecast two days ahead in a four-day
// window.
func DefaultConfig() Config {
	return Config{
		Metric:       "total_of_directions",
		Interval:     time.Hour,
		MinSteps:     48,
		OutputLength: 96,
		MinHistory:   48,
		MaxGap:       24 * time.Hour,
	}
}

// Validate checks the window parameters are consistent.
func (c Config) Validate() error {
	if c.Metric == "" {
		return errors.New("metric is required")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be > 0")
	}
	if c.MinSteps <= 0 {
		return errors.New("min steps must be > 0")
	}
	if c.OutputLength <= c.MinSteps {
		return fmt.Errorf("output length (%d) must be greater than min steps (%d)", c.OutputLength, c.MinSteps)
	}
	if c.MinHistory < 0 || c.MaxGap < 0 {
		return errors.New("min history and max gap must be >= 0")
	}
	return nil
}

// Qualify reports whether an entity can be forecast. timestamps are the
// entity's own sorted real timestamps and globalLast the newest timestamp
// across all entities. The returned error wraps one of the sentinels.
func Qualify(timestamps []string, globalLast string, cfg Config) error {
	if len(timestamps) == 0 || len(timestamps) < cfg.MinHistory {
		return fmt.Errorf("%w: have %d points, need %d", ErrInsufficientHistory, len(timestamps), cfg.MinHistory)
	}

	last, err := timeline.ParseTime(timestamps[len(timestamps)-1])
	if err != nil {
		return err
	}
	global, err := timeline.ParseTime(globalLast)
	if err != nil {
		return err
	}
	if gap := global.Sub(last); cfg.MaxGap > 0 && gap > cfg.MaxGap {
		return fmt.Errorf("%w: last point %s trails %s by %s", ErrGapTooLarge, timestamps[len(timestamps)-1], globalLast, gap)
	}

	prev, err := timeline.ParseTime(timestamps[0])
	if err != nil {
		return err
	}
	for _, ts := range timestamps[1:] {
		cur, err := timeline.ParseTime(ts)
		if err != nil {
			return err
		}
		if cur.Sub(prev) > cfg.Interval {
			return fmt.Errorf("%w: between %s and %s", ErrMissingTimestamp, timeline.FormatTime(prev), ts)
		}
		prev = cur
	}
	return nil
}

// StepsToForecast returns how many rows an entity needs so its forecast
// reaches MinSteps past globalLast. Entities trailing the global latest
// timestamp get the gap, in whole intervals, added on top.
func StepsToForecast(entityLast, globalLast string, cfg Config) (int, error) {
	last, err := timeline.ParseTime(entityLast)
	if err != nil {
		return 0, err
	}
	global, err := timeline.ParseTime(globalLast)
	if err != nil {
		return 0, err
	}
	gap := global.Sub(last)
	if gap < 0 {
		gap = 0
	}
	return int(gap/cfg.Interval) + cfg.MinSteps, nil
}

// Sorted returns the timestamps of byTS in order with the matching values.
func Sorted(byTS map[string]float64) ([]string, []float64) {
	timestamps := make([]string, 0, len(byTS))
	for ts := range byTS {
		timestamps = append(timestamps, ts)
	}
	sort.Strings(timestamps)

	values := make([]float64, len(timestamps))
	for i, ts := range timestamps {
		values[i] = byTS[ts]
	}
	return timestamps, values
}
