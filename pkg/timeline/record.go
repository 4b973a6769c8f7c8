// Package timeline turns sparse, unordered upstream records into dense
// per-entity series aligned to one sorted timestamp axis.
//
// Upstream sources return (timestamp, entity, metric, value) tuples in no
// particular order and with arbitrary holes. The indexer collects every
// distinct timestamp, sorts the set once, and places each value at the
// position of its timestamp in that final axis. Slots without data hold an
// explicit nil so every series has exactly the axis length.
package timeline

import (
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the canonical timestamp form used on every axis. All axis
// timestamps are UTC with second precision, so lexicographic order is
// chronological order.
const TimeLayout = "2006-01-02T15:04:05Z"

// ErrMalformedRecord is returned when a record lacks a required field or
// carries an unparseable timestamp.
var ErrMalformedRecord = errors.New("malformed record")

// Record is a single upstream observation.
type Record struct {
	Timestamp string
	Entity    string
	// Metric is empty for single-metric sources.
	Metric string
	// Value is nil when the upstream reported the slot without a value.
	Value *float64
}

// Validate checks the required fields and normalises the timestamp.
func (r *Record) Validate() error {
	if r.Timestamp == "" {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedRecord)
	}
	if r.Entity == "" {
		return fmt.Errorf("%w: missing entity at %s", ErrMalformedRecord, r.Timestamp)
	}
	ts, err := ParseTime(r.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	r.Timestamp = FormatTime(ts)
	return nil
}

// ParseTime parses an RFC3339 timestamp with optional fractional seconds.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FormatTime renders t in the canonical axis layout.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeLayout)
}

// Float returns a pointer to v. Convenient when building records by hand.
func Float(v float64) *float64 {
	return &v
}
