// Package dirty decides, for each polling cycle, which entities need their
// forecast recomputed.
//
// A cycle compares the freshly fetched snapshot against the last accepted
// one. Entities whose values changed are dirty. When the newest timestamp
// across all entities moves forward every entity is retrained, so the
// forecast horizon shifts uniformly.
package dirty

import (
	"log/slog"
	"math"
	"sort"
	"sync"
)

// Snapshot maps entity -> timestamp -> value. Timestamps use the canonical
// layout of the timeline package, so string order is chronological.
type Snapshot map[string]map[string]float64

// Latest returns the greatest timestamp held by any entity, or "" when the
// snapshot is empty.
func (s Snapshot) Latest() string {
	latest := ""
	for _, byTS := range s {
		for ts := range byTS {
			if ts > latest {
				latest = ts
			}
		}
	}
	return latest
}

// Timestamps returns every timestamp held by any entity, sorted.
func (s Snapshot) Timestamps() []string {
	seen := make(map[string]struct{})
	for _, byTS := range s {
		for ts := range byTS {
			seen[ts] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ts := range seen {
		out = append(out, ts)
	}
	sort.Strings(out)
	return out
}

// Entities returns the entity ids in sorted order.
func (s Snapshot) Entities() []string {
	out := make([]string, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Decision is the outcome of comparing two snapshots.
type Decision struct {
	// Dirty lists, sorted, the entities whose values differ from the
	// previous snapshot. Entities that disappeared are included.
	Dirty []string
	// GlobalAdvance is set when the newest timestamp moved forward.
	GlobalAdvance bool
	// Retrain lists the entities to fit this cycle. It only names entities
	// present in the current snapshot.
	Retrain []string
	// Skip is set when nothing changed; no model runs and the accepted
	// snapshot stays as it is.
	Skip bool
	// Latest is the newest timestamp in the current snapshot.
	Latest string
}

// Detect compares current against previous, whose newest accepted
// timestamp is previousLatest.
func Detect(current, previous Snapshot, previousLatest string) Decision {
	d := Decision{Latest: current.Latest()}

	for _, entity := range current.Entities() {
		if !equal(current[entity], previous[entity]) {
			d.Dirty = append(d.Dirty, entity)
		}
	}
	for entity := range previous {
		if _, ok := current[entity]; !ok {
			d.Dirty = append(d.Dirty, entity)
		}
	}
	sort.Strings(d.Dirty)

	if len(d.Dirty) == 0 {
		d.Skip = true
		return d
	}

	d.GlobalAdvance = d.Latest > previousLatest
	if d.GlobalAdvance {
		d.Retrain = current.Entities()
		return d
	}
	for _, entity := range d.Dirty {
		if _, ok := current[entity]; ok {
			d.Retrain = append(d.Retrain, entity)
		}
	}
	return d
}

// equal compares two per-timestamp mappings by value. NaN matches NaN so a
// source that reports NaN does not keep an entity permanently dirty.
func equal(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for ts, av := range a {
		bv, ok := b[ts]
		if !ok {
			return false
		}
		if av != bv && !(math.IsNaN(av) && math.IsNaN(bv)) {
			return false
		}
	}
	return true
}

// Detector holds the last accepted snapshot for one forecasting endpoint.
// It is owned by a single polling loop; the mutex only guards reads from
// other goroutines (Previous, Latest).
type Detector struct {
	mu       sync.RWMutex
	previous Snapshot
	latest   string
	logger   *slog.Logger
}

// NewDetector creates a detector with an empty accepted snapshot, so the
// first non-empty cycle retrains everything.
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Detect compares current against the accepted snapshot. It does not
// modify the detector; call Accept once the cycle succeeded.
func (d *Detector) Detect(current Snapshot) Decision {
	d.mu.RLock()
	previous, latest := d.previous, d.latest
	d.mu.RUnlock()

	dec := Detect(current, previous, latest)
	switch {
	case dec.Skip:
		d.logger.Debug("no dirty entities", "latest", dec.Latest)
	case dec.GlobalAdvance:
		d.logger.Info("latest timestamp advanced, retraining all entities",
			"previous_latest", latest,
			"latest", dec.Latest,
			"entities", len(dec.Retrain),
		)
	default:
		d.logger.Info("retraining dirty entities", "dirty", len(dec.Dirty), "retrain", len(dec.Retrain))
	}
	return dec
}

// Accept replaces the accepted snapshot wholesale. The accepted latest
// timestamp never moves backwards.
func (d *Detector) Accept(current Snapshot) {
	latest := current.Latest()
	d.mu.Lock()
	d.previous = current
	if latest > d.latest {
		d.latest = latest
	}
	d.mu.Unlock()
}

// Previous returns the accepted snapshot. Callers must not modify it.
func (d *Detector) Previous() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.previous
}

// Latest returns the newest accepted timestamp.
func (d *Detector) Latest() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest
}
