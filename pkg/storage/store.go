// Package storage keeps the most recent published forecast window per
// endpoint, so readers and other replicas can serve it without refitting.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/fusion"
)

// ErrInvalidEndpoint is returned for empty or malformed endpoint names.
var ErrInvalidEndpoint = errors.New("invalid endpoint name")

// Snapshot is one published forecast window.
type Snapshot struct {
	Endpoint    string        `json:"endpoint"`
	Metric      string        `json:"metric"`
	GeneratedAt time.Time     `json:"generatedAt"`
	StepSeconds int           `json:"stepSeconds"`

	// Version increases by one on every publish of the endpoint.
	Version uint64        `json:"version"`
	Window  fusion.Window `json:"window"`
}

// Store persists the latest snapshot per endpoint. A missing snapshot is
// reported as found == false with a nil error.
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, endpoint string) (Snapshot, bool, error)
}

// validateEndpoint allows alphanumerics, hyphens and underscores so the name
// can be embedded in keys safely.
func validateEndpoint(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("%w %q: only alphanumeric, hyphens, and underscores allowed", ErrInvalidEndpoint, name)
		}
	}
	return nil
}
