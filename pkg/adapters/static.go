package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// StaticSource serves records from a JSON file in the frame layout
// {"timestamps": [...], "values": {...}}. The file is read on every call so
// it can be replaced while the service runs.
type StaticSource struct {
	Path string
}

func (s *StaticSource) Name() string { return "static" }

// FetchRange implements Source.
func (s *StaticSource) FetchRange(ctx context.Context, q Query) ([]timeline.Record, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	lo := timeline.FormatTime(q.Start)
	hi := ""
	if !q.End.IsZero() {
		hi = timeline.FormatTime(q.End)
	}

	out := records[:0]
	for _, r := range records {
		if r.Timestamp < lo || (hi != "" && r.Timestamp > hi) {
			continue
		}
		out = append(out, r)
	}
	return filterEntities(out, q.Entities), nil
}

// FetchSince implements Source.
func (s *StaticSource) FetchSince(ctx context.Context, since time.Time) ([]timeline.Record, error) {
	return s.FetchRange(ctx, Query{Start: since})
}

func (s *StaticSource) load() ([]timeline.Record, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read static source: %w", err)
	}
	var frame timeline.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode static source %s: %w", s.Path, err)
	}
	records := frame.Records()
	for i := range records {
		if ts, err := timeline.ParseTime(records[i].Timestamp); err == nil {
			records[i].Timestamp = timeline.FormatTime(ts)
		}
	}
	return records, nil
}
