package adapters

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeStatic(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestStaticSource_FetchRange(t *testing.T) {
	path := writeStatic(t, `{
		"timestamps": ["2024-03-01T00:00:00Z", "2024-03-01T01:00:00+00:00", "2024-03-01T02:00:00Z"],
		"values": {"a": [1, 2, 3], "b": [null, 5, 6]}
	}`)
	src := &StaticSource{Path: path}

	start := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	records, err := src.FetchRange(context.Background(), Query{Start: start, End: start.Add(time.Hour)})
	if err != nil {
		t.Fatalf("FetchRange error: %v", err)
	}
	// a@01, a@02, b@01, b@02
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d: %+v", len(records), records)
	}
	for _, r := range records {
		if r.Timestamp < "2024-03-01T01:00:00Z" {
			t.Errorf("record before start: %+v", r)
		}
	}

	only, err := src.FetchRange(context.Background(), Query{Start: time.Time{}, End: start, Entities: []string{"b"}})
	if err != nil {
		t.Fatalf("FetchRange error: %v", err)
	}
	if len(only) != 1 || only[0].Entity != "b" || *only[0].Value != 5 {
		t.Fatalf("entity filter = %+v", only)
	}
}

func TestStaticSource_Errors(t *testing.T) {
	if _, err := (&StaticSource{Path: filepath.Join(t.TempDir(), "missing.json")}).FetchSince(context.Background(), time.Now()); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := (&StaticSource{Path: writeStatic(t, "{")}).FetchSince(context.Background(), time.Now()); err == nil {
		t.Error("bad json should fail")
	}
}
