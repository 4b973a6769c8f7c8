package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBadgerStore_PutGet(t *testing.T) {
	store, err := NewBadgerStore(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	want := testSnapshot("forecast", 7)
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, err := store.GetLatest(ctx, "forecast")
	if err != nil || !found {
		t.Fatalf("GetLatest: found=%v err=%v", found, err)
	}
	if got.Version != 7 || got.Metric != want.Metric || got.StepSeconds != 3600 {
		t.Errorf("unexpected snapshot %+v", got)
	}

	points := got.Window.Values["total_of_directions"]["sensor-1"]
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].IsForecast() || *points[0].Value != 12 {
		t.Errorf("expected real point 12, got %+v", points[0])
	}
	if !points[1].IsForecast() || points[1].Row[4] != 20 {
		t.Errorf("expected forecast row with max 20, got %+v", points[1])
	}
}

func TestBadgerStore_NotFoundAndInvalid(t *testing.T) {
	store, err := NewBadgerStore(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, found, err := store.GetLatest(ctx, "missing"); err != nil || found {
		t.Errorf("expected not found without error, got found=%v err=%v", found, err)
	}
	if err := store.Put(ctx, Snapshot{}); !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("expected ErrInvalidEndpoint, got %v", err)
	}
}

func TestBadgerStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadgerStore(BadgerConfig{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, testSnapshot("forecast", 3)); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBadgerStore(BadgerConfig{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, found, err := reopened.GetLatest(ctx, "forecast")
	if err != nil || !found {
		t.Fatalf("expected snapshot after reopen, found=%v err=%v", found, err)
	}
	if got.Version != 3 {
		t.Errorf("expected version 3, got %d", got.Version)
	}
}

func TestBadgerStore_TTL(t *testing.T) {
	store, err := NewBadgerStore(BadgerConfig{InMemory: true, TTL: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Put(ctx, testSnapshot("forecast", 1)); err != nil {
		t.Fatal(err)
	}
	// Badger TTLs have one-second resolution.
	time.Sleep(2100 * time.Millisecond)

	if _, found, _ := store.GetLatest(ctx, "forecast"); found {
		t.Error("expected snapshot to expire")
	}
}

func TestBadgerStore_RequiresPath(t *testing.T) {
	if _, err := NewBadgerStore(BadgerConfig{}); err == nil {
		t.Error("expected error without path")
	}
}
