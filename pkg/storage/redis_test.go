//go:build integration

package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedisContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	return strings.TrimPrefix(endpoint, "redis://")
}

func TestRedisStore_New(t *testing.T) {
	addr := setupRedisContainer(t)

	store, err := NewRedisStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisStore_NewErrors(t *testing.T) {
	tests := []struct {
		name string
		addr string
		db   int
	}{
		{"empty address", "", 0},
		{"negative db", "localhost:6379", -1},
		{"unreachable", "invalid:99999", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRedisStore(tt.addr, "", tt.db, time.Minute); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRedisStore_PutGet(t *testing.T) {
	addr := setupRedisContainer(t)
	store, err := NewRedisStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	want := testSnapshot("forecast", 5)
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, err := store.GetLatest(ctx, "forecast")
	if err != nil || !found {
		t.Fatalf("GetLatest: found=%v err=%v", found, err)
	}
	if got.Version != 5 || got.Window.Len() != 2 {
		t.Errorf("unexpected snapshot %+v", got)
	}
	if !got.GeneratedAt.Equal(want.GeneratedAt) {
		t.Errorf("GeneratedAt: want %v, got %v", want.GeneratedAt, got.GeneratedAt)
	}
	row := got.Window.Values["total_of_directions"]["sensor-1"][1].Row
	if row == nil || row[2] != 11 {
		t.Errorf("expected median 11, got %v", row)
	}

	if _, found, err := store.GetLatest(ctx, "absent"); err != nil || found {
		t.Errorf("expected not found, got found=%v err=%v", found, err)
	}
	if err := store.Put(ctx, Snapshot{Endpoint: "bad key"}); !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("expected ErrInvalidEndpoint, got %v", err)
	}
}

func TestRedisStore_TTL(t *testing.T) {
	addr := setupRedisContainer(t)
	store, err := NewRedisStore(addr, "", 0, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Put(ctx, testSnapshot("forecast", 1)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(1500 * time.Millisecond)

	if _, found, _ := store.GetLatest(ctx, "forecast"); found {
		t.Error("expected snapshot to expire")
	}
}

func TestRedisStore_ConcurrentPuts(t *testing.T) {
	addr := setupRedisContainer(t)
	store, err := NewRedisStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			if err := store.Put(ctx, testSnapshot("forecast", v)); err != nil {
				t.Errorf("Put: %v", err)
			}
		}(uint64(i))
	}
	wg.Wait()

	if _, found, err := store.GetLatest(ctx, "forecast"); err != nil || !found {
		t.Errorf("expected a snapshot, found=%v err=%v", found, err)
	}
}

func TestRedisStore_CloseIdempotent(t *testing.T) {
	addr := setupRedisContainer(t)
	store, err := NewRedisStore(addr, "", 0, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
