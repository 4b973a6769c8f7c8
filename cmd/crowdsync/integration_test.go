//go:build integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/cmd/crowdsync/router"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/cursor"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/storage"
)

// TestForecastRestartE2E publishes a window through Redis, then checks that
// a fresh process restores it and serves it before its first cycle.
func TestForecastRestartE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
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
	addr := strings.TrimPrefix(endpoint, "redis://")

	src := &stubSource{}
	src.set(hourly("a", 0, 4, 10), hourly("b", 0, 4, 20))

	first, err := storage.NewRedisStore(addr, "", 0, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	if err := newTestForecaster(src, &stubModel{}, first, testSettings()).Tick(ctx); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	second, err := storage.NewRedisStore(addr, "", 0, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	model := &stubModel{}
	restarted := newTestForecaster(src, model, second, testSettings())
	if err := restarted.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	mux := router.SetupRoutes(router.Config{
		Forecast: &router.Forecast{Published: restarted.Published, Versions: cursor.NewVersions(0)},
		Gatherer: prometheus.NewRegistry(),
	})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/forecast", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var body struct {
		ClientID   string                                `json:"client_id"`
		Timestamps []string                              `json:"timestamps"`
		Values     map[string]map[string]json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.ClientID == "" || len(body.Timestamps) != 6 {
		t.Errorf("restored response = %+v, want client_id and 6 timestamps", body)
	}
	if len(body.Values["total"]) != 2 {
		t.Errorf("restored entities = %v, want a and b", body.Values["total"])
	}
	if model.callCount() != 0 {
		t.Error("restore should not refit")
	}

	if err := restarted.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if v := restarted.Published().Version; v != 2 {
		t.Errorf("version after restart tick = %d, want 2", v)
	}
}
