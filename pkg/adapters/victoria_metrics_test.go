package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const matrixTwoLocations = `{
    "status":"success",
    "data":{
        "resultType":"matrix",
        "result":[
            { "metric":{"location":"a","direction":"in"},  "values":[ [ 1700000000, "1" ], [ 1700003600, "2" ] ] },
            { "metric":{"location":"a","direction":"out"}, "values":[ [ 1700000000, "3" ], [ 1700003600, "4" ] ] },
            { "metric":{"location":"b","direction":"in"},  "values":[ [ 1700000000, "5" ] ] }
        ]
    }
}`

func TestVictoriaMetricsSource_SumsSeriesPerEntity(t *testing.T) {
	var gotPath, gotStep string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotStep = r.URL.Query().Get("step")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, matrixTwoLocations)
	}))
	defer server.Close()

	src := &VictoriaMetricsSource{
		ServerURL:   server.URL,
		Query:       "pedestrians_total",
		EntityLabel: "location",
		StepSeconds: 3600,
	}

	start := time.Unix(1700000000, 0)
	records, err := src.FetchRange(context.Background(), Query{Start: start, End: start.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("FetchRange error: %v", err)
	}
	if gotPath != "/api/v1/query_range" || gotStep != "3600" {
		t.Errorf("path=%s step=%s", gotPath, gotStep)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d: %+v", len(records), records)
	}

	want := map[string]float64{
		"a@2023-11-14T22:13:20Z": 4,
		"a@2023-11-14T23:13:20Z": 6,
		"b@2023-11-14T22:13:20Z": 5,
	}
	for _, r := range records {
		key := r.Entity + "@" + r.Timestamp
		if r.Value == nil || *r.Value != want[key] {
			t.Errorf("%s = %v, want %v", key, r.Value, want[key])
		}
	}
}

func TestVictoriaMetricsSource_MetricLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, matrixTwoLocations)
	}))
	defer server.Close()

	src := &VictoriaMetricsSource{
		ServerURL:   server.URL,
		Query:       "pedestrians_total",
		EntityLabel: "location",
		MetricLabel: "direction",
	}
	records, err := src.FetchRange(context.Background(), Query{Start: time.Unix(1700000000, 0), End: time.Unix(1700007200, 0)})
	if err != nil {
		t.Fatalf("FetchRange error: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	if records[0].Metric != "in" || records[2].Metric != "out" {
		t.Errorf("metrics = %s, %s", records[0].Metric, records[2].Metric)
	}
}

func TestVictoriaMetricsSource_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"non-200", http.StatusInternalServerError, "boom", true},
		{"bad json", http.StatusOK, "{", true},
		{"error status", http.StatusOK, `{"status":"error","data":{}}`, true},
		{"bad value", http.StatusOK, `{"status":"success","data":{"result":[{"metric":{},"values":[[1700000000,"x"]]}]}}`, true},
		{"empty", http.StatusOK, `{"status":"success","data":{"resultType":"matrix","result":[]}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			src := &VictoriaMetricsSource{ServerURL: server.URL, Query: "up"}
			_, err := src.FetchRange(context.Background(), Query{Start: time.Unix(1700000000, 0), End: time.Unix(1700003600, 0)})
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrometheusSource_EmptyRangeSkipsRequest(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"status":"success","data":{"result":[]}}`)
	}))
	defer server.Close()

	src := &PrometheusSource{ServerURL: server.URL, Query: "up"}
	at := time.Unix(1700000000, 0)
	records, err := src.FetchRange(context.Background(), Query{Start: at, End: at})
	if err != nil {
		t.Fatalf("FetchRange error: %v", err)
	}
	if len(records) != 0 || calls != 0 {
		t.Errorf("records=%d calls=%d, want none", len(records), calls)
	}
}

func TestPrometheusSource_FiltersEntities(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, matrixTwoLocations)
	}))
	defer server.Close()

	src := &PrometheusSource{ServerURL: server.URL, Query: "x", EntityLabel: "location"}
	records, err := src.FetchRange(context.Background(), Query{
		Start:    time.Unix(1700000000, 0),
		End:      time.Unix(1700007200, 0),
		Entities: []string{"b"},
	})
	if err != nil {
		t.Fatalf("FetchRange error: %v", err)
	}
	if len(records) != 1 || records[0].Entity != "b" {
		t.Fatalf("records = %+v", records)
	}
}
