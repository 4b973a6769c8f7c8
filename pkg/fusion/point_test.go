package fusion

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/models"
)

func TestPoint_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		point Point
		want  string
	}{
		{"empty", Point{}, "null"},
		{"real", RealPoint(12.5), "12.5"},
		{"zero", RealPoint(0), "0"},
		{"nan", RealPoint(math.NaN()), "null"},
		{"row", ForecastPoint(models.Quantiles{0, 1, 2.5, 3, 4}), "[0,1,2.5,3,4]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.point)
			if err != nil {
				t.Fatalf("Marshal error: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestPoint_UnmarshalJSON(t *testing.T) {
	var points []Point
	if err := json.Unmarshal([]byte(`[null, 3, [1,2,3,4,5]]`), &points); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if points[0].Value != nil || points[0].Row != nil {
		t.Errorf("null point = %+v", points[0])
	}
	if *points[1].Value != 3 {
		t.Errorf("real point = %+v", points[1])
	}
	if *points[2].Row != (models.Quantiles{1, 2, 3, 4, 5}) {
		t.Errorf("row point = %+v", points[2])
	}

	var bad Point
	if err := json.Unmarshal([]byte(`[1,2]`), &bad); err == nil {
		t.Error("short row should fail")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", models.Median, false},
		{"median", models.Median, false},
		{"p50", models.Median, false},
		{"0.5", models.Median, false},
		{"P25", models.Q25, false},
		{"min", models.Min, false},
		{"p0", models.Min, false},
		{"0.75", models.Q75, false},
		{"p100", models.Max, false},
		{"max", models.Max, false},
		{"p90", 0, true},
		{"px", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatLevel(t *testing.T) {
	want := []string{"p0", "p25", "p50", "p75", "p100"}
	for i, w := range want {
		if got := FormatLevel(i); got != w {
			t.Errorf("FormatLevel(%d) = %s, want %s", i, got, w)
		}
	}
	if FormatLevel(9) != "invalid" {
		t.Error("out of range level")
	}
}
