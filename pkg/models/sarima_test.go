package models

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
)

func syntheticSeasonalWithTrend(n int, period int, amplitude, trend float64) []float64 {
	values := make([]float64, n)
	for i := range n {
		trendComponent := trend * float64(i)
		seasonalComponent := amplitude * math.Sin(2*math.Pi*float64(i)/float64(period))
		jitter := 5 * math.Sin(float64(i)*1.7)
		values[i] = 100 + trendComponent + seasonalComponent + jitter
	}
	return values
}

func constant(n int, v float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = v
	}
	return values
}

func TestSARIMAModel_Name(t *testing.T) {
	tests := []struct {
		model *SARIMAModel
		want  string
	}{
		{NewSARIMAModel(1, 1, 1, 1, 1, 1, 24), "sarima(1,1,1)(1,1,1,24)"},
		{NewSARIMAModel(0, 0, 0, 0, 0, 0, 0), "sarima(1,1,1)"},
		{NewSARIMAModel(2, 1, 2, 1, 0, 0, 168), "sarima(2,1,2)(1,0,0,168)"},
	}
	for _, tt := range tests {
		if got := tt.model.Name(); got != tt.want {
			t.Errorf("Name() = %q, want %q", got, tt.want)
		}
	}
}

func TestSARIMAModel_ConstantSeries(t *testing.T) {
	model := NewSARIMAModel(1, 1, 1, 1, 1, 1, 24)
	rows, err := model.Forecast(context.Background(), constant(96, 10), 48, 200, nil)
	if err != nil {
		t.Fatalf("Forecast error: %v", err)
	}
	if len(rows) != 48 {
		t.Fatalf("expected 48 rows, got %d", len(rows))
	}
	for i, row := range rows {
		for j, v := range row {
			if math.Abs(v-10) > 1e-9 {
				t.Fatalf("row %d quantile %d = %v, want 10", i, j, v)
			}
		}
	}
}

func TestSARIMAModel_QuantilesOrderedAndNonNegative(t *testing.T) {
	series := syntheticSeasonalWithTrend(168, 24, 40, 0.1)
	model := NewSARIMAModel(1, 1, 1, 1, 1, 1, 24)

	rows, err := model.Forecast(context.Background(), series, 72, 300, map[string]float64{"seed": 7})
	if err != nil {
		t.Fatalf("Forecast error: %v", err)
	}
	for i, row := range rows {
		for j := 1; j < len(row); j++ {
			if row[j] < row[j-1] {
				t.Fatalf("row %d not ordered: %v", i, row)
			}
		}
		if row[Min] < 0 {
			t.Fatalf("row %d has negative min %v", i, row[Min])
		}
	}
	if rows[0][Max] == rows[0][Min] {
		t.Error("noisy series should produce a spread")
	}
}

func TestSARIMAModel_SeedIsReproducible(t *testing.T) {
	series := syntheticSeasonalWithTrend(120, 24, 20, 0)
	model := NewSARIMAModel(1, 1, 1, 1, 1, 1, 24)
	params := map[string]float64{"seed": 42}

	a, err := model.Forecast(context.Background(), series, 10, 100, params)
	if err != nil {
		t.Fatalf("Forecast error: %v", err)
	}
	b, err := model.Forecast(context.Background(), series, 10, 100, params)
	if err != nil {
		t.Fatalf("Forecast error: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("row %d differs between runs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestSARIMAModel_InsufficientData(t *testing.T) {
	model := NewSARIMAModel(1, 1, 1, 1, 1, 1, 24)
	_, err := model.Forecast(context.Background(), constant(47, 1), 10, 10, nil)
	if err == nil || !strings.Contains(err.Error(), "need at least 48 points") {
		t.Errorf("error = %v", err)
	}
}

func TestSARIMAModel_ParamsOverrideOrder(t *testing.T) {
	model := NewSARIMAModel(1, 1, 1, 1, 1, 1, 24)

	// Weekly seasonality needs two full weeks of hourly data.
	_, err := model.Forecast(context.Background(), constant(96, 1), 4, 10, map[string]float64{"seasonality": 168})
	if err == nil || !strings.Contains(err.Error(), "need at least 336 points") {
		t.Errorf("error = %v", err)
	}

	_, err = model.Forecast(context.Background(), constant(96, 1), 4, 10, map[string]float64{"D": 2})
	if err == nil || !strings.Contains(err.Error(), "D must be in range") {
		t.Errorf("error = %v", err)
	}
}

func TestSARIMAModel_NonFiniteInput(t *testing.T) {
	series := constant(48, 1)
	series[10] = math.NaN()
	if _, err := NewSARIMAModel(1, 1, 1, 1, 1, 1, 24).Forecast(context.Background(), series, 1, 1, nil); err == nil {
		t.Error("expected error for NaN input")
	}
}

func TestSARIMAModel_ConcurrentForecasts(t *testing.T) {
	model := NewSARIMAModel(1, 1, 1, 1, 1, 1, 24)
	series := syntheticSeasonalWithTrend(96, 24, 30, 0.5)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := model.Forecast(context.Background(), series, 24, 50, nil)
			if err == nil && len(rows) != 24 {
				err = fmt.Errorf("got %d rows, want 24", len(rows))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent forecast: %v", err)
		}
	}
}

func TestSARIMAModel_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSARIMAModel(1, 1, 1, 1, 1, 1, 24).Forecast(ctx, constant(96, 1), 4, 10, nil); err == nil {
		t.Error("expected context error")
	}
}

func TestSeasonalDifference(t *testing.T) {
	got := seasonalDifference([]float64{1, 2, 3, 5, 7, 9}, 1, 3)
	want := []float64{4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
