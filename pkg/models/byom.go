package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BYOMModel delegates forecasting to an external HTTP service, so any model
// (SARIMAX in Python, an LSTM, Prophet) can sit behind the same contract.
//
// The service receives
//
//	{"series": [...], "steps": N, "nSimulations": M, "params": {...}}
//
// and answers either {"quantiles": [[min,q25,median,q75,max], ...]} or, for
// point forecasts, {"values": [...]}. Exactly N rows are expected.
type BYOMModel struct {
	endpoint string
	client   *http.Client
}

type byomRequest struct {
	Series       []float64          `json:"series"`
	Steps        int                `json:"steps"`
	NSimulations int                `json:"nSimulations"`
	Params       map[string]float64 `json:"params,omitempty"`
}

type byomResponse struct {
	Quantiles [][]float64 `json:"quantiles"`
	Values    []float64   `json:"values"`
}

// NewBYOMModel creates a new BYOM model that delegates to an external HTTP service.
func NewBYOMModel(endpoint string) *BYOMModel {
	return &BYOMModel{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
}

// Name returns the model identifier.
func (m *BYOMModel) Name() string {
	return "byom"
}

// Forecast implements Forecaster by calling the external service.
func (m *BYOMModel) Forecast(ctx context.Context, series []float64, steps, nSimulations int, params map[string]float64) ([]Quantiles, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("byom: series cannot be empty")
	}
	if steps <= 0 {
		return nil, nil
	}

	body, err := json.Marshal(byomRequest{
		Series:       series,
		Steps:        steps,
		NSimulations: nSimulations,
		Params:       params,
	})
	if err != nil {
		return nil, fmt.Errorf("byom: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("byom: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("byom: http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("byom: http %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var out byomResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("byom: decode response: %w", err)
	}
	return out.rows(steps)
}

func (r byomResponse) rows(steps int) ([]Quantiles, error) {
	rows := make([]Quantiles, 0, steps)
	switch {
	case r.Quantiles != nil:
		if len(r.Quantiles) != steps {
			return nil, fmt.Errorf("byom: expected %d quantile rows, got %d", steps, len(r.Quantiles))
		}
		for i, q := range r.Quantiles {
			if len(q) != len(Quantiles{}) {
				return nil, fmt.Errorf("byom: row %d has %d quantiles, want 5", i, len(q))
			}
			var row Quantiles
			copy(row[:], q)
			rows = append(rows, row)
		}
	case r.Values != nil:
		if len(r.Values) != steps {
			return nil, fmt.Errorf("byom: expected %d predictions, got %d", steps, len(r.Values))
		}
		for _, v := range r.Values {
			rows = append(rows, Quantiles{v, v, v, v, v})
		}
	default:
		return nil, fmt.Errorf("byom: response has neither quantiles nor values")
	}

	for i := range rows {
		for j := range rows[i] {
			if rows[i][j] < 0 {
				rows[i][j] = 0
			}
		}
	}
	return rows, nil
}
