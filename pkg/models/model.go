// Package models implements the forecasting contract used by the polling
// loop: given one entity's history, return quantile rows for the next steps.
//
// Fits are Yule-Walker (S)ARIMA approximations. Callers treat every
// Forecaster as a black box and only rely on the shape of the result.
package models

import (
	"context"
	"fmt"
	"net/http"
)

// Quantile positions inside a Quantiles row.
const (
	Min = iota
	Q25
	Median
	Q75
	Max
)

// Quantiles is one forecast step: [min, q25, median, q75, max]. Every value
// is floored at 0.
type Quantiles [5]float64

// Forecaster is the model contract.
//
// Forecast fits series (oldest first, evenly spaced, no gaps) and returns
// exactly steps rows. nSimulations controls the Monte Carlo sample size used
// to estimate the quantiles. params carries model-specific settings such as
// the (S)ARIMA orders or the random seed; unknown keys are ignored.
//
// Implementations must be safe for concurrent use: the polling loop fits
// several entities in parallel with the same Forecaster.
type Forecaster interface {
	Forecast(ctx context.Context, series []float64, steps, nSimulations int, params map[string]float64) ([]Quantiles, error)
	Name() string
}

// Options configures New.
type Options struct {
	// Endpoint is the BYOM service URL.
	Endpoint string
	// HTTPClient overrides the BYOM client.
	HTTPClient *http.Client
}

// New returns the forecaster registered under name: "sarima" (default),
// "arima" or "byom".
func New(name string, opts Options) (Forecaster, error) {
	switch name {
	case "", "sarima":
		return NewSARIMAModel(1, 1, 1, 1, 1, 1, 24), nil
	case "arima":
		return NewARIMAModel(1, 1, 1), nil
	case "byom":
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("byom model requires an endpoint")
		}
		m := NewBYOMModel(opts.Endpoint)
		if opts.HTTPClient != nil {
			m.client = opts.HTTPClient
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown model %q (must be sarima, arima, or byom)", name)
	}
}

// intParam reads an integer parameter, falling back to def.
func intParam(params map[string]float64, key string, def int) int {
	if v, ok := params[key]; ok {
		return int(v)
	}
	return def
}
