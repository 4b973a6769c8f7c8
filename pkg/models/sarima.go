package models

import (
	"context"
	"math"
)

// SARIMAModel forecasts with a Seasonal ARIMA(p,d,q)(P,D,Q,s).
//
// SARIMA extends ARIMA with seasonal AR, differencing and MA terms at lag s,
// which suits crowd counts with a repeating daily or weekly shape. The
// default (1,1,1)(1,1,1,24) expects hourly data with a daily pattern.
type SARIMAModel struct {
	order Order
}

// NewSARIMAModel creates a SARIMA model. Zero non-seasonal orders default
// to 1; seasonal orders are taken as given.
func NewSARIMAModel(p, d, q, P, D, Q, s int) *SARIMAModel {
	if p == 0 {
		p = 1
	}
	if d == 0 {
		d = 1
	}
	if q == 0 {
		q = 1
	}
	return &SARIMAModel{order: Order{
		AR: p, Diff: d, MA: q,
		SeasonalAR: P, SeasonalDiff: D, SeasonalMA: Q,
		Period: s,
	}}
}

func (m *SARIMAModel) Name() string {
	return "sarima" + m.order.String()
}

// Forecast implements Forecaster. params may override p, d, q, P, D, Q and
// seasonality, and set "seed".
func (m *SARIMAModel) Forecast(ctx context.Context, series []float64, steps, nSimulations int, params map[string]float64) ([]Quantiles, error) {
	return forecast(ctx, series, m.order.withParams(params), steps, nSimulations, params)
}

// seasonalDifference applies D-order seasonal differencing at lag s
func seasonalDifference(series []float64, D int, s int) []float64 {
	if D == 0 || s <= 0 || len(series) <= s {
		result := make([]float64, len(series))
		copy(result, series)
		return result
	}

	result := make([]float64, len(series)-s)
	for i := range result {
		result[i] = series[i+s] - series[i]
	}

	if D > 1 {
		return seasonalDifference(result, D-1, s)
	}
	return result
}

// fitSeasonalAR estimates seasonal AR coefficients at lag s using autocorrelations
func fitSeasonalAR(centered []float64, P int, s int) ([]float64, error) {
	if P == 0 || s <= 0 {
		return []float64{}, nil
	}
	if computeVariance(centered) < 1e-10 {
		return make([]float64, P), nil
	}

	seasonalACF := make([]float64, P+1)
	for k := 0; k <= P; k++ {
		seasonalACF[k] = autocorr(centered, k*s)
	}

	coeffs, err := levinsonDurbin(seasonalACF, P)
	if err != nil {
		coeffs = make([]float64, P)
		coeffs[0] = 0.3
	}
	return coeffs, nil
}

// fitSeasonalMA estimates seasonal MA coefficients at lag s
func fitSeasonalMA(residuals []float64, Q int, s int) ([]float64, error) {
	if Q == 0 || s <= 0 || len(residuals) == 0 {
		return []float64{}, nil
	}

	coeffs := make([]float64, Q)
	for i := 0; i < Q && (i+1)*s < len(residuals); i++ {
		coeffs[i] = autocorr(residuals, (i+1)*s)
		if math.Abs(coeffs[i]) > 1 {
			coeffs[i] = coeffs[i] / math.Abs(coeffs[i]) * 0.9
		}
	}
	return coeffs, nil
}

// computeSeasonalResiduals calculates prediction errors including seasonal components
func computeSeasonalResiduals(centered []float64, arCoeffs, seasonalARCoeffs []float64, p, P, s int) []float64 {
	startIdx := max(p, P*s)
	if len(centered) <= startIdx {
		return []float64{}
	}

	residuals := make([]float64, len(centered)-startIdx)
	for t := startIdx; t < len(centered); t++ {
		var arPred float64
		for i := 0; i < p && i < len(arCoeffs); i++ {
			arPred += arCoeffs[i] * centered[t-1-i]
		}

		var seasonalARPred float64
		for i := 0; i < P && i < len(seasonalARCoeffs); i++ {
			if idx := t - (i+1)*s; idx >= 0 {
				seasonalARPred += seasonalARCoeffs[i] * centered[idx]
			}
		}

		residuals[t-startIdx] = centered[t] - arPred - seasonalARPred
	}
	return residuals
}
