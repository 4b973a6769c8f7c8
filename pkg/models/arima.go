package models

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Order holds the (S)ARIMA orders.
//
// (AR, Diff, MA) are the non-seasonal p, d, q. (SeasonalAR, SeasonalDiff,
// SeasonalMA, Period) are P, D, Q and s; s counts data points, e.g. 24 for
// hourly data with a daily pattern.
type Order struct {
	AR, Diff, MA                         int
	SeasonalAR, SeasonalDiff, SeasonalMA int
	Period                               int
}

func (o Order) seasonal() bool {
	return o.SeasonalAR > 0 || o.SeasonalDiff > 0 || o.SeasonalMA > 0
}

func (o Order) String() string {
	if !o.seasonal() {
		return fmt.Sprintf("(%d,%d,%d)", o.AR, o.Diff, o.MA)
	}
	return fmt.Sprintf("(%d,%d,%d)(%d,%d,%d,%d)", o.AR, o.Diff, o.MA, o.SeasonalAR, o.SeasonalDiff, o.SeasonalMA, o.Period)
}

// Validate checks the orders are in the supported range.
func (o Order) Validate() error {
	if o.AR < 0 || o.MA < 0 || o.SeasonalAR < 0 || o.SeasonalMA < 0 {
		return errors.New("AR and MA orders must be >= 0")
	}
	if o.Diff < 0 || o.Diff > 2 {
		return errors.New("d must be in range [0, 2]")
	}
	if o.SeasonalDiff < 0 || o.SeasonalDiff > 1 {
		return errors.New("D must be in range [0, 1]")
	}
	if o.seasonal() && o.Period <= 0 {
		return errors.New("s must be > 0 when using seasonal components")
	}
	return nil
}

// minPoints is the shortest history that gives a stable fit.
func (o Order) minPoints() int {
	need := max(o.AR+o.Diff, o.MA+o.Diff)
	if !o.seasonal() {
		return max(need, 10)
	}
	s := o.Period
	need = max(need, s*o.SeasonalAR+s*o.SeasonalDiff, s*o.SeasonalMA+s*o.SeasonalDiff, 2*s)
	return max(need, 20)
}

// withParams overrides orders from params: p, d, q, P, D, Q and seasonality.
func (o Order) withParams(params map[string]float64) Order {
	o.AR = intParam(params, "p", o.AR)
	o.Diff = intParam(params, "d", o.Diff)
	o.MA = intParam(params, "q", o.MA)
	o.SeasonalAR = intParam(params, "P", o.SeasonalAR)
	o.SeasonalDiff = intParam(params, "D", o.SeasonalDiff)
	o.SeasonalMA = intParam(params, "Q", o.SeasonalMA)
	o.Period = intParam(params, "seasonality", o.Period)
	return o
}

// ARIMAModel forecasts with a non-seasonal ARIMA(p,d,q):
//   - p: AutoRegressive order (how many past values to use)
//   - d: Differencing order (trend removal: 0=none, 1=linear, 2=quadratic)
//   - q: Moving Average order (how many past errors to use)
//
// The model is refitted on every call, so one value serves any number of
// entities concurrently.
type ARIMAModel struct {
	order Order
}

// NewARIMAModel creates an ARIMA model. Zero orders default to 1.
func NewARIMAModel(p, d, q int) *ARIMAModel {
	if p == 0 {
		p = 1
	}
	if d == 0 {
		d = 1
	}
	if q == 0 {
		q = 1
	}
	return &ARIMAModel{order: Order{AR: p, Diff: d, MA: q}}
}

// Name returns the model name with ARIMA parameters.
func (m *ARIMAModel) Name() string {
	return "arima" + m.order.String()
}

// Forecast implements Forecaster. params may override p, d and q and set
// "seed".
func (m *ARIMAModel) Forecast(ctx context.Context, series []float64, steps, nSimulations int, params map[string]float64) ([]Quantiles, error) {
	order := m.order.withParams(params)
	order.SeasonalAR, order.SeasonalDiff, order.SeasonalMA = 0, 0, 0
	return forecast(ctx, series, order, steps, nSimulations, params)
}

// forecast fits order to series and simulates steps ahead.
func forecast(ctx context.Context, series []float64, order Order, steps, nSimulations int, params map[string]float64) ([]Quantiles, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if steps <= 0 {
		return nil, nil
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}
	f, err := fit(series, order)
	if err != nil {
		return nil, err
	}
	return simulate(ctx, f.path(steps), f.sigma, f.persistence(), nSimulations, uint64(intParam(params, "seed", 0)))
}

// fitted is a trained (S)ARIMA model.
type fitted struct {
	order      Order
	ar, ma     []float64
	sar, sma   []float64
	lastValues []float64 // most recent raw values, oldest first
	lastErrors []float64 // most recent residuals, oldest first
	sigma      float64   // residual standard deviation
}

// fit trains the model:
//  1. Applies differencing (d times, then D times at lag s)
//  2. Centres the stationary series on its mean
//  3. Fits AR coefficients using Yule-Walker equations
//  4. Fits MA coefficients from the residual autocorrelations
//  5. Stores the last values and errors for prediction
func fit(values []float64, o Order) (*fitted, error) {
	if n := o.minPoints(); len(values) < n {
		return nil, fmt.Errorf("need at least %d points for %s, got %d", n, o, len(values))
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("value %d is not finite", i)
		}
	}

	stationary := difference(values, o.Diff)
	if o.SeasonalDiff > 0 {
		stationary = seasonalDifference(stationary, o.SeasonalDiff, o.Period)
	}

	mean := computeMean(stationary)
	centered := make([]float64, len(stationary))
	for i, v := range stationary {
		centered[i] = v - mean
	}

	ar, err := fitAR(centered, o.AR)
	if err != nil {
		return nil, fmt.Errorf("fit AR coefficients: %w", err)
	}
	var sar []float64
	if o.SeasonalAR > 0 {
		sar, err = fitSeasonalAR(centered, o.SeasonalAR, o.Period)
		if err != nil {
			return nil, fmt.Errorf("fit seasonal AR coefficients: %w", err)
		}
	}

	residuals := computeSeasonalResiduals(centered, ar, sar, o.AR, o.SeasonalAR, o.Period)

	ma, err := fitMA(residuals, o.MA)
	if err != nil {
		return nil, fmt.Errorf("fit MA coefficients: %w", err)
	}
	var sma []float64
	if o.SeasonalMA > 0 {
		sma, err = fitSeasonalMA(residuals, o.SeasonalMA, o.Period)
		if err != nil {
			return nil, fmt.Errorf("fit seasonal MA coefficients: %w", err)
		}
	}

	f := &fitted{order: o, ar: ar, ma: ma, sar: sar, sma: sma}
	f.lastValues = tail(values, max(o.AR, o.Period*o.SeasonalAR+1))
	f.lastErrors = tail(residuals, max(o.MA, o.Period*o.SeasonalMA+1))

	if len(residuals) > 1 {
		sumSq := 0.0
		for _, r := range residuals {
			sumSq += r * r
		}
		f.sigma = math.Sqrt(sumSq / float64(len(residuals)-1))
	}
	return f, nil
}

// path returns the point forecast. The first step applies the fitted
// AR/MA terms to the last observation; later steps are damped towards it
// so long horizons stay bounded.
func (f *fitted) path(steps int) []float64 {
	o := f.order
	predictions := make([]float64, steps)

	baseValue := 0.0
	if len(f.lastValues) > 0 {
		baseValue = f.lastValues[len(f.lastValues)-1]
	}

	for t := range steps {
		var pred float64
		if t == 0 {
			arPred := 0.0
			for i := 0; i < len(f.ar) && i < len(f.lastValues); i++ {
				arPred += f.ar[i] * f.lastValues[len(f.lastValues)-1-i]
			}
			for i := range f.sar {
				if idx := len(f.lastValues) - 1 - (i+1)*o.Period; idx >= 0 {
					arPred += f.sar[i] * f.lastValues[idx]
				}
			}

			maPred := 0.0
			for j := 0; j < len(f.ma) && j < len(f.lastErrors); j++ {
				maPred += f.ma[j] * f.lastErrors[len(f.lastErrors)-1-j]
			}
			for j := range f.sma {
				if idx := len(f.lastErrors) - 1 - (j+1)*o.Period; idx >= 0 {
					maPred += f.sma[j] * f.lastErrors[idx]
				}
			}

			pred = baseValue + (arPred+maPred)*0.1
		} else {
			dampingFactor := 1.0 / (1.0 + float64(t)*0.1)
			pred = baseValue*0.9 + predictions[t-1]*0.1

			if len(f.sar) > 0 && t >= o.Period {
				seasonalComponent := predictions[t-o.Period] - baseValue
				pred += seasonalComponent * 0.3 * dampingFactor
			}

			pred = pred*dampingFactor + baseValue*(1-dampingFactor)
		}

		if pred > math.Abs(baseValue)*2+100 {
			pred = math.Abs(baseValue)*2 + 100
		}
		if pred > 1e9 {
			pred = 1e9
		}
		predictions[t] = pred
	}
	return predictions
}

// persistence is the step-to-step correlation of simulated noise, taken
// from the first AR coefficient and kept inside the stationary range.
func (f *fitted) persistence() float64 {
	if len(f.ar) == 0 {
		return 0
	}
	return math.Max(-0.95, math.Min(0.95, f.ar[0]))
}

func tail(xs []float64, n int) []float64 {
	n = min(n, len(xs))
	out := make([]float64, n)
	copy(out, xs[len(xs)-n:])
	return out
}

// difference applies d-order differencing to make series stationary
func difference(series []float64, d int) []float64 {
	if d == 0 || len(series) == 0 {
		result := make([]float64, len(series))
		copy(result, series)
		return result
	}

	result := make([]float64, len(series)-1)
	for i := 0; i < len(series)-1; i++ {
		result[i] = series[i+1] - series[i]
	}

	if d > 1 {
		return difference(result, d-1)
	}
	return result
}

// computeMean calculates the arithmetic mean of a series
func computeMean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// computeVariance calculates the variance of a series
func computeVariance(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	mean := computeMean(series)
	var sumSq float64
	for _, v := range series {
		diff := v - mean
		sumSq += diff * diff
	}
	return sumSq / float64(len(series))
}

// fitAR estimates AR coefficients using Yule-Walker equations with Levinson-Durbin
func fitAR(centered []float64, p int) ([]float64, error) {
	if p == 0 {
		return []float64{}, nil
	}

	if computeVariance(centered) < 1e-10 {
		return make([]float64, p), nil
	}

	acf := make([]float64, p+1)
	for k := 0; k <= p; k++ {
		acf[k] = autocorr(centered, k)
	}

	coeffs, err := levinsonDurbin(acf, p)
	if err != nil {
		coeffs = make([]float64, p)
		coeffs[0] = 0.5
	}
	return coeffs, nil
}

// autocorr computes autocorrelation at given lag
func autocorr(series []float64, lag int) float64 {
	if lag < 0 || lag >= len(series) {
		return 0
	}

	n := len(series)
	mean := computeMean(series)

	var c0, ck float64
	for i := range n {
		c0 += (series[i] - mean) * (series[i] - mean)
	}
	for i := 0; i < n-lag; i++ {
		ck += (series[i] - mean) * (series[i+lag] - mean)
	}

	if c0 == 0 {
		return 0
	}
	return ck / c0
}

// levinsonDurbin solves Yule-Walker equations efficiently
func levinsonDurbin(acf []float64, p int) ([]float64, error) {
	if p == 0 {
		return []float64{}, nil
	}

	phi := make([][]float64, p+1)
	for i := range phi {
		phi[i] = make([]float64, p+1)
	}

	v := acf[0]
	for k := 1; k <= p; k++ {
		num := acf[k]
		for j := 1; j < k; j++ {
			num -= phi[k-1][j] * acf[k-j]
		}

		if v == 0 {
			return nil, errors.New("numerical instability in Levinson-Durbin")
		}

		phi[k][k] = num / v
		for j := 1; j < k; j++ {
			phi[k][j] = phi[k-1][j] - phi[k][k]*phi[k-1][k-j]
		}

		v = v * (1 - phi[k][k]*phi[k][k])
		if v < 0 {
			return nil, errors.New("negative variance in Levinson-Durbin")
		}
	}

	coeffs := make([]float64, p)
	for i := range p {
		coeffs[i] = phi[p][i+1]
	}
	return coeffs, nil
}

// fitMA estimates MA coefficients from the residual autocorrelations.
func fitMA(residuals []float64, q int) ([]float64, error) {
	if q == 0 || len(residuals) == 0 {
		return []float64{}, nil
	}

	coeffs := make([]float64, q)
	for i := 0; i < q && i < len(residuals); i++ {
		coeffs[i] = autocorr(residuals, i+1)
	}
	for i := range coeffs {
		if math.Abs(coeffs[i]) > 1 {
			coeffs[i] = coeffs[i] / math.Abs(coeffs[i]) * 0.9
		}
	}
	return coeffs, nil
}
