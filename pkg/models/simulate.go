package models

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
)

// simulate draws n noisy paths around path and reduces every step to its
// [min, q25, median, q75, max] percentiles. Noise is AR(1) with the given
// persistence so errors accumulate along the horizon. Results are floored
// at 0.
func simulate(ctx context.Context, path []float64, sigma, persistence float64, n int, seed uint64) ([]Quantiles, error) {
	if n <= 0 {
		n = 1
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	steps := len(path)
	samples := make([][]float64, steps)
	for t := range samples {
		samples[t] = make([]float64, n)
	}

	for i := range n {
		if i%64 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		noise := 0.0
		for t, v := range path {
			noise = persistence*noise + rng.NormFloat64()*sigma
			samples[t][i] = v + noise
		}
	}

	out := make([]Quantiles, steps)
	for t, s := range samples {
		slices.Sort(s)
		out[t] = Quantiles{
			percentile(s, 0),
			percentile(s, 0.25),
			percentile(s, 0.5),
			percentile(s, 0.75),
			percentile(s, 1),
		}
		for j := range out[t] {
			out[t][j] = math.Max(0, out[t][j])
		}
	}
	return out, nil
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := min(lo+1, len(sorted)-1)
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
