// Package stats computes nearest-rank percentiles over duration samples.
package stats

import (
	"slices"
	"time"

	"github.com/dickeyy/pr-flow-metrics/types"
)

// Percentile returns the nearest-rank p-th percentile (p in 1..100) of an
// ascending sample: the element at 1-indexed rank ceil(p*n/100), clamped to
// [1, n]. It reports false for an empty sample.
func Percentile(sorted []time.Duration, p int) (time.Duration, bool) {
	n := len(sorted)
	if n == 0 {
		return 0, false
	}
	rank := (p*n + 99) / 100
	rank = max(1, min(rank, n))
	return sorted[rank-1], true
}

// Compute summarizes an unordered sample. The input is not modified.
func Compute(sample []time.Duration) types.PercentileStats {
	sorted := slices.Clone(sample)
	slices.Sort(sorted)

	at := func(p int) *time.Duration {
		v, ok := Percentile(sorted, p)
		if !ok {
			return nil
		}
		return &v
	}

	return types.PercentileStats{
		Count: len(sorted),
		P50:   at(50),
		P75:   at(75),
		P90:   at(90),
	}
}

// Pool concatenates the samples of several repositories.
func Pool(samples ...[]time.Duration) []time.Duration {
	var n int
	for _, s := range samples {
		n += len(s)
	}
	pooled := make([]time.Duration, 0, n)
	for _, s := range samples {
		pooled = append(pooled, s...)
	}
	return pooled
}
