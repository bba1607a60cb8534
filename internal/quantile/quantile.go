// Package quantile summarizes samples of call durations.
package quantile

import (
	"math"
	"sort"
)

// Quantile is a collection of data points.
type Quantile struct {
	// Xs is the slice of sample values.
	Xs []float64

	// Sorted indicates that Xs is sorted in ascending order.
	Sorted bool
}

// Bounds returns the minimum and maximum values of the Quantile.
//
// This is constant time if q.Sorted.
func (q Quantile) Bounds() (min float64, max float64) {
	if len(q.Xs) == 0 {
		return math.NaN(), math.NaN()
	}
	if q.Sorted {
		return q.Xs[0], q.Xs[len(q.Xs)-1]
	}
	min, max = q.Xs[0], q.Xs[0]
	for _, x := range q.Xs[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return min, max
}

// Percentile returns the pctileth value from the Quantile. This uses
// interpolation method R8 from Hyndman and Fan (1996).
//
// pctile will be capped to the range [0, 1]. If the Quantile is empty,
// returns 0.
//
// This is constant time if q.Sorted.
func (q Quantile) Percentile(pctile float64) float64 {
	if len(q.Xs) == 0 {
		return 0
	} else if pctile <= 0 {
		min, _ := q.Bounds()
		return min
	} else if pctile >= 1 {
		_, max := q.Bounds()
		return max
	}

	if !q.Sorted {
		q = *q.Copy().Sort()
	}

	N := float64(len(q.Xs))
	n := 1/3.0 + pctile*(N+1/3.0) // R8
	kf, frac := math.Modf(n)
	k := int(kf)
	if k <= 0 {
		return q.Xs[0]
	} else if k >= len(q.Xs) {
		return q.Xs[len(q.Xs)-1]
	}
	return q.Xs[k-1] + frac*(q.Xs[k]-q.Xs[k-1])
}

// Sort sorts the samples in place in q and returns q.
func (q *Quantile) Sort() *Quantile {
	if !q.Sorted && !sort.Float64sAreSorted(q.Xs) {
		sort.Float64s(q.Xs)
	}
	q.Sorted = true
	return q
}

// Copy returns a copy of the Quantile sharing no data with the original.
func (q Quantile) Copy() *Quantile {
	xs := make([]float64, len(q.Xs))
	copy(xs, q.Xs)
	return &Quantile{Xs: xs, Sorted: q.Sorted}
}
