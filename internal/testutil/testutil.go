package testutil

import (
	"math"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var (
	alwaysEqual       = cmp.Comparer(func(_, _ interface{}) bool { return true })
	defaultCmpOptions = []cmp.Option{
		// NaNs compare equal
		cmp.FilterValues(func(x, y float64) bool {
			return math.IsNaN(x) && math.IsNaN(y)
		}, alwaysEqual),
		cmp.FilterValues(func(x, y float32) bool {
			return math.IsNaN(float64(x)) && math.IsNaN(float64(y))
		}, alwaysEqual),
	}

	// ApproxPercent tolerates rounding in percentages computed from durations.
	ApproxPercent = cmpopts.EquateApprox(0, 1e-9)
)

func Diff(a, b interface{}, opts ...cmp.Option) string {
	opts = append(opts, defaultCmpOptions...)
	return cmp.Diff(a, b, opts...)
}

// ApproxDuration treats durations within margin of each other as equal.
func ApproxDuration(margin time.Duration) cmp.Option {
	return cmp.Comparer(func(x, y time.Duration) bool {
		d := x - y
		if d < 0 {
			d = -d
		}
		return d <= margin
	})
}

// AlmostEqual reports whether a and b differ by at most tolerance.
func AlmostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}
