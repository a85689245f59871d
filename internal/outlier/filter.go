// Package outlier removes gross magnitude errors from provider time series
// using a wide interquartile-range fence.
package outlier

import "sort"

// DefaultFence is the IQR multiplier used when none is configured
const DefaultFence = 3.0

// MinSamples is the smallest series the filter acts on
const MinSamples = 4

// Fence is the acceptance interval computed for one series
type Fence struct {
	Q1    float64 `json:"q1"`
	Q3    float64 `json:"q3"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Contains reports whether v lies inside the fence, bounds inclusive
func (f Fence) Contains(v float64) bool {
	return v >= f.Lower && v <= f.Upper
}

// Quartiles returns Q1 and Q3 using nearest-rank positions n/4 and 3n/4
// of the sorted sample. values must be non-empty.
func Quartiles(values []float64) (q1, q3 float64) {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	return sorted[n/4], sorted[(3*n)/4]
}

// ComputeFence builds the [Q1 - k*IQR, Q3 + k*IQR] interval
func ComputeFence(values []float64, k float64) Fence {
	q1, q3 := Quartiles(values)
	iqr := q3 - q1
	return Fence{Q1: q1, Q3: q3, Lower: q1 - k*iqr, Upper: q3 + k*iqr}
}

// Result describes one filter application
type Result struct {
	Kept    []float64
	Removed []float64
	Fence   *Fence
}

// Apply filters values and reports what was removed.
// Fewer than MinSamples values pass through untouched, and a filter that
// would exclude everything returns the input instead.
func Apply(values []float64, k float64) Result {
	if len(values) < MinSamples {
		return Result{Kept: values}
	}
	if k <= 0 {
		k = DefaultFence
	}

	fence := ComputeFence(values, k)
	kept := make([]float64, 0, len(values))
	var removed []float64
	for _, v := range values {
		if fence.Contains(v) {
			kept = append(kept, v)
		} else {
			removed = append(removed, v)
		}
	}

	if len(kept) == 0 {
		return Result{Kept: values, Fence: &fence}
	}
	return Result{Kept: kept, Removed: removed, Fence: &fence}
}

// Filter returns only the samples inside the fence, in original order
func Filter(values []float64, k float64) []float64 {
	return Apply(values, k).Kept
}

// Mean returns the arithmetic mean, or 0 for an empty slice
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median returns the sample median, averaging the two middle values for even n
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
