package outlier

import (
	"math"
	"reflect"
	"testing"
)

func TestFilter_ShortSeriesUnchanged(t *testing.T) {
	inputs := [][]float64{
		nil,
		{},
		{-1e12},
		{1, 1000000},
		{5, -5, 5e9},
	}

	for _, in := range inputs {
		got := Filter(in, DefaultFence)
		if !reflect.DeepEqual(got, in) {
			t.Errorf("Filter(%v) = %v, expected input unchanged", in, got)
		}
	}
}

func TestFilter_RemovesGrossOutlier(t *testing.T) {
	fcf := []float64{-9_200_000_000, -9_500_000, -8_000_000, -9_000_000}

	got := Filter(fcf, DefaultFence)
	want := []float64{-9_500_000, -8_000_000, -9_000_000}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Filter() = %v, want %v", got, want)
	}

	mean := Mean(got)
	if math.Abs(mean-(-8_833_333.33)) > 1 {
		t.Errorf("expected mean burn near -8,833,333, got %.2f", mean)
	}
}

func TestFilter_PreservesOrderAndNormalVariance(t *testing.T) {
	in := []float64{10, 12, 9, 11, 13, 8}
	got := Filter(in, DefaultFence)
	if !reflect.DeepEqual(got, in) {
		t.Errorf("expected normal variance to pass through, got %v", got)
	}
}

func TestFilter_NeverEmpty(t *testing.T) {
	inputs := [][]float64{
		{1, 1, 1, 1},
		{0, 0, 0, 1e9},
		{-3, 7, 1e6, -1e6, 42},
		{math.Inf(1), math.Inf(-1), 0, 1},
	}

	for _, in := range inputs {
		if got := Filter(in, DefaultFence); len(got) == 0 {
			t.Errorf("Filter(%v) returned an empty result", in)
		}
	}
}

func TestApply_ReportsRemoved(t *testing.T) {
	res := Apply([]float64{100, 110, 105, 95, 100000}, DefaultFence)

	if len(res.Removed) != 1 || res.Removed[0] != 100000 {
		t.Errorf("expected 100000 removed, got %v", res.Removed)
	}
	if res.Fence == nil {
		t.Fatal("expected fence to be reported")
	}
	if !res.Fence.Contains(100) || res.Fence.Contains(100000) {
		t.Errorf("unexpected fence %+v", *res.Fence)
	}
}

func TestQuartiles(t *testing.T) {
	q1, q3 := Quartiles([]float64{4, 1, 3, 2})
	if q1 != 2 || q3 != 4 {
		t.Errorf("Quartiles() = (%v, %v), want (2, 4)", q1, q3)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		in   []float64
		want float64
	}{
		{nil, 0},
		{[]float64{3}, 3},
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
	}
	for _, tt := range tests {
		if got := Median(tt.in); got != tt.want {
			t.Errorf("Median(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
