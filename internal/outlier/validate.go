package outlier

import (
	"fmt"
	"math"

	"github.com/ajharbinger/dilution-monitor/internal/models"
)

// Thresholds for incoming-value checks
const (
	SuspectRatio        = 5.0
	MarketCapRatioLimit = 3.0
	minHistory          = 3
	zeroHistoryLimit    = 1e6
)

// Field names used in reports, matching the stored column names
const (
	FieldFreeCashFlow      = "free_cash_flow"
	FieldCash              = "cash"
	FieldRevenue           = "revenue"
	FieldStockBasedComp    = "stock_based_comp"
	FieldSharesOutstanding = "shares_outstanding"
)

// Fields lists every numeric fundamentals field in report order
var Fields = []string{FieldFreeCashFlow, FieldCash, FieldRevenue, FieldStockBasedComp, FieldSharesOutstanding}

// FieldValue returns a pointer to the named field of r
func FieldValue(r *models.QuarterlyRecord, field string) **float64 {
	switch field {
	case FieldFreeCashFlow:
		return &r.FreeCashFlow
	case FieldCash:
		return &r.Cash
	case FieldRevenue:
		return &r.Revenue
	case FieldStockBasedComp:
		return &r.StockBasedComp
	case FieldSharesOutstanding:
		return &r.SharesOutstanding
	}
	return nil
}

// FieldOutlier is one stored value outside its series fence
type FieldOutlier struct {
	FiscalPeriod string  `json:"fiscal_period"`
	Field        string  `json:"field"`
	Value        float64 `json:"value"`
	Fence        Fence   `json:"fence"`
}

// DetectFieldOutliers scans every numeric field of an entity's history
func DetectFieldOutliers(records []models.QuarterlyRecord, k float64) []FieldOutlier {
	if k <= 0 {
		k = DefaultFence
	}
	var out []FieldOutlier
	for _, field := range Fields {
		var periods []string
		var values []float64
		for i := range records {
			v := *FieldValue(&records[i], field)
			if v == nil {
				continue
			}
			periods = append(periods, records[i].FiscalPeriod)
			values = append(values, *v)
		}
		if len(values) < MinSamples {
			continue
		}

		fence := ComputeFence(values, k)
		for i, v := range values {
			if !fence.Contains(v) {
				out = append(out, FieldOutlier{FiscalPeriod: periods[i], Field: field, Value: v, Fence: fence})
			}
		}
	}
	return out
}

// CheckIncoming decides whether a new provider value is implausible given the
// entity's stored history for the same field, or its market cap when history is thin.
func CheckIncoming(value float64, history []float64, marketCap *float64) (bool, string) {
	if len(history) >= minHistory {
		median := Median(history)
		if median != 0 {
			ratio := math.Abs(value / median)
			if ratio > SuspectRatio {
				return true, fmt.Sprintf("%.1fx median (%.0f)", ratio, median)
			}
			return false, ""
		}
		if value == 0 {
			return false, ""
		}
		var maxAbs float64
		for _, h := range history {
			maxAbs = math.Max(maxAbs, math.Abs(h))
		}
		if maxAbs > 0 && math.Abs(value)/maxAbs > SuspectRatio {
			return true, fmt.Sprintf("%.1fx max existing (%.0f)", math.Abs(value)/maxAbs, maxAbs)
		}
		if maxAbs == 0 && math.Abs(value) > zeroHistoryLimit {
			return true, fmt.Sprintf("history is all zero, incoming is %.0f", value)
		}
		return false, ""
	}

	if marketCap != nil && *marketCap > 0 && math.Abs(value) > *marketCap*MarketCapRatioLimit {
		return true, fmt.Sprintf("%.1fx market cap (%.0f)", math.Abs(value) / *marketCap, *marketCap)
	}
	return false, ""
}

// Discarded describes a field dropped from an incoming record
type Discarded struct {
	Field  string  `json:"field"`
	Value  float64 `json:"value"`
	Reason string  `json:"reason"`
}

// ScrubIncoming returns a copy of rec with suspect fields set to nil
func ScrubIncoming(rec models.QuarterlyRecord, history []models.QuarterlyRecord, marketCap *float64) (models.QuarterlyRecord, []Discarded) {
	var dropped []Discarded
	for _, field := range Fields {
		ptr := FieldValue(&rec, field)
		if *ptr == nil {
			continue
		}

		var past []float64
		for i := range history {
			if history[i].FiscalPeriod == rec.FiscalPeriod {
				continue
			}
			if v := *FieldValue(&history[i], field); v != nil {
				past = append(past, *v)
			}
		}

		if suspect, reason := CheckIncoming(**ptr, past, marketCap); suspect {
			dropped = append(dropped, Discarded{Field: field, Value: **ptr, Reason: reason})
			*ptr = nil
		}
	}
	return rec, dropped
}
