package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/outlier"
)

const (
	daysPerMonth = 30.44
	daysPerYear  = 365
)

// Metric is one sub-score with the raw figure it was derived from.
// Value may be nil while Score is still available (no burn, forced comp score).
type Metric struct {
	Score models.SubScore
	Value *float64
}

// OutlierRemoval records values dropped from a series before averaging
type OutlierRemoval struct {
	Series  string
	Removed []float64
	Fence   outlier.Fence
}

// ATMState is the shelf lookup behind the ATM risk score
type ATMState struct {
	Metric
	ProgramActive     bool
	ShelfAgeMonths    *float64
	SubsequentSelling bool
}

// sortedWindow orders quarters oldest first and keeps the most recent n
func sortedWindow(quarters []models.QuarterlyRecord, n int) []models.QuarterlyRecord {
	out := make([]models.QuarterlyRecord, len(quarters))
	copy(out, quarters)
	sort.SliceStable(out, func(i, j int) bool {
		return periodIndex(out[i]) < periodIndex(out[j])
	})
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func periodIndex(r models.QuarterlyRecord) int {
	if r.FiscalYear > 0 && r.Quarter >= 1 && r.Quarter <= 4 {
		return r.FiscalYear*4 + r.Quarter - 1
	}
	y, q, err := models.ParseFiscalPeriod(r.FiscalPeriod)
	if err != nil {
		return 0
	}
	return y*4 + q - 1
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(v, 100))
}

func available(score float64) models.SubScore {
	return models.SubScore{Score: clampScore(score), Available: true}
}

// ShareCAGR annualizes growth between the oldest and newest positive share counts.
// Elapsed quarters come from fiscal periods when both parse, otherwise from the sample gap.
func ShareCAGR(window []models.QuarterlyRecord) (float64, bool) {
	type point struct {
		shares float64
		idx    int
		pos    int
	}
	var pts []point
	for i, r := range window {
		if r.SharesOutstanding != nil && *r.SharesOutstanding > 0 {
			pts = append(pts, point{shares: *r.SharesOutstanding, idx: periodIndex(r), pos: i})
		}
	}
	if len(pts) < 2 {
		return 0, false
	}
	first, last := pts[0], pts[len(pts)-1]
	elapsed := float64(last.idx - first.idx)
	if first.idx == 0 || last.idx == 0 || elapsed <= 0 {
		elapsed = float64(last.pos - first.pos)
	}
	if elapsed <= 0 {
		return 0, false
	}
	return math.Pow(last.shares/first.shares, 4/elapsed) - 1, true
}

// ShareGrowthScore scores annualized share count growth against the ceiling
func ShareGrowthScore(window []models.QuarterlyRecord, cfg Config) Metric {
	cagr, ok := ShareCAGR(window)
	if !ok {
		return Metric{}
	}
	score := math.Max(cagr, 0) / cfg.ShareCAGRCeiling * 100
	return Metric{Score: available(score), Value: &cagr}
}

// negativeFCF returns the negative free cash flow values in the window and
// whether any FCF was reported at all
func negativeFCF(window []models.QuarterlyRecord) ([]float64, bool) {
	var neg []float64
	reported := false
	for _, r := range window {
		if r.FreeCashFlow == nil {
			continue
		}
		reported = true
		if *r.FreeCashFlow < 0 {
			neg = append(neg, *r.FreeCashFlow)
		}
	}
	return neg, reported
}

// filteredBurn averages the negative FCF quarters after outlier removal
func filteredBurn(trailing []models.QuarterlyRecord, fence float64) (mean float64, removal *OutlierRemoval, burning, reported bool) {
	neg, reported := negativeFCF(trailing)
	if len(neg) == 0 {
		return 0, nil, false, reported
	}
	res := outlier.Apply(neg, fence)
	if len(res.Removed) > 0 && res.Fence != nil {
		removal = &OutlierRemoval{Series: "free_cash_flow", Removed: res.Removed, Fence: *res.Fence}
	}
	return outlier.Mean(res.Kept), removal, true, reported
}

// CashBurnScore scores annualized negative FCF as a fraction of market cap
func CashBurnScore(trailing []models.QuarterlyRecord, marketCap *float64, cfg Config) (Metric, *OutlierRemoval) {
	if marketCap == nil || *marketCap <= 0 {
		return Metric{}, nil
	}
	mean, removal, burning, reported := filteredBurn(trailing, cfg.OutlierFence)
	if !reported {
		return Metric{}, nil
	}
	if !burning {
		return Metric{Score: available(0)}, nil
	}
	rate := mean * 4 / *marketCap
	return Metric{Score: available(math.Abs(rate) / cfg.FCFBurnCeiling * 100), Value: &rate}, removal
}

// CompIntensityScore scores stock comp relative to revenue over the trailing quarters
func CompIntensityScore(trailing []models.QuarterlyRecord, cfg Config) Metric {
	var sbc, revenue float64
	for _, r := range trailing {
		sbc += models.Float(r.StockBasedComp)
		revenue += models.Float(r.Revenue)
	}
	if revenue <= 0 {
		if sbc > 0 {
			return Metric{Score: available(100)}
		}
		return Metric{}
	}
	ratio := sbc / revenue
	return Metric{Score: available(ratio / cfg.SBCRevenueCeiling * 100), Value: &ratio}
}

// OfferingCount counts dilutive filings on or after the window start
func OfferingCount(filings []models.FilingEvent, years int, now time.Time) int {
	cutoff := now.AddDate(0, 0, -years*daysPerYear)
	n := 0
	for _, f := range filings {
		if f.IsDilutionEvent && f.FiledDate != nil && !f.FiledDate.Before(cutoff) {
			n++
		}
	}
	return n
}

// OfferingFreqScore is always available; zero offerings score zero
func OfferingFreqScore(filings []models.FilingEvent, cfg Config, now time.Time) (Metric, int) {
	count := OfferingCount(filings, cfg.OfferingWindowYears, now)
	v := float64(count)
	return Metric{Score: available(v / cfg.OfferingFreqCeiling * 100), Value: &v}, count
}

// CashRunwayScore converts latest cash over mean quarterly burn into months of runway
func CashRunwayScore(window, trailing []models.QuarterlyRecord, cfg Config) (Metric, *OutlierRemoval) {
	var cash *float64
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Cash != nil {
			cash = window[i].Cash
			break
		}
	}
	if cash == nil {
		return Metric{}, nil
	}
	mean, removal, burning, reported := filteredBurn(trailing, cfg.OutlierFence)
	if !reported {
		return Metric{}, nil
	}
	if !burning || mean == 0 {
		return Metric{Score: available(0)}, nil
	}
	months := *cash / math.Abs(mean) * 3
	score := (cfg.RunwayMaxMonths - months) / cfg.RunwayMaxMonths * 100
	return Metric{Score: available(score), Value: &months}, removal
}

// ATMRiskScore looks up the shelf age and subsequent selling in the state matrix
func ATMRiskScore(filings []models.FilingEvent, cfg Config, now time.Time) ATMState {
	cutoff := now.AddDate(0, 0, -cfg.ATMWindowYears*daysPerYear)

	var shelf *time.Time
	for i := range filings {
		f := filings[i]
		if f.FiledDate == nil || f.FiledDate.Before(cutoff) {
			continue
		}
		isShelf := models.IsShelfForm(f.FilingType) ||
			(f.DilutionType != nil && *f.DilutionType == models.DilutionATM)
		if isShelf && (shelf == nil || f.FiledDate.After(*shelf)) {
			shelf = f.FiledDate
		}
	}
	if shelf == nil {
		return ATMState{Metric: Metric{Score: available(0)}}
	}

	selling := false
	for _, f := range filings {
		if f.IsDilutionEvent && f.FiledDate != nil && !models.IsShelfForm(f.FilingType) && f.FiledDate.After(*shelf) {
			selling = true
			break
		}
	}

	age := now.Sub(*shelf).Hours() / 24 / daysPerMonth
	var score float64
	switch {
	case age < 6:
		score = pick(selling, 90, 100)
	case age < 12:
		score = pick(selling, 80, 70)
	default:
		score = pick(selling, 60, 25)
	}
	return ATMState{
		Metric:            Metric{Score: available(score), Value: &age},
		ProgramActive:     true,
		ShelfAgeMonths:    &age,
		SubsequentSelling: selling,
	}
}

func pick(cond bool, yes, no float64) float64 {
	if cond {
		return yes
	}
	return no
}
