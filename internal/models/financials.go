package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuarterlyRecord holds one fiscal quarter of fundamentals for an entity.
// Nil fields mean the provider did not report the value.
type QuarterlyRecord struct {
	EntityID          int64      `json:"entity_id" db:"entity_id"`
	FiscalPeriod      string     `json:"fiscal_period" db:"fiscal_period"`
	FiscalYear        int        `json:"fiscal_year" db:"fiscal_year"`
	Quarter           int        `json:"quarter" db:"quarter"`
	PeriodEnd         *time.Time `json:"period_end,omitempty" db:"period_end"`
	SharesOutstanding *float64   `json:"shares_outstanding" db:"shares_outstanding"`
	FreeCashFlow      *float64   `json:"free_cash_flow" db:"free_cash_flow"`
	StockBasedComp    *float64   `json:"stock_based_comp" db:"stock_based_comp"`
	Revenue           *float64   `json:"revenue" db:"revenue"`
	Cash              *float64   `json:"cash" db:"cash"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// FiscalPeriodFromDate converts a period end date to "YYYY-QN"
func FiscalPeriodFromDate(t time.Time) string {
	q := (int(t.Month())-1)/3 + 1
	return fmt.Sprintf("%04d-Q%d", t.Year(), q)
}

// ParseFiscalPeriod splits "2024-Q3" into (2024, 3)
func ParseFiscalPeriod(period string) (year, quarter int, err error) {
	parts := strings.Split(period, "-Q")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed fiscal period %q", period)
	}
	year, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed fiscal year in %q: %w", period, err)
	}
	quarter, err = strconv.Atoi(parts[1])
	if err != nil || quarter < 1 || quarter > 4 {
		return 0, 0, fmt.Errorf("malformed quarter in %q", period)
	}
	return year, quarter, nil
}

// Float returns the value or 0 when nil
func Float(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// FloatPtr returns a pointer to v
func FloatPtr(v float64) *float64 {
	return &v
}
