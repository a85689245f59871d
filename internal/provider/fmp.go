package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ajharbinger/dilution-monitor/internal/logger"
	"github.com/ajharbinger/dilution-monitor/internal/models"
)

// FMP defaults
const (
	DefaultFMPBaseURL    = "https://financialmodelingprep.com/stable"
	FMPRequestsPerSecond = 4
	universeLimit        = 10000
	dateLayout           = "2006-01-02"
)

// FMPClient reads the equity universe, quarterly statements and prices
type FMPClient struct {
	client  *Client
	apiKey  string
	baseURL string
	log     logger.Logger
}

// NewFMPClient creates a client; the underlying Client should mask the apikey param
func NewFMPClient(apiKey, baseURL string, client *Client, log logger.Logger) *FMPClient {
	if baseURL == "" {
		baseURL = DefaultFMPBaseURL
	}
	return &FMPClient{client: client, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

func (f *FMPClient) endpoint(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", f.apiKey)
	return f.baseURL + path + "?" + params.Encode()
}

type screenerRow struct {
	Symbol      string   `json:"symbol"`
	CompanyName string   `json:"companyName"`
	Sector      string   `json:"sector"`
	Exchange    string   `json:"exchangeShortName"`
	ExchangeAlt string   `json:"exchange"`
	MarketCap   *float64 `json:"marketCap"`
}

// ListUniverse returns listed equities with a positive market cap
func (f *FMPClient) ListUniverse(ctx context.Context) ([]models.UniverseEntry, error) {
	var rows []screenerRow
	params := url.Values{"limit": {strconv.Itoa(universeLimit)}}
	if err := f.client.GetJSON(ctx, f.endpoint("/company-screener", params), &rows); err != nil {
		return nil, err
	}

	out := make([]models.UniverseEntry, 0, len(rows))
	for _, r := range rows {
		if r.Symbol == "" || r.MarketCap == nil || *r.MarketCap <= 0 {
			continue
		}
		name := r.CompanyName
		if name == "" {
			name = r.Symbol
		}
		exchange := r.Exchange
		if exchange == "" {
			exchange = r.ExchangeAlt
		}
		out = append(out, models.UniverseEntry{
			Ticker:    strings.ToUpper(r.Symbol),
			Name:      name,
			Sector:    r.Sector,
			Exchange:  exchange,
			MarketCap: *r.MarketCap,
		})
	}
	f.log.Info("Fetched equity universe", "raw", len(rows), "kept", len(out))
	return out, nil
}

type incomeRow struct {
	Date    string   `json:"date"`
	Shares  *float64 `json:"weightedAverageShsOutDil"`
	Revenue *float64 `json:"revenue"`
}

type cashFlowRow struct {
	Date           string   `json:"date"`
	FreeCashFlow   *float64 `json:"freeCashFlow"`
	StockBasedComp *float64 `json:"stockBasedCompensation"`
}

type balanceRow struct {
	Date string   `json:"date"`
	Cash *float64 `json:"cashAndCashEquivalents"`
}

// GetFundamentals merges quarterly income, cash flow and balance sheet rows
// by statement date, returning records oldest first
func (f *FMPClient) GetFundamentals(ctx context.Context, ticker string, quarters int) ([]models.QuarterlyRecord, error) {
	if quarters <= 0 {
		quarters = 12
	}
	params := func() url.Values {
		return url.Values{"symbol": {ticker}, "period": {"quarter"}, "limit": {strconv.Itoa(quarters)}}
	}

	var income []incomeRow
	if err := f.client.GetJSON(ctx, f.endpoint("/income-statement", params()), &income); err != nil {
		return nil, err
	}
	var cashFlow []cashFlowRow
	if err := f.client.GetJSON(ctx, f.endpoint("/cash-flow-statement", params()), &cashFlow); err != nil {
		return nil, err
	}
	var balance []balanceRow
	if err := f.client.GetJSON(ctx, f.endpoint("/balance-sheet-statement", params()), &balance); err != nil {
		return nil, err
	}

	return mergeStatements(income, cashFlow, balance), nil
}

// mergeStatements joins the three statements on date. Income rows drive the
// output; a period missing from the other statements keeps nil fields.
func mergeStatements(income []incomeRow, cashFlow []cashFlowRow, balance []balanceRow) []models.QuarterlyRecord {
	cfByDate := make(map[string]cashFlowRow, len(cashFlow))
	for _, r := range cashFlow {
		cfByDate[r.Date] = r
	}
	bsByDate := make(map[string]balanceRow, len(balance))
	for _, r := range balance {
		bsByDate[r.Date] = r
	}

	seen := make(map[string]bool, len(income))
	var out []models.QuarterlyRecord
	for _, inc := range income {
		d, err := time.Parse(dateLayout, inc.Date)
		if err != nil {
			continue
		}
		period := models.FiscalPeriodFromDate(d)
		if seen[period] {
			continue
		}
		seen[period] = true

		y, q, _ := models.ParseFiscalPeriod(period)
		rec := models.QuarterlyRecord{
			FiscalPeriod:      period,
			FiscalYear:        y,
			Quarter:           q,
			PeriodEnd:         &d,
			SharesOutstanding: inc.Shares,
			Revenue:           inc.Revenue,
		}
		if cf, ok := cfByDate[inc.Date]; ok {
			rec.FreeCashFlow = cf.FreeCashFlow
			rec.StockBasedComp = cf.StockBasedComp
		}
		if bs, ok := bsByDate[inc.Date]; ok {
			rec.Cash = bs.Cash
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FiscalPeriod < out[j].FiscalPeriod })
	return out
}

type priceRow struct {
	Date     string   `json:"date"`
	Close    *float64 `json:"close"`
	AdjClose *float64 `json:"adjClose"`
}

func (p priceRow) price() float64 {
	if p.AdjClose != nil && *p.AdjClose > 0 {
		return *p.AdjClose
	}
	return models.Float(p.Close)
}

// GetPriceChange12M returns the split-adjusted price change over the 365 days
// before now, as a fraction. Nil when fewer than two prices exist.
func (f *FMPClient) GetPriceChange12M(ctx context.Context, ticker string, now time.Time) (*float64, error) {
	params := url.Values{
		"symbol": {ticker},
		"from":   {now.AddDate(0, 0, -365).Format(dateLayout)},
		"to":     {now.Format(dateLayout)},
	}
	body, err := f.client.Get(ctx, f.endpoint("/historical-price-eod/full", params))
	if err != nil {
		return nil, err
	}
	rows, err := decodePrices(body)
	if err != nil {
		return nil, fmt.Errorf("decode prices for %s: %w", ticker, err)
	}
	return priceChange(rows), nil
}

// decodePrices accepts either a bare array or an object with a "historical" array
func decodePrices(body []byte) ([]priceRow, error) {
	var rows []priceRow
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}
	var wrapped struct {
		Historical []priceRow `json:"historical"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Historical, nil
}

// priceChange computes (last - first) / first over rows sorted by date
func priceChange(rows []priceRow) *float64 {
	var valid []priceRow
	for _, r := range rows {
		if r.Date != "" && r.price() > 0 {
			valid = append(valid, r)
		}
	}
	if len(valid) < 2 {
		return nil
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Date < valid[j].Date })
	first, last := valid[0].price(), valid[len(valid)-1].price()
	change := (last - first) / first
	return &change
}
