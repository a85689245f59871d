package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ajharbinger/dilution-monitor/internal/cache"
	"github.com/ajharbinger/dilution-monitor/internal/classifier"
	"github.com/ajharbinger/dilution-monitor/internal/logger"
	"github.com/ajharbinger/dilution-monitor/internal/models"
)

// EDGAR endpoints
const (
	DefaultTickersURL     = "https://www.sec.gov/files/company_tickers.json"
	DefaultSubmissionsURL = "https://data.sec.gov/submissions"
	DefaultArchivesURL    = "https://www.sec.gov/Archives/edgar/data"

	EDGARRequestsPerSecond = 8
	tickerMapCacheKey      = "edgar:company_tickers"
	tickerMapTTL           = 24 * time.Hour
	defaultFilingLimit     = 20
)

// DefaultFormTypes are the filing types inspected for dilution
var DefaultFormTypes = []string{models.FormS3, models.FormS3A, "424B5", "8-K"}

// ErrCIKNotFound is returned when the registry has no CIK for a ticker
var ErrCIKNotFound = errors.New("no CIK registered for ticker")

// EDGARConfig configures the EDGAR client. UserAgent must carry a contact address.
type EDGARConfig struct {
	UserAgent      string
	TickersURL     string
	SubmissionsURL string
	ArchivesURL    string
}

// EDGARClient looks up CIKs, lists filings and fetches filing text
type EDGARClient struct {
	client *Client
	cache  cache.Cache
	cfg    EDGARConfig
	log    logger.Logger

	mu      sync.Mutex
	tickers map[string]string
}

// NewEDGARClient creates a client; cache may be nil
func NewEDGARClient(cfg EDGARConfig, client *Client, c cache.Cache, log logger.Logger) *EDGARClient {
	if cfg.TickersURL == "" {
		cfg.TickersURL = DefaultTickersURL
	}
	if cfg.SubmissionsURL == "" {
		cfg.SubmissionsURL = DefaultSubmissionsURL
	}
	if cfg.ArchivesURL == "" {
		cfg.ArchivesURL = DefaultArchivesURL
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &EDGARClient{client: client, cache: c, cfg: cfg, log: log}
}

type tickerEntry struct {
	CIK    int64  `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// LookupCIK returns the zero-padded 10-digit CIK for a ticker
func (e *EDGARClient) LookupCIK(ctx context.Context, ticker string) (string, error) {
	tickers, err := e.tickerMap(ctx)
	if err != nil {
		return "", err
	}
	cik, ok := tickers[strings.ToUpper(strings.TrimSpace(ticker))]
	if !ok {
		return "", ErrCIKNotFound
	}
	return cik, nil
}

func (e *EDGARClient) tickerMap(ctx context.Context) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tickers != nil {
		return e.tickers, nil
	}

	var cached map[string]string
	if err := e.cache.Get(ctx, tickerMapCacheKey, &cached); err == nil && len(cached) > 0 {
		e.tickers = cached
		return cached, nil
	}

	var raw map[string]tickerEntry
	if err := e.client.GetJSON(ctx, e.cfg.TickersURL, &raw); err != nil {
		return nil, err
	}
	tickers := make(map[string]string, len(raw))
	for _, entry := range raw {
		t := strings.ToUpper(entry.Ticker)
		if t == "" || entry.CIK <= 0 {
			continue
		}
		tickers[t] = PadCIK(strconv.FormatInt(entry.CIK, 10))
	}
	if err := e.cache.Set(ctx, tickerMapCacheKey, tickers, tickerMapTTL); err != nil {
		e.log.Warn("Failed to cache ticker map", "error", err.Error())
	}
	e.log.Info("Loaded ticker to CIK map", "count", len(tickers))
	e.tickers = tickers
	return tickers, nil
}

// PadCIK left-pads a CIK with zeros to 10 digits
func PadCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

type submissions struct {
	Filings struct {
		Recent struct {
			AccessionNumber []string `json:"accessionNumber"`
			FilingDate      []string `json:"filingDate"`
			Form            []string `json:"form"`
			PrimaryDocument []string `json:"primaryDocument"`
		} `json:"recent"`
	} `json:"filings"`
}

// RecentFilings lists the most recent filings of the given form types, newest first
func (e *EDGARClient) RecentFilings(ctx context.Context, cik string, formTypes []string, limit int) ([]models.FilingMetadata, error) {
	if len(formTypes) == 0 {
		formTypes = DefaultFormTypes
	}
	if limit <= 0 {
		limit = defaultFilingLimit
	}
	wanted := make(map[string]bool, len(formTypes))
	for _, f := range formTypes {
		wanted[f] = true
	}

	cik = PadCIK(cik)
	var sub submissions
	url := fmt.Sprintf("%s/CIK%s.json", strings.TrimRight(e.cfg.SubmissionsURL, "/"), cik)
	if err := e.client.GetJSON(ctx, url, &sub); err != nil {
		return nil, err
	}

	recent := sub.Filings.Recent
	entityCIK := strings.TrimLeft(cik, "0")
	if entityCIK == "" {
		entityCIK = "0"
	}

	var out []models.FilingMetadata
	for i, form := range recent.Form {
		if !wanted[form] || i >= len(recent.AccessionNumber) {
			continue
		}
		meta := models.FilingMetadata{
			AccessionID: recent.AccessionNumber[i],
			FilingType:  form,
		}
		if i < len(recent.FilingDate) {
			if d, err := time.Parse("2006-01-02", recent.FilingDate[i]); err == nil {
				meta.FiledDate = &d
			}
		}
		if i < len(recent.PrimaryDocument) && recent.PrimaryDocument[i] != "" {
			meta.DocumentURL = fmt.Sprintf("%s/%s/%s/%s",
				strings.TrimRight(e.cfg.ArchivesURL, "/"), entityCIK,
				strings.ReplaceAll(meta.AccessionID, "-", ""), recent.PrimaryDocument[i])
		}
		out = append(out, meta)
		if len(out) >= limit {
			break
		}
	}
	e.log.Debug("Listed filings", "cik", cik, "count", len(out))
	return out, nil
}

// DocumentText fetches a filing document and returns its leading text with markup removed
func (e *EDGARClient) DocumentText(ctx context.Context, documentURL string) (string, error) {
	if documentURL == "" {
		return "", fmt.Errorf("empty document URL")
	}
	body, err := e.client.Get(ctx, documentURL)
	if err != nil {
		return "", err
	}
	return classifier.ExtractText(string(body), classifier.MaxTextChars), nil
}
