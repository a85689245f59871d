package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajharbinger/dilution-monitor/internal/repository"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	historyLimit    = 52

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// CompanyHandler serves scored companies, their history and the screener
type CompanyHandler struct {
	companies CompanyReader
	exporter  WatchlistExporter
}

// NewCompanyHandler creates a new company handler
func NewCompanyHandler(companies CompanyReader, exporter WatchlistExporter) *CompanyHandler {
	return &CompanyHandler{companies: companies, exporter: exporter}
}

// ListCompanies returns the latest snapshot per entity, highest composite first by default
func (h *CompanyHandler) ListCompanies(c *gin.Context) {
	tiers, ok := queryTiers(c)
	if !ok {
		return
	}
	sort := c.DefaultQuery("sort", repository.SortComposite)
	switch sort {
	case repository.SortComposite, repository.SortTicker, repository.SortScoredAt:
	default:
		badRequest(c, "invalid sort: must be composite, ticker or scored_at")
		return
	}
	limit, ok := queryInt(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}

	companies, err := h.companies.List(repository.SnapshotFilters{
		Tiers:  tiers,
		Sort:   sort,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"companies": companies,
		"count":     len(companies),
		"limit":     limit,
		"offset":    offset,
		"timestamp": time.Now(),
	})
}

// GetCompany returns one entity and its latest score
func (h *CompanyHandler) GetCompany(c *gin.Context) {
	detail, err := h.companies.Get(ticker(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"company":      detail.Entity,
		"latest_score": detail.LatestScore,
		"timestamp":    time.Now(),
	})
}

// GetHistory returns the score snapshots of an entity, newest first
func (h *CompanyHandler) GetHistory(c *gin.Context) {
	limit, ok := queryInt(c, "limit", historyLimit)
	if !ok {
		return
	}
	history, err := h.companies.History(ticker(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ticker":    ticker(c),
		"history":   history,
		"timestamp": time.Now(),
	})
}

// GetFilings returns the classified filings of an entity
func (h *CompanyHandler) GetFilings(c *gin.Context) {
	filings, err := h.companies.Filings(ticker(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ticker":    ticker(c),
		"filings":   filings,
		"timestamp": time.Now(),
	})
}

// GetFundamentals returns the stored quarterly records of an entity
func (h *CompanyHandler) GetFundamentals(c *gin.Context) {
	quarters, err := h.companies.Fundamentals(ticker(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ticker":    ticker(c),
		"quarters":  quarters,
		"timestamp": time.Now(),
	})
}

// Screener filters the latest snapshots by score range, sector and ATM activity
func (h *CompanyHandler) Screener(c *gin.Context) {
	minScore, ok := queryFloat(c, "min_score")
	if !ok {
		return
	}
	maxScore, ok := queryFloat(c, "max_score")
	if !ok {
		return
	}
	if minScore != nil && maxScore != nil && *minScore > *maxScore {
		badRequest(c, "min_score must not exceed max_score")
		return
	}
	atmActive, ok := queryBool(c, "atm_active")
	if !ok {
		return
	}
	tiers, ok := queryTiers(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	results, err := h.companies.List(repository.SnapshotFilters{
		Tiers:     tiers,
		MinScore:  minScore,
		MaxScore:  maxScore,
		Sector:    c.Query("sector"),
		ATMActive: atmActive,
		Sort:      repository.SortComposite,
		Limit:     limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"count":     len(results),
		"timestamp": time.Now(),
	})
}

// GetStats returns tier counts and the last pipeline run
func (h *CompanyHandler) GetStats(c *gin.Context) {
	stats, err := h.companies.Stats()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tier_counts": stats.TierCounts,
		"last_run":    stats.LastRun,
		"timestamp":   time.Now(),
	})
}

// ExportWatchlist streams the critical and watchlist entities as an xlsx workbook
func (h *CompanyHandler) ExportWatchlist(c *gin.Context) {
	tiers, ok := queryTiers(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	rows, err := h.exporter.Export(&buf, tiers)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("watchlist_%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("X-Row-Count", strconv.Itoa(rows))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func ticker(c *gin.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
}
