package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/repository"
	"github.com/ajharbinger/dilution-monitor/internal/scoring"
	"github.com/ajharbinger/dilution-monitor/internal/services"
)

// CompanyReader is the read side used by the company, screener and stats endpoints
type CompanyReader interface {
	List(filters repository.SnapshotFilters) ([]models.ScoreSnapshot, error)
	Get(ticker string) (*services.CompanyDetail, error)
	History(ticker string, limit int) ([]models.ScoreSnapshot, error)
	Filings(ticker string) ([]models.FilingEvent, error)
	Fundamentals(ticker string) ([]models.QuarterlyRecord, error)
	Stats() (*services.Stats, error)
}

// ScoringConfigManager reads and replaces the active scoring configuration
type ScoringConfigManager interface {
	Get() scoring.Config
	Update(cfg scoring.Config) error
}

// WatchlistExporter writes the watchlist workbook
type WatchlistExporter interface {
	Export(w io.Writer, tiers []models.Tier) (int, error)
}

// PipelineController controls pipeline runs and the scheduler
type PipelineController interface {
	Trigger(ctx context.Context, opts services.RunOptions) (uuid.UUID, error)
	Start(opts services.RunOptions) error
	Stop() error
	Status() services.PipelineStatus
}

// respondError writes err with the status its code maps to
func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	body := gin.H{
		"error":     err.Error(),
		"timestamp": time.Now(),
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		body["error"] = appErr.Message
		body["code"] = appErr.Code
		if appErr.Details != "" {
			body["details"] = appErr.Details
		}
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":     message,
		"code":      apperrors.ErrCodeInvalidInput,
		"timestamp": time.Now(),
	})
}

// queryInt parses an optional non-negative integer parameter
func queryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		badRequest(c, "invalid "+name+": must be a non-negative integer")
		return 0, false
	}
	return v, true
}

// queryFloat parses an optional float parameter into a pointer
func queryFloat(c *gin.Context, name string) (*float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		badRequest(c, "invalid "+name+": must be a number")
		return nil, false
	}
	return &v, true
}

func queryBool(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, "invalid "+name+": must be true or false")
		return nil, false
	}
	return &v, true
}

// queryTiers parses a repeated or comma-separated tier parameter
func queryTiers(c *gin.Context) ([]models.Tier, bool) {
	var tiers []models.Tier
	for _, raw := range c.QueryArray("tier") {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t := models.Tier(part)
			if !t.Valid() {
				badRequest(c, "invalid tier: "+part)
				return nil, false
			}
			tiers = append(tiers, t)
		}
	}
	return tiers, true
}
