package services

import (
	"context"
	"time"

	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/repository"
	"github.com/ajharbinger/dilution-monitor/internal/scoring"
)

// FinancialsProvider supplies the equity universe, quarterly fundamentals and prices
type FinancialsProvider interface {
	ListUniverse(ctx context.Context) ([]models.UniverseEntry, error)
	GetFundamentals(ctx context.Context, ticker string, quarters int) ([]models.QuarterlyRecord, error)
	GetPriceChange12M(ctx context.Context, ticker string, now time.Time) (*float64, error)
}

// FilingsProvider supplies registry filings and their document text
type FilingsProvider interface {
	LookupCIK(ctx context.Context, ticker string) (string, error)
	RecentFilings(ctx context.Context, cik string, formTypes []string, limit int) ([]models.FilingMetadata, error)
	DocumentText(ctx context.Context, documentURL string) (string, error)
}

// Services contains the read-side application services used by the API
type Services struct {
	Companies *CompanyService
	Config    *ConfigService
	Export    *WatchlistExporter
}

// NewServices creates the read-side services over the given repositories
func NewServices(repos *repository.Repositories, store *scoring.ConfigStore) *Services {
	return &Services{
		Companies: NewCompanyService(repos),
		Config:    NewConfigService(store, repos.Config),
		Export:    NewWatchlistExporter(repos.Snapshots),
	}
}
