package services

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/repository"
)

const watchlistSheet = "Watchlist"

var watchlistHeadings = []string{
	"Ticker", "Tier", "Composite",
	"Share Growth", "Cash Burn", "Comp Intensity", "Offering Freq", "Cash Runway", "ATM Risk",
	"Share CAGR", "FCF Burn Rate", "SBC/Revenue", "Offerings (3Y)", "Runway Months", "ATM Active",
	"Price Change 12M", "Scored At",
}

// WatchlistExporter writes the latest snapshots of promoted entities to a spreadsheet
type WatchlistExporter struct {
	snapshots repository.SnapshotRepository
}

// NewWatchlistExporter creates a new watchlist exporter
func NewWatchlistExporter(snapshots repository.SnapshotRepository) *WatchlistExporter {
	return &WatchlistExporter{snapshots: snapshots}
}

// Export writes an xlsx workbook to w. With no tiers given, critical and watchlist are exported.
func (x *WatchlistExporter) Export(w io.Writer, tiers []models.Tier) (int, error) {
	if len(tiers) == 0 {
		tiers = []models.Tier{models.TierCritical, models.TierWatchlist}
	}
	snapshots, err := x.snapshots.Latest(repository.SnapshotFilters{Tiers: tiers, Sort: repository.SortComposite})
	if err != nil {
		return 0, apperrors.DatabaseError("failed to load watchlist", err).WithOperation("WatchlistExporter.Export")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", watchlistSheet); err != nil {
		return 0, apperrors.InternalError("failed to build workbook", err).WithOperation("WatchlistExporter.Export")
	}

	for i, h := range watchlistHeadings {
		if err := setCell(f, i+1, 1, h); err != nil {
			return 0, err
		}
	}
	for r, s := range snapshots {
		for c, v := range watchlistRow(s) {
			if err := setCell(f, c+1, r+2, v); err != nil {
				return 0, err
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return 0, apperrors.InternalError("failed to write workbook", err).WithOperation("WatchlistExporter.Export")
	}
	return len(snapshots), nil
}

// setCell leaves nil values as empty cells
func setCell(f *excelize.File, col, row int, value interface{}) error {
	if value == nil {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return apperrors.InternalError("invalid cell", err).WithOperation("WatchlistExporter.Export")
	}
	if err := f.SetCellValue(watchlistSheet, cell, value); err != nil {
		return apperrors.InternalError(fmt.Sprintf("failed to set cell %s", cell), err).WithOperation("WatchlistExporter.Export")
	}
	return nil
}

func watchlistRow(s models.ScoreSnapshot) []interface{} {
	return []interface{}{
		s.Ticker,
		string(s.Tier),
		floatCell(s.Composite),
		floatCell(s.ShareGrowth.Ptr()),
		floatCell(s.CashBurn.Ptr()),
		floatCell(s.CompIntensity.Ptr()),
		floatCell(s.OfferingFreq.Ptr()),
		floatCell(s.CashRunway.Ptr()),
		floatCell(s.ATMRisk.Ptr()),
		floatCell(s.ShareCAGR),
		floatCell(s.FCFBurnRate),
		floatCell(s.SBCRevenuePct),
		intCell(s.OfferingCount3Y),
		floatCell(s.CashRunwayMonths),
		s.ATMProgramActive,
		floatCell(s.PriceChange12M),
		s.ScoredAt.UTC().Format("2006-01-02 15:04:05"),
	}
}

func floatCell(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func intCell(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
