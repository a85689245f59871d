// Package tiering assigns tracking tiers by percentile rank across the scored population.
package tiering

import (
	"math"
	"sort"

	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/scoring"
)

// EntityScore is one entity's position going into a tiering pass
type EntityScore struct {
	EntityID  int64
	Ticker    string
	Composite *float64
	// Promoted is true once the entity has passed the quick screen
	Promoted bool
	// Excluded entities (SPACs, non-equity) are always inactive
	Excluded bool
}

// Change is a tier transition produced by a tiering pass
type Change struct {
	EntityID  int64
	Ticker    string
	Previous  models.Tier
	Current   models.Tier
	Composite *float64
}

// BandSizes returns how many ranked entities land in critical and watchlist.
// Both bands are cumulative cut points rounded half away from zero.
func BandSizes(n int, p scoring.Percentiles) (critical, watchlist int) {
	if n <= 0 {
		return 0, 0
	}
	critical = clamp(int(math.Round(float64(n)*p.Critical)), 0, n)
	upper := clamp(int(math.Round(float64(n)*(p.Critical+p.Watchlist))), critical, n)
	return critical, upper - critical
}

// AssignTiers ranks every promoted entity with a defined composite by score
// (ties broken by ticker) and assigns critical, watchlist and monitoring bands.
// Promoted entities without a composite are monitoring; the rest stay inactive.
func AssignTiers(scores []EntityScore, p scoring.Percentiles) map[int64]models.Tier {
	tiers := make(map[int64]models.Tier, len(scores))

	var ranked []EntityScore
	for _, s := range scores {
		switch {
		case s.Excluded || !s.Promoted:
			tiers[s.EntityID] = models.TierInactive
		case s.Composite == nil:
			tiers[s.EntityID] = models.TierMonitoring
		default:
			ranked = append(ranked, s)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := *ranked[i].Composite, *ranked[j].Composite
		if a != b {
			return a > b
		}
		return ranked[i].Ticker < ranked[j].Ticker
	})

	critical, watchlist := BandSizes(len(ranked), p)
	for i, s := range ranked {
		switch {
		case i < critical:
			tiers[s.EntityID] = models.TierCritical
		case i < critical+watchlist:
			tiers[s.EntityID] = models.TierWatchlist
		default:
			tiers[s.EntityID] = models.TierMonitoring
		}
	}
	return tiers
}

// Diff lists the entities whose tier differs from previous
func Diff(scores []EntityScore, previous, current map[int64]models.Tier) []Change {
	var changes []Change
	for _, s := range scores {
		prev, ok := previous[s.EntityID]
		if !ok {
			prev = models.TierInactive
		}
		cur := current[s.EntityID]
		if cur != prev {
			changes = append(changes, Change{
				EntityID:  s.EntityID,
				Ticker:    s.Ticker,
				Previous:  prev,
				Current:   cur,
				Composite: s.Composite,
			})
		}
	}
	return changes
}

// Counts tallies entities per tier
func Counts(tiers map[int64]models.Tier) map[models.Tier]int {
	counts := map[models.Tier]int{
		models.TierInactive:   0,
		models.TierMonitoring: 0,
		models.TierWatchlist:  0,
		models.TierCritical:   0,
	}
	for _, t := range tiers {
		counts[t]++
	}
	return counts
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
