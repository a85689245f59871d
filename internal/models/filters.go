package models

import (
	"regexp"
	"strings"
)

var spacPattern = regexp.MustCompile(`(?i)\bAcquisition\b|\bBlank\s+Check\b|\bSPAC\b|\bMerger\s+Corp|\bMerger\s+Sub\b|\bSpecial\s+Purpose\b`)

var nonEquityName = regexp.MustCompile(`(?i)\bWarrants?\b|\bPreferred\b|\bDepositary\b|\bRights?\b\s*$|\bUnits?\b\s*$`)

var nonEquitySuffixes = []string{".W", ".WS", ".U", ".R", "-WT", "-UN", "-WS", "-RT"}

// IsSPACName reports whether a company name looks like a blank-check vehicle
func IsSPACName(name string) bool {
	if name == "" {
		return false
	}
	return spacPattern.MatchString(name)
}

// IsNonEquity reports whether a listing is a warrant, unit, right or preferred line
// rather than common stock
func IsNonEquity(ticker, name string) bool {
	t := strings.ToUpper(ticker)
	for _, suffix := range nonEquitySuffixes {
		if strings.HasSuffix(t, suffix) {
			return true
		}
	}
	if len(t) == 5 && !strings.ContainsAny(t, ".-") {
		switch t[4] {
		case 'W', 'U', 'R':
			return true
		}
	}
	return name != "" && nonEquityName.MatchString(name)
}

// Excluded reports whether an entity should never be screened or scored
func Excluded(ticker, name string) bool {
	return IsSPACName(name) || IsNonEquity(ticker, name)
}
