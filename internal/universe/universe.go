// Package universe resolves the set of symbols eligible for trading this
// session. The concrete top-by-trading-value TR request a real brokerage
// would issue is an external collaborator specified only by interface; a
// KOSPI blue-chip fallback list covers --broker mock and any provider
// failure. Grounded on original_source/krader/universe/service.py.
package universe

import (
	"context"
)

// Provider fetches the top-N symbols by trading value. Implementations
// may cache internally.
type Provider interface {
	TopByTradingValue(ctx context.Context, size int) ([]string, error)
}

// kospiBlueChips mirrors original_source's KOSPI_BLUE_CHIPS fallback list.
var kospiBlueChips = []string{
	"005930", // Samsung Electronics
	"000660", // SK Hynix
	"373220", // LG Energy Solution
	"207940", // Samsung Biologics
	"005380", // Hyundai Motor
	"006400", // Samsung SDI
	"051910", // LG Chem
	"035420", // NAVER
	"000270", // Kia
	"105560", // KB Financial
	"055550", // Shinhan Financial
	"035720", // Kakao
	"003670", // POSCO Holdings
	"068270", // Celltrion
	"028260", // Samsung C&T
	"012330", // Hyundai Mobis
	"066570", // LG Electronics
	"003550", // LG
	"096770", // SK Innovation
	"034730", // SK
}

// DefaultUniverse returns a copy of the KOSPI blue-chip fallback list,
// used when no Provider is configured or a Provider call fails.
func DefaultUniverse() []string {
	out := make([]string, len(kospiBlueChips))
	copy(out, kospiBlueChips)
	return out
}

// StaticProvider always returns a fixed symbol list; used under --broker
// mock and in tests where no real top-by-trading-value TR exists.
type StaticProvider struct {
	Symbols []string
}

// TopByTradingValue returns up to size symbols from the fixed list.
func (p StaticProvider) TopByTradingValue(ctx context.Context, size int) ([]string, error) {
	if size <= 0 || size >= len(p.Symbols) {
		out := make([]string, len(p.Symbols))
		copy(out, p.Symbols)
		return out, nil
	}
	out := make([]string, size)
	copy(out, p.Symbols[:size])
	return out, nil
}

// Diff computes the added/removed symbol sets between old and new
// universes, matching the original's added/removed delta computation
// used to drive incremental subscribe/unsubscribe calls.
func Diff(old, updated []string) (added, removed []string) {
	oldSet := make(map[string]bool, len(old))
	for _, s := range old {
		oldSet[s] = true
	}
	newSet := make(map[string]bool, len(updated))
	for _, s := range updated {
		newSet[s] = true
	}
	for _, s := range updated {
		if !oldSet[s] {
			added = append(added, s)
		}
	}
	for _, s := range old {
		if !newSet[s] {
			removed = append(removed, s)
		}
	}
	return added, removed
}
