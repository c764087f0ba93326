package replay

import (
	"sort"

	"solana-token-ledger/internal/domain"
)

// SortEvents orders events by (slot ASC, signature ASC).
// Slots are unique per committed transaction; signature only breaks ties
// between the events of one transaction.
func SortEvents(events []*domain.LedgerEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// ValidateOrdering returns ErrInvalidOrdering unless events are strictly
// ordered by (slot, signature).
func ValidateOrdering(events []*domain.LedgerEvent) error {
	for i := 1; i < len(events); i++ {
		if compareEvents(events[i-1], events[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareEvents(a, b *domain.LedgerEvent) int {
	if a.Slot != b.Slot {
		if a.Slot < b.Slot {
			return -1
		}
		return 1
	}
	if a.Signature != b.Signature {
		if a.Signature < b.Signature {
			return -1
		}
		return 1
	}
	return 0
}
