package app

import (
	"github.com/bft-labs/nvsq/internal/domain"
)

// MinMargin is the smallest margin that leaves room for one blob write and
// one counter update.
const MinMargin = 2

// Decision is the capacity guard's answer for one write.
type Decision struct {
	Admit  bool
	Stats  domain.StoreStats
	Margin int
}

// Err returns the refusal as a *domain.CapacityError, or nil if admitted.
func (d Decision) Err() error {
	if d.Admit {
		return nil
	}
	return &domain.CapacityError{Stats: d.Stats, Margin: d.Margin}
}

// Admit decides whether a write may proceed: free entries must exceed margin.
// At or below the margin the flash store may stall instead of failing, so the
// write is refused before it starts.
func Admit(stats domain.StoreStats, margin int) Decision {
	return Decision{
		Admit:  stats.FreeEntries > margin,
		Stats:  stats,
		Margin: margin,
	}
}

// MarginFor returns the entries one enqueue needs: the record blob plus the
// counter update. Recompute it whenever the record size or the entry size
// changes.
func MarginFor(recordSize, entrySize int) int {
	return domain.BlobEntries(recordSize, entrySize) + domain.U32Entries
}
