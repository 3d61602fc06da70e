package ports

import (
	"time"

	"github.com/bft-labs/nvsq/internal/domain"
)

// Enqueue outcomes reported to Metrics.
const (
	OutcomeOK         = "ok"
	OutcomeCapacity   = "capacity_exhausted"
	OutcomeStoreError = "store_error"
	OutcomeRejected   = "rejected"
)

// Metrics observes queue activity. Implementations must not block.
type Metrics interface {
	// ObserveEnqueue records one Enqueue call.
	ObserveEnqueue(outcome string, elapsed time.Duration)

	// ObserveStats records the latest partition statistics and margin.
	ObserveStats(stats domain.StoreStats, margin int)

	// ObserveLastID records the committed counter.
	ObserveLastID(id domain.RecordID)
}

// NoopMetrics is used when no metrics sink is configured.
type NoopMetrics struct{}

func (NoopMetrics) ObserveEnqueue(string, time.Duration) {}
func (NoopMetrics) ObserveStats(domain.StoreStats, int)  {}
func (NoopMetrics) ObserveLastID(domain.RecordID)        {}
