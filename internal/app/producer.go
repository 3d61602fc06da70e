package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

// DefaultMaxConsecutiveErrors bounds ContinueOnError when no limit is set.
const DefaultMaxConsecutiveErrors = 10

// ErrorPolicy decides what the producer does after a store error.
type ErrorPolicy int

const (
	// StopOnError ends the run at the first store error.
	StopOnError ErrorPolicy = iota
	// ContinueOnError counts the failure and moves to the next record.
	ContinueOnError
)

// String returns the flag spelling of the policy.
func (p ErrorPolicy) String() string {
	switch p {
	case StopOnError:
		return "stop"
	case ContinueOnError:
		return "continue"
	default:
		return "unknown"
	}
}

// ParseErrorPolicy parses "stop" or "continue".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stop":
		return StopOnError, nil
	case "continue":
		return ContinueOnError, nil
	default:
		return StopOnError, fmt.Errorf("%w: unknown error policy %q", domain.ErrInvalidConfig, s)
	}
}

// Enqueuer is the part of Queue the producer drives.
type Enqueuer interface {
	Enqueue(ctx context.Context, rec domain.Record) (domain.RecordID, error)
	StatsSnapshot(ctx context.Context) (domain.StoreStats, error)
}

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	// Count is the number of records to enqueue. Zero or less runs until
	// the capacity guard refuses a write or ctx is done.
	Count int

	// OnStoreError is applied once retries are used up.
	OnStoreError ErrorPolicy

	// MaxConsecutiveErrors ends a ContinueOnError run with the last store
	// error once this many records in a row have failed.
	// Default: DefaultMaxConsecutiveErrors.
	MaxConsecutiveErrors int

	// Retries is the number of extra attempts per record after a store error.
	Retries int

	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// LogStats logs partition statistics after every record.
	LogStats bool
}

// Report summarizes a producer run.
type Report struct {
	Attempted   int
	Enqueued    int
	StoreErrors int
	Retries     int
	FirstID     domain.RecordID
	LastID      domain.RecordID

	// Capacity is set when the run ended because the guard refused a write.
	Capacity *domain.CapacityError
}

// Source returns the record for the i-th attempt, starting at 0.
type Source func(i int) domain.Record

// Producer enqueues a stream of records and applies the caller's policy to
// failures. The queue never retries; retries live here.
type Producer struct {
	queue  Enqueuer
	source Source
	cfg    ProducerConfig
	logger ports.Logger
}

// NewProducer creates a producer.
func NewProducer(queue Enqueuer, source Source, cfg ProducerConfig, logger ports.Logger) *Producer {
	if logger == nil {
		logger = nopLogger{}
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	return &Producer{queue: queue, source: source, cfg: cfg, logger: logger}
}

// Run enqueues records until Count is reached, the guard refuses a write,
// ctx is done, or store errors end the run. Under ContinueOnError the run
// backs off between failed records and gives up after MaxConsecutiveErrors
// of them. Reaching capacity is not an error: the report carries it and Run
// returns nil.
func (p *Producer) Run(ctx context.Context) (Report, error) {
	var rep Report
	failures := 0
	pause := newBackoff(p.cfg.BackoffInitial, p.cfg.BackoffMax)

	for i := 0; p.cfg.Count <= 0 || i < p.cfg.Count; i++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		rep.Attempted++
		id, err := p.enqueue(ctx, p.source(i), &rep)

		var capErr *domain.CapacityError
		switch {
		case err == nil:
			failures = 0
			pause.Reset()
			rep.Enqueued++
			if rep.FirstID == domain.NoRecord {
				rep.FirstID = id
			}
			rep.LastID = id
			p.logStats(ctx, id)

		case errors.As(err, &capErr):
			rep.Capacity = capErr
			p.logger.Warn("capacity exhausted, stopping",
				ports.Int("enqueued", rep.Enqueued),
				ports.Int("free_entries", capErr.Stats.FreeEntries),
				ports.Int("margin", capErr.Margin),
			)
			return rep, nil

		case domain.IsStoreError(err):
			rep.StoreErrors++
			failures++
			p.logger.Error("enqueue failed", ports.Int("attempt", i), ports.Err(err))
			if p.cfg.OnStoreError == StopOnError {
				return rep, err
			}
			if failures >= p.cfg.MaxConsecutiveErrors {
				return rep, fmt.Errorf("giving up after %d consecutive store errors: %w", failures, err)
			}
			if werr := pause.Wait(ctx); werr != nil {
				return rep, werr
			}

		default:
			return rep, err
		}
	}
	return rep, nil
}

func (p *Producer) enqueue(ctx context.Context, rec domain.Record, rep *Report) (domain.RecordID, error) {
	var bo *backoff
	for attempt := 0; ; attempt++ {
		id, err := p.queue.Enqueue(ctx, rec)
		if err == nil || !domain.IsStoreError(err) || attempt >= p.cfg.Retries {
			return id, err
		}

		if bo == nil {
			bo = newBackoff(p.cfg.BackoffInitial, p.cfg.BackoffMax)
		}
		p.logger.Debug("retrying enqueue",
			ports.Int("attempt", attempt+1),
			ports.Duration("backoff", bo.Current()),
			ports.Err(err),
		)
		rep.Retries++
		if werr := bo.Wait(ctx); werr != nil {
			return domain.NoRecord, werr
		}
	}
}

func (p *Producer) logStats(ctx context.Context, id domain.RecordID) {
	if !p.cfg.LogStats {
		return
	}
	stats, err := p.queue.StatsSnapshot(ctx)
	if err != nil {
		p.logger.Warn("stats unavailable", ports.Err(err))
		return
	}
	p.logger.Info("record saved",
		ports.String("key", domain.FormatKey(id)),
		ports.Int("used_entries", stats.UsedEntries),
		ports.Int("free_entries", stats.FreeEntries),
		ports.Int("total_entries", stats.TotalEntries),
	)
}
