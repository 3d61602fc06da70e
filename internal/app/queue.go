package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Namespace the queue owns inside the partition.
	Namespace string

	// RecordSize is the exact length of every record.
	RecordSize int

	// Margin is the number of free entries the guard keeps in reserve.
	// Zero means MarginFor(RecordSize, EntrySize).
	Margin int

	// EntrySize is used to derive the default margin.
	EntrySize int

	// VerifyOnRecover reads back the newest record during Recover.
	VerifyOnRecover bool
}

// Validate checks the configuration and fills in the default margin.
func (c *QueueConfig) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", domain.ErrInvalidConfig)
	}
	if c.RecordSize <= 0 {
		return fmt.Errorf("%w: record size must be positive, got %d", domain.ErrInvalidConfig, c.RecordSize)
	}
	if c.EntrySize == 0 {
		c.EntrySize = domain.DefaultEntrySize
	}
	if c.EntrySize < 0 {
		return fmt.Errorf("%w: entry size must be positive, got %d", domain.ErrInvalidConfig, c.EntrySize)
	}
	need := MarginFor(c.RecordSize, c.EntrySize)
	if c.Margin == 0 {
		c.Margin = need
	}
	if c.Margin < MinMargin || c.Margin < need {
		return fmt.Errorf("%w: margin %d is below the %d entries one enqueue needs",
			domain.ErrInvalidConfig, c.Margin, need)
	}
	return nil
}

// Queue is a durable append-only record queue over one partition namespace.
// It assumes it is the only writer of its namespace.
type Queue struct {
	mu        sync.Mutex
	cfg       QueueConfig
	partition ports.Partition
	logger    ports.Logger
	metrics   ports.Metrics
	state     *stateMachine
	last      domain.RecordID
}

// NewQueue creates a queue in the Uninitialized state. Call Recover before
// Enqueue. A nil logger or metrics disables them.
func NewQueue(cfg QueueConfig, partition ports.Partition, logger ports.Logger, metrics ports.Metrics) (*Queue, error) {
	if partition == nil {
		return nil, fmt.Errorf("%w: partition is required", domain.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &Queue{
		cfg:       cfg,
		partition: partition,
		logger:    logger,
		metrics:   metrics,
		state:     newStateMachine(logger),
	}, nil
}

// Config returns the validated configuration.
func (q *Queue) Config() QueueConfig {
	return q.cfg
}

// State returns the current lifecycle state.
func (q *Queue) State() State {
	return q.state.Current()
}

// LastID returns the id of the newest committed record, or domain.NoRecord.
func (q *Queue) LastID() domain.RecordID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}

// Recover loads the persisted counter. A missing counter means an empty
// queue. A counter that cannot be read is an error, never an empty queue.
func (q *Queue) Recover(ctx context.Context) (domain.RecordID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state.Current() != StateUninitialized {
		return q.last, domain.ErrAlreadyRecovered
	}

	h, err := q.partition.Open(ctx, q.cfg.Namespace)
	if err != nil {
		return domain.NoRecord, &domain.StoreError{Op: "open", Key: q.cfg.Namespace, Err: err}
	}
	defer h.Close()

	v, found, err := h.GetU32(ctx, domain.CounterKey)
	if err != nil {
		return domain.NoRecord, &domain.StoreError{Op: "get_u32", Key: domain.CounterKey, Err: err}
	}

	id := domain.NoRecord
	if found {
		id = domain.RecordID(v)
	}
	if id > domain.MaxRecordID {
		return domain.NoRecord, &domain.RecoveryError{
			Counter: id,
			Key:     domain.CounterKey,
			Err:     fmt.Errorf("counter exceeds %d", domain.MaxRecordID),
		}
	}

	if id != domain.NoRecord && q.cfg.VerifyOnRecover {
		key := domain.FormatKey(id)
		if _, err := h.GetBlob(ctx, key, q.cfg.RecordSize); err != nil {
			if errors.Is(err, ports.ErrNotFound) || errors.Is(err, ports.ErrInvalidLength) ||
				errors.Is(err, ports.ErrTypeMismatch) {
				return domain.NoRecord, &domain.RecoveryError{Counter: id, Key: key, Err: err}
			}
			return domain.NoRecord, &domain.StoreError{Op: "get_blob", Key: key, Err: err}
		}
	}

	if err := q.state.TransitionTo(StateRecovered, "counter loaded"); err != nil {
		return domain.NoRecord, err
	}
	q.last = id
	if err := q.state.TransitionTo(StateReady, "recovery complete"); err != nil {
		return domain.NoRecord, err
	}

	q.metrics.ObserveLastID(id)
	q.logger.Debug("queue recovered",
		ports.String("namespace", q.cfg.Namespace),
		ports.Uint32("last_id", uint32(id)),
		ports.Bool("found", found),
	)
	return id, nil
}

// Enqueue persists rec and returns its id. The record blob is committed
// before the counter, so a failure at any step leaves the counter at its
// previous value and no partially written record is reachable.
func (q *Queue) Enqueue(ctx context.Context, rec domain.Record) (id domain.RecordID, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	start := time.Now()
	defer func() {
		q.metrics.ObserveEnqueue(outcomeOf(err), time.Since(start))
	}()

	if q.state.Current() != StateReady {
		return domain.NoRecord, domain.ErrNotReady
	}
	if len(rec) != q.cfg.RecordSize {
		return domain.NoRecord, fmt.Errorf("%w: got %d bytes, want %d",
			domain.ErrInvalidRecord, len(rec), q.cfg.RecordSize)
	}
	if err := ctx.Err(); err != nil {
		return domain.NoRecord, err
	}

	candidate := q.last.Next()
	if candidate > domain.MaxRecordID {
		return domain.NoRecord, domain.ErrIDSpaceExhausted
	}

	stats, err := q.partition.Stats(ctx)
	if err != nil {
		return domain.NoRecord, &domain.StoreError{Op: "stats", Err: err}
	}
	q.metrics.ObserveStats(stats, q.cfg.Margin)

	decision := Admit(stats, q.cfg.Margin)
	if !decision.Admit {
		q.logger.Debug("enqueue refused",
			ports.Int("margin", q.cfg.Margin),
			ports.Any("stats", stats),
		)
		return domain.NoRecord, decision.Err()
	}

	key := domain.FormatKey(candidate)

	h, err := q.partition.Open(ctx, q.cfg.Namespace)
	if err != nil {
		return domain.NoRecord, &domain.StoreError{Op: "open", Key: q.cfg.Namespace, Err: err}
	}
	defer h.Close()

	if err := h.SetBlob(ctx, key, rec); err != nil {
		return domain.NoRecord, &domain.StoreError{Op: "set_blob", Key: key, Err: err}
	}
	if err := h.Commit(ctx); err != nil {
		return domain.NoRecord, &domain.StoreError{Op: "commit", Key: key, Err: err}
	}
	if err := h.SetU32(ctx, domain.CounterKey, uint32(candidate)); err != nil {
		return domain.NoRecord, &domain.StoreError{Op: "set_u32", Key: domain.CounterKey, Err: err}
	}
	if err := h.Commit(ctx); err != nil {
		return domain.NoRecord, &domain.StoreError{Op: "commit", Key: domain.CounterKey, Err: err}
	}

	q.last = candidate
	q.metrics.ObserveLastID(candidate)
	q.logger.Debug("record enqueued",
		ports.String("key", key),
		ports.Uint32("id", uint32(candidate)),
		ports.Int("free_entries_before", stats.FreeEntries),
	)
	return candidate, nil
}

// Read returns the committed record with the given id.
func (q *Queue) Read(ctx context.Context, id domain.RecordID) (domain.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state.Current() != StateReady {
		return nil, domain.ErrNotReady
	}
	if id == domain.NoRecord || id > q.last {
		return nil, fmt.Errorf("%w: id %d, last %d", domain.ErrUnknownRecord, id, q.last)
	}

	h, err := q.partition.Open(ctx, q.cfg.Namespace)
	if err != nil {
		return nil, &domain.StoreError{Op: "open", Key: q.cfg.Namespace, Err: err}
	}
	defer h.Close()

	key := domain.FormatKey(id)
	b, err := h.GetBlob(ctx, key, q.cfg.RecordSize)
	if err != nil {
		return nil, &domain.StoreError{Op: "get_blob", Key: key, Err: err}
	}
	return domain.Record(b), nil
}

// StatsSnapshot returns the partition statistics without changing anything.
func (q *Queue) StatsSnapshot(ctx context.Context) (domain.StoreStats, error) {
	stats, err := q.partition.Stats(ctx)
	if err != nil {
		return domain.StoreStats{}, &domain.StoreError{Op: "stats", Err: err}
	}
	q.metrics.ObserveStats(stats, q.cfg.Margin)
	return stats, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return ports.OutcomeOK
	case errors.Is(err, domain.ErrCapacityExhausted):
		return ports.OutcomeCapacity
	case domain.IsStoreError(err):
		return ports.OutcomeStoreError
	default:
		return ports.OutcomeRejected
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...ports.Field) {}
func (nopLogger) Info(string, ...ports.Field)  {}
func (nopLogger) Warn(string, ...ports.Field)  {}
func (nopLogger) Error(string, ...ports.Field) {}
