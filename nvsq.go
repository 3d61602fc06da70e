// Package nvsq provides a durable append-only record queue over a bounded
// flash-style key-value partition.
//
// Example usage:
//
//	cfg := nvsq.DefaultConfig()
//	cfg.DataDir = "/var/lib/nvsq"
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	q, err := nvsq.Open(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//	if _, err := q.Recover(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	id, err := q.Enqueue(ctx, record)
//	if errors.Is(err, nvsq.ErrCapacityExhausted) {
//	    // drain before writing more
//	}
package nvsq

import (
	"context"
	"fmt"
	"os"

	"github.com/bft-labs/nvsq/internal/adapters/memstore"
	"github.com/bft-labs/nvsq/internal/adapters/pebblestore"
	"github.com/bft-labs/nvsq/internal/adapters/sqlitestore"
	"github.com/bft-labs/nvsq/internal/app"
	"github.com/bft-labs/nvsq/internal/cliconfig"
	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

// Config holds the queue and partition configuration.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = cliconfig.Config

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return cliconfig.DefaultConfig()
}

type (
	// RecordID identifies a committed record. Zero means none.
	RecordID = domain.RecordID

	// Record is a fixed-size payload.
	Record = domain.Record

	// StoreStats is the partition entry accounting.
	StoreStats = domain.StoreStats

	// State is the queue lifecycle state.
	State = app.State

	// Partition is the key-value partition the queue writes to.
	Partition = ports.Partition

	// Logger is the interface for structured logging.
	Logger = ports.Logger

	// LogField represents a structured log field.
	LogField = ports.Field

	// Metrics observes queue activity.
	Metrics = ports.Metrics

	// ProducerConfig configures Fill.
	ProducerConfig = app.ProducerConfig

	// Report summarizes a Fill run.
	Report = app.Report

	// StoreError, CapacityError and RecoveryError are the typed errors
	// returned by the queue.
	StoreError    = domain.StoreError
	CapacityError = domain.CapacityError
	RecoveryError = domain.RecoveryError
)

// Errors returned by the queue. Check them with errors.Is.
var (
	ErrCapacityExhausted    = domain.ErrCapacityExhausted
	ErrRecoveryInconsistent = domain.ErrRecoveryInconsistent
	ErrNotReady             = domain.ErrNotReady
	ErrAlreadyRecovered     = domain.ErrAlreadyRecovered
	ErrInvalidRecord        = domain.ErrInvalidRecord
	ErrIDSpaceExhausted     = domain.ErrIDSpaceExhausted
	ErrUnknownRecord        = domain.ErrUnknownRecord
	ErrNeedsProvision       = domain.ErrNeedsProvision
	ErrInvalidConfig        = domain.ErrInvalidConfig
)

// Option configures optional behavior of a Queue.
type Option func(*options)

type options struct {
	logger    ports.Logger
	metrics   ports.Metrics
	partition ports.Partition
	mode      initMode
}

type initMode int

const (
	initAttach initMode = iota
	initProvision
	initSkip
)

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics sink. If not provided, nothing is recorded.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithPartition uses an already opened partition instead of the one named by
// Config.Store. The queue does not close it.
func WithPartition(p Partition) Option {
	return func(o *options) {
		o.partition = p
	}
}

// WithProvision lets Open erase and reinitialize a partition that is full or
// from another layout version. Every stored record is lost in that case.
func WithProvision() Option {
	return func(o *options) {
		o.mode = initProvision
	}
}

// WithoutProvision skips partition initialization in Open. Use it when the
// partition was provisioned separately.
func WithoutProvision() Option {
	return func(o *options) {
		o.mode = initSkip
	}
}

// Queue is a durable record queue bound to one partition namespace.
type Queue struct {
	*app.Queue

	partition     ports.Partition
	ownsPartition bool
	logger        ports.Logger
}

// Open opens the partition described by cfg, initializes it and returns an
// unrecovered queue. cfg must already be validated. A partition that needs an
// erase fails with ErrNeedsProvision unless WithProvision is given.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Queue, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p, owns := o.partition, false
	if p == nil {
		var err error
		if p, err = OpenPartition(ctx, cfg); err != nil {
			return nil, err
		}
		owns = true
	}

	closeOnErr := func(err error) (*Queue, error) {
		if owns {
			p.Close()
		}
		return nil, err
	}

	var err error
	switch o.mode {
	case initAttach:
		err = app.Attach(ctx, p)
	case initProvision:
		err = app.Provision(ctx, p, false, o.logger)
	}
	if err != nil {
		return closeOnErr(err)
	}

	q, err := app.NewQueue(app.QueueConfig{
		Namespace:       cfg.Namespace,
		RecordSize:      cfg.RecordSize,
		EntrySize:       cfg.EntrySize,
		Margin:          cfg.Margin,
		VerifyOnRecover: cfg.VerifyOnRecover,
	}, p, o.logger, o.metrics)
	if err != nil {
		return closeOnErr(err)
	}

	return &Queue{Queue: q, partition: p, ownsPartition: owns, logger: o.logger}, nil
}

// OpenPartition opens the partition backend named by cfg.Store.
func OpenPartition(ctx context.Context, cfg Config) (Partition, error) {
	switch cfg.Store {
	case cliconfig.StoreMemory:
		return memstore.New(memstore.Options{
			TotalEntries: cfg.TotalEntries,
			EntrySize:    cfg.EntrySize,
		}), nil

	case cliconfig.StorePebble:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		p, err := pebblestore.Open(pebblestore.Options{
			Dir:          cfg.PartitionPath(),
			TotalEntries: cfg.TotalEntries,
			EntrySize:    cfg.EntrySize,
			NoSync:       cfg.NoSync,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	case cliconfig.StoreSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		p, err := sqlitestore.Open(ctx, sqlitestore.Options{
			Path:         cfg.PartitionPath(),
			TotalEntries: cfg.TotalEntries,
			EntrySize:    cfg.EntrySize,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: unknown store %q", domain.ErrInvalidConfig, cfg.Store)
	}
}

// Partition returns the underlying partition.
func (q *Queue) Partition() Partition {
	return q.partition
}

// Fill enqueues records from source under the given producer configuration.
func (q *Queue) Fill(ctx context.Context, source func(i int) Record, cfg ProducerConfig) (Report, error) {
	return app.NewProducer(q.Queue, source, cfg, q.logger).Run(ctx)
}

// Close releases the partition if Open opened it.
func (q *Queue) Close() error {
	if !q.ownsPartition {
		return nil
	}
	return q.partition.Close()
}

// MarginFor returns the free entries one enqueue of recordSize bytes needs.
func MarginFor(recordSize, entrySize int) int {
	return app.MarginFor(recordSize, entrySize)
}

// FormatKey returns the store key of a record id.
func FormatKey(id RecordID) string {
	return domain.FormatKey(id)
}
