package memstore

import (
	"context"
	"sync"

	"github.com/bft-labs/nvsq/internal/adapters/entry"
	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

// Op names an operation for fault injection.
type Op string

const (
	OpOpen    Op = "open"
	OpGetU32  Op = "get_u32"
	OpSetU32  Op = "set_u32"
	OpGetBlob Op = "get_blob"
	OpSetBlob Op = "set_blob"
	OpCommit  Op = "commit"
	OpStats   Op = "stats"
	OpInit    Op = "init"
	OpErase   Op = "erase"
)

// Options configures a Partition.
type Options struct {
	// TotalEntries is the capacity of the partition in entries.
	TotalEntries int

	// EntrySize is the size of one entry in bytes. Default: domain.DefaultEntrySize.
	EntrySize int

	// HangBelowFree, when positive, makes SetBlob block while fewer than
	// HangBelowFree entries are free. The call returns ports.ErrClosed once
	// the partition is closed or Unblock is called.
	HangBelowFree int

	// Fault is consulted before every operation. A non-nil result fails the
	// operation with that error and leaves the partition unchanged.
	Fault func(op Op, key string) error
}

// Partition is an in-memory ports.Partition.
type Partition struct {
	mu         sync.Mutex
	opts       Options
	namespaces map[string]map[string]entry.Value
	used       int

	initialized bool
	initErr     error
	closed      bool
	generation  uint64
	unblock     chan struct{}
}

var _ ports.Partition = (*Partition)(nil)

// New creates an empty, uninitialized partition.
func New(opts Options) *Partition {
	if opts.EntrySize <= 0 {
		opts.EntrySize = domain.DefaultEntrySize
	}
	return &Partition{
		opts:       opts,
		namespaces: make(map[string]map[string]entry.Value),
		unblock:    make(chan struct{}),
	}
}

// SetFault replaces the fault hook.
func (p *Partition) SetFault(fault func(op Op, key string) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts.Fault = fault
}

// RequireErase makes the next Init fail with err until Erase is called.
// err is typically ports.ErrNoFreePages or ports.ErrNewVersionFound.
func (p *Partition) RequireErase(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initErr = err
	p.initialized = false
}

// Crash simulates a power cut: open handles stop working and their staged
// writes are lost. Committed data survives.
func (p *Partition) Crash() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
}

// Unblock releases writers stuck in a simulated hang.
func (p *Partition) Unblock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseHang()
}

func (p *Partition) releaseHang() {
	select {
	case <-p.unblock:
	default:
		close(p.unblock)
	}
}

func (p *Partition) fault(op Op, key string) error {
	if p.opts.Fault == nil {
		return nil
	}
	return p.opts.Fault(op, key)
}

// Init prepares the partition.
func (p *Partition) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ports.ErrClosed
	}
	if err := p.fault(OpInit, ""); err != nil {
		return err
	}
	if p.initErr != nil {
		return p.initErr
	}
	p.initialized = true
	return nil
}

// Erase removes every namespace. The partition must be initialized again.
func (p *Partition) Erase(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ports.ErrClosed
	}
	if err := p.fault(OpErase, ""); err != nil {
		return err
	}
	p.namespaces = make(map[string]map[string]entry.Value)
	p.used = 0
	p.initErr = nil
	p.initialized = false
	p.generation++
	return nil
}

// Stats returns the entry accounting.
func (p *Partition) Stats(ctx context.Context) (domain.StoreStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.StoreStats{}, ports.ErrClosed
	}
	if err := p.fault(OpStats, ""); err != nil {
		return domain.StoreStats{}, err
	}
	return p.statsLocked(), nil
}

func (p *Partition) statsLocked() domain.StoreStats {
	free := p.opts.TotalEntries - p.used
	if free < 0 {
		free = 0
	}
	return domain.StoreStats{
		UsedEntries:    p.used,
		FreeEntries:    free,
		TotalEntries:   p.opts.TotalEntries,
		NamespaceCount: len(p.namespaces),
	}
}

// Open returns a handle on namespace, registering it on first use.
func (p *Partition) Open(ctx context.Context, namespace string) (ports.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ports.ErrClosed
	}
	if !p.initialized {
		return nil, ports.ErrNotInitialized
	}
	if !domain.ValidKey(namespace) {
		return nil, ports.ErrInvalidKey
	}
	if err := p.fault(OpOpen, namespace); err != nil {
		return nil, err
	}
	if _, ok := p.namespaces[namespace]; !ok {
		if p.used+domain.NamespaceEntries > p.opts.TotalEntries {
			return nil, ports.ErrNotEnoughSpace
		}
		p.namespaces[namespace] = make(map[string]entry.Value)
		p.used += domain.NamespaceEntries
	}
	return &handle{
		p:          p,
		namespace:  namespace,
		generation: p.generation,
		staged:     entry.NewStaged(),
	}, nil
}

// Close closes the partition and releases hung writers.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.releaseHang()
	return nil
}
