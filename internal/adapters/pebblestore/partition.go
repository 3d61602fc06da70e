package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/bft-labs/nvsq/internal/adapters/entry"
	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

// LayoutVersion is written by Init. A partition with another version must be
// erased before use.
const LayoutVersion = "1"

var (
	keyVersion      = []byte("m/version")
	namespacePrefix = "n/"
	valuePrefix     = "v/"
)

// Options configures the Pebble partition.
type Options struct {
	// Dir is the Pebble database directory.
	Dir string

	// TotalEntries caps the partition.
	TotalEntries int

	// EntrySize is the size of one entry in bytes. Default: domain.DefaultEntrySize.
	EntrySize int

	// NoSync skips the WAL sync on commit. Committed writes may then be lost
	// on power loss.
	NoSync bool

	// PebbleOptions allows tuning Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
}

// Partition is a ports.Partition on a Pebble database.
type Partition struct {
	db        *pebble.DB
	opts      Options
	writeSync *pebble.WriteOptions

	mu          sync.Mutex
	used        int
	namespaces  int
	initialized bool
	closed      bool
	generation  uint64
}

var _ ports.Partition = (*Partition)(nil)

// Open opens or creates the database and computes the current usage.
func Open(opts Options) (*Partition, error) {
	if opts.Dir == "" {
		return nil, errors.New("pebblestore: Options.Dir is required")
	}
	if opts.TotalEntries <= 0 {
		return nil, errors.New("pebblestore: Options.TotalEntries must be positive")
	}
	if opts.EntrySize <= 0 {
		opts.EntrySize = domain.DefaultEntrySize
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	db, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, fmt.Errorf("pebblestore: open %s: %w", opts.Dir, err)
	}

	p := &Partition{db: db, opts: opts, writeSync: pebble.Sync}
	if opts.NoSync {
		p.writeSync = pebble.NoSync
	}
	if err := p.recount(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func valueKey(namespace, key string) []byte {
	return []byte(valuePrefix + namespace + "/" + key)
}

func namespaceKey(namespace string) []byte {
	return []byte(namespacePrefix + namespace)
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}

// recount scans the database and rebuilds the entry accounting.
func (p *Partition) recount() error {
	used, namespaces := 0, 0

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(namespacePrefix),
		UpperBound: prefixUpperBound(namespacePrefix),
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		namespaces++
	}
	if err := iter.Close(); err != nil {
		return err
	}

	iter, err = p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(valuePrefix),
		UpperBound: prefixUpperBound(valuePrefix),
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		n, err := entry.EncodedEntries(iter.Value(), p.opts.EntrySize)
		if err != nil {
			_ = iter.Close()
			return fmt.Errorf("pebblestore: key %q: %w", iter.Key(), err)
		}
		used += n
	}
	if err := iter.Close(); err != nil {
		return err
	}

	p.used = used + namespaces*domain.NamespaceEntries
	p.namespaces = namespaces
	return nil
}

func (p *Partition) get(key []byte) ([]byte, bool, error) {
	val, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

// Init checks the layout version, writing it on a fresh database.
func (p *Partition) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ports.ErrClosed
	}

	version, found, err := p.get(keyVersion)
	if err != nil {
		return err
	}
	switch {
	case !found && p.used > 0:
		// Data without a version marker predates the layout.
		return ports.ErrNewVersionFound
	case !found:
		if err := p.db.Set(keyVersion, []byte(LayoutVersion), pebble.Sync); err != nil {
			return err
		}
	case string(version) != LayoutVersion:
		return ports.ErrNewVersionFound
	}
	p.initialized = true
	return nil
}

// Erase deletes every key, including the layout version.
func (p *Partition) Erase(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ports.ErrClosed
	}
	if err := p.db.DeleteRange([]byte{0x00}, []byte{0xff}, pebble.Sync); err != nil {
		return err
	}
	if err := p.db.Compact([]byte{0x00}, []byte{0xff}, true); err != nil {
		return err
	}
	p.used, p.namespaces = 0, 0
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
	free := p.opts.TotalEntries - p.used
	if free < 0 {
		free = 0
	}
	return domain.StoreStats{
		UsedEntries:    p.used,
		FreeEntries:    free,
		TotalEntries:   p.opts.TotalEntries,
		NamespaceCount: p.namespaces,
	}, nil
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
	if !domain.ValidKey(namespace) || strings.Contains(namespace, "/") {
		return nil, ports.ErrInvalidKey
	}

	_, found, err := p.get(namespaceKey(namespace))
	if err != nil {
		return nil, err
	}
	if !found {
		if p.used+domain.NamespaceEntries > p.opts.TotalEntries {
			return nil, ports.ErrNotEnoughSpace
		}
		if err := p.db.Set(namespaceKey(namespace), nil, p.writeSync); err != nil {
			return nil, err
		}
		p.used += domain.NamespaceEntries
		p.namespaces++
	}
	return &handle{
		p:          p,
		namespace:  namespace,
		generation: p.generation,
		staged:     entry.NewStaged(),
	}, nil
}

// Close closes the database.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}
