// Package sqlitestore implements a bounded key-value partition in a SQLite
// file. A lock file next to the database keeps a second writer out.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/bft-labs/nvsq/internal/adapters/entry"
	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

// LayoutVersion is written by Init. A partition with another version must be
// erased before use.
const LayoutVersion = "1"

// ErrLocked is returned by Open when another process holds the partition.
var ErrLocked = errors.New("sqlitestore: partition is locked by another writer")

const schema = `
CREATE TABLE IF NOT EXISTS meta (
    name  TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS namespaces (
    name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS entries (
    namespace TEXT NOT NULL,
    key       TEXT NOT NULL,
    value     BLOB NOT NULL,
    PRIMARY KEY (namespace, key)
);`

// Options configures the SQLite partition.
type Options struct {
	// Path is the database file.
	Path string

	// TotalEntries caps the partition.
	TotalEntries int

	// EntrySize is the size of one entry in bytes. Default: domain.DefaultEntrySize.
	EntrySize int
}

// Partition is a ports.Partition in a SQLite database.
type Partition struct {
	db   *sql.DB
	lock *flock.Flock
	opts Options

	mu          sync.Mutex
	used        int
	namespaces  int
	initialized bool
	closed      bool
	generation  uint64
}

var _ ports.Partition = (*Partition)(nil)

// Open locks and opens the database, creating the schema if needed.
func Open(ctx context.Context, opts Options) (*Partition, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlitestore: Options.Path is required")
	}
	if opts.TotalEntries <= 0 {
		return nil, errors.New("sqlitestore: Options.TotalEntries must be positive")
	}
	if opts.EntrySize <= 0 {
		opts.EntrySize = domain.DefaultEntrySize
	}

	lock := flock.New(opts.Path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("sqlitestore: open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("sqlitestore: apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	p := &Partition{db: db, lock: lock, opts: opts}
	if err := p.recount(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return p, nil
}

func (p *Partition) recount(ctx context.Context) error {
	var namespaces int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM namespaces`).Scan(&namespaces); err != nil {
		return fmt.Errorf("sqlitestore: count namespaces: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `SELECT namespace, key, value FROM entries`)
	if err != nil {
		return fmt.Errorf("sqlitestore: scan entries: %w", err)
	}
	defer rows.Close()

	used := namespaces * domain.NamespaceEntries
	for rows.Next() {
		var ns, key string
		var raw []byte
		if err := rows.Scan(&ns, &key, &raw); err != nil {
			return fmt.Errorf("sqlitestore: scan entries: %w", err)
		}
		n, err := entry.EncodedEntries(raw, p.opts.EntrySize)
		if err != nil {
			return fmt.Errorf("sqlitestore: %s/%s: %w", ns, key, err)
		}
		used += n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlitestore: scan entries: %w", err)
	}

	p.used = used
	p.namespaces = namespaces
	return nil
}

// Init checks the layout version, writing it on a fresh database.
func (p *Partition) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ports.ErrClosed
	}

	var version string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE name = 'version'`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows) && p.used > 0:
		return ports.ErrNewVersionFound
	case errors.Is(err, sql.ErrNoRows):
		if _, err := p.db.ExecContext(ctx,
			`INSERT INTO meta (name, value) VALUES ('version', ?)`, LayoutVersion); err != nil {
			return fmt.Errorf("sqlitestore: write version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("sqlitestore: read version: %w", err)
	case version != LayoutVersion:
		return ports.ErrNewVersionFound
	}
	p.initialized = true
	return nil
}

// Erase deletes every namespace, entry and the layout version.
func (p *Partition) Erase(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ports.ErrClosed
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range []string{`DELETE FROM entries`, `DELETE FROM namespaces`, `DELETE FROM meta`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlitestore: erase: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: erase: %w", err)
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
	if !domain.ValidKey(namespace) {
		return nil, ports.ErrInvalidKey
	}

	var exists int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM namespaces WHERE name = ?`, namespace).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if p.used+domain.NamespaceEntries > p.opts.TotalEntries {
			return nil, ports.ErrNotEnoughSpace
		}
		if _, err := p.db.ExecContext(ctx, `INSERT INTO namespaces (name) VALUES (?)`, namespace); err != nil {
			return nil, fmt.Errorf("sqlitestore: register namespace: %w", err)
		}
		p.used += domain.NamespaceEntries
		p.namespaces++
	case err != nil:
		return nil, fmt.Errorf("sqlitestore: lookup namespace: %w", err)
	}

	return &handle{
		p:          p,
		namespace:  namespace,
		generation: p.generation,
		staged:     entry.NewStaged(),
	}, nil
}

// Close closes the database and releases the lock.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.db.Close()
	if uerr := p.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
