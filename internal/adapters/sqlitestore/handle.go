package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bft-labs/nvsq/internal/adapters/entry"
	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

type handle struct {
	p          *Partition
	namespace  string
	generation uint64
	staged     *entry.Staged
	closed     bool
}

var _ ports.Handle = (*handle)(nil)

func (h *handle) begin(key string) error {
	if h.closed || h.p.closed || h.generation != h.p.generation {
		return ports.ErrClosed
	}
	if !domain.ValidKey(key) {
		return ports.ErrInvalidKey
	}
	return nil
}

func (h *handle) committedCtx(ctx context.Context) entry.Lookup {
	return func(key string) (entry.Value, bool, error) {
		var raw []byte
		err := h.p.db.QueryRowContext(ctx,
			`SELECT value FROM entries WHERE namespace = ? AND key = ?`, h.namespace, key).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return entry.Value{}, false, nil
		}
		if err != nil {
			return entry.Value{}, false, fmt.Errorf("sqlitestore: read %s: %w", key, err)
		}
		v, err := entry.Decode(raw)
		if err != nil {
			return entry.Value{}, false, err
		}
		return v, true, nil
	}
}

func (h *handle) lookupLocked(ctx context.Context, key string) (entry.Value, bool, error) {
	if v, ok := h.staged.Get(key); ok {
		return v, true, nil
	}
	return h.committedCtx(ctx)(key)
}

func (h *handle) stageLocked(ctx context.Context, key string, v entry.Value) error {
	delta, err := h.staged.Delta(h.p.opts.EntrySize, h.committedCtx(ctx), &entry.Pending{Key: key, Value: v})
	if err != nil {
		return err
	}
	if h.p.used+delta > h.p.opts.TotalEntries {
		return ports.ErrNotEnoughSpace
	}
	h.staged.Put(key, v)
	return nil
}

func (h *handle) GetU32(ctx context.Context, key string) (uint32, bool, error) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if err := h.begin(key); err != nil {
		return 0, false, err
	}
	v, ok, err := h.lookupLocked(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	if v.Kind != entry.KindU32 {
		return 0, false, ports.ErrTypeMismatch
	}
	return v.U32, true, nil
}

func (h *handle) SetU32(ctx context.Context, key string, val uint32) error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if err := h.begin(key); err != nil {
		return err
	}
	return h.stageLocked(ctx, key, entry.U32(val))
}

func (h *handle) GetBlob(ctx context.Context, key string, size int) ([]byte, error) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if err := h.begin(key); err != nil {
		return nil, err
	}
	v, ok, err := h.lookupLocked(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ports.ErrNotFound
	}
	if v.Kind != entry.KindBlob {
		return nil, ports.ErrTypeMismatch
	}
	if len(v.Blob) != size {
		return nil, ports.ErrInvalidLength
	}
	out := make([]byte, size)
	copy(out, v.Blob)
	return out, nil
}

func (h *handle) SetBlob(ctx context.Context, key string, b []byte) error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if err := h.begin(key); err != nil {
		return err
	}
	return h.stageLocked(ctx, key, entry.Blob(b))
}

// Commit writes the staged values in one transaction.
func (h *handle) Commit(ctx context.Context) error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if h.closed || h.p.closed || h.generation != h.p.generation {
		return ports.ErrClosed
	}
	if h.staged.Len() == 0 {
		return nil
	}

	delta, err := h.staged.Delta(h.p.opts.EntrySize, h.committedCtx(ctx), nil)
	if err != nil {
		return err
	}
	if h.p.used+delta > h.p.opts.TotalEntries {
		return ports.ErrNotEnoughSpace
	}

	tx, err := h.p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range h.staged.Keys() {
		v, _ := h.staged.Get(k)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (namespace, key, value) VALUES (?, ?, ?)
             ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`,
			h.namespace, k, v.Encode()); err != nil {
			return fmt.Errorf("sqlitestore: write %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}

	h.p.used += delta
	h.staged.Reset()
	return nil
}

func (h *handle) Close() error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	h.closed = true
	h.staged.Reset()
	return nil
}
