package pebblestore

import (
	"context"

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

// checkLocked must be called with p.mu held.
func (h *handle) checkLocked() error {
	if h.closed || h.p.closed || h.generation != h.p.generation {
		return ports.ErrClosed
	}
	return nil
}

func (h *handle) committed(key string) (entry.Value, bool, error) {
	raw, found, err := h.p.get(valueKey(h.namespace, key))
	if err != nil || !found {
		return entry.Value{}, false, err
	}
	v, err := entry.Decode(raw)
	if err != nil {
		return entry.Value{}, false, err
	}
	return v, true, nil
}

func (h *handle) lookupLocked(key string) (entry.Value, bool, error) {
	if v, ok := h.staged.Get(key); ok {
		return v, true, nil
	}
	return h.committed(key)
}

func (h *handle) fitsLocked(extra *entry.Pending) (bool, error) {
	delta, err := h.staged.Delta(h.p.opts.EntrySize, h.committed, extra)
	if err != nil {
		return false, err
	}
	return h.p.used+delta <= h.p.opts.TotalEntries, nil
}

func (h *handle) stageLocked(key string, v entry.Value) error {
	ok, err := h.fitsLocked(&entry.Pending{Key: key, Value: v})
	if err != nil {
		return err
	}
	if !ok {
		return ports.ErrNotEnoughSpace
	}
	h.staged.Put(key, v)
	return nil
}

func (h *handle) begin(key string) error {
	if err := h.checkLocked(); err != nil {
		return err
	}
	if !domain.ValidKey(key) {
		return ports.ErrInvalidKey
	}
	return nil
}

func (h *handle) GetU32(ctx context.Context, key string) (uint32, bool, error) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if err := h.begin(key); err != nil {
		return 0, false, err
	}
	v, ok, err := h.lookupLocked(key)
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
	return h.stageLocked(key, entry.U32(val))
}

func (h *handle) GetBlob(ctx context.Context, key string, size int) ([]byte, error) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if err := h.begin(key); err != nil {
		return nil, err
	}
	v, ok, err := h.lookupLocked(key)
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
	return h.stageLocked(key, entry.Blob(b))
}

// Commit writes the staged values as one batch.
func (h *handle) Commit(ctx context.Context) error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return err
	}
	if h.staged.Len() == 0 {
		return nil
	}

	delta, err := h.staged.Delta(h.p.opts.EntrySize, h.committed, nil)
	if err != nil {
		return err
	}
	if h.p.used+delta > h.p.opts.TotalEntries {
		return ports.ErrNotEnoughSpace
	}

	b := h.p.db.NewBatch()
	defer b.Close()
	for _, k := range h.staged.Keys() {
		v, _ := h.staged.Get(k)
		if err := b.Set(valueKey(h.namespace, k), v.Encode(), nil); err != nil {
			return err
		}
	}
	if err := b.Commit(h.p.writeSync); err != nil {
		return err
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
