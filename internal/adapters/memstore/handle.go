package memstore

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
	v, ok := h.p.namespaces[h.namespace][key]
	return v, ok, nil
}

func (h *handle) lookupLocked(key string) (entry.Value, bool) {
	if v, ok := h.staged.Get(key); ok {
		return v, true
	}
	v, ok, _ := h.committed(key)
	return v, ok
}

// fitsLocked reports whether the staged writes plus extra fit the partition.
func (h *handle) fitsLocked(extra *entry.Pending) bool {
	delta, _ := h.staged.Delta(h.p.opts.EntrySize, h.committed, extra)
	return h.p.used+delta <= h.p.opts.TotalEntries
}

func (h *handle) stageLocked(key string, v entry.Value) error {
	if !h.fitsLocked(&entry.Pending{Key: key, Value: v}) {
		return ports.ErrNotEnoughSpace
	}
	h.staged.Put(key, v)
	return nil
}

func (h *handle) GetU32(ctx context.Context, key string) (uint32, bool, error) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return 0, false, err
	}
	if !domain.ValidKey(key) {
		return 0, false, ports.ErrInvalidKey
	}
	if err := h.p.fault(OpGetU32, key); err != nil {
		return 0, false, err
	}
	v, ok := h.lookupLocked(key)
	if !ok {
		return 0, false, nil
	}
	if v.Kind != entry.KindU32 {
		return 0, false, ports.ErrTypeMismatch
	}
	return v.U32, true, nil
}

func (h *handle) SetU32(ctx context.Context, key string, val uint32) error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return err
	}
	if !domain.ValidKey(key) {
		return ports.ErrInvalidKey
	}
	if err := h.p.fault(OpSetU32, key); err != nil {
		return err
	}
	return h.stageLocked(key, entry.U32(val))
}

func (h *handle) GetBlob(ctx context.Context, key string, size int) ([]byte, error) {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return nil, err
	}
	if !domain.ValidKey(key) {
		return nil, ports.ErrInvalidKey
	}
	if err := h.p.fault(OpGetBlob, key); err != nil {
		return nil, err
	}
	v, ok := h.lookupLocked(key)
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
	if err := h.checkLocked(); err != nil {
		h.p.mu.Unlock()
		return err
	}
	if !domain.ValidKey(key) {
		h.p.mu.Unlock()
		return ports.ErrInvalidKey
	}
	if err := h.p.fault(OpSetBlob, key); err != nil {
		h.p.mu.Unlock()
		return err
	}
	if limit := h.p.opts.HangBelowFree; limit > 0 && h.p.statsLocked().FreeEntries < limit {
		unblock := h.p.unblock
		h.p.mu.Unlock()
		// The blob write never completes, and the caller is not told.
		<-unblock
		return ports.ErrClosed
	}
	defer h.p.mu.Unlock()
	return h.stageLocked(key, entry.Blob(b))
}

func (h *handle) Commit(ctx context.Context) error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return err
	}
	if err := h.p.fault(OpCommit, ""); err != nil {
		return err
	}
	if h.staged.Len() == 0 {
		return nil
	}
	// Another handle may have committed since staging.
	if !h.fitsLocked(nil) {
		return ports.ErrNotEnoughSpace
	}

	entrySize := h.p.opts.EntrySize
	committed := h.p.namespaces[h.namespace]
	for _, k := range h.staged.Keys() {
		nv, _ := h.staged.Get(k)
		if old, ok := committed[k]; ok {
			h.p.used -= old.Entries(entrySize)
		}
		committed[k] = nv
		h.p.used += nv.Entries(entrySize)
	}
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
