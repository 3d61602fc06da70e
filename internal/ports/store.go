package ports

import (
	"context"
	"errors"

	"github.com/bft-labs/nvsq/internal/domain"
)

// Errors every partition adapter reports in the same way.
var (
	// ErrNotFound is returned by GetBlob for a missing key.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidLength is returned by GetBlob when the stored blob has a
	// different size than requested.
	ErrInvalidLength = errors.New("invalid blob length")

	// ErrNotEnoughSpace is returned when a write does not fit the partition.
	ErrNotEnoughSpace = errors.New("not enough space")

	// ErrInvalidKey is returned for an empty or overlong key.
	ErrInvalidKey = errors.New("invalid key")

	// ErrNoFreePages is returned by Init when the partition has no free
	// page left for its own bookkeeping and must be erased.
	ErrNoFreePages = errors.New("no free pages")

	// ErrNewVersionFound is returned by Init when the partition was written
	// with an incompatible layout version and must be erased.
	ErrNewVersionFound = errors.New("new layout version found")

	// ErrNotInitialized is returned by Open before Init succeeded.
	ErrNotInitialized = errors.New("partition not initialized")

	// ErrTypeMismatch is returned when a key holds a value of another kind.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrClosed is returned by operations on a closed partition or handle.
	ErrClosed = errors.New("closed")
)

// Partition is a named, bounded key-value partition.
// Implementations must be safe for use by one writer at a time; the queue
// never shares a namespace between writers.
type Partition interface {
	// Open acquires a handle on namespace, creating the namespace if needed.
	// The caller must Close the handle on every path.
	Open(ctx context.Context, namespace string) (Handle, error)

	// Stats returns the entry accounting of the whole partition.
	Stats(ctx context.Context) (domain.StoreStats, error)

	// Init prepares the partition for use. It returns ErrNoFreePages or
	// ErrNewVersionFound when the partition has to be erased first.
	Init(ctx context.Context) error

	// Erase removes every namespace and key in the partition.
	Erase(ctx context.Context) error

	// Close releases the partition.
	Close() error
}

// Handle gives access to one namespace of a partition.
// Writes are staged on the handle and become durable on Commit; closing a
// handle with staged writes discards them.
type Handle interface {
	// GetU32 reads a scalar. found is false when the key does not exist.
	GetU32(ctx context.Context, key string) (value uint32, found bool, err error)

	// SetU32 stages a scalar write.
	SetU32(ctx context.Context, key string, value uint32) error

	// GetBlob reads a blob of exactly size bytes.
	// Returns ErrNotFound or ErrInvalidLength.
	GetBlob(ctx context.Context, key string, size int) ([]byte, error)

	// SetBlob stages a blob write. The slice is copied.
	SetBlob(ctx context.Context, key string, value []byte) error

	// Commit makes the staged writes durable.
	Commit(ctx context.Context) error

	// Close releases the handle and discards uncommitted writes.
	Close() error
}
