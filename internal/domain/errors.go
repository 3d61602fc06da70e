package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions in the nvsq domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrCapacityExhausted is returned when the capacity guard refuses a write.
	// It is expected and recoverable: drain the queue and try again.
	ErrCapacityExhausted = errors.New("nvsq: capacity exhausted")

	// ErrRecoveryInconsistent is returned when the recovered counter points
	// at a record that cannot be read back as a full-size record.
	ErrRecoveryInconsistent = errors.New("nvsq: recovery inconsistent")

	// ErrNotReady is returned when Enqueue is called before Recover.
	ErrNotReady = errors.New("nvsq: queue not ready")

	// ErrAlreadyRecovered is returned when Recover is called twice.
	ErrAlreadyRecovered = errors.New("nvsq: queue already recovered")

	// ErrInvalidRecord is returned for a record of the wrong size.
	ErrInvalidRecord = errors.New("nvsq: invalid record")

	// ErrIDSpaceExhausted is returned when the next id would exceed MaxRecordID.
	ErrIDSpaceExhausted = errors.New("nvsq: record id space exhausted")

	// ErrUnknownRecord is returned when reading an id that was never committed.
	ErrUnknownRecord = errors.New("nvsq: unknown record")

	// ErrNeedsProvision is returned when a partition can only be used after
	// an erase. Nothing is erased outside of provisioning.
	ErrNeedsProvision = errors.New("nvsq: partition needs provisioning")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("nvsq: invalid configuration")
)

// StoreError reports a failed key-value operation. It is passed to the
// caller as is and never retried by the queue.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("nvsq: store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("nvsq: store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// CapacityError carries the statistics that caused a write to be refused.
type CapacityError struct {
	Stats  StoreStats
	Margin int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%v: free_entries=%d margin=%d total_entries=%d",
		ErrCapacityExhausted, e.Stats.FreeEntries, e.Margin, e.Stats.TotalEntries)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacityExhausted }

// RecoveryError describes a counter whose record is missing or malformed.
type RecoveryError struct {
	Counter RecordID
	Key     string
	Err     error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("%v: counter=%d key=%s: %v", ErrRecoveryInconsistent, e.Counter, e.Key, e.Err)
}

func (e *RecoveryError) Is(target error) bool { return target == ErrRecoveryInconsistent }

func (e *RecoveryError) Unwrap() error { return e.Err }

// IsStoreError reports whether err carries a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
