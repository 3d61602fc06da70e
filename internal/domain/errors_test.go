package domain

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestCapacityError_Is(t *testing.T) {
	err := fmt.Errorf("enqueue: %w", &CapacityError{
		Stats:  StoreStats{FreeEntries: 4, TotalEntries: 100},
		Margin: 5,
	})

	if !errors.Is(err, ErrCapacityExhausted) {
		t.Fatalf("expected ErrCapacityExhausted, got %v", err)
	}
	if IsStoreError(err) {
		t.Fatalf("capacity error must not be a store error")
	}
	if !strings.Contains(err.Error(), "free_entries=4") {
		t.Errorf("message should carry stats: %s", err)
	}
}

func TestStoreError_Unwrap(t *testing.T) {
	err := error(&StoreError{Op: "set_blob", Key: "record00001", Err: io.ErrUnexpectedEOF})

	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("store error should unwrap to the adapter error")
	}
	if !IsStoreError(err) {
		t.Fatalf("IsStoreError = false")
	}
	if errors.Is(err, ErrCapacityExhausted) {
		t.Fatalf("store error must not match ErrCapacityExhausted")
	}
	if got := err.Error(); got != "nvsq: store set_blob record00001: unexpected EOF" {
		t.Errorf("Error() = %q", got)
	}
}

func TestRecoveryError_Is(t *testing.T) {
	cause := errors.New("short blob")
	err := error(&RecoveryError{Counter: 7, Key: FormatKey(7), Err: cause})

	if !errors.Is(err, ErrRecoveryInconsistent) {
		t.Fatalf("expected ErrRecoveryInconsistent")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
}
