// Package memstore is an in-memory flash partition for tests and dry runs.
//
// It keeps the entry accounting of a flash key-value store: every namespace,
// scalar and blob occupies a number of fixed-size entries, and a write that
// does not fit fails with ports.ErrNotEnoughSpace. Writes are staged on the
// handle and applied on Commit.
//
// Three knobs reproduce field failures:
//
//   - Options.Fault fails a chosen operation, e.g. the counter write after a
//     blob write, which is how a power cut between the two looks.
//   - Crash invalidates every open handle and drops their staged writes.
//   - Options.HangBelowFree makes SetBlob block, the way the reference
//     device's blob write never returns once the partition is nearly full.
package memstore
