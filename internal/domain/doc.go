// Package domain contains the core entities and value objects for nvsq.
//
// This package is the innermost layer. It has no dependencies on storage
// engines, logging, or configuration and contains only the rules every
// other layer agrees on.
//
// # Entities
//
//   - [RecordID]: monotonic record identifier, 0 means "no record"
//   - [Record]: opaque fixed-size payload
//   - [StoreStats]: entry accounting of a key-value partition
//
// # Keys
//
// Record keys are derived from the id with [FormatKey] and parsed back with
// [ParseKey]. The counter lives under [CounterKey], which never collides with
// a record key.
//
// # Entry accounting
//
// Flash key-value stores allocate fixed-size entries. [BlobEntries],
// [U32Entries] and [NamespaceEntries] give the cost of each kind of write so
// that every partition adapter reports comparable statistics.
package domain
