// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// # Port Interfaces
//
//   - [Partition]: a bounded key-value partition with entry statistics
//   - [Handle]: a namespace opened on a partition; writes are staged until Commit
//   - [Logger]: structured logging abstraction
//   - [Metrics]: enqueue and capacity observations
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them on top of an
// in-memory flash simulation, Pebble, or SQLite.
package ports
