// Package log adapts logging libraries to ports.Logger.
package log

import "github.com/bft-labs/nvsq/internal/ports"

// Discard is a ready-to-use logger that drops everything.
var Discard ports.Logger = NoopLogger{}

// NoopLogger implements ports.Logger by discarding all log messages.
type NoopLogger struct{}

// NewNoopLogger creates a new no-op logger.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

func (NoopLogger) Debug(string, ...ports.Field) {}
func (NoopLogger) Info(string, ...ports.Field)  {}
func (NoopLogger) Warn(string, ...ports.Field)  {}
func (NoopLogger) Error(string, ...ports.Field) {}
