package app

import (
	"fmt"
	"sync"

	"github.com/bft-labs/nvsq/internal/ports"
)

// State represents the lifecycle state of a queue.
type State int

const (
	StateUninitialized State = iota
	StateRecovered
	StateReady
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateRecovered:
		return "Recovered"
	case StateReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// stateMachine guards the Uninitialized -> Recovered -> Ready sequence.
// Ready has no exit; a restarted process builds a new queue.
type stateMachine struct {
	mu     sync.RWMutex
	state  State
	logger ports.Logger
}

func newStateMachine(logger ports.Logger) *stateMachine {
	return &stateMachine{state: StateUninitialized, logger: logger}
}

// Current returns the current state.
func (m *stateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// TransitionTo moves to next, or returns an error for an invalid transition.
func (m *stateMachine) TransitionTo(next State, reason string) error {
	m.mu.Lock()
	prev := m.state

	valid := false
	switch prev {
	case StateUninitialized:
		valid = next == StateRecovered
	case StateRecovered:
		valid = next == StateReady
	}
	if !valid {
		m.mu.Unlock()
		return fmt.Errorf("invalid queue transition %s -> %s", prev, next)
	}

	m.state = next
	m.mu.Unlock()

	m.logger.Debug("queue state transition",
		ports.String("from", prev.String()),
		ports.String("to", next.String()),
		ports.String("reason", reason),
	)
	return nil
}
