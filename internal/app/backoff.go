package app

import (
	"context"
	"math/rand"
	"time"
)

// Default backoff configuration values for producer retries.
const (
	DefaultBackoffInitial = 50 * time.Millisecond
	DefaultBackoffMax     = 2 * time.Second
)

// backoff implements exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// newBackoff creates a new backoff with the given initial and max durations.
func newBackoff(initial, max time.Duration) *backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if max < initial {
		max = initial
	}
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Wait sleeps for the current backoff duration and increases it. It returns
// early with ctx.Err() if ctx is cancelled.
func (b *backoff) Wait(ctx context.Context) error {
	// Add jitter: ±20%
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	sleep := time.Duration(float64(b.current) + jitter)

	timer := time.NewTimer(sleep)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	// Increase for next time
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return nil
}

// Reset resets the backoff to the initial duration.
func (b *backoff) Reset() {
	b.current = b.initial
}

// Current returns the current backoff duration.
func (b *backoff) Current() time.Duration {
	return b.current
}
