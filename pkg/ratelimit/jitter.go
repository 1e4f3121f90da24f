package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"
)

// Jitter pauses for a random duration in [Min, Max) between feed pages
type Jitter struct {
	Min time.Duration
	Max time.Duration

	// Sleep is swapped out in tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewJitter creates a Jitter over [min, max)
func NewJitter(min, max time.Duration) *Jitter {
	return &Jitter{Min: min, Max: max, Sleep: sleep}
}

// Next draws the next pause length
func (j *Jitter) Next() time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}
	return j.Min + rand.N(j.Max-j.Min)
}

// Pause sleeps for Next() or until ctx is done
func (j *Jitter) Pause(ctx context.Context) error {
	return j.PauseFor(ctx, j.Next())
}

// PauseFor sleeps for d or until ctx is done
func (j *Jitter) PauseFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	sleepFn := j.Sleep
	if sleepFn == nil {
		sleepFn = sleep
	}
	return sleepFn(ctx, d)
}
