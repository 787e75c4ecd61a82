package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Throttle enforces a minimum interval between successive calls to Wait.
// The read-sleep-write sequence runs under one mutex, so callers sharing a
// Throttle are spaced strictly even when they arrive together.
type Throttle struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option customizes a Throttle.
type Option func(*Throttle)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) {
		if now != nil {
			t.now = now
		}
	}
}

// WithSleep overrides how the throttle waits.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(t *Throttle) {
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

// New constructs a Throttle. A non-positive interval disables spacing.
func New(interval time.Duration, opts ...Option) *Throttle {
	t := &Throttle{
		interval: interval,
		last:     time.Unix(0, 0),
		now:      time.Now,
		sleep:    Sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Interval reports the configured spacing.
func (t *Throttle) Interval() time.Duration {
	if t == nil {
		return 0
	}
	return t.interval
}

// Wait blocks until at least the configured interval has passed since the
// previous call returned, then records the current time. A nil Throttle
// never blocks.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if wait := t.interval - t.now().Sub(t.last); wait > 0 {
		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}
	t.last = t.now()
	return nil
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
