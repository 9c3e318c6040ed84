package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrClockUnavailable is returned when the trusted time source cannot be read.
var ErrClockUnavailable = errors.New("clock unavailable")

// Clock is the trusted source of the current unix time for a call.
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

// SystemClock reads the host wall clock.
type SystemClock struct{}

// Now returns the current unix time in seconds.
func (SystemClock) Now(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return time.Now().Unix(), nil
}

// ClockFunc adapts a function to Clock.
type ClockFunc func(ctx context.Context) (int64, error)

// Now calls f.
func (f ClockFunc) Now(ctx context.Context) (int64, error) { return f(ctx) }

// ManualClock is a settable clock for tests and replays.
type ManualClock struct {
	t atomic.Int64
}

// NewManualClock creates a ManualClock set to t.
func NewManualClock(t int64) *ManualClock {
	c := &ManualClock{}
	c.t.Store(t)
	return c
}

// Set moves the clock to t.
func (c *ManualClock) Set(t int64) { c.t.Store(t) }

// Now returns the current setting.
func (c *ManualClock) Now(context.Context) (int64, error) { return c.t.Load(), nil }
