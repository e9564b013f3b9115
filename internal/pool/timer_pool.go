// Package pool holds pooled objects reused by the kernel's blocking calls.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrExpired is returned by Wait when the wait limit elapsed first.
var ErrExpired = errors.New("pool: wait limit expired")

var timerPool sync.Pool

// GetTimer returns a timer that fires after d. Return it with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	if t, ok := timerPool.Get().(*time.Timer); ok {
		// timers created since go 1.23 deliver no stale value after Reset
		t.Reset(d)
		return t
	}

	return time.NewTimer(d)
}

// PutTimer stops t and returns it to the pool. t must not be used afterwards.
func PutTimer(t *time.Timer) {
	t.Stop()
	timerPool.Put(t)
}

// Wait receives one value from ch. It gives up with ctx.Err() when ctx is done and with
// ErrExpired when d elapsed first.
func Wait[T any](ctx context.Context, ch <-chan T, d time.Duration) (T, error) {
	timer := GetTimer(d)
	defer PutTimer(timer)

	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, ErrExpired
	}
}
