package store

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff sleeps before retry attempt n (1-based) with a small jittered
// exponential delay, returning early if ctx is done.
func Backoff(ctx context.Context, attempt int) error {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(1<<min(attempt-1, 6)) * 2 * time.Millisecond
	delay := base + time.Duration(rand.Int64N(int64(base)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
