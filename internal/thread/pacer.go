package thread

import (
	"context"
	"time"
)

// Pacer enforces the pause between two consecutive posts.
type Pacer interface {
	// Wait blocks for at least d, or until ctx is done.
	Wait(ctx context.Context, d time.Duration) error
}

// SleepPacer waits on a real timer.
type SleepPacer struct{}

func (SleepPacer) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
