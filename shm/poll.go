package shm

import (
	"context"
	"time"
)

// DefaultPollInterval is the polling cadence used by channel readers that
// have no semaphore to block on. 5-10ms keeps worst-case latency well under
// one frame period at 30fps.
const DefaultPollInterval = 5 * time.Millisecond

// Waiter is the single poll/wait primitive shared by all channel readers.
// With a semaphore it blocks in bounded slices; without one it ticks at a
// fixed interval. Either way Wait returns regularly so the caller can
// re-check for new data and for shutdown.
type Waiter struct {
	sem      *Sem
	interval time.Duration
}

// NewWaiter builds a waiter. sem may be nil for poll-only channels.
// A non-positive interval falls back to DefaultPollInterval.
func NewWaiter(sem *Sem, interval time.Duration) *Waiter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Waiter{sem: sem, interval: interval}
}

// Wait blocks until a wake-up, one interval, or ctx cancellation,
// whichever comes first. A timeout is not an error: the caller polls the
// channel again regardless, since semaphore posts are best-effort.
func (w *Waiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.sem != nil {
		// Bounded slices keep the loop interruptible even if the
		// producer dies and never posts again.
		slice := w.interval
		if slice < 50*time.Millisecond {
			slice = 50 * time.Millisecond
		}
		if _, err := w.sem.Wait(slice); err != nil {
			return err
		}
		return ctx.Err()
	}
	timer := time.NewTimer(w.interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
