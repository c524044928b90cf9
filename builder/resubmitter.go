package builder

import (
	"context"
	"sync"
	"time"
)

// Resubmitter retries a single publication task in the background. Starting
// a new task cancels the previous one.
type Resubmitter struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// newTask runs fn once and returns its result. While fn keeps failing it is
// retried every interval until repeatFor elapses.
func (r *Resubmitter) newTask(repeatFor time.Duration, interval time.Duration, fn func() error) error {
	repeatUntilCh := time.After(repeatFor)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	firstRunErr := fn()
	if firstRunErr == nil {
		cancel()
		return nil
	}

	go func() {
		for ctx.Err() == nil {
			select {
			case <-ctx.Done():
				return
			case <-repeatUntilCh:
				cancel()
				return
			case <-time.After(interval):
				if fn() == nil {
					cancel()
					return
				}
			}
		}
	}()

	return firstRunErr
}

func (r *Resubmitter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}
