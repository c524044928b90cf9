package test_utils

import "time"

type ChanResult[V any] struct {
	Value   V
	Timeout bool
}

// RequireChan waits up to timeout for a value on ch.
func RequireChan[V any](ch <-chan V, timeout time.Duration) ChanResult[V] {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return ChanResult[V]{Value: v}
	case <-timer.C:
		var v V
		return ChanResult[V]{Value: v, Timeout: true}
	}
}

// RequireNoValue reports whether ch stays silent for the whole period.
func RequireNoValue[V any](ch <-chan V, period time.Duration) bool {
	return RequireChan(ch, period).Timeout
}
