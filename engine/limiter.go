package engine

import (
	"context"
	"sync"
)

// RunLimiter bounds the number of workflow runs in flight. A max of zero
// or less allows unlimited runs.
type RunLimiter struct {
	max   int
	slots chan struct{}

	mu       sync.Mutex
	inFlight int
}

// NewRunLimiter creates a limiter admitting at most max concurrent runs.
func NewRunLimiter(max int) *RunLimiter {
	if max < 0 {
		max = 0
	}
	l := &RunLimiter{max: max}
	if max > 0 {
		l.slots = make(chan struct{}, max)
	}
	return l
}

// Acquire blocks until a slot is free or ctx is done.
func (l *RunLimiter) Acquire(ctx context.Context) error {
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.mu.Lock()
	l.inFlight++
	l.mu.Unlock()
	return nil
}

// Release frees a slot taken by Acquire.
func (l *RunLimiter) Release() {
	l.mu.Lock()
	l.inFlight--
	l.mu.Unlock()
	if l.slots != nil {
		<-l.slots
	}
}

// InFlight returns the number of runs currently admitted.
func (l *RunLimiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Remaining returns how many more runs may start without blocking, or -1
// when unlimited.
func (l *RunLimiter) Remaining() int {
	if l.max == 0 {
		return -1
	}
	return l.max - l.InFlight()
}
