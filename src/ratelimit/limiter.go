package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter bounds outbound exchange calls to at most `limit` approvals within
// any rolling window. Acquire blocks until the next call is legal; waiters
// are admitted in FIFO order and every caller eventually proceeds unless its
// context is cancelled.
type Limiter struct {
	limit  int
	window time.Duration

	// turn serializes waiters; blocked senders are queued FIFO by the
	// runtime, which gives the tie-break rule for free.
	turn chan struct{}

	mu     sync.Mutex
	stamps []time.Time

	now func() time.Time
}

// New returns a limiter allowing callsPerSecond approvals in any rolling
// one-second window.
func New(callsPerSecond int) *Limiter {
	return NewWithWindow(callsPerSecond, time.Second)
}

func NewWithWindow(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{
		limit:  limit,
		window: window,
		turn:   make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Acquire blocks until a call may be made without exceeding the budget,
// records the approval and returns. Returns ctx.Err() on cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.turn }()

	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Pending reports how many approvals currently count against the window.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
