package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWithinBudgetIsImmediate(t *testing.T) {
	limiter := NewWithWindow(3, 200*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Acquire(ctx))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 3, limiter.Pending())
}

func TestAcquireBlocksUntilWindowSlides(t *testing.T) {
	window := 150 * time.Millisecond
	limiter := NewWithWindow(2, window)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	require.NoError(t, limiter.Acquire(ctx))

	start := time.Now()
	require.NoError(t, limiter.Acquire(ctx))
	waited := time.Since(start)

	assert.GreaterOrEqual(t, waited, window-20*time.Millisecond, "third call must wait for the window")
}

func TestRollingWindowBoundNeverExceeded(t *testing.T) {
	window := 100 * time.Millisecond
	limit := 3
	limiter := NewWithWindow(limit, window)
	ctx := context.Background()

	var mu sync.Mutex
	var approvals []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, limiter.Acquire(ctx))
			mu.Lock()
			approvals = append(approvals, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, approvals, 10)
	// Every window-sized span may contain at most `limit` approvals. A small
	// tolerance covers the gap between approval and timestamping.
	tolerance := 5 * time.Millisecond
	for i := range approvals {
		count := 0
		for j := range approvals {
			diff := approvals[j].Sub(approvals[i])
			if diff >= 0 && diff < window-tolerance {
				count++
			}
		}
		assert.LessOrEqual(t, count, limit)
	}
}

func TestAcquireHonoursCancellation(t *testing.T) {
	limiter := NewWithWindow(1, time.Minute)
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitersAdmittedInOrder(t *testing.T) {
	window := 60 * time.Millisecond
	limiter := NewWithWindow(1, window)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			require.NoError(t, limiter.Acquire(ctx))
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}(i)
		// Stagger arrivals so the queue order is deterministic.
		time.Sleep(15 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestPendingDrainsAsWindowSlides(t *testing.T) {
	window := 80 * time.Millisecond
	limiter := NewWithWindow(2, window)
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	require.NoError(t, limiter.Acquire(ctx))
	assert.Equal(t, 2, limiter.Pending())

	time.Sleep(window + 20*time.Millisecond)
	assert.Equal(t, 0, limiter.Pending())
}
