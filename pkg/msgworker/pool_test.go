package msgworker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_DispatchNonBlocking(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	start := time.Now()
	pool.Dispatch(Job{
		TenantID: "tenant-a",
		Address:  "123",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 10*time.Millisecond, "Dispatch must not block the caller")
}

func TestPool_SameDestinationSequentialProcessing(t *testing.T) {
	pool := NewPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var mu sync.Mutex
	var results []int
	done := make(chan struct{})

	for i := 1; i <= 5; i++ {
		val := i
		pool.Dispatch(Job{
			TenantID: "tenant-a",
			Address:  "555123",
			Handler: func(ctx context.Context) error {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				results = append(results, val)
				if len(results) == 5 {
					close(done)
				}
				mu.Unlock()
				return nil
			},
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not finish in time")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, results, "same destination must keep FIFO order")
}

func TestPool_TryDispatchBackpressure(t *testing.T) {
	pool := NewPool(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	block := make(chan struct{})
	slow := func(ctx context.Context) error {
		<-block
		return nil
	}

	// First job occupies the worker, second fills the queue slot; the shard
	// for a fixed key is deterministic, so the third must be refused.
	require.True(t, pool.TryDispatch(Job{TenantID: "t", Address: "x", Handler: slow}))
	time.Sleep(20 * time.Millisecond)
	require.True(t, pool.TryDispatch(Job{TenantID: "t", Address: "x", Handler: slow}))
	assert.False(t, pool.TryDispatch(Job{TenantID: "t", Address: "x", Handler: slow}))

	close(block)
}

func TestPool_StatsCountErrors(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)

	done := make(chan struct{})
	pool.Dispatch(Job{
		TenantID: "tenant-a",
		Address:  "1",
		Handler: func(ctx context.Context) error {
			defer close(done)
			return errors.New("boom")
		},
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
	pool.Stop()

	stats := pool.GetStats()
	assert.Equal(t, int64(1), stats.TotalDispatched)
	assert.Equal(t, int64(1), stats.TotalErrors)
	assert.Equal(t, int64(1), stats.TotalProcessed)
}
