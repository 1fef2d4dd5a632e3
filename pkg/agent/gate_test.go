package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
)

func TestGateNeverExceedsCapacity(t *testing.T) {
	g := NewGate(5, 100)
	ctx := context.Background()

	var (
		current atomic.Int64
		peak    atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(ctx))
			defer g.Release()

			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(5), "concurrent activations must stay within the cap")
	assert.Zero(t, g.Active())
}

func TestGateRefusesWhenQueueSaturated(t *testing.T) {
	g := NewGate(1, 2)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))

	// Fill the wait queue.
	started := make(chan struct{}, 2)
	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			started <- struct{}{}
			done <- g.Acquire(ctx)
		}()
	}
	<-started
	<-started
	waitFor(t, func() bool { return g.Waiting() >= 2 })

	err := g.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeQuotaExceeded, apperr.CodeOf(err))

	// Drain: release the slot twice so both waiters pass.
	g.Release()
	require.NoError(t, <-done)
	g.Release()
	require.NoError(t, <-done)
	g.Release()

	waitFor(t, func() bool { return g.Waiting() == 0 })
	assert.NoError(t, g.Acquire(ctx), "gate accepts work again after drain")
	g.Release()
}

func TestGateAcquireHonorsContext(t *testing.T) {
	g := NewGate(1, 10)
	require.NoError(t, g.Acquire(context.Background()))
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
