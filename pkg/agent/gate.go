package agent

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
)

// DefaultConcurrency is the process-wide cap on concurrent agent
// activations.
const DefaultConcurrency = 5

// DefaultQueueDepth is how many activations may wait at the gate before new
// work is refused.
const DefaultQueueDepth = 32

// Gate is the global semaphore bounding concurrent agent activations.
// Waiters queue FIFO (semaphore.Weighted preserves arrival order); when the
// wait queue exceeds the configured depth, new work is refused instead of
// queued.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	depth    int64

	waiting atomic.Int64
	active  atomic.Int64

	mu       sync.Mutex
	draining bool
}

// NewGate creates a gate. Non-positive arguments fall back to defaults.
func NewGate(capacity, queueDepth int) *Gate {
	if capacity <= 0 {
		capacity = DefaultConcurrency
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
		depth:    int64(queueDepth),
	}
}

// Acquire blocks until a slot is free or ctx is done. It refuses
// immediately with QUOTA_EXCEEDED when the wait queue is over depth; the
// refusal state clears once the queue drains.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.draining && g.waiting.Load() > 0 {
		g.mu.Unlock()
		return apperr.New(apperr.CodeQuotaExceeded, "agent queue saturated, refusing new work")
	}
	g.draining = false
	if g.waiting.Load() >= g.depth {
		g.draining = true
		g.mu.Unlock()
		return apperr.New(apperr.CodeQuotaExceeded, "agent queue saturated, refusing new work")
	}
	g.waiting.Add(1)
	g.mu.Unlock()

	defer g.waiting.Add(-1)
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return apperr.Wrap(apperr.CodeOf(err), err, "waiting for agent slot")
	}
	g.active.Add(1)
	return nil
}

// Release frees a slot acquired with Acquire.
func (g *Gate) Release() {
	g.active.Add(-1)
	g.sem.Release(1)
}

// Active returns how many activations currently hold a slot.
func (g *Gate) Active() int { return int(g.active.Load()) }

// Waiting returns how many activations are queued at the gate.
func (g *Gate) Waiting() int { return int(g.waiting.Load()) }

// Capacity returns the activation cap.
func (g *Gate) Capacity() int { return int(g.capacity) }
