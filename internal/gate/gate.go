// Package gate provides the counting semaphore that bounds how many capture
// worker processes run at once. Grants are strictly FIFO: a caller that
// started waiting later is never admitted while an earlier caller still waits.
package gate

import (
	"context"
	"sync"
)

// Gate is a FIFO-fair counting semaphore. The zero value is not usable;
// construct with New.
type Gate struct {
	mu      sync.Mutex
	free    int
	waiters []chan struct{}
}

// New returns a Gate with the given capacity. Capacity 0 is legal and makes
// every Acquire wait until its context is cancelled.
func New(capacity int) *Gate {
	if capacity < 0 {
		capacity = 0
	}
	return &Gate{free: capacity}
}

// Acquire blocks the calling goroutine until a permit is available or ctx is
// done. Permits are granted in arrival order; Release hands its permit
// directly to the head waiter, so a free count above zero implies an empty
// queue.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.free > 0 {
		g.free--
		g.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	g.waiters = append(g.waiters, ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ready {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// The permit was granted between ctx firing and us taking the lock;
		// hand it back so the next waiter is not starved.
		g.Release()
		return ctx.Err()
	}
}

// Release returns a permit, waking the longest-waiting Acquire if any,
// otherwise incrementing the free count.
func (g *Gate) Release() {
	g.mu.Lock()
	if len(g.waiters) > 0 {
		ready := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		close(ready)
		return
	}
	g.free++
	g.mu.Unlock()
}

// Free reports the current free-permit count. Advisory only; the value can be
// stale by the time the caller looks at it.
func (g *Gate) Free() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.free
}

// Waiting reports how many callers are queued. Advisory only.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
