package gate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquireWithinCapacity(t *testing.T) {
	g := New(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if got := g.Free(); got != 0 {
		t.Errorf("Free() = %d, want 0", got)
	}

	g.Release()
	if got := g.Free(); got != 1 {
		t.Errorf("Free() after Release = %d, want 1", got)
	}
}

func TestNegativeCapacityClampedToZero(t *testing.T) {
	g := New(-5)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := g.Acquire(ctx); err == nil {
		t.Fatal("Acquire on negative-capacity gate succeeded, want context error")
	}
}

func TestZeroCapacityBlocksUntilCancel(t *testing.T) {
	g := New(0)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Acquire(ctx)
	}()

	// Give the goroutine time to enqueue before cancelling.
	waitFor(t, func() bool { return g.Waiting() == 1 })
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Acquire returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after cancel")
	}
	if got := g.Waiting(); got != 0 {
		t.Errorf("Waiting() after cancel = %d, want 0", got)
	}
}

func TestGrantsAreFIFO(t *testing.T) {
	g := New(1)
	ctx := context.Background()

	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("initial Acquire failed: %v", err)
	}

	const waiters = 5
	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		// Enqueue one at a time so arrival order is deterministic.
		wg.Add(1)
		i := i
		before := g.Waiting()
		go func() {
			defer wg.Done()
			if err := g.Acquire(ctx); err != nil {
				t.Errorf("waiter %d: Acquire failed: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			g.Release()
		}()
		waitFor(t, func() bool { return g.Waiting() == before+1 })
	}

	// Releasing the held permit drains the queue one grant at a time.
	g.Release()
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("grant order = %v, want waiters admitted in arrival order", order)
		}
	}
}

func TestConcurrentHoldersNeverExceedCapacity(t *testing.T) {
	const capacity = 3
	const workers = 20

	g := New(capacity)
	ctx := context.Background()

	var mu sync.Mutex
	var holding, highWater int

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(ctx); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			mu.Lock()
			holding++
			if holding > highWater {
				highWater = holding
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holding--
			mu.Unlock()
			g.Release()
		}()
	}
	wg.Wait()

	if highWater > capacity {
		t.Errorf("high-water mark = %d, want at most %d", highWater, capacity)
	}
	if got := g.Free(); got != capacity {
		t.Errorf("Free() after drain = %d, want %d", got, capacity)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
