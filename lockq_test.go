package dirstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func Test_LockQueue_Admits_Waiters_In_Arrival_Order(t *testing.T) {
	t.Parallel()

	var q lockQueue

	ctx := context.Background()

	if err := q.acquire(ctx); err != nil {
		t.Fatalf("initial acquire error = %v", err)
	}

	const waiters = 8

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)

	// Spawn waiters one at a time, confirming each has joined the queue
	// before starting the next, so arrival order is deterministic.
	for i := 0; i < waiters; i++ {
		i := i

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := q.acquire(ctx); err != nil {
				t.Errorf("waiter %d acquire error = %v", i, err)

				return
			}

			mu.Lock()
			order = append(order, i)
			mu.Unlock()

			q.release()
		}()

		waitFor(t, func() bool { return q.depth() == i+1 })
	}

	q.release()
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("admission order = %v, want strict arrival order", order)
		}
	}
}

func Test_LockQueue_Is_Mutually_Exclusive(t *testing.T) {
	t.Parallel()

	var q lockQueue

	ctx := context.Background()

	var (
		active int
		peak   int
		mu     sync.Mutex
		wg     sync.WaitGroup
	)

	for n := 0; n < 32; n++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := q.acquire(ctx); err != nil {
				t.Errorf("acquire error = %v", err)

				return
			}

			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()

			q.release()
		}()
	}

	wg.Wait()

	if peak != 1 {
		t.Errorf("peak concurrent holders = %d, want 1", peak)
	}
}

func Test_LockQueue_Rejects_Canceled_Context_Before_Joining(t *testing.T) {
	t.Parallel()

	var q lockQueue

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := q.acquire(ctx); err == nil {
		t.Error("acquire with canceled context should fail")
	}

	// The queue must be untouched: a fresh acquire succeeds immediately.
	if err := q.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after rejected attempt error = %v", err)
	}

	q.release()
}

func Test_LockQueue_Delivers_Slot_To_Waiter_Whose_Context_Expired(t *testing.T) {
	t.Parallel()

	var q lockQueue

	if err := q.acquire(context.Background()); err != nil {
		t.Fatalf("holder acquire error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan error, 1)

	go func() {
		got <- q.acquire(ctx)
	}()

	waitFor(t, func() bool { return q.depth() == 1 })

	// Cancellation after joining does not remove the waiter; the slot
	// still arrives and the waiter must release it.
	cancel()
	q.release()

	select {
	case err := <-got:
		if err != nil {
			t.Errorf("queued waiter acquire error = %v, want slot despite cancellation", err)
		}

		q.release()
	case <-time.After(2 * time.Second):
		t.Fatal("queued waiter never received the slot")
	}
}

// waitFor polls cond until it holds or the test deadline is hopeless.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never held")
		}

		time.Sleep(time.Millisecond)
	}
}
