package dirstore

import (
	"context"
	"sync"
)

// lockQueue admits one mutation at a time in strict arrival order.
//
// A plain mutex makes no ordering promise under contention, so the queue
// keeps an explicit FIFO of waiters: the holder hands the slot to the
// oldest waiter on release. A mutation submitted first is therefore
// durably visible before a later one begins.
type lockQueue struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// acquire blocks until the caller holds the slot. The context is consulted
// only before the caller joins the queue: once queued, the slot is
// guaranteed to arrive and the caller must release it.
func (q *lockQueue) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()

	if !q.busy {
		q.busy = true
		q.mu.Unlock()

		return nil
	}

	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	<-ch

	return nil
}

// release hands the slot to the oldest waiter, or idles the queue. It must
// be called exactly once per successful acquire, on success and on failure
// alike, so a failing mutation never stalls the queue.
func (q *lockQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiters) == 0 {
		q.busy = false

		return
	}

	ch := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(ch)
}

// depth reports the number of queued waiters, not counting the holder.
func (q *lockQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.waiters)
}
