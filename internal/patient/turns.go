package patient

import (
	"context"
	"sync"
)

// TurnQueue hands out per-session tickets in submission order. A turn holds
// its ticket from submission until its merge is applied, so merges for one
// session land in the order the turns arrived.
type TurnQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func NewTurnQueue() *TurnQueue {
	return &TurnQueue{tails: make(map[string]chan struct{})}
}

// Acquire blocks until every earlier ticket for id is released. The returned
// release func must be called exactly once. If ctx ends while waiting, the
// ticket still passes its turn on to later callers once its predecessor is done.
func (q *TurnQueue) Acquire(ctx context.Context, id string) (func(), error) {
	done := make(chan struct{})
	q.mu.Lock()
	prev := q.tails[id]
	q.tails[id] = done
	q.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(done)
			q.mu.Lock()
			if q.tails[id] == done {
				delete(q.tails, id)
			}
			q.mu.Unlock()
		})
	}

	if prev == nil {
		return release, nil
	}
	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

// Pending reports the number of sessions with an outstanding ticket.
func (q *TurnQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
