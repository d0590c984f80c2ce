// Package sequence serialises work per key in reservation order.
package sequence

import "sync"

// Queue chains waiters per key so work runs in the order it was
// reserved, while distinct keys proceed concurrently.
type Queue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func NewQueue() *Queue {
	return &Queue{tails: make(map[string]chan struct{})}
}

// Reserve fixes the caller's position for key at call time and returns
// without blocking, so receive loops can pin arrival order before
// handing work to a goroutine. start blocks until every earlier
// reservation for the key has released; release must be called exactly
// once after start returns.
func (q *Queue) Reserve(key string) (start, release func()) {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = done
	q.mu.Unlock()

	start = func() {
		if prev != nil {
			<-prev
		}
	}
	release = func() {
		close(done)
		q.mu.Lock()
		if q.tails[key] == done {
			delete(q.tails, key)
		}
		q.mu.Unlock()
	}
	return start, release
}
