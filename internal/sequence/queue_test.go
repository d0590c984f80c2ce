package sequence

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSameKeyNeverRunsConcurrently(t *testing.T) {
	q := NewQueue()
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start, release := q.Reserve("user-1")
			start()
			defer release()
			if n := atomic.AddInt32(&active, 1); n > atomic.LoadInt32(&peak) {
				atomic.StoreInt32(&peak, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	if atomic.LoadInt32(&peak) != 1 {
		t.Errorf("peak concurrency for one key = %d, want 1", peak)
	}
}

func TestExecutionFollowsReservationOrder(t *testing.T) {
	q := NewQueue()
	const n = 10

	type slot struct{ start, release func() }
	slots := make([]slot, n)
	for i := range slots {
		s, r := q.Reserve("k")
		slots[i] = slot{s, r}
	}

	// Launch in reverse so scheduler order disagrees with reservation
	// order.
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slots[i].start()
			defer slots[i].release()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("execution order %v does not follow reservation order", order)
		}
	}
}

func TestStartBlocksUntilRelease(t *testing.T) {
	q := NewQueue()
	start, release := q.Reserve("u")
	start()

	proceeded := make(chan struct{})
	go func() {
		s, r := q.Reserve("u")
		s()
		close(proceeded)
		r()
	}()

	select {
	case <-proceeded:
		t.Fatal("second reservation started before release")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-proceeded:
	case <-time.After(time.Second):
		t.Fatal("waiter never released")
	}
}

func TestIndependentKeysRunConcurrently(t *testing.T) {
	q := NewQueue()
	startA, releaseA := q.Reserve("a")
	startA()
	defer releaseA()

	done := make(chan struct{})
	go func() {
		s, r := q.Reserve("b")
		s()
		r()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different key was blocked")
	}
}
