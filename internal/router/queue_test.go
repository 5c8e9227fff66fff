package router

import (
	"sync"
	"testing"
	"time"
)

// take removes the head item without blocking.
func take[T any](q *Queue[T]) (T, bool) {
	items := q.DrainTo(1)
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[0], true
}

func TestQueue_PushReceive(t *testing.T) {
	q := NewQueue[int](10)

	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := take(q)
		if !ok {
			t.Fatalf("take() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}

	if _, ok := take(q); ok {
		t.Error("take() on empty queue returned true")
	}
}

func TestQueue_GrowsPreservingOrder(t *testing.T) {
	q := NewQueue[int](4)

	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.ResizeCount < 3 {
		t.Errorf("ResizeCount = %d, expected at least 3 resizes", stats.ResizeCount)
	}

	for i := 0; i < 100; i++ {
		val, _ := take(q)
		if val != i {
			t.Fatalf("received %d, want %d", val, i)
		}
	}
}

func TestQueue_WrapAround(t *testing.T) {
	q := NewQueue[int](10)

	// Advance head so later pushes wrap.
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	for i := 0; i < 5; i++ {
		take(q)
	}

	for i := 100; i < 120; i++ {
		q.Push(i)
	}

	got := q.DrainTo(0)
	if len(got) != 20 {
		t.Fatalf("DrainTo returned %d items, want 20", len(got))
	}
	for i, v := range got {
		if v != 100+i {
			t.Errorf("item %d = %d, want %d", i, v, 100+i)
		}
	}
}

func TestQueue_Prepend(t *testing.T) {
	q := NewQueue[string](2)
	q.Push("c")
	q.Push("d")

	if !q.Prepend("a", "b") {
		t.Fatal("Prepend returned false")
	}

	want := []string{"a", "b", "c", "d"}
	got := q.DrainTo(0)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestQueue_PrependAfterReceive(t *testing.T) {
	q := NewQueue[int](16)
	for i := 0; i < 8; i++ {
		q.Push(i)
	}
	q.DrainTo(6)

	q.Prepend(-2, -1)
	q.Push(8)

	want := []int{-2, -1, 6, 7, 8}
	got := q.DrainTo(0)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQueue_BoundedEvictsOldest(t *testing.T) {
	var evicted []int
	q := NewBoundedQueue[int](4, 3, func(v int) { evicted = append(evicted, v) })

	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}
	if len(evicted) != 2 || evicted[0] != 0 || evicted[1] != 1 {
		t.Errorf("evicted = %v, want [0 1]", evicted)
	}

	stats := q.Stats()
	if stats.Evicted != 2 {
		t.Errorf("Evicted = %d, want 2", stats.Evicted)
	}

	got := q.DrainTo(0)
	if got[0] != 2 || got[2] != 4 {
		t.Errorf("remaining = %v, want [2 3 4]", got)
	}
}

func TestQueue_BlockingReceive(t *testing.T) {
	q := NewQueue[int](10)
	received := make(chan int, 1)

	go func() {
		val, ok := q.Receive()
		if ok {
			received <- val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("received %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked receive")
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue[int](10)
	q.Push(1)
	q.Close()

	if q.Push(2) {
		t.Error("Push should return false after Close")
	}
	if q.Prepend(0) {
		t.Error("Prepend should return false after Close")
	}

	val, ok := q.Receive()
	if !ok || val != 1 {
		t.Errorf("Receive() = %d, %v; want 1, true", val, ok)
	}

	if _, ok := q.Receive(); ok {
		t.Error("Receive should return false when closed and empty")
	}
}

func TestQueue_CloseUnblocksReceive(t *testing.T) {
	q := NewQueue[int](10)
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Receive()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Receive should return false when closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Receive")
	}
}

func TestQueue_ConcurrentPushReceive(t *testing.T) {
	q := NewQueue[int](10)
	const producers = 4
	const perProducer = 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		for {
			if _, ok := q.Receive(); !ok {
				close(done)
				return
			}
			total++
		}
	}()

	wg.Wait()
	q.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not finish")
	}

	if total != producers*perProducer {
		t.Errorf("received %d items, want %d", total, producers*perProducer)
	}
}

func TestNewQueue_MinCapacity(t *testing.T) {
	q := NewQueue[int](0)
	if q.Stats().Capacity < 1 {
		t.Errorf("Capacity = %d, want >= 1", q.Stats().Capacity)
	}
	q.Push(1)
	if v, ok := take(q); !ok || v != 1 {
		t.Errorf("take() = %d, %v; want 1, true", v, ok)
	}
}
