package queue

import (
	"testing"
	"time"
)

func TestPutGetFIFO(t *testing.T) {
	q := New()
	q.Put("a")
	q.Put("b")
	q.Put("c")

	if got := q.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	for _, want := range []string{"a", "b", "c"} {
		v, ok := q.Get(nil)
		if !ok {
			t.Fatalf("Get() ok = false, want true")
		}
		if v != want {
			t.Fatalf("Get() = %v, want %v", v, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len() after drain = %d, want 0", q.Len())
	}
}

func TestGetBlocksUntilPut(t *testing.T) {
	q := New()

	done := make(chan interface{})
	go func() {
		v, ok := q.Get(nil)
		if !ok {
			done <- nil
			return
		}
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.Put("arrived")

	select {
	case v := <-done:
		if v != "arrived" {
			t.Fatalf("Get() = %v, want %q", v, "arrived")
		}
	case <-time.After(time.Second):
		t.Fatal("Get() did not return after Put")
	}
}

func TestGetTimeout(t *testing.T) {
	q := New()

	start := time.Now()
	deadline := start.Add(100 * time.Millisecond)
	_, ok := q.Get(&deadline)
	elapsed := time.Since(start)

	if ok {
		t.Fatal("Get() ok = true on an empty queue with an elapsed deadline, want false")
	}
	if elapsed < 100*time.Millisecond {
		t.Fatalf("Get() returned after %v, want at least 100ms", elapsed)
	}
}

func TestGetPastDeadlineNonBlocking(t *testing.T) {
	q := New()
	past := time.Now().Add(-time.Second)

	start := time.Now()
	_, ok := q.Get(&past)
	elapsed := time.Since(start)

	if ok {
		t.Fatal("Get() ok = true with an already-elapsed deadline, want false")
	}
	if elapsed > 50*time.Millisecond {
		t.Fatalf("Get() with past deadline took %v, want near-instant", elapsed)
	}
}

func TestGetDeadlineSatisfiedByLateArrival(t *testing.T) {
	q := New()
	deadline := time.Now().Add(500 * time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		q.Put("on time")
	}()

	v, ok := q.Get(&deadline)
	if !ok {
		t.Fatal("Get() ok = false, want true (value arrived before deadline)")
	}
	if v != "on time" {
		t.Fatalf("Get() = %v, want %q", v, "on time")
	}
}

func TestClosedQueueWakesWaiters(t *testing.T) {
	q := New()

	done := make(chan bool)
	go func() {
		_, ok := q.Get(nil)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Get() ok = true after Close on an empty queue, want false")
		}
	case <-time.After(time.Second):
		t.Fatal("Get() did not wake up after Close")
	}

	if _, ok := q.Get(nil); ok {
		t.Fatal("Get() on a closed, empty queue should keep returning ok=false")
	}
}

func TestFreeListReuse(t *testing.T) {
	q := New()

	for i := 0; i < 64; i++ {
		q.Put(i)
		if _, ok := q.Get(nil); !ok {
			t.Fatalf("Get() ok = false at i=%d", i)
		}
	}
	if q.freeLength == 0 {
		t.Fatal("expected the free-list to retain at least one cached link after steady put/get traffic")
	}
}

func TestCleanupInvokesFreeAndEmpties(t *testing.T) {
	q := New()
	q.Put(1)
	q.Put(2)
	q.Put(3)

	var freed []int
	q.Cleanup(func(v interface{}) {
		freed = append(freed, v.(int))
	})

	if len(freed) != 3 {
		t.Fatalf("Cleanup freed %d values, want 3", len(freed))
	}
	if q.Len() != 0 {
		t.Fatalf("Len() after Cleanup = %d, want 0", q.Len())
	}
}
