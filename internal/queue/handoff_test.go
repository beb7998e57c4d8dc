package queue

import (
	"context"
	"testing"
	"time"
)

func TestOfferTakeRoundTrip(t *testing.T) {
	q := NewHandoffQueue(2)

	if dropped := q.Offer("a"); dropped {
		t.Fatal("expected offer to succeed")
	}

	id, ok, err := q.Take(context.Background(), time.Second)
	if err != nil || !ok || id != "a" {
		t.Fatalf("take = %q, %v, %v", id, ok, err)
	}
}

func TestOfferDropsWhenFull(t *testing.T) {
	q := NewHandoffQueue(1)

	if dropped := q.Offer("a"); dropped {
		t.Fatal("first offer should not drop")
	}
	if dropped := q.Offer("b"); !dropped {
		t.Fatal("second offer should drop, queue at capacity")
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped count = %d, want 1", q.Dropped())
	}
}

func TestTakeTimesOutWithoutClosing(t *testing.T) {
	q := NewHandoffQueue(1)

	_, ok, err := q.Take(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected timeout, not a value")
	}
}

func TestCloseDrainsThenErrClosed(t *testing.T) {
	q := NewHandoffQueue(4)
	q.Offer("a")
	q.Offer("b")
	q.Close()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		id, ok, err := q.Take(context.Background(), time.Second)
		if err != nil || !ok {
			t.Fatalf("expected buffered value, got %v %v %v", id, ok, err)
		}
		seen[id] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("missing buffered ids: %v", seen)
	}

	_, ok, err := q.Take(context.Background(), time.Second)
	if ok || err != ErrClosed {
		t.Fatalf("expected ErrClosed after drain, got %v %v", ok, err)
	}
}

func TestWaitUntilEmptyWaitsForInFlight(t *testing.T) {
	q := NewHandoffQueue(4)
	q.MarkInFlight()

	done := make(chan bool, 1)
	go func() {
		done <- q.WaitUntilEmpty(200 * time.Millisecond)
	}()

	time.Sleep(20 * time.Millisecond)
	q.MarkDone()

	if ok := <-done; !ok {
		t.Fatal("expected WaitUntilEmpty to observe quiescence before timeout")
	}
}

func TestWaitUntilEmptyTimesOutOnStuckWork(t *testing.T) {
	q := NewHandoffQueue(4)
	q.MarkInFlight()
	defer q.MarkDone()

	if ok := q.WaitUntilEmpty(30 * time.Millisecond); ok {
		t.Fatal("expected timeout while work is still in flight")
	}
}

func TestWaitInFlightDoneIgnoresBufferedIDs(t *testing.T) {
	q := NewHandoffQueue(4)
	q.Offer("a")
	q.Offer("b")

	if !q.WaitInFlightDone(50 * time.Millisecond) {
		t.Fatal("expected WaitInFlightDone to return immediately with no dispatch running, regardless of buffered ids")
	}
}

func TestWaitInFlightDoneWaitsForMarkDone(t *testing.T) {
	q := NewHandoffQueue(4)
	q.MarkInFlight()

	done := make(chan bool, 1)
	go func() {
		done <- q.WaitInFlightDone(200 * time.Millisecond)
	}()

	time.Sleep(20 * time.Millisecond)
	q.MarkDone()

	if ok := <-done; !ok {
		t.Fatal("expected WaitInFlightDone to observe quiescence before timeout")
	}
}
