package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/U1traVeno/pgebus/internal/domain/event"
	"github.com/U1traVeno/pgebus/internal/queue"
	"github.com/U1traVeno/pgebus/internal/repo/memory"
	"github.com/U1traVeno/pgebus/internal/repo/postgres"
)

func TestPoolStartTracksLiveWorkers(t *testing.T) {
	repo := memory.NewEventsRepo()
	disp := &fakeDispatcher{matched: true}
	q := queue.NewHandoffQueue(4)

	var workers []*Worker
	for i := 0; i < 3; i++ {
		sf := &fakeSessionFactory{}
		workers = append(workers, New(Config{ID: "w", PollInterval: 10 * time.Millisecond, MaxRetries: 3}, sf, repo, disp, q, nil, nil, nil))
	}

	p := NewPool(workers, q, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for p.LiveWorkers() != 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.LiveWorkers() != 3 {
		t.Fatalf("live workers = %d, want 3", p.LiveWorkers())
	}

	p.Stop(false, time.Second)
}

func TestPoolStartPropagatesValidationError(t *testing.T) {
	broken := &Worker{} // nil repo/dispatcher/queue/pool fails validate()
	p := NewPool([]*Worker{broken}, queue.NewHandoffQueue(1), nil)

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected Start to propagate the worker's validation error")
	}
}

func TestPoolStartTwiceFails(t *testing.T) {
	repo := memory.NewEventsRepo()
	disp := &fakeDispatcher{matched: true}
	q := queue.NewHandoffQueue(4)
	sf := &fakeSessionFactory{}
	w := New(Config{ID: "w", PollInterval: 10 * time.Millisecond, MaxRetries: 3}, sf, repo, disp, q, nil, nil, nil)

	p := NewPool([]*Worker{w}, q, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := p.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("second start = %v, want ErrAlreadyStarted", err)
	}
	p.Stop(false, time.Second)
}

func TestPoolStopWaitsForInFlightDispatchRegardlessOfWaitForCompletion(t *testing.T) {
	repo := memory.NewEventsRepo()
	repo.Put(event.New(event.CreateRequest{Type: "a.b", Source: event.SourceInternal}))

	release := make(chan struct{})
	disp := &blockingDispatcher{release: release, entered: make(chan struct{})}
	q := queue.NewHandoffQueue(4)
	sf := &fakeSessionFactory{}
	w := New(Config{ID: "w", PollInterval: 5 * time.Millisecond, MaxRetries: 3}, sf, repo, disp, q, nil, nil, nil)

	p := NewPool([]*Worker{w}, q, nil)
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Wait until the worker is inside Handle().
	select {
	case <-disp.entered:
	case <-time.After(time.Second):
		t.Fatal("worker never entered dispatch")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop(false, 2*time.Second)
		close(stopped)
	}()

	// Stop must not complete while the dispatch is still blocked.
	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight dispatch finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the in-flight dispatch finished")
	}
}

type blockingDispatcher struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (d *blockingDispatcher) Handle(ctx context.Context, sess postgres.Session, e event.Event) (bool, error) {
	d.once.Do(func() { close(d.entered) })
	<-d.release
	return true, nil
}

func TestPoolStopDrainsQueuedWork(t *testing.T) {
	repo := memory.NewEventsRepo()
	q := queue.NewHandoffQueue(10)
	for i := 0; i < 5; i++ {
		e := event.New(event.CreateRequest{Type: "a.b", Source: event.SourceInternal})
		repo.Put(e)
		q.Offer(e.ID)
	}

	disp := &fakeDispatcher{matched: true}

	var workers []*Worker
	for i := 0; i < 2; i++ {
		sf := &fakeSessionFactory{}
		workers = append(workers, New(Config{ID: "w", PollInterval: 5 * time.Millisecond, MaxRetries: 3}, sf, repo, disp, q, nil, nil, nil))
	}

	p := NewPool(workers, q, nil)
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	p.Stop(true, 2*time.Second)

	ids, err := repo.FetchDuePendingIDs(context.Background(), nil, time.Now().UTC(), 0)
	if err != nil {
		t.Fatalf("FetchDuePendingIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected all events claimed by shutdown, %d still pending", len(ids))
	}
}
