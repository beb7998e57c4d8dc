package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/U1traVeno/pgebus/internal/domain/event"
	"github.com/U1traVeno/pgebus/internal/queue"
	"github.com/U1traVeno/pgebus/internal/repo/memory"
	"github.com/jackc/pgx/v5"
)

func TestBackfillOffersDuePendingIDs(t *testing.T) {
	repo := memory.NewEventsRepo()
	now := time.Now().UTC()

	due := event.New(event.CreateRequest{Type: "a.b", Source: event.SourceInternal})
	repo.Put(due)

	future := event.New(event.CreateRequest{Type: "a.b", Source: event.SourceInternal})
	later := now.Add(time.Hour)
	future.RunAt = &later
	repo.Put(future)

	q := queue.NewHandoffQueue(10)
	l := New("events", nil, repo, nil, q, 10, nil, nil)

	l.backfill(context.Background())

	id, ok, err := q.Take(context.Background(), 100*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expected the due event to be offered, got %v %v %v", id, ok, err)
	}
	if id != due.ID {
		t.Fatalf("id = %q, want %q", id, due.ID)
	}

	if _, ok, _ := q.Take(context.Background(), 50*time.Millisecond); ok {
		t.Fatal("future-scheduled event must not be backfilled")
	}
}

func TestStartTwiceFails(t *testing.T) {
	connFactory := func(ctx context.Context) (*pgx.Conn, error) {
		return nil, errors.New("no database in this test")
	}
	l := New("events", connFactory, memory.NewEventsRepo(), nil, queue.NewHandoffQueue(1), 1, nil, nil)

	_ = l.Start(context.Background())
	if err := l.Start(context.Background()); err != ErrAlreadyStarted {
		t.Fatalf("second start = %v, want ErrAlreadyStarted", err)
	}
}

func TestStopIsIdempotentWithoutStart(t *testing.T) {
	l := New("events", nil, memory.NewEventsRepo(), nil, queue.NewHandoffQueue(1), 1, nil, nil)

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("stop without start should be a no-op: %v", err)
	}
	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("second stop should also be a no-op: %v", err)
	}
}
