package producer

import (
	"context"
	"testing"

	"github.com/U1traVeno/pgebus/internal/domain/event"
	"github.com/U1traVeno/pgebus/internal/repo/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRepo struct {
	created event.CreateRequest
}

func (f *fakeRepo) Create(ctx context.Context, sess postgres.Session, req event.CreateRequest) (event.Event, error) {
	f.created = req
	return event.New(req), nil
}

type fakeSession struct {
	notifiedChannel string
	notifiedID      string
}

func (s *fakeSession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if len(args) == 2 {
		s.notifiedChannel, _ = args[0].(string)
		s.notifiedID, _ = args[1].(string)
	}
	return pgconn.CommandTag{}, nil
}
func (s *fakeSession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (s *fakeSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func TestProduceInsertsAndNotifies(t *testing.T) {
	repo := &fakeRepo{}
	sess := &fakeSession{}

	e, err := Produce(context.Background(), repo, sess, "events", event.CreateRequest{
		Type:    "a.b",
		Payload: []byte(`{"x":1}`),
		Source:  event.SourceInternal,
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if sess.notifiedChannel != "events" {
		t.Fatalf("notified channel = %q, want events", sess.notifiedChannel)
	}
	if sess.notifiedID != e.ID {
		t.Fatalf("notified id = %q, want %q", sess.notifiedID, e.ID)
	}
}

func TestProduceRejectsMissingType(t *testing.T) {
	repo := &fakeRepo{}
	sess := &fakeSession{}

	_, err := Produce(context.Background(), repo, sess, "events", event.CreateRequest{
		Source: event.SourceInternal,
	})
	if err == nil {
		t.Fatal("expected validation error for missing type")
	}
}

func TestProduceDefaultsEmptyPayload(t *testing.T) {
	repo := &fakeRepo{}
	sess := &fakeSession{}

	_, err := Produce(context.Background(), repo, sess, "events", event.CreateRequest{
		Type:   "a.b",
		Source: event.SourceInternal,
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if string(repo.created.Payload) != "{}" {
		t.Fatalf("payload = %q, want {}", repo.created.Payload)
	}
}
