// Package producer implements the single insert-and-notify entry point
// spec.md §6 describes as the "Producer API". It is a thin external
// collaborator by design — callers own the transaction boundary, mirroring
// the teacher's handlers composing repository calls inside a caller-owned
// request scope rather than opening their own transactions.
package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/U1traVeno/pgebus/internal/domain/event"
	"github.com/U1traVeno/pgebus/internal/repo/postgres"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Repo is the slice of the events repository Produce needs.
type Repo interface {
	Create(ctx context.Context, sess postgres.Session, req event.CreateRequest) (event.Event, error)
}

// Produce inserts a new event row and issues NOTIFY channel, '<id>' in
// the same session, so the notification fires exactly when the insert
// commits. The caller owns the transaction boundary — sess is typically
// an open pgx.Tx, so a failed NOTIFY rolls the insert back with it.
func Produce(ctx context.Context, repo Repo, sess postgres.Session, channel string, req event.CreateRequest) (event.Event, error) {
	if err := validate.Struct(req); err != nil {
		return event.Event{}, fmt.Errorf("produce: invalid request: %w", err)
	}
	if !json.Valid(req.Payload) {
		if req.Payload == nil {
			req.Payload = json.RawMessage(`{}`)
		} else {
			return event.Event{}, fmt.Errorf("produce: payload is not valid JSON")
		}
	}

	e, err := repo.Create(ctx, sess, req)
	if err != nil {
		return event.Event{}, fmt.Errorf("produce: create: %w", err)
	}

	if _, err := sess.Exec(ctx, "SELECT pg_notify($1, $2)", channel, e.ID); err != nil {
		return event.Event{}, fmt.Errorf("produce: notify: %w", err)
	}

	return e, nil
}
