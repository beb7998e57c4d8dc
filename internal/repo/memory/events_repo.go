// Package memory provides an in-process fake of the events repository,
// used by worker/pool/router tests that would otherwise need a live
// PostgreSQL instance.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/U1traVeno/pgebus/internal/domain/event"
	"github.com/U1traVeno/pgebus/internal/repo/postgres"
)

type EventsRepo struct {
	mu    sync.Mutex
	items map[string]event.Event
}

func NewEventsRepo() *EventsRepo {
	return &EventsRepo{
		items: make(map[string]event.Event),
	}
}

func (r *EventsRepo) Create(_ context.Context, _ postgres.Session, req event.CreateRequest) (event.Event, error) {
	e := event.New(req)

	r.mu.Lock()
	r.items[e.ID] = e
	r.mu.Unlock()

	return e, nil
}

// Put seeds the fake directly, for tests that don't go through Create.
func (r *EventsRepo) Put(e event.Event) {
	r.mu.Lock()
	r.items[e.ID] = e
	r.mu.Unlock()
}

func (r *EventsRepo) ClaimNext(_ context.Context, _ postgres.Session, now time.Time) (event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []event.Event
	for _, e := range r.items {
		if e.Status != event.StatusPending {
			continue
		}
		if e.RunAt != nil && e.RunAt.After(now) {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return event.Event{}, event.ErrNotFound
	}

	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].RunAt, candidates[j].RunAt
		switch {
		case ri == nil && rj == nil:
			return candidates[i].ID < candidates[j].ID
		case ri == nil:
			return true
		case rj == nil:
			return false
		case !ri.Equal(*rj):
			return ri.Before(*rj)
		default:
			return candidates[i].ID < candidates[j].ID
		}
	})

	claimed := candidates[0]
	claimed.Status = event.StatusRunning
	claimed.UpdatedAt = now
	r.items[claimed.ID] = claimed

	return claimed, nil
}

func (r *EventsRepo) GetByID(_ context.Context, _ postgres.Session, id string) (event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[id]
	if !ok {
		return event.Event{}, event.ErrNotFound
	}
	return e, nil
}

func (r *EventsRepo) FetchDuePendingIDs(_ context.Context, _ postgres.Session, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, e := range r.items {
		if e.Status != event.StatusPending {
			continue
		}
		if e.RunAt != nil && e.RunAt.After(now) {
			continue
		}
		ids = append(ids, e.ID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *EventsRepo) MarkDone(_ context.Context, _ postgres.Session, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[id]
	if !ok || e.Status != event.StatusRunning {
		return event.ErrInvalidTransition
	}
	e.Status = event.StatusDone
	e.UpdatedAt = time.Now().UTC()
	r.items[id] = e
	return nil
}

func (r *EventsRepo) MarkRetry(_ context.Context, _ postgres.Session, id string, retryErr error, nextRunAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[id]
	if !ok || e.Status != event.StatusRunning {
		return event.ErrInvalidTransition
	}
	msg := retryErr.Error()
	e.Status = event.StatusPending
	e.RetryCount++
	e.LastError = &msg
	e.RunAt = &nextRunAt
	e.UpdatedAt = time.Now().UTC()
	r.items[id] = e
	return nil
}

func (r *EventsRepo) MarkFailed(_ context.Context, _ postgres.Session, id string, failErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[id]
	if !ok || e.Status != event.StatusRunning {
		return event.ErrInvalidTransition
	}
	msg := failErr.Error()
	e.Status = event.StatusFailed
	e.LastError = &msg
	e.UpdatedAt = time.Now().UTC()
	r.items[id] = e
	return nil
}

func (r *EventsRepo) RequeueStuckRunning(_ context.Context, grace time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	var n int64
	for id, e := range r.items {
		if e.Status != event.StatusRunning {
			continue
		}
		if now.Sub(e.UpdatedAt) < grace {
			continue
		}
		e.Status = event.StatusPending
		e.UpdatedAt = now
		r.items[id] = e
		n++
	}
	return n, nil
}
