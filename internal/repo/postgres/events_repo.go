package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/U1traVeno/pgebus/internal/domain/event"
	"github.com/U1traVeno/pgebus/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session is the narrow pgx surface a transactional session exposes.
// Both *pgxpool.Conn-backed pgx.Tx and the bare pool satisfy callers
// that only need Exec/QueryRow/Query, letting a worker compose a
// dispatcher's own statements with the repository's inside one
// transaction.
type Session interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// EventsRepo is the stateless façade over SQL described in spec.md §4.1.
// Every method takes a caller-supplied Session so the worker can run a
// claim and a dispatcher's side effects inside one transaction.
type EventsRepo struct {
	pool       *pgxpool.Pool
	schemaName string
	table      string
	prom       *observability.Prom
}

func NewEventsRepo(pool *pgxpool.Pool, schemaName string, prom *observability.Prom) *EventsRepo {
	if schemaName == "" {
		schemaName = "pgebus"
	}
	return &EventsRepo{
		pool:       pool,
		schemaName: schemaName,
		table:      pgx.Identifier{schemaName, "event"}.Sanitize(),
		prom:       prom,
	}
}

// Pool exposes the underlying pool so callers can open sessions
// (plain pool or a pgx.Tx) without this package knowing about
// transaction boundaries.
func (r *EventsRepo) Pool() *pgxpool.Pool { return r.pool }

func (r *EventsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// Create inserts a new pending event row. The producer API wraps this
// together with the NOTIFY in one transaction; Create itself is
// transaction-boundary agnostic.
func (r *EventsRepo) Create(ctx context.Context, sess Session, req event.CreateRequest) (event.Event, error) {
	e := event.New(req)
	op := "events.create"

	err := r.observe(op, func() error {
		_, err := sess.Exec(ctx, `
			INSERT INTO `+r.table+`
				(id, type, payload, source, status, retry_count, last_error, run_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, e.ID, e.Type, []byte(e.Payload), string(e.Source), string(e.Status),
			e.RetryCount, e.LastError, e.RunAt, e.CreatedAt, e.UpdatedAt)
		return err
	})
	if err != nil {
		return event.Event{}, err
	}

	return e, nil
}

// ClaimNext atomically selects the oldest PENDING row that is due and
// transitions it to RUNNING, using SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent workers never collide. Tie-break order is
// run_at ASC NULLS FIRST, id ASC, matching spec.md's invariant 2/5.
func (r *EventsRepo) ClaimNext(ctx context.Context, sess Session, now time.Time) (event.Event, error) {
	var e event.Event
	var status string
	op := "events.claim_next"

	err := r.observe(op, func() error {
		return sess.QueryRow(ctx, `
			WITH next AS (
				SELECT id
				FROM `+r.table+`
				WHERE status = 'pending'
				  AND (run_at IS NULL OR run_at <= $1)
				ORDER BY run_at ASC NULLS FIRST, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			UPDATE `+r.table+`
			SET status = 'running', updated_at = $1
			WHERE id = (SELECT id FROM next)
			RETURNING id, type, payload, source, status, retry_count, last_error, run_at, created_at, updated_at
		`, now).Scan(
			&e.ID, &e.Type, &e.Payload, &e.Source, &status,
			&e.RetryCount, &e.LastError, &e.RunAt, &e.CreatedAt, &e.UpdatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, err
	}

	e.Status = event.Status(status)
	return e, nil
}

// GetByID is a straight fetch; returns event.ErrNotFound if missing.
func (r *EventsRepo) GetByID(ctx context.Context, sess Session, id string) (event.Event, error) {
	var e event.Event
	var status string
	op := "events.get_by_id"

	err := r.observe(op, func() error {
		return sess.QueryRow(ctx, `
			SELECT id, type, payload, source, status, retry_count, last_error, run_at, created_at, updated_at
			FROM `+r.table+`
			WHERE id = $1
		`, id).Scan(
			&e.ID, &e.Type, &e.Payload, &e.Source, &status,
			&e.RetryCount, &e.LastError, &e.RunAt, &e.CreatedAt, &e.UpdatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, err
	}

	e.Status = event.Status(status)
	return e, nil
}

// FetchDuePendingIDs scans for already-due PENDING rows without
// mutating them. Used by the listener's startup/reconnect back-fill to
// recover ids that were inserted while the listener was down.
func (r *EventsRepo) FetchDuePendingIDs(ctx context.Context, sess Session, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}

	var ids []string
	op := "events.fetch_due_pending_ids"

	err := r.observe(op, func() error {
		rows, err := sess.Query(ctx, `
			SELECT id
			FROM `+r.table+`
			WHERE status = 'pending'
			  AND (run_at IS NULL OR run_at <= $1)
			ORDER BY run_at ASC NULLS FIRST, id ASC
			LIMIT $2
		`, now, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})

	return ids, err
}

// MarkDone transitions RUNNING -> DONE. Returns event.ErrInvalidTransition
// if the row was not RUNNING.
func (r *EventsRepo) MarkDone(ctx context.Context, sess Session, id string) error {
	op := "events.mark_done"
	var tag pgconn.CommandTag

	err := r.observe(op, func() error {
		var err error
		tag, err = sess.Exec(ctx, `
			UPDATE `+r.table+`
			SET status = 'done', updated_at = NOW()
			WHERE id = $1 AND status = 'running'
		`, id)
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return event.ErrInvalidTransition
	}
	return nil
}

// MarkRetry transitions RUNNING -> PENDING, increments retry_count,
// records last_error, and reschedules run_at.
func (r *EventsRepo) MarkRetry(ctx context.Context, sess Session, id string, retryErr error, nextRunAt time.Time) error {
	op := "events.mark_retry"
	var tag pgconn.CommandTag
	msg := retryErr.Error()

	err := r.observe(op, func() error {
		var err error
		tag, err = sess.Exec(ctx, `
			UPDATE `+r.table+`
			SET status = 'pending',
			    retry_count = retry_count + 1,
			    last_error = $2,
			    run_at = $3,
			    updated_at = NOW()
			WHERE id = $1 AND status = 'running'
		`, id, msg, nextRunAt)
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return event.ErrInvalidTransition
	}
	return nil
}

// MarkFailed transitions RUNNING -> FAILED, a terminal sink.
func (r *EventsRepo) MarkFailed(ctx context.Context, sess Session, id string, failErr error) error {
	op := "events.mark_failed"
	var tag pgconn.CommandTag
	msg := failErr.Error()

	err := r.observe(op, func() error {
		var err error
		tag, err = sess.Exec(ctx, `
			UPDATE `+r.table+`
			SET status = 'failed', last_error = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'running'
		`, id, msg)
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return event.ErrInvalidTransition
	}
	return nil
}

// RequeueStuckRunning resets rows stuck RUNNING past grace back to
// PENDING. Covers worker crashes between claim and finalize — a row
// whose worker died never reaches mark_done/mark_retry/mark_failed, and
// without this sweep it would sit RUNNING forever. Grounded on the
// teacher's RequeueStaleProcessing for the jobs table.
func (r *EventsRepo) RequeueStuckRunning(ctx context.Context, grace time.Duration) (int64, error) {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	op := "events.requeue_stuck_running"
	var tag pgconn.CommandTag

	err := r.observe(op, func() error {
		var err error
		tag, err = r.pool.Exec(ctx, `
			UPDATE `+r.table+`
			SET status = 'pending', updated_at = NOW()
			WHERE status = 'running'
			  AND updated_at < NOW() - ($1 * INTERVAL '1 second')
		`, grace.Seconds())
		return err
	})

	return tag.RowsAffected(), err
}
