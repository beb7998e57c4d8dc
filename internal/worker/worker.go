// Package worker implements the consumer-side claim/dispatch/finalize
// loop and the fixed-size pool that runs many of them concurrently,
// grounded on the teacher's queue/worker.Worker and queue/worker.Pool
// (the polling/backoff/health shape), generalized from a fixed job-type
// switch to the spec's opaque Dispatcher contract.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/U1traVeno/pgebus/internal/domain/event"
	"github.com/U1traVeno/pgebus/internal/observability"
	"github.com/U1traVeno/pgebus/internal/queue"
	"github.com/U1traVeno/pgebus/internal/repo/postgres"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Repo is the slice of the events repository a worker needs to claim
// and finalize rows.
type Repo interface {
	ClaimNext(ctx context.Context, sess postgres.Session, now time.Time) (event.Event, error)
	MarkDone(ctx context.Context, sess postgres.Session, id string) error
	MarkRetry(ctx context.Context, sess postgres.Session, id string, retryErr error, nextRunAt time.Time) error
	MarkFailed(ctx context.Context, sess postgres.Session, id string, failErr error) error
}

// Dispatcher maps an event to a handler and invokes it inside the
// caller-supplied session. matched=false means no route was found; per
// spec.md §4.4 that is treated as success, never as a retry trigger.
type Dispatcher interface {
	Handle(ctx context.Context, sess postgres.Session, e event.Event) (matched bool, err error)
}

// SessionFactory opens a fresh transactional session. *pgxpool.Pool
// satisfies this directly.
type SessionFactory interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config bundles one worker's tunables, shared across a pool.
type Config struct {
	ID           string
	PollInterval time.Duration
	MaxRetries   int
}

// Worker runs the claim -> dispatch -> finalize loop described in
// spec.md §4.4, pulling wake-up hints from q but never trusting them —
// every iteration re-claims from the database regardless of whether a
// hint was present.
type Worker struct {
	cfg     Config
	pool    SessionFactory
	repo    Repo
	disp    Dispatcher
	q       *queue.HandoffQueue
	logger  *slog.Logger
	tracer  trace.Tracer
	prom    *observability.Prom
	metrics *observability.EventMetrics
}

func New(cfg Config, pool SessionFactory, repo Repo, disp Dispatcher, q *queue.HandoffQueue, logger *slog.Logger, prom *observability.Prom, metrics *observability.EventMetrics) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{
		cfg:     cfg,
		pool:    pool,
		repo:    repo,
		disp:    disp,
		q:       q,
		logger:  logger.With("worker_id", cfg.ID),
		tracer:  otel.Tracer("pgebus/worker"),
		prom:    prom,
		metrics: metrics,
	}
}

func (w *Worker) validate() error {
	if w.pool == nil {
		return errors.New("worker: nil session factory")
	}
	if w.repo == nil {
		return errors.New("worker: nil repo")
	}
	if w.disp == nil {
		return errors.New("worker: nil dispatcher")
	}
	if w.q == nil {
		return errors.New("worker: nil queue")
	}
	return nil
}

// Run blocks until ctx is cancelled or the queue closes and drains. It
// never returns an error except an initial validation failure, matching
// spec.md's "the worker never exits except on cooperative shutdown".
func (w *Worker) Run(ctx context.Context) error {
	if err := w.validate(); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "worker.start")
	defer w.logger.InfoContext(ctx, "worker.stop")

	for {
		if ctx.Err() != nil {
			return nil
		}

		_, _, err := w.q.Take(ctx, w.cfg.PollInterval)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			// context cancellation at the take boundary, the only
			// point workers honor mid-loop per spec.md §5.
			return nil
		}

		if err := w.processOne(ctx); err != nil {
			w.logger.ErrorContext(ctx, "worker.iteration_failed", "err", err)
			select {
			case <-time.After(w.cfg.PollInterval):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// processOne performs one claim -> dispatch -> finalize step. The id
// pulled from the queue is discarded; claim_one decides what's next.
func (w *Worker) processOne(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "pgebus.event.dispatch",
		trace.WithAttributes(attribute.String("worker.id", w.cfg.ID)))
	defer span.End()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin failed")
		return err
	}

	now := time.Now().UTC()
	e, err := w.repo.ClaimNext(ctx, tx, now)
	if errors.Is(err, event.ErrNotFound) {
		return tx.Commit(ctx)
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return err
	}

	span.SetAttributes(
		attribute.String("event.id", e.ID),
		attribute.String("event.type", e.Type),
		attribute.Int("event.retry_count", e.RetryCount),
	)

	if w.prom != nil {
		w.prom.EventsInFlight.Inc()
		defer w.prom.EventsInFlight.Dec()
	}
	// Held until the claim's finalize transaction (done/retry/failed)
	// has committed, not just until Handle returns. WaitUntilEmpty must
	// never report quiescence while a commit is still in flight.
	w.q.MarkInFlight()
	defer w.q.MarkDone()
	if w.metrics != nil {
		w.metrics.IncClaimed()
	}

	start := time.Now()
	matched, handleErr := w.disp.Handle(ctx, tx, e)

	if handleErr == nil {
		result := "done"
		if !matched {
			result = "unrouted"
			if w.metrics != nil {
				w.metrics.IncUnrouted()
			}
		}
		if err := w.repo.MarkDone(ctx, tx, e.ID); err != nil {
			_ = tx.Rollback(ctx)
			span.RecordError(err)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			span.RecordError(err)
			return err
		}
		w.observeResult(e.Type, result, time.Since(start))
		if w.metrics != nil {
			w.metrics.IncDone()
		}
		return nil
	}

	// The dispatcher's work must roll back; the claim is preserved by
	// recording the failure in a second, fresh session.
	_ = tx.Rollback(ctx)
	span.RecordError(handleErr)
	span.SetStatus(codes.Error, "handler failed")

	return w.finalizeFailure(ctx, e, handleErr, start)
}

func (w *Worker) finalizeFailure(ctx context.Context, e event.Event, handleErr error, started time.Time) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}

	if e.ExceedsRetries(w.cfg.MaxRetries) {
		if err := w.repo.MarkFailed(ctx, tx, e.ID, handleErr); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		w.observeResult(e.Type, "failed", time.Since(started))
		if w.metrics != nil {
			w.metrics.IncFailed()
		}
		w.logger.WarnContext(ctx, "worker.event_failed",
			"event_id", e.ID, "event_type", e.Type, "retry_count", e.RetryCount, "err", handleErr)
		return nil
	}

	nextRunAt := time.Now().UTC().Add(retryBackoff(e.RetryCount))
	if err := w.repo.MarkRetry(ctx, tx, e.ID, handleErr, nextRunAt); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	w.observeResult(e.Type, "retry", time.Since(started))
	if w.metrics != nil {
		w.metrics.IncRetried()
	}
	w.logger.InfoContext(ctx, "worker.event_retry",
		"event_id", e.ID, "event_type", e.Type, "retry_count", e.RetryCount+1, "next_run_at", nextRunAt, "err", handleErr)

	return nil
}

func (w *Worker) observeResult(eventType, result string, d time.Duration) {
	if w.metrics != nil {
		w.metrics.ObserveDuration(d)
	}
	if w.prom == nil {
		return
	}
	w.prom.EventResults.WithLabelValues(eventType, result).Inc()
	w.prom.EventDuration.WithLabelValues(eventType, result).Observe(d.Seconds())
}
