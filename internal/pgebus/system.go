// Package pgebus wires the listener, hand-off queue, worker pool and
// repository into the single System facade spec.md §4.6 describes as
// the public entry point, grounded on the teacher's cmd/worker process
// wiring and its Worker.requeueLoop stuck-job reaper.
package pgebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/U1traVeno/pgebus/internal/db"
	"github.com/U1traVeno/pgebus/internal/listener"
	"github.com/U1traVeno/pgebus/internal/observability"
	"github.com/U1traVeno/pgebus/internal/queue"
	"github.com/U1traVeno/pgebus/internal/repo/postgres"
	"github.com/U1traVeno/pgebus/internal/worker"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyStarted is returned by Start when the system is already running.
var ErrAlreadyStarted = errors.New("pgebus: system already started")

// Config bundles the tunables System needs beyond the already-built
// collaborators it's handed.
type Config struct {
	SchemaName          string
	Channel             string
	NWorkers            int
	QueueMaxSize        int
	MaxRetries          int
	PollInterval        time.Duration
	BackfillBatchSize   int
	StuckRunningGrace   time.Duration
	ReaperInterval      time.Duration
	ShutdownWaitTimeout time.Duration
}

// System owns the full lifecycle of the bus: the dedicated listener
// connection, the bounded hand-off queue, the worker pool, and the
// periodic stuck-RUNNING reaper. It does not own the pool's lifetime —
// callers pass an already-open *pgxpool.Pool so it can be shared with
// the producer side of the same process.
type System struct {
	cfg    Config
	pool   *pgxpool.Pool
	repo   *postgres.EventsRepo
	q      *queue.HandoffQueue
	ln     *listener.Listener
	wp     *worker.Pool
	logger *slog.Logger
	prom   *observability.Prom

	started atomic.Bool

	reaperCancel context.CancelFunc
	reaperDone   chan struct{}

	lastReportedDropped uint64
}

// New builds a System from its collaborators. disp dispatches claimed
// events to application handlers, typically a *router.Router.
func New(cfg Config, pool *pgxpool.Pool, connString string, repo *postgres.EventsRepo, disp worker.Dispatcher, logger *slog.Logger, prom *observability.Prom, metrics *observability.EventMetrics) *System {
	if logger == nil {
		logger = slog.Default()
	}

	q := queue.NewHandoffQueue(cfg.QueueMaxSize)

	ln := listener.New(
		cfg.Channel,
		func(ctx context.Context) (*pgx.Conn, error) { return db.NewListenerConn(ctx, connString) },
		repo,
		pool,
		q,
		cfg.BackfillBatchSize,
		logger.With("component", "listener"),
		prom,
	)

	workers := make([]*worker.Worker, 0, cfg.NWorkers)
	for i := 0; i < cfg.NWorkers; i++ {
		wcfg := worker.Config{
			ID:           fmt.Sprintf("worker-%d", i),
			PollInterval: cfg.PollInterval,
			MaxRetries:   cfg.MaxRetries,
		}
		workers = append(workers, worker.New(wcfg, pool, repo, disp, q, logger.With("component", "worker"), prom, metrics))
	}
	wp := worker.NewPool(workers, q, logger.With("component", "pool"))

	return &System{
		cfg:    cfg,
		pool:   pool,
		repo:   repo,
		q:      q,
		ln:     ln,
		wp:     wp,
		logger: logger,
		prom:   prom,
	}
}

// Start ensures the schema exists, opens the listener, then starts the
// worker pool, in that order: the pool must never run ahead of a
// listener able to observe the notifications its own claims might
// race with on startup back-fill.
func (s *System) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := db.EnsureSchema(ctx, s.pool, s.cfg.SchemaName); err != nil {
		return fmt.Errorf("pgebus: ensure schema: %w", err)
	}

	if err := s.ln.Start(ctx); err != nil {
		return fmt.Errorf("pgebus: start listener: %w", err)
	}

	if err := s.wp.Start(ctx); err != nil {
		_ = s.ln.Stop(ctx)
		return fmt.Errorf("pgebus: start pool: %w", err)
	}

	s.startReaper()

	s.logger.InfoContext(ctx, "pgebus.started", "n_workers", s.cfg.NWorkers, "channel", s.cfg.Channel)
	return nil
}

// Stop shuts the system down in the order spec.md §4.6 requires:
// the reaper first, then the listener (stop admitting new
// notifications), then the pool, which performs the optional drain
// wait before its workers exit. Reversing listener/pool
// shutdown can lose in-flight work — a pool stopped before the
// listener may miss a notification for a row the listener's own
// backfill already queued.
func (s *System) Stop(ctx context.Context, waitForCompletion bool, timeout time.Duration) error {
	s.stopReaper()

	var errs []error
	if err := s.ln.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop listener: %w", err))
	}

	s.wp.Stop(waitForCompletion, timeout)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("pgebus: shutdown errors: %v", errs)
}

// GetQueueSize reports the number of ids currently buffered in the
// hand-off queue, for /readyz and metrics consumers outside this
// package that don't hold a reference to the queue itself.
func (s *System) GetQueueSize() int {
	return s.q.QSize()
}

// GetWorkerCount reports how many workers are currently executing
// their claim/dispatch loop.
func (s *System) GetWorkerCount() int {
	return s.wp.LiveWorkers()
}

func (s *System) startReaper() {
	interval := s.cfg.ReaperInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.reaperCancel = cancel
	s.reaperDone = make(chan struct{})

	go func() {
		defer close(s.reaperDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		gaugeTicker := time.NewTicker(5 * time.Second)
		defer gaugeTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-gaugeTicker.C:
				s.reportQueueGauges()
			case <-ticker.C:
				s.reportQueueGauges()
				n, err := s.repo.RequeueStuckRunning(ctx, s.cfg.StuckRunningGrace)
				if err != nil {
					s.logger.ErrorContext(ctx, "pgebus.reaper_failed", "err", err)
					continue
				}
				if n > 0 {
					s.logger.WarnContext(ctx, "pgebus.requeued_stuck_running", "count", n)
				}
			}
		}
	}()
}

func (s *System) reportQueueGauges() {
	if s.prom == nil {
		return
	}
	s.prom.QueueDepth.Set(float64(s.q.QSize()))

	dropped := s.q.Dropped()
	if delta := dropped - s.lastReportedDropped; delta > 0 {
		s.prom.QueueDropped.Add(float64(delta))
	}
	s.lastReportedDropped = dropped
}

func (s *System) stopReaper() {
	if s.reaperCancel == nil {
		return
	}
	s.reaperCancel()
	<-s.reaperDone
}
