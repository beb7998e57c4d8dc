// Package listener owns the single dedicated database connection that
// LISTENs for event-ready notifications, grounded on the pack's
// sainathyai-ChartSmith pkg/listener.Listener (pooled connections
// cannot reliably receive asynchronous server messages, so this
// connection is never shared with the worker pool).
package listener

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/U1traVeno/pgebus/internal/observability"
	"github.com/U1traVeno/pgebus/internal/queue"
	"github.com/U1traVeno/pgebus/internal/repo/postgres"
	"github.com/jackc/pgx/v5"
)

// Session is the narrow pgx surface FetchDuePendingIDs needs, reusing
// the repository package's own session abstraction so a
// *postgres.EventsRepo satisfies Repo directly.
type Session = postgres.Session

// Repo is the narrow slice of the events repository the listener needs
// for startup/reconnect back-fill.
type Repo interface {
	FetchDuePendingIDs(ctx context.Context, sess Session, now time.Time, limit int) ([]string, error)
}

// ConnFactory opens a fresh dedicated (non-pooled) connection.
type ConnFactory func(ctx context.Context) (*pgx.Conn, error)

// Listener holds one dedicated connection LISTENing on Channel, turning
// each notification into an id pushed onto the hand-off queue.
type Listener struct {
	channel     string
	connFactory ConnFactory
	repo        Repo
	sess        Session
	q           *queue.HandoffQueue
	backfillN   int
	logger      *slog.Logger
	prom        *observability.Prom

	mu      sync.Mutex
	conn    *pgx.Conn
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// ErrAlreadyStarted is returned by Start when the listener is already running.
var ErrAlreadyStarted = errors.New("listener: already started")

// New builds a Listener. sess is the (pooled) session used for the
// read-only back-fill scan — never the dedicated connection itself.
func New(channel string, connFactory ConnFactory, repo Repo, sess Session, q *queue.HandoffQueue, backfillN int, logger *slog.Logger, prom *observability.Prom) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		channel:     channel,
		connFactory: connFactory,
		repo:        repo,
		sess:        sess,
		q:           q,
		backfillN:   backfillN,
		logger:      logger,
		prom:        prom,
	}
}

// Start opens the dedicated connection, issues LISTEN, runs the
// startup back-fill, and spawns the receive loop in the background.
// Returns once the first connection attempt succeeds; reconnects after
// that happen internally without blocking the caller.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	conn, err := l.connect(runCtx)
	if err != nil {
		cancel()
		return err
	}

	l.setConn(conn)
	l.backfill(runCtx)

	go l.run(runCtx)

	return nil
}

func (l *Listener) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := l.connFactory(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	if l.prom != nil {
		l.prom.ListenerConnected.Set(1)
	}
	return conn, nil
}

func (l *Listener) setConn(conn *pgx.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

func (l *Listener) getConn() *pgx.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// backfill recovers ids for rows that were inserted, or became due,
// while the listener was down. Failures here are logged, not fatal —
// the next reconnect runs the back-fill again, and workers still claim
// due rows on every poll-interval wake-up.
func (l *Listener) backfill(ctx context.Context) {
	ids, err := l.repo.FetchDuePendingIDs(ctx, l.sess, time.Now().UTC(), l.backfillN)
	if err != nil {
		l.logger.ErrorContext(ctx, "listener.backfill_failed", "err", err)
		return
	}
	for _, id := range ids {
		l.q.Offer(id)
	}
	if len(ids) > 0 {
		l.logger.InfoContext(ctx, "listener.backfill", "count", len(ids))
	}
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn := l.getConn()
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.WarnContext(ctx, "listener.wait_failed", "err", err)
			if l.prom != nil {
				l.prom.ListenerConnected.Set(0)
				l.prom.ListenerReconnects.Inc()
			}

			delay := reconnectBackoff(attempt)
			attempt++
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}

			newConn, cerr := l.connect(ctx)
			if cerr != nil {
				l.logger.ErrorContext(ctx, "listener.reconnect_failed", "err", cerr)
				continue
			}
			_ = conn.Close(context.Background())
			l.setConn(newConn)
			l.backfill(ctx)
			attempt = 0
			continue
		}

		attempt = 0
		id := strings.TrimSpace(n.Payload)
		if id == "" {
			l.logger.WarnContext(ctx, "listener.malformed_payload", "payload", n.Payload)
			continue
		}
		l.q.Offer(id)
	}
}

// Stop cancels the receive loop, issues UNLISTEN, and closes the
// connection. Idempotent.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		select {
		case <-l.done:
		case <-time.After(5 * time.Second):
		}
	}

	conn := l.getConn()
	if conn == nil {
		return nil
	}

	var errs []error
	if _, err := conn.Exec(context.Background(), "UNLISTEN *"); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	if err := conn.Close(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if l.prom != nil {
		l.prom.ListenerConnected.Set(0)
	}

	return errors.Join(errs...)
}
