package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/U1traVeno/pgebus/internal/queue"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyStarted is returned by Start when the pool is already running.
var ErrAlreadyStarted = errors.New("worker: pool already started")

// Pool owns a fixed set of workers sharing one hand-off queue,
// grounded on the teacher's Worker.Run spawn loop but replacing its raw
// goroutine/WaitGroup fan-out with golang.org/x/sync/errgroup so
// Start() can propagate the first worker-startup error, per the domain
// stack's rationale for adopting errgroup.
type Pool struct {
	workers []*Worker
	q       *queue.HandoffQueue
	logger  *slog.Logger

	liveCount atomic.Int32
	started   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewPool(workers []*Worker, q *queue.HandoffQueue, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{workers: workers, q: q, logger: logger}
}

// Start validates and spawns every worker. It blocks only until each
// worker has confirmed it is runnable, returning the first validation
// error if any; the workers themselves then run in the background until
// Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	started := make(chan error, len(p.workers))

	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			if err := w.validate(); err != nil {
				started <- err
				return err
			}
			p.liveCount.Add(1)
			defer p.liveCount.Add(-1)
			started <- nil
			return w.Run(gctx)
		})
	}

	for range p.workers {
		if err := <-started; err != nil {
			cancel()
			return err
		}
	}

	p.done = make(chan struct{})
	go func() {
		if err := g.Wait(); err != nil {
			p.logger.ErrorContext(context.Background(), "pool.worker_error", "err", err)
		}
		close(p.done)
	}()

	p.logger.InfoContext(ctx, "pool.started", "n_workers", len(p.workers))
	return nil
}

// LiveWorkers reports how many workers are currently running their loop.
func (p *Pool) LiveWorkers() int {
	return int(p.liveCount.Load())
}

// WaitUntilEmpty delegates to the shared hand-off queue, which tracks
// both buffered ids and in-flight dispatches.
func (p *Pool) WaitUntilEmpty(timeout time.Duration) bool {
	return p.q.WaitUntilEmpty(timeout)
}

// Stop closes the queue (no further ids are accepted). If
// waitForCompletion is set it additionally drains the queue first,
// waiting for buffered-but-untaken ids to be claimed and finished. In
// either case, Stop waits up to shutdownWaitTimeout for any worker
// currently mid-dispatch to finish its claim/commit before the workers'
// context is cancelled; that wait is not gated by waitForCompletion.
func (p *Pool) Stop(waitForCompletion bool, shutdownWaitTimeout time.Duration) {
	p.q.Close()

	if waitForCompletion {
		p.q.WaitUntilEmpty(shutdownWaitTimeout)
	}

	if !p.q.WaitInFlightDone(shutdownWaitTimeout) {
		p.logger.WarnContext(context.Background(), "pool.inflight_wait_timeout")
	}

	if p.cancel != nil {
		p.cancel()
	}

	if p.done == nil {
		return
	}

	select {
	case <-p.done:
	case <-time.After(shutdownWaitTimeout):
		p.logger.WarnContext(context.Background(), "pool.shutdown_timeout")
	}
}
