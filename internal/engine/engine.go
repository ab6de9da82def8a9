// Package engine consumes the run queue and drives each claimed run through
// the state machine: model calls, tool dispatch, pauses for external outputs,
// and terminal transitions. Processing is idempotent so at-least-once
// delivery is safe.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/assistantd/assistantd/internal/llm"
	"github.com/assistantd/assistantd/internal/observability"
	"github.com/assistantd/assistantd/internal/queue"
	"github.com/assistantd/assistantd/internal/retry"
	"github.com/assistantd/assistantd/internal/storage"
	"github.com/assistantd/assistantd/internal/tools"
	"github.com/assistantd/assistantd/pkg/models"
)

// Engine runs the worker pool and the expiry sweeper.
type Engine struct {
	stores     *storage.Set
	queue      queue.Queue
	model      llm.Client
	dispatcher *tools.Dispatcher
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	workers       int
	lease         time.Duration
	renewInterval time.Duration
	runTimeout    time.Duration
	maxModelCalls int
	maxRounds     int
	sweepInterval time.Duration
	modelRetry    retry.Config
	toolRetry     retry.Config

	now func() int64
}

// Options configures the engine.
type Options struct {
	Stores     *storage.Set
	Queue      queue.Queue
	Model      llm.Client
	Dispatcher *tools.Dispatcher
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer

	Workers       int
	Lease         time.Duration
	RenewInterval time.Duration

	// RunTimeout caps wall-clock processing per claim. The claim is
	// abandoned at the deadline and the run resumes on redelivery.
	RunTimeout time.Duration

	// MaxModelCalls bounds model round trips per claim.
	MaxModelCalls int

	// MaxCorrectionRounds bounds interpreter self-correction before the run
	// fails with sandbox_exhausted.
	MaxCorrectionRounds int

	SweepInterval time.Duration
	ModelRetry    retry.Config
	ToolRetry     retry.Config

	// Now returns the current unix time; nil uses the wall clock.
	Now func() int64
}

// New creates the engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.LogConfig{})
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Second
	}
	if opts.RenewInterval <= 0 || opts.RenewInterval >= opts.Lease {
		opts.RenewInterval = opts.Lease / 3
	}
	if opts.MaxModelCalls <= 0 {
		opts.MaxModelCalls = 10
	}
	if opts.MaxCorrectionRounds <= 0 {
		opts.MaxCorrectionRounds = 3
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 10 * time.Minute
	}
	if opts.ModelRetry.MaxAttempts == 0 {
		opts.ModelRetry = retry.DefaultConfig()
	}
	if opts.ToolRetry.MaxAttempts == 0 {
		opts.ToolRetry = retry.DefaultConfig()
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().Unix() }
	}
	return &Engine{
		stores:        opts.Stores,
		queue:         opts.Queue,
		model:         opts.Model,
		dispatcher:    opts.Dispatcher,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		workers:       opts.Workers,
		lease:         opts.Lease,
		renewInterval: opts.RenewInterval,
		runTimeout:    opts.RunTimeout,
		maxModelCalls: opts.MaxModelCalls,
		maxRounds:     opts.MaxCorrectionRounds,
		sweepInterval: opts.SweepInterval,
		modelRetry:    opts.ModelRetry,
		toolRetry:     opts.ToolRetry,
		now:           opts.Now,
	}
}

// Run blocks, serving runs until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.workerLoop(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.sweepLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

// workerLoop claims and processes runs until ctx is done. Queue errors are
// retried indefinitely with backoff: the queue is assumed eventually
// available.
func (e *Engine) workerLoop(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		handle, err := e.queue.Pop(ctx, e.lease)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || errors.Is(err, context.Canceled) {
				continue
			}
			e.logger.Warn(ctx, "queue pop failed", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		e.processClaim(ctx, handle)
	}
}

// processClaim runs heartbeat renewal around run processing. Renewal failure
// abandons the claim without touching the run; it will be reclaimed.
func (e *Engine) processClaim(ctx context.Context, handle queue.Handle) {
	item := handle.Item()
	ctx = observability.WithRunContext(ctx, item.RunID, item.ThreadID)

	hbCtx, cancel := context.WithTimeout(ctx, e.runTimeout)
	defer cancel()

	var lost bool
	var hbDone sync.WaitGroup
	hbDone.Add(1)
	go func() {
		defer hbDone.Done()
		ticker := time.NewTicker(e.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := handle.Renew(hbCtx, e.lease); err != nil {
					if hbCtx.Err() != nil {
						return
					}
					e.logger.Warn(hbCtx, "lease renewal failed, abandoning claim", "err", err)
					lost = true
					cancel()
					return
				}
				if e.metrics != nil {
					e.metrics.LeaseRenewals.Inc()
				}
			}
		}
	}()

	outcome := e.process(hbCtx, item)

	cancel()
	hbDone.Wait()

	if lost {
		// The lease may already be gone; Abandon keeps the item available if
		// the loss was a renewal race rather than a real expiry.
		_ = handle.Abandon(ctx)
		return
	}
	switch outcome {
	case outcomeRelease:
		if err := handle.Release(ctx); err != nil {
			e.logger.Warn(ctx, "release failed", "err", err)
		}
	case outcomeAbandon:
		if err := handle.Abandon(ctx); err != nil {
			e.logger.Warn(ctx, "abandon failed", "err", err)
		}
	}
}

// sweepLoop marks overdue non-terminal runs expired.
func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce(ctx)
		}
	}
}

func (e *Engine) sweepOnce(ctx context.Context) {
	now := e.now()
	overdue, err := e.stores.Runs.ListOverdue(ctx, now, 100)
	if err != nil {
		e.logger.Warn(ctx, "expiry sweep failed", "err", err)
		return
	}
	for _, run := range overdue {
		_, err := e.stores.Runs.Transition(ctx, run.ID, run.Version, storage.RunMutation{
			Status:              models.RunStatusExpired,
			Now:                 now,
			ClearRequiredAction: true,
		})
		switch {
		case err == nil:
			if e.metrics != nil {
				e.metrics.RunsExpired.Inc()
			}
			e.logger.Info(ctx, "run expired by sweeper", "run_id", run.ID)
		case errors.Is(err, storage.ErrVersionConflict), errors.Is(err, storage.ErrIllegalTransition):
			// A worker got there first.
		default:
			e.logger.Warn(ctx, "expire transition failed", "run_id", run.ID, "err", err)
		}
	}
}
