// Package sweeper runs engine sweeps on a timer, so finished jobs advance
// even when their epilogue never called back.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/calcflow/calcflow/internal/engine"
)

// DefaultInterval is the time between sweeps.
const DefaultInterval = 5 * time.Minute

// Sweeper is the engine operation the runner drives.
type Sweeper interface {
	Sweep(ctx context.Context, f engine.SweepFilter) (*engine.SweepReport, error)
}

// Runner sweeps once on start, then every interval or on Wake.
type Runner struct {
	sweeper  Sweeper
	interval time.Duration
	filter   engine.SweepFilter
	logger   func(format string, args ...interface{})

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a runner. A non-positive interval uses DefaultInterval.
func New(s Sweeper, interval time.Duration, filter engine.SweepFilter, logger func(format string, args ...interface{})) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Runner{
		sweeper:  s,
		interval: interval,
		filter:   filter,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Start begins the sweep goroutine.
func (r *Runner) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(r.ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Wake requests a sweep now. Requests made while one is pending coalesce.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run sweeps until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		case <-r.wake:
			r.sweep(ctx)
		}
	}
}

// sweep runs a single pass and logs what it did.
func (r *Runner) sweep(ctx context.Context) {
	start := time.Now()
	report, err := r.sweeper.Sweep(ctx, r.filter)
	if err != nil {
		r.logger("sweep error: %v", err)
		return
	}
	for _, e := range report.Errors {
		r.logger("sweep: %v", e)
	}

	created := 0
	for _, o := range report.Outcomes {
		created += len(o.Created)
	}
	if len(report.Outcomes) > 0 || len(report.Retried) > 0 {
		r.logger("sweep processed %d, created %d, retried %d in %v",
			len(report.Outcomes), created, len(report.Retried),
			time.Since(start).Round(time.Millisecond))
	}
}
