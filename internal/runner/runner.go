// Package runner schedules strategy ticks. Each strategy gets its own timer
// and its own serialization guard: ticks for one strategy never overlap,
// distinct strategies run independently.
package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/quantfold/rebalancer/internal/logger"
	"github.com/quantfold/rebalancer/internal/strategy"
)

type Runner struct {
	clock      clock.Clock
	logger     logger.Logger
	strategies []strategy.Strategy
}

func New(strategies []strategy.Strategy, clk clock.Clock, logger logger.Logger) *Runner {
	return &Runner{
		clock:      clk,
		logger:     logger,
		strategies: strategies,
	}
}

// Run blocks until ctx is done, driving every strategy on its interval.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range r.strategies {
		wg.Add(1)
		go func(s strategy.Strategy) {
			defer wg.Done()
			r.runStrategy(ctx, s)
		}(s)
	}
	wg.Wait()
}

func (r *Runner) runStrategy(ctx context.Context, s strategy.Strategy) {
	log := r.logger.With("strategy", s.Name())

	// Ticks are serialized with a try-lock rather than queued: a tick that
	// fires while the previous one is still talking to the broker is
	// skipped, never run concurrently. The next scheduled tick retries from
	// persisted state.
	var inFlight sync.Mutex
	tick := func() {
		if !inFlight.TryLock() {
			log.Warnf("previous tick still running, skipping this one")
			return
		}
		defer inFlight.Unlock()

		start := r.clock.Now()
		err := s.Tick(ctx)
		switch {
		case err == nil:
			log.Infof("tick finished in %s", r.clock.Since(start))
		case errors.Is(err, strategy.ErrOpenTrades):
			log.Infof("%s, no new orders this tick", err)
		case errors.Is(err, context.Canceled):
		default:
			log.Errorf("%s: tick failed", err)
		}
	}

	ticker := r.clock.Ticker(s.Interval())
	defer ticker.Stop()

	go tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go tick()
		}
	}
}
