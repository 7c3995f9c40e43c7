// Package service runs a set of long-lived components under one signal-aware
// lifecycle: first failure or SIGINT/SIGTERM stops everything, then the
// components are drained within a bounded timeout.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultDrainTimeout bounds how long shutdown waits for components to flush.
const DefaultDrainTimeout = 10 * time.Second

// Component is one long-running unit of a service. It must return promptly
// once ctx is cancelled.
type Component func(ctx context.Context) error

type named struct {
	name string
	run  Component
}

// Runner owns the component set of one service process.
type Runner struct {
	drainTimeout time.Duration
	components   []named
	shutdowns    []named
}

// NewRunner builds a runner; a non-positive timeout selects
// DefaultDrainTimeout.
func NewRunner(drainTimeout time.Duration) *Runner {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	return &Runner{drainTimeout: drainTimeout}
}

// Add registers a component under a name used in logs.
func (r *Runner) Add(name string, c Component) {
	r.components = append(r.components, named{name: name, run: c})
}

// OnShutdown registers a hook invoked after all components stopped, within
// the drain window.
func (r *Runner) OnShutdown(name string, fn Component) {
	r.shutdowns = append(r.shutdowns, named{name: name, run: fn})
}

// Run blocks until a component fails, a component finishes cleanly, or a
// termination signal arrives; then it cancels the rest and drains. Exceeding
// the drain window is an error so the supervisor can kill the process.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(r.components))
	for _, c := range r.components {
		wg.Add(1)
		go func(c named) {
			defer wg.Done()
			err := c.run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("component", c.name).Msg("component failed")
				errCh <- fmt.Errorf("%s: %w", c.name, err)
				return
			}
			log.Info().Str("component", c.name).Msg("component stopped")
			errCh <- nil
		}(c)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case runErr = <-errCh:
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer drainCancel()
	select {
	case <-done:
	case <-drainCtx.Done():
		return errors.Join(runErr, fmt.Errorf("drain deadline of %s exceeded", r.drainTimeout))
	}

	for _, s := range r.shutdowns {
		if err := s.run(drainCtx); err != nil {
			log.Error().Err(err).Str("component", s.name).Msg("shutdown hook failed")
		}
	}
	return runErr
}
