package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner executes a task on a fixed interval until stopped. Task errors are
// logged and the loop continues; a failing sweep must not stop future sweeps.
type Runner struct {
	Name     string
	Interval time.Duration
	Task     func(ctx context.Context) error
	Log      zerolog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Start launches the loop. It returns immediately; call Stop to shut down.
func (r *Runner) Start(ctx context.Context) {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.Task(ctx); err != nil {
				r.Log.Error().Err(err).Str("task", r.Name).Msg("scheduled task failed")
			}
		}
	}
}

// Stop halts the loop and waits for the in-flight run to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
