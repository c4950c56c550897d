// Package tasks runs the engine's periodic background jobs: the missed-dose
// sweep, rolling-window maintenance, and the daily archiver.
package tasks

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one periodic unit of work. Run should respect ctx cancellation and
// do its own bounded batching.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner drives jobs on jittered tickers until stopped. Job errors are
// logged, never fatal: the next tick tries again.
type Runner struct {
	jobs   []Job
	log    zerolog.Logger
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log}
}

func (r *Runner) Add(job Job) {
	r.jobs = append(r.jobs, job)
}

// Start launches one goroutine per job. A small startup jitter keeps
// replicas from sweeping in lockstep.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	for _, job := range r.jobs {
		job := job
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()

			jitter := time.Duration(rand.Int63n(int64(job.Interval) / 10))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return
			}

			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()

			r.runOnce(ctx, job)
			for {
				select {
				case <-ticker.C:
					r.runOnce(ctx, job)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.log.Error().Err(err).Str("job", job.Name).Msg("background job failed")
		return
	}
	r.log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("background job finished")
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
