package usecase

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of scheduled work. Jobs report their own failures.
type Job func(ctx context.Context)

// Scheduler runs jobs with bounded concurrency and a minimum interval between
// consecutive dispatches.
type Scheduler struct {
	concurrency int
	interval    time.Duration
}

// NewScheduler coerces both bounds to at least 1.
func NewScheduler(concurrency, rps int) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		concurrency: concurrency,
		interval:    DispatchInterval(rps),
	}
}

// DispatchInterval is ceil(1000ms / max(1, rps)).
func DispatchInterval(rps int) time.Duration {
	if rps < 1 {
		rps = 1
	}
	ms := (1000 + rps - 1) / rps
	return time.Duration(ms) * time.Millisecond
}

// Concurrency returns the effective concurrency bound.
func (s *Scheduler) Concurrency() int { return s.concurrency }

// Interval returns the effective dispatch interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Run dispatches every job exactly once, in order, and returns after all of
// them have returned. Once ctx is done the pacing delay is skipped; remaining
// jobs still run and observe the cancelled context.
func (s *Scheduler) Run(ctx context.Context, jobs []Job) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	var last time.Time
	for i, job := range jobs {
		if i > 0 {
			s.pace(ctx, last)
		}
		job := job
		g.Go(func() error {
			job(ctx)
			return nil
		})
		last = time.Now()
	}
	_ = g.Wait()
}

func (s *Scheduler) pace(ctx context.Context, last time.Time) {
	wait := time.Until(last.Add(s.interval))
	if wait <= 0 || ctx.Err() != nil {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
