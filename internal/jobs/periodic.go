// Package jobs runs background maintenance on fixed intervals.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"secumsg/internal/observability/metrics"
)

// Func is one run of a job. Errors are logged and counted; the job keeps its
// schedule.
type Func func(ctx context.Context) error

type Periodic struct {
	Name     string
	Interval time.Duration
	Run      Func
	// RunAtStart executes the job once before the first tick.
	RunAtStart bool
}

// Loop runs the job every Interval until ctx is cancelled. It returns
// ctx.Err().
func (p Periodic) Loop(ctx context.Context) error {
	if p.Interval <= 0 {
		slog.Warn("job disabled, non-positive interval", "job", p.Name)
		<-ctx.Done()
		return ctx.Err()
	}
	slog.Info("job scheduled", "job", p.Name, "interval", p.Interval.String())

	if p.RunAtStart {
		p.once(ctx)
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("job stopped", "job", p.Name)
			return ctx.Err()
		case <-ticker.C:
			p.once(ctx)
		}
	}
}

func (p Periodic) once(ctx context.Context) {
	start := time.Now()
	err := p.Run(ctx)
	metrics.JobRunsTotal.WithLabelValues(p.Name, metrics.Result(err)).Inc()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("job run failed", "job", p.Name, "error", err, "duration", time.Since(start).String())
		return
	}
	slog.Debug("job run finished", "job", p.Name, "duration", time.Since(start).String())
}
