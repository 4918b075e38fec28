package indexer

import (
	"context"
	"errors"
	logger "log/slog"
	"time"

	"github.com/vietddude/marketindexer/internal/core/domain"
)

// Pacer picks the wait before the next scheduled run.
type Pacer interface {
	NextInterval(summary *domain.RunSummary) time.Duration
}

type fixedPacer time.Duration

func (p fixedPacer) NextInterval(*domain.RunSummary) time.Duration { return time.Duration(p) }

// Scheduler triggers a run immediately and then after every interval until
// the context is cancelled. A trigger that finds a run in flight is dropped.
type Scheduler struct {
	runner Runner
	pacer  Pacer
	log    *logger.Logger
}

// NewScheduler runs on a fixed interval unless a pacer is given.
func NewScheduler(runner Runner, interval time.Duration, pacer ...Pacer) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Scheduler{
		runner: runner,
		pacer:  fixedPacer(interval),
		log:    logger.Default().With("component", "scheduler"),
	}
	if len(pacer) > 0 && pacer[0] != nil {
		s.pacer = pacer[0]
	}
	return s
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info("Scheduler started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return nil
		case <-timer.C:
			summary := s.tick(ctx)
			next := s.pacer.NextInterval(summary)
			if summary != nil && summary.Backlog > 0 {
				s.log.Debug("Behind confirmed head", "backlog", summary.Backlog, "next", next)
			}
			timer.Reset(next)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) *domain.RunSummary {
	summary, err := s.runner.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress):
		s.log.Debug("Skipping tick, run in progress")
	case ctx.Err() != nil:
		// shutting down
	default:
		// The pipeline already logged the failure; the next tick retries.
		s.log.Debug("Scheduled run failed", "error", err)
	}
	return summary
}
