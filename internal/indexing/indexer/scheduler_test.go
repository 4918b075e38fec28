package indexer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/marketindexer/internal/core/domain"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) Run(ctx context.Context) (*domain.RunSummary, error) {
	r.calls.Add(1)
	return &domain.RunSummary{Status: domain.RunStatusIdle}, r.err
}

func TestScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := runner.calls.Load(); got < 3 {
		t.Errorf("expected at least 3 runs, got %d", got)
	}
}

func TestScheduler_KeepsTickingAfterBusyAndFailedRuns(t *testing.T) {
	for _, err := range []error{ErrRunInProgress, context.DeadlineExceeded} {
		runner := &countingRunner{err: err}
		s := NewScheduler(runner, 5*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		_ = s.Start(ctx)
		cancel()

		if got := runner.calls.Load(); got < 2 {
			t.Errorf("%v: expected scheduler to keep ticking, got %d runs", err, got)
		}
	}
}

type recordingPacer struct {
	seen atomic.Int32
}

func (p *recordingPacer) NextInterval(summary *domain.RunSummary) time.Duration {
	p.seen.Add(1)
	return 5 * time.Millisecond
}

func TestScheduler_UsesPacer(t *testing.T) {
	runner := &countingRunner{}
	pacer := &recordingPacer{}
	// A base interval this long would allow only the immediate run.
	s := NewScheduler(runner, time.Hour, pacer)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_ = s.Start(ctx)

	if got := runner.calls.Load(); got < 3 {
		t.Errorf("expected pacer to drive at least 3 runs, got %d", got)
	}
	if pacer.seen.Load() != runner.calls.Load() {
		t.Errorf("pacer consulted %d times for %d runs", pacer.seen.Load(), runner.calls.Load())
	}
}
