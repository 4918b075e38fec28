package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StoreProbe reports whether the store answers.
type StoreProbe interface {
	Health(ctx context.Context) error
}

// CheckpointReader returns the last indexed block.
type CheckpointReader interface {
	Read(ctx context.Context) (uint64, error)
}

// HeadReader returns the chain head, best effort.
type HeadReader interface {
	Head(ctx context.Context) (uint64, bool)
}

// Monitor aggregates health status from the store, the chain head and the
// pipeline's last success.
type Monitor struct {
	store       StoreProbe
	checkpoints CheckpointReader
	head        HeadReader
	lastSuccess func() *time.Time
	thresholds  Thresholds
	started     time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *Report
}

// NewMonitor creates a monitor. lastSuccess returns the finish time of the
// last successful run, or nil.
func NewMonitor(
	store StoreProbe,
	checkpoints CheckpointReader,
	head HeadReader,
	lastSuccess func() *time.Time,
	thresholds Thresholds,
) *Monitor {
	return &Monitor{
		store:       store,
		checkpoints: checkpoints,
		head:        head,
		lastSuccess: lastSuccess,
		thresholds:  thresholds,
		started:     time.Now(),
	}
}

// CheckHealth evaluates health. Results are reused for CheckEvery so that
// probes do not hammer the RPC or the store.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.thresholds.CheckEvery {
		return *m.lastReport
	}

	report := Report{Status: StatusHealthy, Timestamp: time.Now().UTC()}

	// 1. Store
	if err := m.store.Health(ctx); err != nil {
		report.StoreError = err.Error()
		report.raise(StatusCritical, "store unavailable")
	}

	// 2. Lag
	if head, ok := m.head.Head(ctx); ok {
		if current, err := m.checkpoints.Read(ctx); err == nil {
			var lag uint64
			if head > current {
				lag = head - current
			}
			report.BlockLag = &lag
			switch {
			case lag > m.thresholds.LagCritical:
				report.raise(StatusCritical, fmt.Sprintf("lag %d blocks", lag))
			case lag > m.thresholds.LagDegraded:
				report.raise(StatusDegraded, fmt.Sprintf("lag %d blocks", lag))
			}
		}
	} else {
		report.raise(StatusDegraded, "chain head unavailable")
	}

	// 3. Staleness
	last := m.lastSuccess()
	report.LastSuccessAt = last
	since := m.started
	if last != nil {
		since = *last
	}
	if m.thresholds.StaleAfter > 0 && time.Since(since) > m.thresholds.StaleAfter {
		report.raise(StatusDegraded, "no successful run recently")
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}

// raise keeps the worst status seen.
func (r *Report) raise(status SystemStatus, reason string) {
	r.Reasons = append(r.Reasons, reason)
	if r.Status == StatusCritical {
		return
	}
	if status == StatusCritical || r.Status == StatusHealthy {
		r.Status = status
	}
}
