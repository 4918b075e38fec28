package throttle

import (
	"time"

	"github.com/vietddude/marketindexer/internal/core/domain"
)

// AdaptiveController shortens the wait between runs while the indexer is
// behind the confirmed head, e.g. after an outage when each run is capped.
type AdaptiveController struct {
	baseInterval time.Duration
	config       Config
}

func NewAdaptiveController(baseInterval time.Duration, config Config) *AdaptiveController {
	if config.MinInterval <= 0 || config.MinInterval > baseInterval {
		config.MinInterval = baseInterval
	}
	return &AdaptiveController{
		baseInterval: baseInterval,
		config:       config,
	}
}

// ComputeInterval returns the wait for a given backlog.
//
//   - backlog 0: base interval (caught up)
//   - backlog < normal: base / 2
//   - backlog < burst: min * 2
//   - otherwise: min interval
func (c *AdaptiveController) ComputeInterval(backlog uint64) time.Duration {
	if !c.config.Enabled {
		return c.baseInterval
	}

	var interval time.Duration
	switch {
	case backlog == 0:
		interval = c.baseInterval
	case backlog < c.config.BacklogNormalThreshold:
		interval = c.baseInterval / 2
	case backlog < c.config.BacklogBurstThreshold:
		interval = c.config.MinInterval * 2
	default:
		interval = c.config.MinInterval
	}

	if interval < c.config.MinInterval {
		interval = c.config.MinInterval
	}
	if interval > c.baseInterval {
		interval = c.baseInterval
	}
	return interval
}

// NextInterval picks the wait after a run. Failed and rejected runs back off
// to the base interval.
func (c *AdaptiveController) NextInterval(summary *domain.RunSummary) time.Duration {
	if summary == nil || summary.Status != domain.RunStatusCompleted {
		return c.baseInterval
	}
	return c.ComputeInterval(summary.Backlog)
}
