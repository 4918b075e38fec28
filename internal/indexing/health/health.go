// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report is the result of one health evaluation.
type Report struct {
	Status    SystemStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`

	// BlockLag is chain head minus checkpoint; omitted when the head is
	// unknown.
	BlockLag      *uint64    `json:"blockLag,omitempty"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	StoreError    string     `json:"storeError,omitempty"`
	Reasons       []string   `json:"reasons,omitempty"`
}

// Thresholds decide when lag or staleness degrades the status.
type Thresholds struct {
	LagDegraded uint64
	LagCritical uint64
	StaleAfter  time.Duration
	CheckEvery  time.Duration
}

// DefaultThresholds fits a once-a-minute schedule.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LagDegraded: 100,
		LagCritical: 5000,
		StaleAfter:  10 * time.Minute,
		CheckEvery:  10 * time.Second,
	}
}
