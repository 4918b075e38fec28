package domain

import "time"

type RunStatus string

const (
	// RunStatusCompleted means a block range was committed.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusIdle means the checkpoint was already at the confirmed head.
	RunStatusIdle   RunStatus = "idle"
	RunStatusFailed RunStatus = "failed"
)

// RunSummary describes one ingestion run.
type RunSummary struct {
	RunID      string    `json:"runId"`
	Status     RunStatus `json:"status"`
	FromBlock  uint64    `json:"fromBlock,omitempty"`
	ToBlock    uint64    `json:"toBlock,omitempty"`
	ChainHead  uint64    `json:"chainHead,omitempty"`
	Checkpoint uint64    `json:"checkpoint"`
	Logs       int       `json:"logs"`
	Trades     int       `json:"trades"`
	Markets    int       `json:"markets"`
	Skipped    int       `json:"skipped"`
	Unknown    int       `json:"unknown"`
	// Backlog is the number of confirmed blocks still to index after the run.
	Backlog    uint64    `json:"backlog"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
}

// Succeeded reports whether the run left the store consistent with its range.
func (s *RunSummary) Succeeded() bool {
	return s.Status == RunStatusCompleted || s.Status == RunStatusIdle
}
