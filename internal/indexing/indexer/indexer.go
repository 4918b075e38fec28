package indexer

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketindexer/internal/core/domain"
	"github.com/vietddude/marketindexer/internal/infra/storage"
)

// ErrRunInProgress is returned when a trigger arrives while another run holds
// the run lock. The trigger is dropped, not queued.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// Runner executes one ingestion run. Both the scheduler and the manual
// trigger call it.
type Runner interface {
	Run(ctx context.Context) (*domain.RunSummary, error)
}

// Decoder maps contract logs to domain events.
type Decoder interface {
	// Topics returns every topic0 the decoder understands.
	Topics() []common.Hash
	// EventName returns the event name registered for topic0.
	EventName(topic common.Hash) (string, bool)
	// Decode returns ok=false for an unknown topic and an error for a
	// malformed log on a known one.
	Decode(log *types.Log) (domain.Event, bool, error)
}

// CommitListener is told about every successful commit. The API uses it to
// drop cached reads.
type CommitListener func(summary *domain.RunSummary, result *storage.CommitResult)

// Status is a snapshot of the pipeline for the stats view.
type Status struct {
	Running       bool               `json:"running"`
	LastRun       *domain.RunSummary `json:"lastRun,omitempty"`
	LastSuccessAt *time.Time         `json:"lastSuccessAt,omitempty"`
}

// Config holds pipeline tuning.
type Config struct {
	// ConfirmationLag withholds the newest blocks from indexing.
	ConfirmationLag uint64
	// MaxBlocksPerRun caps the range of one run so catch-up after an outage
	// commits in steps. Zero means unbounded.
	MaxBlocksPerRun uint64
	// RunTimeout bounds the RPC phase of a run. Zero disables the budget.
	RunTimeout time.Duration
}
