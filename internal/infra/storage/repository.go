package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/marketindexer/internal/core/domain"
)

var (
	// ErrNotFound is returned when a lookup by business key has no row.
	ErrNotFound = errors.New("not found")

	// ErrCommit wraps any failure of an ingestion commit. Nothing from the
	// batch is visible when it is returned.
	ErrCommit = errors.New("commit failed")

	// ErrCheckpointRegression is returned when a commit would move the
	// checkpoint backwards.
	ErrCheckpointRegression = errors.New("checkpoint regression")
)

// Batch is everything one ingestion run persists. Rows are inserted
// idempotently on (tx_hash, log_index) and Checkpoint is advanced in the
// same transaction.
type Batch struct {
	Trades     []*domain.Trade
	Markets    []*domain.MarketCreated
	Skipped    []*domain.SkippedLog
	Checkpoint uint64
	IndexedAt  time.Time
}

// Size returns the number of rows in the batch.
func (b *Batch) Size() int {
	return len(b.Trades) + len(b.Markets) + len(b.Skipped)
}

// CommitResult reports how many rows were newly inserted.
type CommitResult struct {
	Trades  int
	Markets int
	Skipped int
}

// Stats is a snapshot of the store for the stats view.
type Stats struct {
	Checkpoint    *domain.Checkpoint
	TradeCount    int64
	MarketCount   int64
	SkippedCount  int64
	LatestTradeAt *time.Time
}

// CheckpointRepository reads the durable checkpoint. Writes only happen
// through Writer.Commit or the admin operations.
type CheckpointRepository interface {
	// GetCheckpoint returns nil when no run has ever committed.
	GetCheckpoint(ctx context.Context) (*domain.Checkpoint, error)
}

// Writer is owned by the ingestion pipeline.
type Writer interface {
	CheckpointRepository

	// Commit persists the batch and advances the checkpoint atomically.
	Commit(ctx context.Context, batch *Batch) (*CommitResult, error)
}

// Reader serves the query API.
type Reader interface {
	CheckpointRepository

	// TradesByBuyer returns trades newest-first. Address must be lowercase hex.
	// A limit <= 0 returns every row.
	TradesByBuyer(ctx context.Context, buyer string, limit int) ([]*domain.Trade, error)

	// MarketsByCreator returns created markets newest-first. A limit <= 0
	// returns every row.
	MarketsByCreator(ctx context.Context, creator string, limit int) ([]*domain.MarketCreated, error)

	// TradesByMarket returns every trade of a market oldest-first.
	TradesByMarket(ctx context.Context, marketID string) ([]*domain.Trade, error)

	// Market returns the creation event of a market or ErrNotFound.
	Market(ctx context.Context, marketID string) (*domain.MarketCreated, error)

	// RecentActivity returns the newest trades and market creations merged
	// by position, newest-first.
	RecentActivity(ctx context.Context, limit int) ([]*domain.Activity, error)

	// SkippedLogs returns undecodable logs newest-first.
	SkippedLogs(ctx context.Context, limit int) ([]*domain.SkippedLog, error)

	Stats(ctx context.Context) (*Stats, error)
}

// Admin holds operator-only operations.
type Admin interface {
	// SetCheckpoint forces the checkpoint to block, also backwards.
	SetCheckpoint(ctx context.Context, block uint64) error

	// Reset truncates every table and sets the checkpoint to genesis.
	Reset(ctx context.Context, genesis uint64) error
}

// Store is the full relational store.
type Store interface {
	Writer
	Reader
	Admin

	Health(ctx context.Context) error
	Close() error
}
