package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/marketindexer/internal/core/domain"
	"github.com/vietddude/marketindexer/internal/infra/storage"
)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db *DB
}

// NewStore creates a new PostgreSQL store. Migrations must already be applied.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Commit writes the batch and advances the checkpoint in one transaction.
func (s *Store) Commit(ctx context.Context, batch *storage.Batch) (*storage.CommitResult, error) {
	indexedAt := batch.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}

	uow, err := s.db.NewUnitOfWork(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrCommit, err)
	}
	defer func() { _ = uow.Rollback() }()

	res := &storage.CommitResult{}
	if res.Trades, err = uow.SaveTrades(ctx, batch.Trades, indexedAt); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrCommit, err)
	}
	if res.Markets, err = uow.SaveMarkets(ctx, batch.Markets, indexedAt); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrCommit, err)
	}
	if res.Skipped, err = uow.SaveSkipped(ctx, batch.Skipped, indexedAt); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrCommit, err)
	}
	if err := uow.AdvanceCheckpoint(ctx, batch.Checkpoint, indexedAt); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrCommit, err)
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrCommit, err)
	}
	return res, nil
}

// GetCheckpoint returns nil when the checkpoint row does not exist yet.
func (s *Store) GetCheckpoint(ctx context.Context) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := s.db.GetContext(ctx, &cp,
		`SELECT last_indexed_block, updated_at FROM checkpoint WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &cp, nil
}

const tradeColumns = `tx_hash, log_index, block_number, market_id, buyer, is_yes,
	usdc_amount, shares_received, new_price, indexed_at`

const marketColumns = `tx_hash, log_index, block_number, market_id, tweet_id, metric,
	target_value, category, creator, indexed_at`

// sqlLimit binds limit for a LIMIT clause. PostgreSQL treats LIMIT NULL as
// no limit.
func sqlLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (s *Store) TradesByBuyer(ctx context.Context, buyer string, limit int) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	err := s.db.SelectContext(ctx, &trades, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE buyer = $1
		ORDER BY block_number DESC, log_index DESC
		LIMIT $2`, buyer, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get trades by buyer: %w", err)
	}
	return trades, nil
}

func (s *Store) MarketsByCreator(ctx context.Context, creator string, limit int) ([]*domain.MarketCreated, error) {
	var markets []*domain.MarketCreated
	err := s.db.SelectContext(ctx, &markets, `
		SELECT `+marketColumns+`
		FROM markets
		WHERE creator = $1
		ORDER BY block_number DESC, log_index DESC
		LIMIT $2`, creator, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get markets by creator: %w", err)
	}
	return markets, nil
}

func (s *Store) TradesByMarket(ctx context.Context, marketID string) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	err := s.db.SelectContext(ctx, &trades, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE market_id = $1::numeric
		ORDER BY block_number ASC, log_index ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades by market: %w", err)
	}
	return trades, nil
}

func (s *Store) Market(ctx context.Context, marketID string) (*domain.MarketCreated, error) {
	var m domain.MarketCreated
	err := s.db.GetContext(ctx, &m, `
		SELECT `+marketColumns+`
		FROM markets
		WHERE market_id = $1::numeric`, marketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get market: %w", err)
	}
	return &m, nil
}

// RecentActivity reads both tables at one snapshot so the feed never mixes
// two commits.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]*domain.Activity, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var trades []*domain.Trade
	if err := tx.SelectContext(ctx, &trades, `
		SELECT `+tradeColumns+`
		FROM trades
		ORDER BY block_number DESC, log_index DESC
		LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent trades: %w", err)
	}

	var markets []*domain.MarketCreated
	if err := tx.SelectContext(ctx, &markets, `
		SELECT `+marketColumns+`
		FROM markets
		ORDER BY block_number DESC, log_index DESC
		LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent markets: %w", err)
	}

	return storage.MergeActivity(trades, markets, limit), nil
}

func (s *Store) SkippedLogs(ctx context.Context, limit int) ([]*domain.SkippedLog, error) {
	var skipped []*domain.SkippedLog
	err := s.db.SelectContext(ctx, &skipped, `
		SELECT tx_hash, log_index, block_number, topic, event, reason, skipped_at
		FROM skipped_logs
		ORDER BY block_number DESC, log_index DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get skipped logs: %w", err)
	}
	return skipped, nil
}

func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	var row struct {
		Trades        int64        `db:"trades"`
		Markets       int64        `db:"markets"`
		Skipped       int64        `db:"skipped"`
		LatestTradeAt sql.NullTime `db:"latest_trade_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT
			(SELECT COUNT(*) FROM trades)          AS trades,
			(SELECT COUNT(*) FROM markets)         AS markets,
			(SELECT COUNT(*) FROM skipped_logs)    AS skipped,
			(SELECT MAX(indexed_at) FROM trades)   AS latest_trade_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	cp, err := s.GetCheckpoint(ctx)
	if err != nil {
		return nil, err
	}

	stats := &storage.Stats{
		Checkpoint:   cp,
		TradeCount:   row.Trades,
		MarketCount:  row.Markets,
		SkippedCount: row.Skipped,
	}
	if row.LatestTradeAt.Valid {
		stats.LatestTradeAt = &row.LatestTradeAt.Time
	}
	return stats, nil
}

// SetCheckpoint overwrites the checkpoint unconditionally.
func (s *Store) SetCheckpoint(ctx context.Context, block uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoint (id, last_indexed_block, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			last_indexed_block = EXCLUDED.last_indexed_block,
			updated_at = EXCLUDED.updated_at`, int64(block))
	if err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}

// Reset truncates all tables and rewinds the checkpoint to genesis in one
// transaction.
func (s *Store) Reset(ctx context.Context, genesis uint64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `TRUNCATE trades, markets, skipped_logs`); err != nil {
		return fmt.Errorf("failed to truncate: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoint (id, last_indexed_block, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			last_indexed_block = EXCLUDED.last_indexed_block,
			updated_at = EXCLUDED.updated_at`, int64(genesis)); err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)
