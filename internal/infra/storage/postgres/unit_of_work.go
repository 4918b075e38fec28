package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/marketindexer/internal/core/domain"
	"github.com/vietddude/marketindexer/internal/indexing/metrics"
	"github.com/vietddude/marketindexer/internal/infra/storage"
)

// UnitOfWork bundles all persistence operations into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

const insertTradesQuery = `
	INSERT INTO trades (
		tx_hash, log_index, block_number, market_id, buyer, is_yes,
		usdc_amount, shares_received, new_price, indexed_at
	)
	SELECT t.tx_hash, t.log_index, t.block_number, t.market_id, t.buyer, t.is_yes,
		t.usdc_amount, t.shares_received, t.new_price, $10
	FROM unnest(
		$1::text[], $2::int[], $3::bigint[], $4::numeric[], $5::text[], $6::bool[],
		$7::numeric[], $8::numeric[], $9::numeric[]
	) AS t(tx_hash, log_index, block_number, market_id, buyer, is_yes,
		usdc_amount, shares_received, new_price)
	ON CONFLICT (tx_hash, log_index) DO NOTHING
`

// SaveTrades inserts trades with one multi-row INSERT, skipping rows that
// already exist. Returns the number of new rows.
func (u *UnitOfWork) SaveTrades(ctx context.Context, trades []*domain.Trade, indexedAt time.Time) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	txHashes := make([]string, len(trades))
	logIndexes := make([]int64, len(trades))
	blockNumbers := make([]int64, len(trades))
	marketIDs := make([]string, len(trades))
	buyers := make([]string, len(trades))
	isYes := make([]bool, len(trades))
	usdcAmounts := make([]string, len(trades))
	shares := make([]string, len(trades))
	prices := make([]string, len(trades))

	for i, t := range trades {
		txHashes[i] = t.TxHash
		logIndexes[i] = int64(t.LogIndex)
		blockNumbers[i] = int64(t.BlockNumber)
		marketIDs[i] = t.MarketID
		buyers[i] = t.Buyer
		isYes[i] = t.IsYes
		usdcAmounts[i] = t.USDCAmount
		shares[i] = t.SharesReceived
		prices[i] = t.NewPrice
	}

	metrics.DBBatchSize.WithLabelValues("save_trades").Observe(float64(len(trades)))

	res, err := u.tx.ExecContext(ctx, insertTradesQuery,
		pq.Array(txHashes),
		pq.Array(logIndexes),
		pq.Array(blockNumbers),
		pq.Array(marketIDs),
		pq.Array(buyers),
		pq.Array(isYes),
		pq.Array(usdcAmounts),
		pq.Array(shares),
		pq.Array(prices),
		indexedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trades: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const insertMarketsQuery = `
	INSERT INTO markets (
		tx_hash, log_index, block_number, market_id, tweet_id, metric,
		target_value, category, creator, indexed_at
	)
	SELECT m.tx_hash, m.log_index, m.block_number, m.market_id, m.tweet_id, m.metric,
		m.target_value, m.category, m.creator, $10
	FROM unnest(
		$1::text[], $2::int[], $3::bigint[], $4::numeric[], $5::text[], $6::smallint[],
		$7::numeric[], $8::text[], $9::text[]
	) AS m(tx_hash, log_index, block_number, market_id, tweet_id, metric,
		target_value, category, creator)
	ON CONFLICT DO NOTHING
`

// SaveMarkets inserts market creations. Conflicts on either the log identity
// or the market id are skipped.
func (u *UnitOfWork) SaveMarkets(ctx context.Context, markets []*domain.MarketCreated, indexedAt time.Time) (int, error) {
	if len(markets) == 0 {
		return 0, nil
	}

	txHashes := make([]string, len(markets))
	logIndexes := make([]int64, len(markets))
	blockNumbers := make([]int64, len(markets))
	marketIDs := make([]string, len(markets))
	tweetIDs := make([]string, len(markets))
	metricValues := make([]int64, len(markets))
	targets := make([]string, len(markets))
	categories := make([]string, len(markets))
	creators := make([]string, len(markets))

	for i, m := range markets {
		txHashes[i] = m.TxHash
		logIndexes[i] = int64(m.LogIndex)
		blockNumbers[i] = int64(m.BlockNumber)
		marketIDs[i] = m.MarketID
		tweetIDs[i] = m.TweetID
		metricValues[i] = int64(m.Metric)
		targets[i] = m.TargetValue
		categories[i] = m.Category
		creators[i] = m.Creator
	}

	metrics.DBBatchSize.WithLabelValues("save_markets").Observe(float64(len(markets)))

	res, err := u.tx.ExecContext(ctx, insertMarketsQuery,
		pq.Array(txHashes),
		pq.Array(logIndexes),
		pq.Array(blockNumbers),
		pq.Array(marketIDs),
		pq.Array(tweetIDs),
		pq.Array(metricValues),
		pq.Array(targets),
		pq.Array(categories),
		pq.Array(creators),
		indexedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert markets: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const insertSkippedQuery = `
	INSERT INTO skipped_logs (tx_hash, log_index, block_number, topic, event, reason, skipped_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (tx_hash, log_index) DO NOTHING
`

// SaveSkipped records undecodable logs.
func (u *UnitOfWork) SaveSkipped(ctx context.Context, skipped []*domain.SkippedLog, at time.Time) (int, error) {
	inserted := 0
	for _, s := range skipped {
		res, err := u.tx.ExecContext(ctx, insertSkippedQuery,
			s.TxHash, int64(s.LogIndex), int64(s.BlockNumber), s.Topic, s.Event, s.Reason, at,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert skipped log: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

const advanceCheckpointQuery = `
	INSERT INTO checkpoint (id, last_indexed_block, updated_at)
	VALUES (1, $1, $2)
	ON CONFLICT (id) DO UPDATE SET
		last_indexed_block = EXCLUDED.last_indexed_block,
		updated_at = EXCLUDED.updated_at
	WHERE checkpoint.last_indexed_block <= EXCLUDED.last_indexed_block
`

// AdvanceCheckpoint moves the checkpoint forward within the transaction.
// Moving it backwards fails with storage.ErrCheckpointRegression.
func (u *UnitOfWork) AdvanceCheckpoint(ctx context.Context, block uint64, at time.Time) error {
	res, err := u.tx.ExecContext(ctx, advanceCheckpointQuery, int64(block), at)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: refused to move checkpoint to %d", storage.ErrCheckpointRegression, block)
	}
	return nil
}
