package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/marketindexer/internal/core/domain"
	"github.com/vietddude/marketindexer/internal/infra/storage"
)

type rowKey struct {
	txHash   string
	logIndex uint
}

// Store is an in-process implementation of storage.Store. Commits are staged
// and published under one lock, so readers only ever see whole batches.
type Store struct {
	mu sync.RWMutex

	trades     []*domain.Trade // ascending by position
	markets    []*domain.MarketCreated
	skipped    []*domain.SkippedLog
	tradeKeys  map[rowKey]struct{}
	marketKeys map[rowKey]struct{}
	marketIDs  map[string]struct{}
	skipKeys   map[rowKey]struct{}
	checkpoint *domain.Checkpoint

	// commitHook runs after staging and before publishing. A non-nil error
	// aborts the commit.
	commitHook func(*storage.Batch) error
}

// Option configures a Store.
type Option func(*Store)

// WithCommitHook installs a hook that can veto commits.
func WithCommitHook(fn func(*storage.Batch) error) Option {
	return func(s *Store) { s.commitHook = fn }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		tradeKeys:  make(map[rowKey]struct{}),
		marketKeys: make(map[rowKey]struct{}),
		marketIDs:  make(map[string]struct{}),
		skipKeys:   make(map[rowKey]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitHook replaces the commit hook.
func (s *Store) SetCommitHook(fn func(*storage.Batch) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

// -----------------------------------------------------------------------------
// Writer
// -----------------------------------------------------------------------------

func (s *Store) GetCheckpoint(ctx context.Context) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.checkpoint == nil {
		return nil, nil
	}
	cp := *s.checkpoint
	return &cp, nil
}

func (s *Store) Commit(ctx context.Context, batch *storage.Batch) (*storage.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrCommit, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoint != nil && batch.Checkpoint < s.checkpoint.LastIndexedBlock {
		return nil, fmt.Errorf("%w: %w: %d < %d",
			storage.ErrCommit, storage.ErrCheckpointRegression,
			batch.Checkpoint, s.checkpoint.LastIndexedBlock)
	}

	indexedAt := batch.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}

	// Stage
	var (
		newTrades  []*domain.Trade
		newMarkets []*domain.MarketCreated
		newSkipped []*domain.SkippedLog
		tradeSeen  = make(map[rowKey]struct{})
		marketSeen = make(map[rowKey]struct{})
		idSeen     = make(map[string]struct{})
		skipSeen   = make(map[rowKey]struct{})
	)
	for _, t := range batch.Trades {
		k := rowKey{t.TxHash, t.LogIndex}
		if _, ok := s.tradeKeys[k]; ok {
			continue
		}
		if _, ok := tradeSeen[k]; ok {
			continue
		}
		tradeSeen[k] = struct{}{}
		row := *t
		row.IndexedAt = indexedAt
		newTrades = append(newTrades, &row)
	}
	for _, m := range batch.Markets {
		k := rowKey{m.TxHash, m.LogIndex}
		if _, ok := s.marketKeys[k]; ok {
			continue
		}
		if _, ok := marketSeen[k]; ok {
			continue
		}
		if _, ok := s.marketIDs[m.MarketID]; ok {
			continue
		}
		if _, ok := idSeen[m.MarketID]; ok {
			continue
		}
		marketSeen[k] = struct{}{}
		idSeen[m.MarketID] = struct{}{}
		row := *m
		row.IndexedAt = indexedAt
		newMarkets = append(newMarkets, &row)
	}
	for _, sl := range batch.Skipped {
		k := rowKey{sl.TxHash, sl.LogIndex}
		if _, ok := s.skipKeys[k]; ok {
			continue
		}
		if _, ok := skipSeen[k]; ok {
			continue
		}
		skipSeen[k] = struct{}{}
		row := *sl
		row.SkippedAt = indexedAt
		newSkipped = append(newSkipped, &row)
	}

	if s.commitHook != nil {
		if err := s.commitHook(batch); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrCommit, err)
		}
	}

	// Publish
	for _, t := range newTrades {
		s.tradeKeys[rowKey{t.TxHash, t.LogIndex}] = struct{}{}
	}
	for _, m := range newMarkets {
		s.marketKeys[rowKey{m.TxHash, m.LogIndex}] = struct{}{}
		s.marketIDs[m.MarketID] = struct{}{}
	}
	for _, sl := range newSkipped {
		s.skipKeys[rowKey{sl.TxHash, sl.LogIndex}] = struct{}{}
	}
	s.trades = append(s.trades, newTrades...)
	s.markets = append(s.markets, newMarkets...)
	s.skipped = append(s.skipped, newSkipped...)
	sort.SliceStable(s.trades, func(i, j int) bool {
		return s.trades[i].Position().Less(s.trades[j].Position())
	})
	sort.SliceStable(s.markets, func(i, j int) bool {
		return s.markets[i].Position().Less(s.markets[j].Position())
	})
	sort.SliceStable(s.skipped, func(i, j int) bool {
		return s.skipped[i].BlockNumber < s.skipped[j].BlockNumber
	})
	s.checkpoint = &domain.Checkpoint{
		LastIndexedBlock: batch.Checkpoint,
		UpdatedAt:        indexedAt,
	}

	return &storage.CommitResult{
		Trades:  len(newTrades),
		Markets: len(newMarkets),
		Skipped: len(newSkipped),
	}, nil
}

// -----------------------------------------------------------------------------
// Reader
// -----------------------------------------------------------------------------

func (s *Store) TradesByBuyer(ctx context.Context, buyer string, limit int) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].Buyer != buyer {
			continue
		}
		t := *s.trades[i]
		out = append(out, &t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarketsByCreator(ctx context.Context, creator string, limit int) ([]*domain.MarketCreated, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.MarketCreated
	for i := len(s.markets) - 1; i >= 0; i-- {
		if s.markets[i].Creator != creator {
			continue
		}
		m := *s.markets[i]
		out = append(out, &m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) TradesByMarket(ctx context.Context, marketID string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Trade
	for _, t := range s.trades {
		if t.MarketID != marketID {
			continue
		}
		row := *t
		out = append(out, &row)
	}
	return out, nil
}

func (s *Store) Market(ctx context.Context, marketID string) (*domain.MarketCreated, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.markets {
		if m.MarketID == marketID {
			row := *m
			return &row, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) RecentActivity(ctx context.Context, limit int) ([]*domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := make([]*domain.Trade, 0, limit)
	for i := len(s.trades) - 1; i >= 0 && len(trades) < limit; i-- {
		t := *s.trades[i]
		trades = append(trades, &t)
	}
	markets := make([]*domain.MarketCreated, 0, limit)
	for i := len(s.markets) - 1; i >= 0 && len(markets) < limit; i-- {
		m := *s.markets[i]
		markets = append(markets, &m)
	}
	return storage.MergeActivity(trades, markets, limit), nil
}

func (s *Store) SkippedLogs(ctx context.Context, limit int) ([]*domain.SkippedLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.SkippedLog
	for i := len(s.skipped) - 1; i >= 0; i-- {
		sl := *s.skipped[i]
		out = append(out, &sl)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TradeCount:   int64(len(s.trades)),
		MarketCount:  int64(len(s.markets)),
		SkippedCount: int64(len(s.skipped)),
	}
	if s.checkpoint != nil {
		cp := *s.checkpoint
		stats.Checkpoint = &cp
	}
	if n := len(s.trades); n > 0 {
		at := s.trades[n-1].IndexedAt
		stats.LatestTradeAt = &at
	}
	return stats, nil
}

// -----------------------------------------------------------------------------
// Admin
// -----------------------------------------------------------------------------

func (s *Store) SetCheckpoint(ctx context.Context, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = &domain.Checkpoint{LastIndexedBlock: block, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *Store) Reset(ctx context.Context, genesis uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = nil
	s.markets = nil
	s.skipped = nil
	s.tradeKeys = make(map[rowKey]struct{})
	s.marketKeys = make(map[rowKey]struct{})
	s.marketIDs = make(map[string]struct{})
	s.skipKeys = make(map[rowKey]struct{})
	s.checkpoint = &domain.Checkpoint{LastIndexedBlock: genesis, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *Store) Health(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

var _ storage.Store = (*Store)(nil)
