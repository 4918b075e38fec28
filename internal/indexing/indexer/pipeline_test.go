package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/marketindexer/internal/core/checkpoint"
	"github.com/vietddude/marketindexer/internal/core/domain"
	"github.com/vietddude/marketindexer/internal/indexing/decoder"
	"github.com/vietddude/marketindexer/internal/indexing/decoder/decodertest"
	"github.com/vietddude/marketindexer/internal/indexing/runlock"
	"github.com/vietddude/marketindexer/internal/infra/rpc"
	"github.com/vietddude/marketindexer/internal/infra/storage"
	"github.com/vietddude/marketindexer/internal/infra/storage/memory"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

// mockSource serves a fixed log set and records requested ranges.
type mockSource struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	headErr error
	logsErr error
	ranges  [][2]uint64

	// When set, GetLogs signals entered and waits for unblock or ctx.
	entered chan struct{}
	unblock chan struct{}
}

func (m *mockSource) GetHeadBlock(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, m.headErr
}

func (m *mockSource) GetLogs(ctx context.Context, from, to uint64, topics []common.Hash) ([]types.Log, error) {
	m.mu.Lock()
	m.ranges = append(m.ranges, [2]uint64{from, to})
	entered, unblock := m.entered, m.unblock
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		select {
		case <-unblock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logsErr != nil {
		return nil, m.logsErr
	}
	var out []types.Log
	for _, l := range m.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockSource) setHead(h uint64) {
	m.mu.Lock()
	m.head = h
	m.mu.Unlock()
}

type fixture struct {
	source   *mockSource
	store    *memory.Store
	manager  *checkpoint.Manager
	pipeline *Pipeline
}

func newFixture(t *testing.T, cfg Config, genesis uint64, logs ...types.Log) *fixture {
	t.Helper()
	source := &mockSource{head: 20, logs: logs}
	store := memory.NewStore()
	manager := checkpoint.NewManager(store, genesis)
	return &fixture{
		source:   source,
		store:    store,
		manager:  manager,
		pipeline: NewPipeline(cfg, source, decoder.MustNew(), manager, store),
	}
}

// scenarioLogs: market 1 created at block 5, trades at 10:0, 10:1, 12:0.
func scenarioLogs() []types.Log {
	return []types.Log{
		decodertest.MarketCreated(decodertest.Pos{Block: 5, Index: 0, Tx: decodertest.TxHash(1)},
			1, "1790000000000000000", 1, 5000, "crypto", alice),
		decodertest.SharesPurchased(decodertest.Pos{Block: 10, Index: 0, Tx: decodertest.TxHash(2)},
			1, bob, true, 100, 190, 510000),
		decodertest.SharesPurchased(decodertest.Pos{Block: 10, Index: 1, Tx: decodertest.TxHash(3)},
			1, alice, false, 50, 98, 505000),
		decodertest.SharesPurchased(decodertest.Pos{Block: 12, Index: 0, Tx: decodertest.TxHash(4)},
			1, bob, true, 10, 19, 506000),
	}
}

func TestPipeline_RunCommitsRangeInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, 0, scenarioLogs()...)

	summary, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, summary.Status)
	assert.Equal(t, uint64(1), summary.FromBlock)
	assert.Equal(t, uint64(20), summary.ToBlock)
	assert.Equal(t, uint64(20), summary.Checkpoint)
	assert.Equal(t, 3, summary.Trades)
	assert.Equal(t, 1, summary.Markets)
	assert.NotEmpty(t, summary.RunID)

	trades, err := f.store.TradesByMarket(ctx, "1")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, domain.Position{BlockNumber: 10, LogIndex: 0}, trades[0].Position())
	assert.Equal(t, domain.Position{BlockNumber: 10, LogIndex: 1}, trades[1].Position())
	assert.Equal(t, domain.Position{BlockNumber: 12, LogIndex: 0}, trades[2].Position())

	cp, err := f.manager.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cp)
}

func TestPipeline_RerunAfterRewindIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, 0, scenarioLogs()...)

	_, err := f.pipeline.Run(ctx)
	require.NoError(t, err)

	require.NoError(t, f.manager.Rewind(ctx, 0))

	summary, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, summary.Status)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TradeCount)
	assert.Equal(t, int64(1), stats.MarketCount)
	assert.Equal(t, uint64(20), stats.Checkpoint.LastIndexedBlock)
}

func TestPipeline_CheckpointIsMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ConfirmationLag: 2}, 0, scenarioLogs()...)

	var last uint64
	for _, head := range []uint64{8, 8, 4, 15, 13, 30} {
		f.source.setHead(head)
		_, err := f.pipeline.Run(ctx)
		require.NoError(t, err)

		cp, err := f.manager.Read(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, cp, last, "checkpoint moved backwards at head %d", head)
		last = cp
	}
	assert.Equal(t, uint64(28), last)
}

func TestPipeline_FailedCommitLeavesNothingVisible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, 0, scenarioLogs()...)
	f.store.SetCommitHook(func(*storage.Batch) error { return errors.New("disk full") })

	summary, err := f.pipeline.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrCommit)
	assert.Equal(t, domain.RunStatusFailed, summary.Status)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TradeCount)
	assert.Zero(t, stats.MarketCount)
	assert.Nil(t, stats.Checkpoint)
	assert.Nil(t, f.pipeline.Status().LastSuccessAt)

	// The next run picks up the same range once the store recovers.
	f.store.SetCommitHook(nil)
	summary, err = f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), summary.FromBlock)
	assert.Equal(t, 3, summary.Trades)
}

// losableLock is a lock whose ownership the test can revoke mid-run.
type losableLock struct {
	lose context.CancelCauseFunc
}

func (l *losableLock) TryAcquire(ctx context.Context) (context.Context, func(), bool, error) {
	held, cancel := context.WithCancelCause(ctx)
	l.lose = cancel
	return held, func() { cancel(context.Canceled) }, true, nil
}

// revokingSource loses the run lock right after the logs are fetched.
type revokingSource struct {
	*mockSource
	lock *losableLock
}

func (s *revokingSource) GetLogs(ctx context.Context, from, to uint64, topics []common.Hash) ([]types.Log, error) {
	logs, err := s.mockSource.GetLogs(ctx, from, to, topics)
	s.lock.lose(runlock.ErrLockLost)
	return logs, err
}

func TestPipeline_LostLockAbortsCommit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	manager := checkpoint.NewManager(store, 0)
	lock := &losableLock{}
	source := &revokingSource{mockSource: &mockSource{head: 20, logs: scenarioLogs()}, lock: lock}
	p := NewPipeline(Config{}, source, decoder.MustNew(), manager, store, WithLocker(lock))

	summary, err := p.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, runlock.ErrLockLost)
	assert.Equal(t, domain.RunStatusFailed, summary.Status)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TradeCount)
	assert.Nil(t, stats.Checkpoint)
}

func TestPipeline_RPCFailureDoesNotMutateState(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(*mockSource)
	}{
		{"head", func(m *mockSource) { m.headErr = rpc.ErrRetryable }},
		{"logs", func(m *mockSource) { m.logsErr = rpc.ErrRetryable }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{}, 3, scenarioLogs()...)
			tt.setup(f.source)

			summary, err := f.pipeline.Run(ctx)
			assert.ErrorIs(t, err, rpc.ErrRetryable)
			assert.Equal(t, domain.RunStatusFailed, summary.Status)
			assert.NotEmpty(t, summary.Error)

			cp, err := f.store.GetCheckpoint(ctx)
			require.NoError(t, err)
			assert.Nil(t, cp)
		})
	}
}

func TestPipeline_ConfirmationLag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ConfirmationLag: 5}, 0)

	summary, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), summary.ToBlock)

	f.source.setHead(18)
	summary, err = f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusIdle, summary.Status)

	f2 := newFixture(t, Config{ConfirmationLag: 5}, 0)
	f2.source.setHead(3)
	summary, err = f2.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusIdle, summary.Status)
	assert.Empty(t, f2.source.ranges)
}

func TestPipeline_MaxBlocksPerRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MaxBlocksPerRun: 8}, 0, scenarioLogs()...)

	summary, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), summary.FromBlock)
	assert.Equal(t, uint64(8), summary.ToBlock)
	assert.Equal(t, 1, summary.Markets)
	assert.Equal(t, 0, summary.Trades)

	summary, err = f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), summary.FromBlock)
	assert.Equal(t, uint64(16), summary.ToBlock)
	assert.Equal(t, 3, summary.Trades)
}

func TestPipeline_MalformedLogIsSkippedAndRecorded(t *testing.T) {
	ctx := context.Background()
	logs := scenarioLogs()
	logs[2].Data = logs[2].Data[:40]

	f := newFixture(t, Config{}, 0, logs...)
	summary, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Trades)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, uint64(20), summary.Checkpoint)

	skipped, err := f.store.SkippedLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, decodertest.TxHash(3).Hex(), skipped[0].TxHash)
	assert.Equal(t, decoder.EventSharesPurchased, skipped[0].Event)
	assert.Equal(t, uint64(10), skipped[0].BlockNumber)
	assert.Contains(t, skipped[0].Reason, "malformed")
}

func TestPipeline_DropsRemovedUnknownAndDuplicateLogs(t *testing.T) {
	ctx := context.Background()
	logs := scenarioLogs()

	removed := logs[1]
	removed.Removed = true
	logs[1] = removed

	unknown := types.Log{
		Topics:      []common.Hash{crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))},
		BlockNumber: 11,
		TxHash:      decodertest.TxHash(9),
	}
	logs = append(logs, unknown, logs[3])

	f := newFixture(t, Config{}, 0, logs...)
	summary, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Trades)
	assert.Equal(t, 1, summary.Unknown)
	assert.Equal(t, 6, summary.Logs)
}

func TestPipeline_RejectsOverlappingRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, 0, scenarioLogs()...)
	f.source.entered = make(chan struct{}, 1)
	f.source.unblock = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Run(ctx)
		done <- err
	}()

	<-f.source.entered
	assert.True(t, f.pipeline.Status().Running)

	summary, err := f.pipeline.Run(ctx)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Nil(t, summary)

	close(f.source.unblock)
	require.NoError(t, <-done)
	assert.False(t, f.pipeline.Status().Running)

	// The lock is free again.
	f.source.entered = nil
	_, err = f.pipeline.Run(ctx)
	assert.NoError(t, err)
}

func TestPipeline_RunTimeoutAbortsWithoutCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{RunTimeout: 20 * time.Millisecond}, 0, scenarioLogs()...)
	f.source.entered = make(chan struct{}, 1)
	f.source.unblock = make(chan struct{})

	summary, err := f.pipeline.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.RunStatusFailed, summary.Status)

	cp, err := f.store.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestPipeline_StatusAndCommitListener(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{}, 0, scenarioLogs()...)

	var got []*storage.CommitResult
	f.pipeline.OnCommit(func(_ *domain.RunSummary, res *storage.CommitResult) {
		got = append(got, res)
	})

	assert.Nil(t, f.pipeline.Status().LastRun)

	_, err := f.pipeline.Run(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Trades)

	// Idle runs update the last run and success time but do not notify.
	_, err = f.pipeline.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	st := f.pipeline.Status()
	require.NotNil(t, st.LastRun)
	assert.Equal(t, domain.RunStatusIdle, st.LastRun.Status)
	assert.NotNil(t, st.LastSuccessAt)
}
