package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/marketindexer/internal/core/checkpoint"
	"github.com/vietddude/marketindexer/internal/core/domain"
	"github.com/vietddude/marketindexer/internal/indexing/decoder"
	"github.com/vietddude/marketindexer/internal/indexing/decoder/decodertest"
	"github.com/vietddude/marketindexer/internal/indexing/indexer"
	"github.com/vietddude/marketindexer/internal/infra/storage"
	"github.com/vietddude/marketindexer/internal/infra/storage/memory"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

type staticSource struct {
	head uint64
	logs []types.Log
}

func (s *staticSource) GetHeadBlock(ctx context.Context) (uint64, error) { return s.head, nil }

func (s *staticSource) GetLogs(ctx context.Context, from, to uint64, topics []common.Hash) ([]types.Log, error) {
	var out []types.Log
	for _, l := range s.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

type staticHead uint64

func (h staticHead) Head(ctx context.Context) (uint64, bool) { return uint64(h), h > 0 }

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

type testEnv struct {
	store    *memory.Store
	pipeline *indexer.Pipeline
	server   *Server
	handler  http.Handler
}

func newTestEnv(t *testing.T, cache *Cache) *testEnv {
	t.Helper()
	return newTestEnvWithLogs(t, cache, scenarioLogs())
}

func newTestEnvWithLogs(t *testing.T, cache *Cache, logs []types.Log) *testEnv {
	t.Helper()
	store := memory.NewStore()
	manager := checkpoint.NewManager(store, 0)
	source := &staticSource{head: 20, logs: logs}
	pipeline := indexer.NewPipeline(indexer.Config{}, source, decoder.MustNew(), manager, store)

	srv := NewServer(Config{}, Deps{
		Reader:      store,
		Checkpoints: manager,
		Runner:      pipeline,
		Status:      pipeline,
		Head:        staticHead(20),
		Cache:       cache,
	})
	pipeline.OnCommit(srv.Invalidate)

	return &testEnv{store: store, pipeline: pipeline, server: srv, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestServer_IndexThenQuery(t *testing.T) {
	env := newTestEnv(t, NewCache(100, time.Minute))

	rec := env.do(t, http.MethodPost, "/index")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[domain.RunSummary](t, rec)
	assert.Equal(t, domain.RunStatusCompleted, summary.Status)
	assert.Equal(t, uint64(20), summary.Checkpoint)

	t.Run("market trades oldest first", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/market-trades/1")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[marketTradesResponse](t, rec)

		assert.Equal(t, "1", resp.MarketID)
		require.NotNil(t, resp.Market)
		assert.Equal(t, 3, resp.Count)
		require.Len(t, resp.Trades, 3)
		var got []domain.Position
		for _, tr := range resp.Trades {
			got = append(got, tr.Position())
		}
		assert.Equal(t, []domain.Position{{BlockNumber: 10, LogIndex: 0}, {BlockNumber: 10, LogIndex: 1}, {BlockNumber: 12, LogIndex: 0}}, got)
		require.Len(t, resp.PriceHistory, 3)
		assert.Equal(t, "510000", resp.PriceHistory[0].Price)
		assert.Equal(t, "506000", resp.PriceHistory[2].Price)
	})

	t.Run("trades by buyer is case insensitive and newest first", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/trades/"+strings.ToUpper(bob.Hex()[2:]))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "missing 0x prefix")

		rec = env.do(t, http.MethodGet, "/trades/0x"+strings.ToUpper(bob.Hex()[2:]))
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[tradesResponse](t, rec)
		require.Equal(t, 2, resp.Count)
		assert.Equal(t, uint64(12), resp.Trades[0].BlockNumber)
		assert.Equal(t, uint64(10), resp.Trades[1].BlockNumber)
		assert.Equal(t, strings.ToLower(bob.Hex()), resp.Address)
	})

	t.Run("markets by creator", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/markets/"+alice.Hex())
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[marketsResponse](t, rec)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, domain.MetricLikes, resp.Markets[0].Metric)

		rec = env.do(t, http.MethodGet, "/markets/"+bob.Hex())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, string(mustField(t, rec, "markets")))
	})

	t.Run("global activity newest first", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/global-activity?limit=3")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[activityResponse](t, rec)
		require.Equal(t, 3, resp.Count)
		assert.Equal(t, uint64(12), resp.Activity[0].BlockNumber)
		assert.Equal(t, uint(1), resp.Activity[1].LogIndex)
		assert.Equal(t, domain.EventKindTrade, resp.Activity[2].Kind)
	})

	t.Run("market lookup", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/market/1")
		require.Equal(t, http.StatusOK, rec.Code)
		m := decode[domain.MarketCreated](t, rec)
		assert.Equal(t, "1790000000000000000", m.TweetID)

		rec = env.do(t, http.MethodGet, "/market/999")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("stats", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/stats")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[statsResponse](t, rec)
		assert.Equal(t, uint64(20), resp.LastIndexedBlock)
		assert.Equal(t, int64(3), resp.Trades)
		assert.Equal(t, int64(1), resp.Markets)
		require.NotNil(t, resp.ChainHead)
		assert.Equal(t, uint64(0), *resp.Lag)
		require.NotNil(t, resp.LastRun)
		assert.NotNil(t, resp.LastSuccessAt)
	})
}

func TestServer_MarketLifecycleViews(t *testing.T) {
	creator := common.HexToAddress("0xABC")
	env := newTestEnvWithLogs(t, nil, []types.Log{
		decodertest.MarketCreated(decodertest.Pos{Block: 4, Index: 1, Tx: decodertest.TxHash(30)},
			3, "1790000000000000000", 0, 1000000, "tech", creator),
		decodertest.SharesPurchased(decodertest.Pos{Block: 6, Index: 0, Tx: decodertest.TxHash(31)},
			3, alice, true, 10, 19, 520000),
		decodertest.SharesPurchased(decodertest.Pos{Block: 6, Index: 3, Tx: decodertest.TxHash(32)},
			3, bob, false, 5, 11, 515000),
	})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/index").Code)

	tests := []struct {
		name  string
		path  string
		check func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name: "creator markets",
			path: "/markets/0xabc",
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				resp := decode[marketsResponse](t, rec)
				require.Equal(t, 1, resp.Count)
				m := resp.Markets[0]
				assert.Equal(t, "3", m.MarketID)
				assert.Equal(t, domain.MetricViews, m.Metric)
				assert.Equal(t, "1000000", m.TargetValue)
				assert.Equal(t, "0x0000000000000000000000000000000000000abc", m.Creator)
			},
		},
		{
			name: "market trades in emission order",
			path: "/market-trades/3",
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				resp := decode[marketTradesResponse](t, rec)
				require.Equal(t, 2, resp.Count)
				assert.True(t, resp.Trades[0].IsYes)
				assert.Equal(t, "10", resp.Trades[0].USDCAmount)
				assert.False(t, resp.Trades[1].IsYes)
				assert.Equal(t, "5", resp.Trades[1].USDCAmount)
				require.NotNil(t, resp.Market)
				assert.Equal(t, "3", resp.Market.MarketID)
			},
		},
		{
			name: "global activity newest first",
			path: "/global-activity",
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				resp := decode[activityResponse](t, rec)
				require.Equal(t, 3, resp.Count)
				var got []domain.Position
				for _, a := range resp.Activity {
					got = append(got, a.Position())
				}
				assert.Equal(t, []domain.Position{
					{BlockNumber: 6, LogIndex: 3},
					{BlockNumber: 6, LogIndex: 0},
					{BlockNumber: 4, LogIndex: 1},
				}, got)
				assert.Equal(t, domain.EventKindMarketCreated, resp.Activity[2].Kind)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			tt.check(t, rec)
		})
	}
}

func TestServer_AddressViewsReturnEveryRow(t *testing.T) {
	const n = 60
	logs := []types.Log{
		decodertest.MarketCreated(decodertest.Pos{Block: 1, Tx: decodertest.TxHash(1000)},
			1, "1", 0, 1, "c", alice),
	}
	for i := 0; i < n; i++ {
		logs = append(logs, decodertest.SharesPurchased(
			decodertest.Pos{Block: 2 + uint64(i/4), Index: uint(i % 4), Tx: decodertest.TxHash(int64(i + 1))},
			1, bob, i%2 == 0, 1, 1, 500000))
		logs = append(logs, decodertest.MarketCreated(
			decodertest.Pos{Block: 2 + uint64(i/4), Index: uint(i%4) + 10, Tx: decodertest.TxHash(int64(i + 2000))},
			int64(i+2), "1", 0, 1, "c", alice))
	}
	env := newTestEnvWithLogs(t, nil, logs)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/index").Code)

	rec := env.do(t, http.MethodGet, "/trades/"+bob.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	trades := decode[tradesResponse](t, rec)
	assert.Equal(t, n, trades.Count)
	assert.Len(t, trades.Trades, n)

	rec = env.do(t, http.MethodGet, "/markets/"+alice.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, n+1, decode[marketsResponse](t, rec).Count)

	rec = env.do(t, http.MethodGet, "/trades/"+bob.Hex()+"?limit=7")
	require.Equal(t, http.StatusOK, rec.Code)
	limited := decode[tradesResponse](t, rec)
	require.Equal(t, 7, limited.Count)
	assert.Equal(t, trades.Trades[:7], limited.Trades)

	rec = env.do(t, http.MethodGet, "/markets/"+alice.Hex()+"?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func mustField(t *testing.T, rec *httptest.ResponseRecorder, name string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m[name]
}

func TestServer_ClientErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		path string
		code int
	}{
		{"/trades/0x1234", http.StatusBadRequest},
		{"/trades/0xZZ00000000000000000000000000000000000000", http.StatusBadRequest},
		{"/markets/not-an-address", http.StatusBadRequest},
		{"/market-trades/abc", http.StatusBadRequest},
		{"/market-trades/-1", http.StatusBadRequest},
		{"/market/1.5", http.StatusBadRequest},
		{"/global-activity?limit=0", http.StatusBadRequest},
		{"/global-activity?limit=x", http.StatusBadRequest},
		{"/nope", http.StatusNotFound},
		{"/", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, mustField(t, rec, "error"))
		})
	}
}

func TestServer_EmptyStore(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/market-trades/7")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[marketTradesResponse](t, rec)
	assert.Zero(t, resp.Count)
	assert.Nil(t, resp.Market)
	assert.NotNil(t, resp.Trades)

	rec = env.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"ok"`, string(mustField(t, rec, "status")))
	assert.NotEmpty(t, mustField(t, rec, "timestamp"))
}

func TestServer_CachePurgedOnCommit(t *testing.T) {
	cache := NewCache(100, time.Hour)
	env := newTestEnv(t, cache)

	rec := env.do(t, http.MethodGet, "/global-activity")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[activityResponse](t, rec).Count)
	assert.Equal(t, 1, cache.Len())

	rec = env.do(t, http.MethodGet, "/index")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/global-activity")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[activityResponse](t, rec).Count)
}

func TestCache_StaleAddAfterPurgeIsDropped(t *testing.T) {
	cache := NewCache(10, time.Hour)

	gen := cache.Generation()
	cache.Purge()
	assert.False(t, cache.Add("k", []byte("old"), gen))

	_, ok := cache.Get("k")
	assert.False(t, ok)
	assert.True(t, cache.Add("k", []byte("new"), cache.Generation()))
}

// blockingRunner holds the run until released.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	busy    chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context) (*domain.RunSummary, error) {
	select {
	case b.busy <- struct{}{}:
	default:
		return nil, indexer.ErrRunInProgress
	}
	defer func() { <-b.busy }()
	close(b.started)
	<-b.release
	return &domain.RunSummary{Status: domain.RunStatusIdle}, nil
}

func TestServer_IndexRejectsConcurrentTrigger(t *testing.T) {
	runner := &blockingRunner{
		started: make(chan struct{}),
		release: make(chan struct{}),
		busy:    make(chan struct{}, 1),
	}
	store := memory.NewStore()
	srv := NewServer(Config{}, Deps{
		Reader:      store,
		Checkpoints: checkpoint.NewManager(store, 0),
		Runner:      runner,
	})
	handler := srv.Handler()

	done := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/index", nil))
		done <- rec.Code
	}()
	<-runner.started

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(runner.release)
	assert.Equal(t, http.StatusOK, <-done)
}

type failingRunner struct{}

func (failingRunner) Run(ctx context.Context) (*domain.RunSummary, error) {
	err := errors.New("eth_getLogs failed")
	return &domain.RunSummary{Status: domain.RunStatusFailed, Error: err.Error()}, err
}

func TestServer_IndexFailureReturnsRun(t *testing.T) {
	store := memory.NewStore()
	srv := NewServer(Config{}, Deps{
		Reader:      store,
		Checkpoints: checkpoint.NewManager(store, 0),
		Runner:      failingRunner{},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/index", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	resp := decode[indexFailure](t, rec)
	assert.Contains(t, resp.Error, "eth_getLogs")
	require.NotNil(t, resp.Run)
	assert.Equal(t, domain.RunStatusFailed, resp.Run.Status)
}

type brokenReader struct {
	storage.Reader
}

func (brokenReader) TradesByBuyer(ctx context.Context, buyer string, limit int) ([]*domain.Trade, error) {
	return nil, errors.New("connection refused")
}

func TestServer_StoreFailureIs500(t *testing.T) {
	srv := NewServer(Config{}, Deps{Reader: brokenReader{}, Cache: NewCache(10, time.Minute)})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trades/"+alice.Hex(), nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestServer_CORS(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
