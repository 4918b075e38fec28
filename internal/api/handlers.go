package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vietddude/marketindexer/internal/core/domain"
	"github.com/vietddude/marketindexer/internal/indexing/indexer"
	"github.com/vietddude/marketindexer/internal/infra/rpc"
	"github.com/vietddude/marketindexer/internal/infra/storage"
)

type tradesResponse struct {
	Address string          `json:"address"`
	Trades  []*domain.Trade `json:"trades"`
	Count   int             `json:"count"`
}

type marketsResponse struct {
	Address string                  `json:"address"`
	Markets []*domain.MarketCreated `json:"markets"`
	Count   int                     `json:"count"`
}

// pricePoint is one step of a market's price series.
type pricePoint struct {
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint   `json:"logIndex"`
	TxHash      string `json:"txHash"`
	IsYes       bool   `json:"isYes"`
	Price       string `json:"price"`
}

type marketTradesResponse struct {
	MarketID     string                `json:"marketId"`
	Market       *domain.MarketCreated `json:"market,omitempty"`
	Trades       []*domain.Trade       `json:"trades"`
	PriceHistory []pricePoint          `json:"priceHistory"`
	Count        int                   `json:"count"`
}

type activityResponse struct {
	Activity []*domain.Activity `json:"activity"`
	Count    int                `json:"count"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type statsResponse struct {
	LastIndexedBlock    uint64               `json:"lastIndexedBlock"`
	CheckpointUpdatedAt *time.Time           `json:"checkpointUpdatedAt,omitempty"`
	ChainHead           *uint64              `json:"chainHead,omitempty"`
	Lag                 *uint64              `json:"lag,omitempty"`
	LastSuccessAt       *time.Time           `json:"lastSuccessAt,omitempty"`
	Running             bool                 `json:"running"`
	LastRun             *domain.RunSummary   `json:"lastRun,omitempty"`
	Trades              int64                `json:"trades"`
	Markets             int64                `json:"markets"`
	SkippedLogs         int64                `json:"skippedLogs"`
	LatestTradeAt       *time.Time           `json:"latestTradeAt,omitempty"`
	Health              string               `json:"health,omitempty"`
	Providers           []rpc.ProviderHealth `json:"providers,omitempty"`
}

type indexFailure struct {
	Error string             `json:"error"`
	Run   *domain.RunSummary `json:"run,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		status = string(s.deps.Health.CheckHealth(ctx).Status)
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, Timestamp: time.Now().UTC()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	stats, err := s.deps.Reader.Stats(ctx)
	if err != nil {
		s.serverError(w, "stats", err)
		return
	}
	current, err := s.deps.Checkpoints.Read(ctx)
	if err != nil {
		s.serverError(w, "stats", err)
		return
	}

	resp := statsResponse{
		LastIndexedBlock: current,
		Trades:           stats.TradeCount,
		Markets:          stats.MarketCount,
		SkippedLogs:      stats.SkippedCount,
		LatestTradeAt:    stats.LatestTradeAt,
	}
	if stats.Checkpoint != nil {
		at := stats.Checkpoint.UpdatedAt
		resp.CheckpointUpdatedAt = &at
	}
	if s.deps.Status != nil {
		st := s.deps.Status.Status()
		resp.Running = st.Running
		resp.LastRun = st.LastRun
		resp.LastSuccessAt = st.LastSuccessAt
	}
	if s.deps.Head != nil {
		if head, ok := s.deps.Head.Head(ctx); ok {
			resp.ChainHead = &head
			var lag uint64
			if head > current {
				lag = head - current
			}
			resp.Lag = &lag
		}
	}
	if s.deps.Health != nil {
		resp.Health = string(s.deps.Health.CheckHealth(ctx).Status)
	}
	if s.deps.Providers != nil {
		resp.Providers = s.deps.Providers.ProviderHealth()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTradesByBuyer(w http.ResponseWriter, r *http.Request) {
	address, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.serveCached(w, r, "trades", func(ctx context.Context) (any, error) {
		trades, err := s.deps.Reader.TradesByBuyer(ctx, address, limit)
		if err != nil {
			return nil, err
		}
		return tradesResponse{Address: address, Trades: nonNil(trades), Count: len(trades)}, nil
	})
}

func (s *Server) handleMarketsByCreator(w http.ResponseWriter, r *http.Request) {
	address, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.serveCached(w, r, "markets", func(ctx context.Context) (any, error) {
		markets, err := s.deps.Reader.MarketsByCreator(ctx, address, limit)
		if err != nil {
			return nil, err
		}
		return marketsResponse{Address: address, Markets: nonNil(markets), Count: len(markets)}, nil
	})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketID(r.PathValue("marketId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.serveCached(w, r, "market", func(ctx context.Context) (any, error) {
		return s.deps.Reader.Market(ctx, marketID)
	})
}

func (s *Server) handleMarketTrades(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketID(r.PathValue("marketId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.serveCached(w, r, "market-trades", func(ctx context.Context) (any, error) {
		trades, err := s.deps.Reader.TradesByMarket(ctx, marketID)
		if err != nil {
			return nil, err
		}
		market, err := s.deps.Reader.Market(ctx, marketID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		history := make([]pricePoint, 0, len(trades))
		for _, t := range trades {
			history = append(history, pricePoint{
				BlockNumber: t.BlockNumber,
				LogIndex:    t.LogIndex,
				TxHash:      t.TxHash,
				IsYes:       t.IsYes,
				Price:       t.NewPrice,
			})
		}
		return marketTradesResponse{
			MarketID:     marketID,
			Market:       market,
			Trades:       nonNil(trades),
			PriceHistory: history,
			Count:        len(trades),
		}, nil
	})
}

func (s *Server) handleGlobalActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultActivityLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.serveCached(w, r, "global-activity", func(ctx context.Context) (any, error) {
		activity, err := s.deps.Reader.RecentActivity(ctx, limit)
		if err != nil {
			return nil, err
		}
		return activityResponse{Activity: nonNil(activity), Count: len(activity)}, nil
	})
}

// handleIndex runs the pipeline synchronously. The run is detached from the
// request so a client disconnect does not abort an in-flight commit.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Runner.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, indexer.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, indexFailure{Error: err.Error(), Run: summary})
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "route not found: "+r.URL.Path)
}

// serveCached answers from the response cache or runs load and caches the
// encoded result. Keys include the query string, so limits do not collide.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, route string, load func(ctx context.Context) (any, error)) {
	key := r.URL.Path + "?" + r.URL.RawQuery
	if body, ok := s.deps.Cache.Get(key); ok {
		writeRaw(w, http.StatusOK, body)
		return
	}

	gen := s.deps.Cache.Generation()
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	v, err := load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.serverError(w, route, err)
		return
	}

	body, err := json.Marshal(v)
	if err != nil {
		s.serverError(w, route, err)
		return
	}
	s.deps.Cache.Add(key, body, gen)
	writeRaw(w, http.StatusOK, body)
}

func (s *Server) serverError(w http.ResponseWriter, route string, err error) {
	s.log.Error("Query failed", "route", route, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// nonNil keeps empty results encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
