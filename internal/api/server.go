// Package api serves the read-only query API and the manual ingestion
// trigger.
package api

import (
	"context"
	"fmt"
	logger "log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/vietddude/marketindexer/internal/core/domain"
	"github.com/vietddude/marketindexer/internal/indexing/health"
	"github.com/vietddude/marketindexer/internal/indexing/indexer"
	"github.com/vietddude/marketindexer/internal/infra/rpc"
	"github.com/vietddude/marketindexer/internal/infra/storage"
)

// StatusProvider exposes the pipeline's run state.
type StatusProvider interface {
	Status() indexer.Status
}

// HeadReader returns the chain head, best effort.
type HeadReader interface {
	Head(ctx context.Context) (uint64, bool)
}

// CheckpointReader returns the last indexed block, genesis when empty.
type CheckpointReader interface {
	Read(ctx context.Context) (uint64, error)
}

// ProviderReporter lists RPC provider health. Optional.
type ProviderReporter interface {
	ProviderHealth() []rpc.ProviderHealth
}

// Config holds HTTP server settings.
type Config struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// AllowedOrigins defaults to every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Deps are the components the API reads from.
type Deps struct {
	Reader      storage.Reader
	Checkpoints CheckpointReader
	Runner      indexer.Runner
	Status      StatusProvider
	Head        HeadReader
	Health      *health.Monitor
	Providers   ProviderReporter
	Cache       *Cache
}

// Server provides the HTTP endpoints.
type Server struct {
	deps    Deps
	timeout time.Duration
	server  *http.Server
	log     *logger.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if deps.Cache == nil {
		deps.Cache = NewCache(0, 0)
	}

	s := &Server{
		deps:    deps,
		timeout: cfg.RequestTimeout,
		log:     logger.Default().With("component", "api"),
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           corsMiddleware.Handler(s.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.instrument("/health", s.handleHealth))
	mux.HandleFunc("GET /stats", s.instrument("/stats", s.handleStats))
	mux.HandleFunc("GET /trades/{address}", s.instrument("/trades", s.handleTradesByBuyer))
	mux.HandleFunc("GET /markets/{address}", s.instrument("/markets", s.handleMarketsByCreator))
	mux.HandleFunc("GET /market/{marketId}", s.instrument("/market", s.handleMarket))
	mux.HandleFunc("GET /market-trades/{marketId}", s.instrument("/market-trades", s.handleMarketTrades))
	mux.HandleFunc("GET /global-activity", s.instrument("/global-activity", s.handleGlobalActivity))
	mux.HandleFunc("GET /index", s.instrument("/index", s.handleIndex))
	mux.HandleFunc("POST /index", s.instrument("/index", s.handleIndex))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/", s.instrument("notfound", s.handleNotFound))

	return mux
}

// Handler exposes the routed handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Invalidate drops every cached read. Called after each ingestion commit.
func (s *Server) Invalidate(*domain.RunSummary, *storage.CommitResult) {
	s.deps.Cache.Purge()
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	s.log.Info("API listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
