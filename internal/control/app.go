// Package control wires the indexer's components and owns their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vietddude/marketindexer/internal/api"
	"github.com/vietddude/marketindexer/internal/core/checkpoint"
	"github.com/vietddude/marketindexer/internal/core/config"
	"github.com/vietddude/marketindexer/internal/core/domain"
	"github.com/vietddude/marketindexer/internal/indexing/decoder"
	"github.com/vietddude/marketindexer/internal/indexing/health"
	"github.com/vietddude/marketindexer/internal/indexing/indexer"
	"github.com/vietddude/marketindexer/internal/indexing/runlock"
	"github.com/vietddude/marketindexer/internal/indexing/throttle"
	"github.com/vietddude/marketindexer/internal/infra/chain"
	"github.com/vietddude/marketindexer/internal/infra/chain/evm"
	redisclient "github.com/vietddude/marketindexer/internal/infra/redis"
	"github.com/vietddude/marketindexer/internal/infra/rpc"
	"github.com/vietddude/marketindexer/internal/infra/storage"
	"github.com/vietddude/marketindexer/internal/infra/storage/memory"
	"github.com/vietddude/marketindexer/internal/infra/storage/postgres"
)

// App is the indexer process: scheduler, pipeline and query API over one
// store.
type App struct {
	cfg         *config.AppConfig
	store       storage.Store
	db          *postgres.DB
	rpcClient   *rpc.Client
	redisClient *redisclient.Client
	checkpoints *checkpoint.Manager
	pipeline    *indexer.Pipeline
	scheduler   *indexer.Scheduler
	headCache   *throttle.HeadCache
	api         *api.Server
	log         *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option overrides a component, mostly for tests.
type Option func(*options)

type options struct {
	store  storage.Store
	source chain.LogSource
}

// WithStore uses store instead of opening one from the config.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithLogSource uses source instead of the JSON-RPC client.
func WithLogSource(source chain.LogSource) Option {
	return func(o *options) { o.source = source }
}

// NewApp creates the application with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, log: slog.Default()}

	// 1. Storage
	if o.store != nil {
		a.store = o.store
	} else {
		store, db, err := OpenStore(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.store, a.db = store, db
	}
	a.checkpoints = checkpoint.NewManager(a.store, cfg.GenesisCheckpoint())

	// 2. Chain
	source := o.source
	if source == nil {
		a.rpcClient = rpc.NewClient(rpc.Config{
			Providers: cfg.Chain.Providers,
			Timeout:   cfg.Chain.RequestTimeout,
			Retry:     cfg.Chain.Retry,
		})
		source = evm.NewAdapter(a.rpcClient, cfg.Contract(), evm.Config{
			MaxBlockRange: cfg.Chain.MaxBlockRange,
			Concurrency:   cfg.Indexer.Concurrency,
		})
	}

	// 3. Run lock
	locker := runlock.Locker(runlock.NewLocal())
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis.Config)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init redis run lock: %w", err)
		}
		a.redisClient = client
		locker = runlock.Chain(locker, runlock.NewRedis(client, cfg.Redis.LockKey, cfg.Redis.LockTTL))
		a.log.Info("Using Redis run lock", "key", cfg.Redis.LockKey)
	}

	// 4. Pipeline
	registry, err := decoder.New()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = indexer.NewPipeline(
		indexer.Config{
			ConfirmationLag: cfg.Chain.ConfirmationLag,
			MaxBlocksPerRun: cfg.Indexer.MaxBlocksPerRun,
			RunTimeout:      cfg.Indexer.RunTimeout,
		},
		source,
		registry,
		a.checkpoints,
		a.store,
		indexer.WithLocker(locker),
	)
	a.scheduler = indexer.NewScheduler(
		a.pipeline,
		cfg.Indexer.ScanInterval,
		throttle.NewAdaptiveController(cfg.Indexer.ScanInterval, cfg.Throttle),
	)

	// 5. Query API
	a.headCache = throttle.NewHeadCache(source, cfg.Throttle.HeadCacheTTL, cfg.Throttle.HeadTimeout)
	thresholds := health.DefaultThresholds()
	thresholds.StaleAfter = 10 * cfg.Indexer.ScanInterval
	monitor := health.NewMonitor(a.store, a.checkpoints, a.headCache, func() *time.Time {
		return a.pipeline.Status().LastSuccessAt
	}, thresholds)

	deps := api.Deps{
		Reader:      a.store,
		Checkpoints: a.checkpoints,
		Runner:      a.pipeline,
		Status:      a.pipeline,
		Head:        a.headCache,
		Health:      monitor,
		Cache:       api.NewCache(cfg.Cache.Size, cfg.Cache.TTL),
	}
	if a.rpcClient != nil {
		deps.Providers = a.rpcClient
	}
	a.api = api.NewServer(cfg.Server, deps)

	a.pipeline.OnCommit(a.api.Invalidate)
	a.pipeline.OnCommit(func(summary *domain.RunSummary, _ *storage.CommitResult) {
		a.headCache.Observe(summary.ChainHead)
	})

	return a, nil
}

// OpenStore opens PostgreSQL and applies migrations, or falls back to the
// in-memory store when no database URL is configured.
func OpenStore(ctx context.Context, cfg postgres.Config) (storage.Store, *postgres.DB, error) {
	if cfg.URL == "" {
		slog.Warn("No database configured, using in-memory storage")
		return memory.NewStore(), nil, nil
	}

	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	slog.Info("Using PostgreSQL storage")
	return postgres.NewStore(db), db, nil
}

// Start starts the query API and the scheduler. It does not block.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.api.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("API server failed", "error", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		if err := a.scheduler.Start(ctx); err != nil {
			a.log.Error("Scheduler failed", "error", err)
		}
	}()

	return nil
}

// RunOnce executes a single ingestion run.
func (a *App) RunOnce(ctx context.Context) (*domain.RunSummary, error) {
	return a.pipeline.Run(ctx)
}

// Handler exposes the API handler.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Stop stops the scheduler and the API, waits for an in-flight run to
// finish, then closes every connection.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping indexer...")

	if a.cancel != nil {
		a.cancel()
	}
	apiErr := a.api.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		apiErr = errors.Join(apiErr, fmt.Errorf("shutdown timed out: %w", ctx.Err()))
	}

	return errors.Join(apiErr, a.Close())
}

// Close releases connections without stopping goroutines.
func (a *App) Close() error {
	var errs []error
	if a.rpcClient != nil {
		errs = append(errs, a.rpcClient.Close())
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
