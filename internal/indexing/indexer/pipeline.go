package indexer

import (
	"context"
	"fmt"
	logger "log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/vietddude/marketindexer/internal/core/checkpoint"
	"github.com/vietddude/marketindexer/internal/core/domain"
	"github.com/vietddude/marketindexer/internal/indexing/metrics"
	"github.com/vietddude/marketindexer/internal/indexing/runlock"
	"github.com/vietddude/marketindexer/internal/infra/chain"
	"github.com/vietddude/marketindexer/internal/infra/storage"
)

// Pipeline scans a bounded block range per run, decodes the contract's logs
// and commits rows and checkpoint together.
type Pipeline struct {
	cfg         Config
	source      chain.LogSource
	decoder     Decoder
	checkpoints *checkpoint.Manager
	writer      storage.Writer
	lock        runlock.Locker
	log         *logger.Logger
	now         func() time.Time

	running atomic.Bool

	mu          sync.RWMutex
	lastRun     *domain.RunSummary
	lastSuccess time.Time
	listeners   []CommitListener
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLocker replaces the default in-process run lock.
func WithLocker(l runlock.Locker) Option {
	return func(p *Pipeline) { p.lock = l }
}

// WithClock overrides time.Now for row and summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline.
func NewPipeline(
	cfg Config,
	source chain.LogSource,
	decoder Decoder,
	checkpoints *checkpoint.Manager,
	writer storage.Writer,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		source:      source,
		decoder:     decoder,
		checkpoints: checkpoints,
		writer:      writer,
		lock:        runlock.NewLocal(),
		log:         logger.Default().With("component", "pipeline"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnCommit registers a listener for successful commits.
func (p *Pipeline) OnCommit(fn CommitListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Status returns the current run state and the last run summary.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := Status{Running: p.running.Load()}
	if p.lastRun != nil {
		run := *p.lastRun
		st.LastRun = &run
	}
	if !p.lastSuccess.IsZero() {
		t := p.lastSuccess
		st.LastSuccessAt = &t
	}
	return st
}

// Run executes one ingestion run. It returns ErrRunInProgress without
// touching any state if another run holds the lock. On error the returned
// summary is still populated with status failed.
func (p *Pipeline) Run(ctx context.Context) (*domain.RunSummary, error) {
	held, release, ok, err := p.lock.TryAcquire(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		metrics.RunsTotal.WithLabelValues("busy").Inc()
		return nil, ErrRunInProgress
	}
	defer release()

	p.running.Store(true)
	defer p.running.Store(false)

	summary := &domain.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: p.now(),
	}
	log := p.log.With("runID", summary.RunID)

	err = p.run(held, summary, log)
	p.finish(summary, err, log)
	return summary, err
}

func (p *Pipeline) run(ctx context.Context, summary *domain.RunSummary, log *logger.Logger) error {
	rpcCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.cfg.RunTimeout > 0 {
		rpcCtx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
	}
	defer cancel()

	current, err := p.checkpoints.Read(ctx)
	if err != nil {
		return err
	}
	summary.Checkpoint = current

	head, err := p.source.GetHeadBlock(rpcCtx)
	if err != nil {
		return fmt.Errorf("failed to get head block: %w", err)
	}
	summary.ChainHead = head

	from, to, ok := p.nextRange(current, head)
	if !ok {
		summary.Status = domain.RunStatusIdle
		log.Debug("Nothing to index", "checkpoint", current, "head", head, "lag", p.cfg.ConfirmationLag)
		return nil
	}
	summary.FromBlock, summary.ToBlock = from, to

	logs, err := p.source.GetLogs(rpcCtx, from, to, p.decoder.Topics())
	if err != nil {
		return fmt.Errorf("failed to get logs [%d, %d]: %w", from, to, err)
	}
	summary.Logs = len(logs)

	if err := checkpoint.CheckAdvance(current, to); err != nil {
		return err
	}

	batch := p.buildBatch(logs, summary, log)
	batch.Checkpoint = to

	// Losing the run lock cancels ctx; another instance may own the range now.
	if ctx.Err() != nil {
		return fmt.Errorf("aborting commit [%d, %d]: %w", from, to, context.Cause(ctx))
	}

	// The commit uses the parent context: once logs are in hand, the RPC
	// budget no longer applies.
	result, err := p.writer.Commit(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to commit [%d, %d]: %w", from, to, err)
	}

	summary.Status = domain.RunStatusCompleted
	summary.Checkpoint = to
	summary.Backlog = head - p.cfg.ConfirmationLag - to

	metrics.RowsCommitted.WithLabelValues(string(domain.EventKindTrade)).Add(float64(result.Trades))
	metrics.RowsCommitted.WithLabelValues(string(domain.EventKindMarketCreated)).Add(float64(result.Markets))
	metrics.RowsCommitted.WithLabelValues("skipped").Add(float64(result.Skipped))
	metrics.Checkpoint.Set(float64(to))

	p.notify(summary, result)
	return nil
}

// nextRange returns [checkpoint+1, min(head-lag, head)] capped to
// MaxBlocksPerRun. ok is false when the checkpoint is already at the
// confirmed head.
func (p *Pipeline) nextRange(current, head uint64) (from, to uint64, ok bool) {
	if head < p.cfg.ConfirmationLag {
		return 0, 0, false
	}
	target := head - p.cfg.ConfirmationLag
	if current >= target {
		return 0, 0, false
	}

	from = current + 1
	to = target
	if limit := p.cfg.MaxBlocksPerRun; limit > 0 && to-current > limit {
		to = current + limit
	}
	return from, to, true
}

// buildBatch decodes logs into rows. Unknown topics are counted and dropped;
// malformed logs on known topics become skipped rows so the checkpoint can
// still advance past them.
func (p *Pipeline) buildBatch(logs []types.Log, summary *domain.RunSummary, log *logger.Logger) *storage.Batch {
	indexedAt := p.now().UTC()
	batch := &storage.Batch{IndexedAt: indexedAt}
	seen := make(map[domain.Position]struct{}, len(logs))

	for i := range logs {
		raw := &logs[i]
		if raw.Removed {
			continue
		}

		// Overlapping sub-ranges can return the same log twice.
		pos := domain.Position{BlockNumber: raw.BlockNumber, LogIndex: raw.Index}
		if _, dup := seen[pos]; dup {
			continue
		}
		seen[pos] = struct{}{}
		txHash := raw.TxHash.Hex()

		event, known, err := p.decoder.Decode(raw)
		if !known {
			summary.Unknown++
			continue
		}
		if err != nil {
			name, _ := p.decoder.EventName(raw.Topics[0])
			log.Warn("Skipping malformed log",
				"topic", raw.Topics[0].Hex(),
				"event", name,
				"txHash", txHash,
				"blockNumber", raw.BlockNumber,
				"logIndex", raw.Index,
				"error", err,
			)
			metrics.LogsSkipped.WithLabelValues(name).Inc()
			batch.Skipped = append(batch.Skipped, &domain.SkippedLog{
				TxHash:      txHash,
				LogIndex:    raw.Index,
				BlockNumber: raw.BlockNumber,
				Topic:       raw.Topics[0].Hex(),
				Event:       name,
				Reason:      err.Error(),
				SkippedAt:   indexedAt,
			})
			continue
		}

		switch event.Kind {
		case domain.EventKindTrade:
			event.Trade.IndexedAt = indexedAt
			batch.Trades = append(batch.Trades, event.Trade)
		case domain.EventKindMarketCreated:
			event.Market.IndexedAt = indexedAt
			batch.Markets = append(batch.Markets, event.Market)
		}
	}

	sort.SliceStable(batch.Trades, func(i, j int) bool {
		return batch.Trades[i].Position().Less(batch.Trades[j].Position())
	})
	sort.SliceStable(batch.Markets, func(i, j int) bool {
		return batch.Markets[i].Position().Less(batch.Markets[j].Position())
	})

	summary.Trades = len(batch.Trades)
	summary.Markets = len(batch.Markets)
	summary.Skipped = len(batch.Skipped)
	return batch
}

func (p *Pipeline) finish(summary *domain.RunSummary, err error, log *logger.Logger) {
	summary.FinishedAt = p.now()
	duration := summary.FinishedAt.Sub(summary.StartedAt)
	summary.DurationMs = duration.Milliseconds()
	if err != nil {
		summary.Status = domain.RunStatusFailed
		summary.Error = err.Error()
	}

	metrics.RunsTotal.WithLabelValues(string(summary.Status)).Inc()
	metrics.RunDuration.Observe(duration.Seconds())

	p.mu.Lock()
	p.lastRun = summary
	if summary.Succeeded() {
		p.lastSuccess = summary.FinishedAt
	}
	p.mu.Unlock()

	switch summary.Status {
	case domain.RunStatusCompleted:
		log.Info("Run completed",
			"from", summary.FromBlock,
			"to", summary.ToBlock,
			"head", summary.ChainHead,
			"logs", summary.Logs,
			"trades", summary.Trades,
			"markets", summary.Markets,
			"skipped", summary.Skipped,
			"duration", duration,
		)
	case domain.RunStatusFailed:
		log.Error("Run failed",
			"checkpoint", summary.Checkpoint,
			"from", summary.FromBlock,
			"to", summary.ToBlock,
			"error", err,
		)
	}
}

func (p *Pipeline) notify(summary *domain.RunSummary, result *storage.CommitResult) {
	p.mu.RLock()
	listeners := append([]CommitListener(nil), p.listeners...)
	p.mu.RUnlock()

	for _, fn := range listeners {
		fn(summary, result)
	}
}

var _ Runner = (*Pipeline)(nil)
