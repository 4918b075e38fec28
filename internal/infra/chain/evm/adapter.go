package evm

import (
	"context"
	"encoding/json"
	"fmt"
	logger "log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/marketindexer/internal/indexing/metrics"
	"github.com/vietddude/marketindexer/internal/infra/chain"
	"github.com/vietddude/marketindexer/internal/infra/rpc"
)

// Caller issues a single JSON-RPC call. *rpc.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
}

// Config tunes how log ranges are fetched.
type Config struct {
	// MaxBlockRange is the widest [from, to] span sent in one eth_getLogs.
	MaxBlockRange uint64
	// Concurrency bounds in-flight eth_getLogs requests for one GetLogs call.
	Concurrency int
}

// Adapter implements chain.LogSource over eth_blockNumber and eth_getLogs.
type Adapter struct {
	client   Caller
	contract common.Address
	cfg      Config
	log      *logger.Logger
}

func NewAdapter(client Caller, contract common.Address, cfg Config) *Adapter {
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 2000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Adapter{
		client:   client,
		contract: contract,
		cfg:      cfg,
		log:      logger.Default().With("component", "chain"),
	}
}

func (a *Adapter) GetHeadBlock(ctx context.Context) (uint64, error) {
	result, err := a.client.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}

	var head hexutil.Uint64
	if err := json.Unmarshal(result, &head); err != nil {
		return 0, fmt.Errorf("%w: invalid block number response %s: %v", rpc.ErrFatal, result, err)
	}

	metrics.ChainHead.Set(float64(head))
	return uint64(head), nil
}

type blockRange struct {
	from, to uint64
}

// splitRange cuts [from, to] into consecutive spans of at most size blocks.
func splitRange(from, to, size uint64) []blockRange {
	var out []blockRange
	for start := from; start <= to; {
		end := to
		if to-start >= size {
			end = start + size - 1
		}
		out = append(out, blockRange{from: start, to: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return out
}

func (a *Adapter) GetLogs(ctx context.Context, fromBlock, toBlock uint64, topics []common.Hash) ([]types.Log, error) {
	if fromBlock > toBlock {
		return nil, fmt.Errorf("invalid range: from %d > to %d", fromBlock, toBlock)
	}
	if len(topics) == 0 {
		return nil, nil
	}

	ranges := splitRange(fromBlock, toBlock, a.cfg.MaxBlockRange)
	results := make([][]types.Log, len(ranges))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for i, r := range ranges {
		g.Go(func() error {
			logs, err := a.getLogs(ctx, r, topics)
			if err != nil {
				return err
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, logs := range results {
		total += len(logs)
	}
	out := make([]types.Log, 0, total)
	for _, logs := range results {
		out = append(out, logs...)
	}

	// Providers return ascending order already; keep the contract explicit.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})

	if len(ranges) > 1 {
		a.log.Debug("Fetched logs in chunks",
			"from", fromBlock,
			"to", toBlock,
			"chunks", len(ranges),
			"logs", len(out),
		)
	}
	return out, nil
}

func (a *Adapter) getLogs(ctx context.Context, r blockRange, topics []common.Hash) ([]types.Log, error) {
	filter := map[string]any{
		"fromBlock": hexutil.EncodeUint64(r.from),
		"toBlock":   hexutil.EncodeUint64(r.to),
		"address":   a.contract,
		"topics":    [][]common.Hash{topics},
	}

	result, err := a.client.Call(ctx, "eth_getLogs", []any{filter})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs [%d, %d] failed: %w", r.from, r.to, err)
	}

	var logs []types.Log
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("%w: invalid eth_getLogs response for [%d, %d]: %v", rpc.ErrFatal, r.from, r.to, err)
	}

	for i := range logs {
		if logs[i].BlockNumber < r.from || logs[i].BlockNumber > r.to {
			return nil, fmt.Errorf("%w: log at block %d outside requested range [%d, %d]",
				rpc.ErrFatal, logs[i].BlockNumber, r.from, r.to)
		}
	}
	return logs, nil
}

var _ chain.LogSource = (*Adapter)(nil)
