package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogSource is the boundary between the ingestion pipeline and the chain.
// Implementations own retry and range splitting; callers see one call per
// logical query.
type LogSource interface {
	// GetHeadBlock returns the latest block number on the chain.
	GetHeadBlock(ctx context.Context) (uint64, error)

	// GetLogs returns the contract's logs in [fromBlock, toBlock] whose
	// topic0 is any of topics, ascending by (blockNumber, logIndex).
	GetLogs(ctx context.Context, fromBlock, toBlock uint64, topics []common.Hash) ([]types.Log, error)
}
