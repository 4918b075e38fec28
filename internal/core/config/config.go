package config

import (
	"time"

	"github.com/vietddude/marketindexer/internal/api"
	"github.com/vietddude/marketindexer/internal/indexing/throttle"
	redisclient "github.com/vietddude/marketindexer/internal/infra/redis"
	"github.com/vietddude/marketindexer/internal/infra/rpc"
	"github.com/vietddude/marketindexer/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   api.Config      `yaml:"server"`
	Chain    ChainConfig     `yaml:"chain"`
	Indexer  IndexerConfig   `yaml:"indexer"`
	Database postgres.Config `yaml:"database"`
	Redis    RedisConfig     `yaml:"redis"`
	Cache    CacheConfig     `yaml:"cache"`
	Throttle throttle.Config `yaml:"throttle"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ChainConfig describes the contract and how to reach the chain.
type ChainConfig struct {
	Providers       []rpc.ProviderConfig `yaml:"providers"`
	ContractAddress string               `yaml:"contract_address"`
	// DeploymentBlock is the block the contract was deployed in. The first
	// run scans from it.
	DeploymentBlock uint64          `yaml:"deployment_block"`
	ConfirmationLag uint64          `yaml:"confirmation_lag"`
	MaxBlockRange   uint64          `yaml:"max_block_range"`
	RequestTimeout  time.Duration   `yaml:"request_timeout"`
	Retry           rpc.RetryConfig `yaml:"retry"`
}

// IndexerConfig holds pipeline scheduling settings.
type IndexerConfig struct {
	ScanInterval    time.Duration `yaml:"scan_interval"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
	MaxBlocksPerRun uint64        `yaml:"max_blocks_per_run"`
	// Concurrency bounds parallel eth_getLogs sub-range requests.
	Concurrency int `yaml:"concurrency"`
}

// RedisConfig enables the cross-process run lock. Empty URL means the lock
// is in-process only.
type RedisConfig struct {
	redisclient.Config `yaml:",inline"`
	LockKey            string        `yaml:"lock_key"`
	LockTTL            time.Duration `yaml:"lock_ttl"`
}

// CacheConfig sizes the query API response cache. Size 0 disables it.
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
