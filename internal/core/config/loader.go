package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/marketindexer/internal/indexing/throttle"
	"github.com/vietddude/marketindexer/internal/infra/rpc"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding ${ENV} references, applies defaults
// and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	cfg := AppConfig{Throttle: throttle.DefaultConfig()}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 15 * time.Second
	}

	if c.Chain.MaxBlockRange == 0 {
		c.Chain.MaxBlockRange = 2000
	}
	if c.Chain.RequestTimeout == 0 {
		c.Chain.RequestTimeout = 30 * time.Second
	}
	def := rpc.DefaultRetryConfig
	if c.Chain.Retry.MaxAttempts == 0 {
		c.Chain.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Chain.Retry.InitialDelay == 0 {
		c.Chain.Retry.InitialDelay = def.InitialDelay
	}
	if c.Chain.Retry.MaxDelay == 0 {
		c.Chain.Retry.MaxDelay = def.MaxDelay
	}
	if c.Chain.Retry.BackoffMultiple == 0 {
		c.Chain.Retry.BackoffMultiple = def.BackoffMultiple
	}
	for i := range c.Chain.Providers {
		if c.Chain.Providers[i].Name == "" {
			c.Chain.Providers[i].Name = fmt.Sprintf("provider-%d", i+1)
		}
	}

	if c.Indexer.ScanInterval == 0 {
		c.Indexer.ScanInterval = time.Minute
	}
	if c.Indexer.RunTimeout == 0 {
		c.Indexer.RunTimeout = 2 * time.Minute
	}
	if c.Indexer.Concurrency == 0 {
		c.Indexer.Concurrency = 4
	}

	if c.Redis.LockKey == "" {
		c.Redis.LockKey = "marketindexer:run-lock"
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 2 * c.Indexer.RunTimeout
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations the indexer cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Chain.ContractAddress == "" {
		errs = append(errs, errors.New("chain.contract_address is required"))
	} else if !common.IsHexAddress(c.Chain.ContractAddress) {
		errs = append(errs, fmt.Errorf("chain.contract_address %q is not a hex address", c.Chain.ContractAddress))
	}
	if len(c.Chain.Providers) == 0 {
		errs = append(errs, errors.New("chain.providers must list at least one provider"))
	}
	for i, p := range c.Chain.Providers {
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("chain.providers[%d].url is required", i))
		}
	}
	if c.Chain.MaxBlockRange == 0 {
		errs = append(errs, errors.New("chain.max_block_range must be positive"))
	}
	if c.Indexer.Concurrency < 0 {
		errs = append(errs, errors.New("indexer.concurrency must not be negative"))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, errors.New("cache.size must not be negative"))
	}

	return errors.Join(errs...)
}

// Contract returns the parsed contract address.
func (c *AppConfig) Contract() common.Address {
	return common.HexToAddress(c.Chain.ContractAddress)
}

// GenesisCheckpoint is the checkpoint assumed before the first commit: the
// block before deployment, so the deployment block is the first one scanned.
func (c *AppConfig) GenesisCheckpoint() uint64 {
	if c.Chain.DeploymentBlock == 0 {
		return 0
	}
	return c.Chain.DeploymentBlock - 1
}
