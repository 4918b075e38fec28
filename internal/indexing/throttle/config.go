package throttle

import "time"

// Config holds the catch-up pacing and head caching settings.
type Config struct {
	// Enabled turns on catch-up pacing. When off the scheduler always waits
	// the base interval.
	Enabled bool `yaml:"enabled"`

	// MinInterval is the fastest the scheduler re-runs while behind.
	MinInterval time.Duration `yaml:"min_interval"`

	// HeadCacheTTL is how long the API reuses a chain head reading.
	HeadCacheTTL time.Duration `yaml:"head_cache_ttl"`
	// HeadTimeout bounds a head refresh from the API path.
	HeadTimeout time.Duration `yaml:"head_timeout"`

	// Backlog thresholds, in blocks still to index after a run.
	BacklogNormalThreshold uint64 `yaml:"backlog_normal_threshold"`
	BacklogBurstThreshold  uint64 `yaml:"backlog_burst_threshold"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		MinInterval:            2 * time.Second,
		HeadCacheTTL:           5 * time.Second,
		HeadTimeout:            2 * time.Second,
		BacklogNormalThreshold: 100,
		BacklogBurstThreshold:  10000,
	}
}
