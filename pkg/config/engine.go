package config

import "github.com/s3db-tools/cdc-replicator/pkg/engine"

// EngineConfig projects the scheduling-relevant subset of Config onto
// engine.Config, so cmd/cdcd doesn't repeat the field mapping at every
// call site.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		ReplicatorConcurrency: c.ReplicatorConcurrency,
		StopConcurrency:       c.StopConcurrency,
		BatchSize:             c.BatchSize,
		BatchTimeoutMs:        c.BatchTimeoutMs,
		MaxRetries:            c.MaxRetries,
		RetryBackoffMs:        c.RetryBackoffMs,
		TimeoutMs:             c.TimeoutMs,
		LaneCount:             engine.DefaultConfig().LaneCount,
	}
}
