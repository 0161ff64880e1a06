package config

import "fmt"

// Validate applies the structural checks §6.2 implies beyond what
// mapstructure decoding already guarantees: a non-empty replicator
// list, unique ids, a non-empty driver per replicator, and
// positive tunables (maxRetries may also be 0). Hand-written rather than struct-tag-driven,
// matching the teacher's own ValidateConfig/ValidateServerConfig
// style (pkg/config/validation.go) of explicit field-by-field checks
// returning a plain error.
func Validate(cfg *Config) error {
	if !cfg.Enabled {
		return nil
	}

	if len(cfg.Replicators) == 0 {
		return fmt.Errorf("config: \"replicators\" must contain at least one entry")
	}

	seen := make(map[string]bool, len(cfg.Replicators))
	for i, r := range cfg.Replicators {
		if r.ID == "" {
			return fmt.Errorf("config: replicators[%d] missing required \"id\"", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("config: duplicate replicator id %q", r.ID)
		}
		seen[r.ID] = true

		if r.Driver == "" {
			return fmt.Errorf("config: replicators[%s] missing required \"driver\"", r.ID)
		}
		if r.Resources == nil {
			return fmt.Errorf("config: replicators[%s] missing required \"resources\"", r.ID)
		}
	}

	if cfg.ReplicatorConcurrency <= 0 {
		return fmt.Errorf("config: \"replicatorConcurrency\" must be positive, got %d", cfg.ReplicatorConcurrency)
	}
	if cfg.StopConcurrency <= 0 {
		return fmt.Errorf("config: \"stopConcurrency\" must be positive, got %d", cfg.StopConcurrency)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("config: \"batchSize\" must be positive, got %d", cfg.BatchSize)
	}
	if cfg.BatchTimeoutMs <= 0 {
		return fmt.Errorf("config: \"batchTimeoutMs\" must be positive, got %d", cfg.BatchTimeoutMs)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("config: \"maxRetries\" must be non-negative, got %d", cfg.MaxRetries)
	}
	if cfg.RetryBackoffMs <= 0 {
		return fmt.Errorf("config: \"retryBackoffMs\" must be positive, got %d", cfg.RetryBackoffMs)
	}
	if cfg.TimeoutMs <= 0 {
		return fmt.Errorf("config: \"timeout\" must be positive, got %d", cfg.TimeoutMs)
	}

	switch cfg.LogLevel {
	case "", "silent", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unrecognised \"logLevel\" %q", cfg.LogLevel)
	}

	return nil
}
