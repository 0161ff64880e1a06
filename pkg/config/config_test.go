package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "replicator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewLoaderAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
replicators:
  - id: r1
    driver: webhook
    config:
      url: https://example.com/hook
    resources:
      - users
`)
	l, err := NewLoader(path)
	require.NoError(t, err)

	cfg := l.Config()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 5, cfg.ReplicatorConcurrency)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "plg_replicator_logs", cfg.ReplicatorLogResource)
	require.Len(t, cfg.Replicators, 1)
	assert.Equal(t, "r1", cfg.Replicators[0].ID)
	assert.Equal(t, "webhook", cfg.Replicators[0].Driver)
}

func TestNewLoaderRejectsMissingReplicators(t *testing.T) {
	path := writeConfigFile(t, `enabled: true`)
	_, err := NewLoader(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replicators")
}

func TestNewLoaderRejectsDuplicateReplicatorIDs(t *testing.T) {
	path := writeConfigFile(t, `
replicators:
  - id: r1
    driver: webhook
    resources: [users]
  - id: r1
    driver: webhook
    resources: [orders]
`)
	_, err := NewLoader(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate replicator id")
}

func TestNewLoaderRejectsUnknownLogLevel(t *testing.T) {
	path := writeConfigFile(t, `
logLevel: extremely-verbose
replicators:
  - id: r1
    driver: webhook
    resources: [users]
`)
	_, err := NewLoader(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logLevel")
}

func TestEngineConfigProjectsSchedulingFields(t *testing.T) {
	path := writeConfigFile(t, `
replicatorConcurrency: 8
batchSize: 50
replicators:
  - id: r1
    driver: webhook
    resources: [users]
`)
	l, err := NewLoader(path)
	require.NoError(t, err)

	ec := l.Config().EngineConfig()
	assert.Equal(t, 8, ec.ReplicatorConcurrency)
	assert.Equal(t, 50, ec.BatchSize)
}
