// Package engine implements C6: the replication engine. It subscribes
// to the source store's mutation event channel, fans events out
// across replicators with bounded concurrency, preserves per-key
// ordering via sharded worker lanes, batches adjacent ops when a
// driver supports it, retries retriable failures with exponential
// backoff, and reports every terminal outcome on the event bus and
// (optionally) the log collection. Structurally grounded on the
// teacher's Service (pkg/replicator/service.go: buffered event
// channel, shutdown channel, WaitGroup-tracked workers) and
// ShutdownHandler (pkg/replicator/shutdown.go: priority-ordered,
// per-hook-timeout graceful stop).
package engine

import (
	"time"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

// Status is the per-attempt state machine position (§4.6).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusInFlight  Status = "in-flight"
	StatusSuccess   Status = "success"
	StatusRetriable Status = "retriable"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// SkipReason explains a StatusSkipped outcome (SPEC_FULL.md §F).
type SkipReason string

const (
	SkipFiltered    SkipReason = "filtered"
	SkipTransformed SkipReason = "transformed"
)

// Outcome is the terminal record of one piece of replication work,
// handed to the event bus and the logger.
type Outcome struct {
	Replicator string
	Resource   string
	Destination string
	RecordID   string
	Operation  driver.Operation
	Status     Status
	SkipReason SkipReason
	Attempts   int
	DurationMs int64
	LastError  error
	FirstSeenAt time.Time
	LastAttemptAt time.Time
}

// Config bundles the tunables from the configuration object (§6.2)
// relevant to the engine's own scheduling, independent of any one
// replicator's driver config.
type Config struct {
	ReplicatorConcurrency int
	StopConcurrency       int
	BatchSize             int
	BatchTimeoutMs        int
	MaxRetries            int
	RetryBackoffMs        int
	TimeoutMs             int
	LaneCount             int
}

// DefaultConfig matches the defaults in §6.2.
func DefaultConfig() Config {
	return Config{
		ReplicatorConcurrency: 5,
		StopConcurrency:       5,
		BatchSize:             100,
		BatchTimeoutMs:        1000,
		MaxRetries:            3,
		RetryBackoffMs:        1000,
		TimeoutMs:             30000,
		LaneCount:             16,
	}
}

func (c Config) timeout() time.Duration        { return time.Duration(c.TimeoutMs) * time.Millisecond }
func (c Config) backoff() time.Duration        { return time.Duration(c.RetryBackoffMs) * time.Millisecond }
func (c Config) batchTimeout() time.Duration   { return time.Duration(c.BatchTimeoutMs) * time.Millisecond }
