// Package replog implements C7: persistence of terminal replication
// outcomes to a log collection, and dead-letter storage for failed
// ops. Grounded on the teacher's MongoTracker (pkg/position/
// mongo_tracker.go: upsert-by-id with FindOne-then-ReplaceOne,
// preserving createdAt across updates) — generalised from tracking a
// single stream's resume position to appending one log row per
// terminal outcome, per §6.6's layout.
package replog

import (
	"context"
	"time"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

// Entry is one persisted log row (§6.6). id is assigned by the
// backend; the fields here are exactly the ones the spec requires at
// minimum.
type Entry struct {
	ReplicatorID    string
	Resource        string
	RecordID        string
	Operation       driver.Operation
	Status          string
	Attempts        int
	FirstSeenAt     time.Time
	LastAttemptAt   time.Time
	LastError       string
	PayloadSnapshot driver.Record // optional, only set when configured
}

// DeadLetterEntry is a failed op's full payload plus its last error,
// for manual or automated retry (§4.7).
type DeadLetterEntry struct {
	Replicator string
	Resource   string
	RecordID   string
	Operation  driver.Operation
	Payload    driver.Record
	LastError  string
	At         time.Time
}

// Logger is the C7 contract: record one terminal outcome.
type Logger interface {
	Record(ctx context.Context, entry Entry) error
	Close(ctx context.Context) error
}

// DeadLetterStore persists DeadLetterEntry values.
type DeadLetterStore interface {
	Write(ctx context.Context, entry DeadLetterEntry) error
	Close(ctx context.Context) error
}
