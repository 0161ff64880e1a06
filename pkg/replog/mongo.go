package replog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoLogEntry is the persisted document shape, matching §6.6's
// minimum field set.
type mongoLogEntry struct {
	ID            string                 `bson:"_id"`
	ReplicatorID  string                 `bson:"replicatorId"`
	Resource      string                 `bson:"resource"`
	RecordID      string                 `bson:"recordId"`
	Operation     string                 `bson:"operation"`
	Status        string                 `bson:"status"`
	Attempts      int                    `bson:"attempts"`
	FirstSeenAt   time.Time              `bson:"firstSeenAt"`
	LastAttemptAt time.Time              `bson:"lastAttemptAt"`
	LastError     *string                `bson:"lastError"`
	Payload       map[string]interface{} `bson:"payloadSnapshot,omitempty"`
}

// MongoLogger persists log entries to the configured replicator-log
// collection (default name `plg_replicator_logs`, §6.2). Structurally
// grounded on MongoTracker.Save's upsert-by-id pattern
// (pkg/position/mongo_tracker.go), one document inserted per terminal
// outcome rather than one document per stream.
type MongoLogger struct {
	collection *mongo.Collection
}

// NewMongoLogger wraps an already-selected collection handle. Callers
// are expected to have attempted collection creation themselves and
// to fall back to MemoryLogger on failure (§4.7: "best-effort").
func NewMongoLogger(collection *mongo.Collection) *MongoLogger {
	return &MongoLogger{collection: collection}
}

func (l *MongoLogger) Record(ctx context.Context, entry Entry) error {
	doc := mongoLogEntry{
		ID:            uuid.NewString(),
		ReplicatorID:  entry.ReplicatorID,
		Resource:      entry.Resource,
		RecordID:      entry.RecordID,
		Operation:     string(entry.Operation),
		Status:        entry.Status,
		Attempts:      entry.Attempts,
		FirstSeenAt:   entry.FirstSeenAt,
		LastAttemptAt: entry.LastAttemptAt,
	}
	if entry.LastError != "" {
		doc.LastError = &entry.LastError
	}
	if entry.PayloadSnapshot != nil {
		doc.Payload = entry.PayloadSnapshot
	}

	_, err := l.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("replog: insert log entry: %w", err)
	}
	return nil
}

func (l *MongoLogger) Close(ctx context.Context) error { return nil }

// EnsureCollection creates an index on (replicatorId, recordId) in the
// log collection, which also creates the collection if it does not
// already exist. Failure here is
// the trigger for the replicator_log_resource_creation_error event and
// the degrade-to-MemoryLogger behaviour in §4.7; callers decide that
// policy, EnsureCollection only reports the error.
func EnsureCollection(ctx context.Context, db *mongo.Database, name string) (*mongo.Collection, error) {
	coll := db.Collection(name)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "replicatorId", Value: 1}, {Key: "recordId", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("replog: ensure index on %s: %w", name, err)
	}
	return coll, nil
}

// mongoDeadLetterEntry is the persisted DLQ document shape.
type mongoDeadLetterEntry struct {
	ID         primitive.ObjectID     `bson:"_id,omitempty"`
	Replicator string                 `bson:"replicator"`
	Resource   string                 `bson:"resource"`
	RecordID   string                 `bson:"recordId"`
	Operation  string                 `bson:"operation"`
	Payload    map[string]interface{} `bson:"payload"`
	LastError  string                 `bson:"lastError"`
	At         time.Time              `bson:"at"`
}

// MongoDeadLetterStore persists dead-lettered ops to the configured
// dead-letter collection.
type MongoDeadLetterStore struct {
	collection *mongo.Collection
}

func NewMongoDeadLetterStore(collection *mongo.Collection) *MongoDeadLetterStore {
	return &MongoDeadLetterStore{collection: collection}
}

func (s *MongoDeadLetterStore) Write(ctx context.Context, entry DeadLetterEntry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	doc := mongoDeadLetterEntry{
		Replicator: entry.Replicator,
		Resource:   entry.Resource,
		RecordID:   entry.RecordID,
		Operation:  string(entry.Operation),
		Payload:    entry.Payload,
		LastError:  entry.LastError,
		At:         at,
	}
	_, err := s.collection.InsertOne(ctx, doc, options.InsertOne())
	if err != nil {
		return fmt.Errorf("replog: write dead-letter entry: %w", err)
	}
	return nil
}

func (s *MongoDeadLetterStore) Close(ctx context.Context) error { return nil }
