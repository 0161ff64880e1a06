// Package position implements a resumable sync cursor store for C9's
// manual backfill operation (§4.9): one opaque cursor per
// (replicator, resource), so a backfill interrupted partway through
// resumes from where it left off rather than rescanning from the
// start. Grounded on the teacher's MongoTracker (pkg/position/
// mongo_tracker.go: FindOne-then-upsert-by-id, preserving the original
// createdAt across updates) — narrowed from a general multi-backend
// position tracker (MySQL binlog file/position, Postgres WAL LSN,
// MongoDB resume tokens, each with its own config struct) down to the
// one cursor shape this module's manual-sync operation actually needs,
// since none of those source-side capture mechanisms are implemented
// here (§1 Non-goals: no concrete document-store client).
package position

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned by Load when no cursor has been saved yet
// for the given key.
var ErrNotFound = errors.New("position: cursor not found")

// CursorStore persists and retrieves the resume cursor for one
// (replicator, resource) pair.
type CursorStore interface {
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, cursor string) error
}

// MemoryStore is an in-process fallback, used when no persistent
// collection is configured or reachable — mirroring §4.7's
// best-effort degrade-to-memory rule for the log collection.
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]string)}
}

func (m *MemoryStore) Load(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cursors[key]
	if !ok {
		return "", ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) Save(ctx context.Context, key, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[key] = cursor
	return nil
}

type cursorDocument struct {
	ID        string    `bson:"_id"`
	Cursor    string    `bson:"cursor"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoStore persists cursors in a collection, one document per key,
// upserting in place the way MongoTracker did for stream positions.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

func (s *MongoStore) Load(ctx context.Context, key string) (string, error) {
	var doc cursorDocument
	err := s.collection.FindOne(ctx, map[string]interface{}{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.Cursor, nil
}

func (s *MongoStore) Save(ctx context.Context, key, cursor string) error {
	now := time.Now().UTC()

	var existing cursorDocument
	err := s.collection.FindOne(ctx, map[string]interface{}{"_id": key}).Decode(&existing)
	createdAt := now
	if err == nil {
		createdAt = existing.CreatedAt
	} else if err != mongo.ErrNoDocuments {
		return err
	}

	doc := cursorDocument{ID: key, Cursor: cursor, CreatedAt: createdAt, UpdatedAt: now}
	_, err = s.collection.ReplaceOne(ctx, map[string]interface{}{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

// Key builds the (replicator, resource) composite key cursor stores
// are addressed by.
func Key(replicatorID, resource string) string {
	return replicatorID + "/" + resource
}
