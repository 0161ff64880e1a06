package replog

import (
	"context"
	"sync"
)

// MemoryLogger is the console/in-memory fallback C7 degrades to when
// the configured log collection cannot be created (§4.7: "degrades to
// in-memory / console logging only").
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLogger creates an empty in-memory logger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (m *MemoryLogger) Record(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryLogger) Close(ctx context.Context) error { return nil }

// Entries returns every recorded entry, for tests and diagnostics.
func (m *MemoryLogger) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// MemoryDeadLetterStore is the in-memory DLQ counterpart used when no
// dead-letter collection is configured.
type MemoryDeadLetterStore struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{}
}

func (m *MemoryDeadLetterStore) Write(ctx context.Context, entry DeadLetterEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryDeadLetterStore) Close(ctx context.Context) error { return nil }

func (m *MemoryDeadLetterStore) Entries() []DeadLetterEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetterEntry(nil), m.entries...)
}
