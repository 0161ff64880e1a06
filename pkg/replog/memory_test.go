package replog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLoggerRecordsEntries(t *testing.T) {
	l := NewMemoryLogger()
	err := l.Record(context.Background(), Entry{ReplicatorID: "r1", Status: "success"})
	require.NoError(t, err)
	require.Len(t, l.Entries(), 1)
	assert.Equal(t, "r1", l.Entries()[0].ReplicatorID)
}

func TestMemoryDeadLetterStoreWrites(t *testing.T) {
	s := NewMemoryDeadLetterStore()
	err := s.Write(context.Background(), DeadLetterEntry{Replicator: "r1", RecordID: "42"})
	require.NoError(t, err)
	require.Len(t, s.Entries(), 1)
	assert.Equal(t, "42", s.Entries()[0].RecordID)
}
