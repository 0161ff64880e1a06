package sqs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

func TestBuildRequiresQueueConfig(t *testing.T) {
	_, err := build("q1", map[string]interface{}{})
	require.Error(t, err)
}

func TestBuildAcceptsPerResourceQueueMap(t *testing.T) {
	_, err := build("q1", map[string]interface{}{"queueUrlByResource": map[string]interface{}{"users": "https://sqs/us"}})
	require.NoError(t, err)
}

func TestDedupIDIsStableAcrossReplays(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	op := driver.Op{
		Binding:   &driver.Binding{SourceResource: "users"},
		Operation: driver.Updated,
		RecordID:  "42",
		After:     driver.Record{"version": 3},
		Timestamp: ts,
	}
	id1 := dedupID(op)
	id2 := dedupID(op)
	assert.Equal(t, id1, id2)
}

func TestDedupIDDiffersByOperation(t *testing.T) {
	base := driver.Op{Binding: &driver.Binding{SourceResource: "users"}, RecordID: "42", After: driver.Record{"version": 3}}
	inserted := base
	inserted.Operation = driver.Inserted
	deleted := base
	deleted.Operation = driver.Deleted

	assert.NotEqual(t, dedupID(inserted), dedupID(deleted))
}
