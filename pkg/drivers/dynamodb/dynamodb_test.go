package dynamodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequiresTable(t *testing.T) {
	_, err := build("d1", map[string]interface{}{})
	require.Error(t, err)
}

func TestBuildDefaultsPartitionKeyToID(t *testing.T) {
	drv, err := build("d1", map[string]interface{}{"table": "users"})
	require.NoError(t, err)
	assert.Equal(t, "id", drv.(*Driver).cfg.PartitionKey)
}

func TestBuildRespectsExplicitPartitionKey(t *testing.T) {
	drv, err := build("d1", map[string]interface{}{"table": "users", "partitionKey": "userId"})
	require.NoError(t, err)
	assert.Equal(t, "userId", drv.(*Driver).cfg.PartitionKey)
}
