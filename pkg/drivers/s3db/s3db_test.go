package s3db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRequiresAllFields(t *testing.T) {
	_, err := build("s1", map[string]interface{}{"connectionUri": "mongodb://localhost"})
	require.Error(t, err)
}

func TestBuildSucceedsWithFullConfig(t *testing.T) {
	_, err := build("s1", map[string]interface{}{"connectionUri": "mongodb://localhost", "database": "d", "collection": "c"})
	require.NoError(t, err)
}
