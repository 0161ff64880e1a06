package mongodriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

func TestBuildRequiresConnectionFields(t *testing.T) {
	_, err := build("m1", map[string]interface{}{"connectionUri": "mongodb://localhost"})
	require.Error(t, err)
}

func TestBuildDefaultsConnectTimeout(t *testing.T) {
	drv, err := build("m1", map[string]interface{}{"connectionUri": "mongodb://localhost", "database": "d", "collection": "c"})
	require.NoError(t, err)
	assert.Equal(t, 10000, drv.(*Driver).cfg.ConnectTimeoutMs)
}

func TestDocIDPrefersSourceID(t *testing.T) {
	d := &Driver{}
	op := driver.Op{RecordID: "r1", After: driver.Record{"_id": "explicit"}}
	assert.Equal(t, "explicit", d.docID(op))
}

func TestDocIDFallsBackToRecordID(t *testing.T) {
	d := &Driver{}
	op := driver.Op{RecordID: "r1", After: driver.Record{"name": "ada"}}
	assert.Equal(t, "r1", d.docID(op))
}
