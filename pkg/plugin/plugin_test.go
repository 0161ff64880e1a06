package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-tools/cdc-replicator/pkg/bus"
	"github.com/s3db-tools/cdc-replicator/pkg/driver"
	"github.com/s3db-tools/cdc-replicator/pkg/engine"
	"github.com/s3db-tools/cdc-replicator/pkg/position"
	"github.com/s3db-tools/cdc-replicator/pkg/source"
)

func alwaysReplicate(_ driver.Record, _ driver.Operation) (bool, error) { return true, nil }

type noopDriver struct{}

func (noopDriver) Init(ctx context.Context) error { return nil }
func (noopDriver) SupportsBatch() bool             { return false }
func (noopDriver) SupportsSchemaSync() bool        { return false }
func (noopDriver) Replicate(ctx context.Context, op driver.Op) driver.Attempt {
	return driver.Attempt{Outcome: driver.OutcomeSuccess}
}
func (noopDriver) ReplicateBatch(ctx context.Context, ops []driver.Op) []driver.Attempt {
	out := make([]driver.Attempt, len(ops))
	for i := range ops {
		out[i] = driver.Attempt{Outcome: driver.OutcomeSuccess}
	}
	return out
}
func (noopDriver) SyncSchema(ctx context.Context, plan driver.SchemaPlan) (driver.SchemaDiff, error) {
	return driver.SchemaDiff{}, nil
}
func (noopDriver) IntrospectSchema(ctx context.Context, table string) (*driver.TableSchema, error) {
	return nil, nil
}
func (noopDriver) Close(ctx context.Context) error { return nil }

func newTestPlugin() (*Plugin, *source.Fake) {
	src := source.NewFake()
	p := New(src, src, engine.DefaultConfig(), bus.New(), nil, nil, false, true)
	return p, src
}

func TestRegisterAndList(t *testing.T) {
	p, _ := newTestPlugin()
	p.Register("r1", nil, noopDriver{}, true)
	p.Register("r2", nil, noopDriver{}, false)
	assert.Equal(t, []string{"r1", "r2"}, p.List())
}

func TestEnableDisableUnknownReplicator(t *testing.T) {
	p, _ := newTestPlugin()
	err := p.Enable("ghost")
	require.Error(t, err)
	var unknown *UnknownReplicatorError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.ID)
}

func TestEnableDisableRoundTrip(t *testing.T) {
	p, _ := newTestPlugin()
	p.Register("r1", nil, noopDriver{}, true)

	require.NoError(t, p.Disable("r1"))
	enabled, err := p.Enabled("r1")
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, p.Enable("r1"))
	enabled, err = p.Enabled("r1")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestSyncProcessesEnumeratedRecords(t *testing.T) {
	p, src := newTestPlugin()
	binding := driver.Binding{Replicator: "r1", SourceResource: "users", Destination: "people", ShouldReplicate: alwaysReplicate}
	p.Register("r1", []driver.Binding{binding}, noopDriver{}, true)

	src.SetRecords("users", []source.EnumeratedRecord{
		{RecordID: "1", After: driver.Record{"id": "1"}, Cursor: "c1"},
		{RecordID: "2", After: driver.Record{"id": "2"}, Cursor: "c2"},
	})

	report, err := p.Sync(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.RecordsProcessed)
	assert.Equal(t, 0, report.Failures)
}

func TestSyncUnknownReplicator(t *testing.T) {
	p, _ := newTestPlugin()
	_, err := p.Sync(context.Background(), "ghost")
	require.Error(t, err)
}

func TestSyncResumesFromSavedCursor(t *testing.T) {
	p, src := newTestPlugin()
	cursors := position.NewMemoryStore()
	p.WithCursorStore(cursors)

	binding := driver.Binding{Replicator: "r1", SourceResource: "users", Destination: "people", ShouldReplicate: alwaysReplicate}
	p.Register("r1", []driver.Binding{binding}, noopDriver{}, true)

	src.SetRecords("users", []source.EnumeratedRecord{
		{RecordID: "1", After: driver.Record{"id": "1"}, Cursor: "c1"},
		{RecordID: "2", After: driver.Record{"id": "2"}, Cursor: "c2"},
	})

	report, err := p.Sync(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.RecordsProcessed)

	saved, err := cursors.Load(context.Background(), position.Key("r1", "users"))
	require.NoError(t, err)
	assert.Equal(t, "c2", saved)

	// A second sync with the same backing records resumes past the
	// saved cursor and finds nothing new to process.
	report, err = p.Sync(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.RecordsProcessed)
}
