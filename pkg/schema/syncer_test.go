package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-tools/cdc-replicator/pkg/bus"
	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

type fakeDriver struct {
	driver.Driver
	supportsSchemaSync bool
	actual             *driver.TableSchema
	introspectErr      error
	diff               driver.SchemaDiff
	syncErr            error
	lastPlan           driver.SchemaPlan
}

func (f *fakeDriver) SupportsBatch() bool      { return false }
func (f *fakeDriver) SupportsSchemaSync() bool { return f.supportsSchemaSync }
func (f *fakeDriver) IntrospectSchema(ctx context.Context, table string) (*driver.TableSchema, error) {
	return f.actual, f.introspectErr
}
func (f *fakeDriver) SyncSchema(ctx context.Context, plan driver.SchemaPlan) (driver.SchemaDiff, error) {
	f.lastPlan = plan
	return f.diff, f.syncErr
}

func TestSyncerSkipsUnsupportedDriver(t *testing.T) {
	d := &fakeDriver{supportsSchemaSync: false}
	s := NewSyncer("d1", d, NewLocks(), bus.New())
	err := s.Sync(context.Background(), "users", expectedCols(), driver.StrategyAlter, driver.OnMismatchError, true, false)
	require.NoError(t, err)
}

func TestSyncerAppliesPlanAndReportsTableCreated(t *testing.T) {
	d := &fakeDriver{supportsSchemaSync: true, actual: nil, diff: driver.SchemaDiff{TableCreated: true}}
	b := bus.New()
	sub := b.Subscribe(bus.TableCreated, bus.SchemaSyncCompleted)
	defer sub.Unsubscribe()

	s := NewSyncer("d1", d, NewLocks(), b)
	err := s.Sync(context.Background(), "users", expectedCols(), driver.StrategyAlter, driver.OnMismatchError, true, false)
	require.NoError(t, err)
	assert.True(t, d.lastPlan.CreateIfMissing)

	seen := map[bus.Name]bool{}
	for i := 0; i < 2; i++ {
		ev := <-sub.Chan
		seen[ev.Name] = true
	}
	assert.True(t, seen[bus.TableCreated])
	assert.True(t, seen[bus.SchemaSyncCompleted])
}

func TestSyncerValidateOnlyErrorsOnMismatch(t *testing.T) {
	actual := &driver.TableSchema{Name: "users", Columns: []driver.ColumnDef{{Name: "id", Type: "TEXT"}}}
	d := &fakeDriver{supportsSchemaSync: true, actual: actual}
	s := NewSyncer("d1", d, NewLocks(), bus.New())
	err := s.Sync(context.Background(), "users", expectedCols(), driver.StrategyValidateOnly, driver.OnMismatchError, true, false)
	require.Error(t, err)
}

func TestSyncerValidateOnlyIgnoreSwallowsMismatch(t *testing.T) {
	actual := &driver.TableSchema{Name: "users", Columns: []driver.ColumnDef{{Name: "id", Type: "TEXT"}}}
	d := &fakeDriver{supportsSchemaSync: true, actual: actual}
	s := NewSyncer("d1", d, NewLocks(), bus.New())
	err := s.Sync(context.Background(), "users", expectedCols(), driver.StrategyValidateOnly, driver.OnMismatchIgnore, true, false)
	require.NoError(t, err)
}

func TestSyncerIntrospectFailureIsSchemaError(t *testing.T) {
	d := &fakeDriver{supportsSchemaSync: true, introspectErr: assertErr{}}
	s := NewSyncer("d1", d, NewLocks(), bus.New())
	err := s.Sync(context.Background(), "users", expectedCols(), driver.StrategyAlter, driver.OnMismatchError, true, false)
	require.Error(t, err)
	var schemaErr *driver.Error
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, driver.KindSchema, schemaErr.Kind)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
