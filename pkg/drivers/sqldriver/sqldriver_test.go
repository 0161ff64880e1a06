package sqldriver

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
	"github.com/s3db-tools/cdc-replicator/pkg/mapper"
)

func newMockDriver(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	d := &Driver{name: "pg1", dialect: mapper.DialectPostgreSQL, sqlxDialect: "postgres", cfg: Config{Table: "users"}}
	d.db = sqlx.NewDb(db, "postgres")
	return d, mock
}

func TestReplicateInsertSucceeds(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	attempt := d.Replicate(context.Background(), driver.Op{
		Operation: driver.Inserted,
		RecordID:  "abc",
		After:     driver.Record{"name": "ada"},
		Timestamp: time.Now(),
	})

	assert.Equal(t, driver.OutcomeSuccess, attempt.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplicateWritesLogTableInSameTransaction(t *testing.T) {
	d, mock := newMockDriver(t)
	d.cfg.LogTable = "users_log"

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO users_log").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	attempt := d.Replicate(context.Background(), driver.Op{
		Operation: driver.Inserted,
		RecordID:  "abc",
		After:     driver.Record{"name": "ada"},
	})

	assert.True(t, attempt.Succeeded())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplicateRollsBackOnFailureAndClassifiesTransient(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnError(assertErr{"connection reset"})
	mock.ExpectRollback()

	attempt := d.Replicate(context.Background(), driver.Op{
		Operation: driver.Inserted,
		RecordID:  "abc",
		After:     driver.Record{"name": "ada"},
	})

	assert.Equal(t, driver.OutcomeRetriable, attempt.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplicateClassifiesAuthErrorAsPermanent(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnError(assertErr{"permission denied for table users"})
	mock.ExpectRollback()

	attempt := d.Replicate(context.Background(), driver.Op{
		Operation: driver.Inserted,
		RecordID:  "abc",
		After:     driver.Record{"name": "ada"},
	})

	assert.Equal(t, driver.OutcomePermanent, attempt.Outcome)
}

func TestReplicateDelete(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	attempt := d.Replicate(context.Background(), driver.Op{Operation: driver.Deleted, RecordID: "abc"})
	assert.True(t, attempt.Succeeded())
}

func TestSyncSchemaCreatesTableWhenMissing(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))

	diff, err := d.SyncSchema(context.Background(), driver.SchemaPlan{
		TableName:       "users",
		CreateIfMissing: true,
		ColumnsToAdd:    []driver.ColumnDef{{Name: "id", Type: "text", Nullable: false}},
	})
	require.NoError(t, err)
	assert.True(t, diff.TableCreated)
}

func TestSyncSchemaAltersAddedColumns(t *testing.T) {
	d, mock := newMockDriver(t)
	mock.ExpectExec("ALTER TABLE users ADD COLUMN age integer").WillReturnResult(sqlmock.NewResult(0, 0))

	diff, err := d.SyncSchema(context.Background(), driver.SchemaPlan{
		TableName:    "users",
		ColumnsToAdd: []driver.ColumnDef{{Name: "age", Type: "integer", Nullable: false}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"age"}, diff.ColumnsAdded)
}

func TestSchemaConfigAdvertisesStandardAndAttributeColumns(t *testing.T) {
	d := New("pg1", mapper.DialectPostgreSQL, "postgres", Config{
		Table:      "users",
		Attributes: map[string]string{"age": "integer", "name": "string"},
	})

	cfg := d.SchemaConfig()
	assert.Equal(t, "users", cfg.TableName)
	assert.Equal(t, driver.StrategyAlter, cfg.Strategy)
	assert.Equal(t, driver.OnMismatchWarn, cfg.OnMismatch)

	names := make([]string, len(cfg.Expected))
	for i, c := range cfg.Expected {
		names[i] = c.Name
	}
	assert.Contains(t, names, "id")
	assert.Contains(t, names, "age")
	assert.Contains(t, names, "name")
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
