package bigquery

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

func newMockDriver(t *testing.T, mode Mutability) (*Driver, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	d := &Driver{name: "bq1", cfg: Config{Table: "events", Mutability: mode}}
	d.db = sqlx.NewDb(db, "postgres")
	return d, mock
}

func TestAppendOnlyAlwaysInserts(t *testing.T) {
	d, mock := newMockDriver(t, ModeAppendOnly)
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))

	attempt := d.Replicate(context.Background(), driver.Op{Operation: driver.Updated, RecordID: "1", After: driver.Record{"x": 1}, Timestamp: time.Now()})
	assert.True(t, attempt.Succeeded())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImmutableStampsVersionAndDeletedFlag(t *testing.T) {
	d, mock := newMockDriver(t, ModeImmutable)
	mock.ExpectQuery("SELECT MAX\\(_version\\)").WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(3))
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))

	attempt := d.Replicate(context.Background(), driver.Op{Operation: driver.Deleted, RecordID: "1", Timestamp: time.Now()})
	assert.True(t, attempt.Succeeded())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImmutableVersionStartsAtOneWhenNoPriorRow(t *testing.T) {
	d, mock := newMockDriver(t, ModeImmutable)
	mock.ExpectQuery("SELECT MAX\\(_version\\)").WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))

	attempt := d.Replicate(context.Background(), driver.Op{Operation: driver.Inserted, RecordID: "2", After: driver.Record{"x": 1}, Timestamp: time.Now()})
	assert.True(t, attempt.Succeeded())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImmutableVersionLookupFailureIsRetriable(t *testing.T) {
	d, mock := newMockDriver(t, ModeImmutable)
	mock.ExpectQuery("SELECT MAX\\(_version\\)").WillReturnError(assertErr{"connection reset"})

	attempt := d.Replicate(context.Background(), driver.Op{Operation: driver.Inserted, RecordID: "3", After: driver.Record{"x": 1}, Timestamp: time.Now()})
	assert.Equal(t, driver.OutcomeRetriable, attempt.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutableModeIssuesUpdateInPlace(t *testing.T) {
	d, mock := newMockDriver(t, ModeMutable)
	mock.ExpectExec("UPDATE events").WillReturnResult(sqlmock.NewResult(0, 1))

	attempt := d.Replicate(context.Background(), driver.Op{Operation: driver.Updated, RecordID: "1", After: driver.Record{"x": 2}, Timestamp: time.Now()})
	assert.True(t, attempt.Succeeded())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutableModeNonContentionErrorIsRetriableImmediately(t *testing.T) {
	d, mock := newMockDriver(t, ModeMutable)
	mock.ExpectExec("UPDATE events").WillReturnError(assertErr{"connection reset"})

	attempt := d.Replicate(context.Background(), driver.Op{Operation: driver.Updated, RecordID: "1", After: driver.Record{"x": 2}, Timestamp: time.Now()})
	assert.Equal(t, driver.OutcomeRetriable, attempt.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutableModeCancelledDuringContentionBackoffIsNotSuccess(t *testing.T) {
	d, mock := newMockDriver(t, ModeMutable)
	mock.ExpectExec("UPDATE events").WillReturnError(assertErr{"rows belong to rows still in the streaming buffer"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	attempt := d.Replicate(ctx, driver.Op{Operation: driver.Updated, RecordID: "1", After: driver.Record{"x": 2}, Timestamp: time.Now()})
	assert.NotEqual(t, driver.OutcomeSuccess, attempt.Outcome)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
