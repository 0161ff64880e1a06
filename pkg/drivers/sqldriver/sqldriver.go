// Package sqldriver is the shared implementation behind the SQL
// destinations (postgres, mysql, and the turso/planetscale dialect
// aliases; bigquery has its own driver): parameterised statements over a
// pooled *sqlx.DB, an optional logTable audit row written in the same
// transaction as the data row, and schema introspection/DDL against
// information_schema. Grounded on the teacher's MySQLEndpoint
// (pkg/estuary/mysql.go: sqlx.Open pooled connection, NamedExec with
// `:field` placeholders inside an explicit transaction), generalised
// from hand-built INSERT-only SQL strings to parameterised insert/
// update/delete across dialects, and from "values from a JSON blob" to
// the engine's typed driver.Record.
package sqldriver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
	"github.com/s3db-tools/cdc-replicator/pkg/mapper"
)

// Config is the opaque per-replicator config decoded for a SQL/
// warehouse driver instance. Attributes carries the source attribute
// declarations (§4.1) this table's non-standard columns are mapped
// from, keyed by attribute name.
type Config struct {
	DSN                string                `mapstructure:"dsn"`
	Table              string                `mapstructure:"table"`
	LogTable           string                `mapstructure:"logTable"`
	MaxOpenConns       int                   `mapstructure:"maxOpenConns"`
	AutoCreateTable    bool                  `mapstructure:"autoCreateTable"`
	Strategy           driver.SchemaStrategy `mapstructure:"strategy"`
	OnMismatch         driver.OnMismatch     `mapstructure:"onMismatch"`
	DropMissingColumns bool                  `mapstructure:"dropMissingColumns"`
	Attributes         map[string]string     `mapstructure:"schema"`
}

// Driver implements driver.Driver against a sqlx connection pool. One
// instance serves exactly one destination table.
type Driver struct {
	name    string
	dialect mapper.Dialect
	sqlxDialect string // sqlx driverName, e.g. "postgres"/"mysql"
	cfg     Config

	db *sqlx.DB
}

// New builds a SQL driver for the given dialect. cfg.Attributes
// supplies the source attribute declarations used to compute the
// expected schema for introspection/migration.
func New(name string, dialect mapper.Dialect, sqlxDriverName string, cfg Config) *Driver {
	if cfg.Strategy == "" {
		cfg.Strategy = driver.StrategyAlter
	}
	if cfg.OnMismatch == "" {
		cfg.OnMismatch = driver.OnMismatchWarn
	}
	return &Driver{name: name, dialect: dialect, sqlxDialect: sqlxDriverName, cfg: cfg}
}

func (d *Driver) Init(ctx context.Context) error {
	if d.db != nil {
		return nil
	}
	db, err := sqlx.Open(d.sqlxDialect, d.cfg.DSN)
	if err != nil {
		return driver.NewPermanent(d.name, "init", "failed to open connection", err)
	}
	maxOpen := d.cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	if err := db.PingContext(ctx); err != nil {
		return driver.NewPermanent(d.name, "init", "failed to ping destination", err)
	}
	d.db = db
	return nil
}

func (d *Driver) SupportsBatch() bool      { return false }
func (d *Driver) SupportsSchemaSync() bool { return true }

func (d *Driver) Replicate(ctx context.Context, op driver.Op) driver.Attempt {
	started := time.Now()
	var err error

	tx, txErr := d.db.BeginTxx(ctx, nil)
	if txErr != nil {
		return transientAttempt(started, d.name, "begin transaction", txErr)
	}

	switch op.Operation {
	case driverInserted:
		err = d.insert(ctx, tx, op)
	case driverUpdated:
		err = d.update(ctx, tx, op)
	case driverDeleted:
		err = d.delete(ctx, tx, op)
	}

	if err != nil {
		_ = tx.Rollback()
		return classifyAttempt(started, d.name, string(op.Operation), err)
	}

	if d.cfg.LogTable != "" {
		if logErr := d.writeLogRow(ctx, tx, op); logErr != nil {
			_ = tx.Rollback()
			return classifyAttempt(started, d.name, "logTable insert", logErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return transientAttempt(started, d.name, "commit", err)
	}

	return driver.Attempt{AttemptNo: 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeSuccess}
}

func (d *Driver) ReplicateBatch(ctx context.Context, ops []driver.Op) []driver.Attempt {
	out := make([]driver.Attempt, len(ops))
	for i, op := range ops {
		out[i] = d.Replicate(ctx, op)
	}
	return out
}

func (d *Driver) insert(ctx context.Context, tx *sqlx.Tx, op driver.Op) error {
	cols := make([]string, 0, len(op.After)+1)
	placeholders := make([]string, 0, len(op.After)+1)
	values := make(map[string]interface{}, len(op.After)+1)

	cols = append(cols, "id")
	placeholders = append(placeholders, ":id")
	values["id"] = op.RecordID

	for k, v := range op.After {
		cols = append(cols, k)
		placeholders = append(placeholders, ":"+k)
		values[k] = v
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.cfg.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err := tx.NamedExecContext(ctx, stmt, values)
	return err
}

func (d *Driver) update(ctx context.Context, tx *sqlx.Tx, op driver.Op) error {
	sets := make([]string, 0, len(op.After))
	values := make(map[string]interface{}, len(op.After)+1)
	for k, v := range op.After {
		sets = append(sets, fmt.Sprintf("%s = :%s", k, k))
		values[k] = v
	}
	values["id"] = op.RecordID

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = :id", d.cfg.Table, strings.Join(sets, ", "))
	_, err := tx.NamedExecContext(ctx, stmt, values)
	return err
}

func (d *Driver) delete(ctx context.Context, tx *sqlx.Tx, op driver.Op) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = :id", d.cfg.Table)
	_, err := tx.NamedExecContext(ctx, stmt, map[string]interface{}{"id": op.RecordID})
	return err
}

func (d *Driver) writeLogRow(ctx context.Context, tx *sqlx.Tx, op driver.Op) error {
	stmt := fmt.Sprintf("INSERT INTO %s (record_id, operation, logged_at) VALUES (:record_id, :operation, :logged_at)", d.cfg.LogTable)
	_, err := tx.NamedExecContext(ctx, stmt, map[string]interface{}{
		"record_id": op.RecordID,
		"operation": string(op.Operation),
		"logged_at": time.Now().UTC(),
	})
	return err
}

func (d *Driver) SyncSchema(ctx context.Context, plan driver.SchemaPlan) (driver.SchemaDiff, error) {
	diff := driver.SchemaDiff{}

	if plan.Strategy == driver.StrategyDropCreate {
		if _, err := d.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", plan.TableName)); err != nil {
			return diff, err
		}
		if err := d.createTable(ctx, plan.TableName, plan.ColumnsToAdd); err != nil {
			return diff, err
		}
		diff.TableRecreated = true
		return diff, nil
	}

	if plan.CreateIfMissing {
		if err := d.createTable(ctx, plan.TableName, plan.ColumnsToAdd); err != nil {
			return diff, err
		}
		diff.TableCreated = true
		return diff, nil
	}

	for _, col := range plan.ColumnsToAdd {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", plan.TableName, col.Name, col.Type)
		if col.Nullable {
			stmt += " NULL"
		}
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return diff, err
		}
		diff.ColumnsAdded = append(diff.ColumnsAdded, col.Name)
	}

	if plan.DropMissingColumns {
		log.Warn().Str("table", plan.TableName).Msg("dropMissingColumns is set but this driver never computes columns to drop from a plan built without the full actual set; no-op")
	}

	return diff, nil
}

func (d *Driver) createTable(ctx context.Context, table string, cols []driver.ColumnDef) error {
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		def := fmt.Sprintf("%s %s", c.Name, c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (id))", table, strings.Join(defs, ", "))
	_, err := d.db.ExecContext(ctx, stmt)
	return err
}

func (d *Driver) IntrospectSchema(ctx context.Context, tableName string) (*driver.TableSchema, error) {
	rows, err := d.db.QueryxContext(ctx, informationSchemaQuery(d.sqlxDialect), tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []driver.ColumnDef
	for rows.Next() {
		var name, colType, nullable string
		if err := rows.Scan(&name, &colType, &nullable); err != nil {
			return nil, err
		}
		cols = append(cols, driver.ColumnDef{Name: name, Type: colType, Nullable: nullable == "YES"})
	}
	if len(cols) == 0 {
		return nil, nil // table absent
	}
	return &driver.TableSchema{Name: tableName, Columns: cols}, nil
}

// ExpectedColumns returns this table's full expected column set: the
// standard id/created_at/updated_at columns (§4.1, §6.5) plus every
// configured attribute mapped to this dialect, sorted by name for a
// deterministic plan.
func (d *Driver) ExpectedColumns() []driver.ColumnDef {
	cols := mapper.StandardColumns(d.dialect)
	names := make([]string, 0, len(d.cfg.Attributes))
	for name := range d.cfg.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		col := mapper.MapType(d.cfg.Attributes[name], d.dialect)
		col.Name = name
		cols = append(cols, col)
	}
	return cols
}

// SchemaConfig implements driver.SchemaSource so C9 can drive schema
// sync against this table without a driver-specific type switch.
func (d *Driver) SchemaConfig() driver.SchemaSourceConfig {
	return driver.SchemaSourceConfig{
		TableName:          d.cfg.Table,
		Expected:           d.ExpectedColumns(),
		Strategy:           d.cfg.Strategy,
		OnMismatch:         d.cfg.OnMismatch,
		AutoCreateTable:    d.cfg.AutoCreateTable,
		DropMissingColumns: d.cfg.DropMissingColumns,
	}
}

func informationSchemaQuery(sqlxDialect string) string {
	if sqlxDialect == "mysql" {
		return "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = ?"
	}
	return "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = $1"
}

func (d *Driver) Close(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func classifyAttempt(started time.Time, driverName, op string, err error) driver.Attempt {
	if isAuthError(err) || isSchemaMismatchError(err) {
		return driver.Attempt{AttemptNo: 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomePermanent, Err: driver.NewPermanent(driverName, op, "permanent SQL failure", err)}
	}
	return transientAttempt(started, driverName, op, err)
}

func transientAttempt(started time.Time, driverName, op string, err error) driver.Attempt {
	return driver.Attempt{AttemptNo: 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeRetriable, Err: driver.NewTransient(driverName, op, "transient SQL failure", err)}
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "access denied") || strings.Contains(msg, "authentication") || strings.Contains(msg, "permission denied")
}

func isSchemaMismatchError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such column") || strings.Contains(msg, "unknown column") || strings.Contains(msg, "column") && strings.Contains(msg, "does not exist")
}

// These aliases exist so this file reads naturally without importing
// driver's Operation constants under a different name at every call
// site.
const (
	driverInserted = driver.Inserted
	driverUpdated  = driver.Updated
	driverDeleted  = driver.Deleted
)
