// Package bigquery implements the warehouse destination driver and
// its three mutability modes (§4.3.3): append-only (default, every
// write is an INSERT carrying _operation_type/_operation_timestamp),
// mutable (UPDATE/DELETE in place, retrying streaming-buffer
// contention up to twice before escalating to permanent), and
// immutable (append-only plus _is_deleted/_version tracking columns,
// no UPDATE/DELETE ever issued).
//
// No BigQuery client exists anywhere in the reference pack this
// module was built from, so this driver is built on the same
// generic SQL-shaped path as pkg/drivers/postgres and pkg/drivers/
// mysql (jmoiron/sqlx over database/sql) rather than invent an
// unavailable cloud.google.com/bigquery dependency. The mutability
// logic is the part of this driver that is actually specific to the
// warehouse shape; the storage mechanics are shared.
package bigquery

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/mitchellh/mapstructure"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
	"github.com/s3db-tools/cdc-replicator/pkg/mapper"
)

const Kind = "bigquery"

// Mutability mirrors mapper.MutabilityMode but is decoded from config
// as a string.
type Mutability string

const (
	ModeAppendOnly Mutability = "append-only"
	ModeMutable    Mutability = "mutable"
	ModeImmutable  Mutability = "immutable"
)

type Config struct {
	DSN                string                `mapstructure:"dsn"`
	Table              string                `mapstructure:"table"`
	Mutability         Mutability            `mapstructure:"mutability"`
	MaxOpenConns       int                   `mapstructure:"maxOpenConns"`
	AutoCreateTable    bool                  `mapstructure:"autoCreateTable"`
	Strategy           driver.SchemaStrategy `mapstructure:"strategy"`
	OnMismatch         driver.OnMismatch     `mapstructure:"onMismatch"`
	DropMissingColumns bool                  `mapstructure:"dropMissingColumns"`
	Attributes         map[string]string     `mapstructure:"schema"`
}

func Register(reg *driver.Registry) {
	reg.Register(Kind, build)
}

func build(name string, raw map[string]interface{}) (driver.Driver, error) {
	var cfg Config
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, driver.NewConfigError(name, "failed to decode bigquery driver config", err)
	}
	if cfg.Table == "" {
		return nil, driver.NewConfigError(name, "bigquery driver requires a \"table\"", nil)
	}
	if cfg.Mutability == "" {
		cfg.Mutability = ModeAppendOnly
	}
	if cfg.Strategy == "" {
		cfg.Strategy = driver.StrategyAlter
	}
	if cfg.OnMismatch == "" {
		cfg.OnMismatch = driver.OnMismatchWarn
	}
	return &Driver{name: name, cfg: cfg}, nil
}

// Driver is the warehouse destination. Unlike the relational drivers
// it never updates or deletes rows in append-only/immutable mode:
// every mutation is an append carrying its own operation metadata.
type Driver struct {
	name string
	cfg  Config
	db   *sqlx.DB
}

func (d *Driver) Init(ctx context.Context) error {
	if d.db != nil {
		return nil
	}
	db, err := sqlx.Open("postgres", d.cfg.DSN)
	if err != nil {
		return driver.NewPermanent(d.name, "init", "failed to open warehouse connection", err)
	}
	maxOpen := d.cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	if err := db.PingContext(ctx); err != nil {
		return driver.NewPermanent(d.name, "init", "failed to ping warehouse", err)
	}
	d.db = db
	return nil
}

func (d *Driver) SupportsBatch() bool      { return true }
func (d *Driver) SupportsSchemaSync() bool { return true }

func (d *Driver) Replicate(ctx context.Context, op driver.Op) driver.Attempt {
	started := time.Now()

	switch d.cfg.Mutability {
	case ModeMutable:
		return d.replicateMutable(ctx, op, started)
	default:
		return d.replicateAppend(ctx, op, started)
	}
}

func (d *Driver) ReplicateBatch(ctx context.Context, ops []driver.Op) []driver.Attempt {
	out := make([]driver.Attempt, len(ops))
	for i, op := range ops {
		out[i] = d.Replicate(ctx, op)
	}
	return out
}

// replicateAppend handles both append-only and immutable modes: every
// operation becomes an INSERT. Mutable mode also routes its inserts
// here, written without tracking columns. Immutable mode additionally stamps
// _is_deleted/_version so downstream consumers can reconstruct state
// without ever seeing an UPDATE or DELETE statement against this
// table.
func (d *Driver) replicateAppend(ctx context.Context, op driver.Op, started time.Time) driver.Attempt {
	row := make(map[string]interface{})
	for k, v := range op.After {
		row[k] = v
	}
	row["id"] = op.RecordID
	if d.cfg.Mutability != ModeMutable {
		row["_operation_type"] = string(op.Operation)
		row["_operation_timestamp"] = op.Timestamp.UTC()
	}

	if d.cfg.Mutability == ModeImmutable {
		row["_is_deleted"] = op.Operation == driver.Deleted
		version, err := d.nextVersion(ctx, op.RecordID)
		if err != nil {
			return driver.Attempt{AttemptNo: 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeRetriable, Err: driver.NewTransient(d.name, string(op.Operation), "version lookup failed", err)}
		}
		row["_version"] = version
	}

	cols := make([]string, 0, len(row))
	placeholders := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
		placeholders = append(placeholders, ":"+k)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.cfg.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := d.db.NamedExecContext(ctx, stmt, row); err != nil {
		return driver.Attempt{AttemptNo: 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeRetriable, Err: driver.NewTransient(d.name, string(op.Operation), "append failed", err)}
	}
	return driver.Attempt{AttemptNo: 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeSuccess}
}

// replicateMutable handles UPDATE/DELETE in place. Streaming-buffer
// contention is retried internally up to twice at a fixed 30s delay
// before being reported to the engine as permanent — this policy is
// specific to the warehouse's buffer semantics and orthogonal to the
// engine's own configurable retry/backoff, so it stays inside the
// driver rather than leaking into pkg/engine.
func (d *Driver) replicateMutable(ctx context.Context, op driver.Op, started time.Time) driver.Attempt {
	if op.Operation == driver.Inserted {
		return d.replicateAppend(ctx, op, started)
	}

	const maxContentionRetries = 2
	const contentionDelay = 30 * time.Second

	var lastErr error
	for attempt := 0; attempt <= maxContentionRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return driver.Attempt{AttemptNo: attempt + 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeRetriable, Err: driver.NewCancelled(d.name, string(op.Operation))}
			case <-time.After(contentionDelay):
			}
		}

		var err error
		if op.Operation == driver.Updated {
			err = d.updateRow(ctx, op)
		} else {
			err = d.deleteRow(ctx, op)
		}
		if err == nil {
			return driver.Attempt{AttemptNo: attempt + 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeSuccess}
		}
		if !isStreamingBufferContention(err) {
			return driver.Attempt{AttemptNo: attempt + 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeRetriable, Err: driver.NewTransient(d.name, string(op.Operation), "mutable write failed", err)}
		}
		lastErr = err
	}

	return driver.Attempt{AttemptNo: maxContentionRetries + 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomePermanent, Err: driver.NewPermanent(d.name, string(op.Operation), "streaming buffer contention exhausted retries", lastErr)}
}

func (d *Driver) updateRow(ctx context.Context, op driver.Op) error {
	sets := make([]string, 0, len(op.After))
	values := make(map[string]interface{}, len(op.After)+1)
	for k, v := range op.After {
		sets = append(sets, fmt.Sprintf("%s = :%s", k, k))
		values[k] = v
	}
	values["id"] = op.RecordID
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = :id", d.cfg.Table, strings.Join(sets, ", "))
	_, err := d.db.NamedExecContext(ctx, stmt, values)
	return err
}

func (d *Driver) deleteRow(ctx context.Context, op driver.Op) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = :id", d.cfg.Table)
	_, err := d.db.NamedExecContext(ctx, stmt, map[string]interface{}{"id": op.RecordID})
	return err
}

// nextVersion computes max(prior _version for recordId)+1 so the
// immutable mode's version column is monotonic per recordId even when
// operation timestamps collide or arrive out of wall-clock order
// (§4.3.3). Safe against concurrent writers for the same recordId only
// because the engine's per-key lane serialises them (§3.3, §5); two
// recordIds never contend here.
func (d *Driver) nextVersion(ctx context.Context, recordID string) (int64, error) {
	var max sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(_version) FROM %s WHERE id = $1", d.cfg.Table)
	if err := d.db.GetContext(ctx, &max, query, recordID); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

func isStreamingBufferContention(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "streaming buffer")
}

func (d *Driver) SyncSchema(ctx context.Context, plan driver.SchemaPlan) (driver.SchemaDiff, error) {
	diff := driver.SchemaDiff{}
	if plan.CreateIfMissing {
		defs := make([]string, 0, len(plan.ColumnsToAdd))
		for _, c := range plan.ColumnsToAdd {
			defs = append(defs, fmt.Sprintf("%s %s", c.Name, c.Type))
		}
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", plan.TableName, strings.Join(defs, ", "))
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return diff, err
		}
		diff.TableCreated = true
		return diff, nil
	}
	for _, col := range plan.ColumnsToAdd {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", plan.TableName, col.Name, col.Type)
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return diff, err
		}
		diff.ColumnsAdded = append(diff.ColumnsAdded, col.Name)
	}
	return diff, nil
}

func (d *Driver) IntrospectSchema(ctx context.Context, tableName string) (*driver.TableSchema, error) {
	rows, err := d.db.QueryxContext(ctx, "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = $1", tableName)
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
		return nil, nil
	}
	return &driver.TableSchema{Name: tableName, Columns: cols}, nil
}

func (d *Driver) Close(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// trackingColumnsFor exposes mapper's per-mode tracking-column set for
// ExpectedColumns, so config-time schema planning and runtime row
// construction agree on the column set (§4.3.3: "the table schema
// advertised by the driver to C4 is the base schema plus the tracking
// columns implied by the active mode").
func trackingColumnsFor(mode Mutability) []driver.ColumnDef {
	switch mode {
	case ModeImmutable:
		return mapper.TrackingColumns(mapper.ModeImmutable)
	case ModeMutable:
		return mapper.TrackingColumns(mapper.ModeMutable)
	default:
		return mapper.TrackingColumns(mapper.ModeAppendOnly)
	}
}

// ExpectedColumns returns this table's full expected column set: the
// standard columns, the tracking columns the active mutability mode
// implies, and every configured attribute mapped to BigQuery's types.
func (d *Driver) ExpectedColumns() []driver.ColumnDef {
	cols := mapper.StandardColumns(mapper.DialectBigQuery)
	cols = append(cols, trackingColumnsFor(d.cfg.Mutability)...)
	names := make([]string, 0, len(d.cfg.Attributes))
	for name := range d.cfg.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		col := mapper.MapType(d.cfg.Attributes[name], mapper.DialectBigQuery)
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
