package schema

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/s3db-tools/cdc-replicator/pkg/bus"
	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

// TableLock is an exclusive lock held for the duration of schema sync
// against one destination table, and acquired (read side) by the
// engine before issuing any replicate call against that table (§4.4,
// §5: "schema sync holds an exclusive lock against all replicate
// operations targeting that table").
type TableLock struct {
	mu sync.RWMutex
}

// Locks hands out one *TableLock per (driver, table) pair, created on
// first use and kept for the process lifetime.
type Locks struct {
	mu    sync.Mutex
	byKey map[string]*TableLock
}

// NewLocks creates an empty lock registry.
func NewLocks() *Locks {
	return &Locks{byKey: make(map[string]*TableLock)}
}

// For returns the lock for (driverName, table), creating it if absent.
func (l *Locks) For(driverName, table string) *TableLock {
	key := driverName + "/" + table
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.byKey[key]
	if !ok {
		lk = &TableLock{}
		l.byKey[key] = lk
	}
	return lk
}

// WithReplicate runs fn while holding the table's lock for reading,
// so any number of concurrent replicate calls can proceed but none
// can interleave with a schema sync in progress.
func (t *TableLock) WithReplicate(fn func()) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn()
}

// WithSync runs fn while holding the table's lock exclusively,
// draining any in-flight replicate calls first and blocking new ones
// until fn returns.
func (t *TableLock) WithSync(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn()
}

// Syncer executes the schema-sync algorithm against a single driver
// (§4.4). It is constructed once per (replicator, driver) pair.
type Syncer struct {
	driverName string
	drv        driver.Driver
	locks      *Locks
	events     *bus.Bus
}

// NewSyncer builds a Syncer for drv, identified by driverName for
// locking and event reporting.
func NewSyncer(driverName string, drv driver.Driver, locks *Locks, events *bus.Bus) *Syncer {
	return &Syncer{driverName: driverName, drv: drv, locks: locks, events: events}
}

// Sync runs the full introspect -> plan -> apply cycle for one table
// and reports the outcome on the event bus. Returns an error only when
// introspection fails, when onMismatch=error and the plan is non-empty
// under validate-only, or when the driver itself fails to apply the
// plan — all are startup failures per §4.10.
func (s *Syncer) Sync(ctx context.Context, tableName string, expected []driver.ColumnDef, strategy driver.SchemaStrategy, onMismatch driver.OnMismatch, autoCreateTable, dropMissingColumns bool) error {
	if !s.drv.SupportsSchemaSync() {
		return nil
	}

	lock := s.locks.For(s.driverName, tableName)

	var plan driver.SchemaPlan
	var applyErr error
	var diff driver.SchemaDiff

	lock.WithSync(func() {
		actual, err := s.drv.IntrospectSchema(ctx, tableName)
		if err != nil {
			applyErr = driver.NewSchemaError(s.driverName, "introspect", "failed to introspect destination table", err)
			return
		}

		plan = BuildPlan(tableName, actual, expected, strategy, onMismatch, autoCreateTable, dropMissingColumns)

		if strategy == driver.StrategyValidateOnly {
			if !plan.Empty() {
				applyErr = s.handleMismatch(tableName, plan, onMismatch)
			}
			return
		}

		diff, applyErr = s.drv.SyncSchema(ctx, plan)
		if applyErr != nil {
			applyErr = driver.NewSchemaError(s.driverName, "apply", "failed to apply schema plan", applyErr)
		}
	})

	if applyErr != nil {
		s.events.Publish(bus.Event{Name: bus.SchemaSyncFailed, Destination: tableName, Err: applyErr})
		return applyErr
	}

	s.reportDiff(tableName, diff)
	s.events.Publish(bus.Event{Name: bus.SchemaSyncCompleted, Destination: tableName})
	return nil
}

func (s *Syncer) handleMismatch(tableName string, plan driver.SchemaPlan, onMismatch driver.OnMismatch) error {
	switch onMismatch {
	case driver.OnMismatchError:
		return driver.NewSchemaError(s.driverName, "validate", fmt.Sprintf("schema mismatch on %s: %d columns to add, %d type mismatches", tableName, len(plan.ColumnsToAdd), len(plan.ColumnsMismatch)), nil)
	case driver.OnMismatchWarn:
		log.Warn().Str("table", tableName).Str("driver", s.driverName).Msg("schema mismatch detected under validate-only strategy")
		return nil
	default: // ignore
		return nil
	}
}

func (s *Syncer) reportDiff(tableName string, diff driver.SchemaDiff) {
	if diff.TableCreated {
		s.events.Publish(bus.Event{Name: bus.TableCreated, Destination: tableName})
	}
	if diff.TableRecreated {
		s.events.Publish(bus.Event{Name: bus.TableRecreated, Destination: tableName, Payload: map[string]interface{}{"warning": "destination data lost on drop-create"}})
	}
	if len(diff.ColumnsAdded) > 0 {
		s.events.Publish(bus.Event{Name: bus.TableAltered, Destination: tableName, Payload: map[string]interface{}{"columnsAdded": diff.ColumnsAdded}})
	}
}
