// Package driver defines the contract every CDC destination must
// satisfy (§4.2) and the shared types that flow across it: attempts,
// schema plans/diffs, and the driver registry.
package driver

import (
	"context"
	"time"
)

// Operation is the kind of source mutation being replicated.
type Operation string

const (
	Inserted Operation = "inserted"
	Updated  Operation = "updated"
	Deleted  Operation = "deleted"
)

// Record is a source document as a plain attribute map. The engine
// never interprets its contents beyond passing it to transforms and
// drivers.
type Record map[string]interface{}

// Binding is the canonical (destination, actions, transform,
// shouldReplicate) tuple produced by the resource-mapping resolver
// (C5) for one (replicator, sourceResource) pair. Drivers only ever
// see this shape, never one of the five raw config syntaxes.
type Binding struct {
	Replicator      string
	SourceResource  string
	Destination     string
	Actions         map[Operation]bool
	ShouldReplicate func(rec Record, op Operation) (bool, error)
	Transform       func(rec Record, op Operation) (Record, error)
}

// Allows reports whether op is in the binding's action set.
func (b *Binding) Allows(op Operation) bool {
	if b.Actions == nil {
		return true
	}
	return b.Actions[op]
}

// Op is one unit of replication work handed to a driver.
type Op struct {
	Binding   *Binding
	Operation Operation
	RecordID  string
	After     Record // nil on delete
	Before    Record // populated on update when the source provides it
	Timestamp time.Time
}

// Attempt is the transient record of one call to a driver.
type Attempt struct {
	AttemptNo  int
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	Err        *Error
}

// Succeeded reports whether the attempt ended in success.
func (a Attempt) Succeeded() bool { return a.Outcome == OutcomeSuccess }

// ColumnDef describes one destination column, as produced by the type
// mapper (C1) and consumed by the schema synchroniser (C4).
type ColumnDef struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
}

// TableSchema is the full expected shape of a destination table.
type TableSchema struct {
	Name    string
	Columns []ColumnDef
}

// SchemaStrategy selects how the synchroniser reconciles a mismatch.
type SchemaStrategy string

const (
	StrategyAlter       SchemaStrategy = "alter"
	StrategyDropCreate  SchemaStrategy = "drop-create"
	StrategyValidateOnly SchemaStrategy = "validate-only"
)

// OnMismatch selects how a non-empty validate-only plan is handled.
type OnMismatch string

const (
	OnMismatchError  OnMismatch = "error"
	OnMismatchWarn   OnMismatch = "warn"
	OnMismatchIgnore OnMismatch = "ignore"
)

// ColumnMismatch records a column whose destination type disagrees
// with the type the source attribute declaration expects.
type ColumnMismatch struct {
	Name     string
	Expected string
	Actual   string
}

// SchemaSourceConfig is the expected-schema policy a driver advertises
// for the one destination table it owns.
type SchemaSourceConfig struct {
	TableName          string
	Expected           []ColumnDef
	Strategy           SchemaStrategy
	OnMismatch         OnMismatch
	AutoCreateTable    bool
	DropMissingColumns bool
}

// SchemaSource is implemented by drivers advertising SupportsSchemaSync
// so C9 can drive the schema synchroniser (C4) against them without a
// driver-specific type switch: the table, its expected columns (via
// C1), and how to reconcile a mismatch.
type SchemaSource interface {
	SchemaConfig() SchemaSourceConfig
}

// SchemaPlan is the derived startup migration plan for one destination
// table (§3.1, §4.4).
type SchemaPlan struct {
	TableName          string
	CreateIfMissing    bool
	ColumnsToAdd        []ColumnDef
	ColumnsMismatch      []ColumnMismatch
	Strategy           SchemaStrategy
	OnMismatch         OnMismatch
	DropMissingColumns bool
}

// Empty reports whether applying the plan would be a no-op — used to
// implement P7 (schema-sync idempotence): running sync twice produces
// no new migrations on the second run.
func (p *SchemaPlan) Empty() bool {
	return !p.CreateIfMissing && len(p.ColumnsToAdd) == 0 && len(p.ColumnsMismatch) == 0
}

// SchemaDiff reports what a syncSchema call actually did.
type SchemaDiff struct {
	TableCreated   bool
	TableRecreated bool
	ColumnsAdded   []string
	Warnings       []string
}

// Driver is the contract every destination implements (§4.2). Init
// is called at startup, before any event is consumed (by Plugin.Start
// and Engine.Start, and again by Plugin.Sync), not on a driver's first
// op, so it must be safe to call more than once. Replicate/
// ReplicateBatch run per op, SyncSchema once at startup for drivers
// that advertise it, and Close on plugin stop.
type Driver interface {
	Init(ctx context.Context) error

	SupportsBatch() bool
	SupportsSchemaSync() bool

	Replicate(ctx context.Context, op Op) Attempt
	// ReplicateBatch is only called when SupportsBatch() is true; the
	// engine falls back to a per-item Replicate loop otherwise.
	ReplicateBatch(ctx context.Context, ops []Op) []Attempt

	// SyncSchema is only called when SupportsSchemaSync() is true.
	SyncSchema(ctx context.Context, plan SchemaPlan) (SchemaDiff, error)

	// IntrospectSchema returns the actual column set of the named
	// destination table, or a not-found style result when the table
	// does not yet exist. Only called on drivers advertising schema
	// sync.
	IntrospectSchema(ctx context.Context, tableName string) (*TableSchema, error)

	Close(ctx context.Context) error
}

// Constructor builds a Driver from a replicator's opaque config
// object. Drivers decode their own typed config out of raw via
// mapstructure; the engine never interprets raw itself.
type Constructor func(name string, raw map[string]interface{}) (Driver, error)

// Registry maps a driver kind name to its constructor, matching the
// catalogue in §6.3 plus any custom kinds user code registers.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds or replaces the constructor for a driver kind.
func (r *Registry) Register(kind string, ctor Constructor) {
	r.constructors[kind] = ctor
}

// Build constructs a driver instance for the given kind, or returns a
// ConfigError if the kind was never registered — resolution failures
// here are startup errors, never runtime ones (§4.5).
func (r *Registry) Build(kind, name string, raw map[string]interface{}) (Driver, error) {
	ctor, ok := r.constructors[kind]
	if !ok {
		return nil, &ConfigError{Path: "replicators[" + name + "].driver", Message: "unknown driver kind: " + kind}
	}
	return ctor(name, raw)
}

// Known reports whether a driver kind has a registered constructor.
func (r *Registry) Known(kind string) bool {
	_, ok := r.constructors[kind]
	return ok
}

// Kinds lists every registered driver kind, for error messages.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		kinds = append(kinds, k)
	}
	return kinds
}
