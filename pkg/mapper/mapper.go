// Package mapper implements C1: a pure function mapping source
// attribute declarations to per-dialect destination column types
// (§4.1). It has no I/O and no dependency on any driver.
package mapper

import (
	"strconv"
	"strings"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

// Dialect is a destination SQL/warehouse column-type dialect.
type Dialect string

const (
	DialectPostgreSQL Dialect = "postgresql"
	// DialectTurso and DialectPlanetScale share PostgreSQL's table,
	// since both are addressed over a Postgres-wire-compatible
	// surface in this implementation (see SPEC_FULL.md §D, C1).
	DialectTurso       Dialect = "turso"
	DialectPlanetScale Dialect = "planetscale"
	DialectMySQL       Dialect = "mysql"
	DialectMariaDB     Dialect = "mariadb"
	DialectBigQuery    Dialect = "bigquery"
)

// Attribute is a parsed source attribute declaration, e.g.
// "string|maxlength:255|required".
type Attribute struct {
	Base      string
	MaxLength int
	Required  bool
}

// ParseAttribute splits a raw declaration string into its pipe-delimited
// parts and extracts the base type plus any maxlength modifier.
// "required" sets Required, which alone controls column nullability;
// an "embedding:" modifier and any unknown modifier are ignored.
func ParseAttribute(raw string) Attribute {
	parts := strings.Split(raw, "|")
	attr := Attribute{Base: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		switch {
		case strings.HasPrefix(p, "maxlength:"):
			if n, err := strconv.Atoi(strings.TrimPrefix(p, "maxlength:")); err == nil {
				attr.MaxLength = n
			}
		case strings.HasPrefix(p, "embedding:"):
			// dimension is irrelevant to the column type (embeddings map
			// to a JSON-family column on every dialect); parsed only so
			// ParseAttribute never silently drops the declaration.
		case p == "required":
			attr.Required = true
		}
	}
	return attr
}

// MapType maps one source attribute declaration to a destination
// column definition for the given dialect. Pure and stateless — see
// the table in spec.md §4.1.
func MapType(raw string, dialect Dialect) driver.ColumnDef {
	attr := ParseAttribute(raw)
	col := driver.ColumnDef{Nullable: !attr.Required}

	base := attr.Base
	if strings.HasPrefix(base, "embedding:") {
		base = "embedding"
	}

	switch dialect {
	case DialectPostgreSQL, DialectTurso, DialectPlanetScale:
		col.Type = postgresType(base, attr)
	case DialectMySQL, DialectMariaDB:
		col.Type = mysqlType(base, attr)
	case DialectBigQuery:
		col.Type = bigQueryType(base, attr)
	default:
		col.Type = "TEXT"
	}
	return col
}

func postgresType(base string, attr Attribute) string {
	switch base {
	case "string":
		if attr.MaxLength > 0 {
			return "VARCHAR(" + strconv.Itoa(attr.MaxLength) + ")"
		}
		return "TEXT"
	case "number":
		return "DOUBLE PRECISION"
	case "boolean":
		return "BOOLEAN"
	case "json", "object", "array", "embedding":
		return "JSONB"
	case "ip4", "ip6":
		return "INET"
	case "uuid":
		return "UUID"
	case "date":
		return "DATE"
	case "datetime":
		return "TIMESTAMPTZ"
	case "secret":
		return "TEXT"
	default:
		return "TEXT"
	}
}

func mysqlType(base string, attr Attribute) string {
	switch base {
	case "string":
		if attr.MaxLength > 0 {
			return "VARCHAR(" + strconv.Itoa(attr.MaxLength) + ")"
		}
		return "TEXT"
	case "number":
		return "DOUBLE"
	case "boolean":
		return "TINYINT(1)"
	case "json", "object", "array", "embedding":
		return "JSON"
	case "ip4":
		return "VARCHAR(15)"
	case "ip6":
		return "VARCHAR(45)"
	case "uuid":
		return "CHAR(36)"
	case "date":
		return "DATE"
	case "datetime":
		return "DATETIME"
	case "secret":
		return "TEXT"
	default:
		return "TEXT"
	}
}

func bigQueryType(base string, _ Attribute) string {
	switch base {
	case "string":
		return "STRING"
	case "number":
		return "FLOAT64"
	case "boolean":
		return "BOOL"
	case "json", "object", "array", "embedding":
		return "JSON"
	case "ip4", "ip6":
		return "STRING"
	case "uuid":
		return "STRING"
	case "date":
		return "DATE"
	case "datetime":
		return "TIMESTAMP"
	case "secret":
		return "STRING"
	default:
		return "STRING"
	}
}

// StandardColumns returns the id/created_at/updated_at columns every
// destination table carries in addition to the mapped attribute
// columns (§4.1, §6.5).
func StandardColumns(dialect Dialect) []driver.ColumnDef {
	ts := "TIMESTAMPTZ"
	if dialect == DialectMySQL || dialect == DialectMariaDB {
		ts = "DATETIME"
	} else if dialect == DialectBigQuery {
		ts = "TIMESTAMP"
	}
	return []driver.ColumnDef{
		{Name: "id", Type: idType(dialect), Nullable: false},
		{Name: "created_at", Type: ts, Nullable: false, Default: "now"},
		{Name: "updated_at", Type: ts, Nullable: false, Default: "now"},
	}
}

func idType(dialect Dialect) string {
	switch dialect {
	case DialectBigQuery:
		return "STRING"
	default:
		return "TEXT"
	}
}

// MutabilityMode selects how the BigQuery driver translates updates
// and deletes against the streaming-buffer window (§4.3.3).
type MutabilityMode string

const (
	ModeAppendOnly MutabilityMode = "append-only"
	ModeMutable    MutabilityMode = "mutable"
	ModeImmutable  MutabilityMode = "immutable"
)

// TrackingColumns returns the extra columns a BigQuery table needs for
// the given mutability mode, on top of StandardColumns.
func TrackingColumns(mode MutabilityMode) []driver.ColumnDef {
	switch mode {
	case ModeAppendOnly:
		return []driver.ColumnDef{
			{Name: "_operation_type", Type: "STRING", Nullable: false},
			{Name: "_operation_timestamp", Type: "TIMESTAMP", Nullable: false},
		}
	case ModeImmutable:
		return []driver.ColumnDef{
			{Name: "_operation_type", Type: "STRING", Nullable: false},
			{Name: "_operation_timestamp", Type: "TIMESTAMP", Nullable: false},
			{Name: "_is_deleted", Type: "BOOL", Nullable: false},
			{Name: "_version", Type: "INT64", Nullable: false},
		}
	default: // mutable
		return nil
	}
}
