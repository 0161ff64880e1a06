// Package postgres registers the PostgreSQL (and Postgres-wire-
// compatible Turso) destination driver. It is a thin dialect binding
// over pkg/drivers/sqldriver — the connection pooling, parameterised
// statements, and schema introspection all live there.
package postgres

import (
	"github.com/mitchellh/mapstructure"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
	"github.com/s3db-tools/cdc-replicator/pkg/drivers/sqldriver"
	"github.com/s3db-tools/cdc-replicator/pkg/mapper"
)

const Kind = "postgresql"

// TursoKind and PlanetScaleKind are addressed over a Postgres-wire-
// compatible surface in this implementation and share the PostgreSQL
// column-type table (see SPEC_FULL.md §D, C1). Turso is dialed over
// pgx's database/sql shim rather than lib/pq, since libsql's
// Postgres-wire gateway is most reliably exercised through pgx's
// connection config (simple-query mode, no prepared-statement
// caching assumptions baked in).
const TursoKind = "turso"
const PlanetScaleKind = "planetscale"

func Register(reg *driver.Registry) {
	reg.Register(Kind, build)
	reg.Register(TursoKind, buildTurso)
	reg.Register(PlanetScaleKind, build)
}

func build(name string, raw map[string]interface{}) (driver.Driver, error) {
	cfg, err := decodeConfig(name, raw)
	if err != nil {
		return nil, err
	}
	return sqldriver.New(name, mapper.DialectPostgreSQL, "postgres", cfg), nil
}

func buildTurso(name string, raw map[string]interface{}) (driver.Driver, error) {
	cfg, err := decodeConfig(name, raw)
	if err != nil {
		return nil, err
	}
	return sqldriver.New(name, mapper.DialectPostgreSQL, "pgx", cfg), nil
}

func decodeConfig(name string, raw map[string]interface{}) (sqldriver.Config, error) {
	var cfg sqldriver.Config
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return cfg, driver.NewConfigError(name, "failed to decode postgres driver config", err)
	}
	if cfg.Table == "" {
		return cfg, driver.NewConfigError(name, "postgres driver requires a \"table\"", nil)
	}
	return cfg, nil
}
