// Package mysql registers the MySQL/MariaDB destination driver. A thin
// dialect binding over pkg/drivers/sqldriver, grounded on the
// teacher's pkg/estuary/mysql.go (sqlx.Open("mysql", dsn), NamedExec
// inside an explicit transaction) but generalised to the shared
// insert/update/delete/schema-sync path instead of a hand-rolled
// insert-only statement.
package mysql

import (
	_ "github.com/go-sql-driver/mysql"
	"github.com/mitchellh/mapstructure"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
	"github.com/s3db-tools/cdc-replicator/pkg/drivers/sqldriver"
	"github.com/s3db-tools/cdc-replicator/pkg/mapper"
)

const Kind = "mysql"

// MariaDBKind shares MySQL's wire protocol and column-type table.
const MariaDBKind = "mariadb"

func Register(reg *driver.Registry) {
	reg.Register(Kind, build)
	reg.Register(MariaDBKind, build)
}

func build(name string, raw map[string]interface{}) (driver.Driver, error) {
	var cfg sqldriver.Config
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, driver.NewConfigError(name, "failed to decode mysql driver config", err)
	}
	if cfg.Table == "" {
		return nil, driver.NewConfigError(name, "mysql driver requires a \"table\"", nil)
	}
	return sqldriver.New(name, mapper.DialectMySQL, "mysql", cfg), nil
}
