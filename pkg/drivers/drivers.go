// Package drivers wires every built-in C3 driver kind into a single
// driver.Registry, matching the catalogue in §6.3.
package drivers

import (
	"github.com/s3db-tools/cdc-replicator/pkg/driver"
	"github.com/s3db-tools/cdc-replicator/pkg/drivers/bigquery"
	"github.com/s3db-tools/cdc-replicator/pkg/drivers/dynamodb"
	"github.com/s3db-tools/cdc-replicator/pkg/drivers/mongodriver"
	"github.com/s3db-tools/cdc-replicator/pkg/drivers/mysql"
	"github.com/s3db-tools/cdc-replicator/pkg/drivers/postgres"
	"github.com/s3db-tools/cdc-replicator/pkg/drivers/s3db"
	"github.com/s3db-tools/cdc-replicator/pkg/drivers/sqs"
	"github.com/s3db-tools/cdc-replicator/pkg/drivers/webhook"
)

// NewRegistry builds a driver.Registry with every built-in driver kind
// registered: s3db, postgresql/turso/planetscale, mysql/mariadb, bigquery,
// dynamodb, mongodb, sqs, webhook.
func NewRegistry() *driver.Registry {
	reg := driver.NewRegistry()
	s3db.Register(reg)
	postgres.Register(reg)
	mysql.Register(reg)
	bigquery.Register(reg)
	dynamodb.Register(reg)
	mongodriver.Register(reg)
	sqs.Register(reg)
	webhook.Register(reg)
	return reg
}
