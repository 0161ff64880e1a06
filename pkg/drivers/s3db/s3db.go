// Package s3db implements the "same-kind backup" destination: a
// second instance of the source document store, written to with the
// source's own object model and no schema translation. Writes are
// idempotent by primary key; delete removes the document outright.
//
// No S3DB client exists anywhere in the reference pack, so — as with
// pkg/drivers/bigquery's BigQuery client — this driver is built on the
// nearest available document-store client instead of fabricating one.
// The teacher's own pkg/estuary/mongo.go (MongoEndpoint.WriteEvent:
// InsertOne per record, no schema translation) is the closest analogue
// to "write the record verbatim into a sibling document store", so
// this driver shares mongodriver's connection and upsert/remove shape.
package s3db

import (
	"context"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

const Kind = "s3db"

type Config struct {
	ConnectionURI string `mapstructure:"connectionUri"`
	Database      string `mapstructure:"database"`
	Collection    string `mapstructure:"collection"`
}

func Register(reg *driver.Registry) {
	reg.Register(Kind, build)
}

func build(name string, raw map[string]interface{}) (driver.Driver, error) {
	var cfg Config
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, driver.NewConfigError(name, "failed to decode s3db driver config", err)
	}
	if cfg.ConnectionURI == "" || cfg.Database == "" || cfg.Collection == "" {
		return nil, driver.NewConfigError(name, "s3db driver requires connectionUri, database, and collection", nil)
	}
	return &Driver{name: name, cfg: cfg}, nil
}

// Driver backs up records verbatim — no transform of the document
// shape happens here beyond stamping the primary key, since the whole
// point of a same-kind backup is an untranslated copy.
type Driver struct {
	name string
	cfg  Config
	coll *mongo.Collection
	conn *mongo.Client
}

func (d *Driver) Init(ctx context.Context) error {
	if d.conn != nil {
		return nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(d.cfg.ConnectionURI))
	if err != nil {
		return driver.NewPermanent(d.name, "init", "failed to connect to backup store", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return driver.NewPermanent(d.name, "init", "failed to ping backup store", err)
	}
	d.conn = client
	d.coll = client.Database(d.cfg.Database).Collection(d.cfg.Collection)
	return nil
}

func (d *Driver) SupportsBatch() bool      { return false }
func (d *Driver) SupportsSchemaSync() bool { return false }

func (d *Driver) Replicate(ctx context.Context, op driver.Op) driver.Attempt {
	started := time.Now()
	var err error

	switch op.Operation {
	case driver.Inserted, driver.Updated:
		doc := bson.M{}
		for k, v := range op.After {
			doc[k] = v
		}
		doc["_id"] = op.RecordID
		_, err = d.coll.ReplaceOne(ctx, bson.M{"_id": op.RecordID}, doc, options.Replace().SetUpsert(true))
	case driver.Deleted:
		_, err = d.coll.DeleteOne(ctx, bson.M{"_id": op.RecordID})
	}

	if err != nil {
		return driver.Attempt{AttemptNo: 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeRetriable, Err: driver.NewTransient(d.name, string(op.Operation), "backup store write failed", err)}
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

func (d *Driver) SyncSchema(ctx context.Context, plan driver.SchemaPlan) (driver.SchemaDiff, error) {
	return driver.SchemaDiff{}, nil
}

func (d *Driver) IntrospectSchema(ctx context.Context, tableName string) (*driver.TableSchema, error) {
	return nil, nil
}

func (d *Driver) Close(ctx context.Context) error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Disconnect(ctx)
}
