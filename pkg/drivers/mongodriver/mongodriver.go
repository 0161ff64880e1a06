// Package mongodriver implements the MongoDB destination driver: one
// collection per destination, upsert-by-id for insert/update, and a
// real delete for deletes. The destination's native _id is preserved
// verbatim when the source record already carries one; otherwise it
// is derived from the replicated recordId so repeated replays of the
// same record are idempotent.
//
// Grounded on the teacher's pkg/position/mongo_tracker.go (MongoConfig
// field set — connection URI, database, collection, pool sizing,
// read/write concern — and the FindOne/ReplaceOne-with-upsert shape of
// MongoTracker.Save), generalised from "one document per stream
// position" to "one document per destination record".
package mongodriver

import (
	"context"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

const Kind = "mongodb"

type Config struct {
	ConnectionURI string `mapstructure:"connectionUri"`
	Database      string `mapstructure:"database"`
	Collection    string `mapstructure:"collection"`
	ConnectTimeoutMs int `mapstructure:"connectTimeoutMs"`
}

func Register(reg *driver.Registry) {
	reg.Register(Kind, build)
}

func build(name string, raw map[string]interface{}) (driver.Driver, error) {
	var cfg Config
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, driver.NewConfigError(name, "failed to decode mongodb driver config", err)
	}
	if cfg.ConnectionURI == "" || cfg.Database == "" || cfg.Collection == "" {
		return nil, driver.NewConfigError(name, "mongodb driver requires connectionUri, database, and collection", nil)
	}
	if cfg.ConnectTimeoutMs == 0 {
		cfg.ConnectTimeoutMs = 10000
	}
	return &Driver{name: name, cfg: cfg}, nil
}

type Driver struct {
	name   string
	cfg    Config
	client *mongo.Client
	coll   *mongo.Collection
}

func (d *Driver) Init(ctx context.Context) error {
	if d.client != nil {
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.ConnectTimeoutMs)*time.Millisecond)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(d.cfg.ConnectionURI))
	if err != nil {
		return driver.NewPermanent(d.name, "init", "failed to connect to mongodb", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return driver.NewPermanent(d.name, "init", "failed to ping mongodb", err)
	}
	d.client = client
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
		err = d.upsert(ctx, op)
	case driver.Deleted:
		err = d.remove(ctx, op)
	}

	if err != nil {
		return driver.Attempt{AttemptNo: 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeRetriable, Err: driver.NewTransient(d.name, string(op.Operation), "mongodb request failed", err)}
	}
	return driver.Attempt{AttemptNo: 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeSuccess}
}

func (d *Driver) docID(op driver.Op) interface{} {
	if op.After != nil {
		if id, ok := op.After["_id"]; ok {
			return id
		}
	}
	return op.RecordID
}

func (d *Driver) upsert(ctx context.Context, op driver.Op) error {
	doc := bson.M{}
	for k, v := range op.After {
		doc[k] = v
	}
	doc["_id"] = d.docID(op)

	_, err := d.coll.ReplaceOne(ctx, bson.M{"_id": d.docID(op)}, doc, options.Replace().SetUpsert(true))
	return err
}

func (d *Driver) remove(ctx context.Context, op driver.Op) error {
	_, err := d.coll.DeleteOne(ctx, bson.M{"_id": d.docID(op)})
	return err
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
	if d.client == nil {
		return nil
	}
	return d.client.Disconnect(ctx)
}
