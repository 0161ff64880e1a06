// Package dynamodb implements the DynamoDB destination driver: a
// configurable partition key (default "id"), one full-item PutItem
// for both inserts and updates, and DeleteItem for deletes. Updates
// are not sent as update expressions. The sortKey setting is decoded
// but no request uses it: items are addressed by the partition key
// alone.
//
// Grounded on 2lar-b2's backend2 GraphRepository (attributevalue.
// MarshalMap(item) -> PutItemInput) for the item-marshalling shape,
// generalised from one hand-written struct per aggregate to a plain
// map[string]interface{} since this driver has no static schema of
// its own.
package dynamodb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/mitchellh/mapstructure"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

const Kind = "dynamodb"

type Config struct {
	Table         string `mapstructure:"table"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"` // for local/testing endpoints
	PartitionKey  string `mapstructure:"partitionKey"`
	SortKey       string `mapstructure:"sortKey"`
}

func Register(reg *driver.Registry) {
	reg.Register(Kind, build)
}

func build(name string, raw map[string]interface{}) (driver.Driver, error) {
	var cfg Config
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, driver.NewConfigError(name, "failed to decode dynamodb driver config", err)
	}
	if cfg.Table == "" {
		return nil, driver.NewConfigError(name, "dynamodb driver requires a \"table\"", nil)
	}
	if cfg.PartitionKey == "" {
		cfg.PartitionKey = "id"
	}
	return &Driver{name: name, cfg: cfg}, nil
}

type Driver struct {
	name   string
	cfg    Config
	client *dynamodb.Client
}

func (d *Driver) Init(ctx context.Context) error {
	if d.client != nil {
		return nil
	}
	optFns := []func(*config.LoadOptions) error{}
	if d.cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(d.cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return driver.NewPermanent(d.name, "init", "failed to load AWS config", err)
	}
	d.client = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if d.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(d.cfg.Endpoint)
		}
	})
	return nil
}

func (d *Driver) SupportsBatch() bool      { return false }
func (d *Driver) SupportsSchemaSync() bool { return false }

func (d *Driver) Replicate(ctx context.Context, op driver.Op) driver.Attempt {
	started := time.Now()

	var err error
	switch op.Operation {
	case driver.Inserted, driver.Updated:
		err = d.put(ctx, op)
	case driver.Deleted:
		err = d.delete(ctx, op)
	}

	if err != nil {
		return driver.Attempt{AttemptNo: 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeRetriable, Err: driver.NewTransient(d.name, string(op.Operation), "dynamodb request failed", err)}
	}
	return driver.Attempt{AttemptNo: 1, StartedAt: started, FinishedAt: time.Now(), Outcome: driver.OutcomeSuccess}
}

// put implements both insert and update as a single idempotent
// PutItem — DynamoDB has no distinct "update in place" primitive that
// is simpler than a full item replace when the engine already has the
// full After image, so safe update expressions are reserved for the
// case this driver doesn't need here but documents for completeness.
func (d *Driver) put(ctx context.Context, op driver.Op) error {
	item := make(map[string]interface{}, len(op.After)+1)
	for k, v := range op.After {
		item[k] = v
	}
	item[d.cfg.PartitionKey] = op.RecordID

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.cfg.Table),
		Item:      av,
	})
	return err
}

// updateFields demonstrates the safe update-expression path for
// drivers that need a partial update rather than a full replace.
func (d *Driver) updateFields(ctx context.Context, key map[string]types.AttributeValue, fields map[string]interface{}) error {
	builder := expression.UpdateBuilder{}
	for k, v := range fields {
		builder = builder.Set(expression.Name(k), expression.Value(v))
	}
	expr, err := expression.NewBuilder().WithUpdate(builder).Build()
	if err != nil {
		return err
	}
	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.cfg.Table),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

func (d *Driver) delete(ctx context.Context, op driver.Op) error {
	key := map[string]interface{}{d.cfg.PartitionKey: op.RecordID}
	av, err := attributevalue.MarshalMap(key)
	if err != nil {
		return err
	}
	_, err = d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.cfg.Table),
		Key:       av,
	})
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

func (d *Driver) Close(ctx context.Context) error { return nil }
