// Package schema implements C4: the schema synchroniser. Planner is
// the pure plan-building half (§4.4 steps 1-3); Syncer (syncer.go) is
// the I/O half that introspects, applies, and serialises access to a
// destination table against concurrent replicate calls (§5).
package schema

import (
	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

// BuildPlan derives the migration plan for one destination table by
// comparing the actual column set (nil when the table does not yet
// exist) against the expected set computed from source attributes via
// the type mapper (§4.4 steps 1-3).
func BuildPlan(tableName string, actual *driver.TableSchema, expected []driver.ColumnDef, strategy driver.SchemaStrategy, onMismatch driver.OnMismatch, autoCreateTable, dropMissingColumns bool) driver.SchemaPlan {
	plan := driver.SchemaPlan{
		TableName:          tableName,
		Strategy:           strategy,
		OnMismatch:         onMismatch,
		DropMissingColumns: dropMissingColumns,
	}

	if actual == nil {
		if autoCreateTable {
			plan.CreateIfMissing = true
			plan.ColumnsToAdd = append([]driver.ColumnDef(nil), expected...)
		}
		return plan
	}

	actualByName := make(map[string]driver.ColumnDef, len(actual.Columns))
	for _, c := range actual.Columns {
		actualByName[c.Name] = c
	}

	for _, want := range expected {
		got, present := actualByName[want.Name]
		if !present {
			plan.ColumnsToAdd = append(plan.ColumnsToAdd, want)
			continue
		}
		if got.Type != want.Type {
			plan.ColumnsMismatch = append(plan.ColumnsMismatch, driver.ColumnMismatch{
				Name:     want.Name,
				Expected: want.Type,
				Actual:   got.Type,
			})
		}
	}

	return plan
}
