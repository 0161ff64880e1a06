package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

func expectedCols() []driver.ColumnDef {
	return []driver.ColumnDef{
		{Name: "id", Type: "TEXT"},
		{Name: "name", Type: "TEXT"},
		{Name: "age", Type: "DOUBLE PRECISION"},
	}
}

func TestBuildPlanTableMissingAutoCreate(t *testing.T) {
	plan := BuildPlan("users", nil, expectedCols(), driver.StrategyAlter, driver.OnMismatchError, true, false)
	assert.True(t, plan.CreateIfMissing)
	assert.Len(t, plan.ColumnsToAdd, 3)
	assert.False(t, plan.Empty())
}

func TestBuildPlanTableMissingNoAutoCreate(t *testing.T) {
	plan := BuildPlan("users", nil, expectedCols(), driver.StrategyAlter, driver.OnMismatchError, false, false)
	assert.False(t, plan.CreateIfMissing)
	assert.Empty(t, plan.ColumnsToAdd)
	assert.True(t, plan.Empty())
}

func TestBuildPlanAddsMissingColumnsOnly(t *testing.T) {
	actual := &driver.TableSchema{Name: "users", Columns: []driver.ColumnDef{
		{Name: "id", Type: "TEXT"},
		{Name: "name", Type: "TEXT"},
	}}
	plan := BuildPlan("users", actual, expectedCols(), driver.StrategyAlter, driver.OnMismatchError, true, false)
	require.Len(t, plan.ColumnsToAdd, 1)
	assert.Equal(t, "age", plan.ColumnsToAdd[0].Name)
	assert.Empty(t, plan.ColumnsMismatch)
}

func TestBuildPlanDetectsTypeMismatch(t *testing.T) {
	actual := &driver.TableSchema{Name: "users", Columns: []driver.ColumnDef{
		{Name: "id", Type: "TEXT"},
		{Name: "name", Type: "TEXT"},
		{Name: "age", Type: "TEXT"},
	}}
	plan := BuildPlan("users", actual, expectedCols(), driver.StrategyAlter, driver.OnMismatchError, true, false)
	require.Len(t, plan.ColumnsMismatch, 1)
	assert.Equal(t, "age", plan.ColumnsMismatch[0].Name)
	assert.Equal(t, "DOUBLE PRECISION", plan.ColumnsMismatch[0].Expected)
	assert.Equal(t, "TEXT", plan.ColumnsMismatch[0].Actual)
}

func TestBuildPlanIdempotentOnSecondRun(t *testing.T) {
	first := BuildPlan("users", nil, expectedCols(), driver.StrategyAlter, driver.OnMismatchError, true, false)
	require.False(t, first.Empty())

	afterApply := &driver.TableSchema{Name: "users", Columns: expectedCols()}
	second := BuildPlan("users", afterApply, expectedCols(), driver.StrategyAlter, driver.OnMismatchError, true, false)
	assert.True(t, second.Empty())
}
