package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttribute(t *testing.T) {
	attr := ParseAttribute("string|maxlength:255|required")
	assert.Equal(t, "string", attr.Base)
	assert.Equal(t, 255, attr.MaxLength)
	assert.True(t, attr.Required)

	plain := ParseAttribute("number")
	assert.Equal(t, "number", plain.Base)
	assert.False(t, plain.Required)
	assert.Zero(t, plain.MaxLength)
}

func TestMapTypePostgres(t *testing.T) {
	col := MapType("string|maxlength:40", DialectPostgreSQL)
	assert.Equal(t, "VARCHAR(40)", col.Type)
	assert.True(t, col.Nullable)

	col = MapType("string|required", DialectPostgreSQL)
	assert.Equal(t, "TEXT", col.Type)
	assert.False(t, col.Nullable)

	col = MapType("json", DialectPostgreSQL)
	assert.Equal(t, "JSONB", col.Type)

	col = MapType("embedding:1536", DialectPostgreSQL)
	assert.Equal(t, "JSONB", col.Type)
}

func TestMapTypeTursoSharesPostgresTable(t *testing.T) {
	pg := MapType("ip4", DialectPostgreSQL)
	turso := MapType("ip4", DialectTurso)
	assert.Equal(t, pg.Type, turso.Type)
}

func TestMapTypeMySQL(t *testing.T) {
	col := MapType("boolean", DialectMySQL)
	assert.Equal(t, "TINYINT(1)", col.Type)

	col = MapType("uuid", DialectMySQL)
	assert.Equal(t, "CHAR(36)", col.Type)
}

func TestMapTypeBigQuery(t *testing.T) {
	col := MapType("datetime", DialectBigQuery)
	assert.Equal(t, "TIMESTAMP", col.Type)

	col = MapType("number", DialectBigQuery)
	assert.Equal(t, "FLOAT64", col.Type)
}

func TestTrackingColumnsByMode(t *testing.T) {
	require.Empty(t, TrackingColumns(ModeMutable))
	assert.Len(t, TrackingColumns(ModeAppendOnly), 2)
	assert.Len(t, TrackingColumns(ModeImmutable), 4)
}

func TestStandardColumnsDialectSpecific(t *testing.T) {
	pgCols := StandardColumns(DialectPostgreSQL)
	bqCols := StandardColumns(DialectBigQuery)
	require.Len(t, pgCols, 3)
	require.Len(t, bqCols, 3)
	assert.Equal(t, "TIMESTAMPTZ", pgCols[1].Type)
	assert.Equal(t, "TIMESTAMP", bqCols[1].Type)
}
