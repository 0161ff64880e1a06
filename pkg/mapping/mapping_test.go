package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

func TestResolveListForm(t *testing.T) {
	spec := ReplicatorSpec{
		ID: "orders-sync",
		Resources: []RawResource{
			{Source: "users", SameNameOnly: true},
			{Source: "orders", SameNameOnly: true},
		},
	}
	bindings, err := Resolve(spec)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, "users", bindings[0].Destination)
	assert.True(t, bindings[0].Allows(driver.Inserted))
	assert.True(t, bindings[0].Allows(driver.Deleted))
}

func TestResolveFlatMapForm(t *testing.T) {
	spec := ReplicatorSpec{
		ID:        "r1",
		Resources: []RawResource{{Source: "users", RenameOnly: "people"}},
	}
	bindings, err := Resolve(spec)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "people", bindings[0].Destination)
}

func TestResolveMultiDestinationForm(t *testing.T) {
	spec := ReplicatorSpec{
		ID: "r1",
		Resources: []RawResource{
			{
				Source: "users",
				Destinations: []RawDestination{
					{Destination: "people"},
					{Destination: "analytics", Actions: []driver.Operation{driver.Inserted}},
				},
			},
		},
	}
	bindings, err := Resolve(spec)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, "people", bindings[0].Destination)
	assert.Equal(t, "analytics", bindings[1].Destination)
	assert.True(t, bindings[1].Allows(driver.Inserted))
	assert.False(t, bindings[1].Allows(driver.Deleted))
}

func TestResolveEmptyActionsProducesInertBinding(t *testing.T) {
	spec := ReplicatorSpec{
		ID: "r1",
		Resources: []RawResource{
			{Source: "users", Destinations: []RawDestination{{Destination: "people", Actions: []driver.Operation{}}}},
		},
	}
	bindings, err := Resolve(spec)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.True(t, Inert(&bindings[0]))
}

func TestResolveUnknownActionIsConfigError(t *testing.T) {
	spec := ReplicatorSpec{
		ID: "r1",
		Resources: []RawResource{
			{Source: "users", Destinations: []RawDestination{{Destination: "people", Actions: []driver.Operation{"bogus"}}}},
		},
	}
	_, err := Resolve(spec)
	require.Error(t, err)
	var cfgErr *driver.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestResolveMissingTransformDefaultsToIdentity(t *testing.T) {
	spec := ReplicatorSpec{
		ID:        "r1",
		Resources: []RawResource{{Source: "users", SameNameOnly: true}},
	}
	bindings, err := Resolve(spec)
	require.NoError(t, err)
	rec := driver.Record{"id": "1"}
	out, err := bindings[0].Transform(rec, driver.Inserted)
	require.NoError(t, err)
	assert.Equal(t, rec, out)

	ok, err := bindings[0].ShouldReplicate(rec, driver.Inserted)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDecodeResourcesListForm(t *testing.T) {
	raw := []interface{}{"users", "orders"}
	res, err := DecodeResources("r1", raw)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.True(t, res[0].SameNameOnly)
}

func TestDecodeResourcesFlatMapForm(t *testing.T) {
	raw := map[string]interface{}{"users": "people"}
	res, err := DecodeResources("r1", raw)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "people", res[0].RenameOnly)
}

func TestDecodeResourcesObjectForm(t *testing.T) {
	raw := map[string]interface{}{
		"users": map[string]interface{}{
			"destination": "people",
			"actions":     []interface{}{"inserted", "updated"},
		},
	}
	res, err := DecodeResources("r1", raw)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Destinations, 1)
	assert.Equal(t, "people", res[0].Destinations[0].Destination)
	assert.Equal(t, []driver.Operation{driver.Inserted, driver.Updated}, res[0].Destinations[0].Actions)
}

func TestDecodeResourcesUnsupportedTypeIsConfigError(t *testing.T) {
	_, err := DecodeResources("r1", 42)
	require.Error(t, err)
	var cfgErr *driver.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCompileShouldReplicateFiltersByField(t *testing.T) {
	fn, err := CompileShouldReplicate(`.status != "draft"`)
	require.NoError(t, err)

	ok, err := fn(driver.Record{"status": "draft"}, driver.Inserted)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fn(driver.Record{"status": "published"}, driver.Inserted)
	require.NoError(t, err)
	assert.True(t, ok)
}
