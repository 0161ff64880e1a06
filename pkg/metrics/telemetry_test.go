package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-tools/cdc-replicator/pkg/bus"
)

func TestNewTelemetryManagerDisabledSkipsSetup(t *testing.T) {
	tm, err := NewTelemetryManager(TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, tm.Registry())
}

func TestNewTelemetryManagerEnabledBuildsRegistry(t *testing.T) {
	tm, err := NewTelemetryManager(DefaultTelemetryConfig())
	require.NoError(t, err)
	assert.NotNil(t, tm.Registry())
}

func TestSubscribeRecordsReplicatedCounter(t *testing.T) {
	tm, err := NewTelemetryManager(DefaultTelemetryConfig())
	require.NoError(t, err)
	require.NoError(t, tm.Start(context.Background()))

	b := bus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tm.Subscribe(ctx, b)

	b.Publish(bus.Event{Name: bus.Replicated, Replicator: "r1", Resource: "users", Payload: map[string]interface{}{"durationMs": int64(12)}})

	// Delivery to the subscriber goroutine is asynchronous; give it a
	// moment before asserting via the gathered registry.
	time.Sleep(20 * time.Millisecond)

	families, err := tm.Registry().Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "cdc_replicated_total" {
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, tm.Stop(context.Background()))
}

func TestStartTwiceErrors(t *testing.T) {
	tm, err := NewTelemetryManager(TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, tm.Start(context.Background()))
	require.Error(t, tm.Start(context.Background()))
}
