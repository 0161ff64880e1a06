package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

func newDriverForServer(t *testing.T, url string) *Driver {
	drv, err := build("wh1", map[string]interface{}{"url": url})
	require.NoError(t, err)
	return drv.(*Driver)
}

func TestReplicateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newDriverForServer(t, srv.URL)
	attempt := d.Replicate(t.Context(), driver.Op{Binding: &driver.Binding{Replicator: "r1", SourceResource: "users"}, Operation: driver.Inserted, RecordID: "1", After: driver.Record{"x": 1}})
	assert.True(t, attempt.Succeeded())
}

func TestReplicateRetriableStatusWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := newDriverForServer(t, srv.URL)
	attempt := d.Replicate(t.Context(), driver.Op{Binding: &driver.Binding{Replicator: "r1", SourceResource: "users"}, Operation: driver.Inserted, RecordID: "1"})
	assert.Equal(t, driver.OutcomeRetriable, attempt.Outcome)
	assert.Equal(t, 2*time.Second, attempt.Err.RetryAfter)
}

func TestReplicatePermanentOnNonRetriable4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := newDriverForServer(t, srv.URL)
	attempt := d.Replicate(t.Context(), driver.Op{Binding: &driver.Binding{Replicator: "r1", SourceResource: "users"}, Operation: driver.Inserted, RecordID: "1"})
	assert.Equal(t, driver.OutcomePermanent, attempt.Outcome)
}

func TestReplicateBearerAuthHeaderSent(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	drv, err := build("wh1", map[string]interface{}{"url": srv.URL, "auth": "bearer", "token": "s3cr3t"})
	require.NoError(t, err)
	d := drv.(*Driver)

	attempt := d.Replicate(t.Context(), driver.Op{Binding: &driver.Binding{Replicator: "r1", SourceResource: "users"}, Operation: driver.Inserted, RecordID: "1"})
	require.True(t, attempt.Succeeded())
	assert.Equal(t, "Bearer s3cr3t", gotAuth.Load())
}

func TestBuildRequiresURL(t *testing.T) {
	_, err := build("wh1", map[string]interface{}{})
	require.Error(t, err)
}

func TestRequestsPerSecondConfiguresLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	drv, err := build("wh1", map[string]interface{}{"url": srv.URL, "requestsPerSecond": 5.0})
	require.NoError(t, err)
	d := drv.(*Driver)
	require.NotNil(t, d.limiter)
	assert.Equal(t, 5.0, float64(d.limiter.Limit()))

	for i := 0; i < 3; i++ {
		attempt := d.Replicate(t.Context(), driver.Op{Binding: &driver.Binding{Replicator: "r1", SourceResource: "users"}, Operation: driver.Inserted, RecordID: "1"})
		require.True(t, attempt.Succeeded())
	}
}

func TestRequestsPerSecondCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	drv, err := build("wh1", map[string]interface{}{"url": srv.URL, "requestsPerSecond": 1.0})
	require.NoError(t, err)
	d := drv.(*Driver)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	attempt := d.Replicate(ctx, driver.Op{Binding: &driver.Binding{Replicator: "r1", SourceResource: "users"}, Operation: driver.Inserted, RecordID: "1"})
	assert.Equal(t, driver.OutcomePermanent, attempt.Outcome)
	require.Error(t, attempt.Err)
}

func TestNoRateLimitWhenUnconfigured(t *testing.T) {
	d := newDriverForServer(t, "http://example.invalid")
	assert.Nil(t, d.limiter)
}
