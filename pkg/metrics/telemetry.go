// Package metrics implements the engine's observability surface: an
// OpenTelemetry meter backed by a Prometheus exporter, fed by
// subscribing to the event bus (§4.8) rather than by the engine
// calling into it directly. Grounded on the teacher's
// pkg/metrics/telemetry.go (TelemetryManager lifecycle,
// counters/histograms/observable-gauges map, createResource), reworked
// from per-stream event/byte counters onto the replicated /
// replicator_error / schema-sync / log / cleanup vocabulary this
// module's pkg/bus actually emits.
package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/rs/zerolog/log"

	"github.com/s3db-tools/cdc-replicator/pkg/bus"
)

// TelemetryConfig controls whether and how metrics are exported.
// Mirrors the shape of the teacher's config.TelemetryConfig
// (enabled/service identity/labels) without the stream-specific OTLP
// endpoint field, since this module exports via the Prometheus
// exporter rather than an OTLP collector.
type TelemetryConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Labels         map[string]string
}

// DefaultTelemetryConfig matches the teacher's DefaultTelemetryConfig
// intent: metrics on, identified as this service.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        true,
		ServiceName:    "cdc-replicator",
		ServiceVersion: "dev",
		Environment:    "development",
	}
}

// TelemetryManager owns the meter provider, the Prometheus registry it
// exports through, and the instrument set recorded from bus events.
type TelemetryManager struct {
	config   TelemetryConfig
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram

	sub *bus.Subscription

	mu      sync.Mutex
	started bool
}

// NewTelemetryManager builds (but does not start) a telemetry manager.
func NewTelemetryManager(cfg TelemetryConfig) (*TelemetryManager, error) {
	tm := &TelemetryManager{
		config:     cfg,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
	if !cfg.Enabled {
		log.Info().Msg("telemetry disabled")
		return tm, nil
	}
	if err := tm.initialize(); err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	return tm, nil
}

func (tm *TelemetryManager) initialize() error {
	tm.registry = prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(tm.registry))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	tm.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(tm.createResource()),
	)
	otel.SetMeterProvider(tm.provider)

	tm.meter = tm.provider.Meter(tm.config.ServiceName, metric.WithInstrumentationVersion(tm.config.ServiceVersion))

	return tm.createInstruments()
}

func (tm *TelemetryManager) createResource() *resource.Resource {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", tm.config.ServiceName),
		attribute.String("service.version", tm.config.ServiceVersion),
		attribute.String("environment", tm.config.Environment),
	}
	for k, v := range tm.config.Labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func (tm *TelemetryManager) createInstruments() error {
	var err error

	tm.counters["replicated"], err = tm.meter.Int64Counter(
		"cdc_replicated_total",
		metric.WithDescription("Terminal successful replications"),
		metric.WithUnit("1"))
	if err != nil {
		return err
	}

	tm.counters["replicator_errors"], err = tm.meter.Int64Counter(
		"cdc_replicator_errors_total",
		metric.WithDescription("Replication attempts that ended in error, retriable or not"),
		metric.WithUnit("1"))
	if err != nil {
		return err
	}

	tm.counters["schema_sync_completed"], err = tm.meter.Int64Counter(
		"cdc_schema_sync_completed_total",
		metric.WithDescription("Successful schema-sync runs"),
		metric.WithUnit("1"))
	if err != nil {
		return err
	}

	tm.counters["schema_sync_failed"], err = tm.meter.Int64Counter(
		"cdc_schema_sync_failed_total",
		metric.WithDescription("Failed schema-sync runs"),
		metric.WithUnit("1"))
	if err != nil {
		return err
	}

	tm.counters["log_errors"], err = tm.meter.Int64Counter(
		"cdc_replicator_log_errors_total",
		metric.WithDescription("Failures writing the replication log collection"),
		metric.WithUnit("1"))
	if err != nil {
		return err
	}

	tm.counters["cleanup_errors"], err = tm.meter.Int64Counter(
		"cdc_replicator_cleanup_errors_total",
		metric.WithDescription("Failures during graceful shutdown"),
		metric.WithUnit("1"))
	if err != nil {
		return err
	}

	tm.histograms["replicate_duration"], err = tm.meter.Float64Histogram(
		"cdc_replicate_duration_seconds",
		metric.WithDescription("Duration of one terminal-outcome replication op"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}

	return nil
}

// Start marks the manager ready; the meter/exporter are already wired
// up by NewTelemetryManager, so this exists to mirror the teacher's
// Start/Stop lifecycle pairing and to guard double-start.
func (tm *TelemetryManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.started {
		return fmt.Errorf("telemetry manager already started")
	}
	tm.started = true
	log.Info().Bool("enabled", tm.config.Enabled).Msg("telemetry manager started")
	return nil
}

// Stop unsubscribes from the bus (if Subscribe was called) and shuts
// the meter provider down, flushing any buffered exports.
func (tm *TelemetryManager) Stop(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if !tm.started {
		return nil
	}
	if tm.sub != nil {
		tm.sub.Unsubscribe()
		tm.sub = nil
	}
	if tm.provider != nil {
		if err := tm.provider.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("failed to shut down meter provider")
		}
	}
	tm.started = false
	return nil
}

// Subscribe wires the manager to b: every event recognised in §4.8 is
// turned into a counter increment or histogram observation. Runs in
// its own goroutine until Stop (or ctx cancellation) ends it, and
// never blocks b.Publish — the bus itself already guarantees that by
// dropping from full subscriber queues rather than stalling.
func (tm *TelemetryManager) Subscribe(ctx context.Context, b *bus.Bus) {
	if !tm.config.Enabled {
		return
	}
	sub := b.Subscribe()
	tm.mu.Lock()
	tm.sub = sub
	tm.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Chan:
				if !ok {
					return
				}
				tm.record(ev)
			}
		}
	}()
}

func (tm *TelemetryManager) record(ev bus.Event) {
	attrs := metric.WithAttributes(
		attribute.String("replicator", ev.Replicator),
		attribute.String("resource", ev.Resource),
	)
	ctx := context.Background()

	switch ev.Name {
	case bus.Replicated:
		tm.counters["replicated"].Add(ctx, 1, attrs)
		if ms, ok := ev.Payload["durationMs"].(int64); ok {
			tm.histograms["replicate_duration"].Record(ctx, float64(ms)/1000, attrs)
		}
	case bus.ReplicatorError:
		tm.counters["replicator_errors"].Add(ctx, 1, attrs)
	case bus.SchemaSyncCompleted:
		tm.counters["schema_sync_completed"].Add(ctx, 1, attrs)
	case bus.SchemaSyncFailed:
		tm.counters["schema_sync_failed"].Add(ctx, 1, attrs)
	case bus.ReplicatorLogError:
		tm.counters["log_errors"].Add(ctx, 1, attrs)
	case bus.ReplicatorCleanupError:
		tm.counters["cleanup_errors"].Add(ctx, 1, attrs)
	}
}

// Registry exposes the underlying Prometheus registry for a /metrics
// HTTP handler (see prometheus.go). Returns nil when telemetry is
// disabled.
func (tm *TelemetryManager) Registry() *prometheus.Registry {
	return tm.registry
}

