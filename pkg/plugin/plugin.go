// Package plugin implements C9: the public surface for listing,
// enabling/disabling, and manually backfilling replicators. It wraps
// one engine.Engine per running plugin instance and never reaches
// around it into driver or source internals.
package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/s3db-tools/cdc-replicator/pkg/bus"
	"github.com/s3db-tools/cdc-replicator/pkg/driver"
	"github.com/s3db-tools/cdc-replicator/pkg/engine"
	"github.com/s3db-tools/cdc-replicator/pkg/position"
	"github.com/s3db-tools/cdc-replicator/pkg/schema"
	"github.com/s3db-tools/cdc-replicator/pkg/source"
)

// UnknownReplicatorError is returned by every operation given an id
// that was never registered, carrying the known set per §4.9.
type UnknownReplicatorError struct {
	ID      string
	Known   []string
}

func (e *UnknownReplicatorError) Error() string {
	return fmt.Sprintf("unknown replicator %q, known replicators: %v", e.ID, e.Known)
}

// replicatorState tracks one registered replicator's enabled flag and
// its resolved bindings, independent of whether the engine is
// currently running.
type replicatorState struct {
	id       string
	enabled  bool
	bindings []driver.Binding
	drv      driver.Driver
}

// Plugin is the process-wide C9 surface. It owns the engine and the
// registry of known replicators; Start/Stop delegate to the engine,
// and Sync drives a one-off backfill independent of the live engine
// loop.
type Plugin struct {
	mu           sync.RWMutex
	replicators  map[string]*replicatorState
	order        []string
	eng          *engine.Engine
	src          source.EventSource
	enumerator   source.RecordEnumerator
	engineConfig engine.Config
	events       *bus.Bus
	logger       engine.Logger
	dlq          engine.DeadLetterWriter
	persistLog   bool
	logErrors    bool
	cursors      position.CursorStore
	locks        *schema.Locks
}

// WithCursorStore attaches a resumable cursor store so Sync resumes a
// backfill from its last saved cursor instead of always rescanning
// from the beginning. Optional — a Plugin with no cursor store always
// starts Sync from the beginning, which is the previous behaviour.
func (p *Plugin) WithCursorStore(cs position.CursorStore) *Plugin {
	p.mu.Lock()
	p.cursors = cs
	p.mu.Unlock()
	return p
}

// New creates an empty plugin surface. Replicators are added with
// Register before Start.
func New(src source.EventSource, enumerator source.RecordEnumerator, cfg engine.Config, events *bus.Bus, logger engine.Logger, dlq engine.DeadLetterWriter, persistLog, logErrors bool) *Plugin {
	return &Plugin{
		replicators:  make(map[string]*replicatorState),
		src:          src,
		enumerator:   enumerator,
		engineConfig: cfg,
		events:       events,
		logger:       logger,
		dlq:          dlq,
		persistLog:   persistLog,
		logErrors:    logErrors,
		locks:        schema.NewLocks(),
	}
}

// Register adds a replicator's resolved bindings and constructed
// driver to the plugin, enabled by default per §6.2.
func (p *Plugin) Register(id string, bindings []driver.Binding, drv driver.Driver, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.replicators[id]; !exists {
		p.order = append(p.order, id)
	}
	p.replicators[id] = &replicatorState{id: id, enabled: enabled, bindings: bindings, drv: drv}
}

// List returns every registered replicator id in registration order.
func (p *Plugin) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// Enabled reports whether a replicator is currently enabled.
func (p *Plugin) Enabled(id string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rs, ok := p.replicators[id]
	if !ok {
		return false, p.unknown(id)
	}
	return rs.enabled, nil
}

// Enable turns a replicator on. Takes effect on the next Start.
func (p *Plugin) Enable(id string) error { return p.setEnabled(id, true) }

// Disable turns a replicator off. Takes effect on the next Start.
func (p *Plugin) Disable(id string) error { return p.setEnabled(id, false) }

func (p *Plugin) setEnabled(id string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.replicators[id]
	if !ok {
		return p.unknown(id)
	}
	rs.enabled = enabled
	return nil
}

func (p *Plugin) unknown(id string) error {
	known := make([]string, 0, len(p.order))
	known = append(known, p.order...)
	return &UnknownReplicatorError{ID: id, Known: known}
}

// Start builds the engine from every currently-enabled replicator and
// begins consuming source events. Disabled replicators are excluded
// entirely — their bindings never reach the engine's routing table.
func (p *Plugin) Start(ctx context.Context) error {
	p.mu.RLock()
	opts := engine.Options{
		Config:           p.engineConfig,
		Source:           p.src,
		Events:           p.events,
		Logger:           p.logger,
		DeadLetterWriter: p.dlq,
		PersistLog:       p.persistLog,
		LogErrors:        p.logErrors,
		Locks:            p.locks,
	}
	var enabled []*replicatorState
	for _, id := range p.order {
		rs := p.replicators[id]
		if !rs.enabled {
			continue
		}
		enabled = append(enabled, rs)
		opts.Bindings = append(opts.Bindings, engine.NewResolvedBindingInput(id, rs.bindings, rs.drv))
	}
	p.mu.RUnlock()

	// Driver handles are acquired here, at start rather than on a
	// driver's first op, and schema sync runs once per table before the
	// engine ever consumes an event (§3.4, §4.4).
	synced := make(map[driver.Driver]bool)
	for _, rs := range enabled {
		if err := rs.drv.Init(ctx); err != nil {
			return driver.NewPermanent(rs.id, "start", "driver init failed", err)
		}
		if synced[rs.drv] {
			continue
		}
		synced[rs.drv] = true
		if err := p.syncSchema(ctx, rs); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.eng = engine.New(opts)
	eng := p.eng
	p.mu.Unlock()

	return eng.Start(ctx)
}

// syncSchema runs the startup introspect -> plan -> apply cycle for
// rs's driver, when it advertises schema sync. An onMismatch=error
// failure propagates out of Start and keeps the plugin from running
// (§3.4, §4.4, §7).
func (p *Plugin) syncSchema(ctx context.Context, rs *replicatorState) error {
	ss, ok := rs.drv.(driver.SchemaSource)
	if !ok {
		return nil
	}
	cfg := ss.SchemaConfig()
	syncer := schema.NewSyncer(rs.id, rs.drv, p.locks, p.events)
	return syncer.Sync(ctx, cfg.TableName, cfg.Expected, cfg.Strategy, cfg.OnMismatch, cfg.AutoCreateTable, cfg.DropMissingColumns)
}

// replicate calls rs.drv.Replicate, holding the destination table's
// read lock when the driver advertises schema sync so this call can
// never interleave with a schema sync in progress (§3.3, §5).
func (p *Plugin) replicate(ctx context.Context, rs *replicatorState, op driver.Op) driver.Attempt {
	ss, ok := rs.drv.(driver.SchemaSource)
	if !ok {
		return rs.drv.Replicate(ctx, op)
	}
	lock := p.locks.For(rs.id, ss.SchemaConfig().TableName)
	var attempt driver.Attempt
	lock.WithReplicate(func() {
		attempt = rs.drv.Replicate(ctx, op)
	})
	return attempt
}

// Stop gracefully stops the running engine, if any.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.RLock()
	eng := p.eng
	p.mu.RUnlock()
	if eng == nil {
		return nil
	}
	return eng.Stop(ctx)
}

// Sync triggers a manual full backfill of one replicator: enumerate
// every existing record of each of its bound source resources and
// call replicate for each as though it had just been inserted (§4.9).
// It bypasses the live event stream entirely, so it may run
// concurrently with Start/Stop.
func (p *Plugin) Sync(ctx context.Context, id string) (SyncReport, error) {
	p.mu.RLock()
	rs, ok := p.replicators[id]
	p.mu.RUnlock()
	if !ok {
		return SyncReport{}, p.unknown(id)
	}

	if err := rs.drv.Init(ctx); err != nil {
		return SyncReport{}, driver.NewPermanent(id, "sync", "driver init failed", err)
	}

	report := SyncReport{ReplicatorID: id}
	seenResources := make(map[string]bool)

	for _, b := range rs.bindings {
		if seenResources[b.SourceResource] {
			continue
		}
		seenResources[b.SourceResource] = true

		afterCursor := ""
		cursorKey := position.Key(id, b.SourceResource)
		if p.cursors != nil {
			if saved, err := p.cursors.Load(ctx, cursorKey); err == nil {
				afterCursor = saved
			} else if err != position.ErrNotFound {
				return report, fmt.Errorf("load sync cursor for %q: %w", cursorKey, err)
			}
		}

		records := make(chan source.EnumeratedRecord, 64)
		errCh := make(chan error, 1)
		go func(resource, afterCursor string) {
			errCh <- p.enumerator.Enumerate(ctx, resource, afterCursor, records)
			close(records)
		}(b.SourceResource, afterCursor)

		var lastCursor string
		for rec := range records {
			for _, binding := range rs.bindings {
				if binding.SourceResource != b.SourceResource || !binding.Allows(driver.Inserted) {
					continue
				}
				report.RecordsProcessed++

				should, err := binding.ShouldReplicate(rec.After, driver.Inserted)
				if err != nil {
					report.Failures++
					continue
				}
				if !should {
					continue
				}

				after := rec.After
				if binding.Transform != nil {
					transformed, err := binding.Transform(rec.After, driver.Inserted)
					if err != nil {
						report.Failures++
						continue
					}
					if transformed == nil {
						continue
					}
					after = transformed
				}

				attempt := p.replicate(ctx, rs, driver.Op{
					Binding:   &binding,
					Operation: driver.Inserted,
					RecordID:  rec.RecordID,
					After:     after,
					Timestamp: time.Now(),
				})
				if !attempt.Succeeded() {
					report.Failures++
				}
			}
			if rec.Cursor != "" {
				lastCursor = rec.Cursor
			}
		}
		if err := <-errCh; err != nil {
			return report, err
		}

		if p.cursors != nil && lastCursor != "" {
			if err := p.cursors.Save(ctx, cursorKey, lastCursor); err != nil {
				return report, fmt.Errorf("save sync cursor for %q: %w", cursorKey, err)
			}
		}
	}

	return report, nil
}

// SyncReport summarises one manual backfill run.
type SyncReport struct {
	ReplicatorID     string
	RecordsProcessed int
	Failures         int
}
