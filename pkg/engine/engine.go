package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sirupsen/logrus"

	"github.com/s3db-tools/cdc-replicator/pkg/bus"
	"github.com/s3db-tools/cdc-replicator/pkg/driver"
	"github.com/s3db-tools/cdc-replicator/pkg/replog"
	"github.com/s3db-tools/cdc-replicator/pkg/schema"
	"github.com/s3db-tools/cdc-replicator/pkg/source"
)

// Logger is satisfied by replog.Logger; declared locally so engine
// does not need replog's persistence backends, only its contract.
type Logger interface {
	Record(ctx context.Context, entry replog.Entry) error
}

// DeadLetterWriter persists a failed op's full payload for manual or
// automated retry (§4.7).
type DeadLetterWriter interface {
	Write(ctx context.Context, entry replog.DeadLetterEntry) error
}

// resolvedBinding pairs one canonical binding with the driver it
// targets, pre-joined at Start so the hot path never looks anything
// up by string key twice. schemaTable is the destination table name
// if drv advertises schema sync, empty otherwise — precomputed so the
// replicate path never type-asserts drv per op.
type resolvedBinding struct {
	replicatorID string
	binding      driver.Binding
	drv          driver.Driver
	schemaTable  string
}

// Engine is C6, the replication engine.
type Engine struct {
	cfg    Config
	src    source.EventSource
	events *bus.Bus
	logger Logger
	dlq    DeadLetterWriter

	persistLog bool
	logErrors  bool

	byResource map[string][]*resolvedBinding
	locks      *schema.Locks

	lanes    *Lanes
	sem      chan struct{}
	batches  map[string]*batch // key: replicatorID + "/" + destination
	batchMu  sync.Mutex

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Options bundles Engine's dependencies.
type Options struct {
	Config           Config
	Source           source.EventSource
	Events           *bus.Bus
	Logger           Logger
	DeadLetterWriter DeadLetterWriter
	PersistLog       bool
	LogErrors        bool
	Bindings         []resolvedBindingInput
	// Locks, when set, is taken (read side) around every replicate call
	// against a schema-sync-capable driver's table, so it can never
	// interleave with a schema sync in progress against that table
	// (§4.4, §5). Callers that also run schema sync (C9) must share the
	// same *schema.Locks between the two.
	Locks *schema.Locks
}

// resolvedBindingInput is the public shape callers (typically the
// plugin surface, C9) use to register a replicator's resolved
// bindings against its constructed driver.
type resolvedBindingInput struct {
	ReplicatorID string
	Bindings     []driver.Binding
	Driver       driver.Driver
}

// NewResolvedBindingInput builds one Bindings entry for Options.
func NewResolvedBindingInput(replicatorID string, bindings []driver.Binding, drv driver.Driver) resolvedBindingInput {
	return resolvedBindingInput{ReplicatorID: replicatorID, Bindings: bindings, Driver: drv}
}

// New builds an Engine from its bindings table; it does not start
// consuming events until Start is called.
func New(opts Options) *Engine {
	e := &Engine{
		cfg:        opts.Config,
		src:        opts.Source,
		events:     opts.Events,
		logger:     opts.Logger,
		dlq:        opts.DeadLetterWriter,
		persistLog: opts.PersistLog,
		logErrors:  opts.LogErrors,
		byResource: make(map[string][]*resolvedBinding),
		locks:      opts.Locks,
		sem:        make(chan struct{}, opts.Config.ReplicatorConcurrency),
		batches:    make(map[string]*batch),
	}
	for _, in := range opts.Bindings {
		rb0 := resolvedBinding{replicatorID: in.ReplicatorID, drv: in.Driver}
		if ss, ok := in.Driver.(driver.SchemaSource); ok {
			rb0.schemaTable = ss.SchemaConfig().TableName
		}
		for _, b := range in.Bindings {
			rb := rb0
			rb.binding = b
			e.byResource[b.SourceResource] = append(e.byResource[b.SourceResource], &rb)
		}
	}
	return e
}

// tableLock returns the lock guarding rb's destination table, or nil
// when rb's driver doesn't advertise schema sync or no lock registry
// was configured.
func (e *Engine) tableLock(rb *resolvedBinding) *schema.TableLock {
	if e.locks == nil || rb.schemaTable == "" {
		return nil
	}
	return e.locks.For(rb.replicatorID, rb.schemaTable)
}

// resources returns the distinct source resource names this engine
// has at least one binding for, used to build the source subscription.
func (e *Engine) resources() []string {
	out := make([]string, 0, len(e.byResource))
	for r := range e.byResource {
		out = append(out, r)
	}
	return out
}

// Start subscribes to the source event stream and processes events
// until ctx is cancelled. It returns once the subscription channel
// closes.
func (e *Engine) Start(ctx context.Context) error {
	for _, d := range e.uniqueDrivers() {
		if err := d.Init(ctx); err != nil {
			logrus.WithError(err).Error("driver init failed")
			return err
		}
	}

	e.lanes = NewLanes(e.cfg.LaneCount, e.cfg.BatchSize)

	resources := e.resources()
	logrus.WithFields(logrus.Fields{
		"resources":  resources,
		"lanes":      e.cfg.LaneCount,
		"concurrent": e.cfg.ReplicatorConcurrency,
	}).Info("replication engine starting")

	ch, err := e.src.Subscribe(ctx, resources)
	if err != nil {
		logrus.WithError(err).Error("subscribe to source failed")
		return err
	}

	for ev := range ch {
		e.dispatch(ctx, ev)
	}
	logrus.Info("replication engine event stream closed")
	return nil
}

// dispatch gathers every bound replicator for ev's resource and routes
// each candidate either to the batch path (fanned out concurrently,
// bounded by replicatorConcurrency) or to its per-key lane — submitted
// here, synchronously, in dispatch order, so the lane's FIFO guarantee
// applies to the actual source-event order rather than to whichever
// goroutine later wins the race to call Submit (§3.3, §5 per-key
// ordering; shouldReplicate/transform run inside the lane closure,
// after ordering is already established).
func (e *Engine) dispatch(ctx context.Context, ev source.MutationEvent) {
	candidates := e.byResource[ev.Resource]
	for _, rb := range candidates {
		if !rb.binding.Allows(ev.Operation) {
			continue
		}
		rb := rb

		if rb.drv.SupportsBatch() {
			e.wg.Add(1)
			select {
			case e.sem <- struct{}{}:
			case <-ctx.Done():
				e.wg.Done()
				return
			}
			go func() {
				defer e.wg.Done()
				defer func() { <-e.sem }()
				e.processOne(ctx, rb, ev)
			}()
			continue
		}

		laneKey := rb.replicatorID + "/" + rb.binding.Destination + "/" + ev.RecordID
		e.lanes.Submit(laneKey, func(laneCtx context.Context) {
			e.processOne(laneCtx, rb, ev)
		})
	}
}

// processOne runs shouldReplicate/transform for one (binding, event)
// pair and then hands the resulting op to either the batch path or a
// direct retrying replicate call, depending on driver capability (§4.6
// step 3). For non-batch drivers this always runs inside the event's
// lane closure, so ordering against other events for the same key is
// already established by the time this runs.
func (e *Engine) processOne(ctx context.Context, rb *resolvedBinding, ev source.MutationEvent) {
	firstSeen := time.Now()

	should := true
	if rb.binding.ShouldReplicate != nil {
		var err error
		should, err = rb.binding.ShouldReplicate(ev.After, ev.Operation)
		if err != nil {
			e.finish(rb, ev, StatusFailed, 0, firstSeen, 1, driver.NewTransformError(ev.Resource, "shouldReplicate failed", err))
			return
		}
	}
	if !should {
		e.finish(rb, ev, StatusSkipped, SkipFiltered, firstSeen, 0, nil)
		return
	}

	after := ev.After
	if rb.binding.Transform != nil {
		transformed, err := rb.binding.Transform(ev.After, ev.Operation)
		if err != nil {
			e.finish(rb, ev, StatusFailed, 0, firstSeen, 1, driver.NewTransformError(ev.Resource, "transform failed", err))
			return
		}
		if transformed == nil {
			e.finish(rb, ev, StatusSkipped, SkipTransformed, firstSeen, 0, nil)
			return
		}
		after = transformed
	}

	op := driver.Op{Binding: &rb.binding, Operation: ev.Operation, RecordID: ev.RecordID, After: after, Before: ev.Before, Timestamp: ev.Timestamp}

	if rb.drv.SupportsBatch() {
		e.enqueueBatch(ctx, rb, ev, op, firstSeen)
		return
	}

	e.replicateWithRetry(ctx, rb, ev, op, firstSeen)
}

func (e *Engine) enqueueBatch(ctx context.Context, rb *resolvedBinding, ev source.MutationEvent, op driver.Op, firstSeen time.Time) {
	key := rb.replicatorID + "/" + rb.binding.Destination
	e.batchMu.Lock()
	b, ok := e.batches[key]
	if !ok {
		drv := rb.drv
		lock := e.tableLock(rb)
		b = newBatch(e.cfg, func(items []queuedOp) { runBatch(ctx, drv, lock, items) })
		e.batches[key] = b
	}
	e.batchMu.Unlock()

	b.Add(queuedOp{op: op, onResult: func(attempt driver.Attempt) {
		status := StatusSuccess
		var outErr error
		if !attempt.Succeeded() {
			status = StatusFailed
			if attempt.Err != nil && attempt.Err.Retriable() {
				laneKey := rb.replicatorID + "/" + rb.binding.Destination + "/" + ev.RecordID
				e.lanes.Submit(laneKey, func(laneCtx context.Context) {
					e.replicateWithRetry(laneCtx, rb, ev, op, firstSeen)
				})
				return
			}
			if attempt.Err != nil {
				outErr = attempt.Err
			}
		}
		e.finish(rb, ev, status, 0, firstSeen, 1, outErr)
	}})
}

func (e *Engine) replicateWithRetry(ctx context.Context, rb *resolvedBinding, ev source.MutationEvent, op driver.Op, firstSeen time.Time) {
	lock := e.tableLock(rb)
	status, attempts, err := execWithRetry(ctx, e.cfg, rb.replicatorID, func(attemptCtx context.Context, n int) driver.Attempt {
		started := time.Now()
		var a driver.Attempt
		withReplicateLock(lock, func() {
			a = rb.drv.Replicate(attemptCtx, op)
		})
		if a.StartedAt.IsZero() {
			a.StartedAt = started
		}
		if a.FinishedAt.IsZero() {
			a.FinishedAt = time.Now()
		}
		a.AttemptNo = n
		return a
	})

	if status == StatusFailed && e.dlq != nil {
		e.dlq.Write(ctx, replog.DeadLetterEntry{
			Replicator: rb.replicatorID,
			Resource:   ev.Resource,
			RecordID:   ev.RecordID,
			Operation:  ev.Operation,
			Payload:    op.After,
			LastError:  errString(err),
		})
	}

	e.finish(rb, ev, status, 0, firstSeen, len(attempts), err)
}

func (e *Engine) finish(rb *resolvedBinding, ev source.MutationEvent, status Status, reason SkipReason, firstSeen time.Time, attempts int, err error) {
	now := time.Now()
	outcome := Outcome{
		Replicator:    rb.replicatorID,
		Resource:      ev.Resource,
		Destination:   rb.binding.Destination,
		RecordID:      ev.RecordID,
		Operation:     ev.Operation,
		Status:        status,
		SkipReason:    reason,
		Attempts:      attempts,
		DurationMs:    now.Sub(firstSeen).Milliseconds(),
		LastError:     err,
		FirstSeenAt:   firstSeen,
		LastAttemptAt: now,
	}

	switch status {
	case StatusSuccess:
		e.events.Publish(bus.Event{Name: bus.Replicated, Replicator: rb.replicatorID, Resource: ev.Resource, Destination: rb.binding.Destination, Payload: map[string]interface{}{"recordId": ev.RecordID, "operation": string(ev.Operation), "durationMs": outcome.DurationMs}})
	case StatusFailed, StatusCancelled:
		e.events.Publish(bus.Event{Name: bus.ReplicatorError, Replicator: rb.replicatorID, Resource: ev.Resource, Destination: rb.binding.Destination, Err: err, Payload: map[string]interface{}{"recordId": ev.RecordID, "attempts": attempts}})
	}

	shouldPersist := e.persistLog && e.logger != nil
	shouldPersistFailureOnly := !e.persistLog && e.logErrors && e.logger != nil && (status == StatusFailed || status == StatusCancelled)
	if shouldPersist || shouldPersistFailureOnly {
		entry := replog.Entry{
			ReplicatorID:  rb.replicatorID,
			Resource:      ev.Resource,
			RecordID:      ev.RecordID,
			Operation:     ev.Operation,
			Status:        string(status),
			Attempts:      attempts,
			FirstSeenAt:   firstSeen,
			LastAttemptAt: now,
			LastError:     errString(err),
		}
		if logErr := e.logger.Record(context.Background(), entry); logErr != nil {
			e.events.Publish(bus.Event{Name: bus.ReplicatorLogError, Replicator: rb.replicatorID, Err: logErr})
			log.Error().Err(logErr).Str("replicator", rb.replicatorID).Msg("failed to persist replication log entry")
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Stop stops accepting new events, drains in-flight work up to
// stopConcurrency parallel close operations, calls Close on every
// driver, and runs any still-queued lane items against the cancelled
// lane context inside the shutdown grace period, so each ends with
// status cancelled and is reported and logged as such (§4.6
// "Cancellation & shutdown"). Grounded on the teacher's ShutdownHandler
// priority-hook drain pattern (pkg/replicator/shutdown.go), generalised
// from per-stream hooks to per-driver close calls bounded by a
// semaphore instead of unconditional WaitGroup.Wait.
func (e *Engine) Stop(ctx context.Context) error {
	var stopErr error
	e.stopOnce.Do(func() {
		logrus.Info("replication engine stopping, draining in-flight work")
		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}

		e.batchMu.Lock()
		for _, b := range e.batches {
			b.Drain()
		}
		e.batchMu.Unlock()

		if e.lanes != nil {
			e.lanes.Stop(ctx)
		}

		drivers := e.uniqueDrivers()
		sem := make(chan struct{}, e.cfg.StopConcurrency)
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, d := range drivers {
			d := d
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				if err := d.Close(ctx); err != nil {
					e.events.Publish(bus.Event{Name: bus.ReplicatorCleanupError, Err: err})
					mu.Lock()
					if stopErr == nil {
						stopErr = err
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		logrus.WithField("err", stopErr).Info("replication engine stopped")
	})
	return stopErr
}

func (e *Engine) uniqueDrivers() []driver.Driver {
	seen := make(map[driver.Driver]bool)
	var out []driver.Driver
	for _, bindings := range e.byResource {
		for _, rb := range bindings {
			if !seen[rb.drv] {
				seen[rb.drv] = true
				out = append(out, rb.drv)
			}
		}
	}
	return out
}
