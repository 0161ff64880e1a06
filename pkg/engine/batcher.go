package engine

import (
	"context"
	"sync"
	"time"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
	"github.com/s3db-tools/cdc-replicator/pkg/schema"
)

// queuedOp is one op waiting in a batch buffer, paired with the
// callback the engine uses to turn its eventual Attempt into an
// Outcome.
type queuedOp struct {
	op       driver.Op
	onResult func(driver.Attempt)
}

// batch accumulates ops for one (replicator, destination) pair and
// flushes them to the driver's batch call either when full or when
// the oldest item has waited batchTimeoutMs (§4.6 "Batching").
type batch struct {
	mu      sync.Mutex
	items   []queuedOp
	timer   *time.Timer
	flushFn func([]queuedOp)
	cfg     Config
}

func newBatch(cfg Config, flushFn func([]queuedOp)) *batch {
	return &batch{cfg: cfg, flushFn: flushFn}
}

// Add appends an op to the buffer, flushing immediately if it is now
// full, or arming a timer to flush it if this is the first item.
func (b *batch) Add(item queuedOp) {
	b.mu.Lock()
	b.items = append(b.items, item)
	full := len(b.items) >= b.cfg.BatchSize
	first := len(b.items) == 1
	if first && !full {
		b.timer = time.AfterFunc(b.cfg.batchTimeout(), b.flushOnTimer)
	}
	var toFlush []queuedOp
	if full {
		toFlush = b.drainLocked()
	}
	b.mu.Unlock()

	if toFlush != nil {
		b.flushFn(toFlush)
	}
}

func (b *batch) flushOnTimer() {
	b.mu.Lock()
	toFlush := b.drainLocked()
	b.mu.Unlock()
	if toFlush != nil {
		b.flushFn(toFlush)
	}
}

// drainLocked must be called with b.mu held; it clears the buffer and
// stops any pending timer.
func (b *batch) drainLocked() []queuedOp {
	if len(b.items) == 0 {
		return nil
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	items := b.items
	b.items = nil
	return items
}

// Drain forces an immediate flush of whatever is buffered, used during
// shutdown.
func (b *batch) Drain() {
	b.mu.Lock()
	toFlush := b.drainLocked()
	b.mu.Unlock()
	if toFlush != nil {
		b.flushFn(toFlush)
	}
}

// runBatch calls the driver's batch API and distributes each Attempt
// back to its queuedOp's callback, falling back to a per-item replay
// against Replicate when the batch call itself fails wholesale (§4.6:
// "If the batch call fails with a retriable error, the engine falls
// back to per-item replay"). lock, when non-nil, is held for reading
// around every driver call so a schema sync in progress against this
// table can never interleave with it (§3.3, §5).
func runBatch(ctx context.Context, drv driver.Driver, lock *schema.TableLock, items []queuedOp) {
	ops := make([]driver.Op, len(items))
	for i, it := range items {
		ops[i] = it.op
	}
	var attempts []driver.Attempt
	withReplicateLock(lock, func() {
		attempts = drv.ReplicateBatch(ctx, ops)
	})
	if len(attempts) != len(items) {
		for _, it := range items {
			attempt := singleReplicate(ctx, drv, lock, it.op)
			it.onResult(attempt)
		}
		return
	}
	for i, it := range items {
		it.onResult(attempts[i])
	}
}

func singleReplicate(ctx context.Context, drv driver.Driver, lock *schema.TableLock, op driver.Op) driver.Attempt {
	started := time.Now()
	var attempt driver.Attempt
	withReplicateLock(lock, func() {
		attempt = drv.Replicate(ctx, op)
	})
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = started
	}
	if attempt.FinishedAt.IsZero() {
		attempt.FinishedAt = time.Now()
	}
	return attempt
}

// withReplicateLock runs fn under lock's read side, or directly when
// lock is nil (driver not schema-sync-capable, or locks disabled).
func withReplicateLock(lock *schema.TableLock, fn func()) {
	if lock == nil {
		fn()
		return
	}
	lock.WithReplicate(fn)
}
