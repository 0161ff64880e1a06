// Package source defines the external collaborator boundary: the
// document store whose mutations this engine replicates out. The
// engine only ever depends on these interfaces, never on a concrete
// document-store client, mirroring the teacher's StreamEventHandler /
// StreamDiscovery separation between event delivery and schema
// introspection (pkg/streams/interface.go).
package source

import (
	"context"
	"time"

	"github.com/s3db-tools/cdc-replicator/pkg/driver"
)

// MutationEvent is one change notification raised by the source store
// for a single resource/document.
type MutationEvent struct {
	Resource  string
	RecordID  string
	Operation driver.Operation
	After     driver.Record
	Before    driver.Record
	Timestamp time.Time
}

// EventSource is implemented by the document store's change feed. The
// engine calls Subscribe once per enabled replicator and drains events
// off the returned channel until ctx is cancelled, at which point the
// channel is closed.
type EventSource interface {
	Subscribe(ctx context.Context, resources []string) (<-chan MutationEvent, error)
}

// AttributeDecl is one source attribute declaration as authored in the
// resource's schema (e.g. "string|maxlength:255|required").
type AttributeDecl struct {
	Name string
	Decl string
}

// ResourceIntrospector exposes the source-side schema the type mapper
// (C1) and schema synchroniser (C4) need, without coupling either to a
// concrete store client.
type ResourceIntrospector interface {
	Attributes(ctx context.Context, resource string) ([]AttributeDecl, error)
}

// RecordEnumerator supports the manual full-sync operation (C9): a
// cursor-resumable scan over every existing record of a resource,
// independent of the live change feed.
type RecordEnumerator interface {
	// Enumerate streams every current record of resource to out in
	// stable order, starting after the given opaque cursor (empty
	// string means "from the beginning"). Each record carries the
	// Cursor to resume from if the scan is interrupted; the returned
	// error is nil when the scan completed.
	Enumerate(ctx context.Context, resource string, afterCursor string, out chan<- EnumeratedRecord) error
}

// EnumeratedRecord is one record yielded by RecordEnumerator.
type EnumeratedRecord struct {
	RecordID string
	After    driver.Record
	Cursor   string
}
