package source

import (
	"context"
	"sync"
)

// Fake is an in-memory EventSource/ResourceIntrospector/RecordEnumerator
// used by engine and plugin tests and by cmd/cdcd, in place of a live
// document store.
type Fake struct {
	mu          sync.Mutex
	events      chan MutationEvent
	attributes  map[string][]AttributeDecl
	records     map[string][]EnumeratedRecord
	subscribed  []string
}

// NewFake builds an empty fake source with a buffered event channel.
func NewFake() *Fake {
	return &Fake{
		events:     make(chan MutationEvent, 256),
		attributes: make(map[string][]AttributeDecl),
		records:    make(map[string][]EnumeratedRecord),
	}
}

// Subscribe records the requested resources and returns the shared
// event channel; it closes when ctx is cancelled.
func (f *Fake) Subscribe(ctx context.Context, resources []string) (<-chan MutationEvent, error) {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, resources...)
	f.mu.Unlock()

	out := make(chan MutationEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-f.events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Emit pushes a synthetic mutation onto the fake's event stream.
func (f *Fake) Emit(ev MutationEvent) {
	f.events <- ev
}

// SetAttributes configures the attribute declarations returned for a
// resource.
func (f *Fake) SetAttributes(resource string, attrs []AttributeDecl) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attributes[resource] = attrs
}

func (f *Fake) Attributes(ctx context.Context, resource string) ([]AttributeDecl, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attributes[resource], nil
}

// SetRecords configures the records returned by Enumerate for a resource.
func (f *Fake) SetRecords(resource string, recs []EnumeratedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[resource] = recs
}

func (f *Fake) Enumerate(ctx context.Context, resource string, afterCursor string, out chan<- EnumeratedRecord) error {
	f.mu.Lock()
	recs := f.records[resource]
	f.mu.Unlock()

	started := afterCursor == ""
	for _, r := range recs {
		if !started {
			if r.Cursor == afterCursor {
				started = true
			}
			continue
		}
		select {
		case out <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribed returns every resource list passed to Subscribe, for
// assertions in tests.
func (f *Fake) Subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}
