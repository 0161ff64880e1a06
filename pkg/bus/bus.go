// Package bus implements C8: an in-process, non-blocking event bus the
// engine uses to narrate replication lifecycle events (successes,
// errors, schema-sync outcomes) to observers without ever blocking
// replication on a slow subscriber. Structurally grounded on the
// teacher's pgnotify.Bus (mutex-guarded subscriber map, Publish/
// Subscribe/Unsubscribe/Close), generalized from Postgres LISTEN/NOTIFY
// delivery to in-process channel fan-out, and on pkg/events.RecordEvent
// for the event-name vocabulary.
package bus

import (
	"sync"
	"time"
)

// Name is one of the canonical event names (§4.8, Open Question
// decision in SPEC_FULL.md §F).
type Name string

const (
	Replicated            Name = "replicated"
	ReplicatorError       Name = "replicator_error"
	ReplicatorLogError    Name = "replicator_log_error"
	ReplicatorCleanupError Name = "replicator_cleanup_error"
	TableCreated          Name = "table_created"
	TableAltered          Name = "table_altered"
	TableRecreated        Name = "table_recreated"
	SchemaSyncCompleted   Name = "schema_sync_completed"
	SchemaSyncFailed      Name = "schema_sync_failed"
	ConfigWarning         Name = "configWarning"
)

// Event is one published notification.
type Event struct {
	Name       Name
	Replicator string
	Resource   string
	Destination string
	Payload    map[string]interface{}
	Err        error
	At         time.Time
}

// subscriberQueueSize bounds how far a slow subscriber can lag before
// the bus starts dropping its events rather than blocking Publish.
const subscriberQueueSize = 64

type subscriber struct {
	ch     chan Event
	filter map[Name]bool // nil means "all names"
}

// Bus fans events out to every subscriber without ever blocking the
// publisher: a subscriber whose queue is full has its oldest
// unconsumed event dropped to make room, rather than stalling
// replication (§4.8).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	dropped     map[int]int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[int]*subscriber),
		dropped:     make(map[int]int),
	}
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	id   int
	bus  *Bus
	Chan <-chan Event
}

// Unsubscribe stops delivery and releases the subscriber's queue.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subscribers, s.id)
		delete(s.bus.dropped, s.id)
	}
}

// Subscribe registers a new observer. When names is non-empty, only
// events whose Name is in the list are delivered; an empty list means
// "every event".
func (b *Bus) Subscribe(names ...Name) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	var filter map[Name]bool
	if len(names) > 0 {
		filter = make(map[Name]bool, len(names))
		for _, n := range names {
			filter[n] = true
		}
	}

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, subscriberQueueSize), filter: filter}
	b.subscribers[id] = sub

	return &Subscription{id: id, bus: b, Chan: sub.ch}
}

// Publish delivers ev to every matching subscriber without blocking.
// A subscriber whose buffer is full has its oldest queued event
// discarded and a drop counted, so one slow observer can never stall
// the replication hot path.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter[ev.Name] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
				b.dropped[id]++
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				b.dropped[id]++
			}
		}
	}
}

// Dropped returns the number of events dropped for a given subscription
// because its queue stayed full, for diagnostics/tests.
func (b *Bus) Dropped(s *Subscription) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[s.id]
}

// Close unsubscribes every observer and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.dropped = make(map[int]int)
}
