package store

import (
	"log"
	"sync"
	"time"

	"github.com/gastownhall/chatsync/internal/chat"
)

// MaxBufferedEvents caps the per-conversation backlog held for conversations
// that have not been seeded yet. When full, the oldest event is dropped.
const MaxBufferedEvents = 256

// bufferTTL is how long an unseeded conversation's backlog is retained
// before being evicted wholesale. Conversations the user never opens should
// not pin memory forever.
const bufferTTL = 10 * time.Minute

type backlog struct {
	events    []chat.Message
	firstSeen time.Time
}

// Dispatcher is the single entry point for inbound push events. Events for
// seeded conversations go straight to the store; events arriving before the
// history snapshot are buffered and flushed, in arrival order, when Seed is
// called.
type Dispatcher struct {
	store *Store

	mu      sync.Mutex
	buffers map[string]*backlog
	now     func() time.Time
}

// NewDispatcher creates a dispatcher feeding the given store.
func NewDispatcher(s *Store) *Dispatcher {
	return &Dispatcher{
		store:   s,
		buffers: make(map[string]*backlog),
		now:     time.Now,
	}
}

// Dispatch routes one push event.
func (d *Dispatcher) Dispatch(conversationID string, msg chat.Message) {
	if d.store.Seeded(conversationID) {
		d.store.Append(conversationID, msg)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweepStaleLocked()

	b, ok := d.buffers[conversationID]
	if !ok {
		b = &backlog{firstSeen: d.now()}
		d.buffers[conversationID] = b
	}
	if len(b.events) >= MaxBufferedEvents {
		// Oldest-dropped-first keeps the backlog bounded for conversations
		// that stay unopened.
		copy(b.events, b.events[1:])
		b.events = b.events[:len(b.events)-1]
		log.Printf("store: backlog full for %s, dropped oldest event", conversationID)
	}
	b.events = append(b.events, msg)
}

// Seed installs the history snapshot for a conversation, then flushes any
// backlog accumulated while the fetch was in flight, in original arrival
// order.
func (d *Dispatcher) Seed(conversationID string, history []chat.Message) {
	d.store.Seed(conversationID, history)

	d.mu.Lock()
	b, ok := d.buffers[conversationID]
	if ok {
		delete(d.buffers, conversationID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	for _, msg := range b.events {
		d.store.Append(conversationID, msg)
	}
}

// Forget drops a conversation's backlog and log, for conversations the
// client has closed.
func (d *Dispatcher) Forget(conversationID string) {
	d.mu.Lock()
	delete(d.buffers, conversationID)
	d.mu.Unlock()
	d.store.Evict(conversationID)
}

// sweepStaleLocked evicts backlogs for conversations that were never seeded
// within the TTL. Piggybacks on event arrival, so no background timer is
// needed.
func (d *Dispatcher) sweepStaleLocked() {
	cutoff := d.now().Add(-bufferTTL)
	for id, b := range d.buffers {
		if b.firstSeen.Before(cutoff) {
			delete(d.buffers, id)
			log.Printf("store: evicted %d stale buffered events for unopened %s", len(b.events), id)
		}
	}
}
