// Package rooms tracks which conversation rooms the client has asked the
// server to push into, and replays the full set after every reconnect so no
// room is silently dropped.
package rooms

import (
	"log"
	"sync"

	"github.com/gastownhall/chatsync/internal/chat"
)

// Wire issues join/leave messages for a room. Implemented by the connection
// manager; injected so the tracker can be exercised without a transport.
type Wire interface {
	JoinRoom(conv chat.Conversation) error
	LeaveRoom(conv chat.Conversation) error
}

// Tracker owns the subscription set. The set is process-wide state: after any
// successful (re)connect, the server-side set must equal this one.
type Tracker struct {
	wire Wire

	mu    sync.Mutex
	order []chat.Conversation // stable insertion order, drives replay
	index map[string]int      // conversation id → position in order
}

// NewTracker creates an empty tracker issuing joins over the given wire.
func NewTracker(w Wire) *Tracker {
	return &Tracker{
		wire:  w,
		index: make(map[string]int),
	}
}

// Join records the conversation in the subscription set and issues the wire
// join. Joining an already-tracked room is a no-op at the wire level.
func (t *Tracker) Join(conv chat.Conversation) error {
	t.mu.Lock()
	if _, ok := t.index[conv.ID]; ok {
		t.mu.Unlock()
		return nil
	}
	t.index[conv.ID] = len(t.order)
	t.order = append(t.order, conv)
	t.mu.Unlock()

	return t.wire.JoinRoom(conv)
}

// Leave removes the conversation from the subscription set and issues the
// wire leave. Leaving an untracked room is a no-op.
func (t *Tracker) Leave(conv chat.Conversation) error {
	t.mu.Lock()
	pos, ok := t.index[conv.ID]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	delete(t.index, conv.ID)
	t.order = append(t.order[:pos], t.order[pos+1:]...)
	for i := pos; i < len(t.order); i++ {
		t.index[t.order[i].ID] = i
	}
	t.mu.Unlock()

	return t.wire.LeaveRoom(conv)
}

// Contains reports whether the conversation is currently tracked.
func (t *Tracker) Contains(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.index[conversationID]
	return ok
}

// Set returns the tracked conversations in insertion order.
func (t *Tracker) Set() []chat.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]chat.Conversation, len(t.order))
	copy(out, t.order)
	return out
}

// Replay re-issues a join for every tracked room in insertion order. Called
// after every reconnect, before any new inbound event for those rooms is
// trusted.
func (t *Tracker) Replay() {
	for _, conv := range t.Set() {
		if err := t.wire.JoinRoom(conv); err != nil {
			log.Printf("rooms: replay join %s failed: %v", conv.ID, err)
		}
	}
}
