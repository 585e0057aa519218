// Package store holds the per-conversation message logs and the merge
// algorithm that reconciles three racy inputs — a history snapshot, live push
// events, and locally-originated optimistic sends — into one ordered,
// duplicate-free log per conversation.
package store

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gastownhall/chatsync/internal/chat"
)

// DefaultReconcileWindow bounds how long after a local send a broadcast echo
// may still claim the pending entry.
const DefaultReconcileWindow = 10 * time.Second

// pendingSend tracks one unconfirmed optimistic entry.
type pendingSend struct {
	conversationID string
	authorID       string
	content        string
	issuedAt       time.Time
}

// Store is the canonical read surface for conversation logs. All mutation
// goes through Seed, Append, SendOptimistic and SweepPending; a failed
// operation never leaves a log half-modified.
type Store struct {
	mu      sync.Mutex
	logs    map[string][]chat.Message
	seeded  map[string]bool
	pending map[string]pendingSend // temp id → pending send

	window time.Duration
	now    func() time.Time
}

// New creates an empty store with the default reconciliation window.
func New() *Store {
	return &Store{
		logs:    make(map[string][]chat.Message),
		seeded:  make(map[string]bool),
		pending: make(map[string]pendingSend),
		window:  DefaultReconcileWindow,
		now:     time.Now,
	}
}

// Seeded reports whether the conversation has received its history snapshot.
func (s *Store) Seeded(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeded[conversationID]
}

// Seed replaces the conversation's log with the history snapshot, sorted and
// deduplicated by id. Pending entries already issued for the conversation
// survive seeding so an in-flight optimistic send is not lost.
func (s *Store) Seed(conversationID string, history []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(history))
	merged := make([]chat.Message, 0, len(history))
	for _, m := range history {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m.ConversationID = conversationID
		m.Status = chat.StatusConfirmed
		merged = append(merged, m)
	}
	for _, m := range s.logs[conversationID] {
		if !m.Confirmed() {
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return chat.Less(merged[i], merged[j]) })

	s.logs[conversationID] = merged
	s.seeded[conversationID] = true
}

// Append merges one confirmed message into the conversation's log. Duplicate
// deliveries of an already-confirmed id are discarded. A message matching a
// pending local entry (same author and content, arriving within the
// reconciliation window) replaces that entry in place; anything else is
// inserted in sort order.
func (s *Store) Append(conversationID string, msg chat.Message) {
	if msg.ID == "" {
		log.Printf("store: dropping message without id for %s", conversationID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ConversationID = conversationID
	msg.Status = chat.StatusConfirmed

	entries := s.logs[conversationID]
	for _, e := range entries {
		if e.Confirmed() && e.ID == msg.ID {
			return // at-least-once delivery, already applied
		}
	}

	if idx, tempID, ok := s.matchPendingLocked(conversationID, msg); ok {
		entries[idx] = msg
		delete(s.pending, tempID)
		s.logs[conversationID] = entries
		return
	}

	i := sort.Search(len(entries), func(i int) bool { return chat.Less(msg, entries[i]) })
	entries = append(entries, chat.Message{})
	copy(entries[i+1:], entries[i:])
	entries[i] = msg
	s.logs[conversationID] = entries
}

// matchPendingLocked finds the oldest pending entry reconcilable with msg.
// Reconciliation is heuristic: the server does not echo the temporary id, so
// author + content + a bounded arrival window is the best available match.
func (s *Store) matchPendingLocked(conversationID string, msg chat.Message) (int, string, bool) {
	entries := s.logs[conversationID]
	for i, e := range entries {
		if e.Status != chat.StatusPending {
			continue
		}
		p, ok := s.pending[e.ID]
		if !ok {
			continue
		}
		if p.authorID != msg.AuthorID || p.content != msg.Content {
			continue
		}
		if s.now().Sub(p.issuedAt) > s.window {
			continue
		}
		return i, e.ID, true
	}
	return 0, "", false
}

// SendOptimistic inserts a pending entry with a locally-generated temporary
// id and returns that id for later reconciliation or failure reporting. At
// most one pending entry exists per issued send; entries land at the end of
// the log (local issue time is the latest timestamp the client knows about).
func (s *Store) SendOptimistic(conversationID, authorID, content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tempID := uuid.NewString()
	issued := s.now()
	s.pending[tempID] = pendingSend{
		conversationID: conversationID,
		authorID:       authorID,
		content:        content,
		issuedAt:       issued,
	}
	s.logs[conversationID] = append(s.logs[conversationID], chat.Message{
		ID:             tempID,
		ConversationID: conversationID,
		AuthorID:       authorID,
		Content:        content,
		CreatedAt:      issued,
		Status:         chat.StatusPending,
	})
	return tempID
}

// FailedSend identifies an optimistic entry that timed out unreconciled.
type FailedSend struct {
	ConversationID string
	TempID         string
	Content        string
}

// SweepPending marks every pending entry older than the reconciliation
// window as failed and reports them. The entries stay in the log flagged as
// failed so the caller can surface a retryable send error.
func (s *Store) SweepPending() []FailedSend {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []FailedSend
	now := s.now()
	for tempID, p := range s.pending {
		if now.Sub(p.issuedAt) <= s.window {
			continue
		}
		delete(s.pending, tempID)
		entries := s.logs[p.conversationID]
		for i, e := range entries {
			if e.ID == tempID {
				entries[i].Status = chat.StatusFailed
				break
			}
		}
		failed = append(failed, FailedSend{
			ConversationID: p.conversationID,
			TempID:         tempID,
			Content:        p.content,
		})
	}
	return failed
}

// DropFailed removes a failed entry, typically after the user retried or
// dismissed the send.
func (s *Store) DropFailed(conversationID, tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.logs[conversationID]
	for i, e := range entries {
		if e.ID == tempID && e.Status == chat.StatusFailed {
			s.logs[conversationID] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Log returns a copy of the conversation's ordered log.
func (s *Store) Log(conversationID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[conversationID]
	out := make([]chat.Message, len(entries))
	copy(out, entries)
	return out
}

// Evict frees a closed conversation's log and pending bookkeeping.
func (s *Store) Evict(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, conversationID)
	delete(s.seeded, conversationID)
	for tempID, p := range s.pending {
		if p.conversationID == conversationID {
			delete(s.pending, tempID)
		}
	}
}
