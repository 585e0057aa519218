// Package chat defines the conversation and message model shared by the
// synchronization layer. Identity for confirmed messages always originates
// server-side; the client only fabricates temporary ids for optimistic sends.
package chat

import "time"

// Kind distinguishes the two conversation shapes.
type Kind string

const (
	KindGroup  Kind = "group"
	KindDirect Kind = "direct"
)

// Conversation is a group or direct chat, referenced by id. Membership and
// profile detail live with the server; the sync layer only needs identity.
type Conversation struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// Status tracks a message's confirmation lifecycle.
type Status string

const (
	// StatusPending marks a locally-originated send awaiting the server's
	// broadcast echo.
	StatusPending Status = "pending"
	// StatusConfirmed marks a message with a server-assigned identity.
	StatusConfirmed Status = "confirmed"
	// StatusFailed marks an optimistic send that received no confirmation
	// within the reconciliation window.
	StatusFailed Status = "failed"
)

// Message is one entry in a conversation log. For pending entries ID holds a
// locally-generated temporary id and CreatedAt the local issue time.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	AuthorID       string    `json:"authorId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Status         Status    `json:"status"`
}

// Confirmed reports whether the message carries a server-assigned identity.
func (m Message) Confirmed() bool {
	return m.Status == StatusConfirmed
}

// Less is the canonical log order: ascending (CreatedAt, ID), with pending
// entries placed after confirmed ones among equal timestamps. Two pending
// entries with the same timestamp compare equal so a stable sort keeps them
// in local issue order.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.Confirmed() != b.Confirmed() {
		return a.Confirmed()
	}
	if a.Confirmed() {
		return a.ID < b.ID
	}
	return false
}
