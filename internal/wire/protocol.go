// Package wire defines the JSON protocol spoken over the duplex channel and
// the REST payload shapes, plus normalization into the chat model. Group and
// direct messages use different field names on the wire (groupId/userId vs
// chatId/senderId); everything is normalized to chat.Message at the boundary.
package wire

import (
	"time"

	"github.com/gastownhall/chatsync/internal/chat"
)

// Protocol is the handshake protocol identifier carried by hello.
const Protocol = "chatsync.v1"

// Client→server message types.
const (
	TypeHello             = "hello"
	TypeJoinGroup         = "join-group"
	TypeLeaveGroup        = "leave-group"
	TypeSendGroupMessage  = "send-group-message"
	TypeJoinDirectChat    = "join-direct-chat"
	TypeLeaveDirectChat   = "leave-direct-chat"
	TypeSendDirectMessage = "send-direct-message"
)

// Server→client message types.
const (
	TypeGroupMessages    = "group-messages"
	TypeNewGroupMessage  = "new-group-message"
	TypeDirectMessages   = "direct-messages"
	TypeNewDirectMessage = "new-direct-message"
	TypeUserJoinedGroup  = "user-joined-group"
	TypeError            = "error"
)

// GroupMessage is a group message as it appears on the wire and in REST
// history responses.
type GroupMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	UserID    string    `json:"userId"`
	GroupID   string    `json:"groupId"`
	CreatedAt time.Time `json:"createdAt"`
}

// DirectMessage is a direct-chat message as it appears on the wire and in
// REST history responses.
type DirectMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	ChatID    string    `json:"chatId"`
	CreatedAt time.Time `json:"createdAt"`
}

// DirectChat is the chat metadata attached to a direct-messages echo.
type DirectChat struct {
	ID        string    `json:"id"`
	UserAID   string    `json:"userAId"`
	UserBID   string    `json:"userBId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ClientEnvelope is a client→server message. Type selects which optional
// fields are meaningful.
type ClientEnvelope struct {
	Type     string `json:"type"`
	Protocol string `json:"protocol,omitempty"`
	Token    string `json:"token,omitempty"`
	GroupID  string `json:"groupId,omitempty"`
	ChatID   string `json:"chatId,omitempty"`
	Content  string `json:"content,omitempty"`
}

// ServerEnvelope is a server→client message. Type selects which optional
// fields are meaningful.
type ServerEnvelope struct {
	Type           string          `json:"type"`
	OK             *bool           `json:"ok,omitempty"`
	Error          string          `json:"error,omitempty"`
	Protocol       string          `json:"protocol,omitempty"`
	GroupID        string          `json:"groupId,omitempty"`
	ChatID         string          `json:"chatId,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	Messages       []GroupMessage  `json:"messages,omitempty"`
	Message        *GroupMessage   `json:"message,omitempty"`
	DirectMessages []DirectMessage `json:"directMessages,omitempty"`
	DirectMessage  *DirectMessage  `json:"directMessage,omitempty"`
	Chat           *DirectChat     `json:"chat,omitempty"`
}

// Normalize converts a wire group message to the canonical model. Anything
// arriving from the server or REST history is confirmed by definition.
func (m GroupMessage) Normalize() chat.Message {
	return chat.Message{
		ID:             m.ID,
		ConversationID: m.GroupID,
		AuthorID:       m.UserID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		Status:         chat.StatusConfirmed,
	}
}

// Normalize converts a wire direct message to the canonical model.
func (m DirectMessage) Normalize() chat.Message {
	return chat.Message{
		ID:             m.ID,
		ConversationID: m.ChatID,
		AuthorID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		Status:         chat.StatusConfirmed,
	}
}

// NormalizeGroup converts a slice of wire group messages.
func NormalizeGroup(in []GroupMessage) []chat.Message {
	out := make([]chat.Message, 0, len(in))
	for _, m := range in {
		out = append(out, m.Normalize())
	}
	return out
}

// NormalizeDirect converts a slice of wire direct messages.
func NormalizeDirect(in []DirectMessage) []chat.Message {
	out := make([]chat.Message, 0, len(in))
	for _, m := range in {
		out = append(out, m.Normalize())
	}
	return out
}

// Join returns the join envelope for a conversation of either kind.
func Join(conv chat.Conversation) ClientEnvelope {
	if conv.Kind == chat.KindDirect {
		return ClientEnvelope{Type: TypeJoinDirectChat, ChatID: conv.ID}
	}
	return ClientEnvelope{Type: TypeJoinGroup, GroupID: conv.ID}
}

// Leave returns the leave envelope for a conversation of either kind.
func Leave(conv chat.Conversation) ClientEnvelope {
	if conv.Kind == chat.KindDirect {
		return ClientEnvelope{Type: TypeLeaveDirectChat, ChatID: conv.ID}
	}
	return ClientEnvelope{Type: TypeLeaveGroup, GroupID: conv.ID}
}

// Send returns the send envelope for a conversation of either kind.
func Send(conv chat.Conversation, content string) ClientEnvelope {
	if conv.Kind == chat.KindDirect {
		return ClientEnvelope{Type: TypeSendDirectMessage, ChatID: conv.ID, Content: content}
	}
	return ClientEnvelope{Type: TypeSendGroupMessage, GroupID: conv.ID, Content: content}
}
