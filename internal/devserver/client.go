package devserver

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/gastownhall/chatsync/internal/wire"
)

// client is one connected websocket session.
type client struct {
	conn   *websocket.Conn
	server *Server
	userID string
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	handshakeDone bool
}

func newClient(conn *websocket.Conn, server *Server, userID string) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		conn:   conn,
		server: server,
		userID: userID,
		send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *client) run() {
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer c.cancel()
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		c.handleMessage(data)
	}
}

func (c *client) writePump() {
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "") }()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("devserver: marshal message: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("devserver: dropping message for slow client %s", c.userID)
	}
}

func (c *client) sendError(msg string) {
	c.sendJSON(wire.ServerEnvelope{Type: wire.TypeError, Error: msg})
}

func (c *client) handleMessage(data []byte) {
	var msg wire.ClientEnvelope
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid JSON")
		return
	}

	if !c.handshakeDone {
		if msg.Type != wire.TypeHello {
			c.sendError("handshake required: send hello first")
			return
		}
		c.handleHello(msg)
		return
	}

	switch msg.Type {
	case wire.TypeHello:
		c.sendError("already handshaked")
	case wire.TypeJoinGroup:
		c.handleJoinGroup(msg)
	case wire.TypeLeaveGroup:
		c.handleLeaveGroup(msg)
	case wire.TypeSendGroupMessage:
		c.handleSendGroupMessage(msg)
	case wire.TypeJoinDirectChat:
		c.handleJoinDirectChat(msg)
	case wire.TypeLeaveDirectChat:
		c.handleLeaveDirectChat(msg)
	case wire.TypeSendDirectMessage:
		c.handleSendDirectMessage(msg)
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (c *client) handleHello(msg wire.ClientEnvelope) {
	ok := msg.Protocol == wire.Protocol
	if !ok {
		c.sendJSON(wire.ServerEnvelope{Type: wire.TypeHello, OK: boolPtr(false), Error: "unsupported protocol version"})
		return
	}
	c.handshakeDone = true
	c.sendJSON(wire.ServerEnvelope{Type: wire.TypeHello, OK: boolPtr(true), Protocol: wire.Protocol})
}

func (c *client) handleJoinGroup(msg wire.ClientEnvelope) {
	if msg.GroupID == "" {
		c.sendError("groupId required")
		return
	}

	s := c.server
	s.mu.Lock()
	room := s.ensureGroupLocked(msg.GroupID)
	room.members[c] = struct{}{}
	history := append([]wire.GroupMessage(nil), room.history...)
	members := memberSet(room.members)
	s.mu.Unlock()

	// History echo on join, then notify the room.
	c.sendJSON(wire.ServerEnvelope{Type: wire.TypeGroupMessages, GroupID: msg.GroupID, Messages: history})
	for _, m := range members {
		if m != c {
			m.sendJSON(wire.ServerEnvelope{Type: wire.TypeUserJoinedGroup, UserID: c.userID, GroupID: msg.GroupID})
		}
	}
}

func (c *client) handleLeaveGroup(msg wire.ClientEnvelope) {
	s := c.server
	s.mu.Lock()
	if room, ok := s.groups[msg.GroupID]; ok {
		delete(room.members, c)
	}
	s.mu.Unlock()
}

func (c *client) handleSendGroupMessage(msg wire.ClientEnvelope) {
	if msg.GroupID == "" || msg.Content == "" {
		c.sendError("groupId and content required")
		return
	}

	s := c.server
	out := wire.GroupMessage{
		ID:        uuid.NewString(),
		Content:   msg.Content,
		UserID:    c.userID,
		GroupID:   msg.GroupID,
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	room := s.ensureGroupLocked(msg.GroupID)
	room.history = append(room.history, out)
	members := memberSet(room.members)
	s.mu.Unlock()

	// Broadcast to every member, sender included: the echo is what confirms
	// the client's optimistic entry.
	for _, m := range members {
		m.sendJSON(wire.ServerEnvelope{Type: wire.TypeNewGroupMessage, Message: &out})
	}
}

func (c *client) handleJoinDirectChat(msg wire.ClientEnvelope) {
	if msg.ChatID == "" {
		c.sendError("chatId required")
		return
	}

	s := c.server
	s.mu.Lock()
	room := s.ensureDirectLocked(msg.ChatID)
	room.members[c] = struct{}{}
	history := append([]wire.DirectMessage(nil), room.history...)
	meta := room.meta
	s.mu.Unlock()

	c.sendJSON(wire.ServerEnvelope{
		Type:           wire.TypeDirectMessages,
		ChatID:         msg.ChatID,
		DirectMessages: history,
		Chat:           &meta,
	})
}

func (c *client) handleLeaveDirectChat(msg wire.ClientEnvelope) {
	s := c.server
	s.mu.Lock()
	if room, ok := s.chats[msg.ChatID]; ok {
		delete(room.members, c)
	}
	s.mu.Unlock()
}

func (c *client) handleSendDirectMessage(msg wire.ClientEnvelope) {
	if msg.ChatID == "" || msg.Content == "" {
		c.sendError("chatId and content required")
		return
	}

	s := c.server
	out := wire.DirectMessage{
		ID:        uuid.NewString(),
		Content:   msg.Content,
		SenderID:  c.userID,
		ChatID:    msg.ChatID,
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	room := s.ensureDirectLocked(msg.ChatID)
	room.history = append(room.history, out)
	members := memberSet(room.members)
	s.mu.Unlock()

	for _, m := range members {
		m.sendJSON(wire.ServerEnvelope{Type: wire.TypeNewDirectMessage, DirectMessage: &out})
	}
}

func boolPtr(b bool) *bool {
	return &b
}
