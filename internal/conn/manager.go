// Package conn owns the single duplex transport session. It dials, performs
// the authenticated handshake, pumps inbound events, and reconnects with
// bounded exponential backoff when the transport drops. Consumers observe
// everything as one ordered stream of tagged events, so a state change is
// always seen before any push event from the connection that caused it.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"nhooyr.io/websocket"

	"github.com/gastownhall/chatsync/internal/chat"
	"github.com/gastownhall/chatsync/internal/wire"
)

// ErrNotConnected is returned by Send while the transport is down. Sends are
// not queued across reconnects; callers retry once the state is Connected.
var ErrNotConnected = errors.New("conn: not connected")

// ErrAuthRejected marks a credential rejection. Terminal for the session:
// the manager stops reconnecting and the auth layer is expected to force a
// fresh login.
var ErrAuthRejected = errors.New("conn: credential rejected")

const (
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 10 * time.Second
)

// State is the connection lifecycle. Transitions are monotonic per attempt:
// Disconnected → Connecting → Reauthenticating → Connected, falling back to
// Disconnected on any failure.
type State int

const (
	Disconnected State = iota
	Connecting
	Reauthenticating
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Reauthenticating:
		return "reauthenticating"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventKind tags entries on the manager's event stream.
type EventKind int

const (
	// KindState reports a connection state transition.
	KindState EventKind = iota
	// KindPush carries an inbound server push event.
	KindPush
	// KindFatal reports a terminal failure (auth rejection). No further
	// events follow.
	KindFatal
)

// Event is one entry on the manager's stream.
type Event struct {
	Kind  EventKind
	State State
	Push  *wire.ServerEnvelope
	Err   error
}

// Manager owns the websocket session. Exactly one connection attempt is in
// flight at any time; Run serializes the whole lifecycle.
type Manager struct {
	url   string
	token string

	events chan Event

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
	epoch int
}

// New creates a manager for the given websocket URL and bearer credential.
func New(url, token string) *Manager {
	return &Manager{
		url:    url,
		token:  token,
		events: make(chan Event, 256),
	}
}

// Events returns the manager's ordered event stream. Closed when Run
// returns.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Epoch returns the number of successful connects so far.
func (m *Manager) Epoch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Run drives the connect/read/reconnect loop until ctx is cancelled or the
// credential is rejected. Transient transport errors are retried forever
// with bounded exponential backoff and never surfaced as fatal.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.events)
	defer m.teardown()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry indefinitely

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := m.establish(ctx)
		if errors.Is(err, ErrAuthRejected) {
			m.setState(ctx, Disconnected)
			m.emit(ctx, Event{Kind: KindFatal, Err: err})
			return
		}
		if err != nil {
			m.setState(ctx, Disconnected)
			wait := bo.NextBackOff()
			log.Printf("conn: connect failed (%v), retrying in %s", err, wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		m.mu.Lock()
		m.conn = conn
		m.epoch++
		m.mu.Unlock()
		m.setState(ctx, Connected)

		err = m.readLoop(ctx, conn)
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		m.setState(ctx, Disconnected)
		if ctx.Err() != nil {
			return
		}
		log.Printf("conn: transport lost (%v), reconnecting", err)
	}
}

// establish dials and completes the handshake. Returns ErrAuthRejected when
// the server refuses the credential at either stage.
func (m *Manager) establish(ctx context.Context) (*websocket.Conn, error) {
	m.setState(ctx, Connecting)

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}
	c, resp, err := websocket.Dial(dialCtx, m.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrAuthRejected, resp.Status)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	m.setState(ctx, Reauthenticating)
	if err := m.handshake(dialCtx, c); err != nil {
		_ = c.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, err
	}
	return c, nil
}

// handshake exchanges hello envelopes carrying the protocol version and the
// bearer credential.
func (m *Manager) handshake(ctx context.Context, c *websocket.Conn) error {
	hello := wire.ClientEnvelope{Type: wire.TypeHello, Protocol: wire.Protocol, Token: m.token}
	data, err := json.Marshal(hello)
	if err != nil {
		return fmt.Errorf("marshal hello: %w", err)
	}
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	_, raw, err := c.Read(ctx)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	var env wire.ServerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}
	if env.Type != wire.TypeHello || env.OK == nil || !*env.OK {
		if env.Error != "" {
			return fmt.Errorf("%w: %s", ErrAuthRejected, env.Error)
		}
		return fmt.Errorf("unexpected handshake response %q", env.Type)
	}
	return nil
}

// readLoop decodes inbound pushes until the transport errors.
func (m *Manager) readLoop(ctx context.Context, c *websocket.Conn) error {
	for {
		_, raw, err := c.Read(ctx)
		if err != nil {
			return err
		}
		var env wire.ServerEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("conn: dropping undecodable push: %v", err)
			continue
		}
		m.emit(ctx, Event{Kind: KindPush, Push: &env})
	}
}

// Send transmits one client envelope over the current connection.
func (m *Manager) Send(env wire.ClientEnvelope) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

// JoinRoom implements rooms.Wire.
func (m *Manager) JoinRoom(conv chat.Conversation) error {
	return m.Send(wire.Join(conv))
}

// LeaveRoom implements rooms.Wire.
func (m *Manager) LeaveRoom(conv chat.Conversation) error {
	return m.Send(wire.Leave(conv))
}

func (m *Manager) setState(ctx context.Context, s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()
	m.emit(ctx, Event{Kind: KindState, State: s})
}

func (m *Manager) emit(ctx context.Context, e Event) {
	select {
	case m.events <- e:
	case <-ctx.Done():
	}
}

func (m *Manager) teardown() {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.state = Disconnected
	m.mu.Unlock()
	if c != nil {
		_ = c.Close(websocket.StatusNormalClosure, "")
	}
}
