// Package session wires the synchronization layer together: one connection
// manager, one room tracker, one dispatcher/store pair, and one history
// loader, all owned by a Session created at login and torn down at logout.
// All merge work runs on a single event loop goroutine; the only concurrent
// entry points are the read surface (which copies) and Open/Send (which
// funnel into the loop or into locked components).
package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gastownhall/chatsync/internal/chat"
	"github.com/gastownhall/chatsync/internal/conn"
	"github.com/gastownhall/chatsync/internal/history"
	"github.com/gastownhall/chatsync/internal/rooms"
	"github.com/gastownhall/chatsync/internal/store"
	"github.com/gastownhall/chatsync/internal/wire"
)

// sweepInterval drives the pending-send timeout check.
const sweepInterval = time.Second

// ErrSendTimeout reports an optimistic send that received no broadcast echo
// within the reconciliation window. Retryable.
var ErrSendTimeout = errors.New("session: send not confirmed in time")

// Hooks are optional notification callbacks. They are invoked from the
// session's event loop and must not block.
type Hooks struct {
	// OnUpdate fires after a conversation's log changed.
	OnUpdate func(conversationID string)
	// OnSendFailed fires when an optimistic send times out unconfirmed.
	OnSendFailed func(failed store.FailedSend)
	// OnAuthError fires once when the credential is rejected; the session
	// stops afterwards and the caller is expected to force a fresh login.
	OnAuthError func(err error)
}

// Config configures a session.
type Config struct {
	// ServerURL is the HTTP base of the chat backend, e.g. "http://host:8000".
	ServerURL string
	// Token is the bearer credential attached at connect time and to every
	// REST call.
	Token string
	// UserID identifies the local author for optimistic sends.
	UserID string
	Hooks  Hooks
}

type seedResult struct {
	conv    chat.Conversation
	history []chat.Message
	err     error
}

// Session is the synchronization core's public surface.
type Session struct {
	cfg     Config
	manager *conn.Manager
	tracker *rooms.Tracker
	loader  *history.Loader
	store   *store.Store
	disp    *store.Dispatcher

	seeds chan seedResult
	done  chan struct{}
}

// New builds a session and its collaborators. Nothing connects until Run.
func New(cfg Config) *Session {
	st := store.New()
	mgr := conn.New(wsURL(cfg.ServerURL), cfg.Token)
	return &Session{
		cfg:     cfg,
		manager: mgr,
		tracker: rooms.NewTracker(mgr),
		loader:  history.NewLoader(cfg.ServerURL, cfg.Token),
		store:   st,
		disp:    store.NewDispatcher(st),
		seeds:   make(chan seedResult, 16),
		done:    make(chan struct{}),
	}
}

// wsURL derives the websocket endpoint from the HTTP base.
func wsURL(base string) string {
	ws := strings.TrimRight(base, "/")
	ws = strings.Replace(ws, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return ws + "/ws"
}

// Run connects and processes events until ctx is cancelled or the credential
// is rejected. All push events and seed results are applied on this one
// loop, which is what makes the ordering guarantees hold.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	go s.manager.Run(ctx)

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.manager.Events():
			if !ok {
				return
			}
			if fatal := s.handleEvent(ev); fatal {
				return
			}
		case res := <-s.seeds:
			s.handleSeed(res)
		case <-sweep.C:
			for _, f := range s.store.SweepPending() {
				log.Printf("session: %v in %s: %q", ErrSendTimeout, f.ConversationID, f.Content)
				if s.cfg.Hooks.OnSendFailed != nil {
					s.cfg.Hooks.OnSendFailed(f)
				}
				s.notify(f.ConversationID)
			}
		}
	}
}

// Done closes when the session's event loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// handleEvent processes one connection event. Returns true when the session
// must stop.
func (s *Session) handleEvent(ev conn.Event) bool {
	switch ev.Kind {
	case conn.KindState:
		log.Printf("session: connection %s", ev.State)
		if ev.State == conn.Connected {
			// Replay the subscription set before any push from the new
			// connection is processed; both travel the same channel, so
			// ordering is guaranteed.
			s.tracker.Replay()
		}
	case conn.KindPush:
		s.handlePush(ev.Push)
	case conn.KindFatal:
		log.Printf("session: fatal: %v", ev.Err)
		if s.cfg.Hooks.OnAuthError != nil {
			s.cfg.Hooks.OnAuthError(ev.Err)
		}
		return true
	}
	return false
}

// handlePush routes one server push event into the store. Pushes for
// conversations not in the subscription set are dropped: a join echo can
// still be in flight when the room is closed.
func (s *Session) handlePush(env *wire.ServerEnvelope) {
	switch env.Type {
	case wire.TypeGroupMessages:
		// History echo on (re)join: authoritative snapshot, applied as a
		// seed so buffered events flush behind it.
		groupID := env.GroupID
		if groupID == "" && len(env.Messages) > 0 {
			groupID = env.Messages[0].GroupID
		}
		if groupID == "" || !s.tracker.Contains(groupID) {
			return
		}
		s.disp.Seed(groupID, wire.NormalizeGroup(env.Messages))
		s.notify(groupID)

	case wire.TypeNewGroupMessage:
		if env.Message == nil {
			return
		}
		msg := env.Message.Normalize()
		if !s.tracker.Contains(msg.ConversationID) {
			return
		}
		s.disp.Dispatch(msg.ConversationID, msg)
		s.notify(msg.ConversationID)

	case wire.TypeDirectMessages:
		if env.ChatID == "" || !s.tracker.Contains(env.ChatID) {
			return
		}
		s.disp.Seed(env.ChatID, wire.NormalizeDirect(env.DirectMessages))
		s.notify(env.ChatID)

	case wire.TypeNewDirectMessage:
		if env.DirectMessage == nil {
			return
		}
		msg := env.DirectMessage.Normalize()
		if !s.tracker.Contains(msg.ConversationID) {
			return
		}
		s.disp.Dispatch(msg.ConversationID, msg)
		s.notify(msg.ConversationID)

	case wire.TypeUserJoinedGroup:
		log.Printf("session: user %s joined group %s", env.UserID, env.GroupID)

	case wire.TypeError:
		log.Printf("session: server error: %s", env.Error)

	default:
		log.Printf("session: ignoring unknown push %q", env.Type)
	}
}

// handleSeed applies a resolved history fetch. The result is discarded if
// the conversation was closed while the fetch was in flight.
func (s *Session) handleSeed(res seedResult) {
	if res.err != nil {
		if errors.Is(res.err, history.ErrAuthRejected) && s.cfg.Hooks.OnAuthError != nil {
			s.cfg.Hooks.OnAuthError(res.err)
		}
		log.Printf("session: history fetch %s failed: %v", res.conv.ID, res.err)
		return
	}
	if !s.tracker.Contains(res.conv.ID) {
		log.Printf("session: discarding history for closed %s", res.conv.ID)
		return
	}
	s.disp.Seed(res.conv.ID, res.history)
	s.notify(res.conv.ID)
}

// Open subscribes to a conversation and, in parallel, fetches its history.
// Safe to call before the connection is up: the room is recorded and
// replayed on connect.
func (s *Session) Open(conv chat.Conversation) error {
	if err := s.tracker.Join(conv); err != nil && !errors.Is(err, conn.ErrNotConnected) {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), history.DefaultTimeout)
		defer cancel()
		msgs, err := s.loader.Fetch(ctx, conv)
		select {
		case s.seeds <- seedResult{conv: conv, history: msgs, err: err}:
		case <-s.done:
		}
	}()
	return nil
}

// Close unsubscribes from a conversation and frees its log.
func (s *Session) Close(conv chat.Conversation) error {
	err := s.tracker.Leave(conv)
	s.disp.Forget(conv.ID)
	if err != nil && !errors.Is(err, conn.ErrNotConnected) {
		return err
	}
	return nil
}

// Send inserts an optimistic entry and transmits the message. The returned
// temporary id identifies the pending entry until the broadcast echo
// reconciles it or the timeout flags it failed.
func (s *Session) Send(conv chat.Conversation, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("session: empty message")
	}

	tempID := s.store.SendOptimistic(conv.ID, s.cfg.UserID, content)
	s.notify(conv.ID)

	if err := s.manager.Send(wire.Send(conv, content)); err != nil {
		// The pending entry stays; the sweep flags it failed if no echo
		// arrives after a reconnect either.
		return tempID, err
	}
	return tempID, nil
}

// RetryFailed drops a failed entry and sends its content again.
func (s *Session) RetryFailed(conv chat.Conversation, tempID, content string) (string, error) {
	s.store.DropFailed(conv.ID, tempID)
	return s.Send(conv, content)
}

// Log returns a copy of the conversation's ordered, duplicate-free log.
func (s *Session) Log(conversationID string) []chat.Message {
	return s.store.Log(conversationID)
}

// Rooms returns the tracked subscription set in insertion order.
func (s *Session) Rooms() []chat.Conversation {
	return s.tracker.Set()
}

// State returns the connection state.
func (s *Session) State() conn.State {
	return s.manager.State()
}

func (s *Session) notify(conversationID string) {
	if s.cfg.Hooks.OnUpdate != nil {
		s.cfg.Hooks.OnUpdate(conversationID)
	}
}
