// Package devserver is an in-memory implementation of the chat backend's
// REST and websocket surface. It exists for integration tests and local
// development; state lives in maps and vanishes with the process.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gastownhall/chatsync/internal/wire"
	"github.com/gastownhall/chatsync/internal/wsbase"
)

const tokenTTL = 24 * time.Hour

// Server is the development chat backend.
type Server struct {
	secret  []byte
	origins []string
	router  *mux.Router
	httpSrv *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	groups  map[string]*groupRoom
	chats   map[string]*directRoom

	now func() time.Time
}

type groupRoom struct {
	history []wire.GroupMessage
	members map[*client]struct{}
}

type directRoom struct {
	meta    wire.DirectChat
	history []wire.DirectMessage
	members map[*client]struct{}
}

// New creates a server signing credentials with the given secret.
func New(secret string, origins []string) *Server {
	s := &Server{
		secret:  []byte(secret),
		origins: origins,
		clients: make(map[*client]struct{}),
		groups:  make(map[string]*groupRoom),
		chats:   make(map[string]*directRoom),
		now:     time.Now,
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/groups/{id}/messages", s.requireAuth(s.handleGroupHistory)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/direct-chat/{id}/messages", s.requireAuth(s.handleDirectHistory)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/direct-chat/{id}/messages", s.requireAuth(s.handleDirectSend)).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWebSocket)
	r.Use(func(next http.Handler) http.Handler { return wsbase.CorsHandler(next) })
	s.router = r
	return s
}

// Handler exposes the full REST+websocket surface, for httptest mounting.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Stop is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.httpSrv = &http.Server{Handler: s.router}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("devserver: serve: %v", err)
		}
	}()
	log.Printf("devserver: listening on %s", ln.Addr())
	return nil
}

// Stop shuts the HTTP server down and drops all websocket clients.
func (s *Server) Stop() {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(ctx)
	}
	s.DropConnections()
}

// DropConnections severs every websocket client without stopping the server.
// Tests use this to simulate transport loss.
func (s *Server) DropConnections() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.cancel()
	}
}

// IssueToken mints a bearer credential for the given user id.
func (s *Server) IssueToken(userID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(s.now().Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) verifyToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}

// SeedGroupHistory pre-populates a group's history. Test helper.
func (s *Server) SeedGroupHistory(groupID string, msgs []wire.GroupMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.ensureGroupLocked(groupID)
	room.history = append(room.history, msgs...)
}

// SeedDirectChat registers a direct chat between two users. Test helper.
func (s *Server) SeedDirectChat(chatID, userA, userB string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.ensureDirectLocked(chatID)
	room.meta.UserAID = userA
	room.meta.UserBID = userB
}

func (s *Server) ensureGroupLocked(groupID string) *groupRoom {
	room, ok := s.groups[groupID]
	if !ok {
		room = &groupRoom{members: make(map[*client]struct{})}
		s.groups[groupID] = room
	}
	return room
}

func (s *Server) ensureDirectLocked(chatID string) *directRoom {
	room, ok := s.chats[chatID]
	if !ok {
		room = &directRoom{
			meta:    wire.DirectChat{ID: chatID, CreatedAt: s.now()},
			members: make(map[*client]struct{}),
		}
		s.chats[chatID] = room
	}
	return room
}

// REST handlers

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	token, err := s.IssueToken(req.Name)
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"token": token,
		"user":  map[string]string{"id": req.Name, "name": req.Name},
	})
}

func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.verifyToken(wsbase.BearerToken(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleGroupHistory(w http.ResponseWriter, r *http.Request, _ string) {
	groupID := mux.Vars(r)["id"]
	s.mu.Lock()
	room := s.ensureGroupLocked(groupID)
	history := append([]wire.GroupMessage(nil), room.history...)
	s.mu.Unlock()
	writeJSON(w, history)
}

func (s *Server) handleDirectHistory(w http.ResponseWriter, r *http.Request, _ string) {
	chatID := mux.Vars(r)["id"]
	s.mu.Lock()
	room := s.ensureDirectLocked(chatID)
	history := append([]wire.DirectMessage(nil), room.history...)
	s.mu.Unlock()
	writeJSON(w, history)
}

func (s *Server) handleDirectSend(w http.ResponseWriter, r *http.Request, userID string) {
	chatID := mux.Vars(r)["id"]
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		http.Error(w, "content required", http.StatusBadRequest)
		return
	}

	msg := wire.DirectMessage{
		ID:        uuid.NewString(),
		Content:   req.Content,
		SenderID:  userID,
		ChatID:    chatID,
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	room := s.ensureDirectLocked(chatID)
	room.history = append(room.history, msg)
	members := memberSet(room.members)
	s.mu.Unlock()

	for _, c := range members {
		c.sendJSON(wire.ServerEnvelope{Type: wire.TypeNewDirectMessage, DirectMessage: &msg})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		log.Printf("devserver: write response: %v", err)
	}
}

// handleWebSocket authenticates the upgrade and hands the connection to a
// client instance.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.verifyToken(wsbase.BearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsbase.AcceptWebSocket(w, r, s.origins)
	if err != nil {
		return
	}

	c := newClient(conn, s, userID)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer s.removeClient(c)

	c.run()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	for _, room := range s.groups {
		delete(room.members, c)
	}
	for _, room := range s.chats {
		delete(room.members, c)
	}
	s.mu.Unlock()
	c.cancel()
}

func memberSet(m map[*client]struct{}) []*client {
	out := make([]*client, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("devserver: write response: %v", err)
	}
}
