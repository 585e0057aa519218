package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/gastownhall/chatsync/internal/wire"
)

func setupTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New("test-secret", nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

type testConn struct {
	conn *websocket.Conn
}

func dialTestServer(t *testing.T, ts *httptest.Server, token string) *testConn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return &testConn{conn: conn}
}

func (c *testConn) send(t *testing.T, env wire.ClientEnvelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *testConn) recv(t *testing.T) wire.ServerEnvelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env wire.ServerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

// recvType skips envelopes until one of the wanted type arrives.
func (c *testConn) recvType(t *testing.T, wantType string) wire.ServerEnvelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		env := c.recv(t)
		if env.Type == wantType {
			return env
		}
	}
	t.Fatalf("no %s envelope within 10 messages", wantType)
	return wire.ServerEnvelope{}
}

func (c *testConn) handshake(t *testing.T) {
	t.Helper()
	c.send(t, wire.ClientEnvelope{Type: wire.TypeHello, Protocol: wire.Protocol})
	resp := c.recv(t)
	if resp.Type != wire.TypeHello || resp.OK == nil || !*resp.OK {
		t.Fatalf("handshake response = %+v", resp)
	}
}

func login(t *testing.T, s *Server, user string) string {
	t.Helper()
	token, err := s.IssueToken(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	s, ts := setupTestServer(t)

	body := bytes.NewBufferString(`{"name":"alice"}`)
	resp, err := http.Post(ts.URL+"/auth/login", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	userID, err := s.verifyToken(out.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "alice" {
		t.Fatalf("subject = %q, want alice", userID)
	}
}

func TestHistoryRequiresAuth(t *testing.T) {
	s, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/groups/g1/messages")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", ts.URL+"/groups/g1/messages", nil)
	req.Header.Set("Authorization", "Bearer "+login(t, s, "alice"))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", resp.StatusCode)
	}
}

func TestGroupHistoryEndpoint(t *testing.T) {
	s, ts := setupTestServer(t)
	s.SeedGroupHistory("g1", []wire.GroupMessage{
		{ID: "m1", Content: "hi", UserID: "u1", GroupID: "g1", CreatedAt: time.Now()},
	})

	req, _ := http.NewRequest("GET", ts.URL+"/groups/g1/messages", nil)
	req.Header.Set("Authorization", "Bearer "+login(t, s, "alice"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var msgs []wire.GroupMessage
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("history = %+v", msgs)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	_, ts := setupTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=garbage"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail with invalid token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v, want 401", resp)
	}
}

func TestHandshakeRequiredBeforeJoin(t *testing.T) {
	s, ts := setupTestServer(t)
	c := dialTestServer(t, ts, login(t, s, "alice"))

	c.send(t, wire.ClientEnvelope{Type: wire.TypeJoinGroup, GroupID: "g1"})
	resp := c.recv(t)
	if resp.Type != wire.TypeError {
		t.Fatalf("type = %q, want error", resp.Type)
	}
}

func TestJoinGroupEchoesHistory(t *testing.T) {
	s, ts := setupTestServer(t)
	s.SeedGroupHistory("g1", []wire.GroupMessage{
		{ID: "m1", Content: "hi", UserID: "u1", GroupID: "g1", CreatedAt: time.Now()},
	})

	c := dialTestServer(t, ts, login(t, s, "alice"))
	c.handshake(t)

	c.send(t, wire.ClientEnvelope{Type: wire.TypeJoinGroup, GroupID: "g1"})
	resp := c.recvType(t, wire.TypeGroupMessages)
	if resp.GroupID != "g1" {
		t.Fatalf("groupId = %q, want g1", resp.GroupID)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].ID != "m1" {
		t.Fatalf("messages = %+v", resp.Messages)
	}
}

func TestSendGroupMessageBroadcastsToAllMembers(t *testing.T) {
	s, ts := setupTestServer(t)

	alice := dialTestServer(t, ts, login(t, s, "alice"))
	alice.handshake(t)
	alice.send(t, wire.ClientEnvelope{Type: wire.TypeJoinGroup, GroupID: "g1"})
	alice.recvType(t, wire.TypeGroupMessages)

	bob := dialTestServer(t, ts, login(t, s, "bob"))
	bob.handshake(t)
	bob.send(t, wire.ClientEnvelope{Type: wire.TypeJoinGroup, GroupID: "g1"})
	bob.recvType(t, wire.TypeGroupMessages)

	// Alice is notified about bob joining.
	joined := alice.recvType(t, wire.TypeUserJoinedGroup)
	if joined.UserID != "bob" || joined.GroupID != "g1" {
		t.Fatalf("user-joined-group = %+v", joined)
	}

	alice.send(t, wire.ClientEnvelope{Type: wire.TypeSendGroupMessage, GroupID: "g1", Content: "hello"})

	// The echo reaches the sender too; that echo is what confirms the
	// client's optimistic entry.
	for _, c := range []*testConn{alice, bob} {
		env := c.recvType(t, wire.TypeNewGroupMessage)
		if env.Message == nil || env.Message.Content != "hello" || env.Message.UserID != "alice" {
			t.Fatalf("broadcast = %+v", env.Message)
		}
		if env.Message.ID == "" {
			t.Fatal("expected server-assigned message id")
		}
	}
}

func TestDirectChatJoinAndSend(t *testing.T) {
	s, ts := setupTestServer(t)
	s.SeedDirectChat("d1", "alice", "bob")

	alice := dialTestServer(t, ts, login(t, s, "alice"))
	alice.handshake(t)
	alice.send(t, wire.ClientEnvelope{Type: wire.TypeJoinDirectChat, ChatID: "d1"})
	resp := alice.recvType(t, wire.TypeDirectMessages)
	if resp.ChatID != "d1" || resp.Chat == nil || resp.Chat.UserBID != "bob" {
		t.Fatalf("direct-messages = %+v", resp)
	}

	bob := dialTestServer(t, ts, login(t, s, "bob"))
	bob.handshake(t)
	bob.send(t, wire.ClientEnvelope{Type: wire.TypeJoinDirectChat, ChatID: "d1"})
	bob.recvType(t, wire.TypeDirectMessages)

	alice.send(t, wire.ClientEnvelope{Type: wire.TypeSendDirectMessage, ChatID: "d1", Content: "psst"})
	env := bob.recvType(t, wire.TypeNewDirectMessage)
	if env.DirectMessage == nil || env.DirectMessage.SenderID != "alice" || env.DirectMessage.Content != "psst" {
		t.Fatalf("new-direct-message = %+v", env.DirectMessage)
	}
}

func TestRestDirectSendBroadcastsToWebsocketMembers(t *testing.T) {
	s, ts := setupTestServer(t)

	bob := dialTestServer(t, ts, login(t, s, "bob"))
	bob.handshake(t)
	bob.send(t, wire.ClientEnvelope{Type: wire.TypeJoinDirectChat, ChatID: "d1"})
	bob.recvType(t, wire.TypeDirectMessages)

	body := bytes.NewBufferString(`{"content":"via rest"}`)
	req, _ := http.NewRequest("POST", ts.URL+"/direct-chat/d1/messages", body)
	req.Header.Set("Authorization", "Bearer "+login(t, s, "alice"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	env := bob.recvType(t, wire.TypeNewDirectMessage)
	if env.DirectMessage == nil || env.DirectMessage.Content != "via rest" {
		t.Fatalf("broadcast = %+v", env.DirectMessage)
	}
}
