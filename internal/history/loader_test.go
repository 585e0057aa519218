package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gastownhall/chatsync/internal/chat"
	"github.com/gastownhall/chatsync/internal/wire"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestFetchGroupHistory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups/g1/messages" {
			t.Errorf("path = %q, want /groups/g1/messages", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q, want Bearer tok", got)
		}
		_ = json.NewEncoder(w).Encode([]wire.GroupMessage{
			{ID: "m1", Content: "hi", UserID: "u1", GroupID: "g1", CreatedAt: t0},
			{ID: "m2", Content: "yo", UserID: "u2", GroupID: "g1", CreatedAt: t0.Add(time.Second)},
		})
	}))
	defer ts.Close()

	l := NewLoader(ts.URL, "tok")
	msgs, err := l.Fetch(context.Background(), chat.Conversation{ID: "g1", Kind: chat.KindGroup})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].ConversationID != "g1" || msgs[0].AuthorID != "u1" || msgs[0].Status != chat.StatusConfirmed {
		t.Fatalf("normalized = %+v", msgs[0])
	}
}

func TestFetchDirectHistory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/direct-chat/d1/messages" {
			t.Errorf("path = %q, want /direct-chat/d1/messages", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]wire.DirectMessage{
			{ID: "m1", Content: "hey", SenderID: "u2", ChatID: "d1", CreatedAt: t0},
		})
	}))
	defer ts.Close()

	l := NewLoader(ts.URL, "tok")
	msgs, err := l.Fetch(context.Background(), chat.Conversation{ID: "d1", Kind: chat.KindDirect})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ConversationID != "d1" || msgs[0].AuthorID != "u2" {
		t.Fatalf("normalized = %+v", msgs)
	}
}

func TestFetchUnauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer ts.Close()

	l := NewLoader(ts.URL, "expired")
	_, err := l.Fetch(context.Background(), chat.Conversation{ID: "g1", Kind: chat.KindGroup})
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("err = %v, want ErrAuthRejected", err)
	}
}

func TestFetchServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	l := NewLoader(ts.URL, "tok")
	_, err := l.Fetch(context.Background(), chat.Conversation{ID: "g1", Kind: chat.KindGroup})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if errors.Is(err, ErrAuthRejected) {
		t.Fatal("500 must not be classified as auth rejection")
	}
}

func TestSendDirect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/direct-chat/d1/messages" {
			t.Errorf("%s %s, want POST /direct-chat/d1/messages", r.Method, r.URL.Path)
		}
		var req struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(wire.DirectMessage{
			ID: "m9", Content: req.Content, SenderID: "me", ChatID: "d1", CreatedAt: t0,
		})
	}))
	defer ts.Close()

	l := NewLoader(ts.URL, "tok")
	msg, err := l.SendDirect(context.Background(), "d1", "fallback hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID != "m9" || msg.Content != "fallback hello" || msg.ConversationID != "d1" {
		t.Fatalf("msg = %+v", msg)
	}
}
