// Package history fetches a conversation's past messages over REST. The
// fetch is a point-in-time snapshot; the live stream takes over once the
// snapshot is seeded into the store.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gastownhall/chatsync/internal/chat"
	"github.com/gastownhall/chatsync/internal/wire"
)

// ErrAuthRejected marks a 401/403 from the API. The auth collaborator is
// expected to clear local session state and force a fresh login.
var ErrAuthRejected = errors.New("history: credential rejected")

// DefaultTimeout bounds a single history fetch.
const DefaultTimeout = 15 * time.Second

// Loader is a REST client for the history endpoints.
type Loader struct {
	base   string
	token  string
	client *http.Client
}

// NewLoader creates a loader for the given API base URL and bearer
// credential.
func NewLoader(base, token string) *Loader {
	return &Loader{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: &http.Client{Timeout: DefaultTimeout},
	}
}

// Fetch returns the conversation's ordered message history.
func (l *Loader) Fetch(ctx context.Context, conv chat.Conversation) ([]chat.Message, error) {
	if conv.Kind == chat.KindDirect {
		var raw []wire.DirectMessage
		if err := l.get(ctx, "/direct-chat/"+conv.ID+"/messages", &raw); err != nil {
			return nil, err
		}
		return wire.NormalizeDirect(raw), nil
	}
	var raw []wire.GroupMessage
	if err := l.get(ctx, "/groups/"+conv.ID+"/messages", &raw); err != nil {
		return nil, err
	}
	return wire.NormalizeGroup(raw), nil
}

// SendDirect posts a direct message over REST. Non-realtime fallback for
// when the duplex channel is down; the broadcast echo still reconciles any
// optimistic entry.
func (l *Loader) SendDirect(ctx context.Context, chatID, content string) (chat.Message, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return chat.Message{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.base+"/direct-chat/"+chatID+"/messages", strings.NewReader(string(body)))
	if err != nil {
		return chat.Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	l.authorize(req)

	resp, err := l.client.Do(req)
	if err != nil {
		return chat.Message{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return chat.Message{}, err
	}

	var raw wire.DirectMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return chat.Message{}, fmt.Errorf("decode send response: %w", err)
	}
	return raw.Normalize(), nil
}

func (l *Loader) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.base+path, nil)
	if err != nil {
		return err
	}
	l.authorize(req)

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (l *Loader) authorize(req *http.Request) {
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthRejected, resp.Status)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
