package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gastownhall/chatsync/internal/chat"
	"github.com/gastownhall/chatsync/internal/roomfile"
	"github.com/gastownhall/chatsync/internal/session"
	"github.com/gastownhall/chatsync/internal/store"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: chatsync [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Terminal chat client. Connects to a chat server, keeps the joined\n")
		fmt.Fprintf(os.Stderr, "conversations synchronized, and prints messages as they arrive.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands on stdin:\n")
		fmt.Fprintf(os.Stderr, "  /open <group-id>      join a group and load its history\n")
		fmt.Fprintf(os.Stderr, "  /dm <chat-id>         join a direct chat\n")
		fmt.Fprintf(os.Stderr, "  /close <id>           leave a conversation\n")
		fmt.Fprintf(os.Stderr, "  /log <id>             print a conversation's log\n")
		fmt.Fprintf(os.Stderr, "  <id> <text...>        send a message\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  chatsync --server http://localhost:8000 --token $CHATSYNC_TOKEN --user alice\n")
		fmt.Fprintf(os.Stderr, "  chatsync --rooms-file rooms.yaml\n")
	}

	// .env is optional; flags override environment.
	_ = godotenv.Load()

	server := flag.String("server", envOr("CHATSYNC_SERVER", "http://localhost:8000"), "chat server base URL")
	token := flag.String("token", os.Getenv("CHATSYNC_TOKEN"), "bearer credential (or CHATSYNC_TOKEN)")
	user := flag.String("user", os.Getenv("CHATSYNC_USER"), "local user id, used for optimistic sends")
	roomsFile := flag.String("rooms-file", "", "YAML file of conversations to auto-join (watched for edits)")
	flag.Parse()

	if *user == "" {
		log.Fatal("missing --user (or CHATSYNC_USER)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := session.New(session.Config{
		ServerURL: *server,
		Token:     *token,
		UserID:    *user,
		Hooks: session.Hooks{
			OnUpdate:     func(id string) { printLatest(id) },
			OnSendFailed: func(f store.FailedSend) { fmt.Printf("!! send failed in %s: %q (retryable)\n", f.ConversationID, f.Content) },
			OnAuthError: func(err error) {
				fmt.Fprintf(os.Stderr, "credential rejected, log in again: %v\n", err)
				cancel()
			},
		},
	})
	setPrinter(s)

	go s.Run(ctx)

	if *roomsFile != "" {
		w := roomfile.NewWatcher(*roomsFile, s)
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Printf("rooms file watcher stopped: %v", err)
			}
		}()
	}

	go repl(ctx, s)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	cancel()
	<-s.Done()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printer state for the OnUpdate hook; set once before Run starts.
var active *session.Session

func setPrinter(s *session.Session) { active = s }

func printLatest(conversationID string) {
	entries := active.Log(conversationID)
	if len(entries) == 0 {
		return
	}
	m := entries[len(entries)-1]
	marker := ""
	if m.Status != chat.StatusConfirmed {
		marker = " (" + string(m.Status) + ")"
	}
	fmt.Printf("[%s] %s: %s%s\n", conversationID, m.AuthorID, m.Content, marker)
}

// repl reads commands from stdin until EOF.
func repl(ctx context.Context, s *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		cmd := fields[0]
		rest := ""
		if len(fields) == 2 {
			rest = strings.TrimSpace(fields[1])
		}

		switch cmd {
		case "/open":
			if err := s.Open(chat.Conversation{ID: rest, Kind: chat.KindGroup}); err != nil {
				fmt.Printf("open %s: %v\n", rest, err)
			}
		case "/dm":
			if err := s.Open(chat.Conversation{ID: rest, Kind: chat.KindDirect}); err != nil {
				fmt.Printf("dm %s: %v\n", rest, err)
			}
		case "/close":
			conv, ok := findRoom(s, rest)
			if !ok {
				fmt.Printf("not joined: %s\n", rest)
				continue
			}
			if err := s.Close(conv); err != nil {
				fmt.Printf("close %s: %v\n", rest, err)
			}
		case "/log":
			for _, m := range s.Log(rest) {
				fmt.Printf("  %s  %s: %s (%s)\n", m.CreatedAt.Format("15:04:05"), m.AuthorID, m.Content, m.Status)
			}
		case "/rooms":
			for _, conv := range s.Rooms() {
				fmt.Printf("  %s (%s)\n", conv.ID, conv.Kind)
			}
		default:
			conv, ok := findRoom(s, cmd)
			if !ok {
				fmt.Printf("not joined: %s (use /open first)\n", cmd)
				continue
			}
			if _, err := s.Send(conv, rest); err != nil {
				fmt.Printf("send queued locally, transport error: %v\n", err)
			}
		}
	}
}

func findRoom(s *session.Session, id string) (chat.Conversation, bool) {
	for _, conv := range s.Rooms() {
		if conv.ID == id {
			return conv, true
		}
	}
	return chat.Conversation{}, false
}
