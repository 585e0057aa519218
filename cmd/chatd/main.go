package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gastownhall/chatsync/internal/devserver"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: chatd [flags]\n\n")
		fmt.Fprintf(os.Stderr, "In-memory development chat server: REST history endpoints, JWT login,\n")
		fmt.Fprintf(os.Stderr, "and the websocket push channel. State is not persisted.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  chatd --listen :8000\n")
		fmt.Fprintf(os.Stderr, "  chatd --listen :8000 --secret dev-secret --allowed-origins 'localhost:*'\n")
	}

	_ = godotenv.Load()

	listen := flag.String("listen", ":8000", "HTTP/WebSocket listen address")
	secret := flag.String("secret", envOr("CHATD_SECRET", "dev-secret"), "JWT signing secret")
	allowedOrigins := flag.String("allowed-origins", "localhost:*", "comma-separated origin patterns for websocket CORS")
	flag.Parse()

	var origins []string
	for _, o := range strings.Split(*allowedOrigins, ",") {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}

	s := devserver.New(*secret, origins)
	if err := s.Start(*listen); err != nil {
		log.Fatal(err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	s.Stop()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
