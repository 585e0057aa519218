package wsbase

import (
	"log"
	"net/http"

	"nhooyr.io/websocket"
)

// AcceptWebSocket upgrades the request to a websocket connection, enforcing
// the configured origin patterns.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, originPatterns []string) (*websocket.Conn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		log.Printf("wsbase: websocket accept failed: %v", err)
		return nil, err
	}
	return conn, nil
}
