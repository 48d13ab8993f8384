// connects to a running dashsync server as a collaborator, sends one
// cursor move, and prints every message the server fans out. Useful
// for smoke-testing the sync protocol end to end.
//
// usage: go run ./scripts/wsprobe <document_id> <token>
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

type message struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"document_id"`
	UserID     string          `json:"user_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

func main() {
	if len(os.Args) < 3 {
		fmt.Println("usage: go run ./scripts/wsprobe <document_id> <token>")
		os.Exit(1)
	}

	documentID := os.Args[1]
	token := os.Args[2]

	u := url.URL{
		Scheme: "ws",
		Host:   "localhost:8080",
		Path:   "/api/v1/ws",
	}
	q := u.Query()
	q.Set("document_id", documentID)
	q.Set("token", token)
	u.RawQuery = q.Encode()

	fmt.Printf("connecting to %s\n", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	fmt.Println("connected")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}

			var msg message
			if err := json.Unmarshal(raw, &msg); err != nil {
				fmt.Printf("received: %s\n", raw)
				continue
			}

			fmt.Printf("received %s: %s\n", msg.Type, msg.Payload)
		}
	}()

	// announce a cursor position so other participants see us
	time.Sleep(1 * time.Second)

	cursorMove := map[string]any{
		"type": "cursor_move",
		"payload": map[string]any{
			"cursor": map[string]any{"x": 120, "y": 80},
		},
	}

	raw, _ := json.Marshal(cursorMove)
	fmt.Printf("sending: %s\n", raw)

	if err := c.WriteMessage(websocket.TextMessage, raw); err != nil {
		log.Println("write:", err)
		return
	}

	select {
	case <-done:
		return
	case <-interrupt:
		fmt.Println("closing connection")

		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Println("write close:", err)
			return
		}

		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
