package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tablewise/dashsync/internal/collab"
	"github.com/tablewise/dashsync/internal/presence"
)

// message type constants for websocket communication
const (
	// client submits an edit operation
	TypeOperation = "operation"

	// server answers the submitting client with the submit result
	TypeOperationAck = "operation_ack"

	// server fans an applied operation out to the other participants
	TypeOperationApplied = "operation_applied"

	// client reports a cursor move
	TypeCursorMove = "cursor_move"

	// server fans a cursor change out to the other participants
	TypeCursorUpdate = "cursor_update"

	// client reports what it is doing (editing, viewing, ...)
	TypeActivityUpdate = "activity_update"

	// server fans an activity change out to the other participants
	TypeActivityChanged = "activity_changed"

	// client asks for every operation applied since a known version
	TypeSyncRequest = "sync_request"

	// server answers a sync_request
	TypeSyncState = "sync_state"

	// sent to a connecting client with the combined join snapshot
	TypeSessionState = "session_state"

	// a participant joined the document
	TypeUserJoined = "user_joined"

	// a participant left the document
	TypeUserLeft = "user_left"

	// liveness; answered with pong, touches no engine state
	TypePing = "ping"
	TypePong = "pong"

	// an error occurred
	TypeError = "error"

	// sent by the server before shutdown
	TypeServerShutdown = "server_shutdown"
)

// client connection constants
const (
	// time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// maximum message size allowed from peer
	maxMessageSize = 256 * 1024 // 256 KB

	// operation submissions per second per connection
	operationRateLimit = rate.Limit(10)
	operationRateBurst = 20

	// cursor/activity updates per second per connection
	cursorRateLimit = rate.Limit(30)
	cursorRateBurst = 60
)

// errors
var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidMessage    = errors.New("invalid message format")
	ErrClientNotFound    = errors.New("client not found")
)

// represents a websocket message with typed payload
type Message struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"document_id"`
	UserID     string          `json:"user_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   uint64          `json:"seq,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// carries a submitted operation; mirrors collab.Operation on the wire
type OperationPayload struct {
	Operation collab.Operation `json:"operation"`
}

// answers the submitter with the engine's verdict
type OperationAckPayload struct {
	OperationID string              `json:"operation_id"`
	Result      collab.SubmitResult `json:"result"`
}

// fans an applied operation out to the rest of the session
type OperationAppliedPayload struct {
	Operation collab.Operation `json:"operation"`
	Version   int64            `json:"version"`
}

// carries a cursor move from a client and the fan-out to others
type CursorPayload struct {
	UserID string          `json:"user_id,omitempty"`
	Cursor presence.Cursor `json:"cursor"`
}

// carries an activity change
type ActivityPayload struct {
	UserID    string `json:"user_id,omitempty"`
	Action    string `json:"action"`
	ElementID string `json:"element_id,omitempty"`
}

// asks for operations applied after a known version
type SyncRequestPayload struct {
	SinceVersion int64 `json:"since_version"`
}

// contains the combined join snapshot sent to a connecting client
type SessionStatePayload struct {
	Version       int64              `json:"version"`
	DocumentState json.RawMessage    `json:"document_state,omitempty"`
	History       []collab.Operation `json:"history"`
	Presence      []presence.Entry   `json:"presence"`
}

// contains information about a newly joined participant
type UserJoinedPayload struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// contains information about a participant who left
type UserLeftPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// contains information about server shutdown
type ServerShutdownPayload struct {
	Reason string `json:"reason"`
}

// represents one live websocket connection: exactly one per
// (document, user) pair, enforced by the hub on register
type Client struct {
	// document this connection is joined to
	DocumentID string

	// verified identity of the connected user
	UserID string

	// display metadata supplied by the caller
	Username  string
	AvatarURL string

	// websocket connection
	conn *websocket.Conn

	// hub reference for message routing
	hub *Hub

	// buffered channel of outbound messages
	send chan []byte

	// mutex guarding closed
	mu     sync.RWMutex
	closed bool

	// per-connection throttles
	opLimiter     *rate.Limiter
	cursorLimiter *rate.Limiter
}

// inbound message paired with its sender
type inbound struct {
	client *Client
	msg    *Message
}

// Hub is the connection manager: it maps (document, user) to the one
// live connection for that pair and provides unicast and broadcast
// delivery for the sync engine and presence tracker.
type Hub struct {
	// live connections by document ID and user ID
	documents map[string]map[string]*Client

	// register requests from new connections
	Register chan *Client

	// unregister requests from closing connections
	Unregister chan *Client

	// inbound messages awaiting dispatch
	Inbound chan inbound

	// mutex for thread-safe access to documents
	mu sync.RWMutex

	// message handlers by message type
	handlers map[string]MessageHandler

	// per-document broadcast sequence numbers
	sequences map[string]uint64

	// channel to signal shutdown
	shutdown chan struct{}

	running bool

	// callback invoked after a client is removed from the hub
	onClientDisconnect func(client *Client)

	// callback invoked after a client is registered
	onClientRegistered func(client *Client)
}

// processes a specific message type
type MessageHandler func(hub *Hub, client *Client, msg *Message) error

// creates a new message with a marshaled payload
func NewMessage(msgType, documentID, userID string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:       msgType,
		DocumentID: documentID,
		UserID:     userID,
		Timestamp:  time.Now(),
		Payload:    data,
	}, nil
}

// decodes the message payload into dest
func (m *Message) UnmarshalPayload(dest any) error {
	if len(m.Payload) == 0 {
		return ErrInvalidMessage
	}

	return json.Unmarshal(m.Payload, dest)
}
