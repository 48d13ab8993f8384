package websocket

import (
	"time"

	"github.com/tablewise/dashsync/internal/logger"
)

func NewHub() *Hub {
	return &Hub{
		documents:  make(map[string]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan inbound, 256),
		handlers:   make(map[string]MessageHandler),
		sequences:  make(map[string]uint64),
		shutdown:   make(chan struct{}),
	}
}

// registers a handler for a specific message type
func (h *Hub) RegisterHandler(messageType string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[messageType] = handler
}

// sets callback to be called when a client disconnects
func (h *Hub) OnClientDisconnect(callback func(client *Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClientDisconnect = callback
}

// sets callback to be called after a client is registered
func (h *Hub) OnClientRegistered(callback func(client *Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClientRegistered = callback
}

// starts the hub's main loop
func (h *Hub) Run() {
	h.running = true
	defer func() {
		h.running = false
	}()

	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)

		case in := <-h.Inbound:
			h.dispatch(in)

		case <-h.shutdown:
			h.closeAllConnections()
			return
		}
	}
}

// adds a client to the hub. If a connection already exists for the
// same (document, user) pair it is superseded: closed and replaced,
// so a stale tab can never shadow a fresh one.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()

	doc := h.documents[client.DocumentID]
	if doc == nil {
		doc = make(map[string]*Client)
		h.documents[client.DocumentID] = doc
	}

	if prior, ok := doc[client.UserID]; ok && prior != client {
		prior.Close()

		logger.Info("superseding stale connection",
			"document_id", client.DocumentID,
			"user_id", client.UserID,
		)
	}

	doc[client.UserID] = client

	callback := h.onClientRegistered

	h.mu.Unlock()

	logger.Info("client registered",
		"document_id", client.DocumentID,
		"user_id", client.UserID,
		"username", client.Username,
	)

	if callback != nil {
		go callback(client)
	}
}

// removes a client from the hub. A no-op if the pair is now owned by
// a superseding connection.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()

	callback := h.onClientDisconnect

	doc, exists := h.documents[client.DocumentID]
	if !exists {
		h.mu.Unlock()
		return
	}

	current, exists := doc[client.UserID]
	if !exists || current != client {
		h.mu.Unlock()
		return
	}

	delete(doc, client.UserID)
	client.Close()

	if len(doc) == 0 {
		delete(h.documents, client.DocumentID)
		delete(h.sequences, client.DocumentID)

		logger.Info("document has no more connections, removed",
			"document_id", client.DocumentID,
		)
	}

	h.mu.Unlock()

	logger.Info("client unregistered",
		"document_id", client.DocumentID,
		"user_id", client.UserID,
	)

	// call disconnect callback outside the lock (touches engine state)
	if callback != nil {
		callback(client)
	}
}

// routes an inbound message to its registered handler
func (h *Hub) dispatch(in inbound) {
	h.mu.RLock()
	handler, exists := h.handlers[in.msg.Type]
	h.mu.RUnlock()

	if !exists {
		logger.Warn("unhandled message type received",
			"message_type", in.msg.Type,
			"document_id", in.client.DocumentID,
			"user_id", in.client.UserID,
		)

		in.client.SendError("bad_request", "unsupported message type", "message type not recognized")
		return
	}

	// run handler asynchronously to avoid blocking the hub
	go func() {
		if err := handler(h, in.client, in.msg); err != nil {
			logger.ErrorErr(err, "handler error",
				"message_type", in.msg.Type,
				"document_id", in.client.DocumentID,
				"user_id", in.client.UserID,
			)
		}
	}()
}

// delivers a message to one participant. Returns false, never an
// error, when the pair has no live connection or the send fails; the
// caller decides whether that means the user is gone.
func (h *Hub) SendToUser(documentID, userID string, msg *Message) bool {
	h.mu.RLock()

	var client *Client
	if doc, ok := h.documents[documentID]; ok {
		client = doc[userID]
	}

	h.mu.RUnlock()

	if client == nil {
		return false
	}

	return client.Send(msg) == nil
}

// fans a message out to every connection in the document except the
// optionally excluded sender. Failed connections are collected during
// the pass and unregistered afterwards, so one bad socket never
// aborts delivery to the rest and the map is never mutated while
// being iterated. Returns the number of successful deliveries.
func (h *Hub) BroadcastToDocument(documentID string, msg *Message, excludeUserID string) int {
	h.mu.Lock()

	doc, exists := h.documents[documentID]
	if !exists {
		h.mu.Unlock()
		return 0
	}

	// assign sequence number to message
	h.sequences[documentID]++
	msg.Sequence = h.sequences[documentID]

	// copy before iterating; sends can trigger removal
	targets := make([]*Client, 0, len(doc))
	for userID, client := range doc {
		if userID == excludeUserID {
			continue
		}

		targets = append(targets, client)
	}

	h.mu.Unlock()

	delivered := 0
	var failed []*Client

	for _, client := range targets {
		if err := client.Send(msg); err != nil {
			logger.Warn("failed to send message to client",
				"document_id", documentID,
				"user_id", client.UserID,
				"error", err,
			)

			failed = append(failed, client)
			continue
		}

		delivered++
	}

	// removal pass runs after iteration completes
	for _, client := range failed {
		h.removeClient(client)
	}

	return delivered
}

// returns the users with a live connection to a document
func (h *Hub) ConnectedUsers(documentID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	doc, exists := h.documents[documentID]
	if !exists {
		return nil
	}

	users := make([]string, 0, len(doc))
	for userID := range doc {
		users = append(users, userID)
	}

	return users
}

// returns the number of live connections for a document
func (h *Hub) ConnectionCount(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.documents[documentID])
}

// returns the number of documents with at least one live connection
func (h *Hub) DocumentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.documents)
}

// drops the connection for one (document, user) pair; reports whether
// a live connection existed
func (h *Hub) Disconnect(documentID, userID string) bool {
	h.mu.RLock()

	var client *Client
	if doc, ok := h.documents[documentID]; ok {
		client = doc[userID]
	}

	h.mu.RUnlock()

	if client == nil {
		return false
	}

	h.removeClient(client)
	return true
}

func (h *Hub) Shutdown() {
	if h.running {
		close(h.shutdown)
	}
}

func (h *Hub) closeAllConnections() {
	h.mu.Lock()

	logger.Info("notifying clients of server shutdown")

	for documentID, doc := range h.documents {
		shutdownMsg, err := NewMessage(TypeServerShutdown, documentID, "", ServerShutdownPayload{
			Reason: "server is shutting down",
		})
		if err != nil {
			continue
		}

		for _, client := range doc {
			client.Send(shutdownMsg) //nolint:errcheck,gosec // best-effort notification
		}
	}

	h.mu.Unlock()

	// give clients time to receive the shutdown message
	time.Sleep(500 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()

	logger.Info("closing all websocket connections")

	for _, doc := range h.documents {
		for _, client := range doc {
			client.Close()
		}
	}

	h.documents = make(map[string]map[string]*Client)
	h.sequences = make(map[string]uint64)
}
