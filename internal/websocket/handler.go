package websocket

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// History replay scopes. The relay replays the connecting user's own past
// messages by default; HistoryScopeRoom selects the room-wide variant.
const (
	HistoryScopeUser = "user"
	HistoryScopeRoom = "room"
)

// Options carries the tunables for connection handling.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	HistoryScope string
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler drives the per-connection lifecycle: identify the user, replay
// history, register with the registry, then relay inbound messages until the
// connection closes.
type Handler struct {
	registry  *Registry
	directory interfaces.UserDirectory
	store     interfaces.MessageStore
	opts      Options
}

// NewHandler creates a connection handler.
func NewHandler(registry *Registry, directory interfaces.UserDirectory, store interfaces.MessageStore, opts Options) *Handler {
	return &Handler{
		registry:  registry,
		directory: directory,
		store:     store,
		opts:      opts,
	}
}

// HandleChat accepts a live connection request. A missing or malformed
// username refuses the connection before the upgrade; every later failure
// runs the disconnect path.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "Missing required query parameter: username", http.StatusBadRequest)
		return
	}
	if !types.IsValidUsername(username) {
		http.Error(w, "Invalid username", http.StatusBadRequest)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(wsConn, h.opts.SendBuffer, h.opts.WriteTimeout)

	// Identifying: resolve the username to a stable user. A store failure
	// here is fatal to this connection attempt only.
	user, err := h.directory.Resolve(r.Context(), username)
	if err != nil {
		log.Printf("Identification failed for username=%s: %v", username, err)
		_ = conn.Close()
		return
	}
	conn.SetUsername(user.Username)

	// ReplayingHistory: send past messages as a single ordered array frame,
	// then register for broadcasts.
	if err := h.replayHistory(r.Context(), conn, user); err != nil {
		log.Printf("History replay failed for username=%s: %v", user.Username, err)
		_ = conn.Close()
		return
	}

	h.registry.Register(conn)

	go h.runConnection(conn, user)
}

// replayHistory sends the history envelope array for the connecting user.
func (h *Handler) replayHistory(ctx context.Context, conn *Connection, user *types.User) error {
	var envelopes []types.Envelope
	var err error

	switch h.opts.HistoryScope {
	case HistoryScopeRoom:
		envelopes, err = h.store.RoomHistory(ctx)
	default:
		var messages []*types.Message
		messages, err = h.store.HistoryForUser(ctx, user.ID)
		if err == nil {
			envelopes = lo.Map(messages, func(msg *types.Message, _ int) types.Envelope {
				return types.HistoryEnvelope(user.Username, msg)
			})
		}
	}
	if err != nil {
		return err
	}

	if envelopes == nil {
		envelopes = []types.Envelope{}
	}
	return conn.WriteJSON(envelopes)
}

// runConnection is the Active loop: one goroutine per live connection. The
// deferred cleanup is the single Disconnecting step and runs on every exit
// path.
func (h *Handler) runConnection(conn *Connection, user *types.User) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: id=%s: %v", conn.ID(), err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.opts.WriteTimeout)
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Read failed: id=%s username=%s: %v", conn.ID(), user.Username, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		h.relayMessage(conn, user, string(data))
	}
}

// relayMessage persists one inbound line and broadcasts it. A store failure
// drops the message and keeps the connection active; the sender is not
// notified.
func (h *Handler) relayMessage(conn *Connection, user *types.User, content string) {
	if _, err := h.store.AppendMessage(context.Background(), user.ID, content); err != nil {
		log.Printf("Dropping message: username=%s length=%d: append failed: %v",
			user.Username, len(content), err)
		return
	}

	h.registry.Broadcast(types.BroadcastEnvelope(user.Username, content))
}
