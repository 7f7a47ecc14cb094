// Package ws relays the raw change feed over a websocket for clients
// that run their own sync engine. It is a thin pipe: no dedup, no
// ordering, just events and subscription status as JSON frames.
package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/attune-labs/attune/backend/internal/feed"
)

const writeTimeout = 10 * time.Second

// Handler upgrades connections and bridges them to the feed.
type Handler struct {
	source   feed.Source
	upgrader websocket.Upgrader
}

// New creates the websocket handler.
func New(source feed.Source) *Handler {
	return &Handler{
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type outgoingFrame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	Status    feed.Status `json:"status,omitempty"`
	Event     *feed.Event `json:"event,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed, session=%s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	sub, err := h.source.Subscribe(r.Context(), sessionID)
	if err != nil {
		log.Printf("[ws] subscribe failed, session=%s: %v", sessionID, err)
		_ = h.write(conn, outgoingFrame{Type: "status", SessionID: sessionID, Status: feed.StatusError})
		return
	}
	defer sub.Unsubscribe()

	// Read pump only notices the peer going away; inbound frames carry
	// no meaning on this endpoint.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Printf("[ws] relay opened, session=%s", sessionID)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return

		case status, ok := <-sub.Status:
			if !ok {
				return
			}
			if err := h.write(conn, outgoingFrame{Type: "status", SessionID: sessionID, Status: status}); err != nil {
				return
			}
			if status == feed.StatusClosed {
				return
			}

		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := h.write(conn, outgoingFrame{Type: "event", SessionID: sessionID, Event: &event}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, frame outgoingFrame) error {
	frame.Timestamp = time.Now().UnixMilli()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame)
}
