package ws

import (
	"context"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codehaven/api/internal/app"
)

// Identifier resolves a connection's credentials to an identity.
type Identifier interface {
	Identify(ctx context.Context, token, fallbackName, fallbackID string) (app.Identity, error)
}

// Handler upgrades /ws requests and hands the connection to the hub.
type Handler struct {
	hub        *Hub
	identifier Identifier
	upgrader   websocket.Upgrader
}

func NewHandler(hub *Hub, identifier Identifier, corsOrigin string) *Handler {
	return &Handler{
		hub:        hub,
		identifier: identifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if corsOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == corsOrigin
			},
		},
	}
}

// ServeHTTP authenticates before upgrading: a bad token is an HTTP 401, not
// a websocket close, so clients can distinguish auth failures from network
// trouble.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	identity, err := h.identifier.Identify(r.Context(), query.Get("token"), query.Get("name"), query.Get("userId"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}

	client := newClient(uuid.NewString(), identity, h.hub, conn)
	go client.writePump()
	go client.readPump()
}
