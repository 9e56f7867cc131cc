package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codehaven/api/internal/app"
	"codehaven/api/internal/collab"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// Client is one websocket connection. The read pump translates wire messages
// into hub events; the write pump drains the buffered outbox. A connection
// whose outbox fills up is dropped rather than allowed to stall the hub.
type Client struct {
	id       string
	identity app.Identity
	hub      *Hub
	conn     *websocket.Conn

	outbox    chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	// joined is owned by the hub goroutine.
	joined map[collab.RoomKey]bool
}

func newClient(id string, identity app.Identity, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:       id,
		identity: identity,
		hub:      hub,
		conn:     conn,
		outbox:   make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
		joined:   make(map[collab.RoomKey]bool),
	}
}

// send queues a message without blocking. Safe from the hub and read
// goroutines.
func (c *Client) send(message []byte) {
	select {
	case c.outbox <- message:
	case <-c.closed:
	default:
		// Slow consumer; sacrificing the connection keeps the room live for
		// everyone else. The client reconnects and re-joins.
		log.Printf("ws: dropping slow client %s", c.id)
		c.close()
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.post(disconnectEvent{client: c})
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read %s: %v", c.id, err)
			}
			return
		}
		c.handleMessage(raw)
	}
}

func (c *Client) handleMessage(raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.sendError("BAD_MESSAGE", "message is not valid JSON")
		return
	}

	switch envelope.Type {
	case TypeJoin:
		var payload JoinPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			c.sendError("BAD_PAYLOAD", err.Error())
			return
		}
		key, err := collab.ParseRoomKey(payload.RoomID)
		if err != nil {
			c.sendError("BAD_ROOM", err.Error())
			return
		}
		c.hub.post(joinEvent{client: c, key: key, seed: c.hub.seedContent(key)})

	case TypeLeave:
		var payload LeavePayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			c.sendError("BAD_PAYLOAD", err.Error())
			return
		}
		key, err := collab.ParseRoomKey(payload.RoomID)
		if err != nil {
			c.sendError("BAD_ROOM", err.Error())
			return
		}
		c.hub.post(leaveEvent{client: c, key: key})

	case TypeFileChanges:
		var payload FileChangesPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			c.sendError("BAD_PAYLOAD", err.Error())
			return
		}
		key, err := collab.ParseRoomKey(payload.RoomID)
		if err != nil {
			c.sendError("BAD_ROOM", err.Error())
			return
		}
		if len(payload.Changes) == 0 {
			return
		}
		c.hub.post(changesEvent{client: c, key: key, changes: payload.Changes})

	case TypeCursor:
		var payload CursorPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			c.sendError("BAD_PAYLOAD", err.Error())
			return
		}
		key, err := collab.ParseRoomKey(payload.RoomID)
		if err != nil {
			c.sendError("BAD_ROOM", err.Error())
			return
		}
		c.hub.post(cursorEvent{client: c, key: key, position: payload.Position, selection: payload.Selection})

	case TypeSave:
		var payload SavePayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			c.sendError("BAD_PAYLOAD", err.Error())
			return
		}
		key, err := collab.ParseRoomKey(payload.RoomID)
		if err != nil {
			c.sendError("BAD_ROOM", err.Error())
			return
		}
		c.hub.post(saveEvent{client: c, key: key, message: payload.Message})

	default:
		c.sendError("UNKNOWN_TYPE", envelope.Type)
	}
}

// sendError runs on the read goroutine, so it writes to the outbox the same
// way the hub does.
func (c *Client) sendError(code, message string) {
	c.send(mustEncode(TypeError, ErrorPayload{Code: code, Message: message}))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
