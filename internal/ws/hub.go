package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"codehaven/api/internal/app"
	"codehaven/api/internal/collab"
	"codehaven/api/internal/session"
)

// Saver is the slice of the application service the hub needs: committing a
// room buffer and reading committed content to seed new rooms.
type Saver interface {
	SaveFile(ctx context.Context, key collab.RoomKey, author app.Identity, message, content string) (app.SaveResult, error)
	LoadFileContent(ctx context.Context, key collab.RoomKey) (string, error)
}

const saveTimeout = 30 * time.Second

// Hub serializes all room mutations through a single goroutine. Clients post
// events onto the channel; the run loop is the only writer to room membership
// and the only initiator of broadcasts, so fan-out order matches apply order.
type Hub struct {
	registry *collab.Registry
	saver    Saver
	mirror   *session.PresenceMirror

	events chan event
	stop   chan struct{}
	rooms  map[collab.RoomKey]map[string]*Client
}

type event interface{ isEvent() }

type joinEvent struct {
	client *Client
	key    collab.RoomKey
	seed   string
}

type leaveEvent struct {
	client *Client
	key    collab.RoomKey
}

type disconnectEvent struct {
	client *Client
}

type changesEvent struct {
	client  *Client
	key     collab.RoomKey
	changes []collab.EditOperation
}

type cursorEvent struct {
	client    *Client
	key       collab.RoomKey
	position  collab.CursorPosition
	selection *collab.SelectionRange
}

type saveEvent struct {
	client  *Client
	key     collab.RoomKey
	message string
}

type saveDoneEvent struct {
	client *Client
	key    collab.RoomKey
	result app.SaveResult
	err    error
}

func (joinEvent) isEvent()       {}
func (leaveEvent) isEvent()      {}
func (disconnectEvent) isEvent() {}
func (changesEvent) isEvent()    {}
func (cursorEvent) isEvent()     {}
func (saveEvent) isEvent()       {}
func (saveDoneEvent) isEvent()   {}

func NewHub(registry *collab.Registry, saver Saver, mirror *session.PresenceMirror) *Hub {
	return &Hub{
		registry: registry,
		saver:    saver,
		mirror:   mirror,
		events:   make(chan event, 256),
		stop:     make(chan struct{}),
		rooms:    make(map[collab.RoomKey]map[string]*Client),
	}
}

// Run consumes events until Stop is called. It must run in exactly one
// goroutine.
func (h *Hub) Run() {
	for {
		select {
		case ev := <-h.events:
			h.dispatch(ev)
		case <-h.stop:
			for _, clients := range h.rooms {
				for _, client := range clients {
					client.close()
				}
			}
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.stop)
}

func (h *Hub) post(ev event) {
	select {
	case h.events <- ev:
	case <-h.stop:
	}
}

func (h *Hub) dispatch(ev event) {
	switch ev := ev.(type) {
	case joinEvent:
		h.handleJoin(ev)
	case leaveEvent:
		h.handleLeave(ev.client, ev.key)
	case disconnectEvent:
		h.handleDisconnect(ev.client)
	case changesEvent:
		h.handleChanges(ev)
	case cursorEvent:
		h.handleCursor(ev)
	case saveEvent:
		h.handleSave(ev)
	case saveDoneEvent:
		h.handleSaveDone(ev)
	}
}

func (h *Hub) handleJoin(ev joinEvent) {
	room := h.registry.GetOrCreate(ev.key)
	if room.ParticipantCount() == 0 && room.Content() == "" && ev.seed != "" {
		room.SetContent(ev.seed)
	}

	participant := room.AddParticipant(ev.client.id, ev.client.identity.DisplayName)
	ev.client.joined[ev.key] = true

	clients := h.rooms[ev.key]
	if clients == nil {
		clients = make(map[string]*Client)
		h.rooms[ev.key] = clients
	}
	clients[ev.client.id] = ev.client

	ev.client.send(mustEncode(TypeFileContent, FileContentPayload{
		RoomID:  ev.key.String(),
		Content: room.Content(),
	}))
	h.broadcastPresence(ev.key, room)
	h.mirrorSet(ev.key, *participant)
}

func (h *Hub) handleLeave(client *Client, key collab.RoomKey) {
	if !client.joined[key] {
		return
	}
	delete(client.joined, key)

	if clients := h.rooms[key]; clients != nil {
		delete(clients, client.id)
		if len(clients) == 0 {
			delete(h.rooms, key)
		}
	}

	remaining, removed := h.registry.RemoveParticipant(key, client.id)
	if removed && remaining > 0 {
		if room, ok := h.registry.Get(key); ok {
			h.broadcastPresence(key, room)
		}
	}
	h.mirrorRemove(key, client.id)
}

// handleDisconnect is an implicit leave from every room the connection joined.
func (h *Hub) handleDisconnect(client *Client) {
	for key := range client.joined {
		h.handleLeave(client, key)
	}
	client.close()
}

func (h *Hub) handleChanges(ev changesEvent) {
	room, ok := h.registry.Get(ev.key)
	if !ok || !ev.client.joined[ev.key] {
		return
	}
	if err := room.ApplyOperations(ev.changes); err != nil {
		ev.client.send(mustEncode(TypeError, ErrorPayload{
			Code:    "MALFORMED_OPERATION",
			Message: err.Error(),
		}))
		return
	}
	payload := mustEncode(TypeFileChanges, FileChangesPayload{
		RoomID:  ev.key.String(),
		UserID:  ev.client.identity.UserID,
		Changes: ev.changes,
	})
	for id, client := range h.rooms[ev.key] {
		if id == ev.client.id {
			continue
		}
		client.send(payload)
	}
}

func (h *Hub) handleCursor(ev cursorEvent) {
	room, ok := h.registry.Get(ev.key)
	if !ok || !ev.client.joined[ev.key] {
		return
	}
	if !room.UpdateCursor(ev.client.id, ev.position, ev.selection) {
		return
	}
	h.broadcastPresence(ev.key, room)
	if p, ok := room.Participant(ev.client.id); ok {
		h.mirrorSet(ev.key, p)
	}
}

// handleSave snapshots the buffer inside the loop, then persists outside it.
// The completion re-enters the loop as a saveDoneEvent so the file-saved
// broadcast is ordered against any edits that landed during the save.
func (h *Hub) handleSave(ev saveEvent) {
	room, ok := h.registry.Get(ev.key)
	if !ok || !ev.client.joined[ev.key] {
		return
	}
	content := room.Content()
	author := ev.client.identity

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		result, err := h.saver.SaveFile(ctx, ev.key, author, ev.message, content)
		h.post(saveDoneEvent{client: ev.client, key: ev.key, result: result, err: err})
	}()
}

func (h *Hub) handleSaveDone(ev saveDoneEvent) {
	if ev.err != nil {
		message := "save failed"
		if errors.Is(ev.err, app.ErrWriteForbidden) {
			message = "write access denied"
		}
		log.Printf("save %s: %v", ev.key, ev.err)
		ev.client.send(mustEncode(TypeSaveError, SaveErrorPayload{
			RoomID:  ev.key.String(),
			Message: message,
		}))
		return
	}
	payload := mustEncode(TypeFileSaved, FileSavedPayload{
		RoomID:   ev.key.String(),
		CommitID: ev.result.CommitID,
		GitHash:  ev.result.GitHash,
		Content:  ev.result.Content,
	})
	for _, client := range h.rooms[ev.key] {
		client.send(payload)
	}
}

// seedContent loads committed content for a room that does not exist yet so
// the first joiner sees the file's last saved state. It runs on the caller's
// goroutine; the hub loop never blocks on storage.
func (h *Hub) seedContent(key collab.RoomKey) string {
	if _, ok := h.registry.Get(key); ok {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	content, err := h.saver.LoadFileContent(ctx, key)
	if err != nil {
		return ""
	}
	return content
}

func (h *Hub) broadcastPresence(key collab.RoomKey, room *collab.Room) {
	payload := mustEncode(TypePresence, PresencePayload{
		RoomID:       key.String(),
		Participants: room.Participants(),
	})
	for _, client := range h.rooms[key] {
		client.send(payload)
	}
}

// Mirror writes are best effort: presence stays correct in-process even when
// Redis is down.
func (h *Hub) mirrorSet(key collab.RoomKey, p collab.Participant) {
	if h.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.mirror.SetParticipant(ctx, key.String(), p); err != nil {
			log.Printf("presence mirror set: %v", err)
		}
	}()
}

func (h *Hub) mirrorRemove(key collab.RoomKey, participantID string) {
	if h.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.mirror.RemoveParticipant(ctx, key.String(), participantID); err != nil {
			log.Printf("presence mirror remove: %v", err)
		}
	}()
}
