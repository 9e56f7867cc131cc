// Package ws carries the collaboration channel: a gorilla/websocket endpoint
// whose room mutations are serialized through a single hub goroutine.
package ws

import (
	"encoding/json"
	"fmt"

	"codehaven/api/internal/collab"
)

// Message types on the wire, client to server and server to client. The
// names match the browser client's event vocabulary.
const (
	TypeJoin        = "join-file-room"
	TypeLeave       = "leave-file-room"
	TypeFileChanges = "file-changes"
	TypeCursor      = "cursor-update"
	TypeSave        = "save-file"

	TypeFileContent = "file-content"
	TypePresence    = "presence-update"
	TypeFileSaved   = "file-saved"
	TypeSaveError   = "save-error"
	TypeError       = "error"
)

// Envelope is the single wire format: a type tag plus a type-specific payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type JoinPayload struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

type LeavePayload struct {
	RoomID string `json:"roomId"`
}

type FileChangesPayload struct {
	RoomID  string                 `json:"roomId"`
	UserID  string                 `json:"userId,omitempty"`
	Changes []collab.EditOperation `json:"changes"`
}

type CursorPayload struct {
	RoomID    string                 `json:"roomId"`
	UserID    string                 `json:"userId"`
	Position  collab.CursorPosition  `json:"position"`
	Selection *collab.SelectionRange `json:"selection,omitempty"`
}

type SavePayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type FileContentPayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type PresencePayload struct {
	RoomID       string               `json:"roomId"`
	Participants []collab.Participant `json:"participants"`
}

type FileSavedPayload struct {
	RoomID   string `json:"roomId"`
	CommitID string `json:"commitId"`
	GitHash  string `json:"gitHash,omitempty"`
	Content  string `json:"content"`
}

type SaveErrorPayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"error"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encode(messageType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", messageType, err)
	}
	return json.Marshal(Envelope{Type: messageType, Payload: raw})
}

// mustEncode is for server-built payloads, which are always marshalable.
func mustEncode(messageType string, payload any) []byte {
	raw, err := encode(messageType, payload)
	if err != nil {
		panic(err)
	}
	return raw
}
