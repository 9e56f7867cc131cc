package collab

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// CursorPosition is 1-indexed; column 1 sits before the first character.
type CursorPosition struct {
	Line   int `json:"lineNumber"`
	Column int `json:"column"`
}

// SelectionRange spans [start, end) in editor coordinates.
type SelectionRange struct {
	StartLine   int `json:"startLineNumber"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLineNumber"`
	EndColumn   int `json:"endColumn"`
}

// Participant is one connected user within a room. ID is the connection
// identifier and is stable for the lifetime of the connection.
type Participant struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"name"`
	Color       string          `json:"color"`
	Position    CursorPosition  `json:"position"`
	Selection   *SelectionRange `json:"selection,omitempty"`

	joinedAt int64
}

// Room holds the authoritative buffer and participant set for one file.
// All mutation happens through the hub's event goroutine; the mutex exists
// for the janitor and HTTP-side reads.
type Room struct {
	Key RoomKey

	mu           sync.RWMutex
	content      string
	participants map[string]*Participant
	joinSeq      int64
	lastActive   time.Time
	emptySince   time.Time
}

func NewRoom(key RoomKey) *Room {
	now := time.Now()
	return &Room{
		Key:          key,
		participants: make(map[string]*Participant),
		lastActive:   now,
		emptySince:   now,
	}
}

func (r *Room) Content() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.content
}

func (r *Room) SetContent(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.content = content
	r.lastActive = time.Now()
}

// ApplyOperations applies each operation in order to the room buffer.
// A malformed operation aborts the whole batch and leaves the buffer as it
// was before the batch started.
func (r *Room) ApplyOperations(ops []EditOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.content
	for _, op := range ops {
		applied, err := Apply(next, op)
		if err != nil {
			return err
		}
		next = applied
	}
	r.content = next
	r.lastActive = time.Now()
	return nil
}

// AddParticipant inserts a participant with a derived color and the default
// cursor position. Re-joining with an existing id replaces the old entry.
func (r *Room) AddParticipant(id, displayName string) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinSeq++
	p := &Participant{
		ID:          id,
		DisplayName: displayName,
		Color:       randomColor(),
		Position:    CursorPosition{Line: 1, Column: 1},
		joinedAt:    r.joinSeq,
	}
	r.participants[id] = p
	r.lastActive = time.Now()
	return p
}

// UpdateCursor is a silent no-op when the participant is already gone; a
// cursor event racing a disconnect is benign.
func (r *Room) UpdateCursor(id string, position CursorPosition, selection *SelectionRange) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return false
	}
	p.Position = position
	p.Selection = selection
	r.lastActive = time.Now()
	return true
}

// RemoveParticipant reports whether the participant was present and how many
// remain afterwards.
func (r *Room) RemoveParticipant(id string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[id]; !ok {
		return len(r.participants), false
	}
	delete(r.participants, id)
	remaining := len(r.participants)
	if remaining == 0 {
		r.emptySince = time.Now()
	}
	r.lastActive = time.Now()
	return remaining, true
}

// Participants returns a snapshot ordered by join time, matching the
// presence list the original client renders.
func (r *Room) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].joinedAt < out[j-1].joinedAt; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Participant returns a copy of one participant by connection id.
func (r *Room) Participant(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Room) idleFor(now time.Time) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return now.Sub(r.lastActive)
}

func (r *Room) emptyFor(now time.Time) (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.participants) > 0 {
		return 0, false
	}
	return now.Sub(r.emptySince), true
}

// randomColor picks a cursor color; only visual distinction matters, so a
// random hue with fixed saturation and lightness is enough.
func randomColor() string {
	return fmt.Sprintf("hsl(%d, 70%%, 60%%)", rand.Intn(360))
}
