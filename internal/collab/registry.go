// Package collab holds the in-memory state of active editing sessions: the
// room registry, per-room presence, and the text reconciliation function.
package collab

import (
	"log"
	"sync"
	"time"
)

// Registry owns the lifecycle of rooms. At most one room exists per key; a
// room is created lazily on first join and evicted by the sweep once it is
// empty and past the grace period or the idle timeout. Occupied rooms are
// never evicted.
type Registry struct {
	mu    sync.RWMutex
	rooms map[RoomKey]*Room

	emptyGrace  time.Duration
	idleTimeout time.Duration
}

func NewRegistry(emptyGrace, idleTimeout time.Duration) *Registry {
	return &Registry{
		rooms:       make(map[RoomKey]*Room),
		emptyGrace:  emptyGrace,
		idleTimeout: idleTimeout,
	}
}

// GetOrCreate never fails; a missing room is created with empty content.
func (g *Registry) GetOrCreate(key RoomKey) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok := g.rooms[key]; ok {
		return room
	}
	room := NewRoom(key)
	g.rooms[key] = room
	return room
}

func (g *Registry) Get(key RoomKey) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[key]
	return room, ok
}

// RemoveParticipant drops a participant from a room. An empty room is left
// in place for the grace period so a reconnecting client finds its buffer.
func (g *Registry) RemoveParticipant(key RoomKey, participantID string) (int, bool) {
	room, ok := g.Get(key)
	if !ok {
		return 0, false
	}
	return room.RemoveParticipant(participantID)
}

// RoomInfo is a point-in-time view of one active room.
type RoomInfo struct {
	RoomID       string `json:"roomId"`
	Participants int    `json:"participants"`
}

// Snapshot lists rooms that currently have participants.
func (g *Registry) Snapshot() []RoomInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]RoomInfo, 0, len(g.rooms))
	for key, room := range g.rooms {
		count := room.ParticipantCount()
		if count == 0 {
			continue
		}
		out = append(out, RoomInfo{RoomID: key.String(), Participants: count})
	}
	return out
}

func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Sweep evicts abandoned rooms and reports how many were removed. Only empty
// rooms are candidates: a room with a connected participant keeps its buffer
// no matter how long it sits idle. An empty room goes once it has outlived
// the grace period or its last activity predates the idle timeout.
func (g *Registry) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	evicted := 0
	for key, room := range g.rooms {
		emptyFor, empty := room.emptyFor(now)
		if !empty {
			continue
		}
		if emptyFor >= g.emptyGrace || room.idleFor(now) >= g.idleTimeout {
			delete(g.rooms, key)
			evicted++
		}
	}
	return evicted
}

// Janitor runs Sweep on an interval until stop is closed.
func (g *Registry) Janitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if evicted := g.Sweep(now); evicted > 0 {
				log.Printf("collab: swept %d idle room(s)", evicted)
			}
		}
	}
}
