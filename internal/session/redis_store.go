// Package session mirrors live room membership into Redis so operators and
// sibling processes can observe active collaboration sessions. The in-process
// registry stays authoritative; every key carries a TTL so a crashed process
// leaks nothing.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"codehaven/api/internal/collab"
)

// ParticipantRecord is the data mirrored for each connected participant.
type ParticipantRecord struct {
	RoomID      string                `json:"room_id"`
	ID          string                `json:"id"`
	DisplayName string                `json:"display_name"`
	Color       string                `json:"color"`
	Position    collab.CursorPosition `json:"position"`
	JoinedAt    time.Time             `json:"joined_at"`
}

// PresenceMirror writes room membership under TTL keys.
type PresenceMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPresenceMirror connects to Redis and verifies the connection.
func NewPresenceMirror(redisURL string, ttl time.Duration) (*PresenceMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &PresenceMirror{
		client: client,
		prefix: "presence:",
		ttl:    ttl,
	}, nil
}

// NewPresenceMirrorWithClient builds a mirror from an existing client.
func NewPresenceMirrorWithClient(client *redis.Client, ttl time.Duration) *PresenceMirror {
	return &PresenceMirror{client: client, prefix: "presence:", ttl: ttl}
}

func (m *PresenceMirror) key(roomID, participantID string) string {
	return m.prefix + roomID + "|" + participantID
}

// SetParticipant upserts a participant record and refreshes its TTL. Called
// on join and on every cursor update, so the TTL doubles as a liveness bound.
func (m *PresenceMirror) SetParticipant(ctx context.Context, roomID string, p collab.Participant) error {
	record := ParticipantRecord{
		RoomID:      roomID,
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Color:       p.Color,
		Position:    p.Position,
		JoinedAt:    time.Now(),
	}
	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	if err := m.client.Set(ctx, m.key(roomID, p.ID), jsonData, m.ttl).Err(); err != nil {
		return fmt.Errorf("mirror participant: %w", err)
	}
	return nil
}

// RemoveParticipant deletes one participant key.
func (m *PresenceMirror) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	if err := m.client.Del(ctx, m.key(roomID, participantID)).Err(); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

// ClearRoom deletes every key mirrored for a room.
func (m *PresenceMirror) ClearRoom(ctx context.Context, roomID string) error {
	keys, err := m.scan(ctx, m.prefix+roomID+"|*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear room: %w", err)
	}
	return nil
}

// RoomParticipants returns the mirrored participants of one room.
func (m *PresenceMirror) RoomParticipants(ctx context.Context, roomID string) ([]ParticipantRecord, error) {
	return m.load(ctx, m.prefix+roomID+"|*")
}

// ActiveRooms lists room ids with at least one live participant key.
func (m *PresenceMirror) ActiveRooms(ctx context.Context) ([]string, error) {
	records, err := m.load(ctx, m.prefix+"*")
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	rooms := make([]string, 0)
	for _, record := range records {
		if _, ok := seen[record.RoomID]; ok {
			continue
		}
		seen[record.RoomID] = struct{}{}
		rooms = append(rooms, record.RoomID)
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (m *PresenceMirror) load(ctx context.Context, pattern string) ([]ParticipantRecord, error) {
	keys, err := m.scan(ctx, pattern)
	if err != nil {
		return nil, err
	}
	records := make([]ParticipantRecord, 0, len(keys))
	for _, key := range keys {
		jsonData, err := m.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		var record ParticipantRecord
		if err := json.Unmarshal([]byte(jsonData), &record); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (m *PresenceMirror) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := m.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, key := range batch {
			if strings.HasPrefix(key, m.prefix) {
				keys = append(keys, key)
			}
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Ping verifies Redis connectivity.
func (m *PresenceMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (m *PresenceMirror) Close() error {
	return m.client.Close()
}
