package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"codehaven/api/internal/collab"
)

func setupTestMirror(t *testing.T) (*PresenceMirror, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	mirror, err := NewPresenceMirror("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create presence mirror: %v", err)
	}
	return mirror, s
}

func participant(id, name string) collab.Participant {
	return collab.Participant{
		ID:          id,
		DisplayName: name,
		Color:       "hsl(120, 70%, 60%)",
		Position:    collab.CursorPosition{Line: 1, Column: 1},
	}
}

func TestNewPresenceMirror(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	mirror, err := NewPresenceMirror("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewPresenceMirror failed: %v", err)
	}
	defer mirror.Close()

	if err := mirror.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSetAndListParticipants(t *testing.T) {
	mirror, s := setupTestMirror(t)
	defer mirror.Close()
	defer s.Close()

	ctx := context.Background()
	roomID := "alice/myrepo/src/index.js"

	if err := mirror.SetParticipant(ctx, roomID, participant("conn-1", "Alice")); err != nil {
		t.Fatalf("SetParticipant failed: %v", err)
	}
	if err := mirror.SetParticipant(ctx, roomID, participant("conn-2", "Bob")); err != nil {
		t.Fatalf("SetParticipant failed: %v", err)
	}

	records, err := mirror.RoomParticipants(ctx, roomID)
	if err != nil {
		t.Fatalf("RoomParticipants failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(records))
	}
	for _, record := range records {
		if record.RoomID != roomID {
			t.Errorf("record room id = %q, want %q", record.RoomID, roomID)
		}
	}
}

func TestRemoveParticipant(t *testing.T) {
	mirror, s := setupTestMirror(t)
	defer mirror.Close()
	defer s.Close()

	ctx := context.Background()
	roomID := "alice/myrepo/README.md"

	if err := mirror.SetParticipant(ctx, roomID, participant("conn-1", "Alice")); err != nil {
		t.Fatalf("SetParticipant failed: %v", err)
	}
	if err := mirror.RemoveParticipant(ctx, roomID, "conn-1"); err != nil {
		t.Fatalf("RemoveParticipant failed: %v", err)
	}

	records, err := mirror.RoomParticipants(ctx, roomID)
	if err != nil {
		t.Fatalf("RoomParticipants failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected 0 participants, got %d", len(records))
	}
}

func TestActiveRooms(t *testing.T) {
	mirror, s := setupTestMirror(t)
	defer mirror.Close()
	defer s.Close()

	ctx := context.Background()
	if err := mirror.SetParticipant(ctx, "alice/repo/a.js", participant("conn-1", "Alice")); err != nil {
		t.Fatalf("SetParticipant failed: %v", err)
	}
	if err := mirror.SetParticipant(ctx, "alice/repo/a.js", participant("conn-2", "Bob")); err != nil {
		t.Fatalf("SetParticipant failed: %v", err)
	}
	if err := mirror.SetParticipant(ctx, "bob/other/b.go", participant("conn-3", "Carol")); err != nil {
		t.Fatalf("SetParticipant failed: %v", err)
	}

	rooms, err := mirror.ActiveRooms(ctx)
	if err != nil {
		t.Fatalf("ActiveRooms failed: %v", err)
	}
	if len(rooms) != 2 || rooms[0] != "alice/repo/a.js" || rooms[1] != "bob/other/b.go" {
		t.Fatalf("unexpected rooms: %v", rooms)
	}
}

func TestParticipantKeysExpire(t *testing.T) {
	mirror, s := setupTestMirror(t)
	defer mirror.Close()
	defer s.Close()

	ctx := context.Background()
	roomID := "alice/repo/stale.js"
	if err := mirror.SetParticipant(ctx, roomID, participant("conn-1", "Alice")); err != nil {
		t.Fatalf("SetParticipant failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	records, err := mirror.RoomParticipants(ctx, roomID)
	if err != nil {
		t.Fatalf("RoomParticipants failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected expired participant to be gone, got %d records", len(records))
	}
}

func TestClearRoom(t *testing.T) {
	mirror, s := setupTestMirror(t)
	defer mirror.Close()
	defer s.Close()

	ctx := context.Background()
	roomID := "alice/repo/c.js"
	if err := mirror.SetParticipant(ctx, roomID, participant("conn-1", "Alice")); err != nil {
		t.Fatalf("SetParticipant failed: %v", err)
	}
	if err := mirror.SetParticipant(ctx, "bob/repo/d.js", participant("conn-2", "Bob")); err != nil {
		t.Fatalf("SetParticipant failed: %v", err)
	}

	if err := mirror.ClearRoom(ctx, roomID); err != nil {
		t.Fatalf("ClearRoom failed: %v", err)
	}

	rooms, err := mirror.ActiveRooms(ctx)
	if err != nil {
		t.Fatalf("ActiveRooms failed: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != "bob/repo/d.js" {
		t.Fatalf("unexpected rooms after clear: %v", rooms)
	}
}
