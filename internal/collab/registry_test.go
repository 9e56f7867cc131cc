package collab

import (
	"testing"
	"time"
)

func testKey() RoomKey {
	return RoomKey{Owner: "alice", Repo: "myrepo", Path: "src/index.js"}
}

func TestParseRoomKey(t *testing.T) {
	key, err := ParseRoomKey("alice/myrepo/src/index.js")
	if err != nil {
		t.Fatalf("ParseRoomKey() error = %v", err)
	}
	if key.Owner != "alice" || key.Repo != "myrepo" || key.Path != "src/index.js" {
		t.Fatalf("unexpected key: %+v", key)
	}
	if key.String() != "alice/myrepo/src/index.js" {
		t.Fatalf("round trip = %q", key.String())
	}
}

func TestParseRoomKeyRejectsShortKeys(t *testing.T) {
	for _, raw := range []string{"", "alice", "alice/myrepo", "alice//file.js", "/repo/file.js"} {
		if _, err := ParseRoomKey(raw); err == nil {
			t.Fatalf("ParseRoomKey(%q) succeeded, want error", raw)
		}
	}
}

func TestGetOrCreateIsLazyAndStable(t *testing.T) {
	reg := NewRegistry(time.Minute, time.Hour)
	if _, ok := reg.Get(testKey()); ok {
		t.Fatal("room should not exist before first join")
	}
	room := reg.GetOrCreate(testKey())
	if room.Content() != "" {
		t.Fatalf("new room content = %q, want empty", room.Content())
	}
	if again := reg.GetOrCreate(testKey()); again != room {
		t.Fatal("GetOrCreate returned a different room for the same key")
	}
}

func TestJoinThenLeaveRestoresParticipantCount(t *testing.T) {
	reg := NewRegistry(time.Minute, time.Hour)
	room := reg.GetOrCreate(testKey())
	room.AddParticipant("conn-1", "Alice")
	before := room.ParticipantCount()

	room.AddParticipant("conn-2", "Bob")
	if remaining, ok := reg.RemoveParticipant(testKey(), "conn-2"); !ok || remaining != before {
		t.Fatalf("RemoveParticipant() = (%d, %v), want (%d, true)", remaining, ok, before)
	}
}

func TestUpdateCursorAfterLeaveIsNoOp(t *testing.T) {
	room := NewRoom(testKey())
	room.AddParticipant("conn-1", "Alice")
	room.RemoveParticipant("conn-1")
	if room.UpdateCursor("conn-1", CursorPosition{Line: 3, Column: 7}, nil) {
		t.Fatal("UpdateCursor for a removed participant should report false")
	}
}

func TestParticipantsOrderedByJoin(t *testing.T) {
	room := NewRoom(testKey())
	room.AddParticipant("c", "Carol")
	room.AddParticipant("a", "Alice")
	room.AddParticipant("b", "Bob")

	list := room.Participants()
	if len(list) != 3 {
		t.Fatalf("len(Participants()) = %d", len(list))
	}
	if list[0].DisplayName != "Carol" || list[1].DisplayName != "Alice" || list[2].DisplayName != "Bob" {
		t.Fatalf("unexpected order: %v, %v, %v", list[0].DisplayName, list[1].DisplayName, list[2].DisplayName)
	}
	for _, p := range list {
		if p.Color == "" {
			t.Fatalf("participant %s has no color", p.ID)
		}
		if p.Position.Line != 1 || p.Position.Column != 1 {
			t.Fatalf("participant %s default position = %+v", p.ID, p.Position)
		}
	}
}

func TestSweepEvictsEmptyRoomsAfterGrace(t *testing.T) {
	reg := NewRegistry(time.Minute, time.Hour)
	room := reg.GetOrCreate(testKey())
	room.AddParticipant("conn-1", "Alice")
	reg.RemoveParticipant(testKey(), "conn-1")

	if evicted := reg.Sweep(time.Now()); evicted != 0 {
		t.Fatalf("Sweep before grace evicted %d rooms", evicted)
	}
	if evicted := reg.Sweep(time.Now().Add(2 * time.Minute)); evicted != 1 {
		t.Fatalf("Sweep after grace evicted %d rooms, want 1", evicted)
	}
	if reg.RoomCount() != 0 {
		t.Fatalf("RoomCount() = %d after sweep", reg.RoomCount())
	}
}

func TestSweepSparesOccupiedRoomsHoweverIdle(t *testing.T) {
	reg := NewRegistry(time.Minute, 30*time.Minute)
	room := reg.GetOrCreate(testKey())
	room.AddParticipant("conn-1", "Alice")
	room.SetContent("unsaved work")

	// A participant reading quietly for hours must not lose the buffer.
	if evicted := reg.Sweep(time.Now().Add(3 * time.Hour)); evicted != 0 {
		t.Fatalf("Sweep evicted %d occupied room(s), want 0", evicted)
	}
	kept, ok := reg.Get(testKey())
	if !ok {
		t.Fatal("occupied room gone after sweep")
	}
	if kept != room || kept.Content() != "unsaved work" {
		t.Fatalf("room buffer after sweep = %q, want %q", kept.Content(), "unsaved work")
	}
	if kept.ParticipantCount() != 1 {
		t.Fatalf("ParticipantCount() = %d after sweep, want 1", kept.ParticipantCount())
	}

	// Once the last participant leaves, the usual grace period applies.
	reg.RemoveParticipant(testKey(), "conn-1")
	if evicted := reg.Sweep(time.Now().Add(2 * time.Minute)); evicted != 1 {
		t.Fatalf("Sweep after leave evicted %d rooms, want 1", evicted)
	}
}

func TestApplyOperationsRejectsBatchAtomically(t *testing.T) {
	room := NewRoom(testKey())
	room.SetContent("stable")
	err := room.ApplyOperations([]EditOperation{
		op(1, 1, 1, 1, "ok-"),
		op(0, 0, 0, 0, "bad"),
	})
	if err != ErrMalformedOperation {
		t.Fatalf("ApplyOperations() error = %v, want ErrMalformedOperation", err)
	}
	if room.Content() != "stable" {
		t.Fatalf("buffer changed after rejected batch: %q", room.Content())
	}
}
