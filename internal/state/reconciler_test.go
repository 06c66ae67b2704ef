package state

import (
	"testing"
	"time"

	"emberchat/internal/protocol"
)

func msg(id, roomID, content string) protocol.ChatMessage {
	return protocol.ChatMessage{
		ID:             id,
		RoomID:         roomID,
		SenderUsername: "alice",
		Content:        content,
		SentAt:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func joined(t *testing.T, r *Reconciler, roomID, name string) {
	t.Helper()
	r.Apply(protocol.RoomJoinedEvent{RoomID: roomID, RoomName: name})
}

func TestApply_Authenticated(t *testing.T) {
	r := NewReconciler()

	delta := r.Apply(protocol.AuthenticatedEvent{UserID: "u-1", Username: "alice"})
	if delta.Kind != protocol.EvtAuthenticated {
		t.Errorf("delta.Kind = %v, want %v", delta.Kind, protocol.EvtAuthenticated)
	}
	if r.UserID() != "u-1" || r.Username() != "alice" {
		t.Errorf("identity = %v/%v, want u-1/alice", r.UserID(), r.Username())
	}
}

func TestApply_FirstRoomBecomesCurrent(t *testing.T) {
	r := NewReconciler()

	joined(t, r, "room-1", "general")
	joined(t, r, "room-2", "random")

	if got := r.CurrentRoomID(); got != "room-1" {
		t.Errorf("CurrentRoomID() = %v, want room-1", got)
	}
	rooms := r.Rooms()
	if len(rooms) != 2 || rooms[0].ID != "room-1" || rooms[1].ID != "room-2" {
		t.Errorf("Rooms() = %+v, want join order room-1, room-2", rooms)
	}
}

func TestApply_RoomJoinedRedeliveryIsIdempotent(t *testing.T) {
	r := NewReconciler()

	joined(t, r, "room-1", "general")
	joined(t, r, "room-1", "general")

	if got := len(r.Rooms()); got != 1 {
		t.Errorf("len(Rooms()) = %v, want 1", got)
	}
}

func TestApply_RoomLeftSelectsMostRecentlyJoined(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")
	joined(t, r, "room-2", "random")
	joined(t, r, "room-3", "dev")

	r.Apply(protocol.RoomLeftEvent{RoomID: "room-1"})

	if got := r.CurrentRoomID(); got != "room-3" {
		t.Errorf("CurrentRoomID() = %v, want room-3", got)
	}
}

func TestApply_RoomLeftPurgesRoomState(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")
	r.Apply(protocol.NewMessageEvent{Message: msg("m-1", "room-1", "hi")})
	r.Apply(protocol.RoomMembersEvent{RoomID: "room-1", Members: []protocol.Member{{UserID: "u-1", Username: "alice"}}})

	r.Apply(protocol.RoomLeftEvent{RoomID: "room-1"})

	if got := len(r.Messages("room-1")); got != 0 {
		t.Errorf("len(Messages) after leave = %v, want 0", got)
	}
	if got := len(r.Members("room-1")); got != 0 {
		t.Errorf("len(Members) after leave = %v, want 0", got)
	}
	if got := r.CurrentRoomID(); got != "" {
		t.Errorf("CurrentRoomID() = %v, want empty", got)
	}
}

func TestApply_NewMessageDeduplicates(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")

	r.Apply(protocol.NewMessageEvent{Message: msg("m-1", "room-1", "hi")})
	r.Apply(protocol.NewMessageEvent{Message: msg("m-1", "room-1", "hi")})

	if got := len(r.Messages("room-1")); got != 1 {
		t.Errorf("len(Messages) = %v, want 1", got)
	}
}

func TestApply_RoomHistoryReversesToChronological(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")

	// Wire order is newest first.
	r.Apply(protocol.RoomHistoryEvent{
		RoomID:   "room-1",
		Messages: []protocol.ChatMessage{msg("m-3", "room-1", "c"), msg("m-2", "room-1", "b"), msg("m-1", "room-1", "a")},
	})

	msgs := r.Messages("room-1")
	if len(msgs) != 3 {
		t.Fatalf("len(Messages) = %v, want 3", len(msgs))
	}
	if msgs[0].ID != "m-1" || msgs[1].ID != "m-2" || msgs[2].ID != "m-3" {
		t.Errorf("order = %v,%v,%v, want m-1,m-2,m-3", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
}

func TestApply_RoomHistoryReplacesWholesale(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")
	r.Apply(protocol.NewMessageEvent{Message: msg("m-9", "room-1", "live")})

	r.Apply(protocol.RoomHistoryEvent{
		RoomID:   "room-1",
		Messages: []protocol.ChatMessage{msg("m-2", "room-1", "b"), msg("m-1", "room-1", "a")},
	})

	msgs := r.Messages("room-1")
	if len(msgs) != 2 {
		t.Fatalf("len(Messages) = %v, want 2 (page is authoritative)", len(msgs))
	}
}

func TestApply_MessageEditedUpdatesCanonical(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")
	r.Apply(protocol.NewMessageEvent{Message: msg("m-1", "room-1", "hello")})

	editedAt := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	r.Apply(protocol.MessageEditedEvent{RoomID: "room-1", MessageID: "m-1", NewContent: "hello!", EditedAt: editedAt})

	msgs := r.Messages("room-1")
	if msgs[0].Content != "hello!" {
		t.Errorf("content = %v, want hello!", msgs[0].Content)
	}
	if !msgs[0].IsEdited {
		t.Error("IsEdited = false, want true")
	}
	if msgs[0].EditedAt == nil || !msgs[0].EditedAt.Equal(editedAt) {
		t.Errorf("EditedAt = %v, want %v", msgs[0].EditedAt, editedAt)
	}
}

func TestApply_MessageEditedForAbsentMessageIsNoOp(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")

	delta := r.Apply(protocol.MessageEditedEvent{RoomID: "room-1", MessageID: "ghost", NewContent: "x"})
	if delta.Kind != protocol.EvtMessageEdited {
		t.Errorf("delta.Kind = %v, want %v", delta.Kind, protocol.EvtMessageEdited)
	}
	if got := len(r.Messages("room-1")); got != 0 {
		t.Errorf("len(Messages) = %v, want 0", got)
	}
}

func TestApply_MessageDeletedTwiceIsIdempotent(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")
	r.Apply(protocol.NewMessageEvent{Message: msg("m-1", "room-1", "hi")})
	r.Apply(protocol.NewMessageEvent{Message: msg("m-2", "room-1", "there")})

	r.Apply(protocol.MessageDeletedEvent{RoomID: "room-1", MessageID: "m-1"})
	r.Apply(protocol.MessageDeletedEvent{RoomID: "room-1", MessageID: "m-1"})

	msgs := r.Messages("room-1")
	if len(msgs) != 1 || msgs[0].ID != "m-2" {
		t.Errorf("Messages = %+v, want only m-2", msgs)
	}
}

func TestStageEdit_OverlayVisibleUntilConfirmed(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")
	r.Apply(protocol.NewMessageEvent{Message: msg("m-1", "room-1", "hello")})

	if _, ok := r.StageEdit("room-1", "m-1", "hello2"); !ok {
		t.Fatal("StageEdit() = false, want true")
	}

	visible := r.VisibleMessages("room-1")
	if visible[0].Content != "hello2" {
		t.Errorf("visible content = %v, want hello2", visible[0].Content)
	}
	if canonical := r.Messages("room-1"); canonical[0].Content != "hello" {
		t.Errorf("canonical content = %v, staging must not touch it", canonical[0].Content)
	}

	// Server confirmation clears the overlay and commits canonically.
	r.Apply(protocol.MessageEditedEvent{RoomID: "room-1", MessageID: "m-1", NewContent: "hello2", EditedAt: time.Now()})

	if r.HasPending("m-1") {
		t.Error("HasPending() = true after confirmation, want false")
	}
	visible = r.VisibleMessages("room-1")
	if visible[0].Content != "hello2" || !visible[0].IsEdited {
		t.Errorf("post-confirm visible = %+v, want edited hello2", visible[0])
	}
}

func TestStageEdit_UnknownMessage(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")

	if _, ok := r.StageEdit("room-1", "ghost", "x"); ok {
		t.Error("StageEdit() = true for unknown message, want false")
	}
}

func TestStageDelete_HidesUntilRollback(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")
	r.Apply(protocol.NewMessageEvent{Message: msg("m-1", "room-1", "hi")})

	if _, ok := r.StageDelete("room-1", "m-1"); !ok {
		t.Fatal("StageDelete() = false, want true")
	}
	if got := len(r.VisibleMessages("room-1")); got != 0 {
		t.Errorf("len(VisibleMessages) = %v, want 0 while delete is staged", got)
	}

	r.Rollback("m-1")

	visible := r.VisibleMessages("room-1")
	if len(visible) != 1 || visible[0].Content != "hi" {
		t.Errorf("post-rollback visible = %+v, want original message back", visible)
	}
}

func TestRollbackGeneration_OnlyClaimsOwnStaging(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")
	r.Apply(protocol.NewMessageEvent{Message: msg("m-1", "room-1", "hello")})

	gen1, ok := r.StageEdit("room-1", "m-1", "hello2")
	if !ok {
		t.Fatal("first StageEdit() failed")
	}
	gen2, ok := r.StageEdit("room-1", "m-1", "hello3")
	if !ok {
		t.Fatal("second StageEdit() failed")
	}
	if gen2 == gen1 {
		t.Fatalf("restaging reused generation %v", gen1)
	}

	// The superseded staging's rollback must not touch the replacement.
	if r.RollbackGeneration("m-1", gen1) {
		t.Error("RollbackGeneration(gen1) = true after restaging, want false")
	}
	if got := r.VisibleMessages("room-1")[0].Content; got != "hello3" {
		t.Errorf("visible content = %v, want hello3", got)
	}

	if !r.RollbackGeneration("m-1", gen2) {
		t.Error("RollbackGeneration(gen2) = false, want true")
	}
	if r.HasPending("m-1") {
		t.Error("HasPending() = true after current generation rolled back")
	}
}

func TestRollback_AfterConfirmationIsNoOp(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")
	r.Apply(protocol.NewMessageEvent{Message: msg("m-1", "room-1", "hi")})

	r.StageDelete("room-1", "m-1")
	r.Apply(protocol.MessageDeletedEvent{RoomID: "room-1", MessageID: "m-1"})
	r.Rollback("m-1")

	if got := len(r.Messages("room-1")); got != 0 {
		t.Errorf("len(Messages) = %v, confirmed delete must stand", got)
	}
}

func TestApply_RoomList(t *testing.T) {
	r := NewReconciler()

	r.Apply(protocol.RoomListEvent{Rooms: []protocol.RoomInfo{
		{ID: "room-1", Name: "general"},
		{ID: "room-2", Name: "random"},
	}})

	rooms := r.AvailableRooms()
	if len(rooms) != 2 || rooms[0].Name != "general" {
		t.Errorf("AvailableRooms() = %+v, want 2 rooms starting with general", rooms)
	}
}

func TestApply_MembershipAndPresence(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")

	r.Apply(protocol.RoomMembersEvent{RoomID: "room-1", Members: []protocol.Member{
		{UserID: "u-1", Username: "alice", Presence: protocol.PresenceOnline},
	}})
	r.Apply(protocol.UserJoinedEvent{RoomID: "room-1", UserID: "u-2", Username: "bob"})
	r.Apply(protocol.UserJoinedEvent{RoomID: "room-1", UserID: "u-2", Username: "bob"})

	members := r.Members("room-1")
	if len(members) != 2 {
		t.Fatalf("len(Members) = %v, want 2", len(members))
	}

	r.Apply(protocol.PresenceChangedEvent{UserID: "u-2", Username: "bob", Presence: protocol.PresenceAway})
	for _, m := range r.Members("room-1") {
		if m.UserID == "u-2" && m.Presence != protocol.PresenceAway {
			t.Errorf("bob presence = %v, want %v", m.Presence, protocol.PresenceAway)
		}
	}

	r.Apply(protocol.UserLeftEvent{RoomID: "room-1", UserID: "u-2", Username: "bob"})
	if got := len(r.Members("room-1")); got != 1 {
		t.Errorf("len(Members) after leave = %v, want 1", got)
	}
}

func TestApply_ErrorEventLeavesStateUntouched(t *testing.T) {
	r := NewReconciler()
	joined(t, r, "room-1", "general")
	r.Apply(protocol.NewMessageEvent{Message: msg("m-1", "room-1", "hi")})

	delta := r.Apply(protocol.ErrorEvent{Message: "room not found"})
	if delta.Kind != protocol.EvtError || delta.Error != "room not found" {
		t.Errorf("delta = %+v, want error delta", delta)
	}
	if got := len(r.Messages("room-1")); got != 1 {
		t.Errorf("len(Messages) = %v, want 1", got)
	}
}
