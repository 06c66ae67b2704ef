// Package state holds the client-side view of rooms, members and message
// history, and reconciles it against the server event stream. It does no I/O;
// the session layer feeds it events in arrival order and the dispatcher
// stages optimistic mutations against it.
package state

import (
	"sync"

	"emberchat/internal/protocol"
)

// Room is a joined room, kept in join order.
type Room struct {
	ID   string
	Name string
	Desc string
}

// Delta describes what a single event changed, for renderer routing.
type Delta struct {
	Kind      string
	RoomID    string
	MessageID string
	Error     string
}

type pendingKind int

const (
	pendingEdit pendingKind = iota
	pendingDelete
)

// pendingOp is a locally staged mutation awaiting server confirmation. The
// canonical store is never touched by staging; the overlay is applied on read.
// gen identifies the staging so a superseded op's rollback cannot claw back
// its replacement.
type pendingOp struct {
	kind       pendingKind
	roomID     string
	newContent string
	gen        uint64
}

type Reconciler struct {
	mu sync.Mutex

	userID   string
	username string

	joined        []Room
	currentRoomID string
	available     []protocol.RoomInfo

	messages map[string][]protocol.ChatMessage
	members  map[string][]protocol.Member

	pending map[string]pendingOp
	nextGen uint64
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		messages: make(map[string][]protocol.ChatMessage),
		members:  make(map[string][]protocol.Member),
		pending:  make(map[string]pendingOp),
	}
}

// Apply folds one server event into the canonical store. Every handler is
// idempotent under redelivery of the same event.
func (r *Reconciler) Apply(evt protocol.Event) Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := evt.(type) {
	case protocol.AuthenticatedEvent:
		r.userID = e.UserID
		r.username = e.Username
		return Delta{Kind: protocol.EvtAuthenticated}

	case protocol.RoomCreatedEvent:
		r.addJoinedRoom(e.RoomID, e.RoomName)
		return Delta{Kind: protocol.EvtRoomCreated, RoomID: e.RoomID}

	case protocol.RoomJoinedEvent:
		r.addJoinedRoom(e.RoomID, e.RoomName)
		return Delta{Kind: protocol.EvtRoomJoined, RoomID: e.RoomID}

	case protocol.RoomLeftEvent:
		r.removeJoinedRoom(e.RoomID)
		return Delta{Kind: protocol.EvtRoomLeft, RoomID: e.RoomID}

	case protocol.RoomListEvent:
		r.available = append([]protocol.RoomInfo(nil), e.Rooms...)
		return Delta{Kind: protocol.EvtRoomList}

	case protocol.NewMessageEvent:
		roomID := e.Message.RoomID
		if roomID == "" {
			roomID = e.RoomID
		}
		msg := e.Message
		msg.RoomID = roomID
		if r.hasMessage(roomID, msg.ID) {
			return Delta{Kind: protocol.EvtNewMessage, RoomID: roomID, MessageID: msg.ID}
		}
		r.messages[roomID] = append(r.messages[roomID], msg)
		return Delta{Kind: protocol.EvtNewMessage, RoomID: roomID, MessageID: msg.ID}

	case protocol.MessageSentEvent:
		// Send ack only; the broadcast NewMessage carries the body.
		return Delta{Kind: protocol.EvtMessageSent, MessageID: e.MessageID}

	case protocol.RoomHistoryEvent:
		// History pages arrive newest first; normalize to chronological
		// order and replace the room wholesale. Treating the page as an
		// authoritative snapshot keeps overlapping pagination windows from
		// duplicating entries.
		ordered := make([]protocol.ChatMessage, len(e.Messages))
		for i, m := range e.Messages {
			ordered[len(e.Messages)-1-i] = m
		}
		r.messages[e.RoomID] = ordered
		return Delta{Kind: protocol.EvtRoomHistory, RoomID: e.RoomID}

	case protocol.MessageEditedEvent:
		// Server confirmation supersedes any local optimism for this id.
		delete(r.pending, e.MessageID)

		msgs := r.messages[e.RoomID]
		for i := range msgs {
			if msgs[i].ID == e.MessageID {
				editedAt := e.EditedAt
				msgs[i].Content = e.NewContent
				msgs[i].IsEdited = true
				msgs[i].EditedAt = &editedAt
				break
			}
		}
		return Delta{Kind: protocol.EvtMessageEdited, RoomID: e.RoomID, MessageID: e.MessageID}

	case protocol.MessageDeletedEvent:
		delete(r.pending, e.MessageID)

		msgs := r.messages[e.RoomID]
		for i := range msgs {
			if msgs[i].ID == e.MessageID {
				r.messages[e.RoomID] = append(msgs[:i], msgs[i+1:]...)
				break
			}
		}
		return Delta{Kind: protocol.EvtMessageDeleted, RoomID: e.RoomID, MessageID: e.MessageID}

	case protocol.UserJoinedEvent:
		r.addMember(e.RoomID, protocol.Member{
			UserID:   e.UserID,
			Username: e.Username,
			Presence: protocol.PresenceOnline,
		})
		return Delta{Kind: protocol.EvtUserJoined, RoomID: e.RoomID}

	case protocol.UserLeftEvent:
		members := r.members[e.RoomID]
		for i := range members {
			if members[i].UserID == e.UserID {
				r.members[e.RoomID] = append(members[:i], members[i+1:]...)
				break
			}
		}
		return Delta{Kind: protocol.EvtUserLeft, RoomID: e.RoomID}

	case protocol.RoomMembersEvent:
		r.members[e.RoomID] = append([]protocol.Member(nil), e.Members...)
		return Delta{Kind: protocol.EvtRoomMembers, RoomID: e.RoomID}

	case protocol.PresenceChangedEvent:
		for roomID, members := range r.members {
			for i := range members {
				if members[i].UserID == e.UserID {
					members[i].Presence = e.Presence
				}
			}
			r.members[roomID] = members
		}
		return Delta{Kind: protocol.EvtPresenceChanged}

	case protocol.ErrorEvent:
		// Surfaced verbatim; room/message state is untouched.
		return Delta{Kind: protocol.EvtError, Error: e.Message}

	default:
		return Delta{Kind: "Ignored"}
	}
}

// StageEdit stages an optimistic edit. The canonical message is untouched;
// the overlay is applied by VisibleMessages until the server confirms or the
// caller rolls back. A second stage for the same id overwrites the first
// under a fresh generation. The returned generation scopes RollbackGeneration.
func (r *Reconciler) StageEdit(roomID, messageID, newContent string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasMessage(roomID, messageID) {
		return 0, false
	}
	r.nextGen++
	r.pending[messageID] = pendingOp{kind: pendingEdit, roomID: roomID, newContent: newContent, gen: r.nextGen}
	return r.nextGen, true
}

// StageDelete stages an optimistic delete, hiding the message from readers
// until confirmation or rollback.
func (r *Reconciler) StageDelete(roomID, messageID string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasMessage(roomID, messageID) {
		return 0, false
	}
	r.nextGen++
	r.pending[messageID] = pendingOp{kind: pendingDelete, roomID: roomID, gen: r.nextGen}
	return r.nextGen, true
}

// Rollback drops a staged mutation unconditionally. A no-op once the server
// has confirmed (the confirmation already cleared the entry).
func (r *Reconciler) Rollback(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, messageID)
}

// RollbackGeneration drops the staged mutation only if it still carries the
// given generation, so an expired timer cannot undo a later restaging.
func (r *Reconciler) RollbackGeneration(messageID string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.pending[messageID]
	if !ok || op.gen != gen {
		return false
	}
	delete(r.pending, messageID)
	return true
}

// HasPending reports whether a staged mutation for the id is still awaiting
// confirmation.
func (r *Reconciler) HasPending(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[messageID]
	return ok
}

func (r *Reconciler) UserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

func (r *Reconciler) Username() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.username
}

// Rooms returns the joined rooms in join order.
func (r *Reconciler) Rooms() []Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Room(nil), r.joined...)
}

// AvailableRooms returns the last received room directory.
func (r *Reconciler) AvailableRooms() []protocol.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.RoomInfo(nil), r.available...)
}

func (r *Reconciler) CurrentRoomID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentRoomID
}

// Messages returns the canonical (confirmed) message sequence for a room.
func (r *Reconciler) Messages(roomID string) []protocol.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.ChatMessage(nil), r.messages[roomID]...)
}

// VisibleMessages derives the renderable sequence: the canonical store with
// the pending overlay applied. Staged edits replace content, staged deletes
// hide the message entirely.
func (r *Reconciler) VisibleMessages(roomID string) []protocol.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]protocol.ChatMessage, 0, len(r.messages[roomID]))
	for _, msg := range r.messages[roomID] {
		op, staged := r.pending[msg.ID]
		if staged && op.roomID == roomID {
			switch op.kind {
			case pendingDelete:
				continue
			case pendingEdit:
				msg.Content = op.newContent
			}
		}
		out = append(out, msg)
	}
	return out
}

func (r *Reconciler) Members(roomID string) []protocol.Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Member(nil), r.members[roomID]...)
}

func (r *Reconciler) addJoinedRoom(roomID, roomName string) {
	for _, room := range r.joined {
		if room.ID == roomID {
			return
		}
	}
	r.joined = append(r.joined, Room{ID: roomID, Name: roomName})

	// Never steal focus from an already-open room.
	if r.currentRoomID == "" {
		r.currentRoomID = roomID
	}
}

func (r *Reconciler) removeJoinedRoom(roomID string) {
	for i, room := range r.joined {
		if room.ID == roomID {
			r.joined = append(r.joined[:i], r.joined[i+1:]...)
			break
		}
	}
	delete(r.messages, roomID)
	delete(r.members, roomID)

	if r.currentRoomID == roomID {
		if len(r.joined) > 0 {
			r.currentRoomID = r.joined[len(r.joined)-1].ID
		} else {
			r.currentRoomID = ""
		}
	}
}

func (r *Reconciler) addMember(roomID string, m protocol.Member) {
	for _, existing := range r.members[roomID] {
		if existing.UserID == m.UserID {
			return
		}
	}
	r.members[roomID] = append(r.members[roomID], m)
}

func (r *Reconciler) hasMessage(roomID, messageID string) bool {
	for _, msg := range r.messages[roomID] {
		if msg.ID == messageID {
			return true
		}
	}
	return false
}
