package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds pushed by the server over the live channel.
const (
	EvtAuthenticated   = "Authenticated"
	EvtRoomCreated     = "RoomCreated"
	EvtRoomJoined      = "RoomJoined"
	EvtRoomLeft        = "RoomLeft"
	EvtRoomList        = "RoomList"
	EvtNewMessage      = "NewMessage"
	EvtMessageSent     = "MessageSent"
	EvtRoomHistory     = "RoomHistory"
	EvtMessageEdited   = "MessageEdited"
	EvtMessageDeleted  = "MessageDeleted"
	EvtUserJoined      = "UserJoined"
	EvtUserLeft        = "UserLeft"
	EvtRoomMembers     = "RoomMembers"
	EvtPresenceChanged = "PresenceChanged"
	EvtError           = "Error"
)

// Event is an inbound frame delivered to the reconciler.
type Event interface {
	EventKind() string
}

type AuthenticatedEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type RoomCreatedEvent struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

type RoomJoinedEvent struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

type RoomLeftEvent struct {
	RoomID string `json:"room_id"`
}

type RoomListEvent struct {
	Rooms []RoomInfo `json:"rooms"`
}

type NewMessageEvent struct {
	RoomID  string      `json:"room_id"`
	Message ChatMessage `json:"message"`
}

// MessageSentEvent acknowledges the sender's own SendMessage; the message
// body arrives separately via the room broadcast.
type MessageSentEvent struct {
	MessageID string `json:"message_id"`
}

// RoomHistoryEvent carries one page of history, newest first on the wire.
type RoomHistoryEvent struct {
	RoomID   string        `json:"room_id"`
	Messages []ChatMessage `json:"messages"`
}

type MessageEditedEvent struct {
	RoomID     string    `json:"room_id"`
	MessageID  string    `json:"message_id"`
	NewContent string    `json:"new_content"`
	EditedAt   time.Time `json:"edited_at"`
}

type MessageDeletedEvent struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

type UserJoinedEvent struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type UserLeftEvent struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type RoomMembersEvent struct {
	RoomID  string   `json:"room_id"`
	Members []Member `json:"members"`
}

type PresenceChangedEvent struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Presence Presence `json:"presence"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func (AuthenticatedEvent) EventKind() string   { return EvtAuthenticated }
func (RoomCreatedEvent) EventKind() string     { return EvtRoomCreated }
func (RoomJoinedEvent) EventKind() string      { return EvtRoomJoined }
func (RoomLeftEvent) EventKind() string        { return EvtRoomLeft }
func (RoomListEvent) EventKind() string        { return EvtRoomList }
func (NewMessageEvent) EventKind() string      { return EvtNewMessage }
func (MessageSentEvent) EventKind() string     { return EvtMessageSent }
func (RoomHistoryEvent) EventKind() string     { return EvtRoomHistory }
func (MessageEditedEvent) EventKind() string   { return EvtMessageEdited }
func (MessageDeletedEvent) EventKind() string  { return EvtMessageDeleted }
func (UserJoinedEvent) EventKind() string      { return EvtUserJoined }
func (UserLeftEvent) EventKind() string        { return EvtUserLeft }
func (RoomMembersEvent) EventKind() string     { return EvtRoomMembers }
func (PresenceChangedEvent) EventKind() string { return EvtPresenceChanged }
func (ErrorEvent) EventKind() string           { return EvtError }

// EncodeEvent marshals e with its kind as the top-level "type" field.
func EncodeEvent(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.EventKind(), err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.EventKind(), err)
	}
	fields["type"] = json.RawMessage(`"` + e.EventKind() + `"`)

	return json.Marshal(fields)
}

// DecodeEvent parses a single server frame on the client side.
func DecodeEvent(data []byte) (Event, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var (
		evt Event
		err error
	)
	switch env.Type {
	case EvtAuthenticated:
		var e AuthenticatedEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtRoomCreated:
		var e RoomCreatedEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtRoomJoined:
		var e RoomJoinedEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtRoomLeft:
		var e RoomLeftEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtRoomList:
		var e RoomListEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtNewMessage:
		var e NewMessageEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtMessageSent:
		var e MessageSentEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtRoomHistory:
		var e RoomHistoryEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtMessageEdited:
		var e MessageEditedEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtMessageDeleted:
		var e MessageDeletedEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtUserJoined:
		var e UserJoinedEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtUserLeft:
		var e UserLeftEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtRoomMembers:
		var e RoomMembersEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtPresenceChanged:
		var e PresenceChangedEvent
		err = json.Unmarshal(data, &e)
		evt = e
	case EvtError:
		var e ErrorEvent
		err = json.Unmarshal(data, &e)
		evt = e
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}

	return evt, nil
}
