package protocol

import (
	"encoding/json"
	"fmt"
)

// Command kinds sent from the client over the live channel.
const (
	CmdAuthenticate   = "Authenticate"
	CmdCreateRoom     = "CreateRoom"
	CmdGetAllRooms    = "GetAllRooms"
	CmdJoinRoom       = "JoinRoom"
	CmdLeaveRoom      = "LeaveRoom"
	CmdSendMessage    = "SendMessage"
	CmdEditMessage    = "EditMessage"
	CmdDeleteMessage  = "DeleteMessage"
	CmdGetRoomHistory = "GetRoomHistory"
	CmdGetRoomMembers = "GetRoomMembers"
	CmdUpdatePresence = "UpdatePresence"
)

// Command is an outbound frame. Implementations are plain structs; the
// "type" tag is injected/stripped by EncodeCommand and DecodeCommand.
type Command interface {
	CommandKind() string
}

type Authenticate struct {
	Token string `json:"token"`
}

type CreateRoom struct {
	Name string `json:"name"`
	Desc string `json:"desc"`
}

type GetAllRooms struct{}

type JoinRoom struct {
	RoomID string `json:"room_id"`
}

type LeaveRoom struct {
	RoomID string `json:"room_id"`
}

type SendMessage struct {
	RoomID  string        `json:"room_id"`
	Content string        `json:"content"`
	Format  ContentFormat `json:"content_format,omitempty"`
}

type EditMessage struct {
	RoomID     string        `json:"room_id"`
	MessageID  string        `json:"message_id"`
	NewContent string        `json:"new_content"`
	Format     ContentFormat `json:"content_format,omitempty"`
}

type DeleteMessage struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

// GetRoomHistory pages newest-first; a zero limit means the server default.
type GetRoomHistory struct {
	RoomID string `json:"room_id"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type GetRoomMembers struct {
	RoomID string `json:"room_id"`
}

type UpdatePresence struct {
	Presence Presence `json:"presence"`
}

func (Authenticate) CommandKind() string   { return CmdAuthenticate }
func (CreateRoom) CommandKind() string     { return CmdCreateRoom }
func (GetAllRooms) CommandKind() string    { return CmdGetAllRooms }
func (JoinRoom) CommandKind() string       { return CmdJoinRoom }
func (LeaveRoom) CommandKind() string      { return CmdLeaveRoom }
func (SendMessage) CommandKind() string    { return CmdSendMessage }
func (EditMessage) CommandKind() string    { return CmdEditMessage }
func (DeleteMessage) CommandKind() string  { return CmdDeleteMessage }
func (GetRoomHistory) CommandKind() string { return CmdGetRoomHistory }
func (GetRoomMembers) CommandKind() string { return CmdGetRoomMembers }
func (UpdatePresence) CommandKind() string { return CmdUpdatePresence }

// EncodeCommand marshals c with its kind injected as the top-level "type"
// field, matching the internally tagged frames the server expects.
func EncodeCommand(c Command) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.CommandKind(), err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.CommandKind(), err)
	}
	fields["type"] = json.RawMessage(`"` + c.CommandKind() + `"`)

	return json.Marshal(fields)
}

// DecodeCommand parses a single inbound frame on the server side.
func DecodeCommand(data []byte) (Command, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	var (
		cmd Command
		err error
	)
	switch env.Type {
	case CmdAuthenticate:
		var c Authenticate
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdCreateRoom:
		var c CreateRoom
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdGetAllRooms:
		cmd = GetAllRooms{}
	case CmdJoinRoom:
		var c JoinRoom
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdLeaveRoom:
		var c LeaveRoom
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdSendMessage:
		var c SendMessage
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdEditMessage:
		var c EditMessage
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdDeleteMessage:
		var c DeleteMessage
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdGetRoomHistory:
		var c GetRoomHistory
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdGetRoomMembers:
		var c GetRoomMembers
		err = json.Unmarshal(data, &c)
		cmd = c
	case CmdUpdatePresence:
		var c UpdatePresence
		err = json.Unmarshal(data, &c)
		cmd = c
	default:
		return nil, fmt.Errorf("decode command: unknown type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}

	return cmd, nil
}
