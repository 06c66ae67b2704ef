package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"emberchat/internal/models"
	"emberchat/internal/protocol"
	"emberchat/internal/repository"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxContentLength    = 10000
)

// CommandHandler executes decoded client commands against the repositories
// and routes the resulting events through the hub.
type CommandHandler struct {
	auth     *AuthService
	users    repository.UserRepository
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	hub      *Hub
}

func NewCommandHandler(auth *AuthService, users repository.UserRepository, rooms repository.RoomRepository, messages repository.MessageRepository, hub *Hub) *CommandHandler {
	return &CommandHandler{
		auth:     auth,
		users:    users,
		rooms:    rooms,
		messages: messages,
		hub:      hub,
	}
}

func (h *CommandHandler) Handle(c *Client, cmd protocol.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if authCmd, ok := cmd.(protocol.Authenticate); ok {
		h.handleAuthenticate(ctx, c, authCmd)
		return
	}

	if c.UserID == "" {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "user not authenticated"})
		return
	}

	switch cmd := cmd.(type) {
	case protocol.CreateRoom:
		h.handleCreateRoom(ctx, c, cmd)
	case protocol.GetAllRooms:
		h.handleGetAllRooms(ctx, c)
	case protocol.JoinRoom:
		h.handleJoinRoom(ctx, c, cmd)
	case protocol.LeaveRoom:
		h.handleLeaveRoom(ctx, c, cmd)
	case protocol.SendMessage:
		h.handleSendMessage(ctx, c, cmd)
	case protocol.EditMessage:
		h.handleEditMessage(ctx, c, cmd)
	case protocol.DeleteMessage:
		h.handleDeleteMessage(ctx, c, cmd)
	case protocol.GetRoomHistory:
		h.handleGetRoomHistory(ctx, c, cmd)
	case protocol.GetRoomMembers:
		h.handleGetRoomMembers(ctx, c, cmd)
	case protocol.UpdatePresence:
		h.handleUpdatePresence(ctx, c, cmd)
	default:
		h.hub.SendTo(c, protocol.ErrorEvent{Message: fmt.Sprintf("unsupported command: %s", cmd.CommandKind())})
	}
}

// handleAuthenticate promotes the connection to an authenticated session and
// re-delivers RoomJoined for every persisted membership so a reconnecting
// client can rebuild its joined-room state from the stream alone.
func (h *CommandHandler) handleAuthenticate(ctx context.Context, c *Client, cmd protocol.Authenticate) {
	user, err := h.auth.ValidateSession(ctx, cmd.Token)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "authentication failed: " + err.Error()})
		return
	}

	c.UserID = user.ID.String()
	c.Username = user.Username
	h.hub.Register <- c

	h.hub.SendTo(c, protocol.AuthenticatedEvent{UserID: c.UserID, Username: c.Username})

	if err := h.users.UpdatePresence(ctx, user.ID, string(protocol.PresenceOnline)); err != nil {
		log.Printf("[HANDLER] Presence update failed for %s: %v", c.Username, err)
	}

	rooms, err := h.rooms.GetUserRooms(ctx, user.ID)
	if err != nil {
		log.Printf("[HANDLER] Room restore failed for %s: %v", c.Username, err)
		return
	}
	for _, room := range rooms {
		roomID := room.ID.String()
		h.hub.JoinRoom(roomID, c)
		h.hub.SendTo(c, protocol.RoomJoinedEvent{RoomID: roomID, RoomName: room.Name})
		h.hub.BroadcastToRoom(roomID, protocol.PresenceChangedEvent{
			UserID:   c.UserID,
			Username: c.Username,
			Presence: protocol.PresenceOnline,
		})
	}
}

func (h *CommandHandler) handleCreateRoom(ctx context.Context, c *Client, cmd protocol.CreateRoom) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "room name cannot be empty"})
		return
	}

	room := &models.Room{
		ID:        uuid.New(),
		Name:      name,
		Desc:      strings.TrimSpace(cmd.Desc),
		CreatedBy: uuid.MustParse(c.UserID),
	}
	if err := h.rooms.CreateRoom(ctx, room); err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "failed to create room: " + err.Error()})
		return
	}

	roomID := room.ID.String()
	h.hub.SendTo(c, protocol.RoomCreatedEvent{RoomID: roomID, RoomName: room.Name})

	// The creator joins their own room immediately.
	if err := h.rooms.AddMember(ctx, room.ID, uuid.MustParse(c.UserID)); err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "failed to join created room: " + err.Error()})
		return
	}
	h.hub.JoinRoom(roomID, c)
	h.hub.SendTo(c, protocol.RoomJoinedEvent{RoomID: roomID, RoomName: room.Name})
	h.hub.SendTo(c, protocol.RoomHistoryEvent{RoomID: roomID, Messages: []protocol.ChatMessage{}})
}

func (h *CommandHandler) handleGetAllRooms(ctx context.Context, c *Client) {
	rooms, err := h.rooms.GetAllRooms(ctx)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "failed to list rooms: " + err.Error()})
		return
	}

	infos := make([]protocol.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, protocol.RoomInfo{ID: room.ID.String(), Name: room.Name, Desc: room.Desc})
	}
	h.hub.SendTo(c, protocol.RoomListEvent{Rooms: infos})
}

func (h *CommandHandler) handleJoinRoom(ctx context.Context, c *Client, cmd protocol.JoinRoom) {
	roomID, err := uuid.Parse(cmd.RoomID)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "invalid room id"})
		return
	}

	room, err := h.rooms.GetRoomByID(ctx, roomID)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "room not found"})
		return
	}

	if err := h.rooms.AddMember(ctx, roomID, uuid.MustParse(c.UserID)); err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "failed to join room: " + err.Error()})
		return
	}
	h.hub.JoinRoom(cmd.RoomID, c)

	h.hub.SendTo(c, protocol.RoomJoinedEvent{RoomID: cmd.RoomID, RoomName: room.Name})
	h.hub.BroadcastToRoom(cmd.RoomID, protocol.UserJoinedEvent{
		RoomID:   cmd.RoomID,
		UserID:   c.UserID,
		Username: c.Username,
	})
	h.sendRoomMembers(ctx, c, roomID)
}

func (h *CommandHandler) handleLeaveRoom(ctx context.Context, c *Client, cmd protocol.LeaveRoom) {
	roomID, err := uuid.Parse(cmd.RoomID)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "invalid room id"})
		return
	}

	if err := h.rooms.RemoveMember(ctx, roomID, uuid.MustParse(c.UserID)); err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "failed to leave room: " + err.Error()})
		return
	}
	h.hub.LeaveRoom(cmd.RoomID, c)

	h.hub.SendTo(c, protocol.RoomLeftEvent{RoomID: cmd.RoomID})
	h.hub.BroadcastToRoom(cmd.RoomID, protocol.UserLeftEvent{
		RoomID:   cmd.RoomID,
		UserID:   c.UserID,
		Username: c.Username,
	})
}

func (h *CommandHandler) handleSendMessage(ctx context.Context, c *Client, cmd protocol.SendMessage) {
	if strings.TrimSpace(cmd.Content) == "" {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "message content cannot be empty"})
		return
	}
	if len(cmd.Content) > maxContentLength {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "message too long"})
		return
	}

	roomID, err := uuid.Parse(cmd.RoomID)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "invalid room id"})
		return
	}

	senderID := uuid.MustParse(c.UserID)
	isMember, err := h.rooms.IsMember(ctx, roomID, senderID)
	if err != nil || !isMember {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "you are not a member of this room"})
		return
	}

	format := cmd.Format
	if format == "" {
		format = protocol.FormatText
	}

	msg := &models.Message{
		ID:             uuid.New(),
		RoomID:         roomID,
		SenderID:       senderID,
		SenderUsername: c.Username,
		Content:        cmd.Content,
		Format:         string(format),
		SentAt:         time.Now().UTC(),
	}
	if err := h.messages.Save(ctx, msg); err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "failed to send message: " + err.Error()})
		return
	}

	h.hub.SendTo(c, protocol.MessageSentEvent{MessageID: msg.ID.String()})
	h.hub.BroadcastToRoom(cmd.RoomID, protocol.NewMessageEvent{RoomID: cmd.RoomID, Message: msg.Wire()})
}

func (h *CommandHandler) handleEditMessage(ctx context.Context, c *Client, cmd protocol.EditMessage) {
	if strings.TrimSpace(cmd.NewContent) == "" {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "edited content cannot be empty"})
		return
	}

	messageID, err := uuid.Parse(cmd.MessageID)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "invalid message id"})
		return
	}

	msg, err := h.messages.GetByID(ctx, messageID)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "message not found"})
		return
	}
	if msg.SenderID.String() != c.UserID {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "you can only edit your own messages"})
		return
	}

	editedAt := time.Now().UTC()
	if err := h.messages.Edit(ctx, messageID, cmd.NewContent, editedAt); err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "failed to edit message: " + err.Error()})
		return
	}

	// Broadcast into the room the message actually lives in, not whatever
	// room id the client put on the command.
	h.hub.BroadcastToRoom(msg.RoomID.String(), protocol.MessageEditedEvent{
		RoomID:     msg.RoomID.String(),
		MessageID:  cmd.MessageID,
		NewContent: cmd.NewContent,
		EditedAt:   editedAt,
	})
}

func (h *CommandHandler) handleDeleteMessage(ctx context.Context, c *Client, cmd protocol.DeleteMessage) {
	messageID, err := uuid.Parse(cmd.MessageID)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "invalid message id"})
		return
	}

	msg, err := h.messages.GetByID(ctx, messageID)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "message not found"})
		return
	}
	if msg.SenderID.String() != c.UserID {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "you can only delete your own messages"})
		return
	}

	if err := h.messages.Delete(ctx, messageID); err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "failed to delete message: " + err.Error()})
		return
	}

	h.hub.BroadcastToRoom(msg.RoomID.String(), protocol.MessageDeletedEvent{
		RoomID:    msg.RoomID.String(),
		MessageID: cmd.MessageID,
	})
}

func (h *CommandHandler) handleGetRoomHistory(ctx context.Context, c *Client, cmd protocol.GetRoomHistory) {
	roomID, err := uuid.Parse(cmd.RoomID)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "invalid room id"})
		return
	}

	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	offset := cmd.Offset
	if offset < 0 {
		offset = 0
	}

	messages, err := h.messages.FetchHistory(ctx, roomID, limit, offset)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "failed to get history: " + err.Error()})
		return
	}

	// Newest first on the wire; the client reverses.
	page := make([]protocol.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		page = append(page, msg.Wire())
	}
	h.hub.SendTo(c, protocol.RoomHistoryEvent{RoomID: cmd.RoomID, Messages: page})
}

func (h *CommandHandler) handleGetRoomMembers(ctx context.Context, c *Client, cmd protocol.GetRoomMembers) {
	roomID, err := uuid.Parse(cmd.RoomID)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "invalid room id"})
		return
	}
	h.sendRoomMembers(ctx, c, roomID)
}

func (h *CommandHandler) handleUpdatePresence(ctx context.Context, c *Client, cmd protocol.UpdatePresence) {
	userID := uuid.MustParse(c.UserID)
	if err := h.users.UpdatePresence(ctx, userID, string(cmd.Presence)); err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "failed to update presence: " + err.Error()})
		return
	}

	rooms, err := h.rooms.GetUserRooms(ctx, userID)
	if err != nil {
		log.Printf("[HANDLER] Presence broadcast failed for %s: %v", c.Username, err)
		return
	}
	for _, room := range rooms {
		h.hub.BroadcastToRoom(room.ID.String(), protocol.PresenceChangedEvent{
			UserID:   c.UserID,
			Username: c.Username,
			Presence: cmd.Presence,
		})
	}
}

// Disconnected is invoked from the read pump teardown. Presence drops to
// Offline and every room the user was in hears about it.
func (h *CommandHandler) Disconnected(c *Client) {
	if c.UserID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	userID := uuid.MustParse(c.UserID)
	if err := h.users.UpdatePresence(ctx, userID, string(protocol.PresenceOffline)); err != nil {
		log.Printf("[HANDLER] Presence update on disconnect failed for %s: %v", c.Username, err)
	}

	rooms, err := h.rooms.GetUserRooms(ctx, userID)
	if err != nil {
		return
	}
	for _, room := range rooms {
		h.hub.BroadcastToRoom(room.ID.String(), protocol.PresenceChangedEvent{
			UserID:   c.UserID,
			Username: c.Username,
			Presence: protocol.PresenceOffline,
		})
	}
}

func (h *CommandHandler) sendRoomMembers(ctx context.Context, c *Client, roomID uuid.UUID) {
	users, err := h.rooms.GetMembers(ctx, roomID)
	if err != nil {
		h.hub.SendTo(c, protocol.ErrorEvent{Message: "failed to get room members: " + err.Error()})
		return
	}

	members := make([]protocol.Member, 0, len(users))
	for _, user := range users {
		presence := protocol.Presence(user.Presence)
		if presence == "" {
			presence = protocol.PresenceOffline
		}
		members = append(members, protocol.Member{
			UserID:   user.ID.String(),
			Username: user.Username,
			Presence: presence,
		})
	}
	h.hub.SendTo(c, protocol.RoomMembersEvent{RoomID: roomID.String(), Members: members})
}
