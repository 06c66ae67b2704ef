// Package protocol defines the wire types shared by the chat client and
// server: the one-shot credential exchange and the framed command/event
// protocol carried over the persistent websocket channel. Every frame is a
// single JSON object tagged by a "type" field at the top level.
package protocol

import "time"

type Presence string

const (
	PresenceOnline        Presence = "Online"
	PresenceAway          Presence = "Away"
	PresenceDoNotDisturb  Presence = "DoNotDisturb"
	PresenceOffline       Presence = "Offline"
	PresenceAppearOffline Presence = "AppearOffline"
)

type ContentFormat string

const (
	FormatText     ContentFormat = "TEXT"
	FormatMarkdown ContentFormat = "MARKDOWN"
)

type User struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Presence Presence `json:"presence"`
	Status   string   `json:"status,omitempty"`
}

type RoomInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Desc string `json:"desc"`
}

type Member struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Presence Presence `json:"presence"`
}

type ChatMessage struct {
	ID             string        `json:"id"`
	RoomID         string        `json:"room_id"`
	SenderUsername string        `json:"sender_username"`
	Content        string        `json:"content"`
	Format         ContentFormat `json:"content_format"`
	SentAt         time.Time     `json:"sent_at"`
	IsEdited       bool          `json:"is_edited"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
}
