package models

import (
	"time"

	"github.com/google/uuid"

	"emberchat/internal/protocol"
)

type Message struct {
	ID             uuid.UUID  `json:"id"`
	RoomID         uuid.UUID  `json:"room_id"`
	SenderID       uuid.UUID  `json:"sender_id"`
	SenderUsername string     `json:"sender_username"`
	Content        string     `json:"content"`
	Format         string     `json:"content_format"`
	SentAt         time.Time  `json:"sent_at"`
	IsEdited       bool       `json:"is_edited"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	IsDeleted      bool       `json:"-"`
}

// Wire converts the row to the event-stream representation.
func (m *Message) Wire() protocol.ChatMessage {
	format := protocol.ContentFormat(m.Format)
	if format == "" {
		format = protocol.FormatText
	}
	return protocol.ChatMessage{
		ID:             m.ID.String(),
		RoomID:         m.RoomID.String(),
		SenderUsername: m.SenderUsername,
		Content:        m.Content,
		Format:         format,
		SentAt:         m.SentAt,
		IsEdited:       m.IsEdited,
		EditedAt:       m.EditedAt,
	}
}
