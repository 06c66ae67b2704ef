package models

import (
	"time"

	"github.com/google/uuid"

	"emberchat/internal/protocol"
)

type User struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Password_Hash string    `json:"-"`
	Email         string    `json:"email"`
	Presence      string    `json:"presence"`
	CreatedAt     time.Time `json:"created_at"`
	LastLogin     time.Time `json:"last_login"`
}

// DTO strips the persistence-only fields for the credential exchange.
func (u *User) DTO() protocol.User {
	presence := protocol.Presence(u.Presence)
	if presence == "" {
		presence = protocol.PresenceOffline
	}
	return protocol.User{
		ID:       u.ID.String(),
		Username: u.Username,
		Presence: presence,
	}
}
