package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one issued token, stored hashed so a database leak does not
// leak live credentials.
type Session struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	TokenHashed string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}
