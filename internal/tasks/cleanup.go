package tasks

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"emberchat/internal/repository"
)

// SessionCleaner periodically removes expired session rows so stale tokens
// cannot accumulate in the database.
type SessionCleaner struct {
	repo repository.SessionRepository
}

func NewSessionCleaner(repo repository.SessionRepository) *SessionCleaner {
	return &SessionCleaner{repo: repo}
}

func (t *SessionCleaner) Start() {
	c := cron.New()

	_, err := c.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		if err := t.repo.DeleteExpiredSessions(ctx); err != nil {
			log.Printf("[WORKER] Session cleanup failed: %v", err)
		}
	})
	if err != nil {
		log.Printf("[WORKER] Error scheduling cron: %v", err)
		return
	}

	c.Start()
}
