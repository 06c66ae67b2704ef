package repository

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"emberchat/internal/models"
)

type SessionRepository interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSessionByHash(ctx context.Context, hash string) (*models.Session, error)
	DeleteSession(ctx context.Context, hash string) error
	DeleteExpiredSessions(ctx context.Context) error
}

type PostgresSessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{pool: pool}
}

func (r *PostgresSessionRepo) SaveSession(ctx context.Context, session *models.Session) error {
	const query = `
		INSERT INTO sessions (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.TokenHashed,
		session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) GetSessionByHash(ctx context.Context, hash string) (*models.Session, error) {
	const query = `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM sessions
		WHERE token_hash = $1`

	session := &models.Session{}
	err := r.pool.QueryRow(ctx, query, hash).Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHashed,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

func (r *PostgresSessionRepo) DeleteSession(ctx context.Context, hash string) error {
	const query = `DELETE FROM sessions WHERE token_hash = $1`

	if _, err := r.pool.Exec(ctx, query, hash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) DeleteExpiredSessions(ctx context.Context) error {
	const query = `DELETE FROM sessions WHERE expires_at < now()`

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	if tag.RowsAffected() > 0 {
		log.Printf("[REPO] Swept %d expired sessions", tag.RowsAffected())
	}
	return nil
}
