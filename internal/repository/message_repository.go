package repository

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"emberchat/internal/models"
)

type MessageRepository interface {
	Save(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	// FetchHistory returns a newest-first page; the client normalizes order.
	FetchHistory(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*models.Message, error)
	Edit(ctx context.Context, id uuid.UUID, newContent string, editedAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type PostgresMessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) MessageRepository {
	return &PostgresMessageRepo{pool: pool}
}

func (r *PostgresMessageRepo) Save(ctx context.Context, m *models.Message) error {
	const query = `
		INSERT INTO messages (id, room_id, sender_id, content, content_format, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		m.ID,
		m.RoomID,
		m.SenderID,
		m.Content,
		m.Format,
		m.SentAt,
	)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to save message %s: %v", m.ID, err)
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *PostgresMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	const query = `
		SELECT m.id, m.room_id, m.sender_id, u.username, m.content, m.content_format,
		       m.sent_at, m.is_edited, m.edited_at, m.is_deleted
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1`

	m := &models.Message{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&m.ID,
		&m.RoomID,
		&m.SenderID,
		&m.SenderUsername,
		&m.Content,
		&m.Format,
		&m.SentAt,
		&m.IsEdited,
		&m.EditedAt,
		&m.IsDeleted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return m, nil
}

func (r *PostgresMessageRepo) FetchHistory(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*models.Message, error) {
	const query = `
		SELECT m.id, m.room_id, m.sender_id, u.username, m.content, m.content_format,
		       m.sent_at, m.is_edited, m.edited_at, m.is_deleted
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = $1 AND m.is_deleted = false
		ORDER BY m.sent_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, roomID, limit, offset)
	if err != nil {
		log.Printf("[REPO ERROR] History fetch failed for room %s: %v", roomID, err)
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := &models.Message{}
		err := rows.Scan(
			&m.ID,
			&m.RoomID,
			&m.SenderID,
			&m.SenderUsername,
			&m.Content,
			&m.Format,
			&m.SentAt,
			&m.IsEdited,
			&m.EditedAt,
			&m.IsDeleted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *PostgresMessageRepo) Edit(ctx context.Context, id uuid.UUID, newContent string, editedAt time.Time) error {
	const query = `
		UPDATE messages
		SET content = $2, is_edited = true, edited_at = $3
		WHERE id = $1 AND is_deleted = false`

	tag, err := r.pool.Exec(ctx, query, id, newContent, editedAt)
	if err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message not found")
	}
	return nil
}

func (r *PostgresMessageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE messages SET is_deleted = true WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
