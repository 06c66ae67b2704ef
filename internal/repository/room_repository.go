package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"emberchat/internal/models"
)

type RoomRepository interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetAllRooms(ctx context.Context) ([]*models.Room, error)
	GetUserRooms(ctx context.Context, userID uuid.UUID) ([]*models.Room, error)
	AddMember(ctx context.Context, roomID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	GetMembers(ctx context.Context, roomID uuid.UUID) ([]*models.User, error)
}

type PostgresRoomRepo struct {
	pool *pgxpool.Pool
}

func NewRoomRepo(pool *pgxpool.Pool) RoomRepository {
	return &PostgresRoomRepo{pool: pool}
}

func (r *PostgresRoomRepo) CreateRoom(ctx context.Context, room *models.Room) error {
	const query = `
		INSERT INTO rooms (id, name, description, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		room.ID,
		room.Name,
		room.Desc,
		room.CreatedBy,
	).Scan(&room.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert room: %w", err)
	}
	return nil
}

func (r *PostgresRoomRepo) GetRoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	const query = `
		SELECT id, name, description, created_by, created_at
		FROM rooms
		WHERE id = $1`

	room := &models.Room{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&room.ID,
		&room.Name,
		&room.Desc,
		&room.CreatedBy,
		&room.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	return room, nil
}

func (r *PostgresRoomRepo) GetAllRooms(ctx context.Context) ([]*models.Room, error) {
	const query = `
		SELECT id, name, description, created_by, created_at
		FROM rooms
		ORDER BY created_at ASC`

	return r.scanRooms(ctx, query)
}

func (r *PostgresRoomRepo) GetUserRooms(ctx context.Context, userID uuid.UUID) ([]*models.Room, error) {
	const query = `
		SELECT r.id, r.name, r.description, r.created_by, r.created_at
		FROM rooms r
		JOIN room_members rm ON rm.room_id = r.id
		WHERE rm.user_id = $1
		ORDER BY rm.joined_at ASC`

	return r.scanRooms(ctx, query, userID)
}

func (r *PostgresRoomRepo) scanRooms(ctx context.Context, query string, args ...any) ([]*models.Room, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room := &models.Room{}
		err := rows.Scan(
			&room.ID,
			&room.Name,
			&room.Desc,
			&room.CreatedBy,
			&room.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *PostgresRoomRepo) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	const query = `
		INSERT INTO room_members (room_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, roomID, userID); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (r *PostgresRoomRepo) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error {
	const query = `DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`

	if _, err := r.pool.Exec(ctx, query, roomID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

func (r *PostgresRoomRepo) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`

	var isMember bool
	if err := r.pool.QueryRow(ctx, query, roomID, userID).Scan(&isMember); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return isMember, nil
}

func (r *PostgresRoomRepo) GetMembers(ctx context.Context, roomID uuid.UUID) ([]*models.User, error) {
	const query = `
		SELECT u.id, u.username, u.email, u.password_hash, u.presence, u.created_at, u.last_login
		FROM users u
		JOIN room_members rm ON rm.user_id = u.id
		WHERE rm.room_id = $1
		ORDER BY rm.joined_at ASC`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []*models.User
	for rows.Next() {
		user := &models.User{}
		err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Email,
			&user.Password_Hash,
			&user.Presence,
			&user.CreatedAt,
			&user.LastLogin,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, user)
	}
	return members, rows.Err()
}
