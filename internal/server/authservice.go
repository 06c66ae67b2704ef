package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"emberchat/internal/auth"
	"emberchat/internal/models"
	"emberchat/internal/protocol"
	"emberchat/internal/repository"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidSession     = errors.New("session not found or expired")
)

// AuthService backs both the credential exchange and websocket Authenticate.
type AuthService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   *auth.TokenManager
}

func NewAuthService(users repository.UserRepository, sessions repository.SessionRepository, tokens *auth.TokenManager) *AuthService {
	return &AuthService{users: users, sessions: sessions, tokens: tokens}
}

func validateCredentials(username, email, password string) error {
	if len(username) < 3 {
		return errors.New("username must be at least 3 characters long")
	}
	if len(username) > 50 {
		return errors.New("username must be less than 50 characters long")
	}
	if !strings.Contains(email, "@") || len(email) < 5 {
		return errors.New("invalid email format")
	}
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters long")
	}
	return nil
}

func (s *AuthService) Register(ctx context.Context, username, email, password string) (protocol.AuthPayload, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))

	if err := validateCredentials(username, email, password); err != nil {
		return protocol.AuthPayload{}, err
	}

	if existing, err := s.users.GetUserByUsername(ctx, username); err == nil && existing != nil {
		return protocol.AuthPayload{}, ErrUserExists
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return protocol.AuthPayload{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:            uuid.New(),
		Username:      username,
		Email:         email,
		Password_Hash: hashed,
		Presence:      string(protocol.PresenceOffline),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return protocol.AuthPayload{}, err
	}

	log.Printf("[AUTH] New user registered: %s", username)
	return s.issueSession(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, username, password string) (protocol.AuthPayload, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return protocol.AuthPayload{}, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return protocol.AuthPayload{}, ErrInvalidCredentials
	}
	if !auth.VerifyPassword(password, user.Password_Hash) {
		return protocol.AuthPayload{}, ErrInvalidCredentials
	}

	log.Printf("[AUTH] Login: %s", username)
	return s.issueSession(ctx, user)
}

// ValidateSession resolves a token to its user, enforcing both the stored
// session row and the token signature/expiry.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*models.User, error) {
	session, err := s.sessions.GetSessionByHash(ctx, auth.HashToken(token))
	if err != nil {
		return nil, ErrInvalidSession
	}
	if time.Now().After(session.ExpiresAt) {
		_ = s.sessions.DeleteSession(ctx, session.TokenHashed)
		return nil, ErrInvalidSession
	}

	claims, err := s.tokens.Validate(token)
	if err != nil || claims.UserID != session.UserID {
		return nil, ErrInvalidSession
	}

	user, err := s.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, ErrInvalidSession
	}
	return user, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.sessions.DeleteSession(ctx, auth.HashToken(token))
}

func (s *AuthService) issueSession(ctx context.Context, user *models.User) (protocol.AuthPayload, error) {
	token, expiresAt, err := s.tokens.Generate(user.ID)
	if err != nil {
		return protocol.AuthPayload{}, fmt.Errorf("failed to create session: %w", err)
	}

	session := &models.Session{
		ID:          uuid.New(),
		UserID:      user.ID,
		TokenHashed: auth.HashToken(token),
		ExpiresAt:   expiresAt,
	}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return protocol.AuthPayload{}, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		log.Printf("[AUTH] Failed to update last login for %s: %v", user.Username, err)
	}

	return protocol.AuthPayload{Token: token, User: user.DTO()}, nil
}
