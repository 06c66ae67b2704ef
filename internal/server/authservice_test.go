package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"emberchat/internal/auth"
	"emberchat/internal/models"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*models.User)}
}

func (r *memUserRepo) CreateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.Username]; ok {
		return errors.New("duplicate username")
	}
	user.CreatedAt = time.Now()
	r.users[user.Username] = user
	return nil
}

func (r *memUserRepo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[username]
	if !ok {
		return nil, errors.New("no rows")
	}
	return user, nil
}

func (r *memUserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, errors.New("no rows")
}

func (r *memUserRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID) error { return nil }

func (r *memUserRepo) UpdatePresence(ctx context.Context, id uuid.UUID, presence string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.ID == id {
			user.Presence = presence
		}
	}
	return nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*models.Session)}
}

func (r *memSessionRepo) SaveSession(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session.CreatedAt = time.Now()
	r.sessions[session.TokenHashed] = session
	return nil
}

func (r *memSessionRepo) GetSessionByHash(ctx context.Context, hash string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[hash]
	if !ok {
		return nil, errors.New("no rows")
	}
	return session, nil
}

func (r *memSessionRepo) DeleteSession(ctx context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, hash)
	return nil
}

func (r *memSessionRepo) DeleteExpiredSessions(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, session := range r.sessions {
		if time.Now().After(session.ExpiresAt) {
			delete(r.sessions, hash)
		}
	}
	return nil
}

func newTestAuthService() (*AuthService, *memUserRepo, *memSessionRepo) {
	users := newMemUserRepo()
	sessions := newMemSessionRepo()
	return NewAuthService(users, sessions, auth.NewTokenManager("test-key")), users, sessions
}

func TestRegister_IssuesSession(t *testing.T) {
	svc, _, sessions := newTestAuthService()
	ctx := context.Background()

	payload, err := svc.Register(ctx, "alice", "Alice@Example.com", "secret123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if payload.Token == "" {
		t.Fatal("Register() returned empty token")
	}
	if payload.User.Username != "alice" {
		t.Errorf("username = %v, want alice", payload.User.Username)
	}

	sessions.mu.Lock()
	count := len(sessions.sessions)
	sessions.mu.Unlock()
	if count != 1 {
		t.Errorf("stored sessions = %v, want 1", count)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "secret123"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "other@example.com", "secret456"); !errors.Is(err, ErrUserExists) {
		t.Errorf("second Register() error = %v, want ErrUserExists", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"short username", "al", "alice@example.com", "secret123"},
		{"bad email", "alice", "nonsense", "secret123"},
		{"short password", "alice", "alice@example.com", "short"},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.username, tc.email, tc.password); err == nil {
			t.Errorf("Register(%s) expected error", tc.name)
		}
	}
}

func TestLogin_Flow(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "secret123"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	payload, err := svc.Login(ctx, "alice", "secret123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if payload.User.Username != "alice" {
		t.Errorf("username = %v, want alice", payload.User.Username)
	}

	if _, err := svc.Login(ctx, "alice", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}
}

func TestValidateSession_Flow(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	payload, err := svc.Register(ctx, "alice", "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	user, err := svc.ValidateSession(ctx, payload.Token)
	if err != nil {
		t.Fatalf("ValidateSession() error = %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("username = %v, want alice", user.Username)
	}

	if _, err := svc.ValidateSession(ctx, "tok-never-issued"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("unknown token error = %v, want ErrInvalidSession", err)
	}
}

func TestValidateSession_ExpiredRowIsSweptAndRejected(t *testing.T) {
	svc, _, sessions := newTestAuthService()
	ctx := context.Background()

	payload, err := svc.Register(ctx, "alice", "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	hash := auth.HashToken(payload.Token)
	sessions.mu.Lock()
	sessions.sessions[hash].ExpiresAt = time.Now().Add(-time.Minute)
	sessions.mu.Unlock()

	if _, err := svc.ValidateSession(ctx, payload.Token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("ValidateSession() error = %v, want ErrInvalidSession", err)
	}

	sessions.mu.Lock()
	_, still := sessions.sessions[hash]
	sessions.mu.Unlock()
	if still {
		t.Error("expired session row was not deleted")
	}
}

func TestLogout_InvalidatesToken(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	payload, err := svc.Register(ctx, "alice", "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := svc.Logout(ctx, payload.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.ValidateSession(ctx, payload.Token); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("ValidateSession() after logout error = %v, want ErrInvalidSession", err)
	}
}
