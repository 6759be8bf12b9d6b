package memory

import (
	"chat-runner/internal/repository/db"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ensure MemoryDB implements db.Database interface
var _ db.Database = (*MemoryDB)(nil)

// MemoryDB keeps users and values in process memory. Nothing survives a restart.
type MemoryDB struct {
	mu     sync.RWMutex
	users  map[string]db.User
	values map[string]map[string][]byte
}

// NewMemoryDB creates an empty in-memory database
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:  make(map[string]db.User),
		values: make(map[string]map[string][]byte),
	}
}

// CreateUser creates a new user with hashed password
func (m *MemoryDB) CreateUser(username, email, password string) (*db.User, error) {
	hashedPassword, err := db.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[username]; exists {
		return nil, db.ErrUserExists
	}

	user := db.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	m.users[username] = user
	return &user, nil
}

// GetUserByUsername retrieves a user by username
func (m *MemoryDB) GetUserByUsername(username string) (*db.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, db.ErrNotFound)
	}
	return &user, nil
}

// GetValue returns a copy of the document stored under key
func (m *MemoryDB) GetValue(_ context.Context, userID, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[userID][key]
	if !ok {
		return nil, db.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// SetValue replaces the document stored under key
func (m *MemoryDB) SetValue(_ context.Context, userID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.values[userID] == nil {
		m.values[userID] = make(map[string][]byte)
	}
	m.values[userID][key] = append([]byte(nil), value...)
	return nil
}

// DeleteValue removes the document stored under key
func (m *MemoryDB) DeleteValue(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values[userID], key)
	return nil
}

// Close is a no-op
func (m *MemoryDB) Close() error {
	return nil
}
