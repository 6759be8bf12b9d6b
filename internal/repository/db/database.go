package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Fixed keys of the per-user value store
const (
	KeyChatSessions = "chat-sessions"
	KeyPreferences  = "preferences"
	KeyAPIKeys      = "api-keys"
	KeyAssistants   = "assistants"
	KeyMemories     = "memories"
)

var (
	// ErrNotFound is returned when a user or stored value does not exist
	ErrNotFound = errors.New("not found")
	// ErrUserExists is returned by CreateUser for a taken username
	ErrUserExists = errors.New("username already exists")
)

// Database defines persistence for users and their whole-object values.
// Values are opaque JSON documents stored under a fixed key per user;
// writes replace the previous document (last write wins).
type Database interface {
	// User methods
	GetUserByUsername(username string) (*User, error)
	CreateUser(username, email, password string) (*User, error)

	// Value methods
	GetValue(ctx context.Context, userID, key string) ([]byte, error)
	SetValue(ctx context.Context, userID, key string, value []byte) error
	DeleteValue(ctx context.Context, userID, key string) error

	Close() error
}

// LoadJSON decodes the value under key into dst. It reports false without
// error when nothing is stored yet.
func LoadJSON(ctx context.Context, database Database, userID, key string, dst any) (bool, error) {
	data, err := database.GetValue(ctx, userID, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error reading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("error decoding %s: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes value and stores it under key
func SaveJSON(ctx context.Context, database Database, userID, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", key, err)
	}
	if err := database.SetValue(ctx, userID, key, data); err != nil {
		return fmt.Errorf("error writing %s: %w", key, err)
	}
	return nil
}

// SeedDemoUser creates the demo user if it doesn't exist
func SeedDemoUser(database Database) error {
	if _, err := database.GetUserByUsername("demo"); err == nil {
		return nil
	}

	_, err := database.CreateUser("demo", "demo@example.com", "demo123")
	if err != nil && !errors.Is(err, ErrUserExists) {
		return fmt.Errorf("error seeding demo user: %w", err)
	}
	return nil
}
