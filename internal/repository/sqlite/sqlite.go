package sqlite

import (
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Ensure SQLiteDB implements db.Database interface
var _ db.Database = (*SQLiteDB)(nil)

// SQLiteDB implements db.Database on a single local database file
type SQLiteDB struct {
	conn *sql.DB
}

// NewSQLiteDB opens (or creates) the database file and initializes the schema
func NewSQLiteDB(ctx context.Context, path string) (*SQLiteDB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	logger.Log.WithField("path", path).Info("Opening SQLite database")

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// one writer at a time
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	s := &SQLiteDB{conn: conn}
	if err := s.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.conn.Close()
}

func (s *SQLiteDB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		email         TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS user_values (
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, key)
	);
	`

	_, err := s.conn.ExecContext(ctx, schema)
	return err
}

// CreateUser creates a new user with hashed password
func (s *SQLiteDB) CreateUser(username, email, password string) (*db.User, error) {
	hashedPassword, err := db.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	userID := uuid.New().String()
	var createdAt string

	query := `
	INSERT INTO users (id, username, email, password_hash)
	VALUES (?, ?, ?, ?)
	RETURNING created_at
	`

	err = s.conn.QueryRow(query, userID, username, email, hashedPassword).Scan(&createdAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, db.ErrUserExists
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"username": username, "user_id": userID}).Info("Created new user")

	return &db.User{
		ID:           userID,
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
		CreatedAt:    createdAt,
	}, nil
}

// GetUserByUsername retrieves a user by username
func (s *SQLiteDB) GetUserByUsername(username string) (*db.User, error) {
	var user db.User
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?`

	err := s.conn.QueryRow(query, username).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", username, db.ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}

	return &user, nil
}

// GetValue returns the JSON document stored under key for a user
func (s *SQLiteDB) GetValue(ctx context.Context, userID, key string) ([]byte, error) {
	var value string
	query := `SELECT value FROM user_values WHERE user_id = ? AND key = ?`

	err := s.conn.QueryRowContext(ctx, query, userID, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error reading value %s: %w", key, err)
	}

	return []byte(value), nil
}

// SetValue replaces the JSON document stored under key for a user
func (s *SQLiteDB) SetValue(ctx context.Context, userID, key string, value []byte) error {
	query := `
	INSERT INTO user_values (user_id, key, value, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (user_id, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.conn.ExecContext(ctx, query, userID, key, string(value)); err != nil {
		return fmt.Errorf("error writing value %s: %w", key, err)
	}
	return nil
}

// DeleteValue removes the document stored under key; missing keys are not an error
func (s *SQLiteDB) DeleteValue(ctx context.Context, userID, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM user_values WHERE user_id = ? AND key = ?`, userID, key); err != nil {
		return fmt.Errorf("error deleting value %s: %w", key, err)
	}
	return nil
}
