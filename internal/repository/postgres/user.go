package postgres

import (
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// uniqueViolation is the SQLSTATE postgres reports for duplicate keys
const uniqueViolation = "23505"

// CreateUser creates a new user with hashed password
func (p *PostgresDB) CreateUser(username, email, password string) (*db.User, error) {
	conn := p.conn

	hashedPassword, err := db.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	userID := uuid.New().String()
	var createdAt string

	query := `
	INSERT INTO users (id, username, email, password_hash)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at
	`

	err = conn.QueryRow(query, userID, username, email, hashedPassword).Scan(&userID, &createdAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
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
func (p *PostgresDB) GetUserByUsername(username string) (*db.User, error) {
	conn := p.conn

	var user db.User
	var email sql.NullString
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE username = $1`

	err := conn.QueryRow(query, username).Scan(&user.ID, &user.Username, &email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", username, db.ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}
	user.Email = email.String

	return &user, nil
}
