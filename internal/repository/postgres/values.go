package postgres

import (
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// GetValue returns the JSON document stored under key for a user
func (p *PostgresDB) GetValue(ctx context.Context, userID, key string) ([]byte, error) {
	var value []byte
	query := `SELECT value FROM user_values WHERE user_id = $1 AND key = $2`

	err := p.conn.QueryRowContext(ctx, query, userID, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error reading value %s: %w", key, err)
	}

	return value, nil
}

// SetValue replaces the JSON document stored under key for a user
func (p *PostgresDB) SetValue(ctx context.Context, userID, key string, value []byte) error {
	// jsonb columns must be sent as text; lib/pq encodes []byte as bytea
	query := `
	INSERT INTO user_values (user_id, key, value, updated_at)
	VALUES ($1, $2, $3::jsonb, CURRENT_TIMESTAMP)
	ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP
	`

	if _, err := p.conn.ExecContext(ctx, query, userID, key, string(value)); err != nil {
		return fmt.Errorf("error writing value %s: %w", key, err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "key": key, "bytes": len(value)}).Debug("Stored value")
	return nil
}

// DeleteValue removes the document stored under key; missing keys are not an error
func (p *PostgresDB) DeleteValue(ctx context.Context, userID, key string) error {
	query := `DELETE FROM user_values WHERE user_id = $1 AND key = $2`

	if _, err := p.conn.ExecContext(ctx, query, userID, key); err != nil {
		return fmt.Errorf("error deleting value %s: %w", key, err)
	}
	return nil
}
