//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"chat-runner/internal/repository/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *PostgresDB

// TestMain starts a throwaway PostgreSQL container shared by every test.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "chatrunner",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	dsn := fmt.Sprintf("host=%s port=%s user=postgres password=postgres dbname=chatrunner sslmode=disable", host, port.Port())
	testDB, err = NewPostgresDBFromDSN(dsn)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	code := m.Run()

	_ = testDB.Close()
	_ = container.Terminate(ctx)

	os.Exit(code)
}

func TestUsers(t *testing.T) {
	user, err := testDB.CreateUser("alice", "alice@example.com", "secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.True(t, user.VerifyPassword("secret123"))

	_, err = testDB.CreateUser("alice", "", "other123")
	assert.True(t, errors.Is(err, db.ErrUserExists))

	found, err := testDB.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.False(t, found.VerifyPassword("wrong"))

	_, err = testDB.GetUserByUsername("nobody")
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestValues(t *testing.T) {
	ctx := context.Background()
	user, err := testDB.CreateUser("bob", "", "secret123")
	require.NoError(t, err)

	_, err = testDB.GetValue(ctx, user.ID, db.KeyPreferences)
	assert.True(t, errors.Is(err, db.ErrNotFound))

	require.NoError(t, testDB.SetValue(ctx, user.ID, db.KeyPreferences, []byte(`{"temperature":0.5}`)))
	require.NoError(t, testDB.SetValue(ctx, user.ID, db.KeyPreferences, []byte(`{"temperature":0.9}`)))

	var prefs db.Preferences
	ok, err := db.LoadJSON(ctx, testDB, user.ID, db.KeyPreferences, &prefs)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.9, prefs.Temperature)

	require.NoError(t, testDB.DeleteValue(ctx, user.ID, db.KeyPreferences))
	_, err = testDB.GetValue(ctx, user.ID, db.KeyPreferences)
	assert.True(t, errors.Is(err, db.ErrNotFound))

	version, dirty, err := testDB.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}
