package app

import (
	"chat-runner/internal/config"
	"chat-runner/internal/repository/memory"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAppConfig(driver string) *config.AppConfig {
	models := config.NewModelsConfigFromList([]config.Model{
		{ID: "gpt-test", Name: "GPT Test", Provider: config.ProviderOpenAI},
	})
	return &config.AppConfig{
		Database:    config.DatabaseConfig{Driver: driver},
		Preferences: config.PreferenceDefaults{DefaultAssistant: "gpt-test"},
		Models:      models,
	}
}

func TestOpen_MemorySeedsDemoUser(t *testing.T) {
	cfg, err := Open(context.Background(), testAppConfig(config.DriverMemory))
	require.NoError(t, err)
	defer cfg.Close()

	assert.IsType(t, &memory.MemoryDB{}, cfg.DB)
	user, err := cfg.DB.GetUserByUsername("demo")
	require.NoError(t, err)
	assert.True(t, user.VerifyPassword("demo123"))
	assert.Equal(t, "gpt-test", cfg.ModelsConfig().GetDefaultModel())
}

func TestOpen_SQLite(t *testing.T) {
	appConfig := testAppConfig(config.DriverSQLite)
	appConfig.Database.SQLitePath = filepath.Join(t.TempDir(), "app.db")

	cfg, err := Open(context.Background(), appConfig)
	require.NoError(t, err)
	defer cfg.Close()

	_, err = cfg.DB.GetUserByUsername("demo")
	assert.NoError(t, err)
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.AppConfig)
		wantErr string
	}{
		{
			name:    "unknown driver",
			mutate:  func(c *config.AppConfig) { c.Database.Driver = "mongo" },
			wantErr: `unsupported database driver "mongo"`,
		},
		{
			name:    "default assistant outside catalog",
			mutate:  func(c *config.AppConfig) { c.Preferences.DefaultAssistant = "gone" },
			wantErr: `default assistant "gone" is not a catalog model`,
		},
		{
			name:    "no catalog",
			mutate:  func(c *config.AppConfig) { c.Models = nil },
			wantErr: "model catalog is not loaded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appConfig := testAppConfig(config.DriverMemory)
			tt.mutate(appConfig)

			cfg, err := Open(context.Background(), appConfig)
			assert.Nil(t, cfg)
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
