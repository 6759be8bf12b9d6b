package app

import (
	"chat-runner/internal/config"
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"chat-runner/internal/repository/memory"
	"chat-runner/internal/repository/postgres"
	"chat-runner/internal/repository/sqlite"
	"context"
	"errors"
	"fmt"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Storage backend selected by DB_DRIVER
	DB db.Database
	// Centralized application configuration
	AppConfig *config.AppConfig
}

// NewConfig creates a new application configuration
func NewConfig(database db.Database, appConfig *config.AppConfig) *Config {
	return &Config{
		DB:        database,
		AppConfig: appConfig,
	}
}

// Open connects the configured storage backend, seeds the demo account and
// checks that the preference defaults name a catalog model
func Open(ctx context.Context, appConfig *config.AppConfig) (*Config, error) {
	if appConfig.Models == nil {
		return nil, errors.New("model catalog is not loaded")
	}
	if !appConfig.Models.IsValidModel(appConfig.Preferences.DefaultAssistant) {
		return nil, fmt.Errorf("default assistant %q is not a catalog model", appConfig.Preferences.DefaultAssistant)
	}

	database, err := OpenDatabase(ctx, appConfig.Database)
	if err != nil {
		return nil, err
	}
	if err := db.SeedDemoUser(database); err != nil {
		database.Close()
		return nil, err
	}
	return NewConfig(database, appConfig), nil
}

// OpenDatabase opens the storage backend named by the driver
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (db.Database, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := postgres.NewPostgresDB(cfg)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres: %w", err)
		}
		return pg, nil
	case config.DriverSQLite:
		lite, err := sqlite.NewSQLiteDB(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite: %w", err)
		}
		return lite, nil
	case config.DriverMemory:
		logger.Log.Warn("Using in-memory storage, data is lost on restart")
		return memory.NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// ModelsConfig returns the model catalog
func (c *Config) ModelsConfig() *config.ModelsConfig {
	return c.AppConfig.Models
}

// Close releases the storage backend
func (c *Config) Close() error {
	return c.DB.Close()
}
