package config

import (
	"chat-runner/internal/logger"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Storage drivers accepted by DB_DRIVER
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server      ServerConfig
	Database    DatabaseConfig
	LLM         LLMConfig
	Preferences PreferenceDefaults
	Tools       ToolsConfig
	Auth        AuthConfig
	Models      *ModelsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	DefaultSystemPrompt string
	AgentMaxIterations  int
	OllamaBaseURL       string
	GeminiBaseURL       string
	OpenAIBaseURL       string
	RequestTimeout      time.Duration
}

// PreferenceDefaults seeds the preference store for users who never saved any
type PreferenceDefaults struct {
	DefaultAssistant string
	SystemPrompt     string
	MessageLimit     int
	Temperature      float64
	TopP             float64
	TopK             int
	MaxTokens        int
	DefaultPlugins   []string
}

// ToolsConfig holds settings shared by the built-in tools
type ToolsConfig struct {
	SearchMaxResults int
	SearchUserAgent  string
	GoogleSearchURL  string
	ImageModel       string
	ImageSize        string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret       []byte
	TokenExpiration time.Duration
}

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	config := &AppConfig{}

	// Load Server config
	config.Server = ServerConfig{
		Port:            getEnvOrDefault("SERVER_PORT", "8080"),
		ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	// Load Database config
	config.Database = DatabaseConfig{
		Driver:     getEnvOrDefault("DB_DRIVER", DriverPostgres),
		Host:       getEnvOrDefault("DB_HOST", "postgres"),
		Port:       getEnvOrDefault("DB_PORT", "5432"),
		User:       getEnvOrDefault("DB_USER", "postgres"),
		Password:   getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:       getEnvOrDefault("DB_NAME", "chatrunner"),
		SSLMode:    getEnvOrDefault("DB_SSLMODE", "disable"),
		SQLitePath: getEnvOrDefault("DB_SQLITE_PATH", "chat-runner.db"),
	}
	switch config.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return nil, fmt.Errorf("DB_DRIVER must be one of %s, %s, %s (got %q)", DriverPostgres, DriverSQLite, DriverMemory, config.Database.Driver)
	}

	// Load LLM config
	config.LLM = LLMConfig{
		DefaultSystemPrompt: getEnvOrDefault("LLM_SYSTEM_PROMPT", "You are a helpful assistant."),
		AgentMaxIterations:  getEnvAsInt("LLM_AGENT_MAX_ITERATIONS", 6),
		OllamaBaseURL:       getEnvOrDefault("OLLAMA_BASE_URL", "http://localhost:11434"),
		GeminiBaseURL:       getEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
		OpenAIBaseURL:       os.Getenv("OPENAI_BASE_URL"),
		RequestTimeout:      getEnvAsDuration("LLM_REQUEST_TIMEOUT", 5*time.Minute),
	}
	if config.LLM.AgentMaxIterations < 1 {
		logger.Log.WithField("value", config.LLM.AgentMaxIterations).Warn("LLM_AGENT_MAX_ITERATIONS below 1, using 1")
		config.LLM.AgentMaxIterations = 1
	}

	// Load preference defaults
	config.Preferences = PreferenceDefaults{
		DefaultAssistant: os.Getenv("PREF_DEFAULT_ASSISTANT"),
		SystemPrompt:     os.Getenv("PREF_SYSTEM_PROMPT"),
		MessageLimit:     getEnvAsInt("PREF_MESSAGE_LIMIT", 30),
		Temperature:      getEnvAsFloat("PREF_TEMPERATURE", 0.7),
		TopP:             getEnvAsFloat("PREF_TOP_P", 1.0),
		TopK:             getEnvAsInt("PREF_TOP_K", 40),
		MaxTokens:        getEnvAsInt("PREF_MAX_TOKENS", 2048),
		DefaultPlugins:   getEnvAsList("PREF_DEFAULT_PLUGINS", nil),
	}

	config.Tools = ToolsConfig{
		SearchMaxResults: getEnvAsInt("TOOLS_SEARCH_MAX_RESULTS", 5),
		SearchUserAgent:  getEnvOrDefault("TOOLS_SEARCH_USER_AGENT", "chat-runner/1.0"),
		GoogleSearchURL:  getEnvOrDefault("TOOLS_GOOGLE_SEARCH_URL", "https://www.googleapis.com/customsearch/v1"),
		ImageModel:       getEnvOrDefault("TOOLS_IMAGE_MODEL", "dall-e-3"),
		ImageSize:        getEnvOrDefault("TOOLS_IMAGE_SIZE", "1024x1024"),
	}

	// Load Auth config
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable must be set")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters (current length: %d)", len(jwtSecret))
	}

	config.Auth = AuthConfig{
		JWTSecret:       []byte(jwtSecret),
		TokenExpiration: getEnvAsDuration("JWT_TOKEN_EXPIRATION", 24*time.Hour),
	}

	// Load Models config
	var modelsConfig *ModelsConfig
	var err error
	if modelsConfigPath := os.Getenv("MODELS_CONFIG_PATH"); modelsConfigPath != "" {
		modelsConfig, err = NewModelsConfig(modelsConfigPath)
	} else {
		modelsConfig, err = NewDefaultModelsConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load models config: %w", err)
	}
	config.Models = modelsConfig

	if config.Preferences.DefaultAssistant == "" {
		config.Preferences.DefaultAssistant = modelsConfig.GetDefaultModel()
	}

	logger.Log.WithFields(logrus.Fields{
		"db_driver": config.Database.Driver,
		"models":    len(modelsConfig.GetAvailableModels()),
	}).Info("Configuration loaded")

	return config, nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid float value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}
