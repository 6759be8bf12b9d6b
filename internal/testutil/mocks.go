package testutil

import (
	"chat-runner/internal/app"
	"chat-runner/internal/config"
	"chat-runner/internal/repository/db"
	"chat-runner/internal/repository/memory"
	"chat-runner/internal/service/llm"
	"context"
	"errors"
	"sync"
)

// MockDatabase is a mock implementation of db.Database for testing.
// Methods without a Func fall through to Fallback when it is set.
type MockDatabase struct {
	Fallback db.Database

	// User mocks
	GetUserByUsernameFunc func(username string) (*db.User, error)
	CreateUserFunc        func(username, email, password string) (*db.User, error)

	// Value mocks
	GetValueFunc    func(ctx context.Context, userID, key string) ([]byte, error)
	SetValueFunc    func(ctx context.Context, userID, key string, value []byte) error
	DeleteValueFunc func(ctx context.Context, userID, key string) error

	CloseFunc func() error
}

// User methods
func (m *MockDatabase) GetUserByUsername(username string) (*db.User, error) {
	if m.GetUserByUsernameFunc != nil {
		return m.GetUserByUsernameFunc(username)
	}
	if m.Fallback != nil {
		return m.Fallback.GetUserByUsername(username)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) CreateUser(username, email, password string) (*db.User, error) {
	if m.CreateUserFunc != nil {
		return m.CreateUserFunc(username, email, password)
	}
	if m.Fallback != nil {
		return m.Fallback.CreateUser(username, email, password)
	}
	return nil, errors.New("not implemented")
}

// Value methods
func (m *MockDatabase) GetValue(ctx context.Context, userID, key string) ([]byte, error) {
	if m.GetValueFunc != nil {
		return m.GetValueFunc(ctx, userID, key)
	}
	if m.Fallback != nil {
		return m.Fallback.GetValue(ctx, userID, key)
	}
	return nil, db.ErrNotFound
}

func (m *MockDatabase) SetValue(ctx context.Context, userID, key string, value []byte) error {
	if m.SetValueFunc != nil {
		return m.SetValueFunc(ctx, userID, key, value)
	}
	if m.Fallback != nil {
		return m.Fallback.SetValue(ctx, userID, key, value)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) DeleteValue(ctx context.Context, userID, key string) error {
	if m.DeleteValueFunc != nil {
		return m.DeleteValueFunc(ctx, userID, key)
	}
	if m.Fallback != nil {
		return m.Fallback.DeleteValue(ctx, userID, key)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	if m.Fallback != nil {
		return m.Fallback.Close()
	}
	return nil
}

// MockChatModel is a mock implementation of llm.ChatModel for testing.
// Calls records every message list it was given.
type MockChatModel struct {
	Name         string
	GenerateFunc func(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, onToken llm.StreamFunc) (*llm.Response, error)

	mu    sync.Mutex
	Calls [][]llm.Message
}

func (m *MockChatModel) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, onToken llm.StreamFunc) (*llm.Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, messages)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, messages, tools, onToken)
	}
	return nil, errors.New("not implemented")
}

func (m *MockChatModel) ModelName() string {
	if m.Name != "" {
		return m.Name
	}
	return "mock-model"
}

// CallCount returns how many times Generate ran
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// StreamReply returns a GenerateFunc that streams tokens then answers with their concatenation
func StreamReply(tokens ...string) func(context.Context, []llm.Message, []llm.ToolSchema, llm.StreamFunc) (*llm.Response, error) {
	return func(ctx context.Context, _ []llm.Message, _ []llm.ToolSchema, onToken llm.StreamFunc) (*llm.Response, error) {
		var content string
		for _, tok := range tokens {
			content += tok
			if onToken != nil {
				if err := onToken(ctx, tok); err != nil {
					return &llm.Response{Content: content}, err
				}
			}
		}
		return &llm.Response{Content: content}, nil
	}
}

// MockTool is a mock implementation of tools.Tool for testing
type MockTool struct {
	ToolName   string
	CallFunc   func(ctx context.Context, input string) (string, error)
	ToolSchema map[string]any

	mu     sync.Mutex
	Inputs []string
}

func (m *MockTool) Name() string { return m.ToolName }

func (m *MockTool) Description() string { return "mock tool " + m.ToolName }

func (m *MockTool) Schema() map[string]any {
	if m.ToolSchema != nil {
		return m.ToolSchema
	}
	return map[string]any{"type": "object"}
}

func (m *MockTool) Call(ctx context.Context, input string) (string, error) {
	m.mu.Lock()
	m.Inputs = append(m.Inputs, input)
	m.mu.Unlock()

	if m.CallFunc != nil {
		return m.CallFunc(ctx, input)
	}
	return "ok", nil
}

// NewMockModelsConfig returns a small catalog covering every provider
func NewMockModelsConfig() *config.ModelsConfig {
	return config.NewModelsConfigFromList([]config.Model{
		{
			ID:              "gpt-test",
			Name:            "GPT Test",
			Provider:        config.ProviderOpenAI,
			MaxOutputTokens: 1024,
			Plugins:         []string{"web_search", "image_generation", "memory"},
			Vision:          true,
		},
		{
			ID:       "claude-test",
			Name:     "Claude Test",
			Provider: config.ProviderAnthropic,
			Plugins:  []string{"web_search", "memory"},
		},
		{
			ID:       "llama-test",
			Name:     "Llama Test",
			Provider: config.ProviderOllama,
		},
	})
}

// NewMockConfig creates an app.Config backed by the in-memory store
func NewMockConfig() *app.Config {
	models := NewMockModelsConfig()

	return &app.Config{
		DB: memory.NewMemoryDB(),
		AppConfig: &config.AppConfig{
			LLM: config.LLMConfig{
				DefaultSystemPrompt: "You are a helpful assistant.",
				AgentMaxIterations:  4,
				OllamaBaseURL:       "http://localhost:11434",
			},
			Preferences: config.PreferenceDefaults{
				DefaultAssistant: models.GetDefaultModel(),
				MessageLimit:     30,
				Temperature:      0.7,
				TopP:             1,
				MaxTokens:        512,
			},
			Tools: config.ToolsConfig{
				SearchMaxResults: 3,
				SearchUserAgent:  "chat-runner-test",
			},
			Auth: config.AuthConfig{
				JWTSecret: []byte("test-secret-key-at-least-32-characters-long"),
			},
			Models: models,
		},
	}
}
