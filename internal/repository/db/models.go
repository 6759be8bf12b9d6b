package db

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User represents a user in the database
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    string
}

// HashPassword returns the bcrypt hash stored for a user
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword checks if the provided password matches the user's hashed password
func (u *User) VerifyPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// StopReason records why a generation ended
type StopReason string

const (
	StopReasonFinish StopReason = "finish"
	StopReasonError  StopReason = "error"
	StopReasonCancel StopReason = "cancel"
	StopReasonAPIKey StopReason = "apikey"
)

// ChatSession is one conversation; Messages are in conversation order
type ChatSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Messages  []ChatMessage `json:"messages"`
}

// InputProps is the request a message was generated from
type InputProps struct {
	Assistant string `json:"assistant"`
	Context   string `json:"context,omitempty"`
	Image     string `json:"image,omitempty"`
}

// ChatMessage holds one human turn and the assistant output generated for it
type ChatMessage struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"sessionId"`
	RawHuman   string                 `json:"rawHuman"`
	RawAI      string                 `json:"rawAI"`
	Image      string                 `json:"image,omitempty"`
	InputProps *InputProps            `json:"inputProps,omitempty"`
	IsLoading  bool                   `json:"isLoading"`
	Stop       bool                   `json:"stop"`
	StopReason StopReason             `json:"stopReason,omitempty"`
	Tools      []ToolInvocationResult `json:"tools,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// ToolInvocationResult is the rendered state of one tool call within a message
type ToolInvocationResult struct {
	ToolName    string `json:"toolName"`
	ToolLoading bool   `json:"toolLoading"`
	Input       string `json:"input,omitempty"`
	Result      string `json:"result,omitempty"`
}

// Preferences is the per-user generation configuration
type Preferences struct {
	DefaultAssistant     string   `json:"defaultAssistant"`
	SystemPrompt         string   `json:"systemPrompt"`
	MessageLimit         int      `json:"messageLimit"`
	Temperature          float64  `json:"temperature"`
	TopP                 float64  `json:"topP"`
	TopK                 int      `json:"topK"`
	MaxTokens            int      `json:"maxTokens"`
	DefaultPlugins       []string `json:"defaultPlugins"`
	GoogleSearchEngineID string   `json:"googleSearchEngineId"`
	GoogleSearchAPIKey   string   `json:"googleSearchApiKey"`
	OllamaBaseURL        string   `json:"ollamaBaseUrl"`
}

// APIKeys maps a provider tag to the user's credential for it
type APIKeys map[string]string

// AssistantType distinguishes catalog assistants from user-defined ones
type AssistantType string

const (
	AssistantTypeBase   AssistantType = "base"
	AssistantTypeCustom AssistantType = "custom"
)

// AssistantDescriptor names a model plus the system prompt to run it with.
// BaseModel is a model catalog id; the provider tag comes from that model.
type AssistantDescriptor struct {
	Key          string        `json:"key"`
	Name         string        `json:"name"`
	BaseModel    string        `json:"baseModel"`
	SystemPrompt string        `json:"systemPrompt"`
	Type         AssistantType `json:"type"`
	CreatedAt    time.Time     `json:"createdAt,omitzero"`
}

// Memory is a free-text fact the user asked the assistant to remember
type Memory struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
