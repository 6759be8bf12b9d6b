package llm

import (
	"context"
	"errors"
)

// ErrUnsupportedProvider is returned for a provider tag with no client variant
var ErrUnsupportedProvider = errors.New("unsupported provider")

// Role of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType distinguishes the pieces of a multimodal message
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image_url"
)

// ContentPart is one piece of a multimodal user message
type ContentPart struct {
	Type     PartType
	Text     string
	ImageURL string
}

// ToolCall is a function call requested by the model
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is the provider-neutral chat message. When Parts is set it
// replaces Content. Tool results carry ToolCallID and Name.
type Message struct {
	Role       Role
	Content    string
	Parts      []ContentPart
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolSchema describes a callable tool to the model
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SamplingParams are the user-facing generation knobs. Zero means provider default.
type SamplingParams struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// Response is the complete result of one model call
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// StreamFunc receives each text token as it arrives. Returning an error aborts the call.
type StreamFunc func(ctx context.Context, token string) error

// ChatModel is a streaming chat client bound to one model and credential
type ChatModel interface {
	// Generate sends the conversation and streams text tokens to onToken.
	// tools may be empty; onToken may be nil.
	Generate(ctx context.Context, messages []Message, tools []ToolSchema, onToken StreamFunc) (*Response, error)

	// ModelName returns the provider-side model identifier
	ModelName() string
}

// TextOf returns the plain text of a message, joining text parts
func TextOf(m Message) string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var text string
	for _, p := range m.Parts {
		if p.Type == PartText {
			if text != "" {
				text += "\n"
			}
			text += p.Text
		}
	}
	return text
}
