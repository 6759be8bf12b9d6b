package llm

import (
	"chat-runner/internal/config"
	"errors"
	"testing"
)

func TestRequiresAPIKey(t *testing.T) {
	tests := []struct {
		provider string
		want     bool
	}{
		{config.ProviderOpenAI, true},
		{config.ProviderAnthropic, true},
		{config.ProviderGemini, true},
		{config.ProviderOllama, false},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			if got := RequiresAPIKey(tt.provider); got != tt.want {
				t.Errorf("RequiresAPIKey(%q) = %v, want %v", tt.provider, got, tt.want)
			}
		})
	}
}

func TestNewChatModel_Variants(t *testing.T) {
	opts := Options{OllamaBaseURL: "http://localhost:11434", GeminiBaseURL: "http://gemini.test/v1beta/openai"}
	params := SamplingParams{Temperature: 0.5, TopP: 0.9, TopK: 20, MaxTokens: 1000}

	tests := []struct {
		name  string
		model config.Model
		key   string
		check func(t *testing.T, m ChatModel)
	}{
		{
			name:  "openai",
			model: config.Model{ID: "gpt-4o-mini", Provider: config.ProviderOpenAI},
			key:   "sk-test",
			check: func(t *testing.T, m ChatModel) {
				if _, ok := m.(*OpenAIChat); !ok {
					t.Errorf("got %T, want *OpenAIChat", m)
				}
			},
		},
		{
			name:  "gemini uses the openai-compatible client",
			model: config.Model{ID: "gemini-1.5-flash", Provider: config.ProviderGemini},
			key:   "g-test",
			check: func(t *testing.T, m ChatModel) {
				if _, ok := m.(*OpenAIChat); !ok {
					t.Errorf("got %T, want *OpenAIChat", m)
				}
			},
		},
		{
			name:  "anthropic",
			model: config.Model{ID: "claude-3-haiku-20240307", Provider: config.ProviderAnthropic},
			key:   "ak-test",
			check: func(t *testing.T, m ChatModel) {
				if _, ok := m.(*AnthropicChat); !ok {
					t.Errorf("got %T, want *AnthropicChat", m)
				}
			},
		},
		{
			name:  "ollama without key",
			model: config.Model{ID: "llama3.1", Provider: config.ProviderOllama},
			check: func(t *testing.T, m ChatModel) {
				if _, ok := m.(*OllamaChat); !ok {
					t.Errorf("got %T, want *OllamaChat", m)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewChatModel(tt.model, tt.key, params, opts)
			if err != nil {
				t.Fatalf("NewChatModel() error = %v", err)
			}
			if m.ModelName() != tt.model.ID {
				t.Errorf("ModelName() = %q, want %q", m.ModelName(), tt.model.ID)
			}
			tt.check(t, m)
		})
	}
}

func TestNewChatModel_Errors(t *testing.T) {
	_, err := NewChatModel(config.Model{ID: "gpt-4o", Provider: config.ProviderOpenAI}, "  ", SamplingParams{}, Options{})
	if err == nil {
		t.Error("expected error for missing key")
	}

	_, err = NewChatModel(config.Model{ID: "x", Provider: "mistral"}, "key", SamplingParams{}, Options{})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("error = %v, want ErrUnsupportedProvider", err)
	}
}

func TestNewChatModel_ClampsMaxTokens(t *testing.T) {
	model := config.Model{ID: "gpt-3.5-turbo", Provider: config.ProviderOpenAI, MaxOutputTokens: 4096}

	m, err := NewChatModel(model, "sk", SamplingParams{MaxTokens: 10000}, Options{})
	if err != nil {
		t.Fatalf("NewChatModel() error = %v", err)
	}
	if got := m.(*OpenAIChat).params.MaxTokens; got != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", got)
	}

	m, err = NewChatModel(model, "sk", SamplingParams{MaxTokens: 512}, Options{})
	if err != nil {
		t.Fatalf("NewChatModel() error = %v", err)
	}
	if got := m.(*OpenAIChat).params.MaxTokens; got != 512 {
		t.Errorf("MaxTokens = %d, want 512", got)
	}
}

func TestTextOf(t *testing.T) {
	if got := TextOf(Message{Content: "plain"}); got != "plain" {
		t.Errorf("TextOf() = %q, want %q", got, "plain")
	}

	m := Message{Parts: []ContentPart{
		{Type: PartText, Text: "look at this"},
		{Type: PartImage, ImageURL: "http://img"},
		{Type: PartText, Text: "and this"},
	}}
	if got := TextOf(m); got != "look at this\nand this" {
		t.Errorf("TextOf() = %q", got)
	}
}

func TestParseDataURL(t *testing.T) {
	tests := []struct {
		in        string
		mediaType string
		data      string
		ok        bool
	}{
		{"data:image/png;base64,iVBORw0", "image/png", "iVBORw0", true},
		{"data:image/jpeg;base64,", "image/jpeg", "", true},
		{"https://example.com/cat.png", "", "", false},
		{"data:image/png,raw", "", "", false},
		{"data:;base64,abc", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			mediaType, data, ok := ParseDataURL(tt.in)
			if ok != tt.ok || mediaType != tt.mediaType || data != tt.data {
				t.Errorf("ParseDataURL(%q) = (%q, %q, %v), want (%q, %q, %v)", tt.in, mediaType, data, ok, tt.mediaType, tt.data, tt.ok)
			}
		})
	}
}
