package llm

import (
	"chat-runner/internal/config"
	"chat-runner/internal/logger"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options carries per-deployment endpoints for the client variants
type Options struct {
	OpenAIBaseURL string
	GeminiBaseURL string
	OllamaBaseURL string
}

// RequiresAPIKey reports whether the provider needs a user credential.
// Local models served by Ollama do not.
func RequiresAPIKey(provider string) bool {
	return provider != config.ProviderOllama
}

// NewChatModel constructs the client variant for the model's provider.
// Sampling values are clamped to what the model supports; each variant maps
// them to its own request fields.
func NewChatModel(model config.Model, credential string, params SamplingParams, opts Options) (ChatModel, error) {
	if RequiresAPIKey(model.Provider) && strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("missing API key for provider %s", model.Provider)
	}

	if model.MaxOutputTokens > 0 && params.MaxTokens > model.MaxOutputTokens {
		params.MaxTokens = model.MaxOutputTokens
	}

	logger.Log.WithFields(logrus.Fields{
		"model":       model.ID,
		"provider":    model.Provider,
		"temperature": params.Temperature,
		"max_tokens":  params.MaxTokens,
	}).Debug("Constructing chat model")

	switch model.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIChat(model.ID, credential, opts.OpenAIBaseURL, params), nil
	case config.ProviderGemini:
		// Gemini is reached through its OpenAI-compatible endpoint
		return NewOpenAIChat(model.ID, credential, opts.GeminiBaseURL, params), nil
	case config.ProviderAnthropic:
		return NewAnthropicChat(model.ID, credential, params), nil
	case config.ProviderOllama:
		return NewOllamaChat(model.ID, opts.OllamaBaseURL, params)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, model.Provider)
	}
}
