package config

import (
	_ "embed"
	"encoding/json"
	"os"
)

//go:embed models.json
var defaultModelsJSON []byte

// Provider tags understood by the model catalog
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// Model represents an available LLM model
type Model struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Provider        string   `json:"provider"`
	Tier            string   `json:"tier"`
	TokenLimit      int      `json:"token_limit,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	Plugins         []string `json:"plugins,omitempty"`
	Vision          bool     `json:"vision,omitempty"`
}

// SupportsPlugin reports whether the model can be given the tool with this key
func (m Model) SupportsPlugin(key string) bool {
	for _, p := range m.Plugins {
		if p == key {
			return true
		}
	}
	return false
}

// ModelsConfig holds the available models configuration
type ModelsConfig struct {
	models []Model
}

// NewModelsConfig creates a new models configuration from a file
func NewModelsConfig(configPath string) (*ModelsConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	return ParseModelsConfig(data)
}

// NewDefaultModelsConfig returns the catalog compiled into the binary
func NewDefaultModelsConfig() (*ModelsConfig, error) {
	return ParseModelsConfig(defaultModelsJSON)
}

// ParseModelsConfig decodes a JSON array of models
func ParseModelsConfig(data []byte) (*ModelsConfig, error) {
	var models []Model
	err := json.Unmarshal(data, &models)
	if err != nil {
		return nil, err
	}

	return &ModelsConfig{models: models}, nil
}

// NewModelsConfigFromList builds a catalog from already-decoded models
func NewModelsConfigFromList(models []Model) *ModelsConfig {
	return &ModelsConfig{models: models}
}

// GetAvailableModels returns the list of available models
func (mc *ModelsConfig) GetAvailableModels() []Model {
	return mc.models
}

// IsValidModel checks if a model ID is in the list of available models
func (mc *ModelsConfig) IsValidModel(modelID string) bool {
	_, ok := mc.GetModel(modelID)
	return ok
}

// GetModel looks a model up by ID
func (mc *ModelsConfig) GetModel(modelID string) (Model, bool) {
	for _, model := range mc.models {
		if model.ID == modelID {
			return model, true
		}
	}
	return Model{}, false
}

// GetDefaultModel returns the first model as the default
func (mc *ModelsConfig) GetDefaultModel() string {
	if len(mc.models) > 0 {
		return mc.models[0].ID
	}
	// Fallback in case no models are configured (shouldn't happen)
	return "gpt-4o-mini"
}
