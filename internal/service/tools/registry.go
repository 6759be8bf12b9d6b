package tools

import (
	"chat-runner/internal/config"
	"chat-runner/internal/repository/db"
	"context"
	"fmt"
	"net/http"
	"slices"

	lctools "github.com/tmc/langchaingo/tools"
)

// Tool keys, in catalog order
const (
	KeyWebSearch       = "web_search"
	KeyImageGeneration = "image_generation"
	KeyMemory          = "memory"
)

// Tool is a langchaingo tool that can also describe its arguments.
// Name returns the registry key, which is the function name the model sees.
type Tool interface {
	lctools.Tool
	Schema() map[string]any
}

// Sink receives the final rendered result of a tool invocation
type Sink func(result db.ToolInvocationResult)

// MemoryStore is the part of the memory service the memory tool needs
type MemoryStore interface {
	AddMemory(ctx context.Context, userID, content string) (db.Memory, error)
}

// Deps is everything a tool may need, supplied per generation request
type Deps struct {
	UserID        string
	Preferences   db.Preferences
	APIKeys       db.APIKeys
	Memories      MemoryStore
	Sink          Sink
	HTTPClient    *http.Client
	Config        config.ToolsConfig
	OpenAIBaseURL string
}

func (d Deps) emit(result db.ToolInvocationResult) {
	if d.Sink != nil {
		d.Sink(result)
	}
}

func (d Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return http.DefaultClient
}

// Definition is one catalog entry. New builds the live tool for a request.
type Definition struct {
	Key         string                        `json:"key"`
	Name        string                        `json:"name"`
	Description string                        `json:"description"`
	Schema      map[string]any                `json:"schema"`
	New         func(deps Deps) (Tool, error) `json:"-"`
}

// Registry is the static tool catalog
type Registry struct {
	defs []Definition
}

// NewRegistry returns the built-in catalog: web search, image generation, memory
func NewRegistry() *Registry {
	return NewRegistryFrom(
		Definition{
			Key:         KeyWebSearch,
			Name:        "Web Search",
			Description: webSearchDescription,
			Schema:      webSearchSchema,
			New:         newWebSearchTool,
		},
		Definition{
			Key:         KeyImageGeneration,
			Name:        "Image Generation",
			Description: imageGenerationDescription,
			Schema:      imageGenerationSchema,
			New:         newImageGenerationTool,
		},
		Definition{
			Key:         KeyMemory,
			Name:        "Memory",
			Description: memoryDescription,
			Schema:      memorySchema,
			New:         newMemoryTool,
		},
	)
}

// NewRegistryFrom builds a registry from explicit definitions
func NewRegistryFrom(defs ...Definition) *Registry {
	return &Registry{defs: defs}
}

// Definitions returns the catalog in order
func (r *Registry) Definitions() []Definition {
	return slices.Clone(r.defs)
}

// Get looks a definition up by key
func (r *Registry) Get(key string) (Definition, bool) {
	for _, d := range r.defs {
		if d.Key == key {
			return d, true
		}
	}
	return Definition{}, false
}

// Has reports whether key names a catalog tool
func (r *Registry) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Resolve returns the keys supported by the model that the user has enabled,
// in the model's plugin order. Unknown keys are dropped.
func (r *Registry) Resolve(modelPlugins, defaultPlugins []string) []string {
	var keys []string
	for _, key := range modelPlugins {
		if !slices.Contains(defaultPlugins, key) || !r.Has(key) || slices.Contains(keys, key) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Build constructs the live tools for keys. Every tool validates its
// arguments against its schema before running.
func (r *Registry) Build(keys []string, deps Deps) ([]Tool, error) {
	out := make([]Tool, 0, len(keys))
	for _, key := range keys {
		def, ok := r.Get(key)
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", key)
		}
		tool, err := def.New(deps)
		if err != nil {
			return nil, fmt.Errorf("failed to build tool %s: %w", key, err)
		}
		validated, err := withValidation(tool)
		if err != nil {
			return nil, err
		}
		out = append(out, validated)
	}
	return out, nil
}
