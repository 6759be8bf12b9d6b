package assistant

import (
	"chat-runner/internal/config"
	"chat-runner/internal/repository/db"
	"chat-runner/internal/repository/memory"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModels() *config.ModelsConfig {
	return config.NewModelsConfigFromList([]config.Model{
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Provider: config.ProviderOpenAI, Plugins: []string{"web_search"}},
		{ID: "llama3.1", Name: "Llama 3.1", Provider: config.ProviderOllama},
	})
}

func TestBaseAssistants(t *testing.T) {
	service := NewAssistantService(memory.NewMemoryDB(), testModels())

	base := service.BaseAssistants()
	require.Len(t, base, 2)
	assert.Equal(t, "gpt-3.5-turbo", base[0].Key)
	assert.Equal(t, "gpt-3.5-turbo", base[0].BaseModel)
	assert.Equal(t, db.AssistantTypeBase, base[0].Type)
}

func TestGetAssistant(t *testing.T) {
	service := NewAssistantService(memory.NewMemoryDB(), testModels())
	ctx := context.Background()

	got, err := service.GetAssistant(ctx, "u1", "llama3.1")
	require.NoError(t, err)
	assert.Equal(t, db.AssistantTypeBase, got.Type)

	_, err = service.GetAssistant(ctx, "u1", "gpt-7")
	assert.True(t, errors.Is(err, ErrUnknownAssistant))
}

func TestResolveModel(t *testing.T) {
	service := NewAssistantService(memory.NewMemoryDB(), testModels())

	model, err := service.ResolveModel(db.AssistantDescriptor{BaseModel: "gpt-3.5-turbo"})
	require.NoError(t, err)
	assert.Equal(t, config.ProviderOpenAI, model.Provider)

	_, err = service.ResolveModel(db.AssistantDescriptor{BaseModel: "retired-model"})
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

func TestCustomAssistantLifecycle(t *testing.T) {
	service := NewAssistantService(memory.NewMemoryDB(), testModels())
	ctx := context.Background()

	created, err := service.CreateAssistant(ctx, "u1", db.AssistantDescriptor{
		Name:         "  Translator ",
		BaseModel:    "gpt-3.5-turbo",
		SystemPrompt: "Translate everything to French.",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.Key)
	assert.Equal(t, "Translator", created.Name)
	assert.Equal(t, db.AssistantTypeCustom, created.Type)

	got, err := service.GetAssistant(ctx, "u1", created.Key)
	require.NoError(t, err)
	assert.Equal(t, "Translate everything to French.", got.SystemPrompt)

	// other users do not see it
	_, err = service.GetAssistant(ctx, "u2", created.Key)
	assert.True(t, errors.Is(err, ErrUnknownAssistant))

	all, err := service.ListAssistants(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	updated, err := service.UpdateAssistant(ctx, "u1", created.Key, db.AssistantDescriptor{
		Name:      "Local translator",
		BaseModel: "llama3.1",
	})
	require.NoError(t, err)
	assert.Equal(t, "llama3.1", updated.BaseModel)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	require.NoError(t, service.DeleteAssistant(ctx, "u1", created.Key))
	assert.True(t, errors.Is(service.DeleteAssistant(ctx, "u1", created.Key), ErrUnknownAssistant))
}

func TestCreateAssistant_Validation(t *testing.T) {
	service := NewAssistantService(memory.NewMemoryDB(), testModels())
	ctx := context.Background()

	tests := []struct {
		name  string
		input db.AssistantDescriptor
	}{
		{"missing name", db.AssistantDescriptor{BaseModel: "llama3.1"}},
		{"blank name", db.AssistantDescriptor{Name: "   ", BaseModel: "llama3.1"}},
		{"unknown base model", db.AssistantDescriptor{Name: "x", BaseModel: "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CreateAssistant(ctx, "u1", tt.input)
			assert.True(t, errors.Is(err, ErrInvalidAssistant), "got %v", err)
		})
	}
}

func TestUpdateAssistant_BaseIsNotEditable(t *testing.T) {
	service := NewAssistantService(memory.NewMemoryDB(), testModels())

	_, err := service.UpdateAssistant(context.Background(), "u1", "llama3.1", db.AssistantDescriptor{Name: "x", BaseModel: "llama3.1"})
	assert.True(t, errors.Is(err, ErrUnknownAssistant))
}
