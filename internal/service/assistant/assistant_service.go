package assistant

import (
	"chat-runner/internal/config"
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownAssistant = errors.New("unknown assistant")
	ErrUnknownModel     = errors.New("unknown model")
	ErrInvalidAssistant = errors.New("invalid assistant")
)

// AssistantService resolves assistant keys to catalog models. Base assistants
// mirror the catalog; custom assistants are stored per user.
type AssistantService struct {
	db     db.Database
	models *config.ModelsConfig
	now    func() time.Time
}

// NewAssistantService creates a new AssistantService
func NewAssistantService(database db.Database, models *config.ModelsConfig) *AssistantService {
	return &AssistantService{
		db:     database,
		models: models,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// BaseAssistants returns one built-in assistant per catalog model
func (s *AssistantService) BaseAssistants() []db.AssistantDescriptor {
	models := s.models.GetAvailableModels()
	assistants := make([]db.AssistantDescriptor, 0, len(models))
	for _, model := range models {
		assistants = append(assistants, db.AssistantDescriptor{
			Key:       model.ID,
			Name:      model.Name,
			BaseModel: model.ID,
			Type:      db.AssistantTypeBase,
		})
	}
	return assistants
}

// ListAssistants returns base assistants followed by the user's custom ones
func (s *AssistantService) ListAssistants(ctx context.Context, userID string) ([]db.AssistantDescriptor, error) {
	custom, err := s.loadCustom(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append(s.BaseAssistants(), custom...), nil
}

// GetAssistant looks an assistant up by key, custom assistants first
func (s *AssistantService) GetAssistant(ctx context.Context, userID, key string) (db.AssistantDescriptor, error) {
	custom, err := s.loadCustom(ctx, userID)
	if err != nil {
		return db.AssistantDescriptor{}, err
	}
	for _, a := range custom {
		if a.Key == key {
			return a, nil
		}
	}

	if model, ok := s.models.GetModel(key); ok {
		return db.AssistantDescriptor{
			Key:       model.ID,
			Name:      model.Name,
			BaseModel: model.ID,
			Type:      db.AssistantTypeBase,
		}, nil
	}

	return db.AssistantDescriptor{}, fmt.Errorf("assistant %q: %w", key, ErrUnknownAssistant)
}

// ResolveModel returns the catalog model backing an assistant
func (s *AssistantService) ResolveModel(assistant db.AssistantDescriptor) (config.Model, error) {
	model, ok := s.models.GetModel(assistant.BaseModel)
	if !ok {
		return config.Model{}, fmt.Errorf("model %q: %w", assistant.BaseModel, ErrUnknownModel)
	}
	return model, nil
}

// CreateAssistant stores a new custom assistant under a generated key
func (s *AssistantService) CreateAssistant(ctx context.Context, userID string, input db.AssistantDescriptor) (db.AssistantDescriptor, error) {
	if err := s.validate(input); err != nil {
		return db.AssistantDescriptor{}, err
	}

	custom, err := s.loadCustom(ctx, userID)
	if err != nil {
		return db.AssistantDescriptor{}, err
	}

	assistant := db.AssistantDescriptor{
		Key:          uuid.New().String(),
		Name:         strings.TrimSpace(input.Name),
		BaseModel:    input.BaseModel,
		SystemPrompt: input.SystemPrompt,
		Type:         db.AssistantTypeCustom,
		CreatedAt:    s.now(),
	}
	custom = append(custom, assistant)

	if err := db.SaveJSON(ctx, s.db, userID, db.KeyAssistants, custom); err != nil {
		return db.AssistantDescriptor{}, fmt.Errorf("failed to save assistant: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":    userID,
		"assistant":  assistant.Key,
		"base_model": assistant.BaseModel,
	}).Info("Custom assistant created")

	return assistant, nil
}

// UpdateAssistant replaces name, base model and prompt of a custom assistant
func (s *AssistantService) UpdateAssistant(ctx context.Context, userID, key string, input db.AssistantDescriptor) (db.AssistantDescriptor, error) {
	if err := s.validate(input); err != nil {
		return db.AssistantDescriptor{}, err
	}

	custom, err := s.loadCustom(ctx, userID)
	if err != nil {
		return db.AssistantDescriptor{}, err
	}

	idx := slices.IndexFunc(custom, func(a db.AssistantDescriptor) bool { return a.Key == key })
	if idx < 0 {
		return db.AssistantDescriptor{}, fmt.Errorf("assistant %q: %w", key, ErrUnknownAssistant)
	}

	custom[idx].Name = strings.TrimSpace(input.Name)
	custom[idx].BaseModel = input.BaseModel
	custom[idx].SystemPrompt = input.SystemPrompt

	if err := db.SaveJSON(ctx, s.db, userID, db.KeyAssistants, custom); err != nil {
		return db.AssistantDescriptor{}, fmt.Errorf("failed to save assistant: %w", err)
	}
	return custom[idx], nil
}

// DeleteAssistant removes a custom assistant. Base assistants cannot be deleted.
func (s *AssistantService) DeleteAssistant(ctx context.Context, userID, key string) error {
	custom, err := s.loadCustom(ctx, userID)
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(custom, func(a db.AssistantDescriptor) bool { return a.Key == key })
	if idx < 0 {
		return fmt.Errorf("assistant %q: %w", key, ErrUnknownAssistant)
	}
	custom = slices.Delete(custom, idx, idx+1)

	if err := db.SaveJSON(ctx, s.db, userID, db.KeyAssistants, custom); err != nil {
		return fmt.Errorf("failed to delete assistant: %w", err)
	}
	return nil
}

func (s *AssistantService) validate(input db.AssistantDescriptor) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAssistant)
	}
	if !s.models.IsValidModel(input.BaseModel) {
		return fmt.Errorf("%w: base model %q: %w", ErrInvalidAssistant, input.BaseModel, ErrUnknownModel)
	}
	return nil
}

func (s *AssistantService) loadCustom(ctx context.Context, userID string) ([]db.AssistantDescriptor, error) {
	custom := []db.AssistantDescriptor{}
	if _, err := db.LoadJSON(ctx, s.db, userID, db.KeyAssistants, &custom); err != nil {
		return nil, fmt.Errorf("failed to load assistants: %w", err)
	}
	return custom, nil
}
