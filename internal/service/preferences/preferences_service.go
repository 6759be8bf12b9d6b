package preferences

import (
	"chat-runner/internal/config"
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrInvalidPreferences wraps every validation failure
var ErrInvalidPreferences = errors.New("invalid preferences")

// PreferencesService is the per-user preference and credential store
type PreferencesService struct {
	db        db.Database
	defaults  config.PreferenceDefaults
	knownTool func(key string) bool
}

// NewPreferencesService creates a new PreferencesService. knownTool reports
// whether a plugin key may appear in defaultPlugins.
func NewPreferencesService(database db.Database, defaults config.PreferenceDefaults, knownTool func(key string) bool) *PreferencesService {
	return &PreferencesService{
		db:        database,
		defaults:  defaults,
		knownTool: knownTool,
	}
}

// Defaults returns the preferences used for users with nothing stored
func (s *PreferencesService) Defaults() db.Preferences {
	plugins := make([]string, len(s.defaults.DefaultPlugins))
	copy(plugins, s.defaults.DefaultPlugins)

	return db.Preferences{
		DefaultAssistant: s.defaults.DefaultAssistant,
		SystemPrompt:     s.defaults.SystemPrompt,
		MessageLimit:     s.defaults.MessageLimit,
		Temperature:      s.defaults.Temperature,
		TopP:             s.defaults.TopP,
		TopK:             s.defaults.TopK,
		MaxTokens:        s.defaults.MaxTokens,
		DefaultPlugins:   plugins,
	}
}

// GetPreferences returns the stored preferences merged over the defaults.
// Fields absent from the stored document keep their default value.
func (s *PreferencesService) GetPreferences(ctx context.Context, userID string) (db.Preferences, error) {
	prefs := s.Defaults()

	data, err := s.db.GetValue(ctx, userID, db.KeyPreferences)
	if errors.Is(err, db.ErrNotFound) {
		return prefs, nil
	}
	if err != nil {
		return db.Preferences{}, fmt.Errorf("failed to read preferences: %w", err)
	}

	if err := json.Unmarshal(data, &prefs); err != nil {
		logger.Log.WithFields(logrus.Fields{"user_id": userID}).WithError(err).Warn("Stored preferences unreadable, using defaults")
		return s.Defaults(), nil
	}
	if prefs.DefaultPlugins == nil {
		prefs.DefaultPlugins = []string{}
	}

	return prefs, nil
}

// SetPreferences validates and replaces the user's preferences
func (s *PreferencesService) SetPreferences(ctx context.Context, userID string, prefs db.Preferences) (db.Preferences, error) {
	if err := s.Validate(prefs); err != nil {
		return db.Preferences{}, err
	}
	if prefs.DefaultPlugins == nil {
		prefs.DefaultPlugins = []string{}
	}

	if err := db.SaveJSON(ctx, s.db, userID, db.KeyPreferences, prefs); err != nil {
		return db.Preferences{}, fmt.Errorf("failed to save preferences: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID}).Info("Preferences updated")
	return prefs, nil
}

// PatchPreferences overlays a partial JSON object on the current preferences
func (s *PreferencesService) PatchPreferences(ctx context.Context, userID string, patch []byte) (db.Preferences, error) {
	current, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return db.Preferences{}, err
	}

	if err := json.Unmarshal(patch, &current); err != nil {
		return db.Preferences{}, fmt.Errorf("%w: %v", ErrInvalidPreferences, err)
	}

	return s.SetPreferences(ctx, userID, current)
}

// Validate checks value ranges and plugin keys
func (s *PreferencesService) Validate(prefs db.Preferences) error {
	var problems []string

	if prefs.Temperature < 0 || prefs.Temperature > 2 {
		problems = append(problems, fmt.Sprintf("temperature must be between 0 and 2, got %.2f", prefs.Temperature))
	}
	if prefs.TopP < 0 || prefs.TopP > 1 {
		problems = append(problems, fmt.Sprintf("topP must be between 0 and 1, got %.2f", prefs.TopP))
	}
	if prefs.TopK < 0 {
		problems = append(problems, fmt.Sprintf("topK must not be negative, got %d", prefs.TopK))
	}
	if prefs.MaxTokens < 0 {
		problems = append(problems, fmt.Sprintf("maxTokens must not be negative, got %d", prefs.MaxTokens))
	}
	if prefs.MessageLimit < 0 {
		problems = append(problems, fmt.Sprintf("messageLimit must not be negative, got %d", prefs.MessageLimit))
	}
	for _, key := range prefs.DefaultPlugins {
		if s.knownTool != nil && !s.knownTool(key) {
			problems = append(problems, fmt.Sprintf("unknown plugin %q", key))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPreferences, strings.Join(problems, "; "))
	}
	return nil
}

// GetAPIKeys returns every stored provider credential
func (s *PreferencesService) GetAPIKeys(ctx context.Context, userID string) (db.APIKeys, error) {
	keys := db.APIKeys{}
	if _, err := db.LoadJSON(ctx, s.db, userID, db.KeyAPIKeys, &keys); err != nil {
		return nil, fmt.Errorf("failed to read api keys: %w", err)
	}
	return keys, nil
}

// GetAPIKey returns the credential for one provider, or "" when none is stored
func (s *PreferencesService) GetAPIKey(ctx context.Context, userID, provider string) (string, error) {
	keys, err := s.GetAPIKeys(ctx, userID)
	if err != nil {
		return "", err
	}
	return keys[provider], nil
}

// SetAPIKey stores the credential for one provider
func (s *PreferencesService) SetAPIKey(ctx context.Context, userID, provider, key string) error {
	keys, err := s.GetAPIKeys(ctx, userID)
	if err != nil {
		return err
	}
	keys[provider] = strings.TrimSpace(key)

	if err := db.SaveJSON(ctx, s.db, userID, db.KeyAPIKeys, keys); err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "provider": provider}).Info("API key stored")
	return nil
}

// DeleteAPIKey forgets the credential for one provider
func (s *PreferencesService) DeleteAPIKey(ctx context.Context, userID, provider string) error {
	keys, err := s.GetAPIKeys(ctx, userID)
	if err != nil {
		return err
	}
	if _, ok := keys[provider]; !ok {
		return nil
	}
	delete(keys, provider)

	if err := db.SaveJSON(ctx, s.db, userID, db.KeyAPIKeys, keys); err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return nil
}

// MaskKey hides all but the last four characters of a credential
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
