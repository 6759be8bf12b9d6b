package handlers

import (
	"chat-runner/internal/app"
	"chat-runner/internal/auth"
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"chat-runner/internal/service/assistant"
	chatService "chat-runner/internal/service/chat"
	memoryService "chat-runner/internal/service/memory"
	preferencesService "chat-runner/internal/service/preferences"
	sessionService "chat-runner/internal/service/session"
	"chat-runner/internal/service/tools"
	"chat-runner/pkg/validation"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// maxBodyBytes bounds JSON request bodies; generation requests may carry an image
const maxBodyBytes = validation.MaxImageBytes + 1<<20

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Handlers serves the REST and SSE API on top of the service layer
type Handlers struct {
	config      *app.Config
	validator   *validation.ChatRequestValidator
	sessions    *sessionService.SessionService
	preferences *preferencesService.PreferencesService
	assistants  *assistant.AssistantService
	memories    *memoryService.MemoryService
	tools       *tools.Registry
	chat        *chatService.ChatService
}

// NewHandlers wires the services over the configured database
func NewHandlers(config *app.Config) *Handlers {
	registry := tools.NewRegistry()
	sessions := sessionService.NewSessionService(config.DB)
	prefs := preferencesService.NewPreferencesService(config.DB, config.AppConfig.Preferences, registry.Has)
	assistants := assistant.NewAssistantService(config.DB, config.ModelsConfig())
	memories := memoryService.NewMemoryService(config.DB)

	return &Handlers{
		config:      config,
		validator:   validation.NewChatRequestValidator(),
		sessions:    sessions,
		preferences: prefs,
		assistants:  assistants,
		memories:    memories,
		tools:       registry,
		chat:        chatService.NewChatService(config, sessions, prefs, assistants, memories, registry),
	}
}

// Chat exposes the generation service
func (h *Handlers) Chat() *chatService.ChatService {
	return h.chat
}

// HealthHandler reports liveness
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Helper methods

// currentUser returns the identity set by the auth middleware
func currentUser(r *http.Request) string {
	id, _ := auth.UserFromContext(r.Context())
	return id.UserID
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(body).Decode(dst)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("Failed to encode response")
	}
}

// sendError sends a standardized JSON error response
func (h *Handlers) sendError(w http.ResponseWriter, status int, message string, err error) {
	auth.SendError(w, status, message, err)
}

// sendServiceError maps service sentinels to status codes
func (h *Handlers) sendServiceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Log.WithError(err).Error(message)
	}
	h.sendError(w, status, message, err)
}

func statusFor(err error) int {
	var validationErr *tools.ValidationError
	switch {
	case errors.Is(err, assistant.ErrInvalidAssistant),
		errors.Is(err, preferencesService.ErrInvalidPreferences),
		errors.Is(err, memoryService.ErrEmptyMemory),
		errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, assistant.ErrUnknownModel):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sessionService.ErrSessionNotFound),
		errors.Is(err, sessionService.ErrMessageNotFound),
		errors.Is(err, assistant.ErrUnknownAssistant),
		errors.Is(err, memoryService.ErrMemoryNotFound),
		errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrGenerationInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
