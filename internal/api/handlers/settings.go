package handlers

import (
	"chat-runner/internal/config"
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	preferencesService "chat-runner/internal/service/preferences"
	"chat-runner/internal/service/tools"
	"fmt"
	"net/http"
	"slices"
	"sort"

	"github.com/sirupsen/logrus"
)

// keyedProviders are the providers that accept a stored credential
var keyedProviders = []string{config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderGemini}

type ModelsResponse struct {
	Models []config.Model `json:"models"`
}

type ToolsResponse struct {
	Tools []tools.Definition `json:"tools"`
}

type AssistantsResponse struct {
	Assistants []db.AssistantDescriptor `json:"assistants"`
}

type APIKeyRequest struct {
	Key string `json:"key"`
}

// APIKeyInfo never carries the credential itself
type APIKeyInfo struct {
	Provider string `json:"provider"`
	Masked   string `json:"masked"`
}

type APIKeysResponse struct {
	Keys []APIKeyInfo `json:"keys"`
}

type MemoriesResponse struct {
	Memories []db.Memory `json:"memories"`
}

type CreateMemoryRequest struct {
	Content string `json:"content"`
}

// GetModelsHandler returns the model catalog
func (h *Handlers) GetModelsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{Models: h.config.ModelsConfig().GetAvailableModels()})
}

// GetToolsHandler returns the tool catalog
func (h *Handlers) GetToolsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ToolsResponse{Tools: h.tools.Definitions()})
}

// GetAssistantsHandler returns base assistants followed by the user's custom ones
func (h *Handlers) GetAssistantsHandler(w http.ResponseWriter, r *http.Request) {
	assistants, err := h.assistants.ListAssistants(r.Context(), currentUser(r))
	if err != nil {
		h.sendServiceError(w, "Error retrieving assistants", err)
		return
	}
	writeJSON(w, http.StatusOK, AssistantsResponse{Assistants: assistants})
}

func (h *Handlers) CreateAssistantHandler(w http.ResponseWriter, r *http.Request) {
	var req db.AssistantDescriptor
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	created, err := h.assistants.CreateAssistant(r.Context(), currentUser(r), req)
	if err != nil {
		h.sendServiceError(w, "Error creating assistant", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) UpdateAssistantHandler(w http.ResponseWriter, r *http.Request) {
	var req db.AssistantDescriptor
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := h.assistants.UpdateAssistant(r.Context(), currentUser(r), r.PathValue("key"), req)
	if err != nil {
		h.sendServiceError(w, "Error updating assistant", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handlers) DeleteAssistantHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.assistants.DeleteAssistant(r.Context(), currentUser(r), r.PathValue("key")); err != nil {
		h.sendServiceError(w, "Error deleting assistant", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: "Assistant deleted successfully",
	})
}

// GetPreferencesHandler returns stored preferences merged over the defaults
func (h *Handlers) GetPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.preferences.GetPreferences(r.Context(), currentUser(r))
	if err != nil {
		h.sendServiceError(w, "Error retrieving preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// PutPreferencesHandler replaces the whole preferences record
func (h *Handlers) PutPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	var req db.Preferences
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	prefs, err := h.preferences.SetPreferences(r.Context(), currentUser(r), req)
	if err != nil {
		h.sendServiceError(w, "Error saving preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// PatchPreferencesHandler applies a partial JSON document over the current preferences
func (h *Handlers) PatchPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	prefs, err := h.preferences.PatchPreferences(r.Context(), currentUser(r), body)
	if err != nil {
		h.sendServiceError(w, "Error saving preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// GetAPIKeysHandler lists stored credentials in masked form
func (h *Handlers) GetAPIKeysHandler(w http.ResponseWriter, r *http.Request) {
	keys, err := h.preferences.GetAPIKeys(r.Context(), currentUser(r))
	if err != nil {
		h.sendServiceError(w, "Error retrieving API keys", err)
		return
	}

	infos := make([]APIKeyInfo, 0, len(keys))
	for provider, key := range keys {
		infos = append(infos, APIKeyInfo{Provider: provider, Masked: preferencesService.MaskKey(key)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Provider < infos[j].Provider })

	writeJSON(w, http.StatusOK, APIKeysResponse{Keys: infos})
}

func (h *Handlers) PutAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	provider := r.PathValue("provider")
	if !slices.Contains(keyedProviders, provider) {
		h.sendError(w, http.StatusBadRequest, "Unknown provider", fmt.Errorf("provider %q does not take an API key", provider))
		return
	}

	var req APIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validator.ValidateAPIKey(req.Key); err != nil {
		h.sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	if err := h.preferences.SetAPIKey(r.Context(), userID, provider, req.Key); err != nil {
		h.sendServiceError(w, "Error saving API key", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Message: "API key saved"})
}

func (h *Handlers) DeleteAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	provider := r.PathValue("provider")
	if !slices.Contains(keyedProviders, provider) {
		h.sendError(w, http.StatusBadRequest, "Unknown provider", fmt.Errorf("provider %q does not take an API key", provider))
		return
	}

	if err := h.preferences.DeleteAPIKey(r.Context(), userID, provider); err != nil {
		h.sendServiceError(w, "Error deleting API key", err)
		return
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "provider": provider}).Info("API key removed")
	writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Message: "API key deleted"})
}

// GetMemoriesHandler returns the user's saved memories, oldest first
func (h *Handlers) GetMemoriesHandler(w http.ResponseWriter, r *http.Request) {
	memories, err := h.memories.ListMemories(r.Context(), currentUser(r))
	if err != nil {
		h.sendServiceError(w, "Error retrieving memories", err)
		return
	}
	writeJSON(w, http.StatusOK, MemoriesResponse{Memories: memories})
}

func (h *Handlers) CreateMemoryHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateMemoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validator.ValidateMemory(req.Content); err != nil {
		h.sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	memory, err := h.memories.AddMemory(r.Context(), currentUser(r), req.Content)
	if err != nil {
		h.sendServiceError(w, "Error saving memory", err)
		return
	}
	writeJSON(w, http.StatusCreated, memory)
}

func (h *Handlers) DeleteMemoryHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.memories.DeleteMemory(r.Context(), currentUser(r), r.PathValue("id")); err != nil {
		h.sendServiceError(w, "Error deleting memory", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: "Memory deleted successfully",
	})
}
