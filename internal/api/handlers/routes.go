package handlers

import (
	"chat-runner/internal/auth"
	"net/http"
)

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter registers every route on a method-aware ServeMux
func NewRouter(h *Handlers, authHandlers *auth.Handlers) http.Handler {
	mux := http.NewServeMux()
	protected := authHandlers.Middleware

	// Public routes
	mux.HandleFunc("POST /api/login", authHandlers.LoginHandler)
	mux.HandleFunc("POST /api/register", authHandlers.RegisterHandler)
	mux.HandleFunc("GET /api/health", h.HealthHandler)

	// Catalogs
	mux.HandleFunc("GET /api/models", protected(h.GetModelsHandler))
	mux.HandleFunc("GET /api/tools", protected(h.GetToolsHandler))

	// Assistants
	mux.HandleFunc("GET /api/assistants", protected(h.GetAssistantsHandler))
	mux.HandleFunc("POST /api/assistants", protected(h.CreateAssistantHandler))
	mux.HandleFunc("PUT /api/assistants/{key}", protected(h.UpdateAssistantHandler))
	mux.HandleFunc("DELETE /api/assistants/{key}", protected(h.DeleteAssistantHandler))

	// Preferences and credentials
	mux.HandleFunc("GET /api/preferences", protected(h.GetPreferencesHandler))
	mux.HandleFunc("PUT /api/preferences", protected(h.PutPreferencesHandler))
	mux.HandleFunc("PATCH /api/preferences", protected(h.PatchPreferencesHandler))
	mux.HandleFunc("GET /api/api-keys", protected(h.GetAPIKeysHandler))
	mux.HandleFunc("PUT /api/api-keys/{provider}", protected(h.PutAPIKeyHandler))
	mux.HandleFunc("DELETE /api/api-keys/{provider}", protected(h.DeleteAPIKeyHandler))

	// Sessions
	mux.HandleFunc("GET /api/sessions", protected(h.GetSessionsHandler))
	mux.HandleFunc("POST /api/sessions", protected(h.CreateSessionHandler))
	mux.HandleFunc("GET /api/sessions/{id}", protected(h.GetSessionHandler))
	mux.HandleFunc("PATCH /api/sessions/{id}", protected(h.RenameSessionHandler))
	mux.HandleFunc("DELETE /api/sessions/{id}", protected(h.DeleteSessionHandler))
	mux.HandleFunc("DELETE /api/sessions/{id}/messages/{messageId}", protected(h.DeleteMessageHandler))
	mux.HandleFunc("POST /api/sessions/{id}/generate", protected(h.GenerateHandler))
	mux.HandleFunc("POST /api/sessions/{id}/stop", protected(h.StopGenerationHandler))

	// Memories
	mux.HandleFunc("GET /api/memories", protected(h.GetMemoriesHandler))
	mux.HandleFunc("POST /api/memories", protected(h.CreateMemoryHandler))
	mux.HandleFunc("DELETE /api/memories/{id}", protected(h.DeleteMemoryHandler))

	return enableCORS(mux)
}
