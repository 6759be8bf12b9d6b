package handlers

import (
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	chatService "chat-runner/internal/service/chat"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type SessionsResponse struct {
	Sessions []db.ChatSession `json:"sessions"`
}

type RenameSessionRequest struct {
	Title string `json:"title"`
}

type DeleteMessageResponse struct {
	Success        bool `json:"success"`
	SessionRemoved bool `json:"sessionRemoved"`
}

type GenerateRequest struct {
	Input     string `json:"input"`
	Context   string `json:"context,omitempty"`
	Image     string `json:"image,omitempty"`
	Assistant string `json:"assistant,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StreamEvent is one SSE frame of a generation
type StreamEvent struct {
	Type         string                    `json:"type"`
	Message      *db.ChatMessage           `json:"message,omitempty"`
	Notification *chatService.Notification `json:"notification,omitempty"`
	Provider     string                    `json:"provider,omitempty"`
	Error        string                    `json:"error,omitempty"`
	Code         int                       `json:"code,omitempty"`
}

// GetSessionsHandler returns the user's sessions, most recently updated first
func (h *Handlers) GetSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListSessions(r.Context(), currentUser(r))
	if err != nil {
		h.sendServiceError(w, "Error retrieving sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

// CreateSessionHandler returns the empty draft session, creating one if needed
func (h *Handlers) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, created, err := h.sessions.CreateSession(r.Context(), currentUser(r))
	if err != nil {
		h.sendServiceError(w, "Error creating session", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, session)
}

// GetSessionHandler returns one session with its messages
func (h *Handlers) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), currentUser(r), r.PathValue("id"))
	if err != nil {
		h.sendServiceError(w, "Session not found", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// RenameSessionHandler replaces a session title
func (h *Handlers) RenameSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req RenameSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validator.ValidateTitle(req.Title); err != nil {
		h.sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	session, err := h.sessions.RenameSession(r.Context(), currentUser(r), r.PathValue("id"), strings.TrimSpace(req.Title))
	if err != nil {
		h.sendServiceError(w, "Error renaming session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// DeleteSessionHandler deletes a session and stops its generation if any
func (h *Handlers) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	sessionID := r.PathValue("id")

	h.chat.StopGeneration(userID, sessionID)
	if err := h.sessions.RemoveSessionByID(r.Context(), userID, sessionID); err != nil {
		h.sendServiceError(w, "Error deleting session", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: "Session deleted successfully",
	})
}

// DeleteMessageHandler removes one message; an emptied session goes with it
func (h *Handlers) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	removed, err := h.sessions.RemoveMessage(r.Context(), currentUser(r), r.PathValue("id"), r.PathValue("messageId"))
	if err != nil {
		h.sendServiceError(w, "Error deleting message", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteMessageResponse{Success: true, SessionRemoved: removed})
}

// StopGenerationHandler cancels the session's active generation
func (h *Handlers) StopGenerationHandler(w http.ResponseWriter, r *http.Request) {
	stopped := h.chat.StopGeneration(currentUser(r), r.PathValue("id"))
	writeJSON(w, http.StatusOK, StopResponse{Stopped: stopped})
}

// GenerateHandler runs one generation and streams its progress as SSE.
// Resolution failures are answered with a JSON error before the stream opens;
// empty input is answered with 204.
func (h *Handlers) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	sessionID := r.PathValue("id")

	var req GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validator.ValidateGenerateRequest(req.Input, req.Context, req.Image); err != nil {
		h.sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.sendError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":     userID,
		"session_id":  sessionID,
		"input_chars": len(req.Input),
		"has_image":   req.Image != "",
	}).Info("Generate request received")

	stream := &sseObserver{w: w, flusher: flusher}
	msg, err := h.chat.RunModel(r.Context(), chatService.RunModelProps{
		UserID:    userID,
		SessionID: sessionID,
		MessageID: req.MessageID,
		Input:     req.Input,
		Context:   req.Context,
		Image:     req.Image,
		Assistant: req.Assistant,
	}, stream)

	if err != nil && !stream.opened() {
		h.sendServiceError(w, "Error starting generation", err)
		return
	}
	if msg == nil && err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("Generation ended with an error")
		stream.send(StreamEvent{Type: "error", Error: err.Error(), Code: statusFor(err)})
	}
	stream.done()
}

// sseObserver writes pipeline events as SSE frames. The stream opens with
// the first event so that earlier failures can still use a status code.
type sseObserver struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (o *sseObserver) OnUpdate(msg db.ChatMessage) {
	o.send(StreamEvent{Type: "update", Message: &msg})
}

func (o *sseObserver) OnNotify(n chatService.Notification) {
	o.send(StreamEvent{Type: "notify", Notification: &n})
}

func (o *sseObserver) OnOpenSettings(provider string) {
	o.send(StreamEvent{Type: "open_settings", Provider: provider})
}

func (o *sseObserver) opened() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}

func (o *sseObserver) send(event StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Log.WithError(err).Warn("Failed to encode stream event")
		return
	}
	o.write(string(data))
}

func (o *sseObserver) done() {
	o.write("[DONE]")
}

func (o *sseObserver) write(payload string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.started {
		o.w.Header().Set("Content-Type", "text/event-stream")
		o.w.Header().Set("Cache-Control", "no-cache")
		o.w.Header().Set("Connection", "keep-alive")
		o.w.WriteHeader(http.StatusOK)
		o.started = true
	}

	// the client may be gone; the run still commits
	if _, err := fmt.Fprintf(o.w, "data: %s\n\n", payload); err != nil {
		logger.Log.WithError(err).Debug("Failed to write stream event")
		return
	}
	o.flusher.Flush()
}
