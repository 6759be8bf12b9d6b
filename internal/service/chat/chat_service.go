package chat

import (
	"chat-runner/internal/app"
	"chat-runner/internal/config"
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"chat-runner/internal/service/agent"
	"chat-runner/internal/service/assistant"
	"chat-runner/internal/service/llm"
	"chat-runner/internal/service/memory"
	"chat-runner/internal/service/preferences"
	"chat-runner/internal/service/prompt"
	"chat-runner/internal/service/session"
	"chat-runner/internal/service/tools"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrGenerationInProgress is returned when the session already has an active run
var ErrGenerationInProgress = errors.New("a generation is already running for this session")

// RunModelProps is one generation request
type RunModelProps struct {
	UserID    string
	SessionID string
	// MessageID regenerates an existing message when set
	MessageID string
	Input     string
	Context   string
	Image     string
	// Assistant falls back to the user's default assistant when empty
	Assistant string
}

// ModelFactory constructs the chat client for a catalog model
type ModelFactory func(model config.Model, credential string, params llm.SamplingParams, opts llm.Options) (llm.ChatModel, error)

type inflightKey struct {
	userID    string
	sessionID string
	messageID string
}

// ChatService runs generation requests and reconciles their results into
// the session store
type ChatService struct {
	config      *app.Config
	sessions    *session.SessionService
	preferences *preferences.PreferencesService
	assistants  *assistant.AssistantService
	memories    *memory.MemoryService
	tools       *tools.Registry
	newModel    ModelFactory

	mu       sync.Mutex
	inflight map[inflightKey]context.CancelFunc
	now      func() time.Time
}

// NewChatService creates a new ChatService
func NewChatService(
	cfg *app.Config,
	sessions *session.SessionService,
	prefs *preferences.PreferencesService,
	assistants *assistant.AssistantService,
	memories *memory.MemoryService,
	registry *tools.Registry,
) *ChatService {
	return &ChatService{
		config:      cfg,
		sessions:    sessions,
		preferences: prefs,
		assistants:  assistants,
		memories:    memories,
		tools:       registry,
		newModel:    llm.NewChatModel,
		inflight:    make(map[inflightKey]context.CancelFunc),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetModelFactory replaces the client constructor
func (s *ChatService) SetModelFactory(f ModelFactory) {
	s.newModel = f
}

// RunModel runs one request/response cycle and returns the finalized message.
// Empty input is a no-op and returns a nil message. Resolution failures are
// returned before anything is emitted or stored. Provider failures and user
// cancellation are not errors of RunModel: they are recorded in the returned
// message's StopReason.
func (s *ChatService) RunModel(ctx context.Context, props RunModelProps, obs Observer) (*db.ChatMessage, error) {
	input := strings.TrimSpace(props.Input)
	if input == "" {
		return nil, nil
	}
	if obs == nil {
		obs = NopObserver{}
	}

	// Validating
	prefs, err := s.preferences.GetPreferences(ctx, props.UserID)
	if err != nil {
		return nil, err
	}
	assistantKey := props.Assistant
	if assistantKey == "" {
		assistantKey = prefs.DefaultAssistant
	}
	desc, err := s.assistants.GetAssistant(ctx, props.UserID, assistantKey)
	if err != nil {
		return nil, err
	}
	model, err := s.assistants.ResolveModel(desc)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.GetSession(ctx, props.UserID, props.SessionID)
	if err != nil {
		return nil, err
	}

	msg := db.ChatMessage{
		ID:        props.MessageID,
		SessionID: sess.ID,
		RawHuman:  input,
		Image:     props.Image,
		InputProps: &db.InputProps{
			Assistant: desc.Key,
			Context:   props.Context,
			Image:     props.Image,
		},
		IsLoading: true,
		CreatedAt: s.now(),
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	} else if existing := findMessage(sess.Messages, msg.ID); existing != nil {
		msg.CreatedAt = existing.CreatedAt
	}

	runCtx, release, err := s.acquire(ctx, inflightKey{props.UserID, sess.ID, msg.ID})
	if err != nil {
		return nil, err
	}
	defer release()

	fields := logrus.Fields{
		"user_id":    props.UserID,
		"session_id": sess.ID,
		"message_id": msg.ID,
		"assistant":  desc.Key,
		"model":      model.ID,
		"provider":   model.Provider,
	}
	start := time.Now()

	// optimistic in-flight message, before any network call
	obs.OnUpdate(msg)

	apiKeys, err := s.preferences.GetAPIKeys(ctx, props.UserID)
	if err != nil {
		return s.fail(ctx, props.UserID, msg, err, obs, fields)
	}
	credential := apiKeys[model.Provider]

	if llm.RequiresAPIKey(model.Provider) && strings.TrimSpace(credential) == "" {
		logger.Log.WithFields(fields).Warn("No API key stored for provider")
		final := Finalize(msg, db.StopReasonAPIKey, nil)
		obs.OnUpdate(final)
		obs.OnOpenSettings(model.Provider)
		return s.commit(ctx, props.UserID, final)
	}

	// Preparing
	history := BuildHistory(sess.Messages, msg.ID, prefs.MessageLimit)

	var remembered []string
	if memories, err := s.memories.ListMemories(ctx, props.UserID); err != nil {
		logger.Log.WithFields(fields).WithError(err).Warn("Failed to load memories, continuing without them")
	} else {
		remembered = memory.Contents(memories)
	}

	tmpl := prompt.Build(prompt.Input{
		SystemPrompt: prompt.SystemPromptFor(desc, prefs, s.config.AppConfig.LLM.DefaultSystemPrompt),
		Memories:     remembered,
		HasHistory:   len(history) > 0,
		Text:         input,
		Context:      props.Context,
		Image:        props.Image,
	})

	chatModel, err := s.newModel(model, credential, llm.SamplingParams{
		Temperature: prefs.Temperature,
		TopP:        prefs.TopP,
		TopK:        prefs.TopK,
		MaxTokens:   prefs.MaxTokens,
	}, s.modelOptions(prefs))
	if err != nil {
		return s.fail(ctx, props.UserID, msg, err, obs, fields)
	}

	state := newRunState(msg, obs)

	toolKeys := s.tools.Resolve(model.Plugins, prefs.DefaultPlugins)
	runnable, err := s.runnable(chatModel, tmpl, toolKeys, tools.Deps{
		UserID:        props.UserID,
		Preferences:   prefs,
		APIKeys:       apiKeys,
		Memories:      s.memories,
		Sink:          state.sink,
		Config:        s.config.AppConfig.Tools,
		OpenAIBaseURL: s.config.AppConfig.LLM.OpenAIBaseURL,
	})
	if err != nil {
		return s.fail(ctx, props.UserID, msg, err, obs, fields)
	}

	fields["tools"] = toolKeys
	fields["history_messages"] = len(history)
	logger.Log.WithFields(fields).Info("Generation started")

	// Streaming
	outputs, runErr := runnable.Call(runCtx, history, state)

	// Finalizing
	reason := db.StopReasonFinish
	if runErr != nil {
		reason = stopReasonFor(runCtx)
	}
	final := Finalize(state.snapshot(), reason, outputs)
	obs.OnUpdate(final)

	fields["stop_reason"] = reason
	fields["latency_ms"] = time.Since(start).Milliseconds()
	switch reason {
	case db.StopReasonError:
		logger.Log.WithFields(fields).WithError(runErr).Error("Generation failed")
		obs.OnNotify(errorNotification(runErr))
	case db.StopReasonCancel:
		logger.Log.WithFields(fields).Info("Generation cancelled")
	default:
		logger.Log.WithFields(fields).Info("Generation finished")
	}

	return s.commit(ctx, props.UserID, final)
}

// StopGeneration cancels the active run of a session. It reports whether a
// run was found.
func (s *ChatService) StopGeneration(userID, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopped := false
	for key, cancel := range s.inflight {
		if key.userID == userID && key.sessionID == sessionID {
			cancel()
			stopped = true
		}
	}
	if stopped {
		logger.Log.WithFields(logrus.Fields{
			"user_id":    userID,
			"session_id": sessionID,
		}).Info("Generation stop requested")
	}
	return stopped
}

// IsGenerating reports whether the session has an active run
func (s *ChatService) IsGenerating(userID, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.inflight {
		if key.userID == userID && key.sessionID == sessionID {
			return true
		}
	}
	return false
}

// acquire registers the run and derives its cancellable context. A session
// holds at most one run at a time.
func (s *ChatService) acquire(ctx context.Context, key inflightKey) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.inflight {
		if k.userID == key.userID && k.sessionID == key.sessionID {
			return nil, nil, fmt.Errorf("session %s: %w", key.sessionID, ErrGenerationInProgress)
		}
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout := s.config.AppConfig.LLM.RequestTimeout; timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	s.inflight[key] = cancel

	release := func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
		cancel()
	}
	return runCtx, release, nil
}

// runnable picks the executor path when any tool is attached, the direct
// chain otherwise
func (s *ChatService) runnable(model llm.ChatModel, tmpl *prompt.Template, toolKeys []string, deps tools.Deps) (agent.Runnable, error) {
	if len(toolKeys) == 0 {
		return agent.NewDirectChain(model, tmpl), nil
	}

	built, err := s.tools.Build(toolKeys, deps)
	if err != nil {
		return nil, err
	}
	a, err := agent.NewToolCallingAgent(model, built, tmpl)
	if err != nil {
		return nil, err
	}
	return agent.NewExecutor(a, agent.WithMaxIterations(s.config.AppConfig.LLM.AgentMaxIterations)), nil
}

func (s *ChatService) modelOptions(prefs db.Preferences) llm.Options {
	cfg := s.config.AppConfig.LLM
	opts := llm.Options{
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GeminiBaseURL: cfg.GeminiBaseURL,
		OllamaBaseURL: cfg.OllamaBaseURL,
	}
	if u := strings.TrimSpace(prefs.OllamaBaseURL); u != "" {
		opts.OllamaBaseURL = u
	}
	return opts
}

// fail finalizes a run that broke down while preparing
func (s *ChatService) fail(ctx context.Context, userID string, msg db.ChatMessage, err error, obs Observer, fields logrus.Fields) (*db.ChatMessage, error) {
	logger.Log.WithFields(fields).WithError(err).Error("Failed to prepare generation")
	final := Finalize(msg, db.StopReasonError, nil)
	obs.OnUpdate(final)
	obs.OnNotify(errorNotification(err))
	return s.commit(ctx, userID, final)
}

// commit merges the final message into the session and refetches the list.
// Both steps run even when the request context was cancelled.
func (s *ChatService) commit(ctx context.Context, userID string, final db.ChatMessage) (*db.ChatMessage, error) {
	ctx = context.WithoutCancel(ctx)

	if _, err := s.sessions.AddMessageToSession(ctx, userID, final.SessionID, final); err != nil {
		return &final, fmt.Errorf("failed to commit message: %w", err)
	}
	if _, err := s.sessions.RefetchSessions(ctx, userID); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"user_id":    userID,
			"session_id": final.SessionID,
		}).WithError(err).Warn("Failed to refetch sessions after commit")
	}
	return &final, nil
}

// stopReasonFor tells a user abort from a provider failure by the run's own
// context: only an explicit cancel counts, a timeout is an error
func stopReasonFor(runCtx context.Context) db.StopReason {
	if errors.Is(runCtx.Err(), context.Canceled) {
		return db.StopReasonCancel
	}
	return db.StopReasonError
}

func findMessage(messages []db.ChatMessage, id string) *db.ChatMessage {
	for i := range messages {
		if messages[i].ID == id {
			return &messages[i]
		}
	}
	return nil
}
