package chat

import (
	"chat-runner/internal/config"
	"chat-runner/internal/repository/db"
	"chat-runner/internal/service/agent"
	"chat-runner/internal/service/assistant"
	"chat-runner/internal/service/llm"
	"chat-runner/internal/service/memory"
	"chat-runner/internal/service/preferences"
	"chat-runner/internal/service/session"
	"chat-runner/internal/service/tools"
	"chat-runner/internal/testutil"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "u1"

type recordingObserver struct {
	mu       sync.Mutex
	updates  []db.ChatMessage
	notes    []Notification
	settings []string
}

func (o *recordingObserver) OnUpdate(msg db.ChatMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, msg)
}

func (o *recordingObserver) OnNotify(n Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notes = append(o.notes, n)
}

func (o *recordingObserver) OnOpenSettings(provider string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settings = append(o.settings, provider)
}

type testEnv struct {
	service     *ChatService
	sessions    *session.SessionService
	preferences *preferences.PreferencesService
	memories    *memory.MemoryService
	model       *testutil.MockChatModel
	sessionID   string

	factoryCalls int
	credential   string
	params       llm.SamplingParams
	factoryErr   error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := testutil.NewMockConfig()
	registry := tools.NewRegistry()
	env := &testEnv{
		sessions:    session.NewSessionService(cfg.DB),
		preferences: preferences.NewPreferencesService(cfg.DB, cfg.AppConfig.Preferences, registry.Has),
		memories:    memory.NewMemoryService(cfg.DB),
		model:       &testutil.MockChatModel{GenerateFunc: testutil.StreamReply("Hello", " there")},
	}
	env.service = NewChatService(
		cfg,
		env.sessions,
		env.preferences,
		assistant.NewAssistantService(cfg.DB, cfg.AppConfig.Models),
		env.memories,
		registry,
	)
	env.service.newModel = func(_ config.Model, credential string, params llm.SamplingParams, _ llm.Options) (llm.ChatModel, error) {
		env.factoryCalls++
		env.credential = credential
		env.params = params
		if env.factoryErr != nil {
			return nil, env.factoryErr
		}
		return env.model, nil
	}

	sess, _, err := env.sessions.CreateSession(ctx, testUser)
	require.NoError(t, err)
	env.sessionID = sess.ID
	require.NoError(t, env.preferences.SetAPIKey(ctx, testUser, config.ProviderOpenAI, "sk-test"))
	return env
}

func (e *testEnv) props(input string) RunModelProps {
	return RunModelProps{UserID: testUser, SessionID: e.sessionID, Input: input}
}

func (e *testEnv) committed(t *testing.T) []db.ChatMessage {
	t.Helper()
	sess, err := e.sessions.GetSession(context.Background(), testUser, e.sessionID)
	require.NoError(t, err)
	return sess.Messages
}

func (e *testEnv) enablePlugins(t *testing.T, keys ...string) {
	t.Helper()
	ctx := context.Background()
	prefs, err := e.preferences.GetPreferences(ctx, testUser)
	require.NoError(t, err)
	prefs.DefaultPlugins = keys
	_, err = e.preferences.SetPreferences(ctx, testUser, prefs)
	require.NoError(t, err)
}

// scripted answers each Generate call with the next response in order
func scripted(responses ...*llm.Response) func(context.Context, []llm.Message, []llm.ToolSchema, llm.StreamFunc) (*llm.Response, error) {
	i := 0
	return func(ctx context.Context, _ []llm.Message, _ []llm.ToolSchema, onToken llm.StreamFunc) (*llm.Response, error) {
		resp := responses[min(i, len(responses)-1)]
		i++
		if resp.Content != "" && onToken != nil {
			if err := onToken(ctx, resp.Content); err != nil {
				return nil, err
			}
		}
		return resp, nil
	}
}

func TestRunModel_EmptyInputIsNoop(t *testing.T) {
	env := newTestEnv(t)
	obs := &recordingObserver{}

	for _, input := range []string{"", "   ", "\n\t"} {
		msg, err := env.service.RunModel(context.Background(), env.props(input), obs)
		require.NoError(t, err)
		assert.Nil(t, msg)
	}

	assert.Empty(t, obs.updates)
	assert.Zero(t, env.factoryCalls)
	assert.Empty(t, env.committed(t))
}

func TestRunModel_ResolutionErrorsTouchNothing(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*RunModelProps)
		want   error
	}{
		{"unknown assistant", func(p *RunModelProps) { p.Assistant = "no-such-assistant" }, assistant.ErrUnknownAssistant},
		{"unknown session", func(p *RunModelProps) { p.SessionID = "no-such-session" }, session.ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			obs := &recordingObserver{}
			props := env.props("hello")
			tt.modify(&props)

			msg, err := env.service.RunModel(context.Background(), props, obs)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, msg)
			assert.Empty(t, obs.updates)
			assert.Zero(t, env.factoryCalls)
			assert.Empty(t, env.committed(t))
		})
	}
}

func TestRunModel_UnknownModel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// a custom assistant whose model was later removed from the catalog
	custom := db.AssistantDescriptor{Key: "stale", Name: "Stale", BaseModel: "retired-model", Type: db.AssistantTypeCustom}
	require.NoError(t, db.SaveJSON(ctx, env.service.config.DB, testUser, db.KeyAssistants, []db.AssistantDescriptor{custom}))

	props := env.props("hello")
	props.Assistant = "stale"
	_, err := env.service.RunModel(ctx, props, nil)
	assert.ErrorIs(t, err, assistant.ErrUnknownModel)
	assert.Empty(t, env.committed(t))
}

func TestRunModel_Finish(t *testing.T) {
	env := newTestEnv(t)
	obs := &recordingObserver{}

	msg, err := env.service.RunModel(context.Background(), env.props("  hi  "), obs)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// optimistic message first
	require.Len(t, obs.updates, 4)
	first := obs.updates[0]
	assert.True(t, first.IsLoading)
	assert.False(t, first.Stop)
	assert.Empty(t, first.RawAI)
	assert.Equal(t, "hi", first.RawHuman)

	// rawAI is the whole text so far on every token
	assert.Equal(t, "Hello", obs.updates[1].RawAI)
	assert.Equal(t, "Hello there", obs.updates[2].RawAI)
	assert.True(t, obs.updates[2].IsLoading)

	assert.False(t, msg.IsLoading)
	assert.True(t, msg.Stop)
	assert.Equal(t, db.StopReasonFinish, msg.StopReason)
	assert.Equal(t, "Hello there", msg.RawAI)
	assert.Equal(t, obs.updates[3], *msg)
	assert.Empty(t, obs.notes)

	stored := env.committed(t)
	require.Len(t, stored, 1)
	assert.Equal(t, *msg, stored[0])

	sess, err := env.sessions.GetSession(context.Background(), testUser, env.sessionID)
	require.NoError(t, err)
	assert.Equal(t, "hi", sess.Title)

	assert.Equal(t, "sk-test", env.credential)
	assert.False(t, env.service.IsGenerating(testUser, env.sessionID))
}

func TestRunModel_SamplingFromPreferences(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	prefs, err := env.preferences.GetPreferences(ctx, testUser)
	require.NoError(t, err)
	prefs.Temperature = 0.2
	prefs.TopP = 0.5
	prefs.TopK = 10
	prefs.MaxTokens = 300
	_, err = env.preferences.SetPreferences(ctx, testUser, prefs)
	require.NoError(t, err)

	_, err = env.service.RunModel(ctx, env.props("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, llm.SamplingParams{Temperature: 0.2, TopP: 0.5, TopK: 10, MaxTokens: 300}, env.params)
}

func TestRunModel_MissingAPIKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.preferences.DeleteAPIKey(ctx, testUser, config.ProviderOpenAI))
	obs := &recordingObserver{}

	msg, err := env.service.RunModel(ctx, env.props("today's news"), obs)
	require.NoError(t, err)

	assert.Equal(t, db.StopReasonAPIKey, msg.StopReason)
	assert.True(t, msg.Stop)
	assert.False(t, msg.IsLoading)
	assert.Equal(t, []string{config.ProviderOpenAI}, obs.settings)
	assert.Empty(t, obs.notes)
	assert.Zero(t, env.factoryCalls)
	assert.Zero(t, env.model.CallCount())

	stored := env.committed(t)
	require.Len(t, stored, 1)
	assert.Equal(t, db.StopReasonAPIKey, stored[0].StopReason)
}

func TestRunModel_LocalModelNeedsNoKey(t *testing.T) {
	env := newTestEnv(t)
	props := env.props("hi")
	props.Assistant = "llama-test"

	msg, err := env.service.RunModel(context.Background(), props, nil)
	require.NoError(t, err)
	assert.Equal(t, db.StopReasonFinish, msg.StopReason)
	assert.Equal(t, 1, env.factoryCalls)
	assert.Empty(t, env.credential)
}

func TestRunModel_ProviderError(t *testing.T) {
	env := newTestEnv(t)
	env.model.GenerateFunc = func(ctx context.Context, _ []llm.Message, _ []llm.ToolSchema, onToken llm.StreamFunc) (*llm.Response, error) {
		_ = onToken(ctx, "par")
		return nil, errors.New("upstream 502")
	}
	obs := &recordingObserver{}

	msg, err := env.service.RunModel(context.Background(), env.props("hi"), obs)
	require.NoError(t, err)

	assert.Equal(t, db.StopReasonError, msg.StopReason)
	assert.Equal(t, "par", msg.RawAI)
	assert.True(t, msg.Stop)
	require.Len(t, obs.notes, 1)
	assert.Contains(t, obs.notes[0].Message, "upstream 502")
	assert.Equal(t, 1, env.model.CallCount())

	stored := env.committed(t)
	require.Len(t, stored, 1)
	assert.Equal(t, "par", stored[0].RawAI)
}

func TestRunModel_ClientConstructionError(t *testing.T) {
	env := newTestEnv(t)
	env.factoryErr = errors.New("bad endpoint")
	obs := &recordingObserver{}

	msg, err := env.service.RunModel(context.Background(), env.props("hi"), obs)
	require.NoError(t, err)
	assert.Equal(t, db.StopReasonError, msg.StopReason)
	assert.Len(t, obs.notes, 1)
	assert.Len(t, env.committed(t), 1)
}

func TestRunModel_StopGeneration(t *testing.T) {
	env := newTestEnv(t)
	env.model.GenerateFunc = func(ctx context.Context, _ []llm.Message, _ []llm.ToolSchema, onToken llm.StreamFunc) (*llm.Response, error) {
		_ = onToken(ctx, "partial")
		assert.True(t, env.service.StopGeneration(testUser, env.sessionID))
		<-ctx.Done()
		return nil, ctx.Err()
	}
	obs := &recordingObserver{}

	msg, err := env.service.RunModel(context.Background(), env.props("hi"), obs)
	require.NoError(t, err)

	assert.Equal(t, db.StopReasonCancel, msg.StopReason)
	assert.Equal(t, "partial", msg.RawAI)
	assert.Empty(t, obs.notes)

	// committed although the run context was cancelled
	stored := env.committed(t)
	require.Len(t, stored, 1)
	assert.Equal(t, db.StopReasonCancel, stored[0].StopReason)

	assert.False(t, env.service.StopGeneration(testUser, env.sessionID))
}

func TestRunModel_TimeoutIsAnError(t *testing.T) {
	env := newTestEnv(t)
	env.service.config.AppConfig.LLM.RequestTimeout = 10 * time.Millisecond
	env.model.GenerateFunc = func(ctx context.Context, _ []llm.Message, _ []llm.ToolSchema, _ llm.StreamFunc) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	obs := &recordingObserver{}

	msg, err := env.service.RunModel(context.Background(), env.props("hi"), obs)
	require.NoError(t, err)
	assert.Equal(t, db.StopReasonError, msg.StopReason)
	assert.Len(t, obs.notes, 1)
}

func TestRunModel_OneRunPerSession(t *testing.T) {
	env := newTestEnv(t)
	var nestedErr error
	env.model.GenerateFunc = func(ctx context.Context, messages []llm.Message, schemas []llm.ToolSchema, onToken llm.StreamFunc) (*llm.Response, error) {
		assert.True(t, env.service.IsGenerating(testUser, env.sessionID))
		_, nestedErr = env.service.RunModel(context.Background(), env.props("second"), nil)
		return testutil.StreamReply("first")(ctx, messages, schemas, onToken)
	}

	msg, err := env.service.RunModel(context.Background(), env.props("first"), nil)
	require.NoError(t, err)
	assert.Equal(t, db.StopReasonFinish, msg.StopReason)
	assert.ErrorIs(t, nestedErr, ErrGenerationInProgress)
	assert.Len(t, env.committed(t), 1)
}

func TestRunModel_Regenerate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.service.RunModel(ctx, env.props("hi"), nil)
	require.NoError(t, err)

	env.model.GenerateFunc = testutil.StreamReply("Hi again")
	props := env.props("hi")
	props.MessageID = first.ID
	second, err := env.service.RunModel(ctx, props, nil)
	require.NoError(t, err)

	stored := env.committed(t)
	require.Len(t, stored, 1)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Hi again", stored[0].RawAI)
	assert.True(t, first.CreatedAt.Equal(stored[0].CreatedAt))
}

func TestRunModel_HistoryAndMemories(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.RunModel(ctx, env.props("first question"), nil)
	require.NoError(t, err)
	_, err = env.memories.AddMemory(ctx, testUser, "Prefers metric units")
	require.NoError(t, err)

	_, err = env.service.RunModel(ctx, env.props("second question"), nil)
	require.NoError(t, err)

	require.Equal(t, 2, env.model.CallCount())
	sent := env.model.Calls[1]
	require.Len(t, sent, 4)
	assert.Equal(t, llm.RoleSystem, sent[0].Role)
	assert.Contains(t, sent[0].Content, "Prefers metric units")
	assert.Equal(t, "first question", sent[1].Content)
	assert.Equal(t, "Hello there", sent[2].Content)
	assert.Equal(t, "second question", sent[3].Content)
}

func TestRunModel_WithTools(t *testing.T) {
	env := newTestEnv(t)
	env.enablePlugins(t, tools.KeyMemory)

	var advertised []llm.ToolSchema
	respond := scripted(
		&llm.Response{ToolCalls: []llm.ToolCall{{ID: "c1", Name: tools.KeyMemory, Arguments: `{"fact":"Drinks green tea"}`}}},
		&llm.Response{Content: "Noted!"},
	)
	env.model.GenerateFunc = func(ctx context.Context, messages []llm.Message, schemas []llm.ToolSchema, onToken llm.StreamFunc) (*llm.Response, error) {
		advertised = schemas
		return respond(ctx, messages, schemas, onToken)
	}
	obs := &recordingObserver{}

	msg, err := env.service.RunModel(context.Background(), env.props("I only drink green tea"), obs)
	require.NoError(t, err)

	require.Len(t, advertised, 1)
	assert.Equal(t, tools.KeyMemory, advertised[0].Name)

	assert.Equal(t, db.StopReasonFinish, msg.StopReason)
	assert.Equal(t, "Noted!", msg.RawAI)
	require.Len(t, msg.Tools, 1)
	assert.Equal(t, tools.KeyMemory, msg.Tools[0].ToolName)
	assert.False(t, msg.Tools[0].ToolLoading)
	assert.Equal(t, "Remembered: Drinks green tea", msg.Tools[0].Result)

	sawLoading := false
	for _, u := range obs.updates {
		if len(u.Tools) == 1 && u.Tools[0].ToolLoading {
			sawLoading = true
		}
	}
	assert.True(t, sawLoading, "expected a toolLoading=true update")

	stored, err := env.memories.ListMemories(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Drinks green tea", stored[0].Content)
}

func TestRunModel_UnsupportedPluginUsesDirectChain(t *testing.T) {
	env := newTestEnv(t)
	env.enablePlugins(t, tools.KeyImageGeneration)

	var advertised []llm.ToolSchema
	env.model.GenerateFunc = func(ctx context.Context, messages []llm.Message, schemas []llm.ToolSchema, onToken llm.StreamFunc) (*llm.Response, error) {
		advertised = schemas
		return testutil.StreamReply("ok")(ctx, messages, schemas, onToken)
	}

	// claude-test supports web_search and memory only
	require.NoError(t, env.preferences.SetAPIKey(context.Background(), testUser, config.ProviderAnthropic, "sk-ant"))
	props := env.props("draw a cat")
	props.Assistant = "claude-test"

	msg, err := env.service.RunModel(context.Background(), props, nil)
	require.NoError(t, err)
	assert.Equal(t, db.StopReasonFinish, msg.StopReason)
	assert.Empty(t, advertised)
}

func TestRunState_Sink(t *testing.T) {
	obs := &recordingObserver{}
	state := newRunState(db.ChatMessage{ID: "m1", IsLoading: true}, obs)
	ctx := context.Background()

	state.HandleToolStart(ctx, "web_search", `{"query":"a"}`)
	state.HandleToolStart(ctx, "web_search", `{"query":"b"}`)
	state.sink(db.ToolInvocationResult{ToolName: "web_search", ToolLoading: true, Result: "A"})

	got := state.snapshot()
	require.Len(t, got.Tools, 2)
	assert.False(t, got.Tools[0].ToolLoading)
	assert.Equal(t, "A", got.Tools[0].Result)
	assert.True(t, got.Tools[1].ToolLoading)

	// a result without a recorded start is appended
	state.sink(db.ToolInvocationResult{ToolName: "memory", Result: "Remembered"})
	assert.Len(t, state.snapshot().Tools, 3)
	assert.Len(t, obs.updates, 4)
}

func TestFinalize(t *testing.T) {
	inFlight := db.ChatMessage{
		ID:        "m1",
		RawAI:     "partial",
		IsLoading: true,
		Tools:     []db.ToolInvocationResult{{ToolName: "web_search", ToolLoading: true}},
	}

	tests := []struct {
		name    string
		reason  db.StopReason
		outputs map[string]any
		rawAI   string
	}{
		{"direct chain content", db.StopReasonFinish, map[string]any{agent.ContentKey: "from chain"}, "from chain"},
		{"executor output", db.StopReasonFinish, map[string]any{agent.OutputKey: "from agent"}, "from agent"},
		{"content preferred", db.StopReasonFinish, map[string]any{agent.ContentKey: "c", agent.OutputKey: "o"}, "c"},
		{"no outputs keeps partial", db.StopReasonFinish, nil, "partial"},
		{"error keeps partial", db.StopReasonError, nil, "partial"},
		{"cancel keeps partial", db.StopReasonCancel, map[string]any{agent.OutputKey: "ignored"}, "partial"},
		{"apikey", db.StopReasonAPIKey, nil, "partial"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Finalize(inFlight, tt.reason, tt.outputs)
			assert.Equal(t, tt.rawAI, got.RawAI)
			assert.False(t, got.IsLoading)
			assert.True(t, got.Stop)
			assert.Equal(t, tt.reason, got.StopReason)
			require.Len(t, got.Tools, 1)
			assert.False(t, got.Tools[0].ToolLoading)
		})
	}

	// input is not modified
	assert.True(t, inFlight.IsLoading)
	assert.True(t, inFlight.Tools[0].ToolLoading)
}
