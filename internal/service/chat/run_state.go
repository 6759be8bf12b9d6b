package chat

import (
	"chat-runner/internal/repository/db"
	"chat-runner/internal/service/agent"
	"context"
	"slices"
	"sync"
)

// Notification is a user-facing message about a failed run
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Observer receives the state changes of a run as they happen. Calls for one
// run are serialized.
type Observer interface {
	// OnUpdate gets the whole in-flight message after every change
	OnUpdate(msg db.ChatMessage)
	// OnNotify is raised once for a failed run, never for a cancelled one
	OnNotify(n Notification)
	// OnOpenSettings asks the client to collect a credential for provider
	OnOpenSettings(provider string)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) OnUpdate(db.ChatMessage) {}
func (NopObserver) OnNotify(Notification)   {}
func (NopObserver) OnOpenSettings(string)   {}

// runState is the in-flight message of one run. It is the agent handler for
// tokens and tool starts, and its sink receives tool results.
type runState struct {
	mu  sync.Mutex
	msg db.ChatMessage
	acc []byte
	obs Observer
}

var _ agent.Handler = (*runState)(nil)

func newRunState(msg db.ChatMessage, obs Observer) *runState {
	msg.Tools = slices.Clone(msg.Tools)
	return &runState{msg: msg, obs: obs}
}

// HandleToken appends to the run's accumulator and replaces rawAI with all
// of it
func (r *runState) HandleToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.acc = append(r.acc, token...)
	r.msg.RawAI = string(r.acc)
	r.msg.IsLoading = true
	r.emit()
	return nil
}

// HandleToolStart records a pending invocation
func (r *runState) HandleToolStart(_ context.Context, toolName, input string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msg.Tools = append(r.msg.Tools, db.ToolInvocationResult{
		ToolName:    toolName,
		ToolLoading: true,
		Input:       input,
	})
	r.emit()
}

// sink replaces the first pending entry with the same tool name, or appends
// when the tool reported without a recorded start
func (r *runState) sink(result db.ToolInvocationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result.ToolLoading = false
	idx := slices.IndexFunc(r.msg.Tools, func(t db.ToolInvocationResult) bool {
		return t.ToolName == result.ToolName && t.ToolLoading
	})
	if idx < 0 {
		r.msg.Tools = append(r.msg.Tools, result)
	} else {
		r.msg.Tools[idx] = result
	}
	r.emit()
}

func (r *runState) snapshot() db.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneMessage(r.msg)
}

// emit must be called with mu held
func (r *runState) emit() {
	r.obs.OnUpdate(cloneMessage(r.msg))
}

// Finalize is the terminal transition of a message. On finish the returned
// content replaces rawAI, preferring the direct chain's "content" over the
// executor's "output"; otherwise the partial rawAI is kept. Every tool entry
// ends up not loading.
func Finalize(msg db.ChatMessage, reason db.StopReason, outputs map[string]any) db.ChatMessage {
	final := cloneMessage(msg)

	if reason == db.StopReasonFinish {
		if content, ok := outputs[agent.ContentKey].(string); ok {
			final.RawAI = content
		} else if output, ok := outputs[agent.OutputKey].(string); ok {
			final.RawAI = output
		}
	}

	final.IsLoading = false
	final.Stop = true
	final.StopReason = reason
	for i := range final.Tools {
		final.Tools[i].ToolLoading = false
	}
	return final
}

func errorNotification(err error) Notification {
	return Notification{
		Title:   "Generation failed",
		Message: err.Error(),
	}
}

func cloneMessage(msg db.ChatMessage) db.ChatMessage {
	msg.Tools = slices.Clone(msg.Tools)
	if msg.InputProps != nil {
		props := *msg.InputProps
		msg.InputProps = &props
	}
	return msg
}
