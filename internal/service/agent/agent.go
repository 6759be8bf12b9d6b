package agent

import (
	"chat-runner/internal/logger"
	"chat-runner/internal/service/llm"
	"chat-runner/internal/service/prompt"
	"chat-runner/internal/service/tools"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Output keys of the two runnables
const (
	OutputKey  = "output"
	ContentKey = "content"
)

const defaultMaxIterations = 6

var ErrMaxIterations = errors.New("agent stopped after reaching the iteration limit")

// Handler receives streaming events from a run
type Handler interface {
	HandleToken(ctx context.Context, token string) error
	HandleToolStart(ctx context.Context, toolName, input string)
}

// Runnable is what the generation pipeline invokes: either an executor
// wrapping a tool-calling agent or a direct prompt to model chain.
type Runnable interface {
	Call(ctx context.Context, history []llm.Message, handler Handler) (map[string]any, error)
}

type nopHandler struct{}

func (nopHandler) HandleToken(context.Context, string) error       { return nil }
func (nopHandler) HandleToolStart(context.Context, string, string) {}

// Agent decides the next step: answer, or call tools
type Agent struct {
	model   llm.ChatModel
	tools   map[string]tools.Tool
	schemas []llm.ToolSchema
	prompt  *prompt.Template
}

// NewToolCallingAgent binds a model to a tool list and prompt template
func NewToolCallingAgent(model llm.ChatModel, toolList []tools.Tool, tmpl *prompt.Template) (*Agent, error) {
	if model == nil {
		return nil, errors.New("agent needs a model")
	}
	if tmpl == nil {
		return nil, errors.New("agent needs a prompt template")
	}
	if len(toolList) == 0 {
		return nil, errors.New("agent needs at least one tool")
	}

	a := &Agent{
		model:  model,
		tools:  make(map[string]tools.Tool, len(toolList)),
		prompt: tmpl,
	}
	for _, t := range toolList {
		if _, dup := a.tools[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		a.tools[t.Name()] = t
		a.schemas = append(a.schemas, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return a, nil
}

// Plan runs one model turn with the tools advertised
func (a *Agent) Plan(ctx context.Context, history, scratchpad []llm.Message, handler Handler) (*llm.Response, error) {
	return a.model.Generate(ctx, a.prompt.Format(history, scratchpad), a.schemas, handler.HandleToken)
}

// Executor loops the agent until it answers without tool calls
type Executor struct {
	agent         *Agent
	maxIterations int
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithMaxIterations caps the number of model turns
func WithMaxIterations(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// NewExecutor wraps an agent
func NewExecutor(agent *Agent, opts ...ExecutorOption) *Executor {
	e := &Executor{agent: agent, maxIterations: defaultMaxIterations}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Call runs the tool loop and returns {"output": answer}. Tool failures and
// unknown tool names are reported back to the model as tool results.
func (e *Executor) Call(ctx context.Context, history []llm.Message, handler Handler) (map[string]any, error) {
	if handler == nil {
		handler = nopHandler{}
	}

	var scratchpad []llm.Message
	for round := 0; round < e.maxIterations; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := e.agent.Plan(ctx, history, scratchpad, handler)
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			logger.Log.WithFields(logrus.Fields{
				"model":  e.agent.model.ModelName(),
				"rounds": round + 1,
			}).Debug("Agent finished")
			return map[string]any{OutputKey: resp.Content}, nil
		}

		calls := dedupe(resp.ToolCalls)
		scratchpad = append(scratchpad, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: calls,
		})

		for _, call := range calls {
			handler.HandleToolStart(ctx, call.Name, call.Arguments)
			result := e.runTool(ctx, call)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			scratchpad = append(scratchpad, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    result,
			})
		}
	}

	return nil, fmt.Errorf("%w (%d)", ErrMaxIterations, e.maxIterations)
}

func (e *Executor) runTool(ctx context.Context, call llm.ToolCall) string {
	fields := logrus.Fields{"tool": call.Name, "call_id": call.ID}

	tool, ok := e.agent.tools[call.Name]
	if !ok {
		logger.Log.WithFields(fields).Warn("Model called an unknown tool")
		return "Unknown tool: " + call.Name
	}

	logger.Log.WithFields(fields).Info("Calling tool")
	result, err := tool.Call(ctx, call.Arguments)
	if err != nil {
		logger.Log.WithFields(fields).WithError(err).Warn("Tool failed")
		return "Error: " + err.Error()
	}
	return result
}

// dedupe drops repeated call ids; some models emit the same call twice
func dedupe(calls []llm.ToolCall) []llm.ToolCall {
	seen := make(map[string]bool, len(calls))
	out := make([]llm.ToolCall, 0, len(calls))
	for _, c := range calls {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// DirectChain sends the prompt straight to the model, no tools
type DirectChain struct {
	model  llm.ChatModel
	prompt *prompt.Template
}

// NewDirectChain binds a model to a prompt template
func NewDirectChain(model llm.ChatModel, tmpl *prompt.Template) *DirectChain {
	return &DirectChain{model: model, prompt: tmpl}
}

// Call returns {"content": answer}
func (c *DirectChain) Call(ctx context.Context, history []llm.Message, handler Handler) (map[string]any, error) {
	if handler == nil {
		handler = nopHandler{}
	}

	resp, err := c.model.Generate(ctx, c.prompt.Format(history, nil), nil, handler.HandleToken)
	if err != nil {
		return nil, err
	}
	return map[string]any{ContentKey: resp.Content}, nil
}
