package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// defaultAnthropicMaxTokens is sent when the user left maxTokens at zero;
// the Messages API requires the field.
const defaultAnthropicMaxTokens = 4096

// AnthropicChat streams messages from the Anthropic Messages API
type AnthropicChat struct {
	client *anthropic.Client
	model  string
	params SamplingParams
}

// NewAnthropicChat creates a client for one model
func NewAnthropicChat(model, apiKey string, params SamplingParams) *AnthropicChat {
	return &AnthropicChat{
		client: anthropic.NewClient(apiKey),
		model:  model,
		params: params,
	}
}

// ModelName returns the model identifier
func (c *AnthropicChat) ModelName() string {
	return c.model
}

// Generate streams one message. Text deltas go to onToken as they arrive;
// tool_use blocks are read from the assembled response.
func (c *AnthropicChat) Generate(ctx context.Context, messages []Message, tools []ToolSchema, onToken StreamFunc) (*Response, error) {
	system, converted := toAnthropicMessages(messages)

	maxTokens := defaultAnthropicMaxTokens
	if c.params.MaxTokens > 0 {
		maxTokens = c.params.MaxTokens
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		Messages:  converted,
		MaxTokens: maxTokens,
	}
	temperature := float32(c.params.Temperature)
	req.Temperature = &temperature
	if c.params.TopP > 0 && c.params.TopP < 1 {
		topP := float32(c.params.TopP)
		req.TopP = &topP
	}
	if c.params.TopK > 0 {
		topK := c.params.TopK
		req.TopK = &topK
	}
	if len(system) > 0 {
		req.MultiSystem = system
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropic.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu        sync.Mutex
		content   strings.Builder
		streamErr error
	)

	streamReq := anthropic.MessagesStreamRequest{
		MessagesRequest: req,
		OnContentBlockDelta: func(delta anthropic.MessagesEventContentBlockDeltaData) {
			if delta.Delta.Type != "text_delta" || delta.Delta.Text == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if streamErr != nil {
				return
			}
			token := *delta.Delta.Text
			content.WriteString(token)
			if onToken != nil {
				if err := onToken(ctx, token); err != nil {
					streamErr = err
					cancel()
				}
			}
		},
		OnError: func(resp anthropic.ErrorResponse) {
			mu.Lock()
			defer mu.Unlock()
			if streamErr == nil && resp.Error != nil {
				streamErr = fmt.Errorf("anthropic stream error: %s", resp.Error.Message)
			}
		},
	}

	resp, err := c.client.CreateMessagesStream(streamCtx, streamReq)

	mu.Lock()
	defer mu.Unlock()
	partial := &Response{Content: content.String()}
	if streamErr != nil {
		return partial, streamErr
	}
	if err != nil {
		return partial, fmt.Errorf("failed to stream message: %w", err)
	}

	var calls []ToolCall
	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.MessageContentToolUse == nil {
			continue
		}
		args := string(block.Input)
		if args == "" {
			args = "{}"
		}
		calls = append(calls, ToolCall{
			ID:        block.ID,
			Name:      block.Name,
			Arguments: args,
		})
	}

	return &Response{Content: content.String(), ToolCalls: calls}, nil
}

// toAnthropicMessages splits out system text and folds tool results into
// user turns, merging consecutive results so they follow their tool_use turn.
func toAnthropicMessages(messages []Message) ([]anthropic.MessageSystemPart, []anthropic.Message) {
	var (
		system []anthropic.MessageSystemPart
		out    []anthropic.Message
	)

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.MessageSystemPart{Type: "text", Text: m.Content})
		case RoleUser:
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: anthropicUserContent(m),
			})
		case RoleAssistant:
			var content []anthropic.MessageContent
			if strings.TrimSpace(m.Content) != "" {
				content = append(content, anthropic.NewTextMessageContent(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				content = append(content, anthropic.NewToolUseMessageContent(tc.ID, tc.Name, json.RawMessage(args)))
			}
			if len(content) == 0 {
				continue
			}
			out = append(out, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
		case RoleTool:
			result := anthropic.NewToolResultMessageContent(m.ToolCallID, m.Content, false)
			if n := len(out); n > 0 && out[n-1].Role == anthropic.RoleUser && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, result)
				continue
			}
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{result},
			})
		}
	}

	return system, out
}

func isToolResultTurn(m anthropic.Message) bool {
	for _, c := range m.Content {
		if c.Type != "tool_result" {
			return false
		}
	}
	return len(m.Content) > 0
}

func anthropicUserContent(m Message) []anthropic.MessageContent {
	if len(m.Parts) == 0 {
		return []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)}
	}

	var content []anthropic.MessageContent
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			content = append(content, anthropic.NewTextMessageContent(p.Text))
		case PartImage:
			mediaType, data, ok := ParseDataURL(p.ImageURL)
			if !ok {
				// only inline images can be sent; keep the reference as text
				content = append(content, anthropic.NewTextMessageContent("Image: "+p.ImageURL))
				continue
			}
			content = append(content, anthropic.NewImageMessageContent(
				anthropic.NewMessageContentSource(anthropic.MessagesContentSourceTypeBase64, mediaType, data),
			))
		}
	}
	return content
}

// ParseDataURL splits a base64 data URL into media type and payload
func ParseDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, found = strings.CutSuffix(meta, ";base64")
	if !found || mediaType == "" {
		return "", "", false
	}
	return mediaType, payload, true
}
