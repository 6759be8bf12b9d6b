package llm

import (
	"chat-runner/internal/logger"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIChat streams chat completions from OpenAI or any endpoint speaking
// its wire format (Gemini's compatibility layer included).
type OpenAIChat struct {
	client *openai.Client
	model  string
	params SamplingParams
}

// NewOpenAIChat creates a client for one model. An empty baseURL uses OpenAI.
func NewOpenAIChat(model, apiKey, baseURL string, params SamplingParams) *OpenAIChat {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIChat{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		params: params,
	}
}

// ModelName returns the model identifier
func (c *OpenAIChat) ModelName() string {
	return c.model
}

// Generate streams one completion. The wire format has no top_k.
func (c *OpenAIChat) Generate(ctx context.Context, messages []Message, tools []ToolSchema, onToken StreamFunc) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}

	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
		req.ToolChoice = "auto"
	}
	if c.params.MaxTokens > 0 {
		req.MaxTokens = c.params.MaxTokens
	}
	temperature := float32(c.params.Temperature)
	req.Temperature = &temperature
	if c.params.TopP > 0 && c.params.TopP < 1 {
		req.TopP = float32(c.params.TopP)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start completion stream: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	calls := make(map[int]*ToolCall)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &Response{Content: content.String()}, fmt.Errorf("stream error: %w", err)
		}

		if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
			logger.Log.WithFields(logrus.Fields{
				"model":             c.model,
				"prompt_tokens":     chunk.Usage.PromptTokens,
				"completion_tokens": chunk.Usage.CompletionTokens,
			}).Debug("Completion usage")
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onToken != nil {
				if err := onToken(ctx, delta.Content); err != nil {
					return &Response{Content: content.String()}, err
				}
			}
		}

		for i, tc := range delta.ToolCalls {
			index := i
			if tc.Index != nil {
				index = *tc.Index
			}
			call, ok := calls[index]
			if !ok {
				call = &ToolCall{}
				calls[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}
	}

	return &Response{
		Content:   content.String(),
		ToolCalls: orderedCalls(calls),
	}, nil
}

func orderedCalls(calls map[int]*ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]ToolCall, 0, len(calls))
	for _, i := range indexes {
		call := *calls[i]
		if call.Name == "" {
			continue
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", i)
		}
		if call.Arguments == "" {
			call.Arguments = "{}"
		}
		out = append(out, call)
	}
	return out
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			})
		case RoleUser:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
			if len(m.Parts) > 0 {
				for _, p := range m.Parts {
					switch p.Type {
					case PartText:
						msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeText,
							Text: p.Text,
						})
					case PartImage:
						msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
							Type:     openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL},
						})
					}
				}
			} else {
				msg.Content = m.Content
			}
			out = append(out, msg)
		case RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			// an assistant turn that only calls tools still needs non-null content
			if msg.Content == "" && len(msg.ToolCalls) > 0 {
				msg.Content = " "
			}
			out = append(out, msg)
		case RoleTool:
			content := m.Content
			if content == "" {
				content = "{}"
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func toOpenAITools(tools []ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
