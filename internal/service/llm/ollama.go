package llm

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaChat talks to a local Ollama server through langchaingo
type OllamaChat struct {
	llm    llms.Model
	model  string
	params SamplingParams
}

// NewOllamaChat creates a client for one local model
func NewOllamaChat(model, serverURL string, params SamplingParams) (*OllamaChat, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}

	client, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama model: %w", err)
	}

	return &OllamaChat{
		llm:    client,
		model:  model,
		params: params,
	}, nil
}

// ModelName returns the model identifier
func (c *OllamaChat) ModelName() string {
	return c.model
}

// Generate streams one completion from the local server
func (c *OllamaChat) Generate(ctx context.Context, messages []Message, tools []ToolSchema, onToken StreamFunc) (*Response, error) {
	options := []llms.CallOption{
		llms.WithTemperature(c.params.Temperature),
	}
	if c.params.TopP > 0 {
		options = append(options, llms.WithTopP(c.params.TopP))
	}
	if c.params.TopK > 0 {
		options = append(options, llms.WithTopK(c.params.TopK))
	}
	if c.params.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(c.params.MaxTokens))
	}
	if len(tools) > 0 {
		options = append(options, llms.WithTools(toLangchainTools(tools)))
	}

	var streamed string
	if onToken != nil {
		options = append(options, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			streamed += string(chunk)
			return onToken(ctx, string(chunk))
		}))
	}

	resp, err := c.llm.GenerateContent(ctx, toLangchainMessages(messages), options...)
	if err != nil {
		return &Response{Content: streamed}, fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &Response{Content: streamed}, fmt.Errorf("no response choices")
	}

	choice := resp.Choices[0]
	out := &Response{Content: choice.Content}
	for i, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}
	return out, nil
}

func toLangchainMessages(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case RoleUser:
			if len(m.Parts) == 0 {
				out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
				continue
			}
			msg := llms.MessageContent{Role: llms.ChatMessageTypeHuman}
			for _, p := range m.Parts {
				switch p.Type {
				case PartText:
					msg.Parts = append(msg.Parts, llms.TextContent{Text: p.Text})
				case PartImage:
					if mediaType, data, ok := ParseDataURL(p.ImageURL); ok {
						if raw, err := base64.StdEncoding.DecodeString(data); err == nil {
							msg.Parts = append(msg.Parts, llms.BinaryPart(mediaType, raw))
							continue
						}
					}
					msg.Parts = append(msg.Parts, llms.ImageURLContent{URL: p.ImageURL})
				}
			}
			out = append(out, msg)
		case RoleAssistant:
			msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				msg.Parts = append(msg.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				msg.Parts = append(msg.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, msg)
		case RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Content,
				}},
			})
		}
	}
	return out
}

func toLangchainTools(tools []ToolSchema) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
