package tools

import (
	"chat-runner/internal/config"
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/sirupsen/logrus"
)

const imageGenerationDescription = "Generate an image from a text description. Input is JSON with key `prompt` (string). Returns a markdown image link."

var imageGenerationSchema = objectSchema(map[string]string{
	"prompt": "A detailed description of the image to create",
})

type imageGenerationTool struct {
	deps   Deps
	client *openai.Client
}

// newImageGenerationTool uses the user's OpenAI key. Without one the tool
// still exists but answers that it is unavailable.
func newImageGenerationTool(deps Deps) (Tool, error) {
	t := &imageGenerationTool{deps: deps}

	if key := deps.APIKeys[config.ProviderOpenAI]; key != "" {
		cfg := openai.DefaultConfig(key)
		if deps.OpenAIBaseURL != "" {
			cfg.BaseURL = deps.OpenAIBaseURL
		}
		t.client = openai.NewClientWithConfig(cfg)
	}

	return t, nil
}

func (t *imageGenerationTool) Name() string           { return KeyImageGeneration }
func (t *imageGenerationTool) Description() string    { return imageGenerationDescription }
func (t *imageGenerationTool) Schema() map[string]any { return imageGenerationSchema }

func (t *imageGenerationTool) Call(ctx context.Context, input string) (string, error) {
	var payload struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return "", fmt.Errorf("failed to parse input JSON: %w", err)
	}

	if t.client == nil {
		return "Image generation is unavailable: no OpenAI API key is configured.", nil
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id": t.deps.UserID,
		"tool":    KeyImageGeneration,
		"model":   t.deps.Config.ImageModel,
	}).Info("Generating image")

	resp, err := t.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         payload.Prompt,
		Model:          t.deps.Config.ImageModel,
		N:              1,
		Size:           t.deps.Config.ImageSize,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("image generation returned no image")
	}

	rendered := fmt.Sprintf("![%s](%s)", payload.Prompt, resp.Data[0].URL)
	t.deps.emit(db.ToolInvocationResult{
		ToolName:    KeyImageGeneration,
		ToolLoading: false,
		Input:       payload.Prompt,
		Result:      rendered,
	})
	return rendered, nil
}
