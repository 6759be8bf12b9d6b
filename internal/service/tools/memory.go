package tools

import (
	"chat-runner/internal/repository/db"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const memoryDescription = "Remember a fact about the user for future conversations. Input is JSON with key `fact` (string). Use only when the user shares a lasting preference or detail."

var memorySchema = objectSchema(map[string]string{
	"fact": "The fact to remember, phrased as a short sentence",
})

type memoryTool struct {
	deps Deps
}

func newMemoryTool(deps Deps) (Tool, error) {
	if deps.Memories == nil {
		return nil, errors.New("memory store is not configured")
	}
	return &memoryTool{deps: deps}, nil
}

func (t *memoryTool) Name() string           { return KeyMemory }
func (t *memoryTool) Description() string    { return memoryDescription }
func (t *memoryTool) Schema() map[string]any { return memorySchema }

func (t *memoryTool) Call(ctx context.Context, input string) (string, error) {
	var payload struct {
		Fact string `json:"fact"`
	}
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return "", fmt.Errorf("failed to parse input JSON: %w", err)
	}

	memory, err := t.deps.Memories.AddMemory(ctx, t.deps.UserID, payload.Fact)
	if err != nil {
		return "", fmt.Errorf("failed to store memory: %w", err)
	}

	result := fmt.Sprintf("Remembered: %s", memory.Content)
	t.deps.emit(db.ToolInvocationResult{
		ToolName:    KeyMemory,
		ToolLoading: false,
		Input:       payload.Fact,
		Result:      result,
	})
	return result, nil
}
