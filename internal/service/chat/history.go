package chat

import (
	"chat-runner/internal/repository/db"
	"chat-runner/internal/service/llm"
	"slices"
)

// BuildHistory turns the session's earlier messages into prompt history.
// Messages other than currentID are sorted by creation time and the first
// limit of them are kept, so a long session keeps its oldest turns. Turns
// missing either side are dropped.
func BuildHistory(messages []db.ChatMessage, currentID string, limit int) []llm.Message {
	if limit <= 0 {
		return nil
	}

	prior := make([]db.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.ID != currentID {
			prior = append(prior, m)
		}
	}
	slices.SortStableFunc(prior, func(a, b db.ChatMessage) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(prior) > limit {
		prior = prior[:limit]
	}

	var history []llm.Message
	for _, m := range prior {
		if m.RawHuman == "" || m.RawAI == "" {
			continue
		}
		history = append(history,
			llm.Message{Role: llm.RoleUser, Content: m.RawHuman},
			llm.Message{Role: llm.RoleAssistant, Content: m.RawAI},
		)
	}
	return history
}
