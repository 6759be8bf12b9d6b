package prompt

import (
	"chat-runner/internal/repository/db"
	"chat-runner/internal/service/llm"
	"strings"
)

// SegmentKind identifies a template slot
type SegmentKind string

const (
	SegmentSystem     SegmentKind = "system"
	SegmentHistory    SegmentKind = "chat_history"
	SegmentHuman      SegmentKind = "human"
	SegmentScratchpad SegmentKind = "agent_scratchpad"
)

const historyNote = "You have access to the previous messages of this conversation. Use them for context when they are relevant."

// Segment is one slot of the template. Placeholder segments carry no message
// and are expanded by Format.
type Segment struct {
	Kind    SegmentKind
	Message llm.Message
}

// Template is the ordered conversation layout for one request
type Template struct {
	Segments []Segment
}

// Input is everything the current turn contributes to the prompt
type Input struct {
	SystemPrompt string
	Memories     []string
	HasHistory   bool
	Text         string
	Context      string
	Image        string
}

// Build lays out system, chat_history, human and agent_scratchpad segments.
// The scratchpad slot is always present; it stays empty outside the agent loop.
func Build(in Input) *Template {
	return &Template{
		Segments: []Segment{
			{Kind: SegmentSystem, Message: llm.Message{Role: llm.RoleSystem, Content: systemText(in)}},
			{Kind: SegmentHistory},
			{Kind: SegmentHuman, Message: humanMessage(in)},
			{Kind: SegmentScratchpad},
		},
	}
}

// Format expands the placeholders into a flat message list
func (t *Template) Format(history, scratchpad []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(t.Segments)+len(history)+len(scratchpad))
	for _, s := range t.Segments {
		switch s.Kind {
		case SegmentHistory:
			out = append(out, history...)
		case SegmentScratchpad:
			out = append(out, scratchpad...)
		default:
			out = append(out, s.Message)
		}
	}
	return out
}

// SystemPromptFor picks the assistant's prompt, then the user's preference,
// then the deployment default.
func SystemPromptFor(assistant db.AssistantDescriptor, prefs db.Preferences, fallback string) string {
	if p := strings.TrimSpace(assistant.SystemPrompt); p != "" {
		return p
	}
	if p := strings.TrimSpace(prefs.SystemPrompt); p != "" {
		return p
	}
	return fallback
}

func systemText(in Input) string {
	var sb strings.Builder
	sb.WriteString(in.SystemPrompt)

	if len(in.Memories) > 0 {
		sb.WriteString("\n\nThings the user asked you to remember:")
		for _, m := range in.Memories {
			sb.WriteString("\n- ")
			sb.WriteString(m)
		}
	}

	if in.HasHistory {
		sb.WriteString("\n\n")
		sb.WriteString(historyNote)
	}

	return strings.TrimSpace(sb.String())
}

func humanMessage(in Input) llm.Message {
	text := in.Text
	if c := strings.TrimSpace(in.Context); c != "" {
		text += "\n\nContext:\n" + c
	}

	if in.Image == "" {
		return llm.Message{Role: llm.RoleUser, Content: text}
	}
	return llm.Message{
		Role: llm.RoleUser,
		Parts: []llm.ContentPart{
			{Type: llm.PartText, Text: text},
			{Type: llm.PartImage, ImageURL: in.Image},
		},
	}
}
