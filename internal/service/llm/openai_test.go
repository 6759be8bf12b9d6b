package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// sseServer replays the given completion chunks and records the request body
func sseServer(t *testing.T, chunks []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, captured)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func textChunk(s string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":%q}}]}`, s)
}

func TestOpenAIChat_StreamsText(t *testing.T) {
	var body map[string]any
	server := sseServer(t, []string{textChunk("Hel"), textChunk("lo"), textChunk("!")}, &body)
	defer server.Close()

	chat := NewOpenAIChat("gpt-4o-mini", "sk-test", server.URL+"/v1", SamplingParams{Temperature: 0.3, MaxTokens: 100})

	var tokens []string
	resp, err := chat.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, nil, func(ctx context.Context, token string) error {
		tokens = append(tokens, token)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if resp.Content != "Hello!" {
		t.Errorf("Content = %q, want %q", resp.Content, "Hello!")
	}
	if len(tokens) != 3 || tokens[0] != "Hel" {
		t.Errorf("tokens = %v", tokens)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("ToolCalls = %v, want none", resp.ToolCalls)
	}

	if body["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v", body["model"])
	}
	if body["max_tokens"] != float64(100) {
		t.Errorf("max_tokens = %v, want 100", body["max_tokens"])
	}
	if _, ok := body["tools"]; ok {
		t.Error("tools should be omitted when none are attached")
	}
}

func TestOpenAIChat_SamplingParams(t *testing.T) {
	tests := []struct {
		name     string
		params   SamplingParams
		wantTopP any
	}{
		{"top_p within range is sent", SamplingParams{Temperature: 0.5, TopP: 0.5, TopK: 20, MaxTokens: 100}, float64(0.5)},
		{"top_p of one is left out", SamplingParams{Temperature: 0.5, TopP: 1, MaxTokens: 100}, nil},
		{"zero top_p is left out", SamplingParams{Temperature: 0.5, MaxTokens: 100}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			server := sseServer(t, []string{textChunk("ok")}, &body)
			defer server.Close()

			chat := NewOpenAIChat("gpt-4o-mini", "sk-test", server.URL+"/v1", tt.params)
			if _, err := chat.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, nil); err != nil {
				t.Fatalf("Generate() error = %v", err)
			}

			if body["top_p"] != tt.wantTopP {
				t.Errorf("top_p = %v, want %v", body["top_p"], tt.wantTopP)
			}
			if body["temperature"] != float64(0.5) {
				t.Errorf("temperature = %v, want 0.5", body["temperature"])
			}
			if _, ok := body["top_k"]; ok {
				t.Error("top_k should never be sent")
			}
		})
	}
}

func TestOpenAIChat_AccumulatesToolCalls(t *testing.T) {
	chunks := []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"web_search","arguments":"{\"query\""}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"go 1.23\"}"}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"memory","arguments":"{}"}}]}}]}`,
	}
	var body map[string]any
	server := sseServer(t, chunks, &body)
	defer server.Close()

	chat := NewOpenAIChat("m", "sk-test", server.URL+"/v1", SamplingParams{})
	resp, err := chat.Generate(context.Background(), []Message{{Role: RoleUser, Content: "news"}}, []ToolSchema{
		{Name: "web_search", Description: "search", Parameters: map[string]any{"type": "object"}},
	}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if len(resp.ToolCalls) != 2 {
		t.Fatalf("len(ToolCalls) = %d, want 2", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].ID != "call_a" || resp.ToolCalls[0].Name != "web_search" || resp.ToolCalls[0].Arguments != `{"query":"go 1.23"}` {
		t.Errorf("ToolCalls[0] = %+v", resp.ToolCalls[0])
	}
	if resp.ToolCalls[1].Name != "memory" {
		t.Errorf("ToolCalls[1] = %+v", resp.ToolCalls[1])
	}
	if body["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v, want auto", body["tool_choice"])
	}
}

func TestOpenAIChat_TokenCallbackAborts(t *testing.T) {
	server := sseServer(t, []string{textChunk("a"), textChunk("b")}, nil)
	defer server.Close()

	stop := errors.New("stop")
	chat := NewOpenAIChat("m", "sk-test", server.URL+"/v1", SamplingParams{})
	resp, err := chat.Generate(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil, func(ctx context.Context, token string) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("error = %v, want stop", err)
	}
	if resp == nil || resp.Content != "a" {
		t.Errorf("partial content = %+v, want %q", resp, "a")
	}
}

func TestOpenAIChat_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	chat := NewOpenAIChat("m", "sk-bad", server.URL+"/v1", SamplingParams{})
	if _, err := chat.Generate(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil, nil); err == nil {
		t.Error("expected error for 401 response")
	}
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := toOpenAIMessages([]Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Parts: []ContentPart{{Type: PartText, Text: "what is this"}, {Type: PartImage, ImageURL: "data:image/png;base64,AA"}}},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "web_search", Arguments: `{"query":"x"}`}}},
		{Role: RoleTool, ToolCallID: "c1", Name: "web_search"},
	})

	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("msgs[0].Role = %s", msgs[0].Role)
	}
	if len(msgs[1].MultiContent) != 2 || msgs[1].MultiContent[1].ImageURL == nil {
		t.Errorf("msgs[1].MultiContent = %+v", msgs[1].MultiContent)
	}
	if msgs[2].Content != " " || len(msgs[2].ToolCalls) != 1 {
		t.Errorf("msgs[2] = %+v", msgs[2])
	}
	if msgs[3].ToolCallID != "c1" || msgs[3].Content != "{}" {
		t.Errorf("msgs[3] = %+v", msgs[3])
	}
}
