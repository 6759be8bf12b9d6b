package tools

import (
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/db"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

const webSearchDescription = "Search the web for current information such as news, prices or recent events. Input is JSON with key `query` (string)."

var webSearchSchema = objectSchema(map[string]string{
	"query": "The search query",
})

// searcher runs one query and returns rendered results
type searcher interface {
	search(ctx context.Context, query string) (string, error)
}

type webSearchTool struct {
	deps    Deps
	backend searcher
}

// newWebSearchTool prefers Google Custom Search when the user configured an
// engine id and key, and falls back to DuckDuckGo otherwise.
func newWebSearchTool(deps Deps) (Tool, error) {
	var backend searcher
	if deps.Preferences.GoogleSearchEngineID != "" && deps.Preferences.GoogleSearchAPIKey != "" {
		backend = &googleSearch{
			client:     deps.httpClient(),
			endpoint:   deps.Config.GoogleSearchURL,
			engineID:   deps.Preferences.GoogleSearchEngineID,
			apiKey:     deps.Preferences.GoogleSearchAPIKey,
			maxResults: deps.Config.SearchMaxResults,
		}
	} else {
		ddg, err := duckduckgo.New(maxResultsOrDefault(deps.Config.SearchMaxResults), deps.Config.SearchUserAgent)
		if err != nil {
			return nil, fmt.Errorf("create duckduckgo search: %w", err)
		}
		backend = &duckDuckGoSearch{tool: ddg}
	}

	return &webSearchTool{deps: deps, backend: backend}, nil
}

func (t *webSearchTool) Name() string           { return KeyWebSearch }
func (t *webSearchTool) Description() string    { return webSearchDescription }
func (t *webSearchTool) Schema() map[string]any { return webSearchSchema }

func (t *webSearchTool) Call(ctx context.Context, input string) (string, error) {
	var payload struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return "", fmt.Errorf("failed to parse input JSON: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id": t.deps.UserID,
		"tool":    KeyWebSearch,
		"query":   payload.Query,
	}).Info("Running web search")

	result, err := t.backend.search(ctx, payload.Query)
	if err != nil {
		return "", err
	}

	t.deps.emit(db.ToolInvocationResult{
		ToolName:    KeyWebSearch,
		ToolLoading: false,
		Input:       payload.Query,
		Result:      result,
	})
	return result, nil
}

type duckDuckGoSearch struct {
	tool *duckduckgo.Tool
}

func (d *duckDuckGoSearch) search(ctx context.Context, query string) (string, error) {
	result, err := d.tool.Call(ctx, query)
	if err != nil {
		return "", fmt.Errorf("duckduckgo search: %w", err)
	}
	return result, nil
}

// googleSearch calls the Custom Search JSON API
type googleSearch struct {
	client     *http.Client
	endpoint   string
	engineID   string
	apiKey     string
	maxResults int
}

type googleSearchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *googleSearch) search(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("cx", g.engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(min(maxResultsOrDefault(g.maxResults), 10)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("google search request failed: %w", err)
	}
	defer resp.Body.Close()

	var body googleSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode google search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if body.Error != nil {
			return "", fmt.Errorf("google search error (status %d): %s", resp.StatusCode, body.Error.Message)
		}
		return "", fmt.Errorf("google search error (status %d)", resp.StatusCode)
	}

	if len(body.Items) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	for i, item := range body.Items {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n%s\n\n", i+1, item.Title, item.Link, item.Snippet)
	}
	return strings.TrimSpace(sb.String()), nil
}

func maxResultsOrDefault(n int) int {
	if n <= 0 {
		return 5
	}
	return n
}
