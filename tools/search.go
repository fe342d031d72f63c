package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultTavilyURL is the Tavily search API base URL.
const DefaultTavilyURL = "https://api.tavily.com"

// SearchWebTool queries the Tavily search API. Without an API key the tool
// stays registered and reports the missing key when called.
type SearchWebTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewSearchWebTool returns a search tool for apiKey. An empty baseURL means
// DefaultTavilyURL and a nil client gets a 30 second timeout.
func NewSearchWebTool(apiKey, baseURL string, client *http.Client) *SearchWebTool {
	if baseURL == "" {
		baseURL = DefaultTavilyURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SearchWebTool{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *SearchWebTool) Name() string { return "search_web" }
func (t *SearchWebTool) Description() string {
	return "Search the web for information using Tavily. " +
		"Use this tool to find up-to-date information, documentation, or answers to questions."
}
func (t *SearchWebTool) Parameters() map[string]any {
	return objectSchema([]string{"query"}, map[string]any{
		"query": stringProp("The search query."),
	})
}

func (t *SearchWebTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query, ok := StringArg(args, "query")
	if !ok {
		return "", &ValidationError{Tool: t.Name(), Problems: []string{"missing or invalid 'query' argument"}}
	}
	if t.apiKey == "" {
		return "Error: TAVILY_API_KEY not found in environment variables.", nil
	}
	body, err := t.search(ctx, query)
	if err != nil {
		return fmt.Sprintf("Error executing search: %v", err), nil
	}

	results := gjson.GetBytes(body, "results").Array()
	if len(results) == 0 {
		return "No results found.", nil
	}
	formatted := make([]string, 0, len(results))
	for _, r := range results {
		formatted = append(formatted, fmt.Sprintf("Title: %s\nURL: %s\nContent: %s\n",
			orDefault(r.Get("title"), "No Title"),
			orDefault(r.Get("url"), "No URL"),
			orDefault(r.Get("content"), "No Content")))
	}
	return strings.Join(formatted, "\n---\n"), nil
}

func (t *SearchWebTool) search(ctx context.Context, query string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"query": query, "search_depth": "basic"})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		detail := gjson.GetBytes(body, "detail.error").String()
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		return nil, fmt.Errorf("%s: %s", resp.Status, detail)
	}
	return body, nil
}

func orDefault(v gjson.Result, def string) string {
	if !v.Exists() {
		return def
	}
	return v.String()
}
