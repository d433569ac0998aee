package ai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion        = "2023-06-01"

	// DefaultAnthropicMaxTokens applies when neither the request nor the
	// configuration sets an output budget; the API requires one.
	DefaultAnthropicMaxTokens = 8192
)

// anthropicBetaHeaders maps tool type prefixes to the beta capability
// header each one requires.
var anthropicBetaHeaders = map[string]string{
	"web_search":     "web-search-2025-03-05",
	"code_execution": "code-execution-2025-05-22",
	"computer":       "computer-use-2025-01-24",
}

// NewAnthropicAdapter builds the Anthropic-family adapter.
func NewAnthropicAdapter(cfg BaseConfig) *BaseClient {
	if cfg.Provider == "" {
		cfg.Provider = "anthropic"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultAnthropicMaxTokens
	}
	return NewBaseClient(cfg, &anthropicAuth{}, &anthropicRequestConverter{}, &anthropicResponseConverter{})
}

type anthropicAuth struct{}

func (a *anthropicAuth) AddAuth(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
}

type anthropicRequestConverter struct{}

func (c *anthropicRequestConverter) ConvertRequest(req *Request, cfg *BaseConfig) (map[string]any, http.Header, error) {
	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = cfg.MaxTokens
	}

	var messages []map[string]any
	lastAssistant := -1
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			continue
		}
		if msg.Role == RoleAssistant {
			lastAssistant = len(messages)
		}
		messages = append(messages, map[string]any{"role": msg.Role, "content": msg.Content})
	}

	// The prior turn's thinking block is echoed back ahead of the text of
	// the assistant message that produced it.
	if state, ok := req.ProviderState.(map[string]any); ok && lastAssistant >= 0 {
		text, _ := messages[lastAssistant]["content"].(string)
		messages[lastAssistant]["content"] = []map[string]any{
			state,
			{"type": "text", "text": text},
		}
	}

	body := map[string]any{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if req.Options.Thinking != nil {
		body["thinking"] = req.Options.Thinking
	}
	if len(req.Options.Tools) > 0 {
		body["tools"] = req.Options.Tools
	}

	MergeBody(body, req.Options.ExtraBody)

	headers := http.Header{}
	if betas := betaHeadersForTools(req.Options.Tools); betas != "" {
		headers.Set("anthropic-beta", betas)
	}
	return body, headers, nil
}

// betaHeadersForTools derives the comma-joined beta capability list from
// the tool types present in the request.
func betaHeadersForTools(tools []map[string]any) string {
	var betas []string
	seen := make(map[string]bool)
	for _, tool := range tools {
		toolType, _ := tool["type"].(string)
		for prefix, beta := range anthropicBetaHeaders {
			if strings.HasPrefix(toolType, prefix) && !seen[beta] {
				seen[beta] = true
				betas = append(betas, beta)
			}
		}
	}
	return strings.Join(betas, ",")
}

type anthropicResponseConverter struct{}

type anthropicResponse struct {
	Content []json.RawMessage `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
}

func (c *anthropicResponseConverter) ConvertResponse(data []byte, req *Request, cfg *BaseConfig) (*Result, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode anthropic response: %w", err)
	}

	result := &Result{
		Usage: &Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Meta: map[string]any{"model": resp.Model, "stop_reason": resp.StopReason},
	}

	for _, raw := range resp.Content {
		var block map[string]any
		if err := json.Unmarshal(raw, &block); err != nil {
			continue
		}
		switch block["type"] {
		case "text":
			if text, ok := block["text"].(string); ok {
				result.Text += text
			}
		case "thinking", "redacted_thinking":
			result.ProviderState = block
		case "tool_use", "server_tool_use":
			name, _ := block["name"].(string)
			result.Text += ToolCallBlock(name, block["input"])
		}
	}
	return result, nil
}
