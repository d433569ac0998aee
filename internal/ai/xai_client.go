package ai

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const defaultXAIBaseURL = "https://api.x.ai/v1/chat/completions"

// NewXAIAdapter builds the XAI-family adapter (chat-completions shape,
// bearer auth like OpenAI). cfg.StatePath selects the provider-state
// extraction, when any.
func NewXAIAdapter(cfg BaseConfig) *BaseClient {
	if cfg.Provider == "" {
		cfg.Provider = "xai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultXAIBaseURL
	}
	return NewBaseClient(cfg, &bearerAuth{}, &xaiRequestConverter{}, &xaiResponseConverter{})
}

type xaiRequestConverter struct{}

func (c *xaiRequestConverter) ConvertRequest(req *Request, cfg *BaseConfig) (map[string]any, http.Header, error) {
	var messages []map[string]any
	if req.System != "" {
		messages = append(messages, map[string]any{"role": RoleSystem, "content": req.System})
	}
	for _, msg := range req.Messages {
		// Inline system messages pass through; chat completions accept them.
		messages = append(messages, map[string]any{"role": msg.Role, "content": msg.Content})
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if req.Options.MaxTokens > 0 {
		body["max_tokens"] = req.Options.MaxTokens
	}
	if req.Options.Reasoning != nil {
		body["reasoning"] = req.Options.Reasoning
	}
	if len(req.Options.Tools) > 0 {
		body["tools"] = req.Options.Tools
	}
	MergeBody(body, req.Options.ExtraBody)

	if req.ProviderState != nil && cfg.StatePath != "" {
		cfg.StatePath.Set(body, req.ProviderState)
	}
	return body, nil, nil
}

type xaiResponseConverter struct{}

type xaiResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func (c *xaiResponseConverter) ConvertResponse(data []byte, req *Request, cfg *BaseConfig) (*Result, error) {
	var resp xaiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode xai response: %w", err)
	}

	result := &Result{
		Usage: &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Meta: map[string]any{"model": resp.Model},
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		result.Meta["finish_reason"] = choice.FinishReason
		result.Text = choice.Message.Content
		for _, call := range choice.Message.ToolCalls {
			var args any
			_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
			result.Text += ToolCallBlock(call.Function.Name, args)
		}
	}

	if cfg.StatePath != "" {
		var tree map[string]any
		if err := json.Unmarshal(data, &tree); err == nil {
			if state, ok := cfg.StatePath.Get(tree); ok {
				result.ProviderState = state
			}
		}
	}
	return result, nil
}
