package ai

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1/responses"

// NewOpenAIAdapter builds the OpenAI-family adapter (Responses API shape).
func NewOpenAIAdapter(cfg BaseConfig) *BaseClient {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	return NewBaseClient(cfg, &bearerAuth{}, &openAIRequestConverter{}, &openAIResponseConverter{})
}

type bearerAuth struct{}

func (a *bearerAuth) AddAuth(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type openAIRequestConverter struct{}

func (c *openAIRequestConverter) ConvertRequest(req *Request, cfg *BaseConfig) (map[string]any, http.Header, error) {
	body := map[string]any{
		"model": req.Model,
	}

	// System content rides in instructions; inline system messages are
	// extracted and deduplicated into the same field.
	instructions := req.System
	var input []map[string]any
	for i, msg := range req.Messages {
		if msg.Role == RoleSystem {
			if msg.Content != instructions {
				if instructions != "" {
					instructions += "\n\n"
				}
				instructions += msg.Content
			}
			continue
		}
		// The reasoning continuation sits where the assistant turn that
		// produced it would, right before the closing user message.
		if i == len(req.Messages)-1 && req.ProviderState != nil {
			if state, ok := req.ProviderState.(map[string]any); ok {
				input = append(input, state)
			}
		}
		input = append(input, map[string]any{"role": msg.Role, "content": msg.Content})
	}
	if instructions != "" {
		body["instructions"] = instructions
	}
	body["input"] = input

	if req.Options.MaxTokens > 0 {
		body["max_output_tokens"] = req.Options.MaxTokens
	}
	if req.Options.Reasoning != nil {
		body["reasoning"] = req.Options.Reasoning
		body["include"] = []string{"reasoning.encrypted_content"}
	}
	if len(req.Options.Tools) > 0 {
		body["tools"] = req.Options.Tools
	}
	MergeBody(body, req.Options.ExtraBody)
	return body, nil, nil
}

type openAIResponseConverter struct{}

type openAIResponse struct {
	Output []struct {
		Type             string          `json:"type"`
		EncryptedContent string          `json:"encrypted_content,omitempty"`
		Name             string          `json:"name,omitempty"`
		Arguments        json.RawMessage `json:"arguments,omitempty"`
		Content          []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Usage struct {
		InputTokens         int `json:"input_tokens"`
		OutputTokens        int `json:"output_tokens"`
		TotalTokens         int `json:"total_tokens"`
		OutputTokensDetails struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"output_tokens_details"`
	} `json:"usage"`
	Model string `json:"model"`
}

func (c *openAIResponseConverter) ConvertResponse(data []byte, req *Request, cfg *BaseConfig) (*Result, error) {
	var resp openAIResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode openai response: %w", err)
	}

	result := &Result{
		Usage: &Usage{
			InputTokens:    resp.Usage.InputTokens,
			OutputTokens:   resp.Usage.OutputTokens,
			TotalTokens:    resp.Usage.TotalTokens,
			ThinkingTokens: resp.Usage.OutputTokensDetails.ReasoningTokens,
		},
		Meta: map[string]any{"model": resp.Model},
	}

	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, block := range item.Content {
				if block.Type == "output_text" {
					result.Text += block.Text
				}
			}
		case "reasoning":
			if item.EncryptedContent != "" {
				// Round-trip the whole reasoning item on the next turn.
				var state map[string]any
				if err := json.Unmarshal(rawItem(data, "reasoning"), &state); err == nil && state != nil {
					result.ProviderState = state
				}
			}
		case "function_call", "tool_call":
			var args any
			_ = json.Unmarshal(item.Arguments, &args)
			result.Text += ToolCallBlock(item.Name, args)
		}
	}
	return result, nil
}

// rawItem re-extracts the first output item of the given type as raw JSON
// so opaque provider fields survive the round trip.
func rawItem(data []byte, itemType string) []byte {
	var envelope struct {
		Output []json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}
	for _, raw := range envelope.Output {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &probe); err == nil && probe.Type == itemType {
			return raw
		}
	}
	return nil
}
