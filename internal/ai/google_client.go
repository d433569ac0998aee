package ai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// defaultGoogleBaseURL carries a {model} placeholder filled per request.
const defaultGoogleBaseURL = "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent"

// NewGoogleAdapter builds the Google-family adapter (generateContent
// shape). cfg.StatePath selects which part of the response tree is carried
// as provider state, when any.
func NewGoogleAdapter(cfg BaseConfig) *BaseClient {
	if cfg.Provider == "" {
		cfg.Provider = "google"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGoogleBaseURL
	}
	return NewBaseClient(cfg, &googleAuth{}, &googleRequestConverter{}, &googleResponseConverter{})
}

type googleAuth struct{}

func (a *googleAuth) AddAuth(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("x-goog-api-key", apiKey)
	}
}

type googleRequestConverter struct{}

func (c *googleRequestConverter) Endpoint(req *Request, cfg *BaseConfig) string {
	return strings.ReplaceAll(cfg.BaseURL, "{model}", req.Model)
}

func (c *googleRequestConverter) ConvertRequest(req *Request, cfg *BaseConfig) (map[string]any, http.Header, error) {
	body := map[string]any{}
	if req.System != "" {
		body["system_instruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.System}},
		}
	}

	var contents []map[string]any
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			continue
		}
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": msg.Content}},
		})
	}
	body["contents"] = contents

	if req.Options.MaxTokens > 0 {
		body["generationConfig"] = map[string]any{"maxOutputTokens": req.Options.MaxTokens}
	}

	MergeBody(body, req.Options.ExtraBody)

	// Request tools extend whatever extraBody already declared.
	if len(req.Options.Tools) > 0 {
		existing, _ := body["tools"].([]any)
		for _, tool := range req.Options.Tools {
			existing = append(existing, tool)
		}
		body["tools"] = existing
	}

	if req.ProviderState != nil && cfg.StatePath != "" {
		cfg.StatePath.Set(body, req.ProviderState)
	}
	return body, nil, nil
}

type googleResponseConverter struct{}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text         string `json:"text,omitempty"`
				FunctionCall *struct {
					Name string         `json:"name"`
					Args map[string]any `json:"args"`
				} `json:"functionCall,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (c *googleResponseConverter) ConvertResponse(data []byte, req *Request, cfg *BaseConfig) (*Result, error) {
	var resp googleResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode google response: %w", err)
	}

	result := &Result{
		Usage: &Usage{
			InputTokens:    resp.UsageMetadata.PromptTokenCount,
			OutputTokens:   resp.UsageMetadata.CandidatesTokenCount,
			ThinkingTokens: resp.UsageMetadata.ThoughtsTokenCount,
			TotalTokens:    resp.UsageMetadata.TotalTokenCount,
		},
		Meta: map[string]any{"model": resp.ModelVersion},
	}
	if len(resp.Candidates) > 0 {
		result.Meta["finish_reason"] = resp.Candidates[0].FinishReason
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				result.Text += part.Text
			}
			if part.FunctionCall != nil {
				result.Text += ToolCallBlock(part.FunctionCall.Name, part.FunctionCall.Args)
			}
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
