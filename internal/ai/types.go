// Package ai provides the canonical model-provider contract and one adapter
// per provider family (openai, anthropic, google, xai, mock).
package ai

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message roles in the canonical request shape.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one canonical conversation message handed to an adapter.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries the recognised per-request knobs. ExtraBody and
// ExtraHeaders are opaque pass-through overrides.
type Options struct {
	MaxTokens    int               `json:"max_tokens,omitempty"`
	Reasoning    map[string]any    `json:"reasoning,omitempty"`
	Thinking     map[string]any    `json:"thinking,omitempty"`
	Tools        []map[string]any  `json:"tools,omitempty"`
	ExtraBody    map[string]any    `json:"extra_body,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
}

// Request is the provider-independent send request. ProviderState is an
// opaque blob previously returned by the same adapter.
type Request struct {
	Model         string    `json:"model"`
	System        string    `json:"system,omitempty"`
	Messages      []Message `json:"messages"`
	Options       Options   `json:"options"`
	ProviderState any       `json:"provider_state,omitempty"`
}

// Result is the provider-independent reply.
type Result struct {
	Text          string         `json:"text"`
	Usage         *Usage         `json:"usage,omitempty"`
	ProviderState any            `json:"provider_state,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// Adapter is the single-operation provider contract.
type Adapter interface {
	Provider() string
	Send(ctx context.Context, req *Request) (*Result, error)
}

// ToolCallBlock serialises a tool invocation into the text stream.
func ToolCallBlock(name string, args any) string {
	pretty, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		pretty = []byte("{}")
	}
	return fmt.Sprintf("\n\n[Tool: %s]\n%s\n", name, string(pretty))
}

// MergeBody deep-merges overrides into body. Nested maps merge
// recursively; any other value in overrides replaces the body value.
func MergeBody(body, overrides map[string]any) {
	for key, value := range overrides {
		if overrideMap, ok := value.(map[string]any); ok {
			if baseMap, ok := body[key].(map[string]any); ok {
				MergeBody(baseMap, overrideMap)
				continue
			}
		}
		body[key] = value
	}
}
