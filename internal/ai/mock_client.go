package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Mock model selectors.
const (
	MockModelEcho  = "mock-echo"
	MockModelLorem = "mock-lorem"
	MockModelError = "mock-error"
)

// MockLoremText is the fixed reply of the mock-lorem model.
const MockLoremText = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, " +
	"sed do eiusmod tempor incididunt ut labore et dolore magna aliqua."

// ErrMockSimulated is the error injected by the mock-error model.
var ErrMockSimulated = errors.New("Simulated mock error")

// MockAdapter emits deterministic replies without network I/O. Used by the
// seed scenarios and the test suite.
type MockAdapter struct {
	latency time.Duration
}

// NewMockAdapter creates a mock adapter with the configured reply latency.
func NewMockAdapter(latency time.Duration) *MockAdapter {
	return &MockAdapter{latency: latency}
}

// Provider returns "mock".
func (m *MockAdapter) Provider() string {
	return "mock"
}

// Send replies deterministically based on the model selector.
func (m *MockAdapter) Send(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var text string
	switch req.Model {
	case MockModelEcho:
		text = "Echo: " + lastUserContent(req.Messages)
	case MockModelLorem:
		text = MockLoremText
	case MockModelError:
		return nil, ErrMockSimulated
	default:
		text = fmt.Sprintf("Mock response from %s", req.Model)
	}

	input := 0
	for _, msg := range req.Messages {
		input += (len(msg.Content) + 3) / 4
	}
	output := (len(text) + 3) / 4
	return &Result{
		Text: text,
		Usage: &Usage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
		Meta: map[string]any{"model": req.Model},
	}, nil
}

// lastUserContent returns the content of the final user message. The view
// builder frames it as "User: <text>"; the echo strips that framing.
func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			content := messages[i].Content
			const framing = "User: "
			if len(content) >= len(framing) && content[:len(framing)] == framing {
				return content[len(framing):]
			}
			return content
		}
	}
	return ""
}
