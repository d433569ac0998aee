package orchestrator

import "conclave/internal/ai"

// Event types emitted over the turn stream.
const (
	EventInit   = "init"
	EventResult = "result"
	EventDone   = "done"
)

// Target is one requested agent for a turn.
type Target struct {
	Provider string      `json:"provider"`
	ModelID  string      `json:"model_id"`
	Name     string      `json:"name,omitempty"`
	AgentID  string      `json:"agent_id,omitempty"`
	Options  *ai.Options `json:"options,omitempty"`
}

// TurnRequest is the canonical turn input.
type TurnRequest struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	UserMessage    string         `json:"user_message"`
	Targets        []*Target      `json:"target_models"`
	SystemPrompts  *SystemPrompts `json:"system_prompts,omitempty"`
	Attachments    []*Attachment  `json:"text_attachments,omitempty"`
}

// AgentResult is the per-target outcome of a turn. Exactly one of Text and
// Error is meaningful.
type AgentResult struct {
	AgentID   string           `json:"agent_id"`
	Provider  string           `json:"provider"`
	ModelID   string           `json:"model_id"`
	Name      string           `json:"name,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	Text      string           `json:"text,omitempty"`
	Error     string           `json:"error,omitempty"`
	Usage     *ai.UsageSummary `json:"usage,omitempty"`
}

// Event is one frame of the turn stream.
type Event struct {
	Type           string       `json:"type"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Result         *AgentResult `json:"result,omitempty"`
	Completed      int          `json:"completed,omitempty"`
	Total          int          `json:"total,omitempty"`
}

// TurnResponse is the aggregate (non-streaming) turn output.
type TurnResponse struct {
	ConversationID string         `json:"conversation_id"`
	RoundNumber    int            `json:"round_number"`
	Results        []*AgentResult `json:"results"`
}

// EventSink receives turn events in emission order. A nil sink is valid
// and discards events.
type EventSink func(*Event)

func (f EventSink) emit(event *Event) {
	if f != nil {
		f(event)
	}
}
