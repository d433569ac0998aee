// Package types defines the shared domain entities for the conclave server:
// projects, conversations, messages, files and content chunks.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SpeakerUser is the speaker value for user-authored messages.
const SpeakerUser = "user"

// agentSpeakerPrefix prefixes agent speaker values ("agent:<agent_id>").
const agentSpeakerPrefix = "agent:"

// SourceType identifies what kind of entity a content chunk was derived from.
type SourceType string

const (
	// SourceFile marks chunks derived from project files.
	SourceFile SourceType = "file"
	// SourceMessage marks chunks derived from conversation messages.
	SourceMessage SourceType = "conversation_message"
)

// Project is the top-level container for conversations and files.
type Project struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Settings    json.RawMessage `json:"settings,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Conversation groups the rounds of a multi-agent exchange under a project.
type Conversation struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary,omitempty"`
	RoundCount int       `json:"round_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Rounds is reconstructed from messages on read; not a column.
	Rounds []*Round `json:"rounds,omitempty"`
}

// Message is a single write-once conversation message. Speaker is either
// "user" or "agent:<agent_id>".
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	RoundNumber    int            `json:"round_number"`
	Speaker        string         `json:"speaker"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Round is the derived grouping of messages sharing a round number:
// one user message plus zero or more agent replies.
type Round struct {
	Number int        `json:"number"`
	User   *Message   `json:"user,omitempty"`
	Agents []*Message `json:"agents,omitempty"`
}

// ProjectFile is an uploaded file owned by a project. Exactly one of
// Content (inline text) and ContentLocation (filestore handle) is set.
type ProjectFile struct {
	ID              string         `json:"id"`
	ProjectID       string         `json:"project_id"`
	Path            string         `json:"path"`
	Content         string         `json:"content,omitempty"`
	ContentLocation string         `json:"content_location,omitempty"`
	ContentHash     string         `json:"content_hash"`
	MimeType        string         `json:"mime_type"`
	SizeBytes       int64          `json:"size_bytes"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Chunk is a unit of indexable content with a location pointer back into
// its source (file line window or message round).
type Chunk struct {
	ID         string         `json:"id"`
	SourceType SourceType     `json:"source_type"`
	SourceID   string         `json:"source_id"`
	ProjectID  string         `json:"project_id"`
	ChunkIndex int            `json:"chunk_index"`
	Content    string         `json:"content"`
	Location   map[string]any `json:"location"`
	TokenCount int            `json:"token_count"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewID returns a fresh lexicographically sortable id (UUIDv7).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// AgentSpeaker builds the speaker value for an agent message.
func AgentSpeaker(agentID string) string {
	return agentSpeakerPrefix + agentID
}

// AgentID extracts the agent id from an agent speaker value. The second
// return is false for user or malformed speakers.
func AgentID(speaker string) (string, bool) {
	if !strings.HasPrefix(speaker, agentSpeakerPrefix) {
		return "", false
	}
	return speaker[len(agentSpeakerPrefix):], true
}

// SameAgent reports whether two (agent_id, model_id) identities refer to the
// same agent. Agent ids win when both sides carry one; otherwise the model
// id is the fallback identity. Both the view builder and the persistence
// layer use this single definition so self-suppression holds everywhere.
func SameAgent(agentID, modelID, otherAgentID, otherModelID string) bool {
	if agentID != "" && otherAgentID != "" {
		return agentID == otherAgentID
	}
	return modelID != "" && modelID == otherModelID
}

// BuildRounds reconstructs the derived round structure from a flat message
// slice ordered by (round_number, created_at).
func BuildRounds(messages []*Message) []*Round {
	byNumber := make(map[int]*Round)
	var rounds []*Round
	for _, msg := range messages {
		round, ok := byNumber[msg.RoundNumber]
		if !ok {
			round = &Round{Number: msg.RoundNumber}
			byNumber[msg.RoundNumber] = round
			rounds = append(rounds, round)
		}
		if msg.Speaker == SpeakerUser {
			round.User = msg
		} else {
			round.Agents = append(round.Agents, msg)
		}
	}
	return rounds
}

// Validate checks structural invariants before persistence.
func (m *Message) Validate() error {
	if m.ConversationID == "" {
		return fmt.Errorf("message conversation_id is required")
	}
	if m.RoundNumber < 1 {
		return fmt.Errorf("message round_number must be >= 1, got %d", m.RoundNumber)
	}
	if m.Speaker == "" {
		return fmt.Errorf("message speaker is required")
	}
	return nil
}
