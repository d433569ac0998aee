package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/ai"
	"conclave/pkg/types"
)

func strPtr(s string) *string { return &s }

// seededConversation builds one completed round: a user message answered by
// two agents, then the current user message as a trailing user-only round.
func seededConversation() *types.Conversation {
	return &types.Conversation{
		ID:        "conv-1",
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Rounds: []*types.Round{
			{
				Number: 1,
				User:   &types.Message{Speaker: types.SpeakerUser, Content: "opening question"},
				Agents: []*types.Message{
					{
						Speaker: types.AgentSpeaker("mock:mock-echo:0"),
						Content: "Echo: opening question",
						Metadata: map[string]any{
							"agent_id": "mock:mock-echo:0", "model_id": "mock-echo",
						},
					},
					{
						Speaker: types.AgentSpeaker("mock:mock-lorem:1"),
						Content: "peer reply",
						Metadata: map[string]any{
							"agent_id": "mock:mock-lorem:1", "model_id": "mock-lorem", "name": "Scribe",
						},
					},
				},
			},
			{
				Number: 2,
				User:   &types.Message{Speaker: types.SpeakerUser, Content: "follow up"},
			},
		},
	}
}

func TestBuildViewSelfSuppression(t *testing.T) {
	view := BuildView(&ViewInput{
		Conversation: seededConversation(),
		Target:       &Target{Provider: "mock", ModelID: "mock-echo", AgentID: "mock:mock-echo:0"},
		UserMessage:  "follow up",
	})

	require.Len(t, view.Messages, 3)

	// The prior round's user block carries only the peer reply, tagged by
	// its display name.
	assert.Equal(t, ai.RoleUser, view.Messages[0].Role)
	assert.Equal(t, "User: opening question\n[Scribe]: peer reply", view.Messages[0].Content)

	// The target's own reply comes back as its assistant turn, untagged.
	assert.Equal(t, ai.RoleAssistant, view.Messages[1].Role)
	assert.Equal(t, "Echo: opening question", view.Messages[1].Content)

	// The trailing user-only round renders as the closing user turn, not
	// as history.
	assert.Equal(t, "User: follow up", view.Messages[2].Content)
}

func TestBuildViewPeerPerspective(t *testing.T) {
	view := BuildView(&ViewInput{
		Conversation: seededConversation(),
		Target:       &Target{Provider: "mock", ModelID: "mock-lorem", AgentID: "mock:mock-lorem:1"},
		UserMessage:  "follow up",
	})

	require.Len(t, view.Messages, 3)
	// The echo agent has no name, so its model id is the tag.
	assert.Equal(t, "User: opening question\n[mock-echo]: Echo: opening question", view.Messages[0].Content)
	assert.Equal(t, "peer reply", view.Messages[1].Content)
}

func TestBuildViewAttachments(t *testing.T) {
	view := BuildView(&ViewInput{
		Conversation: &types.Conversation{},
		Target:       &Target{Provider: "mock", ModelID: "mock-echo"},
		UserMessage:  "see attached",
		Attachments: []*Attachment{
			{Title: "notes.md", Content: "attachment body"},
			{Content: "untitled body"},
		},
	})

	require.Len(t, view.Messages, 3)
	assert.Equal(t, "Attachment: notes.md\nattachment body", view.Messages[0].Content)
	assert.Equal(t, "Attachment:\nuntitled body", view.Messages[1].Content)
	assert.Equal(t, "User: see attached", view.Messages[2].Content)
}

func TestBuildViewSystemPlacement(t *testing.T) {
	prompts := &SystemPrompts{Common: "Be concise."}

	for _, provider := range []string{"openai", "xai"} {
		view := BuildView(&ViewInput{
			Conversation: &types.Conversation{},
			Target:       &Target{Provider: provider, ModelID: "m"},
			UserMessage:  "hi",
			Prompts:      prompts,
		})
		assert.Empty(t, view.System)
		require.NotEmpty(t, view.Messages)
		assert.Equal(t, ai.RoleSystem, view.Messages[0].Role, provider)
		assert.Equal(t, "Be concise.", view.Messages[0].Content)
	}

	for _, provider := range []string{"anthropic", "google", "mock"} {
		view := BuildView(&ViewInput{
			Conversation: &types.Conversation{},
			Target:       &Target{Provider: provider, ModelID: "m"},
			UserMessage:  "hi",
			Prompts:      prompts,
		})
		assert.Equal(t, "Be concise.", view.System, provider)
		assert.Equal(t, ai.RoleUser, view.Messages[0].Role)
	}
}

func TestBuildSystemPrimerResolution(t *testing.T) {
	target := &Target{Provider: "anthropic", ModelID: "model-a", AgentID: "agent-1"}

	tests := []struct {
		name    string
		prompts *SystemPrompts
		want    string
	}{
		{"nil prompts", nil, ""},
		{"common substitutes model id",
			&SystemPrompts{Common: "You are {{modelId}}."},
			"You are model-a."},
		{"per agent wins over per model",
			&SystemPrompts{
				PerAgent: map[string]*string{"agent-1": strPtr("agent primer")},
				PerModel: []*string{strPtr("model primer")},
			},
			"agent primer"},
		{"per model fallback",
			&SystemPrompts{PerModel: []*string{strPtr("model primer")}},
			"model primer"},
		{"provider default when no override",
			&SystemPrompts{ProviderDefaults: map[string]string{"anthropic": "default primer"}},
			"default primer"},
		{"explicit empty suppresses provider default",
			&SystemPrompts{
				PerAgent:         map[string]*string{"agent-1": strPtr("")},
				ProviderDefaults: map[string]string{"anthropic": "default primer"},
			},
			""},
		{"nil per model slot falls through to provider default",
			&SystemPrompts{
				PerModel:         []*string{nil},
				ProviderDefaults: map[string]string{"anthropic": "default primer"},
			},
			"default primer"},
		{"common and override join with blank line",
			&SystemPrompts{
				Common:   "Shared.",
				PerAgent: map[string]*string{"agent-1": strPtr("Specific.")},
			},
			"Shared.\n\nSpecific."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSystemPrimer(&ViewInput{Target: target, Prompts: tt.prompts})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildSystemPrimerCapabilityNote(t *testing.T) {
	got := buildSystemPrimer(&ViewInput{
		Target:         &Target{Provider: "mock", ModelID: "m"},
		Prompts:        &SystemPrompts{Common: "Base."},
		CapabilityNote: "Note: searches available.",
	})
	assert.Equal(t, "Base.\n\nNote: searches available.", got)
}

func TestBuildViewDeterministic(t *testing.T) {
	input := func() *ViewInput {
		return &ViewInput{
			Conversation: seededConversation(),
			Target:       &Target{Provider: "mock", ModelID: "mock-echo", AgentID: "mock:mock-echo:0"},
			UserMessage:  "follow up",
			Prompts:      &SystemPrompts{Common: "You are {{modelId}}."},
			Attachments:  []*Attachment{{Title: "t", Content: "c"}},
		}
	}
	assert.Equal(t, BuildView(input()), BuildView(input()))
}

func TestPriorRoundsKeepsCompletedFinalRound(t *testing.T) {
	conv := seededConversation()
	// Make the last round complete; it then counts as history.
	conv.Rounds[1].Agents = []*types.Message{{
		Speaker: types.AgentSpeaker("a"), Content: "done",
	}}
	assert.Len(t, priorRounds(conv), 2)

	assert.Nil(t, priorRounds(nil))
	assert.Empty(t, priorRounds(&types.Conversation{}))
}
