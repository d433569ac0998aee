package orchestrator

import (
	"strings"

	"conclave/internal/ai"
	"conclave/pkg/types"
)

// SystemPrompts configures the per-turn system primer composition. Pointer
// values distinguish "unset" (fall through) from the empty string, which
// suppresses the provider default.
type SystemPrompts struct {
	// Common is a shared template; "{{modelId}}" is substituted per target.
	Common string `json:"common,omitempty"`
	// PerAgent overrides keyed by agent id.
	PerAgent map[string]*string `json:"per_agent,omitempty"`
	// PerModel overrides by target index.
	PerModel []*string `json:"per_model,omitempty"`
	// ProviderDefaults supplies the fallback primer per provider family.
	ProviderDefaults map[string]string `json:"provider_defaults,omitempty"`
}

// Attachment is a titled block of user-supplied text for the current turn.
type Attachment struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// ViewInput is everything the view builder needs for one target.
type ViewInput struct {
	Conversation   *types.Conversation
	Target         *Target
	TargetIndex    int
	UserMessage    string
	Attachments    []*Attachment
	Prompts        *SystemPrompts
	CapabilityNote string
}

// BuildView constructs the per-agent projection of the conversation. It is
// pure: identical inputs produce a byte-identical request.
func BuildView(in *ViewInput) *ai.Request {
	system := buildSystemPrimer(in)

	var messages []ai.Message
	for _, round := range priorRounds(in.Conversation) {
		userBlock, selfReply := projectRound(round, in.Target)
		if userBlock != "" {
			messages = append(messages, ai.Message{Role: ai.RoleUser, Content: userBlock})
		}
		if selfReply != nil {
			messages = append(messages, ai.Message{Role: ai.RoleAssistant, Content: selfReply.Content})
		}
	}

	for _, att := range in.Attachments {
		messages = append(messages, ai.Message{Role: ai.RoleUser, Content: frameAttachment(att)})
	}
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: "User: " + in.UserMessage})

	req := &ai.Request{
		Model:    in.Target.ModelID,
		Messages: messages,
	}
	if in.Target.Options != nil {
		req.Options = *in.Target.Options
	}

	// OpenAI-like providers take a flat message list with a leading system
	// message; the others take system out of band.
	switch in.Target.Provider {
	case "openai", "xai":
		if system != "" {
			req.Messages = append([]ai.Message{{Role: ai.RoleSystem, Content: system}}, req.Messages...)
		}
	default:
		req.System = system
	}
	return req
}

// buildSystemPrimer concatenates the common template, the resolved
// per-agent override and the capability note, separated by blank lines.
func buildSystemPrimer(in *ViewInput) string {
	var parts []string

	prompts := in.Prompts
	if prompts == nil {
		prompts = &SystemPrompts{}
	}
	if prompts.Common != "" {
		parts = append(parts, strings.ReplaceAll(prompts.Common, "{{modelId}}", in.Target.ModelID))
	}
	if override, ok := resolveOverride(prompts, in.Target, in.TargetIndex); ok {
		if override != "" {
			parts = append(parts, override)
		}
		// An explicit empty override suppresses the provider default.
	} else if fallback := prompts.ProviderDefaults[in.Target.Provider]; fallback != "" {
		parts = append(parts, fallback)
	}
	if in.CapabilityNote != "" {
		parts = append(parts, in.CapabilityNote)
	}
	return strings.Join(parts, "\n\n")
}

// resolveOverride walks perAgent then perModel. The boolean reports
// whether any override was explicitly present.
func resolveOverride(prompts *SystemPrompts, target *Target, index int) (string, bool) {
	if target.AgentID != "" {
		if override, ok := prompts.PerAgent[target.AgentID]; ok && override != nil {
			return *override, true
		}
	}
	if index >= 0 && index < len(prompts.PerModel) && prompts.PerModel[index] != nil {
		return *prompts.PerModel[index], true
	}
	return "", false
}

// priorRounds returns every completed round before the current one. The
// final round holds only the current user message, which is rendered as
// the closing "User:" turn instead.
func priorRounds(conv *types.Conversation) []*types.Round {
	if conv == nil || len(conv.Rounds) == 0 {
		return nil
	}
	last := conv.Rounds[len(conv.Rounds)-1]
	if last.User != nil && len(last.Agents) == 0 {
		return conv.Rounds[:len(conv.Rounds)-1]
	}
	return conv.Rounds
}

// projectRound renders one prior round for the target: the user block with
// tagged peer replies, and the target's own reply when it has one.
func projectRound(round *types.Round, target *Target) (string, *types.Message) {
	var b strings.Builder
	if round.User != nil {
		b.WriteString("User: ")
		b.WriteString(round.User.Content)
	}

	var selfReply *types.Message
	for _, agent := range round.Agents {
		agentID, modelID, name := agentIdentity(agent)
		if types.SameAgent(agentID, modelID, target.AgentID, target.ModelID) {
			if selfReply == nil {
				selfReply = agent
			}
			continue
		}
		label := name
		if label == "" {
			label = modelID
		}
		b.WriteString("\n[")
		b.WriteString(label)
		b.WriteString("]: ")
		b.WriteString(agent.Content)
	}
	return b.String(), selfReply
}

// agentIdentity reads the stored identity of an agent message.
func agentIdentity(msg *types.Message) (agentID, modelID, name string) {
	if id, ok := types.AgentID(msg.Speaker); ok {
		agentID = id
	}
	if v, ok := msg.Metadata["agent_id"].(string); ok && v != "" {
		agentID = v
	}
	if v, ok := msg.Metadata["model_id"].(string); ok {
		modelID = v
	}
	if v, ok := msg.Metadata["name"].(string); ok {
		name = v
	}
	return agentID, modelID, name
}

func frameAttachment(att *Attachment) string {
	if att.Title != "" {
		return "Attachment: " + att.Title + "\n" + att.Content
	}
	return "Attachment:\n" + att.Content
}
