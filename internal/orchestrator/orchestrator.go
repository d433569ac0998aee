// Package orchestrator runs the per-turn fan-out: conversation resolution,
// round persistence, per-agent view building, concurrent adapter calls and
// event emission.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"conclave/internal/ai"
	"conclave/internal/indexer"
	"conclave/internal/logging"
	"conclave/internal/store"
	"conclave/pkg/types"
)

// ErrValidation marks malformed turn input; the API layer maps it to 400.
var ErrValidation = errors.New("invalid request")

// titleLimit caps the auto-derived conversation title length.
const titleLimit = 60

// indexTimeout bounds the background indexing of a single message.
const indexTimeout = 30 * time.Second

// Orchestrator owns the turn lifecycle.
type Orchestrator struct {
	store            *store.Store
	providers        *ai.Registry
	registry         *Registry
	indexer          *indexer.Indexer
	logger           logging.Logger
	transcriptsDir   string
	defaultProjectID string
}

// New creates an orchestrator.
func New(st *store.Store, providers *ai.Registry, registry *Registry, idx *indexer.Indexer,
	logger logging.Logger, transcriptsDir, defaultProjectID string) *Orchestrator {
	if logger == nil {
		logger = logging.WithComponent("orchestrator")
	}
	return &Orchestrator{
		store:            st,
		providers:        providers,
		registry:         registry,
		indexer:          idx,
		logger:           logger,
		transcriptsDir:   transcriptsDir,
		defaultProjectID: defaultProjectID,
	}
}

// Registry exposes the conversation working-set registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Turn executes one full turn. Events go to sink in emission order; the
// aggregate response is returned either way.
func (o *Orchestrator) Turn(ctx context.Context, req *TurnRequest, sink EventSink) (*TurnResponse, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return nil, fmt.Errorf("%w: user_message is required", ErrValidation)
	}
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("%w: target_models is required", ErrValidation)
	}
	targets, err := o.normalizeTargets(req.Targets)
	if err != nil {
		return nil, err
	}

	conv, err := o.resolveConversation(ctx, req.ConversationID, req.UserMessage)
	if err != nil {
		return nil, err
	}
	sink.emit(&Event{Type: EventInit, ConversationID: conv.ID})

	userMsg := &types.Message{Content: req.UserMessage, Metadata: userMetadata(req.Attachments)}
	roundNumber, err := o.store.AppendRound(ctx, conv.ID, userMsg)
	if err != nil {
		return nil, err
	}
	o.indexAsync(userMsg.ID)

	// The snapshot is fixed before any agent write, so no target sees a
	// peer's current-round reply.
	snapshot, err := o.registry.Snapshot(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	note := capabilityNote(targets)

	total := len(targets)
	results := make(chan *AgentResult, total)
	for i, target := range targets {
		i, target := i, target
		go func() {
			results <- o.runTarget(ctx, snapshot, req, target, i, roundNumber, note)
		}()
	}

	resp := &TurnResponse{ConversationID: conv.ID, RoundNumber: roundNumber}
	completed := 0
	for completed < total {
		select {
		case result := <-results:
			completed++
			resp.Results = append(resp.Results, result)
			sink.emit(&Event{Type: EventResult, Result: result, Completed: completed, Total: total})
		case <-ctx.Done():
			o.logger.Warn("turn abandoned by client",
				"conversation_id", conv.ID, "completed", completed, "total", total)
			return nil, ctx.Err()
		}
	}

	if enabled, format := o.registry.AutoSave(conv.ID); enabled {
		o.autoSave(conv.ID, format)
	}
	sink.emit(&Event{Type: EventDone, ConversationID: conv.ID, Completed: completed, Total: total})
	return resp, nil
}

// runTarget executes the strict per-agent chain: view, adapter call,
// persistence, state carry.
func (o *Orchestrator) runTarget(ctx context.Context, snapshot *types.Conversation,
	req *TurnRequest, target *Target, index, roundNumber int, note string) *AgentResult {
	result := &AgentResult{
		AgentID:  target.AgentID,
		Provider: target.Provider,
		ModelID:  target.ModelID,
		Name:     target.Name,
	}

	view := BuildView(&ViewInput{
		Conversation:   snapshot,
		Target:         target,
		TargetIndex:    index,
		UserMessage:    req.UserMessage,
		Attachments:    req.Attachments,
		Prompts:        req.SystemPrompts,
		CapabilityNote: note,
	})
	view.ProviderState = o.registry.ProviderState(snapshot.ID, target.AgentID)

	info, err := o.providers.Lookup(target.Provider)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	reply, err := info.Adapter.Send(ctx, view)
	if err != nil {
		o.logger.Warn("adapter call failed", "conversation_id", snapshot.ID,
			"agent_id", target.AgentID, "provider", target.Provider, "error", err.Error())
		result.Error = err.Error()
		return result
	}
	if ctx.Err() != nil {
		// Client gone; discard rather than mutate the abandoned turn.
		result.Error = ctx.Err().Error()
		return result
	}

	result.Usage = ai.SummarizeUsage(reply.Usage)
	msg := &types.Message{
		ConversationID: snapshot.ID,
		RoundNumber:    roundNumber,
		Speaker:        types.AgentSpeaker(target.AgentID),
		Content:        reply.Text,
		Metadata: map[string]any{
			"provider": target.Provider,
			"model_id": target.ModelID,
			"agent_id": target.AgentID,
		},
	}
	if target.Name != "" {
		msg.Metadata["name"] = target.Name
	}
	if result.Usage != nil {
		msg.Metadata["usage"] = result.Usage
	}

	// Persistence must survive a disconnect that lands mid-write.
	if err := o.store.AppendAgentMessage(context.WithoutCancel(ctx), msg); err != nil {
		o.logger.Error("failed to persist agent message", "conversation_id", snapshot.ID,
			"agent_id", target.AgentID, "error", err.Error())
		result.Error = "internal: failed to persist agent message"
		return result
	}
	o.registry.SetProviderState(snapshot.ID, target.AgentID, reply.ProviderState)
	o.indexAsync(msg.ID)

	result.MessageID = msg.ID
	result.Text = reply.Text
	return result
}

// PreviewView returns the exact request a target would receive for a
// draft turn, without calling any adapter.
func (o *Orchestrator) PreviewView(ctx context.Context, req *TurnRequest, provider, modelID, agentID string) (*ai.Request, error) {
	targets, err := o.normalizeTargets(req.Targets)
	if err != nil {
		return nil, err
	}

	index := -1
	for i, target := range targets {
		if target.Provider == strings.ToLower(provider) &&
			target.ModelID == modelID &&
			(agentID == "" || target.AgentID == agentID) {
			index = i
			break
		}
	}
	if index == -1 {
		single, err := o.normalizeTargets([]*Target{{Provider: provider, ModelID: modelID, AgentID: agentID}})
		if err != nil {
			return nil, err
		}
		targets = append(targets, single[0])
		index = len(targets) - 1
	}

	snapshot := &types.Conversation{}
	if req.ConversationID != "" {
		snapshot, err = o.registry.Snapshot(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
	}

	view := BuildView(&ViewInput{
		Conversation:   snapshot,
		Target:         targets[index],
		TargetIndex:    index,
		UserMessage:    req.UserMessage,
		Attachments:    req.Attachments,
		Prompts:        req.SystemPrompts,
		CapabilityNote: capabilityNote(targets),
	})
	return view, nil
}

// SaveTranscript writes the conversation transcript and returns its path.
func (o *Orchestrator) SaveTranscript(ctx context.Context, conversationID, format string) (string, error) {
	conv, err := o.registry.Snapshot(ctx, conversationID)
	if err != nil {
		return "", err
	}
	return WriteTranscript(o.transcriptsDir, conv, format)
}

// autoSave writes the transcript as a best-effort side effect.
func (o *Orchestrator) autoSave(conversationID, format string) {
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()
	if _, err := o.SaveTranscript(ctx, conversationID, format); err != nil {
		o.logger.Warn("auto-save failed", "conversation_id", conversationID, "error", err.Error())
	}
}

// resolveConversation loads the conversation or creates a fresh one under
// the default project when the id is absent or unknown.
func (o *Orchestrator) resolveConversation(ctx context.Context, id, userMessage string) (*types.Conversation, error) {
	if id != "" {
		conv, err := o.store.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	conv := &types.Conversation{
		ProjectID: o.defaultProjectID,
		Title:     deriveTitle(userMessage),
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// normalizeTargets applies the target normalisation rules: lower-cased
// provider, alias model resolution, synthetic agent ids and option
// defaulting.
func (o *Orchestrator) normalizeTargets(targets []*Target) ([]*Target, error) {
	normalized := make([]*Target, len(targets))
	for i, target := range targets {
		provider := strings.ToLower(strings.TrimSpace(target.Provider))
		info, err := o.providers.Lookup(provider)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
		}

		model := strings.TrimSpace(target.ModelID)
		switch model {
		case "", "smart", "best", "default":
			model = info.DefaultModel
		}

		agentID := target.AgentID
		if agentID == "" {
			agentID = fmt.Sprintf("%s:%s:%d", provider, model, i)
		}

		normalized[i] = &Target{
			Provider: provider,
			ModelID:  model,
			Name:     target.Name,
			AgentID:  agentID,
			Options:  mergeOptions(info.DefaultOptions, target.Options),
		}
	}
	return normalized, nil
}

// mergeOptions folds provider defaults into the supplied options. Scalars
// inherit when unset; extraBody and extraHeaders deep-merge with supplied
// values winning.
func mergeOptions(defaults ai.Options, supplied *ai.Options) *ai.Options {
	merged := defaults
	if supplied != nil {
		if supplied.MaxTokens > 0 {
			merged.MaxTokens = supplied.MaxTokens
		}
		if supplied.Reasoning != nil {
			merged.Reasoning = supplied.Reasoning
		}
		if supplied.Thinking != nil {
			merged.Thinking = supplied.Thinking
		}
		if supplied.Tools != nil {
			merged.Tools = supplied.Tools
		}
		if len(supplied.ExtraBody) > 0 {
			body := make(map[string]any, len(merged.ExtraBody)+len(supplied.ExtraBody))
			for k, v := range merged.ExtraBody {
				body[k] = v
			}
			ai.MergeBody(body, supplied.ExtraBody)
			merged.ExtraBody = body
		}
		if len(supplied.ExtraHeaders) > 0 {
			headers := make(map[string]string, len(merged.ExtraHeaders)+len(supplied.ExtraHeaders))
			for k, v := range merged.ExtraHeaders {
				headers[k] = v
			}
			for k, v := range supplied.ExtraHeaders {
				headers[k] = v
			}
			merged.ExtraHeaders = headers
		}
	}
	return &merged
}

// capabilityNote names the search-capable agents; built once per turn and
// shared across every agent's primer.
func capabilityNote(targets []*Target) string {
	var capable []string
	for _, target := range targets {
		if target.Options == nil {
			continue
		}
		for _, tool := range target.Options.Tools {
			toolType, _ := tool["type"].(string)
			if strings.Contains(toolType, "search") {
				label := target.Name
				if label == "" {
					label = target.AgentID
				}
				capable = append(capable, label)
				break
			}
		}
	}
	if len(capable) == 0 {
		return ""
	}
	return fmt.Sprintf("Note: the following agents can run live web searches this turn: %s.",
		strings.Join(capable, ", "))
}

// indexAsync schedules background indexing of one message. Indexing
// failures are logged, never surfaced.
func (o *Orchestrator) indexAsync(messageID string) {
	if o.indexer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		if _, err := o.indexer.IndexMessage(ctx, messageID); err != nil {
			o.logger.Warn("message indexing failed", "message_id", messageID, "error", err.Error())
		}
	}()
}

func userMetadata(attachments []*Attachment) map[string]any {
	if len(attachments) == 0 {
		return nil
	}
	titles := make([]any, 0, len(attachments))
	for _, att := range attachments {
		if att.Title != "" {
			titles = append(titles, att.Title)
		}
	}
	if len(titles) == 0 {
		return nil
	}
	return map[string]any{"attachments": titles}
}

func deriveTitle(userMessage string) string {
	title := strings.TrimSpace(userMessage)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	runes := []rune(title)
	if len(runes) > titleLimit {
		title = string(runes[:titleLimit]) + "..."
	}
	return title
}
