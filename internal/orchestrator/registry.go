package orchestrator

import (
	"context"
	"sync"

	"conclave/internal/store"
	"conclave/pkg/types"
)

// conversationState is the in-memory working set of one conversation:
// per-agent provider state blobs and the auto-save toggle. It never
// persists; provider state is a best-effort continuation hint.
type conversationState struct {
	providerStates map[string]any
	autoSave       bool
	autoSaveFormat string
}

// Registry fronts the store with the per-conversation working set. Each
// turn reads a fresh snapshot from the store, so in-flight mutations of
// one turn are invisible to concurrent readers.
type Registry struct {
	mu     sync.Mutex
	store  *store.Store
	states map[string]*conversationState
}

// NewRegistry creates a conversation registry over the store.
func NewRegistry(st *store.Store) *Registry {
	return &Registry{store: st, states: make(map[string]*conversationState)}
}

// Snapshot loads the conversation with its reconstructed rounds. The
// returned value is private to the caller.
func (r *Registry) Snapshot(ctx context.Context, conversationID string) (*types.Conversation, error) {
	return r.store.GetConversation(ctx, conversationID)
}

// ProviderState returns the carried state blob for one agent key, or nil.
func (r *Registry) ProviderState(conversationID, agentKey string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[conversationID]
	if !ok {
		return nil
	}
	return state.providerStates[agentKey]
}

// SetProviderState records the state blob an adapter returned, for
// round-tripping on the next turn.
func (r *Registry) SetProviderState(conversationID, agentKey string, blob any) {
	if blob == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensure(conversationID).providerStates[agentKey] = blob
}

// AutoSave reports the conversation's auto-save setting.
func (r *Registry) AutoSave(conversationID string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[conversationID]
	if !ok || !state.autoSave {
		return false, ""
	}
	return true, state.autoSaveFormat
}

// SetAutoSave toggles transcript auto-saving for a conversation.
func (r *Registry) SetAutoSave(conversationID string, enabled bool, format string) {
	if format == "" {
		format = "md"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.ensure(conversationID)
	state.autoSave = enabled
	state.autoSaveFormat = format
}

// Forget drops the working set of a deleted conversation.
func (r *Registry) Forget(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, conversationID)
}

func (r *Registry) ensure(conversationID string) *conversationState {
	state, ok := r.states[conversationID]
	if !ok {
		state = &conversationState{providerStates: make(map[string]any)}
		r.states[conversationID] = state
	}
	return state
}
