// ABOUTME: Conversation state service: get/set/patch/clear/getOrInit over the state relation
// ABOUTME: Context patches are shallow top-level merges; malformed stored context degrades to empty

package convstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/waveline/convocore/internal/store"
)

// Identity is the conversation key: one state row exists per identity.
type Identity struct {
	TenantID string
	Channel  string
	SenderID string
}

// State is a decoded conversation state row. Context is never nil.
type State struct {
	Identity
	ActiveFlow string
	ActiveStep string
	Context    map[string]any
	UpdatedAt  time.Time
}

// StateStore defines what the service needs from storage.
type StateStore interface {
	GetConversationState(ctx context.Context, tenant, channel, sender string) (*store.ConversationState, error)
	UpsertConversationState(ctx context.Context, state *store.ConversationState) error
	DeleteConversationState(ctx context.Context, tenant, channel, sender string) error
}

// Service reads and mutates conversation state.
//
// Set and Patch are read-modify-write: under concurrent delivery of the same
// message (webhook retries) two writers can race and one patch can be lost.
// That is accepted here: conversation state is soft, and the outbound
// reservation is the actual correctness boundary for side effects. Do not
// "fix" this into a transactional contract.
type Service struct {
	store  StateStore
	logger *slog.Logger
}

// New creates a conversation state service.
func New(st StateStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "convstate"),
	}
}

// Get returns the state for the identity, or nil when none exists.
func (s *Service) Get(ctx context.Context, id Identity) (*State, error) {
	row, err := s.store.GetConversationState(ctx, id.TenantID, id.Channel, id.SenderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation state: %w", err)
	}
	return s.decode(id, row), nil
}

// GetOrInit returns the existing state or creates one with the given
// defaults and an empty context.
func (s *Service) GetOrInit(ctx context.Context, id Identity, defaultFlow, defaultStep string) (*State, error) {
	state, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}

	state = &State{
		Identity:   id,
		ActiveFlow: defaultFlow,
		ActiveStep: defaultStep,
		Context:    map[string]any{},
	}
	if err := s.write(ctx, state); err != nil {
		return nil, err
	}
	s.logger.Debug("conversation state initialized",
		"tenant", id.TenantID, "channel", id.Channel,
		"flow", defaultFlow, "step", defaultStep)
	return state, nil
}

// Set overwrites the active flow/step and shallow-merges patch into the
// existing context.
func (s *Service) Set(ctx context.Context, id Identity, flow, step string, patch map[string]any) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	var base map[string]any
	if existing != nil {
		base = existing.Context
	}
	state := &State{
		Identity:   id,
		ActiveFlow: flow,
		ActiveStep: step,
		Context:    MergeContext(base, patch),
	}
	return s.write(ctx, state)
}

// Patch shallow-merges patch into the context without touching flow/step.
// Intended for out-of-band writes when no conversation step is active; when
// no state exists, a row with no active flow is created.
func (s *Service) Patch(ctx context.Context, id Identity, patch map[string]any) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	state := &State{Identity: id}
	if existing != nil {
		state.ActiveFlow = existing.ActiveFlow
		state.ActiveStep = existing.ActiveStep
		state.Context = MergeContext(existing.Context, patch)
	} else {
		state.Context = MergeContext(nil, patch)
	}
	return s.write(ctx, state)
}

// Clear deletes the state row for the identity.
func (s *Service) Clear(ctx context.Context, id Identity) error {
	if err := s.store.DeleteConversationState(ctx, id.TenantID, id.Channel, id.SenderID); err != nil {
		return fmt.Errorf("clearing conversation state: %w", err)
	}
	return nil
}

func (s *Service) write(ctx context.Context, state *State) error {
	raw, err := json.Marshal(state.Context)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	row := &store.ConversationState{
		TenantID:   state.TenantID,
		Channel:    state.Channel,
		SenderID:   state.SenderID,
		ActiveFlow: state.ActiveFlow,
		ActiveStep: state.ActiveStep,
		Context:    raw,
	}
	if err := s.store.UpsertConversationState(ctx, row); err != nil {
		return fmt.Errorf("writing conversation state: %w", err)
	}
	return nil
}

func (s *Service) decode(id Identity, row *store.ConversationState) *State {
	state := &State{
		Identity:   id,
		ActiveFlow: row.ActiveFlow,
		ActiveStep: row.ActiveStep,
		UpdatedAt:  row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Context, &state.Context); err != nil || state.Context == nil {
		// Malformed context is never fatal: treat as empty
		if err != nil {
			s.logger.Warn("malformed conversation context, resetting",
				"tenant", id.TenantID, "sender", id.SenderID, "error", err)
		}
		state.Context = map[string]any{}
	}
	return state
}

// MergeContext shallow-merges patch into base at the top level: new keys are
// added, patched keys are replaced wholesale (nested objects are not deep
// merged), and unrelated base keys are kept. The inputs are not mutated.
func MergeContext(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
