// ABOUTME: Flow engine: per-identity state machine from no-flow through steps to terminal
// ABOUTME: Missing or disabled flow definitions clear state and defer to an outer fallback responder

package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/waveline/convocore/internal/convstate"
	"github.com/waveline/convocore/internal/store"
)

// FlowStore defines what the engine needs from flow persistence.
type FlowStore interface {
	GetFlow(ctx context.Context, tenant, flowKey string) (*store.Flow, error)
	GetFlowStep(ctx context.Context, flowID, stepKey string) (*store.FlowStep, error)
	GetFirstStep(ctx context.Context, flowID string) (*store.FlowStep, error)
}

// MemoryStore defines the long-term KV writes flow steps can declare.
type MemoryStore interface {
	GetMemory(ctx context.Context, tenant, channel, sender, key string) (json.RawMessage, error)
	SetMemory(ctx context.Context, tenant, channel, sender, key string, value json.RawMessage) error
}

// Result is the outcome of a turn. Handled=false means the engine did not
// own the turn and the caller should fall through to a default responder.
// A handled turn with an empty Reply means the flow terminated silently.
type Result struct {
	Reply   string
	Handled bool
}

var notHandled = &Result{}

// Engine advances guided flows one validated step per turn.
//
// Invalid input re-prompts the current step with no retry cap: the user can
// retry indefinitely, and abandoning a flow is the caller's responsibility
// (a cancel/topic-change signal evaluated before the engine runs).
type Engine struct {
	flows    FlowStore
	memory   MemoryStore
	state    *convstate.Service
	triggers []Trigger
	logger   *slog.Logger
}

// New creates a flow engine. Triggers are evaluated in order when no flow is
// active; the first one that fires starts its flow.
func New(flows FlowStore, memory MemoryStore, state *convstate.Service, triggers []Trigger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		flows:    flows,
		memory:   memory,
		state:    state,
		triggers: triggers,
		logger:   logger.With("component", "flow"),
	}
}

// HandleTurn processes one inbound message for the identity. When a flow is
// active the engine owns the turn; otherwise entry triggers decide whether
// to start one.
func (e *Engine) HandleTurn(ctx context.Context, id convstate.Identity, lang, input string) (*Result, error) {
	state, err := e.state.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if state == nil || state.ActiveFlow == "" {
		return e.tryTriggers(ctx, id, lang, input)
	}
	return e.advance(ctx, id, state, lang, input)
}

// tryTriggers evaluates entry triggers in order and starts the first flow
// that fires.
func (e *Engine) tryTriggers(ctx context.Context, id convstate.Identity, lang, input string) (*Result, error) {
	for _, trigger := range e.triggers {
		flowKey, ok, err := trigger.Evaluate(ctx, id, input)
		if err != nil {
			return nil, fmt.Errorf("evaluating trigger: %w", err)
		}
		if !ok {
			continue
		}
		result, err := e.startFlow(ctx, id, flowKey, lang)
		if err != nil {
			return nil, err
		}
		if result.Handled {
			return result, nil
		}
	}
	return notHandled, nil
}

// startFlow activates the flow at its first step and returns that step's
// prompt. A missing or disabled flow is not an error: the trigger simply
// does not handle the turn.
func (e *Engine) startFlow(ctx context.Context, id convstate.Identity, flowKey, lang string) (*Result, error) {
	flow, err := e.flows.GetFlow(ctx, id.TenantID, flowKey)
	if errors.Is(err, store.ErrNotFound) {
		return notHandled, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading flow %q: %w", flowKey, err)
	}
	if !flow.Enabled {
		return notHandled, nil
	}

	step, err := e.flows.GetFirstStep(ctx, flow.ID)
	if errors.Is(err, store.ErrNotFound) {
		return notHandled, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading first step of %q: %w", flowKey, err)
	}

	if err := e.state.Set(ctx, id, flow.Key, step.Key, nil); err != nil {
		return nil, err
	}
	e.logger.Debug("flow started",
		"tenant", id.TenantID, "flow", flow.Key, "step", step.Key)
	return &Result{Reply: stepPrompt(step, lang), Handled: true}, nil
}

// advance validates the input against the active step and transitions.
func (e *Engine) advance(ctx context.Context, id convstate.Identity, state *convstate.State, lang, input string) (*Result, error) {
	flow, err := e.flows.GetFlow(ctx, id.TenantID, state.ActiveFlow)
	if errors.Is(err, store.ErrNotFound) {
		return e.abandon(ctx, id, "flow missing", state.ActiveFlow)
	}
	if err != nil {
		return nil, fmt.Errorf("loading flow %q: %w", state.ActiveFlow, err)
	}
	if !flow.Enabled {
		return e.abandon(ctx, id, "flow disabled", state.ActiveFlow)
	}

	step, err := e.flows.GetFlowStep(ctx, flow.ID, state.ActiveStep)
	if errors.Is(err, store.ErrNotFound) {
		return e.abandon(ctx, id, "step missing", state.ActiveStep)
	}
	if err != nil {
		return nil, fmt.Errorf("loading step %q: %w", state.ActiveStep, err)
	}

	exp, err := decodeExpected(step.Expected)
	if err != nil {
		e.logger.Warn("malformed expected spec",
			"flow", flow.Key, "step", step.Key, "error", err)
		return e.abandon(ctx, id, "malformed step", step.Key)
	}

	value, ok := exp.validate(input)
	if !ok {
		// Re-prompt, no transition: the step is idempotent to invalid input
		return &Result{Reply: stepPrompt(step, lang), Handled: true}, nil
	}

	if exp.Persist != nil && exp.Persist.Key != "" {
		if err := e.persistValue(ctx, id, exp.Persist, value); err != nil {
			return nil, err
		}
	}

	if step.NextStep == "" || step.NextStep == store.StepDone {
		return e.complete(ctx, id, flow, exp)
	}

	next, err := e.flows.GetFlowStep(ctx, flow.ID, step.NextStep)
	if errors.Is(err, store.ErrNotFound) {
		return e.abandon(ctx, id, "next step missing", step.NextStep)
	}
	if err != nil {
		return nil, fmt.Errorf("loading next step %q: %w", step.NextStep, err)
	}

	if err := e.state.Set(ctx, id, flow.Key, next.Key, nil); err != nil {
		return nil, err
	}
	e.logger.Debug("flow advanced",
		"tenant", id.TenantID, "flow", flow.Key, "from", step.Key, "to", next.Key)
	return &Result{Reply: stepPrompt(next, lang), Handled: true}, nil
}

// complete ends the flow: clears state, optionally records a completion
// flag, and reports handled with no reply.
func (e *Engine) complete(ctx context.Context, id convstate.Identity, flow *store.Flow, exp *Expected) (*Result, error) {
	if err := e.state.Clear(ctx, id); err != nil {
		return nil, err
	}
	if exp.PersistCompleteKey != "" {
		if err := e.memory.SetMemory(ctx, id.TenantID, id.Channel, id.SenderID,
			exp.PersistCompleteKey, json.RawMessage("true")); err != nil {
			return nil, fmt.Errorf("persisting completion flag: %w", err)
		}
	}
	e.logger.Info("flow completed", "tenant", id.TenantID, "flow", flow.Key)
	return &Result{Handled: true}, nil
}

// abandon clears state after a structural error and reports not handled so
// the caller's fallback responder takes over. Structural errors are never
// retried.
func (e *Engine) abandon(ctx context.Context, id convstate.Identity, reason, detail string) (*Result, error) {
	e.logger.Warn("abandoning flow", "tenant", id.TenantID, "reason", reason, "detail", detail)
	if err := e.state.Clear(ctx, id); err != nil {
		return nil, err
	}
	return notHandled, nil
}

func (e *Engine) persistValue(ctx context.Context, id convstate.Identity, spec *PersistSpec, value any) error {
	raw := spec.Value // literal override wins over the parsed value
	if len(raw) == 0 {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding persisted value for %q: %w", spec.Key, err)
		}
		raw = encoded
	}
	if err := e.memory.SetMemory(ctx, id.TenantID, id.Channel, id.SenderID, spec.Key, raw); err != nil {
		return fmt.Errorf("persisting %q: %w", spec.Key, err)
	}
	return nil
}

// stepPrompt selects the prompt for the requested language, falling back to
// whichever text the step has.
func stepPrompt(step *store.FlowStep, lang string) string {
	if lang == "es" && step.PromptES != "" {
		return step.PromptES
	}
	if step.PromptEN != "" {
		return step.PromptEN
	}
	return step.PromptES
}
