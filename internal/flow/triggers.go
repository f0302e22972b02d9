// ABOUTME: Entry triggers that can start a flow when no flow is active
// ABOUTME: First-contact checks a persisted completion flag; channel keywords restart unconditionally

package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/waveline/convocore/internal/convstate"
	"github.com/waveline/convocore/internal/store"
)

// Trigger decides whether an inbound turn with no active flow should start
// one. Triggers are caller-defined; the engine only evaluates them in order.
type Trigger interface {
	Evaluate(ctx context.Context, id convstate.Identity, input string) (flowKey string, ok bool, err error)
}

// FirstContactTrigger starts FlowKey when the identity has never completed
// it, tracked by a persisted boolean flag in KV memory.
type FirstContactTrigger struct {
	FlowKey      string
	CompletedKey string
	Memory       MemoryStore
}

// Evaluate fires unless the completion flag is set to true.
func (t *FirstContactTrigger) Evaluate(ctx context.Context, id convstate.Identity, _ string) (string, bool, error) {
	raw, err := t.Memory.GetMemory(ctx, id.TenantID, id.Channel, id.SenderID, t.CompletedKey)
	if errors.Is(err, store.ErrNotFound) {
		return t.FlowKey, true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %q flag: %w", t.CompletedKey, err)
	}

	var completed bool
	if err := json.Unmarshal(raw, &completed); err != nil {
		// Unreadable flag counts as not completed
		return t.FlowKey, true, nil
	}
	if completed {
		return "", false, nil
	}
	return t.FlowKey, true, nil
}

// ChannelKeywordTrigger restarts FlowKey whenever the user explicitly names
// a messaging channel, even if onboarding was already completed.
type ChannelKeywordTrigger struct {
	FlowKey string
}

// Evaluate fires when the input contains a recognized channel keyword.
func (t *ChannelKeywordTrigger) Evaluate(_ context.Context, _ convstate.Identity, input string) (string, bool, error) {
	if len(ExtractChannels(input)) == 0 {
		return "", false, nil
	}
	return t.FlowKey, true, nil
}
