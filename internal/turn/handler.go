// ABOUTME: Handler wires the outbound guard, flow engine, catalog resolver, and intent matcher
// ABOUTME: One inbound message is one logical task; duplicate deliveries collapse to one owner

package turn

import (
	"context"
	"log/slog"
	"time"

	"github.com/waveline/convocore/internal/catalog"
	"github.com/waveline/convocore/internal/convstate"
	"github.com/waveline/convocore/internal/flow"
	"github.com/waveline/convocore/internal/intent"
	"github.com/waveline/convocore/internal/outbound"
)

// Handler is the entry surface the channel adapters call.
type Handler struct {
	engine   *flow.Engine
	resolver *catalog.Resolver
	intents  *intent.Matcher
	state    *convstate.Service
	guard    *outbound.Guard
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a handler. timeout bounds each turn's dependency calls; zero
// means no bound beyond the caller's context.
func New(engine *flow.Engine, resolver *catalog.Resolver, intents *intent.Matcher,
	state *convstate.Service, guard *outbound.Guard, timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:   engine,
		resolver: resolver,
		intents:  intents,
		state:    state,
		guard:    guard,
		timeout:  timeout,
		logger:   logger.With("component", "turn"),
	}
}

// Result of one inbound turn. Handled=false defers to an external fallback
// responder; Handled=true with an empty Reply means handled silently.
type Result struct {
	Reply   string
	Handled bool
}

// HandleTurn runs the flow engine for one inbound message. messageID, when
// non-empty, is the idempotency key: a duplicate delivery is reported as
// handled with no reply instead of being processed twice. Engine errors are
// absorbed and reported as not handled, per the rule that nothing in this
// core may be fatal to the request.
func (h *Handler) HandleTurn(ctx context.Context, tenant, channel, sender, lang, input, messageID string) *Result {
	ctx, cancel := h.bound(ctx)
	defer cancel()

	id := convstate.Identity{TenantID: tenant, Channel: channel, SenderID: sender}

	if messageID != "" {
		owns, err := h.guard.Acquire(ctx, tenant, channel, messageID)
		if err != nil {
			h.logger.Error("send reservation failed", "tenant", tenant, "error", err)
			return &Result{}
		}
		if !owns {
			return &Result{Handled: true}
		}
	}

	res, err := h.engine.HandleTurn(ctx, id, lang, input)
	if err != nil {
		h.logger.Error("flow engine failed, deferring to fallback",
			"tenant", tenant, "sender", sender, "error", err)
		return &Result{}
	}
	return &Result{Reply: res.Reply, Handled: res.Handled}
}

// ResolveCatalog loads the conversation context, resolves the catalog
// question, and persists any sticky-reference patch the resolver produced.
func (h *Handler) ResolveCatalog(ctx context.Context, tenant, channel, sender, lang, input string) *catalog.Result {
	ctx, cancel := h.bound(ctx)
	defer cancel()

	id := convstate.Identity{TenantID: tenant, Channel: channel, SenderID: sender}

	convContext := map[string]any{}
	if state, err := h.state.Get(ctx, id); err != nil {
		h.logger.Warn("context load failed, resolving without stickiness",
			"tenant", tenant, "error", err)
	} else if state != nil {
		convContext = state.Context
	}

	result := h.resolver.Resolve(ctx, tenant, input, lang, convContext)

	if result.ContextPatch != nil {
		if err := h.state.Patch(ctx, id, result.ContextPatch); err != nil {
			// Losing a sticky reference only costs a follow-up question
			h.logger.Warn("sticky reference write failed", "tenant", tenant, "error", err)
		}
	}
	return result
}

// MatchIntent classifies the input against tenant intent examples. Errors
// degrade to no match.
func (h *Handler) MatchIntent(ctx context.Context, tenant, channel, input, detectedLang string) *intent.Match {
	ctx, cancel := h.bound(ctx)
	defer cancel()

	match, err := h.intents.MatchIntent(ctx, tenant, channel, input, detectedLang)
	if err != nil {
		h.logger.Error("intent matching failed", "tenant", tenant, "error", err)
		return nil
	}
	return match
}

func (h *Handler) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.timeout)
}
