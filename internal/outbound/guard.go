// ABOUTME: Guard combines the in-process cache with the DB reservation insert
// ABOUTME: Losing the insert is a no-op success: the message is already handled, never re-sent

package outbound

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/waveline/convocore/internal/dedupe"
)

// Reserver is the atomic reservation the store provides: an insert keyed by
// (tenant, channel, message id) that does nothing on conflict. A false
// return means another concurrent attempt already owns this send.
type Reserver interface {
	ReserveOutbound(ctx context.Context, tenant, channel, messageID string) (bool, error)
}

// Guard decides whether the current attempt owns an outbound message.
type Guard struct {
	reserver Reserver
	cache    *dedupe.Cache
	logger   *slog.Logger
}

// New creates a guard. The cache may be nil, in which case every decision
// goes straight to the database.
func New(reserver Reserver, cache *dedupe.Cache, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		reserver: reserver,
		cache:    cache,
		logger:   logger.With("component", "outbound"),
	}
}

// Acquire returns true when this attempt owns the send for messageID. The
// in-process cache absorbs repeats cheaply, but the database reservation is
// the decision that matters: two concurrent attempts on different processes
// still converge to exactly one owner.
func (g *Guard) Acquire(ctx context.Context, tenant, channel, messageID string) (bool, error) {
	key := dedupe.Key(tenant, channel, messageID)
	if g.cache != nil && g.cache.Check(key) {
		g.logger.Debug("duplicate send suppressed by cache",
			"tenant", tenant, "channel", channel, "message_id", messageID)
		return false, nil
	}

	won, err := g.reserver.ReserveOutbound(ctx, tenant, channel, messageID)
	if err != nil {
		// Not marked in the cache: a retry of this message must reach the
		// reservation again.
		return false, fmt.Errorf("acquiring send reservation: %w", err)
	}
	if g.cache != nil {
		g.cache.Mark(key)
	}
	if !won {
		g.logger.Debug("duplicate send suppressed by reservation",
			"tenant", tenant, "channel", channel, "message_id", messageID)
	}
	return won, nil
}
