// ABOUTME: Loads active intents scoped to tenant/channel and picks the best-scoring example
// ABOUTME: The meta channel expands to meta/facebook/instagram; untagged rows match any language

package intent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/waveline/convocore/internal/store"
	"github.com/waveline/convocore/internal/textmatch"
)

// DefaultThreshold is the minimum similarity an example phrase must exceed.
const DefaultThreshold = 0.55

// IntentStore defines what the matcher needs from storage. Rows must come
// back ordered by ascending priority then id.
type IntentStore interface {
	ListActiveIntents(ctx context.Context, tenant string, channels []string) ([]*store.IntentRow, error)
}

// Match is a scored intent hit.
type Match struct {
	Intent   string
	Response string
	Score    float64
}

// Matcher classifies free text against tenant-defined intent examples.
type Matcher struct {
	store     IntentStore
	threshold float64
	logger    *slog.Logger
}

// New creates a matcher. A non-positive threshold falls back to
// DefaultThreshold.
func New(st IntentStore, threshold float64, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{
		store:     st,
		threshold: threshold,
		logger:    logger.With("component", "intent"),
	}
}

// MatchIntent returns the best intent for the input, or nil when no row
// clears the threshold. detectedLang filters rows to those whose language
// matches; rows without a language tag are always eligible. The first row
// holding the maximum score wins ties, so rows ordered by priority make
// priority the natural tie-break.
func (m *Matcher) MatchIntent(ctx context.Context, tenant, channel, input, detectedLang string) (*Match, error) {
	rows, err := m.store.ListActiveIntents(ctx, tenant, expandChannels(channel))
	if err != nil {
		return nil, fmt.Errorf("loading intents: %w", err)
	}

	var best *Match
	for _, row := range rows {
		if row.Language != "" && detectedLang != "" && row.Language != detectedLang {
			continue
		}
		hit := textmatch.BestMatch(input, row.Examples, m.threshold)
		if hit == nil {
			continue
		}
		if best == nil || hit.Score > best.Score {
			best = &Match{
				Intent:   row.Name,
				Response: row.Response,
				Score:    hit.Score,
			}
		}
	}

	if best != nil {
		m.logger.Debug("intent matched",
			"tenant", tenant, "intent", best.Intent, "score", best.Score)
	}
	return best, nil
}

// expandChannels maps the aggregate "meta" channel onto the concrete
// platforms it covers.
func expandChannels(channel string) []string {
	if channel == "meta" {
		return []string{"meta", "facebook", "instagram"}
	}
	return []string{channel}
}
