// ABOUTME: The resolver pipeline: need, sticky fast path, fuzzy search, ambiguity, variants
// ABOUTME: Store failures degrade to the no-match/ask-for-name path, never propagate to the user

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/waveline/convocore/internal/convstate"
	"github.com/waveline/convocore/internal/store"
)

// CatalogStore defines what the resolver needs from the catalog. Similarity
// scoring happens behind this boundary; the resolver only sees scored rows.
type CatalogStore interface {
	SearchActiveServices(ctx context.Context, tenant, query string, limit int) ([]*store.ScoredService, error)
	ListTopServices(ctx context.Context, tenant string, limit int) ([]*store.Service, error)
	GetActiveVariants(ctx context.Context, serviceID string) ([]*store.Variant, error)
	GetService(ctx context.Context, id string) (*store.Service, error)
}

// Config holds the resolver's tuned heuristics. The floor and gap values are
// product-tuned; change them only with product guidance.
type Config struct {
	// ConfidenceFloor is the minimum top score to resolve without asking.
	ConfidenceFloor float64
	// AmbiguityGap: a runner-up within this distance of the top score (while
	// itself above the floor) forces a clarification instead of a guess.
	AmbiguityGap float64
	// MaxOptions bounds every options/disambiguation payload.
	MaxOptions int
	// StickyTTL is how long a last-service reference stays usable.
	StickyTTL time.Duration
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceFloor: 0.35,
		AmbiguityGap:    0.08,
		MaxOptions:      5,
		StickyTTL:       20 * time.Minute,
	}
}

// Resolver answers catalog questions from free text with contextual memory.
type Resolver struct {
	catalog CatalogStore
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a resolver.
func New(catalog CatalogStore, cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxOptions <= 0 {
		cfg.MaxOptions = DefaultConfig().MaxOptions
	}
	return &Resolver{
		catalog: catalog,
		cfg:     cfg,
		logger:  logger.With("component", "catalog"),
		now:     time.Now,
	}
}

// Resolve classifies the need in input and resolves it against the tenant's
// catalog, using convContext for sticky-reference lookups. It never returns
// an error: dependency failures degrade to the no-match path.
func (r *Resolver) Resolve(ctx context.Context, tenant, input, lang string, convContext map[string]any) *Result {
	ref := convstate.LastServiceRefFrom(convContext)
	fresh := ref.Fresh(r.now(), r.cfg.StickyTTL)
	hint := detectHint(input)

	need, ok := DetectNeed(input)
	if !ok {
		// A bare size/weight reply ("20 lbs", "large") right after a
		// service was discussed is still a catalog question.
		if !fresh || hint == nil {
			return &Result{Status: StatusNoNeed}
		}
		need = NeedAny
	}

	// Contextual stickiness: a fresh reference plus a variant hint resolves
	// directly against that service's variants, skipping search.
	if fresh && hint != nil {
		if result := r.resolveSticky(ctx, ref, hint, need); result != nil {
			return result
		}
	}

	hits, err := r.catalog.SearchActiveServices(ctx, tenant, input, r.cfg.MaxOptions)
	if err != nil {
		r.logger.Warn("catalog search failed", "tenant", tenant, "error", err)
		hits = nil
	}

	if len(hits) == 0 {
		return r.fallbackNoMatch(ctx, tenant, input, lang, need)
	}

	top := hits[0]
	ambiguous := top.Score < r.cfg.ConfidenceFloor ||
		(len(hits) > 1 && hits[1].Score >= r.cfg.ConfidenceFloor && top.Score-hits[1].Score < r.cfg.AmbiguityGap)
	if ambiguous {
		options := make([]Option, 0, len(hits))
		for _, hit := range hits {
			if len(options) == r.cfg.MaxOptions {
				break
			}
			svc := hit.Service
			options = append(options, serviceOption(&svc))
		}
		return &Result{
			Hit:      true,
			Status:   StatusNeedsClarification,
			Need:     need,
			Question: clarifyQuestion(lang),
			Facts:    &Facts{Kind: FactOptions, Options: options},
		}
	}

	svc := top.Service
	return r.resolveService(ctx, &svc, hint, lang, need)
}

// resolveSticky handles a follow-up against the remembered service. A nil
// return falls through to full search.
func (r *Resolver) resolveSticky(ctx context.Context, ref *convstate.LastServiceRef, hint *variantHint, need Need) *Result {
	svc, err := r.catalog.GetService(ctx, ref.ServiceID)
	if err != nil || !svc.Active {
		if err != nil {
			r.logger.Warn("sticky service lookup failed", "service_id", ref.ServiceID, "error", err)
		}
		return nil
	}
	variants, err := r.catalog.GetActiveVariants(ctx, svc.ID)
	if err != nil || len(variants) == 0 {
		if err != nil {
			r.logger.Warn("sticky variant lookup failed", "service_id", svc.ID, "error", err)
		}
		return nil
	}

	v := pickVariant(variants, hint)
	return &Result{
		Hit:          true,
		Status:       StatusResolved,
		Need:         need,
		Facts:        variantFacts(svc, v),
		ContextPatch: r.refreshRef(svc, v),
	}
}

// resolveService answers for a confidently selected service, deciding
// between a single fact, a size question, and a variant listing.
func (r *Resolver) resolveService(ctx context.Context, svc *store.Service, hint *variantHint, lang string, need Need) *Result {
	variants, err := r.catalog.GetActiveVariants(ctx, svc.ID)
	if err != nil {
		r.logger.Warn("variant lookup failed", "service_id", svc.ID, "error", err)
		variants = nil
	}

	if len(variants) == 0 {
		return &Result{
			Hit:          true,
			Status:       StatusResolved,
			Need:         need,
			Facts:        serviceFacts(svc),
			ContextPatch: r.refreshRef(svc, nil),
		}
	}

	if hint != nil {
		v := pickVariant(variants, hint)
		return &Result{
			Hit:          true,
			Status:       StatusResolved,
			Need:         need,
			Facts:        variantFacts(svc, v),
			ContextPatch: r.refreshRef(svc, v),
		}
	}

	if sizeBased(svc, variants) {
		// Ask for the size and remember the service, not yet a variant
		return &Result{
			Hit:          true,
			Status:       StatusNeedsClarification,
			Need:         need,
			Question:     sizeQuestion(lang, svc.Name),
			Facts:        &Facts{Kind: FactOptions, ServiceID: svc.ID, Label: svc.Name, Options: r.variantOptions(svc, variants)},
			ContextPatch: r.refreshRef(svc, nil),
		}
	}

	// Option sets like membership tiers: list them with prices, ask nothing.
	// Options lists do not refresh the sticky reference.
	return &Result{
		Hit:    true,
		Status: StatusResolved,
		Need:   need,
		Facts:  &Facts{Kind: FactOptions, ServiceID: svc.ID, Label: svc.Name, Options: r.variantOptions(svc, variants)},
	}
}

// fallbackNoMatch handles an empty search: a listing when the need implies
// one, otherwise a request to name the service.
func (r *Resolver) fallbackNoMatch(ctx context.Context, tenant, input, lang string, need Need) *Result {
	if need == NeedList || need == NeedPrice || plansPhrasing(input) {
		services, err := r.catalog.ListTopServices(ctx, tenant, r.cfg.MaxOptions)
		if err != nil {
			r.logger.Warn("service listing failed", "tenant", tenant, "error", err)
			services = nil
		}
		if len(services) > 0 {
			options := make([]Option, 0, len(services))
			for _, svc := range services {
				options = append(options, serviceOption(svc))
			}
			return &Result{
				Hit:    true,
				Status: StatusResolved,
				Need:   need,
				Facts:  &Facts{Kind: FactOptions, Options: options},
			}
		}
	}
	return &Result{
		Hit:      true,
		Status:   StatusNoMatch,
		Need:     need,
		Question: nameQuestion(lang),
	}
}

func (r *Resolver) variantOptions(svc *store.Service, variants []*store.Variant) []Option {
	options := make([]Option, 0, len(variants))
	for _, v := range variants {
		if len(options) == r.cfg.MaxOptions {
			break
		}
		options = append(options, variantOption(svc, v))
	}
	return options
}

// refreshRef builds the context patch that updates the sticky reference
// with a fresh timestamp.
func (r *Resolver) refreshRef(svc *store.Service, v *store.Variant) map[string]any {
	ref := &convstate.LastServiceRef{
		Kind:      convstate.RefKindService,
		Label:     svc.Name,
		ServiceID: svc.ID,
		SavedAt:   r.now(),
	}
	if v != nil {
		ref.Kind = convstate.RefKindVariant
		ref.VariantID = v.ID
	}
	return ref.ContextPatch()
}

func nameQuestion(lang string) string {
	if lang == "es" {
		return "¿Sobre qué servicio te gustaría saber? Dime el nombre y te paso los detalles."
	}
	return "Which service would you like to know about? Tell me the name and I'll get you the details."
}

func sizeQuestion(lang, serviceName string) string {
	if lang == "es" {
		return fmt.Sprintf("¿Para qué tamaño necesitas %s?", serviceName)
	}
	return fmt.Sprintf("What size do you need for %s?", serviceName)
}

func clarifyQuestion(lang string) string {
	if lang == "es" {
		return "Encontré varias opciones parecidas, ¿a cuál te refieres?"
	}
	return "I found a few similar options, which one did you mean?"
}
