// ABOUTME: Resolver scenario tests with a deterministic fake catalog store
// ABOUTME: Covers ambiguity, sticky TTL, weight resolution, listings, and degradation paths

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveline/convocore/internal/convstate"
	"github.com/waveline/convocore/internal/store"
)

type fakeCatalog struct {
	hits      []*store.ScoredService
	searchErr error
	top       []*store.Service
	topErr    error
	variants  map[string][]*store.Variant
	services  map[string]*store.Service
}

func (f *fakeCatalog) SearchActiveServices(_ context.Context, _, _ string, limit int) ([]*store.ScoredService, error) {
	if len(f.hits) > limit {
		return f.hits[:limit], f.searchErr
	}
	return f.hits, f.searchErr
}

func (f *fakeCatalog) ListTopServices(_ context.Context, _ string, limit int) ([]*store.Service, error) {
	if len(f.top) > limit {
		return f.top[:limit], f.topErr
	}
	return f.top, f.topErr
}

func (f *fakeCatalog) GetActiveVariants(_ context.Context, serviceID string) ([]*store.Variant, error) {
	return f.variants[serviceID], nil
}

func (f *fakeCatalog) GetService(_ context.Context, id string) (*store.Service, error) {
	svc, ok := f.services[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return svc, nil
}

func groomingService() *store.Service {
	return &store.Service{
		ID: "svc-groom", TenantID: "t1", Name: "Full Grooming",
		Description: "Bath, haircut and nails",
		Price:       f64(45), Currency: str("USD"), Active: true,
	}
}

func newResolver(fake *fakeCatalog) *Resolver {
	return New(fake, DefaultConfig(), nil)
}

func scored(svc *store.Service, score float64) *store.ScoredService {
	return &store.ScoredService{Service: *svc, Score: score}
}

func TestResolve_NoNeed(t *testing.T) {
	r := newResolver(&fakeCatalog{})

	res := r.Resolve(context.Background(), "t1", "hola, buenos días", "es", nil)
	assert.False(t, res.Hit)
	assert.Equal(t, StatusNoNeed, res.Status)
}

func TestResolve_ConfidentMatch_ServiceFact(t *testing.T) {
	svc := groomingService()
	fake := &fakeCatalog{hits: []*store.ScoredService{scored(svc, 0.60)}}
	r := newResolver(fake)

	res := r.Resolve(context.Background(), "t1", "precio del grooming", "es", nil)
	require.True(t, res.Hit)
	assert.Equal(t, StatusResolved, res.Status)
	assert.Equal(t, NeedPrice, res.Need)
	require.NotNil(t, res.Facts)
	assert.Equal(t, FactService, res.Facts.Kind)
	assert.Equal(t, "Full Grooming", res.Facts.Label)
	assert.Equal(t, 45.0, *res.Facts.Price)

	// Resolution refreshes the sticky reference
	require.NotNil(t, res.ContextPatch)
	ref := res.ContextPatch[convstate.ContextKeyLastServiceRef].(*convstate.LastServiceRef)
	assert.Equal(t, convstate.RefKindService, ref.Kind)
	assert.Equal(t, "svc-groom", ref.ServiceID)
	assert.Empty(t, ref.VariantID)
}

func TestResolve_Ambiguity_CloseScores(t *testing.T) {
	a := &store.Service{ID: "svc-a", Name: "Grooming Deluxe", Active: true}
	b := &store.Service{ID: "svc-b", Name: "Grooming Basic", Active: true}
	fake := &fakeCatalog{hits: []*store.ScoredService{scored(a, 0.50), scored(b, 0.45)}}
	r := newResolver(fake)

	res := r.Resolve(context.Background(), "t1", "grooming price", "en", nil)
	require.True(t, res.Hit)
	assert.Equal(t, StatusNeedsClarification, res.Status,
		"0.50 vs 0.45: both above floor, gap under 0.08, never guess")
	assert.NotEmpty(t, res.Question)
	require.NotNil(t, res.Facts)
	assert.Equal(t, FactOptions, res.Facts.Kind)
	assert.Len(t, res.Facts.Options, 2)
	assert.Nil(t, res.ContextPatch, "no sticky update without a resolution")
}

func TestResolve_Ambiguity_BelowFloor(t *testing.T) {
	svc := groomingService()
	fake := &fakeCatalog{hits: []*store.ScoredService{scored(svc, 0.30)}}
	r := newResolver(fake)

	res := r.Resolve(context.Background(), "t1", "price of something", "en", nil)
	assert.Equal(t, StatusNeedsClarification, res.Status)
}

func TestResolve_ClearWinner_WideGap(t *testing.T) {
	a := &store.Service{ID: "svc-a", Name: "Grooming", Active: true}
	b := &store.Service{ID: "svc-b", Name: "Bath", Active: true}
	fake := &fakeCatalog{hits: []*store.ScoredService{scored(a, 0.60), scored(b, 0.40)}}
	r := newResolver(fake)

	res := r.Resolve(context.Background(), "t1", "grooming price", "en", nil)
	assert.Equal(t, StatusResolved, res.Status, "runner-up below floor cannot contest")
}

func TestResolve_NoMatch_PriceNeed_EmptyCatalog(t *testing.T) {
	fake := &fakeCatalog{} // no hits, no services at all
	r := newResolver(fake)

	res := r.Resolve(context.Background(), "t1", "precio", "es", nil)
	require.True(t, res.Hit)
	assert.Equal(t, StatusNoMatch, res.Status)
	assert.NotEmpty(t, res.Question, "asks for the service name, never fabricates a price")
	assert.Nil(t, res.Facts)
}

func TestResolve_NoMatch_ListNeed_ReturnsTopServices(t *testing.T) {
	plan := &store.Service{ID: "svc-plan", Name: "Monthly Plan", Price: f64(99), IsPlan: true, Active: true}
	bath := &store.Service{ID: "svc-bath", Name: "Bath", Price: f64(25), Active: true}
	fake := &fakeCatalog{top: []*store.Service{plan, bath}}
	r := newResolver(fake)

	res := r.Resolve(context.Background(), "t1", "what services do you offer", "en", nil)
	require.True(t, res.Hit)
	assert.Equal(t, StatusResolved, res.Status)
	require.NotNil(t, res.Facts)
	assert.Equal(t, FactOptions, res.Facts.Kind)
	require.Len(t, res.Facts.Options, 2)
	assert.Equal(t, "Monthly Plan", res.Facts.Options[0].Label)
	assert.Nil(t, res.ContextPatch, "options lists never update the sticky reference")
}

func TestResolve_SizeBasedVariants_NoHint_AsksForSize(t *testing.T) {
	svc := groomingService()
	fake := &fakeCatalog{
		hits: []*store.ScoredService{scored(svc, 0.70)},
		variants: map[string][]*store.Variant{
			"svc-groom": weightVariants(),
		},
	}
	r := newResolver(fake)

	res := r.Resolve(context.Background(), "t1", "cuánto cuesta el grooming", "es", nil)
	require.True(t, res.Hit)
	assert.Equal(t, StatusNeedsClarification, res.Status)
	assert.Contains(t, res.Question, "Full Grooming")

	// The service (not yet a variant) is remembered
	require.NotNil(t, res.ContextPatch)
	ref := res.ContextPatch[convstate.ContextKeyLastServiceRef].(*convstate.LastServiceRef)
	assert.Equal(t, convstate.RefKindService, ref.Kind)
	assert.Empty(t, ref.VariantID)
}

func TestResolve_SizeBasedVariants_WithHint_ResolvesVariant(t *testing.T) {
	svc := groomingService()
	fake := &fakeCatalog{
		hits: []*store.ScoredService{scored(svc, 0.70)},
		variants: map[string][]*store.Variant{
			"svc-groom": {
				{ID: "v-sm", ServiceID: "svc-groom", Name: "0-15 lbs", Price: f64(40), MinWeight: f64(0), MaxWeight: f64(15)},
				{ID: "v-md", ServiceID: "svc-groom", Name: "16-30 lbs", Price: f64(50), MinWeight: f64(16), MaxWeight: f64(30)},
			},
		},
	}
	r := newResolver(fake)

	res := r.Resolve(context.Background(), "t1", "grooming price for 20 lbs", "en", nil)
	require.True(t, res.Hit)
	assert.Equal(t, StatusResolved, res.Status)
	require.NotNil(t, res.Facts)
	assert.Equal(t, FactVariant, res.Facts.Kind)
	assert.Equal(t, "v-md", res.Facts.VariantID)
	assert.Equal(t, 50.0, *res.Facts.Price, "variant price wins over base price")

	ref := res.ContextPatch[convstate.ContextKeyLastServiceRef].(*convstate.LastServiceRef)
	assert.Equal(t, convstate.RefKindVariant, ref.Kind)
	assert.Equal(t, "v-md", ref.VariantID)
}

func TestResolve_OptionSetVariants_ListedWithoutAsking(t *testing.T) {
	plan := &store.Service{ID: "svc-plan", Name: "Membership", Price: f64(0), IsPlan: true, Active: true}
	fake := &fakeCatalog{
		hits: []*store.ScoredService{scored(plan, 0.70)},
		variants: map[string][]*store.Variant{
			"svc-plan": {
				{ID: "v-gold", ServiceID: "svc-plan", Name: "Gold", Price: f64(49)},
				{ID: "v-plat", ServiceID: "svc-plan", Name: "Platinum", Price: f64(99)},
			},
		},
	}
	r := newResolver(fake)

	res := r.Resolve(context.Background(), "t1", "membership price", "en", nil)
	require.True(t, res.Hit)
	assert.Equal(t, StatusResolved, res.Status)
	assert.Empty(t, res.Question, "option sets are listed, never asked about")
	require.NotNil(t, res.Facts)
	assert.Equal(t, FactOptions, res.Facts.Kind)
	require.Len(t, res.Facts.Options, 2)
	assert.Equal(t, 49.0, *res.Facts.Options[0].Price)
}

// stickyContext builds a conversation context holding a reference saved
// `age` ago, round-tripped through JSON like the real state store.
func stickyContext(t *testing.T, now time.Time, age time.Duration) map[string]any {
	t.Helper()
	ref := &convstate.LastServiceRef{
		Kind: convstate.RefKindService, Label: "Full Grooming",
		ServiceID: "svc-groom", SavedAt: now.Add(-age),
	}
	raw, err := json.Marshal(ref.ContextPatch())
	require.NoError(t, err)
	var context map[string]any
	require.NoError(t, json.Unmarshal(raw, &context))
	return context
}

func stickyFake() *fakeCatalog {
	return &fakeCatalog{
		services: map[string]*store.Service{"svc-groom": groomingService()},
		variants: map[string][]*store.Variant{
			"svc-groom": {
				{ID: "v-sm", ServiceID: "svc-groom", Name: "0-15 lbs", Price: f64(40), MinWeight: f64(0), MaxWeight: f64(15)},
				{ID: "v-md", ServiceID: "svc-groom", Name: "16-30 lbs", Price: f64(50), MinWeight: f64(16), MaxWeight: f64(30)},
				{ID: "v-lg", ServiceID: "svc-groom", Name: "31+ lbs", Price: f64(60), MinWeight: f64(31)},
			},
		},
	}
}

func TestResolve_Sticky_FreshReference_WeightReply(t *testing.T) {
	now := time.Now()
	r := newResolver(stickyFake())
	r.now = func() time.Time { return now }

	res := r.Resolve(context.Background(), "t1", "20 lbs", "en",
		stickyContext(t, now, 19*time.Minute))

	require.True(t, res.Hit, "a bare weight reply resolves against the fresh reference")
	assert.Equal(t, StatusResolved, res.Status)
	require.NotNil(t, res.Facts)
	assert.Equal(t, FactVariant, res.Facts.Kind)
	assert.Equal(t, "v-md", res.Facts.VariantID)

	// Refined reference carries the variant and a fresh timestamp
	ref := res.ContextPatch[convstate.ContextKeyLastServiceRef].(*convstate.LastServiceRef)
	assert.Equal(t, "v-md", ref.VariantID)
	assert.True(t, ref.SavedAt.Equal(now))
}

func TestResolve_Sticky_StaleReference_NotUsed(t *testing.T) {
	now := time.Now()
	r := newResolver(stickyFake())
	r.now = func() time.Time { return now }

	res := r.Resolve(context.Background(), "t1", "20 lbs", "en",
		stickyContext(t, now, 21*time.Minute))

	assert.False(t, res.Hit, "a 21-minute-old reference never influences resolution")
	assert.Equal(t, StatusNoNeed, res.Status)
}

func TestResolve_Sticky_SizeTokenReply(t *testing.T) {
	now := time.Now()
	fake := stickyFake()
	fake.variants["svc-groom"] = []*store.Variant{
		{ID: "v-s", ServiceID: "svc-groom", Name: "Small", SizeLabel: str("pequeño"), Price: f64(40)},
		{ID: "v-l", ServiceID: "svc-groom", Name: "Large", SizeLabel: str("grande"), Price: f64(60)},
	}
	r := newResolver(fake)
	r.now = func() time.Time { return now }

	res := r.Resolve(context.Background(), "t1", "grande", "es",
		stickyContext(t, now, time.Minute))

	require.True(t, res.Hit)
	assert.Equal(t, StatusResolved, res.Status)
	assert.Equal(t, "v-l", res.Facts.VariantID)
}

func TestResolve_SearchError_DegradesToNoMatch(t *testing.T) {
	fake := &fakeCatalog{searchErr: errors.New("connection refused")}
	r := newResolver(fake)

	res := r.Resolve(context.Background(), "t1", "precio del grooming", "es", nil)
	require.True(t, res.Hit)
	assert.Equal(t, StatusNoMatch, res.Status, "transient failures fall back, never propagate")
	assert.NotEmpty(t, res.Question)
}

func TestResolve_OptionsBounded(t *testing.T) {
	var top []*store.Service
	for _, name := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		top = append(top, &store.Service{ID: "svc-" + name, Name: name, Active: true})
	}
	r := New(&fakeCatalog{top: top}, DefaultConfig(), nil)

	res := r.Resolve(context.Background(), "t1", "what services do you offer", "en", nil)
	require.NotNil(t, res.Facts)
	assert.LessOrEqual(t, len(res.Facts.Options), 5)
}
