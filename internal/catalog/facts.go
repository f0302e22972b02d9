// ABOUTME: Result and fact types returned by the resolver
// ABOUTME: Facts carry only values present in the catalog; missing fields stay nil

package catalog

import "github.com/waveline/convocore/internal/store"

// Status describes the resolver outcome.
type Status string

const (
	// StatusNoNeed means the text carried no catalog question; Hit is false.
	StatusNoNeed Status = "no_need"
	// StatusResolved means Facts holds a service, variant, or options answer.
	StatusResolved Status = "resolved"
	// StatusNeedsClarification means Question must be asked before resolving.
	StatusNeedsClarification Status = "needs_clarification"
	// StatusNoMatch means nothing matched and Question asks for the service name.
	StatusNoMatch Status = "no_match"
)

// FactKind tags the Facts variant.
type FactKind string

const (
	FactService FactKind = "service" // single service, no variant
	FactVariant FactKind = "variant" // service plus a specific size/option
	FactOptions FactKind = "options" // disambiguation/listing payload
)

// Option is one labeled entry in an options payload.
type Option struct {
	Label     string
	ServiceID string
	VariantID string
	Price     *float64
	Currency  *string
}

// Facts is the structured answer payload handed to an external responder.
// All value fields are nullable: the resolver never fabricates a price,
// duration, or URL that is not in the catalog.
type Facts struct {
	Kind            FactKind
	Label           string
	ServiceID       string
	VariantID       string
	Price           *float64
	Currency        *string
	DurationMinutes *int
	Includes        *string
	URL             *string
	Options         []Option
}

// Result is the outcome of one resolution attempt. ContextPatch, when
// non-nil, must be shallow-merged into the conversation context by the
// caller to refresh the sticky service reference.
type Result struct {
	Hit          bool
	Status       Status
	Need         Need
	Facts        *Facts
	Question     string
	ContextPatch map[string]any
}

func serviceFacts(svc *store.Service) *Facts {
	f := &Facts{
		Kind:            FactService,
		Label:           svc.Name,
		ServiceID:       svc.ID,
		Price:           svc.Price,
		Currency:        svc.Currency,
		DurationMinutes: svc.DurationMinutes,
		URL:             svc.URL,
	}
	if svc.Description != "" {
		desc := svc.Description
		f.Includes = &desc
	}
	return f
}

func variantFacts(svc *store.Service, v *store.Variant) *Facts {
	f := serviceFacts(svc)
	f.Kind = FactVariant
	f.Label = svc.Name + " " + v.Name
	f.VariantID = v.ID
	if v.Price != nil {
		f.Price = v.Price
	}
	return f
}

func serviceOption(svc *store.Service) Option {
	return Option{
		Label:     svc.Name,
		ServiceID: svc.ID,
		Price:     svc.Price,
		Currency:  svc.Currency,
	}
}

func variantOption(svc *store.Service, v *store.Variant) Option {
	opt := Option{
		Label:     v.Name,
		ServiceID: svc.ID,
		VariantID: v.ID,
		Price:     v.Price,
		Currency:  svc.Currency,
	}
	if opt.Price == nil {
		opt.Price = svc.Price
	}
	return opt
}
