// ABOUTME: Typed accessor for the sticky last_service_ref stored inside the context blob
// ABOUTME: References are only usable within a freshness TTL measured against saved_at

package convstate

import (
	"encoding/json"
	"time"
)

// ContextKeyLastServiceRef is the context key holding the sticky reference
// to the last service or variant discussed.
const ContextKeyLastServiceRef = "last_service_ref"

// Reference kinds.
const (
	RefKindService = "service"
	RefKindVariant = "variant"
)

// LastServiceRef points at the most recently resolved service or variant so
// a short follow-up reply ("large", "20 lbs") can resolve without the user
// repeating the service name.
type LastServiceRef struct {
	Kind      string    `json:"kind"`
	Label     string    `json:"label"`
	ServiceID string    `json:"service_id"`
	VariantID string    `json:"variant_id,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
}

// Fresh reports whether the reference was saved within ttl of now. Stale
// references must not influence resolution.
func (r *LastServiceRef) Fresh(now time.Time, ttl time.Duration) bool {
	if r == nil || r.SavedAt.IsZero() {
		return false
	}
	return now.Sub(r.SavedAt) < ttl
}

// LastServiceRefFrom extracts the sticky reference from a context map, or
// nil when absent or malformed.
func LastServiceRefFrom(context map[string]any) *LastServiceRef {
	raw, ok := context[ContextKeyLastServiceRef]
	if !ok {
		return nil
	}
	// The value arrives as map[string]any after a JSON round-trip; re-encode
	// to decode into the typed struct.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var ref LastServiceRef
	if err := json.Unmarshal(encoded, &ref); err != nil {
		return nil
	}
	if ref.ServiceID == "" {
		return nil
	}
	return &ref
}

// ContextPatch returns the shallow patch that stores this reference.
func (r *LastServiceRef) ContextPatch() map[string]any {
	return map[string]any{ContextKeyLastServiceRef: r}
}
