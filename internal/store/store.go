// ABOUTME: Store interface and data types for convocore persistence
// ABOUTME: Defines conversation state, flow, catalog, and intent rows plus the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ConversationState is the per-identity session row. ActiveFlow and
// ActiveStep are empty when no guided flow is in progress. Context is an
// opaque JSON object that accumulates keys across turns; merging happens in
// the convstate service, not here.
type ConversationState struct {
	TenantID   string
	Channel    string
	SenderID   string
	ActiveFlow string
	ActiveStep string
	Context    json.RawMessage
	UpdatedAt  time.Time
}

// Flow is a tenant-scoped, enable-able guided dialogue sequence.
type Flow struct {
	ID       string
	TenantID string
	Key      string
	Enabled  bool
}

// StepDone marks a terminal transition in FlowStep.NextStep.
const StepDone = "done"

// FlowStep is one prompt/validation/transition unit within a Flow.
// Expected is the raw JSON validation/persistence declaration interpreted by
// the flow engine. NextStep is another step key, or empty/StepDone for a
// terminal step. Steps are immutable during a session.
type FlowStep struct {
	ID       string
	FlowID   string
	Key      string
	Position int
	PromptEN string
	PromptES string
	Expected json.RawMessage
	NextStep string
}

// Service is a catalog entry. Price, Currency, DurationMinutes, and URL are
// nullable: the resolver never fabricates a missing value.
type Service struct {
	ID              string
	TenantID        string
	Name            string
	Description     string
	Price           *float64
	Currency        *string
	DurationMinutes *int
	URL             *string
	IsPlan          bool
	Active          bool
}

// Variant is a size/option tier of a Service. MinWeight/MaxWeight are the
// optional structured bounds (pounds) some tenants declare; others encode
// sizes only in the variant name.
type Variant struct {
	ID        string
	ServiceID string
	Name      string
	Price     *float64
	SizeLabel *string
	MinWeight *float64
	MaxWeight *float64
	Position  int
	Active    bool
}

// ScoredService is a search hit with its trigram similarity score.
type ScoredService struct {
	Service
	Score float64
}

// IntentRow is a tenant- and channel-scoped intent definition with ordered
// example phrases. Priority is an ordering tie-break: lower sorts first.
type IntentRow struct {
	ID       int64
	TenantID string
	Channel  string
	Name     string
	Examples []string
	Response string
	Language string
	Priority int
	Active   bool
}

// Store defines the persistence operations the conversational core needs.
type Store interface {
	// Conversation state (uniqueness on tenant/channel/sender, full-row upsert)
	GetConversationState(ctx context.Context, tenant, channel, sender string) (*ConversationState, error)
	UpsertConversationState(ctx context.Context, state *ConversationState) error
	DeleteConversationState(ctx context.Context, tenant, channel, sender string) error

	// Generic KV memory keyed by (tenant, channel, sender, key)
	GetMemory(ctx context.Context, tenant, channel, sender, key string) (json.RawMessage, error)
	SetMemory(ctx context.Context, tenant, channel, sender, key string, value json.RawMessage) error

	// Flows
	CreateFlow(ctx context.Context, flow *Flow) error
	CreateFlowStep(ctx context.Context, step *FlowStep) error
	GetFlow(ctx context.Context, tenant, flowKey string) (*Flow, error)
	GetFlowStep(ctx context.Context, flowID, stepKey string) (*FlowStep, error)
	GetFirstStep(ctx context.Context, flowID string) (*FlowStep, error)

	// Catalog
	CreateService(ctx context.Context, svc *Service) error
	CreateVariant(ctx context.Context, v *Variant) error
	GetService(ctx context.Context, id string) (*Service, error)
	SearchActiveServices(ctx context.Context, tenant, query string, limit int) ([]*ScoredService, error)
	ListTopServices(ctx context.Context, tenant string, limit int) ([]*Service, error)
	GetActiveVariants(ctx context.Context, serviceID string) ([]*Variant, error)

	// Intents
	CreateIntent(ctx context.Context, row *IntentRow) error
	ListActiveIntents(ctx context.Context, tenant string, channels []string) ([]*IntentRow, error)

	// Outbound send reservation. Returns true when this caller won the
	// insert and owns the send; false when another attempt already holds
	// the reservation and the message must be treated as handled.
	ReserveOutbound(ctx context.Context, tenant, channel, messageID string) (bool, error)

	Close() error
}
