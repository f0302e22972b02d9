// ABOUTME: Parses tenant definition files and installs flows, services, and intents
// ABOUTME: Step order in the file becomes the step position; expected specs are assembled here

package flowdef

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/waveline/convocore/internal/store"
)

// Definition is one tenant's seed file.
type Definition struct {
	Tenant   string       `toml:"tenant"`
	Flows    []FlowDef    `toml:"flow"`
	Services []ServiceDef `toml:"service"`
	Intents  []IntentDef  `toml:"intent"`
}

// FlowDef declares a guided flow and its ordered steps.
type FlowDef struct {
	Key     string    `toml:"key"`
	Enabled bool      `toml:"enabled"`
	Steps   []StepDef `toml:"step"`
}

// StepDef declares one step. Next is another step key or "done"; empty also
// means terminal.
type StepDef struct {
	Key                string `toml:"key"`
	PromptEN           string `toml:"prompt_en"`
	PromptES           string `toml:"prompt_es"`
	Type               string `toml:"type"`
	PersistKey         string `toml:"persist_key"`
	PersistValue       string `toml:"persist_value"` // literal JSON override
	PersistCompleteKey string `toml:"persist_complete_key"`
	Next               string `toml:"next"`
}

// ServiceDef declares a catalog service with optional variants.
type ServiceDef struct {
	Name            string       `toml:"name"`
	Description     string       `toml:"description"`
	Price           *float64     `toml:"price"`
	Currency        *string      `toml:"currency"`
	DurationMinutes *int         `toml:"duration_minutes"`
	URL             *string      `toml:"url"`
	IsPlan          bool         `toml:"is_plan"`
	Variants        []VariantDef `toml:"variant"`
}

// VariantDef declares a size/option tier.
type VariantDef struct {
	Name      string   `toml:"name"`
	Price     *float64 `toml:"price"`
	SizeLabel *string  `toml:"size_label"`
	MinWeight *float64 `toml:"min_weight"`
	MaxWeight *float64 `toml:"max_weight"`
}

// IntentDef declares a tenant intent with example phrases.
type IntentDef struct {
	Channel  string   `toml:"channel"`
	Name     string   `toml:"name"`
	Examples []string `toml:"examples"`
	Response string   `toml:"response"`
	Language string   `toml:"language"`
	Priority int      `toml:"priority"`
}

// Parse decodes a definition from TOML.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := toml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing definition: %w", err)
	}
	if def.Tenant == "" {
		return nil, fmt.Errorf("definition is missing tenant")
	}
	return &def, nil
}

// ParseFile reads and parses a definition file.
func ParseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition file: %w", err)
	}
	return Parse(data)
}

// Install writes the definition into the store. IDs are generated here; the
// file only carries stable keys and names.
func Install(ctx context.Context, st store.Store, def *Definition) error {
	for _, f := range def.Flows {
		flowID := uuid.New().String()
		if err := st.CreateFlow(ctx, &store.Flow{
			ID:       flowID,
			TenantID: def.Tenant,
			Key:      f.Key,
			Enabled:  f.Enabled,
		}); err != nil {
			return err
		}
		for i, s := range f.Steps {
			expected, err := s.expectedJSON()
			if err != nil {
				return fmt.Errorf("step %q: %w", s.Key, err)
			}
			if err := st.CreateFlowStep(ctx, &store.FlowStep{
				ID:       uuid.New().String(),
				FlowID:   flowID,
				Key:      s.Key,
				Position: i,
				PromptEN: s.PromptEN,
				PromptES: s.PromptES,
				Expected: expected,
				NextStep: s.Next,
			}); err != nil {
				return err
			}
		}
	}

	for _, sd := range def.Services {
		serviceID := uuid.New().String()
		if err := st.CreateService(ctx, &store.Service{
			ID:              serviceID,
			TenantID:        def.Tenant,
			Name:            sd.Name,
			Description:     sd.Description,
			Price:           sd.Price,
			Currency:        sd.Currency,
			DurationMinutes: sd.DurationMinutes,
			URL:             sd.URL,
			IsPlan:          sd.IsPlan,
			Active:          true,
		}); err != nil {
			return err
		}
		for i, vd := range sd.Variants {
			if err := st.CreateVariant(ctx, &store.Variant{
				ID:        uuid.New().String(),
				ServiceID: serviceID,
				Name:      vd.Name,
				Price:     vd.Price,
				SizeLabel: vd.SizeLabel,
				MinWeight: vd.MinWeight,
				MaxWeight: vd.MaxWeight,
				Position:  i,
				Active:    true,
			}); err != nil {
				return err
			}
		}
	}

	for _, id := range def.Intents {
		if err := st.CreateIntent(ctx, &store.IntentRow{
			TenantID: def.Tenant,
			Channel:  id.Channel,
			Name:     id.Name,
			Examples: id.Examples,
			Response: id.Response,
			Language: id.Language,
			Priority: id.Priority,
			Active:   true,
		}); err != nil {
			return err
		}
	}

	return nil
}

// expectedJSON assembles the step's expected declaration. Steps with no
// type, persistence, or completion flag store no declaration at all.
func (s *StepDef) expectedJSON() (json.RawMessage, error) {
	if s.Type == "" && s.PersistKey == "" && s.PersistCompleteKey == "" {
		return nil, nil
	}

	exp := map[string]any{}
	if s.Type != "" {
		exp["type"] = s.Type
	}
	if s.PersistKey != "" {
		persist := map[string]any{"key": s.PersistKey}
		if s.PersistValue != "" {
			if !json.Valid([]byte(s.PersistValue)) {
				return nil, fmt.Errorf("persist_value is not valid JSON: %q", s.PersistValue)
			}
			persist["value"] = json.RawMessage(s.PersistValue)
		}
		exp["persist"] = persist
	}
	if s.PersistCompleteKey != "" {
		exp["persist_complete_key"] = s.PersistCompleteKey
	}
	return json.Marshal(exp)
}
