// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Schema is created on open; catalog search scores trigram similarity over fetched rows

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes writers; SQLite would otherwise surface
	// SQLITE_BUSY under concurrent reservation inserts
	db.SetMaxOpenConns(1)

	// WAL for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_state (
			tenant_id   TEXT NOT NULL,
			channel     TEXT NOT NULL,
			sender_id   TEXT NOT NULL,
			active_flow TEXT NOT NULL DEFAULT '',
			active_step TEXT NOT NULL DEFAULT '',
			context     TEXT NOT NULL DEFAULT '{}',
			updated_at  DATETIME NOT NULL,
			PRIMARY KEY (tenant_id, channel, sender_id)
		);

		CREATE TABLE IF NOT EXISTS memory (
			tenant_id  TEXT NOT NULL,
			channel    TEXT NOT NULL,
			sender_id  TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (tenant_id, channel, sender_id, key)
		);

		CREATE TABLE IF NOT EXISTS flows (
			id        TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			flow_key  TEXT NOT NULL,
			enabled   INTEGER NOT NULL DEFAULT 1
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_flows_tenant_key
			ON flows(tenant_id, flow_key);

		CREATE TABLE IF NOT EXISTS flow_steps (
			id        TEXT PRIMARY KEY,
			flow_id   TEXT NOT NULL,
			step_key  TEXT NOT NULL,
			position  INTEGER NOT NULL,
			prompt_en TEXT NOT NULL,
			prompt_es TEXT NOT NULL,
			expected  TEXT,
			next_step TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (flow_id) REFERENCES flows(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_flow_steps_flow_key
			ON flow_steps(flow_id, step_key);

		CREATE TABLE IF NOT EXISTS services (
			id               TEXT PRIMARY KEY,
			tenant_id        TEXT NOT NULL,
			name             TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			price            REAL,
			currency         TEXT,
			duration_minutes INTEGER,
			url              TEXT,
			is_plan          INTEGER NOT NULL DEFAULT 0,
			active           INTEGER NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_services_tenant ON services(tenant_id, active);

		CREATE TABLE IF NOT EXISTS variants (
			id         TEXT PRIMARY KEY,
			service_id TEXT NOT NULL,
			name       TEXT NOT NULL,
			price      REAL,
			size_label TEXT,
			min_weight REAL,
			max_weight REAL,
			position   INTEGER NOT NULL DEFAULT 0,
			active     INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (service_id) REFERENCES services(id)
		);

		CREATE INDEX IF NOT EXISTS idx_variants_service ON variants(service_id, active);

		CREATE TABLE IF NOT EXISTS intents (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			channel   TEXT NOT NULL,
			name      TEXT NOT NULL,
			examples  TEXT NOT NULL,
			response  TEXT NOT NULL,
			language  TEXT NOT NULL DEFAULT '',
			priority  INTEGER NOT NULL DEFAULT 0,
			active    INTEGER NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_intents_tenant_channel
			ON intents(tenant_id, channel, active);

		CREATE TABLE IF NOT EXISTS outbound_reservations (
			tenant_id  TEXT NOT NULL,
			channel    TEXT NOT NULL,
			message_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (tenant_id, channel, message_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Conversation state ---

func (s *SQLiteStore) GetConversationState(ctx context.Context, tenant, channel, sender string) (*ConversationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT active_flow, active_step, context, updated_at
		FROM conversation_state
		WHERE tenant_id = ? AND channel = ? AND sender_id = ?`,
		tenant, channel, sender)

	state := &ConversationState{
		TenantID: tenant,
		Channel:  channel,
		SenderID: sender,
	}
	var contextJSON string
	err := row.Scan(&state.ActiveFlow, &state.ActiveStep, &contextJSON, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation state: %w", err)
	}
	state.Context = json.RawMessage(contextJSON)
	return state, nil
}

func (s *SQLiteStore) UpsertConversationState(ctx context.Context, state *ConversationState) error {
	contextJSON := string(state.Context)
	if contextJSON == "" {
		contextJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_state (tenant_id, channel, sender_id, active_flow, active_step, context, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, channel, sender_id) DO UPDATE SET
			active_flow = excluded.active_flow,
			active_step = excluded.active_step,
			context     = excluded.context,
			updated_at  = excluded.updated_at`,
		state.TenantID, state.Channel, state.SenderID,
		state.ActiveFlow, state.ActiveStep, contextJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting conversation state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteConversationState(ctx context.Context, tenant, channel, sender string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM conversation_state
		WHERE tenant_id = ? AND channel = ? AND sender_id = ?`,
		tenant, channel, sender)
	if err != nil {
		return fmt.Errorf("deleting conversation state: %w", err)
	}
	return nil
}

// --- KV memory ---

func (s *SQLiteStore) GetMemory(ctx context.Context, tenant, channel, sender, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM memory
		WHERE tenant_id = ? AND channel = ? AND sender_id = ? AND key = ?`,
		tenant, channel, sender, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying memory key %q: %w", key, err)
	}
	return json.RawMessage(value), nil
}

func (s *SQLiteStore) SetMemory(ctx context.Context, tenant, channel, sender, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory (tenant_id, channel, sender_id, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, channel, sender_id, key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at`,
		tenant, channel, sender, key, string(value), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting memory key %q: %w", key, err)
	}
	return nil
}

// --- Flows ---

func (s *SQLiteStore) CreateFlow(ctx context.Context, flow *Flow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flows (id, tenant_id, flow_key, enabled)
		VALUES (?, ?, ?, ?)`,
		flow.ID, flow.TenantID, flow.Key, boolToInt(flow.Enabled))
	if err != nil {
		return fmt.Errorf("creating flow %q: %w", flow.Key, err)
	}
	return nil
}

func (s *SQLiteStore) CreateFlowStep(ctx context.Context, step *FlowStep) error {
	var expected any
	if len(step.Expected) > 0 {
		expected = string(step.Expected)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flow_steps (id, flow_id, step_key, position, prompt_en, prompt_es, expected, next_step)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.FlowID, step.Key, step.Position,
		step.PromptEN, step.PromptES, expected, step.NextStep)
	if err != nil {
		return fmt.Errorf("creating flow step %q: %w", step.Key, err)
	}
	return nil
}

func (s *SQLiteStore) GetFlow(ctx context.Context, tenant, flowKey string) (*Flow, error) {
	flow := &Flow{TenantID: tenant, Key: flowKey}
	var enabled int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, enabled FROM flows
		WHERE tenant_id = ? AND flow_key = ?`,
		tenant, flowKey).Scan(&flow.ID, &enabled)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying flow %q: %w", flowKey, err)
	}
	flow.Enabled = enabled != 0
	return flow, nil
}

func (s *SQLiteStore) GetFlowStep(ctx context.Context, flowID, stepKey string) (*FlowStep, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, step_key, position, prompt_en, prompt_es, expected, next_step
		FROM flow_steps
		WHERE flow_id = ? AND step_key = ?`,
		flowID, stepKey)
	return scanFlowStep(row)
}

func (s *SQLiteStore) GetFirstStep(ctx context.Context, flowID string) (*FlowStep, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, step_key, position, prompt_en, prompt_es, expected, next_step
		FROM flow_steps
		WHERE flow_id = ?
		ORDER BY position ASC
		LIMIT 1`,
		flowID)
	return scanFlowStep(row)
}

func scanFlowStep(row *sql.Row) (*FlowStep, error) {
	step := &FlowStep{}
	var expected sql.NullString
	err := row.Scan(&step.ID, &step.FlowID, &step.Key, &step.Position,
		&step.PromptEN, &step.PromptES, &expected, &step.NextStep)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning flow step: %w", err)
	}
	if expected.Valid {
		step.Expected = json.RawMessage(expected.String)
	}
	return step, nil
}

// --- Catalog ---

func (s *SQLiteStore) CreateService(ctx context.Context, svc *Service) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, tenant_id, name, description, price, currency, duration_minutes, url, is_plan, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		svc.ID, svc.TenantID, svc.Name, svc.Description,
		svc.Price, svc.Currency, svc.DurationMinutes, svc.URL,
		boolToInt(svc.IsPlan), boolToInt(svc.Active))
	if err != nil {
		return fmt.Errorf("creating service %q: %w", svc.Name, err)
	}
	return nil
}

func (s *SQLiteStore) CreateVariant(ctx context.Context, v *Variant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variants (id, service_id, name, price, size_label, min_weight, max_weight, position, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ServiceID, v.Name, v.Price, v.SizeLabel,
		v.MinWeight, v.MaxWeight, v.Position, boolToInt(v.Active))
	if err != nil {
		return fmt.Errorf("creating variant %q: %w", v.Name, err)
	}
	return nil
}

func (s *SQLiteStore) GetService(ctx context.Context, id string) (*Service, error) {
	svc := &Service{ID: id}
	var isPlan, active int
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, name, description, price, currency, duration_minutes, url, is_plan, active
		FROM services
		WHERE id = ?`,
		id).Scan(&svc.TenantID, &svc.Name, &svc.Description,
		&svc.Price, &svc.Currency, &svc.DurationMinutes, &svc.URL, &isPlan, &active)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying service %q: %w", id, err)
	}
	svc.IsPlan = isPlan != 0
	svc.Active = active != 0
	return svc, nil
}

// SearchActiveServices scores every active service of the tenant against the
// query with trigram similarity over name and description, and returns the
// top hits in descending score order. Ties are broken by name for
// deterministic results.
func (s *SQLiteStore) SearchActiveServices(ctx context.Context, tenant, query string, limit int) ([]*ScoredService, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, price, currency, duration_minutes, url, is_plan
		FROM services
		WHERE tenant_id = ? AND active = 1`,
		tenant)
	if err != nil {
		return nil, fmt.Errorf("querying services: %w", err)
	}
	defer rows.Close()

	var hits []*ScoredService
	for rows.Next() {
		svc, err := scanService(rows, tenant)
		if err != nil {
			return nil, err
		}
		score := trigramSimilarity(query, svc.Name)
		if svc.Description != "" {
			if descScore := trigramSimilarity(query, svc.Description); descScore > score {
				score = descScore
			}
		}
		if score > 0 {
			hits = append(hits, &ScoredService{Service: *svc, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating services: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Name < hits[j].Name
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ListTopServices returns up to limit active services for the tenant with
// plans ordered first, then alphabetically.
func (s *SQLiteStore) ListTopServices(ctx context.Context, tenant string, limit int) ([]*Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, price, currency, duration_minutes, url, is_plan
		FROM services
		WHERE tenant_id = ? AND active = 1
		ORDER BY is_plan DESC, name ASC
		LIMIT ?`,
		tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		svc, err := scanService(rows, tenant)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating services: %w", err)
	}
	return services, nil
}

func scanService(rows *sql.Rows, tenant string) (*Service, error) {
	svc := &Service{TenantID: tenant, Active: true}
	var isPlan int
	err := rows.Scan(&svc.ID, &svc.Name, &svc.Description,
		&svc.Price, &svc.Currency, &svc.DurationMinutes, &svc.URL, &isPlan)
	if err != nil {
		return nil, fmt.Errorf("scanning service: %w", err)
	}
	svc.IsPlan = isPlan != 0
	return svc, nil
}

func (s *SQLiteStore) GetActiveVariants(ctx context.Context, serviceID string) ([]*Variant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, size_label, min_weight, max_weight, position
		FROM variants
		WHERE service_id = ? AND active = 1
		ORDER BY position ASC, name ASC`,
		serviceID)
	if err != nil {
		return nil, fmt.Errorf("querying variants: %w", err)
	}
	defer rows.Close()

	var variants []*Variant
	for rows.Next() {
		v := &Variant{ServiceID: serviceID, Active: true}
		if err := rows.Scan(&v.ID, &v.Name, &v.Price, &v.SizeLabel,
			&v.MinWeight, &v.MaxWeight, &v.Position); err != nil {
			return nil, fmt.Errorf("scanning variant: %w", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating variants: %w", err)
	}
	return variants, nil
}

// --- Intents ---

func (s *SQLiteStore) CreateIntent(ctx context.Context, row *IntentRow) error {
	examples, err := json.Marshal(row.Examples)
	if err != nil {
		return fmt.Errorf("encoding intent examples: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO intents (tenant_id, channel, name, examples, response, language, priority, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.TenantID, row.Channel, row.Name, string(examples),
		row.Response, row.Language, row.Priority, boolToInt(row.Active))
	if err != nil {
		return fmt.Errorf("creating intent %q: %w", row.Name, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		row.ID = id
	}
	return nil
}

// ListActiveIntents returns active intents for the tenant across the given
// channels, ordered by ascending priority then id so callers can use
// first-wins tie-breaking.
func (s *SQLiteStore) ListActiveIntents(ctx context.Context, tenant string, channels []string) ([]*IntentRow, error) {
	if len(channels) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, channel, name, examples, response, language, priority
		FROM intents
		WHERE tenant_id = ? AND active = 1 AND channel IN (?` +
		repeatPlaceholder(len(channels)-1) + `)
		ORDER BY priority ASC, id ASC`

	args := make([]any, 0, len(channels)+1)
	args = append(args, tenant)
	for _, ch := range channels {
		args = append(args, ch)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying intents: %w", err)
	}
	defer rows.Close()

	var intents []*IntentRow
	for rows.Next() {
		row := &IntentRow{TenantID: tenant, Active: true}
		var examples string
		if err := rows.Scan(&row.ID, &row.Channel, &row.Name, &examples,
			&row.Response, &row.Language, &row.Priority); err != nil {
			return nil, fmt.Errorf("scanning intent: %w", err)
		}
		if err := json.Unmarshal([]byte(examples), &row.Examples); err != nil {
			// Malformed examples make the row unmatchable, not fatal
			s.logger.Warn("skipping intent with malformed examples",
				"intent_id", row.ID, "error", err)
			continue
		}
		intents = append(intents, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating intents: %w", err)
	}
	return intents, nil
}

// --- Outbound reservations ---

// ReserveOutbound atomically claims the right to send the message identified
// by (tenant, channel, messageID). The insert does nothing on conflict; zero
// rows affected means another concurrent attempt already owns this send and
// the caller must treat the message as handled rather than re-send.
func (s *SQLiteStore) ReserveOutbound(ctx context.Context, tenant, channel, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO outbound_reservations (tenant_id, channel, message_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, channel, message_id) DO NOTHING`,
		tenant, channel, messageID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("reserving outbound message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking reservation result: %w", err)
	}
	return affected == 1, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
