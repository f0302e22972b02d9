// ABOUTME: Tests for the flow engine: triggers, validation retries, transitions, completion
// ABOUTME: Exercises the onboarding select_channel scenario end to end against a real store

package flow

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveline/convocore/internal/convstate"
	"github.com/waveline/convocore/internal/store"
)

var testID = convstate.Identity{TenantID: "t1", Channel: "whatsapp", SenderID: "u1"}

type fixture struct {
	store  *store.SQLiteStore
	state  *convstate.Service
	engine *Engine
}

func setupEngine(t *testing.T, triggers []Trigger) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	state := convstate.New(st, nil)
	return &fixture{
		store:  st,
		state:  state,
		engine: New(st, st, state, triggers, nil),
	}
}

// seedOnboarding installs a three-step onboarding flow:
// welcome (free text) -> select_channel (channel_choice) -> confirm (terminal).
func seedOnboarding(t *testing.T, st *store.SQLiteStore, enabled bool) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.CreateFlow(ctx, &store.Flow{
		ID: "f-onb", TenantID: "t1", Key: "onboarding", Enabled: enabled,
	}))
	require.NoError(t, st.CreateFlowStep(ctx, &store.FlowStep{
		ID: "s-welcome", FlowID: "f-onb", Key: "welcome", Position: 0,
		PromptEN: "What's your business called?",
		PromptES: "¿Cómo se llama tu negocio?",
		Expected: json.RawMessage(`{"persist":{"key":"business_name"}}`),
		NextStep: "select_channel",
	}))
	require.NoError(t, st.CreateFlowStep(ctx, &store.FlowStep{
		ID: "s-chan", FlowID: "f-onb", Key: "select_channel", Position: 1,
		PromptEN: "Which channels do you want to connect?",
		PromptES: "¿Qué canales quieres conectar?",
		Expected: json.RawMessage(`{"type":"channel_choice","persist":{"key":"channels_selected"}}`),
		NextStep: "confirm",
	}))
	require.NoError(t, st.CreateFlowStep(ctx, &store.FlowStep{
		ID: "s-confirm", FlowID: "f-onb", Key: "confirm", Position: 2,
		PromptEN: "All set! Say anything to finish.",
		Expected: json.RawMessage(`{"persist_complete_key":"onboarding_completed"}`),
		NextStep: store.StepDone,
	}))
}

func TestEngine_NoFlowNoTriggers_NotHandled(t *testing.T) {
	fx := setupEngine(t, nil)

	res, err := fx.engine.HandleTurn(context.Background(), testID, "en", "hola")
	require.NoError(t, err)
	assert.False(t, res.Handled)
	assert.Empty(t, res.Reply)
}

func TestEngine_FirstContactTrigger_StartsFlow(t *testing.T) {
	fx := setupEngine(t, nil)
	seedOnboarding(t, fx.store, true)
	fx.engine = New(fx.store, fx.store, fx.state, []Trigger{
		&FirstContactTrigger{FlowKey: "onboarding", CompletedKey: "onboarding_completed", Memory: fx.store},
	}, nil)
	ctx := context.Background()

	res, err := fx.engine.HandleTurn(ctx, testID, "en", "hi")
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Equal(t, "What's your business called?", res.Reply)

	state, err := fx.state.Get(ctx, testID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "onboarding", state.ActiveFlow)
	assert.Equal(t, "welcome", state.ActiveStep)
}

func TestEngine_FirstContactTrigger_SkipsCompleted(t *testing.T) {
	fx := setupEngine(t, nil)
	seedOnboarding(t, fx.store, true)
	fx.engine = New(fx.store, fx.store, fx.state, []Trigger{
		&FirstContactTrigger{FlowKey: "onboarding", CompletedKey: "onboarding_completed", Memory: fx.store},
	}, nil)
	ctx := context.Background()

	require.NoError(t, fx.store.SetMemory(ctx, "t1", "whatsapp", "u1",
		"onboarding_completed", json.RawMessage(`true`)))

	res, err := fx.engine.HandleTurn(ctx, testID, "en", "hi")
	require.NoError(t, err)
	assert.False(t, res.Handled)
}

func TestEngine_SelectChannel_InvalidThenValid(t *testing.T) {
	fx := setupEngine(t, nil)
	seedOnboarding(t, fx.store, true)
	ctx := context.Background()

	require.NoError(t, fx.state.Set(ctx, testID, "onboarding", "select_channel", nil))

	// "idk" carries no channel keyword: same prompt, state unchanged
	res, err := fx.engine.HandleTurn(ctx, testID, "en", "idk")
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Equal(t, "Which channels do you want to connect?", res.Reply)

	state, err := fx.state.Get(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "select_channel", state.ActiveStep)

	// Invalid input is retryable indefinitely
	for i := 0; i < 3; i++ {
		res, err = fx.engine.HandleTurn(ctx, testID, "en", "still no idea")
		require.NoError(t, err)
		assert.Equal(t, "Which channels do you want to connect?", res.Reply)
	}

	// "whatsapp" advances exactly one step and persists the selection
	res, err = fx.engine.HandleTurn(ctx, testID, "en", "whatsapp")
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Equal(t, "All set! Say anything to finish.", res.Reply)

	state, err = fx.state.Get(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "confirm", state.ActiveStep)

	raw, err := fx.store.GetMemory(ctx, "t1", "whatsapp", "u1", "channels_selected")
	require.NoError(t, err)
	assert.JSONEq(t, `["whatsapp"]`, string(raw))
}

func TestEngine_Terminal_ClearsStateAndPersistsFlag(t *testing.T) {
	fx := setupEngine(t, nil)
	seedOnboarding(t, fx.store, true)
	ctx := context.Background()

	require.NoError(t, fx.state.Set(ctx, testID, "onboarding", "confirm", nil))

	res, err := fx.engine.HandleTurn(ctx, testID, "en", "ok")
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Empty(t, res.Reply, "terminal step is handled silently")

	state, err := fx.state.Get(ctx, testID)
	require.NoError(t, err)
	assert.Nil(t, state, "terminal step clears conversation state")

	raw, err := fx.store.GetMemory(ctx, "t1", "whatsapp", "u1", "onboarding_completed")
	require.NoError(t, err)
	assert.Equal(t, "true", string(raw))
}

func TestEngine_FreeTextStep_PersistsTrimmedText(t *testing.T) {
	fx := setupEngine(t, nil)
	seedOnboarding(t, fx.store, true)
	ctx := context.Background()

	require.NoError(t, fx.state.Set(ctx, testID, "onboarding", "welcome", nil))

	res, err := fx.engine.HandleTurn(ctx, testID, "es", "  Pet Paradise  ")
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Equal(t, "¿Qué canales quieres conectar?", res.Reply, "spanish prompt selected")

	raw, err := fx.store.GetMemory(ctx, "t1", "whatsapp", "u1", "business_name")
	require.NoError(t, err)
	assert.Equal(t, `"Pet Paradise"`, string(raw))
}

func TestEngine_DisabledFlow_ClearsAndDefers(t *testing.T) {
	fx := setupEngine(t, nil)
	seedOnboarding(t, fx.store, false)
	ctx := context.Background()

	require.NoError(t, fx.state.Set(ctx, testID, "onboarding", "welcome", nil))

	res, err := fx.engine.HandleTurn(ctx, testID, "en", "hello")
	require.NoError(t, err)
	assert.False(t, res.Handled)

	state, err := fx.state.Get(ctx, testID)
	require.NoError(t, err)
	assert.Nil(t, state, "structural errors clear state")
}

func TestEngine_MissingFlowDefinition_ClearsAndDefers(t *testing.T) {
	fx := setupEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, fx.state.Set(ctx, testID, "ghost-flow", "step-1", nil))

	res, err := fx.engine.HandleTurn(ctx, testID, "en", "hello")
	require.NoError(t, err)
	assert.False(t, res.Handled)

	state, err := fx.state.Get(ctx, testID)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestEngine_MissingStep_ClearsAndDefers(t *testing.T) {
	fx := setupEngine(t, nil)
	seedOnboarding(t, fx.store, true)
	ctx := context.Background()

	require.NoError(t, fx.state.Set(ctx, testID, "onboarding", "ghost-step", nil))

	res, err := fx.engine.HandleTurn(ctx, testID, "en", "hello")
	require.NoError(t, err)
	assert.False(t, res.Handled)
}

func TestEngine_ChannelKeywordTrigger_RestartsEvenWhenCompleted(t *testing.T) {
	fx := setupEngine(t, nil)
	seedOnboarding(t, fx.store, true)
	fx.engine = New(fx.store, fx.store, fx.state, []Trigger{
		&ChannelKeywordTrigger{FlowKey: "onboarding"},
		&FirstContactTrigger{FlowKey: "onboarding", CompletedKey: "onboarding_completed", Memory: fx.store},
	}, nil)
	ctx := context.Background()

	require.NoError(t, fx.store.SetMemory(ctx, "t1", "whatsapp", "u1",
		"onboarding_completed", json.RawMessage(`true`)))

	res, err := fx.engine.HandleTurn(ctx, testID, "en", "can I also connect instagram?")
	require.NoError(t, err)
	assert.True(t, res.Handled, "naming a channel restarts the flow after completion")
	assert.Equal(t, "What's your business called?", res.Reply)
}

func TestExtractChannels(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"whatsapp please", []string{ChannelWhatsApp}},
		{"I want WhatsApp and Instagram", []string{ChannelWhatsApp, ChannelInstagram}},
		{"fb", []string{ChannelFacebook}},
		{"insta please", []string{ChannelInstagram}},
		{"un instante", nil},
		{"fabuloso", nil},
		{"all three", []string{ChannelWhatsApp, ChannelInstagram, ChannelFacebook}},
		{"los tres por favor", []string{ChannelWhatsApp, ChannelInstagram, ChannelFacebook}},
		{"idk", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractChannels(tt.input))
		})
	}
}

func TestExpected_UnknownTypeAcceptsText(t *testing.T) {
	exp := &Expected{Type: "future_widget"}
	value, ok := exp.validate("  some reply ")
	assert.True(t, ok)
	assert.Equal(t, "some reply", value)
}
