package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldercare/companion-go/pkg/core"
	"github.com/eldercare/companion-go/pkg/llm"
	"github.com/eldercare/companion-go/pkg/llm/llmtest"
	"github.com/eldercare/companion-go/pkg/rules"
	"github.com/eldercare/companion-go/pkg/safety"
	"github.com/eldercare/companion-go/pkg/storage"
	"github.com/eldercare/companion-go/pkg/storage/memstore"
	"github.com/eldercare/companion-go/pkg/tools"
)

var madrid = mustLocation("Europe/Madrid")

var fixedNow = time.Date(2026, 10, 17, 9, 5, 0, 0, madrid)

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type fixedRand struct{}

func (fixedRand) IntN(int) int { return 0 }

// script routes the main conversation through chat steps and answers background calls
// by their shape: JSON mode is memory extraction, no tools is the summary.
type script struct {
	mu       sync.Mutex
	chat     []llmtest.Step
	memories string
	summary  string
}

func newProvider(s *script) *llmtest.Provider {
	if s.memories == "" {
		s.memories = `{"memories":[]}`
	}
	if s.summary == "" {
		s.summary = "María habló de su día."
	}
	p := llmtest.New()
	p.Responder = func(_ []llm.Message, opts *llm.GenerateOptions) llmtest.Step {
		switch {
		case opts.JSONMode:
			return llmtest.Text(s.memories)
		case len(opts.Tools) == 0:
			return llmtest.Text(s.summary)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.chat) == 0 {
			return llmtest.Fail(llmtest.ErrExhausted)
		}
		step := s.chat[0]
		s.chat = s.chat[1:]
		return step
	}
	return p
}

func chatRequests(p *llmtest.Provider) []llmtest.Request {
	var out []llmtest.Request
	for _, r := range p.Requests() {
		if len(r.Options.Tools) > 0 {
			out = append(out, r)
		}
	}
	return out
}

type fixture struct {
	client *core.Client
	store  *memstore.Store
	user   *storage.UserProfile
}

func setup(t *testing.T, provider llm.Provider, opts ...core.Option) *fixture {
	t.Helper()
	return setupRepo(t, provider, func(s *memstore.Store) storage.Repository { return s }, opts...)
}

// setupRepo is setup with the repository seen by the client wrapped by wrap.
func setupRepo(t *testing.T, provider llm.Provider, wrap func(*memstore.Store) storage.Repository, opts ...core.Option) *fixture {
	t.Helper()
	store := memstore.New(memstore.WithClock(func() time.Time { return fixedNow }), memstore.WithLocation(madrid))
	ctx := context.Background()

	user, err := store.SaveUser(ctx, &storage.UserProfile{
		ID:                    7,
		FirstName:             "María",
		Age:                   82,
		ChildhoodHome:         "Un pueblo de Soria",
		EmergencyContactName:  "Lucía",
		EmergencyContactPhone: "600111222",
	})
	require.NoError(t, err)
	_, err = store.CreateReminder(ctx, &storage.Reminder{
		ElderlyUserID: 7, Type: tools.MedicationType, Title: "Pastilla de la tensión",
		ReminderDate: "2026-10-17", ReminderTime: "09:00", Recurrence: "daily",
	})
	require.NoError(t, err)
	_, err = store.CreateReminder(ctx, &storage.Reminder{
		ElderlyUserID: 7, Type: "appointment", Title: "Médico de cabecera",
		ReminderDate: "2026-10-20", ReminderTime: "11:00",
	})
	require.NoError(t, err)

	base := []core.Option{
		core.WithClock(func() time.Time { return fixedNow }),
		core.WithLocation(madrid),
		core.WithRand(fixedRand{}),
		core.WithRetryBackoff(time.Millisecond),
		core.WithSummaryDraw(func() float64 { return 0.99 }),
	}
	client, err := core.NewClient(core.DefaultConfig(), wrap(store), provider, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return &fixture{client: client, store: store, user: user}
}

func (f *fixture) reply(t *testing.T, message string) *core.Response {
	t.Helper()
	resp, err := f.client.Reply(context.Background(), message, core.ChatContext{User: f.user})
	require.NoError(t, err)
	f.client.Wait()
	return resp
}

func TestReply_EmergencySkipsModel(t *testing.T) {
	p := newProvider(&script{chat: []llmtest.Step{llmtest.Text("no debería usarse")}})
	f := setup(t, p)

	for _, msg := range []string{
		"me duele mucho el pecho",
		"No puedo respirar bien",
		"quiero morir",
		"¿Qué hora es? Tengo un dolor fuerte en el pecho",
	} {
		resp := f.reply(t, msg)
		assert.Equal(t, core.RouteEmergency, resp.Route, msg)
		assert.Contains(t, resp.Text, "112", msg)
	}
	assert.Zero(t, p.Calls())
}

func TestReply_EmergencyAppendsContact(t *testing.T) {
	f := setup(t, newProvider(&script{}))

	resp := f.reply(t, "Me duele mucho el pecho")

	assert.Equal(t, safety.ChestPain, resp.Category)
	assert.True(t, strings.HasPrefix(resp.Text, safety.EmergencyMessage("112")))
	assert.Contains(t, resp.Text, "Lucía (600111222)")

	acts := f.store.Activities(7)
	require.Len(t, acts, 1)
	assert.Equal(t, core.ActivityEmergency, acts[0].ActivityType)
	assert.Equal(t, string(safety.ChestPain), acts[0].Description)

	turns := f.store.ChatTurns(7)
	require.Len(t, turns, 2)
	assert.Equal(t, storage.RoleUser, turns[0].Role)
	assert.Equal(t, resp.Text, turns[1].Content)
}

func TestReply_TimeQuestionIsQuickRule(t *testing.T) {
	p := newProvider(&script{})
	f := setup(t, p)

	resp := f.reply(t, "¿Qué hora es?")

	assert.Equal(t, core.RouteQuickRule, resp.Route)
	assert.Equal(t, rules.RuleDateTime, resp.Rule)
	assert.True(t, strings.HasPrefix(resp.Text, "María, ahora son las 09:05."), resp.Text)
	assert.Contains(t, resp.Text, "sábado, 17 de octubre de 2026")
	assert.Zero(t, p.Calls())

	acts := f.store.Activities(7)
	require.Len(t, acts, 1)
	assert.Equal(t, core.ActivityQuickReply, acts[0].ActivityType)
}

func TestReply_ToolRoundTrip(t *testing.T) {
	p := newProvider(&script{chat: []llmtest.Step{
		llmtest.Tools(llm.ToolCall{ID: "call_1", Name: tools.GetUpcomingReminders, Arguments: `{"days":7}`}),
		llmtest.Text("El lunes 20 a las 11:00 tienes el médico de cabecera."),
	}})
	f := setup(t, p)

	resp := f.reply(t, "cómo van mis medicinas")

	assert.Equal(t, core.RouteLLM, resp.Route)
	assert.Equal(t, "El lunes 20 a las 11:00 tienes el médico de cabecera.", resp.Text)
	assert.Equal(t, 2, resp.Rounds)
	assert.Equal(t, []string{tools.GetUpcomingReminders}, resp.ToolCalls)

	reqs := chatRequests(p)
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.GreaterOrEqual(t, len(msgs), 2)

	call := msgs[len(msgs)-2]
	assert.Equal(t, llm.RoleAssistant, call.Role)
	require.Len(t, call.ToolCalls, 1)

	result := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleTool, result.Role)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, tools.GetUpcomingReminders, result.Name)
	assert.Contains(t, result.Content, "Médico de cabecera")
}

// failingReminders is a repository whose reminder lookups are unavailable.
type failingReminders struct {
	*memstore.Store
}

func (failingReminders) GetUpcomingReminders(context.Context, int64, int) ([]*storage.Reminder, error) {
	return nil, errors.New("database down")
}

func TestReply_ToolFailureReachesModel(t *testing.T) {
	p := newProvider(&script{chat: []llmtest.Step{
		llmtest.Tools(llm.ToolCall{ID: "call_1", Name: tools.GetUpcomingReminders, Arguments: `{"days":7}`}),
		llmtest.Text("Ahora no puedo consultar tu agenda, María. Pregúntale a Lucía."),
	}})
	f := setupRepo(t, p, func(s *memstore.Store) storage.Repository { return failingReminders{Store: s} })

	resp := f.reply(t, "cómo van mis medicinas")

	assert.Equal(t, core.RouteLLM, resp.Route)
	assert.Equal(t, "Ahora no puedo consultar tu agenda, María. Pregúntale a Lucía.", resp.Text)
	assert.Equal(t, 2, resp.Rounds)
	assert.Equal(t, []string{tools.GetUpcomingReminders}, resp.ToolCalls)

	reqs := chatRequests(p)
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	result := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleTool, result.Role)
	assert.JSONEq(t, `{"error":"tool_failed"}`, result.Content)
	assert.Len(t, f.store.ChatTurns(7), 2)
}

func TestReply_ToolRoundsAreBounded(t *testing.T) {
	loop := llmtest.Step{Completion: &llm.Completion{
		Content:   "Déjame mirarlo otra vez.",
		ToolCalls: []llm.ToolCall{{ID: "c", Name: tools.GetTodayReminders, Arguments: `{}`}},
	}}
	p := newProvider(&script{chat: []llmtest.Step{loop, loop, loop, loop}})
	f := setup(t, p)

	resp := f.reply(t, "¿Qué pastillas tengo hoy?")

	assert.Equal(t, core.RouteLLM, resp.Route)
	assert.Equal(t, "Déjame mirarlo otra vez.", resp.Text)
	assert.Equal(t, 3, resp.Rounds)
	assert.Len(t, resp.ToolCalls, 2)
	assert.Len(t, chatRequests(p), 3)
}

func TestReply_DosageAdviceIsOverridden(t *testing.T) {
	p := newProvider(&script{chat: []llmtest.Step{llmtest.Text("Puedes aumentar la dosis de tu pastilla si te duele.")}})
	f := setup(t, p)

	resp := f.reply(t, "Me duele la rodilla, ¿qué hago con la medicación?")

	assert.True(t, resp.SafetyOverride)
	assert.Equal(t, safety.SafeDosageRedirect, resp.Text)
	turns := f.store.ChatTurns(7)
	require.Len(t, turns, 2)
	assert.Equal(t, safety.SafeDosageRedirect, turns[1].Content)
}

func TestReply_ProviderFailureFallsBackOffline(t *testing.T) {
	p := llmtest.New()
	p.Responder = func([]llm.Message, *llm.GenerateOptions) llmtest.Step {
		return llmtest.Fail(&llm.StatusError{StatusCode: 503, Err: errors.New("unavailable")})
	}
	f := setup(t, p)

	resp, err := f.client.Reply(context.Background(), "Cuéntame algo de mi pueblo", core.ChatContext{User: f.user})
	f.client.Wait()

	require.Error(t, err)
	var aerr *core.AssistantError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "Reply", aerr.Op)
	assert.Equal(t, core.RouteOffline, resp.Route)
	assert.NotEmpty(t, strings.TrimSpace(resp.Text))
	assert.Equal(t, 2, p.Calls(), "one try plus one retry")

	text := f.client.GenerateResponse(context.Background(), "¿Y mañana qué tengo?", core.ChatContext{User: f.user})
	assert.NotEmpty(t, text)
}

func TestReply_EmptyCompletionFallsBack(t *testing.T) {
	p := newProvider(&script{chat: []llmtest.Step{llmtest.Text("   ")}})
	f := setup(t, p)

	resp, err := f.client.Reply(context.Background(), "Háblame de algo", core.ChatContext{User: f.user})
	f.client.Wait()

	assert.ErrorIs(t, err, core.ErrEmptyCompletion)
	assert.Equal(t, core.RouteOffline, resp.Route)
	assert.NotEmpty(t, resp.Text)
}

func TestReply_OfflineClient(t *testing.T) {
	f := setup(t, nil)
	assert.True(t, f.client.Offline())

	resp, err := f.client.Reply(context.Background(), "¿Me recuerdas mis pastillas?", core.ChatContext{User: f.user})
	f.client.Wait()

	assert.ErrorIs(t, err, core.ErrNoProvider)
	assert.Equal(t, core.RouteOffline, resp.Route)
	assert.NotEmpty(t, resp.Text)
	assert.Len(t, f.store.ChatTurns(7), 2)
}

func TestReply_NilUser(t *testing.T) {
	f := setup(t, nil)

	resp, err := f.client.Reply(context.Background(), "hola", core.ChatContext{})
	f.client.Wait()

	assert.ErrorIs(t, err, core.ErrNoProvider)
	assert.NotEmpty(t, resp.Text)
	assert.NotEmpty(t, resp.TurnID)
}

func TestReply_PromptCarriesContext(t *testing.T) {
	p := newProvider(&script{chat: []llmtest.Step{llmtest.Text("¡Qué bonito recuerdo!")}})
	f := setup(t, p)
	ctx := context.Background()
	require.NoError(t, f.store.SaveConversationSummary(ctx, 7, "Ayer habló de su huerto."))
	require.NoError(t, f.store.UpsertMemories(ctx, 7, []*storage.MemoryInput{
		{Type: storage.MemoryFact, Content: "Le encantan las rosas", Importance: 4},
	}))

	history := []storage.ChatTurn{
		{Role: storage.RoleUser, Content: "Hoy he regado las plantas"},
		{Role: storage.RoleAssistant, Content: "¡Qué bien, María!"},
	}
	_, err := f.client.Reply(ctx, "Me acuerdo de cuando era niña en el pueblo", core.ChatContext{User: f.user, MessageHistory: history})
	require.NoError(t, err)
	f.client.Wait()

	reqs := chatRequests(p)
	require.Len(t, reqs, 1)
	var all strings.Builder
	for _, m := range reqs[0].Messages {
		all.WriteString(m.Content)
		all.WriteString("\n")
	}
	assert.Contains(t, all.String(), "Ayer habló de su huerto.")
	assert.Contains(t, all.String(), "Le encantan las rosas")
	assert.Contains(t, all.String(), "Hoy he regado las plantas")

	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, "Me acuerdo de cuando era niña en el pueblo", last.Content)
}

func TestReply_BackgroundUpdatesMemoryAndSummary(t *testing.T) {
	p := newProvider(&script{
		chat:     []llmtest.Step{llmtest.Text("¡Qué recuerdo tan bonito!")},
		memories: `{"memories":[{"type":"FACT","content":"De niña jugaba en el campo con sus hermanos","importance":4}]}`,
		summary:  "María recordó su infancia en el campo con sus hermanos.",
	})
	f := setup(t, p, core.WithSummaryDraw(func() float64 { return 0 }))

	f.reply(t, "De niña jugaba en el campo con mis hermanos")

	memories, err := f.store.GetTopMemories(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "De niña jugaba en el campo con sus hermanos", memories[0].Content)

	summary, err := f.store.GetConversationSummary(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "María recordó su infancia en el campo con sus hermanos.", summary)
}

func TestReply_SummarySkippedWhenTriggerDoesNotFire(t *testing.T) {
	p := newProvider(&script{chat: []llmtest.Step{llmtest.Text("Muy bien.")}})
	f := setup(t, p)

	f.reply(t, "Hoy ha hecho sol")

	summary, err := f.store.GetConversationSummary(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestReply_CancelledRequestStillPersists(t *testing.T) {
	f := setup(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.client.Reply(ctx, "hola", core.ChatContext{User: f.user})
	cancel()
	f.client.Wait()

	assert.ErrorIs(t, err, core.ErrNoProvider)
	assert.Len(t, f.store.ChatTurns(7), 2)
}
