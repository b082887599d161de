package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldercare/companion-go/pkg/llm"
	"github.com/eldercare/companion-go/pkg/storage"
	"github.com/eldercare/companion-go/pkg/storage/memstore"
	"github.com/eldercare/companion-go/pkg/tools"
)

func setupRouter(t *testing.T) (*tools.Router, *memstore.Store) {
	t.Helper()
	now := time.Date(2026, 10, 17, 10, 30, 0, 0, time.UTC)
	store := memstore.New(memstore.WithClock(func() time.Time { return now }), memstore.WithLocation(time.UTC))
	ctx := context.Background()

	_, err := store.SaveUser(ctx, &storage.UserProfile{
		ID:                    7,
		FirstName:             "María",
		EmergencyContactName:  "Lucía",
		EmergencyContactPhone: "600111222",
	})
	require.NoError(t, err)
	_, err = store.SaveUser(ctx, &storage.UserProfile{ID: 8, FirstName: "Pedro"})
	require.NoError(t, err)

	for _, r := range []*storage.Reminder{
		{ElderlyUserID: 7, Type: "medication", Title: "Pastilla de la tensión", ReminderDate: "2026-10-17", ReminderTime: "09:00", Recurrence: "daily"},
		{ElderlyUserID: 7, Type: "appointment", Title: "Médico de cabecera", ReminderDate: "2026-10-20", ReminderTime: "11:00"},
		{ElderlyUserID: 8, Type: "medication", Title: "Otra persona", ReminderDate: "2026-10-17", ReminderTime: "08:00"},
	} {
		_, err := store.CreateReminder(ctx, r)
		require.NoError(t, err)
	}
	return tools.NewRouter(store), store
}

func decode(t *testing.T, content string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(content), &out), content)
	return out
}

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call_1", Name: name, Arguments: args}
}

func TestDefinitions(t *testing.T) {
	defs := tools.Definitions()
	require.Len(t, defs, 7)

	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
		assert.NotEmpty(t, d.Description)
		assert.Equal(t, "object", d.Parameters["type"])
	}
	for _, n := range []string{
		tools.GetTodayReminders, tools.GetUpcomingReminders, tools.GetUserMedications,
		tools.GetEmergencyContact, tools.CreateReminder, tools.MarkReminderComplete, tools.LogInteraction,
	} {
		assert.True(t, names[n], n)
	}
}

func TestExecute_TodayRemindersFillsMissingUser(t *testing.T) {
	r, _ := setupRouter(t)

	res := r.Execute(context.Background(), 7, call(tools.GetTodayReminders, `{}`))

	require.True(t, res.OK(), res.Err)
	out := decode(t, res.Content)
	reminders := out["reminders"].([]interface{})
	require.Len(t, reminders, 1)
	assert.Equal(t, "Pastilla de la tensión", reminders[0].(map[string]interface{})["title"])
}

func TestExecute_AcceptsOwnIDAsNumberOrString(t *testing.T) {
	r, _ := setupRouter(t)

	for _, args := range []string{`{"elderlyUserId":7}`, `{"elderlyUserId":"7"}`, `{"elderlyUserId":null}`} {
		res := r.Execute(context.Background(), 7, call(tools.GetTodayReminders, args))
		assert.True(t, res.OK(), args)
	}
}

func TestExecute_RejectsOtherUser(t *testing.T) {
	r, store := setupRouter(t)
	ctx := context.Background()

	for _, name := range []string{
		tools.GetTodayReminders, tools.GetUpcomingReminders, tools.GetUserMedications,
		tools.GetEmergencyContact, tools.CreateReminder, tools.LogInteraction,
	} {
		res := r.Execute(ctx, 7, call(name, `{"elderlyUserId":8,"action":"x","reminder":{"type":"call","title":"t","reminderDate":"2026-10-18","reminderTime":"10:00"}}`))
		assert.False(t, res.OK(), name)
		assert.True(t, errors.Is(res.Err, storage.ErrForbidden), name)
		assert.Equal(t, map[string]interface{}{"error": "forbidden"}, decode(t, res.Content))
	}

	reminders, err := store.GetReminders(ctx, 8)
	require.NoError(t, err)
	assert.Len(t, reminders, 1, "nothing was created for the other user")
	assert.Empty(t, store.Activities(8))
}

func TestExecute_UpcomingDaysClamped(t *testing.T) {
	r, _ := setupRouter(t)
	ctx := context.Background()

	out := decode(t, r.Execute(ctx, 7, call(tools.GetUpcomingReminders, `{"days":500}`)).Content)
	assert.EqualValues(t, tools.MaxUpcomingDays, out["days"])

	out = decode(t, r.Execute(ctx, 7, call(tools.GetUpcomingReminders, `{"days":"soon"}`)).Content)
	assert.EqualValues(t, tools.DefaultUpcomingDays, out["days"])
	assert.Len(t, out["reminders"], 2)
}

func TestExecute_Medications(t *testing.T) {
	r, _ := setupRouter(t)

	out := decode(t, r.Execute(context.Background(), 7, call(tools.GetUserMedications, ``)).Content)

	meds := out["medications"].([]interface{})
	require.Len(t, meds, 1)
	assert.Equal(t, "medication", meds[0].(map[string]interface{})["type"])
}

func TestExecute_EmergencyContact(t *testing.T) {
	r, _ := setupRouter(t)
	ctx := context.Background()

	out := decode(t, r.Execute(ctx, 7, call(tools.GetEmergencyContact, `{}`)).Content)
	contact := out["contact"].(map[string]interface{})
	assert.Equal(t, "Lucía", contact["name"])
	assert.Equal(t, "600111222", contact["phone"])

	out = decode(t, r.Execute(ctx, 8, call(tools.GetEmergencyContact, `{}`)).Content)
	assert.Nil(t, out["contact"])

	res := r.Execute(ctx, 99, call(tools.GetEmergencyContact, `{}`))
	assert.ErrorIs(t, res.Err, storage.ErrNotFound)
	assert.Equal(t, map[string]interface{}{"error": "not_found"}, decode(t, res.Content))
}

func TestExecute_CreateReminder(t *testing.T) {
	r, store := setupRouter(t)
	ctx := context.Background()

	res := r.Execute(ctx, 7, call(tools.CreateReminder, `{"reminder":{"elderlyUserId":8,"type":"call","title":"Llamar a Lucía","reminderDate":"2026-10-18","reminderTime":"18:30"}}`))

	require.True(t, res.OK(), res.Err)
	out := decode(t, res.Content)
	assert.Equal(t, true, out["ok"])
	created := out["reminder"].(map[string]interface{})
	assert.Equal(t, "none", created["recurrence"])

	mine, err := store.GetReminders(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, mine, 3, "nested user ids are ignored; the reminder belongs to the caller")
}

func TestExecute_CreateReminderValidation(t *testing.T) {
	r, store := setupRouter(t)
	ctx := context.Background()

	cases := map[string]string{
		"missing reminder": `{}`,
		"bad date":         `{"reminder":{"type":"call","title":"x","reminderDate":"18/10/2026","reminderTime":"18:30"}}`,
		"bad time":         `{"reminder":{"type":"call","title":"x","reminderDate":"2026-10-18","reminderTime":"6pm"}}`,
		"bad type":         `{"reminder":{"type":"party","title":"x","reminderDate":"2026-10-18","reminderTime":"18:30"}}`,
		"bad recurrence":   `{"reminder":{"type":"call","title":"x","reminderDate":"2026-10-18","reminderTime":"18:30","recurrence":"hourly"}}`,
		"not json":         `{"reminder":`,
	}
	for name, args := range cases {
		res := r.Execute(ctx, 7, call(tools.CreateReminder, args))
		assert.ErrorIs(t, res.Err, tools.ErrInvalidArguments, name)
		out := decode(t, res.Content)
		assert.Equal(t, "invalid_arguments", out["error"], name)
		assert.NotEmpty(t, out["details"], name)
	}

	mine, err := store.GetReminders(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestExecute_MarkReminderComplete(t *testing.T) {
	r, store := setupRouter(t)
	ctx := context.Background()

	today, err := store.GetTodayReminders(ctx, 7)
	require.NoError(t, err)
	require.Len(t, today, 1)
	id := today[0].ID

	res := r.Execute(ctx, 7, call(tools.MarkReminderComplete, `{"reminderId":"`+jsonInt(id)+`","notes":"con el desayuno"}`))
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, true, decode(t, res.Content)["ok"])

	today, err = store.GetTodayReminders(ctx, 7)
	require.NoError(t, err)
	assert.True(t, today[0].CompletedToday)
}

func TestExecute_MarkReminderCompleteOfOtherUser(t *testing.T) {
	r, store := setupRouter(t)
	ctx := context.Background()

	theirs, err := store.GetReminders(ctx, 8)
	require.NoError(t, err)

	res := r.Execute(ctx, 7, call(tools.MarkReminderComplete, `{"reminderId":`+jsonInt(theirs[0].ID)+`}`))

	assert.ErrorIs(t, res.Err, storage.ErrNotFound)
	assert.Equal(t, map[string]interface{}{"error": "not_found"}, decode(t, res.Content))
}

func TestExecute_LogInteraction(t *testing.T) {
	r, store := setupRouter(t)

	res := r.Execute(context.Background(), 7, call(tools.LogInteraction, `{"action":"memory_exercise","detail":"palabras"}`))

	require.True(t, res.OK(), res.Err)
	acts := store.Activities(7)
	require.Len(t, acts, 1)
	assert.Equal(t, "memory_exercise", acts[0].ActivityType)
}

func TestExecute_UnknownTool(t *testing.T) {
	r, _ := setupRouter(t)

	res := r.Execute(context.Background(), 7, call("delete_everything", `{}`))

	assert.ErrorIs(t, res.Err, tools.ErrUnknownTool)
	assert.Equal(t, map[string]interface{}{"error": "unknown_tool"}, decode(t, res.Content))
}

func TestExecute_GarbageArgumentsNeverPanic(t *testing.T) {
	r, _ := setupRouter(t)
	ctx := context.Background()

	for _, def := range tools.Definitions() {
		for _, args := range []string{``, `null`, `[]`, `"x"`, `{"elderlyUserId":{}}`, `{{{`} {
			res := r.Execute(ctx, 7, call(def.Name, args))
			var v map[string]interface{}
			assert.NoError(t, json.Unmarshal([]byte(res.Content), &v), "%s %s", def.Name, args)
		}
	}
}

func jsonInt(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

var errDatabaseDown = errors.New("database down")

// unavailableStore fails every reminder lookup.
type unavailableStore struct {
	*memstore.Store
}

func (unavailableStore) GetUpcomingReminders(context.Context, int64, int) ([]*storage.Reminder, error) {
	return nil, errDatabaseDown
}

func TestExecute_RepositoryFailureIsToolFailed(t *testing.T) {
	_, store := setupRouter(t)
	r := tools.NewRouter(unavailableStore{Store: store})

	res := r.Execute(context.Background(), 7, call(tools.GetUpcomingReminders, `{"days": 3}`))

	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err, errDatabaseDown)
	assert.Equal(t, "tool_failed", decode(t, res.Content)["error"])
	assert.NotContains(t, res.Content, "database down")
}
