package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldercare/companion-go/pkg/storage"
	sqliteStore "github.com/eldercare/companion-go/pkg/storage/sqlite"
	"github.com/eldercare/companion-go/pkg/storage/sqlstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupSQLiteTest(t *testing.T) (*sqliteStore.Client, *testClock) {
	t.Helper()

	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, 10, 17, 10, 30, 0, 0, madrid)}
	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "companion.db"),
		Options: sqlstore.Options{
			Location: madrid,
			NodeID:   1,
			Now:      clock.Now,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })

	return store, clock
}

func countRows(t *testing.T, store *sqliteStore.Client, query string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, store.DB().QueryRow(query, args...).Scan(&n))
	return n
}

func TestSQLiteClient_SaveAndGetUser(t *testing.T) {
	store, _ := setupSQLiteTest(t)
	ctx := context.Background()

	saved, err := store.SaveUser(ctx, &storage.UserProfile{
		FirstName:            "María",
		LastName:             "López",
		Age:                  82,
		CognitiveLevel:       storage.CognitiveMild,
		BirthPlace:           "Toledo",
		EmergencyContactName: "Lucía",
		Preferences:          []byte(`{"likes":["boleros"]}`),
	})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	got, err := store.GetUser(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "María", got.FirstName)
	assert.Equal(t, storage.CognitiveMild, got.CognitiveLevel)
	assert.Equal(t, "Toledo", got.BirthPlace)
	assert.JSONEq(t, `{"likes":["boleros"]}`, string(got.Preferences))
	assert.Nil(t, got.PersonalityTraits)

	saved.LastName = "López García"
	_, err = store.SaveUser(ctx, saved)
	require.NoError(t, err)
	got, err = store.GetUser(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "López García", got.LastName)
}

func TestSQLiteClient_GetUserNotFound(t *testing.T) {
	store, _ := setupSQLiteTest(t)

	_, err := store.GetUser(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteClient_Reminders(t *testing.T) {
	store, clock := setupSQLiteTest(t)
	ctx := context.Background()
	const userID = int64(7)

	pill, err := store.CreateReminder(ctx, &storage.Reminder{
		ElderlyUserID: userID, Type: "medication", Title: "Pastilla de la tensión",
		ReminderDate: "2026-10-01", ReminderTime: "09:00", Recurrence: "daily",
	})
	require.NoError(t, err)
	assert.NotZero(t, pill.ID)

	_, err = store.CreateReminder(ctx, &storage.Reminder{
		ElderlyUserID: userID, Type: "appointment", Title: "Médico de cabecera",
		ReminderDate: "2026-10-17", ReminderTime: "12:00",
	})
	require.NoError(t, err)

	_, err = store.CreateReminder(ctx, &storage.Reminder{
		ElderlyUserID: userID, Type: "activity", Title: "Taller de memoria",
		ReminderDate: "2026-10-20", ReminderTime: "17:00",
	})
	require.NoError(t, err)

	// Another user's reminder never leaks.
	_, err = store.CreateReminder(ctx, &storage.Reminder{
		ElderlyUserID: 8, Type: "activity", Title: "Paseo",
		ReminderDate: "2026-10-17", ReminderTime: "18:00",
	})
	require.NoError(t, err)

	today, err := store.GetTodayReminders(ctx, userID)
	require.NoError(t, err)
	require.Len(t, today, 2)
	assert.Equal(t, "Pastilla de la tensión", today[0].Title)
	assert.Equal(t, "Médico de cabecera", today[1].Title)
	assert.False(t, today[0].CompletedToday)

	upcoming, err := store.GetUpcomingReminders(ctx, userID, 7)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, "Taller de memoria", upcoming[1].Title)

	all, err := store.GetReminders(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	completion, err := store.MarkReminderComplete(ctx, pill.ID, userID, userID, "con el desayuno")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-17", completion.CompletedOn)

	today, err = store.GetTodayReminders(ctx, userID)
	require.NoError(t, err)
	assert.True(t, today[0].CompletedToday)

	// The completion only counts for the day it was made.
	clock.Advance(24 * time.Hour)
	today, err = store.GetTodayReminders(ctx, userID)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.False(t, today[0].CompletedToday)
}

func TestSQLiteClient_MarkReminderCompleteWrongOwner(t *testing.T) {
	store, _ := setupSQLiteTest(t)
	ctx := context.Background()

	r, err := store.CreateReminder(ctx, &storage.Reminder{
		ElderlyUserID: 1, Type: "medication", Title: "Vitamina D", ReminderDate: "2026-10-17",
	})
	require.NoError(t, err)

	_, err = store.MarkReminderComplete(ctx, r.ID, 2, 2, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.MarkReminderComplete(ctx, 12345, 1, 1, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSQLiteClient_ConversationSummary(t *testing.T) {
	store, _ := setupSQLiteTest(t)
	ctx := context.Background()

	summary, err := store.GetConversationSummary(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, summary)

	require.NoError(t, store.SaveConversationSummary(ctx, 3, "Habló de su nieta."))
	require.NoError(t, store.SaveConversationSummary(ctx, 3, "Habló de su nieta y del huerto."))

	summary, err = store.GetConversationSummary(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Habló de su nieta y del huerto.", summary)
	assert.Equal(t, 1, countRows(t, store, "SELECT COUNT(*) FROM conversation_summaries WHERE user_id = ?", 3))
}

func TestSQLiteClient_UpsertMemoriesReinforces(t *testing.T) {
	store, clock := setupSQLiteTest(t)
	ctx := context.Background()
	const userID = int64(5)

	require.NoError(t, store.UpsertMemories(ctx, userID, []*storage.MemoryInput{
		{Type: storage.MemoryPreference, Content: "Le encantan los boleros", Importance: 3},
	}))

	clock.Advance(time.Hour)
	require.NoError(t, store.UpsertMemories(ctx, userID, []*storage.MemoryInput{
		{Type: storage.MemoryPreference, Content: "  le encantan los BOLEROS. ", Importance: 5},
	}))

	memories, err := store.GetTopMemories(ctx, userID, 12)
	require.NoError(t, err)
	require.Len(t, memories, 1)

	m := memories[0]
	assert.Equal(t, "Le encantan los boleros", m.Content)
	assert.Equal(t, 5, m.Importance)
	assert.InDelta(t, 0.7, m.Confidence, 1e-9)
	assert.Equal(t, storage.MemorySource, m.Source)
	assert.True(t, m.LastReinforcedAt.After(m.CreatedAt))
}

func TestSQLiteClient_UpsertMemoriesConfidenceCap(t *testing.T) {
	store, _ := setupSQLiteTest(t)
	ctx := context.Background()

	item := []*storage.MemoryInput{{Type: storage.MemoryRoutine, Content: "Pasea cada mañana", Importance: 4}}
	for i := 0; i < 8; i++ {
		require.NoError(t, store.UpsertMemories(ctx, 1, item))
	}

	memories, err := store.GetTopMemories(ctx, 1, 12)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.InDelta(t, 1.0, memories[0].Confidence, 1e-9)
}

func TestSQLiteClient_UpsertMemoriesConcurrent(t *testing.T) {
	store, _ := setupSQLiteTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.UpsertMemories(ctx, 9, []*storage.MemoryInput{
				{Type: storage.MemoryContact, Content: "Su hija Lucía vive en Valencia", Importance: 4},
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, countRows(t, store, "SELECT COUNT(*) FROM memories WHERE user_id = ?", 9))
}

func TestSQLiteClient_GetTopMemoriesRanking(t *testing.T) {
	store, clock := setupSQLiteTest(t)
	ctx := context.Background()

	past := clock.Now().Add(-time.Hour)
	require.NoError(t, store.UpsertMemories(ctx, 2, []*storage.MemoryInput{
		{Type: storage.MemoryFact, Content: "Nació en Toledo", Importance: 5},
		{Type: storage.MemoryPreference, Content: "Prefiere el café solo", Importance: 2},
		{Type: storage.MemoryGoal, Content: "Quiere caminar más", Importance: 4},
		{Type: storage.MemoryRoutine, Content: "Cita el martes", Importance: 5, ExpiresAt: &past},
	}))

	top, err := store.GetTopMemories(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Nació en Toledo", top[0].Content)
	assert.Equal(t, "Quiere caminar más", top[1].Content)

	all, err := store.GetTopMemories(ctx, 2, 12)
	require.NoError(t, err)
	assert.Len(t, all, 3, "expired memories are excluded")
}

func TestSQLiteClient_PurgeExpiredMemories(t *testing.T) {
	store, clock := setupSQLiteTest(t)
	ctx := context.Background()

	soon := clock.Now().Add(24 * time.Hour)
	require.NoError(t, store.UpsertMemories(ctx, 4, []*storage.MemoryInput{
		{Type: storage.MemoryRoutine, Content: "Visita de su nieto el sábado", Importance: 3, ExpiresAt: &soon},
		{Type: storage.MemoryFact, Content: "Fue maestra", Importance: 4},
	}))

	n, err := store.PurgeExpiredMemories(ctx, clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.PurgeExpiredMemories(ctx, clock.Now().Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, countRows(t, store, "SELECT COUNT(*) FROM memories WHERE user_id = ?", 4))
}

func TestSQLiteClient_ActivitiesAndChatTurns(t *testing.T) {
	store, _ := setupSQLiteTest(t)
	ctx := context.Background()

	require.NoError(t, store.CreateActivity(ctx, &storage.Activity{
		UserID: 6, ActivityType: "assistant_chat", Description: "Conversación",
	}))
	require.NoError(t, store.AppendChatTurn(ctx, 6, storage.ChatTurn{Role: storage.RoleUser, Content: "Hola"}))
	require.NoError(t, store.AppendChatTurn(ctx, 6, storage.ChatTurn{Role: storage.RoleAssistant, Content: "¡Hola!"}))

	assert.Equal(t, 1, countRows(t, store, "SELECT COUNT(*) FROM activities WHERE user_id = ?", 6))
	assert.Equal(t, 2, countRows(t, store, "SELECT COUNT(*) FROM chat_messages WHERE user_id = ?", 6))
}
