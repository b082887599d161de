package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/eldercare/companion-go/pkg/storage"
)

const (
	dateLayout = "2006-01-02"

	// memoryScanWindow bounds how many live memories are ranked in process per lookup.
	memoryScanWindow = 500
)

var (
	userColumns = []string{
		"id", "first_name", "last_name", "age", "date_of_birth", "cognitive_level",
		"birth_place", "childhood_home", "childhood_memories", "family_background",
		"siblings", "parents", "significant_life_events", "profession", "hobbies",
		"favorite_memories", "emergency_contact_name", "emergency_contact_phone",
		"emergency_contact", "preferences", "personality_traits",
	}

	memoryColumns = []string{
		"id", "user_id", "memory_type", "content", "content_hash", "importance", "confidence",
		"source", "created_at", "last_reinforced_at", "expires_at",
	}

	reminderSelect = `SELECT r.id, r.elderly_user_id, r.reminder_type, r.title, r.description,
		r.reminder_date, r.reminder_time, r.recurrence, r.created_at,
		EXISTS (SELECT 1 FROM reminder_completions c WHERE c.reminder_id = r.id AND c.completed_on = ?)
		FROM reminders r`
)

// Options tunes a Store.
type Options struct {
	// Location is the time zone used to decide what "today" is. Defaults to time.Local.
	Location *time.Location

	// NodeID is the snowflake node ID (0-1023) used for row IDs.
	NodeID int64

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Store implements storage.Repository on a *sql.DB.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	node     *snowflake.Node
	location *time.Location
	now      func() time.Time
}

var _ storage.Repository = (*Store)(nil)

// New wraps db, creates the schema if needed and returns the Store.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts Options) (*Store, error) {
	node, err := snowflake.NewNode(opts.NodeID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: snowflake node: %w", err)
	}

	s := &Store{
		db:       db,
		dialect:  dialect,
		node:     node,
		location: opts.Location,
		now:      opts.Now,
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}

	for _, stmt := range dialect.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("sqlstore: %s schema: %w", dialect.Name(), err)
		}
	}

	return s, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) q(query string) string {
	return Rebind(s.dialect, query)
}

// timestamp is the UTC, second-precision clock value written to every time column.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Store) today() string {
	return s.now().In(s.location).Format(dateLayout)
}

// GetUser returns the profile of userID.
func (s *Store) GetUser(ctx context.Context, userID int64) (*storage.UserProfile, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = ?", strings.Join(userColumns, ", "))

	var (
		u                  storage.UserProfile
		cognitive          string
		preferences, trait string
	)
	err := s.db.QueryRowContext(ctx, s.q(query), userID).Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Age, &u.DateOfBirth, &cognitive,
		&u.BirthPlace, &u.ChildhoodHome, &u.ChildhoodMemories, &u.FamilyBackground,
		&u.Siblings, &u.Parents, &u.SignificantLifeEvents, &u.Profession, &u.Hobbies,
		&u.FavoriteMemories, &u.EmergencyContactName, &u.EmergencyContactPhone,
		&u.EmergencyContact, &preferences, &trait,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetUser: %w", err)
	}

	u.CognitiveLevel = storage.CognitiveLevel(cognitive)
	if preferences != "" {
		u.Preferences = json.RawMessage(preferences)
	}
	if trait != "" {
		u.PersonalityTraits = json.RawMessage(trait)
	}
	return &u, nil
}

// SaveUser inserts or replaces a profile. A zero ID is assigned a new one.
func (s *Store) SaveUser(ctx context.Context, u *storage.UserProfile) (*storage.UserProfile, error) {
	if u.ID == 0 {
		u.ID = s.node.Generate().Int64()
	}
	cognitive := string(u.CognitiveLevel)
	if cognitive == "" {
		cognitive = string(storage.CognitiveNormal)
	}

	query := s.dialect.Upsert("users", userColumns, []string{"id"}, userColumns[1:])
	_, err := s.db.ExecContext(ctx, s.q(query),
		u.ID, u.FirstName, u.LastName, u.Age, u.DateOfBirth, cognitive,
		u.BirthPlace, u.ChildhoodHome, u.ChildhoodMemories, u.FamilyBackground,
		u.Siblings, u.Parents, u.SignificantLifeEvents, u.Profession, u.Hobbies,
		u.FavoriteMemories, u.EmergencyContactName, u.EmergencyContactPhone,
		u.EmergencyContact, string(u.Preferences), string(u.PersonalityTraits),
	)
	if err != nil {
		return nil, fmt.Errorf("SaveUser: %w", err)
	}
	return u, nil
}

// GetTodayReminders returns reminders dated today plus daily reminders that already started.
func (s *Store) GetTodayReminders(ctx context.Context, userID int64) ([]*storage.Reminder, error) {
	today := s.today()
	query := reminderSelect + ` WHERE r.elderly_user_id = ?
		AND (r.reminder_date = ? OR (r.recurrence = 'daily' AND r.reminder_date <= ?))
		ORDER BY r.reminder_time`
	return s.queryReminders(ctx, "GetTodayReminders", query, today, userID, today, today)
}

// GetUpcomingReminders returns reminders dated within [today, today+days].
func (s *Store) GetUpcomingReminders(ctx context.Context, userID int64, days int) ([]*storage.Reminder, error) {
	if days <= 0 {
		days = 14
	}
	now := s.now().In(s.location)
	today := now.Format(dateLayout)
	until := now.AddDate(0, 0, days).Format(dateLayout)
	query := reminderSelect + ` WHERE r.elderly_user_id = ?
		AND r.reminder_date >= ? AND r.reminder_date <= ?
		ORDER BY r.reminder_date, r.reminder_time`
	return s.queryReminders(ctx, "GetUpcomingReminders", query, today, userID, today, until)
}

// GetReminders returns every reminder of the user.
func (s *Store) GetReminders(ctx context.Context, userID int64) ([]*storage.Reminder, error) {
	query := reminderSelect + ` WHERE r.elderly_user_id = ? ORDER BY r.reminder_date, r.reminder_time`
	return s.queryReminders(ctx, "GetReminders", query, s.today(), userID)
}

func (s *Store) queryReminders(ctx context.Context, op, query string, args ...interface{}) ([]*storage.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var reminders []*storage.Reminder
	for rows.Next() {
		var r storage.Reminder
		if err := rows.Scan(
			&r.ID, &r.ElderlyUserID, &r.Type, &r.Title, &r.Description,
			&r.ReminderDate, &r.ReminderTime, &r.Recurrence, &r.CreatedAt, &r.CompletedToday,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		reminders = append(reminders, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return reminders, nil
}

// CreateReminder stores a reminder and assigns its ID and creation time.
func (s *Store) CreateReminder(ctx context.Context, r *storage.Reminder) (*storage.Reminder, error) {
	r.ID = s.node.Generate().Int64()
	r.CreatedAt = s.timestamp()
	if r.Recurrence == "" {
		r.Recurrence = "none"
	}

	query := InsertPrefix("reminders", []string{
		"id", "elderly_user_id", "reminder_type", "title", "description",
		"reminder_date", "reminder_time", "recurrence", "created_at",
	})
	_, err := s.db.ExecContext(ctx, s.q(query),
		r.ID, r.ElderlyUserID, r.Type, r.Title, r.Description,
		r.ReminderDate, r.ReminderTime, r.Recurrence, r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("CreateReminder: %w", err)
	}
	return r, nil
}

// MarkReminderComplete records today's completion of a reminder owned by userID.
func (s *Store) MarkReminderComplete(ctx context.Context, reminderID, userID, completedBy int64, notes string) (*storage.ReminderCompletion, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.q("SELECT id FROM reminders WHERE id = ? AND elderly_user_id = ?"),
		reminderID, userID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("MarkReminderComplete: %w", err)
	}

	c := &storage.ReminderCompletion{
		ID:          s.node.Generate().Int64(),
		ReminderID:  reminderID,
		CompletedBy: completedBy,
		Notes:       notes,
		CompletedOn: s.today(),
		CompletedAt: s.timestamp(),
	}
	query := InsertPrefix("reminder_completions", []string{
		"id", "reminder_id", "completed_by", "notes", "completed_on", "completed_at",
	})
	if _, err := s.db.ExecContext(ctx, s.q(query),
		c.ID, c.ReminderID, c.CompletedBy, c.Notes, c.CompletedOn, c.CompletedAt,
	); err != nil {
		return nil, fmt.Errorf("MarkReminderComplete: %w", err)
	}
	return c, nil
}

// CreateActivity appends to the interaction log.
func (s *Store) CreateActivity(ctx context.Context, a *storage.Activity) error {
	a.ID = s.node.Generate().Int64()
	a.CreatedAt = s.timestamp()
	query := InsertPrefix("activities", []string{"id", "user_id", "activity_type", "description", "created_at"})
	if _, err := s.db.ExecContext(ctx, s.q(query), a.ID, a.UserID, a.ActivityType, a.Description, a.CreatedAt); err != nil {
		return fmt.Errorf("CreateActivity: %w", err)
	}
	return nil
}

// GetConversationSummary returns the rolling summary or "".
func (s *Store) GetConversationSummary(ctx context.Context, userID int64) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx,
		s.q("SELECT summary FROM conversation_summaries WHERE user_id = ?"), userID,
	).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("GetConversationSummary: %w", err)
	}
	return summary, nil
}

// SaveConversationSummary replaces the user's rolling summary.
func (s *Store) SaveConversationSummary(ctx context.Context, userID int64, summary string) error {
	query := s.dialect.Upsert("conversation_summaries",
		[]string{"user_id", "summary", "updated_at"},
		[]string{"user_id"},
		[]string{"summary", "updated_at"},
	)
	if _, err := s.db.ExecContext(ctx, s.q(query), userID, summary, s.timestamp()); err != nil {
		return fmt.Errorf("SaveConversationSummary: %w", err)
	}
	return nil
}

// GetTopMemories ranks the live memories of the user by storage.Memory.Score.
func (s *Store) GetTopMemories(ctx context.Context, userID int64, limit int) ([]*storage.Memory, error) {
	now := s.timestamp()
	query := fmt.Sprintf(`SELECT %s FROM memories
		WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY last_reinforced_at DESC LIMIT %d`, strings.Join(memoryColumns, ", "), memoryScanWindow)

	rows, err := s.db.QueryContext(ctx, s.q(query), userID, now)
	if err != nil {
		return nil, fmt.Errorf("GetTopMemories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		var (
			m         storage.Memory
			memType   string
			expiresAt sql.NullTime
		)
		if err := rows.Scan(
			&m.ID, &m.UserID, &memType, &m.Content, &m.ContentHash, &m.Importance, &m.Confidence,
			&m.Source, &m.CreatedAt, &m.LastReinforcedAt, &expiresAt,
		); err != nil {
			return nil, fmt.Errorf("GetTopMemories: scan: %w", err)
		}
		m.Type = storage.MemoryType(memType)
		if expiresAt.Valid {
			t := expiresAt.Time
			m.ExpiresAt = &t
		}
		memories = append(memories, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetTopMemories: %w", err)
	}

	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].Score(now) > memories[j].Score(now)
	})
	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}
	return memories, nil
}

// UpsertMemories inserts or reinforces every item inside one transaction.
// Each item is a single atomic statement keyed on (user_id, content_hash).
func (s *Store) UpsertMemories(ctx context.Context, userID int64, items []*storage.MemoryInput) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("UpsertMemories: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.q(s.dialect.UpsertMemory("memories", memoryColumns)))
	if err != nil {
		return fmt.Errorf("UpsertMemories: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.timestamp()
	for _, item := range items {
		content := strings.TrimSpace(item.Content)
		if content == "" {
			continue
		}
		var expiresAt interface{}
		if item.ExpiresAt != nil {
			expiresAt = item.ExpiresAt.UTC().Truncate(time.Second)
		}
		if _, err := stmt.ExecContext(ctx,
			s.node.Generate().Int64(), userID, string(item.Type), content,
			storage.ContentHash(item.Type, content), storage.ClampImportance(item.Importance),
			storage.InitialConfidence, storage.MemorySource, now, now, expiresAt,
		); err != nil {
			return fmt.Errorf("UpsertMemories: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("UpsertMemories: commit: %w", err)
	}
	return nil
}

// PurgeExpiredMemories deletes memories that expired before the given instant.
func (s *Store) PurgeExpiredMemories(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.q("DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at <= ?"),
		before.UTC().Truncate(time.Second),
	)
	if err != nil {
		return 0, fmt.Errorf("PurgeExpiredMemories: %w", err)
	}
	return res.RowsAffected()
}

// AppendChatTurn stores one chat message.
func (s *Store) AppendChatTurn(ctx context.Context, userID int64, turn storage.ChatTurn) error {
	query := InsertPrefix("chat_messages", []string{"id", "user_id", "role", "content", "created_at"})
	if _, err := s.db.ExecContext(ctx, s.q(query),
		s.node.Generate().Int64(), userID, string(turn.Role), turn.Content, s.timestamp(),
	); err != nil {
		return fmt.Errorf("AppendChatTurn: %w", err)
	}
	return nil
}
