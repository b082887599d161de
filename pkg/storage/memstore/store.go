// Package memstore is an in-process storage.Repository. It backs the offline demo and the
// package tests of the orchestrator, and mirrors the semantics of the SQL stores.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eldercare/companion-go/pkg/storage"
)

const dateLayout = "2006-01-02"

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu          sync.Mutex
	location    *time.Location
	now         func() time.Time
	nextID      int64
	users       map[int64]*storage.UserProfile
	reminders   map[int64]*storage.Reminder
	completions map[int64]map[string]*storage.ReminderCompletion // reminder -> day -> completion
	activities  []*storage.Activity
	summaries   map[int64]string
	memories    map[int64]map[string]*storage.Memory // user -> hash -> memory
	chat        map[int64][]storage.ChatTurn
}

var _ storage.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the time zone that decides what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.location = loc }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		location:    time.Local,
		now:         time.Now,
		users:       map[int64]*storage.UserProfile{},
		reminders:   map[int64]*storage.Reminder{},
		completions: map[int64]map[string]*storage.ReminderCompletion{},
		summaries:   map[int64]string{},
		memories:    map[int64]map[string]*storage.Memory{},
		chat:        map[int64][]storage.ChatTurn{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) today() time.Time {
	n := s.now().In(s.location)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, s.location)
}

// SaveUser stores a copy of u, assigning an ID when it has none.
func (s *Store) SaveUser(_ context.Context, u *storage.UserProfile) (*storage.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	if cp.ID == 0 {
		cp.ID = s.id()
	} else if cp.ID > s.nextID {
		s.nextID = cp.ID
	}
	s.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetUser(_ context.Context, userID int64) (*storage.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetTodayReminders(_ context.Context, userID int64) ([]*storage.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := s.today().Format(dateLayout)
	return s.filterReminders(userID, func(r *storage.Reminder) bool {
		return r.ReminderDate == today || (r.Recurrence == "daily" && r.ReminderDate <= today)
	}), nil
}

func (s *Store) GetUpcomingReminders(_ context.Context, userID int64, days int) ([]*storage.Reminder, error) {
	if days <= 0 {
		days = 14
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.today()
	from, to := start.Format(dateLayout), start.AddDate(0, 0, days).Format(dateLayout)
	return s.filterReminders(userID, func(r *storage.Reminder) bool {
		return r.ReminderDate >= from && r.ReminderDate <= to
	}), nil
}

func (s *Store) GetReminders(_ context.Context, userID int64) ([]*storage.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterReminders(userID, func(*storage.Reminder) bool { return true }), nil
}

func (s *Store) filterReminders(userID int64, keep func(*storage.Reminder) bool) []*storage.Reminder {
	today := s.today().Format(dateLayout)
	var out []*storage.Reminder
	for _, r := range s.reminders {
		if r.ElderlyUserID != userID || !keep(r) {
			continue
		}
		cp := *r
		_, cp.CompletedToday = s.completions[r.ID][today]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReminderDate != out[j].ReminderDate {
			return out[i].ReminderDate < out[j].ReminderDate
		}
		if out[i].ReminderTime != out[j].ReminderTime {
			return out[i].ReminderTime < out[j].ReminderTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) CreateReminder(_ context.Context, r *storage.Reminder) (*storage.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.ID = s.id()
	if cp.Recurrence == "" {
		cp.Recurrence = "none"
	}
	cp.CreatedAt = s.now().UTC()
	s.reminders[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) MarkReminderComplete(_ context.Context, reminderID, userID, completedBy int64, notes string) (*storage.ReminderCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[reminderID]
	if !ok || r.ElderlyUserID != userID {
		return nil, storage.ErrNotFound
	}
	day := s.today().Format(dateLayout)
	if s.completions[reminderID] == nil {
		s.completions[reminderID] = map[string]*storage.ReminderCompletion{}
	}
	c := &storage.ReminderCompletion{
		ID:          s.id(),
		ReminderID:  reminderID,
		CompletedBy: completedBy,
		Notes:       notes,
		CompletedOn: day,
		CompletedAt: s.now().UTC(),
	}
	s.completions[reminderID][day] = c
	cp := *c
	return &cp, nil
}

func (s *Store) CreateActivity(_ context.Context, a *storage.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	cp.ID = s.id()
	cp.CreatedAt = s.now().UTC()
	s.activities = append(s.activities, &cp)
	return nil
}

// Activities returns the interaction log of userID in insertion order.
func (s *Store) Activities(userID int64) []storage.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Activity
	for _, a := range s.activities {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out
}

func (s *Store) GetConversationSummary(_ context.Context, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries[userID], nil
}

func (s *Store) SaveConversationSummary(_ context.Context, userID int64, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[userID] = summary
	return nil
}

func (s *Store) GetTopMemories(_ context.Context, userID int64, limit int) ([]*storage.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []*storage.Memory
	for _, m := range s.memories[userID] {
		if m.Expired(now) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Score(now), out[j].Score(now)
		if si != sj {
			return si > sj
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpsertMemories(_ context.Context, userID int64, items []*storage.MemoryInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if s.memories[userID] == nil {
		s.memories[userID] = map[string]*storage.Memory{}
	}
	for _, item := range items {
		content := strings.TrimSpace(item.Content)
		if content == "" {
			continue
		}
		hash := storage.ContentHash(item.Type, content)
		importance := storage.ClampImportance(item.Importance)
		if m, ok := s.memories[userID][hash]; ok {
			m.Confidence = minFloat(1, m.Confidence+storage.ReinforcementStep)
			if importance > m.Importance {
				m.Importance = importance
			}
			m.LastReinforcedAt = now
			// A permanent memory stays permanent; an expiring one takes the new expiry.
			if m.ExpiresAt != nil {
				m.ExpiresAt = item.ExpiresAt
			}
			continue
		}
		s.memories[userID][hash] = &storage.Memory{
			ID:               s.id(),
			UserID:           userID,
			Type:             item.Type,
			Content:          content,
			ContentHash:      hash,
			Importance:       importance,
			Confidence:       storage.InitialConfidence,
			Source:           storage.MemorySource,
			CreatedAt:        now,
			LastReinforcedAt: now,
			ExpiresAt:        item.ExpiresAt,
		}
	}
	return nil
}

// PurgeExpiredMemories deletes memories that expired at or before the given instant.
func (s *Store) PurgeExpiredMemories(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, byHash := range s.memories {
		for hash, m := range byHash {
			if m.ExpiresAt != nil && !m.ExpiresAt.After(before) {
				delete(byHash, hash)
				n++
			}
		}
	}
	return n, nil
}

func (s *Store) AppendChatTurn(_ context.Context, userID int64, turn storage.ChatTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat[userID] = append(s.chat[userID], turn)
	return nil
}

// ChatTurns returns the persisted conversation of userID.
func (s *Store) ChatTurns(userID int64) []storage.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.ChatTurn(nil), s.chat[userID]...)
}

func (s *Store) Close() error {
	return nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
