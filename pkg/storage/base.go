// Package storage provides the repository contract the assistant reads and writes through,
// along with the records it exchanges with the persistence layer.
//
// The Repository interface is implemented by pkg/storage/sqlstore for SQLite, PostgreSQL
// and OceanBase/MySQL. Callers never hold persisted state themselves.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that a requested record does not exist (or is not visible to the caller).
	ErrNotFound = errors.New("record not found")

	// ErrForbidden indicates that the caller may not act on the requested record.
	ErrForbidden = errors.New("forbidden")
)

// CognitiveLevel is the cognitive support level recorded by professionals for an elderly user.
type CognitiveLevel string

const (
	CognitiveNormal   CognitiveLevel = "normal"
	CognitiveMild     CognitiveLevel = "mild"
	CognitiveModerate CognitiveLevel = "moderate"
	CognitiveSevere   CognitiveLevel = "severe"
)

// UserProfile is the subset of the user record consumed by the assistant.
//
// Preferences and PersonalityTraits are raw JSON written by family and professional
// forms. They are untrusted: read them through pkg/profile, which parses defensively
// and caps every string.
type UserProfile struct {
	ID             int64          `json:"id"`
	FirstName      string         `json:"firstName"`
	LastName       string         `json:"lastName"`
	Age            int            `json:"age,omitempty"`
	DateOfBirth    string         `json:"dateOfBirth,omitempty"` // YYYY-MM-DD
	CognitiveLevel CognitiveLevel `json:"cognitiveLevel,omitempty"`

	BirthPlace            string `json:"birthPlace,omitempty"`
	ChildhoodHome         string `json:"childhoodHome,omitempty"`
	ChildhoodMemories     string `json:"childhoodMemories,omitempty"`
	FamilyBackground      string `json:"familyBackground,omitempty"`
	Siblings              string `json:"siblings,omitempty"`
	Parents               string `json:"parents,omitempty"`
	SignificantLifeEvents string `json:"significantLifeEvents,omitempty"`
	Profession            string `json:"profession,omitempty"`
	Hobbies               string `json:"hobbies,omitempty"`
	FavoriteMemories      string `json:"favoriteMemories,omitempty"`

	EmergencyContactName  string `json:"emergencyContactName,omitempty"`
	EmergencyContactPhone string `json:"emergencyContactPhone,omitempty"`
	EmergencyContact      string `json:"emergencyContact,omitempty"`

	Preferences       json.RawMessage `json:"preferences,omitempty"`
	PersonalityTraits json.RawMessage `json:"personalityTraits,omitempty"`
}

// Reminder is a scheduled item (medication, appointment, activity) for an elderly user.
type Reminder struct {
	ID             int64     `json:"id"`
	ElderlyUserID  int64     `json:"elderlyUserId"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	ReminderDate   string    `json:"reminderDate"` // YYYY-MM-DD
	ReminderTime   string    `json:"reminderTime"` // HH:MM
	Recurrence     string    `json:"recurrence,omitempty"`
	CompletedToday bool      `json:"completedToday"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ReminderCompletion records that a reminder was done on a given day.
type ReminderCompletion struct {
	ID          int64     `json:"id"`
	ReminderID  int64     `json:"reminderId"`
	CompletedBy int64     `json:"completedBy"`
	Notes       string    `json:"notes,omitempty"`
	CompletedOn string    `json:"completedOn"` // YYYY-MM-DD
	CompletedAt time.Time `json:"completedAt"`
}

// Activity is an entry in the user's interaction log.
type Activity struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	ActivityType string    `json:"activityType"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Role is the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one message exchanged in a conversation. Order is significant.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Repository is the persistence contract consumed by the assistant.
//
// Implementations must apply UpsertMemories atomically per (userID, content hash) so that
// concurrent turns for the same user never produce duplicate memory rows.
type Repository interface {
	// GetUser returns the user profile, or ErrNotFound.
	GetUser(ctx context.Context, userID int64) (*UserProfile, error)

	// GetTodayReminders returns reminders due today (including daily recurring ones).
	GetTodayReminders(ctx context.Context, userID int64) ([]*Reminder, error)

	// GetUpcomingReminders returns reminders due between today and today+days.
	GetUpcomingReminders(ctx context.Context, userID int64, days int) ([]*Reminder, error)

	// GetReminders returns every reminder of the user.
	GetReminders(ctx context.Context, userID int64) ([]*Reminder, error)

	// CreateReminder stores a new reminder and returns it with its ID set.
	CreateReminder(ctx context.Context, reminder *Reminder) (*Reminder, error)

	// MarkReminderComplete records a completion for today. It returns ErrNotFound when
	// the reminder does not exist or does not belong to userID.
	MarkReminderComplete(ctx context.Context, reminderID, userID, completedBy int64, notes string) (*ReminderCompletion, error)

	// CreateActivity appends an entry to the interaction log.
	CreateActivity(ctx context.Context, activity *Activity) error

	// GetConversationSummary returns the rolling summary, or "" if there is none.
	GetConversationSummary(ctx context.Context, userID int64) (string, error)

	// SaveConversationSummary replaces the rolling summary.
	SaveConversationSummary(ctx context.Context, userID int64, summary string) error

	// GetTopMemories returns the non-expired memories with the highest ranking score.
	GetTopMemories(ctx context.Context, userID int64, limit int) ([]*Memory, error)

	// UpsertMemories inserts new memories and reinforces existing ones with the same content hash.
	UpsertMemories(ctx context.Context, userID int64, items []*MemoryInput) error

	// AppendChatTurn persists one chat message.
	AppendChatTurn(ctx context.Context, userID int64, turn ChatTurn) error

	// Close releases the underlying connection.
	Close() error
}
