// Package sqlite provides the SQLite backend of the assistant repository.
//
// SQLite is a lightweight, file-based database suitable for a single device or local
// development. Times are stored in TIMESTAMP columns so go-sqlite3 scans them back as
// time.Time, and the memory upsert relies on SQLite's ON CONFLICT clause.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldercare/companion-go/pkg/storage"
	"github.com/eldercare/companion-go/pkg/storage/sqlstore"
)

// Client implements storage.Repository using SQLite as the backend.
type Client struct {
	*sqlstore.Store
}

var _ storage.Repository = (*Client)(nil)

// Config contains configuration for creating a SQLite repository.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// Options tunes the underlying store (time zone, snowflake node, clock).
	Options sqlstore.Options
}

// NewClient opens (or creates) the database file and initializes its tables.
func NewClient(cfg *Config) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	store, err := sqlstore.New(context.Background(), db, Dialect{}, cfg.Options)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Client{Store: store}, nil
}

// Dialect is the SQLite flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) Upsert(table string, columns, conflict, update []string) string {
	return sqlstore.OnConflictUpsert(table, columns, conflict, update)
}

func (Dialect) UpsertMemory(table string, columns []string) string {
	return sqlstore.OnConflictMemoryUpsert(table, columns, "MIN", "MAX", storage.ReinforcementStep)
}

func (Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			age INTEGER NOT NULL DEFAULT 0,
			date_of_birth TEXT NOT NULL DEFAULT '',
			cognitive_level TEXT NOT NULL DEFAULT 'normal',
			birth_place TEXT NOT NULL DEFAULT '',
			childhood_home TEXT NOT NULL DEFAULT '',
			childhood_memories TEXT NOT NULL DEFAULT '',
			family_background TEXT NOT NULL DEFAULT '',
			siblings TEXT NOT NULL DEFAULT '',
			parents TEXT NOT NULL DEFAULT '',
			significant_life_events TEXT NOT NULL DEFAULT '',
			profession TEXT NOT NULL DEFAULT '',
			hobbies TEXT NOT NULL DEFAULT '',
			favorite_memories TEXT NOT NULL DEFAULT '',
			emergency_contact_name TEXT NOT NULL DEFAULT '',
			emergency_contact_phone TEXT NOT NULL DEFAULT '',
			emergency_contact TEXT NOT NULL DEFAULT '',
			preferences TEXT NOT NULL DEFAULT '',
			personality_traits TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY,
			elderly_user_id INTEGER NOT NULL,
			reminder_type TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reminder_date TEXT NOT NULL,
			reminder_time TEXT NOT NULL DEFAULT '',
			recurrence TEXT NOT NULL DEFAULT 'none',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_user_date ON reminders(elderly_user_id, reminder_date)`,
		`CREATE TABLE IF NOT EXISTS reminder_completions (
			id INTEGER PRIMARY KEY,
			reminder_id INTEGER NOT NULL REFERENCES reminders(id) ON DELETE CASCADE,
			completed_by INTEGER NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			completed_on TEXT NOT NULL,
			completed_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_completions_reminder_day ON reminder_completions(reminder_id, completed_on)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			activity_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_summaries (
			user_id INTEGER PRIMARY KEY,
			summary TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			memory_type TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			importance INTEGER NOT NULL,
			confidence REAL NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_reinforced_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			UNIQUE (user_id, content_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_id, created_at)`,
	}
}
