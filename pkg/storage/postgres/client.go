package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/eldercare/companion-go/pkg/storage"
	"github.com/eldercare/companion-go/pkg/storage/sqlstore"
)

// Client is a PostgreSQL repository.
type Client struct {
	*sqlstore.Store
}

var _ storage.Repository = (*Client)(nil)

// Config contains PostgreSQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	Options sqlstore.Options
}

// DSN renders the lib/pq connection string.
func (c *Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
}

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	store, err := sqlstore.New(context.Background(), db, Dialect{}, cfg.Options)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Client{Store: store}, nil
}

// Dialect is the PostgreSQL flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) Upsert(table string, columns, conflict, update []string) string {
	return sqlstore.OnConflictUpsert(table, columns, conflict, update)
}

func (Dialect) UpsertMemory(table string, columns []string) string {
	return sqlstore.OnConflictMemoryUpsert(table, columns, "LEAST", "GREATEST", storage.ReinforcementStep)
}

func (Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			age INTEGER NOT NULL DEFAULT 0,
			date_of_birth VARCHAR(10) NOT NULL DEFAULT '',
			cognitive_level VARCHAR(16) NOT NULL DEFAULT 'normal',
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
			id BIGINT PRIMARY KEY,
			elderly_user_id BIGINT NOT NULL,
			reminder_type VARCHAR(32) NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reminder_date VARCHAR(10) NOT NULL,
			reminder_time VARCHAR(5) NOT NULL DEFAULT '',
			recurrence VARCHAR(16) NOT NULL DEFAULT 'none',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_user_date ON reminders(elderly_user_id, reminder_date)`,
		`CREATE TABLE IF NOT EXISTS reminder_completions (
			id BIGINT PRIMARY KEY,
			reminder_id BIGINT NOT NULL REFERENCES reminders(id) ON DELETE CASCADE,
			completed_by BIGINT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			completed_on VARCHAR(10) NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_completions_reminder_day ON reminder_completions(reminder_id, completed_on)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			activity_type VARCHAR(64) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_summaries (
			user_id BIGINT PRIMARY KEY,
			summary TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			memory_type VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			content_hash CHAR(64) NOT NULL,
			importance INTEGER NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			source VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_reinforced_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			UNIQUE (user_id, content_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			role VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_id, created_at)`,
	}
}
