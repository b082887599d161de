// Package oceanbase provides the OceanBase (MySQL protocol) backend of the assistant repository.
//
// It also works against plain MySQL. Upserts use ON DUPLICATE KEY UPDATE with VALUES().
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/eldercare/companion-go/pkg/storage"
	"github.com/eldercare/companion-go/pkg/storage/sqlstore"
)

// Client is an OceanBase client.
type Client struct {
	*sqlstore.Store
}

var _ storage.Repository = (*Client)(nil)

// Config contains OceanBase configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string

	Options sqlstore.Options
}

// DSN renders the go-sql-driver/mysql data source name.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&charset=utf8mb4",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// NewClient creates a new OceanBase client.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	store, err := sqlstore.New(context.Background(), db, Dialect{}, cfg.Options)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Client{Store: store}, nil
}

// Dialect is the MySQL-protocol flavour of sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "oceanbase" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) Upsert(table string, columns, _, update []string) string {
	sets := make([]string, len(update))
	for i, col := range update {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}
	return sqlstore.InsertPrefix(table, columns) + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

// UpsertMemory evaluates assignments left to right, so expires_at is tested before it is overwritten.
func (Dialect) UpsertMemory(table string, columns []string) string {
	return fmt.Sprintf(`%s ON DUPLICATE KEY UPDATE
		confidence = LEAST(1.0, confidence + %.2f),
		importance = GREATEST(importance, VALUES(importance)),
		last_reinforced_at = VALUES(last_reinforced_at),
		expires_at = CASE WHEN expires_at IS NULL THEN NULL ELSE VALUES(expires_at) END`,
		sqlstore.InsertPrefix(table, columns), storage.ReinforcementStep)
}

func (Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			first_name VARCHAR(128) NOT NULL DEFAULT '',
			last_name VARCHAR(128) NOT NULL DEFAULT '',
			age INT NOT NULL DEFAULT 0,
			date_of_birth VARCHAR(10) NOT NULL DEFAULT '',
			cognitive_level VARCHAR(16) NOT NULL DEFAULT 'normal',
			birth_place TEXT,
			childhood_home TEXT,
			childhood_memories TEXT,
			family_background TEXT,
			siblings TEXT,
			parents TEXT,
			significant_life_events TEXT,
			profession TEXT,
			hobbies TEXT,
			favorite_memories TEXT,
			emergency_contact_name VARCHAR(128) NOT NULL DEFAULT '',
			emergency_contact_phone VARCHAR(64) NOT NULL DEFAULT '',
			emergency_contact TEXT,
			preferences LONGTEXT,
			personality_traits LONGTEXT
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id BIGINT PRIMARY KEY,
			elderly_user_id BIGINT NOT NULL,
			reminder_type VARCHAR(32) NOT NULL,
			title VARCHAR(255) NOT NULL,
			description TEXT,
			reminder_date VARCHAR(10) NOT NULL,
			reminder_time VARCHAR(5) NOT NULL DEFAULT '',
			recurrence VARCHAR(16) NOT NULL DEFAULT 'none',
			created_at DATETIME NOT NULL,
			INDEX idx_reminders_user_date (elderly_user_id, reminder_date)
		)`,
		`CREATE TABLE IF NOT EXISTS reminder_completions (
			id BIGINT PRIMARY KEY,
			reminder_id BIGINT NOT NULL,
			completed_by BIGINT NOT NULL,
			notes TEXT,
			completed_on VARCHAR(10) NOT NULL,
			completed_at DATETIME NOT NULL,
			INDEX idx_completions_reminder_day (reminder_id, completed_on)
		)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			activity_type VARCHAR(64) NOT NULL,
			description TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_summaries (
			user_id BIGINT PRIMARY KEY,
			summary TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			memory_type VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			content_hash CHAR(64) NOT NULL,
			importance INT NOT NULL,
			confidence DOUBLE NOT NULL,
			source VARCHAR(16) NOT NULL,
			created_at DATETIME NOT NULL,
			last_reinforced_at DATETIME NOT NULL,
			expires_at DATETIME NULL,
			UNIQUE KEY uniq_memories_user_hash (user_id, content_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			role VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			INDEX idx_chat_messages_user (user_id, created_at)
		)`,
	}
}
