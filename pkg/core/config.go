package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/eldercare/companion-go/pkg/logger"
	"github.com/eldercare/companion-go/pkg/metrics"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "COMPANION_"

	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// Config contains the complete configuration for a companion client.
//
// Example (config.yaml):
//
//	llm:
//	  provider: openai
//	  api_key: sk-...
//	database:
//	  provider: sqlite
//	  path: ./companion.db
//	assistant:
//	  time_zone: Europe/Madrid
type Config struct {
	// LLM contains LLM provider configuration.
	LLM LLMConfig `koanf:"llm"`

	// Database contains repository configuration.
	Database DatabaseConfig `koanf:"database"`

	// Assistant contains the orchestration knobs.
	Assistant AssistantConfig `koanf:"assistant"`

	// Log contains logger configuration.
	Log logger.Config `koanf:"log"`

	// Metrics contains Prometheus configuration.
	Metrics metrics.Config `koanf:"metrics"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai, qwen, anthropic, deepseek, ollama.
// An empty APIKey selects offline mode, except for ollama which needs no key.
type LLMConfig struct {
	Provider    string        `koanf:"provider"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`

	// RetryAttempts is the total number of tries per completion call.
	RetryAttempts int `koanf:"retry_attempts"`

	// RetryBackoff is multiplied by the attempt number between tries.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// DatabaseConfig contains configuration for the repository.
//
// Supported providers: sqlite, postgres, oceanbase.
type DatabaseConfig struct {
	Provider string `koanf:"provider"`

	// Path is the SQLite database file.
	Path string `koanf:"path"`

	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"ssl_mode"`

	// NodeID is the snowflake node (0-1023) for row IDs.
	NodeID int64 `koanf:"node_id"`
}

// AssistantConfig tunes the per-turn pipeline.
type AssistantConfig struct {
	HistoryBudget          int     `koanf:"history_budget"`
	MaxMemories            int     `koanf:"max_memories"`
	MaxToolRounds          int     `koanf:"max_tool_rounds"`
	SummaryProbability     float64 `koanf:"summary_probability"`
	SummaryLengthThreshold int     `koanf:"summary_length_threshold"`
	EmergencyNumber        string  `koanf:"emergency_number"`
	TimeZone               string  `koanf:"time_zone"`

	// BackgroundTimeout bounds each post-turn task.
	BackgroundTimeout time.Duration `koanf:"background_timeout"`

	// BackgroundRatePerMinute and BackgroundBurst limit post-turn LLM calls.
	BackgroundRatePerMinute int `koanf:"background_rate_per_minute"`
	BackgroundBurst         int `koanf:"background_burst"`
}

// Location resolves TimeZone, falling back to time.Local.
func (a AssistantConfig) Location() (*time.Location, error) {
	if a.TimeZone == "" || strings.EqualFold(a.TimeZone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(a.TimeZone)
}

// defaults are loaded first and overridden by file and environment.
func defaults() map[string]interface{} {
	m := metrics.DefaultConfig()
	return map[string]interface{}{
		"llm.provider":       "openai",
		"llm.model":          "",
		"llm.temperature":    0.7,
		"llm.max_tokens":     400,
		"llm.timeout":        30 * time.Second,
		"llm.retry_attempts": 2,
		"llm.retry_backoff":  300 * time.Millisecond,

		"database.provider": "sqlite",
		"database.path":     "./companion.db",
		"database.host":     "127.0.0.1",
		"database.ssl_mode": "disable",
		"database.node_id":  1,

		"assistant.history_budget":             2800,
		"assistant.max_memories":               12,
		"assistant.max_tool_rounds":            2,
		"assistant.summary_probability":        0.2,
		"assistant.summary_length_threshold":   600,
		"assistant.emergency_number":           "112",
		"assistant.time_zone":                  "Europe/Madrid",
		"assistant.background_timeout":         45 * time.Second,
		"assistant.background_rate_per_minute": 30,
		"assistant.background_burst":           5,

		"log.level":  "info",
		"log.format": logger.FormatConsole,

		"metrics.enabled": false,
		"metrics.addr":    "",
		"metrics.path":    m.Path,
	}
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	cfg, err := load(koanf.New(Delimiter), "", false)
	if err != nil {
		// Defaults are static; failing here is a programming error.
		panic(err)
	}
	return cfg
}

// LoadConfig loads configuration with the following priority:
//  1. Environment variables prefixed with COMPANION_ (highest), after loading a .env file
//     found by FindEnvFile
//  2. The configuration file at path (.yaml, .yml or .json), if path is not empty
//  3. Defaults (lowest)
//
// COMPANION_LLM_API_KEY maps to llm.api_key, COMPANION_ASSISTANT_TIME_ZONE to
// assistant.time_zone: the first underscore after the prefix separates the section.
func LoadConfig(path string) (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	}
	cfg, err := load(koanf.New(Delimiter), path, true)
	if err != nil {
		return nil, NewAssistantError("LoadConfig", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(k *koanf.Koanf, path string, withEnv bool) (*Config, error) {
	if err := k.Load(confmap.Provider(defaults(), Delimiter), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config file format: %s", ext)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if withEnv {
		if err := k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil); err != nil {
			return nil, fmt.Errorf("failed to load env vars: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// envKey maps COMPANION_LLM_API_KEY to llm.api_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", Delimiter, 1)
}

// Validate checks providers and numeric ranges.
func (c *Config) Validate() error {
	var problems []string

	switch c.LLM.Provider {
	case "openai", "qwen", "deepseek", "ollama", "anthropic":
	default:
		problems = append(problems, fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}
	switch c.Database.Provider {
	case "sqlite":
		if c.Database.Path == "" {
			problems = append(problems, "database.path is required for sqlite")
		}
	case "postgres", "oceanbase":
		if c.Database.Host == "" || c.Database.Name == "" {
			problems = append(problems, "database.host and database.name are required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown database provider %q", c.Database.Provider))
	}

	if c.LLM.RetryAttempts < 1 {
		problems = append(problems, "llm.retry_attempts must be at least 1")
	}
	if c.LLM.Timeout <= 0 {
		problems = append(problems, "llm.timeout must be positive")
	}
	a := c.Assistant
	if a.HistoryBudget <= 0 || a.MaxMemories <= 0 || a.MaxToolRounds <= 0 {
		problems = append(problems, "assistant budgets must be positive")
	}
	if a.SummaryProbability < 0 || a.SummaryProbability > 1 {
		problems = append(problems, "assistant.summary_probability must be within [0,1]")
	}
	if a.BackgroundTimeout <= 0 {
		problems = append(problems, "assistant.background_timeout must be positive")
	}
	if _, err := a.Location(); err != nil {
		problems = append(problems, fmt.Sprintf("assistant.time_zone: %v", err))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return NewAssistantError("Validate", fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; ")))
	}
	return nil
}

// Offline reports whether the configuration selects offline mode.
func (c *Config) Offline() bool {
	return c.LLM.APIKey == "" && c.LLM.Provider != "ollama"
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i <= 5; i++ {
		for _, name := range []string{".env", ".env.example"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
