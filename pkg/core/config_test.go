package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldercare/companion-go/pkg/core"
)

func TestDefaultConfig(t *testing.T) {
	cfg := core.DefaultConfig()

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 2, cfg.LLM.RetryAttempts)
	assert.Equal(t, "sqlite", cfg.Database.Provider)
	assert.Equal(t, 2, cfg.Assistant.MaxToolRounds)
	assert.Equal(t, "112", cfg.Assistant.EmergencyNumber)
	assert.InDelta(t, 0.2, cfg.Assistant.SummaryProbability, 1e-9)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.Offline())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: deepseek
  api_key: from-file
  timeout: 10s
database:
  provider: postgres
  host: db.local
  name: companion
assistant:
  history_budget: 1000
  time_zone: UTC
`), 0o600))

	t.Setenv("COMPANION_LLM_API_KEY", "from-env")
	t.Setenv("COMPANION_ASSISTANT_MAX_TOOL_ROUNDS", "1")

	cfg, err := core.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "deepseek", cfg.LLM.Provider)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, 10*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "db.local", cfg.Database.Host)
	assert.Equal(t, 1000, cfg.Assistant.HistoryBudget)
	assert.Equal(t, 1, cfg.Assistant.MaxToolRounds)
	assert.Equal(t, 12, cfg.Assistant.MaxMemories, "defaults survive")
	assert.False(t, cfg.Offline())

	loc, err := cfg.Assistant.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"llm":{"provider":"ollama"},"assistant":{"emergency_number":"061"}}`), 0o600))

	cfg, err := core.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "061", cfg.Assistant.EmergencyNumber)
	assert.False(t, cfg.Offline(), "ollama needs no key")
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := core.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))
	_, err = core.LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*core.Config){
		"llm provider":        func(c *core.Config) { c.LLM.Provider = "gpt-local" },
		"database provider":   func(c *core.Config) { c.Database.Provider = "mongo" },
		"sqlite path":         func(c *core.Config) { c.Database.Path = "" },
		"postgres host":       func(c *core.Config) { c.Database.Provider = "postgres"; c.Database.Name = "" },
		"retry attempts":      func(c *core.Config) { c.LLM.RetryAttempts = 0 },
		"timeout":             func(c *core.Config) { c.LLM.Timeout = 0 },
		"tool rounds":         func(c *core.Config) { c.Assistant.MaxToolRounds = 0 },
		"summary probability": func(c *core.Config) { c.Assistant.SummaryProbability = 1.5 },
		"background timeout":  func(c *core.Config) { c.Assistant.BackgroundTimeout = 0 },
		"time zone":           func(c *core.Config) { c.Assistant.TimeZone = "Mars/Olympus" },
		"log level":           func(c *core.Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := core.DefaultConfig()
			mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}
}

func TestNewClient_RequiresRepository(t *testing.T) {
	_, err := core.NewClient(nil, nil, nil)
	assert.Error(t, err)
}
