// Package anthropic provides the Anthropic Claude LLM provider through Anthropic's
// OpenAI SDK compatibility endpoint, which supports chat completions with tools.
package anthropic

import (
	"time"

	"github.com/eldercare/companion-go/pkg/llm/openai"
)

// DefaultBaseURL is Anthropic's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.anthropic.com/v1/"

// Config is the configuration for Anthropic LLM.
// APIKey: Anthropic API key (required)
// Model: Model name to use, defaults to "claude-3-5-haiku-latest"
// BaseURL: API base URL, defaults to the compatibility endpoint
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a new Anthropic LLM client.
func NewClient(cfg *Config) (*openai.Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return openai.NewClient(&openai.Config{
		APIKey:  cfg.APIKey,
		Model:   model,
		BaseURL: baseURL,
		Timeout: cfg.Timeout,
	})
}
