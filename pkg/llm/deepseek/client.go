// Package deepseek provides the DeepSeek LLM provider.
//
// DeepSeek uses the OpenAI-compatible API format, so it reuses the OpenAI client with a
// different base URL and default model.
package deepseek

import (
	"time"

	"github.com/eldercare/companion-go/pkg/llm/openai"
)

// DefaultBaseURL is the DeepSeek API base URL.
const DefaultBaseURL = "https://api.deepseek.com"

// Config is the configuration for DeepSeek LLM.
// APIKey: DeepSeek API key (required)
// Model: Model name to use, defaults to "deepseek-chat"
// BaseURL: API base URL, defaults to "https://api.deepseek.com"
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a new DeepSeek LLM client.
func NewClient(cfg *Config) (*openai.Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "deepseek-chat"
	}
	return openai.NewClient(&openai.Config{
		APIKey:  cfg.APIKey,
		Model:   model,
		BaseURL: baseURL,
		Timeout: cfg.Timeout,
	})
}
