// Package qwen provides the Qwen (DashScope) LLM provider through its OpenAI-compatible mode.
package qwen

import (
	"time"

	"github.com/eldercare/companion-go/pkg/llm/openai"
)

// DefaultBaseURL is the DashScope OpenAI-compatible endpoint.
const DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// Config is the configuration for Qwen LLM.
type Config struct {
	// APIKey is the DashScope API key.
	APIKey string

	// Model is the model name (default: qwen-plus).
	Model string

	// BaseURL is the API base URL (default: DashScope compatible mode).
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration
}

// NewClient creates a new Qwen LLM client.
func NewClient(cfg *Config) (*openai.Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "qwen-plus"
	}
	return openai.NewClient(&openai.Config{
		APIKey:  cfg.APIKey,
		Model:   model,
		BaseURL: baseURL,
		Timeout: cfg.Timeout,
	})
}
