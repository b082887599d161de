// Package ollama provides the Ollama LLM provider.
//
// Ollama is a tool for running large language models locally. It serves an
// OpenAI-compatible API under /v1, which is what this client talks to.
package ollama

import (
	"strings"
	"time"

	"github.com/eldercare/companion-go/pkg/llm/openai"
)

// DefaultBaseURL is the local Ollama service address.
const DefaultBaseURL = "http://localhost:11434"

// Config is the configuration for Ollama LLM.
// APIKey: optional, usually not required for local deployment
// Model: Model name to use, defaults to "llama3.1"
// BaseURL: Ollama service address, defaults to "http://localhost:11434"
// Timeout: defaults to 120 seconds since local models can be slow
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a new Ollama LLM client.
func NewClient(cfg *Config) (*openai.Client, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}

	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// The compatibility layer ignores the key but the header must be present.
		apiKey = "ollama"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return openai.NewClient(&openai.Config{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
		Timeout: timeout,
	})
}
