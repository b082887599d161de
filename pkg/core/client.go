package core

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/eldercare/companion-go/pkg/intelligence"
	"github.com/eldercare/companion-go/pkg/llm"
	anthropicLLM "github.com/eldercare/companion-go/pkg/llm/anthropic"
	deepseekLLM "github.com/eldercare/companion-go/pkg/llm/deepseek"
	ollamaLLM "github.com/eldercare/companion-go/pkg/llm/ollama"
	openaiLLM "github.com/eldercare/companion-go/pkg/llm/openai"
	qwenLLM "github.com/eldercare/companion-go/pkg/llm/qwen"
	"github.com/eldercare/companion-go/pkg/metrics"
	"github.com/eldercare/companion-go/pkg/prompt"
	"github.com/eldercare/companion-go/pkg/rules"
	"github.com/eldercare/companion-go/pkg/safety"
	"github.com/eldercare/companion-go/pkg/storage"
	"github.com/eldercare/companion-go/pkg/storage/oceanbase"
	postgresStore "github.com/eldercare/companion-go/pkg/storage/postgres"
	"github.com/eldercare/companion-go/pkg/storage/sqlstore"
	sqliteStore "github.com/eldercare/companion-go/pkg/storage/sqlite"
	"github.com/eldercare/companion-go/pkg/tools"
)

const tracerName = "github.com/eldercare/companion-go/pkg/core"

// Client is the companion orchestrator.
//
// It answers one user utterance at a time through the pipeline: emergency check, quick
// rules, context assembly and the completion loop with tools, then the dosage
// post-processor. Memory extraction, the rolling summary and chat persistence run in the
// background after the reply is decided.
//
// The client holds no per-user state: everything lives in the repository. It is safe
// for concurrent use.
//
// Example usage:
//
//	cfg, _ := core.LoadConfig("config.yaml")
//	client, _ := core.NewClientFromConfig(cfg)
//	defer client.Close()
//
//	reply := client.GenerateResponse(ctx, "¿Qué tengo hoy?", core.ChatContext{User: user})
type Client struct {
	config *Config
	repo   storage.Repository

	// llm is the retrying provider; nil in offline mode.
	llm llm.Provider
	// provider is the raw provider, closed by Close.
	provider llm.Provider

	router     *tools.Router
	builder    *prompt.Builder
	responder  *rules.Responder
	classifier *safety.Classifier
	extractor  *intelligence.MemoryExtractor
	summarizer *intelligence.Summarizer
	trigger    *intelligence.SummaryTrigger
	tasks      *taskRunner

	log          zerolog.Logger
	metrics      *metrics.Manager
	tracer       trace.Tracer
	now          func() time.Time
	location     *time.Location
	rnd          rules.Rand
	summaryDraw  func() float64
	retryBackoff time.Duration

	// ownsRepo is set when the client opened the repository itself.
	ownsRepo bool
}

// NewClient creates a client over an existing repository and provider.
//
// A nil provider selects offline mode: every turn that would reach the model is answered
// by the offline fallback. A nil cfg uses DefaultConfig.
func NewClient(cfg *Config, repo storage.Repository, provider llm.Provider, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, NewAssistantError("NewClient", errors.New("repository is required"))
	}

	loc, err := cfg.Assistant.Location()
	if err != nil {
		return nil, NewAssistantError("NewClient", err)
	}

	c := &Client{
		config:       cfg,
		repo:         repo,
		provider:     provider,
		log:          zerolog.Nop(),
		now:          time.Now,
		location:     loc,
		summaryDraw:  rand.Float64,
		retryBackoff: cfg.LLM.RetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}

	c.classifier = safety.NewClassifier(cfg.Assistant.EmergencyNumber)
	responderOpts := []rules.Option{
		rules.WithClock(c.now),
		rules.WithLocation(c.location),
		rules.WithClassifier(c.classifier),
	}
	if c.rnd != nil {
		responderOpts = append(responderOpts, rules.WithRand(c.rnd))
	}
	c.responder = rules.NewResponder(responderOpts...)
	c.builder = prompt.NewBuilder(cfg.Assistant.HistoryBudget, cfg.Assistant.MaxMemories, c.location, cfg.Assistant.EmergencyNumber)
	c.router = tools.NewRouter(repo)
	c.trigger = intelligence.NewSummaryTrigger(cfg.Assistant.SummaryLengthThreshold, cfg.Assistant.SummaryProbability)
	c.trigger.Float64 = c.summaryDraw
	c.tasks = newTaskRunner(cfg.Assistant.BackgroundTimeout, cfg.Assistant.BackgroundRatePerMinute,
		cfg.Assistant.BackgroundBurst, c.log, c.metrics)

	if provider != nil {
		c.llm = llm.NewRetryProvider(provider, cfg.LLM.RetryAttempts, c.retryBackoff,
			llm.WithRetryNotify(func(err error, wait time.Duration) {
				c.log.Warn().Err(err).Dur("wait", wait).Msg("completion failed, retrying")
			}))
		c.extractor = intelligence.NewMemoryExtractor(c.llm, intelligence.WithExtractorClock(c.now))
		c.summarizer = intelligence.NewSummarizer(c.llm)
	}

	return c, nil
}

// NewClientFromConfig opens the configured repository and provider and creates a client.
// An empty API key (except for ollama) selects offline mode.
func NewClientFromConfig(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Assistant.Location()
	if err != nil {
		return nil, NewAssistantError("NewClientFromConfig", err)
	}

	repo, err := initStorage(cfg.Database, loc)
	if err != nil {
		return nil, err
	}

	var provider llm.Provider
	if !cfg.Offline() {
		provider, err = initLLM(cfg.LLM)
		if err != nil {
			_ = repo.Close()
			return nil, err
		}
	}

	c, err := NewClient(cfg, repo, provider, opts...)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	c.ownsRepo = true
	return c, nil
}

// Repository returns the repository the client reads and writes through.
func (c *Client) Repository() storage.Repository {
	return c.repo
}

// Offline reports whether the client runs without a model.
func (c *Client) Offline() bool {
	return c.llm == nil
}

// Wait blocks until every background task scheduled so far has finished.
func (c *Client) Wait() {
	c.tasks.Wait()
}

// Close waits for background tasks and releases the provider, and the repository when
// the client opened it.
func (c *Client) Close() error {
	c.tasks.Wait()

	var errs []error
	if c.provider != nil {
		if err := c.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ownsRepo && c.repo != nil {
		if err := c.repo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return NewAssistantError("Close", errors.Join(errs...))
	}
	return nil
}

// initStorage initializes the repository backend.
func initStorage(cfg DatabaseConfig, loc *time.Location) (storage.Repository, error) {
	opts := sqlstore.Options{Location: loc, NodeID: cfg.NodeID}
	switch cfg.Provider {
	case "sqlite":
		c, err := sqliteStore.NewClient(&sqliteStore.Config{DBPath: cfg.Path, Options: opts})
		if err != nil {
			return nil, NewAssistantError("initStorage", errors.Join(ErrStorageOperation, err))
		}
		return c, nil
	case "postgres":
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		c, err := postgresStore.NewClient(&postgresStore.Config{
			Host:     cfg.Host,
			Port:     port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.Name,
			SSLMode:  cfg.SSLMode,
			Options:  opts,
		})
		if err != nil {
			return nil, NewAssistantError("initStorage", errors.Join(ErrStorageOperation, err))
		}
		return c, nil
	case "oceanbase":
		port := cfg.Port
		if port == 0 {
			port = 2881
		}
		c, err := oceanbase.NewClient(&oceanbase.Config{
			Host:     cfg.Host,
			Port:     port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.Name,
			Options:  opts,
		})
		if err != nil {
			return nil, NewAssistantError("initStorage", errors.Join(ErrStorageOperation, err))
		}
		return c, nil
	default:
		return nil, NewAssistantError("initStorage", ErrInvalidConfig)
	}
}

// initLLM initializes the LLM provider.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	var (
		p   llm.Provider
		err error
	)
	switch cfg.Provider {
	case "openai":
		p, err = openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "qwen":
		p, err = qwenLLM.NewClient(&qwenLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "deepseek":
		p, err = deepseekLLM.NewClient(&deepseekLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "ollama":
		p, err = ollamaLLM.NewClient(&ollamaLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "anthropic":
		p, err = anthropicLLM.NewClient(&anthropicLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, NewAssistantError("initLLM", ErrInvalidConfig)
	}
	if err != nil {
		return nil, NewAssistantError("initLLM", errors.Join(ErrLLMOperation, err))
	}
	return p, nil
}
