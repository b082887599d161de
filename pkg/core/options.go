package core

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/eldercare/companion-go/pkg/metrics"
	"github.com/eldercare/companion-go/pkg/rules"
)

// Option configures a Client.
//
// Options are applied using the functional options pattern on top of the values taken
// from Config.
type Option func(*Client)

// WithLogger sets the logger. The default logger is disabled.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithMetrics sets the Prometheus metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracer sets the tracer used for turn, round and tool spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithClock overrides the time source.
//
// Example:
//
//	client, _ := core.NewClient(cfg, repo, provider,
//	    core.WithClock(func() time.Time { return fixed }))
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithLocation sets the user's time zone, overriding assistant.time_zone.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		c.location = loc
	}
}

// WithRand sets the randomness used for fillers and exercises.
func WithRand(rnd rules.Rand) Option {
	return func(c *Client) {
		c.rnd = rnd
	}
}

// WithSummaryDraw sets the [0,1) draw used by the summary trigger.
func WithSummaryDraw(draw func() float64) Option {
	return func(c *Client) {
		c.summaryDraw = draw
	}
}

// WithRetryBackoff overrides llm.retry_backoff (tests use a tiny value).
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.retryBackoff = d
	}
}
