package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// StatusError carries the HTTP status of a failed provider call so the retry policy
// can tell transient failures from permanent ones.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying: network failures, 408, 429 and 5xx.
// Context cancellation and other 4xx responses are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= 500:
			return true
		case statusErr.StatusCode >= 400:
			return false
		}
	}
	return true
}

// LinearBackOff waits Base, 2*Base, 3*Base... between attempts.
type LinearBackOff struct {
	Base    time.Duration
	attempt int
}

// NextBackOff implements backoff.BackOff.
func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.Base * time.Duration(b.attempt)
}

// Reset implements backoff.BackOff.
func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// RetryProvider wraps a Provider with a bounded retry on transient failures.
type RetryProvider struct {
	Provider
	attempts uint
	base     time.Duration
	notify   func(err error, wait time.Duration)
}

// RetryOption configures a RetryProvider.
type RetryOption func(*RetryProvider)

// WithRetryNotify is called before each wait with the failure and the delay.
func WithRetryNotify(fn func(err error, wait time.Duration)) RetryOption {
	return func(r *RetryProvider) {
		r.notify = fn
	}
}

// NewRetryProvider retries every call of p up to attempts times, sleeping base*n before the
// n-th retry. attempts below 1 means a single attempt.
func NewRetryProvider(p Provider, attempts int, base time.Duration, opts ...RetryOption) *RetryProvider {
	if attempts < 1 {
		attempts = 1
	}
	r := &RetryProvider{Provider: p, attempts: uint(attempts), base: base}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func retry[T any](ctx context.Context, r *RetryProvider, op func() (T, error)) (T, error) {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(&LinearBackOff{Base: r.base}),
		backoff.WithMaxTries(r.attempts),
		backoff.WithMaxElapsedTime(0),
	}
	if r.notify != nil {
		opts = append(opts, backoff.WithNotify(r.notify))
	}

	return backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err != nil && !IsTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, opts...)
}

// Generate implements Provider.
func (r *RetryProvider) Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	return retry(ctx, r, func() (string, error) {
		return r.Provider.Generate(ctx, prompt, opts...)
	})
}

// GenerateWithMessages implements Provider.
func (r *RetryProvider) GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error) {
	return retry(ctx, r, func() (string, error) {
		return r.Provider.GenerateWithMessages(ctx, messages, opts...)
	})
}

// Chat implements Provider.
func (r *RetryProvider) Chat(ctx context.Context, messages []Message, opts ...GenerateOption) (*Completion, error) {
	return retry(ctx, r, func() (*Completion, error) {
		return r.Provider.Chat(ctx, messages, opts...)
	})
}
