package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldercare/companion-go/pkg/llm"
)

// flakyProvider fails the first failures calls of Chat with err.
type flakyProvider struct {
	failures int
	err      error
	calls    int
}

func (p *flakyProvider) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	c, err := p.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
	if err != nil {
		return "", err
	}
	return c.Content, nil
}

func (p *flakyProvider) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	c, err := p.Chat(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	return c.Content, nil
}

func (p *flakyProvider) Chat(context.Context, []llm.Message, ...llm.GenerateOption) (*llm.Completion, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	return &llm.Completion{Content: "ok", FinishReason: llm.FinishStop}, nil
}

func (p *flakyProvider) Close() error { return nil }

func TestRetryProvider_RecoversFromTransientFailure(t *testing.T) {
	inner := &flakyProvider{failures: 1, err: &llm.StatusError{StatusCode: 503, Err: errors.New("unavailable")}}

	var waits []time.Duration
	p := llm.NewRetryProvider(inner, 2, time.Millisecond, llm.WithRetryNotify(func(_ error, d time.Duration) {
		waits = append(waits, d)
	}))

	text, err := p.Generate(context.Background(), "hola")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []time.Duration{time.Millisecond}, waits)
}

func TestRetryProvider_GivesUpAfterAttempts(t *testing.T) {
	boom := errors.New("connection reset")
	inner := &flakyProvider{failures: 10, err: boom}
	p := llm.NewRetryProvider(inner, 2, time.Millisecond)

	_, err := p.Chat(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, inner.calls)
}

func TestRetryProvider_DoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyProvider{failures: 10, err: &llm.StatusError{StatusCode: 401, Err: errors.New("bad key")}}
	p := llm.NewRetryProvider(inner, 3, time.Millisecond)

	_, err := p.Chat(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)

	var statusErr *llm.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 401, statusErr.StatusCode)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"rate limited", &llm.StatusError{StatusCode: 429, Err: errors.New("slow down")}, true},
		{"server error", &llm.StatusError{StatusCode: 502, Err: errors.New("bad gateway")}, true},
		{"bad request", &llm.StatusError{StatusCode: 400, Err: errors.New("invalid")}, false},
		{"network", errors.New("dial tcp: i/o timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.IsTransient(tt.err))
		})
	}
}

func TestLinearBackOff(t *testing.T) {
	b := &llm.LinearBackOff{Base: 300 * time.Millisecond}
	assert.Equal(t, 300*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 600*time.Millisecond, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 300*time.Millisecond, b.NextBackOff())
}

func TestApplyGenerateOptions(t *testing.T) {
	opts := llm.ApplyGenerateOptions([]llm.GenerateOption{
		llm.WithTemperature(0.2),
		llm.WithMaxTokens(400),
		llm.WithTools([]llm.ToolDefinition{{Name: "get_reminders"}}),
		llm.WithJSONMode(),
	})

	assert.Equal(t, 0.2, opts.Temperature)
	assert.Equal(t, 400, opts.MaxTokens)
	assert.Equal(t, 1.0, opts.TopP)
	assert.Equal(t, "auto", opts.ToolChoice)
	assert.True(t, opts.JSONMode)
	assert.Len(t, opts.Tools, 1)
}
