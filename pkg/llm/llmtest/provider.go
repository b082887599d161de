// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/eldercare/companion-go/pkg/llm"
)

// ErrExhausted is returned once every scripted step has been consumed.
var ErrExhausted = errors.New("llmtest: script exhausted")

// Step is one scripted answer: either a completion or an error.
type Step struct {
	Completion *llm.Completion
	Err        error
}

// Text is a step answering with plain content.
func Text(content string) Step {
	return Step{Completion: &llm.Completion{Content: content, FinishReason: llm.FinishStop}}
}

// Tools is a step requesting tool calls.
func Tools(calls ...llm.ToolCall) Step {
	return Step{Completion: &llm.Completion{ToolCalls: calls, FinishReason: llm.FinishToolCalls}}
}

// Fail is a step returning err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Request is a recorded call.
type Request struct {
	Messages []llm.Message
	Options  *llm.GenerateOptions
}

// Provider answers calls from a script, in order. A Responder, when set, takes precedence
// and lets tests route concurrent callers by content.
type Provider struct {
	mu        sync.Mutex
	steps     []Step
	requests  []Request
	Responder func(messages []llm.Message, opts *llm.GenerateOptions) Step
}

var _ llm.Provider = (*Provider)(nil)

// New returns a Provider that plays steps in order.
func New(steps ...Step) *Provider {
	return &Provider{steps: steps}
}

// Push appends steps to the script.
func (p *Provider) Push(steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, steps...)
}

// Requests returns a copy of every recorded call.
func (p *Provider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// Calls returns the number of calls made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (*llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	options := llm.ApplyGenerateOptions(opts)

	p.mu.Lock()
	p.requests = append(p.requests, Request{Messages: append([]llm.Message(nil), messages...), Options: options})
	var step Step
	switch {
	case p.Responder != nil:
		responder := p.Responder
		p.mu.Unlock()
		step = responder(messages, options)
	case len(p.steps) == 0:
		p.mu.Unlock()
		return nil, ErrExhausted
	default:
		step = p.steps[0]
		p.steps = p.steps[1:]
		p.mu.Unlock()
	}

	if step.Err != nil {
		return nil, step.Err
	}
	c := *step.Completion
	return &c, nil
}

func (p *Provider) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return p.GenerateWithMessages(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
}

func (p *Provider) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	c, err := p.Chat(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	return c.Content, nil
}

func (p *Provider) Close() error {
	return nil
}
