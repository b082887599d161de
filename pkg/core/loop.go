package core

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/eldercare/companion-go/pkg/llm"
	"github.com/eldercare/companion-go/pkg/tools"
)

// loopState is the state of the completion loop.
type loopState int

const (
	stateInitial loopState = iota
	stateAwaitingTools
	stateToolExecuted
	stateFinal
)

func (s loopState) String() string {
	switch s {
	case stateInitial:
		return "initial"
	case stateAwaitingTools:
		return "awaiting_tools"
	case stateToolExecuted:
		return "tool_executed"
	case stateFinal:
		return "final"
	default:
		return "unknown"
	}
}

// completionResult is what the loop produced, even when it failed midway.
type completionResult struct {
	Text      string
	Rounds    int
	ToolCalls []string
}

// next decides the state after a completion. Tool requests beyond the round limit are
// ignored and the completion's content becomes the answer.
func (c *Client) next(completion *llm.Completion, toolRounds int) loopState {
	if completion.HasToolCalls() && toolRounds < c.config.Assistant.MaxToolRounds {
		return stateAwaitingTools
	}
	return stateFinal
}

// runCompletion calls the model until it answers with text, executing requested tools
// between calls. It makes at most MaxToolRounds+1 calls.
func (c *Client) runCompletion(ctx context.Context, log zerolog.Logger, userID int64, messages []llm.Message) (*completionResult, error) {
	opts := []llm.GenerateOption{
		llm.WithTools(tools.Definitions()),
		llm.WithTemperature(c.config.LLM.Temperature),
		llm.WithMaxTokens(c.config.LLM.MaxTokens),
	}

	result := &completionResult{}
	defer func() { c.metrics.ObserveCompletionRounds(result.Rounds) }()

	state := stateInitial
	toolRounds := 0
	for state != stateFinal {
		completion, err := c.chatRound(ctx, messages, opts, result.Rounds+1)
		result.Rounds++
		if err != nil {
			return result, err
		}

		state = c.next(completion, toolRounds)
		log.Debug().Int("round", result.Rounds).Stringer("state", state).Int("tool_calls", len(completion.ToolCalls)).Msg("completion round")
		if state == stateFinal {
			result.Text = completion.Content
			break
		}

		messages = append(messages, completion.Message())
		for _, call := range completion.ToolCalls {
			messages = append(messages, c.executeTool(ctx, log, userID, call))
			result.ToolCalls = append(result.ToolCalls, call.Name)
		}
		toolRounds++
		state = stateToolExecuted
	}
	return result, nil
}

func (c *Client) chatRound(ctx context.Context, messages []llm.Message, opts []llm.GenerateOption, round int) (*llm.Completion, error) {
	ctx, span := c.tracer.Start(ctx, "companion.completion")
	defer span.End()
	span.SetAttributes(attribute.Int("companion.round", round), attribute.Int("companion.messages", len(messages)))

	completion, err := c.llm.Chat(ctx, messages, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat failed")
		return nil, err
	}
	if completion == nil {
		completion = &llm.Completion{}
	}
	return completion, nil
}

// executeTool runs one call and returns the tool message that answers it. Tool failures
// are reported to the model as JSON errors, never to the caller.
func (c *Client) executeTool(ctx context.Context, log zerolog.Logger, userID int64, call llm.ToolCall) llm.Message {
	ctx, span := c.tracer.Start(ctx, "companion.tool")
	defer span.End()
	span.SetAttributes(attribute.String("companion.tool", call.Name))

	res := c.router.Execute(ctx, userID, call)
	status := statusOK
	if !res.OK() {
		status = statusError
		span.RecordError(res.Err)
		log.Warn().Str("tool", call.Name).Err(res.Err).Msg("tool call failed")
	}
	c.metrics.RecordToolCall(call.Name, status)

	return llm.Message{
		Role:       llm.RoleTool,
		Content:    res.Content,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}
