package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/eldercare/companion-go/pkg/intelligence"
	"github.com/eldercare/companion-go/pkg/profile"
	"github.com/eldercare/companion-go/pkg/prompt"
	"github.com/eldercare/companion-go/pkg/rules"
	"github.com/eldercare/companion-go/pkg/safety"
	"github.com/eldercare/companion-go/pkg/storage"
)

// Route is the pipeline stage that produced a reply.
type Route string

const (
	RouteEmergency Route = "emergency"
	RouteQuickRule Route = "quick_rule"
	RouteLLM       Route = "llm"
	RouteOffline   Route = "offline"
)

// Activity types written to the interaction log.
const (
	ActivityEmergency  = "emergency_detected"
	ActivityQuickReply = "quick_reply"
)

// ChatContext is the per-turn input besides the utterance.
type ChatContext struct {
	// User is the conversing user. It is read-only to the client.
	User *storage.UserProfile

	// MessageHistory holds the previous turns in chronological order.
	MessageHistory []storage.ChatTurn
}

// Response describes how a turn was answered.
type Response struct {
	Text   string
	Route  Route
	TurnID string

	// Rule is the quick or offline rule that answered, if any.
	Rule string

	// Category is the matched emergency category.
	Category safety.Category

	// Rounds is the number of completion calls made.
	Rounds int

	// ToolCalls lists the executed tools in order.
	ToolCalls []string

	// SafetyOverride is set when the dosage post-processor replaced the model's text.
	SafetyOverride bool
}

// GenerateResponse answers message for the user in cc. It always returns a non-empty
// reply: model and repository failures end in the offline fallback.
func (c *Client) GenerateResponse(ctx context.Context, message string, cc ChatContext) string {
	resp, _ := c.Reply(ctx, message, cc)
	return resp.Text
}

// Reply is GenerateResponse with diagnostics. The returned Response is never nil and its
// Text is always usable; err reports why the offline fallback replaced the model, and is
// ErrNoProvider for a client without a provider.
func (c *Client) Reply(ctx context.Context, message string, cc ChatContext) (*Response, error) {
	start := time.Now()
	turnID := uuid.NewString()
	var userID int64
	if cc.User != nil {
		userID = cc.User.ID
	}

	ctx, span := c.tracer.Start(ctx, "companion.turn")
	defer span.End()
	span.SetAttributes(attribute.String("companion.turn_id", turnID), attribute.Int64("companion.user_id", userID))

	log := c.log.With().Str("turn_id", turnID).Int64("user_id", userID).Logger()
	ctx = log.WithContext(ctx)

	view := profile.FromUser(cc.User)
	resp, err := c.reply(ctx, log, userID, strings.TrimSpace(message), view, cc.MessageHistory)
	resp.TurnID = turnID

	span.SetAttributes(attribute.String("companion.route", string(resp.Route)))
	if err != nil && !errors.Is(err, ErrNoProvider) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
	}
	c.metrics.RecordTurn(string(resp.Route), time.Since(start))
	log.Info().
		Str("route", string(resp.Route)).
		Str("rule", resp.Rule).
		Int("rounds", resp.Rounds).
		Strs("tools", resp.ToolCalls).
		Bool("safety_override", resp.SafetyOverride).
		Dur("elapsed", time.Since(start)).
		Msg("turn answered")
	return resp, err
}

func (c *Client) reply(ctx context.Context, log zerolog.Logger, userID int64, message string, view *profile.View, history []storage.ChatTurn) (*Response, error) {
	if text, category, ok := c.classifier.Check(message); ok {
		resp := &Response{
			Text:     safety.WithContact(text, view),
			Route:    RouteEmergency,
			Rule:     rules.RuleEmergency,
			Category: category,
		}
		log.Warn().Str("category", string(category)).Msg("emergency detected")
		c.logActivity(ctx, userID, ActivityEmergency, string(category))
		c.persistChat(ctx, userID, message, resp.Text)
		return resp, nil
	}

	if quick, ok := c.responder.RuleBasedReply(message, view); ok {
		resp := &Response{Text: quick.Text, Route: RouteQuickRule, Rule: quick.Rule}
		c.logActivity(ctx, userID, ActivityQuickReply, quick.Rule)
		c.persistChat(ctx, userID, message, resp.Text)
		return resp, nil
	}

	if c.llm == nil {
		resp := c.offline(message, view)
		c.persistChat(ctx, userID, message, resp.Text)
		return resp, NewAssistantError("Reply", ErrNoProvider)
	}

	messages := c.builder.Build(prompt.Input{
		User:     view,
		Summary:  c.loadSummary(ctx, log, userID),
		Memories: c.loadMemories(ctx, log, userID),
		History:  history,
		Message:  message,
		Now:      c.now(),
	})

	result, err := c.runCompletion(ctx, log, userID, messages)
	if err == nil && strings.TrimSpace(result.Text) == "" {
		err = ErrEmptyCompletion
	}
	if err != nil {
		c.metrics.RecordLLMFailure("completion")
		log.Error().Err(err).Msg("completion failed, using offline fallback")
		resp := c.offline(message, view)
		if result != nil {
			resp.Rounds = result.Rounds
			resp.ToolCalls = result.ToolCalls
		}
		c.persistChat(ctx, userID, message, resp.Text)
		return resp, NewAssistantError("Reply", err)
	}

	text, overridden := safety.EnforceSafety(strings.TrimSpace(result.Text))
	if overridden {
		log.Warn().Msg("dosage language replaced by safe redirect")
	}
	resp := &Response{
		Text:           text,
		Route:          RouteLLM,
		Rounds:         result.Rounds,
		ToolCalls:      result.ToolCalls,
		SafetyOverride: overridden,
	}

	c.persistChat(ctx, userID, message, resp.Text)
	c.updateMemory(ctx, userID, intelligence.Turn{UserText: message, AssistantText: resp.Text})
	return resp, nil
}

func (c *Client) offline(message string, view *profile.View) *Response {
	r := c.responder.OfflineReply(message, view)
	return &Response{Text: r.Text, Route: RouteOffline, Rule: r.Rule}
}

// loadSummary and loadMemories degrade to empty context on repository errors.
func (c *Client) loadSummary(ctx context.Context, log zerolog.Logger, userID int64) string {
	summary, err := c.repo.GetConversationSummary(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load conversation summary")
		return ""
	}
	return summary
}

func (c *Client) loadMemories(ctx context.Context, log zerolog.Logger, userID int64) []*storage.Memory {
	memories, err := c.repo.GetTopMemories(ctx, userID, c.config.Assistant.MaxMemories)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load memories")
		return nil
	}
	return memories
}

func (c *Client) logActivity(ctx context.Context, userID int64, activityType, description string) {
	c.tasks.Go(ctx, TaskActivity, false, func(ctx context.Context) error {
		return c.repo.CreateActivity(ctx, &storage.Activity{
			UserID:       userID,
			ActivityType: activityType,
			Description:  description,
		})
	})
}

func (c *Client) persistChat(ctx context.Context, userID int64, userText, reply string) {
	c.tasks.Go(ctx, TaskChatLog, false, func(ctx context.Context) error {
		if err := c.repo.AppendChatTurn(ctx, userID, storage.ChatTurn{Role: storage.RoleUser, Content: userText}); err != nil {
			return err
		}
		return c.repo.AppendChatTurn(ctx, userID, storage.ChatTurn{Role: storage.RoleAssistant, Content: reply})
	})
}

// updateMemory schedules memory extraction on every model turn and the summary refresh
// when the trigger fires.
func (c *Client) updateMemory(ctx context.Context, userID int64, turn intelligence.Turn) {
	c.tasks.Go(ctx, TaskMemories, true, func(ctx context.Context) error {
		items, err := c.extractor.Extract(ctx, turn)
		if err != nil {
			c.metrics.RecordLLMFailure("extraction")
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return c.repo.UpsertMemories(ctx, userID, items)
	})

	if !c.trigger.Should(turn) {
		return
	}
	c.tasks.Go(ctx, TaskSummary, true, func(ctx context.Context) error {
		previous, err := c.repo.GetConversationSummary(ctx, userID)
		if err != nil {
			return err
		}
		summary, err := c.summarizer.Merge(ctx, previous, turn)
		if err != nil {
			c.metrics.RecordLLMFailure("summary")
			return err
		}
		return c.repo.SaveConversationSummary(ctx, userID, summary)
	})
}
