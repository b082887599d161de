// Package tools executes the function calls requested by the model against the repository.
//
// Every tool acts for the conversing user only: a missing elderlyUserId is filled in with the
// caller's id and a different id is refused. Results are always JSON; failures become
// {"error": ...} objects so a failing tool never aborts the turn.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/eldercare/companion-go/pkg/llm"
	"github.com/eldercare/companion-go/pkg/storage"
)

const (
	// DefaultUpcomingDays is the look-ahead of get_upcoming_reminders.
	DefaultUpcomingDays = 14

	// MaxUpcomingDays bounds the look-ahead.
	MaxUpcomingDays = 60

	// MedicationType is the reminder type listed by get_user_medications.
	MedicationType = "medication"
)

var (
	// ReminderTypes are the accepted reminder types.
	ReminderTypes = []string{"medication", "appointment", "activity", "call", "other"}

	// Recurrences are the accepted recurrence values.
	Recurrences = []string{"none", "daily", "weekly", "monthly"}

	// ErrForbidden is returned when the model names another user.
	ErrForbidden = storage.ErrForbidden

	// ErrUnknownTool is returned for names outside Definitions.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments wraps argument validation failures.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Result is the outcome of one tool call. Content is the JSON fed back to the model;
// Err is kept for logs and metrics and is never returned to the model as-is.
type Result struct {
	Content string
	Err     error
}

// OK reports whether the tool succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Router dispatches tool calls to the repository.
type Router struct {
	repo     storage.Repository
	validate *validator.Validate
}

// NewRouter creates a Router over repo.
func NewRouter(repo storage.Repository) *Router {
	return &Router{repo: repo, validate: validator.New()}
}

// Definitions returns the tool schemas offered to the model.
func (r *Router) Definitions() []llm.ToolDefinition {
	return Definitions()
}

type reminderArgs struct {
	Type         string `json:"type" validate:"required,oneof=medication appointment activity call other"`
	Title        string `json:"title" validate:"required,max=120"`
	Description  string `json:"description" validate:"max=500"`
	ReminderDate string `json:"reminderDate" validate:"required,datetime=2006-01-02"`
	ReminderTime string `json:"reminderTime" validate:"required,datetime=15:04"`
	Recurrence   string `json:"recurrence" validate:"omitempty,oneof=none daily weekly monthly"`
}

type createReminderArgs struct {
	Reminder *reminderArgs `json:"reminder" validate:"required"`
}

type markCompleteArgs struct {
	ReminderID flexibleID `json:"reminderId" validate:"required"`
	Notes      string     `json:"notes" validate:"max=500"`
}

type upcomingArgs struct {
	Days int `json:"days"`
}

type logInteractionArgs struct {
	Action string `json:"action" validate:"required,max=64"`
	Detail string `json:"detail" validate:"max=500"`
}

// reminderView is the compact reminder shape returned to the model.
type reminderView struct {
	ID             int64  `json:"id"`
	Type           string `json:"type"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Recurrence     string `json:"recurrence,omitempty"`
	CompletedToday bool   `json:"completedToday"`
}

// Execute runs call for userID. It never panics on model input and always returns JSON content.
func (r *Router) Execute(ctx context.Context, userID int64, call llm.ToolCall) Result {
	args := parseArguments(call.Arguments)

	if call.Name != MarkReminderComplete {
		if err := authorize(args, userID); err != nil {
			return failure("forbidden", err)
		}
	}

	var (
		payload interface{}
		err     error
	)
	switch call.Name {
	case GetTodayReminders:
		payload, err = r.todayReminders(ctx, userID)
	case GetUpcomingReminders:
		payload, err = r.upcomingReminders(ctx, userID, args)
	case GetUserMedications:
		payload, err = r.medications(ctx, userID)
	case GetEmergencyContact:
		payload, err = r.emergencyContact(ctx, userID)
	case CreateReminder:
		payload, err = r.createReminder(ctx, userID, args)
	case MarkReminderComplete:
		payload, err = r.markComplete(ctx, userID, args)
	case LogInteraction:
		payload, err = r.logInteraction(ctx, userID, args)
	default:
		return failure("unknown_tool", fmt.Errorf("%w: %q", ErrUnknownTool, call.Name))
	}

	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidArguments):
			return Result{Content: marshal(map[string]string{"error": "invalid_arguments", "details": err.Error()}), Err: err}
		case errors.Is(err, storage.ErrNotFound):
			return failure("not_found", err)
		default:
			return failure("tool_failed", err)
		}
	}
	return Result{Content: marshal(payload)}
}

func (r *Router) todayReminders(ctx context.Context, userID int64) (interface{}, error) {
	reminders, err := r.repo.GetTodayReminders(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"reminders": toViews(reminders)}, nil
}

func (r *Router) upcomingReminders(ctx context.Context, userID int64, args map[string]json.RawMessage) (interface{}, error) {
	var a upcomingArgs
	decodeInto(args, &a)
	days := a.Days
	switch {
	case days <= 0:
		days = DefaultUpcomingDays
	case days > MaxUpcomingDays:
		days = MaxUpcomingDays
	}
	reminders, err := r.repo.GetUpcomingReminders(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"days": days, "reminders": toViews(reminders)}, nil
}

func (r *Router) medications(ctx context.Context, userID int64) (interface{}, error) {
	reminders, err := r.repo.GetReminders(ctx, userID)
	if err != nil {
		return nil, err
	}
	var meds []*storage.Reminder
	for _, rem := range reminders {
		if strings.EqualFold(rem.Type, MedicationType) {
			meds = append(meds, rem)
		}
	}
	return map[string]interface{}{"medications": toViews(meds)}, nil
}

func (r *Router) emergencyContact(ctx context.Context, userID int64) (interface{}, error) {
	u, err := r.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.EmergencyContactName == "" && u.EmergencyContactPhone == "" && u.EmergencyContact == "" {
		return map[string]interface{}{"contact": nil}, nil
	}
	return map[string]interface{}{"contact": map[string]string{
		"name":    u.EmergencyContactName,
		"phone":   u.EmergencyContactPhone,
		"details": u.EmergencyContact,
	}}, nil
}

func (r *Router) createReminder(ctx context.Context, userID int64, args map[string]json.RawMessage) (interface{}, error) {
	var a createReminderArgs
	decodeInto(args, &a)
	if err := r.validate.Struct(a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	recurrence := a.Reminder.Recurrence
	if recurrence == "" {
		recurrence = "none"
	}
	created, err := r.repo.CreateReminder(ctx, &storage.Reminder{
		ElderlyUserID: userID,
		Type:          a.Reminder.Type,
		Title:         strings.TrimSpace(a.Reminder.Title),
		Description:   strings.TrimSpace(a.Reminder.Description),
		ReminderDate:  a.Reminder.ReminderDate,
		ReminderTime:  a.Reminder.ReminderTime,
		Recurrence:    recurrence,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true, "reminder": toView(created)}, nil
}

func (r *Router) markComplete(ctx context.Context, userID int64, args map[string]json.RawMessage) (interface{}, error) {
	var a markCompleteArgs
	decodeInto(args, &a)
	if err := r.validate.Struct(a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	completion, err := r.repo.MarkReminderComplete(ctx, int64(a.ReminderID), userID, userID, strings.TrimSpace(a.Notes))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true, "completion": map[string]interface{}{
		"reminderId":  completion.ReminderID,
		"completedOn": completion.CompletedOn,
	}}, nil
}

func (r *Router) logInteraction(ctx context.Context, userID int64, args map[string]json.RawMessage) (interface{}, error) {
	var a logInteractionArgs
	decodeInto(args, &a)
	if err := r.validate.Struct(a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	if err := r.repo.CreateActivity(ctx, &storage.Activity{
		UserID:       userID,
		ActivityType: strings.TrimSpace(a.Action),
		Description:  strings.TrimSpace(a.Detail),
	}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}

// authorize fills a missing elderlyUserId with userID and rejects any other id.
func authorize(args map[string]json.RawMessage, userID int64) error {
	raw, ok := args["elderlyUserId"]
	if !ok {
		return nil
	}
	id, present, valid := parseID(raw)
	if !present {
		return nil
	}
	if !valid || id != userID {
		return fmt.Errorf("%w: tool called for user %s by user %d", ErrForbidden, string(raw), userID)
	}
	return nil
}

// parseArguments decodes the model's argument string; anything but a JSON object is empty.
func parseArguments(raw string) map[string]json.RawMessage {
	args := map[string]json.RawMessage{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]json.RawMessage{}
	}
	return args
}

// decodeInto re-encodes the argument map into a typed struct, ignoring type mismatches
// field by field so one bad value does not discard the rest.
func decodeInto(args map[string]json.RawMessage, dst interface{}) {
	data, err := json.Marshal(args)
	if err != nil {
		return
	}
	// Unmarshal keeps going past type mismatches; the zero values are caught by validation.
	_ = json.Unmarshal(data, dst)
}

// flexibleID accepts 12 and "12".
type flexibleID int64

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	id, present, valid := parseID(data)
	if !present || !valid {
		*f = 0
		return nil
	}
	*f = flexibleID(id)
	return nil
}

// parseID reads a JSON number or numeric string. null and "" count as absent.
func parseID(raw json.RawMessage) (id int64, present, valid bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `""` {
		return 0, false, false
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		s = strings.TrimSpace(str)
		if s == "" {
			return 0, false, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		var f float64
		if json.Unmarshal([]byte(s), &f) != nil || f != float64(int64(f)) {
			return 0, true, false
		}
		id = int64(f)
	}
	return id, true, true
}

func toView(r *storage.Reminder) reminderView {
	return reminderView{
		ID:             r.ID,
		Type:           r.Type,
		Title:          r.Title,
		Description:    r.Description,
		Date:           r.ReminderDate,
		Time:           r.ReminderTime,
		Recurrence:     r.Recurrence,
		CompletedToday: r.CompletedToday,
	}
}

func toViews(reminders []*storage.Reminder) []reminderView {
	views := make([]reminderView, 0, len(reminders))
	for _, r := range reminders {
		views = append(views, toView(r))
	}
	return views
}

func failure(code string, err error) Result {
	return Result{Content: marshal(map[string]string{"error": code}), Err: err}
}

func marshal(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"encoding_failed"}`
	}
	return string(data)
}
