// Package rules answers simple turns without the language model: the quick-rule responder
// that runs before every completion and the offline fallback used when no model is available.
//
// Both are declarative tables of (pattern, handler) pairs evaluated in order over folded
// text (lowercase, no accents), so precedence is visible in one place and testable per rule.
package rules

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/eldercare/companion-go/pkg/exercise"
	"github.com/eldercare/companion-go/pkg/profile"
	"github.com/eldercare/companion-go/pkg/safety"
)

// Rule names, used for logging and interaction records.
const (
	RuleDateTime   = "date_time"
	RuleMood       = "mood"
	RuleMedication = "medication"
	RuleExercise   = "exercise"
	RuleEmergency  = "emergency"
	RuleFiller     = "filler"
)

// maxTimeQuestionRunes bounds the time/date quick rule to short questions.
const maxTimeQuestionRunes = 30

var (
	timeQuestion   = regexp.MustCompile(`\b(que hora es|que horas son|hora es|que dia es|dia es hoy|(a|en) que dia estamos|que fecha es|(a|en) que fecha estamos|(en )?que mes (es|estamos)|(en )?que ano (es|estamos))\b`)
	moodWords      = regexp.MustCompile(`\b(triste|tristeza|(me siento|estoy|muy|tan) sol[oa]s?|solit[oa]|soledad|ansios[oa]|ansiedad|angustiad[oa]|nervios[oa]|deprimid[oa]|agobiad[oa]|me siento mal|lloro|llorar)\b`)
	medicationWord = regexp.MustCompile(`\b(medicin\w*|medicament\w*|medicacion|pastillas?|pildoras?|dosis|cita|citas|medico|recordatorios?|agenda|que tengo hoy)\b`)
	exerciseWords  = regexp.MustCompile(`\b(jugar|juego|juegos|ejercicios?|memoria|adivinanzas?|entrenar|acertijos?)\b`)
	numbersWords   = regexp.MustCompile(`\b(numeros?|cifras?)\b`)
	storyWords     = regexp.MustCompile(`\b(historia|cuento|relato)\b`)
)

// scheduleQuestion marks questions about when something happens ("a qué hora es mi cita").
var scheduleQuestion = regexp.MustCompile(`\b(a|para|hasta|desde) que (hora|dia|fecha)\b`)

// clockQuestion reports whether folded asks for the current time or date. Questions about
// the schedule of reminders belong to the model and its tools.
func clockQuestion(folded string) bool {
	return timeQuestion.MatchString(folded) &&
		!scheduleQuestion.MatchString(folded) &&
		!medicationWord.MatchString(folded)
}

// Reply is a deterministic answer and the rule that produced it.
type Reply struct {
	Text string
	Rule string
}

// Rand picks among equally valid options; *rand.Rand satisfies it.
type Rand = exercise.Rand

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Responder evaluates the quick rules and the offline fallback.
type Responder struct {
	exercises *exercise.Generator
	emergency *safety.Classifier
	rnd       Rand
	now       func() time.Time
	location  *time.Location
}

// Option configures a Responder.
type Option func(*Responder)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Responder) { r.now = now }
}

// WithLocation sets the time zone used for time and date replies.
func WithLocation(loc *time.Location) Option {
	return func(r *Responder) { r.location = loc }
}

// WithRand sets the randomness used for fillers and exercise choice.
func WithRand(rnd Rand) Option {
	return func(r *Responder) { r.rnd = rnd }
}

// WithClassifier sets the emergency classifier used by the offline fallback.
func WithClassifier(c *safety.Classifier) Option {
	return func(r *Responder) { r.emergency = c }
}

// NewResponder builds a Responder.
func NewResponder(opts ...Option) *Responder {
	r := &Responder{now: time.Now, location: time.Local}
	for _, opt := range opts {
		opt(r)
	}
	if r.emergency == nil {
		r.emergency = safety.NewClassifier(safety.DefaultEmergencyNumber)
	}
	if r.rnd == nil {
		r.rnd = globalRand{}
	}
	r.exercises = exercise.NewGenerator(r.rnd)
	return r
}

// quickRule is one entry of the quick-rule table. A handler returning ok=false with
// stop=true ends evaluation without a reply, which hands the turn to the model.
type quickRule struct {
	name    string
	matches func(folded string, runes int) bool
	handle  func(r *Responder, folded string, v *profile.View) (text string, ok bool)
}

var quickRules = []quickRule{
	{
		name: RuleDateTime,
		matches: func(folded string, runes int) bool {
			return runes < maxTimeQuestionRunes && clockQuestion(folded)
		},
		handle: func(r *Responder, _ string, v *profile.View) (string, bool) {
			return r.dateTimeReply(v), true
		},
	},
	{
		name:    RuleMood,
		matches: func(folded string, _ int) bool { return moodWords.MatchString(folded) },
		handle: func(_ *Responder, _ string, v *profile.View) (string, bool) {
			return moodReply(v), true
		},
	},
	{
		// Reminder data must come from tools, so these turns always go to the model.
		name:    RuleMedication,
		matches: func(folded string, _ int) bool { return medicationWord.MatchString(folded) },
		handle: func(*Responder, string, *profile.View) (string, bool) {
			return "", false
		},
	},
	{
		name:    RuleExercise,
		matches: func(folded string, _ int) bool { return exerciseWords.MatchString(folded) },
		handle: func(r *Responder, folded string, v *profile.View) (string, bool) {
			return r.exerciseReply(folded, v), true
		},
	},
}

// RuleBasedReply returns a quick reply for message, or ok=false when the model should answer.
// The first matching rule decides.
func (r *Responder) RuleBasedReply(message string, v *profile.View) (Reply, bool) {
	folded := safety.Fold(message)
	n := utf8.RuneCountInString(message)
	for _, rule := range quickRules {
		if !rule.matches(folded, n) {
			continue
		}
		text, ok := rule.handle(r, folded, v)
		if !ok {
			return Reply{Rule: rule.name}, false
		}
		return Reply{Text: text, Rule: rule.name}, true
	}
	return Reply{}, false
}

func (r *Responder) clock() time.Time {
	now := r.now()
	if r.location != nil {
		now = now.In(r.location)
	}
	return now
}

func (r *Responder) dateTimeReply(v *profile.View) string {
	now := r.clock()
	return addressed(v, fmt.Sprintf("ahora son las %s. Hoy es %s. ¿Quieres que repasemos lo que tienes para hoy?",
		SpanishTime(now), SpanishDate(now)))
}

func (r *Responder) exerciseReply(folded string, v *profile.View) string {
	kind := exercise.Kinds[r.rnd.IntN(len(exercise.Kinds))]
	switch {
	case numbersWords.MatchString(folded):
		kind = exercise.Numbers
	case storyWords.MatchString(folded):
		kind = exercise.Story
	}
	ex := r.exercises.Generate(kind, v)
	return addressed(v, "¡qué buena idea! Vamos a ejercitar la memoria. "+ex.Prompt)
}

func moodReply(v *profile.View) string {
	return addressed(v, "siento que te sientas así. Estoy aquí contigo y me alegra que me lo cuentes. "+
		"¿Te apetece que charlemos un rato, o prefieres que avisemos a alguien de tu familia?")
}

// addressed prefixes sentence with "María, ", or capitalizes it when the name is unknown.
func addressed(v *profile.View, sentence string) string {
	if v != nil && v.FirstName != "" {
		return v.FirstName + ", " + sentence
	}
	if i := strings.IndexFunc(sentence, unicode.IsLetter); i >= 0 {
		r, size := utf8.DecodeRuneInString(sentence[i:])
		return sentence[:i] + string(unicode.ToUpper(r)) + sentence[i+size:]
	}
	return sentence
}
