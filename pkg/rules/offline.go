package rules

import (
	"github.com/eldercare/companion-go/pkg/profile"
	"github.com/eldercare/companion-go/pkg/safety"
)

const offlineMedicationAdvice = "ahora mismo no puedo consultar tus recordatorios. Echa un vistazo a tu pastillero " +
	"o al calendario, y si tienes cualquier duda sobre tu medicación, pregunta a tu familia o a tu médico."

var offlineFillers = []string{
	"cuéntame más, me gusta mucho escucharte. ¿Qué has hecho hoy?",
	"estoy aquí contigo. ¿Te apetece que hablemos de algún recuerdo bonito?",
	"qué bien que me escribas. ¿Cómo te encuentras hoy?",
}

// offlineRule is one entry of the offline table. Handlers always produce a reply.
type offlineRule struct {
	name    string
	matches func(r *Responder, message, folded string) bool
	handle  func(r *Responder, message, folded string, v *profile.View) string
}

var offlineRules = []offlineRule{
	{
		name: RuleEmergency,
		matches: func(r *Responder, message, _ string) bool {
			return r.emergency.CheckEmergency(message) != ""
		},
		handle: func(r *Responder, message, _ string, v *profile.View) string {
			return safety.WithContact(r.emergency.CheckEmergency(message), v)
		},
	},
	{
		name:    RuleExercise,
		matches: func(_ *Responder, _, folded string) bool { return exerciseWords.MatchString(folded) },
		handle: func(r *Responder, _, folded string, v *profile.View) string {
			return r.exerciseReply(folded, v)
		},
	},
	{
		name:    RuleMedication,
		matches: func(_ *Responder, _, folded string) bool { return medicationWord.MatchString(folded) },
		handle: func(_ *Responder, _, _ string, v *profile.View) string {
			return addressed(v, offlineMedicationAdvice)
		},
	},
	{
		name:    RuleMood,
		matches: func(_ *Responder, _, folded string) bool { return moodWords.MatchString(folded) },
		handle: func(_ *Responder, _, _ string, v *profile.View) string {
			return moodReply(v)
		},
	},
	{
		name:    RuleDateTime,
		matches: func(_ *Responder, _, folded string) bool { return clockQuestion(folded) },
		handle: func(r *Responder, _, _ string, v *profile.View) string {
			return r.dateTimeReply(v)
		},
	},
}

// OfflineReply answers without any model call. It never returns an empty text.
func (r *Responder) OfflineReply(message string, v *profile.View) Reply {
	folded := safety.Fold(message)
	for _, rule := range offlineRules {
		if rule.matches(r, message, folded) {
			return Reply{Text: rule.handle(r, message, folded, v), Rule: rule.name}
		}
	}
	filler := offlineFillers[r.rnd.IntN(len(offlineFillers))]
	return Reply{Text: addressed(v, filler), Rule: RuleFiller}
}
