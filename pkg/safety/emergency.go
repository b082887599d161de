// Package safety holds the deterministic safety layer around the language model:
// emergency detection on the way in and the medication-dosage override on the way out.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/eldercare/companion-go/pkg/profile"
)

// DefaultEmergencyNumber is the European emergency number.
const DefaultEmergencyNumber = "112"

// Category names an emergency pattern group.
type Category string

const (
	ChestPain        Category = "chest_pain"
	BreathingTrouble Category = "breathing"
	LossOfConscious  Category = "loss_of_consciousness"
	SevereConfusion  Category = "severe_confusion"
	OneSidedWeakness Category = "one_sided_weakness"
	SuicidalIdeation Category = "suicidal_ideation"
	HeavyBleeding    Category = "heavy_bleeding"
)

// Pattern is one entry of the emergency table. Expressions match folded text.
type Pattern struct {
	Category Category
	Expr     *regexp.Regexp
}

// EmergencyPatterns is evaluated in order; any match triggers the emergency reply.
var EmergencyPatterns = []Pattern{
	{ChestPain, regexp.MustCompile(`dolor (fuerte |intenso |muy fuerte )?(en el |en |de |del )?pecho`)},
	{ChestPain, regexp.MustCompile(`me duele (mucho )?el pecho`)},
	{ChestPain, regexp.MustCompile(`(opresion|presion) en el pecho|infarto`)},
	{BreathingTrouble, regexp.MustCompile(`no puedo respirar|no respiro bien|me falta (el )?aire|me ahogo|me estoy ahogando`)},
	{BreathingTrouble, regexp.MustCompile(`(dificultad|problemas?) (para|al) respirar`)},
	{LossOfConscious, regexp.MustCompile(`me (he )?desmayad|me desmaye|me voy a desmayar|perdi el conocimiento|perdida de conocimiento`)},
	{LossOfConscious, regexp.MustCompile(`(se ha|se) desmayado|esta inconsciente|no despierta`)},
	{SevereConfusion, regexp.MustCompile(`no se donde estoy|no se quien soy|no reconozco (mi casa|a nadie|donde estoy)`)},
	{SevereConfusion, regexp.MustCompile(`(muy|totalmente) (confundid[oa]|desorientad[oa])`)},
	{OneSidedWeakness, regexp.MustCompile(`no (puedo|siento) mover (el|la|un|una|mi) (brazo|pierna|mano|lado)`)},
	{OneSidedWeakness, regexp.MustCompile(`(cara|boca) torcida|se me duerme (la cara|medio cuerpo|un lado)|debilidad (en|de) un lado|no puedo hablar bien`)},
	{SuicidalIdeation, regexp.MustCompile(`(me )?quiero morir|quitarme la vida|suicid|no quiero (seguir )?vivir|acabar con (mi vida|todo)`)},
	{HeavyBleeding, regexp.MustCompile(`sangr(o|ando|a) mucho|mucha sangre|hemorragia|no (para|deja) de sangrar|sangrado (fuerte|abundante)`)},
}

// NarrativePattern matches accounts of past or habitual events ("murió de un infarto",
// "no despierta hasta las diez"). Matches are removed before the emergency table runs.
var NarrativePattern = regexp.MustCompile(`\b(` +
	`(murio|fallecio|(ha|habia) (muerto|fallecido)|muerto|fallecido|tuvo|tuve|le dio|me dio|sufrio|sufri)( de| por)?( un| una| el)? infartos?|` +
	`no despierta (hasta|antes)` +
	`)\b`)

// Classifier detects emergencies in user utterances.
type Classifier struct {
	patterns  []Pattern
	narrative *regexp.Regexp
	message   string
}

// NewClassifier builds a classifier whose reply points at the given emergency number.
func NewClassifier(emergencyNumber string) *Classifier {
	if emergencyNumber == "" {
		emergencyNumber = DefaultEmergencyNumber
	}
	return &Classifier{
		patterns:  EmergencyPatterns,
		narrative: NarrativePattern,
		message:   EmergencyMessage(emergencyNumber),
	}
}

// EmergencyMessage is the fixed reply returned for every emergency category.
func EmergencyMessage(emergencyNumber string) string {
	return fmt.Sprintf("Lo que me cuentas puede ser una emergencia. Llama ahora mismo al %s o pide a alguien "+
		"que lo haga por ti. Avisa también a un familiar o a una persona de confianza que esté cerca. "+
		"Mientras llega la ayuda, siéntate y respira despacio: toma aire por la nariz contando hasta "+
		"cuatro y suéltalo por la boca contando hasta seis.", emergencyNumber)
}

// Check returns the emergency message and the matched category, or ok=false.
func (c *Classifier) Check(text string) (message string, category Category, ok bool) {
	folded := Fold(text)
	if c.narrative != nil {
		folded = c.narrative.ReplaceAllString(folded, " ")
	}
	for _, p := range c.patterns {
		if p.Expr.MatchString(folded) {
			return c.message, p.Category, true
		}
	}
	return "", "", false
}

// CheckEmergency reports the fixed emergency message for text, or "" when nothing matched.
func (c *Classifier) CheckEmergency(text string) string {
	msg, _, _ := c.Check(text)
	return msg
}

// WithContact appends the user's emergency contact to an emergency message when one is known.
func WithContact(message string, v *profile.View) string {
	if v == nil || !v.HasEmergencyContact() {
		return message
	}
	contact := v.EmergencyContactName
	switch {
	case contact == "":
		contact = v.EmergencyContactPhone
	case v.EmergencyContactPhone != "":
		contact = fmt.Sprintf("%s (%s)", contact, v.EmergencyContactPhone)
	}
	return strings.TrimSpace(message) + " Tu contacto de emergencia es " + contact + "."
}
