package safety

import (
	"regexp"
)

// SafeDosageRedirect replaces any reply that tells the user to change a medication dose.
const SafeDosageRedirect = "Cualquier cambio en la dosis o en la forma de tomar tu medicación tienes que " +
	"hablarlo con tu médico o con tu familia. Yo puedo ayudarte a recordar los horarios de tus " +
	"medicinas, pero no puedo cambiar las dosis."

const medTerms = `pastillas?|medicamentos?|medicinas?|medicacion|dosis|comprimidos?|capsulas?|pildoras?|` +
	`insulina|miligramos|mg|gotas|jarabe|tratamiento|antibioticos?|sintrom`

var sentenceSplit = regexp.MustCompile(`[.!?;\n]+`)

// DosagePattern is matched sentence by sentence on folded text. A sentence is unsafe when,
// after removing negated forms ("no dejes de tomar"), it holds a dose-changing verb and a
// medication term.
type DosagePattern struct {
	Negated *regexp.Regexp
	Verb    *regexp.Regexp
	Term    *regexp.Regexp
}

// DefaultDosagePattern is the pattern used by EnforceSafety.
var DefaultDosagePattern = DosagePattern{
	Negated: regexp.MustCompile(`\bno (dej\w* de tomar|dej\w* (la|las|el|los|tu|tus)|aument\w*|reduc\w*|reduzc\w*|suspend\w*|duplique\w*|omit\w*|cambi\w*|tomes? mas)`),
	Verb: regexp.MustCompile(`\b(` +
		`aument\w*|reduc\w*|reduzc\w*|disminu\w*|dej\w* de tomar|suspend\w*|interrump\w*|duplic\w*|dupliqu\w*|omit\w*|` +
		`(sub[ae]|baj[ae]|dobl[ae]|saltate|salta|quita(te)?|deja|deje|dejala) (la|las|el|los|tu|tus|su|sus) (` + medTerms + `)|` +
		`(toma|tome|tomate|tomese|tomar|tomarte|tomarse) (mas|menos|el doble|la mitad|otra|doble)|` +
		`(toma|tome|tomate|tomese|tomar|tomarte|tomarse) (\d+|dos|tres|cuatro|cinco|seis|media|medio) (` + medTerms + `)` +
		`)\b`),
	Term: regexp.MustCompile(`\b(` + medTerms + `)\b`),
}

// Matches reports whether any sentence of answer tells the user to change a dose.
func (p DosagePattern) Matches(answer string) bool {
	for _, sentence := range sentenceSplit.Split(Fold(answer), -1) {
		if p.Negated != nil {
			sentence = p.Negated.ReplaceAllString(sentence, " ")
		}
		if p.Verb.MatchString(sentence) && p.Term.MatchString(sentence) {
			return true
		}
	}
	return false
}

// EnforceSafety returns SafeDosageRedirect when answer contains dosage instructions,
// otherwise answer unchanged. The bool reports whether the override fired.
func EnforceSafety(answer string) (string, bool) {
	if DefaultDosagePattern.Matches(answer) {
		return SafeDosageRedirect, true
	}
	return answer, false
}
