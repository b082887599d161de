// Package exercise generates short memory exercises, personalized from the user's own life
// whenever the profile has enough material.
package exercise

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"github.com/eldercare/companion-go/pkg/profile"
)

// Kind is the exercise family.
type Kind string

const (
	Words   Kind = "words"
	Numbers Kind = "numbers"
	Story   Kind = "story"
)

// Kinds lists every exercise kind.
var Kinds = []Kind{Words, Numbers, Story}

// ParseKind maps a name to a Kind, defaulting to Words.
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Numbers:
		return Numbers
	case Story:
		return Story
	default:
		return Words
	}
}

// Exercise is one generated exercise.
type Exercise struct {
	Kind         Kind   `json:"kind"`
	Prompt       string `json:"prompt"`
	AnswerKey    string `json:"answerKey"`
	Personalized bool   `json:"personalized"`
}

// Rand is the randomness source; *rand.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Generator builds exercises. The zero value is not usable; call NewGenerator.
type Generator struct {
	rnd Rand
}

// NewGenerator returns a generator drawing from rnd, or from math/rand/v2 when nil.
func NewGenerator(rnd Rand) *Generator {
	if rnd == nil {
		rnd = globalRand{}
	}
	return &Generator{rnd: rnd}
}

const wordsPerExercise = 3

var (
	fallbackWords = [][]string{
		{"manzana", "mesa", "perro"},
		{"sol", "libro", "guitarra"},
		{"río", "pan", "campana"},
		{"flor", "silla", "tren"},
		{"naranja", "puerta", "pájaro"},
	}

	fallbackNumbers = []string{"3-7-1", "5-2-9", "4-8-6", "2-6-3", "9-1-5", "7-4-2"}

	fallbackStories = []struct{ text, question, answer string }{
		{"Carmen fue al mercado por la mañana y compró tres naranjas.", "¿Cuántas naranjas compró Carmen?", "tres"},
		{"Antonio salió a pasear con su perro Lucero por el parque.", "¿Cómo se llama el perro de Antonio?", "Lucero"},
		{"Rosa preparó una tarta de manzana para el cumpleaños de su nieta.", "¿De qué era la tarta?", "manzana"},
		{"El tren a Sevilla salió a las cinco de la tarde.", "¿A qué ciudad iba el tren?", "Sevilla"},
	}
)

// Generate builds an exercise of the given kind for v. A nil view gets the generic deck.
func (g *Generator) Generate(kind Kind, v *profile.View) Exercise {
	if v == nil {
		v = &profile.View{}
	}
	switch kind {
	case Numbers:
		return g.numbers(v)
	case Story:
		return g.story(v)
	default:
		return g.words(v)
	}
}

func (g *Generator) words(v *profile.View) Exercise {
	candidates := personalWords(v)
	personalized := len(candidates) >= wordsPerExercise
	if personalized {
		g.shuffle(candidates)
		candidates = candidates[:wordsPerExercise]
	} else {
		candidates = fallbackWords[g.rnd.IntN(len(fallbackWords))]
	}

	list := strings.Join(candidates, ", ")
	return Exercise{
		Kind:         Words,
		Prompt:       fmt.Sprintf("Te voy a decir %d palabras: %s. Repítelas despacio y dentro de un rato te las volveré a preguntar.", len(candidates), list),
		AnswerKey:    list,
		Personalized: personalized,
	}
}

func (g *Generator) numbers(v *profile.View) Exercise {
	if v.Age > 0 && v.BirthYear > 0 {
		seq := fmt.Sprintf("%d-%d-%d", v.Age/10, v.Age%10, v.BirthYear%10)
		return Exercise{
			Kind:         Numbers,
			Prompt:       fmt.Sprintf("Memoriza esta serie de números: %s. Una pista: los dos primeros forman tu edad y el último es el final de tu año de nacimiento. ¿Me la repites?", spaced(seq)),
			AnswerKey:    seq,
			Personalized: true,
		}
	}
	seq := fallbackNumbers[g.rnd.IntN(len(fallbackNumbers))]
	return Exercise{
		Kind:      Numbers,
		Prompt:    fmt.Sprintf("Memoriza esta serie de números: %s. ¿Me la repites al revés?", spaced(seq)),
		AnswerKey: seq,
	}
}

func (g *Generator) story(v *profile.View) Exercise {
	name := v.FirstName
	if name == "" {
		name = "nuestra protagonista"
	}

	type variant struct{ text, question, answer string }
	var variants []variant

	if hobbies := shortItems(v.AllHobbies()); len(hobbies) > 0 {
		h := hobbies[g.rnd.IntN(len(hobbies))]
		variants = append(variants, variant{
			fmt.Sprintf("A %s le encanta %s. Cada tarde dedica un rato a %s mientras escucha la radio.", name, h, h),
			fmt.Sprintf("¿Qué le encanta hacer a %s?", name), h,
		})
	}
	if c := firstWord(v.EmergencyContactName); c != "" {
		variants = append(variants, variant{
			fmt.Sprintf("El domingo vino %s de visita y trajo un ramo de flores amarillas.", c),
			"¿Quién vino de visita el domingo?", c,
		})
	}
	if p := v.Profession; p != "" && utf8.RuneCountInString(p) <= 40 {
		variants = append(variants, variant{
			fmt.Sprintf("Durante muchos años, %s trabajó como %s y siempre llegaba puntual.", name, p),
			fmt.Sprintf("¿En qué trabajó %s?", name), p,
		})
	}
	if foods := shortItems(v.Preferences.FavoriteFoods); len(foods) > 0 {
		f := foods[g.rnd.IntN(len(foods))]
		variants = append(variants, variant{
			fmt.Sprintf("Hoy para comer había %s, el plato favorito de %s.", f, name),
			"¿Qué había hoy para comer?", f,
		})
	}
	if place := v.BirthPlace; place != "" && utf8.RuneCountInString(place) <= 40 {
		variants = append(variants, variant{
			fmt.Sprintf("%s nació en %s, en una casa con un patio lleno de macetas.", name, place),
			fmt.Sprintf("¿Dónde nació %s?", name), place,
		})
	}

	if len(variants) == 0 {
		s := fallbackStories[g.rnd.IntN(len(fallbackStories))]
		return Exercise{
			Kind:      Story,
			Prompt:    fmt.Sprintf("Escucha esta pequeña historia: %s Ahora dime: %s", s.text, s.question),
			AnswerKey: s.answer,
		}
	}

	s := variants[g.rnd.IntN(len(variants))]
	return Exercise{
		Kind:         Story,
		Prompt:       fmt.Sprintf("Escucha esta pequeña historia: %s Ahora dime: %s", s.text, s.question),
		AnswerKey:    s.answer,
		Personalized: true,
	}
}

// personalWords collects short, distinct words from the user's life.
func personalWords(v *profile.View) []string {
	var raw []string
	raw = append(raw, v.AllHobbies()...)
	raw = append(raw, v.Preferences.Likes...)
	raw = append(raw, v.Preferences.FavoriteFoods...)
	raw = append(raw, v.BirthPlace, v.Profession, firstWord(v.EmergencyContactName))
	return shortItems(raw)
}

// shortItems keeps items of one or two words, deduplicated case-insensitively.
func shortItems(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		n := utf8.RuneCountInString(item)
		if n < 2 || n > 24 || len(strings.Fields(item)) > 2 {
			continue
		}
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func spaced(seq string) string {
	return strings.ReplaceAll(seq, "-", ", ")
}

func (g *Generator) shuffle(items []string) {
	for i := len(items) - 1; i > 0; i-- {
		j := g.rnd.IntN(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}
