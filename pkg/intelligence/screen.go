package intelligence

import (
	"strings"
	"unicode/utf8"

	"github.com/eldercare/companion-go/pkg/safety"
	"github.com/eldercare/companion-go/pkg/storage"
)

// Screen is the rule-based check applied to every extracted item before it is stored.
// Keywords are matched on accent-folded, lowercased content.
type Screen struct {
	// clinicalKeywords mark diagnoses and disease names, which are never stored.
	clinicalKeywords []string

	// smallTalk are whole contents carrying no lasting information.
	smallTalk map[string]bool

	// minRunes is the shortest content accepted.
	minRunes int
}

// NewScreen returns a Screen with the default Spanish keyword lists.
func NewScreen() *Screen {
	return &Screen{
		clinicalKeywords: []string{
			"diagnostic", "alzheimer", "demencia", "parkinson", "cancer", "tumor",
			"diabet", "ictus", "infarto", "depresion", "ansiedad cronica", "epilepsia",
			"hipertension", "insuficiencia", "deterioro cognitivo", "padece", "enfermedad de",
			"esquizofren", "bipolar", "artrosis", "osteoporosis",
		},
		smallTalk: map[string]bool{
			"hola": true, "buenos dias": true, "buenas tardes": true, "buenas noches": true,
			"esta bien": true, "estoy bien": true, "gracias": true, "hace buen tiempo": true,
			"hace frio": true, "hace calor": true, "adios": true, "hasta luego": true,
		},
		minRunes: 6,
	}
}

// Admit reports whether an item of type t with content may be stored.
func (s *Screen) Admit(t storage.MemoryType, content string) bool {
	folded := strings.TrimSpace(safety.Fold(content))
	if utf8.RuneCountInString(folded) < s.minRunes {
		return false
	}
	if s.smallTalk[strings.Trim(folded, ".!¡¿? ")] {
		return false
	}
	for _, keyword := range s.clinicalKeywords {
		if strings.Contains(folded, keyword) {
			return false
		}
	}
	// Memories are replayed into every prompt, so no embedded instructions.
	if strings.Contains(folded, "ignora") && strings.Contains(folded, "instruccion") {
		return false
	}
	return t != ""
}
