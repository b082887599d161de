package intelligence

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"github.com/eldercare/companion-go/pkg/llm"
)

const (
	// DefaultSummaryLengthThreshold is the combined turn length above which the summary is
	// always refreshed.
	DefaultSummaryLengthThreshold = 600

	// DefaultSummaryProbability is the chance of refreshing the summary on shorter turns.
	DefaultSummaryProbability = 0.2

	// MaxSummaryRunes caps the stored summary.
	MaxSummaryRunes = 1200
)

// SummaryTrigger decides whether a turn refreshes the rolling summary.
type SummaryTrigger struct {
	LengthThreshold int
	Probability     float64

	// Float64 draws in [0,1); defaults to math/rand/v2.
	Float64 func() float64
}

// NewSummaryTrigger returns a trigger with the given threshold and probability.
// Non-positive thresholds select the default; probabilities are clamped to [0,1].
func NewSummaryTrigger(threshold int, probability float64) *SummaryTrigger {
	if threshold <= 0 {
		threshold = DefaultSummaryLengthThreshold
	}
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}
	return &SummaryTrigger{LengthThreshold: threshold, Probability: probability, Float64: rand.Float64}
}

// Should reports whether turn refreshes the summary.
func (t *SummaryTrigger) Should(turn Turn) bool {
	if utf8.RuneCountInString(turn.UserText)+utf8.RuneCountInString(turn.AssistantText) > t.LengthThreshold {
		return true
	}
	draw := t.Float64
	if draw == nil {
		draw = rand.Float64
	}
	return draw() < t.Probability
}

// Summarizer merges a completed turn into the rolling summary.
//
// Example usage:
//
//	s := NewSummarizer(provider)
//	next, err := s.Merge(ctx, previous, Turn{UserText: u, AssistantText: a})
type Summarizer struct {
	llm llm.Provider
}

// NewSummarizer creates a new summarizer.
func NewSummarizer(provider llm.Provider) *Summarizer {
	return &Summarizer{llm: provider}
}

const summaryPrompt = `Mantienes el resumen de las conversaciones entre una asistente y una persona mayor.
Combina el resumen anterior con el último intercambio y escribe un único párrafo de 4 a 6 frases en español.
Conserva lo importante del resumen anterior (familia, estado de ánimo, planes, recordatorios tratados) y añade lo nuevo.
No incluyas diagnósticos médicos. No inventes nada. Devuelve solo el párrafo, sin títulos ni viñetas.`

// Merge returns the new summary. The previous summary is replaced, never appended to.
func (s *Summarizer) Merge(ctx context.Context, previous string, turn Turn) (string, error) {
	previous = strings.TrimSpace(previous)
	if previous == "" {
		previous = "(todavía no hay resumen)"
	}

	user := fmt.Sprintf("Resumen anterior:\n%s\n\nÚltimo intercambio:\n%s", previous, formatTurn(turn))
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: summaryPrompt},
		{Role: llm.RoleUser, Content: user},
	}

	response, err := s.llm.GenerateWithMessages(ctx, messages,
		llm.WithTemperature(0.3),
		llm.WithMaxTokens(350),
	)
	if err != nil {
		return "", fmt.Errorf("failed to update summary: %w", err)
	}

	summary := strings.Join(strings.Fields(removeCodeBlocks(response)), " ")
	if summary == "" {
		return "", fmt.Errorf("failed to update summary: empty response")
	}
	return truncateRunes(summary, MaxSummaryRunes), nil
}
