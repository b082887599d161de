// Package intelligence turns completed conversation turns into structured memories and a
// rolling summary using an LLM.
package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/eldercare/companion-go/pkg/llm"
	"github.com/eldercare/companion-go/pkg/storage"
)

const (
	// MaxMemoryRunes caps the content of an extracted memory.
	MaxMemoryRunes = 200

	// MaxMemoriesPerTurn caps how many items one turn may produce.
	MaxMemoriesPerTurn = 8

	maxExpiresInDays = 365
)

// Turn is one completed exchange.
type Turn struct {
	UserText      string
	AssistantText string
}

// ExtractedMemory is one item as returned by the model.
type ExtractedMemory struct {
	Type          string      `json:"type"`
	Content       string      `json:"content"`
	Importance    json.Number `json:"importance"`
	ExpiresInDays json.Number `json:"expiresInDays"`
}

// MemoryExtractor extracts structured memories from a turn.
//
// Example usage:
//
//	extractor := NewMemoryExtractor(provider)
//	items, err := extractor.Extract(ctx, Turn{UserText: "Mi nieta se llama Lucía"})
//	// items are ready for storage.Repository.UpsertMemories
type MemoryExtractor struct {
	// llm is the provider used in JSON mode.
	llm llm.Provider

	// screen drops items that must never be stored.
	screen *Screen

	// now is the clock used for expiry dates.
	now func() time.Time
}

// ExtractorOption configures a MemoryExtractor.
type ExtractorOption func(*MemoryExtractor)

// WithExtractorClock overrides the clock used to compute expiry dates.
func WithExtractorClock(now func() time.Time) ExtractorOption {
	return func(e *MemoryExtractor) { e.now = now }
}

// NewMemoryExtractor creates a new memory extractor.
func NewMemoryExtractor(provider llm.Provider, opts ...ExtractorOption) *MemoryExtractor {
	e := &MemoryExtractor{llm: provider, screen: NewScreen(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const extractionPrompt = `Eres un organizador de recuerdos personales de una persona mayor. A partir de un turno de conversación, extrae hechos concretos y duraderos sobre la persona.

Prioridad de extracción:
1. Biografía, familia y personas cercanas (nombres, parentescos), lugares vividos, oficio, aficiones.
2. Rutinas y preferencias estables (qué le gusta comer, a qué hora pasea).
3. Metas o planes concretos.
Ignora la charla intrascendente (saludos, el tiempo, "estoy bien").
NUNCA guardes diagnósticos clínicos ni nombres de enfermedades. Como HEALTH_NOTE solo se admiten hábitos de bienestar (por ejemplo "camina cada mañana").

Tipos válidos: PREFERENCE, ROUTINE, CONTACT, FACT, GOAL, HEALTH_NOTE.
Importancia de 1 a 5 (5 = imprescindible para conocer a la persona; los recuerdos de infancia y familia valen al menos 4).
expiresInDays solo para hechos pasajeros (por ejemplo una visita la semana que viene); omítelo en lo demás.
Escribe cada recuerdo en español, en tercera persona y en una frase corta.

Devuelve SOLO un objeto JSON:
{"memories":[{"type":"FACT","content":"De niño jugaba en el campo con sus hermanos","importance":4}]}
Si no hay nada que guardar devuelve {"memories":[]}.`

// Extract asks the model for memories in turn and returns them ready to upsert.
// A malformed response yields no items and no error.
func (e *MemoryExtractor) Extract(ctx context.Context, turn Turn) ([]*storage.MemoryInput, error) {
	if strings.TrimSpace(turn.UserText) == "" {
		return nil, nil
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: extractionPrompt},
		{Role: llm.RoleUser, Content: formatTurn(turn)},
	}
	response, err := e.llm.GenerateWithMessages(ctx, messages,
		llm.WithJSONMode(),
		llm.WithTemperature(0.2),
		llm.WithMaxTokens(600),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to extract memories: %w", err)
	}

	return e.Normalize(ParseMemories(response)), nil
}

// ParseMemories decodes {"memories":[...]} defensively: code fences are stripped, a bare
// array is accepted and anything unparsable becomes an empty list.
func ParseMemories(response string) []ExtractedMemory {
	response = removeCodeBlocks(response)
	if response == "" {
		return nil
	}

	var wrapped struct {
		Memories []json.RawMessage `json:"memories"`
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(response), &wrapped); err == nil {
		raw = wrapped.Memories
	} else if err := json.Unmarshal([]byte(response), &raw); err != nil {
		return nil
	}

	items := make([]ExtractedMemory, 0, len(raw))
	for _, r := range raw {
		var item ExtractedMemory
		if err := json.Unmarshal(r, &item); err != nil {
			// Importance given as "4" or other odd shapes: retry loosely.
			var loose map[string]interface{}
			if json.Unmarshal(r, &loose) != nil {
				continue
			}
			item.Type, _ = loose["type"].(string)
			item.Content, _ = loose["content"].(string)
			item.Importance = looseNumber(loose["importance"])
			item.ExpiresInDays = looseNumber(loose["expiresInDays"])
		}
		items = append(items, item)
	}
	return items
}

// Normalize validates types, clamps importance and expiry, drops empty or screened items and
// caps the result at MaxMemoriesPerTurn.
func (e *MemoryExtractor) Normalize(items []ExtractedMemory) []*storage.MemoryInput {
	now := e.now()
	out := make([]*storage.MemoryInput, 0, len(items))
	for _, item := range items {
		t, ok := storage.ParseMemoryType(item.Type)
		if !ok {
			continue
		}
		content := truncateRunes(strings.Join(strings.Fields(item.Content), " "), MaxMemoryRunes)
		if content == "" || !e.screen.Admit(t, content) {
			continue
		}

		importance, _ := item.Importance.Int64()
		if f, err := item.Importance.Float64(); err == nil && importance == 0 {
			importance = int64(f + 0.5)
		}
		in := &storage.MemoryInput{
			Type:       t,
			Content:    content,
			Importance: storage.ClampImportance(int(importance)),
		}
		if days, err := item.ExpiresInDays.Int64(); err == nil && days > 0 {
			if days > maxExpiresInDays {
				days = maxExpiresInDays
			}
			at := now.Add(time.Duration(days) * 24 * time.Hour).UTC()
			in.ExpiresAt = &at
		}
		out = append(out, in)
		if len(out) == MaxMemoriesPerTurn {
			break
		}
	}
	return out
}

func formatTurn(turn Turn) string {
	var sb strings.Builder
	sb.WriteString("Persona mayor: ")
	sb.WriteString(strings.TrimSpace(turn.UserText))
	if a := strings.TrimSpace(turn.AssistantText); a != "" {
		sb.WriteString("\nAsistente: ")
		sb.WriteString(a)
	}
	return sb.String()
}

func looseNumber(v interface{}) json.Number {
	switch n := v.(type) {
	case float64:
		return json.Number(fmt.Sprintf("%d", int64(n+0.5)))
	case string:
		return json.Number(strings.TrimSpace(n))
	default:
		return ""
	}
}

// removeCodeBlocks removes code fences (```json ... ```) from a response.
func removeCodeBlocks(response string) string {
	response = strings.TrimSpace(response)
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```JSON", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}
