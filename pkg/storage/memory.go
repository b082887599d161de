package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"
	"unicode"
)

// MemoryType classifies a structured memory item.
type MemoryType string

const (
	MemoryPreference MemoryType = "PREFERENCE"
	MemoryRoutine    MemoryType = "ROUTINE"
	MemoryContact    MemoryType = "CONTACT"
	MemoryFact       MemoryType = "FACT"
	MemoryGoal       MemoryType = "GOAL"
	MemoryHealthNote MemoryType = "HEALTH_NOTE"
)

// MemoryTypes lists every accepted memory type.
var MemoryTypes = []MemoryType{
	MemoryPreference, MemoryRoutine, MemoryContact, MemoryFact, MemoryGoal, MemoryHealthNote,
}

// ParseMemoryType returns the canonical type for s (case-insensitive) and whether it is known.
func ParseMemoryType(s string) (MemoryType, bool) {
	t := MemoryType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range MemoryTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

const (
	// InitialConfidence is the confidence of a newly extracted memory.
	InitialConfidence = 0.6

	// ReinforcementStep is added to the confidence each time a memory is extracted again.
	ReinforcementStep = 0.1

	// MemorySource marks memories extracted by the assistant.
	MemorySource = "ai"
)

// Memory is a discrete fact extracted from conversation.
type Memory struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"userId"`
	Type             MemoryType `json:"type"`
	Content          string     `json:"content"`
	ContentHash      string     `json:"contentHash"`
	Importance       int        `json:"importance"`
	Confidence       float64    `json:"confidence"`
	Source           string     `json:"source"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastReinforcedAt time.Time  `json:"lastReinforcedAt"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
}

// MemoryInput is an extracted item handed to UpsertMemories.
type MemoryInput struct {
	Type       MemoryType
	Content    string
	Importance int
	ExpiresAt  *time.Time
}

// NormalizeContent lowercases, trims punctuation at the edges and collapses whitespace,
// so trivially different phrasings of the same fact hash identically.
func NormalizeContent(content string) string {
	fields := strings.FieldsFunc(strings.ToLower(content), unicode.IsSpace)
	joined := strings.Join(fields, " ")
	return strings.TrimFunc(joined, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// ContentHash is the deduplication key of a memory: sha256 over type and normalized content.
func ContentHash(t MemoryType, content string) string {
	sum := sha256.Sum256([]byte(string(t) + "|" + NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// Expired reports whether the memory is past its expiry at now.
func (m *Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// RecencyBoost decays linearly from 0.3 to 0 over the 30 days after the last reinforcement.
func RecencyBoost(lastReinforcedAt, now time.Time) float64 {
	days := now.Sub(lastReinforcedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Max(0, 0.3-0.3*days/30)
}

// Score is the retrieval ranking of a memory:
// importance*0.6 + confidence*0.3 + recencyBoost*0.1.
func (m *Memory) Score(now time.Time) float64 {
	return float64(m.Importance)*0.6 + m.Confidence*0.3 + RecencyBoost(m.LastReinforcedAt, now)*0.1
}

// ClampImportance bounds importance to [1,5]; zero means unspecified and becomes 4.
func ClampImportance(importance int) int {
	switch {
	case importance == 0:
		return 4
	case importance < 1:
		return 1
	case importance > 5:
		return 5
	default:
		return importance
	}
}
