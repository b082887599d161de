// Package profile turns the stored user record into a sanitized, typed view.
//
// Profile text and the preferences / personality JSON blobs are written by families and
// professionals and end up inside LLM prompts, so everything read here is treated as
// untrusted: JSON is parsed defensively and every string is capped at MaxFieldRunes.
package profile

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/eldercare/companion-go/pkg/storage"
)

const (
	// MaxFieldRunes caps every string read from the profile.
	MaxFieldRunes = 200

	// maxListItems caps list values inside the JSON blobs.
	maxListItems = 20
)

// Preferences is the typed form of the preferences blob.
type Preferences struct {
	Likes             []string `json:"likes,omitempty"`
	Dislikes          []string `json:"dislikes,omitempty"`
	Hobbies           []string `json:"hobbies,omitempty"`
	FavoriteFoods     []string `json:"favoriteFoods,omitempty"`
	PreferredCallTime string   `json:"preferredCallTime,omitempty"`
}

// PersonalityTraits is the typed form of the personality traits blob.
type PersonalityTraits struct {
	Mood               string   `json:"mood,omitempty"`
	CommunicationStyle string   `json:"communicationStyle,omitempty"`
	Concerns           []string `json:"concerns,omitempty"`
	Strengths          []string `json:"strengths,omitempty"`
	CognitiveNotes     string   `json:"cognitiveNotes,omitempty"`
}

// Field is a labeled biographical value.
type Field struct {
	Label string
	Value string
}

// View is the sanitized profile consumed by prompts, quick rules and exercises.
type View struct {
	ID             int64
	FirstName      string
	LastName       string
	Age            int
	BirthYear      int
	CognitiveLevel storage.CognitiveLevel

	BirthPlace            string
	ChildhoodHome         string
	ChildhoodMemories     string
	FamilyBackground      string
	Siblings              string
	Parents               string
	SignificantLifeEvents string
	Profession            string
	Hobbies               string
	FavoriteMemories      string

	EmergencyContactName  string
	EmergencyContactPhone string
	EmergencyContact      string

	Preferences Preferences
	Traits      PersonalityTraits
}

// FromUser builds the sanitized view. A nil user yields an empty view.
func FromUser(u *storage.UserProfile) *View {
	if u == nil {
		return &View{CognitiveLevel: storage.CognitiveNormal}
	}

	v := &View{
		ID:                    u.ID,
		FirstName:             Truncate(u.FirstName),
		LastName:              Truncate(u.LastName),
		Age:                   u.Age,
		BirthYear:             birthYear(u.DateOfBirth),
		CognitiveLevel:        u.CognitiveLevel,
		BirthPlace:            Truncate(u.BirthPlace),
		ChildhoodHome:         Truncate(u.ChildhoodHome),
		ChildhoodMemories:     Truncate(u.ChildhoodMemories),
		FamilyBackground:      Truncate(u.FamilyBackground),
		Siblings:              Truncate(u.Siblings),
		Parents:               Truncate(u.Parents),
		SignificantLifeEvents: Truncate(u.SignificantLifeEvents),
		Profession:            Truncate(u.Profession),
		Hobbies:               Truncate(u.Hobbies),
		FavoriteMemories:      Truncate(u.FavoriteMemories),
		EmergencyContactName:  Truncate(u.EmergencyContactName),
		EmergencyContactPhone: Truncate(u.EmergencyContactPhone),
		EmergencyContact:      Truncate(u.EmergencyContact),
	}
	if v.CognitiveLevel == "" {
		v.CognitiveLevel = storage.CognitiveNormal
	}

	prefs := SanitizeJSON(u.Preferences)
	v.Preferences = Preferences{
		Likes:             stringList(prefs, "likes", "gustos"),
		Dislikes:          stringList(prefs, "dislikes", "disgustos"),
		Hobbies:           stringList(prefs, "hobbies", "aficiones"),
		FavoriteFoods:     stringList(prefs, "favoriteFoods", "favorite_foods", "comidas_favoritas"),
		PreferredCallTime: stringValue(prefs, "preferredCallTime", "preferred_call_time"),
	}

	traits := SanitizeJSON(u.PersonalityTraits)
	v.Traits = PersonalityTraits{
		Mood:               stringValue(traits, "mood", "animo"),
		CommunicationStyle: stringValue(traits, "communicationStyle", "communication_style"),
		Concerns:           stringList(traits, "concerns", "preocupaciones"),
		Strengths:          stringList(traits, "strengths", "fortalezas"),
		CognitiveNotes:     stringValue(traits, "cognitiveNotes", "cognitive_notes"),
	}
	return v
}

// FullName joins first and last name.
func (v *View) FullName() string {
	return strings.TrimSpace(v.FirstName + " " + v.LastName)
}

// Biography returns the non-empty biographical fields with Spanish labels, in a stable order.
func (v *View) Biography() []Field {
	candidates := []Field{
		{"Lugar de nacimiento", v.BirthPlace},
		{"Casa de la infancia", v.ChildhoodHome},
		{"Recuerdos de infancia", v.ChildhoodMemories},
		{"Familia", v.FamilyBackground},
		{"Hermanos", v.Siblings},
		{"Padres", v.Parents},
		{"Acontecimientos importantes", v.SignificantLifeEvents},
		{"Profesión", v.Profession},
		{"Aficiones", v.Hobbies},
		{"Recuerdos favoritos", v.FavoriteMemories},
	}
	fields := candidates[:0]
	for _, f := range candidates {
		if strings.TrimSpace(f.Value) != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// HasEmergencyContact reports whether a contact name or phone is known.
func (v *View) HasEmergencyContact() bool {
	return v.EmergencyContactName != "" || v.EmergencyContactPhone != ""
}

// AllHobbies merges the free-text hobbies field with the preferences list.
func (v *View) AllHobbies() []string {
	out := append([]string{}, v.Preferences.Hobbies...)
	out = append(out, SplitList(v.Hobbies)...)
	return dedupe(out)
}

// Truncate caps s at MaxFieldRunes runes and trims surrounding whitespace.
func Truncate(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= MaxFieldRunes {
		return s
	}
	return string(r[:MaxFieldRunes])
}

// SanitizeJSON parses raw as a JSON object and truncates every string in it, recursively.
// Anything that is not a valid JSON object yields an empty map.
func SanitizeJSON(raw json.RawMessage) map[string]interface{} {
	out := map[string]interface{}{}
	if len(raw) == 0 {
		return out
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return out
	}
	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return out
	}
	for k, v := range obj {
		out[Truncate(k)] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return Truncate(val)
	case []interface{}:
		if len(val) > maxListItems {
			val = val[:maxListItems]
		}
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[Truncate(k)] = sanitizeValue(item)
		}
		return out
	default:
		return val
	}
}

// SplitList splits free text on commas, semicolons and " y ".
func SplitList(s string) []string {
	s = strings.ReplaceAll(s, " y ", ",")
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stringList reads the first present key as a list. Strings are split, scalars formatted.
func stringList(m map[string]interface{}, keys ...string) []string {
	for _, key := range keys {
		raw, ok := m[key]
		if !ok {
			continue
		}
		var out []string
		switch val := raw.(type) {
		case string:
			out = SplitList(val)
		case []interface{}:
			for _, item := range val {
				if s := scalarString(item); s != "" {
					out = append(out, s)
				}
			}
		default:
			if s := scalarString(val); s != "" {
				out = []string{s}
			}
		}
		if len(out) > maxListItems {
			out = out[:maxListItems]
		}
		return out
	}
	return nil
}

func stringValue(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		raw, ok := m[key]
		if !ok {
			continue
		}
		if list, ok := raw.([]interface{}); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				if s := scalarString(item); s != "" {
					parts = append(parts, s)
				}
			}
			return Truncate(strings.Join(parts, ", "))
		}
		return scalarString(raw)
	}
	return ""
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func birthYear(dateOfBirth string) int {
	if len(dateOfBirth) < 4 {
		return 0
	}
	year, err := strconv.Atoi(dateOfBirth[:4])
	if err != nil || year < 1850 {
		return 0
	}
	return year
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}
