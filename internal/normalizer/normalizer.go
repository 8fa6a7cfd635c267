// Package normalizer собирает запрос к API генерации из пользовательских полей.
package normalizer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"storyteller-server/internal/model"
)

// Ограничения пользовательского ввода.
const (
	MinPromptLength = 10
	MaxPromptLength = 500
	MaxTitleLength  = 100

	DefaultAgeGroup            = "child"
	DefaultLanguageProficiency = "intermediate"
)

// Fields - редактируемые пользователем поля формы генерации.
type Fields struct {
	Prompt              string                 `json:"prompt"`
	Title               string                 `json:"title,omitempty"`
	Genre               string                 `json:"genre,omitempty"`
	Tone                string                 `json:"tone,omitempty"`
	Character           string                 `json:"character,omitempty"`
	Setting             string                 `json:"setting,omitempty"`
	AgeGroup            string                 `json:"ageGroup,omitempty"`
	LanguageProficiency string                 `json:"languageProficiency,omitempty"`
	StoryLength         model.StoryLength      `json:"storyLength,omitempty"`
	Tier                model.SubscriptionTier `json:"-"`
}

// DefaultLengthForTier: free→short, silver→medium, gold|platinum→long.
func DefaultLengthForTier(tier model.SubscriptionTier) model.StoryLength {
	switch tier {
	case model.TierSilver:
		return model.LengthMedium
	case model.TierGold, model.TierPlatinum:
		return model.LengthLong
	default:
		return model.LengthShort
	}
}

// ValidatePrompt проверяет длину промпта после trim (в символах).
func ValidatePrompt(prompt string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(prompt))
	if n < MinPromptLength || n > MaxPromptLength {
		return &model.ValidationError{
			Field:   "prompt",
			Message: fmt.Sprintf("must be between %d and %d characters, got %d", MinPromptLength, MaxPromptLength, n),
		}
	}
	return nil
}

// Validate проверяет все поля без построения запроса.
func (f Fields) Validate() error {
	if err := ValidatePrompt(f.Prompt); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(f.Title)); n > MaxTitleLength {
		return &model.ValidationError{
			Field:   "title",
			Message: fmt.Sprintf("must be at most %d characters, got %d", MaxTitleLength, n),
		}
	}
	if f.StoryLength != "" && !f.StoryLength.Valid() {
		return &model.ValidationError{Field: "storyLength", Message: fmt.Sprintf("unknown story length %q", f.StoryLength)}
	}
	return nil
}

// Normalize строит GenerationRequest. Ошибка - *model.ValidationError.
func Normalize(f Fields) (model.GenerationRequest, error) {
	if err := f.Validate(); err != nil {
		return model.GenerationRequest{}, err
	}

	title := strings.TrimSpace(f.Title)
	character := strings.TrimSpace(f.Character)

	req := model.GenerationRequest{
		Prompt:              buildPrompt(f),
		Title:               title,
		ProtagonistName:     character,
		AgeGroup:            orDefault(f.AgeGroup, DefaultAgeGroup),
		LanguageProficiency: orDefault(f.LanguageProficiency, DefaultLanguageProficiency),
		StoryLength:         f.StoryLength,
		Genre:               strings.TrimSpace(f.Genre),
		Tone:                strings.TrimSpace(f.Tone),
		Setting:             strings.TrimSpace(f.Setting),
	}
	if req.StoryLength == "" {
		req.StoryLength = DefaultLengthForTier(f.Tier)
	}
	return req, nil
}

// buildPrompt дописывает непустые поля с метками в фиксированном порядке.
func buildPrompt(f Fields) string {
	labeled := []struct{ label, value string }{
		{"Title", f.Title},
		{"Genre", f.Genre},
		{"Tone", f.Tone},
		{"Character", f.Character},
		{"Setting", f.Setting},
		{"Age group", f.AgeGroup},
		{"Language proficiency", f.LanguageProficiency},
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(f.Prompt))
	first := true
	for _, l := range labeled {
		v := strings.TrimSpace(l.value)
		if v == "" {
			continue
		}
		if first {
			b.WriteString("\n")
			first = false
		}
		b.WriteString("\n")
		b.WriteString(l.label)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
