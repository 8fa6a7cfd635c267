package model

import "strings"

// GenerationRequest - тело запроса POST /story внешнего API генерации.
type GenerationRequest struct {
	Prompt              string      `json:"prompt"`
	Title               string      `json:"title,omitempty"`
	ProtagonistName     string      `json:"protagonist_name"`
	AgeGroup            string      `json:"age_group"`
	LanguageProficiency string      `json:"language_proficiency"`
	StoryLength         StoryLength `json:"story_length"`
	Genre               string      `json:"genre,omitempty"`
	Tone                string      `json:"tone,omitempty"`
	Setting             string      `json:"setting,omitempty"`
}

// GenerationResult - ответ API генерации.
type GenerationResult struct {
	Okay            bool   `json:"okay"`
	Title           string `json:"title"`
	Story           string `json:"story"`
	SettingPlace    string `json:"setting_place"`
	ProtagonistName string `json:"protagonist_name"`
	Error           string `json:"error,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Valid: okay=true и непустые (после trim) title и story.
func (r *GenerationResult) Valid() bool {
	return r != nil && r.Okay &&
		strings.TrimSpace(r.Title) != "" &&
		strings.TrimSpace(r.Story) != ""
}

// ServerMessage возвращает сообщение сервера: error, затем message.
func (r *GenerationResult) ServerMessage() string {
	if r == nil {
		return ""
	}
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}
