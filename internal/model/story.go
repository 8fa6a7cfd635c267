package model

import (
	"time"

	"github.com/google/uuid"
)

// StoryStatus - статус истории и задачи генерации.
type StoryStatus string

const (
	StatusPending    StoryStatus = "pending"
	StatusProcessing StoryStatus = "processing"
	StatusCompleted  StoryStatus = "completed"
	StatusFailed     StoryStatus = "failed"
)

// IsTerminal сообщает, является ли статус конечным (completed или failed).
func (s StoryStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Story - история пользователя, хранится в Durable Record Store.
type Story struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	OwnerID         string      `json:"ownerId" db:"owner_id"`
	Title           string      `json:"title" db:"title"`
	Text            string      `json:"text" db:"text"`
	SettingPlace    string      `json:"settingPlace" db:"setting_place"`
	ProtagonistName string      `json:"protagonistName" db:"protagonist_name"`
	Images          []string    `json:"images" db:"images"`
	Audio           *string     `json:"audio,omitempty" db:"audio"`
	Videos          []string    `json:"videos" db:"videos"`
	Status          StoryStatus `json:"status" db:"status"`
	CreatedAt       time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time   `json:"updatedAt" db:"updated_at"`
}

// StoryUpdate - частичное обновление истории. nil поля не изменяются.
type StoryUpdate struct {
	Title           *string
	Text            *string
	SettingPlace    *string
	ProtagonistName *string
	Images          []string
	Audio           *string
	Videos          []string
	Status          *StoryStatus
}

// StorySummary - краткое представление истории для списка в библиотеке.
type StorySummary struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	Title     string      `json:"title" db:"title"`
	Thumbnail *string     `json:"thumbnail,omitempty" db:"thumbnail"`
	Status    StoryStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
}

// NewStory возвращает новую историю в статусе pending для указанного владельца.
func NewStory(ownerID, title string) *Story {
	return &Story{
		OwnerID: ownerID,
		Title:   title,
		Images:  []string{},
		Videos:  []string{},
		Status:  StatusPending,
	}
}

// Summary строит StorySummary; миниатюра - первое изображение.
func (s *Story) Summary() StorySummary {
	sum := StorySummary{ID: s.ID, Title: s.Title, Status: s.Status, CreatedAt: s.CreatedAt}
	if len(s.Images) > 0 {
		thumb := s.Images[0]
		sum.Thumbnail = &thumb
	}
	return sum
}

// StatusPtr - хелпер для StoryUpdate/JobUpdate.
func StatusPtr(s StoryStatus) *StoryStatus { return &s }

// StringPtr - хелпер для частичных обновлений.
func StringPtr(s string) *string { return &s }
