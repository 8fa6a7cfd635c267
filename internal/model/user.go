package model

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier - уровень подписки пользователя.
type SubscriptionTier string

const (
	TierFree     SubscriptionTier = "free"
	TierSilver   SubscriptionTier = "silver"
	TierGold     SubscriptionTier = "gold"
	TierPlatinum SubscriptionTier = "platinum"
)

// StoryLength - целевая длина истории.
type StoryLength string

const (
	LengthShort  StoryLength = "short"
	LengthMedium StoryLength = "medium"
	LengthLong   StoryLength = "long"
)

// Valid проверяет, что длина входит в допустимый набор.
func (l StoryLength) Valid() bool {
	switch l {
	case LengthShort, LengthMedium, LengthLong:
		return true
	}
	return false
}

// User - запись владельца историй с обратными ссылками на его истории.
type User struct {
	ID               string           `json:"id" db:"id"`
	SubscriptionTier SubscriptionTier `json:"subscriptionTier" db:"subscription_tier"`
	StoryIDs         []uuid.UUID      `json:"storyIds" db:"story_ids"`
	CreatedAt        time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time        `json:"updatedAt" db:"updated_at"`
}

// HasStory сообщает, есть ли id истории в наборе пользователя.
func (u *User) HasStory(id uuid.UUID) bool {
	for _, sid := range u.StoryIDs {
		if sid == id {
			return true
		}
	}
	return false
}
