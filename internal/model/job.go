package model

import (
	"time"

	"github.com/google/uuid"
)

// Контрольные точки прогресса генерации.
const (
	ProgressCreated    = 0
	ProgressProcessing = 10
	ProgressRequested  = 30
	ProgressReceived   = 80
	ProgressCompleted  = 100
)

// GenerationJob - задача генерации, связанная 1:1 с историей.
type GenerationJob struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	OwnerID   string      `json:"ownerId" db:"owner_id"`
	StoryID   uuid.UUID   `json:"storyId" db:"story_id"`
	Prompt    string      `json:"prompt" db:"prompt"`
	Title     string      `json:"title" db:"title"`
	Status    StoryStatus `json:"status" db:"status"`
	Progress  int         `json:"progress" db:"progress"`
	Error     *string     `json:"error,omitempty" db:"error"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time   `json:"updatedAt" db:"updated_at"`
}

// JobUpdate - частичное обновление задачи.
type JobUpdate struct {
	Status   *StoryStatus
	Progress *int
	Error    *string
}

// NewJobUpdate собирает обновление статуса и прогресса.
func NewJobUpdate(status StoryStatus, progress int) JobUpdate {
	return JobUpdate{Status: &status, Progress: &progress}
}

// JobSnapshot - объединенное состояние задачи из Live Status Channel.
type JobSnapshot struct {
	Status   StoryStatus `json:"status"`
	Progress int         `json:"progress"`
	Error    string      `json:"error,omitempty"`
}

// InitialSnapshot - состояние до первого обновления канала.
func InitialSnapshot() JobSnapshot {
	return JobSnapshot{Status: StatusPending, Progress: ProgressCreated}
}

// ClampProgress ограничивает прогресс диапазоном 0..100.
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// JobEventType - тип события жизненного цикла задачи.
type JobEventType string

const (
	JobEventCompleted JobEventType = "job.completed"
	JobEventFailed    JobEventType = "job.failed"
	JobEventCleanedUp JobEventType = "job.cleaned_up"
)

// JobEvent публикуется в очередь при переходе задачи в конечное состояние.
type JobEvent struct {
	Type       JobEventType `json:"type"`
	JobID      string       `json:"jobId"`
	StoryID    string       `json:"storyId"`
	OwnerID    string       `json:"ownerId"`
	Status     StoryStatus  `json:"status"`
	Error      string       `json:"error,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}
