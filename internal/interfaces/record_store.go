package interfaces

import (
	"context"

	"storyteller-server/internal/model"

	"github.com/google/uuid"
)

// RecordStore - Durable Record Store для историй, задач и записей владельцев.
// Отсутствующие записи возвращаются как model.ErrStoryNotFound / model.ErrJobNotFound / model.ErrUserNotFound.
// Обновление удаленного документа возвращает ошибку, совпадающую с model.ErrDocumentGone.
type RecordStore interface {
	// CreateStoryJob создает историю, задачу и обратную ссылку владельца одной операцией.
	// ID и временные метки проставляются хранилищем.
	CreateStoryJob(ctx context.Context, story *model.Story, job *model.GenerationJob) error

	GetStory(ctx context.Context, id uuid.UUID) (*model.Story, error)
	UpdateStory(ctx context.Context, id uuid.UUID, upd model.StoryUpdate) error
	DeleteStory(ctx context.Context, id uuid.UUID) error
	// ListStoriesByOwner возвращает истории владельца, новые первыми.
	ListStoriesByOwner(ctx context.Context, ownerID string) ([]*model.Story, error)

	GetJob(ctx context.Context, id uuid.UUID) (*model.GenerationJob, error)
	UpdateJob(ctx context.Context, id uuid.UUID, upd model.JobUpdate) error
	DeleteJob(ctx context.Context, id uuid.UUID) error

	GetUser(ctx context.Context, ownerID string) (*model.User, error)
	// Ссылку владельца добавляет CreateStoryJob; удаление - атомарная операция над набором.
	RemoveStoryFromOwner(ctx context.Context, ownerID string, storyID uuid.UUID) error
}
