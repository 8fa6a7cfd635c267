package interfaces

import (
	"context"

	"storyteller-server/internal/model"
)

// JobEventPublisher публикует события жизненного цикла задач генерации.
type JobEventPublisher interface {
	PublishJobEvent(ctx context.Context, event model.JobEvent) error
}
