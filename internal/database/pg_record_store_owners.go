package database

import (
	"context"
	"errors"
	"fmt"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/model"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const getUserQuery = `SELECT id, subscription_tier, story_ids, created_at, updated_at FROM users WHERE id = $1`

// Добавление идемпотентно: повторный id не дублируется. Запись владельца создается при первой истории.
const addStoryToOwnerQuery = `
INSERT INTO users (id, story_ids) VALUES ($1, ARRAY[$2::uuid])
ON CONFLICT (id) DO UPDATE
SET story_ids = CASE
        WHEN $2::uuid = ANY(users.story_ids) THEN users.story_ids
        ELSE array_append(users.story_ids, $2::uuid)
    END,
    updated_at = NOW()`

const removeStoryFromOwnerQuery = `
UPDATE users SET story_ids = array_remove(story_ids, $2::uuid), updated_at = NOW()
WHERE id = $1`

func (r *pgRecordStore) GetUser(ctx context.Context, ownerID string) (*model.User, error) {
	logFields := []zap.Field{zap.String("ownerID", ownerID)}
	r.logger.Debug("Executing query", append(logFields, zap.String("query", getUserQuery))...)

	var user model.User
	if err := pgxscan.Get(ctx, r.db, &user, getUserQuery, ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		r.logger.Error("Failed to get user", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("get user %s: %w", ownerID, err)
	}
	return &user, nil
}

// addStoryToOwner выполняет добавление на db: пуле или транзакции CreateStoryJob.
func addStoryToOwner(ctx context.Context, db interfaces.DBTX, ownerID string, storyID uuid.UUID) error {
	if _, err := db.Exec(ctx, addStoryToOwnerQuery, ownerID, storyID); err != nil {
		return fmt.Errorf("add story %s to owner %s: %w", storyID, ownerID, err)
	}
	return nil
}

// RemoveStoryFromOwner убирает ссылку. Отсутствие владельца или ссылки - не ошибка.
func (r *pgRecordStore) RemoveStoryFromOwner(ctx context.Context, ownerID string, storyID uuid.UUID) error {
	logFields := []zap.Field{zap.String("ownerID", ownerID), zap.String("storyID", storyID.String())}
	r.logger.Debug("Executing query", append(logFields, zap.String("query", removeStoryFromOwnerQuery))...)

	if _, err := r.db.Exec(ctx, removeStoryFromOwnerQuery, ownerID, storyID); err != nil {
		r.logger.Error("Failed to remove story from owner", append(logFields, zap.Error(err))...)
		return fmt.Errorf("remove story %s from owner %s: %w", storyID, ownerID, err)
	}
	return nil
}
