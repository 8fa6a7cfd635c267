package database

import (
	"context"
	"errors"
	"fmt"

	"storyteller-server/internal/model"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const storyColumns = `id, owner_id, title, text, setting_place, protagonist_name, images, audio, videos, status, created_at, updated_at`

const (
	getStoryQuery    = `SELECT ` + storyColumns + ` FROM stories WHERE id = $1`
	listStoriesQuery = `SELECT ` + storyColumns + ` FROM stories WHERE owner_id = $1 ORDER BY created_at DESC`
	deleteStoryQuery = `DELETE FROM stories WHERE id = $1`
)

func (r *pgRecordStore) GetStory(ctx context.Context, id uuid.UUID) (*model.Story, error) {
	logFields := []zap.Field{zap.String("storyID", id.String())}
	r.logger.Debug("Executing query", append(logFields, zap.String("query", getStoryQuery))...)

	var story model.Story
	if err := pgxscan.Get(ctx, r.db, &story, getStoryQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrStoryNotFound
		}
		r.logger.Error("Failed to get story", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("get story %s: %w", id, err)
	}
	return &story, nil
}

// UpdateStory применяет частичное обновление. Удаленная история - ErrDocumentGone.
func (r *pgRecordStore) UpdateStory(ctx context.Context, id uuid.UUID, upd model.StoryUpdate) error {
	logFields := []zap.Field{zap.String("storyID", id.String())}

	var set setClause
	if upd.Title != nil {
		set.add("title", *upd.Title)
	}
	if upd.Text != nil {
		set.add("text", *upd.Text)
	}
	if upd.SettingPlace != nil {
		set.add("setting_place", *upd.SettingPlace)
	}
	if upd.ProtagonistName != nil {
		set.add("protagonist_name", *upd.ProtagonistName)
	}
	if upd.Images != nil {
		set.add("images", upd.Images)
	}
	if upd.Audio != nil {
		set.add("audio", *upd.Audio)
	}
	if upd.Videos != nil {
		set.add("videos", upd.Videos)
	}
	if upd.Status != nil {
		set.add("status", *upd.Status)
	}
	if set.empty() {
		_, err := r.GetStory(ctx, id)
		if errors.Is(err, model.ErrStoryNotFound) {
			return fmt.Errorf("%w: %w", model.ErrDocumentGone, model.ErrStoryNotFound)
		}
		return err
	}

	query := set.sql("stories")
	r.logger.Debug("Executing query", append(logFields, zap.String("query", query))...)

	tag, err := r.db.Exec(ctx, query, append([]any{id}, set.args...)...)
	if err != nil {
		r.logger.Error("Failed to update story", append(logFields, zap.Error(err))...)
		return fmt.Errorf("update story %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Story to update not found", logFields...)
		return fmt.Errorf("%w: %w", model.ErrDocumentGone, model.ErrStoryNotFound)
	}
	return nil
}

// DeleteStory удаляет историю. Отсутствующая история - не ошибка.
func (r *pgRecordStore) DeleteStory(ctx context.Context, id uuid.UUID) error {
	logFields := []zap.Field{zap.String("storyID", id.String())}
	r.logger.Debug("Executing query", append(logFields, zap.String("query", deleteStoryQuery))...)

	tag, err := r.db.Exec(ctx, deleteStoryQuery, id)
	if err != nil {
		r.logger.Error("Failed to delete story", append(logFields, zap.Error(err))...)
		return fmt.Errorf("delete story %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("Story already absent", logFields...)
	}
	return nil
}

func (r *pgRecordStore) ListStoriesByOwner(ctx context.Context, ownerID string) ([]*model.Story, error) {
	logFields := []zap.Field{zap.String("ownerID", ownerID)}
	r.logger.Debug("Executing query", append(logFields, zap.String("query", listStoriesQuery))...)

	var stories []*model.Story
	if err := pgxscan.Select(ctx, r.db, &stories, listStoriesQuery, ownerID); err != nil {
		r.logger.Error("Failed to list stories", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("list stories of %s: %w", ownerID, err)
	}
	if stories == nil {
		stories = []*model.Story{}
	}
	return stories, nil
}
