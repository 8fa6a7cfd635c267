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

const (
	getJobQuery    = `SELECT id, owner_id, story_id, prompt, title, status, progress, error, created_at, updated_at FROM generation_jobs WHERE id = $1`
	deleteJobQuery = `DELETE FROM generation_jobs WHERE id = $1`
)

func (r *pgRecordStore) GetJob(ctx context.Context, id uuid.UUID) (*model.GenerationJob, error) {
	logFields := []zap.Field{zap.String("jobID", id.String())}
	r.logger.Debug("Executing query", append(logFields, zap.String("query", getJobQuery))...)

	var job model.GenerationJob
	if err := pgxscan.Get(ctx, r.db, &job, getJobQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrJobNotFound
		}
		r.logger.Error("Failed to get generation job", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateJob применяет частичное обновление задачи. Прогресс ограничивается 0..100.
func (r *pgRecordStore) UpdateJob(ctx context.Context, id uuid.UUID, upd model.JobUpdate) error {
	logFields := []zap.Field{zap.String("jobID", id.String())}

	var set setClause
	if upd.Status != nil {
		set.add("status", *upd.Status)
	}
	if upd.Progress != nil {
		set.add("progress", model.ClampProgress(*upd.Progress))
	}
	if upd.Error != nil {
		set.add("error", *upd.Error)
	}
	if set.empty() {
		_, err := r.GetJob(ctx, id)
		if errors.Is(err, model.ErrJobNotFound) {
			return fmt.Errorf("%w: %w", model.ErrDocumentGone, model.ErrJobNotFound)
		}
		return err
	}

	query := set.sql("generation_jobs")
	r.logger.Debug("Executing query", append(logFields, zap.String("query", query))...)

	tag, err := r.db.Exec(ctx, query, append([]any{id}, set.args...)...)
	if err != nil {
		r.logger.Error("Failed to update generation job", append(logFields, zap.Error(err))...)
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Generation job to update not found", logFields...)
		return fmt.Errorf("%w: %w", model.ErrDocumentGone, model.ErrJobNotFound)
	}
	return nil
}

// DeleteJob удаляет задачу. Отсутствующая задача - не ошибка.
func (r *pgRecordStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	logFields := []zap.Field{zap.String("jobID", id.String())}
	r.logger.Debug("Executing query", append(logFields, zap.String("query", deleteJobQuery))...)

	if _, err := r.db.Exec(ctx, deleteJobQuery, id); err != nil {
		r.logger.Error("Failed to delete generation job", append(logFields, zap.Error(err))...)
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}
