// Package database - PostgreSQL реализация Durable Record Store.
package database

import (
	"context"
	"fmt"
	"strings"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/model"
	pkgdb "storyteller-server/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Compile-time check
var _ interfaces.RecordStore = (*pgRecordStore)(nil)

type pgRecordStore struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgRecordStore создает хранилище историй, задач и владельцев поверх pgx.
func NewPgRecordStore(db interfaces.DBTX, logger *zap.Logger) interfaces.RecordStore {
	return &pgRecordStore{
		db:     db,
		logger: logger.Named("PgRecordStore"),
	}
}

const insertStoryQuery = `
INSERT INTO stories (owner_id, title, text, setting_place, protagonist_name, images, audio, videos, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, created_at, updated_at`

const insertJobQuery = `
INSERT INTO generation_jobs (owner_id, story_id, prompt, title, status, progress)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at, updated_at`

// CreateStoryJob создает историю, задачу и обратную ссылку владельца в одной транзакции.
func (r *pgRecordStore) CreateStoryJob(ctx context.Context, story *model.Story, job *model.GenerationJob) error {
	logFields := []zap.Field{zap.String("ownerID", story.OwnerID)}
	r.logger.Debug("Creating story with generation job", logFields...)

	err := pkgdb.ExecuteInTransaction(ctx, r.db, func(tx pgx.Tx) error {
		if story.Images == nil {
			story.Images = []string{}
		}
		if story.Videos == nil {
			story.Videos = []string{}
		}
		if err := tx.QueryRow(ctx, insertStoryQuery,
			story.OwnerID, story.Title, story.Text, story.SettingPlace, story.ProtagonistName,
			story.Images, story.Audio, story.Videos, story.Status,
		).Scan(&story.ID, &story.CreatedAt, &story.UpdatedAt); err != nil {
			return fmt.Errorf("insert story: %w", err)
		}

		job.StoryID = story.ID
		job.OwnerID = story.OwnerID
		job.Progress = model.ClampProgress(job.Progress)
		if err := tx.QueryRow(ctx, insertJobQuery,
			job.OwnerID, job.StoryID, job.Prompt, job.Title, job.Status, job.Progress,
		).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return fmt.Errorf("insert generation job: %w", err)
		}

		if err := addStoryToOwner(ctx, tx, story.OwnerID, story.ID); err != nil {
			return fmt.Errorf("link story to owner: %w", err)
		}
		return nil
	})
	if err != nil {
		// Транзакция откатилась, выданные ID недействительны.
		story.ID, job.ID, job.StoryID = uuid.Nil, uuid.Nil, uuid.Nil
		r.logger.Error("Failed to create story with generation job", append(logFields, zap.Error(err))...)
		return err
	}

	r.logger.Info("Story and generation job created",
		zap.String("ownerID", story.OwnerID),
		zap.String("storyID", story.ID.String()),
		zap.String("jobID", job.ID.String()),
	)
	return nil
}

// setClause собирает "col = $N" для частичных UPDATE. Нумерация начинается с $2, $1 - id.
type setClause struct {
	parts []string
	args  []any
}

func (s *setClause) add(column string, value any) {
	s.args = append(s.args, value)
	s.parts = append(s.parts, fmt.Sprintf("%s = $%d", column, len(s.args)+1))
}

func (s *setClause) empty() bool { return len(s.parts) == 0 }

func (s *setClause) sql(table string) string {
	return fmt.Sprintf("UPDATE %s SET %s, updated_at = NOW() WHERE id = $1", table, strings.Join(s.parts, ", "))
}
