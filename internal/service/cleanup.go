package service

import (
	"context"
	"errors"
	"sync"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/livestatus"
	"storyteller-server/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// cleanup - компенсирующая очистка: история, ссылка владельца, задача и путь задачи
// в Live Status Channel удаляются параллельно. Сбои логируются и в error sink,
// но не возвращаются поверх исходной ошибки.
func (o *Orchestrator) cleanup(ctx context.Context, ownerID string, jobID, storyID uuid.UUID) error {
	log := o.logger.With(
		zap.String("ownerID", ownerID),
		zap.String("jobID", jobID.String()),
		zap.String("storyID", storyID.String()),
	)
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cleanupTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		errs []error
	)
	run := func(g *errgroup.Group, op string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(cctx); err != nil {
				cleanupErr := &model.CleanupError{Op: op, Err: err}
				mu.Lock()
				errs = append(errs, cleanupErr)
				mu.Unlock()
				log.Error("Cleanup step failed", zap.String("op", op), zap.Error(err))
				o.report(cctx, cleanupErr, interfaces.SeverityHigh, actionCleanup, ownerID, map[string]any{
					"op":      op,
					"jobId":   jobID.String(),
					"storyId": storyID.String(),
				})
			}
			return nil
		})
	}

	var g errgroup.Group
	run(&g, "delete_story", func(ctx context.Context) error { return o.store.DeleteStory(ctx, storyID) })
	if ownerID != "" {
		run(&g, "remove_owner_reference", func(ctx context.Context) error {
			return o.store.RemoveStoryFromOwner(ctx, ownerID, storyID)
		})
	}
	run(&g, "delete_job", func(ctx context.Context) error { return o.store.DeleteJob(ctx, jobID) })
	run(&g, "remove_live_status", func(ctx context.Context) error {
		return livestatus.RemoveJob(ctx, o.live, jobID.String())
	})
	_ = g.Wait()

	// Событие уходит при любом исходе шагов
	if len(errs) > 0 {
		err := errors.Join(errs...)
		o.publish(cctx, model.JobEventCleanedUp, ownerID, jobID, storyID, model.StatusFailed, err.Error())
		return err
	}
	log.Info("Compensating cleanup done")
	o.publish(cctx, model.JobEventCleanedUp, ownerID, jobID, storyID, model.StatusFailed, "")
	return nil
}

// removeFailedJob удаляет задачу в статусе failed из обоих хранилищ. История остается failed.
// Решение принимается по записи в Durable Record Store, а не по каналу.
func (o *Orchestrator) removeFailedJob(ctx context.Context, jobID uuid.UUID) {
	log := o.logger.With(zap.String("jobID", jobID.String()))
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cleanupTimeout)
	defer cancel()

	job, err := o.store.GetJob(cctx, jobID)
	if err != nil {
		if !model.IsGone(err) {
			log.Warn("Failed to re-read failed job", zap.Error(err))
		}
		return
	}
	if job.Status != model.StatusFailed {
		return
	}

	if err := o.store.DeleteJob(cctx, jobID); err != nil {
		log.Error("Failed to delete failed job", zap.Error(err))
		o.report(cctx, &model.CleanupError{Op: "delete_failed_job", Err: err}, interfaces.SeverityHigh, actionCleanup, job.OwnerID, nil)
		return
	}
	if err := livestatus.RemoveJob(cctx, o.live, jobID.String()); err != nil {
		log.Warn("Failed to remove failed job from live status channel", zap.Error(err))
	}
	log.Info("Failed job removed")
}
