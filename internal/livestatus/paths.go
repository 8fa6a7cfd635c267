// Package livestatus - Live Status Channel: короткоживущее зеркало состояния задач для UI.
package livestatus

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/model"
)

// Листья состояния задачи.
const (
	LeafStatus   = "status"
	LeafProgress = "progress"
	LeafError    = "error"
	LeafOwnerID  = "ownerId"
)

const jobsRoot = "jobs"

// JobPath - корень задачи: jobs/{jobId}.
func JobPath(jobID string) string {
	return jobsRoot + "/" + jobID
}

// JobLeafPath - jobs/{jobId}/{leaf}.
func JobLeafPath(jobID, leaf string) string {
	return JobPath(jobID) + "/" + leaf
}

// isUnder сообщает, совпадает ли path с prefix или лежит под ним.
func isUnder(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// MirrorJob записывает status, progress и ownerId задачи.
func MirrorJob(ctx context.Context, ch interfaces.StatusChannel, job *model.GenerationJob) error {
	id := job.ID.String()
	return errors.Join(
		ch.Set(ctx, JobLeafPath(id, LeafOwnerID), job.OwnerID),
		ch.Set(ctx, JobLeafPath(id, LeafProgress), strconv.Itoa(job.Progress)),
		ch.Set(ctx, JobLeafPath(id, LeafStatus), string(job.Status)),
	)
}

// SetState записывает прогресс, затем статус: подписчик видит статус уже с актуальным прогрессом.
func SetState(ctx context.Context, ch interfaces.StatusChannel, jobID string, status model.StoryStatus, progress int) error {
	return errors.Join(
		ch.Set(ctx, JobLeafPath(jobID, LeafProgress), strconv.Itoa(model.ClampProgress(progress))),
		ch.Set(ctx, JobLeafPath(jobID, LeafStatus), string(status)),
	)
}

// SetProgress записывает только прогресс.
func SetProgress(ctx context.Context, ch interfaces.StatusChannel, jobID string, progress int) error {
	return ch.Set(ctx, JobLeafPath(jobID, LeafProgress), strconv.Itoa(model.ClampProgress(progress)))
}

// SetFailed записывает ошибку и статус failed.
func SetFailed(ctx context.Context, ch interfaces.StatusChannel, jobID, message string) error {
	return errors.Join(
		ch.Set(ctx, JobLeafPath(jobID, LeafError), message),
		ch.Set(ctx, JobLeafPath(jobID, LeafStatus), string(model.StatusFailed)),
	)
}

// RemoveJob удаляет все листья задачи.
func RemoveJob(ctx context.Context, ch interfaces.StatusChannel, jobID string) error {
	return ch.Remove(ctx, JobPath(jobID))
}

// ParseProgress разбирает значение листа progress; мусор - 0.
func ParseProgress(v string) int {
	p, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		if f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64); ferr == nil {
			p = int(f)
		}
	}
	return model.ClampProgress(p)
}
