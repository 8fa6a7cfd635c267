package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/media"
	"storyteller-server/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMediaDisabled - хранилище медиа не настроено.
var ErrMediaDisabled = errors.New("media storage is not configured")

const defaultMediaURLTTL = 24 * time.Hour

// TransientReader отдает временное состояние идущей генерации (*Orchestrator).
type TransientReader interface {
	TransientState(jobID uuid.UUID) TransientState
}

// JobStatus - запись задачи вместе с временным состоянием генерации.
type JobStatus struct {
	model.GenerationJob
	Active       bool   `json:"active"`
	RetryMessage string `json:"retryMessage,omitempty"`
}

// MediaObject - загруженный объект и ссылка на него.
type MediaObject struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// MediaUpload - входные данные загрузки медиа.
type MediaUpload struct {
	Kind        media.Kind
	ContentType string
	Size        int64
	Body        io.Reader
}

// StoryService - чтение, удаление историй и их медиа от имени владельца.
// Чужие истории и задачи выглядят как отсутствующие.
type StoryService struct {
	store       interfaces.RecordStore
	media       interfaces.MediaStorage
	jobs        TransientReader
	mediaURLTTL time.Duration
	logger      *zap.Logger
}

// NewStoryService создает сервис. mediaStorage может быть nil: медиа отключены.
func NewStoryService(
	store interfaces.RecordStore,
	mediaStorage interfaces.MediaStorage,
	jobs TransientReader,
	mediaURLTTL time.Duration,
	logger *zap.Logger,
) *StoryService {
	if mediaURLTTL <= 0 {
		mediaURLTTL = defaultMediaURLTTL
	}
	return &StoryService{
		store:       store,
		media:       mediaStorage,
		jobs:        jobs,
		mediaURLTTL: mediaURLTTL,
		logger:      logger.Named("StoryService"),
	}
}

// GetStory возвращает историю владельца с подписанными ссылками на медиа.
func (s *StoryService) GetStory(ctx context.Context, ownerID string, storyID uuid.UUID) (*model.Story, error) {
	story, err := s.ownedStory(ctx, ownerID, storyID)
	if err != nil {
		return nil, err
	}
	story.Images = s.presignAll(ctx, story.Images)
	story.Videos = s.presignAll(ctx, story.Videos)
	if story.Audio != nil {
		audio := s.presign(ctx, *story.Audio)
		story.Audio = &audio
	}
	return story, nil
}

// ListStories возвращает краткие записи историй владельца, новые первыми.
func (s *StoryService) ListStories(ctx context.Context, ownerID string) ([]model.StorySummary, error) {
	if ownerID == "" {
		return nil, model.ErrUnauthorized
	}
	stories, err := s.store.ListStoriesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	summaries := make([]model.StorySummary, 0, len(stories))
	for _, story := range stories {
		sum := story.Summary()
		if sum.Thumbnail != nil {
			thumb := s.presign(ctx, *sum.Thumbnail)
			sum.Thumbnail = &thumb
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// DeleteStory удаляет историю и ссылку владельца на нее. Медиа удаляются по возможности.
func (s *StoryService) DeleteStory(ctx context.Context, ownerID string, storyID uuid.UUID) error {
	story, err := s.ownedStory(ctx, ownerID, storyID)
	if err != nil {
		return err
	}
	log := s.logger.With(zap.String("ownerID", ownerID), zap.String("storyID", storyID.String()))

	if err := s.store.DeleteStory(ctx, storyID); err != nil {
		return fmt.Errorf("failed to delete story %s: %w", storyID, err)
	}
	if err := s.store.RemoveStoryFromOwner(ctx, ownerID, storyID); err != nil {
		log.Error("Story deleted but owner reference not removed", zap.Error(err))
		return fmt.Errorf("failed to remove story %s from owner: %w", storyID, err)
	}

	for _, path := range storyMediaPaths(story) {
		s.deleteObject(ctx, ownerID, path)
	}
	log.Info("Story deleted")
	return nil
}

// AttachMedia проверяет и загружает файл, затем добавляет путь объекта в историю.
func (s *StoryService) AttachMedia(ctx context.Context, ownerID string, storyID uuid.UUID, upload MediaUpload) (*MediaObject, error) {
	if s.media == nil {
		return nil, ErrMediaDisabled
	}
	ext, err := media.Validate(upload.Kind, upload.ContentType, upload.Size)
	if err != nil {
		return nil, err
	}
	story, err := s.ownedStory(ctx, ownerID, storyID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("ownerID", ownerID), zap.String("storyID", storyID.String()))

	path := media.ObjectPath(upload.Kind, ownerID, ext)
	if err := s.media.Upload(ctx, path, upload.Body, upload.Size, upload.ContentType); err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", upload.Kind, err)
	}

	var (
		upd      model.StoryUpdate
		replaced string
	)
	switch upload.Kind {
	case media.KindImage:
		upd.Images = append(append([]string{}, story.Images...), path)
	case media.KindAudio:
		if story.Audio != nil {
			replaced = *story.Audio
		}
		upd.Audio = model.StringPtr(path)
	case media.KindVideo:
		upd.Videos = append(append([]string{}, story.Videos...), path)
	}

	if err := s.store.UpdateStory(ctx, storyID, upd); err != nil {
		s.deleteObject(ctx, ownerID, path)
		if model.IsGone(err) {
			return nil, model.ErrStoryNotFound
		}
		return nil, fmt.Errorf("failed to attach %s to story %s: %w", upload.Kind, storyID, err)
	}
	if replaced != "" {
		s.deleteObject(ctx, ownerID, replaced)
	}

	url, err := s.media.PresignedURL(ctx, path, s.mediaURLTTL)
	if err != nil {
		log.Warn("Failed to presign uploaded object", zap.String("path", path), zap.Error(err))
	}
	log.Info("Media attached", zap.String("kind", string(upload.Kind)), zap.String("path", path))
	return &MediaObject{Path: path, URL: url}, nil
}

// JobStatus возвращает задачу владельца. Прогресс берется максимальный из записи
// и временного состояния.
func (s *StoryService) JobStatus(ctx context.Context, ownerID string, jobID uuid.UUID) (*JobStatus, error) {
	if ownerID == "" {
		return nil, model.ErrUnauthorized
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, model.ErrJobNotFound
	}

	status := &JobStatus{GenerationJob: *job}
	if s.jobs != nil {
		ts := s.jobs.TransientState(jobID)
		status.Active = ts.Active
		status.RetryMessage = ts.RetryMessage
		if ts.Progress > status.Progress {
			status.Progress = ts.Progress
		}
	}
	return status, nil
}

func (s *StoryService) ownedStory(ctx context.Context, ownerID string, storyID uuid.UUID) (*model.Story, error) {
	if ownerID == "" {
		return nil, model.ErrUnauthorized
	}
	story, err := s.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.OwnerID != ownerID {
		return nil, model.ErrStoryNotFound
	}
	return story, nil
}

// presign возвращает путь без изменений, если подписать не удалось.
func (s *StoryService) presign(ctx context.Context, path string) string {
	if s.media == nil || path == "" {
		return path
	}
	url, err := s.media.PresignedURL(ctx, path, s.mediaURLTTL)
	if err != nil {
		s.logger.Warn("Failed to presign media", zap.String("path", path), zap.Error(err))
		return path
	}
	return url
}

func (s *StoryService) presignAll(ctx context.Context, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, s.presign(ctx, p))
	}
	return out
}

// deleteObject удаляет только объекты из каталога владельца.
func (s *StoryService) deleteObject(ctx context.Context, ownerID, path string) {
	if s.media == nil || !media.OwnedBy(path, ownerID) {
		return
	}
	if err := s.media.Delete(ctx, path); err != nil {
		s.logger.Warn("Failed to delete media object", zap.String("path", path), zap.Error(err))
	}
}

func storyMediaPaths(story *model.Story) []string {
	paths := make([]string, 0, len(story.Images)+len(story.Videos)+1)
	paths = append(paths, story.Images...)
	paths = append(paths, story.Videos...)
	if story.Audio != nil {
		paths = append(paths, *story.Audio)
	}
	return paths
}
