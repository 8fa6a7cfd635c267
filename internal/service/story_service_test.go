package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"storyteller-server/internal/media"
	"storyteller-server/internal/mocks"
	"storyteller-server/internal/model"
	"storyteller-server/internal/service"
	"storyteller-server/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const urlTTL = time.Hour

type staticTransient map[uuid.UUID]service.TransientState

func (s staticTransient) TransientState(jobID uuid.UUID) service.TransientState { return s[jobID] }

func seedStory(t *testing.T, store *testutil.MemoryRecordStore, owner string, upd model.StoryUpdate) (*model.Story, *model.GenerationJob) {
	t.Helper()
	ctx := context.Background()
	story := model.NewStory(owner, "Sky Fox")
	job := &model.GenerationJob{Prompt: validInput.Prompt, Status: model.StatusPending}
	require.NoError(t, store.CreateStoryJob(ctx, story, job))
	require.NoError(t, store.UpdateStory(ctx, story.ID, upd))
	return story, job
}

func TestStoryService_GetStoryPresignsMedia(t *testing.T) {
	store := testutil.NewMemoryRecordStore()
	storage := mocks.NewMockMediaStorage(t)
	story, _ := seedStory(t, store, ownerID, model.StoryUpdate{
		Images: []string{"image/owner-1/a.png"},
		Audio:  model.StringPtr("audio/owner-1/b.mp3"),
	})
	storage.On("PresignedURL", mock.Anything, "image/owner-1/a.png", urlTTL).Return("https://cdn/a.png", nil).Once()
	storage.On("PresignedURL", mock.Anything, "audio/owner-1/b.mp3", urlTTL).Return("", errors.New("minio down")).Once()

	svc := service.NewStoryService(store, storage, nil, urlTTL, zap.NewNop())
	got, err := svc.GetStory(context.Background(), ownerID, story.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://cdn/a.png"}, got.Images)
	require.NotNil(t, got.Audio)
	assert.Equal(t, "audio/owner-1/b.mp3", *got.Audio, "unsigned path is returned when presigning fails")
	assert.Empty(t, got.Videos)
	storage.AssertExpectations(t)
}

func TestStoryService_ForeignStoryLooksMissing(t *testing.T) {
	store := testutil.NewMemoryRecordStore()
	story, job := seedStory(t, store, "someone-else", model.StoryUpdate{})
	svc := service.NewStoryService(store, nil, nil, urlTTL, zap.NewNop())
	ctx := context.Background()

	_, err := svc.GetStory(ctx, ownerID, story.ID)
	assert.ErrorIs(t, err, model.ErrStoryNotFound)

	err = svc.DeleteStory(ctx, ownerID, story.ID)
	assert.ErrorIs(t, err, model.ErrStoryNotFound)
	assert.True(t, store.HasStory(story.ID))

	_, err = svc.JobStatus(ctx, ownerID, job.ID)
	assert.ErrorIs(t, err, model.ErrJobNotFound)

	_, err = svc.GetStory(ctx, "", story.ID)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestStoryService_ListStories(t *testing.T) {
	store := testutil.NewMemoryRecordStore()
	storage := mocks.NewMockMediaStorage(t)
	first, _ := seedStory(t, store, ownerID, model.StoryUpdate{})
	time.Sleep(2 * time.Millisecond)
	second, _ := seedStory(t, store, ownerID, model.StoryUpdate{Images: []string{"image/owner-1/c.png", "image/owner-1/d.png"}})
	seedStory(t, store, "someone-else", model.StoryUpdate{})
	storage.On("PresignedURL", mock.Anything, "image/owner-1/c.png", urlTTL).Return("https://cdn/c.png", nil).Once()

	svc := service.NewStoryService(store, storage, nil, urlTTL, zap.NewNop())
	got, err := svc.ListStories(context.Background(), ownerID)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	require.NotNil(t, got[0].Thumbnail)
	assert.Equal(t, "https://cdn/c.png", *got[0].Thumbnail)
	assert.Equal(t, first.ID, got[1].ID)
	assert.Nil(t, got[1].Thumbnail)
	storage.AssertExpectations(t)
}

func TestStoryService_DeleteStoryRemovesReferenceAndOwnedMedia(t *testing.T) {
	store := testutil.NewMemoryRecordStore()
	storage := mocks.NewMockMediaStorage(t)
	story, _ := seedStory(t, store, ownerID, model.StoryUpdate{
		Images: []string{"image/owner-1/a.png", "image/intruder/x.png"},
		Videos: []string{"video/owner-1/v.mp4"},
	})
	storage.On("Delete", mock.Anything, "image/owner-1/a.png").Return(nil).Once()
	storage.On("Delete", mock.Anything, "video/owner-1/v.mp4").Return(errors.New("gone already")).Once()

	svc := service.NewStoryService(store, storage, nil, urlTTL, zap.NewNop())
	require.NoError(t, svc.DeleteStory(context.Background(), ownerID, story.ID))

	assert.False(t, store.HasStory(story.ID))
	assert.False(t, store.OwnerHasStory(ownerID, story.ID))
	storage.AssertExpectations(t)
	storage.AssertNotCalled(t, "Delete", mock.Anything, "image/intruder/x.png")
}

func TestStoryService_AttachMedia(t *testing.T) {
	store := testutil.NewMemoryRecordStore()
	storage := mocks.NewMockMediaStorage(t)
	story, _ := seedStory(t, store, ownerID, model.StoryUpdate{Audio: model.StringPtr("audio/owner-1/old.mp3")})
	ctx := context.Background()

	isImagePath := mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "image/owner-1/") && strings.HasSuffix(p, ".png")
	})
	isAudioPath := mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "audio/owner-1/") && strings.HasSuffix(p, ".mp3") && p != "audio/owner-1/old.mp3"
	})
	storage.On("Upload", mock.Anything, isImagePath, mock.Anything, int64(1024), "image/png").Return(nil).Once()
	storage.On("PresignedURL", mock.Anything, isImagePath, urlTTL).Return("https://cdn/image.png", nil).Once()
	storage.On("Upload", mock.Anything, isAudioPath, mock.Anything, int64(2048), "audio/mpeg").Return(nil).Once()
	storage.On("PresignedURL", mock.Anything, isAudioPath, urlTTL).Return("https://cdn/audio.mp3", nil).Once()
	storage.On("Delete", mock.Anything, "audio/owner-1/old.mp3").Return(nil).Once()

	svc := service.NewStoryService(store, storage, nil, urlTTL, zap.NewNop())

	img, err := svc.AttachMedia(ctx, ownerID, story.ID, service.MediaUpload{
		Kind: media.KindImage, ContentType: "image/png", Size: 1024, Body: strings.NewReader("png"),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/image.png", img.URL)

	audio, err := svc.AttachMedia(ctx, ownerID, story.ID, service.MediaUpload{
		Kind: media.KindAudio, ContentType: "audio/mpeg", Size: 2048, Body: strings.NewReader("mp3"),
	})
	require.NoError(t, err)

	stored, err := store.GetStory(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{img.Path}, stored.Images)
	require.NotNil(t, stored.Audio)
	assert.Equal(t, audio.Path, *stored.Audio)
	storage.AssertExpectations(t)
}

func TestStoryService_AttachMediaValidatesBeforeUpload(t *testing.T) {
	store := testutil.NewMemoryRecordStore()
	storage := mocks.NewMockMediaStorage(t)
	story, _ := seedStory(t, store, ownerID, model.StoryUpdate{})
	svc := service.NewStoryService(store, storage, nil, urlTTL, zap.NewNop())

	_, err := svc.AttachMedia(context.Background(), ownerID, story.ID, service.MediaUpload{
		Kind: media.KindImage, ContentType: "image/png", Size: 6 * 1024 * 1024, Body: strings.NewReader(""),
	})
	var vErr *model.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "file", vErr.Field)

	_, err = svc.AttachMedia(context.Background(), ownerID, story.ID, service.MediaUpload{
		Kind: media.KindVideo, ContentType: "image/gif", Size: 10, Body: strings.NewReader(""),
	})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "contentType", vErr.Field)
	storage.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStoryService_AttachMediaDeletesObjectWhenStoryVanishes(t *testing.T) {
	store := testutil.NewMemoryRecordStore()
	storage := mocks.NewMockMediaStorage(t)
	story, _ := seedStory(t, store, ownerID, model.StoryUpdate{})
	store.SetFailFunc(func(op, _ string) error {
		if op == testutil.OpUpdateStory {
			return model.ErrDocumentGone
		}
		return nil
	})
	storage.On("Upload", mock.Anything, mock.Anything, mock.Anything, int64(10), "video/mp4").Return(nil).Once()
	storage.On("Delete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "video/owner-1/")
	})).Return(nil).Once()

	svc := service.NewStoryService(store, storage, nil, urlTTL, zap.NewNop())
	_, err := svc.AttachMedia(context.Background(), ownerID, story.ID, service.MediaUpload{
		Kind: media.KindVideo, ContentType: "video/mp4", Size: 10, Body: strings.NewReader("mp4"),
	})
	assert.ErrorIs(t, err, model.ErrStoryNotFound)
	storage.AssertExpectations(t)
}

func TestStoryService_AttachMediaWithoutStorage(t *testing.T) {
	svc := service.NewStoryService(testutil.NewMemoryRecordStore(), nil, nil, urlTTL, zap.NewNop())
	_, err := svc.AttachMedia(context.Background(), ownerID, uuid.New(), service.MediaUpload{Kind: media.KindImage})
	assert.ErrorIs(t, err, service.ErrMediaDisabled)
}

func TestStoryService_JobStatusMergesTransientState(t *testing.T) {
	store := testutil.NewMemoryRecordStore()
	_, job := seedStory(t, store, ownerID, model.StoryUpdate{})
	require.NoError(t, store.UpdateJob(context.Background(), job.ID, model.NewJobUpdate(model.StatusProcessing, model.ProgressProcessing)))

	transient := staticTransient{job.ID: {Active: true, Progress: model.ProgressRequested, RetryMessage: "Retrying... attempt 2/4"}}
	svc := service.NewStoryService(store, nil, transient, urlTTL, zap.NewNop())

	got, err := svc.JobStatus(context.Background(), ownerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
	assert.Equal(t, model.ProgressRequested, got.Progress)
	assert.True(t, got.Active)
	assert.Equal(t, "Retrying... attempt 2/4", got.RetryMessage)

	_, err = svc.JobStatus(context.Background(), ownerID, uuid.New())
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}
