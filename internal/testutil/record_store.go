// Package testutil - in-memory реализации хранилищ для тестов оркестрации и HTTP слоя.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/model"

	"github.com/google/uuid"
)

// Имена операций для FailFunc.
const (
	OpCreateStoryJob       = "CreateStoryJob"
	OpGetStory             = "GetStory"
	OpUpdateStory          = "UpdateStory"
	OpDeleteStory          = "DeleteStory"
	OpListStories          = "ListStoriesByOwner"
	OpGetJob               = "GetJob"
	OpUpdateJob            = "UpdateJob"
	OpDeleteJob            = "DeleteJob"
	OpGetUser              = "GetUser"
	OpRemoveStoryFromOwner = "RemoveStoryFromOwner"
)

// FailFunc вызывается в начале каждой операции; ненулевая ошибка возвращается вызывающему.
type FailFunc func(op, id string) error

// MemoryRecordStore - RecordStore в памяти с внедрением ошибок.
type MemoryRecordStore struct {
	mu      sync.Mutex
	stories map[uuid.UUID]*model.Story
	jobs    map[uuid.UUID]*model.GenerationJob
	users   map[string]*model.User
	calls   map[string]int
	fail    FailFunc
}

var _ interfaces.RecordStore = (*MemoryRecordStore)(nil)

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		stories: make(map[uuid.UUID]*model.Story),
		jobs:    make(map[uuid.UUID]*model.GenerationJob),
		users:   make(map[string]*model.User),
		calls:   make(map[string]int),
	}
}

// SetFailFunc задает внедрение ошибок. nil отключает.
func (m *MemoryRecordStore) SetFailFunc(fn FailFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// Calls - сколько раз вызывалась операция.
func (m *MemoryRecordStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// SeedUser создает владельца с уровнем подписки.
func (m *MemoryRecordStore) SeedUser(ownerID string, tier model.SubscriptionTier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.users[ownerID] = &model.User{ID: ownerID, SubscriptionTier: tier, StoryIDs: []uuid.UUID{}, CreatedAt: now, UpdatedAt: now}
}

// HasStory, HasJob, OwnerHasStory - проверки состояния без внедрения ошибок.
func (m *MemoryRecordStore) HasStory(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stories[id]
	return ok
}

func (m *MemoryRecordStore) HasJob(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[id]
	return ok
}

func (m *MemoryRecordStore) OwnerHasStory(ownerID string, storyID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[ownerID]
	return ok && u.HasStory(storyID)
}

// JobCount - количество задач в хранилище.
func (m *MemoryRecordStore) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// enter считает вызов и применяет FailFunc. Вызывается под m.mu.
func (m *MemoryRecordStore) enter(op, id string) error {
	m.calls[op]++
	if m.fail != nil {
		return m.fail(op, id)
	}
	return nil
}

func (m *MemoryRecordStore) CreateStoryJob(_ context.Context, story *model.Story, job *model.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCreateStoryJob, story.OwnerID); err != nil {
		return err
	}

	now := time.Now().UTC()
	story.ID = uuid.New()
	story.CreatedAt, story.UpdatedAt = now, now
	if story.Images == nil {
		story.Images = []string{}
	}
	if story.Videos == nil {
		story.Videos = []string{}
	}
	job.ID = uuid.New()
	job.StoryID = story.ID
	job.OwnerID = story.OwnerID
	job.Progress = model.ClampProgress(job.Progress)
	job.CreatedAt, job.UpdatedAt = now, now

	m.stories[story.ID] = copyStory(story)
	jc := *job
	m.jobs[job.ID] = &jc
	m.addStoryLocked(story.OwnerID, story.ID)
	return nil
}

func (m *MemoryRecordStore) GetStory(_ context.Context, id uuid.UUID) (*model.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetStory, id.String()); err != nil {
		return nil, err
	}
	s, ok := m.stories[id]
	if !ok {
		return nil, model.ErrStoryNotFound
	}
	return copyStory(s), nil
}

func (m *MemoryRecordStore) UpdateStory(_ context.Context, id uuid.UUID, upd model.StoryUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpdateStory, id.String()); err != nil {
		return err
	}
	s, ok := m.stories[id]
	if !ok {
		return fmt.Errorf("%w: %w", model.ErrDocumentGone, model.ErrStoryNotFound)
	}
	if upd.Title != nil {
		s.Title = *upd.Title
	}
	if upd.Text != nil {
		s.Text = *upd.Text
	}
	if upd.SettingPlace != nil {
		s.SettingPlace = *upd.SettingPlace
	}
	if upd.ProtagonistName != nil {
		s.ProtagonistName = *upd.ProtagonistName
	}
	if upd.Images != nil {
		s.Images = append([]string(nil), upd.Images...)
	}
	if upd.Audio != nil {
		a := *upd.Audio
		s.Audio = &a
	}
	if upd.Videos != nil {
		s.Videos = append([]string(nil), upd.Videos...)
	}
	if upd.Status != nil {
		s.Status = *upd.Status
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRecordStore) DeleteStory(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpDeleteStory, id.String()); err != nil {
		return err
	}
	delete(m.stories, id)
	return nil
}

func (m *MemoryRecordStore) ListStoriesByOwner(_ context.Context, ownerID string) ([]*model.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListStories, ownerID); err != nil {
		return nil, err
	}
	out := []*model.Story{}
	for _, s := range m.stories {
		if s.OwnerID == ownerID {
			out = append(out, copyStory(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRecordStore) GetJob(_ context.Context, id uuid.UUID) (*model.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetJob, id.String()); err != nil {
		return nil, err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	jc := *j
	if j.Error != nil {
		e := *j.Error
		jc.Error = &e
	}
	return &jc, nil
}

func (m *MemoryRecordStore) UpdateJob(_ context.Context, id uuid.UUID, upd model.JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpdateJob, id.String()); err != nil {
		return err
	}
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %w", model.ErrDocumentGone, model.ErrJobNotFound)
	}
	if upd.Status != nil {
		j.Status = *upd.Status
	}
	if upd.Progress != nil {
		j.Progress = model.ClampProgress(*upd.Progress)
	}
	if upd.Error != nil {
		e := *upd.Error
		j.Error = &e
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRecordStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpDeleteJob, id.String()); err != nil {
		return err
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryRecordStore) GetUser(_ context.Context, ownerID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetUser, ownerID); err != nil {
		return nil, err
	}
	u, ok := m.users[ownerID]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	uc := *u
	uc.StoryIDs = append([]uuid.UUID(nil), u.StoryIDs...)
	return &uc, nil
}

func (m *MemoryRecordStore) RemoveStoryFromOwner(_ context.Context, ownerID string, storyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpRemoveStoryFromOwner, ownerID); err != nil {
		return err
	}
	u, ok := m.users[ownerID]
	if !ok {
		return nil
	}
	kept := u.StoryIDs[:0]
	for _, id := range u.StoryIDs {
		if id != storyID {
			kept = append(kept, id)
		}
	}
	u.StoryIDs = kept
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRecordStore) addStoryLocked(ownerID string, storyID uuid.UUID) {
	u, ok := m.users[ownerID]
	if !ok {
		now := time.Now().UTC()
		u = &model.User{ID: ownerID, SubscriptionTier: model.TierFree, CreatedAt: now}
		m.users[ownerID] = u
	}
	if !u.HasStory(storyID) {
		u.StoryIDs = append(u.StoryIDs, storyID)
	}
	u.UpdatedAt = time.Now().UTC()
}

func copyStory(s *model.Story) *model.Story {
	c := *s
	c.Images = append([]string{}, s.Images...)
	c.Videos = append([]string{}, s.Videos...)
	if s.Audio != nil {
		a := *s.Audio
		c.Audio = &a
	}
	return &c
}
