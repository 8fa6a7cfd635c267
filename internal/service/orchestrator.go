package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storyteller-server/internal/generation"
	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/livestatus"
	"storyteller-server/internal/model"
	"storyteller-server/internal/normalizer"
	"storyteller-server/pkg/taskmanager"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	actionCreate  = "create_story_job"
	actionDrive   = "drive_generation"
	actionCleanup = "cleanup_generation"

	defaultCleanupTimeout = 30 * time.Second
)

// StoryGenerator - клиент внешнего API генерации (*generation.Client).
type StoryGenerator interface {
	Generate(ctx context.Context, req model.GenerationRequest, opts ...generation.CallOption) (*model.GenerationResult, error)
}

// BackgroundRunner запускает задачу, переживающую HTTP запрос (*taskmanager.TaskManager).
type BackgroundRunner interface {
	SubmitTask(ctx context.Context, name, ownerID string, fn taskmanager.TaskFunc) (uuid.UUID, error)
}

// GenerationInput - пользовательские поля запроса генерации.
type GenerationInput = normalizer.Fields

// CreatedJob возвращается сразу после создания пары история/задача.
type CreatedJob struct {
	JobID   uuid.UUID `json:"jobId"`
	StoryID uuid.UUID `json:"storyId"`
}

// Orchestrator создает задачи генерации, ведет их до конечного состояния
// и выполняет компенсирующую очистку.
type Orchestrator struct {
	store     interfaces.RecordStore
	live      interfaces.StatusChannel
	generator StoryGenerator
	runner    BackgroundRunner
	events    interfaces.JobEventPublisher
	reporter  interfaces.ErrorReporter
	logger    *zap.Logger

	cleanupTimeout time.Duration
	transient      *transientRegistry
}

// OrchestratorOption настраивает Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithEventPublisher включает публикацию событий жизненного цикла задач.
func WithEventPublisher(p interfaces.JobEventPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.events = p }
}

// WithErrorReporter задает error sink.
func WithErrorReporter(r interfaces.ErrorReporter) OrchestratorOption {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithResetHook вызывается ровно один раз на задачу с последним временным состоянием.
func WithResetHook(fn func(jobID uuid.UUID, final TransientState)) OrchestratorOption {
	return func(o *Orchestrator) { o.transient.onReset = fn }
}

// WithCleanupTimeout ограничивает время компенсирующей очистки.
func WithCleanupTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.cleanupTimeout = d }
}

func NewOrchestrator(
	store interfaces.RecordStore,
	live interfaces.StatusChannel,
	generator StoryGenerator,
	runner BackgroundRunner,
	logger *zap.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		live:           live,
		generator:      generator,
		runner:         runner,
		logger:         logger.Named("Orchestrator"),
		cleanupTimeout: defaultCleanupTimeout,
		transient:      newTransientRegistry(),
	}
	// опции применяются после создания реестра: WithResetHook пишет в него
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateAndGenerate создает историю и задачу, зеркалирует задачу в Live Status Channel,
// запускает наблюдатель и фоновую генерацию. Не ждет завершения генерации.
func (o *Orchestrator) CreateAndGenerate(ctx context.Context, ownerID string, input GenerationInput) (*CreatedJob, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, model.ErrUnauthorized
	}
	log := o.logger.With(zap.String("ownerID", ownerID))

	// Длина по уровню подписки, если пользователь не выбрал ее сам
	form := normalizer.NewForm(o.ownerTier(ctx, ownerID))
	form.Apply(input)
	form.SetLength(input.StoryLength)
	input = form.Fields()
	if _, err := normalizer.Normalize(input); err != nil {
		return nil, err
	}

	story := model.NewStory(ownerID, strings.TrimSpace(input.Title))
	job := &model.GenerationJob{
		Prompt:   strings.TrimSpace(input.Prompt),
		Title:    story.Title,
		Status:   model.StatusPending,
		Progress: model.ProgressCreated,
	}
	if err := o.store.CreateStoryJob(ctx, story, job); err != nil {
		creationErr := &model.CreationError{Err: err}
		log.Error("Failed to create story generation job", zap.Error(err))
		o.report(ctx, creationErr, interfaces.SeverityCritical, actionCreate, ownerID, nil)
		return nil, creationErr
	}
	log = log.With(zap.String("jobID", job.ID.String()), zap.String("storyID", story.ID.String()))

	// Перечитываем историю: запись могла молча не сохраниться
	if _, err := o.store.GetStory(ctx, story.ID); err != nil {
		creationErr := &model.CreationError{Err: fmt.Errorf("story %s is not readable after create: %w", story.ID, err)}
		log.Error("Story not readable after create, removing job", zap.Error(err))
		o.cleanup(ctx, ownerID, job.ID, story.ID)
		o.report(ctx, creationErr, interfaces.SeverityCritical, actionCreate, ownerID, map[string]any{
			"jobId":   job.ID.String(),
			"storyId": story.ID.String(),
		})
		return nil, creationErr
	}

	if err := livestatus.MirrorJob(ctx, o.live, job); err != nil {
		log.Warn("Failed to mirror job into live status channel", zap.Error(err))
	}

	o.transient.begin(job.ID, input)
	w := o.startWatcher(ctx, ownerID, job.ID)

	_, err := o.runner.SubmitTask(ctx, "generate_story", ownerID, func(taskCtx context.Context) error {
		driveErr := o.DriveGeneration(taskCtx, ownerID, job.ID, story.ID, input)
		w.settle(taskCtx)
		return driveErr
	})
	if err != nil {
		log.Error("Failed to start background generation", zap.Error(err))
		o.transient.reset(job.ID)
		// Задача не запущена: история не должна висеть в pending
		o.failJob(ctx, ownerID, job.ID, story.ID, fmt.Errorf("failed to start generation: %w", err))
		w.settle(ctx)
		return nil, fmt.Errorf("failed to start generation: %w", err)
	}

	log.Info("Story generation job created")
	return &CreatedJob{JobID: job.ID, StoryID: story.ID}, nil
}

// DriveGeneration ведет одну задачу: проверка истории, processing, вызов API, запись результата
// или обработка сбоя. Возвращает итоговую ошибку; временное состояние сбрасывается ровно один раз.
func (o *Orchestrator) DriveGeneration(ctx context.Context, ownerID string, jobID, storyID uuid.UUID, fields GenerationInput) (err error) {
	log := o.logger.With(
		zap.String("ownerID", ownerID),
		zap.String("jobID", jobID.String()),
		zap.String("storyID", storyID.String()),
	)
	o.transient.begin(jobID, fields)
	defer o.transient.reset(jobID)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during generation: %v", p)
			log.Error("Panic during generation", zap.Any("panic", p))
			o.handleFailure(ctx, log, ownerID, jobID, storyID, err)
		}
	}()

	if _, err := o.store.GetStory(ctx, storyID); err != nil {
		if model.IsGone(err) {
			err = fmt.Errorf("story %s not found before generation: %w", storyID, model.ErrPreconditionFailed)
		}
		return o.handleFailure(ctx, log, ownerID, jobID, storyID, err)
	}

	if err := o.markProcessing(ctx, log, jobID, storyID); err != nil {
		return o.handleFailure(ctx, log, ownerID, jobID, storyID, err)
	}

	req, err := normalizer.Normalize(fields)
	if err != nil {
		return o.handleFailure(ctx, log, ownerID, jobID, storyID, err)
	}

	o.setProgress(ctx, log, jobID, model.ProgressRequested)
	result, err := o.generator.Generate(ctx, req,
		generation.WithOwner(ownerID),
		generation.WithRetryStatus(func(msg string) { o.transient.setRetryMessage(jobID, msg) }),
	)
	if err != nil {
		return o.handleFailure(ctx, log, ownerID, jobID, storyID, err)
	}
	o.setProgress(ctx, log, jobID, model.ProgressReceived)

	if err := o.complete(ctx, log, jobID, storyID, result); err != nil {
		return o.handleFailure(ctx, log, ownerID, jobID, storyID, err)
	}

	jobOutcomes.WithLabelValues(outcomeCompleted).Inc()
	o.publish(ctx, model.JobEventCompleted, ownerID, jobID, storyID, model.StatusCompleted, "")
	log.Info("Story generation completed")
	return nil
}

// markProcessing переводит обе записи в processing. Сбои записи не прерывают генерацию,
// кроме удаленной истории.
func (o *Orchestrator) markProcessing(ctx context.Context, log *zap.Logger, jobID, storyID uuid.UUID) error {
	if err := o.store.UpdateStory(ctx, storyID, model.StoryUpdate{Status: model.StatusPtr(model.StatusProcessing)}); err != nil {
		if model.IsGone(err) {
			return fmt.Errorf("story %s vanished before generation: %w", storyID, model.ErrPreconditionFailed)
		}
		log.Warn("Failed to mark story processing", zap.Error(err))
	}
	if err := o.store.UpdateJob(ctx, jobID, model.NewJobUpdate(model.StatusProcessing, model.ProgressProcessing)); err != nil {
		log.Warn("Failed to mark job processing", zap.Error(err))
	}
	if err := livestatus.SetState(ctx, o.live, jobID.String(), model.StatusProcessing, model.ProgressProcessing); err != nil {
		log.Warn("Failed to push processing state", zap.Error(err))
	}
	o.transient.setProgress(jobID, model.ProgressProcessing)
	return nil
}

func (o *Orchestrator) setProgress(ctx context.Context, log *zap.Logger, jobID uuid.UUID, progress int) {
	if err := o.store.UpdateJob(ctx, jobID, model.JobUpdate{Progress: &progress}); err != nil {
		log.Warn("Failed to store job progress", zap.Int("progress", progress), zap.Error(err))
	}
	if err := livestatus.SetProgress(ctx, o.live, jobID.String(), progress); err != nil {
		log.Warn("Failed to push job progress", zap.Int("progress", progress), zap.Error(err))
	}
	o.transient.setProgress(jobID, progress)
}

// complete записывает результат. Удаленная история - ErrStoryDeletedDuringGeneration.
func (o *Orchestrator) complete(ctx context.Context, log *zap.Logger, jobID, storyID uuid.UUID, result *model.GenerationResult) error {
	if _, err := o.store.GetStory(ctx, storyID); err != nil {
		if model.IsGone(err) {
			return model.ErrStoryDeletedDuringGeneration
		}
		return fmt.Errorf("failed to re-read story %s: %w", storyID, err)
	}

	err := o.store.UpdateStory(ctx, storyID, model.StoryUpdate{
		Title:           model.StringPtr(strings.TrimSpace(result.Title)),
		Text:            model.StringPtr(result.Story),
		SettingPlace:    model.StringPtr(result.SettingPlace),
		ProtagonistName: model.StringPtr(result.ProtagonistName),
		Status:          model.StatusPtr(model.StatusCompleted),
	})
	if err != nil {
		if model.IsGone(err) {
			return model.ErrStoryDeletedDuringGeneration
		}
		return fmt.Errorf("failed to save generated story %s: %w", storyID, err)
	}

	if err := o.store.UpdateJob(ctx, jobID, model.NewJobUpdate(model.StatusCompleted, model.ProgressCompleted)); err != nil {
		log.Warn("Failed to mark job completed", zap.Error(err))
	}
	if err := livestatus.SetState(ctx, o.live, jobID.String(), model.StatusCompleted, model.ProgressCompleted); err != nil {
		log.Warn("Failed to push completed state", zap.Error(err))
	}
	o.transient.setProgress(jobID, model.ProgressCompleted)
	return nil
}

// handleFailure: исчерпанные ретраи с известным владельцем и пропавшая история ведут
// к полной очистке, остальное помечает задачу и историю failed. Возвращает исходную ошибку.
func (o *Orchestrator) handleFailure(ctx context.Context, log *zap.Logger, ownerID string, jobID, storyID uuid.UUID, cause error) error {
	switch {
	case errors.Is(cause, context.Canceled) && ctx.Err() != nil:
		log.Warn("Generation interrupted", zap.Error(cause))
		o.failJob(ctx, ownerID, jobID, storyID, cause)
	case model.IsExhausted(cause) && ownerID != "":
		log.Warn("Generation retries exhausted, cleaning up", zap.Error(cause))
		o.pushFailed(ctx, log, jobID, userMessage(cause))
		o.cleanup(ctx, ownerID, jobID, storyID)
		jobOutcomes.WithLabelValues(outcomeCleanedUp).Inc()
	case errors.Is(cause, model.ErrPreconditionFailed):
		log.Warn("Story is gone, cleaning up", zap.Error(cause))
		o.report(ctx, cause, interfaces.SeverityHigh, actionDrive, ownerID, map[string]any{
			"jobId":   jobID.String(),
			"storyId": storyID.String(),
		})
		o.pushFailed(ctx, log, jobID, userMessage(cause))
		o.cleanup(ctx, ownerID, jobID, storyID)
		jobOutcomes.WithLabelValues(outcomeStoryGone).Inc()
	default:
		log.Warn("Generation failed", zap.Error(cause))
		var genErr *model.GenerationError
		if !errors.As(cause, &genErr) {
			// ошибки клиента генерации он репортит сам
			o.report(ctx, cause, "", actionDrive, ownerID, map[string]any{
				"jobId":   jobID.String(),
				"storyId": storyID.String(),
			})
		}
		o.failJob(ctx, ownerID, jobID, storyID, cause)
	}
	return cause
}

// failJob помечает историю и задачу failed в обоих хранилищах. Если история уже удалена,
// выполняется полная очистка.
func (o *Orchestrator) failJob(ctx context.Context, ownerID string, jobID, storyID uuid.UUID, cause error) {
	log := o.logger.With(zap.String("jobID", jobID.String()), zap.String("storyID", storyID.String()))
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cleanupTimeout)
	defer cancel()

	message := userMessage(cause)
	if err := o.store.UpdateStory(wctx, storyID, model.StoryUpdate{Status: model.StatusPtr(model.StatusFailed)}); err != nil {
		if model.IsGone(err) {
			log.Warn("Story vanished while marking failed, cleaning up")
			o.pushFailed(ctx, log, jobID, userMessage(model.ErrStoryDeletedDuringGeneration))
			o.cleanup(ctx, ownerID, jobID, storyID)
			jobOutcomes.WithLabelValues(outcomeStoryGone).Inc()
			return
		}
		log.Error("Failed to mark story failed", zap.Error(err))
	}
	if err := o.store.UpdateJob(wctx, jobID, model.JobUpdate{
		Status: model.StatusPtr(model.StatusFailed),
		Error:  &message,
	}); err != nil {
		log.Error("Failed to mark job failed", zap.Error(err))
	}
	if err := livestatus.SetFailed(wctx, o.live, jobID.String(), message); err != nil {
		log.Warn("Failed to push failed state", zap.Error(err))
	}

	jobOutcomes.WithLabelValues(outcomeFailed).Inc()
	o.publish(wctx, model.JobEventFailed, ownerID, jobID, storyID, model.StatusFailed, message)
}

// pushFailed показывает сбой подписчикам до того, как очистка удалит путь задачи.
func (o *Orchestrator) pushFailed(ctx context.Context, log *zap.Logger, jobID uuid.UUID, message string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cleanupTimeout)
	defer cancel()
	if err := livestatus.SetFailed(wctx, o.live, jobID.String(), message); err != nil {
		log.Warn("Failed to push failed state", zap.Error(err))
	}
}

// TransientState - состояние генерации для экрана создания (сообщение о ретрае, прогресс).
func (o *Orchestrator) TransientState(jobID uuid.UUID) TransientState {
	return o.transient.get(jobID)
}

func (o *Orchestrator) ownerTier(ctx context.Context, ownerID string) model.SubscriptionTier {
	user, err := o.store.GetUser(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, model.ErrUserNotFound) {
			o.logger.Warn("Failed to read owner tier, using free", zap.String("ownerID", ownerID), zap.Error(err))
		}
		return model.TierFree
	}
	return user.SubscriptionTier
}

func (o *Orchestrator) publish(ctx context.Context, typ model.JobEventType, ownerID string, jobID, storyID uuid.UUID, status model.StoryStatus, message string) {
	if o.events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	event := model.JobEvent{
		Type:       typ,
		JobID:      jobID.String(),
		StoryID:    storyID.String(),
		OwnerID:    ownerID,
		Status:     status,
		Error:      message,
		OccurredAt: time.Now().UTC(),
	}
	if err := o.events.PublishJobEvent(pctx, event); err != nil {
		o.logger.Warn("Failed to publish job event",
			zap.String("type", string(typ)),
			zap.String("jobID", event.JobID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) report(ctx context.Context, err error, sev interfaces.Severity, action, ownerID string, metadata map[string]any) {
	if o.reporter == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("Error reporter panicked", zap.Any("panic", p))
		}
	}()
	o.reporter.Report(ctx, err, sev, interfaces.ErrorContext{Action: action, UserID: ownerID, Metadata: metadata})
}

// userMessage - сообщение для пользователя: классифицированное, без деталей транспорта.
func userMessage(err error) string {
	var genErr *model.GenerationError
	switch {
	case model.IsExhausted(err):
		return model.ErrRetriesExhausted.Error()
	case errors.As(err, &genErr):
		return genErr.Message
	case errors.Is(err, model.ErrStoryDeletedDuringGeneration):
		return "Story was deleted during generation"
	default:
		return err.Error()
	}
}
