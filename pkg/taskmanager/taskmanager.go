package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrTooManyTasks - превышено максимальное количество активных задач.
	ErrTooManyTasks = errors.New("превышено максимальное количество активных задач")
	// ErrShuttingDown - менеджер останавливается и не принимает новые задачи.
	ErrShuttingDown = errors.New("менеджер задач останавливается")
	// ErrTaskNotFound - задачи с таким ID нет.
	ErrTaskNotFound = errors.New("задача не найдена")
)

// TaskStatus представляет статус фоновой задачи
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskFunc - тело фоновой задачи. ctx отменяется при CancelTask или принудительной остановке.
type TaskFunc func(ctx context.Context) error

// Task - снимок состояния фоновой задачи
type Task struct {
	ID        uuid.UUID
	Name      string
	OwnerID   string
	Status    TaskStatus
	Err       error
	CreatedAt time.Time
	UpdatedAt time.Time

	cancel context.CancelFunc
}

// Config содержит конфигурацию для TaskManager
type Config struct {
	MaxTasks int
}

// TaskManager запускает фоновые задачи, переживающие HTTP запрос, и дожидается их при остановке.
type TaskManager struct {
	mu       sync.RWMutex
	tasks    map[uuid.UUID]*Task
	maxTasks int
	active   int
	closing  bool
	wg       sync.WaitGroup
}

// New создает новый экземпляр TaskManager
func New(cfg Config) *TaskManager {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	return &TaskManager{
		tasks:    make(map[uuid.UUID]*Task),
		maxTasks: maxTasks,
	}
}

// SubmitTask запускает fn в отдельной горутине.
// Отмена ctx вызывающего не отменяет задачу, значения контекста (логгер zerolog) сохраняются.
func (tm *TaskManager) SubmitTask(ctx context.Context, name, ownerID string, fn TaskFunc) (uuid.UUID, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closing {
		return uuid.Nil, ErrShuttingDown
	}
	if tm.active >= tm.maxTasks {
		return uuid.Nil, ErrTooManyTasks
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := time.Now()
	task := &Task{
		ID:        uuid.New(),
		Name:      name,
		OwnerID:   ownerID,
		Status:    TaskStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
		cancel:    cancel,
	}
	tm.tasks[task.ID] = task
	tm.active++

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer cancel()
		tm.runTask(taskCtx, task, fn)
	}()

	return task.ID, nil
}

func (tm *TaskManager) runTask(ctx context.Context, task *Task, fn TaskFunc) {
	logger := log.Ctx(ctx).With().
		Str("taskID", task.ID.String()).
		Str("task", task.Name).
		Str("ownerID", task.OwnerID).
		Logger()

	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic in task %s: %v", task.Name, p)
			}
		}()
		err = fn(ctx)
	}()

	status := TaskStatusCompleted
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		status = TaskStatusCancelled
		logger.Info().Msg("Задача отменена")
	case err != nil:
		status = TaskStatusFailed
		logger.Error().Err(err).Msg("Задача завершилась с ошибкой")
	default:
		logger.Debug().Msg("Задача успешно выполнена")
	}

	tm.mu.Lock()
	task.Status = status
	task.Err = err
	task.UpdatedAt = time.Now()
	tm.active--
	tm.mu.Unlock()
}

// GetTask возвращает копию состояния задачи по ID
func (tm *TaskManager) GetTask(taskID uuid.UUID) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	snapshot := *task
	snapshot.cancel = nil
	return snapshot, nil
}

// ActiveTasks возвращает число выполняющихся задач
func (tm *TaskManager) ActiveTasks() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.active
}

// CancelTask отменяет контекст выполняющейся задачи
func (tm *TaskManager) CancelTask(taskID uuid.UUID) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskStatusRunning {
		return fmt.Errorf("невозможно отменить задачу в статусе %s", task.Status)
	}
	task.cancel()
	return nil
}

// CleanupTasks удаляет завершенные задачи старше age
func (tm *TaskManager) CleanupTasks(age time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, task := range tm.tasks {
		if task.Status != TaskStatusRunning && now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, id)
			removed++
		}
	}
	return removed
}

// Shutdown перестает принимать задачи и ждет завершения выполняющихся.
// Если ctx истекает раньше, оставшиеся задачи отменяются.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	tm.closing = true
	tm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		tm.mu.RLock()
		for _, task := range tm.tasks {
			if task.Status == TaskStatusRunning {
				task.cancel()
			}
		}
		remaining := tm.active
		tm.mu.RUnlock()
		return fmt.Errorf("таймаут при ожидании завершения задач (осталось %d): %w", remaining, ctx.Err())
	}
}
