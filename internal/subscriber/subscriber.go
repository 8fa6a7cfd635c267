// Package subscriber следит за листьями задачи в Live Status Channel и отдает объединенный снимок.
package subscriber

import (
	"context"
	"fmt"
	"sync"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/livestatus"
	"storyteller-server/internal/model"
)

// UpdateFunc получает полный объединенный снимок, а не значение одного листа.
type UpdateFunc func(snapshot model.JobSnapshot)

// Unsubscribe отключает все наблюдатели. Идемпотентна.
type Unsubscribe func()

var watchedLeaves = []string{livestatus.LeafStatus, livestatus.LeafProgress, livestatus.LeafError}

type subscription struct {
	onUpdate UpdateFunc

	mu       sync.Mutex
	snapshot model.JobSnapshot
	ready    bool
	closed   bool
	// statusSeen - лист status хотя бы раз имел значение
	statusSeen bool

	// deliverMu упорядочивает вызовы onUpdate
	deliverMu sync.Mutex
}

// Subscribe наблюдает status, progress и error задачи. Первый вызов onUpdate происходит
// сразу после подписки со снимком, начиная с {pending, 0}. Остановку наблюдения по
// конечному статусу выполняет вызывающий через Unsubscribe.
func Subscribe(ctx context.Context, ch interfaces.StatusChannel, jobID string, onUpdate UpdateFunc) (Unsubscribe, error) {
	s := &subscription{onUpdate: onUpdate, snapshot: model.InitialSnapshot()}

	unsubs := make([]func(), 0, len(watchedLeaves))
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			for _, u := range unsubs {
				u()
			}
		})
	}

	for _, leaf := range watchedLeaves {
		u, err := ch.SubscribeValue(ctx, livestatus.JobLeafPath(jobID, leaf), func(v string, ok bool) {
			s.apply(leaf, v, ok)
		})
		if err != nil {
			unsubscribe()
			return nil, fmt.Errorf("failed to subscribe to %s of job %s: %w", leaf, jobID, err)
		}
		unsubs = append(unsubs, u)
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	s.deliver()

	return unsubscribe, nil
}

// apply объединяет значение листа со снимком и уведомляет при изменении.
func (s *subscription) apply(leaf, v string, ok bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.snapshot
	switch leaf {
	case livestatus.LeafStatus:
		switch {
		case ok && v != "":
			s.snapshot.Status = model.StoryStatus(v)
			s.statusSeen = true
		case s.statusSeen && !s.snapshot.Status.IsTerminal():
			// Путь задачи удален до конечного статуса: генерация не состоится
			s.snapshot.Status = model.StatusFailed
		}
	case livestatus.LeafProgress:
		if ok {
			s.snapshot.Progress = livestatus.ParseProgress(v)
		}
	case livestatus.LeafError:
		switch {
		case ok:
			s.snapshot.Error = v
		case s.snapshot.Status != model.StatusFailed:
			// сообщение о сбое переживает удаление пути
			s.snapshot.Error = ""
		}
	}
	changed := prev != s.snapshot
	ready := s.ready
	s.mu.Unlock()

	if ready && changed {
		s.deliver()
	}
}

// deliver отдает последний снимок. onUpdate не должен синхронно писать в тот же канал.
func (s *subscription) deliver() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	snap := s.snapshot
	s.mu.Unlock()

	s.onUpdate(snap)
}
