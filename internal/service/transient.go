package service

import (
	"sync"

	"storyteller-server/internal/normalizer"

	"github.com/google/uuid"
)

// TransientState - то, что видит экран создания истории, пока генерация идет.
type TransientState struct {
	Active       bool   `json:"active"`
	Progress     int    `json:"progress"`
	RetryMessage string `json:"retryMessage,omitempty"`
	// Form - поля, с которыми запущена генерация.
	Form *normalizer.Fields `json:"form,omitempty"`
}

type transientEntry struct {
	state TransientState
	once  sync.Once
}

// transientRegistry хранит временное состояние активных генераций.
// Запись удаляется ровно один раз, когда фоновая задача завершилась.
type transientRegistry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*transientEntry
	onReset func(jobID uuid.UUID, final TransientState)
}

func newTransientRegistry() *transientRegistry {
	return &transientRegistry{entries: make(map[uuid.UUID]*transientEntry)}
}

func (r *transientRegistry) begin(jobID uuid.UUID, fields normalizer.Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[jobID]; ok {
		return
	}
	r.entries[jobID] = &transientEntry{
		state: TransientState{Active: true, Form: &fields},
	}
}

func (r *transientRegistry) setRetryMessage(jobID uuid.UUID, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[jobID]; ok {
		e.state.RetryMessage = msg
	}
}

// setProgress не уменьшает прогресс: обновления канала могут прийти позже записи оркестратора.
func (r *transientRegistry) setProgress(jobID uuid.UUID, progress int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[jobID]; ok && progress > e.state.Progress {
		e.state.Progress = progress
	}
}

func (r *transientRegistry) get(jobID uuid.UUID) TransientState {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jobID]
	if !ok {
		return TransientState{}
	}
	state := e.state
	if state.Form != nil {
		form := *state.Form
		state.Form = &form
	}
	return state
}

// reset очищает форму, прогресс и сообщение о ретрае. Повторные вызовы ничего не делают.
func (r *transientRegistry) reset(jobID uuid.UUID) {
	r.mu.Lock()
	e, ok := r.entries[jobID]
	r.mu.Unlock()
	if !ok {
		return
	}
	e.once.Do(func() {
		r.mu.Lock()
		final := e.state
		e.state = TransientState{}
		delete(r.entries, jobID)
		onReset := r.onReset
		r.mu.Unlock()
		if onReset != nil {
			onReset(jobID, final)
		}
	})
}
