package service

import (
	"context"
	"sync"

	"storyteller-server/internal/model"
	"storyteller-server/internal/subscriber"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// jobWatcher - подписка оркестратора на собственную задачу. На конечном статусе
// отписывается; на failed удаляет задачу.
type jobWatcher struct {
	o       *Orchestrator
	jobID   uuid.UUID
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	unsub   subscriber.Unsubscribe
	stopped bool

	reconcileOnce sync.Once
}

func (o *Orchestrator) startWatcher(ctx context.Context, ownerID string, jobID uuid.UUID) *jobWatcher {
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &jobWatcher{o: o, jobID: jobID, ctx: wctx, cancel: cancel}

	unsub, err := subscriber.Subscribe(wctx, o.live, jobID.String(), w.onUpdate)
	if err != nil {
		o.logger.Warn("Failed to watch job status",
			zap.String("ownerID", ownerID),
			zap.String("jobID", jobID.String()),
			zap.Error(err),
		)
		w.stop()
		return w
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		unsub()
		return w
	}
	w.unsub = unsub
	w.mu.Unlock()
	return w
}

// onUpdate выполняется внутри доставки канала: писать в канал отсюда нельзя.
func (w *jobWatcher) onUpdate(snap model.JobSnapshot) {
	w.o.transient.setProgress(w.jobID, snap.Progress)
	if !snap.Status.IsTerminal() {
		return
	}
	go w.stop()
	if snap.Status == model.StatusFailed {
		go w.reconcile()
	}
}

func (w *jobWatcher) reconcile() {
	w.reconcileOnce.Do(func() {
		w.o.removeFailedJob(w.ctx, w.jobID)
	})
}

// settle вызывается после завершения фоновой генерации.
func (w *jobWatcher) settle(context.Context) {
	w.reconcile()
	w.stop()
}

func (w *jobWatcher) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	unsub := w.unsub
	w.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	w.cancel()
}
