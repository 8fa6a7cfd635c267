package handler

import (
	"context"
	"time"

	"storyteller-server/internal/model"
	"storyteller-server/internal/subscriber"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// От клиента ожидаются только control-фреймы.
	maxMessageSize = 512
)

// streamJob отправляет клиенту каждый объединенный снимок задачи. Соединение закрывается
// после конечного статуса или при отключении клиента; генерация при этом продолжается.
func (h *StoryHandler) streamJob(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "job")
	if !ok {
		return
	}
	// Проверка владельца до апгрейда, чтобы ответить обычным 404
	job, err := h.stories.JobStatus(c.Request.Context(), owner, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade job stream", zap.String("jobID", id.String()), zap.Error(err))
		return
	}
	log := h.logger.With(zap.String("ownerID", owner), zap.String("jobID", id.String()))
	log.Debug("Job stream opened")
	defer func() {
		_ = conn.Close()
		log.Debug("Job stream closed")
	}()

	// Канал уже мог быть очищен: конечный статус берем из записи задачи
	if job.Status.IsTerminal() {
		snap := model.JobSnapshot{Status: job.Status, Progress: job.Progress}
		if job.Error != nil {
			snap.Error = *job.Error
		}
		_ = writeSnapshot(conn, snap)
		closeNormal(conn)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	// Один слот с последним снимком: колбэк подписки не должен блокироваться
	updates := make(chan model.JobSnapshot, 1)
	unsubscribe, err := subscriber.Subscribe(ctx, h.live, id.String(), func(snap model.JobSnapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	if err != nil {
		log.Error("Failed to subscribe to job status", zap.Error(err))
		closeWith(conn, websocket.CloseInternalServerErr, "subscription failed")
		return
	}
	defer unsubscribe()

	go readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if err := writeSnapshot(conn, snap); err != nil {
				log.Debug("Job stream write failed", zap.Error(err))
				return
			}
			if snap.Status.IsTerminal() {
				unsubscribe()
				closeNormal(conn)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump читает только control-фреймы и отменяет ctx при отключении клиента.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap model.JobSnapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap)
}

func closeNormal(conn *websocket.Conn) {
	closeWith(conn, websocket.CloseNormalClosure, "")
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
