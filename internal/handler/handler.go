// Package handler - HTTP API историй и задач генерации на gin.
package handler

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/middleware"
	"storyteller-server/internal/model"
	"storyteller-server/internal/normalizer"
	"storyteller-server/internal/service"
	"storyteller-server/pkg/taskmanager"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// JobStarter запускает генерацию (*service.Orchestrator).
type JobStarter interface {
	CreateAndGenerate(ctx context.Context, ownerID string, input service.GenerationInput) (*service.CreatedJob, error)
}

// StoryService - операции над историями владельца (*service.StoryService).
type StoryService interface {
	GetStory(ctx context.Context, ownerID string, storyID uuid.UUID) (*model.Story, error)
	ListStories(ctx context.Context, ownerID string) ([]model.StorySummary, error)
	DeleteStory(ctx context.Context, ownerID string, storyID uuid.UUID) error
	AttachMedia(ctx context.Context, ownerID string, storyID uuid.UUID, upload service.MediaUpload) (*service.MediaObject, error)
	JobStatus(ctx context.Context, ownerID string, jobID uuid.UUID) (*service.JobStatus, error)
}

// StoryHandler обслуживает /api/v1/stories и /api/v1/jobs.
type StoryHandler struct {
	jobs    JobStarter
	stories StoryService
	live    interfaces.StatusChannel
	logger  *zap.Logger

	upgrader websocket.Upgrader

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option настраивает StoryHandler.
type Option func(*StoryHandler)

// WithAllowedOrigins ограничивает Origin для websocket. Пустой список разрешает все.
func WithAllowedOrigins(origins []string) Option {
	return func(h *StoryHandler) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// WithRand задает источник случайных подсказок.
func WithRand(r *rand.Rand) Option {
	return func(h *StoryHandler) { h.rand = r }
}

func NewStoryHandler(jobs JobStarter, stories StoryService, live interfaces.StatusChannel, logger *zap.Logger, opts ...Option) *StoryHandler {
	h := &StoryHandler{
		jobs:    jobs,
		stories: stories,
		live:    live,
		logger:  logger.Named("StoryHandler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rand: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes регистрирует маршруты в группе, уже защищенной middleware.Auth.
func (h *StoryHandler) RegisterRoutes(r gin.IRouter) {
	stories := r.Group("/stories")
	{
		stories.POST("/generate", h.generateStory)
		stories.GET("", h.listStories)
		stories.GET("/suggestions", h.suggestions)
		stories.GET("/:id", h.getStory)
		stories.DELETE("/:id", h.deleteStory)
		stories.POST("/:id/media", h.uploadMedia)
	}
	jobs := r.Group("/jobs")
	{
		jobs.GET("/:id", h.getJob)
		jobs.GET("/:id/stream", h.streamJob)
	}
}

func (h *StoryHandler) suggest() normalizer.Fields {
	h.randMu.Lock()
	defer h.randMu.Unlock()
	return normalizer.Suggest(h.rand)
}

// ownerFromContext прерывает запрос с 401, если владелец не установлен.
func ownerFromContext(c *gin.Context) (string, bool) {
	owner := middleware.OwnerID(c)
	if owner == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return "", false
	}
	return owner, true
}

func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " id"})
		return uuid.Nil, false
	}
	return id, true
}

// handleServiceError отображает ошибки сервиса в HTTP статус и {"error": "..."}.
func (h *StoryHandler) handleServiceError(c *gin.Context, err error) {
	var (
		status int
		msg    string
		vErr   *model.ValidationError
	)
	switch {
	case errors.As(err, &vErr):
		status, msg = http.StatusBadRequest, vErr.Error()
	case errors.Is(err, model.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, model.ErrStoryNotFound), errors.Is(err, model.ErrDocumentGone):
		status, msg = http.StatusNotFound, "Story not found"
	case errors.Is(err, model.ErrJobNotFound):
		status, msg = http.StatusNotFound, "Job not found"
	case errors.Is(err, model.ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrMediaDisabled), errors.Is(err, taskmanager.ErrTooManyTasks),
		errors.Is(err, taskmanager.ErrShuttingDown):
		status, msg = http.StatusServiceUnavailable, "Service temporarily unavailable"
	default:
		status, msg = http.StatusInternalServerError, "An unexpected internal error occurred"
		// попадет в лог GinZapLogger
		_ = c.Error(err)
	}
	if status < http.StatusInternalServerError {
		h.logger.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
