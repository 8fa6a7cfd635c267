package handler

import (
	"net/http"

	"storyteller-server/internal/media"
	"storyteller-server/internal/normalizer"
	"storyteller-server/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipartOverhead - запас на заголовки multipart сверх лимита файла.
const multipartOverhead = 1 << 20

func (h *StoryHandler) generateStory(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}

	var req normalizer.Fields
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body for generateStory", zap.String("ownerID", owner), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	created, err := h.jobs.CreateAndGenerate(c.Request.Context(), owner, req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, created)
}

func (h *StoryHandler) listStories(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	stories, err := h.stories.ListStories(c.Request.Context(), owner)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stories)
}

func (h *StoryHandler) suggestions(c *gin.Context) {
	c.JSON(http.StatusOK, h.suggest())
}

func (h *StoryHandler) getStory(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "story")
	if !ok {
		return
	}
	story, err := h.stories.GetStory(c.Request.Context(), owner, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

func (h *StoryHandler) deleteStory(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "story")
	if !ok {
		return
	}
	if err := h.stories.DeleteStory(c.Request.Context(), owner, id); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) uploadMedia(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "story")
	if !ok {
		return
	}
	kind, err := media.ParseKind(c.Query("kind"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, kind.MaxSize()+multipartOverhead)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.logger.Warn("Invalid media upload", zap.String("ownerID", owner), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "file is required and must fit the size limit"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	defer file.Close()

	obj, err := h.stories.AttachMedia(c.Request.Context(), owner, id, service.MediaUpload{
		Kind:        kind,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Body:        file,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, obj)
}

func (h *StoryHandler) getJob(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "job")
	if !ok {
		return
	}
	status, err := h.stories.JobStatus(c.Request.Context(), owner, id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
