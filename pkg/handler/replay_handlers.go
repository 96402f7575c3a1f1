package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dialectica/dialectica/pkg/db"
	"github.com/dialectica/dialectica/pkg/service"
)

// ReplayHandler serves the playback-control endpoints.
type ReplayHandler struct {
	replays *service.ReplayService
	logger  *slog.Logger
}

// NewReplayHandler creates a new replay handler.
func NewReplayHandler(replays *service.ReplayService, logger *slog.Logger) *ReplayHandler {
	return &ReplayHandler{replays: replays, logger: logger}
}

// RegisterRoutes registers the replay routes on the API group.
func (h *ReplayHandler) RegisterRoutes(api *gin.RouterGroup) {
	group := api.Group("/replays")
	{
		group.POST("", h.Open)
		group.GET(":id", h.Get)
		group.POST(":id/play", h.Play)
		group.POST(":id/pause", h.Pause)
		group.POST(":id/stop", h.Stop)
		group.POST(":id/seek", h.Seek)
		group.POST(":id/audio", h.SetAudio)
		group.POST(":id/narrated", h.Narrated)
		group.DELETE(":id", h.Close)
	}
}

type openReplayRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// Open loads a stored session into a new replay.
func (h *ReplayHandler) Open(c *gin.Context) {
	var req openReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	snap, err := h.replays.Open(c.Request.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to open replay", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open replay"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Get returns the current replay snapshot.
func (h *ReplayHandler) Get(c *gin.Context) {
	snap, err := h.replays.Get(c.Param("id"))
	if err != nil {
		c.JSON(replayStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Play starts or resumes playback.
func (h *ReplayHandler) Play(c *gin.Context) {
	h.control(c, h.replays.Play)
}

// Pause halts playback in place.
func (h *ReplayHandler) Pause(c *gin.Context) {
	h.control(c, h.replays.Pause)
}

// Stop halts playback and rewinds.
func (h *ReplayHandler) Stop(c *gin.Context) {
	h.control(c, h.replays.Stop)
}

type seekRequest struct {
	Index *int `json:"index" binding:"required"`
}

// Seek jumps to a message index.
func (h *ReplayHandler) Seek(c *gin.Context) {
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	if err := h.replays.Seek(c.Param("id"), *req.Index); err != nil {
		c.JSON(replayStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Seeked"})
}

type audioRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetAudio toggles narration-paced playback.
func (h *ReplayHandler) SetAudio(c *gin.Context) {
	var req audioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	if err := h.replays.SetAudio(c.Param("id"), *req.Enabled); err != nil {
		c.JSON(replayStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Audio updated"})
}

type narratedRequest struct {
	Token string `json:"token" binding:"required"`
}

// Narrated is the frontend's callback when speech synthesis finished one
// message.
func (h *ReplayHandler) Narrated(c *gin.Context) {
	var req narratedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	if err := h.replays.NarrationDone(c.Param("id"), req.Token); err != nil {
		c.JSON(replayStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Acknowledged"})
}

// Close removes the replay.
func (h *ReplayHandler) Close(c *gin.Context) {
	if err := h.replays.Close(c.Param("id")); err != nil {
		c.JSON(replayStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Replay closed"})
}

func (h *ReplayHandler) control(c *gin.Context, fn func(string) error) {
	if err := fn(c.Param("id")); err != nil {
		c.JSON(replayStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

func replayStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrReplayNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSeekOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
