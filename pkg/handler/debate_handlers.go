// Package handler exposes the HTTP API.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dialectica/dialectica/pkg/models"
	"github.com/dialectica/dialectica/pkg/service"
)

// DebateHandler serves the live-debate endpoints.
type DebateHandler struct {
	debates *service.DebateService
	logger  *slog.Logger
}

// NewDebateHandler creates a new debate handler.
func NewDebateHandler(debates *service.DebateService, logger *slog.Logger) *DebateHandler {
	return &DebateHandler{debates: debates, logger: logger}
}

// RegisterRoutes registers the debate routes on the API group.
func (h *DebateHandler) RegisterRoutes(api *gin.RouterGroup) {
	group := api.Group("/debates")
	{
		group.POST("", h.Create)
		group.GET(":id", h.Get)
		group.POST(":id/start", h.Start)
		group.POST(":id/conclude", h.Conclude)
		group.DELETE(":id", h.Delete)
	}
}

type createDebateRequest struct {
	Topic        string                `json:"topic" binding:"required"`
	Participants []models.PersonaInput `json:"participants" binding:"required"`
}

// Create generates personas for the topic and registers an idle debate.
func (h *DebateHandler) Create(c *gin.Context) {
	var req createDebateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	snap, err := h.debates.Create(c.Request.Context(), req.Topic, req.Participants)
	if err != nil {
		if errors.Is(err, service.ErrMalformedPersona) {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to create debate", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Get returns the current debate snapshot.
func (h *DebateHandler) Get(c *gin.Context) {
	snap, err := h.debates.Get(c.Param("id"))
	if err != nil {
		c.JSON(debateStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Start launches the countdown and turn scheduler.
func (h *DebateHandler) Start(c *gin.Context) {
	if err := h.debates.Start(c.Param("id")); err != nil {
		c.JSON(debateStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Debate started"})
}

// Conclude stops turn scheduling and synthesizes the conclusion.
func (h *DebateHandler) Conclude(c *gin.Context) {
	if err := h.debates.Conclude(c.Param("id")); err != nil {
		c.JSON(debateStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Debate concluding"})
}

// Delete cancels a debate and drops it from the registry.
func (h *DebateHandler) Delete(c *gin.Context) {
	if err := h.debates.Delete(c.Param("id")); err != nil {
		c.JSON(debateStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Debate deleted"})
}

func debateStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrDebateNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDebateNotIdle), errors.Is(err, service.ErrAlreadyConcluding):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
