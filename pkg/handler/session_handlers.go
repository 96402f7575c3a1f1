package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dialectica/dialectica/pkg/db"
	"github.com/dialectica/dialectica/pkg/event"
)

// SessionHandler serves the stored-session endpoints.
type SessionHandler struct {
	store   db.SessionStore
	emitter *event.Emitter
	logger  *slog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store db.SessionStore, emitter *event.Emitter, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{store: store, emitter: emitter, logger: logger}
}

// RegisterRoutes registers the session routes on the API group.
func (h *SessionHandler) RegisterRoutes(api *gin.RouterGroup) {
	group := api.Group("/sessions")
	{
		group.GET("", h.List)
		group.GET(":id", h.Get)
		group.DELETE(":id", h.Delete)
	}
}

// List returns all stored sessions, oldest first.
func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// Get returns one stored session.
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to get session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get session"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// Delete removes a stored session.
func (h *SessionHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to delete session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session"})
		return
	}
	h.emitter.Emit(event.SessionDeletedEvent{SessionID: id})
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}
