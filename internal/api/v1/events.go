package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tabscope/internal/db/repositories"
	"tabscope/pkg/models"
)

// registerEventRoutes registers the raw event routes
func (h *APIHandlers) registerEventRoutes(router *gin.RouterGroup) {
	eventGroup := router.Group("/events")
	eventGroup.POST("/batch", h.createEventBatch)
	eventGroup.GET("", h.listEvents)
}

type eventBatchRequest struct {
	SessionID string          `json:"sessionId"`
	Events    []*models.Event `json:"events"`
}

// createEventBatch ingests a flushed event batch and folds its aggregates
// into the owning session. Session id resolution mirrors the context batch:
// explicit id, then the first event's, then a fresh UUID.
func (h *APIHandlers) createEventBatch(c *gin.Context) {
	var req eventBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid event batch payload"})
		return
	}
	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "events array is required"})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		for _, e := range req.Events {
			if e.SessionID != "" {
				sessionID = e.SessionID
				break
			}
		}
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	if err := h.ingest.IngestEvents(sessionID, req.Events); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to store event batch"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"message":   "Event batch stored",
		"sessionId": sessionID,
		"count":     len(req.Events),
	})
}

// listEvents returns the most recent events, filtered and capped.
func (h *APIHandlers) listEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	events, err := h.repos.Events.List(repositories.EventFilter{
		SessionID: c.Query("sessionId"),
		Type:      c.Query("type"),
		Limit:     limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to query events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"events":  events,
		"count":   len(events),
	})
}
