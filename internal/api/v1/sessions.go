package v1

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tabscope/internal/services"
	"tabscope/pkg/models"
)

// registerSessionRoutes registers the session lifecycle routes
func (h *APIHandlers) registerSessionRoutes(router *gin.RouterGroup) {
	sessionGroup := router.Group("/sessions")
	sessionGroup.POST("", h.createSession)
	sessionGroup.POST("/:sessionId/end", h.endSession)
	sessionGroup.GET("/:sessionId", h.getSession)
	sessionGroup.GET("", h.listActiveSessions)
}

type createSessionRequest struct {
	SessionID string                 `json:"sessionId"`
	UserID    string                 `json:"userId"`
	Platform  string                 `json:"platform"`
	URL       string                 `json:"url"`
	Hostname  string                 `json:"hostname"`
	StartTime *time.Time             `json:"startTime"`
	Metadata  models.SessionMetadata `json:"metadata"`
}

// createSession registers a capture session. Recreating an existing session
// is a no-op so flush and registration can race safely.
func (h *APIHandlers) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid session payload"})
		return
	}

	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	if req.UserID == "" {
		req.UserID = models.AnonymousUser
	}
	if req.Platform == "" {
		req.Platform = "web"
	}
	if req.Hostname == "" && req.URL != "" {
		req.Hostname = services.DomainFromURL(req.URL)
	}
	startTime := time.Now()
	if req.StartTime != nil {
		startTime = *req.StartTime
	}

	session := &models.Session{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Platform:  req.Platform,
		URL:       req.URL,
		Hostname:  req.Hostname,
		StartTime: startTime,
		Status:    models.SessionActive,
		Metadata:  req.Metadata,
	}
	if err := h.repos.Sessions.Create(session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"message":   "Session created",
		"sessionId": session.SessionID,
	})
}

type endSessionRequest struct {
	EndTime *time.Time `json:"endTime"`
}

// endSession closes a session and returns the final row. Ending a session
// twice keeps the original end time.
func (h *APIHandlers) endSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	// An empty body is fine, the end time defaults to now.
	var req endSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid end payload"})
			return
		}
	}
	endTime := time.Now()
	if req.EndTime != nil {
		endTime = *req.EndTime
	}

	session, err := h.repos.Sessions.End(sessionID, endTime)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to end session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
	})
}

func (h *APIHandlers) getSession(c *gin.Context) {
	session, err := h.repos.Sessions.Get(c.Param("sessionId"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to query session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": session,
	})
}

func (h *APIHandlers) listActiveSessions(c *gin.Context) {
	sessions, err := h.repos.Sessions.ListActive()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to query sessions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": sessions,
		"count":    len(sessions),
	})
}
