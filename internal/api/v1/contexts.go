package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tabscope/internal/db/repositories"
	"tabscope/internal/services"
	"tabscope/pkg/models"
)

// registerContextRoutes registers the context store routes
func (h *APIHandlers) registerContextRoutes(router *gin.RouterGroup) {
	contextGroup := router.Group("/context")
	contextGroup.POST("", h.createContext)
	contextGroup.POST("/batch", h.createContextBatch)
	contextGroup.GET("/history", h.getContextHistory)
	contextGroup.GET("/session/:sessionId", h.getSessionContexts)
	contextGroup.GET("/statistics", h.getContextStatistics)
	contextGroup.DELETE("/cleanup", h.cleanupContexts)
}

// createContext stores a single context. A missing session id gets a fresh
// UUID and a missing domain is derived from the URL.
func (h *APIHandlers) createContext(c *gin.Context) {
	var context models.Context
	if err := c.ShouldBindJSON(&context); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid context payload"})
		return
	}
	if context.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "url is required"})
		return
	}
	if context.Type == "" {
		context.Type = models.ContextActivity
	}

	h.ingest.StampContext(&context)

	created, err := h.repos.Contexts.Create(&context)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to store context"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"message":   "Context stored",
		"contextId": created.ID,
	})
}

type contextBatchRequest struct {
	Contexts  []*models.Context `json:"contexts"`
	SessionID string            `json:"sessionId"`
}

// createContextBatch stores a batch of contexts under one resolved session
// id: explicit sessionId wins, then the first context's, then a new UUID.
func (h *APIHandlers) createContextBatch(c *gin.Context) {
	var req contextBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid batch payload"})
		return
	}
	if len(req.Contexts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "contexts array is required"})
		return
	}

	sessionID := services.ResolveSessionID(req.SessionID, req.Contexts)
	h.ingest.StampBatch(sessionID, req.Contexts)

	if err := h.repos.Contexts.CreateBatch(req.Contexts); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to store context batch"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"message":   "Context batch stored",
		"sessionId": sessionID,
		"count":     len(req.Contexts),
	})
}

// getContextHistory returns the most recent contexts, filtered and capped.
func (h *APIHandlers) getContextHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	contexts, err := h.repos.Contexts.History(repositories.HistoryFilter{
		SessionID: c.Query("sessionId"),
		UserID:    c.Query("userId"),
		Type:      c.Query("type"),
		Limit:     limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to query history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"contexts": contexts,
		"count":    len(contexts),
	})
}

type sessionSummary struct {
	StartTime     time.Time      `json:"startTime"`
	EndTime       time.Time      `json:"endTime"`
	Duration      int64          `json:"duration"` // milliseconds
	TotalContexts int            `json:"totalContexts"`
	Types         map[string]int `json:"types"`
	Domains       []string       `json:"domains"`
	URLs          []string       `json:"urls"`
	Platforms     []string       `json:"platforms"`
}

// getSessionContexts returns a session's contexts oldest first, plus a
// computed summary. 404 when the session has no contexts.
func (h *APIHandlers) getSessionContexts(c *gin.Context) {
	sessionID := c.Param("sessionId")

	contexts, err := h.repos.Contexts.ListBySession(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to query session"})
		return
	}
	if len(contexts) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "No contexts found for session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sessionId": sessionID,
		"contexts":  contexts,
		"summary":   summarize(contexts),
	})
}

func summarize(contexts []*models.Context) sessionSummary {
	summary := sessionSummary{
		StartTime:     contexts[0].Timestamp,
		EndTime:       contexts[len(contexts)-1].Timestamp,
		TotalContexts: len(contexts),
		Types:         make(map[string]int),
	}
	summary.Duration = summary.EndTime.Sub(summary.StartTime).Milliseconds()

	domains := map[string]bool{}
	urls := map[string]bool{}
	platforms := map[string]bool{}
	for _, context := range contexts {
		summary.Types[string(context.Type)]++
		if !domains[context.Domain] {
			domains[context.Domain] = true
			summary.Domains = append(summary.Domains, context.Domain)
		}
		if !urls[context.URL] {
			urls[context.URL] = true
			summary.URLs = append(summary.URLs, context.URL)
		}
		if !platforms[context.Platform] {
			platforms[context.Platform] = true
			summary.Platforms = append(summary.Platforms, context.Platform)
		}
	}
	return summary
}

// getContextStatistics aggregates contexts over a trailing window of days.
func (h *APIHandlers) getContextStatistics(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid days"})
			return
		}
		days = parsed
	}

	stats, err := h.repos.Contexts.Statistics(time.Now().AddDate(0, 0, -days))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to compute statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"days":       days,
		"statistics": stats,
	})
}

// cleanupContexts deletes contexts with a timestamp strictly before the
// cutoff. days=0 means everything before now.
func (h *APIHandlers) cleanupContexts(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid days"})
			return
		}
		days = parsed
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	deleted, err := h.repos.Contexts.DeleteOlderThan(cutoff)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to clean up contexts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"deleted": deleted,
	})
}
