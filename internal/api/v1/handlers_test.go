package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabscope/internal/db"
	"tabscope/internal/db/repositories"
	"tabscope/pkg/models"
)

func testRouter(t *testing.T) (*gin.Engine, *repositories.Repositories) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.NewTest(t)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	repos := repositories.New(database)
	router := gin.New()
	NewAPIHandlers(repos).RegisterRoutes(&router.RouterGroup)
	return router, repos
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestCreateContext(t *testing.T) {
	router, repos := testRouter(t)

	w, resp := doJSON(t, router, http.MethodPost, "/context", map[string]interface{}{
		"url":   "https://leetcode.com/problems/two-sum",
		"type":  "page_context",
		"title": "Two Sum",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.NotZero(t, resp["contextId"])

	stored, err := repos.Contexts.History(repositories.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "leetcode.com", stored[0].Domain, "domain derived from url")
	assert.Equal(t, models.AnonymousUser, stored[0].UserID)
	assert.NotEmpty(t, stored[0].SessionID)
}

func TestCreateContextRequiresURL(t *testing.T) {
	router, _ := testRouter(t)

	w, resp := doJSON(t, router, http.MethodPost, "/context", map[string]interface{}{
		"type": "activity",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["success"])
}

func TestCreateContextUnparseableURLDomain(t *testing.T) {
	router, repos := testRouter(t)

	w, _ := doJSON(t, router, http.MethodPost, "/context", map[string]interface{}{
		"url": "::not a url::",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	stored, err := repos.Contexts.History(repositories.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "unknown", stored[0].Domain)
}

func TestCreateContextBatchResolvesSession(t *testing.T) {
	router, repos := testRouter(t)

	// No explicit session id: the first context's id wins
	w, resp := doJSON(t, router, http.MethodPost, "/context/batch", map[string]interface{}{
		"contexts": []map[string]interface{}{
			{"url": "https://a.example.com", "sessionId": "from-first"},
			{"url": "https://b.example.com"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "from-first", resp["sessionId"])
	assert.Equal(t, float64(2), resp["count"])

	stored, err := repos.Contexts.ListBySession("from-first")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// Explicit session id overrides whatever the contexts carry
	_, resp = doJSON(t, router, http.MethodPost, "/context/batch", map[string]interface{}{
		"sessionId": "explicit",
		"contexts": []map[string]interface{}{
			{"url": "https://c.example.com", "sessionId": "ignored"},
		},
	})
	assert.Equal(t, "explicit", resp["sessionId"])
}

func TestCreateContextBatchRejectsEmpty(t *testing.T) {
	router, _ := testRouter(t)

	w, _ := doJSON(t, router, http.MethodPost, "/context/batch", map[string]interface{}{
		"contexts": []map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContextHistoryLimitAndOrder(t *testing.T) {
	router, repos := testRouter(t)
	now := time.Now()

	var batch []*models.Context
	for i := 0; i < 60; i++ {
		batch = append(batch, &models.Context{
			UserID:    models.AnonymousUser,
			SessionID: "s1",
			Type:      models.ContextActivity,
			URL:       fmt.Sprintf("https://example.com/%d", i),
			Domain:    "example.com",
			Platform:  "web",
			Timestamp: now.Add(time.Duration(i) * time.Second),
		})
	}
	require.NoError(t, repos.Contexts.CreateBatch(batch))

	w, resp := doJSON(t, router, http.MethodGet, "/context/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(50), resp["count"], "default limit")

	contexts := resp["contexts"].([]interface{})
	first := contexts[0].(map[string]interface{})
	assert.Equal(t, "https://example.com/59", first["url"], "newest first")

	_, resp = doJSON(t, router, http.MethodGet, "/context/history?limit=5", nil)
	assert.Equal(t, float64(5), resp["count"])

	w, _ = doJSON(t, router, http.MethodGet, "/context/history?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionContextsAndSummary(t *testing.T) {
	router, repos := testRouter(t)
	start := time.Now().Truncate(time.Second)

	title := "Two Sum"
	require.NoError(t, repos.Contexts.CreateBatch([]*models.Context{
		{
			UserID: models.AnonymousUser, SessionID: "s1", Type: models.ContextPageContext,
			URL: "https://leetcode.com/problems/two-sum", Domain: "leetcode.com",
			Title: &title, Platform: "Code Playground", Timestamp: start,
		},
		{
			UserID: models.AnonymousUser, SessionID: "s1", Type: models.ContextSelection,
			URL: "https://leetcode.com/problems/two-sum", Domain: "leetcode.com",
			Platform: "Code Playground", Timestamp: start.Add(30 * time.Second),
		},
		{
			UserID: models.AnonymousUser, SessionID: "s1", Type: models.ContextPageContext,
			URL: "https://github.com/golang/go", Domain: "github.com",
			Platform: "Tech Platform", Timestamp: start.Add(60 * time.Second),
		},
	}))

	w, resp := doJSON(t, router, http.MethodGet, "/context/session/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	contexts := resp["contexts"].([]interface{})
	require.Len(t, contexts, 3)
	oldest := contexts[0].(map[string]interface{})
	assert.Equal(t, "https://leetcode.com/problems/two-sum", oldest["url"], "oldest first")

	summary := resp["summary"].(map[string]interface{})
	assert.Equal(t, float64(3), summary["totalContexts"])
	assert.Equal(t, float64(60000), summary["duration"], "last minus first in milliseconds")

	types := summary["types"].(map[string]interface{})
	assert.Equal(t, float64(2), types["page_context"])
	assert.Equal(t, float64(1), types["selection"])

	assert.Len(t, summary["domains"].([]interface{}), 2, "domains deduped")
	assert.Len(t, summary["urls"].([]interface{}), 2)
	assert.Len(t, summary["platforms"].([]interface{}), 2)
}

func TestSessionContextsNotFound(t *testing.T) {
	router, _ := testRouter(t)

	w, resp := doJSON(t, router, http.MethodGet, "/context/session/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, resp["success"])
}

func TestContextStatisticsEndpoint(t *testing.T) {
	router, repos := testRouter(t)
	now := time.Now()

	require.NoError(t, repos.Contexts.CreateBatch([]*models.Context{
		{
			UserID: models.AnonymousUser, SessionID: "s1", Type: models.ContextPageContext,
			URL: "https://a.example.com", Domain: "a.example.com", Platform: "web",
			Timestamp: now,
		},
		{
			UserID: models.AnonymousUser, SessionID: "s1", Type: models.ContextPageContext,
			URL: "https://a.example.com", Domain: "a.example.com", Platform: "web",
			Timestamp: now.Add(-30 * 24 * time.Hour),
		},
	}))

	w, resp := doJSON(t, router, http.MethodGet, "/context/statistics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(7), resp["days"])

	stats := resp["statistics"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["total"], "default window is 7 days")

	_, resp = doJSON(t, router, http.MethodGet, "/context/statistics?days=60", nil)
	stats = resp["statistics"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["total"])
}

func TestCleanupContexts(t *testing.T) {
	router, repos := testRouter(t)
	now := time.Now()

	require.NoError(t, repos.Contexts.CreateBatch([]*models.Context{
		{
			UserID: models.AnonymousUser, SessionID: "s1", Type: models.ContextActivity,
			URL: "https://example.com", Domain: "example.com", Platform: "web",
			Timestamp: now.Add(-10 * 24 * time.Hour),
		},
		{
			UserID: models.AnonymousUser, SessionID: "s1", Type: models.ContextActivity,
			URL: "https://example.com", Domain: "example.com", Platform: "web",
			Timestamp: now,
		},
	}))

	w, resp := doJSON(t, router, http.MethodDelete, "/context/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["deleted"])

	// days=0 clears everything older than now
	_, resp = doJSON(t, router, http.MethodDelete, "/context/cleanup?days=0", nil)
	assert.Equal(t, float64(1), resp["deleted"])
}

func TestEventBatchUpdatesSession(t *testing.T) {
	router, repos := testRouter(t)

	w, _ := doJSON(t, router, http.MethodPost, "/sessions", map[string]interface{}{
		"sessionId": "s1",
		"url":       "https://leetcode.com",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := doJSON(t, router, http.MethodPost, "/events/batch", map[string]interface{}{
		"sessionId": "s1",
		"events": []map[string]interface{}{
			{"type": "input", "data": map[string]interface{}{"key": "Enter"}},
			{"type": "scroll", "data": map[string]interface{}{"behavior": "rapid_scroll"}},
			{"type": "click"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, float64(3), resp["count"])

	session, err := repos.Sessions.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), session.TotalEvents)
	assert.Equal(t, int64(1), session.InputEvents)
	assert.Equal(t, int64(1), session.ScrollEvents)

	_, resp = doJSON(t, router, http.MethodGet, "/events?sessionId=s1", nil)
	assert.Equal(t, float64(3), resp["count"])
}

func TestEventBatchResolvesMissingSession(t *testing.T) {
	router, _ := testRouter(t)

	// No session anywhere: one gets generated
	w, resp := doJSON(t, router, http.MethodPost, "/events/batch", map[string]interface{}{
		"events": []map[string]interface{}{{"type": "click"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, resp["sessionId"])

	// The first event's session id wins over nothing
	_, resp = doJSON(t, router, http.MethodPost, "/events/batch", map[string]interface{}{
		"events": []map[string]interface{}{{"type": "click", "sessionId": "from-event"}},
	})
	assert.Equal(t, "from-event", resp["sessionId"])
}

func TestEventBatchRequiresEvents(t *testing.T) {
	router, _ := testRouter(t)

	w, _ := doJSON(t, router, http.MethodPost, "/events/batch", map[string]interface{}{
		"sessionId": "s1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	router, _ := testRouter(t)

	w, resp := doJSON(t, router, http.MethodPost, "/sessions", map[string]interface{}{
		"url": "https://leetcode.com/problems/two-sum",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	sessionID := resp["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	w, resp = doJSON(t, router, http.MethodGet, "/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	session := resp["session"].(map[string]interface{})
	assert.Equal(t, "active", session["status"])
	assert.Equal(t, "leetcode.com", session["hostname"], "hostname derived from url")

	w, resp = doJSON(t, router, http.MethodPost, "/sessions/"+sessionID+"/end", nil)
	require.Equal(t, http.StatusOK, w.Code)
	session = resp["session"].(map[string]interface{})
	assert.Equal(t, "completed", session["status"])
	assert.NotNil(t, session["duration"])

	w, _ = doJSON(t, router, http.MethodGet, "/sessions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, router, http.MethodPost, "/sessions/ghost/end", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
