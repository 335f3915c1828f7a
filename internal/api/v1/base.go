package v1

import (
	"github.com/gin-gonic/gin"

	"tabscope/internal/db/repositories"
	"tabscope/internal/services"
)

// APIHandlers bundles the collector's HTTP handlers. The actual handler
// implementations are split across files:
//
// - contexts.go: context ingest, history, session summaries, statistics, cleanup
// - events.go: raw event batch ingest and queries
// - sessions.go: session lifecycle
type APIHandlers struct {
	repos  *repositories.Repositories
	ingest *services.IngestService
}

func NewAPIHandlers(repos *repositories.Repositories) *APIHandlers {
	return &APIHandlers{
		repos:  repos,
		ingest: services.NewIngestService(repos),
	}
}

// RegisterRoutes attaches every handler to the router group.
func (h *APIHandlers) RegisterRoutes(router *gin.RouterGroup) {
	h.registerContextRoutes(router)
	h.registerEventRoutes(router)
	h.registerSessionRoutes(router)
}
