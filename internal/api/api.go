// Package api provides the HTTP API server for the tabscope collector.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	v1 "tabscope/internal/api/v1"
	internalconfig "tabscope/internal/config"
	"tabscope/internal/db"
	"tabscope/internal/db/repositories"
	"tabscope/internal/logging"
)

type Server struct {
	cfg        *internalconfig.Config
	db         db.Database
	repos      *repositories.Repositories
	httpServer *http.Server
}

func New(cfg *internalconfig.Config, database db.Database) *Server {
	return &Server{
		cfg:   cfg,
		db:    database,
		repos: repositories.New(database),
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	// Enable CORS; the capture shim posts from arbitrary origins.
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check endpoint
	router.GET("/health", s.healthCheck)

	handlers := v1.NewAPIHandlers(s.repos)
	handlers.RegisterRoutes(&router.RouterGroup)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.APIPort),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("API server error: %v", err)
		}
	}()

	logging.Info("Collector API listening on :%d", s.cfg.APIPort)

	// Wait for context cancellation
	<-ctx.Done()

	logging.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Health check endpoint
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "tabscope-api",
	})
}
