package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/tradedesk/services/deals/config"
	"example.com/tradedesk/services/deals/internal/metrics"
	"example.com/tradedesk/services/deals/internal/services"
	"example.com/tradedesk/services/deals/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	deals      *services.DealService
	refs       *services.ReferenceService
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, deals *services.DealService, refs *services.ReferenceService, m *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		config:  cfg,
		deals:   deals,
		refs:    refs,
		metrics: m,
		tracer:  tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: server.router,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	if s.config.CorsEnabled {
		router.Use(CORSMiddleware())
	}
	router.Use(LoggingMiddleware())

	// Unauthenticated operational endpoints
	router.GET("/health", s.healthCheck)
	router.GET("/metrics", s.getMetrics)

	// Every contract operation requires an acting principal
	authed := router.Group("", PrincipalMiddleware())

	authed.POST("/deals", s.createDeal)
	authed.GET("/deals", s.listDeals)
	authed.GET("/deals/search", s.searchDeals)
	authed.GET("/deals/:id", s.getDeal)
	authed.PATCH("/deals/:id", s.updateDeal)

	authed.GET("/references/:table", s.listReferences)
	authed.POST("/references/:table", s.writeReference)
	authed.GET("/references/:table/:key", s.getReference)
	authed.DELETE("/references/:table/:key", s.deleteReference)

	authed.GET("/schema/version", s.getSchemaVersion)
	authed.GET("/schema/versions", s.listSchemaVersions)
	authed.POST("/schema/version", s.appendSchemaVersion)

	return router
}

// healthCheck handles GET /health
func (s *Server) healthCheck(c *gin.Context) {
	checks := s.metrics.GetHealthChecks()

	healthy := true
	for _, status := range checks {
		if !status {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{"status": healthy, "details": checks})
}

// getMetrics handles GET /metrics
func (s *Server) getMetrics(c *gin.Context) {
	s.metrics.SetGauge("goroutines", int64(runtime.NumGoroutine()))
	c.JSON(http.StatusOK, s.metrics.GetAllMetrics())
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
