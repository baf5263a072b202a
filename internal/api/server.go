package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rentchain/internal/lifecycle"
	"rentchain/internal/models"
	"rentchain/internal/storage"
)

// Lifecycle is the slice of the coordinator the HTTP layer drives.
// Satisfied by *lifecycle.Coordinator.
type Lifecycle interface {
	Deploy(ctx context.Context, req lifecycle.DeployRequest) (*models.Listing, error)
	Activate(ctx context.Context, listingID string) (*models.Listing, error)
	Terminate(ctx context.Context, listingID string) (*models.Listing, error)
	Reconcile(ctx context.Context, listingID string) (*models.Listing, error)
}

// AgreementReader fetches the live on-chain view of an agreement
type AgreementReader interface {
	FetchView(ctx context.Context, contractAddress common.Address) (*models.AgreementView, error)
}

// Server provides the HTTP API for listings, lifecycle operations, and
// operational endpoints
type Server struct {
	httpServer  *http.Server
	engine      *gin.Engine
	store       storage.Repository
	coordinator Lifecycle
	reader      AgreementReader
	port        int
}

// NewServer creates a new API server
func NewServer(store storage.Repository, coordinator Lifecycle, reader AgreementReader, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		engine:      engine,
		store:       store,
		coordinator: coordinator,
		reader:      reader,
		port:        port,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     engine,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.GET("/listings", s.handleListListings)
		api.GET("/listings/:id", s.handleGetListing)
		api.GET("/listings/:id/agreement", s.handleGetAgreement)
		api.GET("/owners/:owner/listings", s.handleListByOwner)

		api.POST("/listings", s.handleDeploy)
		api.POST("/listings/:id/activate", s.handleActivate)
		api.POST("/listings/:id/terminate", s.handleTerminate)
		api.POST("/listings/:id/reconcile", s.handleReconcile)
	}
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	slog.Info("API server starting", "port", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, draining in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs one line per request in the service's slog format
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
