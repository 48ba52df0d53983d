// Package server provides the HTTP API for pricematch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/openbid/pricematch/internal/config"
	"github.com/openbid/pricematch/internal/engine"
	"github.com/openbid/pricematch/internal/files"
	"github.com/openbid/pricematch/internal/session"
)

// Server is the HTTP server for the pricematch API.
type Server struct {
	engine   *engine.Engine
	files    *files.Manager
	sessions session.Store
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	eng *engine.Engine,
	fileManager *files.Manager,
	sessions session.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   eng,
		files:    fileManager,
		sessions: sessions,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the chi router with all API routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Embedding large spreadsheets can take a while.
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/files", s.handleFileUpload)
	r.Get("/api/v1/files", s.handleFileList)
	r.Delete("/api/v1/files/{id}", s.handleFileDelete)
	r.Post("/api/v1/compare", s.handleCompare)
	r.Get("/api/v1/sessions/{id}", s.handleGetSession)
	r.Delete("/api/v1/sessions/{id}", s.handleDeleteSession)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
