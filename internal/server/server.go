// Package server provides the HTTP API for dataforge.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/dataforge/internal/config"
	"github.com/hyperjump/dataforge/internal/export"
	"github.com/hyperjump/dataforge/internal/keyword"
	"github.com/hyperjump/dataforge/internal/pipeline"
	"github.com/hyperjump/dataforge/internal/storage"
	"go.uber.org/zap"
)

// readTimeout bounds requests that never call the model.
const readTimeout = 60 * time.Second

// Server is the HTTP server for the dataforge API.
type Server struct {
	orch     *pipeline.Orchestrator
	storage  storage.Storage
	index    keyword.Index // optional
	exporter *export.Exporter
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. index may be nil, in which case
// search returns 501.
func NewServer(
	orch *pipeline.Orchestrator,
	storage storage.Storage,
	index keyword.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		orch:     orch,
		storage:  storage,
		index:    index,
		exporter: export.NewExporter(storage, export.WithLogger(logger)),
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1/projects", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(readTimeout))
			r.Use(middleware.Compress(5))
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)
			r.Get("/{projectID}", s.handleGetProject)
			r.Delete("/{projectID}", s.handleDeleteProject)
			r.Get("/{projectID}/status", s.handleStatus)
			r.Get("/{projectID}/documents", s.handleListDocuments)
			r.Get("/{projectID}/documents/{documentID}/toc", s.handleDocumentToc)
			r.Delete("/{projectID}/documents/{documentID}", s.handleDeleteDocument)
			r.Get("/{projectID}/chunks", s.handleListChunks)
			r.Post("/{projectID}/search", s.handleSearch)
			r.Get("/{projectID}/tags", s.handleTags)
			r.Get("/{projectID}/questions", s.handleListQuestions)
			r.Get("/{projectID}/records", s.handleListRecords)
			r.Get("/{projectID}/records/{recordID}", s.handleGetRecord)
			r.Patch("/{projectID}/records/{recordID}", s.handleUpdateRecord)
			r.Post("/{projectID}/records/{recordID}/confirm", s.handleConfirmRecord)
			r.Delete("/{projectID}/records/{recordID}", s.handleDeleteRecord)
			r.Get("/{projectID}/export", s.handleExport)
		})

		// Model-backed routes run as long as the model takes; the client's own timeout applies.
		r.Post("/{projectID}/documents", s.handleUploadDocument)
		r.Post("/{projectID}/questions/generate", s.handleGenerateQuestions)
		r.Post("/{projectID}/questions/label", s.handleLabelQuestions)
		r.Post("/{projectID}/answers", s.handleGenerateAnswers)
		r.Post("/{projectID}/records/{recordID}/refine", s.handleRefineRecord)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
