// Package api implements the HTTP surface: turn streaming, conversation
// access, project files, search and view previews.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"conclave/internal/api/middleware"
	"conclave/internal/config"
	"conclave/internal/filestore"
	"conclave/internal/indexer"
	"conclave/internal/logging"
	"conclave/internal/orchestrator"
	"conclave/internal/search"
	"conclave/internal/store"
)

// Server bundles the handler dependencies.
type Server struct {
	config       *config.Config
	store        *store.Store
	files        *filestore.FileStore
	indexer      *indexer.Indexer
	search       *search.Service
	orchestrator *orchestrator.Orchestrator
	logger       logging.Logger
	startTime    time.Time
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, st *store.Store, files *filestore.FileStore,
	idx *indexer.Indexer, searchSvc *search.Service, orch *orchestrator.Orchestrator,
	logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.WithComponent("api")
	}
	return &Server{
		config:       cfg,
		store:        st,
		files:        files,
		indexer:      idx,
		search:       searchSvc,
		orchestrator: orch,
		logger:       logger,
		startTime:    time.Now(),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestSize(s.config.Storage.MaxUploadBytes * 2))
	r.Use(middleware.CORS)
	r.Use(middleware.RequestLogger(s.logger))

	r.Get("/health", s.handleHealth)

	r.Post("/turn", s.handleTurn)
	r.Post("/preview-view", s.handlePreviewView)

	r.Route("/conversations/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetConversation)
		r.Get("/export", s.handleExportConversation)
		r.Post("/autosave", s.handleAutoSave)
	})

	r.Route("/projects/{id}", func(r chi.Router) {
		r.Post("/files", s.handleUploadFile)
		r.Get("/files", s.handleListFiles)
		r.Get("/files/{file_id}", s.handleGetFile)
		r.Delete("/files/{file_id}", s.handleDeleteFile)
		r.Post("/search", s.handleSearch)
		r.Post("/reindex", s.handleReindex)
	})

	return r
}
