// Package server provides the HTTP API for Kagami.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/indexer"
	"github.com/hyperjump/kagami/internal/sandbox"
	"github.com/hyperjump/kagami/internal/search"
	"github.com/hyperjump/kagami/internal/vector"
)

// WatchService manages the watched directories at runtime.
type WatchService interface {
	Directories() []config.WatchDirectory
	AddDirectory(dir config.WatchDirectory, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the Kagami API.
type Server struct {
	cfg          *config.Config
	sandbox      *sandbox.Sandbox
	store        vector.Store
	indexer      *indexer.Indexer
	orchestrator *search.Orchestrator
	logger       *zap.Logger
	watch        WatchService // nil when watching is disabled
	configPath   string       // when set, watch changes are saved here
	configMu     sync.Mutex
	server       *http.Server
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(
	cfg *config.Config,
	sb *sandbox.Sandbox,
	store vector.Store,
	idx *indexer.Indexer,
	orch *search.Orchestrator,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		sandbox:      sb,
		store:        store,
		indexer:      idx,
		orchestrator: orch,
		logger:       logger,
		watch:        watch,
		configPath:   configPath,
	}
}

// Handler returns the router with every route and middleware installed.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	if s.cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/collections", s.handleCollections)
	r.Post("/index", s.handleIndex)

	r.Get("/search", s.handleSearchGet)
	r.Post("/search", s.handleSearch)
	r.Post("/search/batch", s.handleSearchBatch)
	r.Get("/search/similar", s.handleSearchSimilar)
	r.Post("/search/by-image", s.handleSearchByImage)
	r.Get("/files", s.handleFiles)

	r.Get("/watch/directories", s.handleWatchDirectoriesList)
	r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
	r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
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
