// Package server provides the HTTP API for kioku.
package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/recorder"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/pkg/utils"
	"go.uber.org/zap"
)

// Server is the HTTP server for the kioku API.
type Server struct {
	engine   *search.Engine
	recorder *recorder.Recorder
	storage  storage.Store
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server

	maxLimit atomic.Int64
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	rec *recorder.Recorder,
	store storage.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		engine:   engine,
		recorder: rec,
		storage:  store,
		config:   cfg,
		logger:   utils.OrNop(logger),
	}
	s.SetMaxLimit(cfg.Search.MaxLimit)
	return s
}

// SetMaxLimit changes the largest result limit a request may ask for.
// Zero or less disables the check.
func (s *Server) SetMaxLimit(n int) {
	s.maxLimit.Store(int64(n))
}

// Routes builds the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/memories", s.handleRemember)
		r.Get("/memories/{id}", s.handleGetMemory)
		r.Post("/retrieve", s.handleRetrieve)
		r.Post("/retrieve/context", s.handleRetrieveContext)
		r.Post("/search", s.handleSearch)
		r.Get("/owners/{ownerID}/recent", s.handleRecent)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
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
