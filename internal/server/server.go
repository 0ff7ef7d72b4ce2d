// Package server provides the HTTP API for the memory service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hyperjump/omoide/internal/config"
	"github.com/hyperjump/omoide/internal/orchestrator"
	"github.com/hyperjump/omoide/internal/storage"
)

// Server is the HTTP server for the memory API. It also owns the background
// flush schedule so snapshot writes happen even when no client calls flush.
type Server struct {
	orch   *orchestrator.Orchestrator
	store  *storage.SQLiteStore
	config *config.Config
	logger *zap.Logger
	server *http.Server
	cron   *cron.Cron
}

// NewServer creates a server with the given dependencies.
func NewServer(
	orch *orchestrator.Orchestrator,
	store *storage.SQLiteStore,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		orch:   orch,
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Start starts the flush scheduler and the HTTP server, blocking until the
// server stops.
func (s *Server) Start() error {
	if schedule := s.config.Server.FlushSchedule; schedule != "" {
		s.cron = cron.New()
		_, err := s.cron.AddFunc(schedule, func() {
			if err := s.orch.LongTerm().Flush(); err != nil {
				s.logger.Error("scheduled flush failed", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("invalid flush schedule %q: %w", schedule, err)
		}
		s.cron.Start()
		s.logger.Info("flush schedule active", zap.String("schedule", schedule))
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/store", s.handleStore)
	r.Post("/retrieve", s.handleRetrieve)
	r.Post("/clear", s.handleClear)
	r.Get("/health", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)
	r.Post("/api/v1/flush", s.handleFlush)
	return r
}

// Stop stops the flush scheduler and gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
