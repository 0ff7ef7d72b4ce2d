package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/omoide/internal/embedding"
	"github.com/hyperjump/omoide/internal/models"
	"github.com/hyperjump/omoide/internal/orchestrator"
	"github.com/hyperjump/omoide/internal/skills"
	"github.com/hyperjump/omoide/internal/storage"
)

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req models.StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("store request", zap.String("memory_type", req.MemoryType))

	data, err := s.orch.Store(r.Context(), req)
	if err != nil {
		s.logger.Error("store failed", zap.String("memory_type", req.MemoryType), zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}

	// Persist eagerly so a crash right after the response loses nothing.
	// A failed flush is retried by the schedule; the store itself succeeded.
	if err := s.orch.LongTerm().Flush(); err != nil {
		s.logger.Error("post-store flush failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, models.APIResponse{Status: "ok", Data: data})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req models.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("retrieve request", zap.String("memory_type", req.MemoryType))

	data, err := s.orch.Retrieve(r.Context(), req)
	if err != nil {
		s.logger.Error("retrieve failed", zap.String("memory_type", req.MemoryType), zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.APIResponse{Status: "ok", Data: data})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req models.ClearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.orch.Clear(r.Context(), req); err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.APIResponse{Status: "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.CountRecords(r.Context())
	if err != nil {
		s.logger.Error("status: count records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	indexSize, mapped := s.orch.LongTerm().Size()
	diskUsage := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.IndexSnapshotPath,
		s.config.Storage.PositionMapPath,
	)
	if s.config.Keyword.Enabled {
		diskUsage += storage.DirUsageBytes(s.config.Storage.KeywordIndexPath)
	}
	s.respondJSON(w, http.StatusOK, models.APIResponse{Status: "ok", Data: map[string]any{
		"records":          records,
		"index_size":       indexSize,
		"mapped_positions": mapped,
		"dirty":            s.orch.LongTerm().Dirty(),
		"disk_usage_bytes": diskUsage,
	}})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.LongTerm().Flush(); err != nil {
		s.logger.Error("flush failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.APIResponse{Status: "ok"})
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownMemoryType),
		errors.Is(err, orchestrator.ErrMissingParam),
		errors.Is(err, skills.ErrInvalidParams),
		errors.Is(err, skills.ErrSkillsImmutable),
		errors.Is(err, embedding.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, skills.ErrUnknownSkill),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, embedding.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, models.APIResponse{Status: "error", Error: message})
}
