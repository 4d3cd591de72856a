package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"go.uber.org/zap"
)

// retrieveRequest is a Query with optional multi-cue input. When Cues is set
// the cues are embedded and combined into the query vector.
type retrieveRequest struct {
	models.Query
	Cues    []string  `json:"cues,omitempty"`
	Weights []float64 `json:"weights,omitempty"`
}

type searchRequest struct {
	OwnerID string        `json:"owner_id"`
	Query   string        `json:"query"`
	Options *models.Query `json:"options,omitempty"`
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var input models.RecordInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("remember request", zap.String("owner", input.OwnerID), zap.String("platform", string(input.Platform)))
	rec, err := s.recorder.Remember(r.Context(), &input)
	if err != nil {
		s.fail(w, "remember", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.storage.GetByID(r.Context(), id)
	if err != nil {
		s.fail(w, "get memory", err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (*models.Query, bool) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := s.checkLimit(req.Limit); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	q := req.Query
	if len(req.Cues) > 0 {
		emb, err := s.engine.EmbedCues(r.Context(), req.Cues, req.Weights)
		if err != nil {
			s.fail(w, "embed cues", err)
			return nil, false
		}
		q.Embedding = emb
	}
	s.logger.Debug("retrieve request",
		zap.String("owner", q.OwnerID),
		zap.Int("limit", q.Limit),
		zap.Bool("text", q.Text != ""),
		zap.Int("cues", len(req.Cues)))
	return &q, true
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	results, err := s.engine.Retrieve(r.Context(), q)
	if err != nil {
		s.fail(w, "retrieve", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleRetrieveContext(w http.ResponseWriter, r *http.Request) {
	q, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	res, err := s.engine.RetrieveWithContext(r.Context(), q)
	if err != nil {
		s.fail(w, "retrieve with context", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Options != nil {
		if err := s.checkLimit(req.Options.Limit); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.logger.Debug("search request", zap.String("owner", req.OwnerID), zap.String("query", req.Query))
	results, err := s.engine.HybridSearch(r.Context(), req.OwnerID, req.Query, req.Options)
	if err != nil {
		s.fail(w, "hybrid search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "ownerID")
	var window time.Duration
	if v := r.URL.Query().Get("hours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours < 0 {
			s.respondError(w, http.StatusBadRequest, "hours must be a non-negative number")
			return
		}
		window = time.Duration(hours * float64(time.Hour))
	}
	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	if err := s.checkLimit(limit); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.engine.Recent(r.Context(), owner, window, limit)
	if err != nil {
		s.fail(w, "recent", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"memories": recs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.storage.Count(r.Context())
	if err != nil {
		s.logger.Error("status: count memories failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	opts := s.engine.Options()
	resp := map[string]interface{}{
		"memories": count,
		"config": map[string]interface{}{
			"storage_backend":     s.config.Storage.Backend,
			"embedding_provider":  s.config.Embedding.Provider,
			"embedding_dims":      s.config.Embedding.Dimensions,
			"default_limit":       opts.DefaultLimit,
			"default_threshold":   opts.DefaultThreshold,
			"max_limit":           s.maxLimit.Load(),
			"context_window":      opts.ContextWindow,
			"keyword_window":      opts.KeywordWindow,
			"context_concurrency": opts.ContextConcurrency,
		},
	}
	if s.config.Storage.Backend == config.BackendSQLite {
		if size, err := storage.DatabaseSizeBytes(s.config.Storage.DatabasePath); err == nil {
			resp["disk_usage_bytes"] = size
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) checkLimit(limit int) error {
	if ceiling := s.maxLimit.Load(); ceiling > 0 && int64(limit) > ceiling {
		return fmt.Errorf("limit %d exceeds maximum %d", limit, ceiling)
	}
	return nil
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidQuery), errors.Is(err, models.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
