package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/promptindex"
	"github.com/hyperjump/atsume/internal/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Error("status: count records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byModel, err := s.store.CountByModel(ctx)
	if err != nil {
		s.logger.Error("status: count by model failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"records":          total,
		"records_by_model": byModel,
	}
	if s.index != nil {
		if n, err := s.index.DocCount(); err == nil {
			resp["indexed"] = n
		}
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"database_path": s.config.Storage.DatabasePath,
			"index_path":    s.config.Storage.IndexPath,
			"fetch_mode":    s.config.Fetch.Mode,
			"embedding":     s.config.Embedding.Provider,
		}
		if bytes, err := storage.DiskUsageBytes(s.config.Storage.DatabasePath, s.config.Storage.IndexPath); err == nil {
			resp["disk_usage_bytes"] = bytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	opts := storage.ListOptions{
		ModelID:       q.Get("model_id"),
		Offset:        offset,
		Limit:         limit,
		Uncategorized: q.Get("uncategorized") == "true",
	}
	records, err := s.store.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"offset":  offset,
		"limit":   limit,
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		s.logger.Error("get record failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	modelID := r.URL.Query().Get("model_id")
	counts, err := s.store.CategoryCounts(r.Context(), modelID)
	if err != nil {
		s.logger.Error("category counts failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if counts == nil {
		counts = []storage.CategoryCount{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"model_id":   modelID,
		"categories": counts,
	})
}

// searchRequest is the POST /api/v1/search body.
type searchRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	ModelID  string `json:"model_id"`
	Category string `json:"category"`
	Fuzzy    bool   `json:"fuzzy"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.respondError(w, http.StatusNotImplemented, "search index not enabled")
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("limit", req.Limit))
	hits, err := s.index.Search(r.Context(), req.Query, promptindex.SearchOptions{
		Limit:    req.Limit,
		ModelID:  req.ModelID,
		Category: req.Category,
		Fuzzy:    req.Fuzzy,
	})
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{"query": req.Query, "hits": hits}
	if len(hits) == 0 {
		if sugg, err := s.index.Suggest(r.Context(), req.Query, 3); err == nil && len(sugg) > 0 {
			resp["suggestions"] = sugg
		}
	}
	if hits == nil {
		resp["hits"] = []promptindex.Hit{}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
