package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

type queryRequest struct {
	Question string `json:"question"`
}

// queryResponse carries the answer text, or null when nothing in the index matched.
type queryResponse struct {
	Data *string `json:"data"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	s.logger.Debug("query request", zap.String("question", req.Question))
	answer, err := s.engine.Ask(r.Context(), req.Question)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var resp queryResponse
	if answer.Matched {
		resp.Data = &answer.Text
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type documentRequest struct {
	Source   string            `json:"source"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" || req.Content == "" {
		s.respondError(w, http.StatusBadRequest, "source and content are required")
		return
	}
	s.logger.Debug("ingest document request", zap.String("source", req.Source), zap.Int("bytes", len(req.Content)))
	res, err := s.indexer.Ingest(r.Context(), models.Document{
		Source:   req.Source,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.logger.Error("ingestion failed", zap.String("source", req.Source), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRemoveDocument(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotImplemented, "ledger not enabled")
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		s.respondError(w, http.StatusBadRequest, "source is required")
		return
	}
	n, err := s.indexer.RemoveSource(r.Context(), source)
	if err != nil {
		s.logger.Error("removal failed", zap.String("source", source), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n == 0 {
		s.respondError(w, http.StatusNotFound, "source not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"source": source, "removed": n})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotImplemented, "ledger not enabled")
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	index := s.config.Vector.IndexName
	sources, err := s.ledger.ListSources(r.Context(), index, max(offset, 0), limit)
	if err != nil {
		s.logger.Error("list sources failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.ledger.CountSources(r.Context(), index)
	if err != nil {
		s.logger.Error("count sources failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sources == nil {
		sources = []*models.SourceRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"sources": sources, "total": total})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	index := s.config.Vector.IndexName
	resp := map[string]any{
		"index":    index,
		"provider": s.config.Vector.Provider,
	}
	if s.ledger != nil {
		sources, err := s.ledger.CountSources(ctx, index)
		if err != nil {
			s.logger.Error("status: count sources failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		chunks, err := s.ledger.CountChunks(ctx, index)
		if err != nil {
			s.logger.Error("status: count chunks failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["sources"] = sources
		resp["chunks"] = chunks
	}
	if sized, ok := s.vectors.(interface{ Size(string) int }); ok {
		resp["vector_index_size"] = sized.Size(index)
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	if usage, err := storage.MeasureDiskUsage(s.config.Storage.DatabasePath, s.config.Vector.MemoryPath); err == nil {
		resp["disk_usage_bytes"] = usage.Total()
		resp["ledger_bytes"] = usage.LedgerBytes
		resp["vector_bytes"] = usage.VectorBytes
	}
	resp["config"] = map[string]any{
		"embedding_model":      s.config.Embedding.Model,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"chunk_size":           s.config.Chunking.ChunkSize,
		"chunk_overlap":        s.config.Chunking.ChunkOverlap,
		"top_k":                s.config.Query.TopK,
		"llm_provider":         s.config.LLM.Provider,
		"llm_model":            s.config.LLM.Model,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
