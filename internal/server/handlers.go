package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/indexer"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/sandbox"
	"github.com/hyperjump/kagami/internal/search"
	"github.com/hyperjump/kagami/internal/storage"
	"github.com/hyperjump/kagami/internal/vector"
)

// indexErrorSample is how many per-file failures an index response carries.
const indexErrorSample = 5

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Validate(); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if _, err := s.store.Count(r.Context(), s.cfg.Store.DefaultCollection); err != nil {
		s.logger.Warn("health: store unreachable", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collection := s.collectionParam(r)
	coll, err := s.store.GetOrCreate(ctx, collection)
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	count, err := s.store.Count(ctx, collection)
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	resp := models.StatsResponse{
		CollectionName:     collection,
		TotalImages:        count,
		EmbeddingDimension: coll.Dimension,
		StoreType:          s.store.Type(),
	}
	if resp.EmbeddingDimension == 0 {
		resp.EmbeddingDimension = s.cfg.Embedding.Dimension
	}
	if s.store.Type() != string(vector.StoreTypeChroma) {
		if n, err := storage.DiskUsageBytes(s.cfg.Store.Dir); err == nil {
			resp.DiskUsageBytes = &n
		} else {
			s.logger.Debug("stats: disk usage failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	summaries, err := vector.Summaries(r.Context(), s.store)
	if err != nil {
		s.fail(w, "collections", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.CollectionsResponse{Collections: summaries, StoreType: s.store.Type()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req models.IndexRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ApplyDefaults(s.cfg.Store.DefaultCollection)
	s.logger.Debug("index request", zap.String("folder", req.FolderPath), zap.String("collection", req.CollectionName))

	outcome, err := s.indexer.IndexFolder(r.Context(), req.FolderPath, req.CollectionName, true, 0)
	var allFailed *indexer.AllFailedError
	if errors.As(err, &allFailed) && outcome != nil {
		s.logger.Error("index failed", zap.Int("status", http.StatusBadGateway), zap.Error(err))
		resp := indexResponse(req.CollectionName, outcome)
		resp.Error = err.Error()
		s.respondJSON(w, http.StatusBadGateway, resp)
		return
	}
	if err != nil {
		s.fail(w, "index", err)
		return
	}
	s.respondJSON(w, http.StatusOK, indexResponse(req.CollectionName, outcome))
}

func indexResponse(collection string, outcome *models.IndexOutcome) models.IndexResponse {
	resp := models.IndexResponse{
		Indexed:        outcome.Indexed,
		CollectionName: collection,
		Failed:         len(outcome.Failures),
	}
	resp.Errors, resp.MoreErrors = outcome.FailureSample(indexErrorSample)
	return resp
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CollectionName == "" {
		req.CollectionName = s.cfg.Store.DefaultCollection
	}
	k := models.ClampTopK(models.TopKOrDefault(req.TopK, s.cfg.Search.DefaultTopK), s.cfg.Search.MaxTopK)
	s.logger.Debug("search request",
		zap.String("query_text", req.QueryText),
		zap.String("query_image_path", req.QueryImagePath),
		zap.Int("top_k", k),
	)

	var hits []models.SearchHit
	var err error
	if req.QueryText != "" {
		hits, err = s.orchestrator.Text(r.Context(), req.QueryText, req.CollectionName, k)
	} else {
		hits, err = s.orchestrator.ImagePath(r.Context(), req.QueryImagePath, req.CollectionName, k)
	}
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse{Results: models.ToItems(hits)})
}

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	k, err := intParam(r, "top_k", s.cfg.Search.DefaultTopK)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	k = models.ClampTopK(k, s.cfg.Search.MaxTopK)
	hits, err := s.orchestrator.Text(r.Context(), q, s.collectionParam(r), k)
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse{Results: models.ToItems(hits)})
}

func (s *Server) handleSearchBatch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CollectionName == "" {
		req.CollectionName = s.cfg.Store.DefaultCollection
	}
	k := models.ClampTopK(models.TopKOrDefault(req.TopK, s.cfg.Search.DefaultTopK), s.cfg.Search.MaxTopK)
	res, err := s.orchestrator.Batch(r.Context(), req.Queries, req.CollectionName, k)
	if err != nil {
		s.fail(w, "batch search", err)
		return
	}
	resp := models.BatchSearchResponse{Queries: make(map[string][]models.SearchResultItem, len(res.Results))}
	for q, hits := range res.Results {
		resp.Queries[q] = models.ToItems(hits)
	}
	if len(res.Errors) > 0 {
		resp.Errors = make(map[string]string, len(res.Errors))
		for q, err := range res.Errors {
			resp.Errors[q] = err.Error()
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchSimilar(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	k, err := intParam(r, "top_k", s.cfg.Search.DefaultTopK)
	if err != nil || k < 1 || k > s.cfg.Search.SimilarMaxTopK {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("top_k must be between 1 and %d", s.cfg.Search.SimilarMaxTopK))
		return
	}
	minScore := 0.0
	if v := r.URL.Query().Get("min_score"); v != "" {
		minScore, err = strconv.ParseFloat(v, 64)
		if err != nil || minScore < 0 || minScore > 1 {
			s.respondError(w, http.StatusBadRequest, "min_score must be between 0 and 1")
			return
		}
	}
	hits, err := s.orchestrator.Similar(r.Context(), path, s.collectionParam(r), k, minScore)
	if err != nil {
		s.fail(w, "similar search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse{Results: models.ToItems(hits)})
}

func (s *Server) handleSearchByImage(w http.ResponseWriter, r *http.Request) {
	k, err := intParam(r, "top_k", s.cfg.Search.DefaultTopK)
	if err != nil || k < 1 || k > s.cfg.Search.MaxTopK {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("top_k must be between 1 and %d", s.cfg.Search.MaxTopK))
		return
	}
	collection := s.collectionParam(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Search.UploadMaxBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "expected a multipart/form-data upload")
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "file field is required")
			return
		}
		if err != nil {
			s.fail(w, "upload", fmt.Errorf("%w: read upload: %w", search.ErrInvalidQuery, err))
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		hits, err := s.orchestrator.Upload(r.Context(), part, part.Header.Get("Content-Type"), part.FileName(), collection, k)
		_ = part.Close()
		if err != nil {
			s.fail(w, "upload search", err)
			return
		}
		s.respondJSON(w, http.StatusOK, models.SearchResponse{Results: models.ToItems(hits)})
		return
	}
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	path, err := s.sandbox.ResolveForRead(raw)
	switch {
	case errors.Is(err, sandbox.ErrPathEscape):
		s.respondError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, sandbox.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path       string `json:"path"`
	Collection string `json:"collection,omitempty"`
	Sync       *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := s.sandbox.ResolveForIndex(req.Path)
	if err != nil {
		s.fail(w, "watch add", err)
		return
	}
	dir := config.WatchDirectory{Path: abs, Collection: req.Collection}
	if dir.Collection == "" {
		dir.Collection = s.cfg.Store.DefaultCollection
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.String("collection", dir.Collection))
	if err := s.watch.AddDirectory(dir, syncExisting); err != nil {
		s.fail(w, "watch add", err)
		return
	}
	s.persistWatch()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "collection": dir.Collection, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := s.sandbox.Resolve(path)
	if err != nil {
		s.fail(w, "watch remove", err)
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.fail(w, "watch remove", err)
		return
	}
	s.persistWatch()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatch saves the current watch list to the config file, when one is in use.
func (s *Server) persistWatch() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.cfg.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.cfg); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) collectionParam(r *http.Request) string {
	if c := r.URL.Query().Get("collection_name"); c != "" {
		return c
	}
	return s.cfg.Store.DefaultCollection
}

// decodeBody decodes a JSON body into v; an empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

// statusFor maps an error from the core packages to an HTTP status.
func statusFor(err error) int {
	var allFailed *indexer.AllFailedError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, config.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, sandbox.ErrValidation),
		errors.Is(err, search.ErrInvalidQuery),
		errors.Is(err, indexer.ErrNoImages),
		errors.Is(err, indexer.ErrInvalidDimension),
		errors.Is(err, indexer.ErrUnsupportedFile),
		errors.Is(err, vector.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.As(err, &allFailed), errors.Is(err, search.ErrEmbeddingUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
