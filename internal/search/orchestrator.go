// Package search turns text, image and upload queries into ranked hits from the vector store.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/fileid"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/sandbox"
	"github.com/hyperjump/kagami/internal/vector"
)

const (
	defaultMaxBatchQueries  = 10
	defaultBatchConcurrency = 4
	defaultUploadExt        = ".jpg"
	// similarOverfetch is how many candidates Similar requests per wanted result.
	similarOverfetch = 2
)

// Orchestrator answers queries against the vector store. It holds no per-request state.
type Orchestrator struct {
	sandbox          *sandbox.Sandbox
	store            vector.Store
	provider         embedding.Provider
	locks            *vector.CollectionLocks
	maxBatchQueries  int
	batchConcurrency int
	tempDir          string
	logger           *zap.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMaxBatchQueries sets the largest accepted batch. Default 10.
func WithMaxBatchQueries(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxBatchQueries = n
		}
	}
}

// WithBatchConcurrency sets how many batch queries run at once. Default 4.
func WithBatchConcurrency(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchConcurrency = n
		}
	}
}

// WithTempDir sets where uploads are staged. Default os.TempDir().
func WithTempDir(dir string) OrchestratorOption {
	return func(o *Orchestrator) { o.tempDir = dir }
}

// NewOrchestrator creates an orchestrator. locks must be shared with the indexer.
func NewOrchestrator(
	sb *sandbox.Sandbox,
	store vector.Store,
	provider embedding.Provider,
	locks *vector.CollectionLocks,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		sandbox:          sb,
		store:            store,
		provider:         provider,
		locks:            locks,
		maxBatchQueries:  defaultMaxBatchQueries,
		batchConcurrency: defaultBatchConcurrency,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MaxBatchQueries returns the largest accepted batch.
func (o *Orchestrator) MaxBatchQueries() int {
	return o.maxBatchQueries
}

// Text embeds text and returns the k nearest images.
func (o *Orchestrator) Text(ctx context.Context, text, collection string, k int) ([]models.SearchHit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is empty", ErrInvalidQuery)
	}
	if err := checkK(k); err != nil {
		return nil, err
	}
	dim, err := o.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	vec, err := o.provider.EmbedText(ctx, text, dim)
	if err != nil {
		return nil, embeddingError(err)
	}
	return o.query(ctx, collection, vec, k)
}

// ImagePath embeds the image at rawPath, which must resolve inside the sandbox.
func (o *Orchestrator) ImagePath(ctx context.Context, rawPath, collection string, k int) ([]models.SearchHit, error) {
	if err := checkK(k); err != nil {
		return nil, err
	}
	vec, err := o.embedPath(ctx, rawPath, collection)
	if err != nil {
		return nil, err
	}
	return o.query(ctx, collection, vec, k)
}

// Similar finds indexed images close to the one at rawPath. It over-fetches, keeps hits
// scoring at least minScore, then truncates to k, so fewer than k hits may come back.
func (o *Orchestrator) Similar(ctx context.Context, rawPath, collection string, k int, minScore float64) ([]models.SearchHit, error) {
	if err := checkK(k); err != nil {
		return nil, err
	}
	vec, err := o.similarVector(ctx, rawPath, collection)
	if err != nil {
		return nil, err
	}
	hits, err := o.nearest(ctx, collection, vec, k*similarOverfetch)
	if err != nil {
		return nil, err
	}
	filtered := hits[:0]
	for _, h := range hits {
		if h.Score >= minScore {
			filtered = append(filtered, h)
		}
	}
	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return rerank(filtered), nil
}

// Upload stages r in a temporary file for the embedding call and removes it on every path.
// contentType must be an image type; filename only supplies the file extension.
func (o *Orchestrator) Upload(ctx context.Context, r io.Reader, contentType, filename, collection string, k int) ([]models.SearchHit, error) {
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return nil, fmt.Errorf("%w: upload an image file (got content type %q)", ErrInvalidQuery, contentType)
	}
	if err := checkK(k); err != nil {
		return nil, err
	}
	dim, err := o.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}

	dir := o.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	tmpPath := filepath.Join(dir, "kagami-upload-"+uuid.NewString()+uploadExt(filename))
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Warn("failed to remove upload", zap.String("path", tmpPath), zap.Error(err))
		}
	}()

	if err := writeTemp(tmpPath, r); err != nil {
		return nil, err
	}
	vec, err := o.provider.EmbedImage(ctx, tmpPath, dim)
	if err != nil {
		return nil, embeddingError(err)
	}
	return o.query(ctx, collection, vec, k)
}

func writeTemp(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close upload file: %w", err)
	}
	return nil
}

// uploadExt keeps a short extension from the client's filename, defaulting to .jpg.
func uploadExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 6 {
		return defaultUploadExt
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return defaultUploadExt
		}
	}
	return ext
}

// BatchResult holds per-query outcomes of a batch search, keyed by the original query string.
type BatchResult struct {
	Results map[string][]models.SearchHit
	Errors  map[string]error
}

// Batch runs each text query independently. One query failing does not affect the others.
func (o *Orchestrator) Batch(ctx context.Context, queries []string, collection string, k int) (*BatchResult, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: provide 1-%d queries", ErrInvalidQuery, o.maxBatchQueries)
	}
	if len(queries) > o.maxBatchQueries {
		return nil, fmt.Errorf("%w: got %d, limit is %d", ErrTooManyQueries, len(queries), o.maxBatchQueries)
	}
	if err := checkK(k); err != nil {
		return nil, err
	}

	hits := make([][]models.SearchHit, len(queries))
	errs := make([]error, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.batchConcurrency)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			hits[i], errs[i] = o.Text(gctx, q, collection, k)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{
		Results: make(map[string][]models.SearchHit, len(queries)),
		Errors:  make(map[string]error),
	}
	for i, q := range queries {
		if errs[i] != nil {
			res.Errors[q] = errs[i]
			o.logger.Debug("batch query failed", zap.String("query", q), zap.Error(errs[i]))
			continue
		}
		res.Results[q] = hits[i]
	}
	return res, nil
}

func (o *Orchestrator) embedPath(ctx context.Context, rawPath, collection string) ([]float32, error) {
	path, err := o.sandbox.ResolveForRead(rawPath)
	if err != nil {
		return nil, err
	}
	dim, err := o.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	vec, err := o.provider.EmbedImage(ctx, path, dim)
	if err != nil {
		return nil, embeddingError(err)
	}
	return vec, nil
}

// similarVector reuses the stored embedding when rawPath is already indexed in collection
// and embeds the file otherwise.
func (o *Orchestrator) similarVector(ctx context.Context, rawPath, collection string) ([]float32, error) {
	path, err := o.sandbox.ResolveForRead(rawPath)
	if err != nil {
		return nil, err
	}
	lock := o.locks.For(collection)
	lock.RLock()
	rec, err := o.store.Get(ctx, collection, fileid.ImageID(path))
	lock.RUnlock()
	switch {
	case err == nil:
		return rec.Embedding, nil
	case !errors.Is(err, vector.ErrNotFound):
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return o.embedPath(ctx, rawPath, collection)
}

// dimension returns the collection's established embedding dimension, or 0 (provider
// default) while the collection is empty.
func (o *Orchestrator) dimension(ctx context.Context, collection string) (int, error) {
	coll, err := o.store.GetOrCreate(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", collection, err)
	}
	return coll.Dimension, nil
}

func (o *Orchestrator) query(ctx context.Context, collection string, vec []float32, k int) ([]models.SearchHit, error) {
	hits, err := o.nearest(ctx, collection, vec, k)
	if err != nil {
		return nil, err
	}
	return rerank(hits), nil
}

// nearest queries the store under the collection's read lock.
func (o *Orchestrator) nearest(ctx context.Context, collection string, vec []float32, k int) ([]models.SearchHit, error) {
	lock := o.locks.For(collection)
	lock.RLock()
	defer lock.RUnlock()
	hits, err := o.store.Query(ctx, collection, vec, k)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return hits, nil
}

// rerank rounds scores to 4 decimals and numbers hits 1..n in their current order.
func rerank(hits []models.SearchHit) []models.SearchHit {
	for i := range hits {
		hits[i].Score = roundScore(hits[i].Score)
		hits[i].Rank = i + 1
	}
	return hits
}

func roundScore(s float64) float64 {
	return math.Round(s*1e4) / 1e4
}

func checkK(k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: top_k must be at least 1", ErrInvalidQuery)
	}
	return nil
}

// embeddingError keeps configuration errors as they are and marks everything else unavailable.
func embeddingError(err error) error {
	if errors.Is(err, config.ErrConfiguration) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
}
