// Package indexer embeds image folders into vector store collections.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/fileid"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/sandbox"
	"github.com/hyperjump/kagami/internal/vector"
)

// ImageExtensions are the file extensions indexed, compared case-insensitively.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp"}

// maxLoggedFailures bounds how many per-file failures are logged or returned individually.
const maxLoggedFailures = 5

// Indexer walks folders under the sandbox, embeds each image and loads the results into the store.
type Indexer struct {
	sandbox     *sandbox.Sandbox
	store       vector.Store
	provider    embedding.Provider
	locks       *vector.CollectionLocks
	concurrency int
	logger      *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for per-file failures and debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithConcurrency sets how many embedding requests run at once. Default 4.
func WithConcurrency(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.concurrency = n
		}
	}
}

// NewIndexer creates an indexer. locks must be shared with every reader of the same store.
func NewIndexer(
	sb *sandbox.Sandbox,
	store vector.Store,
	provider embedding.Provider,
	locks *vector.CollectionLocks,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		sandbox:     sb,
		store:       store,
		provider:    provider,
		locks:       locks,
		concurrency: 4,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexFolder embeds every image under folder into collection. With clearFirst the
// collection is replaced; otherwise records are upserted. dimension 0 uses the provider default.
//
// The folder is validated before anything is modified. A folder without images returns
// ErrNoImages (after clearing, when clearFirst is set). If every image fails to embed the
// error is an *AllFailedError. The outcome is returned alongside those errors.
func (idx *Indexer) IndexFolder(ctx context.Context, folder, collection string, clearFirst bool, dimension int) (*models.IndexOutcome, error) {
	if dimension != 0 && !embedding.IsSupportedDimension(dimension) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dimension)
	}
	absDir, err := idx.sandbox.ResolveForIndex(folder)
	if err != nil {
		return nil, err
	}
	paths, err := idx.collectImages(absDir)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", folder, err)
	}
	outcome := &models.IndexOutcome{Collection: collection, Found: len(paths)}
	idx.logger.Debug("indexing folder",
		zap.String("folder", absDir),
		zap.String("collection", collection),
		zap.Int("images", len(paths)),
	)

	if len(paths) == 0 {
		if clearFirst {
			if err := idx.replace(ctx, collection, nil, true); err != nil {
				return outcome, err
			}
		}
		return outcome, fmt.Errorf("%w in %s (supported extensions: %s)", ErrNoImages, folder, strings.Join(ImageExtensions, ", "))
	}

	records, errs, err := idx.embedAll(ctx, paths, dimension)
	if err != nil {
		return outcome, err
	}
	var failed []error
	for i, err := range errs {
		if err != nil {
			outcome.Failures = append(outcome.Failures, models.PathFailure{Path: paths[i], Error: err.Error()})
			failed = append(failed, err)
		}
	}
	idx.logFailures(outcome)

	if err := idx.replace(ctx, collection, records, clearFirst); err != nil {
		return outcome, err
	}
	outcome.Indexed = len(records)

	if len(records) == 0 {
		return outcome, newAllFailedError(len(paths), outcome.Failures, failed)
	}
	idx.logger.Info("indexed folder",
		zap.String("folder", absDir),
		zap.String("collection", collection),
		zap.Int("indexed", outcome.Indexed),
		zap.Int("failed", len(outcome.Failures)),
	)
	return outcome, nil
}

// replace clears (when asked) and bulk-adds under the collection's write lock,
// so concurrent searches see either the old contents or the new ones.
func (idx *Indexer) replace(ctx context.Context, collection string, records []models.ImageRecord, clearFirst bool) error {
	lock := idx.locks.For(collection)
	lock.Lock()
	defer lock.Unlock()
	if clearFirst {
		if err := idx.store.Clear(ctx, collection); err != nil {
			return fmt.Errorf("clear collection %s: %w", collection, err)
		}
	}
	if len(records) == 0 {
		return nil
	}
	if err := idx.store.Add(ctx, collection, records); err != nil {
		return fmt.Errorf("add images to %s: %w", collection, err)
	}
	return nil
}

// embedAll embeds paths concurrently. Records keep the order of paths;
// errs[i] is the failure for paths[i], if any.
func (idx *Indexer) embedAll(ctx context.Context, paths []string, dimension int) ([]models.ImageRecord, []error, error) {
	vecs := make([][]float32, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			vec, err := idx.provider.EmbedImage(gctx, p, dimension)
			if err != nil {
				errs[i] = err
				return nil
			}
			vecs[i] = vec
			return nil
		})
	}
	_ = g.Wait()

	var ids, ok []string
	var embeddings [][]float32
	for i, p := range paths {
		if errs[i] != nil {
			continue
		}
		ids = append(ids, fileid.ImageID(p))
		ok = append(ok, p)
		embeddings = append(embeddings, vecs[i])
	}
	records, err := vector.NewRecords(ids, ok, embeddings)
	return records, errs, err
}

func (idx *Indexer) logFailures(outcome *models.IndexOutcome) {
	sample, rest := outcome.FailureSample(maxLoggedFailures)
	for _, f := range sample {
		idx.logger.Warn("failed to index image", zap.String("path", f.Path), zap.String("error", f.Error))
	}
	if rest > 0 {
		idx.logger.Warn(fmt.Sprintf("... and %d more errors", rest))
	}
}

// collectImages walks dir recursively in lexical order and returns regular image files
// that stay inside the sandbox.
func (idx *Indexer) collectImages(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !IsImage(path) {
			return nil
		}
		// Follow file symlinks, but only to regular files inside the base.
		if _, err := idx.sandbox.ResolveForRead(path); err != nil {
			idx.logger.Debug("skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// IsImage reports whether path has one of ImageExtensions.
func IsImage(path string) bool {
	return extensionAllowed(filepath.Ext(path), ImageExtensions)
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// canonical returns path with its parent directory resolved inside the sandbox,
// matching the paths IndexFolder records.
func (idx *Indexer) canonical(path string) (string, error) {
	dir, err := idx.sandbox.Resolve(filepath.Dir(path))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(path)), nil
}

// IndexFile embeds a single image and upserts it into collection.
func (idx *Indexer) IndexFile(ctx context.Context, path, collection string) error {
	if !IsImage(path) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
	p, err := idx.canonical(path)
	if err != nil {
		return err
	}
	if _, err := idx.sandbox.ResolveForRead(p); err != nil {
		return err
	}
	coll, err := idx.store.GetOrCreate(ctx, collection)
	if err != nil {
		return err
	}
	// Match the dimension the collection was built at; 0 lets the provider pick.
	vec, err := idx.provider.EmbedImage(ctx, p, coll.Dimension)
	if err != nil {
		return fmt.Errorf("embed %s: %w", p, err)
	}
	records, err := vector.NewRecords([]string{fileid.ImageID(p)}, []string{p}, [][]float32{vec})
	if err != nil {
		return err
	}
	if err := idx.replace(ctx, collection, records, false); err != nil {
		return err
	}
	idx.logger.Debug("indexed file", zap.String("path", p), zap.String("collection", collection), zap.String("id", records[0].ID))
	return nil
}

// RemoveFile deletes the record for path from collection. The file need not exist.
func (idx *Indexer) RemoveFile(ctx context.Context, path, collection string) error {
	p, err := idx.canonical(path)
	if err != nil {
		return err
	}
	id := fileid.ImageID(p)
	lock := idx.locks.For(collection)
	lock.Lock()
	defer lock.Unlock()
	if err := idx.store.Delete(ctx, collection, []string{id}); err != nil {
		return fmt.Errorf("remove %s from %s: %w", p, collection, err)
	}
	idx.logger.Debug("removed file", zap.String("path", p), zap.String("collection", collection), zap.String("id", id))
	return nil
}
