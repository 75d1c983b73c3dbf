package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/models"
)

// SQLiteFileName is the database file created under the store directory.
const SQLiteFileName = "vectors.db"

// SQLiteStore persists collections in a SQLite database and brute-forces queries.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("opened sqlite vector store", zap.String("path", dbPath))
	return &SQLiteStore{db: db, logger: logger}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		metric TEXT NOT NULL,
		dimension INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS images (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		path TEXT NOT NULL,
		embedding BLOB NOT NULL,
		FOREIGN KEY (collection) REFERENCES collections(name) ON DELETE CASCADE,
		UNIQUE (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_images_collection ON images(collection, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// Type returns the store type identifier.
func (s *SQLiteStore) Type() string {
	return string(StoreTypeSQLite)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ensureCollection creates the collection row if absent and returns its dimension.
func ensureCollection(ctx context.Context, q execer, name string) (int, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO collections (name, metric) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, MetricCosine,
	); err != nil {
		return 0, fmt.Errorf("create collection: %w", err)
	}
	var dim int
	if err := q.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, name).Scan(&dim); err != nil {
		return 0, fmt.Errorf("read collection: %w", err)
	}
	return dim, nil
}

// GetOrCreate returns the named collection, creating it if absent.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, name string) (Collection, error) {
	dim, err := ensureCollection(ctx, s.db, name)
	if err != nil {
		return Collection{}, err
	}
	return Collection{Name: name, Metric: MetricCosine, Dimension: dim}, nil
}

// Add upserts records in one transaction.
func (s *SQLiteStore) Add(ctx context.Context, name string, records []models.ImageRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	dim, err := ensureCollection(ctx, tx, name)
	if err != nil {
		return err
	}
	newDim, err := validateRecords(records, dim)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit()
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO images (collection, id, path, embedding) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET path = excluded.path, embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, name, r.ID, r.Path, float32SliceToBytes(r.Embedding)); err != nil {
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}
	if newDim != dim {
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET dimension = ? WHERE name = ?`, newDim, name); err != nil {
			return fmt.Errorf("set dimension: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("added images", zap.String("collection", name), zap.Int("count", len(records)))
	return nil
}

// Query loads the collection in insertion order and returns the k nearest records.
func (s *SQLiteStore) Query(ctx context.Context, name string, query []float32, k int) ([]models.SearchHit, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	dim, err := ensureCollection(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	records, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []models.SearchHit{}, nil
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", ErrDimensionMismatch, len(query), dim)
	}
	return rankRecords(query, records, k), nil
}

func (s *SQLiteStore) load(ctx context.Context, name string) ([]models.ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, embedding FROM images WHERE collection = ? ORDER BY seq`, name)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var records []models.ImageRecord
	for rows.Next() {
		var r models.ImageRecord
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Path, &blob); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		r.Embedding = bytesToFloat32Slice(blob)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Clear deletes every record and resets the dimension in one transaction.
func (s *SQLiteStore) Clear(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := ensureCollection(ctx, tx, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM images WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE collections SET dimension = 0 WHERE name = ?`, name); err != nil {
		return fmt.Errorf("reset dimension: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("cleared collection", zap.String("collection", name))
	return nil
}

// Count returns the number of records in the collection.
func (s *SQLiteStore) Count(ctx context.Context, name string) (int, error) {
	if _, err := ensureCollection(ctx, s.db, name); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE collection = ?`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

// Delete removes records by ID.
func (s *SQLiteStore) Delete(ctx context.Context, name string, ids []string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM images WHERE collection = ? AND id = ?`, name, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Get returns a record by ID.
func (s *SQLiteStore) Get(ctx context.Context, name, id string) (models.ImageRecord, error) {
	if err := validateName(name); err != nil {
		return models.ImageRecord{}, err
	}
	r := models.ImageRecord{ID: id}
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT path, embedding FROM images WHERE collection = ? AND id = ?`, name, id,
	).Scan(&r.Path, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ImageRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.ImageRecord{}, fmt.Errorf("get image: %w", err)
	}
	r.Embedding = bytesToFloat32Slice(blob)
	return r, nil
}

// Collections lists collection names.
func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
