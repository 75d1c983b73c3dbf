package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/models"
)

const snapshotExt = ".vec"

// MemoryStore keeps collections in memory and brute-forces queries.
// When dir is set, each collection is loaded from and saved to dir/<name>.vec.
type MemoryStore struct {
	dir         string
	collections map[string]*memCollection
	logger      *zap.Logger
	mu          sync.RWMutex
}

type memCollection struct {
	dimension int
	records   []models.ImageRecord
	index     map[string]int
}

func newMemCollection() *memCollection {
	return &memCollection{index: make(map[string]int)}
}

// NewMemoryStore creates an in-memory store. An empty dir disables snapshots.
func NewMemoryStore(dir string, logger *zap.Logger) (*MemoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MemoryStore{
		dir:         dir,
		collections: make(map[string]*memCollection),
		logger:      logger,
	}
	if err := m.loadAll(); err != nil {
		return nil, err
	}
	return m, nil
}

// Type returns the store type identifier.
func (m *MemoryStore) Type() string {
	return string(StoreTypeMemory)
}

// collection returns the named collection, creating it when create is set.
// Caller must hold m.mu (write lock if create).
func (m *MemoryStore) collection(name string, create bool) (*memCollection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	c, ok := m.collections[name]
	if !ok && create {
		c = newMemCollection()
		m.collections[name] = c
	}
	return c, nil
}

// rlockCollection returns the named collection with m.mu read-locked, taking the
// write lock only to create it when absent. The caller must RUnlock on success.
func (m *MemoryStore) rlockCollection(name string) (*memCollection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	m.mu.RLock()
	if c, ok := m.collections[name]; ok {
		return c, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = newMemCollection()
	}
	m.mu.Unlock()

	m.mu.RLock()
	return m.collections[name], nil
}

// GetOrCreate returns the named collection, creating it if absent.
func (m *MemoryStore) GetOrCreate(ctx context.Context, name string) (Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name, true)
	if err != nil {
		return Collection{}, err
	}
	return Collection{Name: name, Metric: MetricCosine, Dimension: c.dimension}, nil
}

// Add upserts records; a replaced record keeps its original position.
func (m *MemoryStore) Add(ctx context.Context, name string, records []models.ImageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name, true)
	if err != nil {
		return err
	}
	dim, err := validateRecords(records, c.dimension)
	if err != nil {
		return err
	}
	for _, r := range records {
		vec := make([]float32, len(r.Embedding))
		copy(vec, r.Embedding)
		rec := models.ImageRecord{ID: r.ID, Path: r.Path, Embedding: vec}
		if i, ok := c.index[r.ID]; ok {
			c.records[i] = rec
			continue
		}
		c.index[r.ID] = len(c.records)
		c.records = append(c.records, rec)
	}
	if len(records) > 0 {
		c.dimension = dim
	}
	return nil
}

// Query returns the k nearest records by cosine distance.
func (m *MemoryStore) Query(ctx context.Context, name string, query []float32, k int) ([]models.SearchHit, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	c, err := m.rlockCollection(name)
	if err != nil {
		return nil, err
	}
	defer m.mu.RUnlock()
	if len(c.records) == 0 {
		return []models.SearchHit{}, nil
	}
	if len(query) != c.dimension {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", ErrDimensionMismatch, len(query), c.dimension)
	}
	return rankRecords(query, c.records, k), nil
}

// Clear replaces the collection with an empty one.
func (m *MemoryStore) Clear(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[name] = newMemCollection()
	return nil
}

// Count returns the number of records in the collection.
func (m *MemoryStore) Count(ctx context.Context, name string) (int, error) {
	c, err := m.rlockCollection(name)
	if err != nil {
		return 0, err
	}
	defer m.mu.RUnlock()
	return len(c.records), nil
}

// Delete removes records by ID, rebuilding the slice to keep order.
func (m *MemoryStore) Delete(ctx context.Context, name string, ids []string) error {
	removeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.collection(name, true)
	if err != nil {
		return err
	}
	kept := make([]models.ImageRecord, 0, len(c.records))
	index := make(map[string]int, len(c.records))
	for _, r := range c.records {
		if removeSet[r.ID] {
			continue
		}
		index[r.ID] = len(kept)
		kept = append(kept, r)
	}
	c.records = kept
	c.index = index
	return nil
}

// Get returns a record by ID.
func (m *MemoryStore) Get(ctx context.Context, name, id string) (models.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.collection(name, false)
	if err != nil {
		return models.ImageRecord{}, err
	}
	if c == nil {
		return models.ImageRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	i, ok := c.index[id]
	if !ok {
		return models.ImageRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r := c.records[i]
	r.Embedding = append([]float32(nil), r.Embedding...)
	return r, nil
}

// Collections lists collection names.
func (m *MemoryStore) Collections(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close saves every collection to the snapshot directory, if any.
func (m *MemoryStore) Close() error {
	if m.dir == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, c := range m.collections {
		if err := saveSnapshot(filepath.Join(m.dir, name+snapshotExt), c); err != nil {
			return fmt.Errorf("save collection %s: %w", name, err)
		}
	}
	m.logger.Debug("saved memory store", zap.String("dir", m.dir), zap.Int("collections", len(m.collections)))
	return nil
}

func (m *MemoryStore) loadAll() error {
	if m.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != snapshotExt {
			continue
		}
		name := strings.TrimSuffix(e.Name(), snapshotExt)
		c, err := loadSnapshot(filepath.Join(m.dir, e.Name()))
		if err != nil {
			return fmt.Errorf("load collection %s: %w", name, err)
		}
		m.collections[name] = c
		m.logger.Debug("loaded collection", zap.String("name", name), zap.Int("records", len(c.records)))
	}
	return nil
}

// saveSnapshot writes a collection. Format: dimension (4), n (4), then per record:
// idLen (4), id bytes, pathLen (4), path bytes, vector (dimension*4 bytes).
func saveSnapshot(path string, c *memCollection) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, uint32(c.dimension)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(c.records))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, r := range c.records {
		if err := writeString(f, r.ID); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if err := writeString(f, r.Path); err != nil {
			return fmt.Errorf("write path: %w", err)
		}
		if _, err := f.Write(float32SliceToBytes(r.Embedding)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return f.Sync()
}

func loadSnapshot(path string) (*memCollection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()
	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	c := newMemCollection()
	c.dimension = int(dim)
	c.records = make([]models.ImageRecord, 0, n)
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		id, err := readString(f)
		if err != nil {
			return nil, fmt.Errorf("read id: %w", err)
		}
		p, err := readString(f)
		if err != nil {
			return nil, fmt.Errorf("read path: %w", err)
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, fmt.Errorf("read vector: %w", err)
		}
		c.index[id] = len(c.records)
		c.records = append(c.records, models.ImageRecord{ID: id, Path: p, Embedding: bytesToFloat32Slice(buf)})
	}
	return c, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
