package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/models"
)

const chromaCollectionsPath = "/api/v2/tenants/default_tenant/databases/default_database/collections"

// ChromaStore implements Store against a Chroma server's v2 REST API.
type ChromaStore struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu  sync.Mutex
	ids map[string]string // collection name -> chroma collection id
}

// ChromaConfig holds configuration for the Chroma store.
type ChromaConfig struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout time.Duration
}

// NewChromaStore creates a Chroma-backed store. Collections are resolved lazily.
func NewChromaStore(c ChromaConfig, logger *zap.Logger) (*ChromaStore, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("%w: chroma URL is required", ErrInvalidArgument)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChromaStore{
		baseURL:    strings.TrimRight(c.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		ids:        make(map[string]string),
	}, nil
}

// Type returns the store type identifier.
func (d *ChromaStore) Type() string {
	return string(StoreTypeChroma)
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
// Transport failures wrap ErrConnection; unexpected statuses wrap ErrStore.
func (d *ChromaStore) do(ctx context.Context, method, path string, body, out any, okStatus ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %v", ErrConnection, method, path, err)
	}
	defer resp.Body.Close()

	if len(okStatus) == 0 {
		okStatus = []int{http.StatusOK}
	}
	for _, s := range okStatus {
		if resp.StatusCode != s {
			continue
		}
		if out != nil && resp.StatusCode < 300 {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
			}
		}
		return resp.StatusCode, nil
	}
	msg, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, fmt.Errorf("%w: %s %s: status %d: %s", ErrStore, method, path, resp.StatusCode, string(msg))
}

func collectionPath(name string) string {
	return chromaCollectionsPath + "/" + url.PathEscape(name)
}

// resolve returns the chroma collection for name, creating it with cosine space if absent.
func (d *ChromaStore) resolve(ctx context.Context, name string) (chromaCollection, error) {
	if err := validateName(name); err != nil {
		return chromaCollection{}, err
	}

	var coll chromaCollection
	status, err := d.do(ctx, http.MethodGet, collectionPath(name), nil, &coll, http.StatusOK, http.StatusNotFound)
	if err != nil {
		return chromaCollection{}, fmt.Errorf("getting collection %q: %w", name, err)
	}
	if status == http.StatusNotFound {
		coll = chromaCollection{}
		create := chromaCreateRequest{
			Name:        name,
			Metadata:    map[string]any{"hnsw:space": MetricCosine},
			GetOrCreate: true,
		}
		if _, err := d.do(ctx, http.MethodPost, chromaCollectionsPath, create, &coll, http.StatusOK, http.StatusCreated); err != nil {
			return chromaCollection{}, fmt.Errorf("creating collection %q: %w", name, err)
		}
		d.logger.Info("created chroma collection", zap.String("collection", name), zap.String("collection_id", coll.ID))
	}

	d.mu.Lock()
	d.ids[name] = coll.ID
	d.mu.Unlock()
	return coll, nil
}

// collectionID returns the cached id for name, resolving it on first use.
func (d *ChromaStore) collectionID(ctx context.Context, name string) (string, error) {
	d.mu.Lock()
	id, ok := d.ids[name]
	d.mu.Unlock()
	if ok {
		return id, nil
	}
	coll, err := d.resolve(ctx, name)
	if err != nil {
		return "", err
	}
	return coll.ID, nil
}

// GetOrCreate returns the named collection, creating it if absent.
func (d *ChromaStore) GetOrCreate(ctx context.Context, name string) (Collection, error) {
	coll, err := d.resolve(ctx, name)
	if err != nil {
		return Collection{}, err
	}
	out := Collection{Name: name, Metric: MetricCosine}
	if coll.Dimension != nil {
		out.Dimension = *coll.Dimension
	}
	return out, nil
}

// Add upserts records with their paths as metadata.
func (d *ChromaStore) Add(ctx context.Context, name string, records []models.ImageRecord) error {
	coll, err := d.resolve(ctx, name)
	if err != nil {
		return err
	}
	dim := 0
	if coll.Dimension != nil {
		dim = *coll.Dimension
	}
	if _, err := validateRecords(records, dim); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	reqBody := chromaAddRequest{
		IDs:        make([]string, len(records)),
		Embeddings: make([][]float32, len(records)),
		Metadatas:  make([]map[string]any, len(records)),
	}
	for i, r := range records {
		reqBody.IDs[i] = r.ID
		reqBody.Embeddings[i] = r.Embedding
		reqBody.Metadatas[i] = map[string]any{"path": r.Path}
	}
	if _, err := d.do(ctx, http.MethodPost, chromaCollectionsPath+"/"+coll.ID+"/upsert", reqBody, nil, http.StatusOK, http.StatusCreated); err != nil {
		return fmt.Errorf("failed to add images: %w", err)
	}

	d.logger.Debug("added images to chroma",
		zap.String("collection", name),
		zap.Int("count", len(records)),
	)
	return nil
}

// Query asks Chroma for min(k, count) nearest neighbours.
func (d *ChromaStore) Query(ctx context.Context, name string, query []float32, k int) ([]models.SearchHit, error) {
	if err := validateK(k); err != nil {
		return nil, err
	}
	id, err := d.collectionID(ctx, name)
	if err != nil {
		return nil, err
	}
	n, err := d.count(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []models.SearchHit{}, nil
	}
	if k > n {
		k = n
	}

	reqBody := chromaQueryRequest{
		QueryEmbeddings: [][]float32{query},
		NResults:        k,
		Include:         []string{"metadatas", "distances"},
	}
	var queryResp chromaQueryResponse
	if _, err := d.do(ctx, http.MethodPost, chromaCollectionsPath+"/"+id+"/query", reqBody, &queryResp); err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	hits := []models.SearchHit{}
	// One query embedding, so only the first group is populated.
	if len(queryResp.IDs) == 0 || len(queryResp.IDs[0]) == 0 {
		return hits, nil
	}
	ids := queryResp.IDs[0]
	var distances []float64
	if len(queryResp.Distances) > 0 {
		distances = queryResp.Distances[0]
	}
	var metadatas []map[string]any
	if len(queryResp.Metadatas) > 0 {
		metadatas = queryResp.Metadatas[0]
	}
	for i, hitID := range ids {
		hit := models.SearchHit{ID: hitID, Rank: i + 1}
		if i < len(metadatas) && metadatas[i] != nil {
			if p, ok := metadatas[i]["path"].(string); ok {
				hit.Path = p
			}
		}
		if i < len(distances) {
			hit.Distance = distances[i]
			hit.Score = 1 - distances[i]
		}
		hits = append(hits, hit)
	}

	d.logger.Debug("queried chroma",
		zap.String("collection", name),
		zap.Int("results", len(hits)),
	)
	return hits, nil
}

// Clear deletes the collection if present and creates it again.
func (d *ChromaStore) Clear(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if _, err := d.do(ctx, http.MethodDelete, collectionPath(name), nil, nil, http.StatusOK, http.StatusNoContent, http.StatusNotFound); err != nil {
		return fmt.Errorf("deleting collection %q: %w", name, err)
	}
	d.mu.Lock()
	delete(d.ids, name)
	d.mu.Unlock()
	_, err := d.resolve(ctx, name)
	return err
}

// Count returns the number of records in the collection.
func (d *ChromaStore) Count(ctx context.Context, name string) (int, error) {
	id, err := d.collectionID(ctx, name)
	if err != nil {
		return 0, err
	}
	return d.count(ctx, id)
}

func (d *ChromaStore) count(ctx context.Context, id string) (int, error) {
	var n int
	if _, err := d.do(ctx, http.MethodGet, chromaCollectionsPath+"/"+id+"/count", nil, &n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// Delete removes records by ID.
func (d *ChromaStore) Delete(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	id, err := d.collectionID(ctx, name)
	if err != nil {
		return err
	}
	if _, err := d.do(ctx, http.MethodPost, chromaCollectionsPath+"/"+id+"/delete", chromaDeleteRequest{IDs: ids}, nil); err != nil {
		return fmt.Errorf("failed to delete images: %w", err)
	}
	d.logger.Debug("deleted images from chroma", zap.String("collection", name), zap.Int("count", len(ids)))
	return nil
}

// Get returns a record by ID.
func (d *ChromaStore) Get(ctx context.Context, name, recordID string) (models.ImageRecord, error) {
	id, err := d.collectionID(ctx, name)
	if err != nil {
		return models.ImageRecord{}, err
	}
	reqBody := chromaGetRequest{
		IDs:     []string{recordID},
		Include: []string{"metadatas", "embeddings"},
	}
	var getResp chromaGetResponse
	if _, err := d.do(ctx, http.MethodPost, chromaCollectionsPath+"/"+id+"/get", reqBody, &getResp); err != nil {
		return models.ImageRecord{}, fmt.Errorf("failed to get image: %w", err)
	}
	if len(getResp.IDs) == 0 {
		return models.ImageRecord{}, fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}
	r := models.ImageRecord{ID: getResp.IDs[0]}
	if len(getResp.Metadatas) > 0 && getResp.Metadatas[0] != nil {
		if p, ok := getResp.Metadatas[0]["path"].(string); ok {
			r.Path = p
		}
	}
	if len(getResp.Embeddings) > 0 {
		r.Embedding = getResp.Embeddings[0]
	}
	return r, nil
}

// Collections lists collection names.
func (d *ChromaStore) Collections(ctx context.Context) ([]string, error) {
	var colls []chromaCollection
	if _, err := d.do(ctx, http.MethodGet, chromaCollectionsPath, nil, &colls); err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	names := make([]string, len(colls))
	for i, c := range colls {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names, nil
}

// Close releases resources held by the store.
func (d *ChromaStore) Close() error {
	d.httpClient.CloseIdleConnections()
	return nil
}

// chromaCollection represents a Chroma collection response.
type chromaCollection struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Dimension *int           `json:"dimension,omitempty"`
}

// chromaCreateRequest is the request body for creating a collection.
type chromaCreateRequest struct {
	Name        string         `json:"name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	GetOrCreate bool           `json:"get_or_create"`
}

// chromaAddRequest is the request body for upserting records.
type chromaAddRequest struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings"`
	Metadatas  []map[string]any `json:"metadatas,omitempty"`
}

// chromaQueryRequest is the request body for querying.
type chromaQueryRequest struct {
	QueryEmbeddings [][]float32 `json:"query_embeddings"`
	NResults        int         `json:"n_results"`
	Include         []string    `json:"include"`
}

// chromaQueryResponse is the response from a query.
type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Distances [][]float64        `json:"distances"`
	Metadatas [][]map[string]any `json:"metadatas"`
}

// chromaGetRequest is the request body for getting records.
type chromaGetRequest struct {
	IDs     []string `json:"ids"`
	Include []string `json:"include"`
}

// chromaGetResponse is the response from getting records.
type chromaGetResponse struct {
	IDs        []string         `json:"ids"`
	Metadatas  []map[string]any `json:"metadatas"`
	Embeddings [][]float32      `json:"embeddings"`
}

// chromaDeleteRequest is the request body for deleting records.
type chromaDeleteRequest struct {
	IDs []string `json:"ids"`
}
