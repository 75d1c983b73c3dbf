package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// VertexConfig holds Vertex AI multimodal embedding settings.
type VertexConfig struct {
	CredentialsFile   string
	ProjectID         string
	Location          string
	Model             string
	Dimension         int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// VertexProvider calls the Vertex AI multimodal embedding model's predict endpoint.
type VertexProvider struct {
	cfg        VertexConfig
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// VertexOption configures a VertexProvider.
type VertexOption func(*VertexProvider)

// WithLogger sets the logger for the provider.
func WithLogger(logger *zap.Logger) VertexOption {
	return func(v *VertexProvider) {
		v.logger = logger
	}
}

// WithHTTPClient uses client instead of one authorized from the credentials file.
func WithHTTPClient(client *http.Client) VertexOption {
	return func(v *VertexProvider) {
		v.httpClient = client
	}
}

// WithEndpoint overrides the predict URL.
func WithEndpoint(url string) VertexOption {
	return func(v *VertexProvider) {
		v.endpoint = url
	}
}

// NewVertexProvider creates a provider authorized with the service account in cfg.CredentialsFile.
func NewVertexProvider(cfg VertexConfig, opts ...VertexOption) (*VertexProvider, error) {
	if cfg.Dimension == 0 {
		cfg.Dimension = 1408
	}
	if !IsSupportedDimension(cfg.Dimension) {
		return nil, fmt.Errorf("unsupported embedding dimension %d", cfg.Dimension)
	}
	if cfg.Model == "" {
		cfg.Model = "multimodalembedding@001"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	v := &VertexProvider{
		cfg:      cfg,
		endpoint: predictURL(cfg),
		logger:   zap.NewNop(),
	}
	if cfg.RequestsPerSecond > 0 {
		v.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.httpClient == nil {
		client, err := authorizedClient(cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		v.httpClient = client
	}
	v.logger.Info("vertex embedding provider ready",
		zap.String("project", cfg.ProjectID),
		zap.String("location", cfg.Location),
		zap.String("model", cfg.Model),
		zap.Int("dimension", cfg.Dimension),
	)
	return v, nil
}

func predictURL(cfg VertexConfig) string {
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		cfg.Location, cfg.ProjectID, cfg.Location, cfg.Model)
}

// Token refreshes must not be tied to a request context.
func authorizedClient(credentialsFile string) (*http.Client, error) {
	ctx := context.Background()
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return oauth2.NewClient(ctx, creds.TokenSource), nil
}

// EmbedImage sends the file's bytes base64-encoded and returns the image embedding.
func (v *VertexProvider) EmbedImage(ctx context.Context, path string, dimension int) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", ErrEmbedding, err)
	}
	inst := vertexInstance{Image: &vertexImage{BytesBase64Encoded: base64.StdEncoding.EncodeToString(data)}}
	pred, err := v.predict(ctx, inst, dimension)
	if err != nil {
		return nil, err
	}
	if len(pred.ImageEmbedding) == 0 {
		return nil, fmt.Errorf("%w: response has no image embedding", ErrEmbedding)
	}
	return pred.ImageEmbedding, nil
}

// EmbedText returns the text embedding for text.
func (v *VertexProvider) EmbedText(ctx context.Context, text string, dimension int) ([]float32, error) {
	pred, err := v.predict(ctx, vertexInstance{Text: text}, dimension)
	if err != nil {
		return nil, err
	}
	if len(pred.TextEmbedding) == 0 {
		return nil, fmt.Errorf("%w: response has no text embedding", ErrEmbedding)
	}
	return pred.TextEmbedding, nil
}

func (v *VertexProvider) predict(ctx context.Context, inst vertexInstance, dimension int) (*vertexPrediction, error) {
	if dimension == 0 {
		dimension = v.cfg.Dimension
	}
	if !IsSupportedDimension(dimension) {
		return nil, fmt.Errorf("%w: unsupported dimension %d", ErrEmbedding, dimension)
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit: %v", ErrEmbedding, err)
		}
	}

	body, err := json.Marshal(vertexRequest{
		Instances:  []vertexInstance{inst},
		Parameters: vertexParameters{Dimension: dimension},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrEmbedding, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbedding, resp.StatusCode, string(msg))
	}
	var out vertexResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEmbedding, err)
	}
	if len(out.Predictions) == 0 {
		return nil, fmt.Errorf("%w: empty predictions", ErrEmbedding)
	}
	v.logger.Debug("vertex predict",
		zap.Int("dimension", dimension),
		zap.Duration("took", time.Since(start)),
	)
	return &out.Predictions[0], nil
}

// Dimensions returns the configured embedding dimension.
func (v *VertexProvider) Dimensions() int {
	return v.cfg.Dimension
}

// Close releases idle connections.
func (v *VertexProvider) Close() error {
	v.httpClient.CloseIdleConnections()
	return nil
}

type vertexRequest struct {
	Instances  []vertexInstance `json:"instances"`
	Parameters vertexParameters `json:"parameters"`
}

type vertexInstance struct {
	Image *vertexImage `json:"image,omitempty"`
	Text  string       `json:"text,omitempty"`
}

type vertexImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

type vertexParameters struct {
	Dimension int `json:"dimension"`
}

type vertexResponse struct {
	Predictions []vertexPrediction `json:"predictions"`
}

type vertexPrediction struct {
	ImageEmbedding []float32 `json:"imageEmbedding,omitempty"`
	TextEmbedding  []float32 `json:"textEmbedding,omitempty"`
}
