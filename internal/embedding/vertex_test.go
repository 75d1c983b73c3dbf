package embedding

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestVertex(t *testing.T, handler http.HandlerFunc, cfg VertexConfig) *VertexProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if cfg.ProjectID == "" {
		cfg.ProjectID = "test-project"
		cfg.Location = "us-central1"
	}
	v, err := NewVertexProvider(cfg, WithHTTPClient(srv.Client()), WithEndpoint(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestVertexProvider_EmbedImage(t *testing.T) {
	img := filepath.Join(t.TempDir(), "a.png")
	if err := os.WriteFile(img, []byte("\x89PNG fake"), 0644); err != nil {
		t.Fatal(err)
	}
	var got vertexRequest
	v := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(vertexResponse{Predictions: []vertexPrediction{{ImageEmbedding: []float32{0.1, 0.2}}}})
	}, VertexConfig{Dimension: 128})

	vec, err := v.EmbedImage(context.Background(), img, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 || vec[1] != 0.2 {
		t.Errorf("vec = %v", vec)
	}
	if len(got.Instances) != 1 || got.Instances[0].Image == nil {
		t.Fatalf("request = %+v", got)
	}
	decoded, _ := base64.StdEncoding.DecodeString(got.Instances[0].Image.BytesBase64Encoded)
	if string(decoded) != "\x89PNG fake" {
		t.Errorf("image bytes = %q", decoded)
	}
	if got.Parameters.Dimension != 128 {
		t.Errorf("dimension = %d, want 128", got.Parameters.Dimension)
	}
}

func TestVertexProvider_EmbedText(t *testing.T) {
	v := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		var req vertexRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Instances[0].Text != "sunset over water" || req.Instances[0].Image != nil {
			t.Errorf("instance = %+v", req.Instances[0])
		}
		if req.Parameters.Dimension != 256 {
			t.Errorf("dimension = %d, want 256", req.Parameters.Dimension)
		}
		_ = json.NewEncoder(w).Encode(vertexResponse{Predictions: []vertexPrediction{{TextEmbedding: []float32{1, 0, 0}}}})
	}, VertexConfig{})

	vec, err := v.EmbedText(context.Background(), "sunset over water", 256)
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 {
		t.Errorf("vec = %v", vec)
	}
	if v.Dimensions() != 1408 {
		t.Errorf("default Dimensions = %d", v.Dimensions())
	}
}

func TestVertexProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}},
		{"no predictions", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"predictions":[]}`))
		}},
		{"missing embedding", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"predictions":[{"imageEmbedding":[1]}]}`))
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVertex(t, tt.handler, VertexConfig{})
			if _, err := v.EmbedText(context.Background(), "x", 0); !errors.Is(err, ErrEmbedding) {
				t.Errorf("err = %v, want ErrEmbedding", err)
			}
		})
	}
}

func TestVertexProvider_Timeout(t *testing.T) {
	v := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, VertexConfig{Timeout: 50 * time.Millisecond})
	if _, err := v.EmbedText(context.Background(), "x", 0); !errors.Is(err, ErrEmbedding) {
		t.Errorf("err = %v, want ErrEmbedding", err)
	}
}

func TestVertexProvider_UnsupportedDimension(t *testing.T) {
	if _, err := NewVertexProvider(VertexConfig{Dimension: 100}, WithHTTPClient(http.DefaultClient)); err == nil {
		t.Error("expected error for dimension 100")
	}
	v := newTestVertex(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	}, VertexConfig{})
	if _, err := v.EmbedText(context.Background(), "x", 300); !errors.Is(err, ErrEmbedding) {
		t.Errorf("err = %v, want ErrEmbedding", err)
	}
}

func TestVertexProvider_MissingCredentials(t *testing.T) {
	_, err := NewVertexProvider(VertexConfig{CredentialsFile: filepath.Join(t.TempDir(), "nope.json")})
	if err == nil {
		t.Error("expected error for missing credentials file")
	}
}

func TestPredictURL(t *testing.T) {
	got := predictURL(VertexConfig{ProjectID: "p1", Location: "europe-west4", Model: "multimodalembedding@001"})
	want := "https://europe-west4-aiplatform.googleapis.com/v1/projects/p1/locations/europe-west4/publishers/google/models/multimodalembedding@001:predict"
	if got != want {
		t.Errorf("predictURL = %s", got)
	}
}
