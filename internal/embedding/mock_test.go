package embedding

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestMockProvider_Deterministic(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	copyA := filepath.Join(dir, "copy.jpg")
	for path, content := range map[string]string{a: "image-a", b: "image-b", copyA: "image-a"} {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	m := NewMockProvider(16)
	ctx := context.Background()

	va, err := m.EmbedImage(ctx, a, 0)
	if err != nil {
		t.Fatal(err)
	}
	vcopy, _ := m.EmbedImage(ctx, copyA, 0)
	vb, _ := m.EmbedImage(ctx, b, 0)
	if len(va) != 16 {
		t.Fatalf("len = %d, want 16", len(va))
	}
	for i := range va {
		if va[i] != vcopy[i] {
			t.Fatal("same content should give the same vector")
		}
	}
	same := true
	for i := range va {
		if va[i] != vb[i] {
			same = false
		}
	}
	if same {
		t.Error("different content gave the same vector")
	}

	var norm float64
	for _, v := range va {
		norm += float64(v * v)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("norm^2 = %v, want 1", norm)
	}
}

func TestMockProvider_Dimension(t *testing.T) {
	m := NewMockProvider(0)
	if m.Dimensions() != 1408 {
		t.Errorf("default Dimensions = %d", m.Dimensions())
	}
	v, err := m.EmbedText(context.Background(), "dog", 128)
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 128 {
		t.Errorf("len = %d, want 128", len(v))
	}
}

func TestMockProvider_Errors(t *testing.T) {
	m := NewMockProvider(4)
	ctx := context.Background()
	if _, err := m.EmbedImage(ctx, filepath.Join(t.TempDir(), "missing.jpg"), 0); !errors.Is(err, ErrEmbedding) {
		t.Errorf("missing file: err = %v", err)
	}
	m.TextErr = func(string) error { return errors.New("unavailable") }
	if _, err := m.EmbedText(ctx, "x", 0); !errors.Is(err, ErrEmbedding) {
		t.Errorf("TextErr: err = %v", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	m.TextErr = nil
	if _, err := m.EmbedText(cancelled, "x", 0); !errors.Is(err, ErrEmbedding) {
		t.Errorf("cancelled: err = %v", err)
	}
}

func TestLazyProvider(t *testing.T) {
	builds := 0
	fail := true
	l := NewLazyProvider(8, func(ctx context.Context) (Provider, error) {
		builds++
		if fail {
			return nil, errors.New("credentials missing")
		}
		return NewMockProvider(8), nil
	})
	ctx := context.Background()
	if l.Dimensions() != 8 {
		t.Errorf("Dimensions = %d", l.Dimensions())
	}
	if _, err := l.EmbedText(ctx, "x", 0); err == nil {
		t.Fatal("expected build error")
	}
	fail = false
	if _, err := l.EmbedText(ctx, "x", 0); err != nil {
		t.Fatalf("EmbedText after fix: %v", err)
	}
	if _, err := l.EmbedText(ctx, "y", 0); err != nil {
		t.Fatal(err)
	}
	if builds != 2 {
		t.Errorf("builds = %d, want 2", builds)
	}
	if err := l.Close(); err != nil {
		t.Error(err)
	}
}
